package core

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCallLimiter(t *testing.T) {
	l := NewCallLimiter(2)

	assert.NoError(t, l.Increment())
	assert.Equal(t, 1, l.Remaining())
	assert.NoError(t, l.Increment())

	err := l.Increment()
	assert.True(t, errors.Is(err, ErrLimitExceeded))
	assert.Equal(t, 2, l.Count())
	assert.Equal(t, 0, l.Remaining())
}

func TestCallLimiter_Unlimited(t *testing.T) {
	l := NewCallLimiter(0)
	for i := 0; i < 100; i++ {
		assert.NoError(t, l.Increment())
	}
	assert.Equal(t, -1, l.Remaining())
}

func TestErrors(t *testing.T) {
	err := NewConfigError("step", ErrUnknownStep)
	assert.True(t, IsConfigError(err))
	assert.ErrorIs(t, err, ErrUnknownStep)

	be := &BackendError{Backend: "openai", Status: 401, Message: "bad key"}
	assert.Equal(t, "openai backend error (status 401): bad key", be.Error())
}
