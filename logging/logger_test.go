package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferLogger(level LogLevel) (*StepLogger, *bytes.Buffer) {
	var buf bytes.Buffer
	cfg := DefaultLoggerConfig()
	cfg.Output = &buf
	cfg.Level = level
	return NewLogger(cfg), &buf
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	return entry
}

func TestStepLogger_KeyValueArgs(t *testing.T) {
	l, buf := newBufferLogger(LogLevelDebug)

	l.WithChat("chat-1", "agent-1").WithComponent("engine").Info("step.start", "step", "ANSWER")

	entry := decodeLine(t, buf)
	assert.Equal(t, "step.start", entry["msg"])
	assert.Equal(t, "ANSWER", entry["step"])
	assert.Equal(t, "chat-1", entry["chat_id"])
	assert.Equal(t, "agent-1", entry["agent_id"])
	assert.Equal(t, "engine", entry["component"])
}

func TestStepLogger_LevelFiltering(t *testing.T) {
	l, buf := newBufferLogger(LogLevelWarn)

	l.Info("ignored")
	assert.Zero(t, buf.Len())

	l.Warn("kept")
	assert.NotZero(t, buf.Len())
}

func TestStepLogger_LogStep(t *testing.T) {
	l, buf := newBufferLogger(LogLevelInfo)

	l.LogStep("BECOME", 2, 10*time.Millisecond, false, errors.New("boom"))

	entry := decodeLine(t, buf)
	assert.Equal(t, "step.failed", entry["msg"])
	assert.Equal(t, "BECOME", entry["step"])
	assert.Equal(t, "boom", entry["error"])
}

func TestStepLogger_WithDoesNotLeak(t *testing.T) {
	l, buf := newBufferLogger(LogLevelInfo)
	child := l.With("k", "v")

	l.Info("parent")
	assert.NotContains(t, decodeLine(t, buf), "k")

	buf.Reset()
	child.Info("child")
	assert.Equal(t, "v", decodeLine(t, buf)["k"])
}

func TestStepLogger_LogToolCallFailureIsWarn(t *testing.T) {
	l, buf := newBufferLogger(LogLevelInfo)

	l.LogToolCall("calculator", time.Millisecond, false, errors.New("division by zero"))

	entry := decodeLine(t, buf)
	assert.Equal(t, "tool.call.failed", entry["msg"])
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "calculator", entry["tool_name"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, LogLevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, LogLevelWarn, ParseLevel("warning"))
	assert.Equal(t, LogLevelError, ParseLevel("error"))
	assert.Equal(t, LogLevelInfo, ParseLevel("nonsense"))
}

func TestOrNoOp(t *testing.T) {
	assert.Equal(t, NoOpLogger{}, OrNoOp(nil))
	l, _ := newBufferLogger(LogLevelInfo)
	assert.Same(t, l, OrNoOp(l))
}
