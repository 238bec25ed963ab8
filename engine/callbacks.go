package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/agentstep/core"
	"github.com/hupe1980/agentstep/step"
)

// CallbackType identifies the point in a run where a callback fires.
type CallbackType string

const (
	// CallbackBeforeStep fires before a step handler runs. Returning an
	// error aborts the run.
	CallbackBeforeStep CallbackType = "before_step"

	// CallbackAfterStep fires after a step completed and was persisted.
	CallbackAfterStep CallbackType = "after_step"

	// CallbackOnError fires when a step fails. Its own error is ignored.
	CallbackOnError CallbackType = "on_error"
)

// CallbackContext describes the step a callback observes.
type CallbackContext struct {
	Agent      *core.Agent
	Chat       *core.Chat
	Invocation step.Invocation
	// Index is the position of the step in the agent's step list.
	Index int
	// Err is set for CallbackOnError.
	Err error
}

// Callback is a hook executed at a step boundary.
type Callback interface {
	Type() CallbackType
	Execute(ctx context.Context, cc *CallbackContext) error
}

// FunctionCallback adapts a function to the Callback interface.
type FunctionCallback struct {
	callbackType CallbackType
	fn           func(ctx context.Context, cc *CallbackContext) error
}

// NewFunctionCallback creates a callback of the given type.
func NewFunctionCallback(callbackType CallbackType, fn func(ctx context.Context, cc *CallbackContext) error) *FunctionCallback {
	return &FunctionCallback{callbackType: callbackType, fn: fn}
}

// Type implements Callback.
func (c *FunctionCallback) Type() CallbackType { return c.callbackType }

// Execute implements Callback.
func (c *FunctionCallback) Execute(ctx context.Context, cc *CallbackContext) error {
	return c.fn(ctx, cc)
}

// CallbackManager holds callbacks grouped by type. It is safe for
// concurrent use.
type CallbackManager struct {
	mu        sync.RWMutex
	callbacks map[CallbackType][]Callback
}

// NewCallbackManager creates an empty manager.
func NewCallbackManager() *CallbackManager {
	return &CallbackManager{callbacks: make(map[CallbackType][]Callback)}
}

// RegisterCallback adds a callback; callbacks of one type run in
// registration order.
func (cm *CallbackManager) RegisterCallback(cb Callback) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.callbacks[cb.Type()] = append(cm.callbacks[cb.Type()], cb)
}

// ExecuteCallbacks runs every callback of callbackType, stopping at the
// first error.
func (cm *CallbackManager) ExecuteCallbacks(ctx context.Context, callbackType CallbackType, cc *CallbackContext) error {
	if cm == nil {
		return nil
	}
	cm.mu.RLock()
	callbacks := append([]Callback(nil), cm.callbacks[callbackType]...)
	cm.mu.RUnlock()

	for _, cb := range callbacks {
		if err := cb.Execute(ctx, cc); err != nil {
			return fmt.Errorf("%s callback: %w", callbackType, err)
		}
	}
	return nil
}

// LoggingCallback writes a one-line summary of each step boundary.
type LoggingCallback struct {
	callbackType CallbackType
	logger       func(message string)
}

// NewLoggingCallback creates a callback that formats the step and passes
// it to logger.
func NewLoggingCallback(callbackType CallbackType, logger func(message string)) *LoggingCallback {
	return &LoggingCallback{callbackType: callbackType, logger: logger}
}

// Type implements Callback.
func (c *LoggingCallback) Type() CallbackType { return c.callbackType }

// Execute implements Callback.
func (c *LoggingCallback) Execute(_ context.Context, cc *CallbackContext) error {
	if c.logger == nil {
		return nil
	}
	msg := fmt.Sprintf("[%s] agent=%s chat=%s step=%d %s", c.callbackType, cc.Agent.ID, cc.Chat.ID, cc.Index, cc.Invocation.Raw)
	if cc.Err != nil {
		msg += " error=" + cc.Err.Error()
	}
	c.logger(msg)
	return nil
}
