package core

import (
	"errors"
	"fmt"
)

// Configuration errors. They are fatal and never retried.
var (
	ErrUnknownStep       = errors.New("unknown step")
	ErrUnknownTool       = errors.New("unknown tool")
	ErrMissingArgument   = errors.New("missing step argument")
	ErrInvalidArgument   = errors.New("invalid step argument")
	ErrMissingDataSource = errors.New("agent has no data source")
	ErrMissingMcpConfig  = errors.New("agent has no mcp configuration")
	ErrUnknownBackend    = errors.New("unknown backend")
	ErrModelNotSupported = errors.New("model not supported")
)

// Lookup errors returned by repositories.
var (
	ErrAgentNotFound = errors.New("agent not found")
	ErrChatNotFound  = errors.New("chat not found")
	ErrNoMessages    = errors.New("chat has no messages")
)

// ConfigError wraps a configuration failure with the operation that
// detected it.
type ConfigError struct {
	Op  string
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error in %s: %v", e.Op, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// NewConfigError wraps err as a ConfigError for op.
func NewConfigError(op string, err error) *ConfigError {
	return &ConfigError{Op: op, Err: err}
}

// IsConfigError reports whether err is a configuration error.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// BackendError is a transport or provider failure surfaced with the
// backend name, HTTP status and the provider's message when available.
type BackendError struct {
	Backend string
	Status  int
	Message string
	Err     error
}

func (e *BackendError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s backend error (status %d): %s", e.Backend, e.Status, e.Message)
	}
	return fmt.Sprintf("%s backend error: %s", e.Backend, e.Message)
}

func (e *BackendError) Unwrap() error { return e.Err }
