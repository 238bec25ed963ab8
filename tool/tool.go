// Package tool implements the tool calling subsystem: executor registration,
// schema validated function tools, extraction of tool calls from free-form
// model output and accumulation of streamed tool call fragments.
package tool

import (
	"context"
	"fmt"

	"github.com/hupe1980/agentstep/core"
	"github.com/hupe1980/agentstep/internal/util"
)

// Executor runs a tool with the raw JSON argument string produced by the
// model and returns the result text. Executors own argument decoding.
type Executor interface {
	Execute(ctx context.Context, arguments string) (string, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, arguments string) (string, error)

// Execute calls f(ctx, arguments).
func (f ExecutorFunc) Execute(ctx context.Context, arguments string) (string, error) {
	return f(ctx, arguments)
}

// Tool is an Executor that also describes itself to the model.
//
// Tool implementations should:
//   - Provide clear, descriptive names (snake_case recommended)
//   - Define a JSON schema for parameters
//   - Be safe for concurrent use
type Tool interface {
	Executor

	// Name returns the unique identifier for this tool.
	Name() string

	// Description returns a human-readable description provided to the model.
	Description() string

	// Parameters returns a JSON schema describing the expected input.
	Parameters() map[string]any
}

// Definition describes t as a tool definition for a chat's ToolConfig.
func Definition(t Tool) core.ToolDefinition {
	return core.ToolDefinition{
		Type: "function",
		Function: core.FunctionDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		},
	}
}

// ValidationError represents parameter validation errors with detailed information.
type ValidationError = util.ValidationError

// ToolError represents errors that occur during tool execution.
type ToolError struct {
	Tool    string `json:"tool"`              // Name of the tool that failed
	Message string `json:"message"`           // Error message
	Code    string `json:"code"`              // Error code for categorization
	Details any    `json:"details,omitempty"` // Additional error details
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{
		Tool:    tool,
		Message: message,
		Code:    code,
	}
}
