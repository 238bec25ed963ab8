package tool

import (
	"context"
	"errors"
	"testing"

	"github.com/hupe1980/agentstep/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sumTool() *FunctionTool {
	return NewFunctionTool(
		"calculate_sum",
		"Calculate the sum of two numbers",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"a": map[string]any{"type": "number"},
				"b": map[string]any{"type": "number"},
			},
			"required": []string{"a", "b"},
		},
		func(_ context.Context, args map[string]any) (any, error) {
			return map[string]any{"sum": args["a"].(float64) + args["b"].(float64)}, nil
		},
	)
}

func TestFunctionTool_Success(t *testing.T) {
	out, err := sumTool().Execute(context.Background(), `{"a":1,"b":2}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"sum":3}`, out)
}

func TestFunctionTool_ValidationError(t *testing.T) {
	_, err := sumTool().Execute(context.Background(), `{"a":1}`)
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "VALIDATION_ERROR", toolErr.Code)
}

func TestFunctionTool_InvalidArguments(t *testing.T) {
	_, err := sumTool().Execute(context.Background(), `not json`)
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "INVALID_ARGUMENTS", toolErr.Code)
}

func TestFunctionTool_ExecutionError(t *testing.T) {
	ft := NewFunctionTool("fail", "always fails", map[string]any{"type": "object"},
		func(context.Context, map[string]any) (any, error) { return nil, errors.New("boom") })

	_, err := ft.Execute(context.Background(), "")
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "EXECUTION_ERROR", toolErr.Code)
	assert.Equal(t, "boom", toolErr.Message)
}

func TestFunctionTool_PassesThroughToolError(t *testing.T) {
	ft := NewFunctionTool("custom", "custom error", map[string]any{"type": "object"},
		func(context.Context, map[string]any) (any, error) {
			return nil, NewToolError("custom", "quota", "RATE_LIMITED")
		})

	_, err := ft.Execute(context.Background(), "{}")
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, "RATE_LIMITED", toolErr.Code)
}

func TestFunctionToolFromStruct(t *testing.T) {
	type args struct {
		City string `json:"city" description:"City name"`
	}
	ft := NewFunctionToolFromStruct("weather", "Get weather", args{},
		func(_ context.Context, a map[string]any) (any, error) { return "sunny in " + a["city"].(string), nil })

	out, err := ft.Execute(context.Background(), `{"city":"Berlin"}`)
	require.NoError(t, err)
	assert.Equal(t, "sunny in Berlin", out)

	def := Definition(ft)
	assert.Equal(t, "function", def.Type)
	assert.Equal(t, "weather", def.Function.Name)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.RegisterTool(sumTool())
	r.Register("echo", ExecutorFunc(func(_ context.Context, args string) (string, error) { return args, nil }))

	e, err := r.Lookup("echo")
	require.NoError(t, err)
	out, err := e.Execute(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "hi", out)

	_, err = r.Lookup("missing")
	assert.ErrorIs(t, err, core.ErrUnknownTool)
	assert.True(t, core.IsConfigError(err))

	assert.Equal(t, []string{"calculate_sum", "echo"}, r.Names())
	defs := r.Definitions()
	require.Len(t, defs, 1)
	assert.Equal(t, "calculate_sum", defs[0].Function.Name)
	assert.Empty(t, r.Definitions("echo"))
}

func TestEncodeResult(t *testing.T) {
	s, err := EncodeResult(nil)
	require.NoError(t, err)
	assert.Empty(t, s)

	s, err = EncodeResult([]int{1, 2})
	require.NoError(t, err)
	assert.Equal(t, "[1,2]", s)
}
