package tool

import (
	"strings"
	"testing"

	"github.com/hupe1980/agentstep/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const cleanCalls = `{"tool_calls":[{"id":"c1","type":"function","function":{"name":"get_time","arguments":"{\"tz\":\"UTC\"}"}},{"id":"c2","type":"function","function":{"name":"get_date","arguments":{}}}]}`

func TestExtractToolCalls_Shapes(t *testing.T) {
	want := []core.ToolCall{
		{ID: "c1", Type: "function", Function: core.FunctionCall{Name: "get_time", Arguments: `{"tz":"UTC"}`}},
		{ID: "c2", Type: "function", Function: core.FunctionCall{Name: "get_date", Arguments: `{}`}},
	}

	inputs := map[string]string{
		"bare":      cleanCalls,
		"fenced":    "```json\n" + cleanCalls + "\n```",
		"tagged":    "<tool_call>" + cleanCalls + "</tool_call>",
		"prose":     "Sure, I will call {the} tool now: " + cleanCalls + " and then {report} back.",
		"brackets":  "[note] " + cleanCalls,
		"braces-in": "Here {is} some {nested {prose}} first.\n" + cleanCalls,
	}

	for name, in := range inputs {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, want, ExtractToolCalls(in))
		})
	}
}

func TestExtractToolCalls_IdempotentOnCleanJSON(t *testing.T) {
	first := ExtractToolCalls(cleanCalls)
	second := ExtractToolCalls(cleanCalls)
	assert.Equal(t, first, second)
}

func TestExtractToolCalls_StringsWithBraces(t *testing.T) {
	in := `{"tool_calls":[{"id":"c1","function":{"name":"echo","arguments":"{\"text\":\"a } b { \\\" c\"}"}}]}`
	calls := ExtractToolCalls(in)
	require.Len(t, calls, 1)
	assert.Equal(t, "echo", calls[0].Function.Name)
	assert.Equal(t, `{"text":"a } b { \" c"}`, calls[0].Function.Arguments)
}

func TestExtractToolCalls_LegacyShapes(t *testing.T) {
	tests := map[string]struct {
		in       string
		wantName string
		wantArgs string
	}{
		"tool_name":          {in: `{"tool_name":"search","arguments":{"q":"go"}}`, wantName: "search", wantArgs: `{"q":"go"}`},
		"function-string":    {in: `{"function":"search","parameters":{"q":"go"}}`, wantName: "search", wantArgs: `{"q":"go"}`},
		"name-arguments":     {in: `{"name":"search","arguments":"{\"q\":\"go\"}"}`, wantName: "search", wantArgs: `{"q":"go"}`},
		"single-native":      {in: `{"id":"x","function":{"name":"search","arguments":"{}"}}`, wantName: "search", wantArgs: `{}`},
		"array":              {in: `[{"function":{"name":"search","arguments":"{}"}}]`, wantName: "search", wantArgs: `{}`},
		"missing-arguments":  {in: `{"tool_name":"search"}`, wantName: "search", wantArgs: `{}`},
		"fenced-legacy-text": {in: "call:\n```\n{\"tool_name\":\"search\",\"arguments\":{}}\n```", wantName: "search", wantArgs: `{}`},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			calls := ExtractToolCalls(tt.in)
			require.Len(t, calls, 1)
			assert.Equal(t, tt.wantName, calls[0].Function.Name)
			assert.Equal(t, tt.wantArgs, calls[0].Function.Arguments)
			assert.Equal(t, "function", calls[0].Type)
			assert.NotEmpty(t, calls[0].ID)
		})
	}
}

func TestExtractToolCalls_NoCalls(t *testing.T) {
	for _, in := range []string{
		"",
		"   ",
		"The answer is 42.",
		"Use {curly} braces {like this}.",
		`{"answer": "not a tool"}`,
		`{"tool_calls": []}`,
		`{"tool_calls": [ {"id": "broken"`,
		`[1, 2, 3]`,
	} {
		assert.Nil(t, ExtractToolCalls(in), "input %q", in)
	}
}

func TestExtractToolCalls_SkipsNonCallJSON(t *testing.T) {
	in := `{"result": {"name": "inner", "arguments": {}}} then {"tool_name":"real","arguments":{}}`
	calls := ExtractToolCalls(in)
	require.Len(t, calls, 1)
	assert.Equal(t, "real", calls[0].Function.Name)
}

func TestNormalize(t *testing.T) {
	calls := Normalize([]core.ToolCall{
		{},
		{ID: "dup", Function: core.FunctionCall{Name: "a"}},
		{ID: "dup", Type: "function", Function: core.FunctionCall{Name: "b", Arguments: `{"x":1}`}},
	})

	require.Len(t, calls, 3)
	assert.True(t, strings.HasPrefix(calls[0].ID, "call_"))
	assert.Equal(t, "function", calls[0].Type)
	assert.Equal(t, core.FunctionCall{}, calls[0].Function)
	assert.Equal(t, "dup", calls[1].ID)
	assert.Equal(t, "{}", calls[1].Function.Arguments)
	assert.NotEqual(t, "dup", calls[2].ID)

	assert.Nil(t, Normalize(nil))
}

func TestExtractToolCalls_PlaceholderForMissingFunction(t *testing.T) {
	calls := ExtractToolCalls(`{"tool_calls":[{"id":"c9"}]}`)
	require.Len(t, calls, 1)
	assert.Equal(t, "c9", calls[0].ID)
	assert.Equal(t, "function", calls[0].Type)
	assert.Empty(t, calls[0].Function.Name)
}

func TestStripToolCalls(t *testing.T) {
	text := "Checking the clock.\n<tool_call>{\"name\":\"get_time\",\"arguments\":{}}</tool_call>"
	assert.Equal(t, "Checking the clock.", StripToolCalls(text))
	assert.Equal(t, "plain {not json}", StripToolCalls("plain {not json}"))
}
