package tool

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/hupe1980/agentstep/core"
)

// rawCall is the union of every tool call shape we accept:
//
//	{"id":..,"type":"function","function":{"name":..,"arguments":..}}
//	{"tool_name":..,"arguments":..}
//	{"function":"name","parameters":..}
//	{"name":..,"arguments":..}
type rawCall struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Function   json.RawMessage `json:"function"`
	ToolName   string          `json:"tool_name"`
	Name       string          `json:"name"`
	Arguments  json.RawMessage `json:"arguments"`
	Parameters json.RawMessage `json:"parameters"`
}

// ExtractToolCalls recovers tool calls from model output. The JSON may be
// bare, fenced in a code block, wrapped in custom tags or surrounded by
// prose. Each candidate starts at a '{' or '[' and ends at its balanced
// closing bracket, honoring quoted strings and escapes. Output without a
// recognizable tool call yields nil; this is not an error.
func ExtractToolCalls(text string) []core.ToolCall {
	calls, _, _ := locate(text)
	return calls
}

// StripToolCalls removes the recognized tool call JSON from text together
// with tool call tags and code fences, leaving the surrounding prose.
func StripToolCalls(text string) string {
	calls, start, end := locate(text)
	if len(calls) == 0 {
		return text
	}
	rest := text[:start] + text[end:]
	for _, marker := range []string{"<tool_call>", "</tool_call>", "```json", "```"} {
		rest = strings.ReplaceAll(rest, marker, "")
	}
	return strings.TrimSpace(rest)
}

// locate returns the first tool call candidate and its [start, end) span.
func locate(text string) ([]core.ToolCall, int, int) {
	for i := 0; i < len(text); i++ {
		if text[i] != '{' && text[i] != '[' {
			continue
		}
		end := matchBracket(text, i)
		if end < 0 {
			continue
		}
		candidate := text[i : end+1]
		if !json.Valid([]byte(candidate)) {
			continue
		}
		if calls, ok := parseCandidate([]byte(candidate)); ok {
			return Normalize(calls), i, end + 1
		}
		// Valid JSON that is not a tool call; its insides are not candidates either.
		i = end
	}
	return nil, 0, 0
}

// matchBracket returns the index of the bracket closing s[start] or -1.
func matchBracket(s string, start int) int {
	var (
		stack    []byte
		inString bool
		escaped  bool
	)
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, c)
		case '}', ']':
			if len(stack) == 0 {
				return -1
			}
			open := stack[len(stack)-1]
			if (c == '}' && open != '{') || (c == ']' && open != '[') {
				return -1
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i
			}
		}
	}
	return -1
}

func parseCandidate(b []byte) ([]core.ToolCall, bool) {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return nil, false
	}

	if b[0] == '[' {
		var items []rawCall
		if err := json.Unmarshal(b, &items); err != nil || len(items) == 0 {
			return nil, false
		}
		return fromList(items)
	}

	var wrapper struct {
		ToolCalls []rawCall `json:"tool_calls"`
	}
	if err := json.Unmarshal(b, &wrapper); err == nil && wrapper.ToolCalls != nil {
		if len(wrapper.ToolCalls) == 0 {
			return nil, false
		}
		calls := make([]core.ToolCall, 0, len(wrapper.ToolCalls))
		for _, rc := range wrapper.ToolCalls {
			calls = append(calls, rc.listed())
		}
		return calls, true
	}

	var single rawCall
	if err := json.Unmarshal(b, &single); err != nil {
		return nil, false
	}
	call, ok := single.flat()
	if !ok {
		return nil, false
	}
	return []core.ToolCall{call}, true
}

// fromList accepts a bare array only when every element looks like a call.
func fromList(items []rawCall) ([]core.ToolCall, bool) {
	calls := make([]core.ToolCall, 0, len(items))
	for _, rc := range items {
		call, ok := rc.flat()
		if !ok {
			return nil, false
		}
		calls = append(calls, call)
	}
	return calls, true
}

// listed converts an element of a "tool_calls" array. Elements there are
// calls by position, so a missing function becomes an empty placeholder.
func (rc rawCall) listed() core.ToolCall {
	if call, ok := rc.flat(); ok {
		return call
	}
	return core.ToolCall{ID: rc.ID, Type: rc.Type}
}

// flat converts a standalone object, reporting whether it has a
// recognizable call shape.
func (rc rawCall) flat() (core.ToolCall, bool) {
	call := core.ToolCall{ID: rc.ID, Type: rc.Type}
	fn := bytes.TrimSpace(rc.Function)

	switch {
	case len(fn) > 0 && fn[0] == '{':
		var f struct {
			Name      string          `json:"name"`
			Arguments json.RawMessage `json:"arguments"`
		}
		if err := json.Unmarshal(fn, &f); err != nil {
			return core.ToolCall{}, false
		}
		call.Function = core.FunctionCall{Name: f.Name, Arguments: argumentString(f.Arguments)}
	case len(fn) > 0 && fn[0] == '"':
		var name string
		if err := json.Unmarshal(fn, &name); err != nil || name == "" {
			return core.ToolCall{}, false
		}
		call.Function = core.FunctionCall{Name: name, Arguments: argumentString(firstRaw(rc.Parameters, rc.Arguments))}
	case rc.ToolName != "":
		call.Function = core.FunctionCall{Name: rc.ToolName, Arguments: argumentString(firstRaw(rc.Arguments, rc.Parameters))}
	case rc.Name != "" && (len(rc.Arguments) > 0 || len(rc.Parameters) > 0):
		call.Function = core.FunctionCall{Name: rc.Name, Arguments: argumentString(firstRaw(rc.Arguments, rc.Parameters))}
	default:
		return core.ToolCall{}, false
	}
	return call, true
}

func firstRaw(candidates ...json.RawMessage) json.RawMessage {
	for _, c := range candidates {
		if len(bytes.TrimSpace(c)) > 0 {
			return c
		}
	}
	return nil
}

// argumentString keeps arguments as a JSON string. A JSON-encoded string is
// unquoted; objects are passed through compacted; absent becomes "{}".
func argumentString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "{}"
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			if strings.TrimSpace(s) == "" {
				return "{}"
			}
			return s
		}
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}

// Normalize fills the defaults every downstream consumer relies on: a
// missing id gets a generated one, a missing type becomes "function" and a
// missing function stays an empty placeholder. Duplicate ids within one
// turn are replaced.
func Normalize(calls []core.ToolCall) []core.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]core.ToolCall, len(calls))
	seen := make(map[string]bool, len(calls))
	for i, c := range calls {
		if c.ID == "" || seen[c.ID] {
			c.ID = NewCallID()
		}
		seen[c.ID] = true
		if c.Type == "" {
			c.Type = "function"
		}
		if c.Function.Arguments == "" && c.Function.Name != "" {
			c.Function.Arguments = "{}"
		}
		out[i] = c
	}
	return out
}

// NewCallID returns a fresh tool call id.
func NewCallID() string {
	return "call_" + strings.ReplaceAll(core.NewID(), "-", "")[:24]
}
