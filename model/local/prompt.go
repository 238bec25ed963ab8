package local

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hupe1980/agentstep/core"
	"github.com/hupe1980/agentstep/internal/util"
)

// DefaultTemplate renders turns in ChatML, the format most catalog models
// were tuned on. The assistant header is left open for generation.
const DefaultTemplate = `{{range .Turns}}<|im_start|>{{.Role}}
{{.Content}}<|im_end|>
{{end}}<|im_start|>assistant
`

const toolInstructions = `# Tools

You may call one or more functions to assist with the user query.

Function signatures are provided within <tools></tools> XML tags:
<tools>
%s
</tools>

For each function call, return a json object with function name and arguments within <tool_call></tool_call> XML tags:
<tool_call>
{"name": <function-name>, "arguments": <args-json-object>}
</tool_call>`

// turn is one rendered prompt entry.
type turn struct {
	Role    string
	Content string
}

// promptInput carries what buildPrompt needs beyond the chat.
type promptInput struct {
	template string
	// resumed restricts the prompt to unprocessed messages; the decode
	// context already holds every earlier turn.
	resumed          bool
	additionalPrompt string
	tools            []core.ToolDefinition
}

// buildPrompt renders the text fed to the decode context for this call.
func buildPrompt(chat *core.Chat, in promptInput) (string, error) {
	msgs := chat.Messages
	if in.resumed {
		msgs = pending(chat)
	}
	if len(msgs) == 0 {
		return "", core.ErrNoMessages
	}

	turns := make([]turn, 0, len(msgs)+1)
	if !in.resumed && len(in.tools) > 0 {
		instructions, err := describeTools(in.tools)
		if err != nil {
			return "", err
		}
		if msgs[0].Role == core.RoleSystem {
			turns = append(turns, turn{Role: core.RoleSystem, Content: msgs[0].Content + "\n\n" + instructions})
			msgs = msgs[1:]
		} else {
			turns = append(turns, turn{Role: core.RoleSystem, Content: instructions})
		}
	}
	for _, m := range msgs {
		turns = append(turns, renderTurn(m))
	}

	if !in.resumed && in.additionalPrompt != "" {
		for i := len(turns) - 1; i >= 0; i-- {
			if turns[i].Role == core.RoleUser {
				turns[i].Content += "\n" + in.additionalPrompt
				break
			}
		}
	}

	tmpl := in.template
	if tmpl == "" {
		tmpl = DefaultTemplate
	}
	return util.RenderTemplate(tmpl, map[string]any{"Turns": turns})
}

// pending returns the unprocessed messages that are not the model's own
// output; sampled tokens are already part of the decode context.
func pending(chat *core.Chat) []core.Message {
	var out []core.Message
	for _, m := range chat.Unprocessed() {
		if m.Role == core.RoleAssistant {
			continue
		}
		out = append(out, m)
	}
	if len(out) == 0 {
		if last := chat.LastMessage(); last != nil && last.Role != core.RoleAssistant {
			out = append(out, *last)
		}
	}
	return out
}

func renderTurn(m core.Message) turn {
	switch {
	case m.Role == core.RoleTool:
		return turn{Role: core.RoleUser, Content: "<tool_response>\n" + m.Content + "\n</tool_response>"}
	case m.Role == core.RoleAssistant && len(m.ToolCalls) > 0:
		var b strings.Builder
		b.WriteString(m.Content)
		for _, c := range m.ToolCalls {
			args := c.Function.Arguments
			if args == "" {
				args = "{}"
			}
			fmt.Fprintf(&b, "\n<tool_call>\n{\"name\": %q, \"arguments\": %s}\n</tool_call>", c.Function.Name, args)
		}
		return turn{Role: core.RoleAssistant, Content: strings.TrimLeft(b.String(), "\n")}
	default:
		return turn{Role: m.Role, Content: m.Content}
	}
}

func describeTools(defs []core.ToolDefinition) (string, error) {
	lines := make([]string, 0, len(defs))
	for _, d := range defs {
		b, err := json.Marshal(d)
		if err != nil {
			return "", fmt.Errorf("encode tool %s: %w", d.Function.Name, err)
		}
		lines = append(lines, string(b))
	}
	return fmt.Sprintf(toolInstructions, strings.Join(lines, "\n")), nil
}
