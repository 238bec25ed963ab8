package core

// ToolCall represents a function call request surfaced by a model.
// Arguments stay a raw JSON string; executors own argument decoding.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall is the concrete function target of a tool call.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolDefinition declaratively exposes a callable function to the model.
type ToolDefinition struct {
	Type     string             `json:"type"`
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes an individual function exposed to the model.
// Parameters is a JSON Schema object.
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Tool choice policies.
const (
	ToolChoiceAuto     = "auto"
	ToolChoiceNone     = "none"
	ToolChoiceRequired = "required"
)

// ToolConfig declares the tools a chat may call and the choice policy.
type ToolConfig struct {
	Tools  []ToolDefinition `json:"tools"`
	Choice string           `json:"choice,omitempty"`
	// MaxIterations lowers the orchestrator ceiling when positive. Values
	// above the ceiling are ignored.
	MaxIterations int `json:"max_iterations,omitempty"`
}

// Names returns the declared function names in order.
func (c *ToolConfig) Names() []string {
	if c == nil {
		return nil
	}
	names := make([]string, 0, len(c.Tools))
	for _, t := range c.Tools {
		names = append(names, t.Function.Name)
	}
	return names
}

// ToolCallDelta is a streamed fragment of a tool call. Fragments sharing an
// Index belong to the same call; Arguments fragments concatenate in arrival
// order.
type ToolCallDelta struct {
	Index     int    `json:"index"`
	ID        string `json:"id,omitempty"`
	Type      string `json:"type,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}
