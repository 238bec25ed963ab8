package core

// Agent is a named, ordered list of step specifications executed against a
// chat. Behaviors map a behavior name to an instruction text; BECOME swaps
// the chat's system instruction to one of them.
//
// An Agent is owned by the caller, mutated by BECOME and CLEANUP and
// persisted by the engine after every step.
type Agent struct {
	ID              string            `json:"id"`
	Name            string            `json:"name"`
	Description     string            `json:"description,omitempty"`
	Model           string            `json:"model"`
	Backend         BackendType       `json:"backend,omitempty"`
	Instruction     string            `json:"instruction"`
	Behaviors       map[string]string `json:"behaviors,omitempty"`
	CurrentBehavior string            `json:"current_behavior,omitempty"`
	Steps           []string          `json:"steps"`
	Source          *DataSource       `json:"source,omitempty"`
	Mcp             *McpConfig        `json:"mcp,omitempty"`
	ChatID          string            `json:"chat_id,omitempty"`
	IsProcessing    bool              `json:"is_processing,omitempty"`
}

// Clone returns a deep copy of the agent.
func (a *Agent) Clone() *Agent {
	if a == nil {
		return nil
	}
	c := *a
	c.Behaviors = make(map[string]string, len(a.Behaviors))
	for k, v := range a.Behaviors {
		c.Behaviors[k] = v
	}
	c.Steps = append([]string(nil), a.Steps...)
	if a.Source != nil {
		c.Source = a.Source.Clone()
	}
	if a.Mcp != nil {
		m := *a.Mcp
		m.Arguments = append([]string(nil), a.Mcp.Arguments...)
		m.Env = make(map[string]string, len(a.Mcp.Env))
		for k, v := range a.Mcp.Env {
			m.Env[k] = v
		}
		c.Mcp = &m
	}
	return &c
}

// McpConfig describes an MCP server launched over stdio for the MCP step.
type McpConfig struct {
	Name      string            `json:"name"`
	Command   string            `json:"command"`
	Arguments []string          `json:"arguments,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	Model     string            `json:"model"`
	Backend   BackendType       `json:"backend,omitempty"`
}

// BackendType selects a generation backend family.
type BackendType string

// Supported backends. The zero value means "local".
const (
	BackendLocal     BackendType = "local"
	BackendOpenAI    BackendType = "openai"
	BackendGroq      BackendType = "groq"
	BackendDeepSeek  BackendType = "deepseek"
	BackendXAI       BackendType = "xai"
	BackendOllama    BackendType = "ollama"
	BackendAnthropic BackendType = "anthropic"
	// BackendCompatible targets any OpenAI compatible endpoint configured by base URL.
	BackendCompatible BackendType = "compatible"
)

// OrLocal returns t, or BackendLocal when t is empty.
func (t BackendType) OrLocal() BackendType {
	if t == "" {
		return BackendLocal
	}
	return t
}
