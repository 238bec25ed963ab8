package core

import "time"

// Chat is a conversation: an ordered, append-mostly list of messages plus a
// string property bag shared between steps and across step-list runs.
//
// Contract:
//   - ResumableState is nil when absent; generation replaces it wholesale on
//     success and clears it on an unrecoverable failure
//   - a Message's Processed flag is never unset once set
//   - Clone deep copies slices and maps for safe divergence
type Chat struct {
	ID             string            `json:"id"`
	Name           string            `json:"name,omitempty"`
	Model          string            `json:"model"`
	Backend        BackendType       `json:"backend,omitempty"`
	Messages       []Message         `json:"messages"`
	Properties     map[string]string `json:"properties"`
	ResumableState []byte            `json:"resumable_state,omitempty"`
	Tools          *ToolConfig       `json:"tools,omitempty"`
	Memory         []string          `json:"memory,omitempty"`

	Interactive   bool `json:"interactive,omitempty"`
	Visual        bool `json:"visual,omitempty"`
	CreateSession bool `json:"create_session,omitempty"`
	BypassCache   bool `json:"bypass_cache,omitempty"`
	// NoTokenLimit lifts the local backend's max token ceiling.
	NoTokenLimit bool `json:"no_token_limit,omitempty"`
}

// NewChat creates an empty chat for model.
func NewChat(id, model string) *Chat {
	if id == "" {
		id = NewID()
	}
	return &Chat{ID: id, Model: model, Messages: []Message{}, Properties: map[string]string{}}
}

// Property returns the value and existence flag for a property key.
func (c *Chat) Property(key string) (string, bool) {
	if c.Properties == nil {
		return "", false
	}
	v, ok := c.Properties[key]
	return v, ok
}

// SetProperty sets key to value, overwriting any previous value.
func (c *Chat) SetProperty(key, value string) {
	if c.Properties == nil {
		c.Properties = map[string]string{}
	}
	c.Properties[key] = value
}

// TryAddProperty sets key only when it is not present yet and reports
// whether it did.
func (c *Chat) TryAddProperty(key, value string) bool {
	if _, ok := c.Property(key); ok {
		return false
	}
	c.SetProperty(key, value)
	return true
}

// Append adds messages stamping their time when unset.
func (c *Chat) Append(msgs ...Message) {
	for _, m := range msgs {
		if m.Time.IsZero() {
			m.Time = time.Now()
		}
		c.Messages = append(c.Messages, m)
	}
}

// LastMessage returns a pointer to the newest message or nil.
func (c *Chat) LastMessage() *Message {
	if len(c.Messages) == 0 {
		return nil
	}
	return &c.Messages[len(c.Messages)-1]
}

// Unprocessed returns the messages not yet consumed by generation, in order.
func (c *Chat) Unprocessed() []Message {
	var out []Message
	for _, m := range c.Messages {
		if !m.Processed {
			out = append(out, m)
		}
	}
	return out
}

// MarkProcessed flags every message as consumed by generation.
func (c *Chat) MarkProcessed() {
	for i := range c.Messages {
		c.Messages[i].Processed = true
	}
}

// HasTools reports whether the chat declares callable tools.
func (c *Chat) HasTools() bool {
	return c.Tools != nil && len(c.Tools.Tools) > 0
}

// Clone returns a deep copy of the chat.
func (c *Chat) Clone() *Chat {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Messages = make([]Message, len(c.Messages))
	for i, m := range c.Messages {
		clone.Messages[i] = m.Clone()
	}
	clone.Properties = make(map[string]string, len(c.Properties))
	for k, v := range c.Properties {
		clone.Properties[k] = v
	}
	if c.ResumableState != nil {
		clone.ResumableState = append([]byte(nil), c.ResumableState...)
	}
	clone.Memory = append([]string(nil), c.Memory...)
	if c.Tools != nil {
		tc := *c.Tools
		tc.Tools = append([]ToolDefinition(nil), c.Tools.Tools...)
		clone.Tools = &tc
	}
	return &clone
}

// FileRef references a file attached to a message, either on disk (Path) or
// inline (Data).
type FileRef struct {
	Name string `json:"name"`
	Path string `json:"path,omitempty"`
	Data []byte `json:"data,omitempty"`
}

// Message is a single conversation turn.
type Message struct {
	ID         string            `json:"id,omitempty"`
	Role       string            `json:"role"`
	Content    string            `json:"content"`
	Image      []byte            `json:"image,omitempty"`
	Files      []FileRef         `json:"files,omitempty"`
	Processed  bool              `json:"processed,omitempty"`
	ToolCalls  []ToolCall        `json:"tool_calls,omitempty"`
	ToolCallID string            `json:"tool_call_id,omitempty"`
	ToolName   string            `json:"tool_name,omitempty"`
	Properties map[string]string `json:"properties,omitempty"`
	Time       time.Time         `json:"time"`
}

// NewMessage builds a message with role and content.
func NewMessage(role, content string) Message {
	return Message{ID: NewID(), Role: role, Content: content, Time: time.Now()}
}

// NewInternalMessage builds a message flagged as produced by the engine.
func NewInternalMessage(role, content string) Message {
	m := NewMessage(role, content)
	m.Properties = map[string]string{PropAgentInternal: "true"}
	return m
}

// IsInternal reports whether the engine produced the message.
func (m Message) IsInternal() bool {
	return m.Properties[PropAgentInternal] == "true"
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	c := m
	if m.Image != nil {
		c.Image = append([]byte(nil), m.Image...)
	}
	if m.Files != nil {
		c.Files = append([]FileRef(nil), m.Files...)
	}
	if m.ToolCalls != nil {
		c.ToolCalls = append([]ToolCall(nil), m.ToolCalls...)
	}
	if m.Properties != nil {
		c.Properties = make(map[string]string, len(m.Properties))
		for k, v := range m.Properties {
			c.Properties[k] = v
		}
	}
	return c
}
