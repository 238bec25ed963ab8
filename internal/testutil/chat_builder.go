package testutil

import (
	"github.com/hupe1980/agentstep/core"
)

// ChatBuilder helps construct chats with fluent chaining for tests.
// Example:
//
//	chat := NewChatBuilder("chat-1").Model("qwen3:8b").System("Be helpful").User("hi").Build()
type ChatBuilder struct {
	chat *core.Chat
}

// NewChatBuilder creates a builder for a chat with the given id.
func NewChatBuilder(id string) *ChatBuilder {
	return &ChatBuilder{chat: core.NewChat(id, "mock")}
}

// Model sets the target model (chainable).
func (b *ChatBuilder) Model(name string) *ChatBuilder { b.chat.Model = name; return b }

// Backend sets the backend type (chainable).
func (b *ChatBuilder) Backend(t core.BackendType) *ChatBuilder { b.chat.Backend = t; return b }

// Property sets a property bag entry (chainable).
func (b *ChatBuilder) Property(key, val string) *ChatBuilder {
	b.chat.SetProperty(key, val)
	return b
}

// System appends a system message (chainable).
func (b *ChatBuilder) System(text string) *ChatBuilder {
	b.chat.Append(core.NewMessage(core.RoleSystem, text))
	return b
}

// User appends a user message (chainable).
func (b *ChatBuilder) User(text string) *ChatBuilder {
	b.chat.Append(core.NewMessage(core.RoleUser, text))
	return b
}

// Assistant appends a processed assistant message (chainable).
func (b *ChatBuilder) Assistant(text string) *ChatBuilder {
	m := core.NewMessage(core.RoleAssistant, text)
	m.Processed = true
	b.chat.Append(m)
	return b
}

// Message appends an arbitrary message (chainable).
func (b *ChatBuilder) Message(m core.Message) *ChatBuilder {
	b.chat.Append(m)
	return b
}

// Tools declares callable tools (chainable).
func (b *ChatBuilder) Tools(defs ...core.ToolDefinition) *ChatBuilder {
	b.chat.Tools = &core.ToolConfig{Tools: defs}
	return b
}

// Interactive enables token notifications (chainable).
func (b *ChatBuilder) Interactive() *ChatBuilder { b.chat.Interactive = true; return b }

// BypassCache requests private resources for the call (chainable).
func (b *ChatBuilder) BypassCache() *ChatBuilder { b.chat.BypassCache = true; return b }

// Processed marks every message built so far as consumed (chainable).
func (b *ChatBuilder) Processed() *ChatBuilder { b.chat.MarkProcessed(); return b }

// Build returns the chat.
func (b *ChatBuilder) Build() *core.Chat { return b.chat }

// FunctionDef returns a minimal tool definition named name.
func FunctionDef(name string) core.ToolDefinition {
	return core.ToolDefinition{
		Type: "function",
		Function: core.FunctionDefinition{
			Name:       name,
			Parameters: map[string]any{"type": "object", "properties": map[string]any{}},
		},
	}
}
