package testutil

import (
	"github.com/hupe1980/agentstep/core"
)

// AgentBuilder helps construct agents with fluent chaining for tests.
// Example:
//
//	ag := NewAgentBuilder("a1").Instruction("You are terse.").Steps("START", "ANSWER").Build()
type AgentBuilder struct {
	agent *core.Agent
}

// NewAgentBuilder creates a builder for an agent with the given id. The
// agent targets the "mock" model and owns a chat with id "<id>-chat".
func NewAgentBuilder(id string) *AgentBuilder {
	return &AgentBuilder{agent: &core.Agent{
		ID:              id,
		Name:            id,
		Model:           "mock",
		ChatID:          id + "-chat",
		Behaviors:       map[string]string{},
		CurrentBehavior: core.DefaultBehavior,
	}}
}

// Instruction sets the system instruction (chainable).
func (b *AgentBuilder) Instruction(text string) *AgentBuilder {
	b.agent.Instruction = text
	return b
}

// Behavior adds a named behavior (chainable).
func (b *AgentBuilder) Behavior(name, text string) *AgentBuilder {
	b.agent.Behaviors[name] = text
	return b
}

// Steps sets the step list (chainable).
func (b *AgentBuilder) Steps(steps ...string) *AgentBuilder {
	b.agent.Steps = steps
	return b
}

// Source sets the data source (chainable).
func (b *AgentBuilder) Source(ds *core.DataSource) *AgentBuilder {
	b.agent.Source = ds
	return b
}

// Model sets the model and backend (chainable).
func (b *AgentBuilder) Model(name string, backend core.BackendType) *AgentBuilder {
	b.agent.Model = name
	b.agent.Backend = backend
	return b
}

// Build returns the agent.
func (b *AgentBuilder) Build() *core.Agent { return b.agent }
