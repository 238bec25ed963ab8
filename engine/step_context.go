package engine

import (
	"context"
	"time"

	"github.com/hupe1980/agentstep/core"
	"github.com/hupe1980/agentstep/step"
)

// StepContext is the transient state of one step invocation.
type StepContext struct {
	Agent *core.Agent
	Chat  *core.Chat
	// Invocation is the parsed step being executed.
	Invocation step.Invocation
	// RedirectMessage is the last message produced by a previous step; it
	// is what REDIRECT hands to the target agent.
	RedirectMessage *core.Message

	// Notify publishes a progress event.
	Notify func(n core.Notification)
	// Persist saves the chat and the agent.
	Persist func(ctx context.Context) error

	tags []string
}

// AddTag marks value for removal from every behavior text when the run
// ends. Empty values are ignored.
func (sc *StepContext) AddTag(value string) {
	if value == "" {
		return
	}
	for _, t := range sc.tags {
		if t == value {
			return
		}
	}
	sc.tags = append(sc.tags, value)
}

// Tags returns the values marked for scrubbing.
func (sc *StepContext) Tags() []string {
	return append([]string(nil), sc.tags...)
}

func (sc *StepContext) notifyProgress(processing bool) {
	if sc.Notify == nil {
		return
	}
	sc.Notify(core.Notification{
		Type:         core.NotifyProgress,
		ChatID:       sc.Chat.ID,
		AgentID:      sc.Agent.ID,
		IsProcessing: processing,
		Behavior:     sc.Agent.CurrentBehavior,
		Step:         sc.Invocation.Name,
		Time:         time.Now(),
	})
}

// StepResult is what a handler reports back to the dispatcher.
type StepResult struct {
	// RedirectMessage replaces the context's redirect message. When nil
	// the chat's last message is used.
	RedirectMessage *core.Message
}

// Handler executes one step kind. Handlers mutate sc.Chat and sc.Agent in
// place; the dispatcher persists both afterwards.
type Handler interface {
	Handle(ctx context.Context, sc *StepContext) (*StepResult, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, sc *StepContext) (*StepResult, error)

// Handle calls f(ctx, sc).
func (f HandlerFunc) Handle(ctx context.Context, sc *StepContext) (*StepResult, error) {
	return f(ctx, sc)
}
