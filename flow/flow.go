// Package flow provides the tool-call orchestration loop.
//
// An Orchestrator decorates any model.Backend: when a chat declares callable
// tools it repeatedly generates, detects tool calls (native provider calls
// or JSON recovered from the text), executes them and feeds the results
// back, until the model answers in plain text or the iteration ceiling is
// reached. Every assistant turn carrying calls and every tool result is
// appended to the chat as its own message so the model sees the full
// call/result history.
package flow

import (
	"context"
	"fmt"
	"time"

	"github.com/hupe1980/agentstep/core"
	"github.com/hupe1980/agentstep/logging"
	"github.com/hupe1980/agentstep/model"
	"github.com/hupe1980/agentstep/tool"
)

// DefaultMaxIterations is the generation ceiling of one orchestrated call.
// Options and chat settings may lower it but never raise it.
const DefaultMaxIterations = 5

// MaxIterationsNotice is published when the ceiling ends a call.
const MaxIterationsNotice = "Maximum tool iterations reached"

// Options configure an Orchestrator.
type Options struct {
	MaxIterations int
	Executor      FunctionExecutor
	Notifier      core.Notifier
	Logger        logging.Logger
}

// Orchestrator adds the bounded generate, detect, execute, append loop to
// a backend. It implements model.Backend itself.
type Orchestrator struct {
	backend model.Backend
	tools   *tool.Registry
	opts    Options
}

// New wraps backend, resolving executors from tools.
func New(backend model.Backend, tools *tool.Registry, optFns ...func(o *Options)) *Orchestrator {
	opts := Options{
		MaxIterations: DefaultMaxIterations,
		Notifier:      core.NoOpNotifier{},
		Logger:        logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	opts.MaxIterations = ceiling(opts.MaxIterations)
	opts.Logger = logging.OrNoOp(opts.Logger)
	if opts.Notifier == nil {
		opts.Notifier = core.NoOpNotifier{}
	}
	if opts.Executor == nil {
		opts.Executor = NewSequentialFunctionExecutor(func(c *FunctionExecutorConfig) {
			c.Logger = opts.Logger
			c.Notifier = opts.Notifier
		})
	}
	if tools == nil {
		tools = tool.NewRegistry()
	}
	return &Orchestrator{backend: backend, tools: tools, opts: opts}
}

// Send generates an answer, running declared tools as requested. Without
// tools it is a plain backend call.
//
// The returned message is the final plain-text answer. When the ceiling
// ends the loop, the prose of the last generation (tool call markup
// removed) is returned instead and a notice is published; this is not an
// error. That prose moves out of the tool-call turn already in the chat,
// which keeps only its calls. Backend errors and calls to unregistered
// tools abort the call.
func (o *Orchestrator) Send(ctx context.Context, chat *core.Chat, opts model.SendOptions) (*model.Result, error) {
	if len(opts.Tools) == 0 && chat.HasTools() {
		opts.Tools = chat.Tools.Tools
		if opts.ToolChoice == "" {
			opts.ToolChoice = chat.Tools.Choice
		}
	}
	if len(opts.Tools) == 0 || opts.ToolChoice == core.ToolChoiceNone {
		return o.backend.Send(ctx, chat, opts)
	}

	limit := o.opts.MaxIterations
	if chat.Tools != nil && chat.Tools.MaxIterations > 0 {
		limit = min(limit, chat.Tools.MaxIterations)
	}
	limiter := core.NewCallLimiter(limit)

	var last *model.Result
	turnIdx := -1
	for {
		if err := limiter.Increment(); err != nil {
			o.opts.Logger.Warn("flow.max_iterations", "chat_id", chat.ID, "iterations", limiter.Count())
			o.opts.Notifier.Publish(core.Notification{
				Type:   core.NotifyNotice,
				ChatID: chat.ID,
				Text:   MaxIterationsNotice,
				Time:   time.Now(),
			})
			partial := last.Message
			partial.ID = core.NewID()
			partial.ToolCalls = nil
			partial.Content = tool.StripToolCalls(partial.Content)
			chat.Messages[turnIdx].Content = ""
			return &model.Result{Message: partial, Model: last.Model, TokenCount: last.TokenCount, Reasoning: last.Reasoning}, nil
		}

		res, err := o.backend.Send(ctx, chat, opts)
		if err != nil {
			return nil, err
		}
		last = res

		calls := res.Message.ToolCalls
		if len(calls) == 0 {
			calls = tool.ExtractToolCalls(res.Message.Content)
		}
		calls = tool.Normalize(calls)
		if len(calls) == 0 {
			return res, nil
		}

		executors, err := o.resolve(calls)
		if err != nil {
			return nil, err
		}

		turn := res.Message
		turn.ToolCalls = calls
		turn.Processed = true
		turnIdx = len(chat.Messages)
		chat.Append(turn)

		o.opts.Logger.Debug("flow.tool_calls", "chat_id", chat.ID, "iteration", limiter.Count(), "count", len(calls))
		results := o.opts.Executor.Execute(ctx, chat.ID, calls, executors)
		chat.Append(results...)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
}

// ceiling clamps a configured iteration limit to (0, DefaultMaxIterations].
func ceiling(n int) int {
	if n <= 0 || n > DefaultMaxIterations {
		return DefaultMaxIterations
	}
	return n
}

// resolve maps every call to its executor before any of them runs.
func (o *Orchestrator) resolve(calls []core.ToolCall) ([]tool.Executor, error) {
	executors := make([]tool.Executor, len(calls))
	for i, c := range calls {
		e, err := o.tools.Lookup(c.Function.Name)
		if err != nil {
			return nil, fmt.Errorf("tool call %s: %w", c.ID, err)
		}
		executors[i] = e
	}
	return executors, nil
}

// AskWithContext delegates to the wrapped backend, which calls back into
// its own Send; retrieval-augmented answers do not run tools.
func (o *Orchestrator) AskWithContext(ctx context.Context, chat *core.Chat, opts model.ContextOptions) (*model.Result, error) {
	return o.backend.AskWithContext(ctx, chat, opts)
}

// ListModels delegates to the wrapped backend.
func (o *Orchestrator) ListModels(ctx context.Context) ([]string, error) {
	return o.backend.ListModels(ctx)
}

// InvalidateSession delegates to the wrapped backend.
func (o *Orchestrator) InvalidateSession(chatID string) {
	o.backend.InvalidateSession(chatID)
}

// Info delegates to the wrapped backend.
func (o *Orchestrator) Info() model.Info {
	return o.backend.Info()
}

// Unwrap returns the wrapped backend.
func (o *Orchestrator) Unwrap() model.Backend { return o.backend }

var _ model.Backend = (*Orchestrator)(nil)
