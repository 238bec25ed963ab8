package engine

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/hupe1980/agentstep/core"
	"github.com/hupe1980/agentstep/flow"
	"github.com/hupe1980/agentstep/model"
	"github.com/hupe1980/agentstep/step"
	"github.com/hupe1980/agentstep/tool"
)

// filterPattern finds a data filter announced by the model, written as
// filter:{value} or filter::{value}.
var filterPattern = regexp.MustCompile(`filter:?:?\{(.*?)\}`)

// behaviorPrefix precedes the behavior text appended by BECOME.
const behaviorPrefix = "Now - "

// handleStart makes the agent instruction the chat's first message. A chat
// that already starts with a system message is left alone, so START in a
// step list does not stack instructions on every run.
func (e *Engine) handleStart(_ context.Context, sc *StepContext) (*StepResult, error) {
	chat := sc.Chat
	if chat.Visual {
		return nil, nil
	}
	if len(chat.Messages) > 0 && chat.Messages[0].Role == core.RoleSystem {
		return nil, nil
	}
	chat.Messages = append([]core.Message{core.NewMessage(core.RoleSystem, sc.Agent.Instruction)}, chat.Messages...)
	return nil, nil
}

func (e *Engine) handleAnswer(ctx context.Context, sc *StepContext) (*StepResult, error) {
	s, _ := sc.Invocation.Step.(step.Answer)
	chat := sc.Chat
	if len(chat.Messages) == 0 {
		return nil, core.ErrNoMessages
	}
	ensureUserMessageReadiness(chat)

	raw, err := e.backend(chat.Backend)
	if err != nil {
		return nil, err
	}
	gen := raw
	if chat.HasTools() {
		gen = e.orchestrate(raw, e.tools)
	}

	opts := sendOptions(chat)
	last := chat.LastMessage()

	var res *model.Result
	switch {
	case chat.Visual:
		ig, ok := raw.(model.ImageGenerator)
		if !ok {
			return nil, core.NewConfigError("answer", fmt.Errorf("%w: %s cannot generate images", core.ErrModelNotSupported, raw.Info().Name))
		}
		res, err = ig.GenerateImage(ctx, chat)
	case s.UseMemory || len(last.Files) > 0:
		copts := model.ContextOptions{Files: last.Files, Send: opts}
		if s.UseMemory {
			copts.Snippets = chat.Memory
		}
		res, err = gen.AskWithContext(ctx, chat, copts)
	default:
		res, err = gen.Send(ctx, chat, opts)
	}
	if err != nil {
		return nil, err
	}

	return e.appendAnswer(chat, res.Message), nil
}

func (e *Engine) handleBecome(_ context.Context, sc *StepContext) (*StepResult, error) {
	s, _ := sc.Invocation.Step.(step.Become)
	agent, chat := sc.Agent, sc.Chat

	text, known := agent.Behaviors[s.Behavior]
	if !known {
		text = agent.Instruction
	}
	if filter, ok := chat.Property(core.PropDataFilter); ok && strings.Contains(text, core.FilterPlaceholder) {
		text = strings.ReplaceAll(text, core.FilterPlaceholder, filter)
		sc.AddTag(filter)
	}
	agent.CurrentBehavior = s.Behavior

	if len(chat.Messages) > 0 && chat.Messages[0].Role == core.RoleSystem {
		chat.Messages[0].Content = text
	} else {
		chat.Messages = append([]core.Message{core.NewMessage(core.RoleSystem, text)}, chat.Messages...)
	}
	sc.notifyProgress(true)

	chat.Append(core.NewInternalMessage(core.RoleUser, behaviorPrefix+text))
	return nil, nil
}

func (e *Engine) handleCleanup(_ context.Context, sc *StepContext) (*StepResult, error) {
	agent, chat := sc.Agent, sc.Chat

	agent.CurrentBehavior = core.DefaultBehavior
	chat.Properties = map[string]string{}
	chat.ResumableState = nil

	switch {
	case chat.Visual:
		chat.Messages = []core.Message{}
	case len(chat.Messages) > 0:
		first := chat.Messages[0]
		first.Content = agent.Instruction
		first.Processed = false
		chat.Messages = []core.Message{first}
	}

	e.invalidate(chat)
	return nil, nil
}

func (e *Engine) handleMcp(ctx context.Context, sc *StepContext) (*StepResult, error) {
	agent, chat := sc.Agent, sc.Chat
	if agent.Mcp == nil {
		return nil, core.NewConfigError("mcp step", core.ErrMissingMcpConfig)
	}
	if len(chat.Messages) == 0 {
		return nil, core.ErrNoMessages
	}
	ensureUserMessageReadiness(chat)

	backendType := agent.Mcp.Backend
	if backendType == "" {
		backendType = chat.Backend
	}
	raw, err := e.backend(backendType)
	if err != nil {
		return nil, err
	}

	sess, err := e.connectMCP(ctx, agent.Mcp)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			e.logger.Warn("mcp.close_failed", "agent_id", agent.ID, "error", cerr)
		}
	}()

	reg := tool.NewRegistry()
	defs, err := sess.Register(ctx, reg)
	if err != nil {
		return nil, err
	}

	if agent.Mcp.Model != "" && agent.Mcp.Model != chat.Model {
		prev := chat.Model
		chat.Model = agent.Mcp.Model
		defer func() { chat.Model = prev }()
	}

	opts := sendOptions(chat)
	opts.Tools = defs
	res, err := e.orchestrate(raw, reg).Send(ctx, chat, opts)
	if err != nil {
		return nil, err
	}
	return e.appendAnswer(chat, res.Message), nil
}

// appendAnswer applies the filter rule to an answer and appends it. An
// empty filter:{} is ignored.
func (e *Engine) appendAnswer(chat *core.Chat, msg core.Message) *StepResult {
	if m := filterPattern.FindStringSubmatch(msg.Content); m != nil && m[1] != "" {
		if chat.TryAddProperty(core.PropDataFilter, m[1]) {
			e.logger.Debug("engine.filter_set", "chat_id", chat.ID, "filter", m[1])
		}
	}
	msg.Processed = true
	chat.Append(msg)
	answer := chat.LastMessage().Clone()
	return &StepResult{RedirectMessage: &answer}
}

func (e *Engine) backend(t core.BackendType) (model.Backend, error) {
	return e.backends.Backend(t)
}

func (e *Engine) orchestrate(b model.Backend, tools *tool.Registry) *flow.Orchestrator {
	return flow.New(b, tools, func(o *flow.Options) {
		o.Notifier = e.notifier
		o.Logger = e.logger
		if e.config.MaxToolIterations > 0 {
			o.MaxIterations = e.config.MaxToolIterations
		}
		if e.config.ParallelToolCalls > 1 {
			o.Executor = flow.NewParallelFunctionExecutor(flow.FunctionExecutorConfig{
				MaxParallel: e.config.ParallelToolCalls,
				Logger:      e.logger,
				Notifier:    e.notifier,
			})
		}
	})
}

// invalidate drops the chat's backend session. Resolvers able to reach
// every backend (the registry) are asked directly.
func (e *Engine) invalidate(chat *core.Chat) {
	if inv, ok := e.backends.(interface{ InvalidateSession(chatID string) }); ok {
		inv.InvalidateSession(chat.ID)
		return
	}
	b, err := e.backend(chat.Backend)
	if err != nil {
		e.logger.Warn("engine.invalidate_failed", "chat_id", chat.ID, "error", err)
		return
	}
	b.InvalidateSession(chat.ID)
}

func sendOptions(chat *core.Chat) model.SendOptions {
	return model.SendOptions{Interactive: chat.Interactive, CreateSession: chat.CreateSession}
}

// ensureUserMessageReadiness moves the newest user message to the end of
// the chat when other messages were appended after it, so generation
// answers it.
func ensureUserMessageReadiness(chat *core.Chat) {
	n := len(chat.Messages)
	if n == 0 || chat.Messages[n-1].Role == core.RoleUser {
		return
	}
	for i := n - 2; i >= 0; i-- {
		if chat.Messages[i].Role != core.RoleUser {
			continue
		}
		m := chat.Messages[i]
		copy(chat.Messages[i:], chat.Messages[i+1:])
		chat.Messages[n-1] = m
		return
	}
}
