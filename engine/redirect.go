package engine

import (
	"context"
	"fmt"

	"github.com/hupe1980/agentstep/core"
	"github.com/hupe1980/agentstep/step"
)

// handleRedirect hands the redirect message to another agent, runs that
// agent's step list on its own chat and brings its last message back.
func (e *Engine) handleRedirect(ctx context.Context, sc *StepContext) (*StepResult, error) {
	s, _ := sc.Invocation.Step.(step.Redirect)
	chat := sc.Chat

	target, err := e.agents.LoadAgent(ctx, s.AgentID)
	if err != nil {
		return nil, fmt.Errorf("redirect to %s: %w", s.AgentID, err)
	}
	if target.ChatID == "" {
		return nil, fmt.Errorf("redirect to %s: %w", s.AgentID, core.ErrChatNotFound)
	}

	ctx, unlock, err := e.lockChat(ctx, target.ChatID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	targetChat, err := e.chats.LoadChat(ctx, target.ChatID)
	if err != nil {
		return nil, fmt.Errorf("redirect to %s: %w", s.AgentID, err)
	}

	var content string
	if sc.RedirectMessage != nil {
		content = sc.RedirectMessage.Content
	}
	targetChat.Append(core.NewInternalMessage(core.RoleUser, content))
	if filter, ok := chat.Property(core.PropDataFilter); ok {
		targetChat.TryAddProperty(core.PropDataFilter, filter)
	}

	e.logger.Debug("engine.redirect", "agent_id", sc.Agent.ID, "target", target.ID, "mode", string(s.Mode))
	if _, err := e.Run(ctx, target, targetChat); err != nil {
		return nil, fmt.Errorf("redirect to %s: %w", s.AgentID, err)
	}

	last := targetChat.LastMessage()
	if last == nil {
		return nil, fmt.Errorf("redirect to %s: %w", s.AgentID, core.ErrNoMessages)
	}

	if s.Mode == step.AsFilter {
		if last.Content != "" {
			chat.TryAddProperty(core.PropDataFilter, last.Content)
		}
		return nil, nil
	}

	answer := core.NewInternalMessage(core.RoleSystem, last.Content)
	answer.Image = append([]byte(nil), last.Image...)
	if s.Replace && len(chat.Messages) > 0 {
		replaced := chat.Messages[len(chat.Messages)-1]
		for k, v := range replaced.Properties {
			answer.Properties[k] = v
		}
		chat.Messages = chat.Messages[:len(chat.Messages)-1]
	}
	chat.Append(answer)
	return nil, nil
}
