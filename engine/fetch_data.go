package engine

import (
	"context"
	"strings"

	"github.com/hupe1980/agentstep/core"
	"github.com/hupe1980/agentstep/datasource"
	"github.com/hupe1980/agentstep/model"
	"github.com/hupe1980/agentstep/step"
)

// handleFetchData reads the agent's data source into the chat. File and
// web sources of a chat that already has messages are answered through
// retrieval; other sources are appended as fetched, except JSON payloads,
// which are chunked and summarized first.
func (e *Engine) handleFetchData(ctx context.Context, sc *StepContext) (*StepResult, error) {
	s, _ := sc.Invocation.Step.(step.FetchData)
	agent, chat := sc.Agent, sc.Chat
	src := agent.Source
	if src == nil {
		return nil, core.NewConfigError("fetch data", core.ErrMissingDataSource)
	}

	role := core.RoleUser
	if s.AsSystem {
		role = core.RoleSystem
	}
	filter, _ := chat.Property(core.PropDataFilter)

	if len(chat.Messages) > 0 && (src.Type == core.SourceFile || src.Type == core.SourceWeb) {
		opts := model.ContextOptions{}
		if src.Type == core.SourceFile {
			opts.FilePaths = src.Files
		} else {
			opts.WebURLs = []string{src.URL}
		}
		text, err := e.askMemory(ctx, agent, chat, filter, opts)
		if err != nil {
			return nil, err
		}
		return appendData(chat, role, text), nil
	}

	data, err := e.sources.Fetch(ctx, src, filter)
	if err != nil {
		return nil, err
	}

	text := data.Content
	if data.JSON && memoryQuestion(agent, filter) != "" {
		chunks, err := datasource.ChunkJSON(data.Content, datasource.DefaultChunkChars)
		if err != nil {
			return nil, err
		}
		opts := model.ContextOptions{TextData: make(map[string]string, len(chunks))}
		for i, c := range chunks {
			opts.TextData[datasource.ChunkKey(i, len(chunks))] = c
		}
		text, err = e.askMemory(ctx, agent, chat, filter, opts)
		if err != nil {
			return nil, err
		}
	}
	return appendData(chat, role, text), nil
}

// askMemory asks a throwaway chat, whose only message is the current
// behavior with the filter substituted, against the given context.
func (e *Engine) askMemory(ctx context.Context, agent *core.Agent, chat *core.Chat, filter string, opts model.ContextOptions) (string, error) {
	b, err := e.backend(chat.Backend)
	if err != nil {
		return "", err
	}

	mem := core.NewChat("", chat.Model)
	mem.Backend = chat.Backend
	mem.BypassCache = chat.BypassCache
	mem.Append(core.NewMessage(core.RoleUser, memoryQuestion(agent, filter)))

	res, err := b.AskWithContext(ctx, mem, opts)
	b.InvalidateSession(mem.ID)
	if err != nil {
		return "", err
	}
	return res.Message.Content, nil
}

func memoryQuestion(agent *core.Agent, filter string) string {
	q, ok := agent.Behaviors[agent.CurrentBehavior]
	if !ok {
		q = agent.Instruction
	}
	return strings.ReplaceAll(q, core.FilterPlaceholder, filter)
}

func appendData(chat *core.Chat, role, text string) *StepResult {
	chat.Append(core.NewInternalMessage(role, text))
	m := chat.LastMessage().Clone()
	return &StepResult{RedirectMessage: &m}
}
