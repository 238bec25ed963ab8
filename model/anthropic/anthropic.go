// Package anthropic implements model.Backend on the Anthropic Messages API
// with streaming text, thinking and tool_use support.
package anthropic

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"github.com/hupe1980/agentstep/core"
	"github.com/hupe1980/agentstep/logging"
	"github.com/hupe1980/agentstep/model"
)

// Options configures the Anthropic backend (model id, max tokens, API key).
// Extend via functional options to preserve stability.
type Options struct {
	// Model is used when the chat names none.
	Model         anthropic.Model
	Temperature   float64
	MaxTokens     int64
	APIKey        string
	BaseURL       string
	Sessions      *model.SessionCache
	Notifier      core.Notifier
	Retriever     model.Retriever
	Logger        logging.Logger
	ClientOptions []option.RequestOption
}

// Backend wraps the Messages API behind model.Backend.
type Backend struct {
	client *anthropic.Client
	opts   Options
}

// New creates a backend using the official client.
func New(optFns ...func(o *Options)) *Backend {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}
	clientOpts = append(clientOpts, opts.ClientOptions...)

	client := anthropic.NewClient(clientOpts...)
	return newBackend(&client, opts)
}

// NewFromClient creates a backend from an existing client.
func NewFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Backend {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return newBackend(client, opts)
}

func defaultOptions() Options {
	return Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
}

func newBackend(client *anthropic.Client, opts Options) *Backend {
	if opts.Sessions == nil {
		opts.Sessions = model.NewSessionCache()
	}
	if opts.Notifier == nil {
		opts.Notifier = core.NoOpNotifier{}
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	return &Backend{client: client, opts: opts}
}

// Send implements model.Backend.
func (b *Backend) Send(ctx context.Context, chat *core.Chat, opts model.SendOptions) (*model.Result, error) {
	if len(chat.Messages) == 0 {
		return nil, core.ErrNoMessages
	}
	start := time.Now()
	sent := model.SessionMessages(b.opts.Sessions, chat, opts)

	name := anthropic.Model(chat.Model)
	if name == "" {
		name = b.opts.Model
	}
	params := anthropic.MessageNewParams{
		Model:       name,
		Messages:    buildMessages(sent),
		MaxTokens:   b.opts.MaxTokens,
		Temperature: anthropic.Float(b.opts.Temperature),
	}
	if system := systemBlocks(sent); len(system) > 0 {
		params.System = system
	}
	if len(opts.Tools) > 0 && opts.ToolChoice != core.ToolChoiceNone {
		params.Tools = buildTools(opts.Tools)
		if opts.ToolChoice == core.ToolChoiceRequired {
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAny: &anthropic.ToolChoiceAnyParam{}}
		} else {
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAuto: &anthropic.ToolChoiceAutoParam{}}
		}
	}

	pipe := model.NewPipeline(chat.ID, opts, b.opts.Notifier)
	if err := b.stream(ctx, params, pipe); err != nil {
		pipe.Abort()
		b.opts.Logger.Error("generation.failed", "backend", core.BackendAnthropic, "model", string(name), "error", err)
		return nil, mapError(err)
	}
	acc := pipe.Finish()

	msg := core.NewMessage(core.RoleAssistant, acc.Text())
	msg.ToolCalls = acc.ToolCalls()
	msg.Processed = true

	chat.MarkProcessed()
	model.RememberSession(b.opts.Sessions, chat, opts, sent, msg)

	b.opts.Logger.Debug("generation.complete", "backend", core.BackendAnthropic, "model", string(name),
		"token_count", acc.Count(), "duration", time.Since(start))
	return &model.Result{Message: msg, Model: string(name), TokenCount: acc.Count(), Reasoning: acc.Reasoning()}, nil
}

// stream forwards text and thinking deltas as they arrive. tool_use blocks
// are taken from the accumulated message once the stream ends.
func (b *Backend) stream(ctx context.Context, params anthropic.MessageNewParams, pipe *model.Pipeline) error {
	stream := b.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	message := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return err
		}
		ev, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent)
		if !ok {
			continue
		}
		var tok model.Token
		switch delta := ev.Delta.AsAny().(type) {
		case anthropic.TextDelta:
			tok = model.Token{Type: model.TokenMessage, Text: delta.Text}
		case anthropic.ThinkingDelta:
			tok = model.Token{Type: model.TokenReason, Text: delta.Thinking}
		default:
			continue
		}
		if err := pipe.Emit(ctx, tok); err != nil {
			return err
		}
	}
	if err := stream.Err(); err != nil {
		return err
	}

	var deltas []core.ToolCallDelta
	for _, block := range message.Content {
		use, ok := block.AsAny().(anthropic.ToolUseBlock)
		if !ok {
			continue
		}
		args := "{}"
		if raw, err := json.Marshal(use.Input); err == nil && string(raw) != "null" {
			args = string(raw)
		}
		deltas = append(deltas, core.ToolCallDelta{
			Index:     len(deltas),
			ID:        use.ID,
			Type:      "function",
			Name:      use.Name,
			Arguments: args,
		})
	}
	if len(deltas) == 0 {
		return nil
	}
	return pipe.Emit(ctx, model.Token{Type: model.TokenToolCall, ToolCalls: deltas})
}

// buildMessages converts chat messages to Messages API turns. System
// messages travel separately; consecutive tool results share one user turn.
func buildMessages(msgs []core.Message) []anthropic.MessageParam {
	var out []anthropic.MessageParam
	var results []anthropic.ContentBlockParamUnion
	flush := func() {
		if len(results) > 0 {
			out = append(out, anthropic.NewUserMessage(results...))
			results = nil
		}
	}
	for _, m := range msgs {
		switch m.Role {
		case core.RoleSystem:
			continue
		case core.RoleTool:
			results = append(results, anthropic.NewToolResultBlock(m.ToolCallID, m.Content, false))
			continue
		}
		flush()
		switch m.Role {
		case core.RoleAssistant:
			if content := assistantContent(m); len(content) > 0 {
				out = append(out, anthropic.NewAssistantMessage(content...))
			}
		default:
			if content := userContent(m); len(content) > 0 {
				out = append(out, anthropic.NewUserMessage(content...))
			}
		}
	}
	flush()
	return out
}

func systemBlocks(msgs []core.Message) []anthropic.TextBlockParam {
	var blocks []anthropic.TextBlockParam
	for _, m := range msgs {
		if m.Role == core.RoleSystem && m.Content != "" {
			blocks = append(blocks, anthropic.TextBlockParam{Text: m.Content})
		}
	}
	return blocks
}

func userContent(m core.Message) []anthropic.ContentBlockParamUnion {
	var content []anthropic.ContentBlockParamUnion
	if len(m.Image) > 0 {
		content = append(content, anthropic.NewImageBlockBase64(http.DetectContentType(m.Image), base64.StdEncoding.EncodeToString(m.Image)))
	}
	if m.Content != "" {
		content = append(content, anthropic.NewTextBlock(m.Content))
	}
	return content
}

func assistantContent(m core.Message) []anthropic.ContentBlockParamUnion {
	var content []anthropic.ContentBlockParamUnion
	if m.Content != "" {
		content = append(content, anthropic.NewTextBlock(m.Content))
	}
	for _, c := range m.ToolCalls {
		var input any = map[string]any{}
		if c.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(c.Function.Arguments), &input); err != nil {
				input = c.Function.Arguments
			}
		}
		content = append(content, anthropic.NewToolUseBlock(c.ID, input, c.Function.Name))
	}
	return content
}

// buildTools converts tool definitions to Anthropic tool format.
func buildTools(defs []core.ToolDefinition) []anthropic.ToolUnionParam {
	tools := make([]anthropic.ToolUnionParam, len(defs))
	for i, def := range defs {
		schema := anthropic.ToolInputSchemaParam{Type: constant.Object("object")}
		if params := def.Function.Parameters; params != nil {
			if properties, ok := params["properties"]; ok {
				schema.Properties = properties
			}
			schema.Required = requiredNames(params["required"])
		}
		tools[i] = anthropic.ToolUnionParamOfTool(schema, def.Function.Name)
		if def.Function.Description != "" {
			tools[i].OfTool.Description = anthropic.String(def.Function.Description)
		}
	}
	return tools
}

func requiredNames(v any) []string {
	switch req := v.(type) {
	case []string:
		return req
	case []any:
		names := make([]string, 0, len(req))
		for _, r := range req {
			if s, ok := r.(string); ok {
				names = append(names, s)
			}
		}
		return names
	default:
		return nil
	}
}

func mapError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		msg := model.ErrorMessage([]byte(apiErr.RawJSON()))
		if msg == "" {
			msg = http.StatusText(apiErr.StatusCode)
		}
		return &core.BackendError{Backend: string(core.BackendAnthropic), Status: apiErr.StatusCode, Message: msg, Err: err}
	}
	return &core.BackendError{Backend: string(core.BackendAnthropic), Message: err.Error(), Err: err}
}

// AskWithContext implements model.Backend.
func (b *Backend) AskWithContext(ctx context.Context, chat *core.Chat, opts model.ContextOptions) (*model.Result, error) {
	return model.AskWithRetriever(ctx, b.opts.Retriever, b.Send, chat, opts)
}

// ListModels implements model.Backend.
func (b *Backend) ListModels(ctx context.Context) ([]string, error) {
	page, err := b.client.Models.List(ctx, anthropic.ModelListParams{})
	if err != nil {
		return nil, mapError(err)
	}
	names := make([]string, 0, len(page.Data))
	for _, m := range page.Data {
		names = append(names, m.ID)
	}
	sort.Strings(names)
	return names, nil
}

// InvalidateSession drops the cached session history of chatID.
func (b *Backend) InvalidateSession(chatID string) {
	b.opts.Sessions.Invalidate(chatID)
}

// Info returns metadata describing this backend.
func (b *Backend) Info() model.Info {
	return model.Info{Name: string(b.opts.Model), Provider: core.BackendAnthropic, SupportsTools: true}
}

var _ model.Backend = (*Backend)(nil)
