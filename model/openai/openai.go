// Package openai implements model.Backend on the OpenAI Chat Completions
// API (streaming, tool calling, image input) and on every provider exposing
// an OpenAI compatible endpoint (Groq, DeepSeek, xAI, Ollama or a custom
// base URL).
package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/hupe1980/agentstep/core"
	"github.com/hupe1980/agentstep/logging"
	"github.com/hupe1980/agentstep/model"
)

// Base URLs of the OpenAI compatible providers.
var BaseURLs = map[core.BackendType]string{
	core.BackendGroq:     "https://api.groq.com/openai/v1/",
	core.BackendDeepSeek: "https://api.deepseek.com/v1/",
	core.BackendXAI:      "https://api.x.ai/v1/",
	core.BackendOllama:   "http://localhost:11434/v1/",
}

// Options configure the OpenAI backend.
// Fields mirror a subset of Chat Completion parameters; extend via
// functional options without breaking callers.
type Options struct {
	// Provider names the backend in errors and Info.
	Provider core.BackendType
	// Model is used when the chat names none.
	Model               string
	APIKey              string
	BaseURL             string
	Temperature         float64
	MaxCompletionTokens int64
	// Stream selects server-sent-event streaming; otherwise one blocking
	// request is made.
	Stream     bool
	ImageModel string
	// Reasoner classifies streamed content, e.g. model.ThinkTags for
	// providers inlining <think> spans.
	Reasoner      model.ReasonFunc
	Sessions      *model.SessionCache
	Notifier      core.Notifier
	Retriever     model.Retriever
	Logger        logging.Logger
	ClientOptions []option.RequestOption
}

// Backend wraps the Chat Completions API behind model.Backend.
type Backend struct {
	client *openai.Client
	opts   Options
}

// New creates a backend with a client configured from the options.
func New(optFns ...func(o *Options)) *Backend {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	clientOpts := []option.RequestOption{}
	if opts.BaseURL == "" {
		opts.BaseURL = BaseURLs[opts.Provider]
	}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	clientOpts = append(clientOpts, opts.ClientOptions...)
	client := openai.NewClient(clientOpts...)
	return newBackend(&client, opts)
}

// NewFromClient creates a backend from an existing client.
func NewFromClient(client *openai.Client, optFns ...func(o *Options)) *Backend {
	opts := defaultOptions()
	for _, fn := range optFns {
		fn(&opts)
	}
	return newBackend(client, opts)
}

func defaultOptions() Options {
	return Options{
		Provider:            core.BackendOpenAI,
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
		Stream:              true,
		ImageModel:          string(openai.ImageModelDallE3),
	}
}

func newBackend(client *openai.Client, opts Options) *Backend {
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
	params := b.buildParams(chat, sent, opts)

	pipe := model.NewPipeline(chat.ID, opts, b.opts.Notifier)
	var err error
	if b.opts.Stream {
		err = b.stream(ctx, params, pipe)
	} else {
		err = b.complete(ctx, params, pipe)
	}
	if err != nil {
		pipe.Abort()
		b.opts.Logger.Error("generation.failed", "backend", b.opts.Provider, "model", params.Model, "error", err)
		return nil, b.mapError(err)
	}
	acc := pipe.Finish()

	msg := core.NewMessage(core.RoleAssistant, acc.Text())
	msg.ToolCalls = acc.ToolCalls()
	msg.Processed = true

	chat.MarkProcessed()
	model.RememberSession(b.opts.Sessions, chat, opts, sent, msg)

	b.opts.Logger.Debug("generation.complete", "backend", b.opts.Provider, "model", params.Model,
		"token_count", acc.Count(), "duration", time.Since(start))
	return &model.Result{Message: msg, Model: params.Model, TokenCount: acc.Count(), Reasoning: acc.Reasoning()}, nil
}

// stream reads the SSE response, forwarding content and tool call
// fragments as tokens in arrival order.
func (b *Backend) stream(ctx context.Context, params openai.ChatCompletionNewParams, pipe *model.Pipeline) error {
	stream := b.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	thinking := model.NewThinkingState()
	for stream.Next() {
		chunk := stream.Current()
		for _, ch := range chunk.Choices {
			if ch.Delta.Content != "" {
				if err := pipe.Emit(ctx, model.Classify(b.opts.Reasoner, ch.Delta.Content, thinking)); err != nil {
					return err
				}
			}
			if len(ch.Delta.ToolCalls) == 0 {
				continue
			}
			deltas := make([]core.ToolCallDelta, 0, len(ch.Delta.ToolCalls))
			for _, tc := range ch.Delta.ToolCalls {
				deltas = append(deltas, core.ToolCallDelta{
					Index:     int(tc.Index),
					ID:        tc.ID,
					Type:      string(tc.Type),
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				})
			}
			if err := pipe.Emit(ctx, model.Token{Type: model.TokenToolCall, ToolCalls: deltas}); err != nil {
				return err
			}
		}
	}
	return stream.Err()
}

// complete performs one blocking request and replays its result as tokens.
func (b *Backend) complete(ctx context.Context, params openai.ChatCompletionNewParams, pipe *model.Pipeline) error {
	resp, err := b.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return err
	}
	if len(resp.Choices) == 0 {
		return errors.New("no choices returned")
	}
	msg := resp.Choices[0].Message
	if msg.Content != "" {
		if err := pipe.Emit(ctx, model.Classify(b.opts.Reasoner, msg.Content, model.NewThinkingState())); err != nil {
			return err
		}
	}
	if len(msg.ToolCalls) == 0 {
		return nil
	}
	deltas := make([]core.ToolCallDelta, 0, len(msg.ToolCalls))
	for i, tc := range msg.ToolCalls {
		deltas = append(deltas, core.ToolCallDelta{
			Index:     i,
			ID:        tc.ID,
			Type:      string(tc.Type),
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return pipe.Emit(ctx, model.Token{Type: model.TokenToolCall, ToolCalls: deltas})
}

// buildParams assembles the request parameters including tool definitions.
func (b *Backend) buildParams(chat *core.Chat, msgs []core.Message, opts model.SendOptions) openai.ChatCompletionNewParams {
	name := chat.Model
	if name == "" {
		name = b.opts.Model
	}
	params := openai.ChatCompletionNewParams{
		Messages:            buildMessages(msgs),
		Model:               name,
		Temperature:         openai.Float(b.opts.Temperature),
		MaxCompletionTokens: openai.Int(b.opts.MaxCompletionTokens),
	}
	if len(opts.Tools) == 0 {
		return params
	}
	tools := make([]openai.ChatCompletionToolParam, len(opts.Tools))
	for i, def := range opts.Tools {
		tools[i] = openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        def.Function.Name,
				Description: openai.String(def.Function.Description),
				Parameters:  def.Function.Parameters,
			},
		}
	}
	params.Tools = tools
	choice := opts.ToolChoice
	if choice == "" {
		choice = core.ToolChoiceAuto
	}
	params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String(choice)}
	return params
}

// buildMessages converts chat messages into OpenAI chat messages. Tool
// results follow the assistant turn that requested them.
func buildMessages(msgs []core.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case core.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case core.RoleAssistant:
			if len(m.ToolCalls) == 0 {
				out = append(out, openai.AssistantMessage(m.Content))
				continue
			}
			calls := make([]openai.ChatCompletionMessageToolCallParam, 0, len(m.ToolCalls))
			for _, c := range m.ToolCalls {
				calls = append(calls, openai.ChatCompletionMessageToolCallParam{
					ID: c.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      c.Function.Name,
						Arguments: c.Function.Arguments,
					},
				})
			}
			assistant := openai.ChatCompletionAssistantMessageParam{ToolCalls: calls}
			if m.Content != "" {
				assistant.Content.OfString = openai.String(m.Content)
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		case core.RoleTool:
			out = append(out, openai.ToolMessage(m.Content, m.ToolCallID))
		default:
			out = append(out, userMessage(m))
		}
	}
	return out
}

func userMessage(m core.Message) openai.ChatCompletionMessageParamUnion {
	if len(m.Image) == 0 {
		return openai.UserMessage(m.Content)
	}
	url := "data:" + http.DetectContentType(m.Image) + ";base64," + base64.StdEncoding.EncodeToString(m.Image)
	return openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
		openai.TextContentPart(m.Content),
		openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{URL: url}),
	})
}

// mapError converts SDK errors into core.BackendError.
func (b *Backend) mapError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &core.BackendError{
			Backend: string(b.opts.Provider),
			Status:  apiErr.StatusCode,
			Message: providerMessage(apiErr),
			Err:     err,
		}
	}
	return &core.BackendError{Backend: string(b.opts.Provider), Message: err.Error(), Err: err}
}

func providerMessage(apiErr *openai.Error) string {
	if apiErr.Message != "" {
		return apiErr.Message
	}
	if msg := model.ErrorMessage([]byte(apiErr.RawJSON())); msg != "" {
		return msg
	}
	return http.StatusText(apiErr.StatusCode)
}

// AskWithContext implements model.Backend.
func (b *Backend) AskWithContext(ctx context.Context, chat *core.Chat, opts model.ContextOptions) (*model.Result, error) {
	return model.AskWithRetriever(ctx, b.opts.Retriever, b.Send, chat, opts)
}

// ListModels implements model.Backend.
func (b *Backend) ListModels(ctx context.Context) ([]string, error) {
	page, err := b.client.Models.List(ctx)
	if err != nil {
		return nil, b.mapError(err)
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

// GenerateImage answers a visual chat with a generated image. The newest
// message is the prompt.
func (b *Backend) GenerateImage(ctx context.Context, chat *core.Chat) (*model.Result, error) {
	last := chat.LastMessage()
	if last == nil {
		return nil, core.ErrNoMessages
	}
	resp, err := b.client.Images.Generate(ctx, openai.ImageGenerateParams{
		Prompt:         last.Content,
		Model:          openai.ImageModel(b.opts.ImageModel),
		ResponseFormat: openai.ImageGenerateParamsResponseFormatB64JSON,
	})
	if err != nil {
		return nil, b.mapError(err)
	}
	if len(resp.Data) == 0 {
		return nil, &core.BackendError{Backend: string(b.opts.Provider), Message: "no image returned"}
	}
	img, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	chat.MarkProcessed()
	msg := core.NewMessage(core.RoleAssistant, "Generated Image:")
	msg.Image = img
	msg.Processed = true
	return &model.Result{Message: msg, Model: b.opts.ImageModel}, nil
}

// Info returns metadata describing this backend.
func (b *Backend) Info() model.Info {
	return model.Info{Name: b.opts.Model, Provider: b.opts.Provider, SupportsTools: true}
}

var (
	_ model.Backend        = (*Backend)(nil)
	_ model.ImageGenerator = (*Backend)(nil)
)
