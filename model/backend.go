package model

import (
	"context"
	"errors"

	"github.com/hupe1980/agentstep/core"
)

// ErrNoDecodeSlot signals that the local runtime could not find a free
// decode slot. The chat's resumable state is discarded and the call fails;
// the next call starts from a fresh context.
var ErrNoDecodeSlot = errors.New("no decode slot available")

// SendOptions carry per-call generation settings.
type SendOptions struct {
	// Interactive broadcasts every token through the backend's notifier.
	Interactive bool
	// OnToken receives every token in production order.
	OnToken func(Token)
	// CreateSession keeps a separate session history for the chat
	// (remote) or reuses the live decode context (local).
	CreateSession bool
	// Tools are the function definitions offered to the model.
	Tools []core.ToolDefinition
	// ToolChoice is one of core.ToolChoice*; empty means auto.
	ToolChoice string
	// SessionContent, when set, is remembered in the session history in
	// place of the content of the newest sent message.
	SessionContent string
}

// ContextOptions bundle retrieval inputs ingested before the chat is asked.
type ContextOptions struct {
	// TextData maps a name to raw text.
	TextData map[string]string
	// FilePaths maps a name to a file on disk.
	FilePaths map[string]string
	// Files are inline or path file references (e.g. message attachments).
	Files []core.FileRef
	// WebURLs are fetched and converted to readable text.
	WebURLs []string
	// Snippets are prior answers kept as chat memory.
	Snippets []string
	// Send configures the final generation call.
	Send SendOptions
}

// IsEmpty reports whether no retrieval input was supplied.
func (o ContextOptions) IsEmpty() bool {
	return len(o.TextData) == 0 && len(o.FilePaths) == 0 && len(o.Files) == 0 &&
		len(o.WebURLs) == 0 && len(o.Snippets) == 0
}

// Result is the outcome of one generation call.
type Result struct {
	Message    core.Message
	Model      string
	TokenCount int
	// Reasoning holds reasoning-channel text that was kept out of Message.
	Reasoning string
}

// Info contains metadata about a backend implementation.
type Info struct {
	Name          string           `json:"name"`
	Provider      core.BackendType `json:"provider"`
	SupportsTools bool             `json:"supports_tools"`
}

// Backend is the uniform generation contract. Send marks consumed messages
// processed and updates the chat's resumable state; it does not append the
// final message, callers do.
type Backend interface {
	Send(ctx context.Context, chat *core.Chat, opts SendOptions) (*Result, error)
	AskWithContext(ctx context.Context, chat *core.Chat, opts ContextOptions) (*Result, error)
	ListModels(ctx context.Context) ([]string, error)
	InvalidateSession(chatID string)
	Info() Info
}

// ImageGenerator is implemented by backends able to answer visual chats.
type ImageGenerator interface {
	GenerateImage(ctx context.Context, chat *core.Chat) (*Result, error)
}

// Retriever is the memory collaborator used by AskWithContext. It ingests
// the context inputs under namespace and returns the passages relevant to
// query.
type Retriever interface {
	Retrieve(ctx context.Context, namespace, query string, opts ContextOptions) (string, error)
}

// SendFunc matches Backend.Send.
type SendFunc func(ctx context.Context, chat *core.Chat, opts SendOptions) (*Result, error)

// AskWithRetriever implements AskWithContext on top of a send function: the
// retrieved passages are folded into the newest message for the duration of
// the call only, so the persisted history keeps the user's original text.
func AskWithRetriever(ctx context.Context, r Retriever, send SendFunc, chat *core.Chat, opts ContextOptions) (*Result, error) {
	if len(chat.Messages) == 0 {
		return nil, core.ErrNoMessages
	}
	if r == nil || opts.IsEmpty() {
		return send(ctx, chat, opts.Send)
	}

	idx := len(chat.Messages) - 1
	question := chat.Messages[idx].Content

	passages, err := r.Retrieve(ctx, chat.ID, question, opts)
	if err != nil {
		return nil, err
	}
	if passages == "" {
		return send(ctx, chat, opts.Send)
	}

	chat.Messages[idx].Content = ContextPrompt(question, passages)
	defer func() { chat.Messages[idx].Content = question }()

	sendOpts := opts.Send
	sendOpts.SessionContent = question
	return send(ctx, chat, sendOpts)
}

// ContextPrompt frames a question with retrieved passages.
func ContextPrompt(question, passages string) string {
	return "Answer using the following context when it is relevant.\n\n" +
		"<context>\n" + passages + "\n</context>\n\n" + question
}
