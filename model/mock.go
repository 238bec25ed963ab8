package model

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/hupe1980/agentstep/core"
)

// MockReply is one scripted response of a MockBackend.
type MockReply struct {
	// Chunks are streamed as message tokens; their concatenation is the
	// answer unless Text is set.
	Chunks []string
	Text   string
	// ToolCalls are returned as native tool calls.
	ToolCalls []core.ToolCall
	Err       error
}

// MockBackend is a lightweight in-memory Backend useful for tests and
// examples. Replies are consumed in order; once exhausted it echoes the
// last message.
type MockBackend struct {
	mu          sync.Mutex
	info        Info
	replies     []MockReply
	calls       []*core.Chat
	sendOpts    []SendOptions
	invalidated []string
	notifier    core.Notifier
	retriever   Retriever
}

// NewMockBackend constructs a MockBackend with tool support enabled.
func NewMockBackend(name string, replies ...MockReply) *MockBackend {
	return &MockBackend{
		info:     Info{Name: name, Provider: "mock", SupportsTools: true},
		replies:  replies,
		notifier: core.NoOpNotifier{},
	}
}

// WithNotifier sets the sink used for interactive calls.
func (m *MockBackend) WithNotifier(n core.Notifier) *MockBackend {
	m.notifier = n
	return m
}

// WithRetriever sets the memory collaborator used by AskWithContext.
func (m *MockBackend) WithRetriever(r Retriever) *MockBackend {
	m.retriever = r
	return m
}

// AddReply appends a scripted reply.
func (m *MockBackend) AddReply(r MockReply) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = append(m.replies, r)
}

// Calls returns snapshots of every chat passed to Send.
func (m *MockBackend) Calls() []*core.Chat {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*core.Chat(nil), m.calls...)
}

// SendOptions returns the options of every Send call.
func (m *MockBackend) SendOptions() []SendOptions {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SendOptions(nil), m.sendOpts...)
}

// Invalidated returns the chat ids passed to InvalidateSession.
func (m *MockBackend) Invalidated() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.invalidated...)
}

func (m *MockBackend) next(chat *core.Chat) (MockReply, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, chat.Clone())
	if len(m.replies) == 0 {
		return MockReply{}, false
	}
	r := m.replies[0]
	m.replies = m.replies[1:]
	return r, true
}

// Send implements Backend.
func (m *MockBackend) Send(ctx context.Context, chat *core.Chat, opts SendOptions) (*Result, error) {
	m.mu.Lock()
	m.sendOpts = append(m.sendOpts, opts)
	m.mu.Unlock()

	reply, ok := m.next(chat)
	if !ok {
		last := chat.LastMessage()
		if last == nil {
			return nil, core.ErrNoMessages
		}
		reply = MockReply{Text: fmt.Sprintf("Mock response to: %s", last.Content)}
	}
	if reply.Err != nil {
		return nil, reply.Err
	}

	chunks := reply.Chunks
	if len(chunks) == 0 && reply.Text != "" {
		chunks = []string{reply.Text}
	}

	p := NewPipeline(chat.ID, opts, m.notifier)
	for _, c := range chunks {
		if err := p.Emit(ctx, Token{Type: TokenMessage, Text: c}); err != nil {
			p.Abort()
			return nil, err
		}
	}
	acc := p.Finish()

	text := reply.Text
	if text == "" {
		text = strings.Join(chunks, "")
	}

	chat.MarkProcessed()

	msg := core.NewMessage(core.RoleAssistant, text)
	msg.ToolCalls = append([]core.ToolCall(nil), reply.ToolCalls...)
	msg.Processed = true
	return &Result{Message: msg, Model: m.info.Name, TokenCount: acc.Count()}, nil
}

// AskWithContext implements Backend.
func (m *MockBackend) AskWithContext(ctx context.Context, chat *core.Chat, opts ContextOptions) (*Result, error) {
	return AskWithRetriever(ctx, m.retriever, m.Send, chat, opts)
}

// ListModels implements Backend.
func (m *MockBackend) ListModels(context.Context) ([]string, error) {
	return []string{m.info.Name}, nil
}

// InvalidateSession implements Backend.
func (m *MockBackend) InvalidateSession(chatID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidated = append(m.invalidated, chatID)
}

// Info implements Backend.
func (m *MockBackend) Info() Info { return m.info }

var _ Backend = (*MockBackend)(nil)
