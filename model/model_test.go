package model

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hupe1980/agentstep/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestThinkTags(t *testing.T) {
	st := NewThinkingState()
	var types []TokenType
	for _, tok := range []string{"<think>", "hmm", "</think>", "Hello"} {
		types = append(types, ThinkTags(tok, st).Type)
	}
	assert.Equal(t, []TokenType{TokenSpecial, TokenReason, TokenSpecial, TokenMessage}, types)
	assert.False(t, st.InThinking)
}

func TestImplicitThinking(t *testing.T) {
	st := NewThinkingState()
	assert.Equal(t, TokenReason, ImplicitThinking("plan", st).Type)
	assert.Equal(t, TokenSpecial, ImplicitThinking("</think>", st).Type)
	assert.Equal(t, TokenMessage, ImplicitThinking("answer", st).Type)
}

func TestClassify_NilFunc(t *testing.T) {
	tok := Classify(nil, "x", &ThinkingState{})
	assert.Equal(t, Token{Type: TokenMessage, Text: "x"}, tok)
}

func TestMergeHistory(t *testing.T) {
	cached := []core.Message{
		{Role: core.RoleSystem, Content: "sys"},
		{Role: core.RoleUser, Content: "hi"},
		{Role: core.RoleAssistant, Content: "hello"},
	}
	current := []core.Message{
		{Role: core.RoleSystem, Content: "sys"},
		{Role: core.RoleUser, Content: "hi"},
		{Role: core.RoleAssistant, Content: "hi"},
		{Role: core.RoleUser, Content: "hi", Image: []byte{1}},
		{Role: core.RoleUser, Content: "next"},
	}

	merged := MergeHistory(cached, current)

	var got []string
	for _, m := range merged {
		got = append(got, m.Role+":"+m.Content)
	}
	assert.Equal(t, []string{"system:sys", "user:hi", "assistant:hello", "assistant:hi", "user:hi", "user:next"}, got)
	assert.Len(t, cached, 3)
}

func TestStream_ConsumersSeeProductionOrder(t *testing.T) {
	var (
		mu   sync.Mutex
		fast []string
		slow []string
	)
	s := NewStream(2,
		func(tok Token) { mu.Lock(); fast = append(fast, tok.Text); mu.Unlock() },
		func(tok Token) { time.Sleep(time.Millisecond); mu.Lock(); slow = append(slow, tok.Text); mu.Unlock() },
	)
	want := []string{"a", "b", "c", "d", "e"}
	for _, w := range want {
		require.NoError(t, s.Emit(context.Background(), Token{Type: TokenMessage, Text: w}))
	}
	s.Close()
	s.Close()

	assert.Equal(t, want, fast)
	assert.Equal(t, want, slow)
}

func TestStream_EmitHonorsCancellation(t *testing.T) {
	block := make(chan struct{})
	s := NewStream(0, func(Token) { <-block })
	defer func() { close(block); s.Close() }()

	require.NoError(t, s.Emit(context.Background(), Token{Text: "first"}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Emit(ctx, Token{Text: "second"}), context.Canceled)
}

func TestPipeline_FullAnswerIsLastNotification(t *testing.T) {
	var (
		mu     sync.Mutex
		events []core.Notification
		tokens []string
	)
	n := core.NotifierFunc(func(ev core.Notification) { mu.Lock(); events = append(events, ev); mu.Unlock() })

	p := NewPipeline("chat-1", SendOptions{Interactive: true, OnToken: func(tok Token) { tokens = append(tokens, tok.Text) }}, n)
	ctx := context.Background()
	require.NoError(t, p.Emit(ctx, Token{Type: TokenReason, Text: "r"}))
	require.NoError(t, p.Emit(ctx, Token{Type: TokenMessage, Text: "Hel"}))
	require.NoError(t, p.Emit(ctx, Token{Type: TokenMessage, Text: "lo"}))
	acc := p.Finish()

	assert.Equal(t, "Hello", acc.Text())
	assert.Equal(t, "r", acc.Reasoning())
	assert.Equal(t, 3, acc.Count())
	assert.Equal(t, []string{"r", "Hel", "lo"}, tokens)

	require.Len(t, events, 4)
	last := events[len(events)-1]
	assert.True(t, last.Done)
	assert.Equal(t, "full_answer", last.TokenType)
	assert.Equal(t, "Hello", last.Text)
}

func TestAccumulator_ToolCallFragments(t *testing.T) {
	acc := NewAccumulator()
	acc.Add(Token{Type: TokenToolCall, ToolCalls: []core.ToolCallDelta{{Index: 0, ID: "c1", Name: "get_time", Arguments: `{"tz":`}}})
	acc.Add(Token{Type: TokenToolCall, ToolCalls: []core.ToolCallDelta{{Index: 0, Arguments: `"UTC"}`}}})

	calls := acc.ToolCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, `{"tz":"UTC"}`, calls[0].Function.Arguments)
}

type mockRetriever struct{ mock.Mock }

func (m *mockRetriever) Retrieve(ctx context.Context, namespace, query string, opts ContextOptions) (string, error) {
	args := m.Called(ctx, namespace, query, opts)
	return args.String(0), args.Error(1)
}

func TestAskWithRetriever_FoldsContextTemporarily(t *testing.T) {
	chat := core.NewChat("c1", "m")
	chat.Append(core.NewMessage(core.RoleUser, "What is the capital?"))

	opts := ContextOptions{TextData: map[string]string{"doc": "The capital is Paris."}}
	r := &mockRetriever{}
	r.On("Retrieve", mock.Anything, "c1", "What is the capital?", opts).Return("The capital is Paris.", nil)

	var seen string
	send := func(_ context.Context, c *core.Chat, _ SendOptions) (*Result, error) {
		seen = c.LastMessage().Content
		return &Result{Message: core.NewMessage(core.RoleAssistant, "Paris")}, nil
	}

	res, err := AskWithRetriever(context.Background(), r, send, chat, opts)
	require.NoError(t, err)
	assert.Equal(t, "Paris", res.Message.Content)
	assert.True(t, strings.Contains(seen, "The capital is Paris."))
	assert.Equal(t, "What is the capital?", chat.LastMessage().Content)
	r.AssertExpectations(t)
}

func TestAskWithRetriever_SessionKeepsOriginalQuestion(t *testing.T) {
	sessions := NewSessionCache()
	chat := core.NewChat("c1", "m")
	chat.Append(core.NewMessage(core.RoleUser, "What is the capital?"))

	var sent [][]core.Message
	send := func(_ context.Context, c *core.Chat, o SendOptions) (*Result, error) {
		msgs := SessionMessages(sessions, c, o)
		sent = append(sent, append([]core.Message(nil), msgs...))
		reply := core.NewMessage(core.RoleAssistant, "Paris")
		RememberSession(sessions, c, o, msgs, reply)
		return &Result{Message: reply}, nil
	}

	opts := ContextOptions{Snippets: []string{"The capital is Paris."}, Send: SendOptions{CreateSession: true}}
	r := &mockRetriever{}
	r.On("Retrieve", mock.Anything, "c1", "What is the capital?", opts).Return("The capital is Paris.", nil)

	res, err := AskWithRetriever(context.Background(), r, send, chat, opts)
	require.NoError(t, err)
	chat.Append(res.Message)
	chat.Append(core.NewMessage(core.RoleUser, "And its population?"))

	_, err = send(context.Background(), chat, SendOptions{CreateSession: true})
	require.NoError(t, err)

	require.Len(t, sent, 2)
	var questions int
	for _, m := range sent[1] {
		if m.Role == core.RoleUser && strings.Contains(m.Content, "What is the capital?") {
			questions++
			assert.Equal(t, "What is the capital?", m.Content)
		}
	}
	assert.Equal(t, 1, questions)
	assert.Len(t, sent[1], 3)
}

func TestAskWithRetriever_Errors(t *testing.T) {
	send := func(context.Context, *core.Chat, SendOptions) (*Result, error) { return &Result{}, nil }

	_, err := AskWithRetriever(context.Background(), nil, send, core.NewChat("c", "m"), ContextOptions{})
	assert.ErrorIs(t, err, core.ErrNoMessages)

	chat := core.NewChat("c", "m")
	chat.Append(core.NewMessage(core.RoleUser, "q"))
	opts := ContextOptions{Snippets: []string{"s"}}
	r := &mockRetriever{}
	r.On("Retrieve", mock.Anything, "c", "q", opts).Return("", errors.New("index down"))

	_, err = AskWithRetriever(context.Background(), r, send, chat, opts)
	assert.EqualError(t, err, "index down")
}

func TestMockBackend_ScriptedAndEcho(t *testing.T) {
	b := NewMockBackend("mock", MockReply{Chunks: []string{"a", "b"}})
	chat := core.NewChat("c", "m")
	chat.Append(core.NewMessage(core.RoleUser, "ping"))

	res, err := b.Send(context.Background(), chat, SendOptions{})
	require.NoError(t, err)
	assert.Equal(t, "ab", res.Message.Content)
	assert.Empty(t, chat.Unprocessed())

	res, err = b.Send(context.Background(), chat, SendOptions{})
	require.NoError(t, err)
	assert.Equal(t, "Mock response to: ping", res.Message.Content)
	assert.Len(t, b.Calls(), 2)
}
