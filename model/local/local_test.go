package local_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentstep/core"
	"github.com/hupe1980/agentstep/internal/testutil"
	"github.com/hupe1980/agentstep/model"
	"github.com/hupe1980/agentstep/model/local"
)

func newBackend(t *testing.T, rt *testutil.FakeRuntime, optFns ...func(o *local.Options)) *local.Backend {
	t.Helper()
	fns := append([]func(o *local.Options){func(o *local.Options) { o.ModelsPath = t.TempDir() }}, optFns...)
	b := local.New(rt, fns...)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestSend_FreshThenResumed(t *testing.T) {
	rt := testutil.NewFakeRuntime().Script("Hello", " world").Script("Again")
	b := newBackend(t, rt)

	chat := testutil.NewChatBuilder("c1").Model("llama3.2:3b").System("Be helpful").User("hi").Build()

	res, err := b.Send(context.Background(), chat, model.SendOptions{})
	require.NoError(t, err)
	assert.Equal(t, "Hello world", res.Message.Content)
	assert.Equal(t, core.RoleAssistant, res.Message.Role)
	assert.Equal(t, 2, res.TokenCount)
	assert.NotNil(t, chat.ResumableState)
	assert.Empty(t, chat.Unprocessed())

	chat.Append(res.Message)
	chat.Append(core.NewMessage(core.RoleUser, "and now?"))

	res, err = b.Send(context.Background(), chat, model.SendOptions{})
	require.NoError(t, err)
	assert.Equal(t, "Again", res.Message.Content)

	prompts := rt.Prompts()
	require.Len(t, prompts, 2)
	assert.Contains(t, prompts[0], "<|im_start|>system\nBe helpful<|im_end|>")
	assert.Contains(t, prompts[0], "<|im_start|>user\nhi<|im_end|>")
	assert.NotContains(t, prompts[1], "Be helpful")
	assert.NotContains(t, prompts[1], "hi<|im_end|>")
	assert.Contains(t, prompts[1], "and now?")
	assert.Equal(t, 1, rt.Loads())
	assert.Equal(t, 1, rt.OpenContexts())
}

func TestSend_NoDecodeSlotDiscardsState(t *testing.T) {
	rt := testutil.NewFakeRuntime().Script("a", "b", "c")
	rt.DecodeErr = func(call int) error {
		if call == 2 {
			return fmt.Errorf("slot: %w", model.ErrNoDecodeSlot)
		}
		return nil
	}
	b := newBackend(t, rt)

	chat := testutil.NewChatBuilder("c1").Model("llama3.2:3b").User("hi").Build()
	chat.ResumableState = []byte("[1,2,3]")

	res, err := b.Send(context.Background(), chat, model.SendOptions{})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, errors.Is(err, model.ErrNoDecodeSlot))
	assert.Nil(t, chat.ResumableState)
	assert.Len(t, chat.Unprocessed(), 1)
	assert.Equal(t, 0, rt.OpenContexts())
}

func TestSend_CancelledDoesNotPersistState(t *testing.T) {
	rt := testutil.NewFakeRuntime().Script("a", "b")
	b := newBackend(t, rt)

	chat := testutil.NewChatBuilder("c1").Model("llama3.2:3b").User("hi").Build()
	chat.ResumableState = []byte("[]")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.Send(ctx, chat, model.SendOptions{})
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, chat.ResumableState)
	assert.Equal(t, 0, rt.OpenContexts())
}

func TestSend_BypassCacheDisposesWeights(t *testing.T) {
	rt := testutil.NewFakeRuntime().Script("x").Script("y")
	b := newBackend(t, rt)

	for i := 0; i < 2; i++ {
		chat := testutil.NewChatBuilder("c1").Model("llama3.2:3b").User("hi").BypassCache().Build()
		_, err := b.Send(context.Background(), chat, model.SendOptions{})
		require.NoError(t, err)
		assert.NotNil(t, chat.ResumableState)
	}
	assert.Equal(t, 2, rt.Loads())
	assert.Equal(t, 0, rt.OpenContexts())
}

func TestSend_ReasoningChannel(t *testing.T) {
	rt := testutil.NewFakeRuntime().Script("<think>", "pondering", "</think>", "Answer")
	b := newBackend(t, rt)

	var (
		mu    sync.Mutex
		types []model.TokenType
	)
	chat := testutil.NewChatBuilder("c1").Model("qwen3:8b").User("why?").Build()
	res, err := b.Send(context.Background(), chat, model.SendOptions{OnToken: func(tok model.Token) {
		mu.Lock()
		defer mu.Unlock()
		types = append(types, tok.Type)
	}})
	require.NoError(t, err)
	assert.Equal(t, "Answer", res.Message.Content)
	assert.Equal(t, "pondering", res.Reasoning)
	assert.Equal(t, []model.TokenType{model.TokenSpecial, model.TokenReason, model.TokenSpecial, model.TokenMessage}, types)
}

func TestSend_AdditionalPromptOnFirstTurn(t *testing.T) {
	rt := testutil.NewFakeRuntime().Script("ok")
	b := newBackend(t, rt)

	chat := testutil.NewChatBuilder("c1").Model("qwq:7b").User("solve").Build()
	_, err := b.Send(context.Background(), chat, model.SendOptions{})
	require.NoError(t, err)
	assert.Contains(t, rt.Prompts()[0], "solve\n- Output nothing before <think>")
}

func TestSend_MaxTokens(t *testing.T) {
	rt := testutil.NewFakeRuntime().Script("1", "2", "3")
	b := newBackend(t, rt, func(o *local.Options) { o.MaxTokens = 2 })

	chat := testutil.NewChatBuilder("c1").Model("llama3.2:3b").User("count").Build()
	res, err := b.Send(context.Background(), chat, model.SendOptions{})
	require.NoError(t, err)
	assert.Equal(t, "12", res.Message.Content)
}

func TestSend_ToolInstructions(t *testing.T) {
	rt := testutil.NewFakeRuntime().Script(`<tool_call>{"name":"get_time","arguments":{}}</tool_call>`)
	b := newBackend(t, rt)

	chat := testutil.NewChatBuilder("c1").Model("llama3.2:3b").System("sys").User("time?").Build()
	res, err := b.Send(context.Background(), chat, model.SendOptions{Tools: []core.ToolDefinition{testutil.FunctionDef("get_time")}})
	require.NoError(t, err)
	assert.Contains(t, rt.Prompts()[0], "<tools>")
	assert.Contains(t, rt.Prompts()[0], `"name":"get_time"`)
	assert.Contains(t, res.Message.Content, "get_time")
}

func TestSend_InteractiveNotifications(t *testing.T) {
	rt := testutil.NewFakeRuntime().Script("a", "b")
	var (
		mu     sync.Mutex
		events []core.Notification
	)
	b := newBackend(t, rt, func(o *local.Options) {
		o.Notifier = core.NotifierFunc(func(n core.Notification) {
			mu.Lock()
			defer mu.Unlock()
			events = append(events, n)
		})
	})

	chat := testutil.NewChatBuilder("c1").Model("llama3.2:3b").User("hi").Interactive().Build()
	_, err := b.Send(context.Background(), chat, model.SendOptions{Interactive: true})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 3)
	last := events[len(events)-1]
	assert.True(t, last.Done)
	assert.Equal(t, "ab", last.Text)
	assert.Equal(t, "full_answer", last.TokenType)
}

func TestSend_UnknownModel(t *testing.T) {
	b := newBackend(t, testutil.NewFakeRuntime())
	chat := testutil.NewChatBuilder("c1").Model("nope:1b").User("hi").Build()

	_, err := b.Send(context.Background(), chat, model.SendOptions{})
	require.ErrorIs(t, err, core.ErrModelNotSupported)
	assert.True(t, core.IsConfigError(err))
}

func TestSend_ConcurrentChatsShareWeights(t *testing.T) {
	rt := testutil.NewFakeRuntime().Script("a").Script("b").LoadDelay(20 * time.Millisecond)
	b := newBackend(t, rt)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			chat := testutil.NewChatBuilder(fmt.Sprintf("c%d", i)).Model("llama3.2:3b").User("hi").Build()
			_, errs[i] = b.Send(context.Background(), chat, model.SendOptions{})
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, 1, rt.Loads())
}

func TestInvalidateSessionClosesContext(t *testing.T) {
	rt := testutil.NewFakeRuntime().Script("a")
	b := newBackend(t, rt)

	chat := testutil.NewChatBuilder("c1").Model("llama3.2:3b").User("hi").Build()
	_, err := b.Send(context.Background(), chat, model.SendOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, rt.OpenContexts())

	b.InvalidateSession("c1")
	assert.Equal(t, 0, rt.OpenContexts())
}

func TestCatalog(t *testing.T) {
	c := local.DefaultCatalog()

	e, err := c.Lookup("QWEN3-8B")
	require.NoError(t, err)
	assert.Equal(t, "Qwen3-8b.gguf", e.FileName)
	assert.NotNil(t, e.Reasoner())

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Qwen3-8b.gguf"), nil, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Llama3.2-3b.gguf"), nil, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "unknown.gguf"), nil, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), nil, 0o600))

	names, err := c.Installed(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"llama3.2:3b", "qwen3:8b"}, names)
}
