package local

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/hupe1980/agentstep/cache"
	"github.com/hupe1980/agentstep/core"
	"github.com/hupe1980/agentstep/logging"
	"github.com/hupe1980/agentstep/model"
)

// Options configure the local backend.
type Options struct {
	// ModelsPath is the directory holding model files.
	ModelsPath string
	// MaxTokens caps generated tokens per call unless the chat sets
	// NoTokenLimit.
	MaxTokens   int
	ContextSize int
	GPULayers   int
	Catalog     *Catalog
	// Weights and Sessions may be shared between backends. When nil the
	// backend creates and owns them.
	Weights   *cache.Cache[Weights]
	Sessions  *cache.Cache[DecodeContext]
	Notifier  core.Notifier
	Retriever model.Retriever
	Logger    logging.Logger
}

// Backend generates in-process through a native Runtime.
type Backend struct {
	runtime   Runtime
	opts      Options
	ownCaches bool
}

// New creates a local backend over rt.
func New(rt Runtime, optFns ...func(o *Options)) *Backend {
	opts := Options{
		ModelsPath:  "models",
		MaxTokens:   4096,
		ContextSize: 8192,
		Notifier:    core.NoOpNotifier{},
		Logger:      logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Catalog == nil {
		opts.Catalog = DefaultCatalog()
	}
	own := false
	if opts.Weights == nil {
		opts.Weights = NewWeightCache()
		own = true
	}
	if opts.Sessions == nil {
		opts.Sessions = NewSessionCache()
		own = true
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	if opts.Notifier == nil {
		opts.Notifier = core.NoOpNotifier{}
	}
	return &Backend{runtime: rt, opts: opts, ownCaches: own}
}

// NewWeightCache returns a weight cache that closes evicted weights.
func NewWeightCache() *cache.Cache[Weights] {
	return cache.New(func(o *cache.Options[Weights]) {
		o.Dispose = func(w Weights) { _ = w.Close() }
	})
}

// NewSessionCache returns a conversation cache that closes evicted decode
// contexts.
func NewSessionCache() *cache.Cache[DecodeContext] {
	return cache.New(func(o *cache.Options[DecodeContext]) {
		o.Dispose = func(dc DecodeContext) { _ = dc.Close() }
	})
}

// Send implements model.Backend.
//
// The decode context of a chat is resumed when the chat carries resumable
// state: the live context is reused when still cached, otherwise a fresh one
// is restored from the blob. Only unprocessed turns are then fed. On success
// the blob is replaced and the context kept for the next turn. On any
// failure, including cancellation, the blob is discarded and the context
// closed so the next call starts fresh.
func (b *Backend) Send(ctx context.Context, chat *core.Chat, opts model.SendOptions) (*model.Result, error) {
	start := time.Now()
	entry, err := b.opts.Catalog.Lookup(chat.Model)
	if err != nil {
		return nil, err
	}

	path := filepath.Join(b.opts.ModelsPath, entry.FileName)
	weights, release, err := cache.Acquire(ctx, b.opts.Weights, path, chat.BypassCache, func(ctx context.Context) (Weights, error) {
		b.opts.Logger.Info("generation.load_weights", "model", entry.Name, "path", path)
		return b.runtime.LoadWeights(ctx, path, WeightParams{GPULayers: b.opts.GPULayers})
	})
	if err != nil {
		if ctx.Err() != nil {
			b.discard(chat, nil)
		}
		return nil, fmt.Errorf("load weights %s: %w", entry.Name, err)
	}
	defer release()

	dc, resumed, err := b.decodeContext(chat, weights)
	if err != nil {
		return nil, err
	}

	prompt, err := buildPrompt(chat, promptInput{
		template:         entry.Template,
		resumed:          resumed,
		additionalPrompt: entry.AdditionalPrompt,
		tools:            opts.Tools,
	})
	if err != nil {
		b.discard(chat, dc)
		return nil, err
	}

	maxTokens := b.opts.MaxTokens
	if chat.NoTokenLimit {
		maxTokens = 0
	}

	pipe := model.NewPipeline(chat.ID, opts, b.opts.Notifier)
	run := &decodeRun{
		weights:   weights,
		dc:        dc,
		prompt:    prompt,
		resumed:   resumed,
		maxTokens: maxTokens,
		reason:    entry.Reasoner(),
		thinking:  model.NewThinkingState(),
		emit:      pipe.Emit,
	}
	if err := run.execute(ctx); err != nil {
		pipe.Abort()
		b.discard(chat, dc)
		if errors.Is(err, model.ErrNoDecodeSlot) {
			b.opts.Logger.Warn("generation.no_slot", "chat_id", chat.ID, "model", entry.Name)
		}
		b.logCall(entry.Name, run.produced, start, err)
		return nil, fmt.Errorf("local generation (%s): %w", entry.Name, err)
	}
	acc := pipe.Finish()

	state, err := dc.SaveState()
	if err != nil {
		b.discard(chat, dc)
		return nil, fmt.Errorf("save decode state: %w", err)
	}
	chat.ResumableState = state
	chat.MarkProcessed()
	if chat.BypassCache {
		_ = dc.Close()
	} else {
		b.opts.Sessions.Put(chat.ID, dc)
	}
	b.logCall(entry.Name, run.produced, start, nil)

	msg := core.NewMessage(core.RoleAssistant, acc.Text())
	msg.Processed = true
	return &model.Result{Message: msg, Model: entry.Name, TokenCount: run.produced, Reasoning: acc.Reasoning()}, nil
}

// decodeContext returns the context to generate with and whether it
// already holds the earlier turns.
func (b *Backend) decodeContext(chat *core.Chat, w Weights) (DecodeContext, bool, error) {
	if !chat.BypassCache {
		if chat.ResumableState == nil {
			// A live context must not outlive the blob it belongs to.
			b.opts.Sessions.Invalidate(chat.ID)
		} else if dc, ok := b.opts.Sessions.Take(chat.ID); ok {
			return dc, true, nil
		}
	}

	dc, err := w.NewContext(ContextParams{ContextSize: b.opts.ContextSize})
	if err != nil {
		return nil, false, fmt.Errorf("create decode context: %w", err)
	}
	if chat.ResumableState == nil {
		return dc, false, nil
	}
	if err := dc.LoadState(chat.ResumableState); err != nil {
		b.opts.Logger.Warn("generation.resume_failed", "chat_id", chat.ID, "error", err)
		_ = dc.Close()
		chat.ResumableState = nil
		dc, err = w.NewContext(ContextParams{ContextSize: b.opts.ContextSize})
		if err != nil {
			return nil, false, fmt.Errorf("create decode context: %w", err)
		}
		return dc, false, nil
	}
	return dc, true, nil
}

// discard drops every trace of the chat's decode state.
func (b *Backend) discard(chat *core.Chat, dc DecodeContext) {
	chat.ResumableState = nil
	if dc != nil {
		_ = dc.Close()
	}
	b.opts.Sessions.Invalidate(chat.ID)
}

func (b *Backend) logCall(name string, tokens int, start time.Time, err error) {
	if sl, ok := b.opts.Logger.(*logging.StepLogger); ok {
		sl.LogLLMCall(name, tokens, time.Since(start), err == nil, err)
		return
	}
	if err != nil {
		b.opts.Logger.Error("generation.failed", "model", name, "error", err)
		return
	}
	b.opts.Logger.Debug("generation.complete", "model", name, "token_count", tokens)
}

// AskWithContext implements model.Backend.
func (b *Backend) AskWithContext(ctx context.Context, chat *core.Chat, opts model.ContextOptions) (*model.Result, error) {
	return model.AskWithRetriever(ctx, b.opts.Retriever, b.Send, chat, opts)
}

// ListModels returns the catalog models present under ModelsPath.
func (b *Backend) ListModels(context.Context) ([]string, error) {
	return b.opts.Catalog.Installed(b.opts.ModelsPath)
}

// InvalidateSession closes the live decode context of chatID.
func (b *Backend) InvalidateSession(chatID string) {
	b.opts.Sessions.Invalidate(chatID)
}

// Info implements model.Backend.
func (b *Backend) Info() model.Info {
	return model.Info{Name: "local", Provider: core.BackendLocal}
}

// Close releases the caches the backend created itself.
func (b *Backend) Close() error {
	if b.ownCaches {
		b.opts.Sessions.Close()
		b.opts.Weights.Close()
	}
	return nil
}

var _ model.Backend = (*Backend)(nil)
