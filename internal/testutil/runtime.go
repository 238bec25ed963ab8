package testutil

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/hupe1980/agentstep/model/local"
)

const eog int32 = 0

// FakeRuntime is a scripted local.Runtime. Queued token scripts are sampled
// in order across calls; an exhausted queue yields end-of-generation.
// Decode errors can be injected by call number.
type FakeRuntime struct {
	mu        sync.Mutex
	vocab     map[string]int32
	texts     []string
	queue     []int32
	prompts   []string
	decodes   int
	loads     int
	open      int
	closed    int
	loadDelay time.Duration

	// DecodeErr, when set, is consulted before every Decode with the
	// 1-based call number.
	DecodeErr func(call int) error
}

// NewFakeRuntime creates an empty runtime.
func NewFakeRuntime() *FakeRuntime {
	return &FakeRuntime{vocab: map[string]int32{}, texts: []string{"<eog>"}}
}

// Script queues tokens followed by end-of-generation.
func (r *FakeRuntime) Script(tokens ...string) *FakeRuntime {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range tokens {
		r.queue = append(r.queue, r.id(t))
	}
	r.queue = append(r.queue, eog)
	return r
}

// LoadDelay slows every LoadWeights call.
func (r *FakeRuntime) LoadDelay(d time.Duration) *FakeRuntime {
	r.loadDelay = d
	return r
}

func (r *FakeRuntime) id(text string) int32 {
	if id, ok := r.vocab[text]; ok {
		return id
	}
	id := int32(len(r.texts))
	r.vocab[text] = id
	r.texts = append(r.texts, text)
	return id
}

// Prompts returns every tokenized prompt in order.
func (r *FakeRuntime) Prompts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.prompts...)
}

// Loads returns the number of LoadWeights calls.
func (r *FakeRuntime) Loads() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loads
}

// OpenContexts returns the number of decode contexts not yet closed.
func (r *FakeRuntime) OpenContexts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.open
}

// Remaining returns the number of queued, unsampled tokens.
func (r *FakeRuntime) Remaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

// LoadWeights implements local.Runtime.
func (r *FakeRuntime) LoadWeights(ctx context.Context, path string, _ local.WeightParams) (local.Weights, error) {
	if r.loadDelay > 0 {
		select {
		case <-time.After(r.loadDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	r.mu.Lock()
	r.loads++
	r.mu.Unlock()
	return &FakeWeights{rt: r, Path: path}, nil
}

// FakeWeights are returned by FakeRuntime.
type FakeWeights struct {
	rt     *FakeRuntime
	Path   string
	mu     sync.Mutex
	closed bool
}

// Closed reports whether Close was called.
func (w *FakeWeights) Closed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

// NewContext implements local.Weights.
func (w *FakeWeights) NewContext(local.ContextParams) (local.DecodeContext, error) {
	w.rt.mu.Lock()
	w.rt.open++
	w.rt.mu.Unlock()
	return &fakeContext{rt: w.rt}, nil
}

// Tokenize implements local.Weights. The prompt is recorded and encoded as
// a single token.
func (w *FakeWeights) Tokenize(text string, _ bool) ([]int32, error) {
	w.rt.mu.Lock()
	defer w.rt.mu.Unlock()
	w.rt.prompts = append(w.rt.prompts, text)
	return []int32{w.rt.id(text)}, nil
}

// TokenText implements local.Weights.
func (w *FakeWeights) TokenText(token int32) string {
	w.rt.mu.Lock()
	defer w.rt.mu.Unlock()
	if int(token) >= len(w.rt.texts) {
		return ""
	}
	return w.rt.texts[token]
}

// IsEndOfGeneration implements local.Weights.
func (w *FakeWeights) IsEndOfGeneration(token int32) bool { return token == eog }

// Close implements local.Weights.
func (w *FakeWeights) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

type fakeContext struct {
	rt      *FakeRuntime
	history []int32
	closed  bool
}

func (c *fakeContext) Decode(tokens []int32) error {
	c.rt.mu.Lock()
	c.rt.decodes++
	n := c.rt.decodes
	hook := c.rt.DecodeErr
	c.rt.mu.Unlock()
	if hook != nil {
		if err := hook(n); err != nil {
			return err
		}
	}
	c.history = append(c.history, tokens...)
	return nil
}

func (c *fakeContext) Sample() (int32, error) {
	c.rt.mu.Lock()
	defer c.rt.mu.Unlock()
	if len(c.rt.queue) == 0 {
		return eog, nil
	}
	tok := c.rt.queue[0]
	c.rt.queue = c.rt.queue[1:]
	return tok, nil
}

func (c *fakeContext) SaveState() ([]byte, error) {
	return json.Marshal(c.history)
}

func (c *fakeContext) LoadState(state []byte) error {
	return json.Unmarshal(state, &c.history)
}

func (c *fakeContext) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.rt.mu.Lock()
	c.rt.open--
	c.rt.closed++
	c.rt.mu.Unlock()
	return nil
}

var _ local.Runtime = (*FakeRuntime)(nil)
