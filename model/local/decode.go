package local

import (
	"context"
	"fmt"

	"github.com/hupe1980/agentstep/model"
)

type phase int

const (
	phaseNew phase = iota
	phasePrompting
	phaseDecoding
	phaseSampling
	phaseComplete
	phaseFailed
)

func (p phase) String() string {
	switch p {
	case phaseNew:
		return "new"
	case phasePrompting:
		return "prompting"
	case phaseDecoding:
		return "decoding"
	case phaseSampling:
		return "sampling"
	case phaseComplete:
		return "complete"
	default:
		return "failed"
	}
}

// decodeRun is the state of one generation call. It is private to the call.
type decodeRun struct {
	weights   Weights
	dc        DecodeContext
	prompt    string
	resumed   bool
	maxTokens int
	reason    model.ReasonFunc
	thinking  *model.ThinkingState
	emit      func(context.Context, model.Token) error

	phase    phase
	batch    []int32
	produced int
	err      error
}

// execute drives the state machine until it completes or fails. The context
// is checked before every transition.
func (r *decodeRun) execute(ctx context.Context) error {
	r.phase = phaseNew
	for {
		if r.phase == phaseComplete {
			return nil
		}
		if r.phase == phaseFailed {
			return r.err
		}
		if err := ctx.Err(); err != nil {
			r.fail(err)
			continue
		}
		switch r.phase {
		case phaseNew:
			r.phase = phasePrompting
		case phasePrompting:
			r.tokenize()
		case phaseDecoding:
			r.decode()
		case phaseSampling:
			r.sample(ctx)
		}
	}
}

func (r *decodeRun) fail(err error) {
	r.err = err
	r.phase = phaseFailed
}

func (r *decodeRun) tokenize() {
	// A fresh context needs the BOS token; a resumed one continues the
	// sequence.
	tokens, err := r.weights.Tokenize(r.prompt, !r.resumed)
	if err != nil {
		r.fail(fmt.Errorf("tokenize prompt: %w", err))
		return
	}
	r.batch = tokens
	r.phase = phaseDecoding
}

func (r *decodeRun) decode() {
	if err := r.dc.Decode(r.batch); err != nil {
		r.fail(err)
		return
	}
	r.phase = phaseSampling
}

func (r *decodeRun) sample(ctx context.Context) {
	tok, err := r.dc.Sample()
	if err != nil {
		r.fail(fmt.Errorf("sample: %w", err))
		return
	}
	if r.weights.IsEndOfGeneration(tok) {
		r.phase = phaseComplete
		return
	}
	r.produced++
	if err := r.emit(ctx, model.Classify(r.reason, r.weights.TokenText(tok), r.thinking)); err != nil {
		r.fail(err)
		return
	}
	if r.maxTokens > 0 && r.produced >= r.maxTokens {
		r.phase = phaseComplete
		return
	}
	r.batch = []int32{tok}
	r.phase = phaseDecoding
}
