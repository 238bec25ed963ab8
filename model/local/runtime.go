package local

import (
	"context"
)

// Runtime loads model weights from disk. It is the seam to the native
// inference library.
type Runtime interface {
	LoadWeights(ctx context.Context, path string, params WeightParams) (Weights, error)
}

// WeightParams tune how weights are loaded.
type WeightParams struct {
	GPULayers int
}

// ContextParams tune a decode context.
type ContextParams struct {
	ContextSize int
	Seed        uint32
}

// Weights are loaded, shareable model weights.
type Weights interface {
	NewContext(params ContextParams) (DecodeContext, error)
	Tokenize(text string, addSpecial bool) ([]int32, error)
	TokenText(token int32) string
	IsEndOfGeneration(token int32) bool
	Close() error
}

// DecodeContext is a single conversation's native decode state. It is not
// safe for concurrent use.
type DecodeContext interface {
	// Decode feeds tokens into the context. It returns an error wrapping
	// model.ErrNoDecodeSlot when the runtime has no free slot.
	Decode(tokens []int32) error
	// Sample draws the next token from the last decode.
	Sample() (int32, error)
	// SaveState serializes the context for resumption.
	SaveState() ([]byte, error)
	// LoadState restores a serialized context.
	LoadState(state []byte) error
	Close() error
}
