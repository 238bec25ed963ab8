package tool

import (
	"sort"
	"strings"

	"github.com/hupe1980/agentstep/core"
)

// aggCall aggregates partial tool call deltas (id, type, name, arguments)
// for one stream index.
type aggCall struct {
	id, typ, name string
	args          strings.Builder
}

// CallBuilder accumulates streamed tool call fragments keyed by index. It is
// private to one generation call and not safe for concurrent use.
type CallBuilder struct {
	calls map[int]*aggCall
}

// NewCallBuilder creates an empty builder.
func NewCallBuilder() *CallBuilder {
	return &CallBuilder{calls: make(map[int]*aggCall)}
}

// Add merges a fragment. Identity fields keep their first non-empty value;
// argument fragments concatenate in arrival order.
func (b *CallBuilder) Add(d core.ToolCallDelta) {
	ac, ok := b.calls[d.Index]
	if !ok {
		ac = &aggCall{}
		b.calls[d.Index] = ac
	}
	if d.ID != "" && ac.id == "" {
		ac.id = d.ID
	}
	if d.Type != "" && ac.typ == "" {
		ac.typ = d.Type
	}
	if d.Name != "" && ac.name == "" {
		ac.name = d.Name
	}
	ac.args.WriteString(d.Arguments)
}

// Len reports how many distinct calls have been seen.
func (b *CallBuilder) Len() int { return len(b.calls) }

// Build finalizes the accumulated calls ordered by index and normalized.
func (b *CallBuilder) Build() []core.ToolCall {
	if len(b.calls) == 0 {
		return nil
	}
	idx := make([]int, 0, len(b.calls))
	for i := range b.calls {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	calls := make([]core.ToolCall, 0, len(idx))
	for _, i := range idx {
		ac := b.calls[i]
		calls = append(calls, core.ToolCall{
			ID:       ac.id,
			Type:     ac.typ,
			Function: core.FunctionCall{Name: ac.name, Arguments: ac.args.String()},
		})
	}
	return Normalize(calls)
}
