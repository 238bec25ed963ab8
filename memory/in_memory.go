package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/hupe1980/agentstep/core"
)

// InMemoryStore is a process-local core.MemoryStore.
//
// Concurrency: protected by RWMutex.
// Search: linear scan scoring each document by the share of query terms it
// contains. Documents without any query term are not returned.
type InMemoryStore struct {
	mu      sync.RWMutex
	storage map[string][]core.Document // namespace -> documents in insertion order
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{storage: make(map[string][]core.Document)}
}

// Store appends docs to namespace, generating ids where missing.
func (m *InMemoryStore) Store(_ context.Context, namespace string, docs ...core.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range docs {
		if d.ID == "" {
			d.ID = fmt.Sprintf("mem_%d", len(m.storage[namespace]))
		}
		m.storage[namespace] = append(m.storage[namespace], d)
	}
	return nil
}

// Search returns up to limit documents ordered by descending score; ties
// keep insertion order. An empty query matches everything with score 1.
func (m *InMemoryStore) Search(_ context.Context, namespace, query string, limit int) ([]core.SearchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	terms := Terms(query)
	results := make([]core.SearchResult, 0)
	for _, d := range m.storage[namespace] {
		score := 1.0
		if len(terms) > 0 {
			score = Score(terms, d.Content)
		}
		if score == 0 {
			continue
		}
		md := make(map[string]any, len(d.Metadata)+1)
		for k, v := range d.Metadata {
			md[k] = v
		}
		md["source"] = d.Source
		results = append(results, core.SearchResult{ID: d.ID, Content: d.Content, Score: score, Metadata: md})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Clear removes every document of namespace.
func (m *InMemoryStore) Clear(_ context.Context, namespace string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.storage, namespace)
	return nil
}

// Len returns the number of documents in namespace.
func (m *InMemoryStore) Len(namespace string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.storage[namespace])
}

// Terms lowercases text and returns its distinct words of two or more
// letters or digits.
func Terms(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 2 || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}

// Score returns the share of terms present in content.
func Score(terms []string, content string) float64 {
	if len(terms) == 0 {
		return 0
	}
	have := make(map[string]bool)
	for _, t := range Terms(content) {
		have[t] = true
	}
	hits := 0
	for _, t := range terms {
		if have[t] {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}

var _ core.MemoryStore = (*InMemoryStore)(nil)
