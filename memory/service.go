package memory

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/hupe1980/agentstep/core"
	"github.com/hupe1980/agentstep/internal/extract"
	"github.com/hupe1980/agentstep/logging"
	"github.com/hupe1980/agentstep/model"
)

// Options configure a Service.
type Options struct {
	Store core.MemoryStore
	// ChunkSize and Overlap are in characters.
	ChunkSize  int
	Overlap    int
	TopK       int
	HTTPClient *http.Client
	Logger     logging.Logger
	// Keep retains ingested documents across calls; by default a
	// namespace is cleared before every ingestion.
	Keep bool
}

// Service ingests context inputs and retrieves relevant passages.
type Service struct {
	store   core.MemoryStore
	fetcher *extract.Fetcher
	opts    Options
}

// NewService creates a retrieval service.
func NewService(optFns ...func(o *Options)) *Service {
	opts := Options{ChunkSize: 1200, Overlap: 200, TopK: 5}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Store == nil {
		opts.Store = NewInMemoryStore()
	}
	opts.Logger = logging.OrNoOp(opts.Logger)
	return &Service{store: opts.Store, fetcher: extract.NewFetcher(opts.HTTPClient), opts: opts}
}

// Store returns the backing store.
func (s *Service) Store() core.MemoryStore { return s.store }

// Retrieve implements model.Retriever. Inputs that fail to load are logged
// and skipped; retrieval fails only when nothing could be ingested.
func (s *Service) Retrieve(ctx context.Context, namespace, query string, opts model.ContextOptions) (string, error) {
	if !s.opts.Keep {
		if err := s.store.Clear(ctx, namespace); err != nil {
			return "", err
		}
	}
	docs, failures := s.load(ctx, opts)
	if len(docs) == 0 && failures > 0 {
		return "", fmt.Errorf("memory: none of %d context inputs could be loaded", failures)
	}
	if err := s.store.Store(ctx, namespace, docs...); err != nil {
		return "", err
	}

	results, err := s.store.Search(ctx, namespace, query, s.opts.TopK)
	if err != nil {
		return "", err
	}
	if len(results) == 0 && len(docs) > 0 {
		// No keyword overlap: fall back to the leading chunks.
		results, err = s.store.Search(ctx, namespace, "", s.opts.TopK)
		if err != nil {
			return "", err
		}
	}

	passages := make([]string, 0, len(results))
	for _, r := range results {
		passages = append(passages, r.Content)
	}
	s.opts.Logger.Debug("memory.retrieve", "namespace", namespace, "documents", len(docs), "passages", len(passages))
	return strings.Join(passages, "\n---\n"), nil
}

// Ingest stores text under namespace as chunks attributed to source.
func (s *Service) Ingest(ctx context.Context, namespace, source, text string) error {
	return s.store.Store(ctx, namespace, s.chunk(source, text)...)
}

func (s *Service) load(ctx context.Context, opts model.ContextOptions) ([]core.Document, int) {
	var (
		docs     []core.Document
		failures int
	)
	add := func(source, text string, err error) {
		if err != nil {
			failures++
			s.opts.Logger.Warn("memory.ingest_failed", "source", source, "error", err)
			return
		}
		docs = append(docs, s.chunk(source, text)...)
	}

	for name, text := range opts.TextData {
		add(name, text, nil)
	}
	for name, path := range opts.FilePaths {
		text, err := extract.File(path)
		add(name, text, err)
	}
	for _, f := range opts.Files {
		var (
			text string
			err  error
		)
		if len(f.Data) > 0 {
			text, err = extract.Bytes(f.Name, f.Data)
		} else {
			text, err = extract.File(f.Path)
		}
		add(f.Name, text, err)
	}
	for _, u := range opts.WebURLs {
		text, err := s.fetcher.Fetch(ctx, u)
		add(u, text, err)
	}
	for i, snippet := range opts.Snippets {
		add(fmt.Sprintf("memory_%d", i), snippet, nil)
	}
	return docs, failures
}

func (s *Service) chunk(source, text string) []core.Document {
	pieces := extract.Chunk(text, s.opts.ChunkSize, s.opts.Overlap)
	docs := make([]core.Document, 0, len(pieces))
	for i, p := range pieces {
		docs = append(docs, core.Document{
			ID:       fmt.Sprintf("%s#%d", source, i),
			Source:   source,
			Content:  p,
			Metadata: map[string]any{"chunk": i},
		})
	}
	return docs
}

var _ model.Retriever = (*Service)(nil)
