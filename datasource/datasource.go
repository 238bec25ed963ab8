// Package datasource reads the external data an agent's FETCH_DATA step
// brings into a conversation.
//
// Supported sources are inline text, local files, web pages, HTTP APIs and
// Postgres queries. The @filter@ placeholder is replaced by the chat's
// data filter before a request is built; SQL sources bind it as a query
// parameter instead of splicing it into the statement.
package datasource

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/hupe1980/agentstep/core"
	"github.com/hupe1980/agentstep/internal/extract"
	"github.com/hupe1980/agentstep/logging"
)

// Data is the outcome of a fetch.
type Data struct {
	Source  core.DataSourceType
	Content string
	// JSON reports that Content is a JSON document eligible for chunking.
	JSON bool
}

// Options configure a Fetcher.
type Options struct {
	HTTPClient *http.Client
	// Connect opens a Postgres connection for SQL sources. Defaults to
	// ConnectPostgres.
	Connect Connector
	Logger  logging.Logger
}

// Fetcher resolves data source descriptors into text.
type Fetcher struct {
	client  *http.Client
	web     *extract.Fetcher
	connect Connector
	logger  logging.Logger
}

// New creates a Fetcher.
func New(optFns ...func(o *Options)) *Fetcher {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if opts.Connect == nil {
		opts.Connect = ConnectPostgres
	}
	return &Fetcher{
		client:  opts.HTTPClient,
		web:     extract.NewFetcher(opts.HTTPClient),
		connect: opts.Connect,
		logger:  logging.OrNoOp(opts.Logger),
	}
}

// Fetch reads src, substituting filter for every @filter@ placeholder.
func (f *Fetcher) Fetch(ctx context.Context, src *core.DataSource, filter string) (*Data, error) {
	if src == nil {
		return nil, core.NewConfigError("fetch data", core.ErrMissingDataSource)
	}

	start := time.Now()
	data, err := f.fetch(ctx, src, filter)
	if err != nil {
		f.logger.Warn("datasource.fetch_failed", "type", src.Type, "error", err)
		return nil, err
	}
	f.logger.Debug("datasource.fetched", "type", src.Type, "bytes", len(data.Content), "duration_ms", time.Since(start).Milliseconds())
	return data, nil
}

func (f *Fetcher) fetch(ctx context.Context, src *core.DataSource, filter string) (*Data, error) {
	switch src.Type {
	case core.SourceText:
		return &Data{Source: src.Type, Content: src.Text}, nil
	case core.SourceFile:
		return &Data{Source: src.Type, Content: Files(src.Files)}, nil
	case core.SourceWeb:
		text, err := f.web.Fetch(ctx, src.URL)
		if err != nil {
			return nil, err
		}
		return &Data{Source: src.Type, Content: text}, nil
	case core.SourceAPI:
		if src.API == nil {
			return nil, core.NewConfigError("fetch data", fmt.Errorf("%w: api details", core.ErrMissingDataSource))
		}
		return f.fetchAPI(ctx, src.API, filter)
	case core.SourceSQL:
		if src.SQL == nil {
			return nil, core.NewConfigError("fetch data", fmt.Errorf("%w: sql details", core.ErrMissingDataSource))
		}
		return f.fetchSQL(ctx, src.SQL, filter)
	default:
		return nil, core.NewConfigError("fetch data", fmt.Errorf("%w: source type %q", core.ErrInvalidArgument, src.Type))
	}
}

// Files concatenates the named files under "=== name ===" headers. A file
// that cannot be read is reported inline and does not fail the others.
func Files(files map[string]string) string {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		text, err := extract.File(files[name])
		if err != nil {
			fmt.Fprintf(&b, "=== Error reading %s ===\n\n", name)
			continue
		}
		fmt.Fprintf(&b, "=== %s ===\n%s\n\n", name, text)
	}
	return b.String()
}
