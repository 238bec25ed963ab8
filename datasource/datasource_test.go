package datasource

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentstep/core"
)

func TestFetchText(t *testing.T) {
	f := New()
	data, err := f.Fetch(context.Background(), &core.DataSource{Type: core.SourceText, Text: "hello"}, "")
	require.NoError(t, err)
	assert.Equal(t, "hello", data.Content)
	assert.False(t, data.JSON)
}

func TestFetchMissingSource(t *testing.T) {
	_, err := New().Fetch(context.Background(), nil, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrMissingDataSource)
	assert.True(t, core.IsConfigError(err))
}

func TestFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("alpha"), 0o600))

	out := Files(map[string]string{"a": path, "b": filepath.Join(dir, "missing.txt")})
	assert.Contains(t, out, "=== a ===\nalpha")
	assert.Contains(t, out, "=== Error reading b ===")
	assert.Less(t, strings.Index(out, "=== a"), strings.Index(out, "=== Error reading b"))
}

func TestFetchAPI(t *testing.T) {
	var (
		gotPath  string
		gotQuery string
		gotAuth  string
		gotBody  string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		gotQuery = r.URL.Query().Get("q")
		gotAuth = r.Header.Get("Authorization")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":1},{"id":2}]`))
	}))
	defer srv.Close()

	src := &core.DataSource{Type: core.SourceAPI, API: &core.APISource{
		URL:     srv.URL + "/items/@filter@",
		Method:  "post",
		Query:   map[string]string{"q": "name:@filter@"},
		Payload: `{"filter":"@filter@"}`,
		Auth:    core.AuthBearer,
		Token:   "secret",
	}}

	data, err := New(func(o *Options) { o.HTTPClient = srv.Client() }).Fetch(context.Background(), src, `a b"c`)
	require.NoError(t, err)

	assert.True(t, data.JSON)
	assert.JSONEq(t, `[{"id":1},{"id":2}]`, data.Content)
	assert.Equal(t, "/items/a%20b%22c", gotPath)
	assert.Equal(t, `name:a b"c`, gotQuery)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.JSONEq(t, `{"filter":"a b\"c"}`, gotBody)
}

func TestFetchAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":{"message":"nope"}}`))
	}))
	defer srv.Close()

	src := &core.DataSource{Type: core.SourceAPI, API: &core.APISource{URL: srv.URL}}
	_, err := New(func(o *Options) { o.HTTPClient = srv.Client() }).Fetch(context.Background(), src, "")
	require.Error(t, err)

	var be *core.BackendError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, http.StatusForbidden, be.Status)
	assert.Equal(t, "nope", be.Message)
}

func TestFetchAPIHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body><script>x()</script><p>Plain words</p></body></html>`))
	}))
	defer srv.Close()

	src := &core.DataSource{Type: core.SourceAPI, API: &core.APISource{URL: srv.URL}}
	data, err := New(func(o *Options) { o.HTTPClient = srv.Client() }).Fetch(context.Background(), src, "")
	require.NoError(t, err)
	assert.Equal(t, "Plain words", data.Content)
	assert.False(t, data.JSON)
}

func TestNewAPIRequestAuth(t *testing.T) {
	ctx := context.Background()

	req, err := NewAPIRequest(ctx, &core.APISource{URL: "http://x", Auth: core.AuthAPIKey, Token: "k"}, "")
	require.NoError(t, err)
	assert.Equal(t, "ApiKey k", req.Header.Get("Authorization"))

	req, err = NewAPIRequest(ctx, &core.APISource{URL: "http://x", Auth: core.AuthBasic, User: "u", Password: "p"}, "")
	require.NoError(t, err)
	user, pass, ok := req.BasicAuth()
	require.True(t, ok)
	assert.Equal(t, "u", user)
	assert.Equal(t, "p", pass)

	_, err = NewAPIRequest(ctx, &core.APISource{URL: "http://x", Auth: core.AuthBasic, User: "u"}, "")
	assert.ErrorIs(t, err, core.ErrMissingArgument)

	_, err = NewAPIRequest(ctx, &core.APISource{URL: "http://x", Auth: core.AuthBearer}, "")
	assert.ErrorIs(t, err, core.ErrMissingArgument)

	_, err = NewAPIRequest(ctx, &core.APISource{URL: "http://x", Auth: "digest", Token: "t"}, "")
	assert.ErrorIs(t, err, core.ErrInvalidArgument)

	_, err = NewAPIRequest(ctx, &core.APISource{URL: "http://x", Payload: "{broken"}, "")
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
}

func TestBindFilter(t *testing.T) {
	q, args := BindFilter("SELECT * FROM t WHERE name = @filter@ OR alias = @filter@", "x'; DROP TABLE t;--")
	assert.Equal(t, "SELECT * FROM t WHERE name = $1 OR alias = $1", q)
	assert.Equal(t, []any{"x'; DROP TABLE t;--"}, args)

	q, args = BindFilter("SELECT 1", "ignored")
	assert.Equal(t, "SELECT 1", q)
	assert.Nil(t, args)
}

type fakeQuerier struct {
	sql  string
	args []any
	rows *fakeRows
}

func (q *fakeQuerier) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	q.sql = sql
	q.args = args
	return q.rows, nil
}

type fakeRows struct {
	fields []string
	data   [][]any
	pos    int
	closed bool
}

func (r *fakeRows) Close() { r.closed = true }
func (r *fakeRows) Err() error { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription {
	out := make([]pgconn.FieldDescription, len(r.fields))
	for i, f := range r.fields {
		out[i] = pgconn.FieldDescription{Name: f}
	}
	return out
}
func (r *fakeRows) Next() bool {
	if r.pos >= len(r.data) {
		return false
	}
	r.pos++
	return true
}
func (r *fakeRows) Scan(...any) error { return nil }
func (r *fakeRows) Values() ([]any, error) { return r.data[r.pos-1], nil }
func (r *fakeRows) RawValues() [][]byte { return nil }
func (r *fakeRows) Conn() *pgx.Conn { return nil }

func TestFetchSQL(t *testing.T) {
	rows := &fakeRows{fields: []string{"id", "name"}, data: [][]any{{int64(1), "ada"}, {int64(2), "bob"}}}
	q := &fakeQuerier{rows: rows}
	released := false

	f := New(func(o *Options) {
		o.Connect = func(_ context.Context, conn string) (Querier, func(), error) {
			assert.Equal(t, "postgres://db", conn)
			return q, func() { released = true }, nil
		}
	})

	src := &core.DataSource{Type: core.SourceSQL, SQL: &core.SQLSource{
		ConnectionString: "postgres://db",
		Query:            "SELECT id, name FROM users WHERE team = @filter@",
	}}
	data, err := f.Fetch(context.Background(), src, "core")
	require.NoError(t, err)

	assert.Equal(t, "SELECT id, name FROM users WHERE team = $1", q.sql)
	assert.Equal(t, []any{"core"}, q.args)
	assert.True(t, rows.closed)
	assert.True(t, released)
	assert.True(t, data.JSON)

	var records []map[string]any
	require.NoError(t, json.Unmarshal([]byte(data.Content), &records))
	require.Len(t, records, 2)
	assert.Equal(t, "ada", records[0]["name"])
	assert.Equal(t, float64(2), records[1]["id"])
}

func TestChunkJSONArray(t *testing.T) {
	chunks, err := ChunkJSON(`[{"a":1},{"a":2},{"a":3}]`, 16)
	require.NoError(t, err)
	assert.Equal(t, []string{`[{"a":1},{"a":2}]`, `[{"a":3}]`}, chunks)
}

func TestChunkJSONObject(t *testing.T) {
	chunks, err := ChunkJSON(`{"first": 1, "second": 2, "third": 3}`, 20)
	require.NoError(t, err)
	assert.Equal(t, []string{`{"first":1,"second":2}`, `{"third":3}`}, chunks)
}

func TestChunkJSONNestedOversized(t *testing.T) {
	chunks, err := ChunkJSON(`{"items":[1,2,3,4,5,6]}`, 8)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.True(t, strings.HasPrefix(c, `{"items":[`), c)
		assert.True(t, json.Valid([]byte(c)), c)
	}
}

func TestChunkJSONRejectsScalars(t *testing.T) {
	_, err := ChunkJSON(`"text"`, 10)
	assert.Error(t, err)
	_, err = ChunkJSON(``, 10)
	assert.Error(t, err)
}

func TestChunkKey(t *testing.T) {
	assert.Equal(t, "CHUNK_1-3", ChunkKey(0, 3))
}
