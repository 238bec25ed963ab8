package memory

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentstep/core"
	"github.com/hupe1980/agentstep/model"
)

func TestInMemoryStore_SearchRanksByOverlap(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	require.NoError(t, s.Store(ctx, "ns",
		core.Document{Content: "cats sleep a lot"},
		core.Document{Content: "dogs and cats play"},
		core.Document{Content: "birds sing"},
	))

	res, err := s.Search(ctx, "ns", "Do dogs play with cats?", 10)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "dogs and cats play", res[0].Content)
	assert.Greater(t, res[0].Score, res[1].Score)

	res, err = s.Search(ctx, "ns", "", 2)
	require.NoError(t, err)
	assert.Len(t, res, 2)

	require.NoError(t, s.Clear(ctx, "ns"))
	assert.Equal(t, 0, s.Len("ns"))
}

func TestInMemoryStore_Concurrent(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = s.Store(ctx, "ns", core.Document{ID: fmt.Sprintf("d%d", i), Content: "shared term"})
			_, _ = s.Search(ctx, "ns", "term", 5)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 20, s.Len("ns"))
}

func TestService_RetrieveAllInputs(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, "The web page says rockets are loud.")
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "doc.txt")
	require.NoError(t, os.WriteFile(path, []byte("The file says rivers are long."), 0o600))

	svc := NewService(func(o *Options) { o.HTTPClient = srv.Client() })
	got, err := svc.Retrieve(context.Background(), "chat-1", "are rockets loud?", model.ContextOptions{
		TextData:  map[string]string{"blob": "Blob text about gardens."},
		FilePaths: map[string]string{"doc": path},
		Files:     []core.FileRef{{Name: "inline.txt", Data: []byte("Inline rockets data.")}},
		WebURLs:   []string{srv.URL},
		Snippets:  []string{"Earlier we discussed loud rockets."},
	})
	require.NoError(t, err)
	assert.Contains(t, got, "rockets are loud")
	assert.NotContains(t, got, "gardens")
}

func TestService_FailsWhenNothingLoads(t *testing.T) {
	svc := NewService()
	_, err := svc.Retrieve(context.Background(), "chat-1", "q", model.ContextOptions{
		FilePaths: map[string]string{"x": filepath.Join(t.TempDir(), "missing.txt")},
	})
	require.Error(t, err)
}

func TestService_FallsBackToLeadingChunks(t *testing.T) {
	svc := NewService()
	got, err := svc.Retrieve(context.Background(), "chat-1", "zzz", model.ContextOptions{
		TextData: map[string]string{"blob": "Nothing in common."},
	})
	require.NoError(t, err)
	assert.Equal(t, "Nothing in common.", got)
}
