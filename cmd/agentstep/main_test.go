package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentstep"
	"github.com/hupe1980/agentstep/config"
	"github.com/hupe1980/agentstep/core"
	"github.com/hupe1980/agentstep/logging"
	"github.com/hupe1980/agentstep/model"
	"github.com/hupe1980/agentstep/model/registry"
)

func TestModelsListsConfiguredBackends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agentstep.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[log]
level = "error"

[backend.compatible]
base_url = "http://localhost:9999/v1/"
`), 0o644))

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"models", "--config", path})
	require.NoError(t, cmd.Execute())

	lines := strings.Fields(out.String())
	assert.Contains(t, lines, "openai")
	assert.Contains(t, lines, "anthropic")
	assert.Contains(t, lines, "compatible")
}

func TestRunRequiresAgentFlag(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"run", "hello"})
	assert.Error(t, cmd.Execute())
}

func TestProcessHandler(t *testing.T) {
	reg := registry.New()
	reg.RegisterBackend(core.BackendLocal, model.NewMockBackend("mock", model.MockReply{Text: "pong"}))

	cfg := config.Default()
	cfg.Agents = []config.AgentConfig{{ID: "echo", Model: "mock", Instruction: "Reply.", Steps: []string{"ANSWER"}}}

	app, err := agentstep.New(context.Background(), func(o *agentstep.Options) {
		o.Config = cfg
		o.Backends = reg
		o.Logger = logging.NoOpLogger{}
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = app.Close() })

	mux := http.NewServeMux()
	mux.HandleFunc("POST /agents/{id}/messages", processHandler(app))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/agents/echo/messages", strings.NewReader(`{"message":"ping"}`)))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var chat core.Chat
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &chat))
	assert.Equal(t, "pong", chat.LastMessage().Content)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/agents/missing/messages", strings.NewReader(`{"message":"ping"}`)))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/agents/echo/messages", strings.NewReader(`not json`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
