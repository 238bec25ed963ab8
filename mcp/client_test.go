package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentstep/core"
	"github.com/hupe1980/agentstep/tool"
)

// fakeServer answers requests read from in by writing to out.
type fakeServer struct {
	mu      sync.Mutex
	methods []string
	calls   []toolCallParams
}

func (s *fakeServer) serve(t *testing.T, in io.Reader, out io.WriteCloser) {
	defer out.Close()
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		var req struct {
			ID     *int64          `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if !assert.NoError(t, json.Unmarshal(scanner.Bytes(), &req)) {
			return
		}
		s.mu.Lock()
		s.methods = append(s.methods, req.Method)
		s.mu.Unlock()
		if req.ID == nil {
			continue
		}

		var result any
		var rpcErr *RPCError
		switch req.Method {
		case "initialize":
			result = map[string]any{"protocolVersion": protocolVersion, "serverInfo": map[string]any{"name": "fake", "version": "0.1"}}
		case "tools/list":
			var p toolsListParams
			_ = json.Unmarshal(req.Params, &p)
			if p.Cursor == "" {
				result = toolsListResult{Tools: []ToolInfo{{Name: "echo", Description: "Echo text", InputSchema: map[string]any{"type": "object"}}}, NextCursor: "2"}
			} else {
				result = toolsListResult{Tools: []ToolInfo{{Name: "fail", Description: "Always fails"}}}
			}
		case "tools/call":
			var p toolCallParams
			_ = json.Unmarshal(req.Params, &p)
			s.mu.Lock()
			s.calls = append(s.calls, p)
			s.mu.Unlock()
			if p.Name == "fail" {
				result = toolCallResult{Content: []content{{Type: "text", Text: "boom"}}, IsError: true}
			} else {
				result = toolCallResult{Content: []content{{Type: "text", Text: "echo:"}, {Type: "text", Text: string(p.Arguments)}}}
			}
		default:
			rpcErr = &RPCError{Code: -32601, Message: "method not found"}
		}

		// A notification interleaved with responses must be ignored.
		_, _ = out.Write([]byte(`{"jsonrpc":"2.0","method":"notifications/progress"}` + "\n"))

		resp := map[string]any{"jsonrpc": "2.0", "id": *req.ID}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
		b, _ := json.Marshal(resp)
		_, _ = out.Write(append(b, '\n'))
	}
}

func newPair(t *testing.T) (*Client, *fakeServer) {
	t.Helper()
	clientR, serverW := io.Pipe()
	serverR, clientW := io.Pipe()
	srv := &fakeServer{}
	go srv.serve(t, serverR, serverW)

	c := NewClient(clientR, clientW)
	t.Cleanup(func() { _ = c.Close() })
	return c, srv
}

func TestInitializeAndListTools(t *testing.T) {
	c, srv := newPair(t)
	ctx := context.Background()

	require.NoError(t, c.Initialize(ctx))
	assert.Equal(t, "fake", c.Server().Name)

	tools, err := c.ListTools(ctx)
	require.NoError(t, err)
	require.Len(t, tools, 2)
	assert.Equal(t, "echo", tools[0].Name)
	assert.Equal(t, "fail", tools[1].Name)

	srv.mu.Lock()
	defer srv.mu.Unlock()
	assert.Equal(t, []string{"initialize", "notifications/initialized", "tools/list", "tools/list"}, srv.methods)
}

func TestCallTool(t *testing.T) {
	c, srv := newPair(t)
	ctx := context.Background()

	out, err := c.CallTool(ctx, "echo", `{"text":"hi"}`)
	require.NoError(t, err)
	assert.Equal(t, "echo:\n{\"text\":\"hi\"}", out)

	out, err = c.CallTool(ctx, "echo", "")
	require.NoError(t, err)
	assert.Equal(t, "echo:\n{}", out)

	_, err = c.CallTool(ctx, "fail", "{}")
	require.Error(t, err)
	assert.Equal(t, "boom", err.Error())

	srv.mu.Lock()
	defer srv.mu.Unlock()
	assert.Len(t, srv.calls, 3)
}

func TestRPCError(t *testing.T) {
	c, _ := newPair(t)
	err := c.call(context.Background(), "resources/list", nil, nil)
	var rpcErr *RPCError
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, -32601, rpcErr.Code)
}

func TestRegisterTools(t *testing.T) {
	c, _ := newPair(t)
	ctx := context.Background()
	reg := tool.NewRegistry()

	defs, err := c.Register(ctx, reg)
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, "function", defs[0].Type)
	assert.Equal(t, "echo", defs[0].Function.Name)
	assert.Equal(t, map[string]any{"type": "object"}, defs[0].Function.Parameters)
	assert.Equal(t, "object", defs[1].Function.Parameters["type"])

	exec, err := reg.Lookup("fail")
	require.NoError(t, err)
	_, err = exec.Execute(ctx, "{}")
	var te *tool.ToolError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "fail", te.Tool)
	assert.Equal(t, "boom", te.Message)
}

func TestCallAfterServerExit(t *testing.T) {
	clientR, serverW := io.Pipe()
	c := NewClient(clientR, discard{})
	require.NoError(t, serverW.Close())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := c.ListTools(ctx)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestStartRequiresCommand(t *testing.T) {
	_, err := Start(context.Background(), &core.McpConfig{})
	assert.ErrorIs(t, err, core.ErrMissingMcpConfig)
}

// discard swallows writes so a request can be sent without a reader.
type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }
