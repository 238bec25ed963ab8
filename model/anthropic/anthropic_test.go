package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentstep/core"
	"github.com/hupe1980/agentstep/model"
)

const messageStart = `{"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","model":"claude-test","content":[],"stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":1,"output_tokens":1}}}`

func sseServer(t *testing.T, body *map[string]any, events ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, body)
		w.Header().Set("Content-Type", "text/event-stream")
		for _, e := range events {
			var typ struct {
				Type string `json:"type"`
			}
			_ = json.Unmarshal([]byte(e), &typ)
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", typ.Type, e)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestBackend(srv *httptest.Server) *Backend {
	return New(func(o *Options) {
		o.APIKey = "test"
		o.BaseURL = srv.URL + "/"
		o.ClientOptions = []option.RequestOption{option.WithMaxRetries(0)}
	})
}

func TestSend_StreamsTextAndToolUse(t *testing.T) {
	var body map[string]any
	srv := sseServer(t, &body,
		messageStart,
		`{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Let me "}}`,
		`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"check."}}`,
		`{"type":"content_block_stop","index":0}`,
		`{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_1","name":"get_time","input":{}}}`,
		`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"tz\":"}}`,
		`{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"\"UTC\"}"}}`,
		`{"type":"content_block_stop","index":1}`,
		`{"type":"message_delta","delta":{"stop_reason":"tool_use","stop_sequence":null},"usage":{"output_tokens":5}}`,
		`{"type":"message_stop"}`,
	)
	b := newTestBackend(srv)

	chat := core.NewChat("c1", "claude-test")
	chat.Append(core.NewMessage(core.RoleSystem, "be brief"), core.NewMessage(core.RoleUser, "time?"))

	res, err := b.Send(context.Background(), chat, model.SendOptions{
		Tools: []core.ToolDefinition{{Type: "function", Function: core.FunctionDefinition{
			Name:        "get_time",
			Description: "current time",
			Parameters:  map[string]any{"type": "object", "properties": map[string]any{"tz": map[string]any{"type": "string"}}, "required": []any{"tz"}},
		}}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Let me check.", res.Message.Content)
	require.Len(t, res.Message.ToolCalls, 1)
	assert.Equal(t, "toolu_1", res.Message.ToolCalls[0].ID)
	assert.Equal(t, "get_time", res.Message.ToolCalls[0].Function.Name)
	assert.JSONEq(t, `{"tz":"UTC"}`, res.Message.ToolCalls[0].Function.Arguments)

	assert.Equal(t, "claude-test", body["model"])
	assert.Len(t, body["system"], 1)
	assert.Len(t, body["messages"], 1)
	assert.Len(t, body["tools"], 1)
}

func TestSend_BackendError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"type":"error","error":{"type":"invalid_request_error","message":"max_tokens too large"}}`)
	}))
	t.Cleanup(srv.Close)
	b := newTestBackend(srv)

	chat := core.NewChat("c1", "claude-test")
	chat.Append(core.NewMessage(core.RoleUser, "hi"))
	_, err := b.Send(context.Background(), chat, model.SendOptions{})

	var be *core.BackendError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, "anthropic", be.Backend)
	assert.Equal(t, http.StatusBadRequest, be.Status)
}

func TestBuildMessages_GroupsToolResults(t *testing.T) {
	assistant := core.NewMessage(core.RoleAssistant, "")
	assistant.ToolCalls = []core.ToolCall{
		{ID: "a", Function: core.FunctionCall{Name: "x", Arguments: "{}"}},
		{ID: "b", Function: core.FunctionCall{Name: "y", Arguments: `{"k":1}`}},
	}
	r1 := core.NewMessage(core.RoleTool, "1")
	r1.ToolCallID = "a"
	r2 := core.NewMessage(core.RoleTool, "2")
	r2.ToolCallID = "b"

	msgs := buildMessages([]core.Message{
		core.NewMessage(core.RoleSystem, "sys"),
		core.NewMessage(core.RoleUser, "go"),
		assistant, r1, r2,
	})
	require.Len(t, msgs, 3)
	assert.Len(t, msgs[1].Content, 2)
	assert.Len(t, msgs[2].Content, 2)
}

func TestRequiredNames(t *testing.T) {
	assert.Equal(t, []string{"a"}, requiredNames([]string{"a"}))
	assert.Equal(t, []string{"a", "b"}, requiredNames([]any{"a", 1, "b"}))
	assert.Nil(t, requiredNames(nil))
}
