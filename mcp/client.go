package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/agentstep/core"
	"github.com/hupe1980/agentstep/logging"
)

// ErrClosed is returned for calls on a closed client.
var ErrClosed = errors.New("mcp: client closed")

const maxMessage = 10 << 20

// Options configure a Client.
type Options struct {
	ClientName    string
	ClientVersion string
	Logger        logging.Logger
}

// Client is a JSON-RPC connection to one MCP server. Calls are safe for
// concurrent use; responses are matched to requests by id.
type Client struct {
	w      io.Writer
	wmu    sync.Mutex
	closer func() error

	nextID  atomic.Int64
	mu      sync.Mutex
	pending map[int64]chan response
	done    chan struct{}
	readErr error

	server ServerInfo
	opts   Options
	logger logging.Logger
}

// NewClient wires a client to an established transport. The read loop runs
// until r reaches EOF or Close is called.
func NewClient(r io.Reader, w io.Writer, optFns ...func(o *Options)) *Client {
	opts := Options{ClientName: "agentstep", ClientVersion: "1.0.0"}
	for _, fn := range optFns {
		fn(&opts)
	}
	c := &Client{
		w:       w,
		pending: make(map[int64]chan response),
		done:    make(chan struct{}),
		opts:    opts,
		logger:  logging.OrNoOp(opts.Logger),
	}
	go c.readLoop(r)
	return c
}

// Start launches the server described by cfg, connects over its stdio and
// performs the initialize handshake.
func Start(ctx context.Context, cfg *core.McpConfig, optFns ...func(o *Options)) (*Client, error) {
	if cfg == nil || cfg.Command == "" {
		return nil, core.NewConfigError("mcp start", core.ErrMissingMcpConfig)
	}

	cmd := exec.Command(cfg.Command, cfg.Arguments...)
	cmd.Env = os.Environ()
	for k, v := range cfg.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("mcp: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("mcp: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("mcp: start %s: %w", cfg.Command, err)
	}

	c := NewClient(stdout, stdin, optFns...)
	c.closer = func() error {
		_ = stdin.Close()
		err := cmd.Wait()
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// Servers commonly exit non-zero once stdin closes.
			return nil
		}
		return err
	}

	if err := c.Initialize(ctx); err != nil {
		_ = cmd.Process.Kill()
		_ = c.Close()
		return nil, err
	}
	c.logger.Info("mcp.connected", "server", c.server.Name, "version", c.server.Version, "command", cfg.Command)
	return c, nil
}

// Initialize performs the protocol handshake.
func (c *Client) Initialize(ctx context.Context) error {
	params := initializeParams{
		ProtocolVersion: protocolVersion,
		ClientInfo:      clientInfo{Name: c.opts.ClientName, Version: c.opts.ClientVersion},
	}
	var res initializeResult
	if err := c.call(ctx, "initialize", params, &res); err != nil {
		return fmt.Errorf("mcp: initialize: %w", err)
	}
	c.server = res.ServerInfo
	return c.notify("notifications/initialized", nil)
}

// Server returns the server identity reported during initialize.
func (c *Client) Server() ServerInfo { return c.server }

// ListTools returns every tool the server exposes, following pagination.
func (c *Client) ListTools(ctx context.Context) ([]ToolInfo, error) {
	var (
		tools  []ToolInfo
		cursor string
	)
	for {
		var res toolsListResult
		if err := c.call(ctx, "tools/list", toolsListParams{Cursor: cursor}, &res); err != nil {
			return nil, fmt.Errorf("mcp: tools/list: %w", err)
		}
		tools = append(tools, res.Tools...)
		if res.NextCursor == "" {
			return tools, nil
		}
		cursor = res.NextCursor
	}
}

// CallTool invokes name with raw JSON arguments and returns the joined text
// content. A result flagged isError is returned as an error carrying that
// text.
func (c *Client) CallTool(ctx context.Context, name string, arguments string) (string, error) {
	args := json.RawMessage(arguments)
	if strings.TrimSpace(arguments) == "" {
		args = json.RawMessage("{}")
	}

	var res toolCallResult
	if err := c.call(ctx, "tools/call", toolCallParams{Name: name, Arguments: args}, &res); err != nil {
		return "", err
	}

	var parts []string
	for _, ct := range res.Content {
		if ct.Type == "text" {
			parts = append(parts, ct.Text)
		}
	}
	text := strings.Join(parts, "\n")
	if res.IsError {
		return "", errors.New(text)
	}
	return text, nil
}

// Close shuts down the transport and, for launched servers, waits for the
// process to exit.
func (c *Client) Close() error {
	if c.closer == nil {
		if wc, ok := c.w.(io.Closer); ok {
			return wc.Close()
		}
		return nil
	}
	return c.closer()
}

func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	id := c.nextID.Add(1)
	ch := make(chan response, 1)

	c.mu.Lock()
	if c.pending == nil {
		c.mu.Unlock()
		return ErrClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		if c.pending != nil {
			delete(c.pending, id)
		}
		c.mu.Unlock()
	}()

	if err := c.write(request{JSONRPC: "2.0", ID: &id, Method: method, Params: params}); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		if c.readErr != nil {
			return fmt.Errorf("%w: %v", ErrClosed, c.readErr)
		}
		return ErrClosed
	case resp := <-ch:
		if resp.Error != nil {
			return resp.Error
		}
		if out == nil || len(resp.Result) == 0 {
			return nil
		}
		return json.Unmarshal(resp.Result, out)
	}
}

func (c *Client) notify(method string, params any) error {
	return c.write(request{JSONRPC: "2.0", Method: method, Params: params})
}

func (c *Client) write(req request) error {
	b, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("mcp: encode %s: %w", req.Method, err)
	}
	b = append(b, '\n')

	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := c.w.Write(b); err != nil {
		return fmt.Errorf("mcp: write %s: %w", req.Method, err)
	}
	return nil
}

func (c *Client) readLoop(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), maxMessage)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var resp response
		if err := json.Unmarshal(line, &resp); err != nil {
			c.logger.Warn("mcp.decode_failed", "error", err)
			continue
		}
		if resp.Method != "" {
			// Server-initiated requests and notifications are not supported.
			c.logger.Debug("mcp.server_message", "method", resp.Method)
			continue
		}
		id, err := strconv.ParseInt(string(resp.ID), 10, 64)
		if err != nil {
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[id]
		c.mu.Unlock()
		if ok {
			ch <- resp
		}
	}

	c.mu.Lock()
	c.readErr = scanner.Err()
	c.pending = nil
	c.mu.Unlock()
	close(c.done)
}
