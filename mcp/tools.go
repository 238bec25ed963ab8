package mcp

import (
	"context"

	"github.com/hupe1980/agentstep/core"
	"github.com/hupe1980/agentstep/tool"
)

// Tool adapts a server tool to tool.Tool.
type Tool struct {
	client *Client
	info   ToolInfo
}

// Name implements tool.Tool.
func (t *Tool) Name() string { return t.info.Name }

// Description implements tool.Tool.
func (t *Tool) Description() string { return t.info.Description }

// Parameters implements tool.Tool.
func (t *Tool) Parameters() map[string]any {
	if t.info.InputSchema == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return t.info.InputSchema
}

// Execute implements tool.Executor via tools/call.
func (t *Tool) Execute(ctx context.Context, arguments string) (string, error) {
	out, err := t.client.CallTool(ctx, t.info.Name, arguments)
	if err != nil {
		return "", tool.NewToolError(t.info.Name, err.Error(), "mcp_call_failed")
	}
	return out, nil
}

// Tools lists the server's tools as tool.Tool values.
func (c *Client) Tools(ctx context.Context) ([]tool.Tool, error) {
	infos, err := c.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	tools := make([]tool.Tool, 0, len(infos))
	for _, info := range infos {
		tools = append(tools, &Tool{client: c, info: info})
	}
	return tools, nil
}

// Register adds every server tool to reg and returns their definitions.
func (c *Client) Register(ctx context.Context, reg *tool.Registry) ([]core.ToolDefinition, error) {
	tools, err := c.Tools(ctx)
	if err != nil {
		return nil, err
	}
	reg.RegisterTool(tools...)

	defs := make([]core.ToolDefinition, 0, len(tools))
	for _, t := range tools {
		defs = append(defs, tool.Definition(t))
	}
	return defs, nil
}

var _ tool.Tool = (*Tool)(nil)
