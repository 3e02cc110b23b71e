package handler

import (
	"context"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"

	"github.com/deepnoodle-ai/indubitably/mcppool"
	"github.com/deepnoodle-ai/indubitably/tool"
)

type fakeMCPClient struct {
	healthy bool
	result  *mcp.CallToolResult
	err     error
}

func (c *fakeMCPClient) ListTools(ctx context.Context) ([]mcp.Tool, error) { return nil, nil }
func (c *fakeMCPClient) CallTool(ctx context.Context, name string, arguments map[string]any) (*mcp.CallToolResult, error) {
	return c.result, c.err
}
func (c *fakeMCPClient) IsHealthy(ctx context.Context) bool { return c.healthy }
func (c *fakeMCPClient) Close() error                       { return nil }

func TestMCPHandlerJoinsTextContent(t *testing.T) {
	client := &fakeMCPClient{
		healthy: true,
		result: &mcp.CallToolResult{
			Content: []mcp.Content{
				mcp.TextContent{Text: "hello"},
				mcp.TextContent{Text: "world"},
			},
		},
	}
	pool := mcppool.NewWithFactory(func(ctx context.Context, cfg mcppool.ServerConfig) (mcppool.Client, error) {
		return client, nil
	}, time.Hour)
	pool.Register(mcppool.ServerConfig{Name: "github", Type: "stdio"})

	h := NewMCPHandler(pool)
	out, err := h.Handle(tool.Invocation{
		Context: context.Background(),
		Payload:  tool.Payload{Kind: tool.PayloadMCP, Server: "github", Tool: "search_issues"},
	})
	require.NoError(t, err)
	require.True(t, out.Success)
	require.Equal(t, "hello\nworld", out.Content)
}

func TestMCPHandlerPropagatesIsError(t *testing.T) {
	client := &fakeMCPClient{
		healthy: true,
		result:  &mcp.CallToolResult{IsError: true, Content: []mcp.Content{mcp.TextContent{Text: "failed"}}},
	}
	pool := mcppool.NewWithFactory(func(ctx context.Context, cfg mcppool.ServerConfig) (mcppool.Client, error) {
		return client, nil
	}, time.Hour)
	pool.Register(mcppool.ServerConfig{Name: "github", Type: "stdio"})

	h := NewMCPHandler(pool)
	out, err := h.Handle(tool.Invocation{
		Context: context.Background(),
		Payload:  tool.Payload{Kind: tool.PayloadMCP, Server: "github", Tool: "search_issues"},
	})
	require.NoError(t, err)
	require.False(t, out.Success)
}
