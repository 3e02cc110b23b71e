package handler

import (
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/deepnoodle-ai/indubitably/mcppool"
	"github.com/deepnoodle-ai/indubitably/tool"
)

// MCPHandler obtains a pooled client per call and forwards (tool,
// arguments) to the named server, joining any text content items in the
// result and propagating isError.
type MCPHandler struct {
	Pool *mcppool.Pool
}

// NewMCPHandler returns a handler backed by pool.
func NewMCPHandler(pool *mcppool.Pool) *MCPHandler {
	return &MCPHandler{Pool: pool}
}

func (h *MCPHandler) Kind() tool.PayloadKind { return tool.PayloadMCP }

func (h *MCPHandler) MatchesKind(p tool.Payload) bool { return p.Kind == tool.PayloadMCP }

// Capabilities conservatively treats every MCP tool as a non-parallel,
// network-capable call: the pool has no visibility into what the remote
// tool actually does, so it cannot be classified read-only.
func (h *MCPHandler) Capabilities() []tool.Capability {
	return []tool.Capability{tool.CapNetwork}
}

func (h *MCPHandler) Handle(inv tool.Invocation) (tool.Output, error) {
	client, err := h.Pool.GetClient(inv.Context, inv.Payload.Server)
	if err != nil {
		return tool.Output{
			Success: false,
			Content: err.Error(),
			Metadata: map[string]any{"error_type": "recoverable"},
		}, nil
	}

	result, err := client.CallTool(inv.Context, inv.Payload.Tool, inv.Payload.Arguments)
	if err != nil {
		h.Pool.MarkUnhealthy(inv.Payload.Server)
		return tool.Output{
			Success: false,
			Content: err.Error(),
			Metadata: map[string]any{"error_type": "recoverable"},
		}, nil
	}

	text := joinContent(result)
	return tool.Output{
		Success: !result.IsError,
		Content: text,
	}, nil
}

// joinContent concatenates every text-bearing content item in an MCP
// call result, describing non-text items (image/audio/embedded
// resource) inline rather than dropping them.
func joinContent(result *mcp.CallToolResult) string {
	var parts []string
	for _, item := range result.Content {
		switch c := item.(type) {
		case mcp.TextContent:
			parts = append(parts, c.Text)
		case mcp.ImageContent:
			parts = append(parts, "[image content, mime="+c.MIMEType+"]")
		case mcp.AudioContent:
			parts = append(parts, "[audio content, mime="+c.MIMEType+"]")
		case mcp.EmbeddedResource:
			parts = append(parts, embeddedResourceText(c))
		}
	}
	return strings.Join(parts, "\n")
}

func embeddedResourceText(c mcp.EmbeddedResource) string {
	switch r := c.Resource.(type) {
	case mcp.TextResourceContents:
		return r.Text
	case mcp.BlobResourceContents:
		return "[binary resource: " + r.URI + " (" + r.MIMEType + ")]"
	default:
		return "[embedded resource]"
	}
}
