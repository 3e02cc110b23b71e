// Package toolrouter parses assistant tool_use blocks into dispatchable
// calls and arbitrates their execution under a read/write lock so
// parallel-safe tools can overlap while writes and shell commands
// serialize.
package toolrouter

import (
	"context"
	"encoding/json"
	"strings"

	indubitably "github.com/deepnoodle-ai/indubitably"
	"github.com/deepnoodle-ai/indubitably/tool"
)

// Call is a parsed tool_use block ready for dispatch.
type Call struct {
	ToolName string
	CallID   string
	Payload  tool.Payload
}

// Router parses tool_use blocks and shapes tool_result blocks.
type Router struct {
	Registry *tool.Registry
}

// New returns a Router backed by registry.
func New(registry *tool.Registry) *Router {
	return &Router{Registry: registry}
}

// BuildToolCall parses an assistant tool_use block. A tool name
// containing "/" is routed to MCP with the server/tool split; otherwise
// it is a Function call with the raw input as arguments.
func (rt *Router) BuildToolCall(block indubitably.Block) Call {
	call := Call{ToolName: block.Name, CallID: block.ID}
	if idx := strings.Index(block.Name, "/"); idx >= 0 {
		call.Payload = tool.Payload{
			Kind:   tool.PayloadMCP,
			Server: block.Name[:idx],
			Tool:   block.Name[idx+1:],
		}
		var args map[string]any
		if len(block.Input) > 0 {
			_ = json.Unmarshal(block.Input, &args)
		}
		call.Payload.Arguments = args
		return call
	}
	var args map[string]any
	if len(block.Input) > 0 {
		_ = json.Unmarshal(block.Input, &args)
	}
	call.Payload = tool.Payload{Kind: tool.PayloadFunction, Arguments: args}
	return call
}

// DispatchToolCall invokes the registry for call and shapes a
// tool_result block, never returning a Go error for tool-level failures
// (those are carried in IsError/Content so the scheduler can always feed
// a tool_result back to the oracle).
func (rt *Router) DispatchToolCall(ctx context.Context, call Call, turnID int) indubitably.Block {
	out, err := rt.Registry.Dispatch(tool.Invocation{
		Context:  ctx,
		ToolName: call.ToolName,
		CallID:   call.CallID,
		Payload:  call.Payload,
		TurnID:   turnID,
	})
	if err != nil {
		return indubitably.Block{
			Type:      indubitably.BlockToolResult,
			ToolUseID: call.CallID,
			IsError:   true,
			Content:   err.Error(),
		}
	}
	return indubitably.Block{
		Type:      indubitably.BlockToolResult,
		ToolUseID: call.CallID,
		IsError:   !out.Success,
		Content:   out.Content,
	}
}
