package tool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/deepnoodle-ai/indubitably/telemetry"
)

// Capability names a privilege a tool may require; used to derive the
// parallel-safe classification in IsParallelSafe.
type Capability string

const (
	CapReadFS    Capability = "read_fs"
	CapWriteFS   Capability = "write_fs"
	CapExecShell Capability = "exec_shell"
	CapNetwork   Capability = "network"
)

// Spec is a tool's static description as sent to the LLM oracle.
type Spec struct {
	Name        string
	Description string
	InputSchema *Schema
}

// ConfiguredSpec adds the registry's own notion of parallel safety to a
// Spec, derived once at registration time from the handler's declared
// capabilities.
type ConfiguredSpec struct {
	Spec
	SupportsParallel bool
}

// PayloadKind tags the variant held by a Payload.
type PayloadKind string

const (
	PayloadFunction    PayloadKind = "function"
	PayloadMCP         PayloadKind = "mcp"
	PayloadUnifiedExec PayloadKind = "unified_exec"
	PayloadCustom      PayloadKind = "custom"
)

// Payload is a tagged union over the ways a tool_use block can be
// interpreted: a plain function call, an MCP server/tool call, a
// unified-exec shell command, or an opaque custom payload.
type Payload struct {
	Kind PayloadKind

	// Function
	Arguments map[string]any

	// Mcp
	Server string
	Tool   string

	// UnifiedExec
	Command string

	// Custom
	CustomName    string
	CustomPayload any
}

// Output is what a handler returns for one invocation.
type Output struct {
	Content  string
	Success  bool
	Metadata map[string]any
}

// Invocation carries everything a handler needs to execute one tool
// call.
type Invocation struct {
	Context context.Context
	CallID  string
	ToolName string
	Payload  Payload
	TurnID   int
}

// Handler executes one kind of tool payload.
type Handler interface {
	Kind() PayloadKind
	MatchesKind(p Payload) bool
	Capabilities() []Capability
	Handle(inv Invocation) (Output, error)
}

// IsParallelSafe reports whether a handler's declared capabilities
// qualify it for concurrent (read-guard) execution: it must require
// read_fs and must not require write_fs, exec_shell, or network.
func IsParallelSafe(caps []Capability) bool {
	hasRead := false
	for _, c := range caps {
		switch c {
		case CapReadFS:
			hasRead = true
		case CapWriteFS, CapExecShell, CapNetwork:
			return false
		}
	}
	return hasRead
}

// Registry is a name-to-handler map with telemetry-recorded dispatch.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	specs    map[string]ConfiguredSpec
	Telemetry *telemetry.Telemetry
}

// NewRegistry returns an empty Registry.
func NewRegistry(tel *telemetry.Telemetry) *Registry {
	return &Registry{
		handlers:  make(map[string]Handler),
		specs:     make(map[string]ConfiguredSpec),
		Telemetry: tel,
	}
}

// Register adds a tool under name, deriving SupportsParallel from the
// handler's declared capabilities.
func (r *Registry) Register(name string, spec Spec, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = handler
	r.specs[name] = ConfiguredSpec{Spec: spec, SupportsParallel: IsParallelSafe(handler.Capabilities())}
}

// Spec returns the configured spec for name, if registered.
func (r *Registry) Spec(name string) (ConfiguredSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.specs[name]
	return s, ok
}

// Specs returns every registered ConfiguredSpec, for building the
// oracle's `tools` list.
func (r *Registry) Specs() []ConfiguredSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ConfiguredSpec, 0, len(r.specs))
	for _, s := range r.specs {
		out = append(out, s)
	}
	return out
}

// Dispatch rejects unknown tool names and incompatible payload kinds,
// then delegates to the handler and records timing telemetry.
func (r *Registry) Dispatch(inv Invocation) (Output, error) {
	r.mu.RLock()
	handler, ok := r.handlers[inv.ToolName]
	r.mu.RUnlock()
	if !ok {
		return Output{}, fmt.Errorf("tool: unknown tool %q", inv.ToolName)
	}
	if !handler.MatchesKind(inv.Payload) {
		return Output{}, fmt.Errorf("tool: payload kind %q incompatible with handler for %q", inv.Payload.Kind, inv.ToolName)
	}
	start := time.Now()
	out, err := handler.Handle(inv)
	elapsed := time.Since(start)
	if r.Telemetry != nil {
		errorType, _ := out.Metadata["error_type"].(string)
		truncated, _ := out.Metadata["truncated"].(bool)
		r.Telemetry.RecordToolExecution(telemetry.ToolExecutionEvent{
			Turn:       inv.TurnID,
			ToolName:   inv.ToolName,
			CallID:     inv.CallID,
			Duration:   elapsed,
			IsError:    err != nil || !out.Success,
			Truncated:  truncated,
			InputSize:  payloadSize(inv.Payload),
			OutputSize: len(out.Content),
			ErrorType:  errorType,
		})
	}
	return out, err
}

// payloadSize estimates the wire size of a tool call's input, used for
// telemetry's input_size field.
func payloadSize(p Payload) int {
	switch p.Kind {
	case PayloadFunction, PayloadMCP:
		n := 0
		for k, v := range p.Arguments {
			n += len(k) + len(fmt.Sprintf("%v", v))
		}
		return n
	case PayloadUnifiedExec:
		return len(p.Command)
	default:
		return 0
	}
}
