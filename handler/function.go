package handler

import (
	"context"

	"github.com/deepnoodle-ai/indubitably/diff"
	"github.com/deepnoodle-ai/indubitably/tool"
)

// Func is a plain tool implementation: no access to the turn's file
// edit tracker.
type Func func(ctx context.Context, args map[string]any) (tool.Output, error)

// TrackerFunc is a tool implementation that mutates files and so needs
// the turn's diff.Tracker to record its edits. Whether a handler accepts
// one is declared explicitly at registration (via NewTrackerFunctionHandler)
// rather than detected by reflecting over the function's parameter list.
type TrackerFunc func(ctx context.Context, args map[string]any, tracker *diff.Tracker) (tool.Output, error)

// FunctionHandler validates arguments against a schema and invokes
// either a plain Func or a TrackerFunc on a worker goroutine.
type FunctionHandler struct {
	Schema  *tool.Schema
	Caps    []tool.Capability
	Plain   Func
	Tracked TrackerFunc
}

// NewFunctionHandler builds a FunctionHandler that does not need the
// turn's diff tracker.
func NewFunctionHandler(schema *tool.Schema, caps []tool.Capability, fn Func) *FunctionHandler {
	return &FunctionHandler{Schema: schema, Caps: caps, Plain: fn}
}

// NewTrackerFunctionHandler builds a FunctionHandler whose fn receives
// the diff.Tracker stashed in the invocation's context (via
// diff.WithTracker), for tools that mutate files.
func NewTrackerFunctionHandler(schema *tool.Schema, caps []tool.Capability, fn TrackerFunc) *FunctionHandler {
	return &FunctionHandler{Schema: schema, Caps: caps, Tracked: fn}
}

func (h *FunctionHandler) Kind() tool.PayloadKind { return tool.PayloadFunction }

func (h *FunctionHandler) MatchesKind(p tool.Payload) bool { return p.Kind == tool.PayloadFunction }

func (h *FunctionHandler) Capabilities() []tool.Capability { return h.Caps }

// Handle validates inv.Payload.Arguments against Schema, then runs the
// registered function on a worker goroutine so a slow or blocking tool
// never ties up the scheduler's single-threaded event loop.
func (h *FunctionHandler) Handle(inv tool.Invocation) (tool.Output, error) {
	if err := ValidateArgs(h.Schema, inv.Payload.Arguments); err != nil {
		return tool.Output{
			Success: false,
			Content: err.Error(),
			Metadata: map[string]any{"error_type": "validation"},
		}, nil
	}

	type result struct {
		out tool.Output
		err error
	}
	done := make(chan result, 1)
	go func() {
		var out tool.Output
		var err error
		if h.Tracked != nil {
			out, err = h.Tracked(inv.Context, inv.Payload.Arguments, diff.FromContext(inv.Context))
		} else {
			out, err = h.Plain(inv.Context, inv.Payload.Arguments)
		}
		done <- result{out: out, err: err}
	}()

	ctx := inv.Context
	if ctx == nil {
		ctx = context.Background()
	}
	select {
	case r := <-done:
		if r.err != nil {
			return tool.Output{
				Success: false,
				Content: r.err.Error(),
				Metadata: map[string]any{"error_type": "recoverable"},
			}, nil
		}
		return r.out, nil
	case <-ctx.Done():
		return tool.Output{
			Success: false,
			Content: "handler: invocation cancelled",
			Metadata: map[string]any{"error_type": "recoverable"},
		}, nil
	}
}
