package handler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deepnoodle-ai/indubitably/diff"
	"github.com/deepnoodle-ai/indubitably/tool"
)

func boolPtr(b bool) *bool { return &b }

func TestFunctionHandlerRejectsAdditionalProperties(t *testing.T) {
	schema := &tool.Schema{
		Type:                 "object",
		Properties:           map[string]*tool.Property{"path": {Type: "string"}},
		AdditionalProperties: boolPtr(false),
	}
	h := NewFunctionHandler(schema, []tool.Capability{tool.CapReadFS}, func(ctx context.Context, args map[string]any) (tool.Output, error) {
		return tool.Output{Success: true}, nil
	})
	out, err := h.Handle(tool.Invocation{
		Context: context.Background(),
		Payload: tool.Payload{Kind: tool.PayloadFunction, Arguments: map[string]any{"path": "a.go", "extra": "nope"}},
	})
	require.NoError(t, err)
	require.False(t, out.Success)
	require.Equal(t, "validation", out.Metadata["error_type"])
}

func TestFunctionHandlerRejectsMissingRequired(t *testing.T) {
	schema := &tool.Schema{
		Type:       "object",
		Properties: map[string]*tool.Property{"path": {Type: "string"}},
		Required:   []string{"path"},
	}
	h := NewFunctionHandler(schema, nil, func(ctx context.Context, args map[string]any) (tool.Output, error) {
		return tool.Output{Success: true}, nil
	})
	out, _ := h.Handle(tool.Invocation{Context: context.Background(), Payload: tool.Payload{Kind: tool.PayloadFunction}})
	require.False(t, out.Success)
	require.Equal(t, "validation", out.Metadata["error_type"])
}

func TestFunctionHandlerRejectsDangerousCommand(t *testing.T) {
	schema := &tool.Schema{
		Type:       "object",
		Properties: map[string]*tool.Property{"command": {Type: "string"}},
	}
	h := NewFunctionHandler(schema, nil, func(ctx context.Context, args map[string]any) (tool.Output, error) {
		return tool.Output{Success: true}, nil
	})
	out, _ := h.Handle(tool.Invocation{
		Context: context.Background(),
		Payload: tool.Payload{Kind: tool.PayloadFunction, Arguments: map[string]any{"command": "rm -rf /"}},
	})
	require.False(t, out.Success)
	require.Equal(t, "validation", out.Metadata["error_type"])
}

func TestFunctionHandlerSurfacesError(t *testing.T) {
	h := NewFunctionHandler(nil, nil, func(ctx context.Context, args map[string]any) (tool.Output, error) {
		return tool.Output{}, errors.New("boom")
	})
	out, err := h.Handle(tool.Invocation{Context: context.Background(), Payload: tool.Payload{Kind: tool.PayloadFunction}})
	require.NoError(t, err)
	require.False(t, out.Success)
	require.Equal(t, "recoverable", out.Metadata["error_type"])
}

func TestTrackerFunctionHandlerReceivesTrackerFromContext(t *testing.T) {
	tracker := diff.NewTracker(1)
	var seen *diff.Tracker
	h := NewTrackerFunctionHandler(nil, []tool.Capability{tool.CapWriteFS}, func(ctx context.Context, args map[string]any, tr *diff.Tracker) (tool.Output, error) {
		seen = tr
		return tool.Output{Success: true}, nil
	})
	ctx := diff.WithTracker(context.Background(), tracker)
	_, err := h.Handle(tool.Invocation{Context: ctx, Payload: tool.Payload{Kind: tool.PayloadFunction}})
	require.NoError(t, err)
	require.Same(t, tracker, seen)
}
