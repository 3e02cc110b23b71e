package telemetry

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// OtelExporter writes OTEL-resource-shaped JSONL: one line per event of
// the form {"resource": {...}, "event": {...}}. Exactly one of sink or
// path may be set; with neither, events accumulate in an internal
// buffer for inspection by callers (primarily tests).
type OtelExporter struct {
	mu       sync.Mutex
	resource map[string]any
	sink     io.Writer
	path     string
	buffer   []string
}

// NewOtelExporter builds an exporter for serviceName, optionally merging
// extra resource attributes. It panics if both sink and path are
// non-empty, mirroring the reference implementation's constructor
// validation.
func NewOtelExporter(serviceName string, sink io.Writer, path string, extraResource map[string]any) *OtelExporter {
	if sink != nil && path != "" {
		panic("telemetry: OtelExporter accepts only one of sink or path")
	}
	resource := map[string]any{"service.name": serviceName}
	for k, v := range extraResource {
		resource[k] = v
	}
	return &OtelExporter{resource: resource, sink: sink, path: path}
}

// Export writes one JSON line per event to the configured sink, file, or
// internal buffer.
func (e *OtelExporter) Export(events []map[string]any) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var w io.Writer
	var f *os.File
	switch {
	case e.sink != nil:
		w = e.sink
	case e.path != "":
		if err := os.MkdirAll(filepath.Dir(e.path), 0o755); err != nil {
			return fmt.Errorf("telemetry: create export dir: %w", err)
		}
		file, err := os.OpenFile(e.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("telemetry: open export path: %w", err)
		}
		defer file.Close()
		f = file
		w = file
	}

	for _, ev := range events {
		line, err := json.Marshal(map[string]any{"resource": e.resource, "event": ev})
		if err != nil {
			return fmt.Errorf("telemetry: marshal event: %w", err)
		}
		if w == nil {
			e.buffer = append(e.buffer, string(line))
			continue
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("telemetry: write event: %w", err)
		}
	}
	if f != nil {
		return f.Sync()
	}
	return nil
}

// BufferedPayloads returns every JSON line accumulated when no sink or
// path was configured.
func (e *OtelExporter) BufferedPayloads() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.buffer))
	copy(out, e.buffer)
	return out
}

// ExportOtel shapes every recorded ToolExecutionEvent into the
// {name, timestamp, attributes} event document the spec's OTEL export
// requires. Timestamp is left to the caller (events don't carry wall-clock
// time internally) and is set to nil (null in JSON); callers that need
// real timestamps should attach them via a wrapping sink.
func (t *Telemetry) ExportOtel() []map[string]any {
	events := t.ToolEvents()
	out := make([]map[string]any, 0, len(events))
	for _, ev := range events {
		attrs := map[string]any{
			"tool.name":     ev.ToolName,
			"tool.success":  !ev.IsError,
			"tool.duration_ms": ev.Duration.Milliseconds(),
		}
		if ev.ErrorType != "" {
			attrs["tool.error_type"] = ev.ErrorType
		}
		if ev.IsError {
			attrs["tool.message"] = "tool execution failed"
		}
		out = append(out, map[string]any{
			"name":       "tool_call",
			"timestamp":  nil,
			"attributes": attrs,
		})
	}
	return out
}

// FlushToOtel pushes every recorded tool event through exp, one JSON line
// per event.
func (t *Telemetry) FlushToOtel(exp *OtelExporter) error {
	return exp.Export(t.ExportOtel())
}
