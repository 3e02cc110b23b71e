package runner

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	indubitably "github.com/deepnoodle-ai/indubitably"
	"github.com/deepnoodle-ai/indubitably/auditlog"
	"github.com/deepnoodle-ai/indubitably/handler"
	"github.com/deepnoodle-ai/indubitably/llm"
	"github.com/deepnoodle-ai/indubitably/session"
	"github.com/deepnoodle-ai/indubitably/tool"
)

// fakeOracle replays a scripted sequence of responses/errors, one per
// Complete call, so each test can script exactly the loop iteration it
// wants to exercise without a real LLM.
type fakeOracle struct {
	responses []llm.Response
	errs      []error
	calls     int
}

func (f *fakeOracle) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) {
		return llm.Response{}, f.errs[i]
	}
	if len(f.responses) == 0 {
		return llm.Response{}, nil
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	return f.responses[len(f.responses)-1], nil
}

func textResponse(text string) llm.Response {
	return llm.Response{
		Content:    []indubitably.Block{{Type: indubitably.BlockText, Text: text}},
		StopReason: llm.StopEndTurn,
	}
}

func toolUseResponse(id, name string, input map[string]any) llm.Response {
	raw, _ := json.Marshal(input)
	return llm.Response{
		Content:    []indubitably.Block{{Type: indubitably.BlockToolUse, ID: id, Name: name, Input: raw}},
		StopReason: llm.StopToolUse,
	}
}

func newSchedulerWithRegistry(registry *tool.Registry, oracle llm.Oracle, cfg Config) *Scheduler {
	sess := session.New(session.DefaultSettings())
	sched := New(sess, oracle, registry, cfg)
	sched.MaxTokens = 1024
	return sched
}

func TestRunCompletesWhenNoToolUse(t *testing.T) {
	sess := session.New(session.DefaultSettings())
	registry := tool.NewRegistry(sess.Telemetry)
	oracle := &fakeOracle{responses: []llm.Response{textResponse("done")}}
	sched := New(sess, oracle, registry, Config{MaxTurns: 5})
	sched.MaxTokens = 1024

	result, err := sched.Run(context.Background(), "hello")
	require.NoError(t, err)
	require.Equal(t, StopCompleted, result.StoppedReason)
	require.Equal(t, "done", result.FinalText)
	require.Equal(t, 1, result.TurnsUsed)
}

func TestRunStopsAtMaxTurns(t *testing.T) {
	sess := session.New(session.DefaultSettings())
	registry := tool.NewRegistry(sess.Telemetry)
	registry.Register("echo", tool.Spec{Name: "echo"}, handler.NewFunctionHandler(nil, []tool.Capability{tool.CapReadFS},
		func(ctx context.Context, args map[string]any) (tool.Output, error) {
			return tool.Output{Success: true, Content: "ok"}, nil
		}))
	oracle := &fakeOracle{responses: []llm.Response{toolUseResponse("call-1", "echo", nil)}}
	sched := New(sess, oracle, registry, Config{MaxTurns: 3})
	sched.MaxTokens = 1024

	result, err := sched.Run(context.Background(), "hello")
	require.NoError(t, err)
	require.Equal(t, StopMaxTurns, result.StoppedReason)
	require.Equal(t, 3, result.TurnsUsed)
}

func TestRunStopsOnToolErrorWhenExitOnToolError(t *testing.T) {
	sess := session.New(session.DefaultSettings())
	registry := tool.NewRegistry(sess.Telemetry)
	registry.Register("fail", tool.Spec{Name: "fail"}, handler.NewFunctionHandler(nil, nil,
		func(ctx context.Context, args map[string]any) (tool.Output, error) {
			return tool.Output{Success: false, Content: "boom", Metadata: map[string]any{"error_type": "recoverable"}}, nil
		}))
	oracle := &fakeOracle{responses: []llm.Response{toolUseResponse("call-1", "fail", nil)}}
	sched := New(sess, oracle, registry, Config{MaxTurns: 5, ExitOnToolError: true})
	sched.MaxTokens = 1024

	result, err := sched.Run(context.Background(), "hello")
	require.NoError(t, err)
	require.Equal(t, StopToolError, result.StoppedReason)
	require.Equal(t, 1, result.TurnsUsed)
}

func TestRunContinuesOnToolErrorWithoutExitOnToolError(t *testing.T) {
	sess := session.New(session.DefaultSettings())
	registry := tool.NewRegistry(sess.Telemetry)
	registry.Register("fail", tool.Spec{Name: "fail"}, handler.NewFunctionHandler(nil, nil,
		func(ctx context.Context, args map[string]any) (tool.Output, error) {
			return tool.Output{Success: false, Content: "boom", Metadata: map[string]any{"error_type": "recoverable"}}, nil
		}))
	oracle := &fakeOracle{responses: []llm.Response{
		toolUseResponse("call-1", "fail", nil),
		textResponse("done"),
	}}
	sched := New(sess, oracle, registry, Config{MaxTurns: 5, ExitOnToolError: false})
	sched.MaxTokens = 1024

	result, err := sched.Run(context.Background(), "hello")
	require.NoError(t, err)
	require.Equal(t, StopCompleted, result.StoppedReason)
	require.Equal(t, 2, result.TurnsUsed)
}

func TestRunStopsOnFatalToolError(t *testing.T) {
	sess := session.New(session.DefaultSettings())
	registry := tool.NewRegistry(sess.Telemetry)
	registry.Register("fatal", tool.Spec{Name: "fatal"}, handler.NewFunctionHandler(nil, nil,
		func(ctx context.Context, args map[string]any) (tool.Output, error) {
			return tool.Output{Success: false, Content: "sandbox invariant violated", Metadata: map[string]any{"error_type": "fatal"}}, nil
		}))
	oracle := &fakeOracle{responses: []llm.Response{toolUseResponse("call-1", "fatal", nil)}}
	sched := New(sess, oracle, registry, Config{MaxTurns: 5, ExitOnToolError: false})
	sched.MaxTokens = 1024

	result, err := sched.Run(context.Background(), "hello")
	require.NoError(t, err)
	require.Equal(t, StopFatalToolError, result.StoppedReason)
}

func TestRunDryRunSkipsExecution(t *testing.T) {
	executed := false
	sess := session.New(session.DefaultSettings())
	registry := tool.NewRegistry(sess.Telemetry)
	registry.Register("write", tool.Spec{Name: "write"}, handler.NewFunctionHandler(nil, []tool.Capability{tool.CapWriteFS},
		func(ctx context.Context, args map[string]any) (tool.Output, error) {
			executed = true
			return tool.Output{Success: true}, nil
		}))
	oracle := &fakeOracle{responses: []llm.Response{
		toolUseResponse("call-1", "write", nil),
		textResponse("done"),
	}}
	sched := New(sess, oracle, registry, Config{MaxTurns: 5, DryRun: true})
	sched.MaxTokens = 1024

	result, err := sched.Run(context.Background(), "hello")
	require.NoError(t, err)
	require.Equal(t, StopCompleted, result.StoppedReason)
	require.False(t, executed)
}

func TestRunBlocksDisallowedTool(t *testing.T) {
	executed := false
	sess := session.New(session.DefaultSettings())
	registry := tool.NewRegistry(sess.Telemetry)
	registry.Register("danger", tool.Spec{Name: "danger"}, handler.NewFunctionHandler(nil, nil,
		func(ctx context.Context, args map[string]any) (tool.Output, error) {
			executed = true
			return tool.Output{Success: true}, nil
		}))
	oracle := &fakeOracle{responses: []llm.Response{
		toolUseResponse("call-1", "danger", nil),
		textResponse("done"),
	}}
	sched := New(sess, oracle, registry, Config{MaxTurns: 5, BlockedTools: []string{"danger"}})
	sched.MaxTokens = 1024

	result, err := sched.Run(context.Background(), "hello")
	require.NoError(t, err)
	require.Equal(t, StopCompleted, result.StoppedReason)
	require.False(t, executed)
}

func TestRunRollsBackOnOracleError(t *testing.T) {
	sess := session.New(session.DefaultSettings())
	registry := tool.NewRegistry(sess.Telemetry)
	before := sess.History.TotalTokens()
	oracle := &fakeOracle{errs: []error{
		context.DeadlineExceeded,
		context.DeadlineExceeded,
		context.DeadlineExceeded,
		context.DeadlineExceeded,
		context.DeadlineExceeded,
		context.DeadlineExceeded,
	}}
	sched := New(sess, oracle, registry, Config{MaxTurns: 5})
	sched.MaxTokens = 1024

	_, err := sched.Run(context.Background(), "hello")
	require.Error(t, err)
	require.Equal(t, before, sess.History.TotalTokens())
}

func TestCallWithBackoffReturnsNonRateLimitErrorImmediately(t *testing.T) {
	sess := session.New(session.DefaultSettings())
	registry := tool.NewRegistry(sess.Telemetry)
	oracle := &fakeOracle{errs: []error{context.DeadlineExceeded}}
	sched := newSchedulerWithRegistry(registry, oracle, Config{MaxTurns: 1})

	_, err := sched.callWithBackoff(context.Background(), llm.Request{})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 1, oracle.calls)
}

func TestCallWithBackoffRespectsCancellation(t *testing.T) {
	sess := session.New(session.DefaultSettings())
	registry := tool.NewRegistry(sess.Telemetry)
	oracle := &fakeOracle{errs: []error{&llm.RateLimitError{Err: context.DeadlineExceeded}}}
	sched := newSchedulerWithRegistry(registry, oracle, Config{MaxTurns: 1})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := sched.callWithBackoff(ctx, llm.Request{})
	require.Error(t, err)
}

func TestAuditLogIsWritten(t *testing.T) {
	dir := t.TempDir()
	sess := session.New(session.DefaultSettings())
	registry := tool.NewRegistry(sess.Telemetry)
	registry.Register("echo", tool.Spec{Name: "echo"}, handler.NewFunctionHandler(nil, []tool.Capability{tool.CapReadFS},
		func(ctx context.Context, args map[string]any) (tool.Output, error) {
			return tool.Output{Success: true, Content: "ok"}, nil
		}))
	oracle := &fakeOracle{responses: []llm.Response{
		toolUseResponse("call-1", "echo", nil),
		textResponse("done"),
	}}
	auditPath := dir + "/audit.jsonl"
	auditLog, err := auditlog.New(auditPath)
	require.NoError(t, err)
	sched := New(sess, oracle, registry, Config{MaxTurns: 5})
	sched.MaxTokens = 1024
	sched.AuditLog = auditLog

	result, err := sched.Run(context.Background(), "hello")
	require.NoError(t, err)
	require.Equal(t, StopCompleted, result.StoppedReason)
	require.NotEmpty(t, result.ToolEvents)
	data, err := os.ReadFile(auditPath)
	require.NoError(t, err)
	require.Contains(t, string(data), `"tool":"echo"`)
}
