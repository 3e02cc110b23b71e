package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"time"

	"github.com/deepnoodle-ai/indubitably/policy"
	"github.com/deepnoodle-ai/indubitably/tool"
)

// MaxBashTimeout caps any command regardless of what the tool call or
// policy requests, mirroring the teacher toolkit's bash tool ceiling.
const MaxBashTimeout = 10 * time.Minute

// DefaultBashTimeout is used when neither the call nor the policy
// specifies one.
const DefaultBashTimeout = 2 * time.Minute

// ShellInput is the bash_20250124-shaped input the oracle sends for a
// shell call.
type ShellInput struct {
	Command string `json:"command"`
	Timeout int    `json:"timeout,omitempty"` // seconds
}

// ShellSchema is the JSON-Schema-shaped spec for the shell tool.
var ShellSchema = &tool.Schema{
	Type: "object",
	Properties: map[string]*tool.Property{
		"command": {Type: "string", Description: "The shell command to run."},
		"timeout": {Type: "integer", Description: "Timeout in seconds, capped by execution policy."},
	},
	Required: []string{"command"},
}

// ShellHandler wraps command execution with the execution policy
// (4.10): the blocked-substring and strict-sandbox checks of
// CanExecuteCommand, approval gating, and timeout capping. It does not
// evaluate Rules and does not check the paths a command writes. The
// policy layer lives here, not in the registry.
type ShellHandler struct {
	Policy   *policy.ExecutionContext
	Approver policy.Approver
	Dir      string
}

// NewShellHandler returns a ShellHandler gated by ctx and approved via
// approver (policy.AutoApprove{} for unattended/headless runs).
func NewShellHandler(ctx *policy.ExecutionContext, approver policy.Approver) *ShellHandler {
	return &ShellHandler{Policy: ctx, Approver: approver, Dir: ctx.Cwd}
}

func (h *ShellHandler) Kind() tool.PayloadKind { return tool.PayloadFunction }

func (h *ShellHandler) MatchesKind(p tool.Payload) bool { return p.Kind == tool.PayloadFunction }

func (h *ShellHandler) Capabilities() []tool.Capability {
	return []tool.Capability{tool.CapExecShell}
}

// Handle runs inv.Payload.Arguments["command"] through the policy rule
// order (§4.10), then executes it with a capped timeout.
func (h *ShellHandler) Handle(inv tool.Invocation) (tool.Output, error) {
	if err := ValidateArgs(ShellSchema, inv.Payload.Arguments); err != nil {
		return tool.Output{
			Success: false,
			Content: err.Error(),
			Metadata: map[string]any{"error_type": "validation"},
		}, nil
	}
	command, _ := inv.Payload.Arguments["command"].(string)

	if ok, denial := h.Policy.CanExecuteCommand(command); !ok {
		return tool.Output{
			Success: false,
			Content: denial.Error(),
			Metadata: map[string]any{"error_type": "policy_denied"},
		}, nil
	}

	if h.Policy.RequiresApproval(false) {
		approved, err := h.Approver.Approve(inv.Context, inv.ToolName, command)
		if err != nil || !approved {
			return tool.Output{
				Success: false,
				Content: "denied: approval was not granted",
				Metadata: map[string]any{"error_type": "policy_denied"},
			}, nil
		}
	}

	requested := 0
	if v, ok := inv.Payload.Arguments["timeout"]; ok {
		requested = int(toFloat(v))
	}
	timeoutSeconds := h.Policy.EffectiveTimeout(requested)
	timeout := DefaultBashTimeout
	if timeoutSeconds > 0 {
		timeout = time.Duration(timeoutSeconds) * time.Second
	}
	if timeout > MaxBashTimeout {
		timeout = MaxBashTimeout
	}

	stdout, stderr, exitCode, timedOut, err := h.run(inv.Context, command, timeout)
	if err != nil && !timedOut {
		return tool.Output{
			Success: false,
			Content: err.Error(),
			Metadata: map[string]any{"error_type": "recoverable"},
		}, nil
	}
	if timedOut {
		return tool.Output{
			Success: false,
			Content: fmt.Sprintf("command timed out after %s", timeout),
			Metadata: map[string]any{"error_type": "recoverable", "timed_out": true},
		}, nil
	}

	payload, _ := json.Marshal(map[string]any{
		"stdout":      stdout,
		"stderr":      stderr,
		"return_code": exitCode,
	})
	return tool.Output{
		Success: exitCode == 0,
		Content: string(payload),
	}, nil
}

func (h *ShellHandler) run(ctx context.Context, command string, timeout time.Duration) (stdout, stderr string, exitCode int, timedOut bool, err error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	shell := "/bin/bash"
	shellArgs := []string{"-c", command}
	if runtime.GOOS == "windows" {
		shell = "cmd"
		shellArgs = []string{"/C", command}
	}

	cmd := exec.CommandContext(runCtx, shell, shellArgs...)
	if h.Dir != "" {
		cmd.Dir = h.Dir
	}
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	runErr := cmd.Run()
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return outBuf.String(), errBuf.String(), -1, true, runCtx.Err()
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return outBuf.String(), errBuf.String(), exitErr.ExitCode(), false, nil
		}
		return outBuf.String(), errBuf.String(), -1, false, runErr
	}
	return outBuf.String(), errBuf.String(), 0, false, nil
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	}
	return 0
}
