// Package policy implements the execution policy checked before any
// shell or write-capable tool runs: command/path allow-deny rules,
// sandbox-level allowlisting, approval gating, and timeout capping.
package policy

import (
	"path/filepath"
	"strings"
)

// Sandbox is the level of command restriction applied before a shell
// command is allowed to run at all.
type Sandbox string

const (
	SandboxNone       Sandbox = "none"
	SandboxRestricted Sandbox = "restricted"
	SandboxStrict     Sandbox = "strict"
)

// Approval controls when the scheduler must consult an approver callback
// before executing a tool.
type Approval string

const (
	ApprovalNever     Approval = "never"
	ApprovalOnRequest Approval = "on_request"
	ApprovalOnWrite   Approval = "on_write"
	ApprovalAlways    Approval = "always"
)

// strictAllowlist is the fixed set of commands permitted under
// SandboxStrict, matched against the command's first whitespace-
// separated token.
var strictAllowlist = map[string]bool{
	"ls": true, "cat": true, "echo": true, "pwd": true, "grep": true,
}

var systemPaths = []string{"/etc", "/sys", "/proc", "/dev"}

// ExecutionContext is the policy configuration in effect for one
// session's tool execution.
type ExecutionContext struct {
	Cwd             string
	Sandbox         Sandbox
	Approval        Approval
	AllowedPaths    []string
	BlockedCommands []string
	TimeoutSeconds  int // 0 means no cap
}

// Denial explains why CanExecuteCommand or CanWritePath refused an
// operation.
type Denial struct {
	Reason         string
	MatchedPattern string
}

func (d Denial) Error() string {
	if d.MatchedPattern != "" {
		return d.Reason + ": " + d.MatchedPattern
	}
	return d.Reason
}

// CanExecuteCommand checks command against the deny/allow rules in
// order: empty command, blocked substrings, then (under strict sandbox)
// the fixed allowlist of first tokens.
func (ctx ExecutionContext) CanExecuteCommand(command string) (bool, *Denial) {
	trimmed := strings.TrimSpace(command)
	if trimmed == "" {
		return false, &Denial{Reason: "empty command"}
	}
	for _, blocked := range ctx.BlockedCommands {
		if blocked != "" && strings.Contains(command, blocked) {
			return false, &Denial{Reason: "blocked command pattern", MatchedPattern: blocked}
		}
	}
	if ctx.Sandbox == SandboxStrict {
		fields := strings.Fields(trimmed)
		if len(fields) == 0 || !strictAllowlist[fields[0]] {
			return false, &Denial{Reason: "strict sandbox: command not in allowlist", MatchedPattern: trimmed}
		}
	}
	return true, nil
}

// CanWritePath checks an absolute (or cwd-resolved) path against the
// allowed_paths containment list and the fixed system-path denylist.
func (ctx ExecutionContext) CanWritePath(path string) (bool, *Denial) {
	abs := path
	if !filepath.IsAbs(abs) && ctx.Cwd != "" {
		abs = filepath.Join(ctx.Cwd, abs)
	}
	abs = filepath.Clean(abs)

	for _, sys := range systemPaths {
		if isUnder(abs, sys) {
			return false, &Denial{Reason: "path under blocked system directory", MatchedPattern: sys}
		}
	}
	if len(ctx.AllowedPaths) == 0 {
		return true, nil
	}
	for _, allowed := range ctx.AllowedPaths {
		if isUnder(abs, allowed) {
			return true, nil
		}
	}
	return false, &Denial{Reason: "path not under any allowed_paths entry"}
}

func isUnder(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && rel != "..")
}

// RequiresApproval reports whether the approver callback must be
// consulted before running this tool.
func (ctx ExecutionContext) RequiresApproval(isWrite bool) bool {
	switch ctx.Approval {
	case ApprovalAlways:
		return true
	case ApprovalOnWrite:
		return isWrite
	default:
		return false
	}
}

// EffectiveTimeout returns the timeout to apply for a tool invocation
// that requested requestedSeconds (0 meaning "no preference"),
// substituting the policy cap when the request would exceed it.
func (ctx ExecutionContext) EffectiveTimeout(requestedSeconds int) int {
	if ctx.TimeoutSeconds <= 0 {
		return requestedSeconds
	}
	if requestedSeconds <= 0 || requestedSeconds > ctx.TimeoutSeconds {
		return ctx.TimeoutSeconds
	}
	return requestedSeconds
}
