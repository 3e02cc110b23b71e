package policy

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanExecuteCommandDeniesEmpty(t *testing.T) {
	ctx := ExecutionContext{}
	ok, denial := ctx.CanExecuteCommand("  ")
	require.False(t, ok)
	require.NotNil(t, denial)
}

func TestCanExecuteCommandDeniesBlockedSubstring(t *testing.T) {
	ctx := ExecutionContext{BlockedCommands: []string{"rm -rf"}}
	ok, denial := ctx.CanExecuteCommand("rm -rf /tmp/foo")
	require.False(t, ok)
	require.Equal(t, "rm -rf", denial.MatchedPattern)
}

func TestCanExecuteCommandStrictSandboxAllowlist(t *testing.T) {
	ctx := ExecutionContext{Sandbox: SandboxStrict}
	ok, _ := ctx.CanExecuteCommand("ls -la")
	require.True(t, ok)
	ok, denial := ctx.CanExecuteCommand("curl http://example.com")
	require.False(t, ok)
	require.NotNil(t, denial)
}

func TestCanWritePathDeniesSystemDirectories(t *testing.T) {
	ctx := ExecutionContext{}
	ok, denial := ctx.CanWritePath("/etc/passwd")
	require.False(t, ok)
	require.Equal(t, "/etc", denial.MatchedPattern)
}

func TestCanWritePathRequiresAllowedPathsContainment(t *testing.T) {
	ctx := ExecutionContext{AllowedPaths: []string{"/workspace"}}
	ok, _ := ctx.CanWritePath("/workspace/src/main.go")
	require.True(t, ok)
	ok, denial := ctx.CanWritePath("/home/user/.ssh/id_rsa")
	require.False(t, ok)
	require.NotNil(t, denial)
}

func TestCanWritePathAllowsAnywhereWhenNoAllowedPathsSet(t *testing.T) {
	ctx := ExecutionContext{}
	ok, _ := ctx.CanWritePath("/workspace/anything")
	require.True(t, ok)
}

func TestRequiresApproval(t *testing.T) {
	require.True(t, ExecutionContext{Approval: ApprovalAlways}.RequiresApproval(false))
	require.True(t, ExecutionContext{Approval: ApprovalOnWrite}.RequiresApproval(true))
	require.False(t, ExecutionContext{Approval: ApprovalOnWrite}.RequiresApproval(false))
	require.False(t, ExecutionContext{Approval: ApprovalNever}.RequiresApproval(true))
}

func TestEffectiveTimeoutSubstitutesCapWhenExceeded(t *testing.T) {
	ctx := ExecutionContext{TimeoutSeconds: 30}
	require.Equal(t, 30, ctx.EffectiveTimeout(120))
	require.Equal(t, 10, ctx.EffectiveTimeout(10))
	require.Equal(t, 30, ctx.EffectiveTimeout(0))
}

func TestRulesEvaluateDenyTakesPrecedenceOverAllow(t *testing.T) {
	rules := Rules{
		AllowRule("*"),
		DenyRule("bash", "bash is blocked"),
	}
	decision := rules.Evaluate("bash", nil)
	require.NotNil(t, decision)
	require.Equal(t, RuleDeny, decision.Action)
}

func TestRulesEvaluateCommandGlob(t *testing.T) {
	rules := Rules{
		DenyCommandRule("bash", "rm -rf *", "no recursive deletes"),
		AllowRule("bash"),
	}
	decision := rules.Evaluate("bash", map[string]any{"command": "rm -rf /tmp/foo"})
	require.Equal(t, RuleDeny, decision.Action)

	decision = rules.Evaluate("bash", map[string]any{"command": "ls -la"})
	require.Equal(t, RuleAllow, decision.Action)
}

func TestRulesEvaluateReturnsNilWhenNothingMatches(t *testing.T) {
	rules := Rules{AllowRule("read_*")}
	require.Nil(t, rules.Evaluate("bash", nil))
}
