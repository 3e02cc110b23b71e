package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadWithEmptyPathReturnsDefaults(t *testing.T) {
	cfg, warnings, err := Load("")
	require.NoError(t, err)
	require.Empty(t, warnings)
	require.Equal(t, Default(), cfg)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, warnings, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.NoError(t, err)
	require.Empty(t, warnings)
	require.Equal(t, Default(), cfg)
}

func TestLoadOverlaysValuesOntoDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.toml")
	const body = `
[runner]
max_turns = 10
exit_on_tool_error = true

[model]
name = "claude-opus-4"
max_tokens = 8192

[[mcp.servers]]
name = "fs"
type = "stdio"
command = "mcp-fs"
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, warnings, err := Load(path)
	require.NoError(t, err)
	require.Empty(t, warnings)

	require.Equal(t, 10, cfg.Runner.MaxTurns)
	require.True(t, cfg.Runner.ExitOnToolError)
	require.Equal(t, "claude-opus-4", cfg.Model.Name)
	require.Equal(t, 8192, cfg.Model.MaxTokens)
	require.Len(t, cfg.MCP.Servers, 1)
	require.Equal(t, "fs", cfg.MCP.Servers[0].Name)
}

func TestLoadWarnsOnUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.toml")
	require.NoError(t, os.WriteFile(path, []byte("[runner]\nmax_tunrs = 5\n"), 0o644))

	_, warnings, err := Load(path)
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	require.Contains(t, warnings[0], "max_tunrs")
}

func TestLoadWithEnvOverrideFallsBackToEnvVar(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.toml")
	require.NoError(t, os.WriteFile(path, []byte("[runner]\nmax_turns = 7\n"), 0o644))

	t.Setenv(EnvConfigPath, path)
	cfg, _, err := LoadWithEnvOverride("")
	require.NoError(t, err)
	require.Equal(t, 7, cfg.Runner.MaxTurns)
}

func TestLoadWithEnvOverridePrefersFlagPath(t *testing.T) {
	envPath := filepath.Join(t.TempDir(), "env.toml")
	require.NoError(t, os.WriteFile(envPath, []byte("[runner]\nmax_turns = 1\n"), 0o644))
	flagPath := filepath.Join(t.TempDir(), "flag.toml")
	require.NoError(t, os.WriteFile(flagPath, []byte("[runner]\nmax_turns = 2\n"), 0o644))

	t.Setenv(EnvConfigPath, envPath)
	cfg, _, err := LoadWithEnvOverride(flagPath)
	require.NoError(t, err)
	require.Equal(t, 2, cfg.Runner.MaxTurns)
}

func TestSessionSettingsMapsCompactionAndTools(t *testing.T) {
	cfg := Default()
	cfg.Compaction.KeepLastTurns = 3
	cfg.Tools.Limits.MaxStdoutBytes = 1024

	settings := cfg.SessionSettings()
	require.Equal(t, 3, settings.Compaction.KeepLastTurns)
	require.Equal(t, 1024, settings.Tools.MaxStdoutBytes)
}

func TestExecutionContextMapsSandboxAndApproval(t *testing.T) {
	cfg := Default()
	cfg.Execution.Sandbox = "strict_allowlist"
	cfg.Execution.Approval = "always"

	execCtx := cfg.ExecutionContext("/workdir")
	require.Equal(t, "/workdir", execCtx.Cwd)
	require.EqualValues(t, "strict_allowlist", execCtx.Sandbox)
	require.EqualValues(t, "always", execCtx.Approval)
}

func TestMCPServerConfigsTranslatesEachEntry(t *testing.T) {
	cfg := Default()
	cfg.MCP.Servers = []MCPServerSection{
		{Name: "fs", Type: "stdio", Command: "mcp-fs", Args: []string{"--root", "."}},
		{Name: "remote", Type: "sse", URL: "https://example.com/mcp"},
	}

	servers := cfg.MCPServerConfigs()
	require.Len(t, servers, 2)
	require.Equal(t, "fs", servers[0].Name)
	require.Equal(t, []string{"--root", "."}, servers[0].Args)
	require.Equal(t, "https://example.com/mcp", servers[1].URL)
}

func TestMCPPoolTTLDefaultsWhenUnset(t *testing.T) {
	cfg := Default()
	cfg.MCP.TTLSeconds = 0
	require.Equal(t, 5*time.Minute, cfg.MCPPoolTTL())
}

func TestMCPPoolTTLUsesConfiguredSeconds(t *testing.T) {
	cfg := Default()
	cfg.MCP.TTLSeconds = 120
	require.Equal(t, int64(120e9), cfg.MCPPoolTTL().Nanoseconds())
}
