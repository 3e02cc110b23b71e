// Package config loads the runner's TOML configuration file: the
// `[runner]`, `[model]`, `[compaction]`, `[tools.limits]`, `[mcp]`,
// `[privacy]`, `[execution]`, and `[telemetry]` sections described in
// spec §6, translated into the concrete settings types the session,
// policy, and mcppool packages expect.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/deepnoodle-ai/indubitably/mcppool"
	"github.com/deepnoodle-ai/indubitably/policy"
	"github.com/deepnoodle-ai/indubitably/runner"
	"github.com/deepnoodle-ai/indubitably/session"
)

// EnvConfigPath is the environment variable that, when set, names an
// alternate session config file to load instead of the --config flag's
// default.
const EnvConfigPath = "INDUBITABLY_SESSION_CONFIG"

// RunnerSection is `[runner]`.
type RunnerSection struct {
	MaxTurns        int      `toml:"max_turns"`
	ExitOnToolError bool     `toml:"exit_on_tool_error"`
	DryRun          bool     `toml:"dry_run"`
	AllowedTools    []string `toml:"allowed_tools"`
	BlockedTools    []string `toml:"blocked_tools"`
	AuditLog        string   `toml:"audit_log"`
	ChangesLog      string   `toml:"changes_log"`
}

// ModelSection is `[model]`.
type ModelSection struct {
	Name            string `toml:"name"`
	ContextTokens   int    `toml:"context_tokens"`
	GuardrailTokens int    `toml:"guardrail_tokens"`
	MaxTokens       int    `toml:"max_tokens"`
}

// CompactionSection is `[compaction]`.
type CompactionSection struct {
	Auto            bool `toml:"auto"`
	KeepLastTurns   int  `toml:"keep_last_turns"`
	TargetTokens    int  `toml:"target_tokens"`
	PinBudgetTokens int  `toml:"pin_budget_tokens"`
}

// ToolLimitsSection is `[tools.limits]`.
type ToolLimitsSection struct {
	MaxToolTokens  int `toml:"max_tool_tokens"`
	MaxStdoutBytes int `toml:"max_stdout_bytes"`
	MaxLines       int `toml:"max_lines"`
}

// ToolsSection is `[tools]`, nesting `[tools.limits]`.
type ToolsSection struct {
	Limits ToolLimitsSection `toml:"limits"`
}

// MCPServerSection describes one server entry under `[[mcp.servers]]`.
type MCPServerSection struct {
	Name    string            `toml:"name"`
	Type    string            `toml:"type"`
	Command string            `toml:"command"`
	Args    []string          `toml:"args"`
	Env     map[string]string `toml:"env"`
	URL     string            `toml:"url"`
}

// MCPSection is `[mcp]`.
type MCPSection struct {
	TTLSeconds int                `toml:"ttl_seconds"`
	Servers    []MCPServerSection `toml:"servers"`
}

// PrivacySection is `[privacy]`. RedactPatterns is loaded from the
// config file; no writer in this module applies it to audit or changes
// log content.
type PrivacySection struct {
	RedactPatterns []string `toml:"redact_patterns"`
}

// ExecutionSection is `[execution]`.
type ExecutionSection struct {
	Sandbox         string   `toml:"sandbox"`
	Approval        string   `toml:"approval"`
	AllowedPaths    []string `toml:"allowed_paths"`
	BlockedCommands []string `toml:"blocked_commands"`
	TimeoutSeconds  int      `toml:"timeout_seconds"`
}

// TelemetrySection is `[telemetry]`.
type TelemetrySection struct {
	ServiceName    string `toml:"service_name"`
	OtelExportPath string `toml:"otel_export_path"`
}

// Config is the fully parsed TOML configuration.
type Config struct {
	Runner     RunnerSection     `toml:"runner"`
	Model      ModelSection      `toml:"model"`
	Compaction CompactionSection `toml:"compaction"`
	Tools      ToolsSection      `toml:"tools"`
	MCP        MCPSection        `toml:"mcp"`
	Privacy    PrivacySection    `toml:"privacy"`
	Execution  ExecutionSection  `toml:"execution"`
	Telemetry  TelemetrySection  `toml:"telemetry"`
}

// Default returns a Config whose values mirror
// session.DefaultSettings() and the policy package's conservative
// defaults, used when no config file is present.
func Default() Config {
	s := session.DefaultSettings()
	return Config{
		Runner: RunnerSection{
			MaxTurns:        50,
			ExitOnToolError: false,
			DryRun:          false,
		},
		Model: ModelSection{
			Name:            s.Model.Name,
			ContextTokens:   s.Model.ContextTokens,
			GuardrailTokens: s.Model.GuardrailTokens,
			MaxTokens:       4096,
		},
		Compaction: CompactionSection{
			Auto:            s.Compaction.Auto,
			KeepLastTurns:   s.Compaction.KeepLastTurns,
			TargetTokens:    s.Compaction.TargetTokens,
			PinBudgetTokens: s.Compaction.PinBudgetTokens,
		},
		Tools: ToolsSection{
			Limits: ToolLimitsSection{
				MaxToolTokens:  s.Tools.MaxToolTokens,
				MaxStdoutBytes: s.Tools.MaxStdoutBytes,
				MaxLines:       s.Tools.MaxLines,
			},
		},
		MCP: MCPSection{TTLSeconds: 300},
		Execution: ExecutionSection{
			Sandbox:  string(policy.SandboxNone),
			Approval: string(policy.ApprovalOnWrite),
		},
		Telemetry: TelemetrySection{ServiceName: "indubitably"},
	}
}

// Load reads path, overlaying its values onto Default(). A missing file
// is not an error — the defaults are returned as-is, matching the
// reference implementation's first-run behavior. It also returns a
// warning for every TOML key the Config struct doesn't recognize.
func Load(path string) (Config, []string, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil, nil
	}
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil, nil
		}
		return Config{}, nil, fmt.Errorf("config: load %q: %w", path, err)
	}
	var warnings []string
	for _, key := range meta.Undecoded() {
		warnings = append(warnings, fmt.Sprintf("config: unknown key %q", key.String()))
	}
	return cfg, warnings, nil
}

// LoadWithEnvOverride resolves the config path from flagPath, falling
// back to the INDUBITABLY_SESSION_CONFIG environment variable when
// flagPath is empty.
func LoadWithEnvOverride(flagPath string) (Config, []string, error) {
	path := flagPath
	if path == "" {
		path = os.Getenv(EnvConfigPath)
	}
	return Load(path)
}

// SessionSettings builds the session.Settings this config implies.
func (c Config) SessionSettings() session.Settings {
	return session.Settings{
		Model: session.ModelSettings{
			Name:            c.Model.Name,
			ContextTokens:   c.Model.ContextTokens,
			GuardrailTokens: c.Model.GuardrailTokens,
		},
		Compaction: session.CompactionSettings{
			Auto:            c.Compaction.Auto,
			KeepLastTurns:   c.Compaction.KeepLastTurns,
			TargetTokens:    c.Compaction.TargetTokens,
			PinBudgetTokens: c.Compaction.PinBudgetTokens,
		},
		Tools: session.ToolLimitSettings{
			MaxToolTokens:  c.Tools.Limits.MaxToolTokens,
			MaxStdoutBytes: c.Tools.Limits.MaxStdoutBytes,
			MaxLines:       c.Tools.Limits.MaxLines,
		},
	}
}

// RunnerConfig builds the runner.Config this config implies.
func (c Config) RunnerConfig() runner.Config {
	return runner.Config{
		MaxTurns:        c.Runner.MaxTurns,
		ExitOnToolError: c.Runner.ExitOnToolError,
		DryRun:          c.Runner.DryRun,
		AllowedTools:    c.Runner.AllowedTools,
		BlockedTools:    c.Runner.BlockedTools,
	}
}

// ExecutionContext builds the policy.ExecutionContext this config
// implies, anchored at cwd.
func (c Config) ExecutionContext(cwd string) policy.ExecutionContext {
	return policy.ExecutionContext{
		Cwd:             cwd,
		Sandbox:         policy.Sandbox(c.Execution.Sandbox),
		Approval:        policy.Approval(c.Execution.Approval),
		AllowedPaths:    c.Execution.AllowedPaths,
		BlockedCommands: c.Execution.BlockedCommands,
		TimeoutSeconds:  c.Execution.TimeoutSeconds,
	}
}

// MCPServerConfigs translates the `[[mcp.servers]]` entries into
// mcppool.ServerConfig values ready for Pool.Register.
func (c Config) MCPServerConfigs() []mcppool.ServerConfig {
	out := make([]mcppool.ServerConfig, 0, len(c.MCP.Servers))
	for _, srv := range c.MCP.Servers {
		out = append(out, mcppool.ServerConfig{
			Name:    srv.Name,
			Type:    srv.Type,
			Command: srv.Command,
			Args:    srv.Args,
			Env:     srv.Env,
			URL:     srv.URL,
		})
	}
	return out
}

// MCPPoolTTL returns the configured TTL for pooled MCP connections.
func (c Config) MCPPoolTTL() time.Duration {
	if c.MCP.TTLSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.MCP.TTLSeconds) * time.Second
}
