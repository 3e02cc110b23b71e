package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/deepnoodle-ai/indubitably/auditlog"
	"github.com/deepnoodle-ai/indubitably/config"
	"github.com/deepnoodle-ai/indubitably/handler"
	"github.com/deepnoodle-ai/indubitably/internal/tablewriter"
	"github.com/deepnoodle-ai/indubitably/llm/anthropic"
	"github.com/deepnoodle-ai/indubitably/mcppool"
	"github.com/deepnoodle-ai/indubitably/policy"
	"github.com/deepnoodle-ai/indubitably/runner"
	"github.com/deepnoodle-ai/indubitably/session"
	"github.com/deepnoodle-ai/indubitably/slogger"
	"github.com/deepnoodle-ai/indubitably/telemetry"
	"github.com/deepnoodle-ai/indubitably/tool"
)

// headlessResult is the JSON shape printed by --json, mirroring what
// spec §7 calls "the headless runner returns stopped_reason plus a list
// of tool events".
type headlessResult struct {
	StoppedReason string                          `json:"stopped_reason"`
	TurnsUsed     int                             `json:"turns_used"`
	FinalText     string                          `json:"final_text"`
	ToolEvents    []telemetry.ToolExecutionEvent `json:"tool_events"`
}

func runHeadless(ctx context.Context) error {
	prompt, err := readPrompt()
	if err != nil {
		return err
	}

	cfg, warnings, err := config.LoadWithEnvOverride(configFlag)
	if err != nil {
		return err
	}

	level := slogger.LevelFromString("info")
	if verboseFlag {
		level = slogger.LevelDebug
	}
	log := slogger.New(level)
	ctx = slogger.WithLogger(ctx, log)
	for _, w := range warnings {
		log.Warn(w)
	}

	runnerCfg := cfg.RunnerConfig()
	if maxTurnsFlag > 0 {
		runnerCfg.MaxTurns = maxTurnsFlag
	}
	if rootCmd.Flags().Changed("exit-on-tool-error") {
		runnerCfg.ExitOnToolError = exitOnToolError
	}
	if rootCmd.Flags().Changed("dry-run") {
		runnerCfg.DryRun = dryRunFlag
	}
	if len(allowedToolsFlag) > 0 {
		runnerCfg.AllowedTools = allowedToolsFlag
	}
	if len(blockedToolsFlag) > 0 {
		runnerCfg.BlockedTools = blockedToolsFlag
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("indubitably: get working directory: %w", err)
	}
	execCtx := cfg.ExecutionContext(cwd)

	sess := session.New(cfg.SessionSettings())
	registry := tool.NewRegistry(sess.Telemetry)
	registry.Register("run_terminal_cmd", tool.Spec{
		Name:        "run_terminal_cmd",
		Description: "Runs a shell command and returns its output.",
		InputSchema: handler.ShellSchema,
	}, handler.NewShellHandler(&execCtx, policy.AutoApprove{}))

	if mcpServers := cfg.MCPServerConfigs(); len(mcpServers) > 0 {
		pool := mcppool.New(cfg.MCPPoolTTL())
		mcpHandler := handler.NewMCPHandler(pool)
		for _, srv := range mcpServers {
			pool.Register(srv)
			registerMCPTools(ctx, pool, mcpHandler, registry, srv.Name, log)
		}
		defer pool.Shutdown()
	}

	var auditLog, changesLog *auditlog.Writer
	if path := firstNonEmpty(auditLogFlag, cfg.Runner.AuditLog); path != "" {
		if auditLog, err = auditlog.New(path); err != nil {
			return err
		}
	}
	if path := firstNonEmpty(changesLogFlag, cfg.Runner.ChangesLog); path != "" {
		if changesLog, err = auditlog.New(path); err != nil {
			return err
		}
	}

	oracle := anthropic.New("")
	sched := runner.New(sess, oracle, registry, runnerCfg)
	sched.MaxTokens = cfg.Model.MaxTokens
	sched.AuditLog = auditLog
	sched.ChangesLog = changesLog

	result, err := sched.Run(ctx, prompt)
	if err != nil {
		return err
	}

	if jsonFlag {
		return printJSON(result)
	}
	printText(result)
	return nil
}

// registerMCPTools discovers serverName's tools via the pool and registers
// each one under the "server/tool" name the oracle must use to call it,
// since the registry has no notion of a tool family — only exact names.
func registerMCPTools(ctx context.Context, pool *mcppool.Pool, h *handler.MCPHandler, registry *tool.Registry, serverName string, log slogger.Logger) {
	client, err := pool.GetClient(ctx, serverName)
	if err != nil {
		log.Warn("indubitably: mcp server unreachable, skipping tool discovery", "server", serverName, "error", err.Error())
		return
	}
	tools, err := client.ListTools(ctx)
	if err != nil {
		log.Warn("indubitably: mcp list_tools failed", "server", serverName, "error", err.Error())
		return
	}
	for _, t := range tools {
		name := serverName + "/" + t.Name
		registry.Register(name, tool.Spec{Name: name, Description: t.Description}, h)
	}
}

func readPrompt() (string, error) {
	if promptFlag != "" {
		return promptFlag, nil
	}
	if promptFileFlag != "" {
		data, err := os.ReadFile(promptFileFlag)
		if err != nil {
			return "", fmt.Errorf("indubitably: read prompt file: %w", err)
		}
		return string(data), nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("indubitably: read stdin: %w", err)
	}
	return string(data), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func printJSON(result runner.Result) error {
	out := headlessResult{
		StoppedReason: string(result.StoppedReason),
		TurnsUsed:     result.TurnsUsed,
		FinalText:     result.FinalText,
		ToolEvents:    result.ToolEvents,
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func printText(result runner.Result) {
	colorEnabled := isatty.IsTerminal(os.Stdout.Fd())
	bold := color.New(color.Bold)
	if !colorEnabled {
		bold.DisableColor()
	}

	bold.Println(result.FinalText)
	fmt.Printf("\nstopped_reason: %s  turns_used: %d\n", result.StoppedReason, result.TurnsUsed)

	if len(result.ToolEvents) == 0 {
		return
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"turn", "tool", "duration", "error"})
	for _, ev := range result.ToolEvents {
		errCol := ""
		if ev.IsError {
			errCol = ev.ErrorType
		}
		table.Append([]string{
			fmt.Sprintf("%d", ev.Turn),
			ev.ToolName,
			ev.Duration.String(),
			errCol,
		})
	}
	table.Render()
}
