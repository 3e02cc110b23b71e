package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	promptFlag       string
	promptFileFlag   string
	configFlag       string
	maxTurnsFlag     int
	exitOnToolError  bool
	allowedToolsFlag []string
	blockedToolsFlag []string
	dryRunFlag       bool
	auditLogFlag     string
	changesLogFlag   string
	jsonFlag         bool
	verboseFlag      bool
)

var rootCmd = &cobra.Command{
	Use:   "indubitably",
	Short: "Indubitably runs one coding-agent turn loop to completion.",
	Long:  "Indubitably drives the turn scheduler against a prompt read from --prompt, --prompt-file, or stdin, reporting the stop reason and tool events it produced.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runHeadless(cmd.Context())
	},
}

// Execute runs the root command, exiting the process with a non-zero
// code on fatal configuration or unrecoverable runtime error (spec §6).
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.HiddenDefaultCmd = true

	flags := rootCmd.Flags()
	flags.StringVar(&promptFlag, "prompt", "", "Prompt text to run (takes precedence over --prompt-file; falls back to stdin)")
	flags.StringVar(&promptFileFlag, "prompt-file", "", "Path to a file containing the prompt")
	flags.StringVar(&configFlag, "config", "", "Path to a TOML session config (falls back to INDUBITABLY_SESSION_CONFIG)")
	flags.IntVar(&maxTurnsFlag, "max-turns", 0, "Override [runner].max_turns from the config")
	flags.BoolVar(&exitOnToolError, "exit-on-tool-error", false, "Stop the loop on the first recoverable tool error")
	flags.BoolVar(&dryRunFlag, "dry-run", false, "Skip tool execution, recording what would have run")
	flags.StringSliceVar(&allowedToolsFlag, "allowed-tools", nil, "Only run tools in this list (repeatable, comma-separated)")
	flags.StringSliceVar(&blockedToolsFlag, "blocked-tools", nil, "Never run tools in this list (repeatable, comma-separated)")
	flags.StringVar(&auditLogFlag, "audit-log", "", "Path to append a JSONL record of every tool call")
	flags.StringVar(&changesLogFlag, "changes-log", "", "Path to append a JSONL record of every turn's file mutations")
	flags.BoolVar(&jsonFlag, "json", false, "Print the final result as JSON instead of text")
	flags.BoolVar(&verboseFlag, "verbose", false, "Log at debug level instead of info")
}
