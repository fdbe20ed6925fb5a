// Package commands provides the CLI commands for Lace.
package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/obra/lace-sub001/internal/lacelog"
)

// Version information set at build time.
var (
	Version   = "0.1.0"
	BuildTime = "dev"
)

var (
	flagProvider string
	flagModel    string
	flagPrompt   string
	flagContinue string
	flagLogLevel string
	flagLogFile  string
	flagHARFile  string

	flagAllowNonDestructive   bool
	flagAutoApproveTools      bool
	flagDisableTools          []string
	flagDisableAllTools       bool
	flagDisableToolGuardrails bool
	flagListTools             bool
)

var rootCmd = &cobra.Command{
	Use:   "lace [prompt...]",
	Short: "Lace - an interactive coding assistant",
	Long: `Lace drives a conversation between you, a language model, and a set
of local tools (shell, file I/O, sub-agent delegation), recording every
turn in an append-only thread you can resume later.

Examples:
  lace --prompt "List the files in this directory"
  lace --provider anthropic --model claude-sonnet-4-20250514 --prompt "..."
  lace --continue lace_20250714_a1b2c3 --prompt "pick up where we left off"`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// A .env next to the working directory is a convenience for
		// provider keys; absence is not an error.
		_ = godotenv.Load()

		logCfg := lacelog.Config{
			Level:  lacelog.ParseLevel(flagLogLevel),
			Output: os.Stderr,
		}
		if flagLogFile != "" {
			logCfg.LogToFile = true
			logCfg.LogDir = flagLogFile
		}
		lacelog.Init(logCfg)

		if flagHARFile != "" {
			lacelog.Logger.Debug().Str("har", flagHARFile).Msg("HAR capture requested")
		}
	},
	RunE: runLace,
}

func init() {
	rootCmd.Flags().StringVar(&flagProvider, "provider", "", "Provider to use (anthropic|openai|ark)")
	rootCmd.Flags().StringVar(&flagModel, "model", "", "Model id, or provider:model")
	rootCmd.Flags().StringVarP(&flagPrompt, "prompt", "p", "", "Run a single prompt non-interactively")
	rootCmd.Flags().StringVar(&flagContinue, "continue", "", "Continue a stored thread (id, or blank for the latest)")
	rootCmd.Flags().Lookup("continue").NoOptDefVal = "latest"

	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "Log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().StringVar(&flagLogFile, "log-file", "", "Write logs to a file under this directory")
	rootCmd.PersistentFlags().StringVar(&flagHARFile, "har-file", "", "HAR file path for provider HTTP traffic (logged at debug level; no traffic is recorded)")

	rootCmd.Flags().BoolVar(&flagAllowNonDestructive, "allow-non-destructive-tools", false, "Auto-approve read-only tools")
	rootCmd.Flags().BoolVar(&flagAutoApproveTools, "auto-approve-tools", false, "Auto-approve every tool call")
	rootCmd.Flags().StringSliceVar(&flagDisableTools, "disable-tools", nil, "Disable the named tools")
	rootCmd.Flags().BoolVar(&flagDisableAllTools, "disable-all-tools", false, "Run with no tools at all")
	rootCmd.Flags().BoolVar(&flagDisableToolGuardrails, "disable-tool-guardrails", false, "Stored in the tool policy; doom-loop and pattern checks still run")
	rootCmd.Flags().BoolVar(&flagListTools, "list-tools", false, "List available tools and exit")

	rootCmd.SetVersionTemplate(fmt.Sprintf("lace %s (%s)\n", Version, BuildTime))
}

// Execute runs the root command. A returned error maps to a non-zero
// process exit in main.
func Execute() error {
	return rootCmd.Execute()
}

func promptFromFlagsAndArgs(args []string) string {
	if flagPrompt != "" {
		return flagPrompt
	}
	return strings.Join(args, " ")
}
