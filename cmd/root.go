package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "solengine",
	Short: "Conversation memory and predictive pattern engine for Sol",
	Long: `sol-engine is the companion backend: it stores encrypted conversation
history, tracks Sol's personality state, learns per-user context patterns from
logged mood/energy/focus samples, and turns those patterns into proactive,
gently-timed suggestions.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", ".solengine.yml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// newLogger builds the process logger honoring --verbose. Logs go to stderr
// so the mcp command can keep stdout for the protocol.
func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
