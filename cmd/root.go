package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/pawnsight/coach/internal/obslog"
)

var rootCmd = &cobra.Command{
	Use:   "coach",
	Short: "Chess coaching engine",
	Long: `Coach evaluates chess games and live sessions with a UCI engine and
turns the raw evaluations into per-move coaching feedback.

Batch mode replays PGN files and writes per-game analysis artifacts;
play mode runs an interactive session against a strength-limited engine.`,
}

// Execute runs the root command.
func Execute() {
	_ = godotenv.Load()
	if err := obslog.InitFromEnv(); err != nil {
		fmt.Fprintln(os.Stderr, "logger init:", err)
		os.Exit(1)
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
