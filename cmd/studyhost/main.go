// Package main is the entry point for the studyhost demo host: it runs
// the study plugin runtime against a local plugin root with a synthetic
// chart data feed.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "studyhost",
		Short: "studyhost - runtime for Lua study plugins",
		Long: `studyhost discovers, sandboxes and hot-reloads Lua "study" plugins
(analytical chart overlays) from a plugin root, driving them through an
ordered update pipeline.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}

	rootCmd.AddCommand(newRunCommand())
	rootCmd.AddCommand(newStudiesCommand())

	return rootCmd
}
