package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tickfolio/studyhost/internal/study"
)

func newStudiesCommand() *cobra.Command {
	var root string

	cmd := &cobra.Command{
		Use:   "studies",
		Short: "List discovered studies and their load status",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := zerolog.New(os.Stderr).Level(zerolog.ErrorLevel)
			metrics := study.NewMetrics(nil)
			registry := study.NewRegistry(logger, metrics)
			loader := study.NewLoader(root, registry, logger, metrics)

			status := loader.LoadAll()
			defer registry.DestroyAll()

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tENABLED\tSOURCE")
			for _, id := range status.LoadedIDs {
				enabled := "-"
				if settings, ok := registry.SettingsOf(id); ok {
					enabled = fmt.Sprintf("%t", settings.Enabled())
				}
				source := ""
				if d, ok := loader.Descriptor(id); ok {
					source = d.SourcePath
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", id, enabled, source)
			}
			w.Flush()

			if status.ErrorCount > 0 {
				fmt.Fprintf(os.Stdout, "\n%d failed:\n", status.ErrorCount)
				for id, msg := range status.Errors {
					fmt.Fprintf(os.Stdout, "  %s: %s\n", id, msg)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&root, "root", "r", "./studies", "plugin root directory")

	return cmd
}
