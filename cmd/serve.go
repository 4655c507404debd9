package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serves the read API and runs the pipeline on a schedule",
		Long: `Starts the HTTP API and the scheduler. The pipeline runs every
pipeline.interval (and once at startup when pipeline.run_on_start is set)
until SIGINT or SIGTERM.`,
		Args:        cobra.NoArgs,
		Annotations: needsApp,
		RunE: withApp(func(cmd *cobra.Command, _ []string, a App) error {
			if err := a.Serve(cmd.Context()); err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			return nil
		}),
	}
}
