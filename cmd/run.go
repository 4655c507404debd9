package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/press-digest/internal/runner"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run [all|ingest|enrich]",
		Short: "Runs the pipeline once and prints the run report",
		Args: cobra.MatchAll(cobra.MaximumNArgs(1), func(_ *cobra.Command, args []string) error {
			_, err := runner.ParseMode(modeArg(args))
			return err
		}),
		ValidArgs:   []string{string(runner.ModeAll), string(runner.ModeIngest), string(runner.ModeEnrich)},
		Annotations: needsApp,
		RunE: withApp(func(cmd *cobra.Command, args []string, a App) error {
			mode, err := runner.ParseMode(modeArg(args))
			if err != nil {
				return err
			}

			result, runErr := a.Run(cmd.Context(), runner.TriggerCLI, mode)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(result); err != nil {
				return errors.Join(runErr, fmt.Errorf("write report: %w", err))
			}
			if runErr != nil {
				return fmt.Errorf("run: %w", runErr)
			}
			return nil
		}),
	}
}

func modeArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
