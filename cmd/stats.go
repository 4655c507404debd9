package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/press-digest/internal/digest"
)

type statsOutput struct {
	digest.StoreStats
	SummaryPercentage float64 `json:"summary_percentage"`
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "stats",
		Short:       "Prints content store statistics",
		Args:        cobra.NoArgs,
		Annotations: needsApp,
		RunE: withApp(func(cmd *cobra.Command, _ []string, a App) error {
			stats, err := a.Stats(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(statsOutput{StoreStats: stats, SummaryPercentage: stats.SummarizedPercentage()}); err != nil {
				return fmt.Errorf("write stats: %w", err)
			}
			return nil
		}),
	}
}
