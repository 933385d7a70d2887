package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/voterun/voterun/internal/domain"
	"github.com/voterun/voterun/internal/features"
)

func statsCmd(configPath *string) *cobra.Command {
	var epoch int64

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print snapshot statistics per decision window",
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings(*configPath)
			if err != nil {
				return err
			}
			store, err := openStore(settings)
			if err != nil {
				return err
			}
			defer store.Close()

			fs := features.New(store.Snapshots(), settings.Quality)
			stats, err := fs.Statistics(cmd.Context(), epoch)
			if err != nil {
				return err
			}

			fmt.Printf("epoch %d\n", epoch)
			for _, window := range domain.Windows() {
				s, ok := stats[window]
				if !ok {
					fmt.Printf("  %-9s no rows\n", window)
					continue
				}
				fmt.Printf("  %-9s rows=%d votes=%.0f rewards=$%.2f quality=%.2f inclusion=%.2f\n",
					window, s.Count, s.MeanVotesNow, s.MeanRewardsUSD,
					s.MeanQualityScore, s.MeanInclusion)
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&epoch, "epoch", 0, "epoch to summarize")
	cmd.MarkFlagRequired("epoch")
	return cmd
}
