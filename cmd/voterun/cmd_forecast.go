package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/voterun/voterun/internal/pipeline"
	"github.com/voterun/voterun/internal/proxy"
)

func forecastCmd(configPath *string) *cobra.Command {
	var (
		epoch  int64
		recent int
	)

	cmd := &cobra.Command{
		Use:   "forecast",
		Short: "Run the forecast pipeline for one epoch or a recent batch",
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

			docs := proxy.NewDocumentStore(settings.Cache, proxy.NewCache(settings.Cache))
			runner := pipeline.New(store, settings, docs)

			if epoch > 0 {
				return runner.RunEpoch(cmd.Context(), epoch)
			}
			epochs, err := store.Snapshots().Epochs(cmd.Context(), recent)
			if err != nil {
				return fmt.Errorf("failed to list snapshot epochs: %w", err)
			}
			if len(epochs) == 0 {
				return fmt.Errorf("no snapshot epochs available")
			}
			return runner.RunEpochs(cmd.Context(), epochs)
		},
	}
	cmd.Flags().Int64Var(&epoch, "epoch", 0, "single epoch to forecast (0 = batch over recent epochs)")
	cmd.Flags().IntVar(&recent, "recent", 10, "number of recent epochs in batch mode")
	return cmd
}
