package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/voterun/voterun/internal/backtest"
)

func backtestCmd(configPath *string) *cobra.Command {
	var (
		epoch     int64
		outputDir string
	)

	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Replay forecasts against truth labels and write the calibration report",
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

			harness := backtest.New(store.Forecasts(), store.Truth(), store.Backtests())
			gauge, portfolio, err := harness.Run(cmd.Context(), epoch)
			if err != nil {
				return err
			}

			writer := backtest.NewWriter(outputDir)
			if err := writer.WriteResults(epoch, gauge, portfolio); err != nil {
				return err
			}
			if err := writer.WriteReport(epoch, portfolio); err != nil {
				return err
			}

			fmt.Print(backtest.Report(epoch, portfolio))
			return nil
		},
	}
	cmd.Flags().Int64Var(&epoch, "epoch", 0, "epoch to backtest")
	cmd.Flags().StringVar(&outputDir, "out", "artifacts/backtest", "artifact output directory")
	cmd.MarkFlagRequired("epoch")
	return cmd
}
