package main

import (
	"github.com/spf13/cobra"

	"github.com/voterun/voterun/internal/pipeline"
	"github.com/voterun/voterun/internal/proxy"
)

func proxiesCmd(configPath *string) *cobra.Command {
	var epoch int64

	cmd := &cobra.Command{
		Use:   "proxies",
		Short: "Fit drift and uplift proxies and write estimate documents",
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
			return runner.LearnProxies(cmd.Context(), epoch)
		},
	}
	cmd.Flags().Int64Var(&epoch, "epoch", 0, "epoch to learn against")
	cmd.MarkFlagRequired("epoch")
	return cmd
}
