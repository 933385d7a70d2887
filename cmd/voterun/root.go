package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/voterun/voterun/internal/config"
	"github.com/voterun/voterun/internal/persistence/postgres"
)

func Execute(ctx context.Context) error {
	var configPath string

	root := &cobra.Command{Use: "voterun", Short: "Pre-boundary vote allocation forecaster"}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to yaml settings (defaults apply when empty)")

	root.AddCommand(migrateCmd(&configPath))
	root.AddCommand(proxiesCmd(&configPath))
	root.AddCommand(forecastCmd(&configPath))
	root.AddCommand(backtestCmd(&configPath))
	root.AddCommand(statsCmd(&configPath))
	return root.ExecuteContext(ctx)
}

func loadSettings(path string) (*config.Settings, error) {
	if path == "" {
		return config.DefaultSettings(), nil
	}
	return config.Load(path)
}

func openStore(settings *config.Settings) (*postgres.Store, error) {
	store, err := postgres.New(settings.DB)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	return store, nil
}

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
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
			return store.EnsureSchema(cmd.Context())
		},
	}
}
