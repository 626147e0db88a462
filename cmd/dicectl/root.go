package main

import (
	"github.com/spf13/cobra"

	"github.com/kittclouds/dice/internal/config"
	"github.com/kittclouds/dice/internal/dicelog"
	"github.com/kittclouds/dice/internal/store"
	"github.com/kittclouds/dice/pkg/embed"
)

var (
	cfgFile string
	cfg     config.Config
	log     dicelog.Logger
	repo    *store.SQLiteStore
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "dicectl",
		Short: "Operate a DICE proposition repository",
		Long: `dicectl is a convenience harness around the DICE library.

It is not part of the core pipeline: it loads configuration, opens a SQLite
repository, and drives ingest/query/stats operations against it, the way an
operator running DICE as a service would.`,
		SilenceUsage:      true,
		PersistentPreRunE: setup,
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if repo != nil {
				return repo.Close()
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a dicectl config file (yaml)")
	root.AddCommand(newIngestCmd(), newQueryCmd(), newStatsCmd())
	return root
}

func setup(cmd *cobra.Command, args []string) error {
	loaded, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	cfg = loaded

	log = dicelog.New(dicelog.DefaultConfig())

	var embedder embed.Service
	if cfg.Embed.APIKey != "" {
		svc, err := embed.NewOpenAIService(embed.Config{
			APIKey:  cfg.Embed.APIKey,
			BaseURL: cfg.Embed.BaseURL,
			Model:   cfg.Embed.Model,
		}, log)
		if err != nil {
			return err
		}
		embedder = svc
	}

	s, err := store.NewSQLiteStore(cfg.Store.DSN, embedder, log)
	if err != nil {
		return err
	}
	repo = s
	return nil
}
