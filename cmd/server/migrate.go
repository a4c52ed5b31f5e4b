package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/reelhub/publish-queue/internal/config"
	"github.com/reelhub/publish-queue/internal/db"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, _ := zap.NewProduction()
			defer logger.Sync() //nolint:errcheck

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cfg.QueueStore != "postgres" {
				return errors.New("migrate requires QUEUE_STORE=postgres")
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			pool, err := db.Connect(ctx, cfg)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := db.Migrate(pool); err != nil {
				return err
			}
			logger.Info("database migrations applied")
			return nil
		},
	}
}
