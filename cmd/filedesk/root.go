package main

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"filedesk/api/internal/config"
	"filedesk/api/internal/store"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "filedesk",
		Short:        "Delegated field-level edit and approval service",
		SilenceUsage: true,
	}
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newMigrateCmd())
	cmd.AddCommand(newDelegationCmd())
	return cmd
}

func loadConfig() (config.Config, *logrus.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, cfg.Logger(), nil
}

// openPostgres connects and brings the schema up to date.
func openPostgres(ctx context.Context, cfg config.Config, log logrus.FieldLogger) (*store.PostgresStore, error) {
	db, err := store.Open(ctx, cfg.DatabaseURL, store.DefaultPoolOptions())
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	if err := store.ApplyMigrations(ctx, db, store.MigrationsSource(cfg.MigrationsDir)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations failed: %w", err)
	}
	log.WithField("migrations_dir", cfg.MigrationsDir).Info("filedesk.migrations.applied")
	return store.NewPostgresStore(db), nil
}
