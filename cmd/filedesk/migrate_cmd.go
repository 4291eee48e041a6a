package main

import (
	"errors"

	"github.com/spf13/cobra"

	"filedesk/api/internal/config"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.StoreBackend != config.BackendPostgres {
				return errors.New("migrate requires FILEDESK_STORE=postgres")
			}
			pg, err := openPostgres(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			return pg.DB().Close()
		},
	}
}
