package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"filedesk/api/internal/config"
	"filedesk/api/internal/store"
)

func newDelegationCmd() *cobra.Command {
	var (
		staffID  string
		targetID string
		isScheme bool
	)

	cmd := &cobra.Command{
		Use:   "delegation",
		Short: "Grant or revoke a supervisor's delegation to a file or scheme",
	}
	cmd.PersistentFlags().StringVar(&staffID, "staff", "", "staff member id")
	cmd.PersistentFlags().StringVar(&targetID, "target", "", "file or scheme id")
	cmd.PersistentFlags().BoolVar(&isScheme, "scheme", false, "target is a scheme rather than a file")
	_ = cmd.MarkPersistentFlagRequired("staff")
	_ = cmd.MarkPersistentFlagRequired("target")

	run := func(apply func(cmd *cobra.Command, pg *store.PostgresStore) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.StoreBackend != config.BackendPostgres {
				return errors.New("delegations are managed in postgres; set FILEDESK_STORE=postgres")
			}
			pg, err := openPostgres(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer pg.DB().Close()
			return apply(cmd, pg)
		}
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "grant",
		Short: "Delegate a target to a staff member",
		RunE: run(func(cmd *cobra.Command, pg *store.PostgresStore) error {
			if err := pg.GrantDelegation(cmd.Context(), store.Delegation{StaffID: staffID, TargetID: targetID, IsScheme: isScheme}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "granted %s -> %s\n", staffID, targetID)
			return nil
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "revoke",
		Short: "Withdraw a staff member's delegation",
		RunE: run(func(cmd *cobra.Command, pg *store.PostgresStore) error {
			if err := pg.RevokeDelegation(cmd.Context(), staffID, store.Target{ID: targetID, IsScheme: isScheme}); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "revoked %s -> %s\n", staffID, targetID)
			return nil
		}),
	})
	return cmd
}
