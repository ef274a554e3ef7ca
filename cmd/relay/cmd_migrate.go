package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fwojciec/relay/postgres"
)

func newMigrateCmd(load loadFunc) *cobra.Command {
	var status bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply postgres migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if cfg.Store.DSN == "" {
				return errors.New("migrate: no database configured: set DATABASE_URL")
			}
			ctx := cmd.Context()
			if !status {
				if err := postgres.RunMigrations(ctx, cfg.Store.DSN); err != nil {
					return err
				}
			}
			v, err := postgres.MigrationVersion(ctx, cfg.Store.DSN)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", v)
			return nil
		},
	}
	cmd.Flags().BoolVar(&status, "status", false, "print the schema version without migrating")
	return cmd
}
