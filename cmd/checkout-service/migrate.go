package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/jcmexdev/storefront-checkout/internal/checkout/infra/sqlstore"
)

func migrateCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			// Open applies the schema.
			store, err := sqlstore.Open(ctx, cfg.DB.Driver, cfg.DB.DSN)
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			defer func() { _ = store.Close() }()

			slog.InfoContext(ctx, "schema applied", "driver", cfg.DB.Driver)
			return nil
		},
	}
}
