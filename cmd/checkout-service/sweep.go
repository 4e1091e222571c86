package main

import (
	"encoding/json"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

func sweepCmd(load loader) *cobra.Command {
	var prune bool

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Cancel one batch of stale pending orders and exit",
		Long: `Cancel orders left pending past checkout.pending_horizon.

Orders with a completed payment or awaiting cash on delivery are left alone.
With --prune, abandoned orders are deleted instead of kept as canceled.

Examples:
  checkout-service sweep
  checkout-service sweep --prune --config ./checkout.yaml`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			flush, err := bootstrap(ctx, cfg)
			if err != nil {
				return err
			}
			defer flush()

			rt, err := build(ctx, cfg, prune)
			if err != nil {
				return err
			}
			defer func() { _ = rt.close() }()

			report, err := rt.sweeper.Sweep(ctx)
			if err != nil {
				slog.ErrorContext(ctx, "sweep finished with errors", "error", err)
			}
			out := map[string]any{"sweep": report}
			if prune {
				deleted, perr := rt.sweeper.Prune(ctx)
				if perr != nil {
					return perr
				}
				out["pruned"] = deleted
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if encErr := enc.Encode(out); encErr != nil {
				return encErr
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&prune, "prune", false, "delete abandoned orders after canceling them")
	return cmd
}
