package main

import (
	"context"
	"fmt"
	"io"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/djlord-it/morning-brief/internal/api"
	"github.com/djlord-it/morning-brief/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// withApp loads configuration, builds the app without metrics and runs fn.
func withApp(cmd *cobra.Command, opts *rootOptions, fn func(ctx context.Context, a *app) error) error {
	cfg, err := opts.loadConfig(true)
	if err != nil {
		return err
	}
	logger, flush, err := newLogger(cfg)
	if err != nil {
		return invalidConfig(err)
	}
	defer flush()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := newApp(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func tickCmd(opts *rootOptions) *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Run one scheduling tick and exit",
		Long: `Run one scheduling tick: every enabled user whose delivery time falls
inside the window at the given instant gets a briefing, unless one was
already delivered for that local day.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now()
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("--now: %w", err)
				}
				now = t
			}
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				res, err := a.controller.Tick(ctx, now)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), api.TickResponse{
					Now:       now.UTC().Format(time.RFC3339),
					Processed: res.Processed,
					Delivered: res.Delivered,
					Failed:    res.Failed,
					Skipped:   res.Skipped,
					NotDue:    res.NotDue,
				})
			})
		},
	}
	cmd.Flags().StringVar(&at, "now", "", "evaluate the tick at this RFC 3339 instant instead of the current time")
	return cmd
}

func runCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run <user-id>",
		Short: "Build and deliver one user's briefing now",
		Long: `Build and deliver one user's briefing immediately, ignoring the delivery
window. A briefing already delivered for the user's local day is not sent
again.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				res, err := a.runner.RunForUser(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), api.ToResultResponse(res))
			})
		},
	}
}

func historyCmd(opts *rootOptions) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history <user-id>",
		Short: "Print a user's delivery records, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive")
			}
			limit = min(limit, api.MaxLimit)
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				records, err := a.store.History(ctx, args[0], limit)
				if err != nil {
					return err
				}
				out := api.ListDeliveriesResponse{
					UserID:     args[0],
					Deliveries: make([]api.DeliveryRecordResponse, 0, len(records)),
				}
				for _, rec := range records {
					out.Deliveries = append(out.Deliveries, api.ToRecordResponse(rec))
				}
				return printJSON(cmd.OutOrStdout(), out)
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", api.DefaultLimit, "maximum records (capped at 500)")
	return cmd
}

func migrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(ctx context.Context, a *app) error {
				if err := a.store.Migrate(ctx); err != nil {
					return fmt.Errorf("migrate: %w", err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
				return nil
			})
		},
	}
}

func validateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration (no connections made)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := opts.loadConfig(true); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "configuration valid")
			return nil
		},
	}
}

func configCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print effective configuration as JSON (secrets masked)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.envFile)
			if err != nil {
				return invalidConfig(err)
			}
			data, err := cfg.MaskedJSON()
			if err != nil {
				return fmt.Errorf("marshal config: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "briefd version %s (commit: %s)\n", version, commit)
			return nil
		},
	}
}
