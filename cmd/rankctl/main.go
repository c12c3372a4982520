// Command rankctl operates the ranking engine from the command line:
// triggering daily runs, inspecting results, and draining the transfer
// queue. It connects to the same database as the server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/visual/ranking-engine/internal/config"
	"github.com/visual/ranking-engine/internal/engine"
	"github.com/visual/ranking-engine/internal/model"
	"github.com/visual/ranking-engine/internal/store"
	"github.com/visual/ranking-engine/internal/transfer"
)

// rootOptions holds global flags for all commands.
type rootOptions struct {
	Database string
	Config   string
	Verbose  bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "rankctl",
		Short: "Operate the daily ranking engine",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelWarn
			if opts.Verbose {
				level = slog.LevelDebug
			}
			handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
			slog.SetDefault(slog.New(handler))
		},
	}

	cmd.PersistentFlags().StringVar(&opts.Database, "db", os.Getenv("DATABASE_URL"), "PostgreSQL connection URL (defaults to DATABASE_URL)")
	cmd.PersistentFlags().StringVar(&opts.Config, "config", os.Getenv("CONFIG_PATH"), "engine config file (defaults to CONFIG_PATH)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newResultCommand(opts))
	cmd.AddCommand(newTransfersCommand(opts))

	return cmd
}

func newRunCommand(opts *rootOptions) *cobra.Command {
	var date string
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute the daily ranking run for a date",
		Long: `Execute the daily ranking and redistribution run for a date.

Re-running a finalized date returns the stored result without writing
anything. With --dry-run, everything is computed and printed but nothing
is persisted.

Example:
  rankctl run --date 2026-03-14
  rankctl run --date 2026-03-14 --dry-run`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			day, err := model.ParseDay(date)
			if err != nil {
				return fmt.Errorf("invalid --date: %w", err)
			}

			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			st, ledger, cleanup, err := openStore(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer cleanup()

			eng := engine.New(cfg, ledger, st)
			res, err := eng.Run(cmd.Context(), day, dryRun)
			if err != nil {
				return fmt.Errorf("run failed: %w", err)
			}
			return printJSON(cmd, res)
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "day to process, YYYY-MM-DD (required)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "compute without persisting")
	_ = cmd.MarkFlagRequired("date")

	return cmd
}

func newResultCommand(opts *rootOptions) *cobra.Command {
	var date string

	cmd := &cobra.Command{
		Use:           "result",
		Short:         "Show the stored result for a date",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			day, err := model.ParseDay(date)
			if err != nil {
				return fmt.Errorf("invalid --date: %w", err)
			}

			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			st, ledger, cleanup, err := openStore(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer cleanup()

			eng := engine.New(cfg, ledger, st)
			res, err := eng.GetRankingResult(cmd.Context(), day)
			if err != nil {
				return fmt.Errorf("no result for %s: %w", day, err)
			}
			return printJSON(cmd, res)
		},
	}

	cmd.Flags().StringVar(&date, "date", "", "day to show, YYYY-MM-DD (required)")
	_ = cmd.MarkFlagRequired("date")

	return cmd
}

func newTransfersCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transfers",
		Short: "Manage queued payout transfers",
	}
	cmd.AddCommand(newTransfersProcessCommand(opts))
	return cmd
}

func newTransfersProcessCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "process",
		Short:         "Process all due transfers once",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, _, cleanup, err := openStore(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer cleanup()

			worker := transfer.NewWorker(st, transfer.NewLogClient())
			sum, err := worker.Sweep(cmd.Context())
			if err != nil {
				return fmt.Errorf("sweep failed: %w", err)
			}
			return printJSON(cmd, sum)
		},
	}
	return cmd
}

func loadConfig(opts *rootOptions) (config.Engine, error) {
	if opts.Config == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return config.Engine{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// openStore connects to PostgreSQL when a URL is given, otherwise falls
// back to the in-memory store (useful only for dry runs against nothing).
func openStore(ctx context.Context, opts *rootOptions) (store.Store, store.Ledger, func(), error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.Database == "" {
		mem := store.NewMemoryStore()
		return mem, store.NewMemoryLedger(), func() {}, nil
	}

	pool, err := pgxpool.New(ctx, opts.Database)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect: %w", err)
	}
	pg := store.NewPostgresStore(pool)
	if err := pg.InitSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, nil, fmt.Errorf("init schema: %w", err)
	}
	return pg, store.NewPostgresLedger(pool), pool.Close, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
