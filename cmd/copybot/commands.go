// cmd/copybot/commands.go
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/gagliardetto/solana-go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-copybot/internal/bot"
	"github.com/rovshanmuradov/solana-copybot/internal/config"
	"github.com/rovshanmuradov/solana-copybot/internal/export"
	"github.com/rovshanmuradov/solana-copybot/internal/logger"
	"github.com/rovshanmuradov/solana-copybot/internal/model"
	"github.com/rovshanmuradov/solana-copybot/internal/storage"
	"github.com/rovshanmuradov/solana-copybot/internal/store"
)

const shutdownTimeout = 30 * time.Second

type globalFlags struct {
	configPath string
	debug      bool
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "copybot",
		Short:         "Copy trades of tracked wallets on pump.fun tokens",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "configs/config.json", "path to config file")
	root.PersistentFlags().BoolVar(&g.debug, "debug", false, "enable debug logging")

	root.AddCommand(
		newRunCmd(g),
		newPositionsCmd(g),
		newSellCmd(g),
		newHistoryCmd(g),
		newExportCmd(g),
	)
	return root
}

// setup loads the config and builds the console logger.
func setup(g *globalFlags) (*config.Config, *zap.Logger, func(), error) {
	cfg, err := config.LoadConfig(g.configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	log, closeLog, err := logger.New(logger.Options{
		Debug: cfg.DebugLogging || g.debug,
		File:  cfg.LogFile,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}
	cleanup := func() {
		_ = log.Sync()
		_ = closeLog()
	}
	return cfg, log, cleanup, nil
}

func newRunCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the copy, sell-signal and monitor loops",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, cleanup, err := setup(g)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			app, err := bot.Build(ctx, cfg, log)
			if err != nil {
				log.Error("Failed to initialize bot", zap.Error(err))
				return err
			}

			runErr := app.Runner.Run(ctx)
			log.Info("🛑 Shutting down")

			closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return errors.Join(runErr, app.Runner.Close(closeCtx))
		},
	}
}

type storeDeps struct {
	archive storage.Archive
	out     io.Writer
	logger  *zap.Logger
}

// withStore opens only the store for the read and flag commands.
func withStore(cmd *cobra.Command, g *globalFlags, fn func(ctx context.Context, st *store.Store, deps storeDeps) error) error {
	cfg, log, cleanup, err := setup(g)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := cmd.Context()
	st, archive, closeStore, err := bot.OpenStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = closeStore() }()
	return fn(ctx, st, storeDeps{archive: archive, out: cmd.OutOrStdout(), logger: log})
}

func newPositionsCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "positions",
		Short: "List open positions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd, g, func(ctx context.Context, st *store.Store, deps storeDeps) error {
				open, err := st.GetOpenPositions(ctx)
				if err != nil {
					return err
				}
				renderPositions(deps.out, open, time.Now())
				return nil
			})
		},
	}
}

func newSellCmd(g *globalFlags) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "sell <mint>",
		Short: "Flag a position for exit on the next monitor pass",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mint := args[0]
			if _, err := solana.PublicKeyFromBase58(mint); err != nil {
				return fmt.Errorf("invalid mint %q: %w", mint, err)
			}
			return withStore(cmd, g, func(ctx context.Context, st *store.Store, deps storeDeps) error {
				pos, err := st.GetPosition(ctx, mint)
				if err != nil {
					return err
				}
				if !pos.IsOpen() {
					return fmt.Errorf("position %s is %s", mint, pos.Status)
				}
				if err := st.SetForceExit(ctx, mint, reason); err != nil {
					return err
				}
				fmt.Fprintf(deps.out, "exit requested for %s (%s)\n", mint, reason)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "manual", "exit reason recorded on the trade")
	return cmd
}

func newHistoryCmd(g *globalFlags) *cobra.Command {
	var (
		day        string
		useArchive bool
		limit      int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show closed trades for a day or from the archive",
		RunE: func(cmd *cobra.Command, _ []string) error {
			when := time.Now().UTC()
			if day != "" {
				parsed, err := time.Parse("2006-01-02", day)
				if err != nil {
					return fmt.Errorf("invalid --day %q: %w", day, err)
				}
				when = parsed
			}
			return withStore(cmd, g, func(ctx context.Context, st *store.Store, deps storeDeps) error {
				if !useArchive {
					trades, err := st.TradeHistory(ctx, when)
					if err != nil {
						return err
					}
					renderTrades(deps.out, trades)
					return nil
				}

				if deps.archive == nil {
					return errors.New("no archive configured (postgres_url)")
				}
				trades, err := deps.archive.RecentTrades(ctx, limit)
				if err != nil {
					return err
				}
				renderTrades(deps.out, trades)
				sum, err := deps.archive.Summarize(ctx, when.Truncate(24*time.Hour))
				if err != nil {
					return err
				}
				fmt.Fprintf(deps.out, "since %s: %d trades, win rate %.1f%%, spent %.4f SOL, pnl %+.4f SOL\n",
					when.Format("2006-01-02"), sum.Trades, sum.WinRate(), sum.SolSpent, sum.PnL)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&day, "day", "", "UTC day as YYYY-MM-DD (default today)")
	cmd.Flags().BoolVar(&useArchive, "archive", false, "read from the SQL archive instead of Redis")
	cmd.Flags().IntVar(&limit, "limit", 50, "max archived trades to show")
	return cmd
}

func newExportCmd(g *globalFlags) *cobra.Command {
	var (
		from, to   string
		format     string
		outDir     string
		reason     string
		mint       string
		daily      bool
		useArchive bool
		limit      int
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write closed trades to CSV or JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			start, end, err := dayRange(from, to, time.Now().UTC())
			if err != nil {
				return err
			}
			return withStore(cmd, g, func(ctx context.Context, st *store.Store, deps storeDeps) error {
				var trades []*model.TradeRecord
				if useArchive {
					if deps.archive == nil {
						return errors.New("no archive configured (postgres_url)")
					}
					if trades, err = deps.archive.RecentTrades(ctx, limit); err != nil {
						return err
					}
				} else {
					for d := start; d.Before(end); d = d.AddDate(0, 0, 1) {
						dayTrades, err := st.TradeHistory(ctx, d)
						if err != nil {
							return err
						}
						trades = append(trades, dayTrades...)
					}
				}

				exporter := export.NewTradeExporter(deps.logger)
				var path string
				if daily {
					path, err = exporter.ExportDailyReport(trades, start, outDir)
				} else {
					path, err = exporter.ExportTrades(trades, export.Options{
						Format:       export.Format(format),
						StartTime:    start,
						EndTime:      end,
						TokenFilter:  mint,
						ReasonFilter: reason,
						OutputDir:    outDir,
					})
				}
				if err != nil {
					return err
				}
				if path == "" {
					fmt.Fprintln(deps.out, "no trades to export")
					return nil
				}
				fmt.Fprintln(deps.out, path)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "first UTC day, YYYY-MM-DD (default today)")
	cmd.Flags().StringVar(&to, "to", "", "last UTC day, inclusive (default --from)")
	cmd.Flags().StringVar(&format, "format", string(export.FormatCSV), "csv or json")
	cmd.Flags().StringVar(&outDir, "out", "exports", "output directory")
	cmd.Flags().StringVar(&reason, "reason", "", "only trades closed for this reason")
	cmd.Flags().StringVar(&mint, "mint", "", "only trades of this token")
	cmd.Flags().BoolVar(&daily, "daily", false, "write a daily JSON report for --from")
	cmd.Flags().BoolVar(&useArchive, "archive", false, "read from the SQL archive instead of Redis")
	cmd.Flags().IntVar(&limit, "limit", 1000, "max archived trades to read")
	return cmd
}

// dayRange parses inclusive UTC day bounds into [start, end).
func dayRange(from, to string, now time.Time) (time.Time, time.Time, error) {
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if from != "" {
		parsed, err := time.Parse("2006-01-02", from)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --from %q: %w", from, err)
		}
		start = parsed
	}
	last := start
	if to != "" {
		parsed, err := time.Parse("2006-01-02", to)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --to %q: %w", to, err)
		}
		last = parsed
	}
	if last.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("--to %s is before --from %s", to, from)
	}
	return start, last.AddDate(0, 0, 1), nil
}

var headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00E5FF")).Padding(0, 1)
var cellStyle = lipgloss.NewStyle().Padding(0, 1)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

func renderPositions(w io.Writer, open []*model.Position, now time.Time) {
	if len(open) == 0 {
		fmt.Fprintln(w, "no open positions")
		return
	}
	t := newTable("Mint", "Venue", "Entry", "SOL", "Tokens", "Max", "Held", "Source")
	for _, p := range open {
		t.Row(
			p.TokenMint,
			string(p.EntryVenue),
			fmt.Sprintf("%.10f", p.EntryPrice),
			fmt.Sprintf("%.4f", p.SolSpent),
			fmt.Sprintf("%.0f", p.TokenAmount),
			fmt.Sprintf("%.10f", p.MaxPrice),
			now.Sub(p.EntryTime).Truncate(time.Second).String(),
			p.SourceWallet,
		)
	}
	fmt.Fprintln(w, t.Render())
}

func renderTrades(w io.Writer, trades []*model.TradeRecord) {
	if len(trades) == 0 {
		fmt.Fprintln(w, "no closed trades")
		return
	}
	t := newTable("Mint", "Reason", "Spent", "Received", "PnL", "PnL %", "Held", "Closed")
	var total float64
	for _, r := range trades {
		total += r.PnL
		t.Row(
			r.TokenMint,
			r.Reason,
			fmt.Sprintf("%.4f", r.SolSpent),
			fmt.Sprintf("%.4f", r.SolReceived),
			fmt.Sprintf("%+.4f", r.PnL),
			fmt.Sprintf("%+.2f", r.PnLPercent),
			r.HoldTime().Truncate(time.Second).String(),
			r.ExitTime.UTC().Format(time.RFC3339),
		)
	}
	fmt.Fprintln(w, t.Render())
	fmt.Fprintf(w, "%d trades, total pnl %+.4f SOL\n", len(trades), total)
}
