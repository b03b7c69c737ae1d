// internal/bot/app.go
package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-copybot/internal/blockchain/solbc"
	"github.com/rovshanmuradov/solana-copybot/internal/config"
	"github.com/rovshanmuradov/solana-copybot/internal/copytrade"
	"github.com/rovshanmuradov/solana-copybot/internal/dexscreener"
	"github.com/rovshanmuradov/solana-copybot/internal/events"
	"github.com/rovshanmuradov/solana-copybot/internal/executor"
	"github.com/rovshanmuradov/solana-copybot/internal/exit"
	"github.com/rovshanmuradov/solana-copybot/internal/journal"
	"github.com/rovshanmuradov/solana-copybot/internal/jupiter"
	"github.com/rovshanmuradov/solana-copybot/internal/model"
	"github.com/rovshanmuradov/solana-copybot/internal/notify"
	"github.com/rovshanmuradov/solana-copybot/internal/oracle"
	"github.com/rovshanmuradov/solana-copybot/internal/pnl"
	"github.com/rovshanmuradov/solana-copybot/internal/storage"
	"github.com/rovshanmuradov/solana-copybot/internal/storage/postgres"
	"github.com/rovshanmuradov/solana-copybot/internal/store"
	"github.com/rovshanmuradov/solana-copybot/internal/utils/metrics"
	"github.com/rovshanmuradov/solana-copybot/internal/wallet"
)

const eventBufferSize = 256

// App is a fully wired bot.
type App struct {
	Runner  *Runner
	Store   *store.Store
	Oracle  *oracle.Oracle
	Bus     *events.Bus
	Archive storage.Archive
}

// RunnerConfig maps the loaded configuration onto the runtime settings.
func RunnerConfig(cfg *config.Config) Config {
	return Config{
		MonitorInterval:      cfg.MonitorInterval(),
		PriceTimeout:         time.Duration(cfg.Oracle.CallTimeoutMs) * time.Millisecond,
		TradeTimeout:         cfg.TradeTimeout(),
		SlippagePct:          cfg.Trading.SlippagePct,
		PriorityFee:          cfg.Trading.PriorityFee,
		EstimatedSlippagePct: cfg.Trading.EstimatedSlippagePct,
		ExitOnGraduation:     cfg.Exit.ExitOnGraduation,
		FeeDragThreshold:     cfg.Exit.FeeDragThresholdPct,
		MetricsAddr:          cfg.MetricsAddr,
	}
}

// OpenStore connects to Redis and returns the position store with its
// archive attached when one is configured. close releases both.
func OpenStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*store.Store, storage.Archive, func() error, error) {
	rdb, err := store.NewClient(ctx, cfg.Redis)
	if err != nil {
		return nil, nil, nil, err
	}
	st := store.New(rdb, pnl.NewCalculator(cfg.Fees), cfg.StoreConfig(), logger)

	var archive storage.Archive
	if cfg.PostgresURL != "" {
		archive, err = postgres.NewArchive(cfg.PostgresURL, logger)
		if err != nil {
			_ = rdb.Close()
			return nil, nil, nil, err
		}
		if err := archive.RunMigrations(); err != nil {
			_ = archive.Close()
			_ = rdb.Close()
			return nil, nil, nil, err
		}
		st.SetArchive(archive)
	}

	closeFn := func() error {
		var errs []error
		if archive != nil {
			errs = append(errs, archive.Close())
		}
		errs = append(errs, rdb.Close())
		return errors.Join(errs...)
	}
	return st, archive, closeFn, nil
}

// Build wires every service from cfg. The returned app owns them; call
// Runner.Close after Runner.Run returns.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if len(cfg.RPCList) == 0 {
		return nil, fmt.Errorf("no RPC endpoints configured")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewCollector(registry)

	st, archive, closeStore, err := OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	calc := pnl.NewCalculator(cfg.Fees)

	sol, err := solbc.NewClient(cfg.RPCList, logger)
	if err != nil {
		_ = closeStore()
		return nil, err
	}
	registry.MustRegister(metrics.NewNodeCollector(nodeSamples(sol)))
	decimals := oracle.NewDecimalsCache(sol, logger)
	jup := jupiter.NewClient(cfg.JupiterConfig(), logger)
	dex := dexscreener.NewClient(cfg.DexScreenerConfig(), logger)
	orc := oracle.New(cfg.OracleConfig(), oracle.Tiers{
		Curve:      oracle.NewChainCurveReader(sol, solbc.IsAccountNotFoundError),
		Aggregator: jup,
		Market:     dex,
		Decimals:   decimals,
		Metrics:    m,
	}, logger)

	router, err := buildRouter(cfg, sol, jup, decimals, orc, m, logger)
	if err != nil {
		_ = closeStore()
		return nil, err
	}

	bus := events.NewBus(logger, eventBufferSize)

	copier := copytrade.NewEngine(cfg.CopyConfig(), copytrade.Deps{
		Store:    st,
		Prices:   orc,
		Trader:   router,
		Strategy: cfg.Trading.Strategy,
		Events:   bus,
		Metrics:  m,
	}, logger)

	sells := exit.NewWalletSellChecker(st, sol,
		time.Duration(cfg.Exit.WalletCheckTTLMs)*time.Millisecond, logger)
	exits := exit.NewEngine(cfg.ExitConfig(), sells, cfg.ThresholdStrategy(), st, logger)

	runner := NewRunner(RunnerConfig(cfg), Deps{
		Store:    st,
		Prices:   orc,
		Copier:   copier,
		Exits:    exits,
		Seller:   router,
		Calc:     calc,
		Events:   bus,
		Metrics:  m,
		Registry: registry,
	}, logger)

	// Closed in reverse: the bus drains into the notifier and journal before
	// they stop, and the store goes last.
	runner.OnShutdown("store", closeStore)

	if cfg.JournalDir != "" {
		j := journal.New(cfg.JournalDir, 10*time.Second, logger)
		j.Subscribe(bus)
		runner.OnShutdown("journal", j.Close)
	}

	sinks := []notify.Sink{notify.NewLogSink(logger)}
	if cfg.Telegram.Token != "" {
		tg, err := notify.NewTelegramSink(cfg.Telegram.Token, cfg.Telegram.ChatID)
		if err != nil {
			logger.Warn("Telegram notifications disabled", zap.Error(err))
		} else {
			sinks = append(sinks, tg)
		}
	}
	notifier := notify.NewNotifier(sinks, notify.DefaultTimeout, logger)
	notifier.Subscribe(bus)
	runner.OnShutdown("notifier", func() error {
		waitCtx, cancel := context.WithTimeout(context.Background(), notify.DefaultTimeout)
		defer cancel()
		return notifier.Wait(waitCtx)
	})
	runner.OnShutdown("events", func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return bus.Shutdown(shutdownCtx)
	})

	logger.Info("Bot wired",
		zap.Bool("live", cfg.Trading.Live),
		zap.Int("rpc_nodes", len(cfg.RPCList)),
		zap.Int("tracked_wallets", trackedCount(cfg)),
		zap.Bool("archive", archive != nil),
		zap.Int("notification_sinks", len(sinks)))

	return &App{Runner: runner, Store: st, Oracle: orc, Bus: bus, Archive: archive}, nil
}

// buildRouter returns live executors when trading is live and a simulator on
// both venues otherwise.
func buildRouter(cfg *config.Config, sol *solbc.Client, jup *jupiter.Client, decimals *oracle.DecimalsCache,
	orc *oracle.Oracle, m *metrics.Collector, logger *zap.Logger) (*executor.Router, error) {
	if !cfg.Trading.Live {
		sim := executor.NewSimulated(func(ctx context.Context, mint string) (float64, error) {
			q, err := orc.GetPrice(ctx, mint, oracle.Options{})
			if err != nil {
				return 0, err
			}
			return q.Price, nil
		}, cfg.SimulatedConfig(), logger)
		logger.Info("📝 Paper trading: orders are simulated")
		return executor.NewRouter(cfg.RouterConfig(), m, logger,
			sim, sim.WithVenue(model.VenueAggregator)), nil
	}

	if cfg.Wallets == nil {
		return nil, wallet.ErrNoKey
	}
	w, err := wallet.NewWallet(cfg.Wallets.Trading.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("trading wallet: %w", err)
	}
	confirm := executor.NewConfirmer(sol, sol, w.PublicKey, cfg.ConfirmerConfig(), logger)
	logger.Info("💸 Live trading enabled", zap.String("wallet", w.PublicKey.String()))
	return executor.NewRouter(cfg.RouterConfig(), m, logger,
		executor.NewPumpPortal(cfg.PumpPortalConfig(), confirm, logger),
		executor.NewJupiter(jup, w, sol, decimals, confirm, logger),
	), nil
}

func trackedCount(cfg *config.Config) int {
	if cfg.Wallets == nil {
		return 0
	}
	return len(cfg.Wallets.Tracked)
}

// nodeSamples adapts the RPC pool's health to the metrics exporter.
func nodeSamples(sol *solbc.Client) func() []metrics.NodeSample {
	return func() []metrics.NodeSample {
		nodes := sol.Nodes()
		out := make([]metrics.NodeSample, len(nodes))
		for i, n := range nodes {
			out[i] = metrics.NodeSample{
				URL:        n.URL,
				State:      n.State,
				Successes:  n.Successes,
				Failures:   n.Failures,
				AvgLatency: n.AvgLatency,
			}
		}
		return out
	}
}
