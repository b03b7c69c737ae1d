// internal/bot/runner.go
package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rovshanmuradov/solana-copybot/internal/copytrade"
	"github.com/rovshanmuradov/solana-copybot/internal/events"
	"github.com/rovshanmuradov/solana-copybot/internal/executor"
	"github.com/rovshanmuradov/solana-copybot/internal/exit"
	"github.com/rovshanmuradov/solana-copybot/internal/model"
	"github.com/rovshanmuradov/solana-copybot/internal/oracle"
	"github.com/rovshanmuradov/solana-copybot/internal/pnl"
	"github.com/rovshanmuradov/solana-copybot/internal/store"
	"github.com/rovshanmuradov/solana-copybot/internal/utils/metrics"
)

// Store is the persistence the loops need.
type Store interface {
	PopCopySignal(ctx context.Context, timeout time.Duration) (*model.CopySignal, error)
	PopSellSignal(ctx context.Context, timeout time.Duration) (*model.SellSignal, error)
	RecordSellers(ctx context.Context, sig *model.SellSignal, ttl time.Duration) error
	GetPosition(ctx context.Context, mint string) (*model.Position, error)
	ScanOpen(ctx context.Context) ([]*model.Position, []*model.CorruptPosition, error)
	UpdateMaxPrice(ctx context.Context, mint string, price float64) (bool, error)
	SetForceExit(ctx context.Context, mint, reason string) error
	ForceExit(ctx context.Context, mint string) (string, bool, error)
	ClearForceExit(ctx context.Context, mint string) error
	ClosePosition(ctx context.Context, req store.CloseRequest) (*store.Closed, error)
	ForceClearSold(ctx context.Context, mint, reason string, sale *store.Sale) (*model.TradeRecord, error)
	PendingBuys(ctx context.Context) ([]*model.PendingBuy, error)
}

type PriceSource interface {
	GetPrice(ctx context.Context, mint string, opts oracle.Options) (*model.PriceQuote, error)
	// Invalidate forgets cached state of a mint that is no longer held.
	Invalidate(mint string)
}

type Copier interface {
	Process(ctx context.Context, sig *model.CopySignal) (*copytrade.Outcome, error)
}

type ExitEvaluator interface {
	Evaluate(ctx context.Context, in exit.Input) model.ExitDecision
}

// Seller places exit orders and learns about graduations.
type Seller interface {
	Sell(ctx context.Context, venue model.Venue, mint string, tokens, slippagePct, priorityFee float64) (*executor.TradeResult, error)
	MarkGraduated(mint string)
}

type Config struct {
	MonitorInterval      time.Duration
	PopTimeout           time.Duration
	IterationBackoff     time.Duration
	PriceTimeout         time.Duration
	TradeTimeout         time.Duration
	SlippagePct          float64
	PriorityFee          float64
	// EstimatedSlippagePct haircuts the value of a not-yet-placed sale.
	EstimatedSlippagePct float64
	ExitOnGraduation     bool
	// FeeDragThreshold is in percentage points; zero disables the check.
	FeeDragThreshold     float64
	SellerTTL            time.Duration
	// SalvageAttempts bounds sells of an unreadable position before it is
	// cleared without a sale.
	SalvageAttempts      int
	MetricsAddr          string
}

func DefaultConfig() Config {
	return Config{
		MonitorInterval:      2 * time.Second,
		PopTimeout:           5 * time.Second,
		IterationBackoff:     2 * time.Second,
		PriceTimeout:         4 * time.Second,
		TradeTimeout:         45 * time.Second,
		SlippagePct:          15,
		PriorityFee:          0.0005,
		EstimatedSlippagePct: 1,
		ExitOnGraduation:     true,
		FeeDragThreshold:     pnl.DefaultDiscrepancyThreshold,
		SellerTTL:            24 * time.Hour,
		SalvageAttempts:      3,
	}
}

type Deps struct {
	Store    Store
	Prices   PriceSource
	Copier   Copier
	Exits    ExitEvaluator
	Seller   Seller
	Calc     *pnl.Calculator
	Events   events.Publisher
	Metrics  *metrics.Collector
	Registry *prometheus.Registry
}

// Runner owns the copy, sell-signal and monitor loops.
type Runner struct {
	cfg      Config
	store    Store
	prices   PriceSource
	copier   Copier
	exits    ExitEvaluator
	seller   Seller
	calc     *pnl.Calculator
	events   events.Publisher
	metrics  *metrics.Collector
	registry *prometheus.Registry
	logger   *zap.Logger
	shutdown *ShutdownHandler

	mu        sync.Mutex
	salvages  map[string]int
	graduated map[string]struct{}

	sleep func(ctx context.Context, d time.Duration) error
}

func NewRunner(cfg Config, deps Deps, logger *zap.Logger) *Runner {
	def := DefaultConfig()
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = def.MonitorInterval
	}
	if cfg.PopTimeout <= 0 {
		cfg.PopTimeout = def.PopTimeout
	}
	if cfg.IterationBackoff <= 0 {
		cfg.IterationBackoff = def.IterationBackoff
	}
	if cfg.PriceTimeout <= 0 {
		cfg.PriceTimeout = def.PriceTimeout
	}
	if cfg.TradeTimeout <= 0 {
		cfg.TradeTimeout = def.TradeTimeout
	}
	if cfg.SellerTTL <= 0 {
		cfg.SellerTTL = def.SellerTTL
	}
	if cfg.SalvageAttempts <= 0 {
		cfg.SalvageAttempts = def.SalvageAttempts
	}
	if deps.Calc == nil {
		deps.Calc = pnl.NewCalculator(pnl.DefaultFeeSchedule())
	}
	logger = logger.Named("bot")
	return &Runner{
		cfg:       cfg,
		store:     deps.Store,
		prices:    deps.Prices,
		copier:    deps.Copier,
		exits:     deps.Exits,
		seller:    deps.Seller,
		calc:      deps.Calc,
		events:    deps.Events,
		metrics:   deps.Metrics,
		registry:  deps.Registry,
		logger:    logger,
		shutdown:  NewShutdownHandler(logger, 30*time.Second),
		salvages:  make(map[string]int),
		graduated: make(map[string]struct{}),
		sleep:     sleepCtx,
	}
}

// OnShutdown registers a service to close after the loops stop.
func (r *Runner) OnShutdown(name string, fn func() error) {
	r.shutdown.AddFunc(name, fn)
}

// Run starts every loop and blocks until ctx is cancelled or a loop fails
// permanently.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("🚀 Copy bot starting",
		zap.Duration("monitor_interval", r.cfg.MonitorInterval),
		zap.Bool("exit_on_graduation", r.cfg.ExitOnGraduation))

	r.reportPendingBuys(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return r.loop(gctx, "copy", r.CopyOnce) })
	g.Go(func() error { return r.loop(gctx, "sell", r.SellSignalOnce) })
	g.Go(func() error { return r.monitorLoop(gctx) })
	if r.cfg.MetricsAddr != "" && r.registry != nil {
		g.Go(func() error { return r.serveMetrics(gctx) })
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	r.logger.Info("✅ All loops stopped")
	return err
}

// Close releases every registered service.
func (r *Runner) Close(ctx context.Context) error {
	return r.shutdown.Shutdown(ctx)
}

// reportPendingBuys surfaces buy intents left behind by a previous run.
func (r *Runner) reportPendingBuys(ctx context.Context) {
	pending, err := r.store.PendingBuys(ctx)
	if err != nil {
		r.logger.Warn("Failed to list pending buys", zap.Error(err))
		return
	}
	for _, p := range pending {
		r.logger.Error("Unreconciled buy from a previous run",
			zap.String("mint", p.TokenMint),
			zap.String("signal", p.SignalID),
			zap.String("signature", p.Signature),
			zap.Float64("sol", p.SolAmount),
			zap.Time("created_at", p.CreatedAt))
		r.publish(events.ReconciliationNeededEvent{
			BaseEvent: events.NewBase(events.ReconciliationNeeded),
			Pending:   p,
			Err:       fmt.Errorf("pending buy found at startup"),
		})
	}
}

func (r *Runner) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              r.cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		r.logger.Info("Metrics server listening", zap.String("addr", r.cfg.MetricsAddr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (r *Runner) publish(ev events.Event) {
	if r.events == nil {
		return
	}
	if err := r.events.Publish(ev); err != nil {
		r.logger.Debug("Event not published", zap.String("event_type", string(ev.Type())), zap.Error(err))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
