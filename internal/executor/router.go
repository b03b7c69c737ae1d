// internal/executor/router.go
package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-copybot/internal/model"
	"github.com/rovshanmuradov/solana-copybot/internal/utils/metrics"
)

type RouterConfig struct {
	// GraduationWarmup delays the first aggregator order after a mint graduates,
	// while the new pool is still being indexed.
	GraduationWarmup time.Duration
}

// Router dispatches orders to the executor of the selected venue. An
// aggregator order that finds no route is retried once on the relay.
type Router struct {
	executors map[model.Venue]Executor
	cfg       RouterConfig
	metrics   *metrics.Collector
	logger    *zap.Logger

	mu        sync.Mutex
	graduated map[string]time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewRouter(cfg RouterConfig, m *metrics.Collector, logger *zap.Logger, executors ...Executor) *Router {
	r := &Router{
		executors: make(map[model.Venue]Executor, len(executors)),
		cfg:       cfg,
		metrics:   m,
		logger:    logger.Named("router"),
		graduated: make(map[string]time.Time),
		now:       time.Now,
		sleep:     sleepCtx,
	}
	for _, e := range executors {
		r.executors[e.Venue()] = e
	}
	return r
}

// MarkGraduated records that mint left its bonding curve now.
func (r *Router) MarkGraduated(mint string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.graduated[mint]; !ok {
		r.graduated[mint] = r.now()
	}
}

func (r *Router) Buy(ctx context.Context, venue model.Venue, mint string, sol, slippagePct, priorityFee float64) (*TradeResult, error) {
	return r.route(ctx, venue, mint, SideBuy, func(e Executor) (*TradeResult, error) {
		return e.Buy(ctx, mint, sol, slippagePct, priorityFee)
	})
}

func (r *Router) Sell(ctx context.Context, venue model.Venue, mint string, tokens, slippagePct, priorityFee float64) (*TradeResult, error) {
	return r.route(ctx, venue, mint, SideSell, func(e Executor) (*TradeResult, error) {
		return e.Sell(ctx, mint, tokens, slippagePct, priorityFee)
	})
}

func (r *Router) route(ctx context.Context, venue model.Venue, mint string, side Side, call func(Executor) (*TradeResult, error)) (*TradeResult, error) {
	if venue != model.VenueAggregator {
		venue = model.VenueRelay
	}
	exec, ok := r.executors[venue]
	if !ok {
		return nil, fmt.Errorf("no executor for venue %s", venue)
	}

	if venue == model.VenueAggregator {
		if err := r.awaitWarmup(ctx, mint); err != nil {
			return nil, err
		}
	}

	res, err := r.run(exec, side, call)
	if err == nil || venue != model.VenueAggregator || !errors.Is(err, model.ErrNoRoute) {
		return res, err
	}

	relay, ok := r.executors[model.VenueRelay]
	if !ok {
		return nil, err
	}
	r.logger.Info("No aggregator route, falling back to relay",
		zap.String("mint", mint),
		zap.String("side", string(side)),
		zap.Error(err))
	return r.run(relay, side, call)
}

func (r *Router) run(exec Executor, side Side, call func(Executor) (*TradeResult, error)) (*TradeResult, error) {
	start := time.Now()
	res, err := call(exec)
	r.metrics.ObserveTrade(string(exec.Venue()), string(side), err == nil, time.Since(start))
	if err != nil {
		return nil, err
	}
	if res.Venue == "" {
		res.Venue = exec.Venue()
	}
	return res, nil
}

// awaitWarmup blocks the first aggregator attempt for a freshly graduated
// mint until the warm-up has elapsed.
func (r *Router) awaitWarmup(ctx context.Context, mint string) error {
	r.mu.Lock()
	at, ok := r.graduated[mint]
	delete(r.graduated, mint)
	r.mu.Unlock()
	if !ok || r.cfg.GraduationWarmup <= 0 {
		return nil
	}
	wait := r.cfg.GraduationWarmup - r.now().Sub(at)
	if wait <= 0 {
		return nil
	}
	r.logger.Info("Waiting for graduation warm-up",
		zap.String("mint", mint),
		zap.Duration("wait", wait))
	return r.sleep(ctx, wait)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
