// internal/oracle/oracle.go
package oracle

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

// CurveReader reads the on-chain bonding curve of a mint.
type CurveReader interface {
	ReadCurve(ctx context.Context, mint string) (*CurveState, error)
}

// AggregatorQuoter prices a token from a swap quote, in SOL per whole token.
type AggregatorQuoter interface {
	QuotePrice(ctx context.Context, mint string, decimals uint8) (float64, error)
}

// MarketData prices a token from a public market-data listing, in SOL per whole token.
type MarketData interface {
	TokenPrice(ctx context.Context, mint string) (float64, error)
}

// Config holds cache lifetimes and backoff settings.
type Config struct {
	CurveTTL         time.Duration
	AggregatorTTL    time.Duration
	MarketTTL        time.Duration
	CallTimeout      time.Duration
	FailureThreshold int
	FailureWindow    time.Duration
}

func DefaultConfig() Config {
	return Config{
		CurveTTL:         2 * time.Second,
		AggregatorTTL:    5 * time.Second,
		MarketTTL:        10 * time.Second,
		CallTimeout:      4 * time.Second,
		FailureThreshold: 3,
		FailureWindow:    60 * time.Second,
	}
}

// Tiers are the price sources in resolution order. Any of them may be nil.
type Tiers struct {
	Curve      CurveReader
	Aggregator AggregatorQuoter
	Market     MarketData
	Decimals   *DecimalsCache
	Metrics    *metrics.Collector
}

type Options struct {
	// ForceFresh bypasses the cache TTL. It does not bypass failure backoff.
	ForceFresh bool
}

type failureState struct {
	count int
	since time.Time
}

// Oracle resolves token prices through bonding curve, aggregator and market
// data in that order, with a per-mint cache and failure backoff.
type Oracle struct {
	cfg    Config
	tiers  Tiers
	logger *zap.Logger
	now    func() time.Time

	mu       sync.Mutex
	cache    map[string]*model.PriceQuote
	failures map[string]*failureState
}

func New(cfg Config, tiers Tiers, logger *zap.Logger) *Oracle {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultConfig().CallTimeout
	}
	return &Oracle{
		cfg:      cfg,
		tiers:    tiers,
		logger:   logger.Named("oracle"),
		now:      time.Now,
		cache:    make(map[string]*model.PriceQuote),
		failures: make(map[string]*failureState),
	}
}

// GetPrice returns the current price of mint.
func (o *Oracle) GetPrice(ctx context.Context, mint string, opts Options) (*model.PriceQuote, error) {
	now := o.now()

	o.mu.Lock()
	cached := o.cache[mint]
	if o.inBackoffLocked(mint, now) {
		o.mu.Unlock()
		if cached != nil {
			o.logger.Debug("Backoff active, serving stale quote", zap.String("mint", mint))
			return staleCopy(cached), nil
		}
		return nil, fmt.Errorf("%s: %w", mint, model.ErrPriceSkipped)
	}
	if cached != nil && !opts.ForceFresh && cached.Age(now) < o.ttl(cached.Source) {
		q := *cached
		o.mu.Unlock()
		return &q, nil
	}
	o.mu.Unlock()

	quote, err := o.resolve(ctx, mint)

	o.mu.Lock()
	defer o.mu.Unlock()
	if err == nil {
		o.cache[mint] = quote
		delete(o.failures, mint)
		q := *quote
		return &q, nil
	}

	count := o.recordFailureLocked(mint, o.now())
	o.logger.Debug("All price tiers failed",
		zap.String("mint", mint),
		zap.Int("failures", count),
		zap.Error(err))
	if cached := o.cache[mint]; cached != nil {
		return staleCopy(cached), nil
	}
	return nil, err
}

// Invalidate drops the cached quote and failure state of mint.
func (o *Oracle) Invalidate(mint string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.cache, mint)
	delete(o.failures, mint)
}

func (o *Oracle) resolve(ctx context.Context, mint string) (*model.PriceQuote, error) {
	var errs []error
	graduated := false
	progress := 0.0

	decimals := uint8(DefaultTokenDecimals)
	if o.tiers.Decimals != nil {
		callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
		decimals = o.tiers.Decimals.Get(callCtx, mint)
		cancel()
	}

	if o.tiers.Curve != nil {
		price, state, err := o.curvePrice(ctx, mint, decimals)
		if err == nil {
			o.tiers.Metrics.ObservePriceLookup(string(model.SourceBondingCurve), true)
			return o.quote(mint, price, model.SourceBondingCurve, false, state.Progress()), nil
		}
		o.tiers.Metrics.ObservePriceLookup(string(model.SourceBondingCurve), false)
		if isMigrationSignal(err) {
			graduated = true
			progress = 1
		}
		errs = append(errs, fmt.Errorf("bonding curve: %w", err))
	}

	if o.tiers.Aggregator != nil {
		callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
		price, err := o.tiers.Aggregator.QuotePrice(callCtx, mint, decimals)
		cancel()
		if err == nil && model.IsPositive(price) {
			o.tiers.Metrics.ObservePriceLookup(string(model.SourceAggregator), true)
			return o.quote(mint, price, model.SourceAggregator, graduated, progress), nil
		}
		if err == nil {
			err = fmt.Errorf("non-positive price %v", price)
		}
		o.tiers.Metrics.ObservePriceLookup(string(model.SourceAggregator), false)
		errs = append(errs, fmt.Errorf("aggregator: %w", err))
	}

	if o.tiers.Market != nil {
		callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
		price, err := o.tiers.Market.TokenPrice(callCtx, mint)
		cancel()
		if err == nil && model.IsPositive(price) {
			o.tiers.Metrics.ObservePriceLookup(string(model.SourceMarketData), true)
			return o.quote(mint, price, model.SourceMarketData, graduated, progress), nil
		}
		if err == nil {
			err = fmt.Errorf("non-positive price %v", price)
		}
		o.tiers.Metrics.ObservePriceLookup(string(model.SourceMarketData), false)
		errs = append(errs, fmt.Errorf("market data: %w", err))
	}

	return nil, fmt.Errorf("%s: %w: %w", mint, model.ErrPriceUnavailable, errors.Join(errs...))
}

func (o *Oracle) curvePrice(ctx context.Context, mint string, decimals uint8) (float64, *CurveState, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	defer cancel()

	state, err := o.tiers.Curve.ReadCurve(callCtx, mint)
	if err != nil {
		return 0, nil, err
	}
	price, err := state.Price(decimals)
	if err != nil {
		return 0, nil, err
	}
	return price, state, nil
}

func (o *Oracle) quote(mint string, price float64, source model.PriceSource, graduated bool, progress float64) *model.PriceQuote {
	return &model.PriceQuote{
		TokenMint: mint,
		Price:     price,
		Source:    source,
		Graduated: graduated,
		Progress:  progress,
		Timestamp: o.now(),
	}
}

func (o *Oracle) ttl(source model.PriceSource) time.Duration {
	switch source {
	case model.SourceBondingCurve:
		return o.cfg.CurveTTL
	case model.SourceAggregator:
		return o.cfg.AggregatorTTL
	default:
		return o.cfg.MarketTTL
	}
}

// inBackoffLocked reports whether mint crossed the failure threshold inside the
// current window. An elapsed window resets the counter.
func (o *Oracle) inBackoffLocked(mint string, now time.Time) bool {
	st, ok := o.failures[mint]
	if !ok {
		return false
	}
	if now.Sub(st.since) >= o.cfg.FailureWindow {
		delete(o.failures, mint)
		return false
	}
	return st.count >= o.cfg.FailureThreshold
}

func (o *Oracle) recordFailureLocked(mint string, now time.Time) int {
	st, ok := o.failures[mint]
	if !ok || now.Sub(st.since) >= o.cfg.FailureWindow {
		st = &failureState{since: now}
		o.failures[mint] = st
	}
	st.count++
	return st.count
}

func staleCopy(q *model.PriceQuote) *model.PriceQuote {
	c := *q
	c.Stale = true
	return &c
}
