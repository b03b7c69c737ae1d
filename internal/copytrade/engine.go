// internal/copytrade/engine.go
package copytrade

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-copybot/internal/events"
	"github.com/rovshanmuradov/solana-copybot/internal/executor"
	"github.com/rovshanmuradov/solana-copybot/internal/exit"
	"github.com/rovshanmuradov/solana-copybot/internal/model"
	"github.com/rovshanmuradov/solana-copybot/internal/oracle"
	"github.com/rovshanmuradov/solana-copybot/internal/store"
	"github.com/rovshanmuradov/solana-copybot/internal/utils/metrics"
)

// Store is the subset of the position store the engine writes to.
type Store interface {
	ClaimSignal(ctx context.Context, id string) (bool, error)
	ReleaseSignal(ctx context.Context, id string) error
	CanOpen(ctx context.Context, mint string) error
	SavePendingBuy(ctx context.Context, b *model.PendingBuy) error
	ClearPendingBuy(ctx context.Context, mint string) error
	OpenPosition(ctx context.Context, req store.OpenRequest) (*model.Position, error)
	RecordBuyers(ctx context.Context, sig *model.CopySignal, ttl time.Duration) error
}

type PriceSource interface {
	GetPrice(ctx context.Context, mint string, opts oracle.Options) (*model.PriceQuote, error)
}

type Trader interface {
	Buy(ctx context.Context, venue model.Venue, mint string, sol, slippagePct, priorityFee float64) (*executor.TradeResult, error)
}

type Config struct {
	SlippagePct  float64       `mapstructure:"slippage"`
	PriorityFee  float64       `mapstructure:"priority_fee"`
	MaxSignalAge time.Duration `mapstructure:"-"`
	BuyerTTL     time.Duration `mapstructure:"-"`
	PriceTimeout time.Duration `mapstructure:"-"`
	TradeTimeout time.Duration `mapstructure:"-"`
	// Labels maps tracked wallet addresses to display names.
	Labels map[string]string `mapstructure:"-"`
}

func DefaultConfig() Config {
	return Config{
		SlippagePct:  15,
		PriorityFee:  0.0005,
		MaxSignalAge: 2 * time.Minute,
		BuyerTTL:     24 * time.Hour,
		PriceTimeout: 4 * time.Second,
		TradeTimeout: 45 * time.Second,
	}
}

type Deps struct {
	Store    Store
	Prices   PriceSource
	Trader   Trader
	Strategy Strategy
	Events   events.Publisher
	Metrics  *metrics.Collector
}

// Outcome reports what Process did with a signal.
type Outcome struct {
	Decision *Decision
	Trade    *executor.TradeResult
	Position *model.Position
}

// Engine turns copy signals into positions. Each signal is executed at most
// once: the claim is only released when nothing was attempted.
type Engine struct {
	cfg      Config
	store    Store
	prices   PriceSource
	trader   Trader
	strategy Strategy
	events   events.Publisher
	metrics  *metrics.Collector
	logger   *zap.Logger
	now      func() time.Time
}

func NewEngine(cfg Config, deps Deps, logger *zap.Logger) *Engine {
	def := DefaultConfig()
	if cfg.PriceTimeout <= 0 {
		cfg.PriceTimeout = def.PriceTimeout
	}
	if cfg.TradeTimeout <= 0 {
		cfg.TradeTimeout = def.TradeTimeout
	}
	if cfg.BuyerTTL <= 0 {
		cfg.BuyerTTL = def.BuyerTTL
	}
	if deps.Strategy == nil {
		deps.Strategy = DefaultUpvoteStrategy()
	}
	return &Engine{
		cfg:      cfg,
		store:    deps.Store,
		prices:   deps.Prices,
		trader:   deps.Trader,
		strategy: deps.Strategy,
		events:   deps.Events,
		metrics:  deps.Metrics,
		logger:   logger.Named("copytrade"),
		now:      time.Now,
	}
}

// ShouldCopy evaluates a signal against the store and a fresh quote without
// side effects. Business rejections are returned as a Decision; errors are
// reserved for invalid input and store failures.
func (e *Engine) ShouldCopy(ctx context.Context, sig *model.CopySignal) (*Decision, error) {
	sig.Normalize()
	if err := sig.Validate(); err != nil {
		return nil, err
	}
	if e.cfg.MaxSignalAge > 0 {
		if age := e.now().Sub(sig.Timestamp); age > e.cfg.MaxSignalAge {
			return reject("signal is %s old", age.Truncate(time.Second)), nil
		}
	}

	if err := e.store.CanOpen(ctx, sig.TokenMint); err != nil {
		if errors.Is(err, model.ErrPositionExists) || errors.Is(err, model.ErrReentryCooldown) {
			return reject("%v", err), nil
		}
		return nil, err
	}

	priceCtx, cancel := context.WithTimeout(ctx, e.cfg.PriceTimeout)
	quote, err := e.prices.GetPrice(priceCtx, sig.TokenMint, oracle.Options{ForceFresh: true})
	cancel()
	if err != nil {
		d := reject("no price: %v", err)
		d.retryable = true
		return d, nil
	}
	if !quote.Valid() || quote.Stale {
		d := reject("price for %s is stale", sig.TokenMint)
		d.retryable = true
		return d, nil
	}

	d := e.strategy.Decide(sig, quote)
	d.Quote = quote
	if d.Copy {
		d.Venue = exit.SelectVenue(quote)
	}
	return d, nil
}

// Process consumes a signal: claim, decide, buy, open.
func (e *Engine) Process(ctx context.Context, sig *model.CopySignal) (*Outcome, error) {
	sig.Normalize()
	if err := sig.Validate(); err != nil {
		e.metrics.ObserveSignal("invalid")
		return nil, err
	}

	claimed, err := e.store.ClaimSignal(ctx, sig.ID)
	if err != nil {
		return nil, err
	}
	if !claimed {
		e.metrics.ObserveSignal("duplicate")
		return nil, fmt.Errorf("%s: %w", sig.ID, model.ErrDuplicateSignal)
	}

	d, err := e.ShouldCopy(ctx, sig)
	if err != nil {
		e.release(ctx, sig.ID)
		return nil, err
	}
	if !d.Copy {
		if d.retryable {
			e.release(ctx, sig.ID)
		}
		e.metrics.ObserveSignal("rejected")
		e.logger.Info("Signal rejected",
			zap.String("signal", sig.ID),
			zap.String("mint", sig.TokenMint),
			zap.Int("upvotes", sig.Upvotes()),
			zap.String("reason", d.Reason))
		return &Outcome{Decision: d}, nil
	}

	return e.execute(ctx, sig, d)
}

func (e *Engine) execute(ctx context.Context, sig *model.CopySignal, d *Decision) (*Outcome, error) {
	pending := &model.PendingBuy{
		TokenMint:    sig.TokenMint,
		SignalID:     sig.ID,
		SourceWallet: sig.SourceWallet,
		Venue:        d.Venue,
		SolAmount:    d.Amount,
		QuotePrice:   d.Quote.Price,
		CreatedAt:    e.now(),
	}
	if err := e.store.SavePendingBuy(ctx, pending); err != nil {
		e.release(ctx, sig.ID)
		return nil, err
	}
	e.logger.Info("Buy intent recorded",
		zap.String("signal", sig.ID),
		zap.String("mint", sig.TokenMint),
		zap.String("venue", string(d.Venue)),
		zap.String("mode", string(d.Mode)),
		zap.Float64("sol", d.Amount),
		zap.Float64("confidence", d.Confidence),
		zap.Float64("quote_price", d.Quote.Price))

	tradeCtx, cancel := context.WithTimeout(ctx, e.cfg.TradeTimeout)
	trade, err := e.trader.Buy(tradeCtx, d.Venue, sig.TokenMint, d.Amount, e.cfg.SlippagePct, e.cfg.PriorityFee)
	cancel()
	if errors.Is(err, model.ErrTradeAmbiguous) {
		return e.unresolved(d, pending, err)
	}
	if err != nil {
		if cerr := e.store.ClearPendingBuy(ctx, sig.TokenMint); cerr != nil {
			e.logger.Warn("Failed to clear pending buy", zap.String("mint", sig.TokenMint), zap.Error(cerr))
		}
		e.metrics.ObserveSignal("failed")
		e.publish(events.TradeFailedEvent{
			BaseEvent: events.NewBase(events.TradeFailed),
			TokenMint: sig.TokenMint,
			Side:      string(executor.SideBuy),
			Venue:     d.Venue,
			Err:       err,
		})
		return &Outcome{Decision: d}, fmt.Errorf("buy %s: %w", sig.TokenMint, err)
	}

	pending.Signature = trade.Signature
	pending.Venue = trade.Venue
	tokens, price, spent := fillAmounts(trade, d)

	pos, err := e.store.OpenPosition(ctx, store.OpenRequest{
		TokenMint:      sig.TokenMint,
		Label:          e.label(sig.SourceWallet),
		EntrySignature: trade.Signature,
		EntryPrice:     price,
		EntryTime:      e.now(),
		SolSpent:       spent,
		TokenAmount:    tokens,
		Venue:          trade.Venue,
		Unconfirmed:    !trade.Confirmed,
		SourceWallet:   sig.SourceWallet,
		Upvotes:        sig.Upvotes(),
		Buyers:         sig.Wallets,
		OriginalSpend:  sig.Spends[sig.SourceWallet],
	})
	if err != nil {
		return e.reconcile(ctx, d, trade, pending, tokens, err)
	}

	if err := e.store.RecordBuyers(ctx, sig, e.cfg.BuyerTTL); err != nil {
		e.logger.Warn("Failed to record buyers", zap.String("mint", sig.TokenMint), zap.Error(err))
	}
	if err := e.store.ClearPendingBuy(ctx, sig.TokenMint); err != nil {
		e.logger.Warn("Failed to clear pending buy", zap.String("mint", sig.TokenMint), zap.Error(err))
	}

	e.metrics.ObserveSignal("copied")
	e.publish(events.PositionOpenedEvent{
		BaseEvent:  events.NewBase(events.PositionOpened),
		Position:   pos,
		Confidence: d.Confidence,
		Mode:       string(d.Mode),
	})
	return &Outcome{Decision: d, Trade: trade, Position: pos}, nil
}

// reconcile handles a buy that executed but could not be recorded. The
// pending intent stays in the store with the signature attached.
func (e *Engine) reconcile(ctx context.Context, d *Decision, trade *executor.TradeResult, pending *model.PendingBuy, tokens float64, cause error) (*Outcome, error) {
	if err := e.store.SavePendingBuy(ctx, pending); err != nil {
		e.logger.Warn("Failed to attach signature to pending buy", zap.Error(err))
	}
	e.logger.Error("Buy executed but position was not recorded, manual reconciliation required",
		zap.String("mint", pending.TokenMint),
		zap.String("signature", trade.Signature),
		zap.String("venue", string(trade.Venue)),
		zap.Float64("sol", pending.SolAmount),
		zap.Float64("tokens", tokens),
		zap.Bool("confirmed", trade.Confirmed),
		zap.Error(cause))
	e.metrics.ObserveSignal("reconcile")
	e.publish(events.ReconciliationNeededEvent{
		BaseEvent: events.NewBase(events.ReconciliationNeeded),
		Pending:   pending,
		Tokens:    tokens,
		Err:       cause,
	})
	return &Outcome{Decision: d, Trade: trade}, fmt.Errorf("open position %s after buy %s: %w", pending.TokenMint, trade.Signature, cause)
}

// unresolved handles a buy whose outcome the venue never reported. The
// pending intent and the signal claim both stay so nothing buys it again.
func (e *Engine) unresolved(d *Decision, pending *model.PendingBuy, cause error) (*Outcome, error) {
	e.logger.Error("Buy outcome unknown, manual reconciliation required",
		zap.String("mint", pending.TokenMint),
		zap.String("signal", pending.SignalID),
		zap.String("venue", string(pending.Venue)),
		zap.Float64("sol", pending.SolAmount),
		zap.Error(cause))
	e.metrics.ObserveSignal("reconcile")
	e.publish(events.ReconciliationNeededEvent{
		BaseEvent: events.NewBase(events.ReconciliationNeeded),
		Pending:   pending,
		Err:       cause,
	})
	return &Outcome{Decision: d}, fmt.Errorf("buy %s: %w", pending.TokenMint, cause)
}

// fillAmounts prefers the executed fill and falls back to the quote for
// anything the executor could not report.
func fillAmounts(trade *executor.TradeResult, d *Decision) (tokens, price, spent float64) {
	spent = trade.SolSpent
	if !model.IsPositive(spent) {
		spent = d.Amount
	}
	price = trade.Price
	if !model.IsPositive(price) {
		price = d.Quote.Price
	}
	tokens = trade.TokensReceived
	if !model.IsPositive(tokens) {
		tokens = spent / price
	}
	return tokens, price, spent
}

func (e *Engine) label(wallet string) string {
	if name, ok := e.cfg.Labels[wallet]; ok && name != "" {
		return name
	}
	return wallet
}

func (e *Engine) release(ctx context.Context, id string) {
	if err := e.store.ReleaseSignal(ctx, id); err != nil {
		e.logger.Warn("Failed to release signal claim", zap.String("signal", id), zap.Error(err))
	}
}

func (e *Engine) publish(ev events.Event) {
	if e.events == nil {
		return
	}
	if err := e.events.Publish(ev); err != nil {
		e.logger.Debug("Event not published", zap.String("event_type", string(ev.Type())), zap.Error(err))
	}
}
