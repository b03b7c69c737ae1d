package bot

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/solana-copybot/internal/copytrade"
	"github.com/rovshanmuradov/solana-copybot/internal/events"
	"github.com/rovshanmuradov/solana-copybot/internal/executor"
	"github.com/rovshanmuradov/solana-copybot/internal/exit"
	"github.com/rovshanmuradov/solana-copybot/internal/model"
	"github.com/rovshanmuradov/solana-copybot/internal/oracle"
	"github.com/rovshanmuradov/solana-copybot/internal/pnl"
	"github.com/rovshanmuradov/solana-copybot/internal/store"
)

const (
	mintA = "7GCihgDB8fe6KNjn2MYtkzZcRjQy3t9GHdC8uHYmW2hr"
	mintB = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

type fakePrices struct {
	mu          sync.Mutex
	quotes      map[string]*model.PriceQuote
	err         error
	invalidated []string
}

func (f *fakePrices) Invalidate(mint string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidated = append(f.invalidated, mint)
}

func (f *fakePrices) set(mint string, q *model.PriceQuote) {
	f.mu.Lock()
	defer f.mu.Unlock()
	q.TokenMint = mint
	if q.Timestamp.IsZero() {
		q.Timestamp = time.Now()
	}
	f.quotes[mint] = q
}

func (f *fakePrices) GetPrice(_ context.Context, mint string, _ oracle.Options) (*model.PriceQuote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	q, ok := f.quotes[mint]
	if !ok {
		return nil, model.ErrPriceUnavailable
	}
	cp := *q
	return &cp, nil
}

type sellCall struct {
	venue  model.Venue
	mint   string
	tokens float64
}

type fakeSeller struct {
	mu        sync.Mutex
	result    *executor.TradeResult
	err       error
	sells     []sellCall
	graduated []string
}

func (f *fakeSeller) Sell(_ context.Context, venue model.Venue, mint string, tokens, _, _ float64) (*executor.TradeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sells = append(f.sells, sellCall{venue: venue, mint: mint, tokens: tokens})
	if f.err != nil {
		return nil, f.err
	}
	res := *f.result
	res.Venue = venue
	return &res, nil
}

func (f *fakeSeller) MarkGraduated(mint string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.graduated = append(f.graduated, mint)
}

type fakeCopier struct {
	mu      sync.Mutex
	signals []*model.CopySignal
	err     error
}

func (f *fakeCopier) Process(_ context.Context, sig *model.CopySignal) (*copytrade.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, sig)
	return &copytrade.Outcome{}, f.err
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recorder) types() []events.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type()
	}
	return out
}

func (r *recorder) closed(t *testing.T) events.PositionClosedEvent {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if ev, ok := e.(events.PositionClosedEvent); ok {
			return ev
		}
	}
	t.Fatal("no PositionClosed event")
	return events.PositionClosedEvent{}
}

type fixture struct {
	runner *Runner
	store  *store.Store
	mr     *miniredis.Miniredis
	prices *fakePrices
	seller *fakeSeller
	copier *fakeCopier
	events *recorder
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	calc := pnl.NewCalculator(pnl.DefaultFeeSchedule())
	st := store.New(rdb, calc, store.DefaultConfig(), zaptest.NewLogger(t))
	f := &fixture{
		store:  st,
		mr:     mr,
		prices: &fakePrices{quotes: make(map[string]*model.PriceQuote)},
		seller: &fakeSeller{result: &executor.TradeResult{
			Signature:   "exit-sig",
			SolReceived: 0.29,
			Confirmed:   true,
		}},
		copier: &fakeCopier{},
		events: &recorder{},
	}

	policy := exit.ThresholdStrategy{TakeProfitPct: 100, StopLossPct: 30}
	sells := exit.NewWalletSellChecker(st, nil, 0, zaptest.NewLogger(t))
	exits := exit.NewEngine(exit.DefaultConfig(), sells, policy, st, zaptest.NewLogger(t))

	cfg := DefaultConfig()
	cfg.IterationBackoff = time.Millisecond
	if mutate != nil {
		mutate(&cfg)
	}
	f.runner = NewRunner(cfg, Deps{
		Store:  st,
		Prices: f.prices,
		Copier: f.copier,
		Exits:  exits,
		Seller: f.seller,
		Calc:   calc,
		Events: f.events,
	}, zaptest.NewLogger(t))
	return f
}

func (f *fixture) open(t *testing.T, mint string, venue model.Venue) *model.Position {
	t.Helper()
	pos, err := f.store.OpenPosition(context.Background(), store.OpenRequest{
		TokenMint:      mint,
		EntrySignature: "entry-sig",
		EntryPrice:     0.00001,
		SolSpent:       0.1,
		TokenAmount:    10_000,
		Venue:          venue,
		SourceWallet:   "wallet-1",
		Upvotes:        2,
		Buyers:         []string{"wallet-1", "wallet-2"},
	})
	require.NoError(t, err)
	return pos
}

func TestMonitorClosesOnTakeProfit(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.open(t, mintA, model.VenueRelay)
	f.prices.set(mintA, &model.PriceQuote{Price: 0.00003, Source: model.SourceBondingCurve})
	f.seller.result.Price = 0.00003

	require.NoError(t, f.runner.MonitorOnce(ctx))

	require.Len(t, f.seller.sells, 1)
	assert.Equal(t, sellCall{venue: model.VenueRelay, mint: mintA, tokens: 10_000}, f.seller.sells[0])

	open, _, err := f.store.ScanOpen(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)

	assert.Equal(t, []events.EventType{events.ExitTriggered, events.PositionClosed}, f.events.types())
	ev := f.events.closed(t)
	assert.Equal(t, string(model.ReasonTakeProfit), ev.Record.Reason)
	assert.Equal(t, "exit-sig", ev.Record.ExitSignature)
	assert.Equal(t, 0.29, ev.Record.SolReceived)
	assert.Greater(t, ev.Record.PnL, 0.0)

	history, err := f.store.TradeHistory(ctx, time.Now())
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, mintA, history[0].TokenMint)
	assert.Equal(t, []string{mintA}, f.prices.invalidated)
}

func TestMonitorRecordsObservedFillAsNet(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.open(t, mintA, model.VenueRelay)
	f.prices.set(mintA, &model.PriceQuote{Price: 0.00003, Source: model.SourceBondingCurve})
	f.seller.result = &executor.TradeResult{
		Signature:    "exit-sig",
		SolReceived:  0.29,
		FillObserved: true,
		Confirmed:    true,
	}

	require.NoError(t, f.runner.MonitorOnce(ctx))

	rec := f.events.closed(t).Record
	assert.Equal(t, 0.00003, rec.ExitPrice, "market price, not the net fill per token")
	assert.Equal(t, 0.29, rec.NetReceived)
	assert.InDelta(t, rec.SolReceived-rec.SolSpent, rec.PnL, 1e-12)
	assert.InDelta(t, 190.0, rec.PnLPercent, 1e-9)
}

func TestMonitorRealizedPnLPaysPriorityFee(t *testing.T) {
	f := newFixture(t, nil)
	f.open(t, mintA, model.VenueRelay)
	f.prices.set(mintA, &model.PriceQuote{Price: 0.00003, Source: model.SourceBondingCurve})
	f.seller.result = &executor.TradeResult{Signature: "exit-sig", Price: 0.00003, Confirmed: true}

	require.NoError(t, f.runner.MonitorOnce(context.Background()))

	// 0.3 gross, minus 1.75%, minus network and priority fees.
	rec := f.events.closed(t).Record
	assert.InDelta(t, 0.29475-0.000005-0.0005, rec.NetReceived, 1e-12)
}

func TestSellOptionsCarryPriorityFeeAndEstimate(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.PriorityFee = 0.001
		c.EstimatedSlippagePct = 2
	})

	estimate := f.runner.sellOptions(model.VenueRelay, true)
	assert.Equal(t, 0.001, estimate.PriorityFee)
	assert.Equal(t, 0.02, estimate.Slippage)
	assert.Equal(t, pnl.DefaultFeeSchedule().NetworkFee, estimate.NetworkFee)

	actual := f.runner.sellOptions(model.VenueRelay, false)
	assert.Equal(t, 0.001, actual.PriorityFee)
	assert.Zero(t, actual.Slippage)

	pos := &model.Position{EntryPrice: 0.00001, SolSpent: 0.1, TokenAmount: 10_000}
	res, err := f.runner.calc.Unrealized(pos, 0.00002, estimate)
	require.NoError(t, err)
	assert.Equal(t, 0.001, res.Breakdown.PriorityFee)
	assert.InDelta(t, 0.1965*0.98-0.000005-0.001, res.NetReceived, 1e-12)
}

func TestMonitorSoldButNotRecordedKeepsPosition(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.open(t, mintA, model.VenueRelay)
	f.prices.set(mintA, &model.PriceQuote{Price: 0.00003, Source: model.SourceBondingCurve})
	require.NoError(t, f.mr.Set("copybot:trades:"+time.Now().UTC().Format("2006-01-02"), "not-a-list"))

	require.NoError(t, f.runner.MonitorOnce(ctx))

	require.Len(t, f.seller.sells, 1)
	assert.Equal(t, []events.EventType{events.ExitTriggered, events.TradeFailed}, f.events.types())
	failed := f.events.events[1].(events.TradeFailedEvent)
	assert.Equal(t, "close", failed.Side)
	assert.Equal(t, mintA, failed.TokenMint)

	open, corrupt, err := f.store.ScanOpen(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Empty(t, corrupt)
	assert.Equal(t, mintA, open[0].TokenMint)
}

func TestMonitorPublishesFeeDrag(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.FeeDragThreshold = 0.5 })
	f.open(t, mintA, model.VenueRelay)
	f.prices.set(mintA, &model.PriceQuote{Price: 0.00003, Source: model.SourceBondingCurve})

	require.NoError(t, f.runner.MonitorOnce(context.Background()))

	assert.Contains(t, f.events.types(), events.FeeDragDetected)
}

func TestMonitorHoldsBelowThresholds(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.open(t, mintA, model.VenueRelay)
	f.prices.set(mintA, &model.PriceQuote{Price: 0.000015, Source: model.SourceBondingCurve})

	require.NoError(t, f.runner.MonitorOnce(ctx))

	assert.Empty(t, f.seller.sells)
	assert.Empty(t, f.events.types())
	pos, err := f.store.GetPosition(ctx, mintA)
	require.NoError(t, err)
	assert.True(t, pos.IsOpen())
	assert.Equal(t, 0.000015, pos.MaxPrice)
}

func TestMonitorSkipsStaleQuote(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.open(t, mintA, model.VenueRelay)
	f.prices.set(mintA, &model.PriceQuote{Price: 0.0001, Source: model.SourceBondingCurve, Stale: true})

	require.NoError(t, f.runner.MonitorOnce(ctx))

	assert.Empty(t, f.seller.sells)
	pos, err := f.store.GetPosition(ctx, mintA)
	require.NoError(t, err)
	assert.Equal(t, pos.EntryPrice, pos.MaxPrice)
}

func TestMonitorSkipsWithoutPrice(t *testing.T) {
	f := newFixture(t, nil)
	f.open(t, mintA, model.VenueRelay)
	f.prices.err = model.ErrPriceSkipped

	require.NoError(t, f.runner.MonitorOnce(context.Background()))
	assert.Empty(t, f.seller.sells)
}

func TestMonitorForcedExitWithoutPrice(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.open(t, mintA, model.VenueRelay)
	f.prices.err = model.ErrPriceUnavailable
	require.NoError(t, f.store.SetForceExit(ctx, mintA, "operator"))

	require.NoError(t, f.runner.MonitorOnce(ctx))

	require.Len(t, f.seller.sells, 1)
	assert.Equal(t, model.VenueRelay, f.seller.sells[0].venue)
	ev := f.events.closed(t)
	assert.Equal(t, string(model.ReasonForceExit), ev.Record.Reason)
	assert.Equal(t, model.PhaseForced, ev.Phase)
	// No fill price and no quote: derived from the SOL actually received.
	assert.InDelta(t, 0.29/10_000, ev.Record.ExitPrice, 1e-12)

	_, forced, err := f.store.ForceExit(ctx, mintA)
	require.NoError(t, err)
	assert.False(t, forced)
}

func TestMonitorGraduationForcesRelayExit(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.open(t, mintA, model.VenueRelay)
	f.prices.set(mintA, &model.PriceQuote{Price: 0.00001, Source: model.SourceAggregator, Graduated: true, Progress: 1})

	require.NoError(t, f.runner.MonitorOnce(ctx))

	assert.Equal(t, []string{mintA}, f.seller.graduated)
	require.Len(t, f.seller.sells, 1)
	assert.Equal(t, model.VenueAggregator, f.seller.sells[0].venue)
	ev := f.events.closed(t)
	assert.Equal(t, string(model.ReasonForceExit), ev.Record.Reason)
	assert.Equal(t, model.VenueAggregator, ev.Record.ExitVenue)
}

func TestMonitorGraduationKeepsAggregatorEntry(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.open(t, mintA, model.VenueAggregator)
	f.prices.set(mintA, &model.PriceQuote{Price: 0.00001, Source: model.SourceAggregator, Graduated: true, Progress: 1})

	require.NoError(t, f.runner.MonitorOnce(ctx))
	require.NoError(t, f.runner.MonitorOnce(ctx))

	assert.Equal(t, []string{mintA}, f.seller.graduated, "graduation is marked once")
	assert.Empty(t, f.seller.sells)
	_, forced, err := f.store.ForceExit(ctx, mintA)
	require.NoError(t, err)
	assert.False(t, forced)
}

func TestMonitorGraduationExitDisabled(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.ExitOnGraduation = false })
	f.open(t, mintA, model.VenueRelay)
	f.prices.set(mintA, &model.PriceQuote{Price: 0.00001, Source: model.SourceAggregator, Graduated: true, Progress: 1})

	require.NoError(t, f.runner.MonitorOnce(context.Background()))
	assert.Empty(t, f.seller.sells)
}

func TestMonitorSellFailureKeepsPositionOpen(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.open(t, mintA, model.VenueRelay)
	f.open(t, mintB, model.VenueRelay)
	f.prices.set(mintA, &model.PriceQuote{Price: 0.000001, Source: model.SourceBondingCurve})
	f.prices.set(mintB, &model.PriceQuote{Price: 0.000001, Source: model.SourceBondingCurve})
	f.seller.err = errors.New("relay: 503")

	require.NoError(t, f.runner.MonitorOnce(ctx))

	assert.Len(t, f.seller.sells, 2, "one failure does not stop the pass")
	open, _, err := f.store.ScanOpen(ctx)
	require.NoError(t, err)
	assert.Len(t, open, 2)
	assert.Contains(t, f.events.types(), events.TradeFailed)
	assert.NotContains(t, f.events.types(), events.PositionClosed)
}

func corrupt(t *testing.T, f *fixture, mint, tokens string) {
	t.Helper()
	f.mr.HSet("copybot:position:"+mint, "status", "open", "sol_spent", "0.2", "token_amount", tokens, "entry_price", "garbage")
	_, err := f.mr.SAdd("copybot:positions:open", mint)
	require.NoError(t, err)
}

func TestSalvageSellsCorruptPosition(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	corrupt(t, f, mintB, "500")

	require.NoError(t, f.runner.MonitorOnce(ctx))

	require.Len(t, f.seller.sells, 1)
	assert.Equal(t, 500.0, f.seller.sells[0].tokens)
	ev := f.events.closed(t)
	assert.Equal(t, model.PhaseDataIntegrity, ev.Phase)
	assert.True(t, ev.Record.IntegrityClose)
	assert.Equal(t, "exit-sig", ev.Record.ExitSignature)

	open, bad, err := f.store.ScanOpen(ctx)
	require.NoError(t, err)
	assert.Empty(t, open)
	assert.Empty(t, bad)
}

func TestSalvageClearsAfterFailedAttempts(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.SalvageAttempts = 2 })
	ctx := context.Background()
	corrupt(t, f, mintB, "500")
	f.seller.err = errors.New("relay: 503")

	for i := 0; i < 2; i++ {
		require.NoError(t, f.runner.MonitorOnce(ctx))
		_, bad, err := f.store.ScanOpen(ctx)
		require.NoError(t, err)
		require.Len(t, bad, 1)
	}
	require.NoError(t, f.runner.MonitorOnce(ctx))

	assert.Len(t, f.seller.sells, 2)
	ev := f.events.closed(t)
	assert.Empty(t, ev.Record.ExitSignature)
	assert.Equal(t, -0.2, ev.Record.PnL)
	_, bad, err := f.store.ScanOpen(ctx)
	require.NoError(t, err)
	assert.Empty(t, bad)
}

func TestSalvageWithoutTokenAmountClears(t *testing.T) {
	f := newFixture(t, nil)
	corrupt(t, f, mintB, "")

	require.NoError(t, f.runner.MonitorOnce(context.Background()))

	assert.Empty(t, f.seller.sells)
	assert.True(t, f.events.closed(t).Record.IntegrityClose)
}

func TestSellSignalObservedForSourceWallet(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.open(t, mintA, model.VenueRelay)

	require.NoError(t, f.store.PushSellSignal(ctx, &model.SellSignal{
		TokenMint: mintA,
		Wallets:   []string{"wallet-9", "wallet-1"},
		Timestamp: time.Now(),
	}))
	require.NoError(t, f.runner.SellSignalOnce(ctx))

	require.Equal(t, []events.EventType{events.SellSignalObserved}, f.events.types())
	ev := f.events.events[0].(events.SellSignalObservedEvent)
	assert.Equal(t, "wallet-1", ev.SourceWallet)
	assert.Equal(t, 2, ev.Sellers)

	_, ok, err := f.store.LastSell(ctx, "wallet-1", mintA)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSellSignalFromOtherWalletIsOnlyRecorded(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.open(t, mintA, model.VenueRelay)

	require.NoError(t, f.store.PushSellSignal(ctx, &model.SellSignal{
		TokenMint: mintA,
		Wallets:   []string{"wallet-9"},
		Timestamp: time.Now(),
	}))
	require.NoError(t, f.runner.SellSignalOnce(ctx))

	assert.Empty(t, f.events.types())
	_, ok, err := f.store.LastSell(ctx, "wallet-9", mintA)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCopyOnceHandsSignalToCopier(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	require.NoError(t, f.store.PushCopySignal(ctx, &model.CopySignal{
		ID:        "sig-1",
		TokenMint: mintA,
		Wallets:   []string{"wallet-1"},
		Timestamp: time.Now(),
	}))
	require.NoError(t, f.runner.CopyOnce(ctx))

	require.Len(t, f.copier.signals, 1)
	assert.Equal(t, "sig-1", f.copier.signals[0].ID)
}

func TestCopyOnceSwallowsSignalErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"duplicate", model.ErrDuplicateSignal},
		{"invalid", model.ErrInvalidInput},
		{"buy failed", errors.New("relay: 503")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			ctx := context.Background()
			f.copier.err = tt.err
			require.NoError(t, f.store.PushCopySignal(ctx, &model.CopySignal{
				ID: "sig-1", TokenMint: mintA, Wallets: []string{"w"}, Timestamp: time.Now(),
			}))
			assert.NoError(t, f.runner.CopyOnce(ctx))
		})
	}
}

func TestCopyOnceDropsMalformedPayload(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.mr.Lpush("copybot:queue:copy", "{not json")
	require.NoError(t, err)

	assert.NoError(t, f.runner.CopyOnce(context.Background()))
	assert.Empty(t, f.copier.signals)
}

func TestIterateRecoversPanic(t *testing.T) {
	f := newFixture(t, nil)
	err := f.runner.iterate(context.Background(), "test", func(context.Context) error {
		panic("boom")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestLoopSurvivesFailuresUntilCancelled(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := f.runner.loop(ctx, "test", func(context.Context) error {
		calls++
		switch calls {
		case 1:
			return errors.New("transient")
		case 2:
			panic("boom")
		default:
			cancel()
			return nil
		}
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestReportPendingBuys(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	require.NoError(t, f.store.SavePendingBuy(ctx, &model.PendingBuy{
		TokenMint: mintA,
		SignalID:  "sig-1",
		Venue:     model.VenueRelay,
		SolAmount: 0.1,
	}))

	f.runner.reportPendingBuys(ctx)

	require.Equal(t, []events.EventType{events.ReconciliationNeeded}, f.events.types())
	ev := f.events.events[0].(events.ReconciliationNeededEvent)
	assert.Equal(t, "sig-1", ev.Pending.SignalID)
}

func TestRunStopsOnCancel(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.MonitorInterval = 10 * time.Millisecond
		c.PopTimeout = time.Second
	})
	var closed bool
	f.runner.OnShutdown("journal", func() error {
		closed = true
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.NoError(t, f.runner.Run(ctx))

	require.NoError(t, f.runner.Close(context.Background()))
	assert.True(t, closed)
}
