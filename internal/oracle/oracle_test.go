package oracle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/solana-copybot/internal/model"
)

const testMint = "So11111111111111111111111111111111111111112"

type fakeCurve struct {
	mu    sync.Mutex
	calls int
	state *CurveState
	err   error
}

func (f *fakeCurve) ReadCurve(context.Context, string) (*CurveState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.state, f.err
}

type fakeTier struct {
	mu    sync.Mutex
	calls int
	price float64
	err   error
}

func (f *fakeTier) QuotePrice(context.Context, string, uint8) (float64, error) {
	return f.call()
}

func (f *fakeTier) TokenPrice(context.Context, string) (float64, error) {
	return f.call()
}

func (f *fakeTier) call() (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.price, f.err
}

func (f *fakeTier) set(price float64, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.price, f.err = price, err
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

// activeCurve has 30 SOL / 1.073B tokens virtual reserves: ~2.8e-8 SOL per token.
func activeCurve() *CurveState {
	return &CurveState{
		VirtualTokenReserves: 1_073_000_000_000_000,
		VirtualSolReserves:   30_000_000_000,
		RealTokenReserves:    793_100_000_000_000 / 2,
	}
}

func newTestOracle(t *testing.T, curve *fakeCurve, agg, market *fakeTier) (*Oracle, *clock) {
	t.Helper()
	tiers := Tiers{}
	if curve != nil {
		tiers.Curve = curve
	}
	if agg != nil {
		tiers.Aggregator = agg
	}
	if market != nil {
		tiers.Market = market
	}
	o := New(DefaultConfig(), tiers, zaptest.NewLogger(t))
	c := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	o.now = c.now
	return o, c
}

func TestGetPriceFromBondingCurve(t *testing.T) {
	curve := &fakeCurve{state: activeCurve()}
	agg := &fakeTier{price: 1}
	o, _ := newTestOracle(t, curve, agg, nil)

	q, err := o.GetPrice(context.Background(), testMint, Options{})
	require.NoError(t, err)

	assert.Equal(t, model.SourceBondingCurve, q.Source)
	assert.False(t, q.Graduated)
	assert.InDelta(t, 30.0/1_073_000_000, q.Price, 1e-15)
	assert.InDelta(t, 0.5, q.Progress, 1e-9)
	assert.Zero(t, agg.calls)
}

func TestGetPriceFallsThroughToAggregatorWhenNoCurve(t *testing.T) {
	curve := &fakeCurve{err: ErrCurveNotFound}
	agg := &fakeTier{price: 0.00002}
	market := &fakeTier{price: 0.5}
	o, _ := newTestOracle(t, curve, agg, market)

	q, err := o.GetPrice(context.Background(), testMint, Options{})
	require.NoError(t, err)

	assert.Equal(t, model.SourceAggregator, q.Source)
	assert.True(t, q.Graduated)
	assert.Equal(t, 0.00002, q.Price)
	assert.Equal(t, 1, curve.calls)
	assert.Equal(t, 1, agg.calls)
	assert.Zero(t, market.calls)
}

func TestGetPriceCompleteCurveIsGraduated(t *testing.T) {
	state := activeCurve()
	state.Complete = true
	curve := &fakeCurve{state: state, err: ErrCurveComplete}
	agg := &fakeTier{price: 0.0001}
	o, _ := newTestOracle(t, curve, agg, nil)

	q, err := o.GetPrice(context.Background(), testMint, Options{})
	require.NoError(t, err)
	assert.True(t, q.Graduated)
	assert.Equal(t, 1.0, q.Progress)
	assert.Equal(t, model.SourceAggregator, q.Source)
}

func TestGetPriceRPCErrorIsNotGraduation(t *testing.T) {
	curve := &fakeCurve{err: errors.New("rpc timeout")}
	agg := &fakeTier{err: errors.New("no quote")}
	market := &fakeTier{price: 0.001}
	o, _ := newTestOracle(t, curve, agg, market)

	q, err := o.GetPrice(context.Background(), testMint, Options{})
	require.NoError(t, err)
	assert.Equal(t, model.SourceMarketData, q.Source)
	assert.False(t, q.Graduated)
}

func TestGetPriceRejectsNonPositiveTierPrice(t *testing.T) {
	agg := &fakeTier{price: 0}
	market := &fakeTier{price: 0.003}
	o, _ := newTestOracle(t, nil, agg, market)

	q, err := o.GetPrice(context.Background(), testMint, Options{})
	require.NoError(t, err)
	assert.Equal(t, model.SourceMarketData, q.Source)
}

func TestGetPriceAllTiersFail(t *testing.T) {
	curve := &fakeCurve{err: ErrCurveNotFound}
	agg := &fakeTier{err: model.ErrNoRoute}
	market := &fakeTier{err: errors.New("no pairs")}
	o, _ := newTestOracle(t, curve, agg, market)

	q, err := o.GetPrice(context.Background(), testMint, Options{})
	assert.Nil(t, q)
	assert.ErrorIs(t, err, model.ErrPriceUnavailable)
	assert.ErrorIs(t, err, model.ErrNoRoute)
}

func TestGetPriceCacheAndForceFresh(t *testing.T) {
	agg := &fakeTier{price: 0.001}
	o, clk := newTestOracle(t, nil, agg, nil)
	ctx := context.Background()

	_, err := o.GetPrice(ctx, testMint, Options{})
	require.NoError(t, err)
	_, err = o.GetPrice(ctx, testMint, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, agg.calls, "second call within TTL is served from cache")

	_, err = o.GetPrice(ctx, testMint, Options{ForceFresh: true})
	require.NoError(t, err)
	assert.Equal(t, 2, agg.calls)

	clk.advance(DefaultConfig().AggregatorTTL)
	_, err = o.GetPrice(ctx, testMint, Options{})
	require.NoError(t, err)
	assert.Equal(t, 3, agg.calls, "expired quote is refreshed")
}

func TestGetPriceTTLDependsOnTier(t *testing.T) {
	market := &fakeTier{price: 0.001}
	o, clk := newTestOracle(t, nil, nil, market)
	ctx := context.Background()

	_, err := o.GetPrice(ctx, testMint, Options{})
	require.NoError(t, err)

	clk.advance(DefaultConfig().CurveTTL + time.Second)
	_, err = o.GetPrice(ctx, testMint, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, market.calls, "market-data quotes live longer than curve quotes")
}

func TestGetPriceStaleFallback(t *testing.T) {
	agg := &fakeTier{price: 0.001}
	o, clk := newTestOracle(t, nil, agg, nil)
	ctx := context.Background()

	first, err := o.GetPrice(ctx, testMint, Options{})
	require.NoError(t, err)
	assert.False(t, first.Stale)

	clk.advance(10 * time.Minute)
	agg.set(0, errors.New("down"))

	q, err := o.GetPrice(ctx, testMint, Options{})
	require.NoError(t, err)
	assert.True(t, q.Stale)
	assert.Equal(t, 0.001, q.Price)
}

func TestGetPriceFailureBackoff(t *testing.T) {
	curve := &fakeCurve{err: errors.New("rpc down")}
	agg := &fakeTier{err: errors.New("down")}
	market := &fakeTier{err: errors.New("down")}
	o, clk := newTestOracle(t, curve, agg, market)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := o.GetPrice(ctx, testMint, Options{ForceFresh: true})
		require.ErrorIs(t, err, model.ErrPriceUnavailable)
		clk.advance(time.Second)
	}
	require.Equal(t, 3, curve.calls)

	q, err := o.GetPrice(ctx, testMint, Options{ForceFresh: true})
	assert.Nil(t, q)
	assert.ErrorIs(t, err, model.ErrPriceSkipped)
	assert.Equal(t, 3, curve.calls, "no tier is called during backoff")
	assert.Equal(t, 3, agg.calls)
	assert.Equal(t, 3, market.calls)

	clk.advance(DefaultConfig().FailureWindow)
	_, err = o.GetPrice(ctx, testMint, Options{})
	assert.ErrorIs(t, err, model.ErrPriceUnavailable)
	assert.Equal(t, 4, curve.calls, "tiers are retried once the window elapses")
}

func TestGetPriceBackoffServesStaleCache(t *testing.T) {
	agg := &fakeTier{price: 0.002}
	o, clk := newTestOracle(t, nil, agg, nil)
	ctx := context.Background()

	_, err := o.GetPrice(ctx, testMint, Options{})
	require.NoError(t, err)

	agg.set(0, errors.New("down"))
	for i := 0; i < 3; i++ {
		clk.advance(6 * time.Second)
		q, err := o.GetPrice(ctx, testMint, Options{})
		require.NoError(t, err)
		require.True(t, q.Stale)
	}
	calls := agg.calls

	q, err := o.GetPrice(ctx, testMint, Options{})
	require.NoError(t, err)
	assert.True(t, q.Stale)
	assert.Equal(t, 0.002, q.Price)
	assert.Equal(t, calls, agg.calls)
}

func TestGetPriceSuccessResetsFailures(t *testing.T) {
	agg := &fakeTier{err: errors.New("down")}
	o, _ := newTestOracle(t, nil, agg, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := o.GetPrice(ctx, testMint, Options{ForceFresh: true})
		require.Error(t, err)
	}
	agg.set(0.001, nil)
	_, err := o.GetPrice(ctx, testMint, Options{ForceFresh: true})
	require.NoError(t, err)

	agg.set(0, errors.New("down"))
	for i := 0; i < 2; i++ {
		q, err := o.GetPrice(ctx, testMint, Options{ForceFresh: true})
		require.NoError(t, err)
		require.True(t, q.Stale)
	}
	calls := agg.calls
	_, err = o.GetPrice(ctx, testMint, Options{ForceFresh: true})
	require.NoError(t, err)
	assert.Equal(t, calls+1, agg.calls, "two failures after a success do not trigger backoff")
}

func TestInvalidateDropsCacheAndBackoff(t *testing.T) {
	agg := &fakeTier{price: 0.001}
	o, _ := newTestOracle(t, nil, agg, nil)
	ctx := context.Background()

	_, err := o.GetPrice(ctx, testMint, Options{})
	require.NoError(t, err)
	o.Invalidate(testMint)
	_, err = o.GetPrice(ctx, testMint, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, agg.calls, "invalidated quote is not served from cache")

	agg.set(0, errors.New("down"))
	for i := 0; i < 3; i++ {
		_, _ = o.GetPrice(ctx, testMint, Options{ForceFresh: true})
	}
	o.Invalidate(testMint)
	_, err = o.GetPrice(ctx, testMint, Options{ForceFresh: true})
	assert.ErrorIs(t, err, model.ErrPriceUnavailable, "failure backoff is reset")
}
