package ui

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/solana-copybot/internal/model"
	"github.com/rovshanmuradov/solana-copybot/internal/oracle"
	"github.com/rovshanmuradov/solana-copybot/internal/pnl"
)

const (
	mintA = "So1anaMintAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"
	mintB = "So1anaMintBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBBB"
)

type fakeSource struct {
	mu       sync.Mutex
	open     []*model.Position
	history  []*model.TradeRecord
	openErr  error
	forced   map[string]string
	forceErr error
	histDays []time.Time
}

func (f *fakeSource) GetOpenPositions(context.Context) ([]*model.Position, error) {
	return f.open, f.openErr
}

func (f *fakeSource) TradeHistory(_ context.Context, day time.Time) ([]*model.TradeRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.histDays = append(f.histDays, day)
	return f.history, nil
}

func (f *fakeSource) SetForceExit(_ context.Context, mint, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.forceErr != nil {
		return f.forceErr
	}
	if f.forced == nil {
		f.forced = make(map[string]string)
	}
	f.forced[mint] = reason
	return nil
}

type fakePrices map[string]*model.PriceQuote

func (f fakePrices) GetPrice(_ context.Context, mint string, _ oracle.Options) (*model.PriceQuote, error) {
	q, ok := f[mint]
	if !ok {
		return nil, errors.New("no price")
	}
	return q, nil
}

func position(mint string, entry float64) *model.Position {
	return &model.Position{
		TokenMint:   mint,
		EntryPrice:  entry,
		EntryTime:   time.Now().Add(-5 * time.Minute),
		SolSpent:    0.1,
		TokenAmount: 0.1 / entry,
		Status:      model.StatusOpen,
		EntryVenue:  model.VenueRelay,
	}
}

func noFees() *pnl.Calculator {
	return pnl.NewCalculator(pnl.FeeSchedule{})
}

func TestLoadValuesPricedPositions(t *testing.T) {
	src := &fakeSource{open: []*model.Position{position(mintA, 0.00001), position(mintB, 0.00001)}}
	prices := fakePrices{mintA: {TokenMint: mintA, Price: 0.00002}}
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	snap := Load(context.Background(), src, prices, noFees(), now)
	require.NoError(t, snap.Err)
	require.Len(t, snap.Rows, 2)

	assert.True(t, snap.Rows[0].Priced)
	assert.InDelta(t, 0.1, snap.Rows[0].PnL, 1e-9)
	assert.InDelta(t, 100, snap.Rows[0].PnLPercent, 1e-6)
	assert.False(t, snap.Rows[1].Priced)
	assert.Equal(t, []time.Time{now}, src.histDays)
}

func TestLoadWithoutPriceSource(t *testing.T) {
	src := &fakeSource{open: []*model.Position{position(mintA, 0.00001)}}
	snap := Load(context.Background(), src, nil, noFees(), time.Now())
	require.Len(t, snap.Rows, 1)
	assert.False(t, snap.Rows[0].Priced)
}

func TestLoadReportsStoreError(t *testing.T) {
	src := &fakeSource{openErr: errors.New("redis down")}
	snap := Load(context.Background(), src, nil, noFees(), time.Now())
	require.Error(t, snap.Err)
	assert.Contains(t, snap.Err.Error(), "redis down")
	assert.Empty(t, snap.Rows)
}

func newDashboard(t *testing.T, src *fakeSource, prices PriceSource) *Dashboard {
	t.Helper()
	d := NewDashboard(src, Options{Prices: prices, Calc: noFees()}, zaptest.NewLogger(t))
	d.resize(120, 40)
	msg := d.fetch()()
	d.Update(msg)
	return d
}

func keyRunes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestSellKeyQueuesManualExit(t *testing.T) {
	src := &fakeSource{open: []*model.Position{position(mintA, 0.00001), position(mintB, 0.00001)}}
	d := newDashboard(t, src, nil)

	_, _ = d.Update(tea.KeyMsg{Type: tea.KeyDown})
	require.Equal(t, mintB, d.Selected().TokenMint)

	_, cmd := d.Update(keyRunes("s"))
	require.NotNil(t, cmd)
	_, _ = d.Update(cmd())

	assert.Equal(t, map[string]string{mintB: ManualExitReason}, src.forced)
	assert.Contains(t, d.Status(), "exit queued")
}

func TestSellKeyReportsFailure(t *testing.T) {
	src := &fakeSource{
		open:     []*model.Position{position(mintA, 0.00001)},
		forceErr: errors.New("timeout"),
	}
	d := newDashboard(t, src, nil)

	_, cmd := d.Update(keyRunes("s"))
	require.NotNil(t, cmd)
	_, _ = d.Update(cmd())
	assert.Contains(t, d.Status(), "failed")
}

func TestSellKeyWithoutPositions(t *testing.T) {
	d := newDashboard(t, &fakeSource{}, nil)
	_, cmd := d.Update(keyRunes("s"))
	assert.Nil(t, cmd)
	assert.Equal(t, "no position selected", d.Status())
}

func TestSellIgnoredOnHistoryTab(t *testing.T) {
	src := &fakeSource{open: []*model.Position{position(mintA, 0.00001)}}
	d := newDashboard(t, src, nil)

	_, _ = d.Update(tea.KeyMsg{Type: tea.KeyTab})
	_, cmd := d.Update(keyRunes("s"))
	assert.Nil(t, cmd)
	assert.Empty(t, src.forced)
}

func TestQuitKey(t *testing.T) {
	d := newDashboard(t, &fakeSource{}, nil)
	_, cmd := d.Update(keyRunes("q"))
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}

func TestTickSkipsFetchWhileLoading(t *testing.T) {
	d := NewDashboard(&fakeSource{}, Options{}, zaptest.NewLogger(t))
	require.True(t, d.loading)
	_, cmd := d.Update(tickMsg(time.Now()))
	require.NotNil(t, cmd)
	assert.True(t, d.loading)
}

func TestSummaryAggregatesDay(t *testing.T) {
	src := &fakeSource{
		open: []*model.Position{position(mintA, 0.00001)},
		history: []*model.TradeRecord{
			{TokenMint: mintA, SolSpent: 0.1, SolReceived: 0.15, PnL: 0.05, Reason: "take_profit"},
			{TokenMint: mintB, SolSpent: 0.1, SolReceived: 0.07, PnL: -0.03, Reason: "stop_loss"},
		},
	}
	d := newDashboard(t, src, fakePrices{mintA: {TokenMint: mintA, Price: 0.000015}})

	s := d.Summary()
	assert.InDelta(t, 0.02, s.Realized, 1e-9)
	assert.InDelta(t, 0.05, s.Unrealized, 1e-9)
	assert.Equal(t, 1, s.Wins)
	assert.Equal(t, 1, s.Losses)
	assert.InDelta(t, 50, s.WinRate(), 1e-9)

	view := d.View()
	assert.Contains(t, view, "Open (1)")
	assert.Contains(t, view, "Today (2)")
}

func TestShortMintAndHeld(t *testing.T) {
	assert.Equal(t, "So1a…BBBB", shortMint(mintB))
	assert.Equal(t, "short", shortMint("short"))

	tests := []struct {
		in   time.Duration
		want string
	}{
		{-time.Second, "0s"},
		{42 * time.Second, "42s"},
		{3*time.Minute + 7*time.Second, "3m07s"},
		{2*time.Hour + 5*time.Minute, "2h05m"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatHeld(tt.in))
	}
}
