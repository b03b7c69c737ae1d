package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-copybot/internal/model"
)

type priceBox struct {
	price float64
	err   error
}

func (p *priceBox) get(context.Context, string) (float64, error) {
	return p.price, p.err
}

func TestSimulatedBuyRecordsEntry(t *testing.T) {
	prices := &priceBox{price: 0.0001}
	sim := NewSimulated(prices.get, SimulatedConfig{}, zap.NewNop())

	res, err := sim.Buy(context.Background(), testMint, 0.1, 15, 0)
	require.NoError(t, err)
	assert.True(t, res.Simulated)
	assert.True(t, res.Confirmed)
	assert.InDelta(t, 1000.0, res.TokensReceived, 1e-9)
	assert.Equal(t, 0.1, res.SolSpent)

	entry, ok := sim.Entry(testMint)
	require.True(t, ok)
	assert.Equal(t, 0.0001, entry)

	raw, err := base58.Decode(res.Signature)
	require.NoError(t, err)
	assert.Len(t, raw, 64)
}

func TestSimulatedSellClampsIntoBand(t *testing.T) {
	tests := []struct {
		name     string
		observed float64
		want     float64
	}{
		{"inside band", 0.00015, 0.00015},
		{"above band", 0.01, 0.0003},
		{"below band", 0.00001, 0.00005},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prices := &priceBox{price: 0.0001}
			sim := NewSimulated(prices.get, DefaultSimulatedConfig(), zap.NewNop())
			_, err := sim.Buy(context.Background(), testMint, 0.1, 15, 0)
			require.NoError(t, err)

			prices.price = tt.observed
			res, err := sim.Sell(context.Background(), testMint, 1000, 15, 0)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, res.Price, 1e-12)
			assert.InDelta(t, 1000*tt.want, res.SolReceived, 1e-9)

			_, ok := sim.Entry(testMint)
			assert.False(t, ok)
		})
	}
}

func TestSimulatedSellWithoutEntryUsesObservedPrice(t *testing.T) {
	prices := &priceBox{price: 0.5}
	sim := NewSimulated(prices.get, DefaultSimulatedConfig(), zap.NewNop())
	res, err := sim.Sell(context.Background(), testMint, 2, 15, 0)
	require.NoError(t, err)
	assert.Equal(t, 1.0, res.SolReceived)
}

func TestSimulatedVenueViewsShareEntries(t *testing.T) {
	prices := &priceBox{price: 0.0001}
	sim := NewSimulated(prices.get, DefaultSimulatedConfig(), zap.NewNop())
	agg := sim.WithVenue(model.VenueAggregator)
	assert.Equal(t, model.VenueRelay, sim.Venue())
	assert.Equal(t, model.VenueAggregator, agg.Venue())

	_, err := sim.Buy(context.Background(), testMint, 0.1, 15, 0)
	require.NoError(t, err)
	_, ok := agg.Entry(testMint)
	assert.True(t, ok)
}

func TestSimulatedPriceErrors(t *testing.T) {
	prices := &priceBox{err: errors.New("all tiers failed")}
	sim := NewSimulated(prices.get, DefaultSimulatedConfig(), zap.NewNop())
	_, err := sim.Buy(context.Background(), testMint, 0.1, 15, 0)
	assert.Error(t, err)

	prices.err = nil
	prices.price = 0
	_, err = sim.Buy(context.Background(), testMint, 0.1, 15, 0)
	assert.ErrorIs(t, err, model.ErrPriceUnavailable)
}
