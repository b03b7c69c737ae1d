package exit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeChain struct {
	at    time.Time
	found bool
	err   error
	calls int
}

func (f *fakeChain) LastTokenSell(context.Context, string, string, int) (time.Time, bool, error) {
	f.calls++
	return f.at, f.found, f.err
}

func newChecker(recorded RecordedSells, chain ChainSellSource) (*WalletSellChecker, *time.Time) {
	c := NewWalletSellChecker(recorded, chain, 10*time.Second, zap.NewNop())
	now := entry
	c.now = func() time.Time { return now }
	return c, &now
}

func TestWalletSellCheckerPrefersRecorded(t *testing.T) {
	recorded := &fakeSells{at: entry.Add(time.Minute), found: true}
	chain := &fakeChain{}
	c, _ := newChecker(recorded, chain)

	at, ok, err := c.LastSellAfter(context.Background(), "w", "m", entry)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, recorded.at, at)
	assert.Zero(t, chain.calls)
}

func TestWalletSellCheckerAsksChainWhenRecordedPredatesEntry(t *testing.T) {
	recorded := &fakeSells{at: entry.Add(-time.Minute), found: true}
	chain := &fakeChain{at: entry.Add(time.Minute), found: true}
	c, _ := newChecker(recorded, chain)

	at, ok, err := c.LastSellAfter(context.Background(), "w", "m", entry)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, chain.at, at)
	assert.Equal(t, 1, chain.calls)
}

func TestWalletSellCheckerKeepsLaterRecordedSale(t *testing.T) {
	recorded := &fakeSells{at: entry, found: true}
	chain := &fakeChain{at: entry.Add(-time.Hour), found: true}
	c, _ := newChecker(recorded, chain)

	at, ok, err := c.LastSellAfter(context.Background(), "w", "m", entry)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, recorded.at, at)
	assert.Equal(t, 1, chain.calls)
}

func TestWalletSellCheckerFallsBackToChain(t *testing.T) {
	recorded := &fakeSells{}
	chain := &fakeChain{at: entry.Add(2 * time.Minute), found: true}
	c, _ := newChecker(recorded, chain)

	at, ok, err := c.LastSellAfter(context.Background(), "w", "m", entry)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, chain.at, at)
}

func TestWalletSellCheckerCaches(t *testing.T) {
	recorded := &fakeSells{}
	c, now := newChecker(recorded, nil)
	ctx := context.Background()

	_, ok, err := c.LastSellAfter(ctx, "w", "m", entry)
	require.NoError(t, err)
	assert.False(t, ok)

	recorded.at, recorded.found = entry.Add(time.Second), true
	_, ok, _ = c.LastSellAfter(ctx, "w", "m", entry)
	assert.False(t, ok, "cached answer within ttl")
	assert.Equal(t, 1, recorded.calls)

	*now = now.Add(11 * time.Second)
	_, ok, _ = c.LastSellAfter(ctx, "w", "m", entry)
	assert.True(t, ok)
	assert.Equal(t, 2, recorded.calls)
}

func TestWalletSellCheckerErrors(t *testing.T) {
	recorded := &fakeSells{err: errors.New("redis down")}
	chain := &fakeChain{err: errors.New("rpc down")}
	c, _ := newChecker(recorded, chain)
	ctx := context.Background()

	_, ok, err := c.LastSellAfter(ctx, "w", "m", entry)
	assert.Error(t, err)
	assert.False(t, ok)

	_, _, _ = c.LastSellAfter(ctx, "w", "m", entry)
	assert.Equal(t, 2, recorded.calls, "errors are not cached")

	chain.err = nil
	_, ok, err = c.LastSellAfter(ctx, "w", "m", entry)
	assert.NoError(t, err, "one source answering is enough")
	assert.False(t, ok)
}
