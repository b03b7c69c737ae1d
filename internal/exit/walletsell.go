// internal/exit/walletsell.go
package exit

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// RecordedSells answers from sell signals already seen for a wallet.
type RecordedSells interface {
	LastSell(ctx context.Context, wallet, mint string) (time.Time, bool, error)
}

// ChainSellSource scans a wallet's recent transactions for a token sale.
type ChainSellSource interface {
	LastTokenSell(ctx context.Context, wallet, mint string, limit int) (time.Time, bool, error)
}

type sellLookup struct {
	at      time.Time
	found   bool
	fetched time.Time
}

// WalletSellChecker looks up the recorded seller hash first and falls back to
// an on-chain scan. Answers are cached per wallet and mint.
type WalletSellChecker struct {
	recorded   RecordedSells
	chain      ChainSellSource
	chainLimit int
	ttl        time.Duration
	logger     *zap.Logger
	now        func() time.Time

	mu    sync.Mutex
	cache map[string]sellLookup
}

// NewWalletSellChecker creates a checker. chain may be nil.
func NewWalletSellChecker(recorded RecordedSells, chain ChainSellSource, ttl time.Duration, logger *zap.Logger) *WalletSellChecker {
	return &WalletSellChecker{
		recorded:   recorded,
		chain:      chain,
		chainLimit: 20,
		ttl:        ttl,
		logger:     logger.Named("wallet_sell"),
		now:        time.Now,
		cache:      make(map[string]sellLookup),
	}
}

// LastSellAfter returns the latest known sale of mint by wallet. The chain is
// consulted whenever the recorded sale is not after after, since a newer sale
// may not have reached the signal queue yet. Lookup errors are returned only
// when no source produced an answer.
func (c *WalletSellChecker) LastSellAfter(ctx context.Context, wallet, mint string, after time.Time) (time.Time, bool, error) {
	key := wallet + ":" + mint + ":" + strconv.FormatInt(after.UnixNano(), 10)
	now := c.now()

	c.mu.Lock()
	if hit, ok := c.cache[key]; ok && now.Sub(hit.fetched) < c.ttl {
		c.mu.Unlock()
		return hit.at, hit.found, nil
	}
	c.mu.Unlock()

	var errs []error
	answered := false
	result := sellLookup{fetched: now}

	if c.recorded != nil {
		at, found, err := c.recorded.LastSell(ctx, wallet, mint)
		switch {
		case err != nil:
			errs = append(errs, err)
		case found:
			result.at, result.found = at, true
			answered = true
		default:
			answered = true
		}
	}

	if (!result.found || !result.at.After(after)) && c.chain != nil {
		at, found, err := c.chain.LastTokenSell(ctx, wallet, mint, c.chainLimit)
		switch {
		case err != nil:
			errs = append(errs, err)
		case found && (!result.found || at.After(result.at)):
			result.at, result.found = at, true
			answered = true
		default:
			answered = true
		}
	}

	if !answered && len(errs) > 0 {
		return time.Time{}, false, errors.Join(errs...)
	}
	if len(errs) > 0 {
		c.logger.Debug("Partial wallet-sell lookup",
			zap.String("wallet", wallet),
			zap.String("mint", mint),
			zap.Error(errors.Join(errs...)))
	}

	c.mu.Lock()
	c.cache[key] = result
	c.mu.Unlock()
	return result.at, result.found, nil
}
