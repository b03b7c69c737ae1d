// internal/oracle/decimals.go
package oracle

import (
	"context"
	"sync"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
)

// MintDecimalsReader reads the decimals of an SPL mint.
type MintDecimalsReader interface {
	GetMintDecimals(ctx context.Context, mint solana.PublicKey) (uint8, error)
}

// DecimalsCache memoizes mint decimals. Lookups that fail fall back to the
// pump.fun default and are not cached.
type DecimalsCache struct {
	reader MintDecimalsReader
	logger *zap.Logger

	mu     sync.RWMutex
	values map[string]uint8
}

func NewDecimalsCache(reader MintDecimalsReader, logger *zap.Logger) *DecimalsCache {
	return &DecimalsCache{
		reader: reader,
		logger: logger.Named("decimals"),
		values: make(map[string]uint8),
	}
}

func (d *DecimalsCache) Get(ctx context.Context, mint string) uint8 {
	d.mu.RLock()
	v, ok := d.values[mint]
	d.mu.RUnlock()
	if ok {
		return v
	}
	if d.reader == nil {
		return DefaultTokenDecimals
	}

	key, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return DefaultTokenDecimals
	}
	v, err = d.reader.GetMintDecimals(ctx, key)
	if err != nil {
		d.logger.Debug("Falling back to default decimals",
			zap.String("mint", mint),
			zap.Error(err))
		return DefaultTokenDecimals
	}

	d.mu.Lock()
	d.values[mint] = v
	d.mu.Unlock()
	return v
}
