// internal/storage/storage.go
package storage

import (
	"context"
	"time"

	"github.com/rovshanmuradov/solana-copybot/internal/model"
)

// Summary aggregates archived trades.
type Summary struct {
	Trades   int64
	Wins     int64
	SolSpent float64
	PnL      float64
}

// WinRate is the share of trades closed in profit, in percent.
func (s Summary) WinRate() float64 {
	if s.Trades == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.Trades) * 100
}

// Archive is the long-term SQL record of closed trades. Redis stays the
// source of truth; the archive is written best-effort after each close.
type Archive interface {
	SaveTrade(ctx context.Context, rec *model.TradeRecord) error
	RecentTrades(ctx context.Context, limit int) ([]*model.TradeRecord, error)
	Summarize(ctx context.Context, since time.Time) (Summary, error)
	RunMigrations() error
	Close() error
}
