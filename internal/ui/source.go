// internal/ui/source.go
package ui

import (
	"context"
	"time"

	"github.com/rovshanmuradov/solana-copybot/internal/model"
	"github.com/rovshanmuradov/solana-copybot/internal/oracle"
)

// Source is the read side of the position store plus the manual exit flag.
type Source interface {
	GetOpenPositions(ctx context.Context) ([]*model.Position, error)
	TradeHistory(ctx context.Context, day time.Time) ([]*model.TradeRecord, error)
	SetForceExit(ctx context.Context, mint, reason string) error
}

// PriceSource values open positions. Optional.
type PriceSource interface {
	GetPrice(ctx context.Context, mint string, opts oracle.Options) (*model.PriceQuote, error)
}

// ManualExitReason tags exits requested from the dashboard.
const ManualExitReason = "manual"

// Row is an open position with its latest valuation.
type Row struct {
	Position   *model.Position
	Price      float64
	PnL        float64
	PnLPercent float64
	Priced     bool
	Stale      bool
}

// Snapshot is one refresh worth of data.
type Snapshot struct {
	Rows    []Row
	History []*model.TradeRecord
	Err     error
	At      time.Time
}
