// internal/storage/models/closed_trade.go
package models

import (
	"time"

	"github.com/rovshanmuradov/solana-copybot/internal/model"
)

// ClosedTrade is the archived form of a closed position.
type ClosedTrade struct {
	ID                 uint      `gorm:"primarykey"`
	CreatedAt          time.Time `gorm:"default:CURRENT_TIMESTAMP"`
	TokenMint          string    `gorm:"not null;type:varchar(44);uniqueIndex:idx_trade_close"`
	ExitTime           time.Time `gorm:"not null;index;uniqueIndex:idx_trade_close"`
	EntryTime          time.Time `gorm:"not null"`
	Label              string    `gorm:"type:varchar(100)"`
	SourceWallet       string    `gorm:"index;type:varchar(44)"`
	Upvotes            int       `gorm:"default:0"`
	EntryVenue         string    `gorm:"type:varchar(20)"`
	ExitVenue          string    `gorm:"type:varchar(20)"`
	EntrySignature     string    `gorm:"type:varchar(88)"`
	ExitSignature      string    `gorm:"type:varchar(88)"`
	EntryPrice         float64   `gorm:"not null"`
	ExitPrice          float64   `gorm:"not null"`
	TokenAmount        float64   `gorm:"not null"`
	SolSpent           float64   `gorm:"type:decimal(20,9);not null"`
	SolReceived        float64   `gorm:"type:decimal(20,9);not null"`
	NetReceived        float64   `gorm:"type:decimal(20,9)"`
	PnL                float64   `gorm:"column:pnl;type:decimal(20,9);not null"`
	PnLPercent         float64   `gorm:"column:pnl_percent;type:decimal(12,4)"`
	PriceChangePercent float64   `gorm:"type:decimal(12,4)"`
	Reason             string    `gorm:"index;not null;type:varchar(40)"`
	Unconfirmed        bool      `gorm:"default:false"`
	IntegrityClose     bool      `gorm:"default:false"`
}

// FromRecord maps a trade record to its archive row.
func FromRecord(r *model.TradeRecord) *ClosedTrade {
	return &ClosedTrade{
		TokenMint:          r.TokenMint,
		ExitTime:           r.ExitTime.UTC(),
		EntryTime:          r.EntryTime.UTC(),
		Label:              r.Label,
		SourceWallet:       r.SourceWallet,
		Upvotes:            r.Upvotes,
		EntryVenue:         string(r.EntryVenue),
		ExitVenue:          string(r.ExitVenue),
		EntrySignature:     r.EntrySignature,
		ExitSignature:      r.ExitSignature,
		EntryPrice:         r.EntryPrice,
		ExitPrice:          r.ExitPrice,
		TokenAmount:        r.TokenAmount,
		SolSpent:           r.SolSpent,
		SolReceived:        r.SolReceived,
		NetReceived:        r.NetReceived,
		PnL:                r.PnL,
		PnLPercent:         r.PnLPercent,
		PriceChangePercent: r.PriceChangePercent,
		Reason:             r.Reason,
		Unconfirmed:        r.Unconfirmed,
		IntegrityClose:     r.IntegrityClose,
	}
}

// Record maps the row back to a trade record.
func (t *ClosedTrade) Record() *model.TradeRecord {
	return &model.TradeRecord{
		TokenMint:          t.TokenMint,
		Label:              t.Label,
		SourceWallet:       t.SourceWallet,
		Upvotes:            t.Upvotes,
		EntryVenue:         model.ParseVenue(t.EntryVenue),
		ExitVenue:          model.ParseVenue(t.ExitVenue),
		EntrySignature:     t.EntrySignature,
		ExitSignature:      t.ExitSignature,
		EntryPrice:         t.EntryPrice,
		ExitPrice:          t.ExitPrice,
		EntryTime:          t.EntryTime,
		ExitTime:           t.ExitTime,
		SolSpent:           t.SolSpent,
		SolReceived:        t.SolReceived,
		TokenAmount:        t.TokenAmount,
		NetReceived:        t.NetReceived,
		PnL:                t.PnL,
		PnLPercent:         t.PnLPercent,
		PriceChangePercent: t.PriceChangePercent,
		Reason:             t.Reason,
		Unconfirmed:        t.Unconfirmed,
		IntegrityClose:     t.IntegrityClose,
	}
}
