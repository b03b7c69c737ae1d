// internal/model/trade.go
package model

import "time"

// TradeRecord is the immutable history entry appended when a position closes.
type TradeRecord struct {
	TokenMint          string    `json:"token_mint"`
	Label              string    `json:"label,omitempty"`
	SourceWallet       string    `json:"source_wallet,omitempty"`
	Upvotes            int       `json:"upvotes,omitempty"`
	EntryVenue         Venue     `json:"entry_venue,omitempty"`
	ExitVenue          Venue     `json:"exit_venue,omitempty"`
	EntrySignature     string    `json:"entry_signature"`
	ExitSignature      string    `json:"exit_signature,omitempty"`
	EntryPrice         float64   `json:"entry_price"`
	ExitPrice          float64   `json:"exit_price"`
	EntryTime          time.Time `json:"entry_time"`
	ExitTime           time.Time `json:"exit_time"`
	SolSpent           float64   `json:"sol_spent"`
	SolReceived        float64   `json:"sol_received"`
	TokenAmount        float64   `json:"token_amount"`
	NetReceived        float64   `json:"net_received"`
	PnL                float64   `json:"pnl"`
	PnLPercent         float64   `json:"pnl_percent"`
	PriceChangePercent float64   `json:"price_change_percent"`
	Reason             string    `json:"reason"`
	Unconfirmed        bool      `json:"unconfirmed,omitempty"`
	IntegrityClose     bool      `json:"integrity_close,omitempty"`
}

// HoldTime is the time the position was held.
func (r *TradeRecord) HoldTime() time.Duration {
	return r.ExitTime.Sub(r.EntryTime)
}

// PendingBuy is the buy intent persisted before execution so a crash between
// the buy and the position open leaves a reconciliation trail.
type PendingBuy struct {
	TokenMint    string    `json:"token_mint"`
	SignalID     string    `json:"signal_id"`
	SourceWallet string    `json:"source_wallet"`
	Venue        Venue     `json:"venue"`
	SolAmount    float64   `json:"sol_amount"`
	QuotePrice   float64   `json:"quote_price"`
	Signature    string    `json:"signature,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
