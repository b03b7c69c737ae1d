// internal/model/position.go
package model

import (
	"fmt"
	"math"
	"time"
)

// Venue identifies an execution path for buy and sell orders.
type Venue string

const (
	// VenueRelay is the bonding-curve relay (PumpPortal on pump.fun).
	VenueRelay Venue = "pumpportal"
	// VenueAggregator is the open-market aggregator (Jupiter).
	VenueAggregator Venue = "jupiter"
	VenueUnknown    Venue = "unknown"
)

// ParseVenue maps a stored or configured venue name to a Venue.
func ParseVenue(s string) Venue {
	switch Venue(s) {
	case VenueRelay, VenueAggregator:
		return Venue(s)
	default:
		return VenueUnknown
	}
}

type PositionStatus string

const (
	StatusOpen   PositionStatus = "open"
	StatusClosed PositionStatus = "closed"
)

// Position is one token holding from entry to close.
type Position struct {
	TokenMint      string
	Label          string
	EntrySignature string
	EntryPrice     float64 // SOL per token
	EntryTime      time.Time
	SolSpent       float64
	TokenAmount    float64
	MaxPrice       float64
	Status         PositionStatus
	EntryVenue     Venue
	Unconfirmed    bool

	// Copy provenance.
	SourceWallet  string
	Upvotes       int
	Buyers        []string
	OriginalSpend float64

	ExitReason         string
	ExitPrice          float64
	ExitTime           time.Time
	ExitSignature      string
	SolReceived        float64
	RealizedPnL        float64
	RealizedPnLPercent float64
	IntegrityClose     bool
}

func (p *Position) IsOpen() bool {
	return p.Status == StatusOpen
}

// HoldTime is the time elapsed since entry.
func (p *Position) HoldTime(now time.Time) time.Duration {
	return now.Sub(p.EntryTime)
}

// HighWaterMark returns the larger of the stored max price and the entry price.
func (p *Position) HighWaterMark() float64 {
	if p.MaxPrice > p.EntryPrice {
		return p.MaxPrice
	}
	return p.EntryPrice
}

// Validate checks the invariants an open position must hold.
func (p *Position) Validate() error {
	if p.TokenMint == "" {
		return fmt.Errorf("%w: empty token mint", ErrInvalidInput)
	}
	if p.Status != StatusOpen {
		return nil
	}
	if !isPositive(p.EntryPrice) {
		return fmt.Errorf("%w: entry price %v", ErrInvalidInput, p.EntryPrice)
	}
	if !isPositive(p.TokenAmount) {
		return fmt.Errorf("%w: token amount %v", ErrInvalidInput, p.TokenAmount)
	}
	if !isPositive(p.SolSpent) {
		return fmt.Errorf("%w: sol spent %v", ErrInvalidInput, p.SolSpent)
	}
	if p.EntryTime.IsZero() {
		return fmt.Errorf("%w: missing entry time", ErrInvalidInput)
	}
	return nil
}

// IsPositive reports whether v is a finite number greater than zero.
func IsPositive(v float64) bool {
	return isPositive(v)
}

func isPositive(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0
}

// CorruptPosition is an open-index entry whose record could not be decoded.
// TokenAmount is set when that one field was still readable.
type CorruptPosition struct {
	TokenMint   string
	Raw         map[string]string
	TokenAmount float64
	Err         error
}
