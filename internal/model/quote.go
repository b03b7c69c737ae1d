// internal/model/quote.go
package model

import "time"

// PriceSource tags the oracle tier that produced a quote.
type PriceSource string

const (
	SourceBondingCurve PriceSource = "bonding_curve"
	SourceAggregator   PriceSource = "aggregator"
	SourceMarketData   PriceSource = "market_data"
)

// PriceQuote is a short-lived exchange rate in SOL per whole token.
type PriceQuote struct {
	TokenMint string
	Price     float64
	Source    PriceSource
	Graduated bool
	// Progress is the bonding-curve completion ratio in [0,1]; 1 once graduated.
	Progress  float64
	Timestamp time.Time
	Stale     bool
}

// Valid reports whether the quote carries a usable price.
func (q *PriceQuote) Valid() bool {
	return q != nil && isPositive(q.Price)
}

func (q *PriceQuote) Age(now time.Time) time.Duration {
	return now.Sub(q.Timestamp)
}
