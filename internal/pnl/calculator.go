// internal/pnl/calculator.go
package pnl

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/rovshanmuradov/solana-copybot/internal/model"
)

// DefaultDiscrepancyThreshold is the fee drag, in percentage points, worth surfacing.
const DefaultDiscrepancyThreshold = 5.0

// Options describe the hypothetical or actual sale being valued.
type Options struct {
	Venue model.Venue
	// Slippage is a fraction; applied only when positive.
	Slippage    float64
	NetworkFee  float64 // SOL
	PriorityFee float64 // SOL
}

// RealizedInput is a completed sale.
type RealizedInput struct {
	EntryPrice  float64
	ExitPrice   float64
	TokenAmount float64
	SolSpent    float64
	Options
}

// Breakdown records every step of the fee pipeline.
type Breakdown struct {
	Venue            model.Venue
	Gross            float64
	SellFeeFraction  float64
	VenueFee         float64
	AfterVenueFee    float64
	SlippageFraction float64
	SlippageCost     float64
	AfterSlippage    float64
	NetworkFee       float64
	PriorityFee      float64
}

// Result is the PnL of a realized or hypothetical sale.
type Result struct {
	PnL                float64
	PnLPercent         float64
	PriceChangePercent float64
	NetReceived        float64
	Breakdown          Breakdown
}

// FeeDrag is the gap between the fee-free price move and the net return.
func (r *Result) FeeDrag() float64 {
	return r.PriceChangePercent - r.PnLPercent
}

// ApplyObserved replaces the computed net with the SOL the wallet actually
// received. Fees are already out of an observed fill, so the breakdown stays
// as the estimate only.
func (r *Result) ApplyObserved(received, spent float64) {
	if !model.IsPositive(received) || !model.IsPositive(spent) {
		return
	}
	cost := decimal.NewFromFloat(spent)
	pnl := decimal.NewFromFloat(received).Sub(cost)
	r.NetReceived = received
	r.PnL = pnl.InexactFloat64()
	r.PnLPercent = pnl.Div(cost).Mul(decimal.NewFromInt(100)).InexactFloat64()
}

// Calculator computes fee-aware PnL. It holds no mutable state.
type Calculator struct {
	fees FeeSchedule
}

func NewCalculator(fees FeeSchedule) *Calculator {
	return &Calculator{fees: fees}
}

func (c *Calculator) Fees() FeeSchedule {
	return c.fees
}

// DefaultOptions fills the network fee from the schedule for venue.
func (c *Calculator) DefaultOptions(venue model.Venue) Options {
	return Options{Venue: venue, NetworkFee: c.fees.NetworkFee}
}

// Realized computes the PnL of a completed sale.
func (c *Calculator) Realized(in RealizedInput) (*Result, error) {
	if err := validate(in); err != nil {
		return nil, err
	}

	sellFee := c.fees.SellFee(in.Venue)
	if sellFee < 0 || sellFee >= 1 || math.IsNaN(sellFee) {
		return nil, fmt.Errorf("%w: sell fee fraction %v for venue %s", model.ErrInvalidInput, sellFee, in.Venue)
	}

	one := decimal.NewFromInt(1)
	hundred := decimal.NewFromInt(100)
	entry := decimal.NewFromFloat(in.EntryPrice)
	exit := decimal.NewFromFloat(in.ExitPrice)
	tokens := decimal.NewFromFloat(in.TokenAmount)
	spent := decimal.NewFromFloat(in.SolSpent)
	feeFrac := decimal.NewFromFloat(sellFee)

	// 1. gross
	gross := tokens.Mul(exit)
	// 2. venue sell fee
	afterFee := gross.Mul(one.Sub(feeFrac))
	// 3. experienced slippage
	slipFrac := decimal.Zero
	if in.Slippage > 0 {
		slipFrac = decimal.NewFromFloat(in.Slippage)
	}
	afterSlip := afterFee.Mul(one.Sub(slipFrac))
	// 4. flat fees
	networkFee := decimal.NewFromFloat(in.NetworkFee)
	priorityFee := decimal.NewFromFloat(in.PriorityFee)
	net := afterSlip.Sub(networkFee).Sub(priorityFee)
	// 5. pnl
	pnl := net.Sub(spent)
	pnlPct := pnl.Div(spent).Mul(hundred)
	// 6. fee-free reference
	priceChange := exit.Sub(entry).Div(entry).Mul(hundred)

	return &Result{
		PnL:                pnl.InexactFloat64(),
		PnLPercent:         pnlPct.InexactFloat64(),
		PriceChangePercent: priceChange.InexactFloat64(),
		NetReceived:        net.InexactFloat64(),
		Breakdown: Breakdown{
			Venue:            in.Venue,
			Gross:            gross.InexactFloat64(),
			SellFeeFraction:  sellFee,
			VenueFee:         gross.Sub(afterFee).InexactFloat64(),
			AfterVenueFee:    afterFee.InexactFloat64(),
			SlippageFraction: slipFrac.InexactFloat64(),
			SlippageCost:     afterFee.Sub(afterSlip).InexactFloat64(),
			AfterSlippage:    afterSlip.InexactFloat64(),
			NetworkFee:       in.NetworkFee,
			PriorityFee:      in.PriorityFee,
		},
	}, nil
}

// Unrealized values an immediate sale of the whole position at currentPrice.
// The position is not modified.
func (c *Calculator) Unrealized(pos *model.Position, currentPrice float64, opts Options) (*Result, error) {
	if pos == nil {
		return nil, fmt.Errorf("%w: nil position", model.ErrInvalidInput)
	}
	return c.Realized(RealizedInput{
		EntryPrice:  pos.EntryPrice,
		ExitPrice:   currentPrice,
		TokenAmount: pos.TokenAmount,
		SolSpent:    pos.SolSpent,
		Options:     opts,
	})
}

// CheckDiscrepancy reports whether fee drag exceeds thresholdPct percentage points.
func CheckDiscrepancy(res *Result, thresholdPct float64) (bool, float64) {
	if res == nil {
		return false, 0
	}
	gap := math.Abs(res.FeeDrag())
	return gap > thresholdPct, gap
}

func validate(in RealizedInput) error {
	required := []struct {
		name  string
		value float64
	}{
		{"entry price", in.EntryPrice},
		{"exit price", in.ExitPrice},
		{"token amount", in.TokenAmount},
		{"sol spent", in.SolSpent},
	}
	for _, r := range required {
		if !model.IsPositive(r.value) {
			return fmt.Errorf("%w: %s must be a positive number, got %v", model.ErrInvalidInput, r.name, r.value)
		}
	}

	if math.IsNaN(in.Slippage) || math.IsInf(in.Slippage, 0) || in.Slippage >= 1 {
		return fmt.Errorf("%w: slippage fraction %v", model.ErrInvalidInput, in.Slippage)
	}
	for name, fee := range map[string]float64{"network fee": in.NetworkFee, "priority fee": in.PriorityFee} {
		if math.IsNaN(fee) || math.IsInf(fee, 0) || fee < 0 {
			return fmt.Errorf("%w: %s %v", model.ErrInvalidInput, name, fee)
		}
	}
	return nil
}
