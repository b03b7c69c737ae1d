// internal/executor/executor.go
package executor

import (
	"context"
	"math"

	"github.com/rovshanmuradov/solana-copybot/internal/blockchain/solbc"
	"github.com/rovshanmuradov/solana-copybot/internal/model"
)

// Side is the direction of a trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// TradeResult describes an executed order. Amounts are zero when the fill
// could not be read back from chain.
type TradeResult struct {
	Signature      string
	Venue          model.Venue
	TokensReceived float64
	SolSpent       float64
	SolReceived    float64
	// Price is the market SOL per whole token before fees, 0 when unknown.
	Price float64
	// FillObserved marks SolReceived as the wallet's balance change, fees
	// already paid.
	FillObserved bool
	Confirmed    bool
	Simulated    bool
}

// Executor places orders on one venue. sol and tokens are whole units,
// slippagePct is a percentage and priorityFee is in SOL.
type Executor interface {
	Venue() model.Venue
	Buy(ctx context.Context, mint string, sol, slippagePct, priorityFee float64) (*TradeResult, error)
	Sell(ctx context.Context, mint string, tokens, slippagePct, priorityFee float64) (*TradeResult, error)
}

// applyFill overwrites estimated amounts with the on-chain balance deltas. A
// sell keeps its market price; the delta is net of every fee.
func applyFill(res *TradeResult, side Side, fill *solbc.Fill) {
	if fill == nil {
		return
	}
	switch side {
	case SideBuy:
		if fill.TokenDelta > 0 {
			res.TokensReceived = fill.TokenDelta
		}
		if fill.SolDelta < 0 {
			res.SolSpent = -fill.SolDelta
		}
		if res.TokensReceived > 0 && res.SolSpent > 0 {
			res.Price = res.SolSpent / res.TokensReceived
		}
	case SideSell:
		if fill.SolDelta > 0 {
			res.SolReceived = fill.SolDelta
			res.FillObserved = true
		}
	}
}

func toBaseUnits(amount float64, decimals uint8) uint64 {
	return uint64(math.Floor(amount * math.Pow10(int(decimals))))
}

func fromBaseUnits(units uint64, decimals uint8) float64 {
	return float64(units) / math.Pow10(int(decimals))
}
