// internal/copytrade/strategy.go
package copytrade

import (
	"fmt"
	"math"

	"github.com/rovshanmuradov/solana-copybot/internal/model"
)

// Mode describes why a signal is being copied.
type Mode string

const (
	// ModeMirror follows a single tracked wallet.
	ModeMirror Mode = "mirror"
	// ModeConsensus follows a group of wallets that bought together.
	ModeConsensus Mode = "consensus"
)

// Decision is the verdict on one signal.
type Decision struct {
	Copy       bool
	Reason     string
	Amount     float64
	Confidence float64
	Mode       Mode
	Venue      model.Venue
	Quote      *model.PriceQuote

	// retryable rejections release the signal claim.
	retryable bool
}

func reject(format string, args ...interface{}) *Decision {
	return &Decision{Reason: fmt.Sprintf(format, args...)}
}

// Strategy sizes and accepts signals given a fresh quote.
type Strategy interface {
	Decide(sig *model.CopySignal, quote *model.PriceQuote) *Decision
}

// UpvoteStrategy scores a signal by the number of distinct wallets that
// bought. Confidence grows linearly to 1 at ConfidenceUpvotes and the buy is
// BaseBuySol*(0.5+confidence), capped at MaxBuySol.
type UpvoteStrategy struct {
	MinUpvotes        int     `mapstructure:"min_upvotes"`
	ConsensusUpvotes  int     `mapstructure:"consensus_upvotes"`
	ConfidenceUpvotes int     `mapstructure:"confidence_upvotes"`
	BaseBuySol        float64 `mapstructure:"base_buy_sol"`
	MaxBuySol         float64 `mapstructure:"max_buy_sol"`
	MaxEntryProgress  float64 `mapstructure:"max_entry_progress"`
	// SpendMultiplier, when set, sizes mirror buys from the source wallet's
	// own spend instead of the base amount.
	SpendMultiplier float64 `mapstructure:"spend_multiplier"`
}

func DefaultUpvoteStrategy() UpvoteStrategy {
	return UpvoteStrategy{
		MinUpvotes:        1,
		ConsensusUpvotes:  2,
		ConfidenceUpvotes: 3,
		BaseBuySol:        0.05,
		MaxBuySol:         0.2,
		MaxEntryProgress:  0.85,
	}
}

func (s UpvoteStrategy) Decide(sig *model.CopySignal, quote *model.PriceQuote) *Decision {
	upvotes := sig.Upvotes()
	if upvotes < s.MinUpvotes {
		return reject("%d upvotes below minimum %d", upvotes, s.MinUpvotes)
	}
	if !quote.Graduated && s.MaxEntryProgress > 0 && quote.Progress > s.MaxEntryProgress {
		return reject("curve progress %.2f above %.2f", quote.Progress, s.MaxEntryProgress)
	}

	confidence := 1.0
	if s.ConfidenceUpvotes > 0 {
		confidence = math.Min(1, float64(upvotes)/float64(s.ConfidenceUpvotes))
	}

	mode := ModeMirror
	if s.ConsensusUpvotes > 0 && upvotes >= s.ConsensusUpvotes {
		mode = ModeConsensus
	}

	amount := s.BaseBuySol * (0.5 + confidence)
	if mode == ModeMirror && s.SpendMultiplier > 0 {
		if spend := sig.Spends[sig.SourceWallet]; spend > 0 {
			amount = spend * s.SpendMultiplier
		}
	}
	if s.MaxBuySol > 0 {
		amount = math.Min(amount, s.MaxBuySol)
	}
	if !model.IsPositive(amount) {
		return reject("non-positive buy amount %v", amount)
	}

	return &Decision{
		Copy:       true,
		Reason:     fmt.Sprintf("%d upvotes", upvotes),
		Amount:     amount,
		Confidence: confidence,
		Mode:       mode,
	}
}
