// internal/exit/threshold.go
package exit

import (
	"fmt"
	"time"

	"github.com/rovshanmuradov/solana-copybot/internal/model"
)

// Policy is a price/time based exit rule set evaluated after the phase table.
type Policy interface {
	Evaluate(pos *model.Position, price, pnlPercent float64, hold time.Duration) model.ExitDecision
}

// ThresholdStrategy is the default copy exit policy. A zero field disables its
// rule. The trailing stop arms once the high-water mark is
// TrailingActivationPct above entry and fires on a TrailingStopPct drop from it.
type ThresholdStrategy struct {
	TakeProfitPct         float64       `mapstructure:"take_profit_pct"`
	StopLossPct           float64       `mapstructure:"stop_loss_pct"`
	TrailingStopPct       float64       `mapstructure:"trailing_stop_pct"`
	TrailingActivationPct float64       `mapstructure:"trailing_activation_pct"`
	MaxHold               time.Duration `mapstructure:"-"`
}

func DefaultThresholdStrategy() ThresholdStrategy {
	return ThresholdStrategy{
		TakeProfitPct:         100,
		StopLossPct:           30,
		TrailingStopPct:       20,
		TrailingActivationPct: 50,
	}
}

// Evaluate returns the highest-priority rule that fires, or a hold.
func (t ThresholdStrategy) Evaluate(pos *model.Position, price, pnlPercent float64, hold time.Duration) model.ExitDecision {
	if t.StopLossPct > 0 && pnlPercent <= -t.StopLossPct {
		return model.ExitDecision{
			ShouldExit:  true,
			Reason:      model.ReasonStopLoss,
			Priority:    model.PriorityStopLoss,
			Description: fmt.Sprintf("stop loss: %.2f%% <= -%.2f%%", pnlPercent, t.StopLossPct),
		}
	}

	if t.TrailingStopPct > 0 && model.IsPositive(price) {
		high := pos.HighWaterMark()
		if price > high {
			high = price
		}
		activation := pos.EntryPrice * (1 + t.TrailingActivationPct/100)
		stop := high * (1 - t.TrailingStopPct/100)
		if high >= activation && price <= stop {
			return model.ExitDecision{
				ShouldExit: true,
				Reason:     model.ReasonTrailingStop,
				Priority:   model.PriorityTrailingStop,
				Description: fmt.Sprintf("trailing stop: price %.10g fell %.2f%% from high %.10g",
					price, (1-price/high)*100, high),
			}
		}
	}

	if t.TakeProfitPct > 0 && pnlPercent >= t.TakeProfitPct {
		return model.ExitDecision{
			ShouldExit:  true,
			Reason:      model.ReasonTakeProfit,
			Priority:    model.PriorityTakeProfit,
			Description: fmt.Sprintf("take profit: %.2f%% >= %.2f%%", pnlPercent, t.TakeProfitPct),
		}
	}

	if t.MaxHold > 0 && hold >= t.MaxHold {
		return model.ExitDecision{
			ShouldExit:  true,
			Reason:      model.ReasonMaxHold,
			Priority:    model.PriorityMaxHold,
			Description: fmt.Sprintf("max hold: held %s", hold.Truncate(time.Second)),
		}
	}

	return model.ExitDecision{Description: fmt.Sprintf("pnl %.2f%%", pnlPercent)}
}
