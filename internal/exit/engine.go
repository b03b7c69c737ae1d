// internal/exit/engine.go
package exit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-copybot/internal/model"
)

// ForceFlags reports operator or graduation force-exit requests.
type ForceFlags interface {
	ForceExit(ctx context.Context, mint string) (string, bool, error)
}

// Config holds the phase boundaries, measured from entry.
type Config struct {
	MirrorWindow     time.Duration
	IndependentAfter time.Duration
}

func DefaultConfig() Config {
	return Config{
		MirrorWindow:     3 * time.Minute,
		IndependentAfter: 10 * time.Minute,
	}
}

// Input is one evaluation of an open position at the current price.
type Input struct {
	Position   *model.Position
	Price      float64
	PnLPercent float64
}

// SellSource answers when a wallet last sold a token, looking further than
// its recorded signals when those predate after.
type SellSource interface {
	LastSellAfter(ctx context.Context, wallet, mint string, after time.Time) (time.Time, bool, error)
}

// Engine combines force flags, the hold-time phase table and a threshold
// policy into one exit decision.
type Engine struct {
	cfg    Config
	sells  SellSource
	policy Policy
	force  ForceFlags
	logger *zap.Logger
	now    func() time.Time
}

// NewEngine creates an exit engine. sells, policy and force may be nil.
func NewEngine(cfg Config, sells SellSource, policy Policy, force ForceFlags, logger *zap.Logger) *Engine {
	def := DefaultConfig()
	if cfg.MirrorWindow <= 0 {
		cfg.MirrorWindow = def.MirrorWindow
	}
	if cfg.IndependentAfter < cfg.MirrorWindow {
		cfg.IndependentAfter = cfg.MirrorWindow
	}
	return &Engine{
		cfg:    cfg,
		sells:  sells,
		policy: policy,
		force:  force,
		logger: logger.Named("exit"),
		now:    time.Now,
	}
}

// Phase returns the phase a position is in after holding for hold.
func (e *Engine) Phase(hold time.Duration) model.Phase {
	switch {
	case hold < e.cfg.MirrorWindow:
		return model.PhaseMirror
	case hold < e.cfg.IndependentAfter:
		return model.PhaseLossProtect
	default:
		return model.PhaseIndependent
	}
}

// Evaluate decides whether the position should exit now. Attribution order is
// force flag, then phase table, then threshold policy.
func (e *Engine) Evaluate(ctx context.Context, in Input) model.ExitDecision {
	pos := in.Position
	hold := pos.HoldTime(e.now())
	phase := e.Phase(hold)

	if e.force != nil {
		reason, ok, err := e.force.ForceExit(ctx, pos.TokenMint)
		if err != nil {
			e.logger.Warn("Force-exit lookup failed",
				zap.String("mint", pos.TokenMint),
				zap.Error(err))
		} else if ok {
			return model.ExitDecision{
				ShouldExit:  true,
				Phase:       model.PhaseForced,
				Reason:      model.ReasonForceExit,
				Priority:    model.PriorityForce,
				Description: fmt.Sprintf("force exit requested: %s", reason),
			}
		}
	}

	phaseDecision := e.evaluatePhase(ctx, pos, phase, in.PnLPercent)
	if phaseDecision.ShouldExit {
		return phaseDecision
	}

	if e.policy != nil {
		d := e.policy.Evaluate(pos, in.Price, in.PnLPercent, hold)
		if d.ShouldExit {
			d.Phase = phase
			return d
		}
	}
	return phaseDecision
}

func (e *Engine) evaluatePhase(ctx context.Context, pos *model.Position, phase model.Phase, pnlPercent float64) model.ExitDecision {
	switch phase {
	case model.PhaseMirror:
		if at, ok := e.soldAfterEntry(ctx, pos); ok {
			return model.ExitDecision{
				ShouldExit:  true,
				Phase:       phase,
				Reason:      model.ReasonMirrorSell,
				Priority:    model.PriorityMirror,
				Description: fmt.Sprintf("source wallet sold at %s", at.Format(time.RFC3339)),
			}
		}
		return model.Hold(phase, "mirroring source wallet")

	case model.PhaseLossProtect:
		if pnlPercent >= 0 {
			return model.Hold(phase, fmt.Sprintf("in profit %.2f%%, ignoring source wallet", pnlPercent))
		}
		if at, ok := e.soldAfterEntry(ctx, pos); ok {
			return model.ExitDecision{
				ShouldExit:  true,
				Phase:       phase,
				Reason:      model.ReasonLossProtect,
				Priority:    model.PriorityLossProtect,
				Description: fmt.Sprintf("source wallet sold at %s while pnl %.2f%%", at.Format(time.RFC3339), pnlPercent),
			}
		}
		return model.Hold(phase, "source wallet still holding")

	default:
		return model.Hold(phase, "independent")
	}
}

// soldAfterEntry reports a source-wallet sale strictly after entry. Missing
// wallets, failed lookups and sales at or before entry never count.
func (e *Engine) soldAfterEntry(ctx context.Context, pos *model.Position) (time.Time, bool) {
	if e.sells == nil || pos.SourceWallet == "" {
		return time.Time{}, false
	}
	at, found, err := e.sells.LastSellAfter(ctx, pos.SourceWallet, pos.TokenMint, pos.EntryTime)
	if err != nil {
		e.logger.Debug("Wallet-sell lookup inconclusive",
			zap.String("mint", pos.TokenMint),
			zap.String("wallet", pos.SourceWallet),
			zap.Error(err))
		return time.Time{}, false
	}
	if !found {
		return time.Time{}, false
	}
	if !at.After(pos.EntryTime) {
		e.logger.Debug("Ignoring sale from before entry",
			zap.String("mint", pos.TokenMint),
			zap.Time("sold_at", at),
			zap.Time("entry", pos.EntryTime))
		return time.Time{}, false
	}
	return at, true
}
