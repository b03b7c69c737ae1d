// internal/bot/loops.go
package bot

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-copybot/internal/events"
	"github.com/rovshanmuradov/solana-copybot/internal/model"
)

// loop runs step until ctx ends. A failed or panicking iteration is logged
// and followed by the iteration backoff; it never stops the loop.
func (r *Runner) loop(ctx context.Context, name string, step func(context.Context) error) error {
	log := r.logger.With(zap.String("loop", name))
	log.Debug("Loop started")
	for {
		if err := ctx.Err(); err != nil {
			log.Debug("Loop stopped")
			return nil
		}
		if err := r.iterate(ctx, name, step); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Warn("Loop iteration failed", zap.Error(err))
			if r.sleep(ctx, r.cfg.IterationBackoff) != nil {
				return nil
			}
		}
	}
}

// iterate runs one step, turning a panic into an error.
func (r *Runner) iterate(ctx context.Context, name string, step func(context.Context) error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.metrics.ObserveLoopPanic(name)
			r.logger.Error("Recovered from panic",
				zap.String("loop", name),
				zap.Any("panic", rec),
				zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("panic in %s loop: %v", name, rec)
		}
	}()
	return step(ctx)
}

// CopyOnce pops at most one copy signal and processes it. An empty queue is
// not an error.
func (r *Runner) CopyOnce(ctx context.Context) error {
	sig, err := r.store.PopCopySignal(ctx, r.cfg.PopTimeout)
	if err != nil {
		if errors.Is(err, model.ErrInvalidInput) {
			r.metrics.ObserveSignal("invalid")
			r.logger.Warn("Dropped malformed copy signal", zap.Error(err))
			return nil
		}
		return err
	}
	if sig == nil {
		return nil
	}

	out, err := r.copier.Process(ctx, sig)
	switch {
	case errors.Is(err, model.ErrDuplicateSignal):
		r.logger.Debug("Duplicate signal", zap.String("signal", sig.ID))
		return nil
	case errors.Is(err, model.ErrInvalidInput):
		r.logger.Warn("Invalid copy signal", zap.String("signal", sig.ID), zap.Error(err))
		return nil
	case err != nil:
		// Buy failures were already published by the engine; the loop continues.
		r.logger.Error("Copy signal failed",
			zap.String("signal", sig.ID),
			zap.String("mint", sig.TokenMint),
			zap.Error(err))
		return nil
	}
	if out != nil && out.Position != nil {
		r.logger.Debug("Copy signal executed",
			zap.String("signal", sig.ID),
			zap.String("mint", out.Position.TokenMint))
	}
	return nil
}

// SellSignalOnce pops at most one sell signal, records its sellers and flags
// the sale when it comes from the wallet an open position mirrors.
func (r *Runner) SellSignalOnce(ctx context.Context) error {
	sig, err := r.store.PopSellSignal(ctx, r.cfg.PopTimeout)
	if err != nil {
		if errors.Is(err, model.ErrInvalidInput) {
			r.logger.Warn("Dropped malformed sell signal", zap.Error(err))
			return nil
		}
		return err
	}
	if sig == nil {
		return nil
	}

	if err := r.store.RecordSellers(ctx, sig, r.cfg.SellerTTL); err != nil {
		return fmt.Errorf("failed to record sellers of %s: %w", sig.TokenMint, err)
	}

	pos, err := r.store.GetPosition(ctx, sig.TokenMint)
	if err != nil {
		if errors.Is(err, model.ErrPositionNotFound) {
			return nil
		}
		r.logger.Debug("Sell signal for unreadable position",
			zap.String("mint", sig.TokenMint), zap.Error(err))
		return nil
	}
	if !pos.IsOpen() || pos.SourceWallet == "" || !sig.Has(pos.SourceWallet) {
		return nil
	}

	r.logger.Info("Source wallet sold",
		zap.String("mint", pos.TokenMint),
		zap.String("wallet", pos.SourceWallet),
		zap.Int("sellers", sig.Count()))
	r.publish(events.SellSignalObservedEvent{
		BaseEvent:    events.NewBase(events.SellSignalObserved),
		TokenMint:    pos.TokenMint,
		SourceWallet: pos.SourceWallet,
		Sellers:      sig.Count(),
	})
	return nil
}

// monitorLoop runs a monitor pass every interval; a pass that overruns the
// interval delays the next one instead of overlapping it.
func (r *Runner) monitorLoop(ctx context.Context) error {
	for {
		if err := r.iterate(ctx, "monitor", r.MonitorOnce); err != nil && ctx.Err() == nil {
			r.logger.Warn("Monitor pass failed", zap.Error(err))
			if r.sleep(ctx, r.cfg.IterationBackoff) != nil {
				return nil
			}
			continue
		}
		if r.sleep(ctx, r.cfg.MonitorInterval) != nil {
			return nil
		}
	}
}
