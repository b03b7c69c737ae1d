// internal/bot/monitor.go
package bot

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-copybot/internal/events"
	"github.com/rovshanmuradov/solana-copybot/internal/executor"
	"github.com/rovshanmuradov/solana-copybot/internal/exit"
	"github.com/rovshanmuradov/solana-copybot/internal/model"
	"github.com/rovshanmuradov/solana-copybot/internal/oracle"
	"github.com/rovshanmuradov/solana-copybot/internal/pnl"
	"github.com/rovshanmuradov/solana-copybot/internal/store"
)

// GraduatedReason is the force-exit reason set when a relay position's token
// leaves the bonding curve.
const GraduatedReason = "graduated"

// MonitorOnce evaluates every open position once. Errors of one position never
// stop the pass.
func (r *Runner) MonitorOnce(ctx context.Context) error {
	open, corrupt, err := r.store.ScanOpen(ctx)
	if err != nil {
		return err
	}
	r.metrics.SetOpenPositions(len(open) + len(corrupt))

	for _, pos := range open {
		if ctx.Err() != nil {
			return nil
		}
		pos := pos
		err := r.iterate(ctx, "monitor", func(ctx context.Context) error {
			return r.checkPosition(ctx, pos)
		})
		if err != nil {
			r.logger.Error("Position check failed",
				zap.String("mint", pos.TokenMint),
				zap.Error(err))
		}
	}

	for _, c := range corrupt {
		if ctx.Err() != nil {
			return nil
		}
		c := c
		err := r.iterate(ctx, "monitor", func(ctx context.Context) error {
			return r.salvage(ctx, c)
		})
		if err != nil {
			r.logger.Error("Corrupt position cleanup failed",
				zap.String("mint", c.TokenMint),
				zap.Error(err))
		}
	}
	return nil
}

// checkPosition prices one position, tracks its high-water mark and
// graduation, and closes it when the exit engine says so.
func (r *Runner) checkPosition(parent context.Context, pos *model.Position) error {
	ctx, cancel := context.WithTimeout(parent, 2*r.cfg.PriceTimeout)
	defer cancel()

	mint := pos.TokenMint
	_, forced, err := r.store.ForceExit(ctx, mint)
	if err != nil {
		r.logger.Warn("Force-exit lookup failed", zap.String("mint", mint), zap.Error(err))
	}

	quote, err := r.quote(ctx, mint)
	if err != nil && !forced {
		r.logger.Debug("No price, skipping evaluation", zap.String("mint", mint), zap.Error(err))
		return nil
	}
	if quote != nil && quote.Stale && !forced {
		r.logger.Debug("Stale price, skipping evaluation", zap.String("mint", mint))
		return nil
	}

	price := pos.EntryPrice
	if quote.Valid() {
		price = quote.Price
	}
	venue := exit.SelectVenue(quote)

	pnlPercent := 0.0
	res, err := r.calc.Unrealized(pos, price, r.sellOptions(venue, true))
	if err != nil {
		if !forced {
			return fmt.Errorf("unrealized pnl: %w", err)
		}
		r.logger.Warn("PnL unavailable for forced exit", zap.String("mint", mint), zap.Error(err))
	} else {
		pnlPercent = res.PnLPercent
	}

	if quote.Valid() && !quote.Stale && quote.Price > pos.HighWaterMark() {
		raised, err := r.store.UpdateMaxPrice(ctx, mint, quote.Price)
		if err != nil {
			r.logger.Warn("Failed to update max price", zap.String("mint", mint), zap.Error(err))
		} else if raised {
			pos.MaxPrice = quote.Price
		}
	}

	if quote != nil && quote.Graduated {
		if r.onGraduation(ctx, pos) {
			forced = true
		}
	}

	decision := r.exits.Evaluate(ctx, exit.Input{
		Position:   pos,
		Price:      price,
		PnLPercent: pnlPercent,
	})
	if !decision.ShouldExit {
		return nil
	}

	r.logger.Info("Exit triggered",
		zap.String("mint", mint),
		zap.String("reason", string(decision.Reason)),
		zap.String("phase", string(decision.Phase)),
		zap.String("description", decision.Description),
		zap.Float64("price", price),
		zap.Float64("pnl_percent", pnlPercent))
	r.metrics.ObserveExit(string(decision.Reason))
	r.publish(events.ExitTriggeredEvent{
		BaseEvent:  events.NewBase(events.ExitTriggered),
		TokenMint:  mint,
		Decision:   decision,
		Price:      price,
		PnLPercent: pnlPercent,
	})

	return r.closeOut(parent, pos, decision, quote)
}

func (r *Runner) quote(ctx context.Context, mint string) (*model.PriceQuote, error) {
	priceCtx, cancel := context.WithTimeout(ctx, r.cfg.PriceTimeout)
	defer cancel()
	q, err := r.prices.GetPrice(priceCtx, mint, oracle.Options{})
	if err != nil {
		return nil, err
	}
	if !q.Valid() {
		return nil, fmt.Errorf("%s: %w", mint, model.ErrPriceUnavailable)
	}
	return q, nil
}

// onGraduation records the first graduated quote of a mint. It reports
// whether a force exit is now pending for the position.
func (r *Runner) onGraduation(ctx context.Context, pos *model.Position) bool {
	r.mu.Lock()
	_, seen := r.graduated[pos.TokenMint]
	r.graduated[pos.TokenMint] = struct{}{}
	r.mu.Unlock()

	if !seen {
		r.seller.MarkGraduated(pos.TokenMint)
		r.logger.Info("Token graduated", zap.String("mint", pos.TokenMint))
	}
	if !r.cfg.ExitOnGraduation || pos.EntryVenue != model.VenueRelay {
		return false
	}
	if err := r.store.SetForceExit(ctx, pos.TokenMint, GraduatedReason); err != nil {
		r.logger.Warn("Failed to flag graduated position",
			zap.String("mint", pos.TokenMint),
			zap.Error(err))
		return false
	}
	return true
}

// closeOut sells the whole position and commits the close. A failed sell
// leaves the position open for the next pass.
func (r *Runner) closeOut(ctx context.Context, pos *model.Position, decision model.ExitDecision, quote *model.PriceQuote) error {
	mint := pos.TokenMint
	venue := exit.SelectVenue(quote)

	tradeCtx, cancel := context.WithTimeout(ctx, r.cfg.TradeTimeout)
	trade, err := r.seller.Sell(tradeCtx, venue, mint, pos.TokenAmount, r.cfg.SlippagePct, r.cfg.PriorityFee)
	cancel()
	if err != nil {
		r.publish(events.TradeFailedEvent{
			BaseEvent: events.NewBase(events.TradeFailed),
			TokenMint: mint,
			Side:      string(executor.SideSell),
			Venue:     venue,
			Err:       err,
		})
		return fmt.Errorf("sell %s: %w", mint, err)
	}

	exitVenue := trade.Venue
	if exitVenue == "" {
		exitVenue = venue
	}
	closed, err := r.store.ClosePosition(ctx, store.CloseRequest{
		TokenMint:     mint,
		ExitPrice:     exitPrice(trade, quote, pos),
		ExitSignature: trade.Signature,
		ExitVenue:     exitVenue,
		Reason:        string(decision.Reason),
		SolReceived:   trade.SolReceived,
		FillObserved:  trade.FillObserved,
		Unconfirmed:   !trade.Confirmed,
		Options:       r.sellOptions(exitVenue, false),
	})
	if err != nil {
		if errors.Is(err, model.ErrPositionNotFound) {
			r.logger.Warn("Position closed concurrently",
				zap.String("mint", mint),
				zap.String("signature", trade.Signature))
			return nil
		}
		r.logger.Error("Sold but close not recorded",
			zap.String("mint", mint),
			zap.String("signature", trade.Signature),
			zap.Error(err))
		r.publish(events.TradeFailedEvent{
			BaseEvent: events.NewBase(events.TradeFailed),
			TokenMint: mint,
			Side:      "close",
			Venue:     exitVenue,
			Err:       err,
		})
		return err
	}

	r.finish(ctx, mint)
	r.publish(events.PositionClosedEvent{
		BaseEvent: events.NewBase(events.PositionClosed),
		Record:    closed.Record,
		Phase:     decision.Phase,
	})
	r.checkFeeDrag(mint, closed.Result)
	return nil
}

func (r *Runner) checkFeeDrag(mint string, res *pnl.Result) {
	if r.cfg.FeeDragThreshold <= 0 || res == nil {
		return
	}
	drag, gap := pnl.CheckDiscrepancy(res, r.cfg.FeeDragThreshold)
	if !drag {
		return
	}
	r.logger.Warn("Fee drag above threshold",
		zap.String("mint", mint),
		zap.Float64("price_change_percent", res.PriceChangePercent),
		zap.Float64("pnl_percent", res.PnLPercent),
		zap.Float64("gap", gap))
	r.publish(events.FeeDragDetectedEvent{
		BaseEvent:          events.NewBase(events.FeeDragDetected),
		TokenMint:          mint,
		PriceChangePercent: res.PriceChangePercent,
		PnLPercent:         res.PnLPercent,
		Gap:                gap,
	})
}

// finish clears per-mint state once a position is gone.
func (r *Runner) finish(ctx context.Context, mint string) {
	if err := r.store.ClearForceExit(ctx, mint); err != nil {
		r.logger.Warn("Failed to clear force-exit flag", zap.String("mint", mint), zap.Error(err))
	}
	r.prices.Invalidate(mint)
	r.mu.Lock()
	delete(r.graduated, mint)
	delete(r.salvages, mint)
	r.mu.Unlock()
}

// exitPrice is the market price of the sale: the fill's own price, then the
// quote, then the received SOL per token, then the entry price.
func exitPrice(trade *executor.TradeResult, quote *model.PriceQuote, pos *model.Position) float64 {
	if trade != nil && model.IsPositive(trade.Price) {
		return trade.Price
	}
	if quote.Valid() {
		return quote.Price
	}
	if trade != nil && model.IsPositive(trade.SolReceived) && model.IsPositive(pos.TokenAmount) {
		return trade.SolReceived / pos.TokenAmount
	}
	return pos.EntryPrice
}

// sellOptions are the fees a sale on venue pays. A hypothetical sale also
// prices in the estimated slippage.
func (r *Runner) sellOptions(venue model.Venue, estimate bool) pnl.Options {
	opts := r.calc.DefaultOptions(venue)
	opts.PriorityFee = r.cfg.PriorityFee
	if estimate && r.cfg.EstimatedSlippagePct > 0 && r.cfg.EstimatedSlippagePct < 100 {
		opts.Slippage = r.cfg.EstimatedSlippagePct / 100
	}
	return opts
}

// salvage handles an open-index entry whose record cannot be decoded: sell
// whatever token amount is readable, then drop it from the index. After
// SalvageAttempts failed sells the entry is cleared without a sale.
func (r *Runner) salvage(parent context.Context, c *model.CorruptPosition) error {
	ctx, cancel := context.WithTimeout(parent, r.cfg.PriceTimeout+r.cfg.TradeTimeout)
	defer cancel()

	mint := c.TokenMint
	r.logger.Error("Corrupt position record",
		zap.String("mint", mint),
		zap.Float64("token_amount", c.TokenAmount),
		zap.Error(c.Err))

	r.mu.Lock()
	attempts := r.salvages[mint]
	r.mu.Unlock()

	var (
		trade *executor.TradeResult
		quote *model.PriceQuote
	)
	if model.IsPositive(c.TokenAmount) && attempts < r.cfg.SalvageAttempts {
		quote, _ = r.quote(ctx, mint)
		venue := exit.SelectVenue(quote)

		tradeCtx, cancelTrade := context.WithTimeout(ctx, r.cfg.TradeTimeout)
		res, err := r.seller.Sell(tradeCtx, venue, mint, c.TokenAmount, r.cfg.SlippagePct, r.cfg.PriorityFee)
		cancelTrade()
		if err != nil {
			r.mu.Lock()
			r.salvages[mint] = attempts + 1
			r.mu.Unlock()
			r.publish(events.TradeFailedEvent{
				BaseEvent: events.NewBase(events.TradeFailed),
				TokenMint: mint,
				Side:      string(executor.SideSell),
				Venue:     venue,
				Err:       err,
			})
			return fmt.Errorf("salvage sell %s (attempt %d/%d): %w",
				mint, attempts+1, r.cfg.SalvageAttempts, err)
		}
		trade = res
	}

	var sale *store.Sale
	if trade != nil {
		sale = &store.Sale{
			Signature:   trade.Signature,
			Venue:       trade.Venue,
			Price:       exitPrice(trade, quote, &model.Position{TokenAmount: c.TokenAmount}),
			SolReceived: trade.SolReceived,
			Unconfirmed: !trade.Confirmed,
		}
	}
	rec, err := r.store.ForceClearSold(ctx, mint, string(model.ReasonDataIntegrity), sale)
	if err != nil {
		if errors.Is(err, model.ErrPositionNotFound) {
			r.finish(ctx, mint)
			return nil
		}
		return err
	}

	r.finish(ctx, mint)
	r.metrics.ObserveExit(string(model.ReasonDataIntegrity))
	r.publish(events.PositionClosedEvent{
		BaseEvent: events.NewBase(events.PositionClosed),
		Record:    rec,
		Phase:     model.PhaseDataIntegrity,
	})
	return nil
}
