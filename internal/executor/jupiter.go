// internal/executor/jupiter.go
package executor

import (
	"context"
	"encoding/base64"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-copybot/internal/jupiter"
	"github.com/rovshanmuradov/solana-copybot/internal/model"
	"github.com/rovshanmuradov/solana-copybot/internal/wallet"
)

const solDecimals = 9

type SwapAPI interface {
	Quote(ctx context.Context, req jupiter.QuoteRequest) (*jupiter.QuoteResponse, error)
	Swap(ctx context.Context, quote *jupiter.QuoteResponse, user string, priorityLamports uint64) (*jupiter.SwapResponse, error)
}

type TxSender interface {
	SendTransactionSkipPreflight(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
}

type DecimalsSource interface {
	Get(ctx context.Context, mint string) uint8
}

// Jupiter swaps through the aggregator and signs locally with the trading key.
type Jupiter struct {
	api      SwapAPI
	wallet   *wallet.Wallet
	sender   TxSender
	decimals DecimalsSource
	confirm  *Confirmer
	logger   *zap.Logger
}

func NewJupiter(api SwapAPI, w *wallet.Wallet, sender TxSender, decimals DecimalsSource, confirm *Confirmer, logger *zap.Logger) *Jupiter {
	return &Jupiter{
		api:      api,
		wallet:   w,
		sender:   sender,
		decimals: decimals,
		confirm:  confirm,
		logger:   logger.Named("jupiter-exec"),
	}
}

func (j *Jupiter) Venue() model.Venue {
	return model.VenueAggregator
}

func (j *Jupiter) Buy(ctx context.Context, mint string, sol, slippagePct, priorityFee float64) (*TradeResult, error) {
	if sol <= 0 {
		return nil, fmt.Errorf("%w: buy amount must be positive", model.ErrInvalidInput)
	}
	decimals := j.decimals.Get(ctx, mint)
	quote, err := j.api.Quote(ctx, jupiter.QuoteRequest{
		InputMint:   jupiter.SOLMint,
		OutputMint:  mint,
		Amount:      toBaseUnits(sol, solDecimals),
		SlippageBps: bps(slippagePct),
	})
	if err != nil {
		return nil, fmt.Errorf("quote buy: %w", err)
	}

	res := &TradeResult{Venue: model.VenueAggregator, SolSpent: sol}
	if out, err := quote.OutAmountUnits(); err == nil && out > 0 {
		res.TokensReceived = fromBaseUnits(out, decimals)
		res.Price = sol / res.TokensReceived
	}
	return j.execute(ctx, SideBuy, mint, quote, priorityFee, res)
}

func (j *Jupiter) Sell(ctx context.Context, mint string, tokens, slippagePct, priorityFee float64) (*TradeResult, error) {
	if tokens <= 0 {
		return nil, fmt.Errorf("%w: sell amount must be positive", model.ErrInvalidInput)
	}
	decimals := j.decimals.Get(ctx, mint)
	quote, err := j.api.Quote(ctx, jupiter.QuoteRequest{
		InputMint:   mint,
		OutputMint:  jupiter.SOLMint,
		Amount:      toBaseUnits(tokens, decimals),
		SlippageBps: bps(slippagePct),
	})
	if err != nil {
		return nil, fmt.Errorf("quote sell: %w", err)
	}

	res := &TradeResult{Venue: model.VenueAggregator}
	if out, err := quote.OutAmountUnits(); err == nil && out > 0 {
		res.SolReceived = fromBaseUnits(out, solDecimals)
		res.Price = res.SolReceived / tokens
	}
	return j.execute(ctx, SideSell, mint, quote, priorityFee, res)
}

func (j *Jupiter) execute(ctx context.Context, side Side, mint string, quote *jupiter.QuoteResponse, priorityFee float64, res *TradeResult) (*TradeResult, error) {
	swap, err := j.api.Swap(ctx, quote, j.wallet.PublicKey.String(), toBaseUnits(priorityFee, solDecimals))
	if err != nil {
		return nil, fmt.Errorf("build swap: %w", err)
	}
	tx, err := decodeTransaction(swap.SwapTransaction)
	if err != nil {
		return nil, err
	}
	if err := j.wallet.SignTransaction(tx); err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	sig, err := j.sender.SendTransactionSkipPreflight(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("failed to send transaction: %w", err)
	}
	res.Signature = sig.String()

	j.logger.Info("Swap sent",
		zap.String("mint", mint),
		zap.String("side", string(side)),
		zap.String("signature", res.Signature))

	if j.confirm == nil {
		return res, nil
	}
	conf, err := j.confirm.Confirm(ctx, res.Signature, mint)
	if err != nil {
		return nil, err
	}
	res.Confirmed = conf.Confirmed
	applyFill(res, side, conf.Fill)
	return res, nil
}

func decodeTransaction(b64 string) (*solana.Transaction, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("decode swap transaction: %w", err)
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return nil, fmt.Errorf("deserialize swap transaction: %w", err)
	}
	return tx, nil
}

func bps(pct float64) int {
	return int(pct * 100)
}
