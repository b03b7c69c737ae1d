// internal/blockchain/solbc/activity.go
package solbc

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
)

// Fill is the balance change of one owner in one transaction.
type Fill struct {
	TokenDelta float64 // whole tokens, positive when received
	SolDelta   float64 // SOL, positive when received; includes the tx fee when owner paid it
	BlockTime  time.Time
}

// FillFromMeta computes owner's balance deltas for mint from a transaction meta.
// ownerIndex is the position of owner in the account keys; the fee payer is 0.
func FillFromMeta(meta *rpc.TransactionMeta, owner, mint solana.PublicKey, ownerIndex int) Fill {
	var f Fill
	if meta == nil {
		return f
	}
	pre := tokenBalance(meta.PreTokenBalances, owner, mint)
	post := tokenBalance(meta.PostTokenBalances, owner, mint)
	f.TokenDelta = post - pre

	if ownerIndex >= 0 && ownerIndex < len(meta.PreBalances) && ownerIndex < len(meta.PostBalances) {
		lamports := int64(meta.PostBalances[ownerIndex]) - int64(meta.PreBalances[ownerIndex])
		f.SolDelta = float64(lamports) / float64(solana.LAMPORTS_PER_SOL)
	}
	return f
}

func tokenBalance(balances []rpc.TokenBalance, owner, mint solana.PublicKey) float64 {
	var total float64
	for _, b := range balances {
		if b.Owner == nil || !b.Owner.Equals(owner) || !b.Mint.Equals(mint) || b.UiTokenAmount == nil {
			continue
		}
		total += uiAmount(b.UiTokenAmount)
	}
	return total
}

func uiAmount(a *rpc.UiTokenAmount) float64 {
	if a.UiAmountString != "" {
		if v, err := strconv.ParseFloat(a.UiAmountString, 64); err == nil {
			return v
		}
	}
	if a.UiAmount != nil {
		return *a.UiAmount
	}
	raw, err := strconv.ParseFloat(a.Amount, 64)
	if err != nil {
		return 0
	}
	div := 1.0
	for i := uint8(0); i < a.Decimals; i++ {
		div *= 10
	}
	return raw / div
}

// TransactionFill fetches a confirmed transaction and returns owner's fill for mint.
func (c *Client) TransactionFill(ctx context.Context, signature solana.Signature, owner, mint solana.PublicKey) (*Fill, error) {
	result, err := c.GetTransaction(ctx, signature)
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	if result == nil || result.Meta == nil {
		return nil, fmt.Errorf("transaction %s has no meta", signature)
	}
	if result.Meta.Err != nil {
		return nil, fmt.Errorf("transaction %s failed on chain: %v", signature, result.Meta.Err)
	}

	index := 0
	if result.Transaction != nil {
		if tx, err := result.Transaction.GetTransaction(); err == nil && tx != nil {
			for i, key := range tx.Message.AccountKeys {
				if key.Equals(owner) {
					index = i
					break
				}
			}
		}
	}

	fill := FillFromMeta(result.Meta, owner, mint, index)
	if result.BlockTime != nil {
		fill.BlockTime = result.BlockTime.Time()
	}
	return &fill, nil
}

// LastTokenSell scans the most recent transactions of wallet and returns the
// block time of the latest one that reduced its balance of mint.
func (c *Client) LastTokenSell(ctx context.Context, wallet, mint string, limit int) (time.Time, bool, error) {
	owner, err := solana.PublicKeyFromBase58(wallet)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("invalid wallet %q: %w", wallet, err)
	}
	mintKey, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("invalid mint %q: %w", mint, err)
	}

	sigs, err := c.GetRecentSignatures(ctx, owner, limit)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to list signatures: %w", err)
	}

	// Newest first.
	for _, s := range sigs {
		if s == nil || s.Err != nil {
			continue
		}
		fill, err := c.TransactionFill(ctx, s.Signature, owner, mintKey)
		if err != nil {
			c.logger.Debug("Skipping unreadable transaction",
				zap.String("signature", s.Signature.String()),
				zap.Error(err))
			continue
		}
		if fill.TokenDelta < 0 {
			at := fill.BlockTime
			if at.IsZero() && s.BlockTime != nil {
				at = s.BlockTime.Time()
			}
			return at, true, nil
		}
	}
	return time.Time{}, false, nil
}
