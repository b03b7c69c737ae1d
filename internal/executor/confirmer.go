// internal/executor/confirmer.go
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-copybot/internal/blockchain/solbc"
)

// ErrTransactionFailed is returned when the cluster reports the transaction as failed.
var ErrTransactionFailed = errors.New("transaction failed on chain")

var errPending = errors.New("signature not confirmed yet")

type StatusReader interface {
	GetSignatureStatuses(ctx context.Context, signatures ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
}

type FillReader interface {
	TransactionFill(ctx context.Context, signature solana.Signature, owner, mint solana.PublicKey) (*solbc.Fill, error)
}

type ConfirmerConfig struct {
	Interval time.Duration
	Attempts uint
}

func DefaultConfirmerConfig() ConfirmerConfig {
	return ConfirmerConfig{Interval: 2 * time.Second, Attempts: 15}
}

// Confirmation is the outcome of polling one signature.
type Confirmation struct {
	Confirmed bool
	Fill      *solbc.Fill
}

// Confirmer polls signature statuses at a constant interval. Running out of
// attempts is not an error: the trade may still land.
type Confirmer struct {
	statuses StatusReader
	fills    FillReader
	owner    solana.PublicKey
	cfg      ConfirmerConfig
	logger   *zap.Logger
}

func NewConfirmer(statuses StatusReader, fills FillReader, owner solana.PublicKey, cfg ConfirmerConfig, logger *zap.Logger) *Confirmer {
	def := DefaultConfirmerConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = def.Attempts
	}
	return &Confirmer{
		statuses: statuses,
		fills:    fills,
		owner:    owner,
		cfg:      cfg,
		logger:   logger.Named("confirmer"),
	}
}

// Confirm waits for signature to reach confirmed commitment and then reads
// the wallet's balance deltas for mint.
func (c *Confirmer) Confirm(ctx context.Context, signature, mint string) (*Confirmation, error) {
	sig, err := solana.SignatureFromBase58(signature)
	if err != nil {
		return nil, fmt.Errorf("invalid signature %q: %w", signature, err)
	}
	mintKey, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return nil, fmt.Errorf("invalid mint %q: %w", mint, err)
	}

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, c.check(ctx, sig)
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(c.cfg.Interval)),
		backoff.WithMaxTries(c.cfg.Attempts),
	)
	if errors.Is(err, ErrTransactionFailed) {
		return nil, err
	}
	if err != nil {
		c.logger.Warn("Transaction not confirmed, treating as unconfirmed",
			zap.String("signature", signature),
			zap.Uint("attempts", c.cfg.Attempts),
			zap.Error(err))
		return &Confirmation{}, nil
	}

	out := &Confirmation{Confirmed: true}
	if c.fills == nil {
		return out, nil
	}
	fill, err := c.fills.TransactionFill(ctx, sig, c.owner, mintKey)
	if err != nil {
		c.logger.Warn("Failed to read fill", zap.String("signature", signature), zap.Error(err))
		return out, nil
	}
	out.Fill = fill
	return out, nil
}

func (c *Confirmer) check(ctx context.Context, sig solana.Signature) error {
	resp, err := c.statuses.GetSignatureStatuses(ctx, sig)
	if err != nil {
		return fmt.Errorf("failed to get signature status: %w", err)
	}
	if resp == nil || len(resp.Value) == 0 || resp.Value[0] == nil {
		return errPending
	}
	status := resp.Value[0]
	if status.Err != nil {
		return backoff.Permanent(fmt.Errorf("%w: %v", ErrTransactionFailed, status.Err))
	}
	switch status.ConfirmationStatus {
	case rpc.ConfirmationStatusConfirmed, rpc.ConfirmationStatusFinalized:
		return nil
	}
	return errPending
}
