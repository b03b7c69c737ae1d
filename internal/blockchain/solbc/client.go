// internal/blockchain/solbc/client.go
package solbc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
)

// ErrAccountNotFound is returned when an account does not exist on chain.
var ErrAccountNotFound = errors.New("account not found")

// IsAccountNotFoundError reports whether err means the account is missing.
func IsAccountNotFoundError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrAccountNotFound) || errors.Is(err, rpc.ErrNotFound) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "not found")
}

// Client is a thin adapter over the solana-go RPC client that fails over
// across the configured endpoints.
type Client struct {
	pool   *Pool
	logger *zap.Logger
}

// NewClient creates a client over one or more RPC endpoints.
func NewClient(rpcURLs []string, logger *zap.Logger) (*Client, error) {
	pool, err := NewPool(rpcURLs, logger)
	if err != nil {
		return nil, err
	}
	return &Client{
		pool:   pool,
		logger: logger.Named("solbc-client"),
	}, nil
}

// Nodes reports the health of every endpoint.
func (c *Client) Nodes() []NodeStats { return c.pool.Stats() }

// GetAccountData returns the raw data of an account, or ErrAccountNotFound.
func (c *Client) GetAccountData(ctx context.Context, pubkey solana.PublicKey) ([]byte, error) {
	var result *rpc.GetAccountInfoResult
	err := c.pool.Do(ctx, func(cl *rpc.Client) (err error) {
		result, err = cl.GetAccountInfoWithOpts(ctx, pubkey, &rpc.GetAccountInfoOpts{
			Commitment: rpc.CommitmentConfirmed,
			Encoding:   solana.EncodingBase64,
		})
		return err
	})
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, fmt.Errorf("%s: %w", pubkey, ErrAccountNotFound)
		}
		c.logger.Debug("GetAccountInfo error",
			zap.String("pubkey", pubkey.String()),
			zap.Error(err))
		return nil, err
	}
	if result == nil || result.Value == nil {
		return nil, fmt.Errorf("%s: %w", pubkey, ErrAccountNotFound)
	}
	return result.Value.Data.GetBinary(), nil
}

// GetMintDecimals reads the decimals field of an SPL mint account.
func (c *Client) GetMintDecimals(ctx context.Context, mint solana.PublicKey) (uint8, error) {
	data, err := c.GetAccountData(ctx, mint)
	if err != nil {
		return 0, fmt.Errorf("failed to get mint account: %w", err)
	}
	var m token.Mint
	if err := bin.NewBinDecoder(data).Decode(&m); err != nil {
		return 0, fmt.Errorf("failed to decode mint %s: %w", mint, err)
	}
	return m.Decimals, nil
}

// GetSignatureStatuses returns the statuses of the given signatures.
func (c *Client) GetSignatureStatuses(ctx context.Context, signatures ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
	var result *rpc.GetSignatureStatusesResult
	err := c.pool.Do(ctx, func(cl *rpc.Client) (err error) {
		result, err = cl.GetSignatureStatuses(ctx, false, signatures...)
		return err
	})
	if err != nil {
		c.logger.Debug("GetSignatureStatuses error", zap.Error(err))
		return nil, err
	}
	return result, nil
}

// GetTransaction fetches a confirmed transaction including versioned ones.
func (c *Client) GetTransaction(ctx context.Context, signature solana.Signature) (*rpc.GetTransactionResult, error) {
	maxVersion := uint64(0)
	var result *rpc.GetTransactionResult
	err := c.pool.Do(ctx, func(cl *rpc.Client) (err error) {
		result, err = cl.GetTransaction(ctx, signature, &rpc.GetTransactionOpts{
			Encoding:                       solana.EncodingBase64,
			Commitment:                     rpc.CommitmentConfirmed,
			MaxSupportedTransactionVersion: &maxVersion,
		})
		return err
	})
	if err != nil {
		c.logger.Debug("GetTransaction error",
			zap.String("signature", signature.String()),
			zap.Error(err))
		return nil, err
	}
	return result, nil
}

// GetRecentSignatures lists the latest signatures that touched address.
func (c *Client) GetRecentSignatures(ctx context.Context, address solana.PublicKey, limit int) ([]*rpc.TransactionSignature, error) {
	var result []*rpc.TransactionSignature
	err := c.pool.Do(ctx, func(cl *rpc.Client) (err error) {
		result, err = cl.GetSignaturesForAddressWithOpts(ctx, address, &rpc.GetSignaturesForAddressOpts{
			Limit:      &limit,
			Commitment: rpc.CommitmentConfirmed,
		})
		return err
	})
	if err != nil {
		c.logger.Debug("GetSignaturesForAddress error",
			zap.String("address", address.String()),
			zap.Error(err))
		return nil, err
	}
	return result, nil
}

// SendTransactionSkipPreflight broadcasts a signed transaction without simulation.
func (c *Client) SendTransactionSkipPreflight(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	// A resend to another node carries the same signature.
	var sig solana.Signature
	err := c.pool.Do(ctx, func(cl *rpc.Client) (err error) {
		sig, err = cl.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
			SkipPreflight:       true,
			PreflightCommitment: rpc.CommitmentConfirmed,
		})
		return err
	})
	if err != nil {
		c.logger.Error("SendTransaction error", zap.Error(err))
		return solana.Signature{}, err
	}
	return sig, nil
}
