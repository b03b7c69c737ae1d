// internal/oracle/curve.go
package oracle

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/gagliardetto/solana-go"
)

var (
	// PumpFunProgramID owns every bonding-curve account.
	PumpFunProgramID = solana.MustPublicKeyFromBase58("6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P")

	ErrCurveNotFound = errors.New("bonding curve not found")
	ErrCurveComplete = errors.New("bonding curve complete")
	ErrCurveInvalid  = errors.New("bonding curve state invalid")
)

const (
	solDecimals = 9
	// DefaultTokenDecimals is the decimals of every pump.fun mint.
	DefaultTokenDecimals = 6
	// initialRealTokenReserves is the tradable supply a fresh curve starts with (793.1M tokens).
	initialRealTokenReserves = 793_100_000_000_000

	// discriminator + 5 u64 + complete flag
	curveAccountMinLen = 8 + 5*8 + 1
)

// CurveState is the decoded bonding-curve account.
type CurveState struct {
	VirtualTokenReserves uint64
	VirtualSolReserves   uint64
	RealTokenReserves    uint64
	RealSolReserves      uint64
	TokenTotalSupply     uint64
	Complete             bool
}

// ParseCurve decodes raw bonding-curve account data.
func ParseCurve(data []byte) (*CurveState, error) {
	if len(data) < curveAccountMinLen {
		return nil, fmt.Errorf("%w: data length %d", ErrCurveInvalid, len(data))
	}
	body := data[8:]
	return &CurveState{
		VirtualTokenReserves: binary.LittleEndian.Uint64(body[0:8]),
		VirtualSolReserves:   binary.LittleEndian.Uint64(body[8:16]),
		RealTokenReserves:    binary.LittleEndian.Uint64(body[16:24]),
		RealSolReserves:      binary.LittleEndian.Uint64(body[24:32]),
		TokenTotalSupply:     binary.LittleEndian.Uint64(body[32:40]),
		Complete:             body[40] != 0,
	}, nil
}

// Price is SOL per whole token from the virtual reserves.
func (s *CurveState) Price(tokenDecimals uint8) (float64, error) {
	if s.VirtualTokenReserves == 0 || s.VirtualSolReserves == 0 {
		return 0, fmt.Errorf("%w: zero reserves", ErrCurveInvalid)
	}
	sol := float64(s.VirtualSolReserves) / math.Pow10(solDecimals)
	tokens := float64(s.VirtualTokenReserves) / math.Pow10(int(tokenDecimals))
	price := sol / tokens
	if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return 0, fmt.Errorf("%w: price %v", ErrCurveInvalid, price)
	}
	return price, nil
}

// Progress is the share of the initial real token reserves already sold, in [0,1].
func (s *CurveState) Progress() float64 {
	if s.Complete {
		return 1
	}
	if s.RealTokenReserves >= initialRealTokenReserves {
		return 0
	}
	return 1 - float64(s.RealTokenReserves)/float64(initialRealTokenReserves)
}

// BondingCurveAddress derives the curve PDA of mint.
func BondingCurveAddress(mint solana.PublicKey) (solana.PublicKey, error) {
	addr, _, err := solana.FindProgramAddress(
		[][]byte{[]byte("bonding-curve"), mint.Bytes()},
		PumpFunProgramID,
	)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive bonding curve: %w", err)
	}
	return addr, nil
}

// AccountReader fetches raw account data.
type AccountReader interface {
	GetAccountData(ctx context.Context, pubkey solana.PublicKey) ([]byte, error)
}

// ChainCurveReader reads bonding curves through an RPC account reader.
type ChainCurveReader struct {
	accounts   AccountReader
	isNotFound func(error) bool
}

func NewChainCurveReader(accounts AccountReader, isNotFound func(error) bool) *ChainCurveReader {
	return &ChainCurveReader{accounts: accounts, isNotFound: isNotFound}
}

// ReadCurve returns the curve state of mint. Missing, complete and malformed
// curves come back as ErrCurveNotFound, ErrCurveComplete and ErrCurveInvalid.
func (r *ChainCurveReader) ReadCurve(ctx context.Context, mint string) (*CurveState, error) {
	mintKey, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return nil, fmt.Errorf("invalid mint %q: %w", mint, err)
	}
	addr, err := BondingCurveAddress(mintKey)
	if err != nil {
		return nil, err
	}
	data, err := r.accounts.GetAccountData(ctx, addr)
	if err != nil {
		if r.isNotFound != nil && r.isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrCurveNotFound, addr)
		}
		return nil, fmt.Errorf("failed to read bonding curve: %w", err)
	}
	state, err := ParseCurve(data)
	if err != nil {
		return nil, err
	}
	if state.Complete {
		return state, ErrCurveComplete
	}
	return state, nil
}

// isMigrationSignal reports whether a curve error means the token may have left the curve.
func isMigrationSignal(err error) bool {
	return errors.Is(err, ErrCurveNotFound) || errors.Is(err, ErrCurveComplete) || errors.Is(err, ErrCurveInvalid)
}
