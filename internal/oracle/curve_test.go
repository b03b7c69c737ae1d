package oracle

import (
	"context"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodeCurve(s CurveState) []byte {
	data := make([]byte, curveAccountMinLen)
	copy(data[:8], []byte{0x17, 0xb7, 0xf8, 0x37, 0x60, 0xd8, 0xac, 0x60})
	body := data[8:]
	binary.LittleEndian.PutUint64(body[0:8], s.VirtualTokenReserves)
	binary.LittleEndian.PutUint64(body[8:16], s.VirtualSolReserves)
	binary.LittleEndian.PutUint64(body[16:24], s.RealTokenReserves)
	binary.LittleEndian.PutUint64(body[24:32], s.RealSolReserves)
	binary.LittleEndian.PutUint64(body[32:40], s.TokenTotalSupply)
	if s.Complete {
		body[40] = 1
	}
	return data
}

func TestParseCurve(t *testing.T) {
	want := CurveState{
		VirtualTokenReserves: 1_073_000_000_000_000,
		VirtualSolReserves:   30_000_000_000,
		RealTokenReserves:    793_100_000_000_000,
		RealSolReserves:      0,
		TokenTotalSupply:     1_000_000_000_000_000,
	}
	got, err := ParseCurve(encodeCurve(want))
	require.NoError(t, err)
	assert.Equal(t, want, *got)
	assert.Equal(t, 0.0, got.Progress())

	price, err := got.Price(DefaultTokenDecimals)
	require.NoError(t, err)
	assert.InDelta(t, 30.0/1_073_000_000, price, 1e-15)
}

func TestParseCurveShortData(t *testing.T) {
	_, err := ParseCurve(make([]byte, 20))
	assert.ErrorIs(t, err, ErrCurveInvalid)
}

func TestCurveZeroReserves(t *testing.T) {
	_, err := (&CurveState{VirtualSolReserves: 1}).Price(DefaultTokenDecimals)
	assert.ErrorIs(t, err, ErrCurveInvalid)
}

func TestCurveProgress(t *testing.T) {
	assert.InDelta(t, 0.75, (&CurveState{RealTokenReserves: initialRealTokenReserves / 4}).Progress(), 1e-9)
	assert.Equal(t, 1.0, (&CurveState{Complete: true}).Progress())
}

type fakeAccounts struct {
	data map[solana.PublicKey][]byte
}

var errMissing = errors.New("not found")

func (f *fakeAccounts) GetAccountData(_ context.Context, key solana.PublicKey) ([]byte, error) {
	d, ok := f.data[key]
	if !ok {
		return nil, errMissing
	}
	return d, nil
}

func TestChainCurveReader(t *testing.T) {
	mint := solana.NewWallet().PublicKey()
	addr, err := BondingCurveAddress(mint)
	require.NoError(t, err)

	accounts := &fakeAccounts{data: map[solana.PublicKey][]byte{}}
	reader := NewChainCurveReader(accounts, func(err error) bool { return errors.Is(err, errMissing) })
	ctx := context.Background()

	_, err = reader.ReadCurve(ctx, mint.String())
	assert.ErrorIs(t, err, ErrCurveNotFound)

	accounts.data[addr] = encodeCurve(CurveState{VirtualTokenReserves: 1, VirtualSolReserves: 1, Complete: true})
	state, err := reader.ReadCurve(ctx, mint.String())
	assert.ErrorIs(t, err, ErrCurveComplete)
	assert.True(t, state.Complete)

	accounts.data[addr] = encodeCurve(CurveState{VirtualTokenReserves: 10, VirtualSolReserves: 10})
	state, err = reader.ReadCurve(ctx, mint.String())
	require.NoError(t, err)
	assert.False(t, state.Complete)
}
