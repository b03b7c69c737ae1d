package executor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/solana-copybot/internal/blockchain/solbc"
	"github.com/rovshanmuradov/solana-copybot/internal/model"
)

func newTestPumpPortal(t *testing.T, handler http.HandlerFunc, confirm *Confirmer) *PumpPortal {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewPumpPortal(PumpPortalConfig{BaseURL: srv.URL, APIKey: "secret", MaxRetries: 3}, confirm, zaptest.NewLogger(t))
}

func TestPumpPortalBuyRequest(t *testing.T) {
	sig := randomSignature()
	pp := newTestPumpPortal(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/trade", r.URL.Path)
		assert.Equal(t, "secret", r.URL.Query().Get("api-key"))

		var req map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "buy", req["action"])
		assert.Equal(t, testMint, req["mint"])
		assert.Equal(t, 0.1, req["amount"])
		assert.Equal(t, "true", req["denominatedInSol"])
		assert.Equal(t, 15.0, req["slippage"])
		assert.Equal(t, 0.0005, req["priorityFee"])
		assert.Equal(t, "auto", req["pool"])
		_, _ = w.Write([]byte(`{"signature":"` + sig + `","errors":[]}`))
	}, nil)

	res, err := pp.Buy(context.Background(), testMint, 0.1, 15, 0.0005)
	require.NoError(t, err)
	assert.Equal(t, sig, res.Signature)
	assert.Equal(t, model.VenueRelay, res.Venue)
	assert.Equal(t, 0.1, res.SolSpent)
	assert.False(t, res.Confirmed)
}

func TestPumpPortalSellIsDenominatedInTokens(t *testing.T) {
	pp := newTestPumpPortal(t, func(w http.ResponseWriter, r *http.Request) {
		var req map[string]interface{}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "sell", req["action"])
		assert.Equal(t, "false", req["denominatedInSol"])
		assert.Equal(t, 1500.0, req["amount"])
		_, _ = w.Write([]byte(`{"signature":"` + randomSignature() + `"}`))
	}, nil)

	res, err := pp.Sell(context.Background(), testMint, 1500, 15, 0)
	require.NoError(t, err)
	assert.Zero(t, res.SolSpent)
}

func TestPumpPortalRetriesRateLimit(t *testing.T) {
	var hits int32
	pp := newTestPumpPortal(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"signature":"` + randomSignature() + `"}`))
	}, nil)

	_, err := pp.Buy(context.Background(), testMint, 0.1, 15, 0)
	require.NoError(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestPumpPortalServerErrorIsAmbiguous(t *testing.T) {
	var hits int32
	pp := newTestPumpPortal(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadGateway)
	}, nil)

	_, err := pp.Buy(context.Background(), testMint, 0.1, 15, 0)
	require.ErrorIs(t, err, model.ErrTradeAmbiguous)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestPumpPortalTimeoutIsNotResent(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		time.Sleep(150 * time.Millisecond)
		_, _ = w.Write([]byte(`{"signature":"` + randomSignature() + `"}`))
	}))
	t.Cleanup(srv.Close)
	pp := NewPumpPortal(PumpPortalConfig{
		BaseURL:    srv.URL,
		MaxRetries: 3,
		Timeout:    50 * time.Millisecond,
	}, nil, zaptest.NewLogger(t))

	_, err := pp.Buy(context.Background(), testMint, 0.1, 15, 0)
	require.ErrorIs(t, err, model.ErrTradeAmbiguous)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestPumpPortalRetriesRefusedConnection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := srv.URL
	srv.Close()
	pp := NewPumpPortal(PumpPortalConfig{BaseURL: addr, MaxRetries: 2}, nil, zaptest.NewLogger(t))

	_, err := pp.Sell(context.Background(), testMint, 1500, 15, 0)
	require.Error(t, err)
	assert.NotErrorIs(t, err, model.ErrTradeAmbiguous)
}

func TestPumpPortalDoesNotRetryClientErrors(t *testing.T) {
	var hits int32
	pp := newTestPumpPortal(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("bad mint"))
	}, nil)

	_, err := pp.Buy(context.Background(), testMint, 0.1, 15, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad mint")
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestPumpPortalAPIErrors(t *testing.T) {
	pp := newTestPumpPortal(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"errors":["insufficient balance"]}`))
	}, nil)

	_, err := pp.Buy(context.Background(), testMint, 0.1, 15, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient balance")
}

func TestPumpPortalRejectsNonPositiveAmount(t *testing.T) {
	pp := newTestPumpPortal(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected")
	}, nil)
	_, err := pp.Sell(context.Background(), testMint, 0, 15, 0)
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestPumpPortalConfirmedFill(t *testing.T) {
	statuses := &fakeStatuses{script: []*rpc.SignatureStatusesResult{confirmed()}}
	fills := &fakeFills{fill: &solbc.Fill{TokenDelta: 2000, SolDelta: -0.1002}}
	pp := newTestPumpPortal(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"signature":"` + randomSignature() + `"}`))
	}, newTestConfirmer(t, statuses, fills, 3))

	res, err := pp.Buy(context.Background(), testMint, 0.1, 15, 0)
	require.NoError(t, err)
	assert.True(t, res.Confirmed)
	assert.Equal(t, 2000.0, res.TokensReceived)
	assert.InDelta(t, 0.1002, res.SolSpent, 1e-12)
}

func TestPumpPortalSellFillIsNetOfFees(t *testing.T) {
	statuses := &fakeStatuses{script: []*rpc.SignatureStatusesResult{confirmed()}}
	fills := &fakeFills{fill: &solbc.Fill{TokenDelta: -10_000, SolDelta: 0.29}}
	pp := newTestPumpPortal(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"signature":"` + randomSignature() + `"}`))
	}, newTestConfirmer(t, statuses, fills, 3))

	res, err := pp.Sell(context.Background(), testMint, 10_000, 15, 0)
	require.NoError(t, err)
	assert.True(t, res.FillObserved)
	assert.Equal(t, 0.29, res.SolReceived)
	assert.Zero(t, res.Price, "a net fill is not a market price")
}
