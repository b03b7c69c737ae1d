// internal/executor/pumpportal.go
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-copybot/internal/model"
)

const DefaultPumpPortalURL = "https://pumpportal.fun"

type PumpPortalConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	APIKey     string        `mapstructure:"api_key"`
	Pool       string        `mapstructure:"pool"`
	MaxRetries uint          `mapstructure:"max_retries"`
	Timeout    time.Duration `mapstructure:"-"`
}

type tradeRequest struct {
	Action           string  `json:"action"`
	Mint             string  `json:"mint"`
	Amount           float64 `json:"amount"`
	DenominatedInSol string  `json:"denominatedInSol"`
	Slippage         float64 `json:"slippage"`
	PriorityFee      float64 `json:"priorityFee"`
	Pool             string  `json:"pool"`
}

type tradeResponse struct {
	Signature string   `json:"signature"`
	Errors    []string `json:"errors"`
}

// PumpPortal trades through the PumpPortal Lightning API, which builds,
// signs and sends the transaction for the wallet bound to the API key.
type PumpPortal struct {
	baseURL  string
	apiKey   string
	pool     string
	maxTries uint
	http     *http.Client
	confirm  *Confirmer
	logger   *zap.Logger
}

func NewPumpPortal(cfg PumpPortalConfig, confirm *Confirmer, logger *zap.Logger) *PumpPortal {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultPumpPortalURL
	}
	if cfg.Pool == "" {
		cfg.Pool = "auto"
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &PumpPortal{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:   cfg.APIKey,
		pool:     cfg.Pool,
		maxTries: cfg.MaxRetries,
		http:     &http.Client{Timeout: cfg.Timeout},
		confirm:  confirm,
		logger:   logger.Named("pumpportal"),
	}
}

func (p *PumpPortal) Venue() model.Venue {
	return model.VenueRelay
}

func (p *PumpPortal) Buy(ctx context.Context, mint string, sol, slippagePct, priorityFee float64) (*TradeResult, error) {
	return p.trade(ctx, SideBuy, tradeRequest{
		Action:           "buy",
		Mint:             mint,
		Amount:           sol,
		DenominatedInSol: "true",
		Slippage:         slippagePct,
		PriorityFee:      priorityFee,
		Pool:             p.pool,
	})
}

func (p *PumpPortal) Sell(ctx context.Context, mint string, tokens, slippagePct, priorityFee float64) (*TradeResult, error) {
	return p.trade(ctx, SideSell, tradeRequest{
		Action:           "sell",
		Mint:             mint,
		Amount:           tokens,
		DenominatedInSol: "false",
		Slippage:         slippagePct,
		PriorityFee:      priorityFee,
		Pool:             p.pool,
	})
}

func (p *PumpPortal) trade(ctx context.Context, side Side, req tradeRequest) (*TradeResult, error) {
	if req.Amount <= 0 {
		return nil, fmt.Errorf("%w: %s amount must be positive", model.ErrInvalidInput, side)
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode trade request: %w", err)
	}

	notify := func(err error, d time.Duration) {
		p.logger.Warn("Trade request failed, retrying",
			zap.String("mint", req.Mint),
			zap.String("side", string(side)),
			zap.Duration("backoff", d),
			zap.Error(err))
	}
	signature, err := backoff.Retry(ctx, func() (string, error) {
		return p.post(ctx, payload)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(p.maxTries),
		backoff.WithNotify(notify),
	)
	if err != nil {
		return nil, fmt.Errorf("pumpportal %s: %w", side, err)
	}

	p.logger.Info("Trade sent",
		zap.String("mint", req.Mint),
		zap.String("side", string(side)),
		zap.Float64("amount", req.Amount),
		zap.String("signature", signature))

	res := &TradeResult{Signature: signature, Venue: model.VenueRelay}
	if side == SideBuy {
		res.SolSpent = req.Amount
	}
	if p.confirm == nil {
		return res, nil
	}
	conf, err := p.confirm.Confirm(ctx, signature, req.Mint)
	if err != nil {
		return nil, err
	}
	res.Confirmed = conf.Confirmed
	applyFill(res, side, conf.Fill)
	return res, nil
}

// post sends one trade request. Only failures that happen before the body
// leaves the client are retried: the relay signs and sends the transaction
// itself, so a lost answer may hide an executed trade.
func (p *PumpPortal) post(ctx context.Context, payload []byte) (string, error) {
	endpoint := p.baseURL + "/api/trade"
	if p.apiKey != "" {
		endpoint += "?api-key=" + url.QueryEscape(p.apiKey)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		if notSent(err) && ctx.Err() == nil {
			return "", fmt.Errorf("execute request: %w", err)
		}
		return "", backoff.Permanent(fmt.Errorf("%w: execute request: %w", model.ErrTradeAmbiguous, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("%w: read response: %w", model.ErrTradeAmbiguous, err))
	}
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", fmt.Errorf("rate limited: %s", string(body))
	case resp.StatusCode >= 500:
		return "", backoff.Permanent(fmt.Errorf("%w: unexpected status code: %d, body: %s",
			model.ErrTradeAmbiguous, resp.StatusCode, string(body)))
	case resp.StatusCode != http.StatusOK:
		return "", backoff.Permanent(fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(body)))
	}

	var out tradeResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", backoff.Permanent(fmt.Errorf("%w: decode response: %w", model.ErrTradeAmbiguous, err))
	}
	if len(out.Errors) > 0 {
		return "", backoff.Permanent(errors.New(strings.Join(out.Errors, "; ")))
	}
	if out.Signature == "" {
		return "", backoff.Permanent(fmt.Errorf("%w: response has no signature", model.ErrTradeAmbiguous))
	}
	return out.Signature, nil
}

// notSent reports a transport failure that happened before a connection
// existed, so no byte of the request reached the relay.
func notSent(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}
