// internal/jupiter/client.go
package jupiter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-copybot/internal/model"
)

const (
	DefaultBaseURL = "https://lite-api.jup.ag/swap/v1"
	// SOLMint is wrapped SOL, the input or output of every swap.
	SOLMint = "So11111111111111111111111111111111111111112"

	lamportsPerSOL = 1_000_000_000
	// priceQuoteLamports is the 0.01 SOL input used to price a token.
	priceQuoteLamports = 10_000_000
)

// Error codes that mean the token cannot be routed right now.
var noRouteCodes = map[string]struct{}{
	"COULD_NOT_FIND_ANY_ROUTE": {},
	"TOKEN_NOT_TRADABLE":       {},
	"NO_ROUTES_FOUND":          {},
}

// APIError is a non-2xx answer from the aggregator.
type APIError struct {
	Status  int
	Code    string `json:"errorCode"`
	Message string `json:"error"`
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("jupiter: %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("jupiter: %d: %s", e.Status, e.Message)
}

// Unwrap maps route failures onto model.ErrNoRoute.
func (e *APIError) Unwrap() error {
	if _, ok := noRouteCodes[e.Code]; ok {
		return model.ErrNoRoute
	}
	return nil
}

// QuoteRequest asks for a swap of Amount base units of InputMint.
type QuoteRequest struct {
	InputMint   string
	OutputMint  string
	Amount      uint64
	SlippageBps int
}

// QuoteResponse keeps the fields the bot reads plus the raw body, which the
// swap endpoint expects back verbatim.
type QuoteResponse struct {
	InputMint      string `json:"inputMint"`
	InAmount       string `json:"inAmount"`
	OutputMint     string `json:"outputMint"`
	OutAmount      string `json:"outAmount"`
	SlippageBps    int    `json:"slippageBps"`
	PriceImpactPct string `json:"priceImpactPct"`

	Raw json.RawMessage `json:"-"`
}

// OutAmountUnits parses OutAmount.
func (q *QuoteResponse) OutAmountUnits() (uint64, error) {
	return strconv.ParseUint(q.OutAmount, 10, 64)
}

type swapRequest struct {
	QuoteResponse             json.RawMessage `json:"quoteResponse"`
	UserPublicKey             string          `json:"userPublicKey"`
	WrapAndUnwrapSol          bool            `json:"wrapAndUnwrapSol"`
	DynamicComputeUnitLimit   bool            `json:"dynamicComputeUnitLimit"`
	PrioritizationFeeLamports uint64          `json:"prioritizationFeeLamports,omitempty"`
}

// SwapResponse carries the unsigned base64 versioned transaction.
type SwapResponse struct {
	SwapTransaction      string `json:"swapTransaction"`
	LastValidBlockHeight uint64 `json:"lastValidBlockHeight"`
}

// Config for the aggregator client.
type Config struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"-"`
}

// Client talks to the Jupiter swap API behind a circuit breaker. Route
// failures do not count against the breaker.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	logger = logger.Named("jupiter")
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "jupiter",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
			},
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, model.ErrNoRoute)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("Circuit breaker state changed",
					zap.String("breaker", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()))
			},
		}),
		logger: logger,
	}
}

// Quote requests a swap quote.
func (c *Client) Quote(ctx context.Context, req QuoteRequest) (*QuoteResponse, error) {
	q := url.Values{}
	q.Set("inputMint", req.InputMint)
	q.Set("outputMint", req.OutputMint)
	q.Set("amount", strconv.FormatUint(req.Amount, 10))
	q.Set("slippageBps", strconv.Itoa(req.SlippageBps))

	body, err := c.do(ctx, http.MethodGet, c.baseURL+"/quote?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	var quote QuoteResponse
	if err := json.Unmarshal(body, &quote); err != nil {
		return nil, fmt.Errorf("decode quote: %w", err)
	}
	quote.Raw = body
	return &quote, nil
}

// Swap builds the swap transaction for quote, to be signed by user.
func (c *Client) Swap(ctx context.Context, quote *QuoteResponse, user string, priorityLamports uint64) (*SwapResponse, error) {
	payload, err := json.Marshal(swapRequest{
		QuoteResponse:             quote.Raw,
		UserPublicKey:             user,
		WrapAndUnwrapSol:          true,
		DynamicComputeUnitLimit:   true,
		PrioritizationFeeLamports: priorityLamports,
	})
	if err != nil {
		return nil, fmt.Errorf("encode swap request: %w", err)
	}
	body, err := c.do(ctx, http.MethodPost, c.baseURL+"/swap", payload)
	if err != nil {
		return nil, err
	}
	var swap SwapResponse
	if err := json.Unmarshal(body, &swap); err != nil {
		return nil, fmt.Errorf("decode swap: %w", err)
	}
	if swap.SwapTransaction == "" {
		return nil, errors.New("jupiter: empty swap transaction")
	}
	return &swap, nil
}

// QuotePrice prices mint in SOL per whole token by quoting 0.01 SOL into it.
func (c *Client) QuotePrice(ctx context.Context, mint string, decimals uint8) (float64, error) {
	quote, err := c.Quote(ctx, QuoteRequest{
		InputMint:   SOLMint,
		OutputMint:  mint,
		Amount:      priceQuoteLamports,
		SlippageBps: 50,
	})
	if err != nil {
		return 0, err
	}
	out, err := quote.OutAmountUnits()
	if err != nil || out == 0 {
		return 0, fmt.Errorf("jupiter: unusable out amount %q", quote.OutAmount)
	}
	tokens := float64(out) / math.Pow10(int(decimals))
	return float64(priceQuoteLamports) / lamportsPerSOL / tokens, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, payload []byte) ([]byte, error) {
	out, err := c.breaker.Execute(func() (interface{}, error) {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if c.apiKey != "" {
			req.Header.Set("x-api-key", c.apiKey)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("execute request: %w", err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		if resp.StatusCode/100 != 2 {
			apiErr := &APIError{Status: resp.StatusCode}
			if json.Unmarshal(data, apiErr) != nil || apiErr.Message == "" {
				apiErr.Message = truncate(string(data), 256)
			}
			return nil, apiErr
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return out.([]byte), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
