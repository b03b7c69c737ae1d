// internal/dexscreener/client.go
package dexscreener

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL = "https://api.dexscreener.com"
	solanaChain    = "solana"
	wsolMint       = "So11111111111111111111111111111111111111112"
)

// ErrNoPair is returned when no usable SOL-quoted pair is listed for a token.
var ErrNoPair = errors.New("no SOL pair listed")

// Response is the token-pairs listing.
type Response struct {
	Pairs []Pair `json:"pairs"`
}

// Pair is one listed liquidity pool.
type Pair struct {
	ChainID     string    `json:"chainId"`
	DexID       string    `json:"dexId"`
	PairAddress string    `json:"pairAddress"`
	BaseToken   TokenInfo `json:"baseToken"`
	QuoteToken  TokenInfo `json:"quoteToken"`
	PriceNative string    `json:"priceNative"`
	PriceUsd    string    `json:"priceUsd"`
	Liquidity   Liquidity `json:"liquidity"`
}

type TokenInfo struct {
	Address string `json:"address"`
	Symbol  string `json:"symbol"`
}

type Liquidity struct {
	USD   float64 `json:"usd"`
	Base  float64 `json:"base"`
	Quote float64 `json:"quote"`
}

// Config for the market-data client.
type Config struct {
	BaseURL           string        `mapstructure:"base_url"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute"`
	Timeout           time.Duration `mapstructure:"-"`
}

// Client is a rate-limited, circuit-broken DexScreener client.
type Client struct {
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = 60
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	logger = logger.Named("dexscreener")
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1),
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "dexscreener",
			Timeout: 30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 3
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

// TokenPrice returns SOL per whole token from the most liquid SOL-quoted pair.
func (c *Client) TokenPrice(ctx context.Context, mint string) (float64, error) {
	pair, err := c.BestPair(ctx, mint)
	if err != nil {
		return 0, err
	}
	price, _ := strconv.ParseFloat(pair.PriceNative, 64)
	return price, nil
}

// BestPair returns the Solana pair of mint against SOL with the greatest USD
// liquidity and a finite positive native price.
func (c *Client) BestPair(ctx context.Context, mint string) (*Pair, error) {
	resp, err := c.tokenPairs(ctx, mint)
	if err != nil {
		return nil, err
	}
	return SelectPair(resp.Pairs, mint)
}

// SelectPair picks the deepest usable pair of mint against SOL.
func SelectPair(pairs []Pair, mint string) (*Pair, error) {
	var best *Pair
	for i := range pairs {
		p := &pairs[i]
		if p.ChainID != solanaChain {
			continue
		}
		if p.BaseToken.Address != mint || p.QuoteToken.Address != wsolMint {
			continue
		}
		price, err := strconv.ParseFloat(p.PriceNative, 64)
		if err != nil || math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
			continue
		}
		if best == nil || p.Liquidity.USD > best.Liquidity.USD {
			best = p
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoPair, mint)
	}
	return best, nil
}

func (c *Client) tokenPairs(ctx context.Context, mint string) (*Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}
	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.doRequest(ctx, fmt.Sprintf("%s/latest/dex/tokens/%s", c.baseURL, mint))
	})
	if err != nil {
		return nil, err
	}
	return out.(*Response), nil
}

func (c *Client) doRequest(ctx context.Context, url string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(body))
	}

	var response Response
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &response, nil
}
