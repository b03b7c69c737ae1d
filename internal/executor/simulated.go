// internal/executor/simulated.go
package executor

import (
	"context"
	"crypto/rand"
	"fmt"
	"math"
	"sync"

	"github.com/mr-tron/base58"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-copybot/internal/model"
)

// PriceFunc returns the current SOL per whole token price of mint.
type PriceFunc func(ctx context.Context, mint string) (float64, error)

type SimulatedConfig struct {
	BandLow  float64 `mapstructure:"sim_band_low"`
	BandHigh float64 `mapstructure:"sim_band_high"`
}

func DefaultSimulatedConfig() SimulatedConfig {
	return SimulatedConfig{BandLow: 0.5, BandHigh: 3.0}
}

type simBook struct {
	mu      sync.Mutex
	entries map[string]float64
}

// Simulated fills orders at the observed price without touching the network.
// Exit prices are clamped into [entry*BandLow, entry*BandHigh] of the
// recorded entry so a bad quote cannot produce an absurd paper result.
type Simulated struct {
	venue  model.Venue
	price  PriceFunc
	cfg    SimulatedConfig
	book   *simBook
	logger *zap.Logger
}

func NewSimulated(price PriceFunc, cfg SimulatedConfig, logger *zap.Logger) *Simulated {
	def := DefaultSimulatedConfig()
	if cfg.BandLow <= 0 {
		cfg.BandLow = def.BandLow
	}
	if cfg.BandHigh <= cfg.BandLow {
		cfg.BandHigh = def.BandHigh
	}
	return &Simulated{
		venue:  model.VenueRelay,
		price:  price,
		cfg:    cfg,
		book:   &simBook{entries: make(map[string]float64)},
		logger: logger.Named("simulated"),
	}
}

// WithVenue returns a view of the simulator reporting venue and sharing its entry book.
func (s *Simulated) WithVenue(venue model.Venue) *Simulated {
	out := *s
	out.venue = venue
	return &out
}

func (s *Simulated) Venue() model.Venue {
	return s.venue
}

func (s *Simulated) Buy(ctx context.Context, mint string, sol, _, _ float64) (*TradeResult, error) {
	if sol <= 0 {
		return nil, fmt.Errorf("%w: buy amount must be positive", model.ErrInvalidInput)
	}
	price, err := s.observe(ctx, mint)
	if err != nil {
		return nil, err
	}

	s.book.mu.Lock()
	s.book.entries[mint] = price
	s.book.mu.Unlock()

	res := &TradeResult{
		Signature:      randomSignature(),
		Venue:          s.venue,
		TokensReceived: sol / price,
		SolSpent:       sol,
		Price:          price,
		Confirmed:      true,
		Simulated:      true,
	}
	s.logger.Info("Simulated buy",
		zap.String("mint", mint),
		zap.Float64("sol", sol),
		zap.Float64("price", price),
		zap.Float64("tokens", res.TokensReceived))
	return res, nil
}

func (s *Simulated) Sell(ctx context.Context, mint string, tokens, _, _ float64) (*TradeResult, error) {
	if tokens <= 0 {
		return nil, fmt.Errorf("%w: sell amount must be positive", model.ErrInvalidInput)
	}
	observed, err := s.observe(ctx, mint)
	if err != nil {
		return nil, err
	}

	s.book.mu.Lock()
	entry, ok := s.book.entries[mint]
	delete(s.book.entries, mint)
	s.book.mu.Unlock()

	price := observed
	if ok {
		price = s.clamp(observed, entry)
	}
	res := &TradeResult{
		Signature:   randomSignature(),
		Venue:       s.venue,
		SolReceived: tokens * price,
		Price:       price,
		Confirmed:   true,
		Simulated:   true,
	}
	s.logger.Info("Simulated sell",
		zap.String("mint", mint),
		zap.Float64("tokens", tokens),
		zap.Float64("observed_price", observed),
		zap.Float64("price", price))
	return res, nil
}

// Entry returns the recorded synthetic entry price of mint.
func (s *Simulated) Entry(mint string) (float64, bool) {
	s.book.mu.Lock()
	defer s.book.mu.Unlock()
	p, ok := s.book.entries[mint]
	return p, ok
}

func (s *Simulated) clamp(price, entry float64) float64 {
	return math.Min(math.Max(price, entry*s.cfg.BandLow), entry*s.cfg.BandHigh)
}

func (s *Simulated) observe(ctx context.Context, mint string) (float64, error) {
	price, err := s.price(ctx, mint)
	if err != nil {
		return 0, fmt.Errorf("simulated fill: %w", err)
	}
	if !model.IsPositive(price) {
		return 0, fmt.Errorf("simulated fill: %w: non-positive price %v", model.ErrPriceUnavailable, price)
	}
	return price, nil
}

func randomSignature() string {
	var b [64]byte
	_, _ = rand.Read(b[:])
	return base58.Encode(b[:])
}
