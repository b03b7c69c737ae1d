// internal/model/signal.go
package model

import (
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
)

// CopySignal is one or more tracked wallets buying the same token within a short window.
type CopySignal struct {
	ID           string             `json:"id"`
	TokenMint    string             `json:"token_mint"`
	Wallets      []string           `json:"wallets"`
	Spends       map[string]float64 `json:"spends,omitempty"`
	SourceWallet string             `json:"source_wallet"`
	Venue        Venue              `json:"venue,omitempty"`
	Timestamp    time.Time          `json:"timestamp"`
}

// Normalize drops duplicate and empty wallet ids, keeping first-seen order,
// and fills in derived fields.
func (s *CopySignal) Normalize() {
	s.Wallets = distinct(s.Wallets)
	if s.SourceWallet == "" && len(s.Wallets) > 0 {
		s.SourceWallet = s.Wallets[0]
	}
	if s.Venue == "" {
		s.Venue = VenueUnknown
	}
	if s.ID == "" {
		s.ID = fmt.Sprintf("%s:%d", s.TokenMint, s.Timestamp.UnixMilli())
	}
}

// Upvotes is the number of distinct wallets that bought.
func (s *CopySignal) Upvotes() int {
	return len(s.Wallets)
}

// Validate rejects signals that cannot be acted upon.
func (s *CopySignal) Validate() error {
	if err := ValidateMint(s.TokenMint); err != nil {
		return err
	}
	if len(s.Wallets) == 0 {
		return fmt.Errorf("%w: signal %s has no wallets", ErrInvalidInput, s.ID)
	}
	if s.Timestamp.IsZero() {
		return fmt.Errorf("%w: signal %s has no timestamp", ErrInvalidInput, s.ID)
	}
	return nil
}

// SellSignal aggregates distinct wallets that sold a token. Informational only.
type SellSignal struct {
	TokenMint string    `json:"token_mint"`
	Wallets   []string  `json:"wallets"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *SellSignal) Normalize() {
	s.Wallets = distinct(s.Wallets)
}

func (s *SellSignal) Count() int {
	return len(s.Wallets)
}

// Has reports whether wallet is among the sellers.
func (s *SellSignal) Has(wallet string) bool {
	for _, w := range s.Wallets {
		if w == wallet {
			return true
		}
	}
	return false
}

// ValidateMint checks that mint is a base58 public key.
func ValidateMint(mint string) error {
	if mint == "" {
		return fmt.Errorf("%w: empty token mint", ErrInvalidInput)
	}
	if _, err := solana.PublicKeyFromBase58(mint); err != nil {
		return fmt.Errorf("%w: token mint %q: %v", ErrInvalidInput, mint, err)
	}
	return nil
}

func distinct(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
