// internal/config/wallets.go
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/gagliardetto/solana-go"
	"gopkg.in/yaml.v3"
)

// TrackedWallet is a wallet whose buys produce copy signals.
type TrackedWallet struct {
	Address string `yaml:"address"`
	Label   string `yaml:"label"`
}

// Wallets is the YAML wallets file.
//
//	trading:
//	  private_key: <base58>
//	tracked:
//	  - address: <base58>
//	    label: whale-1
type Wallets struct {
	Trading struct {
		PrivateKey string `yaml:"private_key"`
	} `yaml:"trading"`
	Tracked []TrackedWallet `yaml:"tracked"`
}

// LoadWallets reads path. An empty path yields an empty set.
func LoadWallets(path string) (*Wallets, error) {
	w := &Wallets{}
	if path == "" {
		return w, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read wallets file: %w", err)
	}
	if err := yaml.Unmarshal(data, w); err != nil {
		return nil, fmt.Errorf("parse wallets file: %w", err)
	}

	seen := make(map[string]struct{}, len(w.Tracked))
	for i := range w.Tracked {
		addr := strings.TrimSpace(w.Tracked[i].Address)
		if _, err := solana.PublicKeyFromBase58(addr); err != nil {
			return nil, fmt.Errorf("tracked wallet %d %q: %w", i, addr, err)
		}
		if _, dup := seen[addr]; dup {
			return nil, fmt.Errorf("tracked wallet %s listed twice", addr)
		}
		seen[addr] = struct{}{}
		w.Tracked[i].Address = addr
	}
	return w, nil
}

// Labels maps tracked addresses to their labels, skipping unlabeled ones.
func (w *Wallets) Labels() map[string]string {
	labels := make(map[string]string, len(w.Tracked))
	for _, t := range w.Tracked {
		if t.Label != "" {
			labels[t.Address] = t.Label
		}
	}
	return labels
}
