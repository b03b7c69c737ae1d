// internal/pnl/fees.go
package pnl

import "github.com/rovshanmuradov/solana-copybot/internal/model"

const (
	// DefaultRelaySellFee covers the pump.fun protocol fee plus the PumpPortal relay fee.
	DefaultRelaySellFee = 0.0175
	// DefaultAggregatorSellFee is the Jupiter platform fee.
	DefaultAggregatorSellFee = 0.002
	// DefaultGenericSellFee is applied to venues we cannot identify.
	DefaultGenericSellFee = 0.02
	// DefaultNetworkFee is the base Solana signature fee in SOL.
	DefaultNetworkFee = 0.000005
)

// FeeSchedule holds sell-side fee fractions per venue and the flat network fee.
type FeeSchedule struct {
	RelaySellFee      float64 `mapstructure:"relay_sell_fee"`
	AggregatorSellFee float64 `mapstructure:"aggregator_sell_fee"`
	GenericSellFee    float64 `mapstructure:"generic_sell_fee"`
	NetworkFee        float64 `mapstructure:"network_fee"`
}

func DefaultFeeSchedule() FeeSchedule {
	return FeeSchedule{
		RelaySellFee:      DefaultRelaySellFee,
		AggregatorSellFee: DefaultAggregatorSellFee,
		GenericSellFee:    DefaultGenericSellFee,
		NetworkFee:        DefaultNetworkFee,
	}
}

// SellFee returns the fee fraction charged by venue on a sale.
func (f FeeSchedule) SellFee(venue model.Venue) float64 {
	switch venue {
	case model.VenueRelay:
		return f.RelaySellFee
	case model.VenueAggregator:
		return f.AggregatorSellFee
	default:
		return f.GenericSellFee
	}
}
