// internal/exit/venue.go
package exit

import "github.com/rovshanmuradov/solana-copybot/internal/model"

// SelectVenue picks where to trade a token: the aggregator once the token has
// left its bonding curve, the relay otherwise.
func SelectVenue(quote *model.PriceQuote) model.Venue {
	if quote != nil && quote.Graduated {
		return model.VenueAggregator
	}
	return model.VenueRelay
}
