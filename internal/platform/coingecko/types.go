package coingecko

import (
	"strings"

	"github.com/alanyoungcy/cryptoboard/internal/domain"
)

// APIMarket is one element of the /coins/markets response. Numeric fields are
// pointers because CoinGecko sends null for assets without a quote.
type APIMarket struct {
	ID                       string   `json:"id"`
	Symbol                   string   `json:"symbol"`
	Name                     string   `json:"name"`
	Image                    string   `json:"image"`
	CurrentPrice             *float64 `json:"current_price"`
	MarketCap                *float64 `json:"market_cap"`
	MarketCapRank            *int     `json:"market_cap_rank"`
	PriceChangePercentage24h *float64 `json:"price_change_percentage_24h"`
}

// ToDomainAsset converts an APIMarket into a domain.Asset. rank is the
// position-derived rank; the upstream market_cap_rank is ignored because it
// may have gaps.
func (m *APIMarket) ToDomainAsset(rank int) domain.Asset {
	return domain.Asset{
		ID:             m.ID,
		Symbol:         strings.ToUpper(m.Symbol),
		Name:           m.Name,
		Rank:           rank,
		Price:          deref(m.CurrentPrice),
		MarketCap:      deref(m.MarketCap),
		PriceChange24h: deref(m.PriceChangePercentage24h),
		Image:          m.Image,
	}
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
