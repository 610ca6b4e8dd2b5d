package pricer

import (
	"context"

	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/papertrade/internal/domain"
)

// Adapter fetches a USD price for an asset from one external feed.
// Implementations are safe for concurrent use.
type Adapter interface {
	Name() string
	Source() domain.Source
	// Supports reports whether the adapter can price the identity at all.
	Supports(id domain.AssetIdentity) bool
	Fetch(ctx context.Context, id domain.AssetIdentity) (domain.PriceObservation, error)
}

// TokenInfo is descriptive data about a token found by address.
type TokenInfo struct {
	ID        string          `json:"id,omitempty"`
	Symbol    string          `json:"symbol"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	Change24h decimal.Decimal `json:"change_24h"`
}

// Resolver is implemented by adapters that can describe a token by its address.
type Resolver interface {
	Resolve(ctx context.Context, id domain.AssetIdentity) (TokenInfo, error)
}

func observation(price decimal.Decimal, source domain.Source, provider string, feed *httpFeed) domain.PriceObservation {
	return domain.PriceObservation{
		Price:      price,
		Source:     source,
		Provider:   provider,
		ObservedAt: feed.now(),
	}
}
