package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Source is the category of a price feed.
type Source int

const (
	SourceDexAggregator Source = iota + 1
	SourceChainSpecific
	SourceMarketData
	SourceExchange
)

// Rank orders sources for tie-breaking; higher wins.
func (s Source) Rank() int {
	switch s {
	case SourceDexAggregator:
		return 4
	case SourceChainSpecific:
		return 3
	case SourceMarketData:
		return 2
	case SourceExchange:
		return 1
	default:
		return 0
	}
}

func (s Source) String() string {
	switch s {
	case SourceDexAggregator:
		return "dex_aggregator"
	case SourceChainSpecific:
		return "chain_specific"
	case SourceMarketData:
		return "market_data"
	case SourceExchange:
		return "exchange"
	default:
		return "unknown"
	}
}

// MarshalText renders the source as its string name.
func (s Source) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// PriceObservation is a single price reading from one feed.
type PriceObservation struct {
	Price      decimal.Decimal `json:"price"`
	Source     Source          `json:"source"`
	Provider   string          `json:"provider"`
	ObservedAt time.Time       `json:"observed_at"`
}

// Valid reports whether the observation carries a usable price.
func (o PriceObservation) Valid() bool {
	return o.Price.GreaterThan(decimal.Zero)
}

// Label is the human readable origin of the observation, e.g. "DexScreener".
func (o PriceObservation) Label() string {
	if o.Provider != "" {
		return o.Provider
	}
	return o.Source.String()
}
