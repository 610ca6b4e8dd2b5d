package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AssetPriceState is the synchronizer's view of one tracked asset.
type AssetPriceState struct {
	Symbol            string          `json:"symbol"`
	TrustedPrice      decimal.Decimal `json:"price"`
	Source            string          `json:"source"`
	LastUpdate        time.Time       `json:"last_update"`
	IsUpdating        bool            `json:"is_updating"`
	IsStale           bool            `json:"is_stale"`
	IsPriceConsistent bool            `json:"is_price_consistent"`
	// HasPrice is false until either a fallback or a reconciled price is known.
	HasPrice bool `json:"has_price"`
}

// NewAssetPriceState seeds a state with a caller-supplied fallback price. A non-positive
// fallback leaves the state without a price.
func NewAssetPriceState(symbol string, fallback decimal.Decimal, now time.Time) AssetPriceState {
	st := AssetPriceState{
		Symbol:            symbol,
		LastUpdate:        now,
		IsPriceConsistent: true,
	}
	if fallback.GreaterThan(decimal.Zero) {
		st.TrustedPrice = fallback
		st.Source = "fallback"
		st.HasPrice = true
	}
	return st
}

// StaleAt reports whether the state has not been refreshed within threshold.
func (s AssetPriceState) StaleAt(now time.Time, threshold time.Duration) bool {
	return now.Sub(s.LastUpdate) > threshold
}

// Tradable reports whether the trusted price may be used for a trade.
func (s AssetPriceState) Tradable() bool {
	return s.HasPrice && s.TrustedPrice.GreaterThan(decimal.Zero)
}
