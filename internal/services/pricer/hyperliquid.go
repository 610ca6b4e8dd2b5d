package pricer

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	hyperliquid "github.com/sonirico/go-hyperliquid"
	"github.com/vadiminshakov/papertrade/internal/domain"
)

const hyperliquidName = "Hyperliquid"

// midsSource is the part of the Hyperliquid Info API the adapter reads.
type midsSource interface {
	AllMids(ctx context.Context) (map[string]string, error)
}

// Hyperliquid prices symbol-only assets from the public mid-price map, keyed by base coin.
type Hyperliquid struct {
	info    midsSource
	timeout time.Duration
	now     func() time.Time
}

// NewHyperliquid creates the adapter on top of the SDK's Info client.
func NewHyperliquid(baseURL string, timeout time.Duration) (*Hyperliquid, error) {
	// Info is only reachable through Exchange; the throwaway key never signs anything.
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, errors.Wrap(err, "generate hyperliquid session key")
	}
	addr := crypto.PubkeyToAddress(key.PublicKey).Hex()
	ex := hyperliquid.NewExchange(context.Background(), key, baseURL, nil, "", addr, nil)

	return newHyperliquid(ex.Info(), timeout), nil
}

func newHyperliquid(info midsSource, timeout time.Duration) *Hyperliquid {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &Hyperliquid{info: info, timeout: timeout, now: time.Now}
}

func (h *Hyperliquid) Name() string          { return hyperliquidName }
func (h *Hyperliquid) Source() domain.Source { return domain.SourceExchange }

func (h *Hyperliquid) Supports(id domain.AssetIdentity) bool {
	return id.Chain == domain.ChainNone && id.Symbol != "" && id.Symbol != quoteAsset
}

func (h *Hyperliquid) Fetch(ctx context.Context, id domain.AssetIdentity) (domain.PriceObservation, error) {
	if !h.Supports(id) {
		return domain.PriceObservation{}, notFound(hyperliquidName, "no market for %s", id)
	}

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	mids, err := h.info.AllMids(ctx)
	if err != nil {
		return domain.PriceObservation{}, classify(ctx, hyperliquidName, err)
	}

	mid, ok := mids[id.Symbol]
	if !ok || mid == "" {
		return domain.PriceObservation{}, notFound(hyperliquidName, "hyperliquid API returned empty mid price for %s", id.Symbol)
	}

	price, err := decimal.NewFromString(mid)
	if err != nil || !price.IsPositive() {
		return domain.PriceObservation{}, notFound(hyperliquidName, "unusable mid price %q", mid)
	}

	return domain.PriceObservation{Price: price, Source: h.Source(), Provider: hyperliquidName, ObservedAt: h.now()}, nil
}
