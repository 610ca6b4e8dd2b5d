package pricer

import (
	"context"
	"net/http"
	"time"

	"github.com/hirokisan/bybit/v2"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/papertrade/internal/domain"
)

const bybitName = "Bybit"

// Bybit prices symbol-only assets from the V5 spot ticker.
type Bybit struct {
	client *bybit.Client
	now    func() time.Time
}

// NewBybit creates the adapter. The SDK call takes no context, so the deadline is
// enforced by the HTTP client timeout.
func NewBybit(baseURL string, timeout time.Duration) *Bybit {
	client := bybit.NewClient().WithHTTPClient(&http.Client{Timeout: timeout})
	if baseURL != "" {
		client = client.WithBaseURL(baseURL)
	}

	return &Bybit{client: client, now: time.Now}
}

func (p *Bybit) Name() string          { return bybitName }
func (p *Bybit) Source() domain.Source { return domain.SourceExchange }

func (p *Bybit) Supports(id domain.AssetIdentity) bool {
	return id.Chain == domain.ChainNone && id.Symbol != "" && id.Symbol != quoteAsset
}

func (p *Bybit) Fetch(ctx context.Context, id domain.AssetIdentity) (domain.PriceObservation, error) {
	if !p.Supports(id) {
		return domain.PriceObservation{}, notFound(bybitName, "no ticker for %s", id)
	}
	if err := ctx.Err(); err != nil {
		return domain.PriceObservation{}, classify(ctx, bybitName, err)
	}

	symbol := bybit.SymbolV5(id.Symbol + quoteAsset)
	result, err := p.client.V5().Market().GetTickers(bybit.V5GetTickersParam{
		Category: "spot",
		Symbol:   &symbol,
	})
	if err != nil {
		return domain.PriceObservation{}, classify(ctx, bybitName, err)
	}

	if result.Result.Spot == nil || len(result.Result.Spot.List) == 0 {
		return domain.PriceObservation{}, notFound(bybitName, "bybit API returned empty prices for %s", symbol)
	}

	price, err := decimal.NewFromString(result.Result.Spot.List[0].LastPrice)
	if err != nil || !price.IsPositive() {
		return domain.PriceObservation{}, notFound(bybitName, "unusable price %q", result.Result.Spot.List[0].LastPrice)
	}

	return domain.PriceObservation{Price: price, Source: p.Source(), Provider: bybitName, ObservedAt: p.now()}, nil
}
