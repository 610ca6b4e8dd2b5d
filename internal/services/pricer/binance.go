package pricer

import (
	"context"
	"net/http"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/papertrade/internal/domain"
)

const (
	binanceName          = "Binance"
	binanceInvalidSymbol = -1121
	quoteAsset           = "USDT"
)

// Binance prices symbol-only assets from the public spot ticker, no API keys needed.
type Binance struct {
	client  *binance.Client
	timeout time.Duration
	now     func() time.Time
}

// NewBinance creates the adapter. An empty baseURL keeps the SDK default.
func NewBinance(baseURL string, timeout time.Duration) *Binance {
	client := binance.NewClient("", "")
	client.HTTPClient = &http.Client{Timeout: timeout}
	if baseURL != "" {
		client.BaseURL = baseURL
	}

	return &Binance{client: client, timeout: timeout, now: time.Now}
}

func (b *Binance) Name() string          { return binanceName }
func (b *Binance) Source() domain.Source { return domain.SourceExchange }

func (b *Binance) Supports(id domain.AssetIdentity) bool {
	return id.Chain == domain.ChainNone && id.Symbol != "" && id.Symbol != quoteAsset
}

func (b *Binance) Fetch(ctx context.Context, id domain.AssetIdentity) (domain.PriceObservation, error) {
	if !b.Supports(id) {
		return domain.PriceObservation{}, notFound(binanceName, "no ticker for %s", id)
	}

	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	symbol := id.Symbol + quoteAsset
	prices, err := b.client.NewListPricesService().Symbol(symbol).Do(ctx)
	if err != nil {
		var apiErr *common.APIError
		if errors.As(err, &apiErr) && apiErr.Code == binanceInvalidSymbol {
			return domain.PriceObservation{}, notFound(binanceName, "invalid symbol %s", symbol)
		}
		return domain.PriceObservation{}, classify(ctx, binanceName, err)
	}
	if len(prices) == 0 {
		return domain.PriceObservation{}, notFound(binanceName, "binance API returned empty prices for %s", symbol)
	}

	price, err := decimal.NewFromString(prices[0].Price)
	if err != nil || !price.IsPositive() {
		return domain.PriceObservation{}, notFound(binanceName, "unusable price %q", prices[0].Price)
	}

	return domain.PriceObservation{Price: price, Source: b.Source(), Provider: binanceName, ObservedAt: b.now()}, nil
}
