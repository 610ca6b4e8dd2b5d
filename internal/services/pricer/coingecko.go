package pricer

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/papertrade/internal/domain"
)

const coinGeckoName = "CoinGecko"

type coinGeckoContractResponse struct {
	ID         string `json:"id"`
	Symbol     string `json:"symbol"`
	Name       string `json:"name"`
	MarketData struct {
		CurrentPrice struct {
			USD decimal.Decimal `json:"usd"`
		} `json:"current_price"`
		PriceChange24h decimal.Decimal `json:"price_change_percentage_24h"`
	} `json:"market_data"`
}

type coinGeckoQuote struct {
	USD       decimal.Decimal `json:"usd"`
	Change24h decimal.Decimal `json:"usd_24h_change"`
}

type coinGeckoSearchResponse struct {
	Coins []struct {
		ID     string `json:"id"`
		Name   string `json:"name"`
		Symbol string `json:"symbol"`
	} `json:"coins"`
}

// CoinGecko is the market-data feed: by contract for EVM tokens, by coin id for
// symbol-only assets, with a search fallback when the id is unknown.
type CoinGecko struct {
	baseURL  string
	feed     *httpFeed
	knownIDs map[string]string
}

func NewCoinGecko(baseURL, apiKey string, knownIDs map[string]string, client *http.Client, timeout time.Duration, perMinute int) *CoinGecko {
	feed := newHTTPFeed(coinGeckoName, client, timeout, perMinute)
	if apiKey != "" {
		feed.headers["x-cg-demo-api-key"] = apiKey
	}

	ids := make(map[string]string, len(knownIDs))
	for sym, id := range knownIDs {
		ids[strings.ToUpper(sym)] = id
	}

	return &CoinGecko{
		baseURL:  strings.TrimRight(baseURL, "/"),
		feed:     feed,
		knownIDs: ids,
	}
}

func (c *CoinGecko) Name() string          { return coinGeckoName }
func (c *CoinGecko) Source() domain.Source { return domain.SourceMarketData }

func (c *CoinGecko) Supports(id domain.AssetIdentity) bool {
	switch id.Chain {
	case domain.ChainEVM:
		return id.ContractAddress != ""
	case domain.ChainNone:
		return id.Symbol != "" || id.CoinID != ""
	default:
		return false
	}
}

// Fetch may issue up to three requests on the symbol path; they all share one deadline.
func (c *CoinGecko) Fetch(ctx context.Context, id domain.AssetIdentity) (domain.PriceObservation, error) {
	ctx, cancel := context.WithTimeout(ctx, c.feed.timeout)
	defer cancel()

	var (
		price decimal.Decimal
		err   error
	)

	switch {
	case id.Chain == domain.ChainEVM && id.ContractAddress != "":
		var info TokenInfo
		info, err = c.byContract(ctx, id.ContractAddress)
		price = info.Price
	case id.Chain == domain.ChainNone:
		price, err = c.bySymbol(ctx, id)
	default:
		err = notFound(coinGeckoName, "unsupported identity %s", id)
	}
	if err != nil {
		return domain.PriceObservation{}, err
	}

	return observation(price, c.Source(), coinGeckoName, c.feed), nil
}

// Resolve looks a token up by EVM contract address.
func (c *CoinGecko) Resolve(ctx context.Context, id domain.AssetIdentity) (TokenInfo, error) {
	if id.Chain != domain.ChainEVM {
		return TokenInfo{}, notFound(coinGeckoName, "contract lookup needs an evm address, got %s", id.Chain)
	}

	ctx, cancel := context.WithTimeout(ctx, c.feed.timeout)
	defer cancel()

	return c.byContract(ctx, id.ContractAddress)
}

func (c *CoinGecko) byContract(ctx context.Context, address string) (TokenInfo, error) {
	var resp coinGeckoContractResponse
	endpoint := c.baseURL + "/coins/ethereum/contract/" + url.PathEscape(strings.ToLower(address))
	if err := c.feed.getJSON(ctx, endpoint, &resp); err != nil {
		return TokenInfo{}, err
	}

	price := resp.MarketData.CurrentPrice.USD
	if !price.IsPositive() {
		return TokenInfo{}, notFound(coinGeckoName, "no usd price for contract %s", address)
	}

	return TokenInfo{
		ID:        resp.ID,
		Symbol:    strings.ToUpper(resp.Symbol),
		Name:      resp.Name,
		Price:     price,
		Change24h: resp.MarketData.PriceChange24h,
	}, nil
}

func (c *CoinGecko) bySymbol(ctx context.Context, id domain.AssetIdentity) (decimal.Decimal, error) {
	coinID := c.coinID(id)

	price, err := c.simplePrice(ctx, coinID)
	if err == nil || !errors.Is(err, ErrNotFound) || id.Symbol == "" {
		return price, err
	}

	found, serr := c.search(ctx, id.Symbol)
	if serr != nil {
		return decimal.Zero, serr
	}
	if found == coinID {
		return decimal.Zero, err
	}

	return c.simplePrice(ctx, found)
}

func (c *CoinGecko) coinID(id domain.AssetIdentity) string {
	if id.CoinID != "" {
		return id.CoinID
	}
	if known, ok := c.knownIDs[strings.ToUpper(id.Symbol)]; ok {
		return known
	}
	return strings.ToLower(id.Symbol)
}

func (c *CoinGecko) simplePrice(ctx context.Context, coinID string) (decimal.Decimal, error) {
	q := url.Values{}
	q.Set("ids", coinID)
	q.Set("vs_currencies", "usd")
	q.Set("include_24hr_change", "true")

	var resp map[string]coinGeckoQuote
	if err := c.feed.getJSON(ctx, c.baseURL+"/simple/price?"+q.Encode(), &resp); err != nil {
		return decimal.Zero, err
	}

	quote, ok := resp[coinID]
	if !ok || !quote.USD.IsPositive() {
		return decimal.Zero, notFound(coinGeckoName, "no usd price for %s", coinID)
	}

	return quote.USD, nil
}

// search returns the id of the first coin whose ticker matches symbol, else the first hit.
func (c *CoinGecko) search(ctx context.Context, symbol string) (string, error) {
	var resp coinGeckoSearchResponse
	if err := c.feed.getJSON(ctx, c.baseURL+"/search?query="+url.QueryEscape(symbol), &resp); err != nil {
		return "", err
	}
	if len(resp.Coins) == 0 {
		return "", notFound(coinGeckoName, "search found nothing for %s", symbol)
	}

	for _, coin := range resp.Coins {
		if strings.EqualFold(coin.Symbol, symbol) {
			return coin.ID, nil
		}
	}

	return resp.Coins[0].ID, nil
}
