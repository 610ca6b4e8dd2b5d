package pricer

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/papertrade/internal/domain"
)

const dexScreenerName = "DexScreener"

type dexScreenerResponse struct {
	Pairs []dexPair `json:"pairs"`
}

type dexPair struct {
	ChainID   string `json:"chainId"`
	DexID     string `json:"dexId"`
	BaseToken struct {
		Address string `json:"address"`
		Name    string `json:"name"`
		Symbol  string `json:"symbol"`
	} `json:"baseToken"`
	PriceUSD  string `json:"priceUsd"`
	Liquidity *struct {
		USD float64 `json:"usd"`
	} `json:"liquidity"`
	PriceChange struct {
		H24 float64 `json:"h24"`
	} `json:"priceChange"`
}

// DexScreener prices any address-identified token from its most liquid DEX pair.
type DexScreener struct {
	baseURL string
	feed    *httpFeed
}

func NewDexScreener(baseURL string, client *http.Client, timeout time.Duration, perMinute int) *DexScreener {
	return &DexScreener{
		baseURL: strings.TrimRight(baseURL, "/"),
		feed:    newHTTPFeed(dexScreenerName, client, timeout, perMinute),
	}
}

func (d *DexScreener) Name() string          { return dexScreenerName }
func (d *DexScreener) Source() domain.Source { return domain.SourceDexAggregator }

func (d *DexScreener) Supports(id domain.AssetIdentity) bool {
	return id.HasAddress()
}

func (d *DexScreener) Fetch(ctx context.Context, id domain.AssetIdentity) (domain.PriceObservation, error) {
	pair, err := d.bestPair(ctx, id)
	if err != nil {
		return domain.PriceObservation{}, err
	}

	price, err := pairPrice(pair)
	if err != nil {
		return domain.PriceObservation{}, err
	}

	return observation(price, d.Source(), dexScreenerName, d.feed), nil
}

// Resolve describes the token from its best pair.
func (d *DexScreener) Resolve(ctx context.Context, id domain.AssetIdentity) (TokenInfo, error) {
	pair, err := d.bestPair(ctx, id)
	if err != nil {
		return TokenInfo{}, err
	}

	price, err := pairPrice(pair)
	if err != nil {
		return TokenInfo{}, err
	}

	return TokenInfo{
		Symbol:    strings.ToUpper(pair.BaseToken.Symbol),
		Name:      pair.BaseToken.Name,
		Price:     price,
		Change24h: decimal.NewFromFloat(pair.PriceChange.H24),
	}, nil
}

func pairPrice(pair dexPair) (decimal.Decimal, error) {
	price, err := decimal.NewFromString(pair.PriceUSD)
	if err != nil || !price.IsPositive() {
		return decimal.Zero, notFound(dexScreenerName, "pair %s has no usable priceUsd %q", pair.DexID, pair.PriceUSD)
	}
	return price, nil
}

func (d *DexScreener) bestPair(ctx context.Context, id domain.AssetIdentity) (dexPair, error) {
	if !d.Supports(id) {
		return dexPair{}, notFound(dexScreenerName, "no contract address for %s", id)
	}

	var resp dexScreenerResponse
	endpoint := d.baseURL + "/latest/dex/tokens/" + url.PathEscape(id.ContractAddress)
	if err := d.feed.getJSON(ctx, endpoint, &resp); err != nil {
		return dexPair{}, err
	}

	pair, ok := selectPair(resp.Pairs, id)
	if !ok {
		return dexPair{}, notFound(dexScreenerName, "no pairs for %s", id.ContractAddress)
	}

	return pair, nil
}

// selectPair narrows pairs to those quoting the queried token as base on the expected
// chain (when any do) and returns the most liquid one, or the first when none report
// liquidity.
func selectPair(pairs []dexPair, id domain.AssetIdentity) (dexPair, bool) {
	if len(pairs) == 0 {
		return dexPair{}, false
	}

	candidates := filterPairs(pairs, func(p dexPair) bool {
		return strings.EqualFold(p.BaseToken.Address, id.ContractAddress)
	})
	if id.Chain == domain.ChainSolana {
		candidates = filterPairs(candidates, func(p dexPair) bool { return p.ChainID == "solana" })
	}

	best := -1
	for i, p := range candidates {
		if p.Liquidity == nil || p.Liquidity.USD <= 0 {
			continue
		}
		if best < 0 || p.Liquidity.USD > candidates[best].Liquidity.USD {
			best = i
		}
	}
	if best < 0 {
		return candidates[0], true
	}

	return candidates[best], true
}

// filterPairs keeps matching pairs, or all of them when nothing matches.
func filterPairs(pairs []dexPair, keep func(dexPair) bool) []dexPair {
	var out []dexPair
	for _, p := range pairs {
		if keep(p) {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return pairs
	}
	return out
}
