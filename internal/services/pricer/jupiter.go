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

const jupiterName = "Jupiter"

type jupiterResponse struct {
	Data map[string]*struct {
		ID    string `json:"id"`
		Price string `json:"price"`
	} `json:"data"`
}

// Jupiter is the Solana chain-specific price feed.
type Jupiter struct {
	baseURL string
	feed    *httpFeed
}

func NewJupiter(baseURL string, client *http.Client, timeout time.Duration, perMinute int) *Jupiter {
	return &Jupiter{
		baseURL: strings.TrimRight(baseURL, "/"),
		feed:    newHTTPFeed(jupiterName, client, timeout, perMinute),
	}
}

func (j *Jupiter) Name() string          { return jupiterName }
func (j *Jupiter) Source() domain.Source { return domain.SourceChainSpecific }

func (j *Jupiter) Supports(id domain.AssetIdentity) bool {
	return id.Chain == domain.ChainSolana && id.ContractAddress != ""
}

func (j *Jupiter) Fetch(ctx context.Context, id domain.AssetIdentity) (domain.PriceObservation, error) {
	if !j.Supports(id) {
		return domain.PriceObservation{}, notFound(jupiterName, "%s is not a solana mint", id)
	}

	var resp jupiterResponse
	endpoint := j.baseURL + "/price/v2?ids=" + url.QueryEscape(id.ContractAddress)
	if err := j.feed.getJSON(ctx, endpoint, &resp); err != nil {
		return domain.PriceObservation{}, err
	}

	entry := resp.Data[id.ContractAddress]
	if entry == nil {
		return domain.PriceObservation{}, notFound(jupiterName, "no price for mint %s", id.ContractAddress)
	}

	price, err := decimal.NewFromString(entry.Price)
	if err != nil || !price.IsPositive() {
		return domain.PriceObservation{}, notFound(jupiterName, "unusable price %q", entry.Price)
	}

	return observation(price, j.Source(), jupiterName, j.feed), nil
}
