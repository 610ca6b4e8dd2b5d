package pricer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/papertrade/internal/domain"
)

const (
	pepeAddr = "0x6982508145454ce325ddbe47a25d4ec3d2311933"
	bonkMint = "DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263"
)

func serveJSON(t *testing.T, routes map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := routes[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func mustIdentity(t *testing.T, symbol, address string) domain.AssetIdentity {
	t.Helper()
	id, err := domain.NewAssetIdentity(symbol, address)
	require.NoError(t, err)
	return id
}

func TestDexScreener_Fetch_PicksMostLiquidPair(t *testing.T) {
	srv := serveJSON(t, map[string]string{
		"/latest/dex/tokens/" + pepeAddr: `{"pairs":[
			{"chainId":"ethereum","dexId":"uniswap","baseToken":{"address":"` + pepeAddr + `","symbol":"PEPE"},"priceUsd":"0.0000101","liquidity":{"usd":1000}},
			{"chainId":"ethereum","dexId":"sushiswap","baseToken":{"address":"` + pepeAddr + `","symbol":"PEPE"},"priceUsd":"0.0000100","liquidity":{"usd":500000}},
			{"chainId":"ethereum","dexId":"uniswap","baseToken":{"address":"0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2","symbol":"WETH"},"priceUsd":"3100","liquidity":{"usd":9000000}}
		]}`,
	})

	d := NewDexScreener(srv.URL, srv.Client(), time.Second, 0)
	obs, err := d.Fetch(context.Background(), mustIdentity(t, "PEPE", pepeAddr))
	require.NoError(t, err)

	assert.True(t, decimal.RequireFromString("0.0000100").Equal(obs.Price), obs.Price.String())
	assert.Equal(t, domain.SourceDexAggregator, obs.Source)
	assert.Equal(t, "DexScreener", obs.Provider)
	assert.False(t, obs.ObservedAt.IsZero())
}

func TestDexScreener_Fetch_FirstPairWithoutLiquidity(t *testing.T) {
	srv := serveJSON(t, map[string]string{
		"/latest/dex/tokens/" + bonkMint: `{"pairs":[
			{"chainId":"solana","baseToken":{"address":"` + bonkMint + `"},"priceUsd":"0.000021"},
			{"chainId":"solana","baseToken":{"address":"` + bonkMint + `"},"priceUsd":"0.000025"}
		]}`,
	})

	d := NewDexScreener(srv.URL, srv.Client(), time.Second, 0)
	obs, err := d.Fetch(context.Background(), mustIdentity(t, "", bonkMint))
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("0.000021").Equal(obs.Price))
}

func TestDexScreener_Fetch_Errors(t *testing.T) {
	srv := serveJSON(t, map[string]string{
		"/latest/dex/tokens/" + pepeAddr: `{"pairs":null}`,
		"/latest/dex/tokens/" + bonkMint: `{"pairs":[{"chainId":"solana","priceUsd":"abc"}]}`,
	})
	d := NewDexScreener(srv.URL, srv.Client(), time.Second, 0)

	_, err := d.Fetch(context.Background(), mustIdentity(t, "", pepeAddr))
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = d.Fetch(context.Background(), mustIdentity(t, "", bonkMint))
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = d.Resolve(context.Background(), mustIdentity(t, "", bonkMint))
	assert.ErrorIs(t, err, ErrNotFound, "unparsable priceUsd is not a zero price")

	_, err = d.Fetch(context.Background(), mustIdentity(t, "", "0x0000000000000000000000000000000000000001"))
	assert.ErrorIs(t, err, ErrNotFound, "404 maps to not found")

	assert.False(t, d.Supports(mustIdentity(t, "PEPE", "")))
}

func TestDexScreener_Resolve(t *testing.T) {
	srv := serveJSON(t, map[string]string{
		"/latest/dex/tokens/" + pepeAddr: `{"pairs":[{"chainId":"ethereum","baseToken":{"address":"` + pepeAddr + `","symbol":"pepe","name":"Pepe"},"priceUsd":"0.00001","liquidity":{"usd":10},"priceChange":{"h24":-3.5}}]}`,
	})
	d := NewDexScreener(srv.URL, srv.Client(), time.Second, 0)

	info, err := d.Resolve(context.Background(), mustIdentity(t, "", pepeAddr))
	require.NoError(t, err)
	assert.Equal(t, "PEPE", info.Symbol)
	assert.Equal(t, "Pepe", info.Name)
	assert.True(t, decimal.RequireFromString("-3.5").Equal(info.Change24h))
}

func TestHTTPFeed_TimeoutAndTransport(t *testing.T) {
	release := make(chan struct{})
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer slow.Close()
	defer close(release)

	d := NewDexScreener(slow.URL, slow.Client(), 50*time.Millisecond, 0)
	start := time.Now()
	_, err := d.Fetch(context.Background(), mustIdentity(t, "", pepeAddr))
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer failing.Close()

	d = NewDexScreener(failing.URL, failing.Client(), time.Second, 0)
	_, err = d.Fetch(context.Background(), mustIdentity(t, "", pepeAddr))
	assert.ErrorIs(t, err, ErrTransport)
	assert.Equal(t, KindTransport, KindOf(err))
}
