package pricer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/papertrade/internal/domain"
)

func TestCoinGecko_ByContract(t *testing.T) {
	srv := serveJSON(t, map[string]string{
		"/coins/ethereum/contract/" + pepeAddr: `{"id":"pepe","symbol":"pepe","name":"Pepe","market_data":{"current_price":{"usd":0.00001012},"price_change_percentage_24h":4.2}}`,
	})
	cg := NewCoinGecko(srv.URL, "", nil, srv.Client(), time.Second, 0)

	id := mustIdentity(t, "", pepeAddr)
	require.True(t, cg.Supports(id))

	obs, err := cg.Fetch(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("0.00001012").Equal(obs.Price))
	assert.Equal(t, domain.SourceMarketData, obs.Source)

	info, err := cg.Resolve(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "PEPE", info.Symbol)
	assert.Equal(t, "pepe", info.ID)
	assert.True(t, decimal.RequireFromString("4.2").Equal(info.Change24h))
}

func TestCoinGecko_BySymbol_KnownID(t *testing.T) {
	var gotKey atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey.Store(r.Header.Get("x-cg-demo-api-key"))
		if r.URL.Path != "/simple/price" || r.URL.Query().Get("ids") != "bitcoin" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"bitcoin":{"usd":65000.5,"usd_24h_change":1.1}}`))
	}))
	defer srv.Close()

	cg := NewCoinGecko(srv.URL, "demo-key", map[string]string{"btc": "bitcoin"}, srv.Client(), time.Second, 0)
	obs, err := cg.Fetch(context.Background(), mustIdentity(t, "BTC", ""))
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("65000.5").Equal(obs.Price))
	assert.Equal(t, "demo-key", gotKey.Load())
}

func TestCoinGecko_BySymbol_SearchFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/search":
			_, _ = w.Write([]byte(`{"coins":[{"id":"dogwifcoin-fake","symbol":"WIFF"},{"id":"dogwifcoin","symbol":"WIF"}]}`))
		case r.URL.Path == "/simple/price" && r.URL.Query().Get("ids") == "dogwifcoin":
			_, _ = w.Write([]byte(`{"dogwifcoin":{"usd":2.31}}`))
		case r.URL.Path == "/simple/price":
			_, _ = w.Write([]byte(`{}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	cg := NewCoinGecko(srv.URL, "", nil, srv.Client(), time.Second, 0)
	obs, err := cg.Fetch(context.Background(), mustIdentity(t, "WIF", ""))
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("2.31").Equal(obs.Price))
}

func TestCoinGecko_SearchFallbackWithinTimeout(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		select {
		case <-time.After(200 * time.Millisecond):
		case <-r.Context().Done():
			return
		}
		switch {
		case r.URL.Path == "/search":
			_, _ = w.Write([]byte(`{"coins":[{"id":"foo-token","symbol":"FOO"}]}`))
		case r.URL.Path == "/simple/price" && r.URL.Query().Get("ids") == "foo-token":
			_, _ = w.Write([]byte(`{"foo-token":{"usd":1.5}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	timeout := 300 * time.Millisecond
	cg := NewCoinGecko(srv.URL, "", nil, srv.Client(), timeout, 0)

	start := time.Now()
	_, err := cg.Fetch(context.Background(), mustIdentity(t, "FOO", ""))
	took := time.Since(start)

	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, took, timeout+250*time.Millisecond)
	assert.LessOrEqual(t, calls.Load(), int32(2))
}

func TestCoinGecko_NotFoundAndUnsupported(t *testing.T) {
	srv := serveJSON(t, map[string]string{
		"/simple/price": `{}`,
		"/search":       `{"coins":[]}`,
	})
	cg := NewCoinGecko(srv.URL, "", nil, srv.Client(), time.Second, 0)

	_, err := cg.Fetch(context.Background(), mustIdentity(t, "NOPE", ""))
	assert.ErrorIs(t, err, ErrNotFound)

	assert.False(t, cg.Supports(mustIdentity(t, "", bonkMint)))
	_, err = cg.Resolve(context.Background(), mustIdentity(t, "", bonkMint))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestJupiter_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/price/v2" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("ids") == bonkMint {
			_, _ = w.Write([]byte(`{"data":{"` + bonkMint + `":{"id":"` + bonkMint + `","price":"0.0000223"}}}`))
			return
		}
		_, _ = w.Write([]byte(`{"data":{"x":null}}`))
	}))
	defer srv.Close()

	j := NewJupiter(srv.URL, srv.Client(), time.Second, 0)

	obs, err := j.Fetch(context.Background(), mustIdentity(t, "BONK", bonkMint))
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("0.0000223").Equal(obs.Price))
	assert.Equal(t, domain.SourceChainSpecific, obs.Source)

	other := mustIdentity(t, "", "So11111111111111111111111111111111111111112")
	_, err = j.Fetch(context.Background(), other)
	assert.ErrorIs(t, err, ErrNotFound)

	assert.False(t, j.Supports(mustIdentity(t, "", pepeAddr)))
}

func TestSet_For(t *testing.T) {
	set := NewSetOf(
		NewDexScreener("http://dex", nil, time.Second, 0),
		NewJupiter("http://jup", nil, time.Second, 0),
		NewCoinGecko("http://cg", "", nil, nil, time.Second, 0),
	)

	names := func(as []Adapter) []string {
		var out []string
		for _, a := range as {
			out = append(out, a.Name())
		}
		return out
	}

	assert.Equal(t, []string{"DexScreener", "CoinGecko"}, names(set.For(mustIdentity(t, "", pepeAddr))))
	assert.Equal(t, []string{"DexScreener", "Jupiter"}, names(set.For(mustIdentity(t, "", bonkMint))))
	assert.Equal(t, []string{"CoinGecko"}, names(set.For(mustIdentity(t, "PEPE", ""))))
	assert.Len(t, set.Resolvers(), 2)
}

func TestDescribe(t *testing.T) {
	empty := serveJSON(t, nil)
	listed := serveJSON(t, map[string]string{
		"/latest/dex/tokens/" + pepeAddr: `{"pairs":[{"chainId":"ethereum","baseToken":{"address":"` + pepeAddr + `","symbol":"pepe","name":"Pepe"},"priceUsd":"0.00001","liquidity":{"usd":10}}]}`,
	})
	resolvers := []Resolver{
		NewDexScreener(empty.URL, empty.Client(), time.Second, 0),
		NewDexScreener(listed.URL, listed.Client(), time.Second, 0),
	}

	id, info := Describe(context.Background(), resolvers, mustIdentity(t, "", pepeAddr))
	require.NotNil(t, info)
	assert.Equal(t, "PEPE", id.Symbol)
	assert.Equal(t, pepeAddr, id.ContractAddress)
	assert.True(t, decimal.RequireFromString("0.00001").Equal(info.Price))

	// symbols are never looked up
	id, info = Describe(context.Background(), resolvers, mustIdentity(t, "WIF", ""))
	assert.Nil(t, info)
	assert.Equal(t, "WIF", id.Symbol)
}
