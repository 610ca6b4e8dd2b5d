package pricesync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/papertrade/internal/domain"
	"go.uber.org/zap"
)

func newTestPortfolioSync(t *testing.T, clock *fakeClock, settings Settings, adapters ...*fakeAdapter) *PortfolioSync {
	t.Helper()
	p := NewPortfolioSync(gathererOf(adapters...), settings, zap.NewNop(), WithClock(clock.Now))
	t.Cleanup(p.Close)
	return p
}

func tracked(t *testing.T, symbols ...string) []TrackedAsset {
	t.Helper()
	out := make([]TrackedAsset, 0, len(symbols))
	for _, s := range symbols {
		out = append(out, TrackedAsset{Identity: symbolID(t, s), FallbackPrice: decimal.RequireFromString("0.1")})
	}
	return out
}

func waitSweep(t *testing.T, p *PortfolioSync) {
	t.Helper()
	require.Eventually(t, func() bool {
		return !p.LastSyncTime().IsZero() && !p.IsSyncing()
	}, waitFor, tick)
}

func TestPortfolioSync_SweepsInInsertionOrder(t *testing.T) {
	clock := newFakeClock()
	gecko := newFakeAdapter("CoinGecko", domain.SourceMarketData, 0)
	gecko.setPrice("WIF", "2.10")
	gecko.setPrice("BONK", "0.00002")
	gecko.setPrice("PEPE", "0.00001")

	p := newTestPortfolioSync(t, clock, testSettings(), gecko)
	require.NoError(t, p.SetAssets(tracked(t, "WIF", "BONK", "WIF", "PEPE")))

	waitSweep(t, p)
	assert.Equal(t, []string{"WIF", "BONK", "PEPE"}, gecko.visited())
	assert.Equal(t, t0, p.LastSyncTime())

	prices := p.Prices()
	require.Len(t, prices, 3)
	assert.True(t, decimal.RequireFromString("2.10").Equal(prices["WIF"].Price))
	assert.Equal(t, "CoinGecko", prices["WIF"].Source)
	assert.False(t, prices["BONK"].IsStale)
	assert.False(t, prices["PEPE"].IsUpdating)
	assert.Len(t, p.History("PEPE"), 1)
}

func TestPortfolioSync_FailedAssetDoesNotAbortSweep(t *testing.T) {
	clock := newFakeClock()
	gecko := newFakeAdapter("CoinGecko", domain.SourceMarketData, 0)
	gecko.setPrice("WIF", "2.10")
	gecko.fail("BONK")
	gecko.setPrice("PEPE", "0.00001")

	p := newTestPortfolioSync(t, clock, testSettings(), gecko)
	require.NoError(t, p.SetAssets(tracked(t, "WIF", "BONK", "PEPE")))
	waitSweep(t, p)

	prices := p.Prices()
	assert.Equal(t, "CoinGecko", prices["WIF"].Source)
	assert.Equal(t, "CoinGecko", prices["PEPE"].Source)

	bonk := prices["BONK"]
	assert.Equal(t, "fallback", bonk.Source)
	assert.True(t, decimal.RequireFromString("0.1").Equal(bonk.Price))
	assert.False(t, bonk.IsUpdating)
	assert.False(t, bonk.IsStale)
}

func TestPortfolioSync_ConcurrentSweepRejected(t *testing.T) {
	clock := newFakeClock()
	gecko := newFakeAdapter("CoinGecko", domain.SourceMarketData, 0)
	gecko.setPrice("WIF", "2.10")
	release := gecko.block()
	defer release()

	p := newTestPortfolioSync(t, clock, testSettings(), gecko)
	require.NoError(t, p.SetAssets(tracked(t, "WIF")))

	require.Eventually(t, func() bool { return gecko.totalCalls() == 1 }, waitFor, tick)
	assert.True(t, p.IsSyncing())
	assert.False(t, p.SyncAll(context.Background()))
	assert.Equal(t, 1, gecko.totalCalls())

	release()
	waitSweep(t, p)

	assert.True(t, p.SyncAll(context.Background()))
	assert.Equal(t, 2, gecko.totalCalls())
}

func TestPortfolioSync_WaitsBetweenAssets(t *testing.T) {
	clock := newFakeClock()
	gecko := newFakeAdapter("CoinGecko", domain.SourceMarketData, 0)
	for _, s := range []string{"A", "B", "C"} {
		gecko.setPrice(s, "1")
	}

	settings := testSettings()
	settings.AssetDelay = 40 * time.Millisecond

	p := newTestPortfolioSync(t, clock, settings, gecko)
	require.NoError(t, p.SetAssets(tracked(t, "A", "B", "C")))
	waitSweep(t, p)

	start := time.Now()
	require.True(t, p.SyncAll(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 2*settings.AssetDelay)
}

func TestPortfolioSync_CancelledSweepStopsAtDelay(t *testing.T) {
	clock := newFakeClock()
	gecko := newFakeAdapter("CoinGecko", domain.SourceMarketData, 0)
	gecko.setPrice("A", "1")
	gecko.setPrice("B", "1")

	settings := testSettings()
	settings.AssetDelay = time.Hour

	p := NewPortfolioSync(gathererOf(gecko), settings, zap.NewNop(), WithClock(clock.Now))
	require.NoError(t, p.SetAssets(tracked(t, "A", "B")))

	// the scheduled sweep parks in the inter-asset delay until Close cancels it
	require.Eventually(t, func() bool { return gecko.callCount("A") == 1 }, waitFor, tick)
	p.Close()
	assert.False(t, p.IsSyncing())
	assert.True(t, p.LastSyncTime().IsZero())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.True(t, p.SyncAll(ctx))
	assert.Equal(t, 2, gecko.callCount("A"))
	assert.Equal(t, 0, gecko.callCount("B"))
}

func TestPortfolioSync_TimersFollowTrackedSet(t *testing.T) {
	clock := newFakeClock()
	gecko := newFakeAdapter("CoinGecko", domain.SourceMarketData, 0)
	gecko.setPrice("WIF", "2.10")
	gecko.setPrice("PEPE", "0.00001")

	p := newTestPortfolioSync(t, clock, testSettings(), gecko)
	assert.Empty(t, p.ActiveJobs())

	require.NoError(t, p.SetAssets(tracked(t, "WIF", "PEPE")))
	assert.Equal(t, []string{jobPortfolioStale, jobSweep}, p.ActiveJobs())
	waitSweep(t, p)

	// shrinking keeps timers and drops the untracked state
	require.NoError(t, p.SetAssets(tracked(t, "WIF")))
	assert.Len(t, p.ActiveJobs(), 2)
	assert.Len(t, p.Prices(), 1)
	assert.Empty(t, p.History("PEPE"))

	require.NoError(t, p.SetAssets(nil))
	assert.Empty(t, p.ActiveJobs())
	assert.Empty(t, p.Prices())
}

func TestPortfolioSync_ConcurrentSetAssets(t *testing.T) {
	clock := newFakeClock()
	gecko := newFakeAdapter("CoinGecko", domain.SourceMarketData, 0)
	gecko.setPrice("WIF", "2.10")

	p := newTestPortfolioSync(t, clock, testSettings(), gecko)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		assets := tracked(t, "WIF")
		if i%2 == 0 {
			assets = nil
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, p.SetAssets(assets))
		}()
	}
	wg.Wait()

	if len(p.Assets()) == 0 {
		assert.Empty(t, p.ActiveJobs(), "no timers over an empty set")
		assert.Empty(t, p.Prices())
	} else {
		assert.Equal(t, []string{jobPortfolioStale, jobSweep}, p.ActiveJobs())
		assert.Len(t, p.Prices(), 1)
	}
}

func TestPortfolioSync_MarkStale(t *testing.T) {
	clock := newFakeClock()
	gecko := newFakeAdapter("CoinGecko", domain.SourceMarketData, 0)
	gecko.setPrice("WIF", "2.10")
	gecko.fail("BONK")

	p := newTestPortfolioSync(t, clock, testSettings(), gecko)
	require.NoError(t, p.SetAssets(tracked(t, "WIF", "BONK")))
	waitSweep(t, p)

	clock.Advance(90 * time.Second)
	assert.Equal(t, 0, p.MarkStale())

	gecko.fail("WIF")
	gecko.setPrice("BONK", "0.00002")
	require.True(t, p.SyncAll(context.Background()))

	clock.Advance(31 * time.Second)
	assert.Equal(t, 1, p.MarkStale())

	prices := p.Prices()
	assert.True(t, prices["WIF"].IsStale)
	assert.True(t, decimal.RequireFromString("2.10").Equal(prices["WIF"].Price))
	assert.False(t, prices["BONK"].IsStale)
}

func TestTrackPositions(t *testing.T) {
	d := decimal.RequireFromString
	positions := []domain.Position{
		{Asset: "WIF", Amount: d("10"), AvgCost: d("2"), LastKnownPrice: d("2.5")},
		{Asset: pepeAddr, ContractAddress: pepeAddr, Amount: d("1000"), AvgCost: d("0.00001")},
		{Asset: "not a symbol", Amount: d("1"), AvgCost: d("1")},
	}

	got, invalid := TrackPositions(positions)
	require.Len(t, got, 2)
	assert.Equal(t, "WIF", got[0].Identity.Key())
	assert.True(t, d("2.5").Equal(got[0].FallbackPrice))

	assert.Equal(t, domain.ChainEVM, got[1].Identity.Chain)
	assert.Empty(t, got[1].Identity.Symbol)
	assert.True(t, d("0.00001").Equal(got[1].FallbackPrice), "avg cost when no mark")

	assert.Equal(t, []string{"not a symbol"}, invalid)
}
