package pricesync

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/papertrade/internal/domain"
	"github.com/vadiminshakov/papertrade/internal/services/pricer"
	"github.com/vadiminshakov/papertrade/internal/services/reconciler"
	"go.uber.org/zap"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: t0} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeAdapter answers with a per-asset price or error and counts calls.
type fakeAdapter struct {
	name   string
	source domain.Source
	offset time.Duration

	mu      sync.Mutex
	prices  map[string]decimal.Decimal
	errs    map[string]error
	calls   map[string]int
	order   []string
	release chan struct{}
}

func newFakeAdapter(name string, source domain.Source, offset time.Duration) *fakeAdapter {
	return &fakeAdapter{
		name:   name,
		source: source,
		offset: offset,
		prices: make(map[string]decimal.Decimal),
		errs:   make(map[string]error),
		calls:  make(map[string]int),
	}
}

func (f *fakeAdapter) Name() string                       { return f.name }
func (f *fakeAdapter) Source() domain.Source              { return f.source }
func (f *fakeAdapter) Supports(domain.AssetIdentity) bool { return true }

func (f *fakeAdapter) Fetch(ctx context.Context, id domain.AssetIdentity) (domain.PriceObservation, error) {
	f.mu.Lock()
	f.calls[id.Key()]++
	f.order = append(f.order, id.Key())
	release := f.release
	f.mu.Unlock()

	if release != nil {
		<-release
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if err, ok := f.errs[id.Key()]; ok {
		return domain.PriceObservation{}, err
	}
	price, ok := f.prices[id.Key()]
	if !ok {
		return domain.PriceObservation{}, &pricer.FetchError{Provider: f.name, Kind: pricer.KindNotFound, Err: pricer.ErrNotFound}
	}

	return domain.PriceObservation{
		Price:      price,
		Source:     f.source,
		Provider:   f.name,
		ObservedAt: t0.Add(f.offset),
	}, nil
}

func (f *fakeAdapter) setPrice(key, price string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[key] = decimal.RequireFromString(price)
	delete(f.errs, key)
}

func (f *fakeAdapter) fail(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[key] = &pricer.FetchError{Provider: f.name, Kind: pricer.KindTransport, Err: pricer.ErrTransport}
}

// block makes every Fetch wait until the returned function is called.
func (f *fakeAdapter) block() func() {
	ch := make(chan struct{})
	f.mu.Lock()
	f.release = ch
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			f.release = nil
			f.mu.Unlock()
			close(ch)
		})
	}
}

func (f *fakeAdapter) callCount(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

func (f *fakeAdapter) totalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.order)
}

func (f *fakeAdapter) visited() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.order))
	copy(out, f.order)
	return out
}

func newTestGatherer(adapters ...pricer.Adapter) *Gatherer {
	return NewGatherer(pricer.NewSetOf(adapters...), reconciler.New(reconciler.DefaultTolerance), zap.NewNop(), nil)
}

func testSettings() Settings {
	return Settings{
		PollInterval:       time.Hour,
		StaleCheckInterval: time.Hour,
		StaleAfter:         120 * time.Second,
		AssetDelay:         5 * time.Millisecond,
		HistorySize:        10,
		ConsistencyWindow:  3,
		Tolerance:          reconciler.DefaultTolerance,
	}
}

func symbolID(t *testing.T, symbol string) domain.AssetIdentity {
	t.Helper()
	id, err := domain.NewAssetIdentity(symbol, "")
	require.NoError(t, err)
	return id
}

const pepeAddr = "0x6982508145454ce325ddbe47a25d4ec3d2311933"

func evmID(t *testing.T, symbol string) domain.AssetIdentity {
	t.Helper()
	id, err := domain.NewAssetIdentity(symbol, pepeAddr)
	require.NoError(t, err)
	return id
}

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)
