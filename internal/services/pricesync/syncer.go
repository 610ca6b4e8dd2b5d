package pricesync

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/papertrade/config"
	"github.com/vadiminshakov/papertrade/internal/domain"
	"github.com/vadiminshakov/papertrade/internal/observability"
	"github.com/vadiminshakov/papertrade/internal/services/reconciler"
	"go.uber.org/zap"
)

// Settings are the timing and consistency knobs shared by both synchronizers.
type Settings struct {
	PollInterval       time.Duration
	StaleCheckInterval time.Duration
	StaleAfter         time.Duration
	AssetDelay         time.Duration
	HistorySize        int
	ConsistencyWindow  int
	Tolerance          decimal.Decimal
}

// SettingsFromConfig converts the sync section of the config.
func SettingsFromConfig(c config.SyncConfig) Settings {
	return Settings{
		PollInterval:       c.PollInterval,
		StaleCheckInterval: c.StaleCheckInterval,
		StaleAfter:         c.StaleAfter,
		AssetDelay:         c.AssetDelay,
		HistorySize:        c.HistorySize,
		ConsistencyWindow:  c.ConsistencyWindow,
		Tolerance:          c.Tolerance,
	}
}

func (s Settings) withDefaults() Settings {
	if s.PollInterval <= 0 {
		s.PollInterval = 60 * time.Second
	}
	if s.StaleCheckInterval <= 0 {
		s.StaleCheckInterval = 30 * time.Second
	}
	if s.StaleAfter <= 0 {
		s.StaleAfter = 120 * time.Second
	}
	if s.AssetDelay < 0 {
		s.AssetDelay = 0
	}
	if s.HistorySize <= 0 {
		s.HistorySize = 10
	}
	if s.ConsistencyWindow <= 0 {
		s.ConsistencyWindow = 3
	}
	if !s.Tolerance.IsPositive() {
		s.Tolerance = reconciler.DefaultTolerance
	}
	return s
}

// Option configures a synchronizer.
type Option func(*options)

type options struct {
	now     func() time.Time
	metrics *observability.Metrics
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// syncer is the per-asset sync cycle shared by AssetSync and PortfolioSync.
type syncer struct {
	scope    string
	gatherer *Gatherer
	store    *StateStore
	settings Settings
	logger   *zap.Logger
	metrics  *observability.Metrics

	mu        sync.Mutex
	histories map[string]*History
	onPrice   func(domain.AssetPriceState)
}

func newSyncer(scope string, g *Gatherer, settings Settings, logger *zap.Logger, o options) *syncer {
	return &syncer{
		scope:     scope,
		gatherer:  g,
		store:     NewStateStore(o.now),
		settings:  settings,
		logger:    logger,
		metrics:   o.metrics,
		histories: make(map[string]*History),
	}
}

// syncOne runs one cycle for id. It returns false without touching the network
// when the asset is untracked or already updating. Adapter calls are detached from
// ctx cancellation: each one is bounded by its own timeout instead.
func (s *syncer) syncOne(ctx context.Context, id domain.AssetIdentity) bool {
	key := id.Key()
	if !s.store.TryBegin(key) {
		s.metrics.ObserveSync(s.scope, "skipped")
		s.logger.Debug("sync skipped, already in flight or untracked", zap.String("asset", key))
		return false
	}

	gathered := s.gatherer.Gather(context.WithoutCancel(ctx), id)
	if !gathered.OK {
		s.store.Finish(key)
		s.metrics.ObserveSync(s.scope, "empty")
		s.logger.Warn("no price source answered, keeping last known price", zap.String("asset", key))
		return true
	}

	res := gathered.Result
	consistent := s.record(key, res.Observation) && res.Consistent

	st, ok := s.store.Apply(key, res.Observation, consistent)
	if !ok {
		s.forget(key)
		return true
	}

	s.metrics.ObserveSync(s.scope, "ok")
	s.logger.Debug("price synced",
		zap.String("asset", key),
		zap.String("price", st.TrustedPrice.String()),
		zap.String("source", st.Source),
		zap.Bool("consistent", consistent))

	s.mu.Lock()
	hook := s.onPrice
	s.mu.Unlock()
	if hook != nil {
		hook(st)
	}

	return true
}

// record appends to the asset history and reports inter-cycle consistency.
func (s *syncer) record(key string, obs domain.PriceObservation) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.histories[key]
	if !ok {
		h = NewHistory(s.settings.HistorySize)
		s.histories[key] = h
	}
	h.Add(obs)

	return h.Consistent(s.settings.ConsistencyWindow, s.settings.Tolerance)
}

func (s *syncer) history(key string) []domain.PriceObservation {
	s.mu.Lock()
	defer s.mu.Unlock()

	if h, ok := s.histories[key]; ok {
		return h.Items()
	}
	return nil
}

func (s *syncer) forget(keys ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.histories, k)
	}
}

func (s *syncer) drop(key string) {
	s.store.Remove(key)
	s.forget(key)
}

func (s *syncer) markStale() int {
	n := s.store.MarkStale(s.settings.StaleAfter)
	s.metrics.SetStale(s.scope, n)
	return n
}

func (s *syncer) setHook(fn func(domain.AssetPriceState)) {
	s.mu.Lock()
	s.onPrice = fn
	s.mu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
