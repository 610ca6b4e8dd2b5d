package pricesync

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/papertrade/internal/domain"
	"go.uber.org/zap"
)

const (
	jobSweep          = "portfolio:sweep"
	jobPortfolioStale = "portfolio:stale"
)

// TrackedAsset is one held asset and the price shown before the first sync.
type TrackedAsset struct {
	Identity      domain.AssetIdentity
	FallbackPrice decimal.Decimal
}

// TrackPositions maps held positions to tracked assets, using the last known price as
// the fallback. Positions whose identity no longer validates are returned separately.
func TrackPositions(positions []domain.Position) ([]TrackedAsset, []string) {
	out := make([]TrackedAsset, 0, len(positions))
	var invalid []string
	for _, pos := range positions {
		symbol := pos.Asset
		if pos.ContractAddress != "" && strings.EqualFold(pos.Asset, pos.ContractAddress) {
			symbol = ""
		}
		id, err := domain.NewAssetIdentity(symbol, pos.ContractAddress)
		if err != nil {
			invalid = append(invalid, pos.Asset)
			continue
		}
		out = append(out, TrackedAsset{Identity: id, FallbackPrice: pos.MarkPrice()})
	}
	return out, invalid
}

// PortfolioPrice is the per-asset entry of the portfolio price map.
type PortfolioPrice struct {
	Symbol            string          `json:"symbol"`
	Price             decimal.Decimal `json:"price"`
	HasPrice          bool            `json:"has_price"`
	Source            string          `json:"source"`
	LastUpdate        time.Time       `json:"last_update"`
	IsUpdating        bool            `json:"is_updating"`
	IsStale           bool            `json:"is_stale"`
	IsPriceConsistent bool            `json:"is_price_consistent"`
}

// PortfolioSync refreshes prices of every held asset, one sweep at a time.
type PortfolioSync struct {
	core   *syncer
	sched  *Scheduler
	logger *zap.Logger
	now    func() time.Time

	running atomic.Bool
	// setMu serializes SetAssets so the tracked set and the timers change together.
	setMu sync.Mutex

	mu       sync.RWMutex
	assets   []domain.AssetIdentity
	lastSync time.Time
}

func NewPortfolioSync(g *Gatherer, settings Settings, logger *zap.Logger, opts ...Option) *PortfolioSync {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("sync", "portfolio"))
	o := buildOptions(opts)

	return &PortfolioSync{
		core:   newSyncer("portfolio", g, settings.withDefaults(), logger, o),
		sched:  NewScheduler(logger),
		logger: logger,
		now:    o.now,
	}
}

// SetAssets replaces the tracked set. Duplicates are collapsed keeping the first
// occurrence, so sweeps follow insertion order. Going from empty to non-empty starts
// the timers with an immediate sweep; going back to empty stops them.
func (p *PortfolioSync) SetAssets(assets []TrackedAsset) error {
	p.setMu.Lock()
	defer p.setMu.Unlock()

	seen := make(map[string]struct{}, len(assets))
	ids := make([]domain.AssetIdentity, 0, len(assets))
	keys := make([]string, 0, len(assets))
	for _, a := range assets {
		key := a.Identity.Key()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		ids = append(ids, a.Identity)
		keys = append(keys, key)
		p.core.store.Ensure(key, a.FallbackPrice)
	}

	p.mu.Lock()
	wasEmpty := len(p.assets) == 0
	p.assets = ids
	p.mu.Unlock()

	if dropped := p.core.store.Retain(keys); len(dropped) > 0 {
		p.core.forget(dropped...)
		p.logger.Debug("untracked assets dropped", zap.Strings("assets", dropped))
	}

	switch {
	case len(ids) == 0 && !wasEmpty:
		p.sched.Stop(jobSweep)
		p.sched.Stop(jobPortfolioStale)
		p.logger.Info("portfolio empty, sync stopped")
	case len(ids) > 0 && wasEmpty:
		s := p.core.settings
		if err := p.sched.Every(jobSweep, s.PollInterval, true, p.sweep); err != nil {
			return err
		}
		if err := p.sched.Every(jobPortfolioStale, s.StaleCheckInterval, false, func(context.Context) { p.core.markStale() }); err != nil {
			return err
		}
		p.logger.Info("portfolio sync started", zap.Int("assets", len(ids)))
	}

	return nil
}

// Assets returns the tracked identities in sweep order.
func (p *PortfolioSync) Assets() []domain.AssetIdentity {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]domain.AssetIdentity, len(p.assets))
	copy(out, p.assets)
	return out
}

// SyncAll sweeps every tracked asset sequentially, pausing between assets. It
// returns false without doing anything when a sweep is already running. Cancelling
// ctx ends the sweep at the next pause.
func (p *PortfolioSync) SyncAll(ctx context.Context) bool {
	if !p.running.CompareAndSwap(false, true) {
		p.core.metrics.ObserveSweep("rejected", 0)
		p.logger.Debug("sweep rejected, previous one still running")
		return false
	}
	defer p.running.Store(false)

	start := time.Now()
	assets := p.Assets()
	synced := 0
	for i, id := range assets {
		if i > 0 {
			if err := sleepCtx(ctx, p.core.settings.AssetDelay); err != nil {
				p.core.metrics.ObserveSweep("cancelled", time.Since(start))
				p.logger.Info("sweep cancelled", zap.Int("synced", synced), zap.Int("assets", len(assets)))
				return true
			}
		}
		if p.core.syncOne(ctx, id) {
			synced++
		}
	}

	p.mu.Lock()
	p.lastSync = p.now()
	p.mu.Unlock()

	p.core.metrics.ObserveSweep("completed", time.Since(start))
	p.logger.Debug("sweep completed",
		zap.Int("synced", synced),
		zap.Int("assets", len(assets)),
		zap.Duration("took", time.Since(start)))

	return true
}

func (p *PortfolioSync) sweep(ctx context.Context) {
	p.SyncAll(ctx)
}

// IsSyncing reports whether a sweep is running.
func (p *PortfolioSync) IsSyncing() bool {
	return p.running.Load()
}

// LastSyncTime is the completion time of the last full sweep.
func (p *PortfolioSync) LastSyncTime() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastSync
}

// Prices returns the price map keyed by asset key.
func (p *PortfolioSync) Prices() map[string]PortfolioPrice {
	states := p.core.store.Snapshot()
	out := make(map[string]PortfolioPrice, len(states))
	for key, st := range states {
		out[key] = PortfolioPrice{
			Symbol:            st.Symbol,
			Price:             st.TrustedPrice,
			HasPrice:          st.HasPrice,
			Source:            st.Source,
			LastUpdate:        st.LastUpdate,
			IsUpdating:        st.IsUpdating,
			IsStale:           st.IsStale,
			IsPriceConsistent: st.IsPriceConsistent,
		}
	}
	return out
}

// State returns the raw price state of one tracked asset.
func (p *PortfolioSync) State(key string) (domain.AssetPriceState, bool) {
	return p.core.store.Get(key)
}

// History returns the accepted observations of one asset, newest first.
func (p *PortfolioSync) History(key string) []domain.PriceObservation {
	return p.core.history(key)
}

// MarkStale runs the staleness check immediately.
func (p *PortfolioSync) MarkStale() int {
	return p.core.markStale()
}

func (p *PortfolioSync) Subscribe(fn Listener) func() {
	return p.core.store.Subscribe(fn)
}

// OnPrice registers a hook receiving every accepted price.
func (p *PortfolioSync) OnPrice(fn func(domain.AssetPriceState)) {
	p.core.setHook(fn)
}

// ActiveJobs lists running timers.
func (p *PortfolioSync) ActiveJobs() []string {
	return p.sched.Active()
}

// Close stops all timers and waits for a running sweep to notice.
func (p *PortfolioSync) Close() {
	p.sched.Close()
}
