package pricesync

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/papertrade/internal/domain"
	"go.uber.org/zap"
)

const (
	jobAssetPoll  = "asset:poll"
	jobAssetStale = "asset:stale"
)

// AssetView is what the UI shows for the selected asset.
type AssetView struct {
	Identity          domain.AssetIdentity      `json:"identity"`
	CurrentPrice      decimal.Decimal           `json:"current_price"`
	HasPrice          bool                      `json:"has_price"`
	LastUpdate        time.Time                 `json:"last_update"`
	IsUpdating        bool                      `json:"is_updating"`
	Source            string                    `json:"source"`
	IsPriceConsistent bool                      `json:"is_price_consistent"`
	IsStale           bool                      `json:"is_stale"`
	History           []domain.PriceObservation `json:"history"`
}

// AssetSync keeps the price of the single selected asset fresh.
type AssetSync struct {
	core   *syncer
	sched  *Scheduler
	logger *zap.Logger

	mu      sync.RWMutex
	current *domain.AssetIdentity
}

func NewAssetSync(g *Gatherer, settings Settings, logger *zap.Logger, opts ...Option) *AssetSync {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("sync", "asset"))

	return &AssetSync{
		core:   newSyncer("asset", g, settings.withDefaults(), logger, buildOptions(opts)),
		sched:  NewScheduler(logger),
		logger: logger,
	}
}

// Select starts tracking id, replacing the previous selection and its timers. The
// fallback price is shown until the first reconciliation succeeds.
func (a *AssetSync) Select(id domain.AssetIdentity, fallback decimal.Decimal) error {
	a.mu.Lock()
	prev := a.current
	a.current = &id
	a.mu.Unlock()

	if prev != nil && prev.Key() != id.Key() {
		a.core.drop(prev.Key())
	}
	a.core.store.Ensure(id.Key(), fallback)

	s := a.core.settings
	if err := a.sched.Every(jobAssetPoll, s.PollInterval, true, a.tick); err != nil {
		return err
	}
	if err := a.sched.Every(jobAssetStale, s.StaleCheckInterval, false, func(context.Context) { a.core.markStale() }); err != nil {
		return err
	}

	a.logger.Info("asset selected", zap.String("asset", id.String()), zap.String("chain", id.Chain.String()))
	return nil
}

// Sync runs one cycle for the selected asset now. It returns false, without any
// network call, when nothing is selected or a cycle is already in flight.
func (a *AssetSync) Sync(ctx context.Context) bool {
	id, ok := a.Current()
	if !ok {
		return false
	}
	return a.core.syncOne(ctx, id)
}

func (a *AssetSync) tick(ctx context.Context) {
	a.Sync(ctx)
}

// Current returns the selected identity.
func (a *AssetSync) Current() (domain.AssetIdentity, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.current == nil {
		return domain.AssetIdentity{}, false
	}
	return *a.current, true
}

// View returns the UI view of the selected asset.
func (a *AssetSync) View() (AssetView, bool) {
	id, ok := a.Current()
	if !ok {
		return AssetView{}, false
	}
	st, ok := a.core.store.Get(id.Key())
	if !ok {
		return AssetView{}, false
	}

	return AssetView{
		Identity:          id,
		CurrentPrice:      st.TrustedPrice,
		HasPrice:          st.HasPrice,
		LastUpdate:        st.LastUpdate,
		IsUpdating:        st.IsUpdating,
		Source:            st.Source,
		IsPriceConsistent: st.IsPriceConsistent,
		IsStale:           st.IsStale,
		History:           a.core.history(id.Key()),
	}, true
}

// State returns the raw price state of the selected asset.
func (a *AssetSync) State() (domain.AssetPriceState, bool) {
	id, ok := a.Current()
	if !ok {
		return domain.AssetPriceState{}, false
	}
	return a.core.store.Get(id.Key())
}

// MarkStale runs the staleness check immediately.
func (a *AssetSync) MarkStale() int {
	return a.core.markStale()
}

// Deselect stops polling and drops the selected asset's state.
func (a *AssetSync) Deselect() {
	a.sched.Stop(jobAssetPoll)
	a.sched.Stop(jobAssetStale)

	a.mu.Lock()
	prev := a.current
	a.current = nil
	a.mu.Unlock()

	if prev != nil {
		a.core.drop(prev.Key())
		a.logger.Info("asset deselected", zap.String("asset", prev.String()))
	}
}

// Subscribe forwards every state change of the selected asset to fn.
func (a *AssetSync) Subscribe(fn Listener) func() {
	return a.core.store.Subscribe(fn)
}

// OnPrice registers a hook receiving every accepted price.
func (a *AssetSync) OnPrice(fn func(domain.AssetPriceState)) {
	a.core.setHook(fn)
}

// ActiveJobs lists running timers.
func (a *AssetSync) ActiveJobs() []string {
	return a.sched.Active()
}

// Close stops all timers and waits for running cycles.
func (a *AssetSync) Close() {
	a.sched.Close()
}
