package pricesync

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/papertrade/internal/domain"
)

// Listener receives a copy of a state after every change.
type Listener func(domain.AssetPriceState)

// StateStore holds the AssetPriceState of every tracked asset, keyed by
// AssetIdentity.Key(). Writes are last-write-wins.
type StateStore struct {
	mu        sync.Mutex
	// dispatch is taken before mu is released so listeners see changes in write order.
	dispatch  sync.Mutex
	states    map[string]domain.AssetPriceState
	listeners map[int]Listener
	nextID    int
	now       func() time.Time
}

func NewStateStore(now func() time.Time) *StateStore {
	if now == nil {
		now = time.Now
	}
	return &StateStore{
		states:    make(map[string]domain.AssetPriceState),
		listeners: make(map[int]Listener),
		now:       now,
	}
}

// Ensure starts tracking key seeded with fallback. An already tracked key keeps its
// state, but a missing price is filled from the fallback.
func (s *StateStore) Ensure(key string, fallback decimal.Decimal) domain.AssetPriceState {
	s.mu.Lock()
	st, ok := s.states[key]
	switch {
	case !ok:
		st = domain.NewAssetPriceState(key, fallback, s.now())
	case !st.HasPrice && fallback.IsPositive():
		st.TrustedPrice = fallback
		st.Source = "fallback"
		st.HasPrice = true
	default:
		s.mu.Unlock()
		return st
	}
	s.states[key] = st
	s.publish(st)
	return st
}

// TryBegin marks key as updating. It returns false when key is not tracked or a
// sync for it is already in flight.
func (s *StateStore) TryBegin(key string) bool {
	s.mu.Lock()
	st, ok := s.states[key]
	if !ok || st.IsUpdating {
		s.mu.Unlock()
		return false
	}
	st.IsUpdating = true
	s.states[key] = st
	s.publish(st)
	return true
}

// Apply stores a reconciled price and clears the updating and stale flags. It is a
// no-op returning false when key stopped being tracked meanwhile.
func (s *StateStore) Apply(key string, obs domain.PriceObservation, consistent bool) (domain.AssetPriceState, bool) {
	s.mu.Lock()
	st, ok := s.states[key]
	if !ok {
		s.mu.Unlock()
		return domain.AssetPriceState{}, false
	}
	st.TrustedPrice = obs.Price
	st.Source = obs.Label()
	st.LastUpdate = s.now()
	st.IsUpdating = false
	st.IsStale = false
	st.IsPriceConsistent = consistent
	st.HasPrice = true
	s.states[key] = st
	s.publish(st)
	return st, true
}

// Finish clears the updating flag and leaves everything else untouched.
func (s *StateStore) Finish(key string) (domain.AssetPriceState, bool) {
	s.mu.Lock()
	st, ok := s.states[key]
	if !ok {
		s.mu.Unlock()
		return domain.AssetPriceState{}, false
	}
	st.IsUpdating = false
	s.states[key] = st
	s.publish(st)
	return st, true
}

// MarkStale flags every state not updated within threshold and returns the total
// number of stale states.
func (s *StateStore) MarkStale(threshold time.Duration) int {
	now := s.now()

	s.mu.Lock()
	var changed []domain.AssetPriceState
	stale := 0
	for key, st := range s.states {
		if !st.StaleAt(now, threshold) {
			if st.IsStale {
				stale++
			}
			continue
		}
		stale++
		if st.IsStale {
			continue
		}
		st.IsStale = true
		s.states[key] = st
		changed = append(changed, st)
	}
	s.publish(changed...)
	return stale
}

// Retain drops every state whose key is not in keys and returns the dropped keys.
func (s *StateStore) Retain(keys []string) []string {
	keep := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		keep[k] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var dropped []string
	for key := range s.states {
		if _, ok := keep[key]; !ok {
			delete(s.states, key)
			dropped = append(dropped, key)
		}
	}
	sort.Strings(dropped)
	return dropped
}

func (s *StateStore) Remove(key string) {
	s.mu.Lock()
	delete(s.states, key)
	s.mu.Unlock()
}

func (s *StateStore) Get(key string) (domain.AssetPriceState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[key]
	return st, ok
}

// Snapshot returns a copy of all states.
func (s *StateStore) Snapshot() map[string]domain.AssetPriceState {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]domain.AssetPriceState, len(s.states))
	for k, v := range s.states {
		out[k] = v
	}
	return out
}

// Subscribe registers fn for state changes and returns a function removing it.
// Listeners run on the writer's goroutine, one change at a time in write order. They
// must not block or call back into the store.
func (s *StateStore) Subscribe(fn Listener) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// publish must be called with s.mu held; it releases it and runs the listeners.
func (s *StateStore) publish(changed ...domain.AssetPriceState) {
	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.dispatch.Lock()
	s.mu.Unlock()
	defer s.dispatch.Unlock()

	for _, st := range changed {
		for _, l := range listeners {
			l(st)
		}
	}
}
