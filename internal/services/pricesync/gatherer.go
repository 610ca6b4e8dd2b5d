package pricesync

import (
	"context"
	"time"

	"github.com/vadiminshakov/papertrade/internal/domain"
	"github.com/vadiminshakov/papertrade/internal/observability"
	"github.com/vadiminshakov/papertrade/internal/services/pricer"
	"github.com/vadiminshakov/papertrade/internal/services/reconciler"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Outcome is the result of one adapter call.
type Outcome struct {
	Adapter     string
	Source      domain.Source
	Observation domain.PriceObservation
	Err         error
	Latency     time.Duration
}

// Gathered is the full evidence set for one asset plus its reconciliation.
type Gathered struct {
	Outcomes []Outcome
	Result   reconciler.Result
	OK       bool
}

// Gatherer queries every eligible adapter concurrently and reconciles the answers.
type Gatherer struct {
	adapters   *pricer.Set
	reconciler *reconciler.Reconciler
	logger     *zap.Logger
	metrics    *observability.Metrics
}

func NewGatherer(adapters *pricer.Set, rec *reconciler.Reconciler, logger *zap.Logger, metrics *observability.Metrics) *Gatherer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gatherer{adapters: adapters, reconciler: rec, logger: logger, metrics: metrics}
}

// Gather waits for all eligible adapters; a failing adapter neither cancels nor
// affects the others.
func (g *Gatherer) Gather(ctx context.Context, id domain.AssetIdentity) Gathered {
	eligible := g.adapters.For(id)
	outcomes := make([]Outcome, len(eligible))

	// goroutines never return an error, so Wait is a plain join
	var eg errgroup.Group
	for i, a := range eligible {
		eg.Go(func() error {
			start := time.Now()
			obs, err := a.Fetch(ctx, id)
			outcomes[i] = Outcome{
				Adapter:     a.Name(),
				Source:      a.Source(),
				Observation: obs,
				Err:         err,
				Latency:     time.Since(start),
			}
			return nil
		})
	}
	_ = eg.Wait()

	observations := make([]domain.PriceObservation, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Err != nil {
			g.metrics.ObserveFetch(o.Adapter, pricer.KindOf(o.Err).String(), o.Latency)
			g.logger.Warn("price adapter failed",
				zap.String("asset", id.String()),
				zap.String("adapter", o.Adapter),
				zap.Duration("latency", o.Latency),
				zap.Error(o.Err))
			continue
		}
		g.metrics.ObserveFetch(o.Adapter, "ok", o.Latency)
		observations = append(observations, o.Observation)
	}

	res, ok := g.reconciler.Reconcile(observations)
	switch {
	case !ok:
		g.metrics.ObserveReconciliation("empty")
	case res.Consistent:
		g.metrics.ObserveReconciliation("consistent")
	default:
		g.metrics.ObserveReconciliation("inconsistent")
	}

	if ok && len(res.Outliers) > 0 {
		for _, o := range res.Outliers {
			g.logger.Debug("price outlier",
				zap.String("asset", id.String()),
				zap.String("provider", o.Label()),
				zap.String("price", o.Price.String()),
				zap.String("mean", res.Mean.String()))
		}
	}

	return Gathered{Outcomes: outcomes, Result: res, OK: ok}
}
