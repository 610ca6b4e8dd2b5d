// Package reconciler picks one trusted price out of several feed observations.
package reconciler

import (
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/papertrade/internal/domain"
)

// DefaultTolerance is the maximum relative deviation from the mean for an
// observation to count as consistent.
var DefaultTolerance = decimal.NewFromFloat(0.10)

// Result is the outcome of a reconciliation.
type Result struct {
	Observation domain.PriceObservation
	// Consistent is false when every observation deviated from the mean, i.e. the
	// chosen price is low-confidence.
	Consistent bool
	Outliers   []domain.PriceObservation
	Mean       decimal.Decimal
}

// Reconciler is stateless and safe for concurrent use.
type Reconciler struct {
	tolerance decimal.Decimal
}

// New creates a Reconciler. A non-positive tolerance falls back to DefaultTolerance.
func New(tolerance decimal.Decimal) *Reconciler {
	if !tolerance.IsPositive() {
		tolerance = DefaultTolerance
	}
	return &Reconciler{tolerance: tolerance}
}

// Tolerance returns the configured relative deviation bound.
func (r *Reconciler) Tolerance() decimal.Decimal {
	return r.tolerance
}

// Reconcile returns the most recent observation that agrees with the mean. When none
// agree, it returns the most recent overall and marks the result inconsistent. The
// boolean is false when there is nothing usable to reconcile.
func (r *Reconciler) Reconcile(observations []domain.PriceObservation) (Result, bool) {
	valid := make([]domain.PriceObservation, 0, len(observations))
	for _, o := range observations {
		if o.Valid() {
			valid = append(valid, o)
		}
	}

	switch len(valid) {
	case 0:
		return Result{}, false
	case 1:
		return Result{Observation: valid[0], Consistent: true, Mean: valid[0].Price}, true
	}

	sum := decimal.Zero
	for _, o := range valid {
		sum = sum.Add(o.Price)
	}
	mean := sum.Div(decimal.NewFromInt(int64(len(valid))))

	var consistent, outliers []domain.PriceObservation
	for _, o := range valid {
		if Deviation(o.Price, mean).LessThan(r.tolerance) {
			consistent = append(consistent, o)
		} else {
			outliers = append(outliers, o)
		}
	}

	if len(consistent) == 0 {
		return Result{Observation: mostRecent(valid), Consistent: false, Outliers: outliers, Mean: mean}, true
	}

	return Result{Observation: mostRecent(consistent), Consistent: true, Outliers: outliers, Mean: mean}, true
}

// Deviation is |price-reference| / reference.
func Deviation(price, reference decimal.Decimal) decimal.Decimal {
	if reference.IsZero() {
		return decimal.Zero
	}
	return price.Sub(reference).Abs().Div(reference)
}

func mostRecent(obs []domain.PriceObservation) domain.PriceObservation {
	best := obs[0]
	for _, o := range obs[1:] {
		if newer(o, best) {
			best = o
		}
	}
	return best
}

// newer orders by timestamp, then source priority, then provider name so the choice
// never depends on input order.
func newer(a, b domain.PriceObservation) bool {
	if !a.ObservedAt.Equal(b.ObservedAt) {
		return a.ObservedAt.After(b.ObservedAt)
	}
	if a.Source.Rank() != b.Source.Rank() {
		return a.Source.Rank() > b.Source.Rank()
	}
	return a.Provider < b.Provider
}
