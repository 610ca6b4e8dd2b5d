package pricesync

import (
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/papertrade/internal/domain"
)

// History is a bounded list of accepted observations, newest first.
type History struct {
	size  int
	items []domain.PriceObservation
}

func NewHistory(size int) *History {
	if size < 1 {
		size = 1
	}
	return &History{size: size, items: make([]domain.PriceObservation, 0, size)}
}

// Add prepends o and drops the oldest entry beyond capacity.
func (h *History) Add(o domain.PriceObservation) {
	h.items = append(h.items, domain.PriceObservation{})
	copy(h.items[1:], h.items)
	h.items[0] = o
	if len(h.items) > h.size {
		h.items = h.items[:h.size]
	}
}

// Items returns a copy, newest first.
func (h *History) Items() []domain.PriceObservation {
	out := make([]domain.PriceObservation, len(h.items))
	copy(out, h.items)
	return out
}

func (h *History) Len() int { return len(h.items) }

// Consistent reports whether the newest window entries span less than tolerance,
// measured as (max-min)/min. Fewer than two entries are always consistent.
func (h *History) Consistent(window int, tolerance decimal.Decimal) bool {
	if len(h.items) < 2 {
		return true
	}
	if window > len(h.items) {
		window = len(h.items)
	}

	lo, hi := h.items[0].Price, h.items[0].Price
	for _, o := range h.items[1:window] {
		lo = decimal.Min(lo, o.Price)
		hi = decimal.Max(hi, o.Price)
	}
	if !lo.IsPositive() {
		return false
	}

	return hi.Sub(lo).Div(lo).LessThan(tolerance)
}
