// Package storage defines the account persistence collaborator and its no-op variant.
// Concrete backends live in subpackages.
package storage

import (
	"context"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/papertrade/internal/domain"
)

// ErrPersistence wraps every failed write-through. Callers treat it as a warning.
var ErrPersistence = errors.New("persistence failure")

// Persistence stores account state keyed by an opaque user id.
type Persistence interface {
	// LoadState returns nil, nil when the user has no saved state.
	LoadState(ctx context.Context, userID string) (*domain.AccountState, error)
	SaveBalance(ctx context.Context, userID string, balance decimal.Decimal) error
	UpsertPosition(ctx context.Context, userID string, p domain.Position) error
	DeletePosition(ctx context.Context, userID, asset string) error
	AppendTransaction(ctx context.Context, userID string, tx domain.Transaction) error
	// ResetAll removes positions and transactions and sets the balance.
	ResetAll(ctx context.Context, userID string, balance decimal.Decimal) error
	Close() error
}

// Noop keeps nothing. It backs anonymous sessions whose state lives only in memory.
type Noop struct{}

var _ Persistence = Noop{}

func (Noop) LoadState(context.Context, string) (*domain.AccountState, error) {
	return nil, nil
}

func (Noop) SaveBalance(context.Context, string, decimal.Decimal) error {
	return nil
}

func (Noop) UpsertPosition(context.Context, string, domain.Position) error {
	return nil
}

func (Noop) DeletePosition(context.Context, string, string) error {
	return nil
}

func (Noop) AppendTransaction(context.Context, string, domain.Transaction) error {
	return nil
}

func (Noop) ResetAll(context.Context, string, decimal.Decimal) error {
	return nil
}

func (Noop) Close() error { return nil }
