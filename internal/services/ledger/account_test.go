package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/papertrade/internal/domain"
	"github.com/vadiminshakov/papertrade/internal/storage"
	"github.com/vadiminshakov/papertrade/pkg/retrier"
	"go.uber.org/zap"
)

type mockPersistence struct {
	mock.Mock
}

func (m *mockPersistence) LoadState(ctx context.Context, userID string) (*domain.AccountState, error) {
	args := m.Called(ctx, userID)
	st, _ := args.Get(0).(*domain.AccountState)
	return st, args.Error(1)
}

func (m *mockPersistence) SaveBalance(ctx context.Context, userID string, balance decimal.Decimal) error {
	return m.Called(ctx, userID, balance).Error(0)
}

func (m *mockPersistence) UpsertPosition(ctx context.Context, userID string, p domain.Position) error {
	return m.Called(ctx, userID, p).Error(0)
}

func (m *mockPersistence) DeletePosition(ctx context.Context, userID, asset string) error {
	return m.Called(ctx, userID, asset).Error(0)
}

func (m *mockPersistence) AppendTransaction(ctx context.Context, userID string, tx domain.Transaction) error {
	return m.Called(ctx, userID, tx).Error(0)
}

func (m *mockPersistence) ResetAll(ctx context.Context, userID string, balance decimal.Decimal) error {
	return m.Called(ctx, userID, balance).Error(0)
}

func (m *mockPersistence) Close() error { return nil }

type memJournal struct {
	txs []domain.Transaction
	err error
}

func (j *memJournal) Append(_ string, tx domain.Transaction) (uint64, error) {
	if j.err != nil {
		return 0, j.err
	}
	j.txs = append(j.txs, tx)
	return uint64(len(j.txs)), nil
}

func clock() time.Time { return at }

func TestAccount_AnonymousSession(t *testing.T) {
	journal := &memJournal{}
	a, err := Open(context.Background(), "", nil, zap.NewNop(), WithJournal(journal), WithClock(clock))
	require.NoError(t, err)
	assert.True(t, a.Anonymous())
	assert.True(t, DefaultInitialBalance.Equal(a.Balance()))

	r, err := a.Execute(context.Background(), TradeRequest{Type: domain.TradeBuy, Asset: "BAR", Amount: d("100"), Price: d("2")})
	require.NoError(t, err)
	assert.Empty(t, r.Warnings)
	assert.True(t, d("9800").Equal(r.Balance))
	assert.Equal(t, at, r.Transaction.Timestamp)
	require.Len(t, journal.txs, 1)
	assert.Equal(t, r.Transaction.ID, journal.txs[0].ID)

	snap := a.Snapshot()
	require.Len(t, snap.Positions, 1)
	require.Len(t, snap.Transactions, 1)
	assert.True(t, d("200").Equal(snap.Transactions[0].Total))
}

func TestAccount_RejectedTradeChangesNothing(t *testing.T) {
	store := &mockPersistence{}
	store.On("LoadState", mock.Anything, "u1").Return(&domain.AccountState{Balance: d("50")}, nil)

	a, err := Open(context.Background(), "u1", store, zap.NewNop())
	require.NoError(t, err)

	_, err = a.Execute(context.Background(), TradeRequest{Type: domain.TradeBuy, Asset: "BAR", Amount: d("100"), Price: d("2")})
	require.ErrorIs(t, err, ErrInsufficientBalance)
	_, err = a.Execute(context.Background(), TradeRequest{Type: domain.TradeSell, Asset: "BAR", Amount: d("1"), Price: d("2")})
	require.ErrorIs(t, err, ErrInsufficientPosition)

	snap := a.Snapshot()
	assert.True(t, d("50").Equal(snap.Balance))
	assert.Empty(t, snap.Positions)
	assert.Empty(t, snap.Transactions)
	store.AssertNotCalled(t, "SaveBalance", mock.Anything, mock.Anything, mock.Anything)
	store.AssertNotCalled(t, "AppendTransaction", mock.Anything, mock.Anything, mock.Anything)
}

func TestAccount_WritesThrough(t *testing.T) {
	ctx := context.Background()
	store := &mockPersistence{}
	store.On("LoadState", mock.Anything, "u1").Return(nil, nil)
	store.On("SaveBalance", mock.Anything, "u1", mock.Anything).Return(nil)
	store.On("UpsertPosition", mock.Anything, "u1", mock.MatchedBy(func(p domain.Position) bool {
		return p.Asset == "BAR"
	})).Return(nil)
	store.On("DeletePosition", mock.Anything, "u1", "BAR").Return(nil)
	store.On("AppendTransaction", mock.Anything, "u1", mock.Anything).Return(nil)

	a, err := Open(ctx, "u1", store, zap.NewNop(), WithInitialBalance(d("1000")))
	require.NoError(t, err)
	assert.False(t, a.Anonymous())
	store.AssertCalled(t, "SaveBalance", mock.Anything, "u1", d("1000"))

	_, err = a.Execute(ctx, TradeRequest{Type: domain.TradeBuy, Asset: "BAR", Amount: d("10"), Price: d("2")})
	require.NoError(t, err)
	r, err := a.Execute(ctx, TradeRequest{Type: domain.TradeSell, Asset: "BAR", Amount: d("10"), Price: d("3")})
	require.NoError(t, err)
	assert.True(t, r.Closed)
	assert.True(t, d("1010").Equal(r.Balance))

	store.AssertNumberOfCalls(t, "UpsertPosition", 1)
	store.AssertNumberOfCalls(t, "DeletePosition", 1)
	store.AssertNumberOfCalls(t, "AppendTransaction", 2)
	store.AssertNumberOfCalls(t, "SaveBalance", 3)

	txs := a.Transactions()
	require.Len(t, txs, 2)
	assert.Equal(t, domain.TradeSell, txs[0].Type, "newest first")
}

func TestAccount_PersistenceFailureIsAWarning(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("connection refused")

	store := &mockPersistence{}
	store.On("LoadState", mock.Anything, "u1").Return(&domain.AccountState{Balance: d("10000")}, nil)
	store.On("SaveBalance", mock.Anything, "u1", mock.Anything).Return(boom)
	store.On("UpsertPosition", mock.Anything, "u1", mock.Anything).Return(nil)
	store.On("AppendTransaction", mock.Anything, "u1", mock.Anything).Return(boom)

	a, err := Open(ctx, "u1", store, zap.NewNop(),
		WithRetrier(retrier.New(retrier.WithMaxRetries(2), retrier.WithInitialInterval(time.Millisecond))),
		WithJournal(&memJournal{err: errors.New("disk full")}))
	require.NoError(t, err)

	r, err := a.Execute(ctx, TradeRequest{Type: domain.TradeBuy, Asset: "BAR", Amount: d("100"), Price: d("2")})
	require.NoError(t, err)
	assert.Len(t, r.Warnings, 3)
	assert.Contains(t, r.Warnings[0], "save_balance")

	// memory stays authoritative
	assert.True(t, d("9800").Equal(a.Balance()))
	assert.Len(t, a.Positions(), 1)
	store.AssertNumberOfCalls(t, "SaveBalance", 3)
}

func TestAccount_OpenFailsWhenLoadFails(t *testing.T) {
	store := &mockPersistence{}
	store.On("LoadState", mock.Anything, "u1").Return(nil, errors.New("timeout"))

	_, err := Open(context.Background(), "u1", store, zap.NewNop())
	assert.Error(t, err)
}

func TestAccount_Reset(t *testing.T) {
	ctx := context.Background()
	store := &mockPersistence{}
	store.On("LoadState", mock.Anything, "u1").Return(&domain.AccountState{
		Balance:   d("5"),
		Positions: []domain.Position{{Asset: "WIF", Amount: d("1"), AvgCost: d("2")}},
	}, nil)
	store.On("ResetAll", mock.Anything, "u1", DefaultInitialBalance).Return(storage.ErrPersistence).Once()
	store.On("ResetAll", mock.Anything, "u1", DefaultInitialBalance).Return(nil)

	a, err := Open(ctx, "u1", store, zap.NewNop())
	require.NoError(t, err)

	warnings := a.Reset(ctx)
	assert.Len(t, warnings, 1)
	assert.True(t, DefaultInitialBalance.Equal(a.Balance()))
	assert.Empty(t, a.Positions())

	assert.Empty(t, a.Reset(ctx))
}

func TestAccount_ApplyPrices(t *testing.T) {
	a, err := Open(context.Background(), "", nil, zap.NewNop())
	require.NoError(t, err)

	_, err = a.Execute(context.Background(), TradeRequest{Type: domain.TradeBuy, Asset: "BAR", Amount: d("10"), Price: d("2")})
	require.NoError(t, err)

	assert.Equal(t, 0, a.ApplyPrices(map[string]decimal.Decimal{"FOO": d("1")}))
	a.ApplyPrice(domain.AssetPriceState{Symbol: "BAR", TrustedPrice: d("3"), HasPrice: true})
	a.ApplyPrice(domain.AssetPriceState{Symbol: "BAR", TrustedPrice: d("9")})

	v := a.Valuation()
	require.Len(t, v.Positions, 1)
	assert.True(t, d("3").Equal(v.Positions[0].MarkPrice))
	assert.True(t, d("10").Equal(v.UnrealizedPnL))
}
