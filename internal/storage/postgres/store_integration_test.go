//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/vadiminshakov/papertrade/internal/domain"
	"github.com/vadiminshakov/papertrade/internal/storage/storagetest"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:15-alpine",
		tcpostgres.WithDatabase("papertrade"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start postgres container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	s, err := New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func TestStore_Persistence(t *testing.T) {
	storagetest.Run(t, setupStore(t))
}

func TestStore_AppendTransactionIsIdempotent(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	tx := domain.Transaction{
		ID:        "dup",
		Type:      domain.TradeSell,
		Asset:     "BONK",
		Amount:    decimal.NewFromInt(1000),
		Price:     decimal.RequireFromString("0.00002"),
		Total:     decimal.RequireFromString("0.02"),
		Timestamp: time.Now().UTC().Truncate(time.Microsecond),
	}
	require.NoError(t, s.SaveBalance(ctx, "u", decimal.NewFromInt(1)))
	require.NoError(t, s.AppendTransaction(ctx, "u", tx))
	require.NoError(t, s.AppendTransaction(ctx, "u", tx))

	st, err := s.LoadState(ctx, "u")
	require.NoError(t, err)
	require.Len(t, st.Transactions, 1)
	assert.True(t, tx.Total.Equal(st.Transactions[0].Total))
}

func TestStore_MigrateTwice(t *testing.T) {
	s := setupStore(t)
	_, err := s.pool.Exec(context.Background(), schema)
	assert.NoError(t, err)
}
