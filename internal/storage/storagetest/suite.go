// Package storagetest holds behaviour checks shared by every Persistence backend.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/papertrade/internal/domain"
	"github.com/vadiminshakov/papertrade/internal/storage"
)

var epoch = time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// Run exercises p against the Persistence contract. p must be empty.
func Run(t *testing.T, p storage.Persistence) {
	t.Helper()
	ctx := context.Background()

	t.Run("unknown user has no state", func(t *testing.T) {
		st, err := p.LoadState(ctx, "nobody")
		require.NoError(t, err)
		assert.Nil(t, st)
	})

	t.Run("write through and load", func(t *testing.T) {
		const user = "user-1"

		require.NoError(t, p.SaveBalance(ctx, user, d("9800")))
		require.NoError(t, p.UpsertPosition(ctx, user, domain.Position{
			Asset:          "BAR",
			Amount:         d("100"),
			AvgCost:        d("2"),
			LastKnownPrice: d("2"),
		}))
		require.NoError(t, p.UpsertPosition(ctx, user, domain.Position{
			Asset:           "PEPE",
			ContractAddress: "0x6982508145454ce325ddbe47a25d4ec3d2311933",
			Amount:          d("1000000"),
			AvgCost:         d("0.00001"),
		}))
		require.NoError(t, p.AppendTransaction(ctx, user, domain.Transaction{
			ID:        "tx-1",
			Type:      domain.TradeBuy,
			Asset:     "BAR",
			Amount:    d("100"),
			Price:     d("2"),
			Total:     d("200"),
			Timestamp: epoch,
		}))
		require.NoError(t, p.AppendTransaction(ctx, user, domain.Transaction{
			ID:        "tx-2",
			Type:      domain.TradeBuy,
			Asset:     "PEPE",
			Amount:    d("1000000"),
			Price:     d("0.00001"),
			Total:     d("10"),
			Timestamp: epoch.Add(time.Minute),
		}))
		// a retried append of the same transaction is a no-op
		require.NoError(t, p.AppendTransaction(ctx, user, domain.Transaction{
			ID:        "tx-2",
			Type:      domain.TradeBuy,
			Asset:     "PEPE",
			Amount:    d("1000000"),
			Price:     d("0.00001"),
			Total:     d("10"),
			Timestamp: epoch.Add(time.Minute),
		}))

		// upsert replaces
		require.NoError(t, p.UpsertPosition(ctx, user, domain.Position{
			Asset:   "BAR",
			Amount:  d("150"),
			AvgCost: d("2.5"),
		}))

		st, err := p.LoadState(ctx, user)
		require.NoError(t, err)
		require.NotNil(t, st)

		assert.True(t, d("9800").Equal(st.Balance), st.Balance.String())
		require.Len(t, st.Positions, 2)
		bar := st.Positions[domain.FindPosition(st.Positions, "BAR")]
		assert.True(t, d("150").Equal(bar.Amount))
		assert.True(t, d("2.5").Equal(bar.AvgCost))
		pepe := st.Positions[domain.FindPosition(st.Positions, "PEPE")]
		assert.Equal(t, "0x6982508145454ce325ddbe47a25d4ec3d2311933", pepe.ContractAddress)

		require.Len(t, st.Transactions, 2)
		assert.Equal(t, "tx-1", st.Transactions[0].ID)
		assert.Equal(t, domain.TradeBuy, st.Transactions[0].Type)
		assert.True(t, d("200").Equal(st.Transactions[0].Total))
		assert.True(t, epoch.Equal(st.Transactions[0].Timestamp))
	})

	t.Run("delete position", func(t *testing.T) {
		const user = "user-2"

		require.NoError(t, p.SaveBalance(ctx, user, d("10000")))
		require.NoError(t, p.UpsertPosition(ctx, user, domain.Position{Asset: "WIF", Amount: d("3"), AvgCost: d("2")}))
		require.NoError(t, p.DeletePosition(ctx, user, "WIF"))
		require.NoError(t, p.DeletePosition(ctx, user, "MISSING"))

		st, err := p.LoadState(ctx, user)
		require.NoError(t, err)
		require.NotNil(t, st)
		assert.Empty(t, st.Positions)
	})

	t.Run("reset all", func(t *testing.T) {
		const user = "user-3"

		require.NoError(t, p.SaveBalance(ctx, user, d("5")))
		require.NoError(t, p.UpsertPosition(ctx, user, domain.Position{Asset: "WIF", Amount: d("3"), AvgCost: d("2")}))
		require.NoError(t, p.AppendTransaction(ctx, user, domain.Transaction{
			ID: "tx-3", Type: domain.TradeBuy, Asset: "WIF", Amount: d("3"), Price: d("2"), Total: d("6"), Timestamp: epoch,
		}))

		require.NoError(t, p.ResetAll(ctx, user, d("10000")))

		st, err := p.LoadState(ctx, user)
		require.NoError(t, err)
		require.NotNil(t, st)
		assert.True(t, d("10000").Equal(st.Balance))
		assert.Empty(t, st.Positions)
		assert.Empty(t, st.Transactions)
	})

	t.Run("users are isolated", func(t *testing.T) {
		st, err := p.LoadState(ctx, "user-2")
		require.NoError(t, err)
		require.NotNil(t, st)
		assert.True(t, d("10000").Equal(st.Balance))
		assert.Empty(t, st.Transactions)
	})
}
