package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPosition_Valuation(t *testing.T) {
	tests := []struct {
		name        string
		position    Position
		wantValue   decimal.Decimal
		wantPnL     decimal.Decimal
		wantPercent decimal.Decimal
	}{
		{
			name: "price up",
			position: Position{
				Asset:          "PEPE",
				Amount:         decimal.NewFromInt(100),
				AvgCost:        decimal.NewFromInt(2),
				LastKnownPrice: decimal.NewFromInt(3),
			},
			wantValue:   decimal.NewFromInt(300),
			wantPnL:     decimal.NewFromInt(100),
			wantPercent: decimal.NewFromInt(50),
		},
		{
			name: "price down",
			position: Position{
				Asset:          "BONK",
				Amount:         decimal.NewFromInt(10),
				AvgCost:        decimal.NewFromInt(4),
				LastKnownPrice: decimal.NewFromInt(3),
			},
			wantValue:   decimal.NewFromInt(30),
			wantPnL:     decimal.NewFromInt(-10),
			wantPercent: decimal.NewFromInt(-25),
		},
		{
			name: "no known price falls back to cost",
			position: Position{
				Asset:   "WIF",
				Amount:  decimal.NewFromInt(5),
				AvgCost: decimal.NewFromInt(2),
			},
			wantValue:   decimal.NewFromInt(10),
			wantPnL:     decimal.Zero,
			wantPercent: decimal.Zero,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, tt.wantValue.Equal(tt.position.MarketValue()), "value %s", tt.position.MarketValue())
			assert.True(t, tt.wantPnL.Equal(tt.position.UnrealizedPnL()), "pnl %s", tt.position.UnrealizedPnL())
			assert.True(t, tt.wantPercent.Equal(tt.position.UnrealizedPnLPercent()), "pct %s", tt.position.UnrealizedPnLPercent())
		})
	}
}

func TestNewPosition_RejectsNonPositive(t *testing.T) {
	_, err := NewPosition("X", "", decimal.Zero, decimal.NewFromInt(1))
	require.Error(t, err)
	_, err = NewPosition("X", "", decimal.NewFromInt(1), decimal.NewFromInt(-1))
	require.Error(t, err)
}

func TestAccountState_Equity(t *testing.T) {
	acc := AccountState{
		Balance: decimal.NewFromInt(9800),
		Positions: []Position{
			{Asset: "BAR", Amount: decimal.NewFromInt(100), AvgCost: decimal.NewFromInt(2), LastKnownPrice: decimal.NewFromFloat(2.5)},
		},
	}
	assert.True(t, decimal.NewFromInt(10050).Equal(acc.Equity()))
}

func TestAssetPriceState_Stale(t *testing.T) {
	now := time.Now()
	st := NewAssetPriceState("FOO", decimal.NewFromInt(1), now.Add(-121*time.Second))
	assert.True(t, st.StaleAt(now, 120*time.Second))
	assert.True(t, st.Tradable())

	empty := NewAssetPriceState("FOO", decimal.Zero, now)
	assert.False(t, empty.StaleAt(now, 120*time.Second))
	assert.False(t, empty.Tradable())
}
