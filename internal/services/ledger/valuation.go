package ledger

import (
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/papertrade/internal/domain"
)

var hundred = decimal.NewFromInt(100)

type PositionValuation struct {
	domain.Position
	MarkPrice            decimal.Decimal `json:"mark_price"`
	MarketValue          decimal.Decimal `json:"market_value"`
	CostBasis            decimal.Decimal `json:"cost_basis"`
	UnrealizedPnL        decimal.Decimal `json:"unrealized_pnl"`
	UnrealizedPnLPercent decimal.Decimal `json:"unrealized_pnl_percent"`
}

// Valuation is the portfolio view: cash, holdings at their last known prices and P&L.
type Valuation struct {
	Balance              decimal.Decimal     `json:"balance"`
	PositionsValue       decimal.Decimal     `json:"positions_value"`
	CostBasis            decimal.Decimal     `json:"cost_basis"`
	Equity               decimal.Decimal     `json:"equity"`
	UnrealizedPnL        decimal.Decimal     `json:"unrealized_pnl"`
	UnrealizedPnLPercent decimal.Decimal     `json:"unrealized_pnl_percent"`
	Positions            []PositionValuation `json:"positions"`
}

func (a *Account) Valuation() Valuation {
	return Value(a.Snapshot())
}

// Value computes the valuation of st.
func Value(st domain.AccountState) Valuation {
	v := Valuation{
		Balance:   st.Balance,
		Positions: make([]PositionValuation, 0, len(st.Positions)),
	}

	for _, p := range st.Positions {
		pv := PositionValuation{
			Position:             p,
			MarkPrice:            p.MarkPrice(),
			MarketValue:          p.MarketValue(),
			CostBasis:            p.CostBasis(),
			UnrealizedPnL:        p.UnrealizedPnL(),
			UnrealizedPnLPercent: p.UnrealizedPnLPercent(),
		}
		v.PositionsValue = v.PositionsValue.Add(pv.MarketValue)
		v.CostBasis = v.CostBasis.Add(pv.CostBasis)
		v.Positions = append(v.Positions, pv)
	}

	v.Equity = v.Balance.Add(v.PositionsValue)
	v.UnrealizedPnL = v.PositionsValue.Sub(v.CostBasis)
	if v.CostBasis.IsPositive() {
		v.UnrealizedPnLPercent = v.UnrealizedPnL.Div(v.CostBasis).Mul(hundred)
	}

	return v
}
