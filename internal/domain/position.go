package domain

import (
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Position is a simulated holding of one asset.
type Position struct {
	Asset           string          `json:"asset"`
	ContractAddress string          `json:"contract_address,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	AvgCost         decimal.Decimal `json:"avg_cost"`
	LastKnownPrice  decimal.Decimal `json:"last_known_price"`
}

// NewPosition constructs an opened position.
func NewPosition(asset, contract string, amount, price decimal.Decimal) (Position, error) {
	if amount.LessThanOrEqual(decimal.Zero) {
		return Position{}, errors.New("position amount must be greater than zero")
	}
	if price.LessThanOrEqual(decimal.Zero) {
		return Position{}, errors.New("position cost must be greater than zero")
	}

	return Position{
		Asset:           asset,
		ContractAddress: contract,
		Amount:          amount,
		AvgCost:         price,
		LastKnownPrice:  price,
	}, nil
}

// MarkPrice is the price used for valuation: the last known price, else the average cost.
func (p Position) MarkPrice() decimal.Decimal {
	if p.LastKnownPrice.GreaterThan(decimal.Zero) {
		return p.LastKnownPrice
	}
	return p.AvgCost
}

// CostBasis is amount * avg cost.
func (p Position) CostBasis() decimal.Decimal {
	return p.Amount.Mul(p.AvgCost)
}

// MarketValue is amount * mark price.
func (p Position) MarketValue() decimal.Decimal {
	return p.Amount.Mul(p.MarkPrice())
}

// UnrealizedPnL returns the P&L at the mark price.
func (p Position) UnrealizedPnL() decimal.Decimal {
	return p.MarketValue().Sub(p.CostBasis())
}

// UnrealizedPnLPercent returns the P&L relative to cost basis, in percent.
func (p Position) UnrealizedPnLPercent() decimal.Decimal {
	basis := p.CostBasis()
	if basis.IsZero() {
		return decimal.Zero
	}
	return p.UnrealizedPnL().Div(basis).Mul(hundred)
}

// FindPosition returns the index of the position for asset, or -1.
func FindPosition(positions []Position, asset string) int {
	for i := range positions {
		if positions[i].Asset == asset {
			return i
		}
	}
	return -1
}
