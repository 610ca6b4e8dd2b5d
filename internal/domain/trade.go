package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

// TradeType is the side of a simulated trade.
type TradeType string

const (
	TradeBuy  TradeType = "buy"
	TradeSell TradeType = "sell"
)

// ParseTradeType accepts "buy" or "sell" in any case.
func ParseTradeType(s string) (TradeType, error) {
	switch TradeType(strings.ToLower(strings.TrimSpace(s))) {
	case TradeBuy:
		return TradeBuy, nil
	case TradeSell:
		return TradeSell, nil
	default:
		return "", errors.Errorf("unknown trade type %q", s)
	}
}

// Transaction is an executed trade. It is never modified after creation.
type Transaction struct {
	ID              string          `json:"id"`
	Type            TradeType       `json:"type"`
	Asset           string          `json:"asset"`
	ContractAddress string          `json:"contract_address,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	Price           decimal.Decimal `json:"price"`
	Total           decimal.Decimal `json:"total"`
	Timestamp       time.Time       `json:"timestamp"`
}

// String returns a human-readable string representation.
func (t Transaction) String() string {
	return fmt.Sprintf("%s %s %s @ %s", t.Type, t.Amount.String(), t.Asset, t.Price.String())
}

// AccountState is the full simulated account of one user.
type AccountState struct {
	Balance      decimal.Decimal `json:"balance"`
	Positions    []Position      `json:"positions"`
	Transactions []Transaction   `json:"transactions"`
}

// Equity is balance plus the market value of all positions.
func (a AccountState) Equity() decimal.Decimal {
	total := a.Balance
	for _, p := range a.Positions {
		total = total.Add(p.MarketValue())
	}
	return total
}
