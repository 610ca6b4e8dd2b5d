package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/papertrade/internal/domain"
)

var (
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrInsufficientPosition = errors.New("insufficient position")
	ErrInvalidAmount        = errors.New("amount must be greater than zero")
	ErrInvalidPrice         = errors.New("price must be greater than zero")
)

// IsTradeError reports whether err is a rejected trade rather than a system failure.
func IsTradeError(err error) bool {
	return errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrInsufficientPosition) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInvalidPrice)
}

// TradeRequest describes one simulated trade. Price must be the current trusted price.
type TradeRequest struct {
	Type            domain.TradeType
	Asset           string
	ContractAddress string
	Amount          decimal.Decimal
	Price           decimal.Decimal
	At              time.Time
}

// TradeOutcome is the account after a successful trade.
type TradeOutcome struct {
	Balance     decimal.Decimal
	Positions   []domain.Position
	Transaction domain.Transaction
	// Position is the affected position after the trade; Closed is set when a sell
	// removed it.
	Position domain.Position
	Closed   bool
}

// ExecuteTrade applies req to balance and positions. The inputs are never modified;
// the outcome carries a fresh positions slice.
func ExecuteTrade(req TradeRequest, balance decimal.Decimal, positions []domain.Position) (TradeOutcome, error) {
	if !req.Amount.IsPositive() {
		return TradeOutcome{}, ErrInvalidAmount
	}
	if !req.Price.IsPositive() {
		return TradeOutcome{}, ErrInvalidPrice
	}
	if req.At.IsZero() {
		req.At = time.Now()
	}

	total := req.Amount.Mul(req.Price)
	next := make([]domain.Position, len(positions))
	copy(next, positions)
	idx := domain.FindPosition(next, req.Asset)

	out := TradeOutcome{}

	switch req.Type {
	case domain.TradeBuy:
		if total.GreaterThan(balance) {
			return TradeOutcome{}, errors.Wrapf(ErrInsufficientBalance, "need %s, have %s", total.StringFixed(2), balance.StringFixed(2))
		}
		out.Balance = balance.Sub(total)

		if idx >= 0 {
			p := next[idx]
			held := p.Amount.Add(req.Amount)
			p.AvgCost = p.Amount.Mul(p.AvgCost).Add(total).Div(held)
			p.Amount = held
			p.LastKnownPrice = req.Price
			if p.ContractAddress == "" {
				p.ContractAddress = req.ContractAddress
			}
			next[idx] = p
			out.Position = p
		} else {
			p, err := domain.NewPosition(req.Asset, req.ContractAddress, req.Amount, req.Price)
			if err != nil {
				return TradeOutcome{}, err
			}
			next = append(next, p)
			out.Position = p
		}

	case domain.TradeSell:
		if idx < 0 {
			return TradeOutcome{}, errors.Wrapf(ErrInsufficientPosition, "no %s position", req.Asset)
		}
		p := next[idx]
		if p.Amount.LessThan(req.Amount) {
			return TradeOutcome{}, errors.Wrapf(ErrInsufficientPosition, "hold %s %s, selling %s", p.Amount, req.Asset, req.Amount)
		}
		out.Balance = balance.Add(total)

		p.Amount = p.Amount.Sub(req.Amount)
		p.LastKnownPrice = req.Price
		out.Position = p
		if p.Amount.IsPositive() {
			next[idx] = p
		} else {
			next = append(next[:idx], next[idx+1:]...)
			out.Closed = true
		}

	default:
		return TradeOutcome{}, errors.Errorf("unknown trade type %q", req.Type)
	}

	contract := req.ContractAddress
	if contract == "" {
		contract = out.Position.ContractAddress
	}

	out.Positions = next
	out.Transaction = domain.Transaction{
		ID:              uuid.NewString(),
		Type:            req.Type,
		Asset:           req.Asset,
		ContractAddress: contract,
		Amount:          req.Amount,
		Price:           req.Price,
		Total:           total,
		Timestamp:       req.At.UTC(),
	}

	return out, nil
}
