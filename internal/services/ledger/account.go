package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/papertrade/internal/domain"
	"github.com/vadiminshakov/papertrade/internal/observability"
	"github.com/vadiminshakov/papertrade/internal/storage"
	"github.com/vadiminshakov/papertrade/pkg/retrier"
	"go.uber.org/zap"
)

// DefaultInitialBalance is the starting cash of a new or reset account.
var DefaultInitialBalance = decimal.NewFromInt(10000)

// Journal receives every executed transaction.
type Journal interface {
	Append(userID string, tx domain.Transaction) (uint64, error)
}

// Receipt is the result of an accepted trade. Warnings list write-through failures;
// the trade itself stands regardless.
type Receipt struct {
	Transaction domain.Transaction `json:"transaction"`
	Balance     decimal.Decimal    `json:"balance"`
	Position    domain.Position    `json:"position"`
	Closed      bool               `json:"closed"`
	Warnings    []string           `json:"warnings,omitempty"`
}

type AccountOption func(*Account)

func WithInitialBalance(b decimal.Decimal) AccountOption {
	return func(a *Account) {
		if b.IsPositive() {
			a.initial = b
		}
	}
}

func WithJournal(j Journal) AccountOption {
	return func(a *Account) { a.journal = j }
}

func WithMetrics(m *observability.Metrics) AccountOption {
	return func(a *Account) { a.metrics = m }
}

func WithRetrier(r *retrier.Retrier) AccountOption {
	return func(a *Account) { a.retrier = r }
}

func WithClock(now func() time.Time) AccountOption {
	return func(a *Account) { a.now = now }
}

// Account is one user's simulated trading session. Memory is authoritative; the
// persistence collaborator is written through after each change.
type Account struct {
	mu      sync.Mutex
	userID  string
	initial decimal.Decimal
	state   domain.AccountState

	store   storage.Persistence
	journal Journal
	retrier *retrier.Retrier
	metrics *observability.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// Open builds the session for userID and loads its saved state. A nil store or an
// empty userID gives an anonymous in-memory session.
func Open(ctx context.Context, userID string, store storage.Persistence, logger *zap.Logger, opts ...AccountOption) (*Account, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if store == nil || userID == "" {
		store = storage.Noop{}
	}

	a := &Account{
		userID:  userID,
		initial: DefaultInitialBalance,
		store:   store,
		retrier: retrier.New(retrier.WithMaxRetries(0)),
		logger:  logger.With(zap.String("user", userID)),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}

	saved, err := store.LoadState(ctx, userID)
	if err != nil {
		return nil, errors.Wrap(err, "load account state")
	}

	if saved == nil {
		a.state = domain.AccountState{Balance: a.initial}
		if werr := a.persist(ctx, "save_balance", func(ctx context.Context) error {
			return a.store.SaveBalance(ctx, a.userID, a.initial)
		}); werr != nil {
			a.logger.Warn("initial balance not saved", zap.Error(werr))
		}
		a.logger.Info("account created", zap.String("balance", a.initial.String()))
		return a, nil
	}

	a.state = *saved
	a.logger.Info("account loaded",
		zap.String("balance", saved.Balance.String()),
		zap.Int("positions", len(saved.Positions)),
		zap.Int("transactions", len(saved.Transactions)))

	return a, nil
}

// Anonymous reports whether nothing is persisted.
func (a *Account) Anonymous() bool {
	_, ok := a.store.(storage.Noop)
	return ok
}

// Execute runs req against the current state. TradeErrors leave the account untouched.
func (a *Account) Execute(ctx context.Context, req TradeRequest) (Receipt, error) {
	if req.At.IsZero() {
		req.At = a.now()
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	out, err := ExecuteTrade(req, a.state.Balance, a.state.Positions)
	if err != nil {
		a.metrics.ObserveTrade(string(req.Type), "rejected")
		a.logger.Info("trade rejected",
			zap.String("type", string(req.Type)),
			zap.String("asset", req.Asset),
			zap.String("amount", req.Amount.String()),
			zap.Error(err))
		return Receipt{}, err
	}

	a.state.Balance = out.Balance
	a.state.Positions = out.Positions
	a.state.Transactions = append(a.state.Transactions, out.Transaction)
	a.metrics.ObserveTrade(string(req.Type), "executed")

	a.logger.Info("trade executed",
		zap.String("type", string(out.Transaction.Type)),
		zap.String("asset", out.Transaction.Asset),
		zap.String("amount", out.Transaction.Amount.String()),
		zap.String("price", out.Transaction.Price.String()),
		zap.String("total", out.Transaction.Total.String()),
		zap.String("balance", out.Balance.String()))

	receipt := Receipt{
		Transaction: out.Transaction,
		Balance:     out.Balance,
		Position:    out.Position,
		Closed:      out.Closed,
	}

	receipt.Warnings = a.writeThrough(ctx, out)

	if a.journal != nil {
		if _, jerr := a.journal.Append(a.userID, out.Transaction); jerr != nil {
			a.metrics.ObservePersistenceError("journal")
			a.logger.Warn("trade not journaled", zap.String("tx", out.Transaction.ID), zap.Error(jerr))
			receipt.Warnings = append(receipt.Warnings, "journal: "+jerr.Error())
		}
	}

	return receipt, nil
}

func (a *Account) writeThrough(ctx context.Context, out TradeOutcome) []string {
	var warnings []string
	add := func(err error) {
		if err != nil {
			warnings = append(warnings, err.Error())
		}
	}

	add(a.persist(ctx, "save_balance", func(ctx context.Context) error {
		return a.store.SaveBalance(ctx, a.userID, out.Balance)
	}))

	if out.Closed {
		add(a.persist(ctx, "delete_position", func(ctx context.Context) error {
			return a.store.DeletePosition(ctx, a.userID, out.Position.Asset)
		}))
	} else {
		add(a.persist(ctx, "upsert_position", func(ctx context.Context) error {
			return a.store.UpsertPosition(ctx, a.userID, out.Position)
		}))
	}

	add(a.persist(ctx, "append_transaction", func(ctx context.Context) error {
		return a.store.AppendTransaction(ctx, a.userID, out.Transaction)
	}))

	return warnings
}

// persist runs one write with retries. Failures are logged, counted and returned
// wrapped in storage.ErrPersistence.
func (a *Account) persist(ctx context.Context, op string, fn func(context.Context) error) error {
	err := a.retrier.Do(ctx, fn)
	if err == nil {
		return nil
	}

	a.metrics.ObservePersistenceError(op)
	a.logger.Warn("persistence write failed, keeping in-memory state", zap.String("op", op), zap.Error(err))

	return errors.Wrapf(storage.ErrPersistence, "%s: %v", op, err)
}

// Reset restores the initial balance and clears positions and history.
func (a *Account) Reset(ctx context.Context) []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.state = domain.AccountState{Balance: a.initial}
	a.logger.Info("account reset", zap.String("balance", a.initial.String()))

	if err := a.persist(ctx, "reset_all", func(ctx context.Context) error {
		return a.store.ResetAll(ctx, a.userID, a.initial)
	}); err != nil {
		return []string{err.Error()}
	}
	return nil
}

// ApplyPrice refreshes the last known price of the matching position. It has the
// shape of a synchronizer price hook.
func (a *Account) ApplyPrice(st domain.AssetPriceState) {
	if !st.Tradable() {
		return
	}
	a.ApplyPrices(map[string]decimal.Decimal{st.Symbol: st.TrustedPrice})
}

// ApplyPrices sets LastKnownPrice for every held asset present in prices. It only
// touches memory.
func (a *Account) ApplyPrices(prices map[string]decimal.Decimal) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := 0
	for i, p := range a.state.Positions {
		px, ok := prices[p.Asset]
		if !ok || !px.IsPositive() {
			continue
		}
		a.state.Positions[i].LastKnownPrice = px
		n++
	}
	return n
}

// Snapshot returns a deep copy of the account.
func (a *Account) Snapshot() domain.AccountState {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := domain.AccountState{
		Balance:      a.state.Balance,
		Positions:    make([]domain.Position, len(a.state.Positions)),
		Transactions: make([]domain.Transaction, len(a.state.Transactions)),
	}
	copy(out.Positions, a.state.Positions)
	copy(out.Transactions, a.state.Transactions)
	return out
}

// Positions returns a copy of the open positions in opening order.
func (a *Account) Positions() []domain.Position {
	return a.Snapshot().Positions
}

// Transactions returns the history newest first.
func (a *Account) Transactions() []domain.Transaction {
	txs := a.Snapshot().Transactions
	for i, j := 0, len(txs)-1; i < j; i, j = i+1, j-1 {
		txs[i], txs[j] = txs[j], txs[i]
	}
	return txs
}

func (a *Account) Balance() decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state.Balance
}
