package sqlite

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/papertrade/internal/domain"
	"github.com/vadiminshakov/papertrade/internal/storage"
	_ "modernc.org/sqlite"
)

// Store persists accounts in a single SQLite file. Decimals are stored as TEXT so no
// precision is lost.
type Store struct {
	db *sql.DB
}

var _ storage.Persistence = (*Store)(nil)

func New(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "create sqlite dir")
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS accounts (
  user_id TEXT PRIMARY KEY,
  balance TEXT NOT NULL,
  updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS positions (
  user_id TEXT NOT NULL,
  asset TEXT NOT NULL,
  contract_address TEXT NOT NULL DEFAULT '',
  amount TEXT NOT NULL,
  avg_cost TEXT NOT NULL,
  last_known_price TEXT NOT NULL DEFAULT '0',
  updated_at INTEGER NOT NULL,
  PRIMARY KEY (user_id, asset)
);

CREATE TABLE IF NOT EXISTS transactions (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  type TEXT NOT NULL,
  asset TEXT NOT NULL,
  contract_address TEXT NOT NULL DEFAULT '',
  amount TEXT NOT NULL,
  price TEXT NOT NULL,
  total TEXT NOT NULL,
  ts_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transactions_user_ts ON transactions(user_id, ts_ms);
`)
	return errors.Wrap(err, "migrate sqlite")
}

func (s *Store) LoadState(ctx context.Context, userID string) (*domain.AccountState, error) {
	var balance string
	err := s.db.QueryRowContext(ctx, `SELECT balance FROM accounts WHERE user_id = ?`, userID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "load account")
	}

	st := &domain.AccountState{}
	if st.Balance, err = decimal.NewFromString(balance); err != nil {
		return nil, errors.Wrap(err, "decode balance")
	}

	if st.Positions, err = s.positions(ctx, userID); err != nil {
		return nil, err
	}
	if st.Transactions, err = s.transactions(ctx, userID); err != nil {
		return nil, err
	}

	return st, nil
}

func (s *Store) positions(ctx context.Context, userID string) ([]domain.Position, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT asset, contract_address, amount, avg_cost, last_known_price
		FROM positions
		WHERE user_id = ?
		ORDER BY rowid
	`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "query positions")
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		var (
			p                    domain.Position
			amount, cost, lastPx string
		)
		if err := rows.Scan(&p.Asset, &p.ContractAddress, &amount, &cost, &lastPx); err != nil {
			return nil, errors.Wrap(err, "scan position")
		}
		if p.Amount, p.AvgCost, p.LastKnownPrice, err = decodeTriple(amount, cost, lastPx); err != nil {
			return nil, errors.Wrapf(err, "decode position %s", p.Asset)
		}
		out = append(out, p)
	}
	return out, errors.Wrap(rows.Err(), "iterate positions")
}

func (s *Store) transactions(ctx context.Context, userID string) ([]domain.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, asset, contract_address, amount, price, total, ts_ms
		FROM transactions
		WHERE user_id = ?
		ORDER BY ts_ms, rowid
	`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "query transactions")
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		var (
			tx                   domain.Transaction
			typ                  string
			amount, price, total string
			tsMs                 int64
		)
		if err := rows.Scan(&tx.ID, &typ, &tx.Asset, &tx.ContractAddress, &amount, &price, &total, &tsMs); err != nil {
			return nil, errors.Wrap(err, "scan transaction")
		}
		if tx.Type, err = domain.ParseTradeType(typ); err != nil {
			return nil, err
		}
		if tx.Amount, tx.Price, tx.Total, err = decodeTriple(amount, price, total); err != nil {
			return nil, errors.Wrapf(err, "decode transaction %s", tx.ID)
		}
		tx.Timestamp = time.UnixMilli(tsMs).UTC()
		out = append(out, tx)
	}
	return out, errors.Wrap(rows.Err(), "iterate transactions")
}

func (s *Store) SaveBalance(ctx context.Context, userID string, balance decimal.Decimal) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts(user_id, balance, updated_at) VALUES(?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET balance = excluded.balance, updated_at = excluded.updated_at
	`, userID, balance.String(), time.Now().UnixMilli())
	return errors.Wrap(err, "save balance")
}

func (s *Store) UpsertPosition(ctx context.Context, userID string, p domain.Position) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO positions(user_id, asset, contract_address, amount, avg_cost, last_known_price, updated_at)
		VALUES(?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, asset) DO UPDATE SET
			contract_address = excluded.contract_address,
			amount = excluded.amount,
			avg_cost = excluded.avg_cost,
			last_known_price = excluded.last_known_price,
			updated_at = excluded.updated_at
	`, userID, p.Asset, p.ContractAddress, p.Amount.String(), p.AvgCost.String(), p.LastKnownPrice.String(), time.Now().UnixMilli())
	return errors.Wrap(err, "upsert position")
}

func (s *Store) DeletePosition(ctx context.Context, userID, asset string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM positions WHERE user_id = ? AND asset = ?`, userID, asset)
	return errors.Wrap(err, "delete position")
}

func (s *Store) AppendTransaction(ctx context.Context, userID string, tx domain.Transaction) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions(id, user_id, type, asset, contract_address, amount, price, total, ts_ms)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, tx.ID, userID, string(tx.Type), tx.Asset, tx.ContractAddress,
		tx.Amount.String(), tx.Price.String(), tx.Total.String(), tx.Timestamp.UnixMilli())
	return errors.Wrap(err, "append transaction")
}

func (s *Store) ResetAll(ctx context.Context, userID string, balance decimal.Decimal) error {
	dbtx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin reset")
	}
	defer func() { _ = dbtx.Rollback() }()

	if _, err := dbtx.ExecContext(ctx, `DELETE FROM positions WHERE user_id = ?`, userID); err != nil {
		return errors.Wrap(err, "reset positions")
	}
	if _, err := dbtx.ExecContext(ctx, `DELETE FROM transactions WHERE user_id = ?`, userID); err != nil {
		return errors.Wrap(err, "reset transactions")
	}
	if _, err := dbtx.ExecContext(ctx, `
		INSERT INTO accounts(user_id, balance, updated_at) VALUES(?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET balance = excluded.balance, updated_at = excluded.updated_at
	`, userID, balance.String(), time.Now().UnixMilli()); err != nil {
		return errors.Wrap(err, "reset balance")
	}

	return errors.Wrap(dbtx.Commit(), "commit reset")
}

func decodeTriple(a, b, c string) (decimal.Decimal, decimal.Decimal, decimal.Decimal, error) {
	x, err := decimal.NewFromString(a)
	if err != nil {
		return x, decimal.Zero, decimal.Zero, err
	}
	y, err := decimal.NewFromString(b)
	if err != nil {
		return x, y, decimal.Zero, err
	}
	z, err := decimal.NewFromString(c)
	return x, y, z, err
}
