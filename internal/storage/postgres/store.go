package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/papertrade/internal/domain"
	"github.com/vadiminshakov/papertrade/internal/storage"
)

const pgErrUniqueViolation = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS accounts (
    user_id    TEXT PRIMARY KEY,
    balance    NUMERIC NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS positions (
    user_id          TEXT NOT NULL,
    asset            TEXT NOT NULL,
    contract_address TEXT NOT NULL DEFAULT '',
    amount           NUMERIC NOT NULL,
    avg_cost         NUMERIC NOT NULL,
    last_known_price NUMERIC NOT NULL DEFAULT 0,
    opened_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (user_id, asset)
);

CREATE TABLE IF NOT EXISTS transactions (
    id               TEXT PRIMARY KEY,
    user_id          TEXT NOT NULL,
    type             TEXT NOT NULL,
    asset            TEXT NOT NULL,
    contract_address TEXT NOT NULL DEFAULT '',
    amount           NUMERIC NOT NULL,
    price            NUMERIC NOT NULL,
    total            NUMERIC NOT NULL,
    executed_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transactions_user_time ON transactions (user_id, executed_at);
`

// Store persists accounts in Postgres through a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

var _ storage.Persistence = (*Store)(nil)

// New connects, pings and migrates.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "parse postgres dsn")
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "connect to postgres")
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "ping postgres")
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "migrate postgres")
	}

	return &Store{pool: pool}, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) LoadState(ctx context.Context, userID string) (*domain.AccountState, error) {
	var balance string
	err := s.pool.QueryRow(ctx, `SELECT balance::text FROM accounts WHERE user_id = $1`, userID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "load account")
	}

	st := &domain.AccountState{}
	if st.Balance, err = decimal.NewFromString(balance); err != nil {
		return nil, errors.Wrap(err, "decode balance")
	}

	rows, err := s.pool.Query(ctx, `
		SELECT asset, contract_address, amount::text, avg_cost::text, last_known_price::text
		FROM positions
		WHERE user_id = $1
		ORDER BY opened_at, asset
	`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "query positions")
	}
	st.Positions, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Position, error) {
		var (
			p                    domain.Position
			amount, cost, lastPx string
		)
		if err := row.Scan(&p.Asset, &p.ContractAddress, &amount, &cost, &lastPx); err != nil {
			return p, err
		}
		var err error
		if p.Amount, err = decimal.NewFromString(amount); err != nil {
			return p, err
		}
		if p.AvgCost, err = decimal.NewFromString(cost); err != nil {
			return p, err
		}
		p.LastKnownPrice, err = decimal.NewFromString(lastPx)
		return p, err
	})
	if err != nil {
		return nil, errors.Wrap(err, "read positions")
	}

	rows, err = s.pool.Query(ctx, `
		SELECT id, type, asset, contract_address, amount::text, price::text, total::text, executed_at
		FROM transactions
		WHERE user_id = $1
		ORDER BY executed_at, id
	`, userID)
	if err != nil {
		return nil, errors.Wrap(err, "query transactions")
	}
	st.Transactions, err = pgx.CollectRows(rows, scanTransaction)
	if err != nil {
		return nil, errors.Wrap(err, "read transactions")
	}

	return st, nil
}

func scanTransaction(row pgx.CollectableRow) (domain.Transaction, error) {
	var (
		tx                   domain.Transaction
		typ                  string
		amount, price, total string
	)
	if err := row.Scan(&tx.ID, &typ, &tx.Asset, &tx.ContractAddress, &amount, &price, &total, &tx.Timestamp); err != nil {
		return tx, err
	}

	var err error
	if tx.Type, err = domain.ParseTradeType(typ); err != nil {
		return tx, err
	}
	if tx.Amount, err = decimal.NewFromString(amount); err != nil {
		return tx, err
	}
	if tx.Price, err = decimal.NewFromString(price); err != nil {
		return tx, err
	}
	tx.Total, err = decimal.NewFromString(total)
	tx.Timestamp = tx.Timestamp.UTC()
	return tx, err
}

func (s *Store) SaveBalance(ctx context.Context, userID string, balance decimal.Decimal) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO accounts (user_id, balance) VALUES ($1, $2::numeric)
		ON CONFLICT (user_id) DO UPDATE SET balance = EXCLUDED.balance, updated_at = now()
	`, userID, balance.String())
	return errors.Wrap(err, "save balance")
}

func (s *Store) UpsertPosition(ctx context.Context, userID string, p domain.Position) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO positions (user_id, asset, contract_address, amount, avg_cost, last_known_price)
		VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6::numeric)
		ON CONFLICT (user_id, asset) DO UPDATE SET
			contract_address = EXCLUDED.contract_address,
			amount = EXCLUDED.amount,
			avg_cost = EXCLUDED.avg_cost,
			last_known_price = EXCLUDED.last_known_price,
			updated_at = now()
	`, userID, p.Asset, p.ContractAddress, p.Amount.String(), p.AvgCost.String(), p.LastKnownPrice.String())
	return errors.Wrap(err, "upsert position")
}

func (s *Store) DeletePosition(ctx context.Context, userID, asset string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM positions WHERE user_id = $1 AND asset = $2`, userID, asset)
	return errors.Wrap(err, "delete position")
}

// AppendTransaction is idempotent on the transaction id, so a retried write after a
// lost acknowledgement does not fail.
func (s *Store) AppendTransaction(ctx context.Context, userID string, tx domain.Transaction) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO transactions (id, user_id, type, asset, contract_address, amount, price, total, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8::numeric, $9)
	`, tx.ID, userID, string(tx.Type), tx.Asset, tx.ContractAddress,
		tx.Amount.String(), tx.Price.String(), tx.Total.String(), tx.Timestamp.UTC())
	if isDuplicateKeyError(err) {
		return nil
	}
	return errors.Wrap(err, "append transaction")
}

func (s *Store) ResetAll(ctx context.Context, userID string, balance decimal.Decimal) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM positions WHERE user_id = $1`, userID); err != nil {
			return errors.Wrap(err, "reset positions")
		}
		if _, err := tx.Exec(ctx, `DELETE FROM transactions WHERE user_id = $1`, userID); err != nil {
			return errors.Wrap(err, "reset transactions")
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO accounts (user_id, balance) VALUES ($1, $2::numeric)
			ON CONFLICT (user_id) DO UPDATE SET balance = EXCLUDED.balance, updated_at = now()
		`, userID, balance.String())
		return errors.Wrap(err, "reset balance")
	})
}

func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgErrUniqueViolation
}
