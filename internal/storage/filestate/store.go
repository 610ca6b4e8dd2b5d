package filestate

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/papertrade/internal/domain"
	"github.com/vadiminshakov/papertrade/internal/storage"
)

const defaultStateDir = "./wal/accounts"

// Store keeps one JSON document per user. Each write rewrites the whole document.
type Store struct {
	dir string
	mu  sync.Mutex
	now func() time.Time
}

var _ storage.Persistence = (*Store)(nil)

func New(dir string) (*Store, error) {
	if dir == "" {
		dir = defaultStateDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create account state dir")
	}

	return &Store{dir: dir, now: time.Now}, nil
}

// document is the on-disk layout.
type document struct {
	UserID    string              `json:"user_id"`
	UpdatedAt time.Time           `json:"updated_at"`
	State     domain.AccountState `json:"state"`
}

func (s *Store) path(userID string) (string, error) {
	name := sanitizeUserID(userID)
	if name == "" {
		return "", errors.Errorf("user id %q has no usable characters", userID)
	}
	return filepath.Join(s.dir, fmt.Sprintf("%s.json", name)), nil
}

func (s *Store) LoadState(_ context.Context, userID string) (*domain.AccountState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read(userID)
	if err != nil || doc == nil {
		return nil, err
	}
	return &doc.State, nil
}

func (s *Store) SaveBalance(_ context.Context, userID string, balance decimal.Decimal) error {
	return s.update(userID, func(st *domain.AccountState) {
		st.Balance = balance
	})
}

func (s *Store) UpsertPosition(_ context.Context, userID string, p domain.Position) error {
	return s.update(userID, func(st *domain.AccountState) {
		if i := domain.FindPosition(st.Positions, p.Asset); i >= 0 {
			st.Positions[i] = p
			return
		}
		st.Positions = append(st.Positions, p)
	})
}

func (s *Store) DeletePosition(_ context.Context, userID, asset string) error {
	return s.update(userID, func(st *domain.AccountState) {
		if i := domain.FindPosition(st.Positions, asset); i >= 0 {
			st.Positions = append(st.Positions[:i], st.Positions[i+1:]...)
		}
	})
}

func (s *Store) AppendTransaction(_ context.Context, userID string, tx domain.Transaction) error {
	return s.update(userID, func(st *domain.AccountState) {
		for _, existing := range st.Transactions {
			if existing.ID == tx.ID {
				return
			}
		}
		st.Transactions = append(st.Transactions, tx)
	})
}

func (s *Store) ResetAll(_ context.Context, userID string, balance decimal.Decimal) error {
	return s.update(userID, func(st *domain.AccountState) {
		*st = domain.AccountState{Balance: balance}
	})
}

func (s *Store) Close() error { return nil }

func (s *Store) update(userID string, fn func(*domain.AccountState)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read(userID)
	if err != nil {
		return err
	}
	if doc == nil {
		doc = &document{UserID: userID}
	}

	fn(&doc.State)
	doc.UpdatedAt = s.now().UTC()

	return s.write(userID, doc)
}

func (s *Store) read(userID string) (*document, error) {
	path, err := s.path(userID)
	if err != nil {
		return nil, err
	}

	payload, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "read account state")
	}
	if len(payload) == 0 {
		return nil, nil
	}

	var doc document
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, errors.Wrap(err, "decode account state")
	}

	return &doc, nil
}

// write replaces the document atomically via a temp file.
func (s *Store) write(userID string, doc *document) error {
	path, err := s.path(userID)
	if err != nil {
		return err
	}

	payload, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode account state")
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return errors.Wrap(err, "write account state temp file")
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrap(err, "persist account state")
	}

	return nil
}

func sanitizeUserID(value string) string {
	value = strings.TrimSpace(strings.ToLower(value))

	var b strings.Builder
	prevUnderscore := false
	for _, r := range value {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
			prevUnderscore = false
			continue
		}
		if !prevUnderscore {
			b.WriteByte('_')
			prevUnderscore = true
		}
	}

	return strings.Trim(b.String(), "_")
}
