package tradejournal

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"
	"github.com/vadiminshakov/papertrade/internal/domain"
)

const (
	defaultJournalDir   = "./wal/trades"
	journalSegmentLimit = 1000
	journalMaxSegments  = 100
	tradeKeyPrefix      = "trade_"
)

var ErrNotInitialized = errors.New("trade journal is not initialized")

// Entry is a journaled transaction and its position in the log.
type Entry struct {
	Index       uint64             `json:"index"`
	UserID      string             `json:"user_id,omitempty"`
	Transaction domain.Transaction `json:"transaction"`
}

type record struct {
	UserID      string             `json:"user_id,omitempty"`
	Transaction domain.Transaction `json:"transaction"`
}

// Journal is an append-only log of executed trades backed by a WAL. Readers follow it
// by index, which is what the trade stream does.
type Journal struct {
	wal *gowal.Wal
	mu  sync.RWMutex
}

func Open(dir string) (*Journal, error) {
	if dir == "" {
		dir = defaultJournalDir
	}

	wal, err := gowal.NewWAL(gowal.Config{
		Dir:              dir,
		Prefix:           "trades_",
		SegmentThreshold: journalSegmentLimit,
		MaxSegments:      journalMaxSegments,
		IsInSyncDiskMode: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "init trade journal WAL")
	}

	return &Journal{wal: wal}, nil
}

// Append writes tx at the next index and returns that index.
func (j *Journal) Append(userID string, tx domain.Transaction) (uint64, error) {
	if j == nil || j.wal == nil {
		return 0, ErrNotInitialized
	}
	if tx.ID == "" {
		return 0, errors.New("journal entry needs a transaction id")
	}

	payload, err := json.Marshal(record{UserID: userID, Transaction: tx})
	if err != nil {
		return 0, errors.Wrap(err, "marshal journal entry")
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	next := j.wal.CurrentIndex() + 1
	if err := j.wal.Write(next, tradeKeyPrefix+tx.ID, payload); err != nil {
		return 0, errors.Wrap(err, "write journal entry")
	}
	return next, nil
}

// EntriesAfter returns every trade written after index, oldest first.
func (j *Journal) EntriesAfter(index uint64) ([]Entry, error) {
	if j == nil || j.wal == nil {
		return nil, ErrNotInitialized
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	current := j.wal.CurrentIndex()
	if current <= index {
		return nil, nil
	}

	entries := make([]Entry, 0, current-index)
	for idx := index + 1; idx <= current; idx++ {
		key, payload, err := j.wal.Get(idx)
		if err != nil || !strings.HasPrefix(key, tradeKeyPrefix) {
			continue
		}
		var rec record
		if err := json.Unmarshal(payload, &rec); err != nil {
			return nil, errors.Wrapf(err, "decode journal entry %d", idx)
		}
		entries = append(entries, Entry{Index: idx, UserID: rec.UserID, Transaction: rec.Transaction})
	}

	return entries, nil
}

func (j *Journal) CurrentIndex() uint64 {
	if j == nil || j.wal == nil {
		return 0
	}

	j.mu.RLock()
	defer j.mu.RUnlock()

	return j.wal.CurrentIndex()
}

func (j *Journal) Close() error {
	if j == nil || j.wal == nil {
		return ErrNotInitialized
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	return j.wal.Close()
}
