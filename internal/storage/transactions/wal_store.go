// Package transactions persists executed orders in a write-ahead log.
package transactions

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"
	"github.com/vadiminshakov/ruletrader/internal/domain"
)

const (
	defaultDir      = "./wal/transactions"
	segmentLimit    = 1000
	maxSegments     = 100
	txKeyPrefix     = "transaction_"
	errNotInitStore = "transaction store is not initialized"
)

// WALStore append-only store of executed transactions.
type WALStore struct {
	wal *gowal.Wal
	mu  sync.RWMutex
}

// NewWALStore opens or creates the transaction WAL under dir.
func NewWALStore(dir string) (*WALStore, error) {
	if dir == "" {
		dir = defaultDir
	}

	wal, err := gowal.NewWAL(gowal.Config{
		Dir:              dir,
		Prefix:           "tx_",
		SegmentThreshold: segmentLimit,
		MaxSegments:      maxSegments,
		IsInSyncDiskMode: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "init transaction WAL")
	}

	return &WALStore{wal: wal}, nil
}

// Save appends the transaction.
func (s *WALStore) Save(tx domain.Transaction) error {
	if s == nil || s.wal == nil {
		return errors.New(errNotInitStore)
	}
	if tx.Symbol == "" {
		return errors.New("transaction symbol is required")
	}

	payload, err := json.Marshal(tx)
	if err != nil {
		return errors.Wrap(err, "marshal transaction")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Write(s.wal.CurrentIndex()+1, txKeyPrefix+tx.Symbol, payload)
}

// After returns transactions written after the given WAL index, oldest first.
func (s *WALStore) After(index uint64) ([]domain.TransactionRecord, error) {
	if s == nil || s.wal == nil {
		return nil, errors.New(errNotInitStore)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	current := s.wal.CurrentIndex()
	if current <= index {
		return nil, nil
	}

	records := make([]domain.TransactionRecord, 0, current-index)
	for idx := index + 1; idx <= current; idx++ {
		tx, ok, err := s.get(idx)
		if err != nil {
			return nil, err
		}
		if ok {
			records = append(records, domain.TransactionRecord{Index: idx, Transaction: tx})
		}
	}

	return records, nil
}

// Recent returns up to n newest transactions, oldest first.
func (s *WALStore) Recent(n int) ([]domain.Transaction, error) {
	if s == nil || s.wal == nil {
		return nil, errors.New(errNotInitStore)
	}
	if n <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Transaction, 0, n)
	for idx := s.wal.CurrentIndex(); idx > 0 && len(out) < n; idx-- {
		tx, ok, err := s.get(idx)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, tx)
		}
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}

	return out, nil
}

func (s *WALStore) get(idx uint64) (domain.Transaction, bool, error) {
	key, payload, err := s.wal.Get(idx)
	if err != nil {
		return domain.Transaction{}, false, errors.Wrapf(err, "read transaction at %d", idx)
	}
	if !strings.HasPrefix(key, txKeyPrefix) {
		return domain.Transaction{}, false, nil
	}
	var tx domain.Transaction
	if err := json.Unmarshal(payload, &tx); err != nil {
		return domain.Transaction{}, false, errors.Wrapf(err, "decode transaction at %d", idx)
	}
	return tx, true, nil
}

// CurrentIndex returns the latest WAL index stored.
func (s *WALStore) CurrentIndex() uint64 {
	if s == nil || s.wal == nil {
		return 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.wal.CurrentIndex()
}

// Close closes the underlying WAL.
func (s *WALStore) Close() error {
	if s == nil || s.wal == nil {
		return errors.New(errNotInitStore)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}
