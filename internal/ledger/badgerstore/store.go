// Package badgerstore backs the ledger with Badger. Each Update closure is
// one serializable transaction; a conflicting concurrent writer makes the
// transaction retry, so callers observe the same exclusive-write-per-entity
// behavior as the SQLite backend.
package badgerstore

import (
	"context"
	"errors"

	"github.com/dgraph-io/badger/v4"

	"github.com/kk-code-lab/cartlake/internal/addr"
	"github.com/kk-code-lab/cartlake/internal/ledger"
)

const maxConflictRetries = 16

// Store wraps a Badger database of entities.
type Store struct {
	db *badger.DB
}

// Open opens or creates the entity database under dir.
func Open(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("badgerstore: dir required")
	}
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	opts.SyncWrites = true
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// OpenInMemory opens a non-persistent store, used by tests.
func OpenInMemory() (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// View runs fn in a read-only transaction.
func (s *Store) View(ctx context.Context, fn func(ledger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(tx *badger.Txn) error {
		return fn(&txn{tx: tx})
	})
}

// Update runs fn in a read-write transaction, retrying on commit conflicts.
// A retry re-executes fn against fresh state, so precondition checks see the
// winner's writes and fail cleanly.
func (s *Store) Update(ctx context.Context, fn func(ledger.Txn) error) error {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.db.Update(func(tx *badger.Txn) error {
			return fn(&txn{tx: tx})
		})
		if errors.Is(err, badger.ErrConflict) && attempt < maxConflictRetries {
			continue
		}
		return err
	}
}

type txn struct {
	tx *badger.Txn
}

func (t *txn) Create(a addr.Address, kind ledger.Kind, data []byte) error {
	_, err := t.tx.Get(a[:])
	if err == nil {
		return ledger.ErrEntityExists
	}
	if !errors.Is(err, badger.ErrKeyNotFound) {
		return err
	}
	return t.set(a, kind, data)
}

func (t *txn) Get(a addr.Address) ([]byte, error) {
	item, err := t.tx.Get(a[:])
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ledger.ErrEntityNotFound
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func (t *txn) Put(a addr.Address, kind ledger.Kind, data []byte) error {
	if _, err := t.tx.Get(a[:]); err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ledger.ErrEntityNotFound
		}
		return err
	}
	return t.set(a, kind, data)
}

func (t *txn) set(a addr.Address, kind ledger.Kind, data []byte) error {
	entry := badger.NewEntry(a[:], data).WithMeta(byte(kind))
	return t.tx.SetEntry(entry)
}

var _ ledger.Store = (*Store)(nil)
