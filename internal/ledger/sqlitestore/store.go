// Package sqlitestore backs the ledger with SQLite. Every Update runs inside
// one immediate transaction, so writers serialize at the database and each
// operation commits all-or-nothing. Duplicate-entity rejection falls out of
// the primary key on the address column.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kk-code-lab/cartlake/internal/addr"
	"github.com/kk-code-lab/cartlake/internal/ledger"
)

// Store wraps the SQLite entity database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the entity database at the given path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("sqlitestore: db path required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// One connection serializes writers at the pool, which keeps every
	// Update transaction immediate without driver-specific BEGIN syntax.
	db.SetMaxOpenConns(1)
	store := &Store{db: db}
	if err := store.applyPragmas(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := store.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Flush forces a WAL checkpoint to durably persist changes.
func (s *Store) Flush() error {
	if s == nil || s.db == nil {
		return nil
	}
	_, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return err
}

func (s *Store) applyPragmas(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA synchronous=FULL"); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		return err
	}
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
	version INTEGER PRIMARY KEY,
	applied_at TEXT NOT NULL
)`); err != nil {
		return err
	}

	var version int
	if err = tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version); err != nil {
		return err
	}
	if version < 1 {
		if _, err = tx.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS entities (
	address BLOB PRIMARY KEY,
	kind INTEGER NOT NULL,
	data BLOB NOT NULL,
	created_at TEXT NOT NULL
)`); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, "INSERT INTO schema_migrations(version, applied_at) VALUES(1, ?)", time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// View runs fn in a transaction that is always rolled back.
func (s *Store) View(ctx context.Context, fn func(ledger.Txn) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	return fn(&txn{ctx: ctx, tx: tx})
}

// Update runs fn in an immediate write transaction and commits on success.
func (s *Store) Update(ctx context.Context, fn func(ledger.Txn) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(&txn{ctx: ctx, tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

type txn struct {
	ctx context.Context
	tx  *sql.Tx
}

func (t *txn) Create(a addr.Address, kind ledger.Kind, data []byte) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := t.tx.ExecContext(t.ctx, `
INSERT INTO entities(address, kind, data, created_at)
VALUES(?, ?, ?, ?)`, a[:], int(kind), data, now)
	if err != nil {
		if isUniqueViolation(err) {
			return ledger.ErrEntityExists
		}
		return err
	}
	return nil
}

func (t *txn) Get(a addr.Address) ([]byte, error) {
	var data []byte
	err := t.tx.QueryRowContext(t.ctx, "SELECT data FROM entities WHERE address=?", a[:]).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ledger.ErrEntityNotFound
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (t *txn) Put(a addr.Address, kind ledger.Kind, data []byte) error {
	res, err := t.tx.ExecContext(t.ctx, "UPDATE entities SET data=?, kind=? WHERE address=?", data, int(kind), a[:])
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ledger.ErrEntityNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed")
}

var _ ledger.Store = (*Store)(nil)
