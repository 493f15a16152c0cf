// Package ledger defines the entity store every operation runs against.
//
// The store executes each operation as a single atomic transaction: either
// every read/validate/write inside the closure commits durably, or none of
// it does. Two transactions touching the same entity are serialized by the
// backend; the loser re-reads the mutated state and fails its own
// precondition check instead of corrupting data. That, not locking in the
// operation code, is the load-bearing correctness mechanism.
package ledger

import (
	"context"
	"errors"

	"github.com/kk-code-lab/cartlake/internal/addr"
)

// Kind tags what record type an entity holds.
type Kind uint8

const (
	KindCatalogRoot Kind = 1
	KindCatalogPage Kind = 2
	KindManifest    Kind = 3
	KindChunk       Kind = 4
)

var (
	// ErrEntityExists is returned by Create when the address is taken.
	ErrEntityExists = errors.New("ledger: entity already exists")
	// ErrEntityNotFound is returned by Get for an absent address.
	ErrEntityNotFound = errors.New("ledger: entity not found")
)

// Txn is the view of the store inside one transaction.
type Txn interface {
	// Create persists a new entity, rejecting duplicates.
	Create(a addr.Address, kind Kind, data []byte) error
	// Get returns an entity's record bytes.
	Get(a addr.Address) ([]byte, error)
	// Put overwrites an existing entity's record bytes.
	Put(a addr.Address, kind Kind, data []byte) error
}

// Store is the transactional entity store.
type Store interface {
	// View runs fn in a read-only transaction.
	View(ctx context.Context, fn func(Txn) error) error
	// Update runs fn in a read-write transaction, committing only if fn
	// returns nil.
	Update(ctx context.Context, fn func(Txn) error) error
	Close() error
}
