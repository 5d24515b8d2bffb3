// Package store provides keyed persistence for commitment records, owner
// indices, and the ledger-wide counters. Every logical key has a typed
// accessor on Tx; there are no stringly-typed storage keys.
//
// Store.Update runs its function inside a transaction: either every write
// made through the Tx is applied, or none is. The lifecycle engine relies
// on this to keep its counters consistent across multi-write operations.
package store

import (
	"context"
	"errors"

	"github.com/commitlock/vault/pkg/contracts"
)

// ErrNotFound is returned when a commitment id has no record.
var ErrNotFound = errors.New("commitment not found")

// errReadOnly guards against writes through a View transaction.
var errReadOnly = errors.New("write attempted in read-only transaction")

// Tx exposes the vault's storage within a transaction. Implementations
// are not safe for concurrent use; the caller serializes access.
type Tx interface {
	// Commitment returns the record for id, or ErrNotFound.
	Commitment(id string) (*contracts.Commitment, error)

	// HasCommitment reports whether a record exists for id.
	HasCommitment(id string) (bool, error)

	// PutCommitment inserts or replaces the record keyed by its ID.
	PutCommitment(c *contracts.Commitment) error

	// OwnerCommitments returns the ordered, append-only list of
	// commitment ids created by owner. Empty slice when none.
	OwnerCommitments(owner string) ([]string, error)

	// AppendOwnerCommitment appends id to owner's index.
	AppendOwnerCommitment(owner, id string) error

	// TotalCommitments returns the monotonic creation counter.
	TotalCommitments() (uint64, error)

	// SetTotalCommitments writes the creation counter.
	SetTotalCommitments(n uint64) error

	// TotalValueLocked returns the sum of current value across all
	// active commitments.
	TotalValueLocked() (int64, error)

	// SetTotalValueLocked writes the global TVL counter.
	SetTotalValueLocked(v int64) error

	// AssetValueLocked returns the TVL partition for one asset.
	AssetValueLocked(assetID string) (int64, error)

	// SetAssetValueLocked writes the TVL partition for one asset.
	SetAssetValueLocked(assetID string, v int64) error
}

// Store is the persistence boundary of the vault.
type Store interface {
	// View runs fn with read access to a consistent snapshot.
	View(ctx context.Context, fn func(Tx) error) error

	// Update runs fn inside a transaction. If fn returns an error the
	// transaction is rolled back and no write is observable.
	Update(ctx context.Context, fn func(Tx) error) error

	// Close releases the underlying resources.
	Close() error
}
