package keystore

import (
	"context"
	"time"
)

// Store is the persistence interface for key records and the small
// amount of rotation state kept beside them.
type Store interface {
	// GetByOwner returns the record for an owner, or ErrNotFound.
	GetByOwner(ctx context.Context, ownerID string) (*Record, error)

	// GetByID returns the record with the given key ID, or ErrNotFound.
	GetByID(ctx context.Context, keyID string) (*Record, error)

	// GetByLookupDigest returns the record whose lookup digest matches,
	// or ErrNotFound.
	GetByLookupDigest(ctx context.Context, digest string) (*Record, error)

	// Upsert inserts the record or replaces the owner's existing one.
	// The write is atomic; a failed upsert leaves no partial record.
	Upsert(ctx context.Context, rec *Record) error

	// DeleteByOwner removes the owner's record. Returns false when no
	// record existed.
	DeleteByOwner(ctx context.Context, ownerID string) (bool, error)

	// SetBlocked updates the blocked flag, or ErrNotFound.
	SetBlocked(ctx context.Context, keyID string, blocked bool) error

	// ListAll returns every record.
	ListAll(ctx context.Context) ([]Record, error)

	// PurgeExpiredBefore deletes records whose expiry predates cutoff
	// and returns how many were removed.
	PurgeExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// GetState reads a named state value, "" when unset.
	GetState(ctx context.Context, name string) (string, error)

	// SetState writes a named state value.
	SetState(ctx context.Context, name, value string) error

	// Close releases the store's resources.
	Close() error
}
