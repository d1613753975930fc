package keystore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

const schema = `
CREATE TABLE IF NOT EXISTS api_keys (
	id            TEXT PRIMARY KEY,
	owner_id      TEXT NOT NULL UNIQUE,
	digest        TEXT NOT NULL,
	lookup_digest TEXT NOT NULL UNIQUE,
	sample        TEXT NOT NULL,
	created_at    TIMESTAMP NOT NULL,
	expires_at    TIMESTAMP,
	blocked       INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_api_keys_expires_at ON api_keys(expires_at);

CREATE TABLE IF NOT EXISTS sentinel_state (
	name  TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// SQLStore implements Store over a SQL database via sqlx.
type SQLStore struct {
	db *sqlx.DB
}

var _ Store = (*SQLStore)(nil)

// NewSQLStore creates a SQLStore and ensures its schema exists.
func NewSQLStore(ctx context.Context, db *sqlx.DB) (*SQLStore, error) {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("keystore: migrate schema: %w", err)
	}
	return &SQLStore{db: db}, nil
}

// GetByOwner returns the record for an owner, or ErrNotFound.
func (s *SQLStore) GetByOwner(ctx context.Context, ownerID string) (*Record, error) {
	return s.getOne(ctx, `SELECT * FROM api_keys WHERE owner_id = ?`, ownerID)
}

// GetByID returns the record with the given key ID, or ErrNotFound.
func (s *SQLStore) GetByID(ctx context.Context, keyID string) (*Record, error) {
	return s.getOne(ctx, `SELECT * FROM api_keys WHERE id = ?`, keyID)
}

// GetByLookupDigest returns the record whose lookup digest matches, or
// ErrNotFound.
func (s *SQLStore) GetByLookupDigest(ctx context.Context, digest string) (*Record, error) {
	return s.getOne(ctx, `SELECT * FROM api_keys WHERE lookup_digest = ?`, digest)
}

func (s *SQLStore) getOne(ctx context.Context, query string, arg interface{}) (*Record, error) {
	var rec Record
	if err := s.db.GetContext(ctx, &rec, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("keystore: query record: %w", err)
	}
	return &rec, nil
}

// Upsert inserts the record or replaces the owner's existing one.
func (s *SQLStore) Upsert(ctx context.Context, rec *Record) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO api_keys (id, owner_id, digest, lookup_digest, sample, created_at, expires_at, blocked)
		VALUES (:id, :owner_id, :digest, :lookup_digest, :sample, :created_at, :expires_at, :blocked)
		ON CONFLICT(owner_id) DO UPDATE SET
			digest = excluded.digest,
			lookup_digest = excluded.lookup_digest,
			sample = excluded.sample,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at,
			blocked = excluded.blocked`, rec)
	if err != nil {
		return fmt.Errorf("keystore: upsert record: %w", err)
	}
	return nil
}

// DeleteByOwner removes the owner's record.
func (s *SQLStore) DeleteByOwner(ctx context.Context, ownerID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM api_keys WHERE owner_id = ?`, ownerID)
	if err != nil {
		return false, fmt.Errorf("keystore: delete record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("keystore: delete record: %w", err)
	}
	return n > 0, nil
}

// SetBlocked updates the blocked flag, or ErrNotFound.
func (s *SQLStore) SetBlocked(ctx context.Context, keyID string, blocked bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE api_keys SET blocked = ? WHERE id = ?`, blocked, keyID)
	if err != nil {
		return fmt.Errorf("keystore: set blocked: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("keystore: set blocked: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListAll returns every record.
func (s *SQLStore) ListAll(ctx context.Context) ([]Record, error) {
	var recs []Record
	if err := s.db.SelectContext(ctx, &recs, `SELECT * FROM api_keys ORDER BY owner_id`); err != nil {
		return nil, fmt.Errorf("keystore: list records: %w", err)
	}
	return recs, nil
}

// PurgeExpiredBefore deletes records whose expiry predates cutoff.
func (s *SQLStore) PurgeExpiredBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM api_keys WHERE expires_at IS NOT NULL AND expires_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("keystore: purge expired: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("keystore: purge expired: %w", err)
	}
	return n, nil
}

// GetState reads a named state value, "" when unset.
func (s *SQLStore) GetState(ctx context.Context, name string) (string, error) {
	var value string
	err := s.db.GetContext(ctx, &value, `SELECT value FROM sentinel_state WHERE name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("keystore: get state: %w", err)
	}
	return value, nil
}

// SetState writes a named state value.
func (s *SQLStore) SetState(ctx context.Context, name, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sentinel_state (name, value) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value`, name, value)
	if err != nil {
		return fmt.Errorf("keystore: set state: %w", err)
	}
	return nil
}

// Close releases the store's resources. The underlying DB handle is
// shared and closed by the owner.
func (s *SQLStore) Close() error {
	return nil
}
