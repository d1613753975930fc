package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

const schema = `
CREATE TABLE IF NOT EXISTS owners (
	id           TEXT PRIMARY KEY,
	display_name TEXT NOT NULL,
	active       INTEGER NOT NULL DEFAULT 1
);
`

// SQLProvider implements Provider over an owners table.
type SQLProvider struct {
	db *sqlx.DB
}

var _ Provider = (*SQLProvider)(nil)

// NewSQLProvider creates a SQLProvider and ensures its schema exists.
func NewSQLProvider(ctx context.Context, db *sqlx.DB) (*SQLProvider, error) {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("identity: migrate schema: %w", err)
	}
	return &SQLProvider{db: db}, nil
}

// ResolveOwner returns the owner with the given ID, or ErrOwnerNotFound.
func (p *SQLProvider) ResolveOwner(ctx context.Context, ownerID string) (*Owner, error) {
	var owner Owner
	err := p.db.GetContext(ctx, &owner, `SELECT * FROM owners WHERE id = ?`, ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOwnerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("identity: resolve owner: %w", err)
	}
	return &owner, nil
}

// ActiveOwnerIDs lists the IDs of all active owners.
func (p *SQLProvider) ActiveOwnerIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := p.db.SelectContext(ctx, &ids, `SELECT id FROM owners WHERE active = 1 ORDER BY id`); err != nil {
		return nil, fmt.Errorf("identity: list active owners: %w", err)
	}
	return ids, nil
}

// Upsert inserts or updates an owner. Used by admin tooling and tests.
func (p *SQLProvider) Upsert(ctx context.Context, owner *Owner) error {
	_, err := p.db.NamedExecContext(ctx, `
		INSERT INTO owners (id, display_name, active) VALUES (:id, :display_name, :active)
		ON CONFLICT(id) DO UPDATE SET
			display_name = excluded.display_name,
			active = excluded.active`, owner)
	if err != nil {
		return fmt.Errorf("identity: upsert owner: %w", err)
	}
	return nil
}
