// Package identity resolves key owners against the identity backend.
package identity

import (
	"context"
	"errors"
)

// ErrOwnerNotFound is returned when no owner matches the given ID.
var ErrOwnerNotFound = errors.New("identity: owner not found")

// Owner is a resolved key owner.
type Owner struct {
	ID          string `db:"id"`
	DisplayName string `db:"display_name"`
	Active      bool   `db:"active"`
}

// Provider resolves owners.
type Provider interface {
	// ResolveOwner returns the owner with the given ID, or
	// ErrOwnerNotFound.
	ResolveOwner(ctx context.Context, ownerID string) (*Owner, error)

	// ActiveOwnerIDs lists the IDs of all active owners, feeding bulk
	// key generation.
	ActiveOwnerIDs(ctx context.Context) ([]string, error)
}
