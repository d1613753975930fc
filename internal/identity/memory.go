package identity

import (
	"context"
	"sort"
	"sync"
)

// MemoryProvider is an in-memory Provider for wiring tests and small
// fixed deployments.
type MemoryProvider struct {
	mu     sync.RWMutex
	owners map[string]Owner
}

var _ Provider = (*MemoryProvider)(nil)

// NewMemoryProvider creates a provider holding the given owners.
func NewMemoryProvider(owners ...Owner) *MemoryProvider {
	p := &MemoryProvider{owners: make(map[string]Owner, len(owners))}
	for _, o := range owners {
		p.owners[o.ID] = o
	}
	return p
}

// ResolveOwner returns the owner with the given ID, or ErrOwnerNotFound.
func (p *MemoryProvider) ResolveOwner(_ context.Context, ownerID string) (*Owner, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	owner, ok := p.owners[ownerID]
	if !ok {
		return nil, ErrOwnerNotFound
	}
	return &owner, nil
}

// ActiveOwnerIDs lists the IDs of all active owners.
func (p *MemoryProvider) ActiveOwnerIDs(_ context.Context) ([]string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	ids := make([]string, 0, len(p.owners))
	for id, owner := range p.owners {
		if owner.Active {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Put inserts or replaces an owner.
func (p *MemoryProvider) Put(owner Owner) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.owners[owner.ID] = owner
}
