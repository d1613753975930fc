package keystore

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/apisentinel/sentinel/internal/observability"
)

// fingerprintStateName is the state entry holding the digest-strategy
// fingerprint last seen by rotation detection.
const fingerprintStateName = "digest_fingerprint"

// Manager implements the API key lifecycle over a Store and an
// at-rest digest strategy.
type Manager struct {
	store  Store
	logger observability.Logger
	now    func() time.Time

	mu       sync.RWMutex
	strategy DigestStrategy
}

// ManagerOption is a functional option for configuring the Manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger for the Manager.
func WithLogger(logger observability.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a Manager.
func NewManager(store Store, strategy DigestStrategy, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:    store,
		strategy: strategy,
		logger:   observability.NopLogger(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// currentStrategy returns the active digest strategy.
func (m *Manager) currentStrategy() DigestStrategy {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.strategy
}

// ReplaceStrategy swaps the at-rest digest strategy, typically after a
// configuration reload changed the mode or encryption key. Follow with
// RotateAndRegenerateAll so stored digests match the new strategy.
func (m *Manager) ReplaceStrategy(strategy DigestStrategy) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strategy = strategy
}

// newRawSecret draws 32 bytes of secure random material and encodes it
// as the raw secret handed to the owner.
func newRawSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("%w: %v", ErrCryptoFailure, err)
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

// Generate issues a new key for the owner, replacing any existing one,
// and returns the raw secret. The raw secret is returned exactly once;
// only an encrypted-mode digest can recover it later. An existing
// record keeps its ID and blocked flag.
func (m *Manager) Generate(ctx context.Context, ownerID string, expiresAt *time.Time) (string, error) {
	raw, err := newRawSecret()
	if err != nil {
		return "", err
	}

	strategy := m.currentStrategy()
	digest, err := strategy.AtRest(raw)
	if err != nil {
		return "", err
	}

	rec := &Record{
		ID:           uuid.NewString(),
		OwnerID:      ownerID,
		Digest:       digest,
		LookupDigest: LookupDigest(raw),
		Sample:       raw[len(raw)-SampleLength:],
		CreatedAt:    m.now().UTC(),
		ExpiresAt:    expiresAt,
	}

	existing, err := m.store.GetByOwner(ctx, ownerID)
	switch {
	case err == nil:
		rec.ID = existing.ID
		rec.Blocked = existing.Blocked
	case errors.Is(err, ErrNotFound):
	default:
		return "", err
	}

	if err := m.store.Upsert(ctx, rec); err != nil {
		return "", err
	}

	m.logger.Info("api key generated",
		observability.String("owner_id", ownerID),
		observability.String("key_id", rec.ID),
		observability.String("mode", strategy.Name()),
	)

	return raw, nil
}

// Revoke deletes the owner's key. Revoking an absent key is a no-op.
func (m *Manager) Revoke(ctx context.Context, ownerID string) error {
	deleted, err := m.store.DeleteByOwner(ctx, ownerID)
	if err != nil {
		return err
	}
	if deleted {
		m.logger.Info("api key revoked", observability.String("owner_id", ownerID))
	}
	return nil
}

// Regenerate replaces the owner's key with a fresh secret, preserving
// its expiration. Returns ErrNotFound when the owner holds no key.
func (m *Manager) Regenerate(ctx context.Context, ownerID string) (string, error) {
	existing, err := m.store.GetByOwner(ctx, ownerID)
	if err != nil {
		return "", err
	}
	return m.Generate(ctx, ownerID, existing.ExpiresAt)
}

// LookupByRawSecret resolves a presented raw secret to its record, or
// ErrNotFound. The lookup digest index makes this a single indexed
// read in both storage modes.
func (m *Manager) LookupByRawSecret(ctx context.Context, raw string) (*Record, error) {
	return m.store.GetByLookupDigest(ctx, LookupDigest(raw))
}

// GetStatus returns the blocked flag for a key ID, or ErrNotFound.
func (m *Manager) GetStatus(ctx context.Context, keyID string) (bool, error) {
	rec, err := m.store.GetByID(ctx, keyID)
	if err != nil {
		return false, err
	}
	return rec.Blocked, nil
}

// SetBlocked updates the blocked flag for a key ID.
func (m *Manager) SetBlocked(ctx context.Context, keyID string, blocked bool) error {
	if err := m.store.SetBlocked(ctx, keyID, blocked); err != nil {
		return err
	}
	m.logger.Info("api key block flag changed",
		observability.String("key_id", keyID),
		observability.Bool("blocked", blocked),
	)
	return nil
}

// HasKey returns the key ID held by the owner, or ErrNotFound.
func (m *Manager) HasKey(ctx context.Context, ownerID string) (string, error) {
	rec, err := m.store.GetByOwner(ctx, ownerID)
	if err != nil {
		return "", err
	}
	return rec.ID, nil
}

// Expiration returns the owner's key expiry, nil for non-expiring, or
// ErrNotFound.
func (m *Manager) Expiration(ctx context.Context, ownerID string) (*time.Time, error) {
	rec, err := m.store.GetByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return rec.ExpiresAt, nil
}

// Reveal recovers the owner's raw secret from an encrypted-mode
// digest. In hashed mode it returns ErrNotReversible.
func (m *Manager) Reveal(ctx context.Context, ownerID string) (string, error) {
	rec, err := m.store.GetByOwner(ctx, ownerID)
	if err != nil {
		return "", err
	}
	return m.currentStrategy().Recover(rec.Digest)
}

// RegenerateAllPreservingExpiry issues a fresh secret for every stored
// record, keeping each record's expiration. Returns how many keys were
// regenerated.
func (m *Manager) RegenerateAllPreservingExpiry(ctx context.Context) (int, error) {
	recs, err := m.store.ListAll(ctx)
	if err != nil {
		return 0, err
	}

	count := 0
	for i := range recs {
		if _, err := m.Generate(ctx, recs[i].OwnerID, recs[i].ExpiresAt); err != nil {
			return count, fmt.Errorf("regenerate owner %s: %w", recs[i].OwnerID, err)
		}
		count++
	}
	return count, nil
}

// GenerateForOwners issues keys in bulk, skipping owners who already
// hold one. Returns how many keys were created.
func (m *Manager) GenerateForOwners(ctx context.Context, ownerIDs []string, expiresAt *time.Time) (int, error) {
	count := 0
	for _, ownerID := range ownerIDs {
		_, err := m.HasKey(ctx, ownerID)
		if err == nil {
			continue
		}
		if !errors.Is(err, ErrNotFound) {
			return count, err
		}
		if _, err := m.Generate(ctx, ownerID, expiresAt); err != nil {
			return count, fmt.Errorf("generate owner %s: %w", ownerID, err)
		}
		count++
	}
	return count, nil
}

// RotateAndRegenerateAll compares the stored digest-strategy
// fingerprint with the active one. On mismatch every record is
// regenerated, since old digests are unreadable under the new key or
// mode, and the fingerprint is updated. Returns how many keys were
// regenerated; 0 means no rotation was detected.
func (m *Manager) RotateAndRegenerateAll(ctx context.Context) (int, error) {
	strategy := m.currentStrategy()
	current := strategy.Fingerprint()

	stored, err := m.store.GetState(ctx, fingerprintStateName)
	if err != nil {
		return 0, err
	}

	if stored == current {
		return 0, nil
	}

	if stored == "" {
		// First run: nothing stored under any previous key.
		if err := m.store.SetState(ctx, fingerprintStateName, current); err != nil {
			return 0, err
		}
		return 0, nil
	}

	m.logger.Warn("encryption key rotation detected, regenerating all keys",
		observability.String("mode", strategy.Name()),
	)

	count, err := m.RegenerateAllPreservingExpiry(ctx)
	if err != nil {
		return count, err
	}

	if err := m.store.SetState(ctx, fingerprintStateName, current); err != nil {
		return count, err
	}

	m.logger.Info("key rotation complete", observability.Int("regenerated", count))
	return count, nil
}
