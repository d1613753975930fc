package gate

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/apisentinel/sentinel/internal/guard"
	"github.com/apisentinel/sentinel/internal/guard/store"
	"github.com/apisentinel/sentinel/internal/identity"
	"github.com/apisentinel/sentinel/internal/keystore"
	"github.com/apisentinel/sentinel/internal/ledger"
)

type fixture struct {
	gate    *Gate
	keys    *keystore.Manager
	events  ledger.Ledger
	owners  *identity.MemoryProvider
	secrets map[string]string // ownerID -> raw secret
	counter store.Store
}

type fixtureConfig struct {
	policy       Policy
	rateLimit    int64
	failureLimit int64
}

func defaultPolicy() Policy {
	return Policy{
		HeaderName:   "X-API-KEY",
		AllowedPaths: []string{"/api/*"},
	}
}

func newFixture(t *testing.T, cfg fixtureConfig) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := sqlx.Connect("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	keyStore, err := keystore.NewSQLStore(ctx, db)
	require.NoError(t, err)
	keys := keystore.NewManager(keyStore, keystore.HashedMode())

	events, err := ledger.NewSQLLedger(ctx, db)
	require.NoError(t, err)

	counters := store.NewMemoryStore()
	t.Cleanup(func() { _ = counters.Close() })

	rate := guard.NewRateLimiter(cfg.rateLimit, time.Hour, counters, events, guard.WithRateCacheTTL(0))
	failures := guard.NewFailureGuard(cfg.failureLimit, time.Hour, counters, events, keys)

	owners := identity.NewMemoryProvider(
		identity.Owner{ID: "42", DisplayName: "Deep Thought", Active: true},
		identity.Owner{ID: "86", DisplayName: "Dormant", Active: false},
	)

	g, err := New(cfg.policy, keys, rate, failures, owners, events)
	require.NoError(t, err)

	f := &fixture{
		gate:    g,
		keys:    keys,
		events:  events,
		owners:  owners,
		secrets: make(map[string]string),
		counter: counters,
	}

	for _, ownerID := range []string{"42", "86"} {
		raw, err := keys.Generate(ctx, ownerID, nil)
		require.NoError(t, err)
		f.secrets[ownerID] = raw
	}

	return f
}

func request(secret, path, ip string) *Request {
	header := http.Header{}
	if secret != "" {
		header.Set("X-API-KEY", secret)
	}
	return &Request{
		ClientIP: ip,
		Path:     path,
		Header:   header,
		Query:    url.Values{},
	}
}

func (f *fixture) keyID(t *testing.T, ownerID string) string {
	t.Helper()
	id, err := f.keys.HasKey(context.Background(), ownerID)
	require.NoError(t, err)
	return id
}

func (f *fixture) eventCount(t *testing.T, keyID string, outcome ledger.Outcome) int64 {
	t.Helper()
	n, err := f.events.CountSince(context.Background(), keyID, outcome, time.Time{})
	require.NoError(t, err)
	return n
}

func TestAuthenticateAllowed(t *testing.T) {
	f := newFixture(t, fixtureConfig{policy: defaultPolicy()})
	ctx := context.Background()

	d := f.gate.Authenticate(ctx, request(f.secrets["42"], "/api/v1/things", "10.0.0.1"))
	assert.True(t, d.Allowed)
	assert.Equal(t, ReasonAllowed, d.Reason)
	assert.Equal(t, "42", d.OwnerID)
	assert.Equal(t, "Deep Thought", d.OwnerName)

	keyID := f.keyID(t, "42")
	assert.Equal(t, keyID, d.KeyID)
	assert.Equal(t, int64(1), f.eventCount(t, keyID, ledger.OutcomeSuccess))
	assert.Equal(t, int64(0), f.eventCount(t, keyID, ledger.OutcomeFailure))
}

func TestAuthenticateNotApplicable(t *testing.T) {
	f := newFixture(t, fixtureConfig{policy: defaultPolicy()})

	d := f.gate.Authenticate(context.Background(), request("", "/api/v1/things", "10.0.0.1"))
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonNotApplicable, d.Reason)
}

func TestAuthenticateNoKeyProvided(t *testing.T) {
	f := newFixture(t, fixtureConfig{policy: defaultPolicy()})

	req := request("", "/api/v1/things", "10.0.0.1")
	req.Header.Set("X-API-KEY", "")

	d := f.gate.Authenticate(context.Background(), req)
	assert.Equal(t, ReasonNoKeyProvided, d.Reason)
}

func TestAuthenticateQueryFallback(t *testing.T) {
	f := newFixture(t, fixtureConfig{policy: defaultPolicy()})

	req := &Request{
		ClientIP: "10.0.0.1",
		Path:     "/api/v1/things",
		Header:   http.Header{},
		Query:    url.Values{"api_key": {f.secrets["42"]}},
	}

	d := f.gate.Authenticate(context.Background(), req)
	assert.True(t, d.Allowed)
}

func TestAuthenticateBlacklist(t *testing.T) {
	policy := defaultPolicy()
	policy.BlacklistIPs = []string{"192.0.2.7"}
	f := newFixture(t, fixtureConfig{policy: policy})

	d := f.gate.Authenticate(context.Background(), request(f.secrets["42"], "/api/v1/things", "192.0.2.7"))
	assert.Equal(t, ReasonIPBlacklisted, d.Reason)

	// No key was identified: nothing is recorded.
	assert.Equal(t, int64(0), f.eventCount(t, f.keyID(t, "42"), ledger.OutcomeAny))
}

func TestAuthenticateWhitelist(t *testing.T) {
	policy := defaultPolicy()
	policy.WhitelistIPs = []string{"10.0.0.1"}
	f := newFixture(t, fixtureConfig{policy: policy})
	ctx := context.Background()

	d := f.gate.Authenticate(ctx, request(f.secrets["42"], "/api/v1/things", "10.0.0.2"))
	assert.Equal(t, ReasonIPNotWhitelisted, d.Reason)

	d = f.gate.Authenticate(ctx, request(f.secrets["42"], "/api/v1/things", "10.0.0.1"))
	assert.True(t, d.Allowed)
}

func TestAuthenticatePathNotAllowed(t *testing.T) {
	f := newFixture(t, fixtureConfig{policy: defaultPolicy()})

	d := f.gate.Authenticate(context.Background(), request(f.secrets["42"], "/other/api", "10.0.0.1"))
	assert.Equal(t, ReasonPathNotAllowed, d.Reason)
}

func TestAuthenticateInvalidKey(t *testing.T) {
	f := newFixture(t, fixtureConfig{policy: defaultPolicy()})

	d := f.gate.Authenticate(context.Background(), request("no-such-secret", "/api/v1/things", "10.0.0.1"))
	assert.Equal(t, ReasonInvalidKey, d.Reason)
}

func TestAuthenticateKeyBlocked(t *testing.T) {
	f := newFixture(t, fixtureConfig{policy: defaultPolicy()})
	ctx := context.Background()

	keyID := f.keyID(t, "42")
	require.NoError(t, f.keys.SetBlocked(ctx, keyID, true))

	d := f.gate.Authenticate(ctx, request(f.secrets["42"], "/api/v1/things", "10.0.0.1"))
	assert.Equal(t, ReasonKeyBlocked, d.Reason)
	assert.Equal(t, keyID, d.KeyID)

	// The attempt against a blocked key is recorded as a failure.
	assert.Equal(t, int64(1), f.eventCount(t, keyID, ledger.OutcomeFailure))
}

func TestAuthenticateKeyExpired(t *testing.T) {
	f := newFixture(t, fixtureConfig{policy: defaultPolicy()})
	ctx := context.Background()

	expired := time.Now().UTC().Add(-time.Hour)
	raw, err := f.keys.Generate(ctx, "42", &expired)
	require.NoError(t, err)

	d := f.gate.Authenticate(ctx, request(raw, "/api/v1/things", "10.0.0.1"))
	assert.Equal(t, ReasonKeyExpired, d.Reason)

	assert.Equal(t, int64(1), f.eventCount(t, f.keyID(t, "42"), ledger.OutcomeFailure))
}

func TestAuthenticateOwnerInactive(t *testing.T) {
	f := newFixture(t, fixtureConfig{policy: defaultPolicy()})
	ctx := context.Background()

	d := f.gate.Authenticate(ctx, request(f.secrets["86"], "/api/v1/things", "10.0.0.1"))
	assert.Equal(t, ReasonOwnerInactive, d.Reason)

	assert.Equal(t, int64(1), f.eventCount(t, f.keyID(t, "86"), ledger.OutcomeFailure))
}

func TestAuthenticateOwnerMissing(t *testing.T) {
	f := newFixture(t, fixtureConfig{policy: defaultPolicy()})
	ctx := context.Background()

	raw, err := f.keys.Generate(ctx, "ghost", nil)
	require.NoError(t, err)

	d := f.gate.Authenticate(ctx, request(raw, "/api/v1/things", "10.0.0.1"))
	assert.Equal(t, ReasonOwnerInactive, d.Reason)
}

func TestAuthenticateRateLimitBoundary(t *testing.T) {
	f := newFixture(t, fixtureConfig{policy: defaultPolicy(), rateLimit: 100})
	ctx := context.Background()
	keyID := f.keyID(t, "42")

	// 99 prior events: the 100th attempt still passes.
	for i := 0; i < 99; i++ {
		require.NoError(t, f.events.Record(ctx, keyID, ledger.OutcomeSuccess))
	}

	d := f.gate.Authenticate(ctx, request(f.secrets["42"], "/api/v1/things", "10.0.0.1"))
	assert.True(t, d.Allowed)

	// Now at 100: the 101st attempt is denied without a ledger write.
	d = f.gate.Authenticate(ctx, request(f.secrets["42"], "/api/v1/things", "10.0.0.1"))
	assert.Equal(t, ReasonRateLimited, d.Reason)
	assert.Equal(t, int64(100), f.eventCount(t, keyID, ledger.OutcomeAny))
}

func TestAuthenticateFailureGuardBlocksKey(t *testing.T) {
	f := newFixture(t, fixtureConfig{policy: defaultPolicy(), failureLimit: 3})
	ctx := context.Background()

	expired := time.Now().UTC().Add(-time.Hour)
	raw, err := f.keys.Generate(ctx, "42", &expired)
	require.NoError(t, err)
	keyID := f.keyID(t, "42")

	// Two expired attempts fail without blocking.
	for i := 0; i < 2; i++ {
		d := f.gate.Authenticate(ctx, request(raw, "/api/v1/things", "10.0.0.1"))
		assert.Equal(t, ReasonKeyExpired, d.Reason)
	}

	// The third failure crosses the threshold and blocks the key.
	d := f.gate.Authenticate(ctx, request(raw, "/api/v1/things", "10.0.0.1"))
	assert.Equal(t, ReasonKeyBlocked, d.Reason)

	blocked, err := f.keys.GetStatus(ctx, keyID)
	require.NoError(t, err)
	assert.True(t, blocked)

	// Later attempts see the blocked flag directly.
	d = f.gate.Authenticate(ctx, request(raw, "/api/v1/things", "10.0.0.1"))
	assert.Equal(t, ReasonKeyBlocked, d.Reason)
}

func TestAuthenticateRevokedKeyStopsMatching(t *testing.T) {
	f := newFixture(t, fixtureConfig{policy: defaultPolicy()})
	ctx := context.Background()

	require.NoError(t, f.keys.Revoke(ctx, "42"))

	d := f.gate.Authenticate(ctx, request(f.secrets["42"], "/api/v1/things", "10.0.0.1"))
	assert.Equal(t, ReasonInvalidKey, d.Reason)
}

type failingResolver struct{}

func (failingResolver) LookupByRawSecret(context.Context, string) (*keystore.Record, error) {
	return nil, errors.New("storage offline")
}

func TestAuthenticateBackendUnavailable(t *testing.T) {
	f := newFixture(t, fixtureConfig{policy: defaultPolicy()})

	g, err := New(defaultPolicy(), failingResolver{}, f.gate.rate, f.gate.failures, f.owners, f.events)
	require.NoError(t, err)

	d := g.Authenticate(context.Background(), request("anything", "/api/v1/things", "10.0.0.1"))
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonBackendUnavailable, d.Reason)
}

func TestUpdatePolicy(t *testing.T) {
	f := newFixture(t, fixtureConfig{policy: defaultPolicy()})
	ctx := context.Background()

	d := f.gate.Authenticate(ctx, request(f.secrets["42"], "/api/v1/things", "10.0.0.1"))
	require.True(t, d.Allowed)

	updated := defaultPolicy()
	updated.BlacklistIPs = []string{"10.0.0.1"}
	require.NoError(t, f.gate.UpdatePolicy(updated))

	d = f.gate.Authenticate(ctx, request(f.secrets["42"], "/api/v1/things", "10.0.0.1"))
	assert.Equal(t, ReasonIPBlacklisted, d.Reason)
}
