// Package gate implements the authentication decision pipeline. Every
// inbound request is judged once; the outcome is either Allowed with
// the resolved owner or Denied with an audit reason.
package gate

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/apisentinel/sentinel/internal/identity"
	"github.com/apisentinel/sentinel/internal/keystore"
	"github.com/apisentinel/sentinel/internal/ledger"
	"github.com/apisentinel/sentinel/internal/observability"
)

// Request is the slice of an HTTP request the gate judges.
type Request struct {
	ClientIP string
	Path     string
	Header   http.Header
	Query    url.Values
}

// Decision is the gate's verdict on one request.
type Decision struct {
	Allowed   bool
	Reason    Reason
	KeyID     string
	OwnerID   string
	OwnerName string
}

// Policy is the per-request authentication policy, rebuilt on config
// reload.
type Policy struct {
	// HeaderName is the request header carrying the API key.
	HeaderName string

	// BlacklistIPs are denied outright.
	BlacklistIPs []string

	// WhitelistIPs, when non-empty, are the only IPs admitted.
	WhitelistIPs []string

	// AllowedPaths restricts which paths keys may use. Empty allows
	// all paths.
	AllowedPaths []string
}

// compiledPolicy is a Policy prepared for per-request checks.
type compiledPolicy struct {
	extractor *Extractor
	blacklist map[string]struct{}
	whitelist map[string]struct{}
	paths     *PathMatcher
}

func compilePolicy(p Policy) (*compiledPolicy, error) {
	paths, err := NewPathMatcher(p.AllowedPaths)
	if err != nil {
		return nil, err
	}

	cp := &compiledPolicy{
		extractor: NewExtractor(p.HeaderName),
		blacklist: make(map[string]struct{}, len(p.BlacklistIPs)),
		whitelist: make(map[string]struct{}, len(p.WhitelistIPs)),
		paths:     paths,
	}
	for _, ip := range p.BlacklistIPs {
		cp.blacklist[ip] = struct{}{}
	}
	for _, ip := range p.WhitelistIPs {
		cp.whitelist[ip] = struct{}{}
	}
	return cp, nil
}

// KeyResolver resolves presented secrets to key records.
type KeyResolver interface {
	LookupByRawSecret(ctx context.Context, raw string) (*keystore.Record, error)
}

// RateChecker answers whether a key exhausted its request budget.
type RateChecker interface {
	Exceeded(ctx context.Context, keyID string) (bool, error)
}

// FailureRecorder appends a failure for a key and reports whether the
// failure newly blocked it.
type FailureRecorder interface {
	RecordFailureAndCheck(ctx context.Context, keyID string) (bool, error)
}

// Gate runs the decision pipeline.
type Gate struct {
	keys     KeyResolver
	rate     RateChecker
	failures FailureRecorder
	owners   identity.Provider
	events   ledger.Ledger
	logger   observability.Logger
	now      func() time.Time

	policy atomic.Pointer[compiledPolicy]
}

// Option is a functional option for configuring the Gate.
type Option func(*Gate)

// WithGateLogger sets the logger for the gate.
func WithGateLogger(logger observability.Logger) Option {
	return func(g *Gate) {
		g.logger = logger
	}
}

// WithGateClock overrides the time source, for tests.
func WithGateClock(now func() time.Time) Option {
	return func(g *Gate) {
		g.now = now
	}
}

// New creates a Gate with the given policy and collaborators.
func New(
	policy Policy,
	keys KeyResolver,
	rate RateChecker,
	failures FailureRecorder,
	owners identity.Provider,
	events ledger.Ledger,
	opts ...Option,
) (*Gate, error) {
	compiled, err := compilePolicy(policy)
	if err != nil {
		return nil, err
	}

	g := &Gate{
		keys:     keys,
		rate:     rate,
		failures: failures,
		owners:   owners,
		events:   events,
		logger:   observability.NopLogger(),
		now:      time.Now,
	}
	g.policy.Store(compiled)
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// UpdatePolicy swaps the policy atomically; in-flight requests finish
// under the policy they started with.
func (g *Gate) UpdatePolicy(policy Policy) error {
	compiled, err := compilePolicy(policy)
	if err != nil {
		return err
	}
	g.policy.Store(compiled)
	g.logger.Info("authentication policy updated")
	return nil
}

// Authenticate judges one request. The pipeline is strictly ordered
// and short-circuits on the first deny; ledger writes happen only for
// an identified key (blocked, expired, owner-inactive, success).
// Infrastructure failures deny with BackendUnavailable, never allow.
func (g *Gate) Authenticate(ctx context.Context, req *Request) Decision {
	start := g.now()
	decision := g.decide(ctx, req)
	authDecisionDuration.Observe(g.now().Sub(start).Seconds())
	authDecisionsTotal.WithLabelValues(decision.Reason.String()).Inc()

	if !decision.Allowed && decision.Reason != ReasonNotApplicable {
		g.logger.Info("authentication denied",
			observability.String("reason", decision.Reason.String()),
			observability.String("client_ip", req.ClientIP),
			observability.String("path", req.Path),
			observability.String("key_id", decision.KeyID),
		)
	}

	return decision
}

func (g *Gate) decide(ctx context.Context, req *Request) Decision {
	p := g.policy.Load()

	if !p.extractor.Applicable(req) {
		return Decision{Reason: ReasonNotApplicable}
	}

	if _, ok := p.blacklist[req.ClientIP]; ok {
		return Decision{Reason: ReasonIPBlacklisted}
	}

	if len(p.whitelist) > 0 {
		if _, ok := p.whitelist[req.ClientIP]; !ok {
			return Decision{Reason: ReasonIPNotWhitelisted}
		}
	}

	if !p.paths.Matches(req.Path) {
		return Decision{Reason: ReasonPathNotAllowed}
	}

	raw := p.extractor.Extract(req)
	if raw == "" {
		return Decision{Reason: ReasonNoKeyProvided}
	}

	rec, err := g.keys.LookupByRawSecret(ctx, raw)
	if errors.Is(err, keystore.ErrNotFound) {
		return Decision{Reason: ReasonInvalidKey}
	}
	if err != nil {
		return g.unavailable(req, "key lookup failed", err)
	}

	if rec.Blocked {
		if _, err := g.failures.RecordFailureAndCheck(ctx, rec.ID); err != nil {
			return g.unavailable(req, "failure accounting failed", err)
		}
		return Decision{Reason: ReasonKeyBlocked, KeyID: rec.ID}
	}

	if rec.Expired(g.now()) {
		if newlyBlocked, err := g.failures.RecordFailureAndCheck(ctx, rec.ID); err != nil {
			return g.unavailable(req, "failure accounting failed", err)
		} else if newlyBlocked {
			return Decision{Reason: ReasonKeyBlocked, KeyID: rec.ID}
		}
		return Decision{Reason: ReasonKeyExpired, KeyID: rec.ID}
	}

	exceeded, err := g.rate.Exceeded(ctx, rec.ID)
	if err != nil {
		return g.unavailable(req, "rate check failed", err)
	}
	if exceeded {
		// Read-only check over prior events: not an attempt of its
		// own, so nothing is recorded.
		return Decision{Reason: ReasonRateLimited, KeyID: rec.ID}
	}

	owner, err := g.owners.ResolveOwner(ctx, rec.OwnerID)
	if err != nil && !errors.Is(err, identity.ErrOwnerNotFound) {
		return g.unavailable(req, "owner resolution failed", err)
	}
	if owner == nil || !owner.Active {
		if newlyBlocked, ferr := g.failures.RecordFailureAndCheck(ctx, rec.ID); ferr != nil {
			return g.unavailable(req, "failure accounting failed", ferr)
		} else if newlyBlocked {
			return Decision{Reason: ReasonKeyBlocked, KeyID: rec.ID}
		}
		return Decision{Reason: ReasonOwnerInactive, KeyID: rec.ID}
	}

	if err := g.events.Record(ctx, rec.ID, ledger.OutcomeSuccess); err != nil {
		return g.unavailable(req, "success accounting failed", err)
	}

	return Decision{
		Allowed:   true,
		Reason:    ReasonAllowed,
		KeyID:     rec.ID,
		OwnerID:   rec.OwnerID,
		OwnerName: owner.DisplayName,
	}
}

func (g *Gate) unavailable(req *Request, msg string, err error) Decision {
	g.logger.Error(msg,
		observability.String("client_ip", req.ClientIP),
		observability.String("path", req.Path),
		observability.Error(err),
	)
	return Decision{Reason: ReasonBackendUnavailable}
}
