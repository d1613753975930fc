package gate

// Reason classifies a gate decision. Reasons are for audit logs and
// metrics only; callers surface a generic unauthorized response so an
// attacker cannot tell a blocked key from a missing one.
type Reason string

// Decision reasons.
const (
	// ReasonAllowed is the zero reason carried by allowed decisions.
	ReasonAllowed Reason = "allowed"

	// ReasonNotApplicable means the request carries no API key at all
	// and is not this gate's to judge.
	ReasonNotApplicable Reason = "not_applicable"

	ReasonIPBlacklisted      Reason = "ip_blacklisted"
	ReasonIPNotWhitelisted   Reason = "ip_not_whitelisted"
	ReasonPathNotAllowed     Reason = "path_not_allowed"
	ReasonNoKeyProvided      Reason = "no_key_provided"
	ReasonInvalidKey         Reason = "invalid_key"
	ReasonKeyBlocked         Reason = "key_blocked"
	ReasonKeyExpired         Reason = "key_expired"
	ReasonRateLimited        Reason = "rate_limited"
	ReasonOwnerInactive      Reason = "owner_inactive"
	ReasonBackendUnavailable Reason = "backend_unavailable"
)

func (r Reason) String() string {
	return string(r)
}
