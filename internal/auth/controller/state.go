package controller

import (
	"time"

	"genascope/internal/session"
	"genascope/internal/token"
)

type State int

const (
	StateUninitialized State = iota
	StateRestoring
	StateAuthenticated
	StateUnauthenticated
	StateLoggingOut
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateRestoring:
		return "restoring"
	case StateAuthenticated:
		return "authenticated"
	case StateUnauthenticated:
		return "unauthenticated"
	case StateLoggingOut:
		return "logging_out"
	default:
		return "unknown"
	}
}

// View is a read-only snapshot of one session, consumed by guards, handlers
// and the proxy.
type View struct {
	SessionID  string
	State      State
	Identity   *session.Identity
	AccessType token.AccessType
	// ExpiresAt is zero when the token carries no readable expiry.
	ExpiresAt time.Time
	// Expired marks a session whose token is present but past expiry. Only
	// simplified sessions stay in this state; regular ones are cleared.
	Expired bool
	// Token is the raw bearer, attached by the proxy. Never log it.
	Token string
}

func (v View) Authenticated() bool {
	return v.State == StateAuthenticated && v.Identity != nil
}

// Pending reports whether a restore has not produced a decision yet.
func (v View) Pending() bool {
	return v.State == StateUninitialized || v.State == StateRestoring
}

func (v View) IsSimplified() bool {
	return v.AccessType == token.AccessSimplified
}

func (v View) Role() token.Role {
	if v.Identity == nil {
		return ""
	}
	return v.Identity.Role
}

// HasRole reports whether the session's role is one of roles.
func (v View) HasRole(roles ...token.Role) bool {
	return v.Role().In(roles...)
}

// Remaining returns the time left on the token; ok is false without expiry.
func (v View) Remaining(now time.Time) (time.Duration, bool) {
	return token.RemainingUntil(v.ExpiresAt, now)
}

type entry struct {
	state      State
	token      string
	identity   *session.Identity
	accessType token.AccessType
	expiresAt  time.Time
	expired    bool

	// generation changes whenever the session is replaced or ended; late
	// results carrying an older generation are dropped.
	generation uint64

	timer    stopper
	timerGen uint64

	restoring chan struct{}
	// stale is set when another replica or tab wrote the record after syncedAt.
	stale    bool
	syncedAt time.Time
	seen     time.Time
}

func (e *entry) view(sid string) View {
	v := View{
		SessionID:  sid,
		State:      e.state,
		AccessType: e.accessType,
		ExpiresAt:  e.expiresAt,
		Expired:    e.expired,
	}
	if e.state == StateAuthenticated {
		id := *e.identity
		v.Identity = &id
		v.Token = e.token
	}
	return v
}

// lapsed applies the codec's expiry rule to the cached exp.
func (e *entry) lapsed(now time.Time) bool {
	left, ok := token.RemainingUntil(e.expiresAt, now)
	return ok && left == 0
}

func (e *entry) reset() {
	e.state = StateUnauthenticated
	e.token = ""
	e.identity = nil
	e.accessType = ""
	e.expiresAt = time.Time{}
	e.expired = false
}

// tokenInfo is what the controller reads from a token. claims is nil for
// opaque bearers, which are regular sessions without a client-visible expiry.
type tokenInfo struct {
	claims     *token.Claims
	accessType token.AccessType
	expiresAt  time.Time
}

// inspect reads raw through the codec. Only opaque tokens are exempt from
// decoding; a JWT-shaped token that fails to decode is an error.
func inspect(raw string) (tokenInfo, error) {
	c, err := token.Decode(raw)
	if err != nil {
		if token.IsOpaque(raw) {
			return tokenInfo{accessType: token.AccessRegular}, nil
		}
		return tokenInfo{}, err
	}
	return tokenInfo{claims: c, accessType: c.AccessType, expiresAt: c.ExpiresAt}, nil
}

// expiredAt applies the codec's expiry rule to tokens that carry exp. Tokens
// without one never lapse on the client side.
func (t tokenInfo) expiredAt(now time.Time) bool {
	return t.claims != nil && t.claims.HasExpiry() && t.claims.Expired(now)
}
