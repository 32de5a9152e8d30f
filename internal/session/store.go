// Package session persists the per-browser-session token and identity and
// publishes a change feed for every write.
package session

import (
	"context"
	"time"

	"genascope/internal/token"
	"genascope/pkg/platform/sentinel"
)

var (
	// ErrNotFound is returned when either entry is absent or the identity is corrupt.
	ErrNotFound = sentinel.ErrNotFound
	// ErrStale is returned by UpdateIdentity when the stored token changed.
	ErrStale = sentinel.ErrStale
)

// Store owns the persisted entries. The auth controller is its only writer.
//
// Error contract:
//   - ErrNotFound when the session has no complete record
//   - ErrStale when a compare-and-set lost to a newer write
//   - wrapped infrastructure errors otherwise
type Store interface {
	Save(ctx context.Context, sessionID, rawToken string, identity Identity) error
	Load(ctx context.Context, sessionID string) (*Record, error)
	UpdateIdentity(ctx context.Context, sessionID, expectedToken string, identity Identity) error
	Clear(ctx context.Context, sessionID string) error
	Watch(ctx context.Context) (<-chan Change, error)
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

const (
	defaultRetentionGrace = time.Hour
	defaultTTL            = 24 * time.Hour
	subscriberBuffer      = 32
)

// retention is the housekeeping lifetime for a record. Expiry itself is
// logical and decided from the token; the grace keeps expired simplified
// sessions around long enough to render their notice.
func retention(rawToken string, now time.Time, grace, fallback time.Duration) time.Duration {
	remaining, ok := token.RemainingLifetime(rawToken, now)
	if !ok {
		return fallback
	}
	return remaining + grace
}
