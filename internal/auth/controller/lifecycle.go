package controller

import (
	"context"
	"errors"
	"time"

	"genascope/internal/audit"
	"genascope/internal/session"
	"genascope/internal/token"
	dErrors "genascope/pkg/domain-errors"
)

// ActivityKind is a user interaction that counts as activity.
type ActivityKind string

const (
	ActivityPointer  ActivityKind = "pointer"
	ActivityKeyboard ActivityKind = "keyboard"
	ActivityScroll   ActivityKind = "scroll"
	ActivityTouch    ActivityKind = "touch"
)

func (k ActivityKind) Valid() bool {
	switch k {
	case ActivityPointer, ActivityKeyboard, ActivityScroll, ActivityTouch:
		return true
	}
	return false
}

// Logout ends the session. It is idempotent: logging out an already logged
// out session clears the store again and succeeds.
func (c *Controller) Logout(ctx context.Context, sid string) error {
	return c.logout(ctx, sid, "explicit")
}

// Retire clears a session whose record has moved to a new ID after sign-in.
func (c *Controller) Retire(ctx context.Context, sid string) error {
	return c.logout(ctx, sid, "rotated")
}

func (c *Controller) logout(ctx context.Context, sid, reason string) error {
	c.mu.Lock()
	e := c.entryLocked(sid, c.now(ctx))
	wasActive := e.state == StateAuthenticated || e.expired
	var userID string
	if e.identity != nil {
		userID = e.identity.ID
	}
	accessType := e.accessType
	c.stopTimerLocked(e)
	e.generation++
	gen := e.generation
	e.state = StateLoggingOut
	c.mu.Unlock()

	err := c.store.Clear(ctx, sid)

	c.mu.Lock()
	if e.generation == gen {
		e.reset()
	}
	c.updateActiveLocked()
	c.mu.Unlock()

	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to clear session")
	}
	if wasActive {
		c.metrics.IncLogout(reason)
		c.audit.Log(ctx, audit.ActionLogout, audit.Event{
			SessionID:  sid,
			UserID:     userID,
			AccessType: string(accessType),
			Reason:     reason,
		})
	}
	return nil
}

// Touch records a qualifying interaction and rearms the inactivity timer of a
// regular authenticated session. Other sessions are unaffected.
func (c *Controller) Touch(ctx context.Context, sid string, kind ActivityKind) error {
	if !kind.Valid() {
		return dErrors.New(dErrors.CodeValidation, "unsupported activity kind")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.sessions[sid]
	if !ok {
		return nil
	}
	e.seen = c.now(ctx)
	if e.state == StateAuthenticated && e.accessType != token.AccessSimplified {
		c.armTimerLocked(sid, e)
	}
	return nil
}

// armTimerLocked replaces the session's inactivity timer. The generation
// captured by the callback makes a superseded timer a no-op.
func (c *Controller) armTimerLocked(sid string, e *entry) {
	if c.closed {
		return
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timerGen++
	gen := e.timerGen
	e.timer = c.afterFunc(c.inactivity, func() { c.onIdle(sid, gen) })
}

func (c *Controller) stopTimerLocked(e *entry) {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.timerGen++
}

func (c *Controller) onIdle(sid string, gen uint64) {
	c.mu.Lock()
	e, ok := c.sessions[sid]
	if !ok || c.closed || e.timerGen != gen || e.state != StateAuthenticated {
		c.mu.Unlock()
		return
	}
	e.timer = nil
	e.timerGen++
	c.mu.Unlock()

	c.goBackground(func(base context.Context) {
		ctx, cancel := context.WithTimeout(base, idleLogoutTimeout)
		defer cancel()
		if err := c.logout(ctx, sid, "idle"); err != nil {
			c.logger.ErrorContext(ctx, "idle logout failed", "session_id", sid, "error", err)
		}
	})
}

// RefreshIdentity is the only way profile edits reach the session. The write
// is compare-and-set against the current token and announced on the change
// feed.
func (c *Controller) RefreshIdentity(ctx context.Context, sid string, upd session.IdentityUpdate) (*session.Identity, error) {
	c.mu.Lock()
	e, ok := c.sessions[sid]
	if !ok || e.state != StateAuthenticated {
		c.mu.Unlock()
		return nil, dErrors.New(dErrors.CodeUnauthorized, "no active session")
	}
	raw := e.token
	gen := e.generation
	merged := e.identity.Apply(upd)
	c.mu.Unlock()

	if err := c.store.UpdateIdentity(ctx, sid, raw, merged); err != nil {
		if errors.Is(err, session.ErrStale) {
			return nil, dErrors.Wrap(err, dErrors.CodeConflict, "session changed, reload and retry")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to update identity")
	}

	c.mu.Lock()
	if e.generation == gen {
		e.identity = &merged
		e.syncedAt = c.now(ctx)
	}
	c.mu.Unlock()

	c.audit.Log(ctx, audit.ActionIdentityUpdated, audit.Event{SessionID: sid, UserID: merged.ID})
	return &merged, nil
}

// Run applies the store's change feed until ctx is cancelled: a clear from
// another tab or replica logs the session out here, other writes mark it for
// reload.
func (c *Controller) Run(ctx context.Context) error {
	for {
		changes, err := c.store.Watch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.ErrorContext(ctx, "session change feed unavailable", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(watchRetryDelay):
				continue
			}
		}
		for change := range changes {
			c.apply(change)
		}
		if ctx.Err() != nil {
			return nil
		}
		c.logger.WarnContext(ctx, "session change feed closed, resubscribing")
	}
}

func (c *Controller) apply(change session.Change) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.sessions[change.SessionID]
	if !ok {
		return
	}
	switch change.Kind {
	case session.ChangeCleared:
		if e.state == StateAuthenticated || e.expired {
			c.stopTimerLocked(e)
			e.generation++
			e.reset()
			c.updateActiveLocked()
		}
	case session.ChangeSaved, session.ChangeIdentity:
		if change.At.After(e.syncedAt) {
			e.stale = true
		}
	}
}

// Sweep expires tracked sessions whose token lapsed and forgets idle
// unauthenticated entries. It returns the number of sessions expired.
func (c *Controller) Sweep(ctx context.Context, now time.Time) int {
	type target struct {
		sid string
		gen uint64
	}
	var expired []target

	c.mu.Lock()
	for sid, e := range c.sessions {
		switch {
		case e.state == StateAuthenticated && e.lapsed(now):
			expired = append(expired, target{sid, e.generation})
		case (e.state == StateUnauthenticated || e.state == StateUninitialized) &&
			e.restoring == nil && now.Sub(e.seen) > c.inactivity:
			delete(c.sessions, sid)
		}
	}
	c.mu.Unlock()

	for _, t := range expired {
		c.expire(ctx, t.sid, t.gen)
	}
	return len(expired)
}

// Tracked reports how many sessions this replica holds state for.
func (c *Controller) Tracked() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}
