package controller

import (
	"context"
	"errors"

	"genascope/internal/audit"
	"genascope/internal/session"
	"genascope/internal/token"
)

// Restore loads the session the first time this process sees it. A valid
// record authenticates immediately from the cached identity; a background
// call to the backend then refreshes the identity. That call failing never
// ends the session. Later calls return the current view.
func (c *Controller) Restore(ctx context.Context, sid string) View {
	now := c.now(ctx)
	c.mu.Lock()
	e := c.entryLocked(sid, now)
	if e.state != StateUninitialized || e.restoring != nil {
		v := e.view(sid)
		c.mu.Unlock()
		return v
	}
	e.state = StateRestoring
	e.generation++
	gen := e.generation
	done := make(chan struct{})
	e.restoring = done
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		e.restoring = nil
		c.mu.Unlock()
		close(done)
	}()

	rec, err := c.store.Load(ctx, sid)
	switch {
	case errors.Is(err, session.ErrNotFound):
		return c.finishRestore(sid, gen, StateUnauthenticated)
	case err != nil:
		// Leave the session uninitialized so the next request retries.
		c.logger.ErrorContext(ctx, "session restore failed",
			"session_id", sid,
			"error", err,
		)
		v := c.finishRestore(sid, gen, StateUninitialized)
		v.State = StateUnauthenticated
		return v
	}

	info, err := inspect(rec.Token)
	if err != nil {
		// Nothing can be done with the record; drop it so the browser signs in again.
		c.logger.WarnContext(ctx, "stored session token malformed",
			"session_id", sid,
			"error", err,
		)
		if clearErr := c.store.Clear(ctx, sid); clearErr != nil {
			c.logger.ErrorContext(ctx, "failed to clear malformed session",
				"session_id", sid,
				"error", clearErr,
			)
		}
		return c.finishRestore(sid, gen, StateUnauthenticated)
	}
	c.mu.Lock()
	if e.generation != gen {
		v := e.view(sid)
		c.mu.Unlock()
		return v
	}
	e.state = StateAuthenticated
	e.token = rec.Token
	id := rec.Identity
	e.identity = &id
	e.accessType = info.accessType
	e.expiresAt = info.expiresAt
	e.syncedAt = now
	c.mu.Unlock()

	if info.expiredAt(now) {
		c.expire(ctx, sid, gen)
		return c.current(sid)
	}

	c.mu.Lock()
	if e.generation == gen && info.accessType != token.AccessSimplified {
		c.armTimerLocked(sid, e)
	}
	c.updateActiveLocked()
	v := e.view(sid)
	c.mu.Unlock()

	if info.accessType != token.AccessSimplified {
		c.revalidate(sid, gen, rec.Token)
	}
	return v
}

func (c *Controller) finishRestore(sid string, gen uint64, state State) View {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.sessions[sid]
	if e.generation == gen {
		e.reset()
		e.state = state
	}
	return e.view(sid)
}

// Resolve returns the session view for guards. It restores on first sight,
// reloads after a change from elsewhere, and detects local token expiry.
// While another restore is in flight it returns a Restoring view.
func (c *Controller) Resolve(ctx context.Context, sid string) View {
	now := c.now(ctx)
	c.mu.Lock()
	e, ok := c.sessions[sid]
	if !ok || (e.state == StateUninitialized && e.restoring == nil) {
		c.mu.Unlock()
		return c.Restore(ctx, sid)
	}
	e.seen = now
	if e.stale && e.restoring == nil {
		c.mu.Unlock()
		return c.reload(ctx, sid)
	}
	if e.state == StateAuthenticated && e.lapsed(now) {
		gen := e.generation
		c.mu.Unlock()
		c.expire(ctx, sid, gen)
		return c.current(sid)
	}
	v := e.view(sid)
	c.mu.Unlock()
	return v
}

// Await blocks until any in-flight restore of sid finishes, then resolves.
func (c *Controller) Await(ctx context.Context, sid string) View {
	c.mu.Lock()
	var done chan struct{}
	if e, ok := c.sessions[sid]; ok {
		done = e.restoring
	}
	c.mu.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return c.current(sid)
		}
	}
	return c.Resolve(ctx, sid)
}

func (c *Controller) current(sid string) View {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.sessions[sid]; ok {
		return e.view(sid)
	}
	return View{SessionID: sid, State: StateUninitialized}
}

// reload re-reads a record another writer changed. It does not call the
// backend: the writer already did.
func (c *Controller) reload(ctx context.Context, sid string) View {
	now := c.now(ctx)
	c.mu.Lock()
	e := c.entryLocked(sid, now)
	e.stale = false
	gen := e.generation
	c.mu.Unlock()

	rec, err := c.store.Load(ctx, sid)

	c.mu.Lock()
	if e.generation != gen {
		v := e.view(sid)
		c.mu.Unlock()
		return v
	}
	switch {
	case errors.Is(err, session.ErrNotFound):
		c.stopTimerLocked(e)
		e.generation++
		e.reset()
	case err != nil:
		c.logger.WarnContext(ctx, "session reload failed", "session_id", sid, "error", err)
	case rec.Token == e.token:
		if e.state == StateAuthenticated {
			id := rec.Identity
			e.identity = &id
		}
	default:
		info, err := inspect(rec.Token)
		if err != nil {
			c.logger.WarnContext(ctx, "reloaded session token malformed", "session_id", sid, "error", err)
			c.stopTimerLocked(e)
			e.generation++
			e.reset()
			break
		}
		id := rec.Identity
		e.generation++
		e.state = StateAuthenticated
		e.token = rec.Token
		e.identity = &id
		e.accessType = info.accessType
		e.expiresAt = info.expiresAt
		e.expired = false
		if info.accessType == token.AccessSimplified {
			c.stopTimerLocked(e)
		} else {
			c.armTimerLocked(sid, e)
		}
	}
	e.syncedAt = now
	c.updateActiveLocked()
	c.mu.Unlock()

	return c.Resolve(ctx, sid)
}

// expire ends a session whose token passed its expiry. Regular records are
// cleared; simplified records are kept so the expiry notice can render until
// housekeeping removes them.
func (c *Controller) expire(ctx context.Context, sid string, gen uint64) {
	c.mu.Lock()
	e, ok := c.sessions[sid]
	if !ok || e.generation != gen || e.state != StateAuthenticated {
		c.mu.Unlock()
		return
	}
	simplified := e.accessType == token.AccessSimplified
	userID := e.identity.ID
	accessType := e.accessType
	expiresAt := e.expiresAt

	c.stopTimerLocked(e)
	e.generation++
	e.reset()
	if simplified {
		e.expired = true
		e.accessType = token.AccessSimplified
		e.expiresAt = expiresAt
	}
	c.updateActiveLocked()
	c.mu.Unlock()

	if !simplified {
		if err := c.store.Clear(ctx, sid); err != nil {
			c.logger.ErrorContext(ctx, "failed to clear expired session",
				"session_id", sid,
				"error", err,
			)
		}
	}
	c.metrics.IncLogout("expired")
	c.audit.Log(ctx, audit.ActionSessionExpired, audit.Event{
		SessionID:  sid,
		UserID:     userID,
		AccessType: string(accessType),
		Reason:     "token_expired",
	})
}

// revalidate refreshes the cached identity in the background. The result is
// dropped if the session moved on, and the CAS write drops it if the stored
// token changed.
func (c *Controller) revalidate(sid string, gen uint64, raw string) {
	c.goBackground(func(base context.Context) {
		ctx, cancel := context.WithTimeout(base, c.revalidateTimeout)
		defer cancel()

		me, err := c.backend.Me(ctx, raw)
		if err != nil {
			c.metrics.IncRevalidation("failed")
			c.logger.WarnContext(ctx, "session revalidation failed, keeping cached identity",
				"session_id", sid,
				"error", err,
			)
			return
		}
		identity := identityFromMe(me)

		if !c.isCurrent(sid, gen) {
			c.metrics.IncRevalidation("stale")
			return
		}
		if err := c.store.UpdateIdentity(ctx, sid, raw, identity); err != nil {
			if errors.Is(err, session.ErrStale) {
				c.metrics.IncRevalidation("stale")
				return
			}
			c.metrics.IncRevalidation("failed")
			c.logger.WarnContext(ctx, "failed to store revalidated identity",
				"session_id", sid,
				"error", err,
			)
			return
		}

		c.mu.Lock()
		if e, ok := c.sessions[sid]; ok && e.generation == gen && e.state == StateAuthenticated {
			e.identity = &identity
			e.syncedAt = c.now(ctx)
		}
		c.mu.Unlock()
		c.metrics.IncRevalidation("ok")
	})
}

func (c *Controller) isCurrent(sid string, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.sessions[sid]
	return ok && e.generation == gen && e.state == StateAuthenticated
}
