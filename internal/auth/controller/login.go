package controller

import (
	"context"
	"strings"
	"time"

	"genascope/internal/audit"
	"genascope/internal/backend"
	"genascope/internal/session"
	"genascope/internal/token"
	dErrors "genascope/pkg/domain-errors"
)

// Login exchanges credentials for a token, fetches the identity behind it and
// persists both. Credential rejection leaves the store untouched; transport
// failures leave all state untouched. There is no automatic retry.
func (c *Controller) Login(ctx context.Context, sid, email, password string) (*session.Identity, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "email and password are required")
	}
	start := time.Now()

	tok, err := c.backend.Token(ctx, email, password)
	if err != nil {
		return nil, c.loginFailed(ctx, sid, token.AccessRegular, err)
	}

	me, err := c.backend.Me(ctx, tok.AccessToken)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeUnauthorized) || dErrors.HasCode(err, dErrors.CodeForbidden) {
			// Wrap keeps the inner code, so build the error directly.
			err = &dErrors.Error{Code: dErrors.CodeInvalidCredentials, Message: "incorrect email or password", Err: err}
		}
		return nil, c.loginFailed(ctx, sid, token.AccessRegular, err)
	}

	identity := identityFromMe(me)
	info, err := inspect(tok.AccessToken)
	if err != nil {
		return nil, c.loginFailed(ctx, sid, token.AccessRegular, err)
	}
	if info.expiredAt(c.now(ctx)) {
		return nil, c.loginFailed(ctx, sid, token.AccessRegular,
			dErrors.New(dErrors.CodeMalformedToken, "backend issued an already expired token"))
	}

	if err := c.store.Save(ctx, sid, tok.AccessToken, identity); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist session")
	}
	c.authenticate(ctx, sid, tok.AccessToken, identity, info)

	c.metrics.ObserveLogin(time.Since(start).Seconds())
	c.metrics.IncLogin(string(info.accessType), "ok")
	c.audit.Log(ctx, audit.ActionLoginSucceeded, audit.Event{
		SessionID:  sid,
		UserID:     identity.ID,
		Email:      identity.Email,
		AccessType: string(info.accessType),
	})
	return &identity, nil
}

// StartSimplified exchanges invite-page details for a time-boxed patient
// session. The token must be marked simplified and expire within the
// configured bound; no inactivity timer is armed.
func (c *Controller) StartSimplified(ctx context.Context, sid string, req backend.SimplifiedAccessRequest) (*session.Identity, error) {
	if strings.TrimSpace(req.InviteToken) == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "invite token is required")
	}

	tok, err := c.backend.SimplifiedAccess(ctx, req)
	if err != nil {
		return nil, c.loginFailed(ctx, sid, token.AccessSimplified, err)
	}

	claims, err := token.Decode(tok.AccessToken)
	if err != nil {
		return nil, c.loginFailed(ctx, sid, token.AccessSimplified, err)
	}
	now := c.now(ctx)
	switch {
	case !claims.IsSimplified():
		err = dErrors.New(dErrors.CodeMalformedToken, "simplified access token is not marked simplified")
	case !claims.HasExpiry():
		err = dErrors.New(dErrors.CodeMalformedToken, "simplified access token has no expiry")
	case claims.Expired(now):
		err = dErrors.New(dErrors.CodeSessionExpired, "your access link has expired")
	case claims.ExpiresAt.Sub(now) > c.simplifiedMax:
		err = dErrors.New(dErrors.CodeMalformedToken, "simplified access token outlives the allowed session length")
	}
	if err != nil {
		return nil, c.loginFailed(ctx, sid, token.AccessSimplified, err)
	}

	identity := identityFromClaims(claims, req)
	if err := c.store.Save(ctx, sid, tok.AccessToken, identity); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to persist session")
	}
	c.authenticate(ctx, sid, tok.AccessToken, identity, tokenInfo{
		claims:     claims,
		accessType: token.AccessSimplified,
		expiresAt:  claims.ExpiresAt,
	})

	c.metrics.IncLogin(string(token.AccessSimplified), "ok")
	c.audit.Log(ctx, audit.ActionSimplifiedStarted, audit.Event{
		SessionID:  sid,
		UserID:     identity.ID,
		AccessType: string(token.AccessSimplified),
	})
	return &identity, nil
}

// VerifyInvite checks an invite link before the patient submits details.
func (c *Controller) VerifyInvite(ctx context.Context, inviteToken string) (*backend.InviteVerification, error) {
	if strings.TrimSpace(inviteToken) == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "invite token is required")
	}
	return c.backend.VerifyInvite(ctx, inviteToken)
}

// loginFailed records a failed attempt. Only credential rejections touch
// session state, and never an already authenticated session.
func (c *Controller) loginFailed(ctx context.Context, sid string, accessType token.AccessType, err error) error {
	code := dErrors.CodeOf(err)
	c.metrics.IncLogin(string(accessType), string(code))

	switch code {
	case dErrors.CodeInvalidCredentials, dErrors.CodeMalformedToken, dErrors.CodeSessionExpired:
		c.mu.Lock()
		e := c.entryLocked(sid, c.now(ctx))
		if e.state != StateAuthenticated {
			e.reset()
		}
		c.mu.Unlock()

		action := audit.ActionLoginFailed
		if accessType == token.AccessSimplified {
			action = audit.ActionSimplifiedDenied
		}
		c.audit.Log(ctx, action, audit.Event{
			SessionID:  sid,
			AccessType: string(accessType),
			Reason:     string(code),
		})
	default:
		c.logger.WarnContext(ctx, "login attempt failed",
			"session_id", sid,
			"access_type", accessType,
			"code", code,
			"error", err,
		)
	}
	return err
}

// authenticate installs a fresh session under a new generation and arms the
// inactivity timer for regular sessions.
func (c *Controller) authenticate(ctx context.Context, sid, raw string, identity session.Identity, info tokenInfo) {
	now := c.now(ctx)
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entryLocked(sid, now)
	e.generation++
	e.state = StateAuthenticated
	e.token = raw
	e.identity = &identity
	e.accessType = info.accessType
	e.expiresAt = info.expiresAt
	e.expired = false
	e.stale = false
	e.syncedAt = now

	if info.accessType == token.AccessSimplified {
		c.stopTimerLocked(e)
	} else {
		c.armTimerLocked(sid, e)
	}
	c.updateActiveLocked()
}

func (c *Controller) entryLocked(sid string, now time.Time) *entry {
	e, ok := c.sessions[sid]
	if !ok {
		e = &entry{state: StateUninitialized}
		c.sessions[sid] = e
	}
	e.seen = now
	return e
}

func (c *Controller) updateActiveLocked() {
	n := 0
	for _, e := range c.sessions {
		if e.state == StateAuthenticated {
			n++
		}
	}
	c.metrics.SetActiveSessions(n)
}

func identityFromMe(me *backend.Me) session.Identity {
	return session.Identity{
		ID:        me.ID.String(),
		Email:     me.Email,
		Name:      me.Name,
		Role:      token.Role(me.Role),
		AccountID: me.AccountID.String(),
	}
}

func identityFromClaims(claims *token.Claims, req backend.SimplifiedAccessRequest) session.Identity {
	name := claims.Name
	if name == "" {
		name = strings.TrimSpace(req.FirstName + " " + req.LastName)
	}
	role := claims.Role
	if role == "" {
		role = token.RolePatient
	}
	return session.Identity{
		ID:    claims.Subject,
		Email: claims.Email,
		Name:  name,
		Role:  role,
	}
}
