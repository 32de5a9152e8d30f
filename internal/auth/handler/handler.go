package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"genascope/internal/auth/controller"
	"genascope/internal/auth/device"
	"genascope/internal/auth/models"
	"genascope/internal/backend"
	"genascope/internal/guard"
	"genascope/internal/session"
	dErrors "genascope/pkg/domain-errors"
	"genascope/pkg/platform/httputil"
	sessionmw "genascope/pkg/platform/middleware/session"
	"genascope/pkg/requestcontext"
)

// Controller is the slice of the auth controller the handlers drive.
type Controller interface {
	Login(ctx context.Context, sid, email, password string) (*session.Identity, error)
	StartSimplified(ctx context.Context, sid string, req backend.SimplifiedAccessRequest) (*session.Identity, error)
	VerifyInvite(ctx context.Context, inviteToken string) (*backend.InviteVerification, error)
	Logout(ctx context.Context, sid string) error
	Retire(ctx context.Context, sid string) error
	Resolve(ctx context.Context, sid string) controller.View
	Touch(ctx context.Context, sid string, kind controller.ActivityKind) error
	RefreshIdentity(ctx context.Context, sid string, upd session.IdentityUpdate) (*session.Identity, error)
	InactivityWindow() time.Duration
}

// ChangeFeed is the store's change notification stream.
type ChangeFeed interface {
	Watch(ctx context.Context) (<-chan session.Change, error)
}

const (
	defaultLanding    = "/dashboard"
	simplifiedLanding = "/chat"
	expiryWarning     = 30 * time.Minute
	keepAliveInterval = 25 * time.Second
)

// Handler serves the browser-facing auth endpoints.
type Handler struct {
	auth      Controller
	feed      ChangeFeed
	cookie    sessionmw.CookieConfig
	logger    *slog.Logger
	keepAlive time.Duration
}

func New(auth Controller, feed ChangeFeed, cookie sessionmw.CookieConfig, logger *slog.Logger) *Handler {
	return &Handler{
		auth:      auth,
		feed:      feed,
		cookie:    cookie,
		logger:    logger,
		keepAlive: keepAliveInterval,
	}
}

// Register mounts the JSON auth API. The session cookie middleware must run first.
func (h *Handler) Register(r chi.Router) {
	r.Post("/api/auth/login", h.HandleLogin)
	r.Post("/api/auth/logout", h.HandleLogout)
	r.Get("/api/auth/session", h.HandleSession)
	r.Patch("/api/auth/identity", h.HandleIdentity)
	r.Post("/api/auth/activity", h.HandleActivity)
	r.Get("/api/auth/events", h.HandleEvents)
	r.Post("/api/auth/simplified-access", h.HandleSimplifiedAccess)
	r.Post("/api/invites/verify", h.HandleVerifyInvite)
	r.Get("/logout", h.HandleLogout)
}

// HandleLogin accepts a JSON body from the SPA or a form post from the
// no-script login page. Form posts are answered with redirects.
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	sid := requestcontext.SessionID(ctx)
	form := isForm(r)

	req, ok := decode[models.LoginRequest](w, r, h.logger, form)
	if !ok {
		return
	}

	// The authenticated record goes under a fresh ID so a planted cookie
	// never inherits it.
	next := sessionmw.NewID()
	identity, err := h.auth.Login(ctx, next, req.Email, req.Password)
	if err != nil {
		h.logger.WarnContext(ctx, "login failed",
			"code", dErrors.CodeOf(err),
			"request_id", requestID,
			"session_id", sid,
		)
		if form {
			http.Redirect(w, r, loginErrorURL(dErrors.CodeOf(err), req.Redirect), http.StatusSeeOther)
			return
		}
		httputil.WriteError(w, err)
		return
	}

	h.rotate(w, r, sid, next)
	h.logger.InfoContext(ctx, "login successful",
		"user_id", identity.ID,
		"role", identity.Role,
		"request_id", requestID,
		"session_id", next,
	)
	target := models.SafeRedirect(req.Redirect, defaultLanding)
	if form {
		http.Redirect(w, r, target, http.StatusSeeOther)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, models.LoginResult{
		User:       *identity,
		AccessType: "regular",
		Redirect:   target,
	})
}

func loginErrorURL(code dErrors.Code, redirect string) string {
	q := url.Values{"error": {string(code)}}
	if redirect != "" {
		q.Set("redirect", redirect)
	}
	return guard.LoginPath + "?" + q.Encode()
}

// HandleLogout ends the session everywhere it is shared. GET /logout and
// browser posts get a hard redirect; API callers get JSON.
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sid := requestcontext.SessionID(ctx)

	if err := h.auth.Logout(ctx, sid); err != nil {
		h.logger.ErrorContext(ctx, "logout failed",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
			"session_id", sid,
		)
		httputil.WriteError(w, err)
		return
	}

	sessionmw.Expire(w, h.cookie)
	w.Header().Set("Clear-Site-Data", `"cache", "storage"`)
	h.logger.InfoContext(ctx, "logout successful",
		"request_id", requestcontext.RequestID(ctx),
		"session_id", sid,
	)

	if r.Method == http.MethodGet || !httputil.WantsJSON(r) || isForm(r) {
		http.Redirect(w, r, guard.LoginPath, http.StatusSeeOther)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, models.LogoutResult{LoggedOut: true, Redirect: guard.LoginPath})
}

// HandleSession reports the session for the expiry countdown.
func (h *Handler) HandleSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	v := h.auth.Resolve(ctx, requestcontext.SessionID(ctx))

	status := models.SessionStatus{
		Authenticated: v.Authenticated(),
		State:         v.State.String(),
		AccessType:    string(v.AccessType),
		User:          v.Identity,
		Expired:       v.Expired,
		Device:        device.Label(r.UserAgent()),
	}
	if remaining, ok := v.Remaining(requestcontext.Now(ctx)); ok {
		expiresAt := v.ExpiresAt.UTC()
		seconds := int64(remaining / time.Second)
		status.ExpiresAt = &expiresAt
		status.RemainingSeconds = &seconds
		status.ExpiryWarning = v.Authenticated() && remaining < expiryWarning
	}
	if v.Authenticated() && !v.IsSimplified() {
		status.InactivityWindow = int64(h.auth.InactivityWindow() / time.Second)
	}

	w.Header().Set("Cache-Control", "no-store")
	httputil.WriteJSON(w, http.StatusOK, status)
}

// HandleIdentity applies a profile edit to the session identity.
func (h *Handler) HandleIdentity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	sid := requestcontext.SessionID(ctx)

	req, ok := httputil.DecodeAndPrepare[models.IdentityPatch](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	identity, err := h.auth.RefreshIdentity(ctx, sid, req.ToUpdate())
	if err != nil {
		h.logger.WarnContext(ctx, "identity update failed",
			"code", dErrors.CodeOf(err),
			"request_id", requestID,
			"session_id", sid,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, identity)
}

// HandleActivity records a user interaction that keeps the session alive.
func (h *Handler) HandleActivity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[models.ActivityRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	if err := h.auth.Touch(ctx, requestcontext.SessionID(ctx), req.ActivityKind()); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleEvents streams this session's store changes as Server-Sent Events so
// sibling tabs refresh when another tab logs in, out, or edits the profile.
func (h *Handler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sid := requestcontext.SessionID(ctx)

	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "streaming unsupported"))
		return
	}
	changes, err := h.feed.Watch(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to subscribe to session changes",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBackendUnavailable, "session events unavailable"))
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case c, ok := <-changes:
			if !ok {
				return
			}
			if c.SessionID != sid {
				continue
			}
			data, _ := json.Marshal(map[string]string{"kind": string(c.Kind)})
			if _, err := fmt.Fprintf(w, "event: session\ndata: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// HandleVerifyInvite checks an invite link before the patient fills the form.
func (h *Handler) HandleVerifyInvite(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[models.InviteVerifyRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	res, err := h.auth.VerifyInvite(ctx, req.InviteToken)
	if err != nil {
		h.logger.WarnContext(ctx, "invite verification failed",
			"code", dErrors.CodeOf(err),
			"request_id", requestID,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

// HandleSimplifiedAccess starts a time-boxed patient session from an invite.
func (h *Handler) HandleSimplifiedAccess(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	sid := requestcontext.SessionID(ctx)
	form := isForm(r)

	req, ok := decode[models.SimplifiedAccessRequest](w, r, h.logger, form)
	if !ok {
		return
	}

	next := sessionmw.NewID()
	identity, err := h.auth.StartSimplified(ctx, next, req.ToBackend())
	if err != nil {
		h.logger.WarnContext(ctx, "simplified access failed",
			"code", dErrors.CodeOf(err),
			"request_id", requestID,
			"session_id", sid,
		)
		if form {
			target := "/invite/" + url.PathEscape(req.InviteToken) + "?error=" + url.QueryEscape(string(dErrors.CodeOf(err)))
			http.Redirect(w, r, target, http.StatusSeeOther)
			return
		}
		httputil.WriteError(w, err)
		return
	}

	h.rotate(w, r, sid, next)
	h.logger.InfoContext(ctx, "simplified access granted",
		"user_id", identity.ID,
		"request_id", requestID,
		"session_id", next,
	)
	if form {
		http.Redirect(w, r, simplifiedLanding, http.StatusSeeOther)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, models.LoginResult{
		User:       *identity,
		AccessType: "simplified",
		Redirect:   simplifiedLanding,
	})
}

// rotate moves the browser to the freshly authenticated session and clears
// whatever the previous ID held. A failed clear is logged; the old record
// still expires with its token.
func (h *Handler) rotate(w http.ResponseWriter, r *http.Request, prev, next string) {
	sessionmw.Rotate(w, h.cookie, next)
	if prev == "" || prev == next {
		return
	}
	ctx := r.Context()
	if err := h.auth.Retire(ctx, prev); err != nil {
		h.logger.WarnContext(ctx, "failed to retire previous session",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
			"session_id", prev,
		)
	}
}

func isForm(r *http.Request) bool {
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return mt == "application/x-www-form-urlencoded"
}

// decode reads T from a form or JSON body, then normalizes and validates it.
func decode[T any, PT interface {
	*T
	httputil.FormDecodable
}](w http.ResponseWriter, r *http.Request, logger *slog.Logger, form bool) (*T, bool) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	if !form {
		return httputil.DecodeAndPrepare[T](w, r, logger, ctx, requestID)
	}
	req, ok := httputil.DecodeForm[T, PT](w, r, logger, ctx, requestID)
	if !ok {
		return nil, false
	}
	if !httputil.Prepare(w, req, logger, ctx, requestID) {
		return nil, false
	}
	return req, true
}
