package session

import (
	"net/http"

	"github.com/google/uuid"

	"genascope/pkg/requestcontext"
)

// CookieConfig holds configuration for the session cookie middleware.
type CookieConfig struct {
	// Name is the cookie carrying the browser session ID.
	Name string
	// Secure marks the cookie HTTPS-only. Disabled in local development.
	Secure bool
}

// Cookie reads the browser session ID from the configured cookie and injects it
// into the request context. A missing or malformed value is replaced with a
// fresh UUID and the cookie is set on the response.
//
// The session ID names the server-side record, which holds the bearer token,
// so handlers that authenticate a session must move it to a fresh ID with
// Rotate.
func Cookie(cfg CookieConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sid := ""
			if c, err := r.Cookie(cfg.Name); err == nil {
				if _, err := uuid.Parse(c.Value); err == nil {
					sid = c.Value
				}
			}
			if sid == "" {
				sid = NewID()
				http.SetCookie(w, newCookie(cfg, sid, 0))
			}

			ctx := requestcontext.WithSessionID(r.Context(), sid)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// NewID mints a session ID.
func NewID() string {
	return uuid.NewString()
}

// Rotate points the browser at sid, replacing the session cookie it sent.
func Rotate(w http.ResponseWriter, cfg CookieConfig, sid string) {
	http.SetCookie(w, newCookie(cfg, sid, 0))
}

// Expire tells the browser to drop the session cookie.
func Expire(w http.ResponseWriter, cfg CookieConfig) {
	http.SetCookie(w, newCookie(cfg, "", -1))
}

func newCookie(cfg CookieConfig, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     cfg.Name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}
