package guard

import (
	"context"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"genascope/internal/auth/controller"
	dErrors "genascope/pkg/domain-errors"
	"genascope/pkg/platform/httputil"
	"genascope/pkg/requestcontext"
)

// Redirect targets for page routes.
const (
	LoginPath          = "/login"
	SimplifiedHomePath = "/ai-chat/sessions?new=true"
	PermissionDenied   = "/dashboard?error=permission"
)

// awaitTimeout bounds how long a request waits on another request's restore.
const awaitTimeout = 5 * time.Second

// Resolver is the read side of the auth controller.
type Resolver interface {
	Resolve(ctx context.Context, sid string) controller.View
	Await(ctx context.Context, sid string) controller.View
}

type viewKey struct{}

// WithView stores the admitted session view for downstream handlers.
func WithView(ctx context.Context, v controller.View) context.Context {
	return context.WithValue(ctx, viewKey{}, v)
}

// ViewFrom returns the view stored by Middleware.
func ViewFrom(ctx context.Context) (controller.View, bool) {
	v, ok := ctx.Value(viewKey{}).(controller.View)
	return v, ok
}

// Middleware enforces g on every request. Page requests are redirected or
// shown a notice; API requests get JSON error envelopes.
func Middleware(g Guard, res Resolver, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			sid := requestcontext.SessionID(ctx)

			var v controller.View
			if sid == "" {
				v = controller.View{State: controller.StateUnauthenticated}
			} else {
				v = res.Resolve(ctx, sid)
			}
			decision := g.Evaluate(v)
			if decision == Loading {
				awaitCtx, cancel := context.WithTimeout(ctx, awaitTimeout)
				v = res.Await(awaitCtx, sid)
				cancel()
				decision = g.Evaluate(v)
			}

			if decision == Allowed {
				next.ServeHTTP(w, r.WithContext(WithView(ctx, v)))
				return
			}

			logger.InfoContext(ctx, "route guard denied request",
				"decision", decision.String(),
				"path", r.URL.Path,
				"session_id", sid,
				"request_id", requestcontext.RequestID(ctx),
			)
			if httputil.WantsJSON(r) {
				writeJSONDenial(w, decision)
				return
			}
			writePageDenial(w, r, decision)
		})
	}
}

func writeJSONDenial(w http.ResponseWriter, d Decision) {
	switch d {
	case Loading:
		w.Header().Set("Retry-After", "1")
		httputil.WriteError(w, dErrors.New(dErrors.CodeBackendUnavailable, "session is still loading"))
	case DeniedWrongAccessType:
		httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "not available with invite access"))
	case DeniedWrongRole:
		httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "insufficient permissions"))
	case DeniedExpired:
		httputil.WriteError(w, dErrors.New(dErrors.CodeSessionExpired, "your session has expired"))
	default:
		httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "authentication required"))
	}
}

func writePageDenial(w http.ResponseWriter, r *http.Request, d Decision) {
	switch d {
	case Loading:
		w.Header().Set("Retry-After", "1")
		renderPage(w, http.StatusServiceUnavailable, loadingPage, nil)
	case DeniedWrongAccessType:
		http.Redirect(w, r, SimplifiedHomePath, http.StatusFound)
	case DeniedWrongRole:
		http.Redirect(w, r, PermissionDenied, http.StatusFound)
	case DeniedExpired:
		renderPage(w, http.StatusUnauthorized, expiredPage, nil)
	default:
		http.Redirect(w, r, LoginRedirect(r.URL.Path), http.StatusFound)
	}
}

// LoginRedirect builds the login URL that returns the user to path.
func LoginRedirect(path string) string {
	return LoginPath + "?redirect=" + url.QueryEscape(path)
}

var (
	expiredPage = template.Must(template.New("expired").Parse(`<!doctype html>
<html lang="en">
<head><meta charset="utf-8"><title>Session Expired</title></head>
<body>
<main class="session-expired">
<h1>Session Expired</h1>
<p>Your session has expired. Please use your invitation link to start a new session, or contact your healthcare provider for a new invitation.</p>
<a href="/">Return to Homepage</a>
</main>
</body>
</html>
`))

	loadingPage = template.Must(template.New("loading").Parse(`<!doctype html>
<html lang="en">
<head><meta charset="utf-8"><meta http-equiv="refresh" content="1"><title>Loading</title></head>
<body><main class="session-loading">Loading…</main></body>
</html>
`))
)

func renderPage(w http.ResponseWriter, status int, t *template.Template, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = t.Execute(w, data)
}
