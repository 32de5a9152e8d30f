// Package httptransport assembles the gateway's HTTP surface: middleware,
// the auth API, guarded page routes, the backend proxy and the SPA shell.
package httptransport

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"genascope/internal/guard"
	"genascope/internal/proxy"
	"genascope/pkg/platform/middleware/cache"
	"genascope/pkg/platform/middleware/request"
	sessionmw "genascope/pkg/platform/middleware/session"
)

// Registrar mounts a group of routes.
type Registrar interface {
	Register(r chi.Router)
}

type Dependencies struct {
	Auth     Registrar
	Health   Registrar
	Resolver guard.Resolver
	Proxy    http.Handler
	Shell    *Shell
	Cookie   sessionmw.CookieConfig
	Metrics  *request.Metrics
	// MetricsHandler defaults to the default Prometheus registry.
	MetricsHandler http.Handler
	RequestTimeout time.Duration
	MaxBodyBytes   int64
	Logger         *slog.Logger
}

// Page route groups. Everything the SPA serves outside these lists is public.
var (
	staffPages = []string{"/", "/dashboard", "/patients", "/invites", "/appointments", "/chat-configuration"}
	adminPages = []string{"/users", "/accounts"}
)

// NewRouter wires all public endpoints with middleware.
func NewRouter(d Dependencies) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metricsHandler := d.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}

	r := chi.NewRouter()
	r.Use(request.Recovery(logger))
	r.Use(request.RequestID)
	r.Use(request.RequestTime)
	r.Use(request.Logger(logger))
	r.Use(request.LatencyMiddleware(d.Metrics, routePattern))
	r.Use(cache.Headers)

	d.Health.Register(r)
	r.Handle("/metrics", metricsHandler)

	r.Group(func(r chi.Router) {
		r.Use(sessionmw.Cookie(d.Cookie))

		r.Group(func(r chi.Router) {
			r.Use(request.BodyLimit(d.MaxBodyBytes))
			r.Use(unlessStreaming(request.Timeout(d.RequestTimeout)))
			d.Auth.Register(r)
		})

		permissive := guard.Middleware(guard.Permissive{}, d.Resolver, logger)
		r.With(permissive).Handle(proxy.DefaultPrefix+"/*", d.Proxy)

		staff := guard.Middleware(guard.Strict{AllowedRoles: guard.StaffRoles}, d.Resolver, logger)
		for _, p := range staffPages {
			r.With(staff).Get(p, d.Shell.ServeIndex)
		}
		admin := guard.Middleware(guard.Strict{AllowedRoles: guard.AdminRoles}, d.Resolver, logger)
		for _, p := range adminPages {
			r.With(admin).Get(p, d.Shell.ServeIndex)
		}
		r.With(permissive).Get("/chat", d.Shell.ServeIndex)
		r.With(permissive).Get("/ai-chat", d.Shell.ServeIndex)
		r.With(permissive).Get("/ai-chat/*", d.Shell.ServeIndex)

		r.Get(guard.LoginPath, d.Shell.ServeIndex)
		r.Get("/invite/*", d.Shell.ServeIndex)
		r.Get("/*", d.Shell.ServeHTTP)
	})

	return r
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		return rctx.RoutePattern()
	}
	return ""
}

// unlessStreaming skips mw for event streams, which http.TimeoutHandler
// would buffer and cut off.
func unlessStreaming(mw func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		wrapped := mw(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.HasSuffix(r.URL.Path, "/events") || strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
				next.ServeHTTP(w, r)
				return
			}
			wrapped.ServeHTTP(w, r)
		})
	}
}
