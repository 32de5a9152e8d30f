// Package cache sets Cache-Control and browser hardening headers on
// successful responses according to the kind of path served.
package cache

import (
	"net/http"
	"regexp"
	"strings"
)

const (
	policyAsset     = "public, max-age=31536000, immutable"
	policyNoStore   = "no-cache, no-store, must-revalidate"
	policyDashboard = "public, max-age=300, s-maxage=300, stale-while-revalidate=86400"
	policyPage      = "public, max-age=3600, s-maxage=3600, stale-while-revalidate=86400"

	dashboardPreload = "</api/backend/api/patients?limit=10>; rel=preload; as=fetch; crossorigin, " +
		"</api/backend/api/invites?limit=100&page=1>; rel=preload; as=fetch; crossorigin"
)

var (
	assetPattern     = regexp.MustCompile(`\.(js|css|png|jpg|jpeg|gif|svg|ico|woff|woff2|ttf|eot)$`)
	dashboardPattern = regexp.MustCompile(`^/(dashboard|patients|appointments|manage-)`)
)

// Policy returns the Cache-Control value for path.
func Policy(path string) string {
	switch {
	case assetPattern.MatchString(path):
		return policyAsset
	case strings.HasPrefix(path, "/api/"):
		return policyNoStore
	case dashboardPattern.MatchString(path):
		return policyDashboard
	default:
		return policyPage
	}
}

// Headers applies Policy plus the security headers. Non-2xx responses are
// left untouched.
func Headers(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(&headerWriter{ResponseWriter: w, path: r.URL.Path}, r)
	})
}

type headerWriter struct {
	http.ResponseWriter
	path        string
	wroteHeader bool
}

func (hw *headerWriter) WriteHeader(status int) {
	if hw.wroteHeader {
		return
	}
	hw.wroteHeader = true
	if status >= 200 && status < 300 {
		h := hw.Header()
		h.Set("Cache-Control", Policy(hw.path))
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-XSS-Protection", "1; mode=block")
		if hw.path == "/dashboard" {
			h.Set("Link", dashboardPreload)
		}
	}
	hw.ResponseWriter.WriteHeader(status)
}

func (hw *headerWriter) Write(b []byte) (int, error) {
	if !hw.wroteHeader {
		hw.WriteHeader(http.StatusOK)
	}
	return hw.ResponseWriter.Write(b)
}

func (hw *headerWriter) Flush() {
	if !hw.wroteHeader {
		hw.WriteHeader(http.StatusOK)
	}
	if f, ok := hw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (hw *headerWriter) Unwrap() http.ResponseWriter {
	return hw.ResponseWriter
}
