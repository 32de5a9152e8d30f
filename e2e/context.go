package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"testing/fstest"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"genascope/internal/auth/controller"
	"genascope/internal/auth/handler"
	"genascope/internal/backend"
	"genascope/internal/platform/health"
	"genascope/internal/proxy"
	"genascope/internal/session"
	"genascope/internal/token"
	httptransport "genascope/internal/transport/http"
	sessionmw "genascope/pkg/platform/middleware/session"
)

const (
	validEmail    = "user@example.com"
	validPassword = "correct-pass"
	regularToken  = "tok123"
)

// TestContext holds state between test steps. Each scenario gets its own
// gateway and mock backend.
type TestContext struct {
	BaseURL          string
	HTTPClient       *http.Client
	LastResponse     *http.Response
	LastResponseBody []byte

	backend *httptest.Server
	gateway *httptest.Server
	auth    *controller.Controller
}

// Start boots the mock backend and an in-process gateway wired to it.
func (tc *TestContext) Start() error {
	tc.backend = httptest.NewServer(mockBackend())
	target, err := url.Parse(tc.backend.URL)
	if err != nil {
		return fmt.Errorf("parse backend url: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()
	store := session.NewInMemory(session.WithMemoryLogger(logger))
	client := backend.New(backend.Config{BaseURL: tc.backend.URL, Timeout: 5 * time.Second})
	tc.auth = controller.New(store, client, controller.WithLogger(logger))
	cookie := sessionmw.CookieConfig{Name: "genascope_session"}

	tc.gateway = httptest.NewServer(httptransport.NewRouter(httptransport.Dependencies{
		Auth:     handler.New(tc.auth, store, cookie, logger),
		Health:   health.New("e2e"),
		Resolver: tc.auth,
		Proxy: proxy.New(proxy.Config{
			Target:  target,
			Metrics: proxy.NewMetrics(reg),
			Logger:  logger,
		}),
		Shell: httptransport.NewShell(fstest.MapFS{
			"index.html": {Data: []byte("<!doctype html><div id=root></div>")},
		}),
		Cookie:         cookie,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		RequestTimeout: 10 * time.Second,
		MaxBodyBytes:   1 << 20,
		Logger:         logger,
	}))

	jar, err := cookiejar.New(nil)
	if err != nil {
		return fmt.Errorf("cookie jar: %w", err)
	}
	tc.BaseURL = tc.gateway.URL
	tc.HTTPClient = &http.Client{
		Jar:     jar,
		Timeout: 10 * time.Second,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return nil
}

// Close tears the scenario's servers down.
func (tc *TestContext) Close() {
	if tc.gateway != nil {
		tc.gateway.Close()
	}
	if tc.auth != nil {
		tc.auth.Close()
	}
	if tc.backend != nil {
		tc.backend.Close()
	}
}

// mockBackend imitates the Genascope API endpoints the gateway calls.
func mockBackend() http.Handler {
	mux := http.NewServeMux()
	writeJSON := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}

	mux.HandleFunc("POST /auth/token", func(w http.ResponseWriter, r *http.Request) {
		if r.FormValue("username") != validEmail || r.FormValue("password") != validPassword {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Incorrect username or password"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"access_token": regularToken, "token_type": "bearer"})
	})
	mux.HandleFunc("GET /auth/me", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+regularToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": 1, "email": validEmail, "name": "Dr. User", "role": "clinician"})
	})
	mux.HandleFunc("POST /auth/simplified-access", func(w http.ResponseWriter, _ *http.Request) {
		raw, err := token.MintFor(token.Claims{
			Subject:    "p-1",
			Role:       token.RolePatient,
			AccessType: token.AccessSimplified,
			Name:       "Pat Doe",
		}, []byte("e2e"), time.Now(), 2*time.Hour)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"access_token": raw, "token_type": "bearer"})
	})
	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"path":          r.URL.Path,
			"authorization": r.Header.Get("Authorization"),
		})
	})
	return mux
}

// POST makes a JSON POST request and stores the response
func (tc *TestContext) POST(path string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, tc.BaseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return tc.do(req)
}

// GET makes a GET request and stores the response
func (tc *TestContext) GET(path string) error {
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, tc.BaseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	return tc.do(req)
}

func (tc *TestContext) do(req *http.Request) error {
	resp, err := tc.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}

	tc.LastResponse = resp
	tc.LastResponseBody, err = io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	return nil
}

// GetResponseField extracts a field from the JSON response
func (tc *TestContext) GetResponseField(field string) (any, error) {
	var data map[string]any
	if err := json.Unmarshal(tc.LastResponseBody, &data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	value, ok := data[field]
	if !ok {
		return nil, fmt.Errorf("field %s not found in response", field)
	}
	return value, nil
}
