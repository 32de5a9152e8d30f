package proxy

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"genascope/internal/auth/controller"
	"genascope/internal/guard"
	"genascope/pkg/platform/circuit"
	platformhttp "genascope/pkg/platform/httputil"
)

type ProxySuite struct {
	suite.Suite
	mux     *http.ServeMux
	server  *httptest.Server
	metrics *Metrics
	proxy   *Proxy
}

func TestProxySuite(t *testing.T) {
	suite.Run(t, new(ProxySuite))
}

func (s *ProxySuite) SetupTest() {
	s.mux = http.NewServeMux()
	s.server = httptest.NewServer(s.mux)
	s.metrics = NewMetrics(prometheus.NewRegistry())
	s.proxy = s.newProxy(Config{})
}

func (s *ProxySuite) TearDownTest() {
	s.server.Close()
}

func (s *ProxySuite) newProxy(cfg Config) *Proxy {
	target, err := url.Parse(s.server.URL + "/v1")
	s.Require().NoError(err)
	cfg.Target = target
	cfg.Metrics = s.metrics
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(cfg)
}

func (s *ProxySuite) do(p *Proxy, req *http.Request, bearer string) *httptest.ResponseRecorder {
	if bearer != "" {
		req = req.WithContext(guard.WithView(req.Context(), controller.View{
			State: controller.StateAuthenticated,
			Token: bearer,
		}))
	}
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)
	return rec
}

func (s *ProxySuite) TestForwardsWithSessionBearer() {
	s.mux.HandleFunc("POST /v1/patients/7/notes", func(w http.ResponseWriter, r *http.Request) {
		s.Equal("Bearer tok123", r.Header.Get("Authorization"))
		s.Empty(r.Header.Get("Cookie"))
		s.Equal("draft=true", r.URL.RawQuery)
		body, _ := io.ReadAll(r.Body)
		s.JSONEq(`{"text":"hello"}`, string(body))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"n1"}`))
	})
	req := httptest.NewRequest(http.MethodPost, "/api/backend/patients/7/notes?draft=true", strings.NewReader(`{"text":"hello"}`))
	req.Header.Set("Cookie", "genascope_session=abc")
	req.Header.Set("Authorization", "Bearer incoming")

	rec := s.do(s.proxy, req, "tok123")

	s.Equal(http.StatusCreated, rec.Code)
	s.JSONEq(`{"id":"n1"}`, rec.Body.String())
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Requests.WithLabelValues("POST", "201")))
}

func (s *ProxySuite) TestFallsBackToIncomingAuthorization() {
	s.mux.HandleFunc("GET /v1/me/settings", func(w http.ResponseWriter, r *http.Request) {
		s.Equal("Bearer incoming", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	})
	req := httptest.NewRequest(http.MethodGet, "/api/backend/me/settings", nil)
	req.Header.Set("Authorization", "Bearer incoming")

	rec := s.do(s.proxy, req, "")

	s.Equal(http.StatusNoContent, rec.Code)
}

func (s *ProxySuite) TestUpstreamErrorsKeepStatus() {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"detail", http.StatusForbidden, `{"detail":"Not allowed"}`, "Not allowed"},
		{"validation list", http.StatusUnprocessableEntity, `{"detail":[{"msg":"field required"}]}`, "field required"},
		{"no body", http.StatusNotFound, ``, "Not Found"},
		{"html", http.StatusBadGateway, `<html>bad</html>`, "Bad Gateway"},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			path := "/v1/err/" + strings.ReplaceAll(tt.name, " ", "-")
			s.mux.HandleFunc(path, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})

			rec := s.do(s.proxy, httptest.NewRequest(http.MethodGet, "/api/backend"+strings.TrimPrefix(path, "/v1"), nil), "tok123")

			s.Equal(tt.status, rec.Code)
			var body map[string]string
			s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &body))
			s.Equal(tt.want, body["error"])
		})
	}
}

func (s *ProxySuite) TestUnreachableBackendIsBadGateway() {
	s.server.Close()

	rec := s.do(s.proxy, httptest.NewRequest(http.MethodGet, "/api/backend/patients", nil), "tok123")

	s.Equal(http.StatusBadGateway, rec.Code)
	var body platformhttp.ErrorResponse
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &body))
	s.Equal("network_error", body.Error)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Requests.WithLabelValues("GET", "network_error")))
}

func (s *ProxySuite) TestSlowBackendIsGatewayTimeout() {
	release := make(chan struct{})
	defer close(release)
	s.mux.HandleFunc("GET /v1/slow", func(http.ResponseWriter, *http.Request) {
		<-release
	})
	p := s.newProxy(Config{Timeout: 20 * time.Millisecond})

	rec := s.do(p, httptest.NewRequest(http.MethodGet, "/api/backend/slow", nil), "tok123")

	s.Equal(http.StatusGatewayTimeout, rec.Code)
}

func (s *ProxySuite) TestOpenBreakerRejectsWithoutCalling() {
	calls := 0
	s.mux.HandleFunc("GET /v1/flaky", func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	})
	p := s.newProxy(Config{Breaker: circuit.New("proxy", circuit.WithFailureThreshold(1), circuit.WithCooldown(time.Hour))})

	first := s.do(p, httptest.NewRequest(http.MethodGet, "/api/backend/flaky", nil), "tok123")
	second := s.do(p, httptest.NewRequest(http.MethodGet, "/api/backend/flaky", nil), "tok123")

	s.Equal(http.StatusInternalServerError, first.Code)
	s.Equal(http.StatusServiceUnavailable, second.Code)
	s.Equal(1, calls)
}

func (s *ProxySuite) TestClientCancellationDoesNotTripBreaker() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/backend/patients", nil).WithContext(ctx)
	breaker := circuit.New("proxy", circuit.WithFailureThreshold(1))
	p := s.newProxy(Config{Breaker: breaker})

	rec := s.do(p, req, "tok123")

	s.Equal(http.StatusGatewayTimeout, rec.Code)
	s.Equal(circuit.StateClosed, breaker.State())
}

func (s *ProxySuite) TestCancelledProbeDoesNotWedgeBreaker() {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	breaker := circuit.New("proxy",
		circuit.WithFailureThreshold(1),
		circuit.WithCooldown(time.Second),
		circuit.WithClock(func() time.Time { return now }),
	)
	breaker.RecordFailure()
	s.Require().Equal(circuit.StateOpen, breaker.State())
	now = now.Add(2 * time.Second)

	entered := make(chan struct{})
	release := make(chan struct{})
	defer close(release)
	s.mux.HandleFunc("GET /v1/hang", func(w http.ResponseWriter, _ *http.Request) {
		close(entered)
		<-release
	})
	s.mux.HandleFunc("GET /v1/ok", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	p := s.newProxy(Config{Breaker: breaker})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-entered
		cancel()
	}()
	req := httptest.NewRequest(http.MethodGet, "/api/backend/hang", nil).WithContext(ctx)
	s.do(p, req, "tok123")
	s.Equal(circuit.StateHalfOpen, breaker.State())

	rec := s.do(p, httptest.NewRequest(http.MethodGet, "/api/backend/ok", nil), "tok123")

	s.Equal(http.StatusOK, rec.Code)
	s.Equal(circuit.StateClosed, breaker.State())
}

func (s *ProxySuite) TestJoinPath() {
	s.Equal("/v1/patients", joinPath("/v1/", "/patients"))
	s.Equal("/patients", joinPath("", "patients"))
	s.Equal("/v1/", joinPath("/v1", ""))
}
