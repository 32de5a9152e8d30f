// Package proxy forwards browser API calls to the backend under the session's
// bearer token.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"
	"time"

	"genascope/internal/backend"
	"genascope/internal/guard"
	dErrors "genascope/pkg/domain-errors"
	"genascope/pkg/platform/circuit"
	platformhttp "genascope/pkg/platform/httputil"
	"genascope/pkg/platform/tracer"
	"genascope/pkg/requestcontext"
)

const (
	DefaultPrefix  = "/api/backend"
	defaultTimeout = 30 * time.Second
	maxErrorBody   = 64 << 10
)

type Config struct {
	// Target is the backend base URL.
	Target *url.URL
	// Prefix is stripped from the incoming path before forwarding.
	Prefix    string
	Timeout   time.Duration
	Transport http.RoundTripper
	Breaker   *circuit.Breaker
	Tracer    tracer.Tracer
	Metrics   *Metrics
	Logger    *slog.Logger
}

// Proxy relays method, body and query unchanged. Upstream errors are
// normalized to {"error": detail} with the upstream status kept.
type Proxy struct {
	rp      *httputil.ReverseProxy
	target  *url.URL
	prefix  string
	timeout time.Duration
	breaker *circuit.Breaker
	tracer  tracer.Tracer
	metrics *Metrics
	logger  *slog.Logger
}

func New(cfg Config) *Proxy {
	p := &Proxy{
		target:  cfg.Target,
		prefix:  strings.TrimRight(cfg.Prefix, "/"),
		timeout: cfg.Timeout,
		breaker: cfg.Breaker,
		tracer:  cfg.Tracer,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
	}
	if p.prefix == "" {
		p.prefix = DefaultPrefix
	}
	if p.timeout <= 0 {
		p.timeout = defaultTimeout
	}
	if p.tracer == nil {
		p.tracer = tracer.NewNoop()
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	p.rp = &httputil.ReverseProxy{
		Rewrite:        p.rewrite,
		Transport:      cfg.Transport,
		ModifyResponse: p.modifyResponse,
		ErrorHandler:   p.handleError,
	}
	return p
}

// outcome is filled in by the ReverseProxy callbacks for the current call.
type outcome struct {
	status   int
	err      error
	recorded bool
}

type outcomeKey struct{}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := p.tracer.Start(r.Context(), tracer.SpanProxyForward,
		tracer.String(tracer.AttrHTTPMethod, r.Method),
		tracer.String(tracer.AttrHTTPPath, r.URL.Path),
	)
	start := time.Now()
	out := &outcome{}
	defer func() {
		if out.err != nil {
			span.SetAttributes(tracer.String(tracer.AttrErrorCode, string(dErrors.CodeOf(out.err))))
		} else {
			span.SetAttributes(tracer.Int(tracer.AttrHTTPStatus, out.status))
		}
		span.End(out.err)
		p.metrics.observe(r.Method, out, time.Since(start))
	}()

	if p.breaker != nil && !p.breaker.Allow() {
		out.err = dErrors.New(dErrors.CodeBackendUnavailable, "backend temporarily unavailable")
		platformhttp.WriteError(w, out.err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	ctx = context.WithValue(ctx, outcomeKey{}, out)
	p.rp.ServeHTTP(w, r.WithContext(ctx))

	// Calls that reached no verdict must not hold the half-open probe.
	if p.breaker != nil && !out.recorded {
		p.breaker.Release()
	}
}

func (p *Proxy) rewrite(pr *httputil.ProxyRequest) {
	rest := strings.TrimPrefix(pr.In.URL.Path, p.prefix)
	pr.Out.URL.Scheme = p.target.Scheme
	pr.Out.URL.Host = p.target.Host
	pr.Out.URL.Path = joinPath(p.target.Path, rest)
	pr.Out.URL.RawPath = ""
	pr.Out.Host = ""
	pr.SetXForwarded()

	// The session cookie names a gateway record; the backend never needs it.
	pr.Out.Header.Del("Cookie")
	if v, ok := guard.ViewFrom(pr.In.Context()); ok && v.Token != "" {
		pr.Out.Header.Set("Authorization", "Bearer "+v.Token)
	}
	if id := requestcontext.RequestID(pr.In.Context()); id != "" {
		pr.Out.Header.Set("X-Request-ID", id)
	}
}

func joinPath(base, rest string) string {
	base = strings.TrimRight(base, "/")
	if rest == "" {
		return base + "/"
	}
	if !strings.HasPrefix(rest, "/") {
		rest = "/" + rest
	}
	return base + rest
}

func (p *Proxy) modifyResponse(resp *http.Response) error {
	out, _ := resp.Request.Context().Value(outcomeKey{}).(*outcome)
	if out != nil {
		out.status = resp.StatusCode
	}
	p.record(out, resp.StatusCode >= http.StatusInternalServerError)

	if resp.StatusCode >= 200 && resp.StatusCode <= 299 {
		return nil
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	_ = resp.Body.Close()
	if err != nil {
		return err
	}
	body, err := json.Marshal(map[string]string{"error": backend.Detail(data, resp.StatusCode)})
	if err != nil {
		return err
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))
	resp.Header.Set("Content-Length", strconv.Itoa(len(body)))
	resp.Header.Set("Content-Type", "application/json")
	resp.Header.Del("Content-Encoding")
	return nil
}

func (p *Proxy) handleError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	mapped := backend.ClassifyTransportError(ctx, err)
	out, _ := ctx.Value(outcomeKey{}).(*outcome)
	if out != nil {
		out.err = mapped
	}
	// A client that went away says nothing about backend health.
	if !errors.Is(err, context.Canceled) {
		p.record(out, true)
	}

	p.logger.WarnContext(ctx, "backend proxy call failed",
		"path", r.URL.Path,
		"method", r.Method,
		"code", dErrors.CodeOf(mapped),
		"error", err,
		"request_id", requestcontext.RequestID(ctx),
	)
	platformhttp.WriteError(w, mapped)
}

func (p *Proxy) record(out *outcome, failed bool) {
	if p.breaker == nil {
		return
	}
	if out != nil {
		out.recorded = true
	}
	if failed {
		p.breaker.RecordFailure()
	} else {
		p.breaker.RecordSuccess()
	}
}
