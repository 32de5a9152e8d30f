// Package backend is the typed client for the Genascope API endpoints the
// gateway itself depends on: credential exchange, identity lookup, invite
// verification and the simplified-access exchange.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"genascope/pkg/platform/circuit"
	"genascope/pkg/platform/tracer"
	dErrors "genascope/pkg/domain-errors"
)

// maxResponseBytes bounds how much of a backend response is read.
const maxResponseBytes = 1 << 20

// HTTPDoer is the minimal interface needed from an HTTP client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config configures a Client.
type Config struct {
	BaseURL              string
	TokenPath            string
	MePath               string
	InviteVerifyPath     string
	SimplifiedAccessPath string
	Timeout              time.Duration
	HTTPClient           HTTPDoer
	Tracer               tracer.Tracer
	Breaker              *circuit.Breaker
	Metrics              *Metrics
}

// Client calls the backend. Every method takes the caller's context; a
// deadline maps to CodeTimeout and other transport failures to CodeNetwork.
type Client struct {
	baseURL string
	paths   paths
	timeout time.Duration
	http    HTTPDoer
	tracer  tracer.Tracer
	breaker *circuit.Breaker
	metrics *Metrics
}

type paths struct {
	token, me, invite, simplified string
}

func New(cfg Config) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		paths: paths{
			token:      orDefault(cfg.TokenPath, "/auth/token"),
			me:         orDefault(cfg.MePath, "/auth/me"),
			invite:     orDefault(cfg.InviteVerifyPath, "/invites/verify"),
			simplified: orDefault(cfg.SimplifiedAccessPath, "/auth/simplified-access"),
		},
		timeout: cfg.Timeout,
		http:    cfg.HTTPClient,
		tracer:  cfg.Tracer,
		breaker: cfg.Breaker,
		metrics: cfg.Metrics,
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: cfg.Timeout}
	}
	if c.tracer == nil {
		c.tracer = tracer.NewNoop()
	}
	return c
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// TokenResponse is the credential exchange result.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// Me is the identity returned by the whoami endpoint.
type Me struct {
	ID        FlexString `json:"id"`
	Email     string     `json:"email"`
	Name      string     `json:"name"`
	Role      string     `json:"role"`
	AccountID FlexString `json:"account_id,omitempty"`
}

// InviteVerification summarizes an invite link before the patient submits details.
type InviteVerification struct {
	Valid        bool   `json:"valid"`
	ErrorMessage string `json:"error_message,omitempty"`
	InviteID     string `json:"invite_id,omitempty"`
	PatientName  string `json:"patient_name,omitempty"`
	ProviderName string `json:"provider_name,omitempty"`
	ExpiresAt    string `json:"expires_at,omitempty"`
}

// SimplifiedAccessRequest is what the patient submits from the invite page.
type SimplifiedAccessRequest struct {
	InviteToken    string `json:"invite_token"`
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	DateOfBirth    string `json:"date_of_birth"`
	AgreeToTerms   bool   `json:"agree_to_terms"`
	AgreeToPrivacy bool   `json:"agree_to_privacy"`
}

// Token exchanges credentials for a bearer token. Any 4xx is a credential
// rejection.
func (c *Client) Token(ctx context.Context, username, password string) (*TokenResponse, error) {
	form := url.Values{"username": {username}, "password": {password}}
	var out TokenResponse
	err := c.do(ctx, call{
		span:        tracer.SpanBackendToken,
		endpoint:    "token",
		method:      http.MethodPost,
		path:        c.paths.token,
		body:        strings.NewReader(form.Encode()),
		contentType: "application/x-www-form-urlencoded",
		onStatus: func(status int, detail string) error {
			if status >= 400 && status < 500 {
				return dErrors.New(dErrors.CodeInvalidCredentials, orDefault(detail, "incorrect email or password"))
			}
			return nil
		},
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.AccessToken == "" {
		return nil, dErrors.New(dErrors.CodeInvalidCredentials, "backend returned no access token")
	}
	return &out, nil
}

// Me fetches the identity behind bearer.
func (c *Client) Me(ctx context.Context, bearer string) (*Me, error) {
	var out Me
	err := c.do(ctx, call{
		span:     tracer.SpanBackendMe,
		endpoint: "me",
		method:   http.MethodGet,
		path:     c.paths.me,
		bearer:   bearer,
		onStatus: func(status int, detail string) error {
			switch status {
			case http.StatusUnauthorized:
				return dErrors.New(dErrors.CodeUnauthorized, orDefault(detail, "token rejected"))
			case http.StatusForbidden:
				return dErrors.New(dErrors.CodeForbidden, orDefault(detail, "forbidden"))
			}
			return nil
		},
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// VerifyInvite checks an invite token. An invalid invite is a 200 with
// Valid=false, not an error.
func (c *Client) VerifyInvite(ctx context.Context, inviteToken string) (*InviteVerification, error) {
	body, err := json.Marshal(map[string]string{"invite_token": inviteToken})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "encode invite request")
	}
	var out InviteVerification
	err = c.do(ctx, call{
		span:        tracer.SpanBackendInvite,
		endpoint:    "invite_verify",
		method:      http.MethodPost,
		path:        c.paths.invite,
		body:        bytes.NewReader(body),
		contentType: "application/json",
		onStatus: func(status int, detail string) error {
			switch {
			case status == http.StatusNotFound:
				return dErrors.New(dErrors.CodeNotFound, orDefault(detail, "invitation not found"))
			case status >= 400 && status < 500:
				return dErrors.New(dErrors.CodeBadRequest, orDefault(detail, "invalid or expired invitation"))
			}
			return nil
		},
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// SimplifiedAccess exchanges patient details for a time-boxed token.
func (c *Client) SimplifiedAccess(ctx context.Context, req SimplifiedAccessRequest) (*TokenResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "encode simplified access request")
	}
	var out TokenResponse
	err = c.do(ctx, call{
		span:        tracer.SpanBackendSimplified,
		endpoint:    "simplified_access",
		method:      http.MethodPost,
		path:        c.paths.simplified,
		body:        bytes.NewReader(body),
		contentType: "application/json",
		onStatus: func(status int, detail string) error {
			if status >= 400 && status < 500 {
				return dErrors.New(dErrors.CodeInvalidCredentials,
					orDefault(detail, "authentication failed, please check your information and try again"))
			}
			return nil
		},
	}, &out)
	if err != nil {
		return nil, err
	}
	if out.AccessToken == "" {
		return nil, dErrors.New(dErrors.CodeInvalidCredentials, "backend returned no access token")
	}
	return &out, nil
}

type call struct {
	span        string
	endpoint    string
	method      string
	path        string
	body        io.Reader
	contentType string
	bearer      string
	// onStatus maps a non-2xx status to a domain error; nil falls through to
	// the generic mapping.
	onStatus func(status int, detail string) error
}

func (c *Client) do(ctx context.Context, in call, out any) (err error) {
	ctx, span := c.tracer.Start(ctx, in.span,
		tracer.String(tracer.AttrHTTPMethod, in.method),
		tracer.String(tracer.AttrHTTPPath, in.path),
	)
	start := time.Now()
	defer func() {
		if err != nil {
			span.SetAttributes(tracer.String(tracer.AttrErrorCode, string(dErrors.CodeOf(err))))
		}
		span.End(err)
		c.metrics.observe(in.endpoint, err, time.Since(start))
	}()

	if c.breaker != nil && !c.breaker.Allow() {
		return dErrors.New(dErrors.CodeBackendUnavailable, "backend temporarily unavailable")
	}
	recorded := false
	defer func() {
		if c.breaker != nil && !recorded {
			c.breaker.Release()
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, in.method, c.baseURL+in.path, in.body)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to create backend request")
	}
	req.Header.Set("Accept", "application/json")
	if in.contentType != "" {
		req.Header.Set("Content-Type", in.contentType)
	}
	if in.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+in.bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		recorded = c.recordTransportFailure(err)
		return ClassifyTransportError(ctx, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		recorded = c.recordTransportFailure(err)
		return ClassifyTransportError(ctx, err)
	}
	span.SetAttributes(tracer.Int(tracer.AttrHTTPStatus, resp.StatusCode))

	if resp.StatusCode >= http.StatusInternalServerError {
		c.recordFailure()
	} else {
		c.recordSuccess()
	}
	recorded = true

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		detail := Detail(data, resp.StatusCode)
		if in.onStatus != nil {
			if mapped := in.onStatus(resp.StatusCode, detailOrEmpty(data)); mapped != nil {
				return mapped
			}
		}
		return statusError(resp.StatusCode, detail)
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "malformed backend response")
	}
	return nil
}

func (c *Client) recordFailure() {
	if c.breaker != nil {
		c.breaker.RecordFailure()
	}
}

// recordTransportFailure counts err against the backend unless the caller
// abandoned the call, and reports whether it did.
func (c *Client) recordTransportFailure(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	c.recordFailure()
	return true
}

func (c *Client) recordSuccess() {
	if c.breaker != nil {
		c.breaker.RecordSuccess()
	}
}

func statusError(status int, detail string) error {
	switch {
	case status == http.StatusNotFound:
		return dErrors.New(dErrors.CodeNotFound, detail)
	case status == http.StatusUnauthorized:
		return dErrors.New(dErrors.CodeUnauthorized, detail)
	case status == http.StatusForbidden:
		return dErrors.New(dErrors.CodeForbidden, detail)
	case status == http.StatusConflict:
		return dErrors.New(dErrors.CodeConflict, detail)
	case status >= 500:
		return dErrors.New(dErrors.CodeBackendUnavailable, detail)
	default:
		return dErrors.New(dErrors.CodeBadRequest, detail)
	}
}

// ClassifyTransportError separates deadlines from other transport failures.
func ClassifyTransportError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "request timeout")
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "request timeout")
	}
	if errors.Is(err, context.Canceled) {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "request aborted")
	}
	return dErrors.Wrap(err, dErrors.CodeNetwork, fmt.Sprintf("backend unreachable: %v", err))
}
