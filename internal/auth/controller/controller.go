// Package controller owns per-session authentication state: login, restore,
// logout, background re-validation and inactivity auto-logout. It is the only
// writer of the session store.
package controller

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"genascope/internal/audit"
	"genascope/internal/auth/metrics"
	"genascope/internal/backend"
	"genascope/internal/session"
	"genascope/pkg/requestcontext"
)

// Backend is the slice of the backend client the controller calls.
type Backend interface {
	Token(ctx context.Context, username, password string) (*backend.TokenResponse, error)
	Me(ctx context.Context, bearer string) (*backend.Me, error)
	VerifyInvite(ctx context.Context, inviteToken string) (*backend.InviteVerification, error)
	SimplifiedAccess(ctx context.Context, req backend.SimplifiedAccessRequest) (*backend.TokenResponse, error)
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

const (
	defaultInactivityWindow  = 30 * time.Minute
	defaultSimplifiedMax     = 4 * time.Hour
	defaultRevalidateTimeout = 10 * time.Second
	watchRetryDelay          = time.Second
	idleLogoutTimeout        = 10 * time.Second
)

// stopper is satisfied by *time.Timer.
type stopper interface {
	Stop() bool
}

type afterFunc func(d time.Duration, f func()) stopper

func realAfterFunc(d time.Duration, f func()) stopper {
	return time.AfterFunc(d, f)
}

// Controller is safe for concurrent use. Create one per process.
type Controller struct {
	store    session.Store
	backend  Backend
	audit    *audit.Logger
	auditPub AuditPublisher
	metrics  *metrics.Metrics
	logger   *slog.Logger

	clock     func() time.Time
	afterFunc afterFunc

	inactivity        time.Duration
	simplifiedMax     time.Duration
	revalidateTimeout time.Duration

	mu       sync.Mutex
	sessions map[string]*entry
	closed   bool

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type Option func(*Controller)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

func WithAuditPublisher(p AuditPublisher) Option {
	return func(c *Controller) {
		c.auditPub = p
	}
}

// WithClock pins "now" for expiry decisions. Defaults to the request time.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		c.clock = now
	}
}

// WithInactivityWindow sets how long a regular session may stay idle.
func WithInactivityWindow(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.inactivity = d
		}
	}
}

// WithSimplifiedMaxLifetime bounds how far in the future a simplified token
// may expire when the session starts.
func WithSimplifiedMaxLifetime(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.simplifiedMax = d
		}
	}
}

func WithRevalidateTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.revalidateTimeout = d
		}
	}
}

func withAfterFunc(f afterFunc) Option {
	return func(c *Controller) {
		c.afterFunc = f
	}
}

func New(store session.Store, b Backend, opts ...Option) *Controller {
	c := &Controller{
		store:             store,
		backend:           b,
		logger:            slog.Default(),
		afterFunc:         realAfterFunc,
		inactivity:        defaultInactivityWindow,
		simplifiedMax:     defaultSimplifiedMax,
		revalidateTimeout: defaultRevalidateTimeout,
		sessions:          make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	var emitter audit.Emitter
	if c.auditPub != nil {
		emitter = c.auditPub
	}
	c.audit = audit.NewLogger(c.logger, emitter)
	c.baseCtx, c.cancel = context.WithCancel(context.Background())
	return c
}

func (c *Controller) now(ctx context.Context) time.Time {
	if c.clock != nil {
		return c.clock()
	}
	return requestcontext.Now(ctx)
}

// InactivityWindow reports the configured idle limit for regular sessions.
func (c *Controller) InactivityWindow() time.Duration {
	return c.inactivity
}

// Close stops every inactivity timer and waits for in-flight re-validations.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	for _, e := range c.sessions {
		c.stopTimerLocked(e)
	}
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}

// goBackground runs f tracked by Close. It reports false after Close.
func (c *Controller) goBackground(f func(ctx context.Context)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		f(c.baseCtx)
	}()
	return true
}
