package controller

//go:generate mockgen -source=controller.go -destination=mocks/mocks.go -package=mocks Backend,AuditPublisher

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"genascope/internal/audit"
	"genascope/internal/auth/controller/mocks"
	"genascope/internal/auth/metrics"
	"genascope/internal/session"
)

type ControllerSuite struct {
	suite.Suite
	ctx        context.Context
	ctrl       *gomock.Controller
	backend    *mocks.MockBackend
	store      *session.InMemoryStore
	audits     *audit.InMemoryStore
	metrics    *metrics.Metrics
	clock      *testClock
	timers     *fakeTimers
	controller *Controller
}

func TestControllerSuite(t *testing.T) {
	suite.Run(t, new(ControllerSuite))
}

func (s *ControllerSuite) SetupTest() {
	s.ctx = context.Background()
	s.ctrl = gomock.NewController(s.T())
	s.backend = mocks.NewMockBackend(s.ctrl)
	s.store = session.NewInMemory(session.WithMemoryLogger(discardLogger()))
	s.audits = audit.NewInMemoryStore()
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.clock = &testClock{t: time.Now().Truncate(time.Second)}
	s.timers = &fakeTimers{}
	s.controller = s.newController()
}

func (s *ControllerSuite) newController(opts ...Option) *Controller {
	base := []Option{
		WithLogger(discardLogger()),
		WithAuditPublisher(audit.NewPublisher(s.audits)),
		WithMetrics(s.metrics),
		WithClock(s.clock.Now),
		withAfterFunc(s.timers.after),
	}
	return New(s.store, s.backend, append(base, opts...)...)
}

func (s *ControllerSuite) TearDownTest() {
	s.controller.Close()
	s.ctrl.Finish()
}

// events returns the audit actions recorded for sid.
func (s *ControllerSuite) events(sid string) []string {
	list, err := s.audits.ListBySession(s.ctx, sid)
	s.Require().NoError(err)
	out := make([]string, 0, len(list))
	for _, e := range list {
		out = append(out, e.Action)
	}
	return out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakeTimers records armed callbacks so tests fire them by hand.
type fakeTimers struct {
	mu  sync.Mutex
	fns []func()
}

type fakeTimer struct{}

func (fakeTimer) Stop() bool { return true }

func (f *fakeTimers) after(_ time.Duration, fn func()) stopper {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fns = append(f.fns, fn)
	return fakeTimer{}
}

func (f *fakeTimers) armed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fns)
}

func (f *fakeTimers) fire(i int) {
	f.mu.Lock()
	fn := f.fns[i]
	f.mu.Unlock()
	fn()
}

func (f *fakeTimers) fireLast() {
	f.fire(f.armed() - 1)
}
