package controller

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"genascope/internal/session"
	"genascope/internal/token"
	dErrors "genascope/pkg/domain-errors"
	fixtures "genascope/pkg/testutil"
)

func (s *ControllerSuite) login(raw string) {
	s.expectLogin(raw, "clinician")
	_, err := s.controller.Login(s.ctx, sid, "user@example.com", "correct-pass")
	s.Require().NoError(err)
}

func (s *ControllerSuite) TestLogoutIsIdempotent() {
	s.login("tok123")

	s.Require().NoError(s.controller.Logout(s.ctx, sid))
	s.Require().NoError(s.controller.Logout(s.ctx, sid))

	s.Equal(StateUnauthenticated, s.controller.Resolve(s.ctx, sid).State)
	s.Equal(0, s.store.Len())
	s.Equal([]string{"login_succeeded", "logout"}, s.events(sid))
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Logouts.WithLabelValues("explicit")))
}

func (s *ControllerSuite) TestLogoutWithoutSessionSucceeds() {
	s.NoError(s.controller.Logout(s.ctx, sid))
	s.Empty(s.events(sid))
}

func (s *ControllerSuite) TestRetireClearsReplacedSession() {
	s.login("tok123")

	s.Require().NoError(s.controller.Retire(s.ctx, sid))

	s.Equal(StateUnauthenticated, s.controller.Resolve(s.ctx, sid).State)
	s.Equal(0, s.store.Len())
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Logouts.WithLabelValues("rotated")))
}

func (s *ControllerSuite) TestRetireAnonymousSessionIsQuiet() {
	s.NoError(s.controller.Retire(s.ctx, sid))
	s.Empty(s.events(sid))
}

func (s *ControllerSuite) TestIdleLogoutFiresOnce() {
	s.login("tok123")

	s.timers.fireLast()
	s.timers.fireLast()
	s.controller.Close()

	s.Equal(StateUnauthenticated, s.controller.Resolve(s.ctx, sid).State)
	s.Equal(0, s.store.Len())
	s.Equal([]string{"login_succeeded", "logout"}, s.events(sid))
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Logouts.WithLabelValues("idle")))
}

func (s *ControllerSuite) TestTouchSupersedesPendingTimer() {
	s.login("tok123")
	s.Require().Equal(1, s.timers.armed())

	s.Require().NoError(s.controller.Touch(s.ctx, sid, ActivityKeyboard))
	s.Require().Equal(2, s.timers.armed())

	s.timers.fire(0)
	s.controller.Close()

	s.True(s.controller.Resolve(s.ctx, sid).Authenticated(), "superseded timer is a no-op")
	s.Equal(1, s.store.Len())
}

func (s *ControllerSuite) TestTouchRejectsUnknownKind() {
	err := s.controller.Touch(s.ctx, sid, ActivityKind("mousemove"))

	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *ControllerSuite) TestTouchIgnoresSimplifiedSessions() {
	raw := fixtures.SimplifiedToken(s.T(), "p-7", s.clock.Now(), time.Hour)
	s.Require().NoError(s.store.Save(s.ctx, sid, raw, session.Identity{ID: "p-7", Role: token.RolePatient}))
	s.Require().True(s.controller.Resolve(s.ctx, sid).Authenticated())

	s.Require().NoError(s.controller.Touch(s.ctx, sid, ActivityPointer))

	s.Equal(0, s.timers.armed())
}

func (s *ControllerSuite) TestRefreshIdentity() {
	s.login("tok123")
	name := "Dr. New"

	identity, err := s.controller.RefreshIdentity(s.ctx, sid, session.IdentityUpdate{Name: &name})

	s.Require().NoError(err)
	s.Equal("Dr. New", identity.Name)
	s.Equal("user@example.com", identity.Email)
	rec, err := s.store.Load(s.ctx, sid)
	s.Require().NoError(err)
	s.Equal("Dr. New", rec.Identity.Name)
	s.Equal("Dr. New", s.controller.Resolve(s.ctx, sid).Identity.Name)
	s.Equal([]string{"login_succeeded", "identity_updated"}, s.events(sid))
}

func (s *ControllerSuite) TestRefreshIdentityConflictsWithReplacedToken() {
	s.login("tok123")
	s.Require().NoError(s.store.Save(s.ctx, sid, "tok-other", session.Identity{ID: "u9"}))
	name := "Dr. New"

	_, err := s.controller.RefreshIdentity(s.ctx, sid, session.IdentityUpdate{Name: &name})

	s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	rec, err := s.store.Load(s.ctx, sid)
	s.Require().NoError(err)
	s.Equal("u9", rec.Identity.ID)
}

func (s *ControllerSuite) TestRefreshIdentityRequiresSession() {
	name := "x"
	_, err := s.controller.RefreshIdentity(s.ctx, sid, session.IdentityUpdate{Name: &name})

	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
}

func (s *ControllerSuite) TestClearFromElsewhereLogsOut() {
	s.login("tok123")

	s.controller.apply(session.Change{SessionID: sid, Kind: session.ChangeCleared, At: s.clock.Now()})

	s.Equal(StateUnauthenticated, s.controller.Resolve(s.ctx, sid).State)
}

func (s *ControllerSuite) TestNewerWriteMarksSessionForReload() {
	s.login("tok123")
	s.Require().NoError(s.store.Save(s.ctx, sid, "tok-other", session.Identity{ID: "u2", Name: "Other", Role: token.RoleAdmin}))

	s.controller.apply(session.Change{SessionID: sid, Kind: session.ChangeSaved, At: s.clock.Now().Add(time.Second)})
	v := s.controller.Resolve(s.ctx, sid)

	s.True(v.Authenticated())
	s.Equal("tok-other", v.Token)
	s.Equal(token.RoleAdmin, v.Role())
}

func (s *ControllerSuite) TestOwnWriteIsNotReloaded() {
	s.login("tok123")
	s.Require().NoError(s.store.Save(s.ctx, sid, "tok-other", session.Identity{ID: "u2"}))

	s.controller.apply(session.Change{SessionID: sid, Kind: session.ChangeSaved, At: s.clock.Now()})

	s.Equal("tok123", s.controller.Resolve(s.ctx, sid).Token)
}

// signalingStore reports when the change feed is subscribed.
type signalingStore struct {
	session.Store
	subscribed chan struct{}
}

func (w *signalingStore) Watch(ctx context.Context) (<-chan session.Change, error) {
	ch, err := w.Store.Watch(ctx)
	if err == nil {
		select {
		case w.subscribed <- struct{}{}:
		default:
		}
	}
	return ch, err
}

func (s *ControllerSuite) TestRunAppliesChangeFeed() {
	ws := &signalingStore{Store: s.store, subscribed: make(chan struct{}, 1)}
	c := New(ws, s.backend, WithLogger(discardLogger()), WithClock(s.clock.Now), withAfterFunc(s.timers.after))
	defer c.Close()
	s.expectLogin("tok123", "clinician")
	_, err := c.Login(s.ctx, sid, "user@example.com", "correct-pass")
	s.Require().NoError(err)

	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	<-ws.subscribed

	// Another tab logs out through the shared store.
	s.Require().NoError(s.store.Clear(s.ctx, sid))

	s.Eventually(func() bool {
		return c.Resolve(s.ctx, sid).State == StateUnauthenticated
	}, time.Second, 5*time.Millisecond)

	cancel()
	s.NoError(<-done)
}

func (s *ControllerSuite) TestSweepExpiresLapsedSessions() {
	raw := fixtures.RegularToken(s.T(), "u1", token.RoleClinician, s.clock.Now(), time.Minute)
	s.login(raw)

	s.clock.Advance(2 * time.Minute)
	n := s.controller.Sweep(s.ctx, s.clock.Now())

	s.Equal(1, n)
	s.Equal(0, s.store.Len())
	s.Equal([]string{"login_succeeded", "session_expired"}, s.events(sid))
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Logouts.WithLabelValues("expired")))
}

func (s *ControllerSuite) TestSweepForgetsIdleAnonymousEntries() {
	s.controller.Resolve(s.ctx, sid)
	s.Require().Equal(1, s.controller.Tracked())

	s.Equal(0, s.controller.Sweep(s.ctx, s.clock.Now().Add(time.Minute)))
	s.Equal(1, s.controller.Tracked())

	s.Equal(0, s.controller.Sweep(s.ctx, s.clock.Now().Add(s.controller.InactivityWindow()+time.Second)))
	s.Equal(0, s.controller.Tracked())
}

func (s *ControllerSuite) TestCloseStopsTimers() {
	s.login("tok123")
	s.controller.Close()

	s.timers.fireLast()

	s.True(s.controller.Resolve(s.ctx, sid).Authenticated())
}
