package controller

import (
	"context"
	"time"

	"go.uber.org/mock/gomock"

	"genascope/internal/backend"
	"genascope/internal/session"
	"genascope/internal/token"
	dErrors "genascope/pkg/domain-errors"
	"genascope/pkg/testutil"
)

var cachedIdentity = session.Identity{ID: "u1", Email: "user@example.com", Name: "Old Name", Role: token.RoleClinician}

func (s *ControllerSuite) seed(raw string, identity session.Identity) {
	s.Require().NoError(s.store.Save(s.ctx, sid, raw, identity))
}

func (s *ControllerSuite) TestRestoreMissingSession() {
	v := s.controller.Resolve(s.ctx, sid)

	s.Equal(StateUnauthenticated, v.State)
	s.False(v.Expired)
	s.Nil(v.Identity)
}

const garbledToken = "eyJhbGciOiJIUzI1NiJ9.bm90LWpzb24.c2ln"

func (s *ControllerSuite) TestRestoreRejectsGarbledToken() {
	s.seed(garbledToken, cachedIdentity)

	v := s.controller.Resolve(s.ctx, sid)

	s.False(v.Authenticated())
	s.Equal(StateUnauthenticated, v.State)
	s.Empty(v.Token)
	s.Equal(0, s.store.Len(), "unusable record is dropped")
	s.Equal(0, s.timers.armed())
}

func (s *ControllerSuite) TestRestoreKeepsOpaqueTokenWithoutExpiry() {
	s.seed("tok123", cachedIdentity)
	s.backend.EXPECT().Me(gomock.Any(), "tok123").Return(nil, dErrors.New(dErrors.CodeNetwork, "backend unreachable"))

	v := s.controller.Resolve(s.ctx, sid)

	s.True(v.Authenticated())
	_, ok := v.Remaining(s.clock.Now())
	s.False(ok)
}

func (s *ControllerSuite) TestRestoreIsOptimisticThenRevalidates() {
	raw := testutil.RegularToken(s.T(), "u1", token.RoleClinician, s.clock.Now(), time.Hour)
	s.seed(raw, cachedIdentity)
	release := make(chan struct{})
	s.backend.EXPECT().Me(gomock.Any(), raw).DoAndReturn(func(context.Context, string) (*backend.Me, error) {
		<-release
		return &backend.Me{ID: "u1", Email: "user@example.com", Name: "New Name", Role: "clinician"}, nil
	})

	v := s.controller.Resolve(s.ctx, sid)

	s.True(v.Authenticated(), "authenticated before the backend answers")
	s.Equal("Old Name", v.Identity.Name)

	close(release)
	s.controller.Close()

	rec, err := s.store.Load(s.ctx, sid)
	s.Require().NoError(err)
	s.Equal("New Name", rec.Identity.Name)
	s.Equal("New Name", s.controller.Resolve(s.ctx, sid).Identity.Name)
}

func (s *ControllerSuite) TestRevalidationFailureKeepsSession() {
	raw := testutil.RegularToken(s.T(), "u1", token.RoleClinician, s.clock.Now(), time.Hour)
	s.seed(raw, cachedIdentity)
	s.backend.EXPECT().Me(gomock.Any(), raw).Return(nil, dErrors.New(dErrors.CodeNetwork, "backend unreachable"))

	s.controller.Resolve(s.ctx, sid)
	s.controller.Close()

	v := s.controller.Resolve(s.ctx, sid)
	s.True(v.Authenticated())
	s.Equal("Old Name", v.Identity.Name)
	rec, err := s.store.Load(s.ctx, sid)
	s.Require().NoError(err)
	s.Equal(cachedIdentity, rec.Identity)
}

func (s *ControllerSuite) TestLateRevalidationAfterLogoutIsDropped() {
	raw := testutil.RegularToken(s.T(), "u1", token.RoleClinician, s.clock.Now(), time.Hour)
	s.seed(raw, cachedIdentity)
	release := make(chan struct{})
	s.backend.EXPECT().Me(gomock.Any(), raw).DoAndReturn(func(context.Context, string) (*backend.Me, error) {
		<-release
		return &backend.Me{ID: "u1", Name: "Late", Role: "clinician"}, nil
	})

	s.controller.Resolve(s.ctx, sid)
	s.Require().NoError(s.controller.Logout(s.ctx, sid))
	close(release)
	s.controller.Close()

	s.Equal(StateUnauthenticated, s.controller.Resolve(s.ctx, sid).State)
	_, err := s.store.Load(s.ctx, sid)
	s.ErrorIs(err, session.ErrNotFound, "late identity must not resurrect the session")
}

func (s *ControllerSuite) TestLateRevalidationLosesToNewerToken() {
	raw := testutil.RegularToken(s.T(), "u1", token.RoleClinician, s.clock.Now(), time.Hour)
	s.seed(raw, cachedIdentity)
	release := make(chan struct{})
	s.backend.EXPECT().Me(gomock.Any(), raw).DoAndReturn(func(context.Context, string) (*backend.Me, error) {
		<-release
		return &backend.Me{ID: "u1", Name: "Late", Role: "clinician"}, nil
	})

	s.controller.Resolve(s.ctx, sid)
	// Another replica replaces the session while the call is in flight.
	newer := session.Identity{ID: "u2", Name: "Newer", Role: token.RoleAdmin}
	s.seed("tok-newer", newer)
	close(release)
	s.controller.Close()

	rec, err := s.store.Load(s.ctx, sid)
	s.Require().NoError(err)
	s.Equal("tok-newer", rec.Token)
	s.Equal(newer, rec.Identity)
}

func (s *ControllerSuite) TestRestoreExpiredRegularSessionClears() {
	raw := testutil.RegularToken(s.T(), "u1", token.RoleClinician, s.clock.Now(), -time.Second)
	s.seed(raw, cachedIdentity)

	v := s.controller.Resolve(s.ctx, sid)

	s.Equal(StateUnauthenticated, v.State)
	s.False(v.Expired)
	_, err := s.store.Load(s.ctx, sid)
	s.ErrorIs(err, session.ErrNotFound)
	s.Equal([]string{"session_expired"}, s.events(sid))
}

func (s *ControllerSuite) TestRestoreExpiredSimplifiedSessionIsKept() {
	raw := testutil.SimplifiedToken(s.T(), "p-7", s.clock.Now(), -time.Second)
	s.seed(raw, session.Identity{ID: "p-7", Role: token.RolePatient})

	v := s.controller.Resolve(s.ctx, sid)

	s.Equal(StateUnauthenticated, v.State)
	s.True(v.Expired)
	s.True(v.IsSimplified())
	_, err := s.store.Load(s.ctx, sid)
	s.NoError(err, "record kept so the expiry notice can render")
}

func (s *ControllerSuite) TestRestoreSimplifiedSkipsRevalidation() {
	raw := testutil.SimplifiedToken(s.T(), "p-7", s.clock.Now(), time.Hour)
	s.seed(raw, session.Identity{ID: "p-7", Role: token.RolePatient})

	v := s.controller.Resolve(s.ctx, sid)
	s.controller.Close()

	s.True(v.Authenticated())
	s.True(v.IsSimplified())
	s.Equal(0, s.timers.armed())
}

func (s *ControllerSuite) TestResolveDetectsExpiryWithoutSweep() {
	raw := testutil.RegularToken(s.T(), "u1", token.RoleClinician, s.clock.Now(), time.Minute)
	s.expectLogin(raw, "clinician")
	_, err := s.controller.Login(s.ctx, sid, "user@example.com", "correct-pass")
	s.Require().NoError(err)

	s.clock.Advance(2 * time.Minute)

	s.Equal(StateUnauthenticated, s.controller.Resolve(s.ctx, sid).State)
	s.Equal(0, s.store.Len())
}

// blockingStore holds Load until released.
type blockingStore struct {
	session.Store
	entered chan struct{}
	release chan struct{}
}

func (b *blockingStore) Load(ctx context.Context, id string) (*session.Record, error) {
	select {
	case b.entered <- struct{}{}:
	default:
	}
	<-b.release
	return b.Store.Load(ctx, id)
}

func (s *ControllerSuite) TestResolveReportsRestoringWhileInFlight() {
	raw := testutil.SimplifiedToken(s.T(), "p-7", s.clock.Now(), time.Hour)
	s.seed(raw, session.Identity{ID: "p-7", Role: token.RolePatient})
	bs := &blockingStore{Store: s.store, entered: make(chan struct{}, 1), release: make(chan struct{})}
	c := New(bs, s.backend, WithLogger(discardLogger()), WithClock(s.clock.Now), withAfterFunc(s.timers.after))
	defer c.Close()

	first := make(chan View, 1)
	go func() { first <- c.Resolve(s.ctx, sid) }()
	<-bs.entered

	s.Equal(StateRestoring, c.Resolve(s.ctx, sid).State)
	s.True(c.Resolve(s.ctx, sid).Pending())

	awaited := make(chan View, 1)
	go func() { awaited <- c.Await(s.ctx, sid) }()
	close(bs.release)

	s.True((<-first).Authenticated())
	s.True((<-awaited).Authenticated())
}

func (s *ControllerSuite) TestAwaitHonoursContext() {
	bs := &blockingStore{Store: s.store, entered: make(chan struct{}, 1), release: make(chan struct{})}
	c := New(bs, s.backend, WithLogger(discardLogger()), withAfterFunc(s.timers.after))
	defer c.Close()
	defer close(bs.release)

	go c.Resolve(s.ctx, sid)
	<-bs.entered

	ctx, cancel := context.WithTimeout(s.ctx, 10*time.Millisecond)
	defer cancel()
	s.True(c.Await(ctx, sid).Pending())
}
