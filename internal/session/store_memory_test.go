package session

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"genascope/internal/token"
	"genascope/pkg/requestcontext"
	"genascope/pkg/testutil"
)

type InMemoryStoreSuite struct {
	suite.Suite
	store  *InMemoryStore
	logs   *bytes.Buffer
	now    time.Time
	ctx    context.Context
	cancel context.CancelFunc
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.logs = &bytes.Buffer{}
	s.store = NewInMemory(
		WithMemoryLogger(slog.New(slog.NewJSONHandler(s.logs, nil))),
		WithMemoryRetention(time.Hour, 24*time.Hour),
	)
	s.now = time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	s.ctx, s.cancel = context.WithCancel(requestcontext.WithTime(context.Background(), s.now))
}

func (s *InMemoryStoreSuite) TearDownTest() {
	s.cancel()
}

func (s *InMemoryStoreSuite) identity() Identity {
	return Identity{ID: "u1", Email: "user@example.com", Name: "U", Role: token.RoleClinician}
}

func (s *InMemoryStoreSuite) TestSaveLoadRoundTrip() {
	raw := testutil.RegularToken(s.T(), "u1", token.RoleClinician, s.now, time.Hour)

	s.Require().NoError(s.store.Save(s.ctx, "sid-1", raw, s.identity()))
	rec, err := s.store.Load(s.ctx, "sid-1")

	s.Require().NoError(err)
	s.Equal(raw, rec.Token)
	s.Equal(s.identity(), rec.Identity)
	s.Equal(s.now, rec.SavedAt)
}

func (s *InMemoryStoreSuite) TestLoadMissing() {
	_, err := s.store.Load(s.ctx, "nope")
	s.ErrorIs(err, ErrNotFound)
}

func (s *InMemoryStoreSuite) TestClearThenLoadNotFound() {
	raw := testutil.RegularToken(s.T(), "u1", token.RoleClinician, s.now, time.Hour)
	s.Require().NoError(s.store.Save(s.ctx, "sid-1", raw, s.identity()))

	s.Require().NoError(s.store.Clear(s.ctx, "sid-1"))
	s.Require().NoError(s.store.Clear(s.ctx, "sid-1"), "clear is idempotent")

	_, err := s.store.Load(s.ctx, "sid-1")
	s.ErrorIs(err, ErrNotFound)
}

func (s *InMemoryStoreSuite) TestCorruptIdentityIsDroppedAndLogged() {
	raw := testutil.RegularToken(s.T(), "u1", token.RoleClinician, s.now, time.Hour)
	s.Require().NoError(s.store.Save(s.ctx, "sid-1", raw, s.identity()))
	s.store.sessions["sid-1"].identity = []byte("{not json")

	_, err := s.store.Load(s.ctx, "sid-1")

	s.ErrorIs(err, ErrNotFound)
	s.Contains(s.logs.String(), "session identity corrupt")
	s.Nil(s.store.sessions["sid-1"].identity)
	s.Equal(raw, s.store.sessions["sid-1"].token)

	_, err = s.store.Load(s.ctx, "sid-1")
	s.ErrorIs(err, ErrNotFound, "stays logged out on the next load")
}

func (s *InMemoryStoreSuite) TestUpdateIdentityCompareAndSet() {
	raw := testutil.RegularToken(s.T(), "u1", token.RoleClinician, s.now, time.Hour)
	s.Require().NoError(s.store.Save(s.ctx, "sid-1", raw, s.identity()))

	updated := s.identity()
	updated.Name = "Dr. U"

	s.Run("matching token writes", func() {
		s.Require().NoError(s.store.UpdateIdentity(s.ctx, "sid-1", raw, updated))
		rec, err := s.store.Load(s.ctx, "sid-1")
		s.Require().NoError(err)
		s.Equal("Dr. U", rec.Identity.Name)
	})

	s.Run("superseded token is stale", func() {
		err := s.store.UpdateIdentity(s.ctx, "sid-1", "older-token", s.identity())
		s.ErrorIs(err, ErrStale)
	})

	s.Run("cleared session is stale", func() {
		s.Require().NoError(s.store.Clear(s.ctx, "sid-1"))
		err := s.store.UpdateIdentity(s.ctx, "sid-1", raw, updated)
		s.ErrorIs(err, ErrStale)
	})
}

func (s *InMemoryStoreSuite) TestConcurrentUpdatesAgainstReplacedToken() {
	first := testutil.RegularToken(s.T(), "u1", token.RoleClinician, s.now, time.Hour)
	second := testutil.RegularToken(s.T(), "u1", token.RoleClinician, s.now, 2*time.Hour)
	s.Require().NoError(s.store.Save(s.ctx, "sid-1", second, s.identity()))

	result := testutil.RunConcurrent(10, func(idx int) error {
		expected := first
		if idx%2 == 0 {
			expected = second
		}
		return s.store.UpdateIdentity(s.ctx, "sid-1", expected, s.identity())
	})

	s.EqualValues(5, result.Successes)
	s.EqualValues(5, result.Stale)
}

func (s *InMemoryStoreSuite) TestWatchDeliversChanges() {
	feed, err := s.store.Watch(s.ctx)
	s.Require().NoError(err)

	raw := testutil.RegularToken(s.T(), "u1", token.RoleClinician, s.now, time.Hour)
	s.Require().NoError(s.store.Save(s.ctx, "sid-1", raw, s.identity()))
	s.Require().NoError(s.store.UpdateIdentity(s.ctx, "sid-1", raw, s.identity()))
	s.Require().NoError(s.store.Clear(s.ctx, "sid-1"))

	var kinds []ChangeKind
	for range 3 {
		select {
		case c := <-feed:
			s.Equal("sid-1", c.SessionID)
			kinds = append(kinds, c.Kind)
		case <-time.After(time.Second):
			s.FailNow("timed out waiting for change")
		}
	}
	s.Equal([]ChangeKind{ChangeSaved, ChangeIdentity, ChangeCleared}, kinds)
}

func (s *InMemoryStoreSuite) TestWatchClosesOnCancel() {
	ctx, cancel := context.WithCancel(s.ctx)
	feed, err := s.store.Watch(ctx)
	s.Require().NoError(err)

	cancel()

	s.Eventually(func() bool {
		select {
		case _, ok := <-feed:
			return !ok
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)
}

func (s *InMemoryStoreSuite) TestDeleteExpiredKeepsGraceForExpiredTokens() {
	expired := testutil.SimplifiedToken(s.T(), "p1", s.now, -time.Second)
	live := testutil.RegularToken(s.T(), "u1", token.RoleClinician, s.now, 3*time.Hour)
	noExp := testutil.TokenWithoutExpiry(s.T(), "u2", token.RoleAdmin)
	s.Require().NoError(s.store.Save(s.ctx, "expired", expired, s.identity()))
	s.Require().NoError(s.store.Save(s.ctx, "live", live, s.identity()))
	s.Require().NoError(s.store.Save(s.ctx, "no-exp", noExp, s.identity()))

	n, err := s.store.DeleteExpired(s.ctx, s.now.Add(30*time.Minute))
	s.Require().NoError(err)
	s.Zero(n, "expired simplified record kept within grace")

	n, err = s.store.DeleteExpired(s.ctx, s.now.Add(2*time.Hour))
	s.Require().NoError(err)
	s.Equal(1, n)
	s.Equal(2, s.store.Len())

	n, err = s.store.DeleteExpired(s.ctx, s.now.Add(25*time.Hour))
	s.Require().NoError(err)
	s.Equal(2, n)
}
