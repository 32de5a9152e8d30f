package cleanup

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"genascope/internal/session"
	"genascope/internal/token"
	"genascope/pkg/requestcontext"
	"genascope/pkg/testutil"
)

type stubSweeper struct {
	expired int
	calls   atomic.Int32
	at      time.Time
}

func (s *stubSweeper) Sweep(_ context.Context, now time.Time) int {
	s.calls.Add(1)
	s.at = now
	return s.expired
}

type failingStore struct{}

func (failingStore) DeleteExpired(context.Context, time.Time) (int, error) {
	return 0, errors.New("connection reset")
}

func TestCleanupService_RunOnce(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), now)

	store := session.NewInMemory(session.WithMemoryRetention(0, time.Hour))
	require.NoError(t, store.Save(ctx, "short", testutil.RegularToken(t, "u1", token.RoleClinician, now, 10*time.Minute), session.Identity{ID: "u1"}))
	require.NoError(t, store.Save(ctx, "long", testutil.RegularToken(t, "u2", token.RoleAdmin, now, 2*time.Hour), session.Identity{ID: "u2"}))

	sweeper := &stubSweeper{expired: 1}
	later := now.Add(30 * time.Minute)
	svc, err := New(store, sweeper, WithCleanupClock(func() time.Time { return later }))
	require.NoError(t, err)

	res, err := svc.RunOnce(context.Background())

	require.NoError(t, err)
	assert.Equal(t, CleanupResult{DeletedRecords: 1, ExpiredSessions: 1}, res)
	assert.Equal(t, later, sweeper.at)
	assert.Equal(t, 1, store.Len())
	_, err = store.Load(ctx, "long")
	assert.NoError(t, err)
}

func TestCleanupService_RunOnceStoreFailure(t *testing.T) {
	sweeper := &stubSweeper{expired: 2}
	svc, err := New(failingStore{}, sweeper)
	require.NoError(t, err)

	res, err := svc.RunOnce(context.Background())

	require.ErrorContains(t, err, "delete expired sessions")
	assert.Equal(t, 2, res.ExpiredSessions)
	assert.Zero(t, res.DeletedRecords)
}

func TestCleanupService_New(t *testing.T) {
	_, err := New(nil, &stubSweeper{})
	require.Error(t, err)
	_, err = New(session.NewInMemory(), nil)
	require.Error(t, err)
}

func TestCleanupService_StartRunsUntilCancelled(t *testing.T) {
	sweeper := &stubSweeper{}
	svc, err := New(session.NewInMemory(), sweeper, WithCleanupInterval(5*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Start(ctx) }()

	require.Eventually(t, func() bool { return sweeper.calls.Load() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cleanup did not stop")
	}
}
