package cron

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeResolver struct {
	mu    sync.Mutex
	calls int
	has   map[string]bool
	delay time.Duration
	err   error
}

func newFakeResolver(routes ...string) *fakeResolver {
	has := make(map[string]bool, len(routes))
	for _, r := range routes {
		has[r] = true
	}
	return &fakeResolver{has: has}
}

func (f *fakeResolver) Has(route string) bool { return f.has[route] }

func (f *fakeResolver) Perform(ctx context.Context, route string, args map[string]interface{}, from, to int64) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.err
}

func (f *fakeResolver) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestTickReturnsZeroWhenClockHasNotAdvanced(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	resolver := newFakeResolver("hello")
	s := New(resolver, now, zerolog.Nop())

	n, err := s.Tick(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "a non-advancing tick should fire no jobs")
}

func TestScheduleAndTickFiresEveryMinuteJob(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	resolver := newFakeResolver("sync")
	s := New(resolver, now, zerolog.Nop())

	_, err := s.Schedule("sync", "* * * * *", 5*time.Second, nil)
	require.NoError(t, err)

	// The next minute boundary is 60 seconds out; advance the clock there.
	fireAt := now.Add(60 * time.Second)
	n, err := s.Tick(context.Background(), fireAt)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	s.Stop()
	assert.Equal(t, 1, resolver.callCount())
	assert.True(t, s.Health(), "Health() should be true after a successful tick")
}

func TestTickSkipsUnresolvedRoute(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	resolver := newFakeResolver() // no routes registered
	s := New(resolver, now, zerolog.Nop())

	_, err := s.Schedule("missing", "* * * * *", time.Second, nil)
	require.NoError(t, err)

	n, err := s.Tick(context.Background(), now.Add(60*time.Second))
	require.NoError(t, err)
	assert.Equal(t, 0, n, "an unresolved route should fire no jobs")
}

func TestAtMostOneConcurrentPerFingerprint(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	resolver := newFakeResolver("slow")
	resolver.delay = 200 * time.Millisecond
	s := New(resolver, now, zerolog.Nop())

	// Two tasks with the same route and args share a fingerprint and land on
	// the same tick; the second must be skipped while the first is running.
	_, err := s.Schedule("slow", "* * * * *", 5*time.Second, nil)
	require.NoError(t, err)
	_, err = s.Schedule("slow", "* * * * *", 5*time.Second, nil)
	require.NoError(t, err)

	fireAt := now.Add(60 * time.Second)
	n, err := s.Tick(context.Background(), fireAt)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only one task per fingerprint should launch")

	_, inflightBefore, _ := s.Stats()
	assert.NotZero(t, inflightBefore, "the slow job should still be inflight immediately after firing")

	s.Stop()
	_, inflightAfter, done := s.Stats()
	assert.Equal(t, int64(0), inflightAfter, "inflight should drain to 0 after Stop")
	assert.Equal(t, int64(1), done)
}

func TestScheduleRejectsInvalidCronExpression(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	s := New(newFakeResolver(), now, zerolog.Nop())

	_, err := s.Schedule("bad", "not a cron expr", time.Second, nil)
	assert.Error(t, err, "a malformed cron expression should be rejected")
}
