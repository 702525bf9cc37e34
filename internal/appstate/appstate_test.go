package appstate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeScheduler struct {
	fired           int
	tickErr         error
	healthy         bool
	tick, inf, done int64
}

func (f *fakeScheduler) Tick(ctx context.Context, now time.Time) (int, error) {
	return f.fired, f.tickErr
}
func (f *fakeScheduler) Health() bool                     { return f.healthy }
func (f *fakeScheduler) Stats() (int64, int64, int64)     { return f.tick, f.inf, f.done }

type fakeProbe struct{ err error }

func (p fakeProbe) Probe(ctx context.Context) error { return p.err }

func TestTickForwardsUnlessLocked(t *testing.T) {
	sched := &fakeScheduler{fired: 2, healthy: true}
	s := New(Config{Scheduler: sched}, zerolog.Nop())

	fired, err := s.Tick(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, fired)

	s.Lock()
	fired, err = s.Tick(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, fired, "locked tick should be suppressed")
}

func TestRecentTicksBoundedByTimeframe(t *testing.T) {
	sched := &fakeScheduler{healthy: true}
	s := New(Config{Scheduler: sched, Timeframe: 3}, zerolog.Nop())

	base := time.Unix(1000, 0)
	for i := 0; i < 5; i++ {
		_, err := s.Tick(context.Background(), base.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
	}

	ticks := s.RecentTicks()
	require.Len(t, ticks, 3, "expected 3 recent ticks after overflow")
	assert.Equal(t, base.Add(4*time.Second).Unix(), ticks[len(ticks)-1], "newest tick should be last")
}

func TestCheckFailsWhenProbeErrors(t *testing.T) {
	sched := &fakeScheduler{healthy: true}
	s := New(Config{
		Scheduler: sched,
		Probes:    map[string]Prober{"db": fakeProbe{err: errors.New("down")}},
	}, zerolog.Nop())
	_, _ = s.Tick(context.Background(), time.Now())

	h := s.Check(context.Background())
	assert.False(t, h.Status, "Status should be false when a probe fails")
}

func TestCheckFailsWhenInflightExceedsMax(t *testing.T) {
	sched := &fakeScheduler{healthy: true, inf: 10, done: 0}
	s := New(Config{Scheduler: sched, MaxInflight: 5}, zerolog.Nop())
	_, _ = s.Tick(context.Background(), time.Now())

	h := s.Check(context.Background())
	assert.False(t, h.Status, "Status should be false when inflight-done exceeds MaxInflight")
}

func TestCheckOKWhenFreshAndNoProbesFail(t *testing.T) {
	sched := &fakeScheduler{healthy: true}
	s := New(Config{
		Scheduler: sched,
		Probes:    map[string]Prober{"db": fakeProbe{}},
	}, zerolog.Nop())
	_, _ = s.Tick(context.Background(), time.Now())

	h := s.Check(context.Background())
	assert.True(t, h.Status, "Status should be true when fresh, within bounds, and probes pass")
}
