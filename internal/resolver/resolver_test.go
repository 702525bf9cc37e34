package resolver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveReplacesPriorEntry(t *testing.T) {
	r := New()
	calls := 0
	r.Resolve("sync", func(ctx context.Context, args map[string]interface{}, from, to int64) error {
		calls = 1
		return nil
	})
	r.Resolve("sync", func(ctx context.Context, args map[string]interface{}, from, to int64) error {
		calls = 2
		return nil
	})

	require.NoError(t, r.Perform(context.Background(), "sync", nil, -1, -1))
	assert.Equal(t, 2, calls, "the second registration should win")
}

func TestCommandsListsAlphabetically(t *testing.T) {
	r := New()
	r.Resolve("zeta", func(context.Context, map[string]interface{}, int64, int64) error { return nil })
	r.Resolve("alpha", func(context.Context, map[string]interface{}, int64, int64) error { return nil })
	r.Resolve("mid", func(context.Context, map[string]interface{}, int64, int64) error { return nil })

	assert.Equal(t, []string{"alpha", "mid", "zeta"}, r.Commands())
}

func TestPerformUnknownRouteErrors(t *testing.T) {
	r := New()
	err := r.Perform(context.Background(), "missing", nil, -1, -1)
	assert.Error(t, err)
}

func TestPerformBatchSkipsUnknownRoutesAndDoesNotCountThem(t *testing.T) {
	r := New()
	var invoked []string
	r.Resolve("known", func(ctx context.Context, args map[string]interface{}, from, to int64) error {
		invoked = append(invoked, "known")
		return nil
	})

	tasks := []Task{
		{Route: "known", Timeout: time.Second},
		{Route: "unknown", Timeout: time.Second},
	}

	count := r.PerformBatch(context.Background(), tasks, -1, -1)
	assert.Equal(t, 1, count, "unknown route should not be counted")
	assert.Equal(t, []string{"known"}, invoked)
}

func TestPerformBatchRespectsPerTaskTimeout(t *testing.T) {
	r := New()
	r.Resolve("slow", func(ctx context.Context, args map[string]interface{}, from, to int64) error {
		select {
		case <-time.After(100 * time.Millisecond):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	tasks := []Task{{Route: "slow", Timeout: 10 * time.Millisecond}}
	count := r.PerformBatch(context.Background(), tasks, -1, -1)
	assert.Equal(t, 1, count, "the timed-out task should still count as invoked")
}

func TestHasReflectsRegistrationState(t *testing.T) {
	r := New()
	assert.False(t, r.Has("x"))
	r.Resolve("x", func(context.Context, map[string]interface{}, int64, int64) error { return nil })
	assert.True(t, r.Has("x"))
}

var errBoom = errors.New("boom")

func TestPerformPropagatesHandlerError(t *testing.T) {
	r := New()
	r.Resolve("fails", func(context.Context, map[string]interface{}, int64, int64) error { return errBoom })
	err := r.Perform(context.Background(), "fails", nil, -1, -1)
	assert.ErrorIs(t, err, errBoom)
}
