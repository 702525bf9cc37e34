package snowflake

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsOutOfRangeMachineID(t *testing.T) {
	_, err := New(1024)
	assert.ErrorIs(t, err, ErrMachineIDOutOfRange)

	_, err = New(-1)
	assert.ErrorIs(t, err, ErrMachineIDOutOfRange)
}

func TestGenerateStrictlyIncreasingSingleThread(t *testing.T) {
	g, err := New(1)
	require.NoError(t, err)

	var prev int64 = -1
	for i := 0; i < 10_000; i++ {
		id, err := g.Generate()
		require.NoError(t, err)
		assert.Greater(t, id, prev, "ids must be strictly increasing")
		prev = id
	}
}

func TestGenerateConcurrentUniqueness(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping high-volume concurrency test in -short mode")
	}

	g, err := New(1)
	require.NoError(t, err)

	const goroutines = 16
	const perGoroutine = 50_000

	ids := make([][]int64, goroutines)
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		i := i
		ids[i] = make([]int64, perGoroutine)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				id, err := g.Generate()
				if err != nil {
					t.Errorf("unexpected error: %v", err)
					return
				}
				ids[i][j] = id
			}
		}()
	}
	wg.Wait()

	seen := make(map[int64]struct{}, goroutines*perGoroutine)
	for _, batch := range ids {
		for _, id := range batch {
			_, dup := seen[id]
			assert.False(t, dup, "duplicate id generated: %d", id)
			seen[id] = struct{}{}
		}
	}
	assert.Len(t, seen, goroutines*perGoroutine)
}
