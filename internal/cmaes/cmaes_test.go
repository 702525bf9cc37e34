package cmaes

import (
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSeedsMeanWithinBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	c := New(4, 0.3, -1, 1, rng)

	require.Len(t, c.Mean, 4)
	for i, v := range c.Mean {
		assert.GreaterOrEqual(t, v, -1.0, "mean[%d]", i)
		assert.LessOrEqual(t, v, 1.0, "mean[%d]", i)
	}
	assert.Equal(t, 0.3, c.Sigma)
}

func TestRandomClampsToUnitRange(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	c := New(3, 5, -1, 1, rng) // deliberately oversized sigma to force clamping

	for i := 0; i < 50; i++ {
		sample := c.Random()
		for j, v := range sample {
			assert.GreaterOrEqual(t, v, -1.0, "sample[%d]", j)
			assert.LessOrEqual(t, v, 1.0, "sample[%d]", j)
		}
	}
}

func TestOptimizeRejectsEmptyPopulation(t *testing.T) {
	c := New(2, 0.5, -1, 1, rand.New(rand.NewSource(3)))
	assert.ErrorIs(t, c.Optimize(nil), ErrEmptyPopulation)
}

func TestOptimizeMovesMeanTowardFitterSamples(t *testing.T) {
	rng := rand.New(rand.NewSource(4))
	c := New(2, 0.2, -0.1, 0.1, rng)
	before := append([]float64(nil), c.Mean...)

	samples := []Sample{
		{Fitness: 10, Gene: []float64{0.9, 0.9}},
		{Fitness: 9, Gene: []float64{0.8, 0.8}},
		{Fitness: 1, Gene: []float64{-0.9, -0.9}},
		{Fitness: 0, Gene: []float64{-0.8, -0.8}},
	}
	require.NoError(t, c.Optimize(samples))

	for i := range c.Mean {
		assert.Greater(t, c.Mean[i], before[i], "mean[%d] should move toward the fitter samples", i)
	}
}

func TestModelRoundTripPreservesState(t *testing.T) {
	rng := rand.New(rand.NewSource(5))
	c := New(3, 0.4, -1, 1, rng)
	_ = c.Optimize([]Sample{
		{Fitness: 5, Gene: []float64{0.5, 0.1, -0.2}},
		{Fitness: 4, Gene: []float64{0.4, 0.2, -0.1}},
		{Fitness: 1, Gene: []float64{-0.5, -0.1, 0.2}},
	})

	m := c.ToModel()
	restored, err := FromModel(m, rand.New(rand.NewSource(6)))
	require.NoError(t, err)

	assert.Equal(t, c.Mean, restored.Mean)
	assert.Equal(t, c.Sigma, restored.Sigma)
}

func TestCheckpointSaveAndLoadRoundTrips(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	c := New(2, 0.3, -1, 1, rng)
	_ = c.Optimize([]Sample{
		{Fitness: 3, Gene: []float64{0.3, 0.3}},
		{Fitness: 1, Gene: []float64{-0.3, -0.3}},
	})

	path := filepath.Join(t.TempDir(), "convex.msgpack")
	require.NoError(t, c.SaveCheckpoint(path))

	restored, err := LoadCheckpoint(path, rand.New(rand.NewSource(8)))
	require.NoError(t, err)
	assert.Equal(t, c.Mean, restored.Mean)
	assert.Equal(t, c.Sigma, restored.Sigma)
}

func TestLoadCheckpointErrorsOnMissingFile(t *testing.T) {
	_, err := LoadCheckpoint(filepath.Join(t.TempDir(), "missing.msgpack"), nil)
	assert.Error(t, err)
}
