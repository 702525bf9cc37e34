package lrucache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestZeroCapacityPutReturnsFalse(t *testing.T) {
	c := New[int, string](0)
	assert.False(t, c.Put(1, "a"))
	assert.Equal(t, 0, c.Len())
}

// Scenario 2 from spec.md §8: capacity=2, (1,A),(2,B), read 1, insert (3,C);
// get(2) is evicted, get(1)=A, get(3)=C.
func TestEvictionOrderingScenario(t *testing.T) {
	c := New[int, string](2)
	c.Put(1, "A")
	c.Put(2, "B")

	v, ok := c.Get(1)
	assert.True(t, ok)
	assert.Equal(t, "A", v)

	c.Put(3, "C")

	_, ok = c.Get(2)
	assert.False(t, ok, "key 2 should have been evicted")

	v, ok = c.Get(1)
	assert.True(t, ok)
	assert.Equal(t, "A", v)

	v, ok = c.Get(3)
	assert.True(t, ok)
	assert.Equal(t, "C", v)
}

func TestUpdateExistingKeyPromotes(t *testing.T) {
	c := New[int, string](2)
	c.Put(1, "A")
	c.Put(2, "B")
	c.Put(1, "A2") // update, should promote 1 and leave 2 as LRU
	c.Put(3, "C")  // should evict 2, not 1

	_, ok := c.Get(2)
	assert.False(t, ok, "key 2 should have been evicted after update promoted key 1")

	v, ok := c.Get(1)
	assert.True(t, ok)
	assert.Equal(t, "A2", v)
}

func TestEvictCallback(t *testing.T) {
	c := New[int, string](1)
	var evictedKey int
	var evictedValue string
	c.OnEvict = func(k int, v string) {
		evictedKey, evictedValue = k, v
	}
	c.Put(1, "A")
	c.Put(2, "B")

	assert.Equal(t, 1, evictedKey)
	assert.Equal(t, "A", evictedValue)
}

func TestManyEvictionsKeepVectorConsistent(t *testing.T) {
	c := New[int, int](3)
	for i := 0; i < 100; i++ {
		c.Put(i, i*10)
	}
	assert.Equal(t, 3, c.Len())
	for _, want := range []int{97, 98, 99} {
		v, ok := c.Get(want)
		assert.True(t, ok, "key %d should survive", want)
		assert.Equal(t, want*10, v)
	}
}
