package heap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderingByTickThenID(t *testing.T) {
	timer := New()
	timer.Push(&Task{ID: 2, NextFireTick: 5})
	timer.Push(&Task{ID: 1, NextFireTick: 5})
	timer.Push(&Task{ID: 3, NextFireTick: 1})

	first := timer.Pop()
	require.NotNil(t, first)
	assert.Equal(t, int64(3), first.ID)
	assert.Equal(t, int64(1), first.NextFireTick)

	second := timer.Pop()
	require.NotNil(t, second)
	assert.Equal(t, int64(1), second.ID, "tie should break toward the smaller id")

	third := timer.Pop()
	require.NotNil(t, third)
	assert.Equal(t, int64(2), third.ID)

	assert.Nil(t, timer.Pop(), "empty heap should return nil")
}

func TestPeekDoesNotRemove(t *testing.T) {
	timer := New()
	timer.Push(&Task{ID: 1, NextFireTick: 10})

	peeked := timer.Peek()
	require.NotNil(t, peeked)
	assert.Equal(t, int64(1), peeked.ID)
	assert.Equal(t, 1, timer.Len(), "peek should leave the heap untouched")
}

func TestEmptyTimer(t *testing.T) {
	timer := New()
	assert.Nil(t, timer.Peek())
	assert.Nil(t, timer.Pop())
}
