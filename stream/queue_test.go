package stream

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestQueueInsertOrdersByExtendedSeq(t *testing.T) {
	q := NewQueue(4)
	require.True(t, q.Insert(3, 300, []float64{3}))
	require.True(t, q.Insert(1, 100, []float64{1}))
	require.True(t, q.Insert(2, 200, []float64{2}))

	idx, playout, ok := q.Head()
	require.True(t, ok)
	require.Equal(t, uint32(100), playout)

	idx, playout, ok = q.Next(idx)
	require.True(t, ok)
	require.Equal(t, uint32(200), playout)

	_, playout, ok = q.Next(idx)
	require.True(t, ok)
	require.Equal(t, uint32(300), playout)
}

func TestQueueDropsExactDuplicate(t *testing.T) {
	q := NewQueue(4)
	require.True(t, q.Insert(1, 100, []float64{1}))
	require.True(t, q.Insert(1, 999, []float64{9}))
	require.Equal(t, 1, q.Len())
	_, playout, _ := q.Head()
	require.Equal(t, uint32(100), playout)
}

func TestQueueReclaimsUsedOnInsert(t *testing.T) {
	q := NewQueue(2)
	require.True(t, q.Insert(1, 100, []float64{1}))
	idx, _, _ := q.Head()
	q.MarkUsed(idx)

	require.True(t, q.Insert(2, 200, []float64{2}))
	require.True(t, q.Insert(3, 300, []float64{3}))
	require.Equal(t, 2, q.Len())
}

func TestQueueFullRejectsInsert(t *testing.T) {
	q := NewQueue(1)
	require.True(t, q.Insert(1, 100, []float64{1}))
	require.False(t, q.Insert(2, 200, []float64{2}))
}

func TestQueuePayloadRoundTrip(t *testing.T) {
	q := NewQueue(2)
	payload := []float64{1, 2, 3}
	q.Insert(5, 500, payload)
	idx, _, ok := q.Head()
	require.True(t, ok)
	require.Equal(t, payload, q.Payload(idx))
}
