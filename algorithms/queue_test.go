package algorithms

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/distcodep7/conference/lamport"
)

func TestPendingQueue_Order(t *testing.T) {
	q := NewPendingQueue(4)
	for _, ts := range []lamport.Timestamp{
		{Time: 7, ID: 0},
		{Time: 3, ID: 2},
		{Time: 3, ID: 1},
		{Time: 5, ID: 3},
	} {
		require.NoError(t, q.Push(ts))
	}

	want := []lamport.Timestamp{{Time: 3, ID: 1}, {Time: 3, ID: 2}, {Time: 5, ID: 3}, {Time: 7, ID: 0}}
	assert.Equal(t, want, q.Order())
	assert.Equal(t, 4, q.Len(), "Order must not consume the queue")

	for _, ts := range want {
		head, ok := q.Peek()
		require.True(t, ok)
		assert.Equal(t, ts, head)

		popped, ok := q.Pop()
		require.True(t, ok)
		assert.Equal(t, ts, popped)
	}

	_, ok := q.Pop()
	assert.False(t, ok)
	_, ok = q.Peek()
	assert.False(t, ok)
}

func TestPendingQueue_DuplicateSender(t *testing.T) {
	q := NewPendingQueue(2)
	require.NoError(t, q.Push(lamport.Timestamp{Time: 1, ID: 4}))

	err := q.Push(lamport.Timestamp{Time: 9, ID: 4})
	assert.ErrorIs(t, err, ErrProtocolViolation)
	assert.Equal(t, 1, q.Len())

	// A popped sender still counts for the rest of the round.
	q.Pop()
	assert.ErrorIs(t, q.Push(lamport.Timestamp{Time: 2, ID: 4}), ErrProtocolViolation)
}

func TestTable_DetectsSecondOccupant(t *testing.T) {
	table := &Table{}
	table.busy.Store(true)
	table.occupant.Store(2)

	err := table.Use(t.Context(), 1, 3, 0)
	assert.ErrorIs(t, err, ErrMutualExclusion)
	assert.Contains(t, err.Error(), "peer 2")
	assert.Zero(t, table.Admissions())

	table.busy.Store(false)
	require.NoError(t, table.Use(t.Context(), 1, 3, 0))
	assert.Equal(t, 1, table.Admissions())
}
