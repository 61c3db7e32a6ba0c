package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryQueue(t *testing.T) {
	q := NewInMemoryQueue(3)

	require.NoError(t, q.Enqueue("a"))
	require.NoError(t, q.Enqueue("b"))
	assert.Equal(t, 2, q.Size())

	items, err := q.ReadAllMessages()
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"a", "b"}, items)
	assert.Equal(t, 0, q.Size())
}

func TestInMemoryQueue_fullRefusesWithoutBlocking(t *testing.T) {
	q := NewInMemoryQueue(1)

	require.NoError(t, q.Enqueue("a"))
	assert.Error(t, q.Enqueue("b"))
	assert.Equal(t, 1, q.Size())
}

func TestInMemoryQueue_clear(t *testing.T) {
	q := NewInMemoryQueue(4)
	require.NoError(t, q.Enqueue("a"))
	require.NoError(t, q.Enqueue("b"))

	q.ClearQueue()
	assert.Equal(t, 0, q.Size())

	items, err := q.ReadAllMessages()
	require.NoError(t, err)
	assert.Empty(t, items)
}
