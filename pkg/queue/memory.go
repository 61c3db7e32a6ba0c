package queue

import (
	"fmt"
	"sync"
)

const (
	// DefaultBufferSize is the default capacity of an in-memory queue.
	DefaultBufferSize = 1024
)

// InMemoryQueue implements an in-memory queue over a buffered channel.
type InMemoryQueue struct {
	ch   chan interface{}
	lock sync.RWMutex
}

// NewInMemoryQueue creates a new queue with the given capacity.
func NewInMemoryQueue(size int) *InMemoryQueue {
	if size <= 0 {
		size = DefaultBufferSize
	}
	return &InMemoryQueue{
		ch: make(chan interface{}, size),
	}
}

// Enqueue adds an item to the end of the queue. A full queue returns an
// error rather than blocking the caller.
func (q *InMemoryQueue) Enqueue(item interface{}) error {
	q.lock.Lock()
	defer q.lock.Unlock()
	select {
	case q.ch <- item:
		return nil
	default:
		return fmt.Errorf("queue is full (%d items)", cap(q.ch))
	}
}

// ReadAllMessages reads all pending items in the queue.
func (q *InMemoryQueue) ReadAllMessages() ([]interface{}, error) {
	q.lock.Lock()
	defer q.lock.Unlock()

	var items []interface{}
	for len(q.ch) > 0 {
		items = append(items, <-q.ch)
	}
	return items, nil
}

// Size returns the current size of the queue.
func (q *InMemoryQueue) Size() int {
	q.lock.RLock()
	defer q.lock.RUnlock()
	return len(q.ch)
}

// ClearQueue drops all pending items.
func (q *InMemoryQueue) ClearQueue() {
	q.lock.Lock()
	defer q.lock.Unlock()
	for len(q.ch) > 0 {
		<-q.ch
	}
}
