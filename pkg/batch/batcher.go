package batch

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/deckmate/tablesync/pkg/log"
	"github.com/deckmate/tablesync/pkg/messages"
)

const (
	// DefaultFlushWindow is how long messages may wait before a flush.
	DefaultFlushWindow = 50 * time.Millisecond
	// DefaultMaxBatchSize flushes a batch early once it holds this many
	// messages.
	DefaultMaxBatchSize = 10
	// DefaultCompressThreshold is the batch size above which the batch
	// payload is zstd-compressed.
	DefaultCompressThreshold = 5
)

// Priority tags an outgoing message. Critical messages bypass batching
// entirely and go out immediately.
type Priority int

const (
	PriorityNormal Priority = iota
	PriorityCritical
)

// Sender delivers one wire message to a connection.
type Sender func(msg *messages.Message) error

// Metrics tracks per-connection batching statistics.
type Metrics struct {
	BatchesSent  int64   `json:"batchesSent"`
	MessagesSent int64   `json:"messagesSent"`
	AvgBatchSize float64 `json:"avgBatchSize"`
	BytesSaved   int64   `json:"bytesSaved"`
}

type connQueue struct {
	sender  Sender
	pending []*messages.Message
	timer   *time.Timer
	metrics Metrics
}

// Batcher aggregates outgoing messages per connection within a time and
// size window. Pending messages are discarded, not delivered, when the
// connection is removed before its flush fires.
type Batcher struct {
	mu                sync.Mutex
	queues            map[string]*connQueue
	flushWindow       time.Duration
	maxBatchSize      int
	compressThreshold int
}

// NewBatcherOptions contains options for creating a new Batcher.
// Zero values fall back to defaults.
type NewBatcherOptions struct {
	FlushWindow       time.Duration
	MaxBatchSize      int
	CompressThreshold int
}

// NewBatcher creates a message batcher.
func NewBatcher(opts NewBatcherOptions) *Batcher {
	if opts.FlushWindow <= 0 {
		opts.FlushWindow = DefaultFlushWindow
	}
	if opts.MaxBatchSize <= 0 {
		opts.MaxBatchSize = DefaultMaxBatchSize
	}
	if opts.CompressThreshold <= 0 {
		opts.CompressThreshold = DefaultCompressThreshold
	}
	return &Batcher{
		queues:            make(map[string]*connQueue),
		flushWindow:       opts.FlushWindow,
		maxBatchSize:      opts.MaxBatchSize,
		compressThreshold: opts.CompressThreshold,
	}
}

// Register sets up a queue for a connection.
func (b *Batcher) Register(connectionID string, sender Sender) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queues[connectionID] = &connQueue{sender: sender}
}

// Remove drops a connection's queue. Anything still pending is
// discarded; reconnecting clients replay from their own outbound queue
// instead of relying on server-side redelivery.
func (b *Batcher) Remove(connectionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[connectionID]
	if !ok {
		return
	}
	if q.timer != nil {
		q.timer.Stop()
	}
	delete(b.queues, connectionID)
}

// Enqueue queues a message for delivery. Critical messages skip the
// queue and are sent immediately. Normal messages flush when the batch
// reaches the size threshold or when the flush window elapses,
// whichever comes first.
func (b *Batcher) Enqueue(connectionID string, msg *messages.Message, priority Priority) error {
	b.mu.Lock()
	q, ok := b.queues[connectionID]
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("no batch queue for connection %s", connectionID)
	}

	if priority == PriorityCritical {
		sender := q.sender
		b.mu.Unlock()
		return sender(msg)
	}

	q.pending = append(q.pending, msg)
	if len(q.pending) >= b.maxBatchSize {
		sender, envelope, count, saved := b.prepareLocked(connectionID, q)
		b.mu.Unlock()
		b.send(connectionID, sender, envelope, count, saved)
		return nil
	}
	if q.timer == nil {
		q.timer = time.AfterFunc(b.flushWindow, func() {
			b.Flush(connectionID)
		})
	}
	b.mu.Unlock()
	return nil
}

// Flush sends whatever is pending for the connection.
func (b *Batcher) Flush(connectionID string) {
	b.mu.Lock()
	q, ok := b.queues[connectionID]
	if !ok {
		b.mu.Unlock()
		return
	}
	sender, envelope, count, saved := b.prepareLocked(connectionID, q)
	b.mu.Unlock()
	b.send(connectionID, sender, envelope, count, saved)
}

// prepareLocked builds the batch envelope and clears the pending list.
// Caller holds the lock. The network send happens after the lock is
// released so a stalled connection cannot hold up every other one.
func (b *Batcher) prepareLocked(connectionID string, q *connQueue) (Sender, *messages.Message, int, int64) {
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
	if len(q.pending) == 0 {
		return nil, nil, 0, 0
	}

	pending := q.pending
	q.pending = nil

	envelope, saved, err := b.buildBatch(pending)
	if err != nil {
		log.Error("Failed to build batch for connection %s: %v", connectionID, err)
		return nil, nil, 0, 0
	}
	return q.sender, envelope, len(pending), saved
}

// send delivers a prepared batch and records its metrics. Called
// without the lock held.
func (b *Batcher) send(connectionID string, sender Sender, envelope *messages.Message, count int, saved int64) {
	if envelope == nil {
		return
	}
	if err := sender(envelope); err != nil {
		log.Trace("Failed to send batch to connection %s: %v", connectionID, err)
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[connectionID]
	if !ok {
		return
	}
	q.metrics.BatchesSent++
	q.metrics.MessagesSent += int64(count)
	q.metrics.AvgBatchSize = float64(q.metrics.MessagesSent) / float64(q.metrics.BatchesSent)
	q.metrics.BytesSaved += saved
}

// buildBatch produces the batch envelope, compressing the message list
// when it is large enough to be worth it. Returns the bytes saved by
// compression.
func (b *Batcher) buildBatch(pending []*messages.Message) (*messages.Message, int64, error) {
	batch := messages.Batch{
		Timestamp: time.Now().UnixMilli(),
	}

	var saved int64
	if len(pending) > b.compressThreshold {
		raw, err := json.Marshal(pending)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to serialize batch messages: %w", err)
		}
		compressed, err := compress(raw)
		if err != nil {
			return nil, 0, err
		}
		if len(compressed) < len(raw) {
			batch.Compressed = compressed
			saved = int64(len(raw) - len(compressed))
		} else {
			batch.Messages = pending
		}
	} else {
		batch.Messages = pending
	}

	envelope, err := messages.New(messages.MessageTypeBatch, batch)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build batch envelope: %w", err)
	}
	return envelope, saved, nil
}

// MetricsFor returns a copy of the connection's batching metrics.
func (b *Batcher) MetricsFor(connectionID string) (Metrics, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q, ok := b.queues[connectionID]
	if !ok {
		return Metrics{}, false
	}
	return q.metrics, true
}

func compress(data []byte) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	writer, err := zstd.NewWriter(buf, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd writer: %w", err)
	}
	if _, err := writer.Write(data); err != nil {
		return nil, fmt.Errorf("failed to compress batch: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close zstd writer: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress expands a compressed batch payload back into its message
// list. Used by clients receiving compressed batches.
func Decompress(data []byte) ([]*messages.Message, error) {
	reader, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd reader: %w", err)
	}
	defer reader.Close()

	var msgs []*messages.Message
	if err := json.NewDecoder(reader).Decode(&msgs); err != nil {
		return nil, fmt.Errorf("failed to decode batch messages: %w", err)
	}
	return msgs, nil
}
