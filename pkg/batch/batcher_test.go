package batch

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/deckmate/tablesync/pkg/messages"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSender struct {
	mu   sync.Mutex
	sent []*messages.Message
}

func (c *captureSender) send(msg *messages.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return nil
}

func (c *captureSender) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

func (c *captureSender) last() *messages.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		return nil
	}
	return c.sent[len(c.sent)-1]
}

func pingMsg(t *testing.T) *messages.Message {
	t.Helper()
	msg, err := messages.New(messages.MessageTypePing, nil)
	require.NoError(t, err)
	return msg
}

func TestBatcher_sizeTriggeredFlush(t *testing.T) {
	b := NewBatcher(NewBatcherOptions{
		FlushWindow:  time.Hour, // never fires in this test
		MaxBatchSize: 3,
	})
	sender := &captureSender{}
	b.Register("conn-1", sender.send)

	require.NoError(t, b.Enqueue("conn-1", pingMsg(t), PriorityNormal))
	require.NoError(t, b.Enqueue("conn-1", pingMsg(t), PriorityNormal))
	assert.Equal(t, 0, sender.count())

	require.NoError(t, b.Enqueue("conn-1", pingMsg(t), PriorityNormal))
	require.Equal(t, 1, sender.count())

	envelope := sender.last()
	assert.Equal(t, messages.MessageTypeBatch, envelope.Type)
	var payload messages.Batch
	require.NoError(t, messages.DecodePayload(envelope, &payload))
	assert.Len(t, payload.Messages, 3)
	assert.Empty(t, payload.Compressed)
}

func TestBatcher_windowTriggeredFlush(t *testing.T) {
	b := NewBatcher(NewBatcherOptions{
		FlushWindow:  20 * time.Millisecond,
		MaxBatchSize: 100,
	})
	sender := &captureSender{}
	b.Register("conn-1", sender.send)

	require.NoError(t, b.Enqueue("conn-1", pingMsg(t), PriorityNormal))
	assert.Equal(t, 0, sender.count())

	assert.Eventually(t, func() bool {
		return sender.count() == 1
	}, time.Second, 5*time.Millisecond)
}

func TestBatcher_criticalBypassesQueue(t *testing.T) {
	b := NewBatcher(NewBatcherOptions{
		FlushWindow:  time.Hour,
		MaxBatchSize: 100,
	})
	sender := &captureSender{}
	b.Register("conn-1", sender.send)

	require.NoError(t, b.Enqueue("conn-1", pingMsg(t), PriorityNormal))

	msg, err := messages.New(messages.MessageTypeClose, messages.Close{Reason: messages.CloseReasonStale})
	require.NoError(t, err)
	require.NoError(t, b.Enqueue("conn-1", msg, PriorityCritical))

	// The critical message went out alone; the normal one is still
	// queued.
	require.Equal(t, 1, sender.count())
	assert.Equal(t, messages.MessageTypeClose, sender.last().Type)
}

func TestBatcher_compressionRoundTrip(t *testing.T) {
	b := NewBatcher(NewBatcherOptions{
		FlushWindow:       time.Hour,
		MaxBatchSize:      100,
		CompressThreshold: 2,
	})
	sender := &captureSender{}
	b.Register("conn-1", sender.send)

	// Repetitive payloads compress well, so the compressed path is
	// taken deterministically.
	filler := strings.Repeat("tablesync ", 100)
	for i := 0; i < 8; i++ {
		msg, err := messages.New(messages.MessageTypeStateSync, messages.StateSync{
			SyncType:  messages.SyncTypeFull,
			Timestamp: int64(i),
			Delta:     []byte(`"` + filler + `"`),
		})
		require.NoError(t, err)
		require.NoError(t, b.Enqueue("conn-1", msg, PriorityNormal))
	}
	b.Flush("conn-1")

	require.Equal(t, 1, sender.count())
	var payload messages.Batch
	require.NoError(t, messages.DecodePayload(sender.last(), &payload))
	require.NotEmpty(t, payload.Compressed)
	assert.Empty(t, payload.Messages)

	unpacked, err := Decompress(payload.Compressed)
	require.NoError(t, err)
	require.Len(t, unpacked, 8)
	assert.Equal(t, messages.MessageTypeStateSync, unpacked[0].Type)

	metrics, ok := b.MetricsFor("conn-1")
	require.True(t, ok)
	assert.Equal(t, int64(1), metrics.BatchesSent)
	assert.Equal(t, int64(8), metrics.MessagesSent)
	assert.Equal(t, float64(8), metrics.AvgBatchSize)
	assert.Greater(t, metrics.BytesSaved, int64(0))
}

func TestBatcher_stalledConnectionDoesNotBlockOthers(t *testing.T) {
	b := NewBatcher(NewBatcherOptions{
		FlushWindow:  time.Hour,
		MaxBatchSize: 2,
	})

	// The slow sender parks inside its network write, simulating a
	// client that has stopped reading.
	release := make(chan struct{})
	stalled := make(chan struct{})
	b.Register("slow", func(msg *messages.Message) error {
		close(stalled)
		<-release
		return nil
	})
	fast := &captureSender{}
	b.Register("fast", fast.send)

	msg := pingMsg(t)
	go func() {
		assert.NoError(t, b.Enqueue("slow", msg, PriorityNormal))
		assert.NoError(t, b.Enqueue("slow", msg, PriorityNormal))
	}()
	<-stalled

	// Traffic for other connections keeps flowing while the slow send
	// is still in flight.
	done := make(chan struct{})
	go func() {
		assert.NoError(t, b.Enqueue("fast", msg, PriorityNormal))
		assert.NoError(t, b.Enqueue("fast", msg, PriorityNormal))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("enqueue for an unrelated connection blocked behind a stalled send")
	}
	assert.Equal(t, 1, fast.count())
	close(release)
}

func TestBatcher_removeDiscardsPending(t *testing.T) {
	b := NewBatcher(NewBatcherOptions{
		FlushWindow:  20 * time.Millisecond,
		MaxBatchSize: 100,
	})
	sender := &captureSender{}
	b.Register("conn-1", sender.send)

	require.NoError(t, b.Enqueue("conn-1", pingMsg(t), PriorityNormal))
	b.Remove("conn-1")

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, sender.count())

	err := b.Enqueue("conn-1", pingMsg(t), PriorityNormal)
	assert.Error(t, err)
}
