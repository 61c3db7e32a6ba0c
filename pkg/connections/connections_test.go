package connections

import (
	"sync"
	"testing"
	"time"

	"github.com/deckmate/tablesync/pkg/messages"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu     sync.Mutex
	sent   []*messages.Message
	closed bool
}

func (f *fakeConn) Send(msg *messages.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) lastMessage() *messages.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return nil
	}
	return f.sent[len(f.sent)-1]
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func TestRegistry_perUserCapEvictsOldest(t *testing.T) {
	r := NewRegistry(NewRegistryOptions{PerUserLimit: 3})

	conns := make([]*fakeConn, 4)
	ids := make([]string, 4)
	for i := range conns {
		conns[i] = &fakeConn{}
		id, err := r.Register(conns[i], "alice", time.Time{})
		require.NoError(t, err)
		ids[i] = id
	}

	// The first connection was evicted to make room for the fourth.
	assert.Equal(t, 3, r.Count())
	_, ok := r.Get(ids[0])
	assert.False(t, ok)
	assert.True(t, conns[0].isClosed())

	closeMsg := conns[0].lastMessage()
	require.NotNil(t, closeMsg)
	assert.Equal(t, messages.MessageTypeClose, closeMsg.Type)

	assert.Equal(t, ids[1:], r.ForUser("alice"))
}

func TestRegistry_globalCapRefuses(t *testing.T) {
	r := NewRegistry(NewRegistryOptions{GlobalLimit: 2})

	_, err := r.Register(&fakeConn{}, "alice", time.Time{})
	require.NoError(t, err)
	_, err = r.Register(&fakeConn{}, "bob", time.Time{})
	require.NoError(t, err)

	// Nothing is evicted at the global cap.
	_, err = r.Register(&fakeConn{}, "carol", time.Time{})
	assert.ErrorIs(t, err, ErrRegistryFull)
	assert.Equal(t, 2, r.Count())
}

func TestRegistry_removeFiresHandler(t *testing.T) {
	var removed []string
	r := NewRegistry(NewRegistryOptions{
		OnRemove: func(c *Connection) {
			removed = append(removed, c.ID)
		},
	})

	id, err := r.Register(&fakeConn{}, "alice", time.Time{})
	require.NoError(t, err)

	r.Remove(id)
	assert.Equal(t, []string{id}, removed)
	assert.Equal(t, 0, r.Count())

	// Removing again is a no-op.
	r.Remove(id)
	assert.Len(t, removed, 1)
}

func TestRegistry_sweepStale(t *testing.T) {
	r := NewRegistry(NewRegistryOptions{
		StaleAfter:       50 * time.Millisecond,
		HeartbeatTimeout: 50 * time.Millisecond,
	})

	staleConn := &fakeConn{}
	staleID, err := r.Register(staleConn, "alice", time.Time{})
	require.NoError(t, err)
	freshConn := &fakeConn{}
	freshID, err := r.Register(freshConn, "bob", time.Time{})
	require.NoError(t, err)

	time.Sleep(60 * time.Millisecond)
	require.NoError(t, r.Heartbeat(freshID))

	swept := r.SweepStale()
	assert.Equal(t, 1, swept)
	_, ok := r.Get(staleID)
	assert.False(t, ok)
	_, ok = r.Get(freshID)
	assert.True(t, ok)
	assert.True(t, staleConn.isClosed())
	assert.False(t, freshConn.isClosed())
}

func TestRegistry_sweepAuthExpired(t *testing.T) {
	r := NewRegistry(NewRegistryOptions{})

	conn := &fakeConn{}
	id, err := r.Register(conn, "alice", time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.True(t, r.IsAuthExpired(id))

	swept := r.SweepStale()
	assert.Equal(t, 1, swept)

	closeMsg := conn.lastMessage()
	require.NotNil(t, closeMsg)
	var payload messages.Close
	require.NoError(t, messages.DecodePayload(closeMsg, &payload))
	assert.Equal(t, messages.CloseReasonAuthExpired, payload.Reason)
}

func TestRegistry_sendAndRoomTracking(t *testing.T) {
	r := NewRegistry(NewRegistryOptions{})

	conn := &fakeConn{}
	id, err := r.Register(conn, "alice", time.Time{})
	require.NoError(t, err)

	r.SetRoom(id, "session-1")
	c, ok := r.Get(id)
	require.True(t, ok)
	assert.Equal(t, "session-1", c.RoomID)

	msg, err := messages.New(messages.MessageTypePing, nil)
	require.NoError(t, err)
	require.NoError(t, r.Send(id, msg))
	assert.Equal(t, messages.MessageTypePing, conn.lastMessage().Type)

	err = r.Send("nope", msg)
	assert.ErrorIs(t, err, ErrConnectionNotFound)
}
