package client

import (
	"testing"

	"github.com/deckmate/tablesync/pkg/game/types"
	"github.com/deckmate/tablesync/pkg/messages"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDisconnectedClient(maxPending int) *Client {
	return NewClient(NewClientOptions{
		ServerURL:  "ws://localhost:0",
		UserID:     "alice",
		SessionID:  "session-1",
		GameType:   "arcanum",
		MaxPending: maxPending,
	})
}

func TestClient_startsDisconnected(t *testing.T) {
	c := newDisconnectedClient(0)
	assert.Equal(t, StateDisconnected, c.State())
	assert.Equal(t, 0, c.PendingCount())
}

func TestClient_pendingQueueCap(t *testing.T) {
	c := newDisconnectedClient(3)

	for i := 0; i < 3; i++ {
		err := c.SubmitAction(&types.Action{
			ID:   string(rune('a' + i)),
			Type: types.ActionTypeDraw,
		})
		require.NoError(t, err, "queues while disconnected")
	}
	assert.Equal(t, 3, c.PendingCount())

	err := c.SubmitAction(&types.Action{ID: "overflow", Type: types.ActionTypeDraw})
	assert.ErrorIs(t, err, ErrPendingQueueFull)
	assert.Equal(t, 3, c.PendingCount())
}

func TestClient_ackSettlesPending(t *testing.T) {
	c := newDisconnectedClient(0)

	require.NoError(t, c.SubmitAction(&types.Action{ID: "action-1", Type: types.ActionTypeDraw}))
	require.NoError(t, c.SubmitAction(&types.Action{ID: "action-2", Type: types.ActionTypeDraw}))
	require.Equal(t, 2, c.PendingCount())

	ack, err := messages.New(messages.MessageTypeAck, messages.Ack{ActionID: "action-1", Version: 1})
	require.NoError(t, err)
	c.dispatch(ack)

	assert.Equal(t, 1, c.PendingCount())

	// The ack is also surfaced to the application.
	select {
	case msg := <-c.Incoming():
		assert.Equal(t, messages.MessageTypeAck, msg.Type)
	default:
		t.Fatal("expected the ack on the incoming channel")
	}

	// Settling an unknown action is harmless.
	c.settle("nope")
	assert.Equal(t, 1, c.PendingCount())
}

func TestClient_dispatchUnpacksBatches(t *testing.T) {
	c := newDisconnectedClient(0)

	ping, err := messages.New(messages.MessageTypeStateSync, messages.StateSync{SyncType: messages.SyncTypeFull})
	require.NoError(t, err)
	ack, err := messages.New(messages.MessageTypeAck, messages.Ack{ActionID: "action-1"})
	require.NoError(t, err)

	envelope, err := messages.New(messages.MessageTypeBatch, messages.Batch{
		Messages: []*messages.Message{ping, ack},
	})
	require.NoError(t, err)
	c.dispatch(envelope)

	first := <-c.Incoming()
	assert.Equal(t, messages.MessageTypeStateSync, first.Type)
	second := <-c.Incoming()
	assert.Equal(t, messages.MessageTypeAck, second.Type)
}

func TestState_string(t *testing.T) {
	assert.Equal(t, "disconnected", StateDisconnected.String())
	assert.Equal(t, "connecting", StateConnecting.String())
	assert.Equal(t, "connected", StateConnected.String())
	assert.Equal(t, "reconnecting", StateReconnecting.String())
	assert.Equal(t, "failed", StateFailed.String())
}
