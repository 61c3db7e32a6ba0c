package messages

import (
	"encoding/json"

	"github.com/deckmate/tablesync/pkg/game/types"
)

const (
	// MessageBufferSize represents the maximum size of a message queue.
	MessageBufferSize = 1024
)

// Message types
const (
	MessageTypeJoinRoom  = "join_room"
	MessageTypeJoinAck   = "join_ack"
	MessageTypeLeaveRoom = "leave_room"
	MessageTypeAction    = "action"
	MessageTypeAck       = "ack"
	MessageTypeReject    = "reject"
	MessageTypeStateSync = "state_sync"
	MessageTypeBatch     = "batch"
	MessageTypePing      = "ping"
	MessageTypePong      = "pong"
	MessageTypeClose     = "close"
)

// Sync types for MessageTypeStateSync.
const (
	SyncTypeFull  = "full"
	SyncTypeDelta = "delta"
)

// Reject reasons mirror the engine error taxonomy.
const (
	RejectReasonInvalidAction    = "invalid_action"
	RejectReasonRateLimited      = "rate_limited"
	RejectReasonRoomLockTimeout  = "room_lock_timeout"
	RejectReasonAdapterNotFound  = "adapter_not_found"
	RejectReasonGameTypeMismatch = "game_type_mismatch"
	RejectReasonNotInRoom        = "not_in_room"
	RejectReasonMalformedMessage = "malformed_message"
	RejectReasonAuthExpired      = "auth_expired"
)

// Close reasons for server-initiated disconnects.
const (
	CloseReasonConnectionLimit = "connection_limit_exceeded"
	CloseReasonStale           = "stale_connection"
	CloseReasonAuthExpired     = "auth_expired"
)

// Message is the generic JSON wire envelope.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// JoinRoom is sent by a client to enter (or lazily create) a session.
type JoinRoom struct {
	SessionID   string `json:"sessionId"`
	UserID      string `json:"user"`
	GameType    string `json:"gameType,omitempty"`
	IsReconnect bool   `json:"isReconnect,omitempty"`
}

// JoinAck confirms a join and carries the current full state.
type JoinAck struct {
	SessionID string           `json:"sessionId"`
	State     *types.GameState `json:"state"`
}

// LeaveRoom is sent by a client leaving a session.
type LeaveRoom struct {
	SessionID string `json:"sessionId"`
}

// ActionSubmit carries one client-submitted action.
type ActionSubmit struct {
	SessionID string        `json:"sessionId"`
	Action    *types.Action `json:"action"`
}

// Ack confirms an accepted action.
type Ack struct {
	ActionID string `json:"actionId"`
	Version  uint64 `json:"version"`
	// Noop is true when the action was transformed away; the table did
	// not change but the submission is settled.
	Noop bool `json:"noop,omitempty"`
}

// Reject reports a refused action or request to its submitter only.
type Reject struct {
	ActionID  string `json:"actionId,omitempty"`
	Reason    string `json:"reason"`
	Detail    string `json:"detail,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// StateSync broadcasts a new state version to a room, either as a
// delta against the recipient's last known version or as a full state.
type StateSync struct {
	SyncType  string           `json:"syncType"`
	FullState *types.GameState `json:"fullState,omitempty"`
	Delta     json.RawMessage  `json:"delta,omitempty"`
	Timestamp int64            `json:"timestamp"`
}

// Batch is the aggregated envelope produced by the message batcher.
// When Compressed is true, Compressed payload replaces Messages and
// holds the zstd-compressed JSON array.
type Batch struct {
	Messages   []*Message `json:"messages,omitempty"`
	Compressed []byte     `json:"compressed,omitempty"`
	Timestamp  int64      `json:"timestamp"`
}

// Close notifies a connection why the server is dropping it.
type Close struct {
	Reason string `json:"reason"`
}

// New constructs an envelope around a payload struct.
func New(msgType string, payload interface{}) (*Message, error) {
	if payload == nil {
		return &Message{Type: msgType}, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{Type: msgType, Payload: b}, nil
}

// DecodePayload unmarshals an envelope's payload into dst.
func DecodePayload(m *Message, dst interface{}) error {
	return json.Unmarshal(m.Payload, dst)
}

// Serialize encodes an envelope for the wire.
func Serialize(m *Message) ([]byte, error) {
	return json.Marshal(m)
}

// Deserialize decodes an envelope from the wire.
func Deserialize(data []byte) (*Message, error) {
	m := &Message{}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, err
	}
	return m, nil
}
