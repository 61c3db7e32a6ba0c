package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/deckmate/tablesync/pkg/batch"
	"github.com/deckmate/tablesync/pkg/connections"
	"github.com/deckmate/tablesync/pkg/delta"
	"github.com/deckmate/tablesync/pkg/game"
	"github.com/deckmate/tablesync/pkg/game/adapters"
	"github.com/deckmate/tablesync/pkg/log"
	"github.com/deckmate/tablesync/pkg/messages"
	"github.com/deckmate/tablesync/pkg/ratelimit"
	"github.com/deckmate/tablesync/pkg/rooms"
	"github.com/deckmate/tablesync/pkg/workers"
)

// Engine routes inbound client messages through the rate limiter, room
// authorization, the per-room state manager, the delta codec, and the
// message batcher. One Engine serves every room in the process; room
// mutation itself is serialized inside each room's manager.
type Engine struct {
	connections *connections.Registry
	rooms       *rooms.Registry
	adapters    *adapters.Registry
	limiter     ratelimit.Limiter
	batcher     *batch.Batcher
	saveChan    chan<- workers.SaveSnapshotRequest
}

// NewEngineOptions contains options for creating a new Engine.
type NewEngineOptions struct {
	Connections *connections.Registry
	Rooms       *rooms.Registry
	Adapters    *adapters.Registry
	Limiter     ratelimit.Limiter
	Batcher     *batch.Batcher
	SaveChan    chan<- workers.SaveSnapshotRequest
}

// NewEngine creates the session engine.
func NewEngine(opts NewEngineOptions) *Engine {
	return &Engine{
		connections: opts.Connections,
		rooms:       opts.Rooms,
		adapters:    opts.Adapters,
		limiter:     opts.Limiter,
		batcher:     opts.Batcher,
		saveChan:    opts.SaveChan,
	}
}

// HandleConnect admits a transport connection and returns its ID.
func (e *Engine) HandleConnect(conn connections.Conn, userID string, authExpiry time.Time) (string, error) {
	connectionID, err := e.connections.Register(conn, userID, authExpiry)
	if err != nil {
		return "", err
	}
	e.batcher.Register(connectionID, conn.Send)
	return connectionID, nil
}

// HandleDisconnect tears down a connection: pending outbound batches
// are discarded, limiter state is dropped, and room membership is
// cleaned up via the registry's remove handler.
func (e *Engine) HandleDisconnect(connectionID string) {
	e.batcher.Remove(connectionID)
	e.limiter.Forget(connectionID)
	e.connections.Remove(connectionID)
}

// ConnectionClosed is the connection-registry remove handler; it is
// wired at startup and handles room-leave cleanup for every removal
// path (explicit close, eviction, staleness sweep).
func (e *Engine) ConnectionClosed(c *connections.Connection) {
	e.batcher.Remove(c.ID)
	e.limiter.Forget(c.ID)
	if c.RoomID != "" {
		if err := e.rooms.LeaveRoom(c.RoomID, c.ID); err != nil && !errors.Is(err, rooms.ErrRoomNotFound) {
			log.Error("Failed to remove connection %s from room %s: %v", c.ID, c.RoomID, err)
		}
	}
}

// HandleMessage processes one inbound message from a connection.
func (e *Engine) HandleMessage(ctx context.Context, connectionID string, msg *messages.Message) {
	e.connections.Touch(connectionID)

	if !e.limiter.Allow(ctx, connectionID, msg.Type) {
		e.reject(connectionID, "", messages.RejectReasonRateLimited, "message rate exceeded", true)
		return
	}

	switch msg.Type {
	case messages.MessageTypePing:
		if err := e.connections.Heartbeat(connectionID); err != nil {
			log.Trace("Heartbeat from unknown connection %s", connectionID)
			return
		}
		pong, err := messages.New(messages.MessageTypePong, nil)
		if err != nil {
			log.Error("Failed to build pong: %v", err)
			return
		}
		if err := e.batcher.Enqueue(connectionID, pong, batch.PriorityCritical); err != nil {
			log.Trace("Failed to send pong to %s: %v", connectionID, err)
		}
	case messages.MessageTypePong:
		if err := e.connections.Heartbeat(connectionID); err != nil {
			log.Trace("Heartbeat from unknown connection %s", connectionID)
		}
	case messages.MessageTypeJoinRoom:
		e.handleJoin(ctx, connectionID, msg)
	case messages.MessageTypeLeaveRoom:
		e.handleLeave(connectionID, msg)
	case messages.MessageTypeAction:
		e.handleAction(ctx, connectionID, msg)
	default:
		e.reject(connectionID, "", messages.RejectReasonMalformedMessage, "unknown message type "+msg.Type, false)
	}
}

func (e *Engine) handleJoin(ctx context.Context, connectionID string, msg *messages.Message) {
	var join messages.JoinRoom
	if err := unmarshalPayload(msg, &join); err != nil {
		e.reject(connectionID, "", messages.RejectReasonMalformedMessage, err.Error(), false)
		return
	}

	if e.connections.IsAuthExpired(connectionID) {
		e.reject(connectionID, "", messages.RejectReasonAuthExpired, "authentication token expired", false)
		return
	}

	conn, ok := e.connections.Get(connectionID)
	if !ok {
		return
	}

	room, err := e.rooms.JoinRoom(ctx, join.SessionID, join.GameType, connectionID, conn.UserID)
	if err != nil {
		switch {
		case errors.Is(err, rooms.ErrRoomLockTimeout):
			e.reject(connectionID, "", messages.RejectReasonRoomLockTimeout, err.Error(), true)
		case errors.Is(err, adapters.ErrAdapterNotFound):
			e.reject(connectionID, "", messages.RejectReasonAdapterNotFound, err.Error(), false)
		case errors.Is(err, rooms.ErrGameTypeMismatch):
			e.reject(connectionID, "", messages.RejectReasonGameTypeMismatch, err.Error(), false)
		default:
			e.reject(connectionID, "", messages.RejectReasonMalformedMessage, err.Error(), false)
		}
		return
	}

	e.connections.SetRoom(connectionID, room.ID)

	// Joins and reconnects both get a full-state catch-up: the server
	// never assumes the client's cached state is valid.
	ack, err := messages.New(messages.MessageTypeJoinAck, messages.JoinAck{
		SessionID: room.ID,
		State:     room.Manager.Current(),
	})
	if err != nil {
		log.Error("Failed to build join ack: %v", err)
		return
	}
	if err := e.batcher.Enqueue(connectionID, ack, batch.PriorityCritical); err != nil {
		log.Trace("Failed to send join ack to %s: %v", connectionID, err)
	}
	log.Debug("Connection %s joined room %s (reconnect=%v)", connectionID, room.ID, join.IsReconnect)
}

func (e *Engine) handleLeave(connectionID string, msg *messages.Message) {
	var leave messages.LeaveRoom
	if err := unmarshalPayload(msg, &leave); err != nil {
		e.reject(connectionID, "", messages.RejectReasonMalformedMessage, err.Error(), false)
		return
	}
	if err := e.rooms.LeaveRoom(leave.SessionID, connectionID); err != nil {
		e.reject(connectionID, "", messages.RejectReasonNotInRoom, err.Error(), false)
		return
	}
	e.connections.SetRoom(connectionID, "")
}

func (e *Engine) handleAction(_ context.Context, connectionID string, msg *messages.Message) {
	var submit messages.ActionSubmit
	if err := unmarshalPayload(msg, &submit); err != nil || submit.Action == nil {
		e.reject(connectionID, "", messages.RejectReasonMalformedMessage, "malformed action submission", false)
		return
	}
	action := submit.Action

	room, err := e.rooms.Get(submit.SessionID)
	if err != nil {
		e.reject(connectionID, action.ID, messages.RejectReasonNotInRoom, err.Error(), false)
		return
	}
	if !room.HasMember(connectionID) {
		e.reject(connectionID, action.ID, messages.RejectReasonNotInRoom, "connection is not a member of this room", false)
		return
	}

	if action.ID == "" {
		action.ID = uuid.NewString()
	}
	if action.Timestamp == 0 {
		action.Timestamp = time.Now().UnixMilli()
	}

	result, err := room.Manager.ApplyAction(action)
	if err != nil {
		detail := err.Error()
		switch {
		case errors.Is(err, game.ErrInvalidAction):
			e.reject(connectionID, action.ID, messages.RejectReasonInvalidAction, detail, false)
		case errors.Is(err, game.ErrHistoryEvicted), errors.Is(err, game.ErrFutureVersion):
			// The submitter's base version is unusable; a full resync
			// lets them rebuild and resubmit.
			e.reject(connectionID, action.ID, messages.RejectReasonInvalidAction, detail, true)
			e.sendFullSync(connectionID, room)
		default:
			e.reject(connectionID, action.ID, messages.RejectReasonInvalidAction, detail, false)
		}
		return
	}

	ack, err := messages.New(messages.MessageTypeAck, messages.Ack{
		ActionID: result.Action.ID,
		Version:  result.State.Version,
		Noop:     result.Noop,
	})
	if err != nil {
		log.Error("Failed to build ack: %v", err)
	} else if err := e.batcher.Enqueue(connectionID, ack, batch.PriorityNormal); err != nil {
		log.Trace("Failed to send ack to %s: %v", connectionID, err)
	}

	if result.Noop {
		// The table did not change; nothing to broadcast.
		return
	}

	e.broadcastState(room, result)

	if room.Manager.IsGameOver() && e.saveChan != nil {
		select {
		case e.saveChan <- workers.SaveSnapshotRequest{SessionID: room.ID, State: result.State}:
		default:
			log.Warn("Save channel full, dropping game-over snapshot for session %s", room.ID)
		}
	}
}

// broadcastState sends the new version to every room member, as a delta
// when the delta is small enough relative to the full state, otherwise
// as a full state.
func (e *Engine) broadcastState(room *rooms.Room, result *game.ApplyResult) {
	sync := messages.StateSync{
		SyncType:  messages.SyncTypeFull,
		FullState: result.State,
		Timestamp: result.State.Timestamp,
	}

	d, err := delta.Create(result.Previous, result.State)
	if err != nil {
		log.Error("Failed to compute delta for room %s: %v", room.ID, err)
	} else if worth, err := d.WorthSending(result.State); err == nil && worth {
		payload, err := marshalDelta(d)
		if err != nil {
			log.Error("Failed to serialize delta for room %s: %v", room.ID, err)
		} else {
			sync = messages.StateSync{
				SyncType:  messages.SyncTypeDelta,
				Delta:     payload,
				Timestamp: result.State.Timestamp,
			}
		}
	}

	msg, err := messages.New(messages.MessageTypeStateSync, sync)
	if err != nil {
		log.Error("Failed to build state sync for room %s: %v", room.ID, err)
		return
	}

	for _, memberID := range room.Members() {
		if err := e.batcher.Enqueue(memberID, msg, batch.PriorityNormal); err != nil {
			log.Trace("Failed to enqueue state sync for %s: %v", memberID, err)
		}
	}
}

// sendFullSync pushes the room's current full state to one connection.
func (e *Engine) sendFullSync(connectionID string, room *rooms.Room) {
	state := room.Manager.Current()
	msg, err := messages.New(messages.MessageTypeStateSync, messages.StateSync{
		SyncType:  messages.SyncTypeFull,
		FullState: state,
		Timestamp: state.Timestamp,
	})
	if err != nil {
		log.Error("Failed to build full sync: %v", err)
		return
	}
	if err := e.batcher.Enqueue(connectionID, msg, batch.PriorityCritical); err != nil {
		log.Trace("Failed to send full sync to %s: %v", connectionID, err)
	}
}

func (e *Engine) reject(connectionID, actionID, reason, detail string, retryable bool) {
	msg, err := messages.New(messages.MessageTypeReject, messages.Reject{
		ActionID:  actionID,
		Reason:    reason,
		Detail:    detail,
		Retryable: retryable,
	})
	if err != nil {
		log.Error("Failed to build reject: %v", err)
		return
	}
	if err := e.batcher.Enqueue(connectionID, msg, batch.PriorityNormal); err != nil {
		log.Trace("Failed to send reject to %s: %v", connectionID, err)
	}
}

// Stats reports engine-wide counters for the HTTP API.
type Stats struct {
	Connections int `json:"connections"`
	Rooms       int `json:"rooms"`
}

// Stats returns current connection and room counts.
func (e *Engine) Stats() Stats {
	return Stats{
		Connections: e.connections.Count(),
		Rooms:       e.rooms.Count(),
	}
}

// SupportedGames lists the registered game adapters.
func (e *Engine) SupportedGames() []adapters.GameInfo {
	return e.adapters.ListSupportedGames()
}

// BatchMetrics returns batching metrics for one connection.
func (e *Engine) BatchMetrics(connectionID string) (batch.Metrics, bool) {
	return e.batcher.MetricsFor(connectionID)
}
