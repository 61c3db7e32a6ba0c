package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/deckmate/tablesync/pkg/batch"
	"github.com/deckmate/tablesync/pkg/game/types"
	"github.com/deckmate/tablesync/pkg/log"
	"github.com/deckmate/tablesync/pkg/messages"
)

// State is the connection lifecycle state. Transitions are explicit and
// bounded: disconnected -> connecting -> connected -> reconnecting ->
// (connected | failed). There is no implicit retry-forever.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

const (
	// DefaultMaxPendingActions caps the outbound queue of
	// unacknowledged actions held for replay on reconnect.
	DefaultMaxPendingActions = 100
	// DefaultMaxReconnectAttempts bounds the reconnect loop before the
	// client gives up and enters the failed state.
	DefaultMaxReconnectAttempts = 5
	// DefaultPingInterval is the heartbeat send interval.
	DefaultPingInterval = 15 * time.Second

	initialBackoff = 500 * time.Millisecond
	maxBackoff     = 8 * time.Second
)

// ErrPendingQueueFull is returned when the unacknowledged action queue
// is at capacity.
var ErrPendingQueueFull = errors.New("pending action queue is full")

// Client is a reconnecting table-sync client. Accepted state syncs and
// other server messages are delivered on Incoming().
type Client struct {
	serverURL   string
	userID      string
	sessionID   string
	gameType    string
	maxPending  int
	maxAttempts int

	mu      sync.Mutex
	state   State
	conn    *websocket.Conn
	pending []*types.Action

	incoming chan *messages.Message
	done     chan struct{}
}

// NewClientOptions contains options for creating a new Client.
type NewClientOptions struct {
	ServerURL   string
	UserID      string
	SessionID   string
	GameType    string
	MaxPending  int
	MaxAttempts int
}

// NewClient creates a client in the disconnected state.
func NewClient(opts NewClientOptions) *Client {
	if opts.MaxPending <= 0 {
		opts.MaxPending = DefaultMaxPendingActions
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxReconnectAttempts
	}
	return &Client{
		serverURL:   opts.ServerURL,
		userID:      opts.UserID,
		sessionID:   opts.SessionID,
		gameType:    opts.GameType,
		maxPending:  opts.MaxPending,
		maxAttempts: opts.MaxAttempts,
		state:       StateDisconnected,
		incoming:    make(chan *messages.Message, messages.MessageBufferSize),
		done:        make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Incoming returns the channel of server messages. Batches arrive
// already unpacked into their individual messages.
func (c *Client) Incoming() <-chan *messages.Message {
	return c.incoming
}

// Connect dials the server, joins the session, and starts the read and
// heartbeat loops.
func (c *Client) Connect(ctx context.Context) error {
	c.setState(StateConnecting)

	if err := c.dial(ctx, false); err != nil {
		c.setState(StateDisconnected)
		return err
	}

	c.setState(StateConnected)
	go c.readLoop(ctx)
	go c.pingLoop(ctx)
	return nil
}

// Close tears the client down.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	c.state = StateDisconnected
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// SubmitAction sends an action and holds it in the pending queue until
// the server acknowledges it. A full queue refuses the action rather
// than growing without bound.
func (c *Client) SubmitAction(action *types.Action) error {
	c.mu.Lock()
	if len(c.pending) >= c.maxPending {
		c.mu.Unlock()
		return fmt.Errorf("%w: %d actions", ErrPendingQueueFull, c.maxPending)
	}
	c.pending = append(c.pending, action.Clone())
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		// Queued; will be replayed once reconnected.
		return nil
	}
	return c.send(messages.MessageTypeAction, messages.ActionSubmit{
		SessionID: c.sessionID,
		Action:    action,
	})
}

// PendingCount returns the number of unacknowledged actions.
func (c *Client) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != s {
		log.Debug("Client state %s -> %s", c.state, s)
		c.state = s
	}
}

// dial connects and joins the session.
func (c *Client) dial(ctx context.Context, isReconnect bool) error {
	url := fmt.Sprintf("%s/ws?user=%s", c.serverURL, c.userID)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	return c.send(messages.MessageTypeJoinRoom, messages.JoinRoom{
		SessionID:   c.sessionID,
		UserID:      c.userID,
		GameType:    c.gameType,
		IsReconnect: isReconnect,
	})
}

func (c *Client) send(msgType string, payload interface{}) error {
	msg, err := messages.New(msgType, payload)
	if err != nil {
		return fmt.Errorf("failed to build %s message: %w", msgType, err)
	}
	b, err := messages.Serialize(msg)
	if err != nil {
		return fmt.Errorf("failed to serialize %s message: %w", msgType, err)
	}

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}
	return conn.WriteMessage(websocket.TextMessage, b)
}

func (c *Client) readLoop(ctx context.Context) {
	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return
			case <-ctx.Done():
				return
			default:
			}
			c.reconnect(ctx)
			return
		}

		msg, err := messages.Deserialize(data)
		if err != nil {
			log.Warn("Failed to deserialize server message: %v", err)
			continue
		}
		c.dispatch(msg)
	}
}

// dispatch unpacks batches, settles acks against the pending queue, and
// forwards everything else to the incoming channel.
func (c *Client) dispatch(msg *messages.Message) {
	switch msg.Type {
	case messages.MessageTypeBatch:
		var b messages.Batch
		if err := json.Unmarshal(msg.Payload, &b); err != nil {
			log.Warn("Malformed batch from server: %v", err)
			return
		}
		msgs := b.Messages
		if len(b.Compressed) > 0 {
			decompressed, err := batch.Decompress(b.Compressed)
			if err != nil {
				log.Warn("Failed to decompress batch: %v", err)
				return
			}
			msgs = decompressed
		}
		for _, m := range msgs {
			c.dispatch(m)
		}
	case messages.MessageTypeAck:
		var ack messages.Ack
		if err := json.Unmarshal(msg.Payload, &ack); err == nil {
			c.settle(ack.ActionID)
		}
		c.forward(msg)
	case messages.MessageTypePing:
		_ = c.send(messages.MessageTypePong, nil)
	default:
		c.forward(msg)
	}
}

func (c *Client) forward(msg *messages.Message) {
	select {
	case c.incoming <- msg:
	default:
		log.Warn("Incoming channel full, dropping %s message", msg.Type)
	}
}

// settle removes an acknowledged action from the pending queue.
func (c *Client) settle(actionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, a := range c.pending {
		if a.ID == actionID {
			c.pending = append(c.pending[:i], c.pending[i+1:]...)
			return
		}
	}
}

// reconnect runs the bounded backoff loop and replays unacknowledged
// actions once the session is rejoined.
func (c *Client) reconnect(ctx context.Context) {
	c.setState(StateReconnecting)

	c.mu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	backoff := initialBackoff
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			c.setState(StateDisconnected)
			return
		case <-time.After(backoff):
		}

		log.Info("Reconnect attempt %d/%d", attempt, c.maxAttempts)
		if err := c.dial(ctx, true); err != nil {
			log.Warn("Reconnect attempt %d failed: %v", attempt, err)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		c.setState(StateConnected)
		c.replayPending()
		go c.readLoop(ctx)
		return
	}

	log.Error("Giving up after %d reconnect attempts", c.maxAttempts)
	c.setState(StateFailed)
}

// replayPending resubmits every unacknowledged action in order. The
// server's conflict transformation makes replayed duplicates safe:
// actions that already landed collapse to no-ops.
func (c *Client) replayPending() {
	c.mu.Lock()
	pending := make([]*types.Action, len(c.pending))
	copy(pending, c.pending)
	c.mu.Unlock()

	for _, action := range pending {
		if err := c.send(messages.MessageTypeAction, messages.ActionSubmit{
			SessionID: c.sessionID,
			Action:    action,
		}); err != nil {
			log.Warn("Failed to replay action %s: %v", action.ID, err)
			return
		}
	}
	if len(pending) > 0 {
		log.Info("Replayed %d pending actions", len(pending))
	}
}

func (c *Client) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(DefaultPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.State() != StateConnected {
				continue
			}
			if err := c.send(messages.MessageTypePing, nil); err != nil {
				log.Trace("Failed to send ping: %v", err)
			}
		}
	}
}
