package connections

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/deckmate/tablesync/pkg/log"
	"github.com/deckmate/tablesync/pkg/messages"
)

const (
	// DefaultGlobalLimit is the default cap on total live connections.
	DefaultGlobalLimit = 10000
	// DefaultPerUserLimit is the default cap on connections per user.
	// Exceeding it evicts the user's oldest connection.
	DefaultPerUserLimit = 3
	// DefaultStaleAfter is how long a connection may go without
	// activity before the sweep removes it.
	DefaultStaleAfter = 5 * time.Minute
	// DefaultHeartbeatTimeout is how long a connection may go without
	// answering a heartbeat before the sweep removes it.
	DefaultHeartbeatTimeout = 30 * time.Second
)

var (
	// ErrRegistryFull is returned when the global connection cap is hit.
	// Unlike the per-user cap, nothing is evicted; the registration is
	// refused outright.
	ErrRegistryFull = errors.New("connection registry is full")
	// ErrConnectionNotFound is returned for operations on unknown IDs.
	ErrConnectionNotFound = errors.New("connection not found")
)

// Conn is the transport half of a connection: what the registry needs
// to push messages and to drop the peer.
type Conn interface {
	Send(msg *messages.Message) error
	Close() error
}

// Connection tracks one live client connection.
type Connection struct {
	ID            string
	UserID        string
	RoomID        string
	Conn          Conn
	ConnectedAt   time.Time
	LastActivity  time.Time
	LastHeartbeat time.Time
	AuthExpiry    time.Time
	Alive         bool
}

// RemoveHandler is notified after a connection is removed so room
// membership can be cleaned up.
type RemoveHandler func(conn *Connection)

// Registry owns all live connections and enforces the global and
// per-user caps.
type Registry struct {
	mu               sync.RWMutex
	connections      map[string]*Connection
	byUser           map[string][]string
	globalLimit      int
	perUserLimit     int
	staleAfter       time.Duration
	heartbeatTimeout time.Duration
	onRemove         RemoveHandler
}

// NewRegistryOptions contains options for creating a new Registry.
// Zero values fall back to defaults.
type NewRegistryOptions struct {
	GlobalLimit      int
	PerUserLimit     int
	StaleAfter       time.Duration
	HeartbeatTimeout time.Duration
	OnRemove         RemoveHandler
}

// NewRegistry creates a connection registry.
func NewRegistry(opts NewRegistryOptions) *Registry {
	if opts.GlobalLimit <= 0 {
		opts.GlobalLimit = DefaultGlobalLimit
	}
	if opts.PerUserLimit <= 0 {
		opts.PerUserLimit = DefaultPerUserLimit
	}
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	if opts.HeartbeatTimeout <= 0 {
		opts.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	return &Registry{
		connections:      make(map[string]*Connection),
		byUser:           make(map[string][]string),
		globalLimit:      opts.GlobalLimit,
		perUserLimit:     opts.PerUserLimit,
		staleAfter:       opts.StaleAfter,
		heartbeatTimeout: opts.HeartbeatTimeout,
		onRemove:         opts.OnRemove,
	}
}

// SetRemoveHandler installs the removal callback. The engine is built
// after the registry, so wiring happens in a second step at startup.
func (r *Registry) SetRemoveHandler(h RemoveHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onRemove = h
}

// Register admits a new connection and returns its ID. When the user is
// at their per-user cap, their oldest connection is evicted first and
// notified with a close reason. When the registry is globally full, the
// registration is refused.
func (r *Registry) Register(conn Conn, userID string, authExpiry time.Time) (string, error) {
	var evicted *Connection

	r.mu.Lock()
	if len(r.connections) >= r.globalLimit {
		r.mu.Unlock()
		return "", fmt.Errorf("%w: %d connections", ErrRegistryFull, r.globalLimit)
	}

	if ids := r.byUser[userID]; len(ids) >= r.perUserLimit {
		// Oldest connection for the user is first in the slice.
		evicted = r.connections[ids[0]]
		r.removeLocked(ids[0])
	}

	now := time.Now()
	c := &Connection{
		ID:            uuid.NewString(),
		UserID:        userID,
		Conn:          conn,
		ConnectedAt:   now,
		LastActivity:  now,
		LastHeartbeat: now,
		AuthExpiry:    authExpiry,
		Alive:         true,
	}
	r.connections[c.ID] = c
	r.byUser[userID] = append(r.byUser[userID], c.ID)
	r.mu.Unlock()

	if evicted != nil {
		r.notifyClose(evicted, messages.CloseReasonConnectionLimit)
		r.fireRemove(evicted)
	}

	log.Debug("Registered connection %s for user %s", c.ID, userID)
	return c.ID, nil
}

// Remove drops a connection and triggers room-leave cleanup.
func (r *Registry) Remove(connectionID string) {
	r.mu.Lock()
	c, ok := r.connections[connectionID]
	if ok {
		r.removeLocked(connectionID)
	}
	r.mu.Unlock()

	if ok {
		r.fireRemove(c)
	}
}

// removeLocked removes the connection from both indexes. Caller holds
// the write lock.
func (r *Registry) removeLocked(connectionID string) {
	c, ok := r.connections[connectionID]
	if !ok {
		return
	}
	c.Alive = false
	delete(r.connections, connectionID)

	ids := r.byUser[c.UserID]
	for i, id := range ids {
		if id == connectionID {
			r.byUser[c.UserID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(r.byUser[c.UserID]) == 0 {
		delete(r.byUser, c.UserID)
	}
}

// Heartbeat records a heartbeat response from the connection.
func (r *Registry) Heartbeat(connectionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.connections[connectionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrConnectionNotFound, connectionID)
	}
	now := time.Now()
	c.LastHeartbeat = now
	c.LastActivity = now
	return nil
}

// Touch records activity on the connection.
func (r *Registry) Touch(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.connections[connectionID]; ok {
		c.LastActivity = time.Now()
	}
}

// IsAuthExpired reports whether the connection's auth token is past its
// expiry. Unknown connections count as expired.
func (r *Registry) IsAuthExpired(connectionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connections[connectionID]
	if !ok {
		return true
	}
	return !c.AuthExpiry.IsZero() && time.Now().After(c.AuthExpiry)
}

// Get returns a connection by ID.
func (r *Registry) Get(connectionID string) (*Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.connections[connectionID]
	return c, ok
}

// SetRoom records which room a connection currently sits in.
func (r *Registry) SetRoom(connectionID, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.connections[connectionID]; ok {
		c.RoomID = roomID
	}
}

// ForUser returns the user's connection IDs, oldest first.
func (r *Registry) ForUser(userID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, len(r.byUser[userID]))
	copy(ids, r.byUser[userID])
	return ids
}

// Count returns the number of live connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// Send pushes a message to a single connection.
func (r *Registry) Send(connectionID string, msg *messages.Message) error {
	r.mu.RLock()
	c, ok := r.connections[connectionID]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrConnectionNotFound, connectionID)
	}
	return c.Conn.Send(msg)
}

// SweepStale removes connections that have been idle past the staleness
// window, have missed the heartbeat timeout, or whose auth expired.
// Returns the number of connections removed.
func (r *Registry) SweepStale() int {
	now := time.Now()

	type sweptConn struct {
		conn   *Connection
		reason string
	}

	r.mu.Lock()
	var swept []sweptConn
	for id, c := range r.connections {
		reason := ""
		switch {
		case now.Sub(c.LastActivity) > r.staleAfter:
			reason = messages.CloseReasonStale
		case now.Sub(c.LastHeartbeat) > r.heartbeatTimeout:
			reason = messages.CloseReasonStale
		case !c.AuthExpiry.IsZero() && now.After(c.AuthExpiry):
			reason = messages.CloseReasonAuthExpired
		default:
			continue
		}
		r.removeLocked(id)
		swept = append(swept, sweptConn{conn: c, reason: reason})
	}
	r.mu.Unlock()

	for _, s := range swept {
		r.notifyClose(s.conn, s.reason)
		r.fireRemove(s.conn)
	}
	if len(swept) > 0 {
		log.Debug("Swept %d stale connections", len(swept))
	}
	return len(swept)
}

func (r *Registry) notifyClose(c *Connection, reason string) {
	msg, err := messages.New(messages.MessageTypeClose, messages.Close{Reason: reason})
	if err != nil {
		log.Error("Failed to build close message: %v", err)
	} else if err := c.Conn.Send(msg); err != nil {
		log.Trace("Failed to notify connection %s of close: %v", c.ID, err)
	}
	if err := c.Conn.Close(); err != nil {
		log.Trace("Failed to close connection %s: %v", c.ID, err)
	}
}

func (r *Registry) fireRemove(c *Connection) {
	if r.onRemove != nil {
		r.onRemove(c)
	}
}
