package rooms

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/deckmate/tablesync/pkg/game"
	"github.com/deckmate/tablesync/pkg/game/adapters"
	"github.com/deckmate/tablesync/pkg/game/types"
	"github.com/deckmate/tablesync/pkg/log"
)

const (
	// DefaultLockTimeout bounds how long a join waits on another join
	// that is creating the same room.
	DefaultLockTimeout = 5 * time.Second
	// DefaultGracePeriod is how long an empty room survives before the
	// reaper destroys it.
	DefaultGracePeriod = 10 * time.Minute
)

var (
	// ErrRoomLockTimeout is returned when a join could not acquire the
	// room creation lock in time. Retryable.
	ErrRoomLockTimeout = errors.New("timed out waiting for room creation lock")
	// ErrRoomNotFound is returned for operations on unknown rooms.
	ErrRoomNotFound = errors.New("room not found")
	// ErrGameTypeMismatch is returned when a join names a different game
	// type than the session's existing room.
	ErrGameTypeMismatch = errors.New("game type does not match session")
)

// StateProvider produces the initial state for a lazily-created room,
// typically by loading a snapshot or asking the adapter for a fresh
// table.
type StateProvider func(ctx context.Context, adapter adapters.Adapter, sessionID string) (*types.GameState, error)

// Room is one live session: its members organized by connection ID and
// the state manager that owns the version chain.
type Room struct {
	ID       string
	GameType string
	Manager  *game.Manager

	mu         sync.RWMutex
	members    map[string]string // connectionID -> userID
	emptySince time.Time
	createdAt  time.Time
}

// AddMember registers a connection in the room.
func (r *Room) AddMember(connectionID, userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[connectionID] = userID
	r.emptySince = time.Time{}
}

// RemoveMember drops a connection from the room. Returns true when the
// room is now empty; the empty-since clock starts then.
func (r *Room) RemoveMember(connectionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members, connectionID)
	if len(r.members) == 0 {
		r.emptySince = time.Now()
		return true
	}
	return false
}

// HasMember reports whether the connection belongs to the room.
func (r *Room) HasMember(connectionID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[connectionID]
	return ok
}

// Members returns a snapshot of the room's connection IDs.
func (r *Room) Members() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.members))
	for id := range r.members {
		out = append(out, id)
	}
	return out
}

// MemberCount returns the number of connections in the room.
func (r *Room) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// emptyFor reports how long the room has been empty, or zero if occupied.
func (r *Room) emptyFor(now time.Time) time.Duration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.members) > 0 || r.emptySince.IsZero() {
		return 0
	}
	return now.Sub(r.emptySince)
}

// creationLock serializes lazy creation of a single room ID. A buffered
// channel of size one doubles as a mutex that can be acquired with a
// timeout and a context.
type creationLock struct {
	ch   chan struct{}
	refs int
}

// Registry maps session IDs to rooms. Creation is guarded by a per-room
// lock so concurrent joins of the same new session cannot race into
// duplicate room objects.
type Registry struct {
	mu            sync.Mutex
	rooms         map[string]*Room
	locks         map[string]*creationLock
	adapters      *adapters.Registry
	stateProvider StateProvider
	lockTimeout   time.Duration
	gracePeriod   time.Duration
	historyWindow int
}

// NewRegistryOptions contains options for creating a new Registry.
type NewRegistryOptions struct {
	Adapters      *adapters.Registry
	StateProvider StateProvider
	LockTimeout   time.Duration
	GracePeriod   time.Duration
	HistoryWindow int
}

// NewRegistry creates a room registry.
func NewRegistry(opts NewRegistryOptions) *Registry {
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = DefaultLockTimeout
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = DefaultGracePeriod
	}
	return &Registry{
		rooms:         make(map[string]*Room),
		locks:         make(map[string]*creationLock),
		adapters:      opts.Adapters,
		stateProvider: opts.StateProvider,
		lockTimeout:   opts.LockTimeout,
		gracePeriod:   opts.GracePeriod,
		historyWindow: opts.HistoryWindow,
	}
}

// JoinRoom adds a connection to the session's room, creating the room
// lazily on first join. Unknown game types fail with ErrAdapterNotFound
// before any room object exists.
func (r *Registry) JoinRoom(ctx context.Context, sessionID, gameType, connectionID, userID string) (*Room, error) {
	if room := r.get(sessionID); room != nil {
		return r.joinExisting(room, gameType, connectionID, userID)
	}

	release, err := r.acquireCreationLock(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	// Another join may have created the room while we waited.
	if room := r.get(sessionID); room != nil {
		return r.joinExisting(room, gameType, connectionID, userID)
	}

	adapter, err := r.adapters.Get(gameType)
	if err != nil {
		return nil, err
	}

	initial, err := r.stateProvider(ctx, adapter, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to build initial state for session %s: %w", sessionID, err)
	}

	room := &Room{
		ID:       sessionID,
		GameType: gameType,
		Manager: game.NewManager(game.NewManagerOptions{
			Adapter:       adapter,
			InitialState:  initial,
			HistoryWindow: r.historyWindow,
		}),
		members:   make(map[string]string),
		createdAt: time.Now(),
	}
	room.AddMember(connectionID, userID)

	r.mu.Lock()
	r.rooms[sessionID] = room
	r.mu.Unlock()

	log.Info("Created room %s for game type %s", sessionID, gameType)
	return room, nil
}

// joinExisting admits a connection to an already-created room after
// checking the requested game type matches the session's.
func (r *Registry) joinExisting(room *Room, gameType, connectionID, userID string) (*Room, error) {
	if gameType != room.GameType {
		return nil, fmt.Errorf("%w: session %s is %s, not %s", ErrGameTypeMismatch, room.ID, room.GameType, gameType)
	}
	room.AddMember(connectionID, userID)
	return room, nil
}

// LeaveRoom removes a connection from the session's room.
func (r *Registry) LeaveRoom(sessionID, connectionID string) error {
	room := r.get(sessionID)
	if room == nil {
		return fmt.Errorf("%w: %s", ErrRoomNotFound, sessionID)
	}
	if room.RemoveMember(connectionID) {
		log.Debug("Room %s is now empty", sessionID)
	}
	return nil
}

// Get returns the room for a session.
func (r *Registry) Get(sessionID string) (*Room, error) {
	room := r.get(sessionID)
	if room == nil {
		return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, sessionID)
	}
	return room, nil
}

func (r *Registry) get(sessionID string) *Room {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rooms[sessionID]
}

// Sessions returns the IDs of all live rooms.
func (r *Registry) Sessions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.rooms))
	for id := range r.rooms {
		out = append(out, id)
	}
	return out
}

// Count returns the number of live rooms.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// PeekIdle returns the session IDs that are currently past the empty
// grace period, without destroying anything.
func (r *Registry) PeekIdle() []string {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	var idle []string
	for id, room := range r.rooms {
		if room.emptyFor(now) > r.gracePeriod {
			idle = append(idle, id)
		}
	}
	return idle
}

// ReapIdle destroys rooms that have been empty for longer than the
// grace period. Returns the destroyed session IDs.
func (r *Registry) ReapIdle() []string {
	now := time.Now()

	r.mu.Lock()
	var reaped []string
	for id, room := range r.rooms {
		if idle := room.emptyFor(now); idle > r.gracePeriod {
			delete(r.rooms, id)
			reaped = append(reaped, id)
		}
	}
	r.mu.Unlock()

	for _, id := range reaped {
		log.Info("Reaped idle room %s", id)
	}
	return reaped
}

// acquireCreationLock takes the per-session creation lock, waiting at
// most the configured timeout. The returned release function must be
// called on every exit path.
func (r *Registry) acquireCreationLock(ctx context.Context, sessionID string) (func(), error) {
	r.mu.Lock()
	lock, ok := r.locks[sessionID]
	if !ok {
		lock = &creationLock{ch: make(chan struct{}, 1)}
		r.locks[sessionID] = lock
	}
	lock.refs++
	r.mu.Unlock()

	releaseRef := func() {
		r.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(r.locks, sessionID)
		}
		r.mu.Unlock()
	}

	timer := time.NewTimer(r.lockTimeout)
	defer timer.Stop()

	select {
	case lock.ch <- struct{}{}:
		return func() {
			<-lock.ch
			releaseRef()
		}, nil
	case <-timer.C:
		releaseRef()
		return nil, fmt.Errorf("%w: session %s", ErrRoomLockTimeout, sessionID)
	case <-ctx.Done():
		releaseRef()
		return nil, fmt.Errorf("%w: session %s: %v", ErrRoomLockTimeout, sessionID, ctx.Err())
	}
}
