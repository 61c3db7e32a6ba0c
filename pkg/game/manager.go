package game

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/deckmate/tablesync/pkg/game/adapters"
	"github.com/deckmate/tablesync/pkg/game/types"
)

var (
	// ErrInvalidAction is returned when the adapter rejects an action.
	// No state change happens and only the submitter hears about it.
	ErrInvalidAction = errors.New("invalid action")
	// ErrHistoryEvicted is returned when an undo/redo target or an
	// action's base version is outside the retained history window.
	ErrHistoryEvicted = errors.New("version outside retained history")
	// ErrFutureVersion is returned when an action claims a base version
	// the room has not produced yet.
	ErrFutureVersion = errors.New("action base version is ahead of room state")
)

// Manager owns the versioned state chain for one room: action
// application, conflict transformation, and undo/redo. Callers may use
// it from multiple goroutines; all mutation is serialized internally,
// which is also what gives a room its single-writer ordering guarantee.
type Manager struct {
	mu      sync.Mutex
	adapter adapters.Adapter
	history *history
	current uint64
	head    uint64
	noops   []*types.Action
}

// NewManagerOptions contains options for creating a new Manager.
type NewManagerOptions struct {
	Adapter       adapters.Adapter
	InitialState  *types.GameState
	HistoryWindow int
}

// NewManager creates a manager seeded with the initial state, which is
// recorded as version 0.
func NewManager(opts NewManagerOptions) *Manager {
	m := &Manager{
		adapter: opts.Adapter,
		history: newHistory(opts.HistoryWindow),
		current: opts.InitialState.Version,
		head:    opts.InitialState.Version,
	}
	m.history.record(opts.InitialState.Version, opts.InitialState, nil)
	return m
}

// ApplyResult describes the outcome of an accepted action.
type ApplyResult struct {
	// Action is the action as applied, after any transformation.
	Action *types.Action
	// State is the current state after application.
	State *types.GameState
	// Previous is the state the action was applied to, for delta encoding.
	Previous *types.GameState
	// Noop is true when transformation collapsed the action: the state
	// did not change and no new version was produced, but the action is
	// acknowledged to its submitter.
	Noop bool
}

// Current returns the state at the current version pointer.
func (m *Manager) Current() *types.GameState {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, _ := m.history.state(m.current)
	return state
}

// Version returns the current version pointer.
func (m *Manager) Version() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// ApplyAction validates, transforms, and applies an incoming action.
//
// When the action's base version equals the current version it applies
// directly. When the base is older, every action logged since forms the
// concurrent set and the incoming action is transformed against each in
// log order before being applied to the current state.
func (m *Manager) ApplyAction(action *types.Action) (*ApplyResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.history.state(m.current)
	if !ok {
		return nil, fmt.Errorf("current version %d missing from history", m.current)
	}

	transformed := action
	switch {
	case action.PreviousStateVersion == current.Version:
		// Direct apply.
	case action.PreviousStateVersion > current.Version:
		return nil, fmt.Errorf("%w: base %d, current %d", ErrFutureVersion, action.PreviousStateVersion, current.Version)
	default:
		concurrent, ok := m.history.actionsAfter(action.PreviousStateVersion, current.Version)
		if !ok {
			return nil, fmt.Errorf("%w: base version %d", ErrHistoryEvicted, action.PreviousStateVersion)
		}
		transformed = Transform(action, concurrent)
	}

	if transformed.Type == types.ActionTypeNoop {
		// The conflict was resolved by dropping this action. Log it for
		// audit, acknowledge it, produce no new version.
		noop := transformed.Clone()
		noop.ResultingStateVersion = current.Version
		m.noops = append(m.noops, noop)
		if len(m.noops) > m.history.window {
			m.noops = m.noops[1:]
		}
		return &ApplyResult{
			Action:   noop,
			State:    current,
			Previous: current,
			Noop:     true,
		}, nil
	}

	if err := m.adapter.ValidateAction(transformed, current); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAction, err)
	}

	next, err := m.adapter.ApplyAction(transformed, current)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAction, err)
	}

	// A new action while the pointer sits behind head means the user
	// undid and then acted: the redo horizon is truncated.
	if m.current < m.head {
		m.history.truncateAfter(m.current)
		m.head = m.current
	}

	next.Version = current.Version + 1
	next.Timestamp = time.Now().UnixMilli()
	next.LastModifiedBy = transformed.PlayerID

	applied := transformed.Clone()
	applied.ResultingStateVersion = next.Version

	m.history.record(next.Version, next, applied)
	m.current = next.Version
	m.head = next.Version

	return &ApplyResult{
		Action:   applied,
		State:    next,
		Previous: current,
	}, nil
}

// Undo moves the current pointer back the given number of steps and
// returns the state there. History entries are not deleted, so a
// subsequent Redo can walk forward again. Fails without mutating
// anything when the target version has been evicted.
func (m *Manager) Undo(steps uint64) (*types.GameState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if steps == 0 || steps > m.current {
		return nil, fmt.Errorf("%w: cannot undo %d steps from version %d", ErrHistoryEvicted, steps, m.current)
	}
	target := m.current - steps
	state, ok := m.history.state(target)
	if !ok {
		return nil, fmt.Errorf("%w: version %d", ErrHistoryEvicted, target)
	}
	m.current = target
	return state, nil
}

// Redo moves the current pointer forward after an Undo. The redo
// horizon ends at the last recorded version, or earlier if a new action
// truncated it.
func (m *Manager) Redo(steps uint64) (*types.GameState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	target := m.current + steps
	if steps == 0 || target > m.head {
		return nil, fmt.Errorf("%w: cannot redo %d steps from version %d", ErrHistoryEvicted, steps, m.current)
	}
	state, ok := m.history.state(target)
	if !ok {
		return nil, fmt.Errorf("%w: version %d", ErrHistoryEvicted, target)
	}
	m.current = target
	return state, nil
}

// StateAt returns the retained state at an exact version, if present.
func (m *Manager) StateAt(version uint64) (*types.GameState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.history.state(version)
}

// LegalActions delegates to the adapter against the current state.
func (m *Manager) LegalActions(playerID string) []*types.Action {
	return m.adapter.LegalActions(m.Current(), playerID)
}

// IsGameOver delegates to the adapter against the current state.
func (m *Manager) IsGameOver() bool {
	return m.adapter.IsGameOver(m.Current())
}

// Winner delegates to the adapter against the current state.
func (m *Manager) Winner() (string, bool) {
	return m.adapter.Winner(m.Current())
}

// NoopLog returns the actions that collapsed to no-ops, newest last.
func (m *Manager) NoopLog() []*types.Action {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*types.Action, len(m.noops))
	copy(out, m.noops)
	return out
}
