package adapters

import (
	"errors"
	"fmt"
	"sync"

	"github.com/deckmate/tablesync/pkg/game/types"
)

// ErrAdapterNotFound is returned when a game type has no registered adapter.
var ErrAdapterNotFound = errors.New("adapter not found")

// ErrAdapterRegistered is returned when a game type is registered twice.
var ErrAdapterRegistered = errors.New("adapter already registered")

// Adapter implements the rules of one game type. The synchronization
// core is game-agnostic: everything it knows about legality and state
// shape goes through this interface.
type Adapter interface {
	// GameType returns the registry key for this adapter.
	GameType() string
	// Name returns a human-readable game name.
	Name() string
	// CreateInitialState builds a version-0 state for the given seats.
	CreateInitialState(config Config) (*types.GameState, error)
	// ValidateState checks structural invariants of a state. An empty
	// slice means the state is valid.
	ValidateState(state *types.GameState) []error
	// ValidateAction reports whether the action is legal against the state.
	ValidateAction(action *types.Action, state *types.GameState) error
	// ApplyAction produces the successor state. The input state is not
	// mutated; implementations clone before applying.
	ApplyAction(action *types.Action, state *types.GameState) (*types.GameState, error)
	// IsGameOver reports whether the game has ended.
	IsGameOver(state *types.GameState) bool
	// Winner returns the winning player, if the game is over and has one.
	Winner(state *types.GameState) (string, bool)
	// LegalActions enumerates actions the player could legally submit.
	LegalActions(state *types.GameState, playerID string) []*types.Action
}

// Config describes the seats at a new table.
type Config struct {
	Seats []Seat
}

// Seat is one player and their deck, in deck order (top card first).
type Seat struct {
	PlayerID string
	Name     string
	Deck     []*types.Card
}

// GameInfo identifies a supported game for listing purposes.
type GameInfo struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

// Registry resolves game-type strings to adapters. Registration
// normally happens once at startup; lookups happen per room creation.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates an empty adapter registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
	}
}

// Register adds an adapter under its game type. Registering the same
// game type twice is an error.
func (r *Registry) Register(adapter Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	gameType := adapter.GameType()
	if _, exists := r.adapters[gameType]; exists {
		return fmt.Errorf("%w: %s", ErrAdapterRegistered, gameType)
	}
	r.adapters[gameType] = adapter
	return nil
}

// Get resolves a game type to its adapter.
func (r *Registry) Get(gameType string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	adapter, ok := r.adapters[gameType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAdapterNotFound, gameType)
	}
	return adapter, nil
}

// ListSupportedGames returns all registered game types.
func (r *Registry) ListSupportedGames() []GameInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	games := make([]GameInfo, 0, len(r.adapters))
	for _, adapter := range r.adapters {
		games = append(games, GameInfo{
			Type: adapter.GameType(),
			Name: adapter.Name(),
		})
	}
	return games
}
