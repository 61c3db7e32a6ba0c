package repositories

import (
	"context"
	"fmt"
	"sync"

	"github.com/deckmate/tablesync/pkg/game/types"
)

// InMemoryRepository keeps snapshots in process memory. Useful for
// tests and single-node runs without durability requirements.
type InMemoryRepository struct {
	mu        sync.RWMutex
	snapshots map[string]*types.GameState
}

func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		snapshots: make(map[string]*types.GameState),
	}
}

func (r *InMemoryRepository) Close(ctx context.Context) error {
	return nil
}

func (r *InMemoryRepository) LoadSnapshot(ctx context.Context, sessionID string) (*types.GameState, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.snapshots[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: session %s", ErrNotFound, sessionID)
	}
	return state.Clone(), nil
}

func (r *InMemoryRepository) SaveSnapshot(ctx context.Context, sessionID string, state *types.GameState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots[sessionID] = state.Clone()
	return nil
}

func (r *InMemoryRepository) DeleteSnapshot(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.snapshots, sessionID)
	return nil
}
