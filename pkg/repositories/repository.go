package repositories

import (
	"context"
	"errors"

	"github.com/deckmate/tablesync/pkg/game/types"
)

// ErrNotFound is returned when no snapshot exists for a session.
var ErrNotFound = errors.New("snapshot not found")

// IsNotFound reports whether the error is the missing-snapshot sentinel.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Repository is the durable snapshot store. The engine treats snapshots
// as opaque: it saves the canonical state blob per session and loads it
// back, and depends on nothing else about the backend's schema.
type Repository interface {
	Close(ctx context.Context) error
	// LoadSnapshot returns the most recent snapshot for the session,
	// or ErrNotFound.
	LoadSnapshot(ctx context.Context, sessionID string) (*types.GameState, error)
	// SaveSnapshot stores the state as the session's current snapshot.
	SaveSnapshot(ctx context.Context, sessionID string, state *types.GameState) error
	// DeleteSnapshot removes a session's snapshot, if any.
	DeleteSnapshot(ctx context.Context, sessionID string) error
}
