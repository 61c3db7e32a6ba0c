package workers

import (
	"context"
	"time"

	"github.com/deckmate/tablesync/pkg/game/types"
	"github.com/deckmate/tablesync/pkg/log"
	"github.com/deckmate/tablesync/pkg/repositories"
	"github.com/deckmate/tablesync/pkg/rooms"
)

const (
	// DefaultSaveInterval is how often every live room is snapshotted.
	DefaultSaveInterval = 10 * time.Second
	// SaveChannelSize bounds the on-demand save request channel.
	SaveChannelSize = 100
)

// SaveSnapshotRequest asks the worker to persist one session's state
// out of band, e.g. right after a game-over action.
type SaveSnapshotRequest struct {
	SessionID string
	State     *types.GameState
}

type SaveWorker struct {
	rooms      *rooms.Registry
	repository repositories.Repository
	requests   <-chan SaveSnapshotRequest
	interval   time.Duration
}

type NewSaveWorkerOptions struct {
	Rooms      *rooms.Registry
	Repository repositories.Repository
	Requests   <-chan SaveSnapshotRequest
	Interval   time.Duration
}

// NewSaveWorker creates a worker that processes on-demand snapshot
// requests and periodically snapshots every live room.
func NewSaveWorker(opts NewSaveWorkerOptions) *SaveWorker {
	if opts.Interval <= 0 {
		opts.Interval = DefaultSaveInterval
	}
	return &SaveWorker{
		rooms:      opts.Rooms,
		repository: opts.Repository,
		requests:   opts.Requests,
		interval:   opts.Interval,
	}
}

func (w *SaveWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-w.requests:
			w.save(ctx, req.SessionID, req.State)
		case <-ticker.C:
			for _, sessionID := range w.rooms.Sessions() {
				room, err := w.rooms.Get(sessionID)
				if err != nil {
					continue
				}
				w.save(ctx, sessionID, room.Manager.Current())
			}
		}
	}
}

func (w *SaveWorker) save(ctx context.Context, sessionID string, state *types.GameState) {
	if err := w.repository.SaveSnapshot(ctx, sessionID, state); err != nil {
		log.Error("Failed to save snapshot for session %s: %v", sessionID, err)
	}
}
