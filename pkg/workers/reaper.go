package workers

import (
	"context"
	"time"

	"github.com/deckmate/tablesync/pkg/log"
	"github.com/deckmate/tablesync/pkg/repositories"
	"github.com/deckmate/tablesync/pkg/rooms"
)

const (
	// DefaultReapInterval is how often the idle-room reaper runs.
	DefaultReapInterval = time.Minute
)

type ReaperWorker struct {
	rooms      *rooms.Registry
	repository repositories.Repository
	interval   time.Duration
}

type NewReaperWorkerOptions struct {
	Rooms      *rooms.Registry
	Repository repositories.Repository
	Interval   time.Duration
}

// NewReaperWorker creates a worker that destroys rooms left empty past
// the registry's grace period. A final snapshot is saved before the
// room object goes away so the session can be resumed later.
func NewReaperWorker(opts NewReaperWorkerOptions) *ReaperWorker {
	if opts.Interval <= 0 {
		opts.Interval = DefaultReapInterval
	}
	return &ReaperWorker{
		rooms:      opts.Rooms,
		repository: opts.Repository,
		interval:   opts.Interval,
	}
}

func (w *ReaperWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.reap(ctx)
		}
	}
}

func (w *ReaperWorker) reap(ctx context.Context) {
	for _, sessionID := range w.reapable() {
		room, err := w.rooms.Get(sessionID)
		if err != nil {
			continue
		}
		if err := w.repository.SaveSnapshot(ctx, sessionID, room.Manager.Current()); err != nil {
			log.Error("Failed to save final snapshot for session %s: %v", sessionID, err)
		}
	}
	w.rooms.ReapIdle()
}

// reapable returns the sessions the next ReapIdle call would destroy.
// Best effort: a join landing between the snapshot and the reap keeps
// the room alive and the snapshot is simply stale by one pass.
func (w *ReaperWorker) reapable() []string {
	return w.rooms.PeekIdle()
}
