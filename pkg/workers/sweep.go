package workers

import (
	"context"
	"time"

	"github.com/deckmate/tablesync/pkg/connections"
	"github.com/deckmate/tablesync/pkg/log"
)

const (
	// DefaultSweepInterval is how often the connection sweep runs.
	DefaultSweepInterval = 30 * time.Second
)

type SweepWorker struct {
	registry *connections.Registry
	interval time.Duration
}

type NewSweepWorkerOptions struct {
	Registry *connections.Registry
	Interval time.Duration
}

// NewSweepWorker creates a worker that periodically removes stale and
// auth-expired connections from the registry.
func NewSweepWorker(opts NewSweepWorkerOptions) *SweepWorker {
	if opts.Interval <= 0 {
		opts.Interval = DefaultSweepInterval
	}
	return &SweepWorker{
		registry: opts.Registry,
		interval: opts.Interval,
	}
}

func (w *SweepWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := w.registry.SweepStale(); n > 0 {
				log.Info("Connection sweep removed %d connections", n)
			}
		}
	}
}
