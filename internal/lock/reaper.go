package lock

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Cleaner is a lock store that can delete expired leases.
type Cleaner interface {
	// Cleanup removes expired leases and returns the number removed.
	Cleanup(ctx context.Context) (int64, error)
}

// Reaper periodically deletes expired leases from a Cleaner. Backends keep a
// stale lease until someone takes it over, so without a reaper a presence
// check keeps reporting a lock whose owner has died.
type Reaper struct {
	store    Cleaner
	interval time.Duration
	logger   zerolog.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewReaper creates a reaper that runs at the specified interval, or every
// DefaultLeaseTTL if interval is not positive.
func NewReaper(store Cleaner, interval time.Duration, logger zerolog.Logger) *Reaper {
	if interval <= 0 {
		interval = DefaultLeaseTTL
	}
	return &Reaper{
		store:    store,
		interval: interval,
		logger:   logger.With().Str("component", "lease-reaper").Logger(),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins reaping in a background goroutine.
func (r *Reaper) Start() {
	go r.run()
}

// Stop signals the reaper to stop and waits for it to finish.
func (r *Reaper) Stop() {
	close(r.stopCh)
	<-r.doneCh
}

func (r *Reaper) run() {
	defer close(r.doneCh)

	r.reap()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			r.logger.Debug().Msg("lease reaper stopped")
			return
		case <-ticker.C:
			r.reap()
		}
	}
}

func (r *Reaper) reap() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	count, err := r.store.Cleanup(ctx)
	if err != nil {
		r.logger.Error().Err(err).Msg("failed to remove expired leases")
		return
	}

	if count > 0 {
		r.logger.Info().
			Int64("removedCount", count).
			Msg("removed expired leases")
	}
}
