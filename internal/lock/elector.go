package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Elector keeps an Election contending for leadership by calling Run in a
// loop, pausing between runs. It stops when Stop is called, the context is
// cancelled, or the election is shut down.
type Elector struct {
	election *Election
	logger   zerolog.Logger

	pacing time.Duration
	onRole func(role string)

	role atomic.Pointer[string]
	runs atomic.Int64

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// ElectorOption configures an Elector.
type ElectorOption func(*Elector)

// WithPacing sets how long to wait between election runs.
func WithPacing(d time.Duration) ElectorOption {
	return func(e *Elector) {
		if d > 0 {
			e.pacing = d
		}
	}
}

// WithOnRole sets a callback invoked with RoleLeader or RoleFollower after
// every run in which the role changed.
func WithOnRole(fn func(role string)) ElectorOption {
	return func(e *Elector) {
		e.onRole = fn
	}
}

// NewElector creates an elector driving the given election.
func NewElector(election *Election, logger zerolog.Logger, opts ...ElectorOption) *Elector {
	e := &Elector{
		election: election,
		logger:   logger.With().Str("election", election.Name()).Logger(),
		pacing:   5 * time.Second,
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start begins the election loop in a background goroutine.
func (e *Elector) Start(ctx context.Context) {
	e.wg.Add(1)
	go e.run(ctx)
}

// Stop shuts the election down and waits for the loop to exit. A run that is
// in progress is allowed to finish.
func (e *Elector) Stop() {
	e.election.Shutdown()
	e.stopOnce.Do(func() {
		close(e.stopCh)
	})
	e.wg.Wait()
}

// Name returns the election name.
func (e *Elector) Name() string {
	return e.election.Name()
}

// IsRunning reports whether the election is still contending.
func (e *Elector) IsRunning() bool {
	return e.election.IsRunning()
}

// IsLeader returns true if this instance is currently the leader.
func (e *Elector) IsLeader() bool {
	return e.election.IsLeader()
}

// Role returns the role of the last completed run, or "" before the first.
func (e *Elector) Role() string {
	if r := e.role.Load(); r != nil {
		return *r
	}
	return ""
}

// Runs returns the number of completed election runs.
func (e *Elector) Runs() int64 {
	return e.runs.Load()
}

// Election returns the election being driven.
func (e *Elector) Election() *Election {
	return e.election
}

func (e *Elector) run(ctx context.Context) {
	defer e.wg.Done()

	// Run immediately on start
	e.runOnce(ctx)

	timer := time.NewTimer(e.pacing)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stopCh:
			return
		case <-timer.C:
			if !e.election.IsRunning() {
				e.logger.Info().Msg("election shut down, leaving loop")
				return
			}
			e.runOnce(ctx)
			timer.Reset(e.pacing)
		}
	}
}

func (e *Elector) runOnce(ctx context.Context) {
	err := e.election.Run(ctx)
	e.runs.Add(1)

	role := RoleFollower
	switch {
	case err == nil:
		role = RoleLeader
		e.logger.Info().Msg("completed term as leader")
	case errors.Is(err, ErrNotAcquired):
		e.logger.Debug().Msg("another instance is leader")
	default:
		e.logger.Error().Err(err).Msg("failed to contend for leadership")
	}

	if prev := e.role.Swap(&role); (prev == nil || *prev != role) && e.onRole != nil {
		e.onRole(role)
	}
}
