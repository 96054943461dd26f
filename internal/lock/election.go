package lock

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/kneutral-org/locksync/internal/metrics"
)

// Action is a unit of work run by an Election.
type Action func()

// Handler selects which Election action AddHandler replaces.
type Handler int

const (
	// HandlerLeader is the action run while holding leadership.
	HandlerLeader Handler = iota
	// HandlerFollower is the action run after every election attempt.
	HandlerFollower
)

// Roles reported by Election runs.
const (
	RoleLeader   = "leader"
	RoleFollower = "follower"
)

// Election decides which of several processes runs a leader action by making
// a single attempt at a shared Lock. The follower action always runs after the
// attempt, whether or not this process led. Callers wanting to keep contending
// for leadership call Run repeatedly, or use an Elector.
type Election struct {
	lock    *Lock
	running atomic.Bool

	leader   atomic.Pointer[Action]
	follower atomic.Pointer[Action]
}

// NewElection creates an election over the lock called name. Options configure
// the underlying Lock.
func NewElection(name string, leader, follower Action, opts ...Option) *Election {
	e := &Election{
		lock: NewLock(name, opts...),
	}
	e.AddHandler(HandlerLeader, leader)
	e.AddHandler(HandlerFollower, follower)
	return e
}

// Name returns the election (lock) name.
func (e *Election) Name() string {
	return e.lock.Name()
}

// IsRunning reports whether the election has been run and not shut down.
func (e *Election) IsRunning() bool {
	return e.running.Load()
}

// IsLeader reports whether this process currently holds leadership.
func (e *Election) IsLeader() bool {
	return e.lock.IsLocked()
}

// Shutdown marks the election as not running. It does not interrupt a Run in
// progress; it only stops loops that check IsRunning.
func (e *Election) Shutdown() {
	e.running.Store(false)
}

// AddHandler atomically replaces the leader or follower action. A nil action
// does nothing when run.
func (e *Election) AddHandler(kind Handler, action Action) {
	if action == nil {
		action = func() {}
	}
	switch kind {
	case HandlerLeader:
		e.leader.Store(&action)
	case HandlerFollower:
		e.follower.Store(&action)
	}
}

// Run makes one attempt to lead. If the lock is acquired the leader action
// runs while the lease is renewed. The follower action then runs in every case.
//
// Run returns nil if this process led, an error matching ErrNotAcquired if
// another process holds leadership, or an error matching ErrTransport if the
// lock service could not be reached.
func (e *Election) Run(ctx context.Context) error {
	leader := *e.leader.Load()
	follower := *e.follower.Load()

	e.running.Store(true)

	err := e.lock.Lock(ctx, leader)
	switch {
	case err == nil:
		metrics.RecordElectionRun(e.Name(), RoleLeader)
	case errors.Is(err, ErrNotAcquired):
		e.lock.logger.Debug().Msg("another instance is leader")
		metrics.RecordElectionRun(e.Name(), RoleFollower)
	default:
		e.lock.logger.Error().Err(err).Msg("election attempt failed")
		metrics.RecordElectionRun(e.Name(), RoleFollower)
	}

	follower()
	return err
}
