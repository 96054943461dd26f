// Package lock provides a renewable remote lock and a leader election built
// on it, for coordinating work across processes on different machines through
// a remote lock service.
package lock

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/kneutral-org/locksync/internal/metrics"
)

const (
	// DefaultInterval is the default heartbeat interval.
	DefaultInterval = 10 * time.Second

	// DefaultRetries is the retry budget of LockWithRetry.
	DefaultRetries = 10

	// RetryForever is the retry budget that never runs out.
	RetryForever = -1

	// waitTimeout bounds each wait for a wake-up from the polling heartbeat.
	waitTimeout = 500 * time.Millisecond
)

// Lock is a distributed mutual exclusion primitive backed by a remote lock
// service. While the caller's action runs, a background heartbeat renews the
// lease. Locks are not reentrant: calling Lock while already holding it logs a
// warning but still goes to the remote service, which remains the authority.
//
// A caller waiting on a contended lock retries after every successful poll,
// whether the poll saw the lock present or absent. Waking on presence alone
// would strand waiters behind services that delete released keys.
type Lock struct {
	name     string
	baseURI  string
	interval time.Duration
	client   RemoteClient
	logger   zerolog.Logger

	locked  atomic.Bool
	holding atomic.Pointer[Heartbeat]
}

// NewLock creates a lock called name. Without options it talks HTTP to the
// sidecar at DefaultBaseURI with a DefaultInterval heartbeat.
func NewLock(name string, opts ...Option) *Lock {
	l := &Lock{
		name:     name,
		baseURI:  DefaultBaseURI,
		interval: DefaultInterval,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.client == nil {
		l.client = NewHTTPClient()
	}
	l.logger = l.logger.With().Str("lock", name).Logger()
	return l
}

// Name returns the lock identifier.
func (l *Lock) Name() string {
	return l.name
}

// URI returns the fully-qualified lock address, {baseURI}/locks/{name}.
func (l *Lock) URI() string {
	return lockURI(l.baseURI, l.name)
}

// Interval returns the heartbeat interval.
func (l *Lock) Interval() time.Duration {
	return l.interval
}

// IsLocked reports whether this instance believes it holds the lock.
func (l *Lock) IsLocked() bool {
	return l.locked.Load()
}

// Unlock stops renewing the lease and clears the local lock flag. It does not
// interrupt an action that is still running.
func (l *Lock) Unlock() {
	// Clearing the flag first pairs with the re-check in hold.
	l.setLocked(false)
	if hb := l.holding.Load(); hb != nil {
		hb.Stop()
	}
}

// Lock makes a single acquisition attempt and runs action if it succeeds.
// It returns ErrNotAcquired without waiting if another owner holds the lock.
func (l *Lock) Lock(ctx context.Context, action func()) error {
	return l.LockWithRetries(ctx, 0, action)
}

// LockWithRetry is Lock with up to DefaultRetries wait-and-retry cycles.
func (l *Lock) LockWithRetry(ctx context.Context, action func()) error {
	return l.LockWithRetries(ctx, DefaultRetries, action)
}

// LockWithRetryForever keeps retrying until the lock is acquired or a remote
// call fails.
func (l *Lock) LockWithRetryForever(ctx context.Context, action func()) error {
	return l.LockWithRetries(ctx, RetryForever, action)
}

// LockWithRetries acquires the lock, retrying up to retries times after a
// conflict, and runs action while holding it. A negative retries means
// RetryForever. The action runs at most once.
//
// The returned error wraps ErrTransport when the lock service could not be
// reached or ctx was cancelled before the lock was acquired, and
// ErrNotAcquired when the retry budget ran out. The context never interrupts
// a running action.
func (l *Lock) LockWithRetries(ctx context.Context, retries int, action func()) error {
	remaining := retries
	if remaining < 0 {
		remaining = RetryForever
	}
	uri := l.URI()

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			l.logger.Info().Err(err).Int("retry", remaining).Msg("gave up on lock")
			metrics.RecordAcquireAttempt(l.name, metrics.ResultError)
			return transportError("check", l.name, err)
		}

		if l.IsLocked() {
			l.logger.Warn().Msg("locks are not reentrant")
		}

		if _, err := l.client.CheckPresence(ctx, uri); err != nil {
			l.logger.Error().Err(err).Str("op", "check").Int("retry", remaining).Msg("could not check lock")
			metrics.RecordAcquireAttempt(l.name, metrics.ResultError)
			return transportError("check", l.name, err)
		}

		ownership, err := l.client.AcquireOrRenew(ctx, uri)
		if err != nil {
			l.logger.Error().Err(err).Str("op", "acquire").Int("retry", remaining).Msg("could not acquire lock")
			metrics.RecordAcquireAttempt(l.name, metrics.ResultError)
			return transportError("acquire", l.name, err)
		}

		if ownership == OwnershipOwned {
			metrics.RecordAcquireAttempt(l.name, metrics.ResultOwned)
			l.hold(ctx, action)
			return nil
		}

		if remaining == 0 {
			l.logger.Info().Int("retry", remaining).Int("attempts", attempt).Msg("couldn't grab lock")
			metrics.RecordAcquireAttempt(l.name, metrics.ResultExhausted)
			return &NotAcquiredError{Lock: l.name, Attempts: attempt}
		}

		metrics.RecordAcquireAttempt(l.name, metrics.ResultConflict)
		l.logger.Debug().Int("retry", remaining).Msg("lock held elsewhere, waiting")
		l.wait(ctx)
		metrics.RecordWaitCycle(l.name)

		if remaining != RetryForever {
			remaining--
		}
	}
}

// hold runs action while a heartbeat renews the lease in the background, and
// returns only after the heartbeat goroutine has exited.
func (l *Lock) hold(ctx context.Context, action func()) {
	renewCtx := context.WithoutCancel(ctx)
	uri := l.URI()
	hb := NewHeartbeat(l.interval)

	l.setLocked(true)

	done := hb.Go(func() {
		presence, err := l.client.CheckPresence(renewCtx, uri)
		if err != nil {
			l.logger.Error().Err(err).Str("op", "check").Msg("could not check held lock")
			metrics.RecordRenewal(l.name, metrics.ResultError)
			return
		}
		if presence == PresenceAbsent {
			l.loseLease(hb, "lease no longer present")
			return
		}

		ownership, err := l.client.AcquireOrRenew(renewCtx, uri)
		if err != nil {
			l.logger.Error().Err(err).Str("op", "renew").Msg("could not renew lock")
			metrics.RecordRenewal(l.name, metrics.ResultError)
			return
		}
		if ownership == OwnershipConflict {
			l.loseLease(hb, "lease taken by another owner")
			return
		}
		metrics.RecordRenewal(l.name, metrics.ResultOwned)
	})

	// An Unlock that ran before the heartbeat was published could not stop it.
	l.holding.Store(hb)
	if !l.IsLocked() {
		hb.Stop()
	}

	defer func() {
		hb.Stop()
		<-done
		l.holding.CompareAndSwap(hb, nil)
		l.setLocked(false)
	}()

	action()
}

func (l *Lock) loseLease(hb *Heartbeat, reason string) {
	l.logger.Warn().Msg(reason)
	metrics.RecordRenewal(l.name, metrics.ResultLost)
	hb.Stop()
	l.setLocked(false)
}

// wait blocks until a polling heartbeat observes the contested lock again,
// or until ctx is done.
// The poller and the caller hand off through a flag and a wake channel; the
// caller re-checks the flag at least every waitTimeout.
func (l *Lock) wait(ctx context.Context) {
	uri := l.URI()
	hb := NewHeartbeat(l.interval)

	var available atomic.Bool
	wake := make(chan struct{}, 1)

	done := hb.Go(func() {
		presence, err := l.client.CheckPresence(ctx, uri)
		if err != nil {
			l.logger.Error().Err(err).Str("op", "check").Msg("could not poll lock")
			if ctx.Err() == nil {
				return
			}
		} else {
			l.logger.Debug().Stringer("presence", presence).Msg("lock observed, retrying")
		}

		hb.Stop()
		available.Store(true)
		select {
		case wake <- struct{}{}:
		default:
		}
	})

	timer := time.NewTimer(waitTimeout)
	defer timer.Stop()

	for !available.Load() {
		select {
		case <-wake:
		case <-ctx.Done():
			hb.Stop()
			<-done
			return
		case <-timer.C:
			timer.Reset(waitTimeout)
		}
	}

	<-done
}

func (l *Lock) setLocked(held bool) {
	l.locked.Store(held)
	metrics.SetLockHeld(l.name, held)
}
