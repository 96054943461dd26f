package lock

import (
	"sync/atomic"
	"time"
)

// Heartbeat runs an action at a fixed interval until stopped.
// A Heartbeat is meant to be driven by a single Beat loop at a time; a new one
// is created for every lock hold and every wait cycle.
type Heartbeat struct {
	running  atomic.Bool
	interval time.Duration
	wake     chan struct{}
}

// NewHeartbeat creates a stopped heartbeat that ticks every interval.
func NewHeartbeat(interval time.Duration) *Heartbeat {
	return &Heartbeat{
		interval: interval,
		wake:     make(chan struct{}, 1),
	}
}

// Start marks the heartbeat as running.
func (h *Heartbeat) Start() {
	select {
	case <-h.wake:
	default:
	}
	h.running.Store(true)
}

// Stop marks the heartbeat as stopped and cuts the current sleep short.
// Safe to call repeatedly, from inside the action, or before Start.
func (h *Heartbeat) Stop() {
	h.running.Store(false)
	select {
	case h.wake <- struct{}{}:
	default:
	}
}

// IsRunning reports whether the heartbeat is running.
func (h *Heartbeat) IsRunning() bool {
	return h.running.Load()
}

// Interval returns the time between ticks.
func (h *Heartbeat) Interval() time.Duration {
	return h.interval
}

// Beat starts the heartbeat and blocks, sleeping for the interval and then
// invoking action, for as long as the heartbeat is running. Ticks never
// overlap and missed ticks are not replayed. Errors are action's business.
func (h *Heartbeat) Beat(action func()) {
	h.Start()
	h.loop(action)
}

// Go is Beat on a new goroutine. The heartbeat is marked running before Go
// returns, so a Stop issued right afterwards is never lost. The returned
// channel is closed once the loop has exited.
func (h *Heartbeat) Go(action func()) <-chan struct{} {
	done := make(chan struct{})
	h.Start()
	go func() {
		defer close(done)
		h.loop(action)
	}()
	return done
}

func (h *Heartbeat) loop(action func()) {
	timer := time.NewTimer(h.interval)
	defer timer.Stop()

	for h.IsRunning() {
		select {
		case <-timer.C:
		case <-h.wake:
		}
		if !h.IsRunning() {
			return
		}
		action()
		timer.Reset(h.interval)
	}
}
