package lock

import (
	"time"

	"github.com/rs/zerolog"
)

// Option configures a Lock, or the Lock owned by an Election.
type Option func(*Lock)

// WithBaseURI sets the lock service address. Defaults to DefaultBaseURI.
func WithBaseURI(uri string) Option {
	return func(l *Lock) {
		l.baseURI = uri
	}
}

// WithInterval sets the heartbeat interval used for lease renewal and for
// polling a contended lock. Defaults to DefaultInterval.
func WithInterval(d time.Duration) Option {
	return func(l *Lock) {
		if d > 0 {
			l.interval = d
		}
	}
}

// WithClient replaces the remote client. Several locks may share one client.
func WithClient(c RemoteClient) Option {
	return func(l *Lock) {
		if c != nil {
			l.client = c
		}
	}
}

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Lock) {
		l.logger = logger
	}
}
