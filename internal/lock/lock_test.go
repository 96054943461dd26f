package lock

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kneutral-org/locksync/internal/metrics"
)

const testBaseURI = "http://lock-service.test"

// stubClient is a RemoteClient whose answers are supplied by the test.
type stubClient struct {
	check   func(ctx context.Context, uri string) (Presence, error)
	acquire func(ctx context.Context, uri string) (Ownership, error)
}

func (s *stubClient) CheckPresence(ctx context.Context, uri string) (Presence, error) {
	return s.check(ctx, uri)
}

func (s *stubClient) AcquireOrRenew(ctx context.Context, uri string) (Ownership, error) {
	return s.acquire(ctx, uri)
}

func newTestLock(name string, client RemoteClient, interval time.Duration, opts ...Option) *Lock {
	opts = append([]Option{
		WithBaseURI(testBaseURI),
		WithClient(client),
		WithInterval(interval),
	}, opts...)
	return NewLock(name, opts...)
}

// syncBuffer is a bytes.Buffer safe for the concurrent writes zerolog makes
// from heartbeat goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestNewLock_Defaults(t *testing.T) {
	l := NewLock("defaults")

	assert.Equal(t, "defaults", l.Name())
	assert.Equal(t, DefaultBaseURI+"/locks/defaults", l.URI())
	assert.Equal(t, DefaultInterval, l.Interval())
	assert.False(t, l.IsLocked())
	assert.IsType(t, &HTTPClient{}, l.client)
}

func TestNewLock_URITrimsTrailingSlash(t *testing.T) {
	l := NewLock("jobs", WithBaseURI("http://sidecar:9000/"))

	assert.Equal(t, "http://sidecar:9000/locks/jobs", l.URI())
}

func TestLock_SingleCaller(t *testing.T) {
	server := NewMemoryServer(time.Second)
	l := newTestLock("single", server.Client("client1"), 20*time.Millisecond)

	var runs int
	var lockedDuring bool
	err := l.Lock(context.Background(), func() {
		runs++
		lockedDuring = l.IsLocked()
	})

	require.NoError(t, err)
	assert.Equal(t, 1, runs)
	assert.True(t, lockedDuring, "expected IsLocked during the action")
	assert.False(t, l.IsLocked(), "expected IsLocked to be false after the action")

	owner, ok := server.Owner(l.URI())
	require.True(t, ok)
	assert.Equal(t, "client1", owner)
}

func TestLock_RenewsWhileHeld(t *testing.T) {
	server := NewMemoryServer(time.Second)
	client := server.Client("client1")
	l := newTestLock("renew", client, 10*time.Millisecond)

	err := l.Lock(context.Background(), func() {
		time.Sleep(120 * time.Millisecond)
	})
	require.NoError(t, err)

	// One acquisition plus several renewals
	assert.GreaterOrEqual(t, client.Acquires(), int64(3))
}

func TestLock_WithoutRetryingDoesNotWait(t *testing.T) {
	server := NewMemoryServer(time.Minute)
	holder := server.Client("client0")
	contender := server.Client("client1")

	l := newTestLock("no-retry", contender, time.Hour)
	_, err := holder.AcquireOrRenew(context.Background(), l.URI())
	require.NoError(t, err)

	ran := false
	start := time.Now()
	err = l.Lock(context.Background(), func() { ran = true })

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotAcquired)
	assert.Less(t, time.Since(start), time.Second, "a zero-retry lock must not wait")
	assert.False(t, ran)
	assert.False(t, l.IsLocked())
	assert.Equal(t, int64(1), contender.Checks())
	assert.Equal(t, int64(1), contender.Acquires())

	var notAcquired *NotAcquiredError
	require.True(t, errors.As(err, &notAcquired))
	assert.Equal(t, "no-retry", notAcquired.Lock)
	assert.Equal(t, 1, notAcquired.Attempts)
}

func TestLock_RetryBudgetExhausted(t *testing.T) {
	server := NewMemoryServer(time.Minute)
	holder := server.Client("client0")
	contender := server.Client("client1")

	l := newTestLock("retry-budget", contender, 5*time.Millisecond)
	_, err := holder.AcquireOrRenew(context.Background(), l.URI())
	require.NoError(t, err)

	waitsBefore := testutil.ToFloat64(metrics.WaitCycles.WithLabelValues("retry-budget"))

	ran := false
	err = l.LockWithRetries(context.Background(), 3, func() { ran = true })

	require.ErrorIs(t, err, ErrNotAcquired)
	assert.False(t, ran)

	var notAcquired *NotAcquiredError
	require.True(t, errors.As(err, &notAcquired))
	assert.Equal(t, 4, notAcquired.Attempts)

	// 4 attempts, each a check and an acquire, plus one poll per wait cycle
	assert.Equal(t, int64(4), contender.Acquires())
	assert.Equal(t, int64(4+3), contender.Checks())
	assert.Equal(t, waitsBefore+3, testutil.ToFloat64(metrics.WaitCycles.WithLabelValues("retry-budget")))
}

func TestLock_WithRetryingAcquiresStaleLock(t *testing.T) {
	server := NewMemoryServer(100 * time.Millisecond)
	holder := server.Client("client0")
	contender := server.Client("client1")

	l := newTestLock("stale", contender, 20*time.Millisecond)
	_, err := holder.AcquireOrRenew(context.Background(), l.URI())
	require.NoError(t, err)

	ran := false
	err = l.LockWithRetry(context.Background(), func() { ran = true })

	require.NoError(t, err)
	assert.True(t, ran)

	owner, _ := server.Owner(l.URI())
	assert.Equal(t, "client1", owner)
}

func TestLock_WithInfiniteRetriesAcquiresAfterRelease(t *testing.T) {
	server := NewMemoryServer(time.Minute)
	holder := server.Client("client0")
	contender := server.Client("client1")

	l := newTestLock("forever", contender, 10*time.Millisecond)
	_, err := holder.AcquireOrRenew(context.Background(), l.URI())
	require.NoError(t, err)

	// Release the contending owner after a while
	go func() {
		time.Sleep(100 * time.Millisecond)
		server.Release(l.URI())
	}()

	done := make(chan error, 1)
	var ran atomic.Bool
	go func() {
		done <- l.LockWithRetryForever(context.Background(), func() { ran.Store(true) })
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("LockWithRetryForever did not acquire after release")
	}
	assert.True(t, ran.Load())
}

func TestLock_RetryForeverStopsOnCancelledContext(t *testing.T) {
	server := NewMemoryServer(time.Minute)
	holder := server.Client("client0")
	contender := server.Client("client1")

	l := newTestLock("forever-cancel", contender, 10*time.Millisecond)
	_, err := holder.AcquireOrRenew(context.Background(), l.URI())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	done := make(chan error, 1)
	go func() {
		done <- l.LockWithRetryForever(ctx, func() {})
	}()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrTransport)
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("LockWithRetryForever ignored a cancelled context")
	}
}

func TestLock_WithRetryUsesDefaultBudget(t *testing.T) {
	server := NewMemoryServer(time.Minute)
	holder := server.Client("client0")
	contender := server.Client("client1")

	l := newTestLock("default-budget", contender, 2*time.Millisecond)
	_, err := holder.AcquireOrRenew(context.Background(), l.URI())
	require.NoError(t, err)

	waitsBefore := testutil.ToFloat64(metrics.WaitCycles.WithLabelValues("default-budget"))

	err = l.LockWithRetry(context.Background(), func() {
		t.Error("action must not run")
	})

	var notAcquired *NotAcquiredError
	require.True(t, errors.As(err, &notAcquired))
	assert.Equal(t, DefaultRetries+1, notAcquired.Attempts)
	assert.Equal(t, int64(DefaultRetries+1), contender.Acquires())
	assert.Equal(t, int64(2*DefaultRetries+1), contender.Checks())
	assert.Equal(t, waitsBefore+DefaultRetries, testutil.ToFloat64(metrics.WaitCycles.WithLabelValues("default-budget")))
}

func TestLock_WaitWakesWhenLockSeenAbsent(t *testing.T) {
	stub := &stubClient{
		check: func(context.Context, string) (Presence, error) {
			return PresenceAbsent, nil
		},
		acquire: func(context.Context, string) (Ownership, error) {
			return OwnershipConflict, nil
		},
	}
	l := newTestLock("absent-wake", stub, time.Millisecond)

	done := make(chan error, 1)
	go func() {
		done <- l.LockWithRetries(context.Background(), 1, func() { t.Error("action must not run") })
	}()

	select {
	case err := <-done:
		var notAcquired *NotAcquiredError
		require.True(t, errors.As(err, &notAcquired))
		assert.Equal(t, 2, notAcquired.Attempts)
	case <-time.After(5 * time.Second):
		t.Fatal("waiter was not woken by an absent observation")
	}
}

func TestLock_CancelledContextStopsClientThatIgnoresIt(t *testing.T) {
	var checks, acquires atomic.Int32
	stub := &stubClient{
		check: func(context.Context, string) (Presence, error) {
			checks.Add(1)
			return PresencePresent, nil
		},
		acquire: func(context.Context, string) (Ownership, error) {
			acquires.Add(1)
			return OwnershipConflict, nil
		},
	}

	t.Run("cancelled before the call", func(t *testing.T) {
		l := newTestLock("ignores-ctx", stub, time.Millisecond)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := l.LockWithRetryForever(ctx, func() { t.Error("action must not run") })

		require.ErrorIs(t, err, ErrTransport)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, int32(0), acquires.Load())
	})

	t.Run("cancelled while waiting", func(t *testing.T) {
		// The poll never fires, so only the context can end the wait
		l := newTestLock("ignores-ctx-wait", stub, time.Hour)
		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(50*time.Millisecond, cancel)

		done := make(chan error, 1)
		go func() {
			done <- l.LockWithRetryForever(ctx, func() { t.Error("action must not run") })
		}()

		select {
		case err := <-done:
			require.ErrorIs(t, err, ErrTransport)
			assert.ErrorIs(t, err, context.Canceled)
		case <-time.After(5 * time.Second):
			t.Fatal("LockWithRetryForever kept waiting after cancellation")
		}
	})
}

func TestLock_MutualExclusion(t *testing.T) {
	server := NewMemoryServer(200 * time.Millisecond)

	var active, maxActive, total atomic.Int32
	var wg sync.WaitGroup

	for _, owner := range []string{"client0", "client1", "client2"} {
		l := newTestLock("contended", server.Client(owner), 20*time.Millisecond)
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.LockWithRetryForever(context.Background(), func() {
				n := active.Add(1)
				if n > maxActive.Load() {
					maxActive.Store(n)
				}
				time.Sleep(60 * time.Millisecond)
				active.Add(-1)
				total.Add(1)
			})
			assert.NoError(t, err)
		}()
	}

	wg.Wait()

	assert.Equal(t, int32(1), maxActive.Load(), "at most one holder at a time")
	assert.Equal(t, int32(3), total.Load())
}

func TestLock_TransportFailureOnCheck(t *testing.T) {
	server := NewMemoryServer(time.Second)
	client := server.Client("client1")
	client.SetFailure(errors.New("connection refused"))

	l := newTestLock("check-fails", client, 10*time.Millisecond)

	ran := false
	err := l.LockWithRetryForever(context.Background(), func() { ran = true })

	require.ErrorIs(t, err, ErrTransport)
	assert.Contains(t, err.Error(), "connection refused")
	assert.False(t, ran)
	assert.False(t, l.IsLocked())
	assert.Equal(t, int64(0), client.Acquires(), "acquire must not be attempted after a failed check")
}

func TestLock_TransportFailureOnAcquire(t *testing.T) {
	stub := &stubClient{
		check: func(context.Context, string) (Presence, error) {
			return PresenceAbsent, nil
		},
		acquire: func(context.Context, string) (Ownership, error) {
			return OwnershipConflict, &UnexpectedStatusError{Method: "PUT", URL: "x", Code: 500}
		},
	}
	l := newTestLock("acquire-fails", stub, 10*time.Millisecond)

	ran := false
	err := l.LockWithRetry(context.Background(), func() { ran = true })

	require.ErrorIs(t, err, ErrTransport)
	var statusErr *UnexpectedStatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, 500, statusErr.Code)
	assert.False(t, ran)
}

func TestLock_UnlockThenLockAgain(t *testing.T) {
	server := NewMemoryServer(time.Second)
	l := newTestLock("round-trip", server.Client("client1"), 10*time.Millisecond)

	err := l.Lock(context.Background(), func() {
		require.True(t, l.IsLocked())
		l.Unlock()
		assert.False(t, l.IsLocked())
	})
	require.NoError(t, err)

	ran := false
	err = l.Lock(context.Background(), func() { ran = true })
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestLock_UnlockFromAnotherGoroutineStopsRenewal(t *testing.T) {
	for i := 0; i < 20; i++ {
		server := NewMemoryServer(time.Second)
		client := server.Client("client1")
		l := newTestLock("unlock-race", client, 2*time.Millisecond)

		unlocked := make(chan struct{})
		go func() {
			defer close(unlocked)
			for !l.IsLocked() {
				time.Sleep(50 * time.Microsecond)
			}
			l.Unlock()
		}()

		err := l.Lock(context.Background(), func() {
			<-unlocked
			// Let an in-flight renewal finish before sampling
			time.Sleep(10 * time.Millisecond)
			renewals := client.Acquires()
			time.Sleep(20 * time.Millisecond)
			assert.Equal(t, renewals, client.Acquires(), "lease renewed after Unlock")
		})
		require.NoError(t, err)
		assert.False(t, l.IsLocked())
	}
}

func TestLock_LostLeaseClearsLocked(t *testing.T) {
	server := NewMemoryServer(time.Second)
	l := newTestLock("lost", server.Client("client1"), 10*time.Millisecond)

	err := l.Lock(context.Background(), func() {
		require.True(t, l.IsLocked())
		server.Release(l.URI())
		assert.Eventually(t, func() bool { return !l.IsLocked() }, time.Second, 5*time.Millisecond)
	})
	require.NoError(t, err)
}

func TestLock_ReentrantCallWarns(t *testing.T) {
	var logs syncBuffer
	server := NewMemoryServer(time.Second)
	l := newTestLock("reentrant", server.Client("client1"), 50*time.Millisecond,
		WithLogger(zerolog.New(&logs)))

	innerRan := false
	err := l.Lock(context.Background(), func() {
		// Same owner, so the remote service lets the nested call proceed
		innerErr := l.Lock(context.Background(), func() { innerRan = true })
		assert.NoError(t, innerErr)
	})

	require.NoError(t, err)
	assert.True(t, innerRan)
	assert.Contains(t, logs.String(), "locks are not reentrant")
	assert.Contains(t, logs.String(), `"lock":"reentrant"`)
}

func TestLock_SharedClientAcrossLocks(t *testing.T) {
	server := NewMemoryServer(time.Minute)
	client := server.Client("client1")

	a := newTestLock("shared-a", client, 10*time.Millisecond)
	b := newTestLock("shared-b", client, 10*time.Millisecond)

	var wg sync.WaitGroup
	var runs atomic.Int32
	for _, l := range []*Lock{a, b} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, l.Lock(context.Background(), func() {
				time.Sleep(30 * time.Millisecond)
				runs.Add(1)
			}))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(2), runs.Load())
	assert.Equal(t, 2, server.Len())
}
