package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultStaleAfter is how long a MemoryServer entry stays valid without renewal.
const DefaultStaleAfter = time.Second

// memoryEntry records the owner of a lock key and when it last renewed.
type memoryEntry struct {
	owner     string
	renewedAt time.Time
}

// MemoryServer is an in-memory lock service for tests and local development.
// Ownership is first-writer-wins; an entry whose owner has not renewed for
// the staleness window can be taken over by anyone. Entries are never removed
// unless Release or Cleanup is called, mirroring a service that keeps the
// last owner.
type MemoryServer struct {
	mu         sync.Mutex
	entries    map[string]memoryEntry
	staleAfter time.Duration
}

// NewMemoryServer creates a MemoryServer with the given staleness window.
// A non-positive window means DefaultStaleAfter.
func NewMemoryServer(staleAfter time.Duration) *MemoryServer {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &MemoryServer{
		entries:    make(map[string]memoryEntry),
		staleAfter: staleAfter,
	}
}

// Client returns a RemoteClient acting as owner against this server.
func (s *MemoryServer) Client(owner string) *MemoryClient {
	return &MemoryClient{owner: owner, server: s}
}

// Owner returns the current owner of uri, if any.
func (s *MemoryServer) Owner(uri string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[uri]
	return entry.owner, ok
}

// Release removes the entry for uri.
func (s *MemoryServer) Release(uri string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, uri)
}

// Len returns the number of entries in the server (for testing).
func (s *MemoryServer) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Cleanup removes entries that have gone stale and returns how many it removed.
func (s *MemoryServer) Cleanup(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	now := time.Now()
	for uri, entry := range s.entries {
		if now.Sub(entry.renewedAt) >= s.staleAfter {
			delete(s.entries, uri)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryServer) check(uri string) Presence {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[uri]; ok {
		return PresencePresent
	}
	return PresenceAbsent
}

func (s *MemoryServer) acquireOrRenew(uri, owner string) Ownership {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if entry, ok := s.entries[uri]; ok {
		if entry.owner != owner && now.Sub(entry.renewedAt) < s.staleAfter {
			return OwnershipConflict
		}
	}

	s.entries[uri] = memoryEntry{owner: owner, renewedAt: now}
	return OwnershipOwned
}

// MemoryClient is a RemoteClient bound to one owner on a MemoryServer.
// It counts calls so tests can observe how the state machine drove it.
type MemoryClient struct {
	owner  string
	server *MemoryServer

	// err, when set, is returned by every call.
	err atomic.Pointer[error]

	checks   atomic.Int64
	acquires atomic.Int64
}

// CheckPresence implements RemoteClient.CheckPresence.
func (c *MemoryClient) CheckPresence(ctx context.Context, uri string) (Presence, error) {
	c.checks.Add(1)
	if err := c.failure(ctx); err != nil {
		return PresenceAbsent, err
	}
	return c.server.check(uri), nil
}

// AcquireOrRenew implements RemoteClient.AcquireOrRenew.
func (c *MemoryClient) AcquireOrRenew(ctx context.Context, uri string) (Ownership, error) {
	c.acquires.Add(1)
	if err := c.failure(ctx); err != nil {
		return OwnershipConflict, err
	}
	return c.server.acquireOrRenew(uri, c.owner), nil
}

// Owner returns the identity this client acquires locks as.
func (c *MemoryClient) Owner() string {
	return c.owner
}

// SetFailure makes every subsequent call fail with err; nil restores normal behavior.
func (c *MemoryClient) SetFailure(err error) {
	if err == nil {
		c.err.Store(nil)
		return
	}
	c.err.Store(&err)
}

// Checks returns the number of CheckPresence calls made.
func (c *MemoryClient) Checks() int64 {
	return c.checks.Load()
}

// Acquires returns the number of AcquireOrRenew calls made.
func (c *MemoryClient) Acquires() int64 {
	return c.acquires.Load()
}

func (c *MemoryClient) failure(ctx context.Context) error {
	if p := c.err.Load(); p != nil {
		return *p
	}
	return ctx.Err()
}
