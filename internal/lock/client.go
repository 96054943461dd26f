package lock

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURI is the address of the lock service sidecar.
const DefaultBaseURI = "http://localhost:8080"

// OwnerHeader carries the caller's identity to lock services that do not
// derive it from the connection.
const OwnerHeader = "X-Locksync-Owner"

// Presence is the answer to a presence check.
type Presence int

const (
	// PresenceAbsent means no entry exists for the lock key.
	PresenceAbsent Presence = iota
	// PresencePresent means some owner has an entry for the lock key.
	PresencePresent
)

func (p Presence) String() string {
	if p == PresencePresent {
		return "present"
	}
	return "absent"
}

// Ownership is the answer to an acquire-or-renew call.
type Ownership int

const (
	// OwnershipOwned means the caller now owns (or still owns) the lock.
	OwnershipOwned Ownership = iota
	// OwnershipConflict means a different, non-stale owner holds the lock.
	OwnershipConflict
)

func (o Ownership) String() string {
	if o == OwnershipOwned {
		return "owned"
	}
	return "conflict"
}

// RemoteClient is the capability a Lock uses to talk to the lock service.
// Both calls take the fully-qualified lock URI. Any returned error is a
// transport failure. Implementations must be safe for concurrent use.
type RemoteClient interface {
	// CheckPresence reports whether any entry exists for the lock.
	CheckPresence(ctx context.Context, uri string) (Presence, error)

	// AcquireOrRenew creates or renews ownership of the lock. The service
	// applies its own staleness policy and reports a conflict only when a
	// different, still-valid owner holds the key.
	AcquireOrRenew(ctx context.Context, uri string) (Ownership, error)
}

// HTTPClient talks to the lock service sidecar over HTTP:
// GET returns 200 when the lock exists and 404 when it does not,
// PUT returns 200 when the lock is owned and 409 on conflict.
type HTTPClient struct {
	http  *http.Client
	owner string
}

// HTTPClientOption configures an HTTPClient.
type HTTPClientOption func(*HTTPClient)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) HTTPClientOption {
	return func(c *HTTPClient) {
		c.http = hc
	}
}

// WithOwnerHeader sends owner in the OwnerHeader of every request.
func WithOwnerHeader(owner string) HTTPClientOption {
	return func(c *HTTPClient) {
		c.owner = owner
	}
}

// NewHTTPClient creates an HTTPClient with a 10 second request timeout.
func NewHTTPClient(opts ...HTTPClientOption) *HTTPClient {
	c := &HTTPClient{
		http: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CheckPresence implements RemoteClient.CheckPresence with GET.
func (c *HTTPClient) CheckPresence(ctx context.Context, uri string) (Presence, error) {
	code, err := c.do(ctx, http.MethodGet, uri, "check")
	if err != nil {
		return PresenceAbsent, err
	}

	switch code {
	case http.StatusOK:
		return PresencePresent, nil
	case http.StatusNotFound:
		return PresenceAbsent, nil
	default:
		return PresenceAbsent, &UnexpectedStatusError{Method: http.MethodGet, URL: uri, Code: code}
	}
}

// AcquireOrRenew implements RemoteClient.AcquireOrRenew with PUT.
func (c *HTTPClient) AcquireOrRenew(ctx context.Context, uri string) (Ownership, error) {
	code, err := c.do(ctx, http.MethodPut, uri, "acquire")
	if err != nil {
		return OwnershipConflict, err
	}

	switch code {
	case http.StatusOK:
		return OwnershipOwned, nil
	case http.StatusConflict:
		return OwnershipConflict, nil
	default:
		return OwnershipConflict, &UnexpectedStatusError{Method: http.MethodPut, URL: uri, Code: code}
	}
}

func (c *HTTPClient) do(ctx context.Context, method, uri, op string) (int, error) {
	defer observe("http", op, time.Now())

	req, err := http.NewRequestWithContext(ctx, method, uri, nil)
	if err != nil {
		return 0, fmt.Errorf("build %s request: %w", method, err)
	}
	if c.owner != "" {
		req.Header.Set(OwnerHeader, c.owner)
	}

	rsp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer rsp.Body.Close()

	return rsp.StatusCode, nil
}

// lockURI joins the service base address and lock name as {base}/locks/{name}.
// The name is path-escaped so it always addresses a single path segment;
// "+" is escaped too since routers may decode it as a space.
func lockURI(baseURI, name string) string {
	segment := strings.ReplaceAll(url.PathEscape(name), "+", "%2B")
	return strings.TrimRight(baseURI, "/") + "/locks/" + segment
}
