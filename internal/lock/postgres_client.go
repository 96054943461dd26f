package lock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// DefaultPostgresTable is the table PostgresClient keeps leases in.
const DefaultPostgresTable = "locksync_locks"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresClient implements RemoteClient on a PostgreSQL table with one row
// per lock. A row owned by someone else can be taken over once its lease
// has expired.
type PostgresClient struct {
	db    *sql.DB
	owner string
	ttl   time.Duration
	table string
}

// PostgresClientOption configures a PostgresClient.
type PostgresClientOption func(*PostgresClient)

// WithPostgresOwner sets the owner identity. Defaults to a random ID.
func WithPostgresOwner(owner string) PostgresClientOption {
	return func(c *PostgresClient) {
		c.owner = owner
	}
}

// WithPostgresTTL sets the lease expiry. Defaults to DefaultLeaseTTL.
func WithPostgresTTL(ttl time.Duration) PostgresClientOption {
	return func(c *PostgresClient) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithTable sets the lease table name.
func WithTable(table string) PostgresClientOption {
	return func(c *PostgresClient) {
		c.table = table
	}
}

// OpenPostgres opens a pgx-backed *sql.DB and verifies the connection.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// NewPostgresClient creates a PostgreSQL-backed remote client.
func NewPostgresClient(db *sql.DB, opts ...PostgresClientOption) (*PostgresClient, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	c := &PostgresClient{
		db:    db,
		owner: NewOwnerID(),
		ttl:   DefaultLeaseTTL,
		table: DefaultPostgresTable,
	}
	for _, opt := range opts {
		opt(c)
	}
	if !validTableName.MatchString(c.table) {
		return nil, fmt.Errorf("invalid lock table name %q", c.table)
	}
	return c, nil
}

// EnsureTable creates the lease table if it does not exist.
func (c *PostgresClient) EnsureTable(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			lock_key   TEXT PRIMARY KEY,
			owner      TEXT NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, c.table)

	if _, err := c.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create lock table: %w", err)
	}
	return nil
}

// CheckPresence implements RemoteClient.CheckPresence.
func (c *PostgresClient) CheckPresence(ctx context.Context, uri string) (Presence, error) {
	defer observe("postgres", "check", time.Now())

	query := fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE lock_key = $1)`, c.table)

	var exists bool
	if err := c.db.QueryRowContext(ctx, query, uri).Scan(&exists); err != nil {
		return PresenceAbsent, err
	}
	if exists {
		return PresencePresent, nil
	}
	return PresenceAbsent, nil
}

// AcquireOrRenew implements RemoteClient.AcquireOrRenew.
// Uses INSERT ... ON CONFLICT so that the ownership check and the write are
// one statement; no row comes back when another owner's lease is still valid.
func (c *PostgresClient) AcquireOrRenew(ctx context.Context, uri string) (Ownership, error) {
	defer observe("postgres", "acquire", time.Now())

	query := fmt.Sprintf(`
		INSERT INTO %[1]s (lock_key, owner, expires_at, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (lock_key) DO UPDATE
		SET owner = EXCLUDED.owner, expires_at = EXCLUDED.expires_at, updated_at = NOW()
		WHERE %[1]s.owner = EXCLUDED.owner OR %[1]s.expires_at < NOW()
		RETURNING owner
	`, c.table)

	var owner string
	err := c.db.QueryRowContext(ctx, query, uri, c.owner, time.Now().Add(c.ttl)).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return OwnershipConflict, nil
	}
	if err != nil {
		return OwnershipConflict, err
	}
	return OwnershipOwned, nil
}

// Owner returns the identity this client acquires locks as.
func (c *PostgresClient) Owner() string {
	return c.owner
}

// Close closes the underlying database handle.
func (c *PostgresClient) Close() error {
	return c.db.Close()
}

// Cleanup deletes expired leases so that presence checks report them absent.
func (c *PostgresClient) Cleanup(ctx context.Context) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE expires_at < NOW()`, c.table)

	result, err := c.db.ExecContext(ctx, query)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
