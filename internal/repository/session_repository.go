package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
)

// PostgresSessionDirectory implements SessionDirectory on PostgreSQL
type PostgresSessionDirectory struct {
	db    *sql.DB
	query string
}

// OpenPostgresSessionDirectory opens the directory described by dsn. The
// connection itself is established lazily on the first lookup.
func OpenPostgresSessionDirectory(dsn, table string) (*PostgresSessionDirectory, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql.Open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(1 * time.Hour)
	return NewPostgresSessionDirectory(db, table), nil
}

// NewPostgresSessionDirectory wraps an existing handle. table must already be
// a validated SQL identifier.
func NewPostgresSessionDirectory(db *sql.DB, table string) *PostgresSessionDirectory {
	return &PostgresSessionDirectory{
		db: db,
		query: fmt.Sprintf(`select count(*)
	           from %s
	           where device_id=$1 and session_id=$2 and subscription_date >= $3`, table),
	}
}

// CountActiveSessions runs the point lookup on a dedicated connection that is
// released on every return path.
func (r *PostgresSessionDirectory) CountActiveSessions(ctx context.Context, deviceID, sessionID string, asOf time.Time) (int, error) {
	conn, err := r.db.Conn(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err)
	}
	defer conn.Close()

	y, m, d := asOf.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)

	var count int
	if err := conn.QueryRowContext(ctx, r.query, deviceID, sessionID, day).Scan(&count); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDirectoryQuery, err)
	}
	return count, nil
}

// Ping checks connectivity
func (r *PostgresSessionDirectory) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err)
	}
	return nil
}

// Close closes the underlying pool
func (r *PostgresSessionDirectory) Close() error {
	return r.db.Close()
}
