package idempotency

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

/*
SQL Schema (PostgreSQL; also valid for SQLite):

CREATE TABLE IF NOT EXISTS futuremsg_dedup (
    dedup_key  VARCHAR(512) PRIMARY KEY,
    expires_at BIGINT NOT NULL
);
*/

// SQLStore implements Store in a database/sql table. Expiry is stored as
// Unix nanoseconds so the same queries run on PostgreSQL and SQLite.
type SQLStore struct {
	db    *sql.DB
	table string
	ttl   time.Duration
}

// NewSQLStore creates a store in the futuremsg_dedup table.
func NewSQLStore(db *sql.DB, ttl time.Duration) *SQLStore {
	return &SQLStore{
		db:    db,
		table: "futuremsg_dedup",
		ttl:   ttl,
	}
}

// WithTable sets a custom table name
func (s *SQLStore) WithTable(table string) *SQLStore {
	s.table = table
	return s
}

// EnsureSchema creates the table if it does not exist
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			dedup_key  VARCHAR(512) PRIMARY KEY,
			expires_at BIGINT NOT NULL
		)`, s.table)
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create dedup table: %w", err)
	}
	return nil
}

func (s *SQLStore) IsDuplicate(ctx context.Context, key string) (bool, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE dedup_key = $1 AND expires_at > $2`, s.table)

	var n int
	if err := s.db.QueryRowContext(ctx, query, key, time.Now().UnixNano()).Scan(&n); err != nil {
		return false, fmt.Errorf("query dedup: %w", err)
	}
	return n > 0, nil
}

func (s *SQLStore) MarkProcessed(ctx context.Context, key string) error {
	return s.MarkProcessedWithTTL(ctx, key, s.ttl)
}

func (s *SQLStore) MarkProcessedWithTTL(ctx context.Context, key string, ttl time.Duration) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (dedup_key, expires_at) VALUES ($1, $2)
		ON CONFLICT (dedup_key) DO UPDATE SET expires_at = excluded.expires_at`, s.table)

	if _, err := s.db.ExecContext(ctx, query, key, time.Now().Add(ttl).UnixNano()); err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	return nil
}

func (s *SQLStore) Remove(ctx context.Context, key string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE dedup_key = $1`, s.table)
	if _, err := s.db.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("remove dedup key: %w", err)
	}
	return nil
}

// DeleteExpired removes expired keys and returns how many were deleted.
func (s *SQLStore) DeleteExpired(ctx context.Context) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE expires_at <= $1`, s.table)
	res, err := s.db.ExecContext(ctx, query, time.Now().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("delete expired: %w", err)
	}
	return res.RowsAffected()
}

var _ Store = (*SQLStore)(nil)
