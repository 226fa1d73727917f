package journal

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
)

/*
SQL Schema (PostgreSQL; also valid for SQLite):

CREATE TABLE IF NOT EXISTS futuremsg_journal (
    journal    VARCHAR(255) NOT NULL,
    seq        BIGINT NOT NULL,
    data       BYTEA NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (journal, seq)
);
*/

// SQL stores a journal in a database/sql table.
//
// Queries use $N placeholders, which PostgreSQL and SQLite both accept. The
// caller registers the driver and owns the *sql.DB.
type SQL struct {
	db    *sql.DB
	name  string
	table string

	mu     sync.Mutex
	last   uint64
	loaded bool
}

// NewSQL creates a journal named name in the futuremsg_journal table
func NewSQL(db *sql.DB, name string) *SQL {
	return &SQL{
		db:    db,
		name:  name,
		table: "futuremsg_journal",
	}
}

// WithTable sets a custom table name
func (s *SQL) WithTable(table string) *SQL {
	s.table = table
	return s
}

// EnsureSchema creates the journal table if it does not exist
func (s *SQL) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			journal    VARCHAR(255) NOT NULL,
			seq        BIGINT NOT NULL,
			data       BYTEA NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (journal, seq)
		)`, s.table)
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	return nil
}

func (s *SQL) load(ctx context.Context) error {
	if s.loaded {
		return nil
	}
	query := fmt.Sprintf("SELECT COALESCE(MAX(seq), 0) FROM %s WHERE journal = $1", s.table)
	var last int64
	if err := s.db.QueryRowContext(ctx, query, s.name).Scan(&last); err != nil {
		return fmt.Errorf("select max: %w", err)
	}
	s.last = uint64(last)
	s.loaded = true
	return nil
}

// Append inserts a row under the next sequence number
func (s *SQL) Append(ctx context.Context, data []byte) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(ctx); err != nil {
		return 0, err
	}

	seq := s.last + 1
	query := fmt.Sprintf("INSERT INTO %s (journal, seq, data) VALUES ($1, $2, $3)", s.table)
	if _, err := s.db.ExecContext(ctx, query, s.name, int64(seq), data); err != nil {
		return 0, fmt.Errorf("insert: %w", err)
	}
	s.last = seq
	return seq, nil
}

// Replay selects rows ordered by sequence
func (s *SQL) Replay(ctx context.Context, from uint64, fn func(seq uint64, data []byte) error) error {
	if from < 1 {
		from = 1
	}
	query := fmt.Sprintf("SELECT seq, data FROM %s WHERE journal = $1 AND seq >= $2 ORDER BY seq", s.table)
	rows, err := s.db.QueryContext(ctx, query, s.name, int64(from))
	if err != nil {
		return fmt.Errorf("select: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		var data []byte
		if err := rows.Scan(&seq, &data); err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		if err := fn(uint64(seq), data); err != nil {
			return err
		}
	}
	return rows.Err()
}

// LastSequence returns the highest stored sequence number
func (s *SQL) LastSequence(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(ctx); err != nil {
		return 0, err
	}
	return s.last, nil
}

// Close is a no-op; the caller owns the database handle
func (s *SQL) Close(ctx context.Context) error {
	return nil
}

// Compile-time check
var _ Journal = (*SQL)(nil)
