package snapshot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

/*
SQL Schema (PostgreSQL; also valid for SQLite):

CREATE TABLE IF NOT EXISTS futuremsg_snapshots (
    store    VARCHAR(255) NOT NULL,
    seq      BIGINT NOT NULL,
    as_of_ns BIGINT NOT NULL,
    count    INTEGER NOT NULL,
    data     BYTEA NOT NULL,
    PRIMARY KEY (store, seq)
);
*/

// SQL stores snapshots in a database/sql table.
type SQL struct {
	db    *sql.DB
	name  string
	table string
}

// NewSQL creates a store named name in the futuremsg_snapshots table
func NewSQL(db *sql.DB, name string) *SQL {
	return &SQL{
		db:    db,
		name:  name,
		table: "futuremsg_snapshots",
	}
}

// WithTable sets a custom table name
func (s *SQL) WithTable(table string) *SQL {
	s.table = table
	return s
}

// EnsureSchema creates the snapshot table if it does not exist
func (s *SQL) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			store    VARCHAR(255) NOT NULL,
			seq      BIGINT NOT NULL,
			as_of_ns BIGINT NOT NULL,
			count    INTEGER NOT NULL,
			data     BYTEA NOT NULL,
			PRIMARY KEY (store, seq)
		)`, s.table)
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	return nil
}

// Save upserts the snapshot row
func (s *SQL) Save(ctx context.Context, snap Snapshot) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (store, seq, as_of_ns, count, data)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (store, seq) DO UPDATE SET
			as_of_ns = excluded.as_of_ns,
			count = excluded.count,
			data = excluded.data
	`, s.table)

	_, err := s.db.ExecContext(ctx, query,
		s.name,
		int64(snap.Sequence),
		snap.AsOf.UnixNano(),
		snap.Count,
		snap.Data,
	)
	if err != nil {
		return fmt.Errorf("upsert: %w", err)
	}
	return nil
}

// LoadLatest selects the newest row at or below maxSeq
func (s *SQL) LoadLatest(ctx context.Context, maxSeq uint64) (*Snapshot, error) {
	bound := int64(^uint64(0) >> 1)
	if maxSeq > 0 && maxSeq < uint64(bound) {
		bound = int64(maxSeq)
	}
	query := fmt.Sprintf(`
		SELECT seq, as_of_ns, count, data FROM %s
		WHERE store = $1 AND seq <= $2
		ORDER BY seq DESC LIMIT 1
	`, s.table)

	var (
		seq, asOf int64
		count     int
		data      []byte
	)
	err := s.db.QueryRowContext(ctx, query, s.name, bound).Scan(&seq, &asOf, &count, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select: %w", err)
	}
	return &Snapshot{
		Sequence: uint64(seq),
		AsOf:     time.Unix(0, asOf),
		Count:    count,
		Data:     data,
	}, nil
}

// Close is a no-op; the caller owns the database handle
func (s *SQL) Close(ctx context.Context) error {
	return nil
}

// Compile-time check
var _ Store = (*SQL)(nil)
