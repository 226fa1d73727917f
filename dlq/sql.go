package dlq

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

/*
SQL Schema (PostgreSQL; also valid for SQLite):

CREATE TABLE IF NOT EXISTS futuremsg_dlq (
    id          VARCHAR(36) PRIMARY KEY,
    original_id VARCHAR(255) NOT NULL,
    source      VARCHAR(255) NOT NULL,
    destination VARCHAR(255) NOT NULL,
    payload     BYTEA,
    metadata    TEXT,
    fire_time   BIGINT NOT NULL,
    error       TEXT NOT NULL,
    created_at  BIGINT NOT NULL,
    retried_at  BIGINT
);

CREATE INDEX idx_futuremsg_dlq_created ON futuremsg_dlq (created_at);
*/

// SQLStore implements Store in a database/sql table. Timestamps are Unix
// nanoseconds so the same queries run on PostgreSQL and SQLite.
type SQLStore struct {
	db    *sql.DB
	table string
}

// NewSQLStore creates a store in the futuremsg_dlq table.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db, table: "futuremsg_dlq"}
}

// WithTable sets a custom table name
func (s *SQLStore) WithTable(table string) *SQLStore {
	s.table = table
	return s
}

// EnsureSchema creates the table and its index if they do not exist
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id          VARCHAR(36) PRIMARY KEY,
			original_id VARCHAR(255) NOT NULL,
			source      VARCHAR(255) NOT NULL,
			destination VARCHAR(255) NOT NULL,
			payload     BYTEA,
			metadata    TEXT,
			fire_time   BIGINT NOT NULL,
			error       TEXT NOT NULL,
			created_at  BIGINT NOT NULL,
			retried_at  BIGINT
		)`, s.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_created ON %s (created_at)`, s.table, s.table),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create dlq table: %w", err)
		}
	}
	return nil
}

const sqlColumns = `id, original_id, source, destination, payload, metadata, fire_time, error, created_at, retried_at`

func (s *SQLStore) Store(ctx context.Context, msg *Message) error {
	metadata, err := json.Marshal(msg.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	var retried sql.NullInt64
	if msg.RetriedAt != nil {
		retried = sql.NullInt64{Int64: msg.RetriedAt.UnixNano(), Valid: true}
	}

	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`, s.table, sqlColumns)
	_, err = s.db.ExecContext(ctx, query,
		msg.ID, msg.OriginalID, msg.Source, msg.Destination, msg.Payload, string(metadata),
		msg.FireTime.UnixNano(), msg.Error, msg.CreatedAt.UnixNano(), retried)
	if err != nil {
		return fmt.Errorf("insert dead letter: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*Message, error) {
	var (
		msg       Message
		metadata  sql.NullString
		fireTime  int64
		createdAt int64
		retried   sql.NullInt64
	)
	err := row.Scan(&msg.ID, &msg.OriginalID, &msg.Source, &msg.Destination, &msg.Payload,
		&metadata, &fireTime, &msg.Error, &createdAt, &retried)
	if err != nil {
		return nil, err
	}
	if metadata.Valid && metadata.String != "" && metadata.String != "null" {
		if err := json.Unmarshal([]byte(metadata.String), &msg.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	msg.FireTime = time.Unix(0, fireTime)
	msg.CreatedAt = time.Unix(0, createdAt)
	if retried.Valid {
		t := time.Unix(0, retried.Int64)
		msg.RetriedAt = &t
	}
	return &msg, nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (*Message, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, sqlColumns, s.table)
	msg, err := scanMessage(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get dead letter: %w", err)
	}
	return msg, nil
}

// where builds the WHERE clause for filter.
func (s *SQLStore) where(filter Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.Destination != "" {
		add("destination = $%d", filter.Destination)
	}
	if filter.Source != "" {
		add("source = $%d", filter.Source)
	}
	if !filter.StartTime.IsZero() {
		add("created_at >= $%d", filter.StartTime.UnixNano())
	}
	if !filter.EndTime.IsZero() {
		add("created_at <= $%d", filter.EndTime.UnixNano())
	}
	if filter.Error != "" {
		add("error LIKE $%d", "%"+filter.Error+"%")
	}
	if filter.ExcludeRetried {
		conds = append(conds, "retried_at IS NULL")
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *SQLStore) List(ctx context.Context, filter Filter) ([]*Message, error) {
	where, args := s.where(filter)
	query := fmt.Sprintf(`SELECT %s FROM %s%s ORDER BY created_at, id`, sqlColumns, s.table, where)
	// SQLite rejects OFFSET without LIMIT, so an unlimited page is cut in Go.
	paged := filter.Limit > 0
	if paged {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", filter.Limit, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var out []*Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if !paged {
		out = filter.page(out)
	}
	return out, nil
}

func (s *SQLStore) Count(ctx context.Context, filter Filter) (int64, error) {
	where, args := s.where(filter)
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s%s`, s.table, where)
	var n int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count dead letters: %w", err)
	}
	return n, nil
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) MarkRetried(ctx context.Context, id string) error {
	query := fmt.Sprintf(`UPDATE %s SET retried_at = $1 WHERE id = $2`, s.table)
	return s.exec(ctx, query, time.Now().UnixNano(), id)
}

func (s *SQLStore) Delete(ctx context.Context, id string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.table)
	return s.exec(ctx, query, id)
}

func (s *SQLStore) DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE created_at < $1`, s.table)
	res, err := s.db.ExecContext(ctx, query, time.Now().Add(-age).UnixNano())
	if err != nil {
		return 0, fmt.Errorf("delete old dead letters: %w", err)
	}
	return res.RowsAffected()
}

var _ Store = (*SQLStore)(nil)
