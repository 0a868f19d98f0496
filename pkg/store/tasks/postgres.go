package tasks

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresStore is a Store shared by every node process pointed at the same
// database. Grab leases with FOR UPDATE SKIP LOCKED so concurrent workers
// never select the same row.
type PostgresStore struct {
	db  *sql.DB
	now Clock
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

// OpenPostgres connects with the lib/pq driver.
func OpenPostgres(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("tasks: open postgres: %w", err)
	}
	return db, nil
}

const pgSchema = `
CREATE TABLE IF NOT EXISTS resumable_tasks (
	id TEXT PRIMARY KEY,
	task TEXT NOT NULL,
	timeout BIGINT NOT NULL,
	retry_count INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS resumable_tasks_timeout ON resumable_tasks (timeout);
`

func (s *PostgresStore) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, pgSchema); err != nil {
		return fmt.Errorf("tasks: init schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Register(ctx context.Context, task json.RawMessage, timeoutSeconds int64) (*ManagedResumableTask, error) {
	payload, id, err := Prepare(task)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO resumable_tasks (id, task, timeout, retry_count)
		VALUES ($1, $2, $3, 0)
		ON CONFLICT (id) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, query, id, string(payload), s.now().Unix()+timeoutSeconds); err != nil {
		return nil, fmt.Errorf("tasks: register %s: %w", id, err)
	}
	return s.Read(ctx, id)
}

func (s *PostgresStore) Grab(ctx context.Context, count int, timeoutSeconds int64) ([]ManagedResumableTask, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now().Unix()
	querySelect := `
		SELECT id, task, retry_count
		FROM resumable_tasks
		WHERE timeout <= $1
		ORDER BY timeout ASC, id ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`
	rows, err := tx.QueryContext(ctx, querySelect, now, count)
	if err != nil {
		return nil, fmt.Errorf("tasks: grab select: %w", err)
	}

	var (
		grabbed []ManagedResumableTask
		ids     []string
	)
	for rows.Next() {
		var (
			t    ManagedResumableTask
			task string
		)
		if err := rows.Scan(&t.ID, &task, &t.RetryCount); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("tasks: grab scan: %w", err)
		}
		t.Task = json.RawMessage(task)
		t.Timeout = now + timeoutSeconds
		t.RetryCount++
		grabbed = append(grabbed, t)
		ids = append(ids, t.ID)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	if len(ids) == 0 {
		return nil, nil
	}

	queryUpdate := `
		UPDATE resumable_tasks
		SET timeout = $1, retry_count = retry_count + 1
		WHERE id = ANY($2)
	`
	if _, err := tx.ExecContext(ctx, queryUpdate, now+timeoutSeconds, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("tasks: grab lease: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return grabbed, nil
}

func (s *PostgresStore) Read(ctx context.Context, id string) (*ManagedResumableTask, error) {
	query := `SELECT id, task, timeout, retry_count FROM resumable_tasks WHERE id = $1`

	var (
		t    ManagedResumableTask
		task string
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(&t.ID, &task, &t.Timeout, &t.RetryCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("tasks: read %s: %w", id, err)
	}
	t.Task = json.RawMessage(task)
	return &t, nil
}

func (s *PostgresStore) Extend(ctx context.Context, id string, timeoutSeconds int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE resumable_tasks SET timeout = $1 WHERE id = $2`, s.now().Unix()+timeoutSeconds, id)
	if err != nil {
		return fmt.Errorf("tasks: extend %s: %w", id, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("tasks: extend %s: %w", id, err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM resumable_tasks WHERE id = $1`, id); err != nil {
		return fmt.Errorf("tasks: delete %s: %w", id, err)
	}
	return nil
}
