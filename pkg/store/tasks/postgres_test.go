package tasks

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock, time.Time) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	now := time.Unix(1_700_000_000, 0)
	s := NewPostgresStore(db)
	s.now = func() time.Time { return now }
	return s, mock, now
}

func TestPostgresStore_Register(t *testing.T) {
	s, mock, now := newMockStore(t)
	ctx := context.Background()

	payload, id, err := Prepare(json.RawMessage(`{"b":1,"a":2}`))
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO resumable_tasks").
		WithArgs(id, string(payload), now.Unix()+60).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("SELECT id, task, timeout, retry_count FROM resumable_tasks").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"id", "task", "timeout", "retry_count"}).
			AddRow(id, string(payload), now.Unix()+60, 0))

	task, err := s.Register(ctx, json.RawMessage(`{"b":1,"a":2}`), 60)
	require.NoError(t, err)
	assert.Equal(t, id, task.ID)
	assert.Equal(t, `{"a":2,"b":1}`, string(task.Task))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_Grab(t *testing.T) {
	s, mock, now := newMockStore(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, task, retry_count\\s+FROM resumable_tasks\\s+WHERE timeout <= \\$1").
		WithArgs(now.Unix(), 2).
		WillReturnRows(sqlmock.NewRows([]string{"id", "task", "retry_count"}).
			AddRow("t1", `{"n":1}`, 0).
			AddRow("t2", `{"n":2}`, 3))
	mock.ExpectExec("UPDATE resumable_tasks").
		WithArgs(now.Unix()+60, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	grabbed, err := s.Grab(ctx, 2, 60)
	require.NoError(t, err)
	require.Len(t, grabbed, 2)
	assert.Equal(t, 1, grabbed[0].RetryCount)
	assert.Equal(t, 4, grabbed[1].RetryCount)
	assert.Equal(t, now.Unix()+60, grabbed[1].Timeout)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GrabEmpty(t *testing.T) {
	s, mock, now := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, task, retry_count").
		WithArgs(now.Unix(), 5).
		WillReturnRows(sqlmock.NewRows([]string{"id", "task", "retry_count"}))
	mock.ExpectRollback()

	grabbed, err := s.Grab(context.Background(), 5, 60)
	require.NoError(t, err)
	assert.Empty(t, grabbed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ExtendMissing(t *testing.T) {
	s, mock, now := newMockStore(t)

	mock.ExpectExec("UPDATE resumable_tasks SET timeout").
		WithArgs(now.Unix()+30, "gone").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.Extend(context.Background(), "gone", 30)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReadMissing(t *testing.T) {
	s, mock, _ := newMockStore(t)

	mock.ExpectQuery("SELECT id, task, timeout, retry_count").
		WithArgs("gone").
		WillReturnRows(sqlmock.NewRows([]string{"id", "task", "timeout", "retry_count"}))

	_, err := s.Read(context.Background(), "gone")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresStore_Delete(t *testing.T) {
	s, mock, _ := newMockStore(t)

	mock.ExpectExec("DELETE FROM resumable_tasks").
		WithArgs("t1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, s.Delete(context.Background(), "t1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
