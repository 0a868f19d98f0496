package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/Mindburn-Labs/dwn-core/pkg/canonicalize"
	"github.com/Mindburn-Labs/dwn-core/pkg/message"

	_ "modernc.org/sqlite"
)

// SQLiteMessageStore persists messages in a single SQLite table. Indexes are
// stored as canonical JSON; string equality criteria are pushed down with
// json_extract and the remaining criteria are evaluated in process.
type SQLiteMessageStore struct {
	db *sql.DB
}

// OpenSQLite opens a SQLite database at path (":memory:" for a private
// in-memory database).
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	// modernc in-memory databases are per connection.
	db.SetMaxOpenConns(1)
	return db, nil
}

func NewSQLiteMessageStore(db *sql.DB) (*SQLiteMessageStore, error) {
	s := &SQLiteMessageStore{db: db}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLiteMessageStore) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS messages (
		tenant TEXT NOT NULL,
		cid TEXT NOT NULL,
		message JSON NOT NULL,
		indexes JSON NOT NULL,
		PRIMARY KEY (tenant, cid)
	);`
	if _, err := s.db.ExecContext(context.Background(), query); err != nil {
		return fmt.Errorf("store: migrate messages: %w", err)
	}
	return nil
}

func (s *SQLiteMessageStore) Get(ctx context.Context, tenant, cid string) (*message.Message, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT message FROM messages WHERE tenant = ? AND cid = ?`, tenant, cid).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get %s: %w", cid, err)
	}
	var m message.Message
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("store: decode %s: %w", cid, err)
	}
	return &m, nil
}

func (s *SQLiteMessageStore) Put(ctx context.Context, tenant string, m *message.Message, idx Indexes) error {
	cid, err := message.CID(m)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	msgJSON, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("store: encode message: %w", err)
	}
	idxJSON, err := canonicalize.JCS(idx)
	if err != nil {
		return fmt.Errorf("store: encode indexes: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO messages (tenant, cid, message, indexes) VALUES (?, ?, ?, ?)
		ON CONFLICT (tenant, cid) DO UPDATE SET message = excluded.message, indexes = excluded.indexes`,
		tenant, cid, msgJSON, idxJSON)
	if err != nil {
		return fmt.Errorf("store: put %s: %w", cid, err)
	}
	return nil
}

func (s *SQLiteMessageStore) Query(ctx context.Context, tenant string, filters []Filter, opts QueryOptions) ([]*message.Message, string, error) {
	query, args := buildSelect(`SELECT cid, message, indexes FROM messages`, tenant, filters)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("store: query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var matched []entry
	for rows.Next() {
		var (
			cid            string
			msgRaw, idxRaw []byte
		)
		if err := rows.Scan(&cid, &msgRaw, &idxRaw); err != nil {
			return nil, "", fmt.Errorf("store: scan: %w", err)
		}
		var idx Indexes
		if err := json.Unmarshal(idxRaw, &idx); err != nil {
			return nil, "", fmt.Errorf("store: decode indexes %s: %w", cid, err)
		}
		if !Matches(idx, filters) {
			continue
		}
		var m message.Message
		if err := json.Unmarshal(msgRaw, &m); err != nil {
			return nil, "", fmt.Errorf("store: decode %s: %w", cid, err)
		}
		matched = append(matched, entry{cid: cid, msg: &m, indexes: idx})
	}
	if err := rows.Err(); err != nil {
		return nil, "", err
	}

	page, cursor := paginate(matched, opts)
	out := make([]*message.Message, len(page))
	for i, e := range page {
		out[i] = e.msg
	}
	return out, cursor, nil
}

func (s *SQLiteMessageStore) Delete(ctx context.Context, tenant, cid string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE tenant = ? AND cid = ?`, tenant, cid); err != nil {
		return fmt.Errorf("store: delete %s: %w", cid, err)
	}
	return nil
}

// buildSelect narrows a scan to the tenant and, for a single filter, to its
// string equality criteria. Results must still pass Matches.
func buildSelect(base, tenant string, filters []Filter) (string, []any) {
	clauses := []string{"tenant = ?"}
	args := []any{tenant}
	if len(filters) == 1 {
		keys := make([]string, 0, len(filters[0]))
		for k := range filters[0] {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if v, ok := filters[0][k].Equal.(string); ok {
				clauses = append(clauses, "json_extract(indexes, ?) = ?")
				args = append(args, jsonPath(k), v)
			}
		}
	}
	return base + " WHERE " + strings.Join(clauses, " AND "), args
}

func jsonPath(field string) string {
	return `$."` + strings.ReplaceAll(field, `"`, `\"`) + `"`
}

// SQLiteEventLog is an EventLog backed by an autoincrement sequence.
type SQLiteEventLog struct {
	db *sql.DB
}

func NewSQLiteEventLog(db *sql.DB) (*SQLiteEventLog, error) {
	l := &SQLiteEventLog{db: db}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS events (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			tenant TEXT NOT NULL,
			cid TEXT NOT NULL,
			indexes JSON NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS events_tenant_cid ON events (tenant, cid)`,
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(context.Background(), stmt); err != nil {
			return nil, fmt.Errorf("store: migrate events: %w", err)
		}
	}
	return l, nil
}

func (l *SQLiteEventLog) Append(ctx context.Context, tenant, cid string, idx Indexes) error {
	idxJSON, err := canonicalize.JCS(idx)
	if err != nil {
		return fmt.Errorf("store: encode indexes: %w", err)
	}
	_, err = l.db.ExecContext(ctx, `INSERT INTO events (tenant, cid, indexes) VALUES (?, ?, ?)`, tenant, cid, idxJSON)
	if err != nil {
		return fmt.Errorf("store: append event: %w", err)
	}
	return nil
}

func (l *SQLiteEventLog) QueryEvents(ctx context.Context, tenant string, filters []Filter, cursor string) ([]Event, error) {
	after, err := parseCursor(cursor)
	if err != nil {
		return nil, err
	}
	query, args := buildSelect(`SELECT seq, cid, indexes FROM events`, tenant, filters)
	query += " AND seq > ? ORDER BY seq"
	args = append(args, after)

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := make([]Event, 0)
	for rows.Next() {
		var (
			seq    int64
			cid    string
			idxRaw []byte
		)
		if err := rows.Scan(&seq, &cid, &idxRaw); err != nil {
			return nil, fmt.Errorf("store: scan event: %w", err)
		}
		var idx Indexes
		if err := json.Unmarshal(idxRaw, &idx); err != nil {
			return nil, fmt.Errorf("store: decode event %s: %w", cid, err)
		}
		if Matches(idx, filters) {
			out = append(out, Event{Cursor: formatCursor(seq), CID: cid, Indexes: idx})
		}
	}
	return out, rows.Err()
}

func (l *SQLiteEventLog) DeleteEventsByCID(ctx context.Context, tenant string, cids []string) error {
	if len(cids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(cids)), ",")
	args := make([]any, 0, len(cids)+1)
	args = append(args, tenant)
	for _, c := range cids {
		args = append(args, c)
	}
	_, err := l.db.ExecContext(ctx,
		`DELETE FROM events WHERE tenant = ? AND cid IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("store: delete events: %w", err)
	}
	return nil
}
