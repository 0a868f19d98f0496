package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/Mindburn-Labs/dwn-core/pkg/message"
)

type entry struct {
	cid     string
	msg     *message.Message
	indexes Indexes
}

// MemoryMessageStore keeps messages in process. It is the reference
// implementation used by tests and single-process nodes.
type MemoryMessageStore struct {
	mu      sync.RWMutex
	tenants map[string]map[string]entry
}

func NewMemoryMessageStore() *MemoryMessageStore {
	return &MemoryMessageStore{tenants: make(map[string]map[string]entry)}
}

func (s *MemoryMessageStore) Get(_ context.Context, tenant, cid string) (*message.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.tenants[tenant][cid]
	if !ok {
		return nil, ErrNotFound
	}
	return e.msg.Clone(), nil
}

func (s *MemoryMessageStore) Put(_ context.Context, tenant string, m *message.Message, idx Indexes) error {
	cid, err := message.CID(m)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tenants[tenant] == nil {
		s.tenants[tenant] = make(map[string]entry)
	}
	s.tenants[tenant][cid] = entry{cid: cid, msg: m.Clone(), indexes: copyIndexes(idx)}
	return nil
}

func (s *MemoryMessageStore) Query(_ context.Context, tenant string, filters []Filter, opts QueryOptions) ([]*message.Message, string, error) {
	s.mu.RLock()
	matched := make([]entry, 0)
	for _, e := range s.tenants[tenant] {
		if Matches(e.indexes, filters) {
			matched = append(matched, e)
		}
	}
	s.mu.RUnlock()

	page, cursor := paginate(matched, opts)
	out := make([]*message.Message, len(page))
	for i, e := range page {
		out[i] = e.msg.Clone()
	}
	return out, cursor, nil
}

func (s *MemoryMessageStore) Delete(_ context.Context, tenant, cid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.tenants[tenant], cid)
	return nil
}

// paginate sorts entries by opts.SortBy then CID and cuts the page after
// opts.Cursor.
func paginate(entries []entry, opts QueryOptions) ([]entry, string) {
	sortBy := opts.SortBy
	if sortBy == "" {
		sortBy = message.IndexMessageTimestamp
	}
	sort.Slice(entries, func(i, j int) bool {
		c := compareValues(entries[i].indexes[sortBy], entries[j].indexes[sortBy])
		if c == 0 {
			c = compareValues(entries[i].cid, entries[j].cid)
		}
		if opts.Descending {
			return c > 0
		}
		return c < 0
	})

	if opts.Cursor != "" {
		for i, e := range entries {
			if e.cid == opts.Cursor {
				entries = entries[i+1:]
				break
			}
		}
	}
	if opts.Limit > 0 && len(entries) > opts.Limit {
		entries = entries[:opts.Limit]
		return entries, entries[len(entries)-1].cid
	}
	return entries, ""
}

func copyIndexes(idx Indexes) Indexes {
	out := make(Indexes, len(idx))
	for k, v := range idx {
		out[k] = v
	}
	return out
}

// MemoryEventLog is an in-process EventLog. Cursors are decimal sequence
// numbers.
type MemoryEventLog struct {
	mu     sync.RWMutex
	seq    int64
	events map[string][]Event
}

func NewMemoryEventLog() *MemoryEventLog {
	return &MemoryEventLog{events: make(map[string][]Event)}
}

func (l *MemoryEventLog) Append(_ context.Context, tenant, cid string, idx Indexes) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.seq++
	l.events[tenant] = append(l.events[tenant], Event{
		Cursor:  formatCursor(l.seq),
		CID:     cid,
		Indexes: copyIndexes(idx),
	})
	return nil
}

func (l *MemoryEventLog) QueryEvents(_ context.Context, tenant string, filters []Filter, cursor string) ([]Event, error) {
	after, err := parseCursor(cursor)
	if err != nil {
		return nil, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Event, 0)
	for _, e := range l.events[tenant] {
		seq, _ := parseCursor(e.Cursor)
		if seq <= after {
			continue
		}
		if Matches(e.Indexes, filters) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (l *MemoryEventLog) DeleteEventsByCID(_ context.Context, tenant string, cids []string) error {
	drop := make(map[string]struct{}, len(cids))
	for _, c := range cids {
		drop[c] = struct{}{}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	kept := l.events[tenant][:0]
	for _, e := range l.events[tenant] {
		if _, ok := drop[e.CID]; !ok {
			kept = append(kept, e)
		}
	}
	l.events[tenant] = kept
	return nil
}

func formatCursor(seq int64) string {
	return strconv.FormatInt(seq, 10)
}

func parseCursor(cursor string) (int64, error) {
	if cursor == "" {
		return 0, nil
	}
	seq, err := strconv.ParseInt(cursor, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("store: invalid cursor %q: %w", cursor, err)
	}
	return seq, nil
}

// MemoryDataStore keeps payloads in process.
type MemoryDataStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryDataStore() *MemoryDataStore {
	return &MemoryDataStore{data: make(map[string][]byte)}
}

func (s *MemoryDataStore) Put(_ context.Context, tenant, recordID, dataCID string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[dataKey(tenant, recordID, dataCID)] = append([]byte(nil), data...)
	return nil
}

func (s *MemoryDataStore) Get(_ context.Context, tenant, recordID, dataCID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.data[dataKey(tenant, recordID, dataCID)]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), d...), nil
}

func (s *MemoryDataStore) Delete(_ context.Context, tenant, recordID, dataCID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, dataKey(tenant, recordID, dataCID))
	return nil
}

// dataKey is the object key shared by every DataStore backend.
func dataKey(tenant, recordID, dataCID string) string {
	return tenant + "/" + recordID + "/" + dataCID
}
