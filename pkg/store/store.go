// Package store defines the persistence collaborators of a node: the
// message store, the event log and the data store, with in-memory and
// SQLite implementations and object-storage data backends.
package store

import (
	"context"
	"errors"

	"github.com/Mindburn-Labs/dwn-core/pkg/message"
)

// ErrNotFound is returned when a message, event or payload does not exist.
var ErrNotFound = errors.New("not found")

// Indexes are the queryable fields stored alongside a message.
type Indexes map[string]any

// Range bounds an index value. Nil bounds are open.
type Range struct {
	GT  any
	GTE any
	LT  any
	LTE any
}

// Criterion constrains one indexed field. Exactly one of the members is set.
type Criterion struct {
	Equal any
	OneOf []any
	Range *Range
}

// Filter ANDs criteria across fields. A slice of filters is ORed.
type Filter map[string]Criterion

// Eq matches an exact value.
func Eq(v any) Criterion { return Criterion{Equal: v} }

// In matches any of the values.
func In(vs ...any) Criterion { return Criterion{OneOf: vs} }

// Between builds a range criterion.
func Between(r Range) Criterion { return Criterion{Range: &r} }

// QueryOptions sorts and paginates a query. SortBy defaults to
// messageTimestamp; ties are broken by CID. Cursor is the CID of the last
// message of the previous page.
type QueryOptions struct {
	SortBy     string
	Descending bool
	Limit      int
	Cursor     string
}

// MessageStore persists messages per tenant.
type MessageStore interface {
	Get(ctx context.Context, tenant, cid string) (*message.Message, error)
	Put(ctx context.Context, tenant string, m *message.Message, idx Indexes) error
	// Query returns matching messages and a cursor for the next page ("" when exhausted).
	Query(ctx context.Context, tenant string, filters []Filter, opts QueryOptions) ([]*message.Message, string, error)
	Delete(ctx context.Context, tenant, cid string) error
}

// Event is one change-log entry.
type Event struct {
	Cursor  string
	CID     string
	Indexes Indexes
}

// EventLog records message CIDs in arrival order for change notification.
type EventLog interface {
	Append(ctx context.Context, tenant, cid string, idx Indexes) error
	// QueryEvents returns events after cursor ("" for the beginning) matching any filter.
	QueryEvents(ctx context.Context, tenant string, filters []Filter, cursor string) ([]Event, error)
	DeleteEventsByCID(ctx context.Context, tenant string, cids []string) error
}

// DataStore holds record payload bytes keyed by tenant, record and data CID.
type DataStore interface {
	Put(ctx context.Context, tenant, recordID, dataCID string, data []byte) error
	Get(ctx context.Context, tenant, recordID, dataCID string) ([]byte, error)
	Delete(ctx context.Context, tenant, recordID, dataCID string) error
}
