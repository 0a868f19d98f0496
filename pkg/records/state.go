// Package records resolves the state of logical records (every Write and
// Delete sharing a recordId) and applies accepted messages to storage.
package records

import (
	"context"
	"errors"
	"fmt"

	"github.com/Mindburn-Labs/dwn-core/pkg/message"
	"github.com/Mindburn-Labs/dwn-core/pkg/store"
)

var (
	// ErrConflict marks a stale or duplicate message: the signer may be
	// authorized but the message lost the ordering race.
	ErrConflict = errors.New("records: conflict")
	// ErrNotFound is returned when deleting a record that does not exist or
	// is already deleted.
	ErrNotFound = errors.New("records: not found")
	// ErrInitialWriteRequired is returned for an update of an unknown record.
	ErrInitialWriteRequired = errors.New("records: initial write not found")
	// ErrImmutableProperty is returned when an update contradicts a field
	// fixed by the initial write.
	ErrImmutableProperty = errors.New("records: immutable property changed")
)

// State is the resolved state of one logical record.
type State struct {
	// Latest is the newest Write or Delete.
	Latest *message.Message
	// InitialWrite is the Write that created the record; its immutable
	// fields are authoritative.
	InitialWrite *message.Message
	// Messages is every stored Write and Delete of the record.
	Messages []*message.Message
}

// IsDeleted reports whether the record's current state is a Delete.
func (s *State) IsDeleted() bool {
	return s != nil && s.Latest != nil && s.Latest.Kind() == message.KindRecordsDelete
}

// RecordFilter selects every stored Write and Delete of a record.
func RecordFilter(recordID string) store.Filter {
	return store.Filter{
		message.IndexInterface: store.Eq(string(message.InterfaceRecords)),
		message.IndexRecordID:  store.Eq(recordID),
	}
}

// Resolve loads the state of recordID. It returns nil when nothing is
// stored for the record.
func Resolve(ctx context.Context, ms store.MessageStore, tenant, recordID string) (*State, error) {
	msgs, _, err := ms.Query(ctx, tenant, []store.Filter{RecordFilter(recordID)}, store.QueryOptions{})
	if err != nil {
		return nil, fmt.Errorf("records: resolve %s: %w", recordID, err)
	}
	if len(msgs) == 0 {
		return nil, nil
	}

	state := &State{Latest: message.Newest(msgs), Messages: msgs}
	for _, m := range msgs {
		initial, err := message.IsInitialWrite(m)
		if err != nil {
			return nil, fmt.Errorf("records: resolve %s: %w", recordID, err)
		}
		if initial {
			state.InitialWrite = m
			break
		}
	}
	return state, nil
}

// CheckWrite decides whether incoming may become the record's new state.
func CheckWrite(state *State, incoming *message.Message) error {
	if state == nil || state.InitialWrite == nil {
		initial, err := message.IsInitialWrite(incoming)
		if err != nil {
			return err
		}
		if !initial {
			return ErrInitialWriteRequired
		}
		if state == nil {
			return nil
		}
	}
	if state.IsDeleted() {
		return fmt.Errorf("%w: record %s is deleted", ErrConflict, incoming.RecordID)
	}
	if !message.IsNewer(incoming, state.Latest) {
		return fmt.Errorf("%w: a newer or identical write exists", ErrConflict)
	}
	if state.InitialWrite != nil {
		return checkImmutable(state.InitialWrite, incoming)
	}
	return nil
}

func checkImmutable(initial, incoming *message.Message) error {
	a, b := initial.Descriptor, incoming.Descriptor
	fields := []struct {
		name     string
		was, now string
	}{
		{"protocol", a.Protocol, b.Protocol},
		{"protocolPath", a.ProtocolPath, b.ProtocolPath},
		{"schema", a.Schema, b.Schema},
		{"parentId", a.ParentID, b.ParentID},
		{"dateCreated", a.DateCreated, b.DateCreated},
		{"recipient", a.Recipient, b.Recipient},
		{"dataFormat", a.DataFormat, b.DataFormat},
		{"contextId", initial.ContextID, incoming.ContextID},
	}
	for _, f := range fields {
		if f.was != f.now {
			return fmt.Errorf("%w: %s %q != %q", ErrImmutableProperty, f.name, f.now, f.was)
		}
	}
	return nil
}

// CheckDelete decides whether a RecordsDelete may be applied.
func CheckDelete(state *State, incoming *message.Message) error {
	if state == nil || state.IsDeleted() {
		return ErrNotFound
	}
	if !message.IsNewer(incoming, state.Latest) {
		return fmt.Errorf("%w: delete is not newer than the current state", ErrConflict)
	}
	return nil
}
