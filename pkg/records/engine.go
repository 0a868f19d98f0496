package records

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Mindburn-Labs/dwn-core/pkg/message"
	"github.com/Mindburn-Labs/dwn-core/pkg/store"
)

// Engine applies accepted record and protocol messages to storage.
type Engine struct {
	messages store.MessageStore
	events   store.EventLog
	data     store.DataStore
	logger   *slog.Logger
}

func NewEngine(messages store.MessageStore, events store.EventLog, data store.DataStore) *Engine {
	return &Engine{
		messages: messages,
		events:   events,
		data:     data,
		logger:   slog.Default().With("component", "records"),
	}
}

// Apply stores incoming as the latest base state of its record and clears
// the flag on every version it supersedes, so at most one message per
// record is flagged even when Cleanup later fails. Re-applying the same
// message is harmless.
func (e *Engine) Apply(ctx context.Context, tenant string, state *State, incoming *message.Message) error {
	incomingCID, err := message.CID(incoming)
	if err != nil {
		return err
	}

	idx, err := message.Indexes(incoming)
	if err != nil {
		return err
	}
	idx[message.IndexIsLatestBaseState] = true
	if err := e.messages.Put(ctx, tenant, incoming, idx); err != nil {
		return fmt.Errorf("records: put %s: %w", incomingCID, err)
	}
	if err := e.appendEvent(ctx, tenant, incomingCID, idx); err != nil {
		return err
	}

	if state == nil {
		return nil
	}
	for _, m := range state.Messages {
		c, err := message.CID(m)
		if err != nil {
			return err
		}
		if c == incomingCID {
			continue
		}
		prevIdx, err := message.Indexes(m)
		if err != nil {
			return err
		}
		prevIdx[message.IndexIsLatestBaseState] = false
		if err := e.messages.Put(ctx, tenant, m, prevIdx); err != nil {
			return fmt.Errorf("records: reindex superseded %s: %w", c, err)
		}
	}
	return nil
}

// appendEvent appends cid once, replacing an earlier entry from a retried
// apply.
func (e *Engine) appendEvent(ctx context.Context, tenant, cid string, idx store.Indexes) error {
	if err := e.events.DeleteEventsByCID(ctx, tenant, []string{cid}); err != nil {
		return fmt.Errorf("records: event log: %w", err)
	}
	if err := e.events.Append(ctx, tenant, cid, idx); err != nil {
		return fmt.Errorf("records: event log: %w", err)
	}
	return nil
}

// Cleanup removes the messages incoming superseded, keeping the initial
// write, and drops payloads no longer referenced by the latest state.
func (e *Engine) Cleanup(ctx context.Context, tenant string, state *State, incoming *message.Message) error {
	if state == nil {
		return nil
	}
	incomingCID, err := message.CID(incoming)
	if err != nil {
		return err
	}
	initialCID := ""
	if state.InitialWrite != nil {
		initialCID = message.MustCID(state.InitialWrite)
	}

	var (
		deleted []string
		errs    []error
	)
	for _, m := range state.Messages {
		c, err := message.CID(m)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if c == incomingCID {
			continue
		}
		if m.Kind() == message.KindRecordsWrite && m.Descriptor.DataCID != "" &&
			!(incoming.Kind() == message.KindRecordsWrite && incoming.Descriptor.DataCID == m.Descriptor.DataCID) {
			if err := e.data.Delete(ctx, tenant, recordIDOf(m), m.Descriptor.DataCID); err != nil {
				errs = append(errs, fmt.Errorf("records: delete data %s: %w", m.Descriptor.DataCID, err))
			}
		}
		if c == initialCID {
			continue
		}
		if err := e.messages.Delete(ctx, tenant, c); err != nil {
			errs = append(errs, fmt.Errorf("records: delete %s: %w", c, err))
			continue
		}
		deleted = append(deleted, c)
	}
	if len(deleted) > 0 {
		if err := e.events.DeleteEventsByCID(ctx, tenant, deleted); err != nil {
			errs = append(errs, fmt.Errorf("records: delete events: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Purge removes every message, event and payload of recordID and of all its
// descendants.
func (e *Engine) Purge(ctx context.Context, tenant, recordID string) error {
	if err := e.PurgeChildren(ctx, tenant, recordID); err != nil {
		return err
	}

	state, err := Resolve(ctx, e.messages, tenant, recordID)
	if err != nil || state == nil {
		return err
	}
	var (
		cids []string
		errs []error
	)
	for _, m := range state.Messages {
		c := message.MustCID(m)
		if m.Kind() == message.KindRecordsWrite && m.Descriptor.DataCID != "" {
			if err := e.data.Delete(ctx, tenant, recordID, m.Descriptor.DataCID); err != nil {
				errs = append(errs, err)
			}
		}
		if err := e.messages.Delete(ctx, tenant, c); err != nil {
			errs = append(errs, err)
			continue
		}
		cids = append(cids, c)
	}
	if len(cids) > 0 {
		if err := e.events.DeleteEventsByCID(ctx, tenant, cids); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("records: purge %s: %w", recordID, err)
	}
	e.logger.DebugContext(ctx, "record purged", "tenant", tenant, "record_id", recordID, "messages", len(cids))
	return nil
}

// PurgeChildren purges every record whose parentId is recordID.
func (e *Engine) PurgeChildren(ctx context.Context, tenant, recordID string) error {
	children, _, err := e.messages.Query(ctx, tenant, []store.Filter{{
		message.IndexInterface: store.Eq(string(message.InterfaceRecords)),
		message.IndexMethod:    store.Eq(string(message.MethodWrite)),
		message.IndexParentID:  store.Eq(recordID),
	}}, store.QueryOptions{})
	if err != nil {
		return fmt.Errorf("records: children of %s: %w", recordID, err)
	}

	seen := make(map[string]struct{})
	for _, child := range children {
		if _, ok := seen[child.RecordID]; ok {
			continue
		}
		seen[child.RecordID] = struct{}{}
		if err := e.Purge(ctx, tenant, child.RecordID); err != nil {
			return err
		}
	}
	return nil
}

// ApplyConfigure stores a ProtocolsConfigure. The newest configuration of a
// protocol wins; older ones are deleted best-effort.
func (e *Engine) ApplyConfigure(ctx context.Context, tenant string, incoming *message.Message) error {
	existing, _, err := e.messages.Query(ctx, tenant, []store.Filter{ConfigureFilter(incoming.Descriptor.Protocol)}, store.QueryOptions{})
	if err != nil {
		return fmt.Errorf("records: query configurations: %w", err)
	}
	incomingCID, err := message.CID(incoming)
	if err != nil {
		return err
	}
	for _, m := range existing {
		if message.MustCID(m) == incomingCID {
			return fmt.Errorf("%w: configuration already stored", ErrConflict)
		}
	}
	newest := message.Newest(append(existing, incoming))
	if message.MustCID(newest) != incomingCID {
		return fmt.Errorf("%w: a newer configuration of %s exists", ErrConflict, incoming.Descriptor.Protocol)
	}

	idx, err := message.Indexes(incoming)
	if err != nil {
		return err
	}
	if err := e.messages.Put(ctx, tenant, incoming, idx); err != nil {
		return fmt.Errorf("records: put configuration: %w", err)
	}
	if err := e.appendEvent(ctx, tenant, incomingCID, idx); err != nil {
		return err
	}

	var superseded []string
	for _, m := range existing {
		c := message.MustCID(m)
		if err := e.messages.Delete(ctx, tenant, c); err != nil {
			e.logger.WarnContext(ctx, "superseded configuration not deleted", "tenant", tenant, "cid", c, "error", err)
			continue
		}
		superseded = append(superseded, c)
	}
	if len(superseded) > 0 {
		if err := e.events.DeleteEventsByCID(ctx, tenant, superseded); err != nil {
			e.logger.WarnContext(ctx, "superseded configuration events not deleted", "tenant", tenant, "error", err)
		}
	}
	return nil
}

// ConfigureFilter selects the stored configurations of protocol.
func ConfigureFilter(protocol string) store.Filter {
	return store.Filter{
		message.IndexInterface: store.Eq(string(message.InterfaceProtocols)),
		message.IndexMethod:    store.Eq(string(message.MethodConfigure)),
		message.IndexProtocol:  store.Eq(protocol),
	}
}

func recordIDOf(m *message.Message) string {
	if m.RecordID != "" {
		return m.RecordID
	}
	return m.Descriptor.RecordID
}
