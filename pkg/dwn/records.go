package dwn

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/Mindburn-Labs/dwn-core/pkg/cid"
	"github.com/Mindburn-Labs/dwn-core/pkg/decision"
	"github.com/Mindburn-Labs/dwn-core/pkg/message"
	"github.com/Mindburn-Labs/dwn-core/pkg/protocols"
	"github.com/Mindburn-Labs/dwn-core/pkg/records"
	"github.com/Mindburn-Labs/dwn-core/pkg/store"
)

// queryLimit bounds one page of RecordsQuery results.
const queryLimit = 100

func (n *Node) recordsWrite(ctx context.Context, tenant string, msg *message.Message, data []byte) (Reply, error) {
	d := msg.Descriptor
	if d.Protocol != message.NormalizeURL(d.Protocol) || d.Schema != message.NormalizeURL(d.Schema) {
		return Reply{}, fmt.Errorf("%w: protocol and schema must be normalized URLs", errBadRequest)
	}

	state, err := records.Resolve(ctx, n.messages, tenant, msg.RecordID)
	if err != nil {
		return Reply{}, err
	}
	if err := records.CheckWrite(state, msg); err != nil {
		return Reply{}, err
	}

	if d.Protocol != "" {
		def, err := n.protocols.Definition(ctx, tenant, d.Protocol)
		if errors.Is(err, protocols.ErrProtocolNotFound) {
			return Reply{}, fmt.Errorf("%w: %v", errBadRequest, err)
		}
		if err != nil {
			return Reply{}, err
		}
		verdict, err := n.protocols.Validate(ctx, tenant, msg, def)
		if err != nil {
			return Reply{}, err
		}
		if !verdict.Allowed {
			return Reply{}, &InvalidError{Decision: verdict}
		}
	}

	if err := n.authorize(ctx, tenant, msg, state); err != nil {
		return Reply{}, err
	}

	storeData, err := n.checkData(state, msg, data)
	if err != nil {
		return Reply{}, err
	}
	if storeData {
		if err := n.data.Put(ctx, tenant, msg.RecordID, d.DataCID, data); err != nil {
			return Reply{}, fmt.Errorf("dwn: store data: %w", err)
		}
	}

	if err := n.records.Apply(ctx, tenant, state, msg); err != nil {
		return Reply{}, err
	}
	if err := n.records.Cleanup(ctx, tenant, state, msg); err != nil {
		n.logger.WarnContext(ctx, "superseded record versions not fully removed",
			"tenant", tenant, "record_id", msg.RecordID, "error", err)
	}

	idx, err := message.Indexes(msg)
	if err == nil {
		idx[message.IndexIsLatestBaseState] = true
		n.publish(tenant, msg, idx)
	}
	return ok(http.StatusAccepted), nil
}

// checkData verifies the payload of a write against its descriptor. A
// write without payload is accepted only when it keeps the data of the
// version it replaces.
func (n *Node) checkData(state *records.State, msg *message.Message, data []byte) (bool, error) {
	d := msg.Descriptor
	if data == nil {
		if state != nil && state.Latest.Kind() == message.KindRecordsWrite && state.Latest.Descriptor.DataCID == d.DataCID {
			return false, nil
		}
		return false, fmt.Errorf("%w: data is required", errBadRequest)
	}
	if int64(len(data)) != d.DataSize {
		return false, fmt.Errorf("%w: dataSize %d does not match %d bytes of data", errBadRequest, d.DataSize, len(data))
	}
	if err := cid.VerifyRaw(d.DataCID, data); err != nil {
		return false, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return true, nil
}

func (n *Node) recordsRead(ctx context.Context, tenant string, msg *message.Message) (Reply, error) {
	recordID := msg.Descriptor.RecordID
	state, err := records.Resolve(ctx, n.messages, tenant, recordID)
	if err != nil {
		return Reply{}, err
	}
	if state == nil || state.IsDeleted() || state.InitialWrite == nil {
		return Reply{}, fmt.Errorf("%w: record %s", records.ErrNotFound, recordID)
	}
	if err := n.authorize(ctx, tenant, msg, state); err != nil {
		return Reply{}, err
	}

	latest := state.Latest
	reply := ok(http.StatusOK)
	reply.Record = latest
	if message.MustCID(state.InitialWrite) != message.MustCID(latest) {
		reply.InitialWrite = state.InitialWrite
	}
	data, err := n.data.Get(ctx, tenant, recordID, latest.Descriptor.DataCID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		n.logger.WarnContext(ctx, "record data missing", "tenant", tenant, "record_id", recordID, "cid", latest.Descriptor.DataCID)
	case err != nil:
		return Reply{}, fmt.Errorf("dwn: read data: %w", err)
	default:
		reply.Data = data
	}
	return reply, nil
}

func (n *Node) recordsQuery(ctx context.Context, tenant string, msg *message.Message) (Reply, error) {
	if err := n.authorize(ctx, tenant, msg, nil); err != nil {
		return Reply{}, err
	}
	filters, err := n.scopedRecordFilters(ctx, tenant, msg, recordsFilter(msg.Descriptor.Filter))
	if err != nil {
		return Reply{}, err
	}
	if len(filters) == 0 {
		return ok(http.StatusOK), nil
	}
	entries, cursor, err := n.messages.Query(ctx, tenant, filters, store.QueryOptions{
		SortBy:     message.IndexDateCreated,
		Descending: true,
		Limit:      queryLimit,
		Cursor:     msg.Descriptor.Cursor,
	})
	if err != nil {
		return Reply{}, err
	}
	reply := ok(http.StatusOK)
	reply.Entries = entries
	reply.Cursor = cursor
	return reply, nil
}

func (n *Node) recordsSubscribe(ctx context.Context, tenant string, msg *message.Message) (Reply, error) {
	if err := n.authorize(ctx, tenant, msg, nil); err != nil {
		return Reply{}, err
	}
	base := eventsFilter(msg.Descriptor.Filter)
	base[message.IndexInterface] = store.Eq(string(message.InterfaceRecords))
	filters, err := n.scopedRecordFilters(ctx, tenant, msg, base)
	if err != nil {
		return Reply{}, err
	}
	if len(filters) == 0 {
		return Reply{}, &DeniedError{Decision: decision.Deny(decision.ReasonAuthorizationFailed, "filter excludes every visible record")}
	}
	reply := ok(http.StatusOK)
	reply.Subscription = n.broker.Subscribe(tenant, filters)
	return reply, nil
}

// scopedRecordFilters applies the visibility rules of a non-owner caller to
// base. Callers acting under a grant or a protocol role were authorized for
// the whole filter. Recipients see protocol records only where the rule set
// at the filtered path lets a recipient query or subscribe.
func (n *Node) scopedRecordFilters(ctx context.Context, tenant string, msg *message.Message, base store.Filter) ([]store.Filter, error) {
	actor := actorOf(msg)
	if actor == tenant || message.GrantID(msg) != "" {
		return []store.Filter{base}, nil
	}
	if payload, err := message.Payload(msg); err == nil && payload.ProtocolRole != "" {
		return []store.Filter{base}, nil
	}
	filters := visibleTo(base, actor)
	if actor == "" {
		return filters, nil
	}
	allowed, err := n.recipientMayList(ctx, tenant, msg, base)
	if err != nil {
		return nil, err
	}
	if allowed {
		if f := narrow(base, store.Filter{message.IndexRecipient: store.Eq(actor)}); f != nil {
			filters = append(filters, f)
		}
	}
	return filters, nil
}

// recipientMayList reports whether base names a protocol path whose rule set
// grants its recipients the query or subscribe action of msg.
func (n *Node) recipientMayList(ctx context.Context, tenant string, msg *message.Message, base store.Filter) (bool, error) {
	protocol, _ := base[message.IndexProtocol].Equal.(string)
	path, _ := base[message.IndexProtocolPath].Equal.(string)
	if protocol == "" || path == "" {
		return false, nil
	}
	def, err := n.protocols.Definition(ctx, tenant, protocol)
	if errors.Is(err, protocols.ErrProtocolNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	rs, found := protocols.Lookup(def, path)
	if !found {
		return false, nil
	}
	can := protocols.CanQuery
	if msg.Kind() == message.KindRecordsSubscribe {
		can = protocols.CanSubscribe
	}
	return rs.AllowsRecipient(can), nil
}

func (n *Node) recordsDelete(ctx context.Context, tenant string, msg *message.Message) (Reply, error) {
	recordID := msg.Descriptor.RecordID
	state, err := records.Resolve(ctx, n.messages, tenant, recordID)
	if err != nil {
		return Reply{}, err
	}
	if err := records.CheckDelete(state, msg); err != nil {
		return Reply{}, err
	}
	if err := n.authorize(ctx, tenant, msg, state); err != nil {
		return Reply{}, err
	}

	task, err := records.NewDeleteTask(tenant, msg)
	if err != nil {
		return Reply{}, err
	}
	if err := n.tasks.Run(ctx, task); err != nil {
		return Reply{}, err
	}

	if idx, err := message.Indexes(msg); err == nil {
		idx[message.IndexIsLatestBaseState] = true
		n.publish(tenant, msg, idx)
	}
	return ok(http.StatusAccepted), nil
}
