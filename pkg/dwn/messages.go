package dwn

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/Mindburn-Labs/dwn-core/pkg/message"
	"github.com/Mindburn-Labs/dwn-core/pkg/store"
)

// messagesGet returns the stored messages among the requested CIDs. Unknown
// CIDs are skipped.
func (n *Node) messagesGet(ctx context.Context, tenant string, msg *message.Message) (Reply, error) {
	if err := n.authorize(ctx, tenant, msg, nil); err != nil {
		return Reply{}, err
	}
	cids := msg.Descriptor.MessageCIDs
	if len(cids) == 0 {
		return Reply{}, fmt.Errorf("%w: no message cids", errBadRequest)
	}
	reply := ok(http.StatusOK)
	for _, c := range cids {
		m, err := n.messages.Get(ctx, tenant, c)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return Reply{}, err
		}
		reply.Entries = append(reply.Entries, m)
	}
	return reply, nil
}

// messagesQuery replays the event log after the given cursor.
func (n *Node) messagesQuery(ctx context.Context, tenant string, msg *message.Message) (Reply, error) {
	if err := n.authorize(ctx, tenant, msg, nil); err != nil {
		return Reply{}, err
	}
	var filters []store.Filter
	if f := eventsFilter(msg.Descriptor.Filter); len(f) > 0 {
		filters = []store.Filter{f}
	}
	evs, err := n.events.QueryEvents(ctx, tenant, filters, msg.Descriptor.Cursor)
	if err != nil {
		return Reply{}, err
	}
	reply := ok(http.StatusOK)
	reply.Events = evs
	if len(evs) > 0 {
		reply.Cursor = evs[len(evs)-1].Cursor
	}
	return reply, nil
}
