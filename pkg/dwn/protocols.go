package dwn

import (
	"context"
	"fmt"
	"net/http"

	"github.com/Mindburn-Labs/dwn-core/pkg/message"
	"github.com/Mindburn-Labs/dwn-core/pkg/protocols"
	"github.com/Mindburn-Labs/dwn-core/pkg/records"
	"github.com/Mindburn-Labs/dwn-core/pkg/store"
)

func (n *Node) protocolsConfigure(ctx context.Context, tenant string, msg *message.Message) (Reply, error) {
	d := msg.Descriptor
	if d.Protocol != message.NormalizeURL(d.Protocol) {
		return Reply{}, fmt.Errorf("%w: protocol must be a normalized URL", errBadRequest)
	}
	def, err := protocols.Parse(d.Definition)
	if err != nil {
		return Reply{}, err
	}
	if err := protocols.ValidateDefinition(def); err != nil {
		return Reply{}, err
	}
	if def.Protocol != d.Protocol || def.Published != d.Published {
		return Reply{}, fmt.Errorf("%w: definition does not match descriptor", errBadRequest)
	}
	if err := n.authorize(ctx, tenant, msg, nil); err != nil {
		return Reply{}, err
	}
	if err := n.records.ApplyConfigure(ctx, tenant, msg); err != nil {
		return Reply{}, err
	}
	if idx, err := message.Indexes(msg); err == nil {
		n.publish(tenant, msg, idx)
	}
	return ok(http.StatusAccepted), nil
}

func (n *Node) protocolsQuery(ctx context.Context, tenant string, msg *message.Message) (Reply, error) {
	if err := n.authorize(ctx, tenant, msg, nil); err != nil {
		return Reply{}, err
	}
	filter := store.Filter{
		message.IndexInterface: store.Eq(string(message.InterfaceProtocols)),
		message.IndexMethod:    store.Eq(string(message.MethodConfigure)),
	}
	if f := msg.Descriptor.Filter; f != nil && f.Protocol != "" {
		filter = records.ConfigureFilter(message.NormalizeURL(f.Protocol))
	}
	if actorOf(msg) != tenant && message.GrantID(msg) == "" {
		filter[message.IndexPublished] = store.Eq(true)
	}
	entries, _, err := n.messages.Query(ctx, tenant, []store.Filter{filter}, store.QueryOptions{})
	if err != nil {
		return Reply{}, err
	}
	reply := ok(http.StatusOK)
	reply.Entries = entries
	return reply, nil
}
