package dwn

import (
	"context"
	"net/http"

	"github.com/Mindburn-Labs/dwn-core/pkg/message"
)

func (n *Node) permissionsGrant(ctx context.Context, tenant string, msg *message.Message) (Reply, error) {
	if err := n.authorize(ctx, tenant, msg, nil); err != nil {
		return Reply{}, err
	}
	if err := n.grants.ApplyGrant(ctx, tenant, msg); err != nil {
		return Reply{}, err
	}
	if idx, err := message.Indexes(msg); err == nil {
		n.publish(tenant, msg, idx)
	}
	return ok(http.StatusAccepted), nil
}

func (n *Node) permissionsRevoke(ctx context.Context, tenant string, msg *message.Message) (Reply, error) {
	if _, err := n.grants.ValidateRevoke(ctx, tenant, msg); err != nil {
		return Reply{}, err
	}
	if err := n.grants.ApplyRevoke(ctx, tenant, msg); err != nil {
		return Reply{}, err
	}
	if idx, err := message.Indexes(msg); err == nil {
		n.publish(tenant, msg, idx)
	}
	return ok(http.StatusAccepted), nil
}
