// Package authz is the single entry point for authorization decisions. It
// dispatches each message kind to the tenant check, public access, protocol
// rules or grants, in that order.
package authz

import (
	"context"
	"errors"
	"log/slog"

	"github.com/Mindburn-Labs/dwn-core/pkg/decision"
	"github.com/Mindburn-Labs/dwn-core/pkg/grants"
	"github.com/Mindburn-Labs/dwn-core/pkg/message"
	"github.com/Mindburn-Labs/dwn-core/pkg/protocols"
	"github.com/Mindburn-Labs/dwn-core/pkg/records"
)

type (
	Decision     = decision.Decision
	DenialReason = decision.DenialReason
)

// Facade combines the protocol and grant engines.
type Facade struct {
	protocols *protocols.Engine
	grants    *grants.Engine
	logger    *slog.Logger
}

func NewFacade(p *protocols.Engine, g *grants.Engine) *Facade {
	return &Facade{
		protocols: p,
		grants:    g,
		logger:    slog.Default().With("component", "authz"),
	}
}

// request is what every rule needs to know about one message.
type request struct {
	tenant  string
	msg     *message.Message
	state   *records.State
	signer  string
	author  string
	grantID string
}

// Authorize decides whether msg may act on tenant's node. state is the
// resolved record the message targets, nil for creates, queries and
// non-record kinds. Denials are returned as a Decision; the error is
// reserved for store failures.
func (f *Facade) Authorize(ctx context.Context, tenant string, msg *message.Message, state *records.State) (Decision, error) {
	r := request{tenant: tenant, msg: msg, state: state, grantID: message.GrantID(msg)}
	if msg.Authorization != nil && msg.Authorization.Signature != "" {
		var err error
		if r.signer, err = message.Signer(msg); err != nil {
			return decision.Deny(decision.ReasonAuthorizationFailed, "%v", err), nil
		}
		if r.author, err = message.Author(msg); err != nil {
			return decision.Deny(decision.ReasonAuthorizationFailed, "%v", err), nil
		}
	}

	if msg.Authorization != nil && msg.Authorization.AuthorDelegatedGrant != nil {
		d, err := f.grants.AuthorizeDelegated(ctx, tenant, msg, r.grantTarget())
		if err != nil || !d.Allowed {
			return d, err
		}
	} else if r.signer != "" && r.signer == tenant {
		return decision.Allow(), nil
	}

	d, err := f.authorizeKind(ctx, r)
	if err != nil {
		return Decision{}, err
	}
	if !d.Allowed {
		f.logger.DebugContext(ctx, "message denied",
			"tenant", tenant, "kind", msg.Kind().String(), "author", r.author, "reason", string(d.Reason))
	}
	return d, nil
}

func (f *Facade) authorizeKind(ctx context.Context, r request) (Decision, error) {
	// A delegate acting for the tenant has passed the delegated grant check.
	if r.author != "" && r.author == r.tenant && r.signer != r.author {
		return decision.Allow(), nil
	}

	switch r.msg.Kind() {
	case message.KindRecordsWrite:
		return f.recordAction(ctx, r)
	case message.KindRecordsDelete:
		if r.state == nil || r.state.InitialWrite == nil {
			return decision.Deny(decision.ReasonAuthorizationFailed, "no record to delete"), nil
		}
		return f.recordAction(ctx, r)
	case message.KindRecordsRead:
		return f.recordsRead(ctx, r)
	case message.KindRecordsQuery, message.KindRecordsSubscribe:
		return f.recordsQuery(ctx, r)
	case message.KindProtocolsQuery:
		// Non-tenants see published definitions only.
		return f.grantOr(ctx, r, decision.Allow())
	case message.KindProtocolsConfigure, message.KindMessagesGet, message.KindMessagesQuery:
		return f.grantOr(ctx, r, denied())
	case message.KindPermissionsGrant, message.KindPermissionsRevoke:
		return denied(), nil
	case message.KindUnknown:
		return decision.Deny(decision.ReasonUnsupportedMessage, "%s%s",
			r.msg.Descriptor.Interface, r.msg.Descriptor.Method), nil
	}
	return decision.Deny(decision.ReasonUnsupportedMessage, "%s", r.msg.Kind()), nil
}

// recordAction authorizes writes and deletes. Protocol records are governed
// by their protocol: a grant must be scoped to that protocol, otherwise
// the rule set decides.
func (f *Facade) recordAction(ctx context.Context, r request) (Decision, error) {
	if r.author == "" {
		return denied(), nil
	}
	if r.grantID != "" {
		return f.grants.Authorize(ctx, r.tenant, r.msg, r.grantID, r.grantTarget())
	}
	if protocol := r.protocol(); protocol != "" {
		return f.protocolRules(ctx, r, protocol, r.initialWrite())
	}
	return denied(), nil
}

func (f *Facade) recordsRead(ctx context.Context, r request) (Decision, error) {
	if r.state == nil || r.state.InitialWrite == nil || r.state.IsDeleted() {
		return decision.Deny(decision.ReasonAuthorizationFailed, "no record to read"), nil
	}
	if r.state.Latest.Descriptor.Published {
		return decision.Allow(), nil
	}
	if r.author == "" {
		return denied(), nil
	}
	if r.grantID != "" {
		return f.grants.Authorize(ctx, r.tenant, r.msg, r.grantID, r.grantTarget())
	}
	if protocol := r.protocol(); protocol != "" {
		return f.protocolRules(ctx, r, protocol, r.initialWrite())
	}
	initial := r.initialWrite()
	recordAuthor, err := message.Author(initial)
	if err != nil {
		return Decision{}, err
	}
	if r.author == recordAuthor || r.author == initial.Descriptor.Recipient {
		return decision.Allow(), nil
	}
	return denied(), nil
}

// recordsQuery admits anyone: the node narrows results for non-tenants to
// published records and records they authored or received. Invoking a grant
// or a protocol role makes the query subject to it.
func (f *Facade) recordsQuery(ctx context.Context, r request) (Decision, error) {
	if r.grantID != "" {
		if r.author == "" {
			return denied(), nil
		}
		return f.grants.Authorize(ctx, r.tenant, r.msg, r.grantID, nil)
	}
	payload, err := message.Payload(r.msg)
	if err == nil && payload.ProtocolRole != "" {
		filter := r.msg.Descriptor.Filter
		if filter == nil || filter.Protocol == "" {
			return decision.Deny(decision.ReasonInvalidProtocolPath, "role %q invoked without a protocol filter", payload.ProtocolRole), nil
		}
		return f.protocolRules(ctx, r, filter.Protocol, nil)
	}
	return decision.Allow(), nil
}

func (f *Facade) protocolRules(ctx context.Context, r request, protocol string, record *message.Message) (Decision, error) {
	def, err := f.protocols.Definition(ctx, r.tenant, protocol)
	if errors.Is(err, protocols.ErrProtocolNotFound) {
		return decision.Deny(decision.ReasonProtocolNotFound, "%s", protocol), nil
	}
	if err != nil {
		return Decision{}, err
	}
	return f.protocols.Authorize(ctx, r.tenant, r.msg, record, def)
}

func (f *Facade) grantOr(ctx context.Context, r request, fallback Decision) (Decision, error) {
	if r.grantID == "" || r.author == "" {
		return fallback, nil
	}
	return f.grants.Authorize(ctx, r.tenant, r.msg, r.grantID, nil)
}

func (r request) initialWrite() *message.Message {
	if r.state == nil {
		return nil
	}
	return r.state.InitialWrite
}

// grantTarget is the record whose immutable fields a grant scope is
// checked against.
func (r request) grantTarget() *message.Message {
	if initial := r.initialWrite(); initial != nil {
		return initial
	}
	if r.msg.Kind() == message.KindRecordsWrite {
		return r.msg
	}
	return nil
}

func (r request) protocol() string {
	if t := r.grantTarget(); t != nil {
		return t.Descriptor.Protocol
	}
	return ""
}

func denied() Decision {
	return decision.Deny(decision.ReasonAuthorizationFailed, "")
}
