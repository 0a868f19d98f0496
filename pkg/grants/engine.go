package grants

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/Mindburn-Labs/dwn-core/pkg/decision"
	"github.com/Mindburn-Labs/dwn-core/pkg/message"
	"github.com/Mindburn-Labs/dwn-core/pkg/store"
)

// Engine evaluates grants against the messages that invoke them.
type Engine struct {
	messages store.MessageStore
	events   store.EventLog
	logger   *slog.Logger
}

func NewEngine(messages store.MessageStore, events store.EventLog) *Engine {
	return &Engine{
		messages: messages,
		events:   events,
		logger:   slog.Default().With("component", "grants"),
	}
}

// Load fetches and parses a grant stored in the tenant's partition.
func (e *Engine) Load(ctx context.Context, tenant, grantID string) (*Grant, error) {
	m, err := e.messages.Get(ctx, tenant, grantID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrGrantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("grants: load %s: %w", grantID, err)
	}
	if m.Kind() != message.KindPermissionsGrant {
		return nil, ErrGrantNotFound
	}
	return FromMessage(m)
}

// Authorize checks incoming against the stored grant grantID. target is the
// record the message acts on: the incoming write itself for a create, the
// initial write otherwise, nil for queries and non-record messages.
func (e *Engine) Authorize(ctx context.Context, tenant string, incoming *message.Message, grantID string, target *message.Message) (decision.Decision, error) {
	g, err := e.Load(ctx, tenant, grantID)
	if errors.Is(err, ErrGrantNotFound) {
		return decision.Deny(decision.ReasonGrantNotFound, "grant %s", grantID), nil
	}
	if err != nil {
		return decision.Decision{}, err
	}
	author, err := message.Author(incoming)
	if err != nil {
		return decision.Decision{}, err
	}
	return e.check(ctx, tenant, g, incoming, target, author, tenant)
}

// AuthorizeDelegated checks the grant embedded in incoming's authorization:
// it must be a delegated grant to the signer from the logical author, and
// must itself admit incoming. A stored grant invoked alongside it must
// cover everything the delegated grant allows.
func (e *Engine) AuthorizeDelegated(ctx context.Context, tenant string, incoming, target *message.Message) (decision.Decision, error) {
	if incoming.Authorization == nil || incoming.Authorization.AuthorDelegatedGrant == nil {
		return decision.Deny(decision.ReasonDelegatedGrantInvalid, "no delegated grant"), nil
	}
	g, err := FromMessage(incoming.Authorization.AuthorDelegatedGrant)
	if err != nil {
		return decision.Deny(decision.ReasonDelegatedGrantInvalid, "%v", err), nil
	}
	if !g.Delegated {
		return decision.Deny(decision.ReasonDelegatedGrantInvalid, "grant %s is not delegated", g.ID), nil
	}
	payload, err := message.Payload(incoming)
	if err != nil {
		return decision.Decision{}, err
	}
	if payload.DelegatedGrantID != g.ID {
		return decision.Deny(decision.ReasonDelegatedGrantInvalid, "signature names delegated grant %q, embedded grant is %s", payload.DelegatedGrantID, g.ID), nil
	}
	signer, err := message.Signer(incoming)
	if err != nil {
		return decision.Decision{}, err
	}
	author, err := message.Author(incoming)
	if err != nil {
		return decision.Decision{}, err
	}

	dec, err := e.check(ctx, tenant, g, incoming, target, signer, author)
	if err != nil || !dec.Allowed {
		return dec, err
	}

	if grantID := message.GrantID(incoming); grantID != "" {
		invoked, err := e.Load(ctx, tenant, grantID)
		if errors.Is(err, ErrGrantNotFound) {
			return decision.Deny(decision.ReasonGrantNotFound, "grant %s", grantID), nil
		}
		if err != nil {
			return decision.Decision{}, err
		}
		if !g.Covers(invoked) {
			return decision.Deny(decision.ReasonDelegatedGrantExceeded,
				"delegated grant %s exceeds grant %s", g.ID, invoked.ID), nil
		}
	}
	return decision.Allow(), nil
}

// check runs the grant gates in order; the first failure wins.
func (e *Engine) check(ctx context.Context, tenant string, g *Grant, incoming, target *message.Message, grantedTo, grantedFor string) (decision.Decision, error) {
	if g.GrantedTo != grantedTo {
		return decision.Deny(decision.ReasonGrantedToMismatch, "grant %s is for %s, not %s", g.ID, g.GrantedTo, grantedTo), nil
	}
	if g.GrantedFor != grantedFor {
		return decision.Deny(decision.ReasonGrantedForMismatch, "grant %s is for data of %s, not %s", g.ID, g.GrantedFor, grantedFor), nil
	}

	ts := incoming.Descriptor.MessageTimestamp
	if message.CompareTimestamps(ts, g.Timestamp) < 0 {
		return decision.Deny(decision.ReasonGrantNotYetActive, "grant %s is active from %s", g.ID, g.Timestamp), nil
	}
	if message.CompareTimestamps(ts, g.DateExpires) >= 0 {
		return decision.Deny(decision.ReasonGrantExpired, "grant %s expired at %s", g.ID, g.DateExpires), nil
	}

	revoke, err := e.activeRevocation(ctx, tenant, g.ID)
	if err != nil {
		return decision.Decision{}, err
	}
	if revoke != nil && message.CompareTimestamps(revoke.Descriptor.MessageTimestamp, ts) <= 0 {
		return decision.Deny(decision.ReasonGrantRevoked, "grant %s revoked at %s", g.ID, revoke.Descriptor.MessageTimestamp), nil
	}

	if incoming.Descriptor.Interface != g.Scope.Interface || incoming.Descriptor.Method != g.Scope.Method {
		return decision.Deny(decision.ReasonScopeMismatch, "grant %s covers %s%s", g.ID, g.Scope.Interface, g.Scope.Method), nil
	}
	if dec := checkScope(g, incoming, target); !dec.Allowed {
		return dec, nil
	}
	return checkConditions(g, incoming), nil
}

// activeRevocation returns the oldest stored revocation of grantID, which
// is the one in force.
func (e *Engine) activeRevocation(ctx context.Context, tenant, grantID string) (*message.Message, error) {
	revokes, _, err := e.messages.Query(ctx, tenant, []store.Filter{RevocationFilter(grantID)}, store.QueryOptions{})
	if err != nil {
		return nil, fmt.Errorf("grants: revocations of %s: %w", grantID, err)
	}
	return message.Oldest(revokes), nil
}

// RevocationFilter selects the stored revocations of grantID.
func RevocationFilter(grantID string) store.Filter {
	return store.Filter{
		message.IndexInterface:          store.Eq(string(message.InterfacePermissions)),
		message.IndexMethod:             store.Eq(string(message.MethodRevoke)),
		message.IndexPermissionsGrantID: store.Eq(grantID),
	}
}

func checkScope(g *Grant, incoming, target *message.Message) decision.Decision {
	s := g.Scope
	switch s.Interface {
	case message.InterfaceRecords:
		return checkRecordsScope(g, incoming, target)
	case message.InterfaceProtocols:
		protocol := incoming.Descriptor.Protocol
		if f := incoming.Descriptor.Filter; f != nil && protocol == "" {
			protocol = f.Protocol
		}
		if s.Protocol != "" && s.Protocol != protocol {
			return decision.Deny(decision.ReasonScopeProtocolMismatch, "grant %s is limited to %s", g.ID, s.Protocol)
		}
	}
	return decision.Allow()
}

func checkRecordsScope(g *Grant, incoming, target *message.Message) decision.Decision {
	s := g.Scope
	var protocol, contextID, path, schema, recordID string
	if target != nil {
		d := target.Descriptor
		protocol, contextID, path, schema, recordID = d.Protocol, target.ContextID, d.ProtocolPath, d.Schema, target.RecordID
	} else if f := incoming.Descriptor.Filter; f != nil {
		protocol, contextID, path, schema, recordID = f.Protocol, f.ContextID, f.ProtocolPath, f.Schema, f.RecordID
	}

	if protocol != "" || s.Protocol != "" {
		if s.Protocol != protocol {
			return decision.Deny(decision.ReasonScopeProtocolMismatch, "grant %s is limited to protocol %q, record has %q", g.ID, s.Protocol, protocol)
		}
		if s.ContextID != "" && contextID != s.ContextID && !strings.HasPrefix(contextID, s.ContextID+"/") {
			return decision.Deny(decision.ReasonScopeContextMismatch, "grant %s is limited to context %s", g.ID, s.ContextID)
		}
		if s.ProtocolPath != "" && path != s.ProtocolPath {
			return decision.Deny(decision.ReasonScopePathMismatch, "grant %s is limited to path %s", g.ID, s.ProtocolPath)
		}
	} else if s.Schema != "" && s.Schema != schema {
		return decision.Deny(decision.ReasonScopeSchemaMismatch, "grant %s is limited to schema %s", g.ID, s.Schema)
	}

	if len(s.RecordIDs) > 0 && !slices.Contains(s.RecordIDs, recordID) {
		return decision.Deny(decision.ReasonScopeRecordMismatch, "grant %s does not cover record %q", g.ID, recordID)
	}
	return decision.Allow()
}

func checkConditions(g *Grant, incoming *message.Message) decision.Decision {
	if incoming.Kind() != message.KindRecordsWrite {
		return decision.Allow()
	}
	switch g.Conditions.Publication {
	case message.PublicationRequired:
		if !incoming.Descriptor.Published {
			return decision.Deny(decision.ReasonPublicationRequired, "grant %s requires published writes", g.ID)
		}
	case message.PublicationProhibited:
		if incoming.Descriptor.Published {
			return decision.Deny(decision.ReasonPublicationProhibited, "grant %s prohibits published writes", g.ID)
		}
	}
	return decision.Allow()
}
