package protocols

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/Mindburn-Labs/dwn-core/pkg/decision"
	"github.com/Mindburn-Labs/dwn-core/pkg/message"
	"github.com/Mindburn-Labs/dwn-core/pkg/records"
	"github.com/Mindburn-Labs/dwn-core/pkg/store"
)

// ErrProtocolNotFound is returned when a tenant has not configured a
// protocol.
var ErrProtocolNotFound = errors.New("protocols: protocol not configured")

// maxDepth bounds ancestor walks over parentId links.
const maxDepth = 64

// Engine evaluates protocol rules against stored records.
type Engine struct {
	messages store.MessageStore
	logger   *slog.Logger
}

func NewEngine(messages store.MessageStore) *Engine {
	return &Engine{
		messages: messages,
		logger:   slog.Default().With("component", "protocols"),
	}
}

// Definition returns the newest configured definition of protocol.
func (e *Engine) Definition(ctx context.Context, tenant, protocol string) (*Definition, error) {
	configs, _, err := e.messages.Query(ctx, tenant, []store.Filter{records.ConfigureFilter(protocol)}, store.QueryOptions{})
	if err != nil {
		return nil, fmt.Errorf("protocols: load %s: %w", protocol, err)
	}
	newest := message.Newest(configs)
	if newest == nil {
		return nil, fmt.Errorf("%w: %s", ErrProtocolNotFound, protocol)
	}
	return Parse(newest.Descriptor.Definition)
}

// Validate checks the structural protocol constraints of a RecordsWrite:
// its path and parent chain, declared type, $size and $tags. It says
// nothing about who may write.
func (e *Engine) Validate(ctx context.Context, tenant string, write *message.Message, def *Definition) (decision.Decision, error) {
	d := write.Descriptor
	rs, ok := Lookup(def, d.ProtocolPath)
	if !ok {
		return decision.Deny(decision.ReasonNoMatchingRuleSet, "no rule set at %q", d.ProtocolPath), nil
	}

	typ := def.Types[TypeName(d.ProtocolPath)]
	if typ.Schema != "" && d.Schema != typ.Schema {
		return decision.Deny(decision.ReasonTypeMismatch, "schema %q, type requires %q", d.Schema, typ.Schema), nil
	}
	if len(typ.DataFormats) > 0 && !slices.Contains(typ.DataFormats, d.DataFormat) {
		return decision.Deny(decision.ReasonTypeMismatch, "data format %q not allowed", d.DataFormat), nil
	}
	if rs.Role && d.Recipient == "" {
		return decision.Deny(decision.ReasonTypeMismatch, "role record %q requires a recipient", d.ProtocolPath), nil
	}

	if dec, err := e.validateParent(ctx, tenant, write); err != nil || !dec.Allowed {
		return dec, err
	}

	if s := rs.Size; s != nil {
		if s.Min != nil && d.DataSize < *s.Min {
			return decision.Deny(decision.ReasonSizeOutOfRange, "data size %d below minimum %d", d.DataSize, *s.Min), nil
		}
		if s.Max != nil && d.DataSize > *s.Max {
			return decision.Deny(decision.ReasonSizeOutOfRange, "data size %d above maximum %d", d.DataSize, *s.Max), nil
		}
	}
	return checkTags(d.ProtocolPath, rs.Tags, d.Tags), nil
}

func (e *Engine) validateParent(ctx context.Context, tenant string, write *message.Message) (decision.Decision, error) {
	d := write.Descriptor
	parentPath, _, nested := cutLast(d.ProtocolPath)
	if !nested {
		if d.ParentID != "" {
			return decision.Deny(decision.ReasonInvalidProtocolPath, "root type %q cannot have a parent", d.ProtocolPath), nil
		}
		if write.ContextID != write.RecordID {
			return decision.Deny(decision.ReasonInvalidProtocolPath, "root record context must be its record id"), nil
		}
		return decision.Allow(), nil
	}

	if d.ParentID == "" {
		return decision.Deny(decision.ReasonInvalidProtocolPath, "%q requires a parent", d.ProtocolPath), nil
	}
	state, err := records.Resolve(ctx, e.messages, tenant, d.ParentID)
	if err != nil {
		return decision.Decision{}, err
	}
	if state == nil || state.IsDeleted() || state.InitialWrite == nil {
		return decision.Deny(decision.ReasonInvalidProtocolPath, "parent %s not found", d.ParentID), nil
	}
	parent := state.InitialWrite
	if parent.Descriptor.Protocol != d.Protocol || parent.Descriptor.ProtocolPath != parentPath {
		return decision.Deny(decision.ReasonInvalidProtocolPath,
			"parent is at %q, %q expects %q", parent.Descriptor.ProtocolPath, d.ProtocolPath, parentPath), nil
	}
	if write.ContextID != message.ChildContextID(parent.ContextID, write.RecordID) {
		return decision.Deny(decision.ReasonInvalidProtocolPath, "context id does not extend the parent context"), nil
	}
	return decision.Allow(), nil
}

// participant is the author and recipient of a record in an ancestor chain.
type participant struct {
	author    string
	recipient string
}

// target is what an action applies to.
type target struct {
	path      string
	contextID string
	recipient string
	// record is the initial write of the existing record; nil for creates
	// and queries.
	record   *message.Message
	parentID string
	actions  []Can
}

// Authorize decides whether the author of incoming may perform its action
// under def. record is the initial write of the record acted upon; it is nil
// for an initial write and for queries and subscriptions, which are
// evaluated at the protocol path of their filter.
func (e *Engine) Authorize(ctx context.Context, tenant string, incoming, record *message.Message, def *Definition) (decision.Decision, error) {
	actor, role := "", ""
	if payload, err := message.Payload(incoming); err == nil {
		role = payload.ProtocolRole
		if actor, err = message.Author(incoming); err != nil {
			return decision.Decision{}, err
		}
	}

	t, err := targetOf(incoming, record, actor)
	if err != nil {
		return decision.Decision{}, err
	}
	rs, ok := Lookup(def, t.path)
	if !ok {
		return decision.Deny(decision.ReasonNoMatchingRuleSet, "no rule set at %q", t.path), nil
	}

	if role != "" {
		held, err := e.holdsRole(ctx, tenant, def, role, actor, t.contextID)
		if err != nil {
			return decision.Decision{}, err
		}
		if !held {
			return decision.Deny(decision.ReasonMissingRole, "%s does not hold role %q", actor, role), nil
		}
	}

	var chain map[string]participant
	for _, rule := range rs.Actions {
		if !slices.ContainsFunc(rule.Can, func(c Can) bool { return slices.Contains(t.actions, c) }) {
			continue
		}
		switch {
		case rule.Role != "":
			if rule.Role == role {
				return decision.Allow(), nil
			}
		case rule.Who == WhoAnyone:
			return decision.Allow(), nil
		case actor == "":
			continue
		case rule.Who == WhoRecipient && rule.Of == "":
			if t.record != nil && t.recipient == actor {
				return decision.Allow(), nil
			}
		default:
			if chain == nil {
				if chain, err = e.ancestors(ctx, tenant, t); err != nil {
					return decision.Decision{}, err
				}
			}
			p, ok := chain[rule.Of]
			if !ok {
				continue
			}
			if (rule.Who == WhoAuthor && p.author == actor) || (rule.Who == WhoRecipient && p.recipient == actor) {
				return decision.Allow(), nil
			}
		}
	}
	e.logger.DebugContext(ctx, "protocol action denied",
		"tenant", tenant, "protocol", def.Protocol, "path", t.path, "actor", actor)
	return decision.Deny(decision.ReasonActionNotPermitted,
		"%v at %q not permitted for %q", t.actions, t.path, actor), nil
}

func targetOf(incoming, record *message.Message, actor string) (target, error) {
	ownOrCo := func(own, co Can) ([]Can, error) {
		author, err := message.Author(record)
		if err != nil {
			return nil, err
		}
		if author == actor {
			return []Can{own, co}, nil
		}
		return []Can{co}, nil
	}
	fromRecord := func() target {
		return target{
			path:      record.Descriptor.ProtocolPath,
			contextID: record.ContextID,
			recipient: record.Descriptor.Recipient,
			record:    record,
			parentID:  record.Descriptor.ParentID,
		}
	}

	var (
		t   target
		err error
	)
	switch incoming.Kind() {
	case message.KindRecordsWrite:
		if record == nil {
			d := incoming.Descriptor
			return target{
				path:      d.ProtocolPath,
				contextID: incoming.ContextID,
				recipient: d.Recipient,
				parentID:  d.ParentID,
				actions:   []Can{CanCreate},
			}, nil
		}
		t = fromRecord()
		t.actions, err = ownOrCo(CanUpdate, CanCoUpdate)
	case message.KindRecordsDelete:
		if record == nil {
			return target{}, fmt.Errorf("protocols: delete requires the target record")
		}
		t = fromRecord()
		if incoming.Descriptor.Prune {
			t.actions, err = ownOrCo(CanPrune, CanCoPrune)
		} else {
			t.actions, err = ownOrCo(CanDelete, CanCoDelete)
		}
	case message.KindRecordsRead:
		if record == nil {
			return target{}, fmt.Errorf("protocols: read requires the target record")
		}
		t = fromRecord()
		t.actions = []Can{CanRead}
	case message.KindRecordsQuery, message.KindRecordsSubscribe:
		f := incoming.Descriptor.Filter
		if f == nil {
			f = &message.Filter{}
		}
		t = target{path: f.ProtocolPath, contextID: f.ContextID, parentID: f.ParentID}
		if incoming.Kind() == message.KindRecordsQuery {
			t.actions = []Can{CanQuery}
		} else {
			t.actions = []Can{CanSubscribe}
		}
	default:
		return target{}, fmt.Errorf("protocols: %s is not a records message", incoming.Kind())
	}
	return t, err
}

// ancestors maps protocol paths to the participants of the target record
// and its ancestors.
func (e *Engine) ancestors(ctx context.Context, tenant string, t target) (map[string]participant, error) {
	chain := make(map[string]participant)
	add := func(m *message.Message) error {
		author, err := message.Author(m)
		if err != nil {
			return err
		}
		chain[m.Descriptor.ProtocolPath] = participant{author: author, recipient: m.Descriptor.Recipient}
		return nil
	}
	if t.record != nil {
		if err := add(t.record); err != nil {
			return nil, err
		}
	}

	parentID := t.parentID
	for depth := 0; parentID != "" && depth < maxDepth; depth++ {
		state, err := records.Resolve(ctx, e.messages, tenant, parentID)
		if err != nil {
			return nil, err
		}
		if state == nil || state.InitialWrite == nil {
			break
		}
		if err := add(state.InitialWrite); err != nil {
			return nil, err
		}
		parentID = state.InitialWrite.Descriptor.ParentID
	}
	return chain, nil
}

// holdsRole reports whether actor is the recipient of a live role record at
// rolePath. A nested role is only held within the context it was issued in.
func (e *Engine) holdsRole(ctx context.Context, tenant string, def *Definition, rolePath, actor, contextID string) (bool, error) {
	rs, ok := Lookup(def, rolePath)
	if !ok || !rs.Role || actor == "" {
		return false, nil
	}
	candidates, _, err := e.messages.Query(ctx, tenant, []store.Filter{{
		message.IndexInterface:         store.Eq(string(message.InterfaceRecords)),
		message.IndexMethod:            store.Eq(string(message.MethodWrite)),
		message.IndexProtocol:          store.Eq(def.Protocol),
		message.IndexProtocolPath:      store.Eq(rolePath),
		message.IndexRecipient:         store.Eq(actor),
		message.IndexIsLatestBaseState: store.Eq(true),
	}}, store.QueryOptions{})
	if err != nil {
		return false, fmt.Errorf("protocols: role lookup: %w", err)
	}

	depth := strings.Count(rolePath, "/")
	if depth == 0 {
		return len(candidates) > 0, nil
	}
	want := contextPrefix(contextID, depth)
	if want == "" {
		return false, nil
	}
	for _, c := range candidates {
		if contextPrefix(c.ContextID, depth) == want {
			return true, nil
		}
	}
	return false, nil
}

// contextPrefix returns the first n segments of a context id, or "" when it
// has fewer.
func contextPrefix(contextID string, n int) string {
	segments := strings.Split(contextID, "/")
	if contextID == "" || len(segments) < n {
		return ""
	}
	return strings.Join(segments[:n], "/")
}

func cutLast(path string) (parent, last string, ok bool) {
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return "", path, false
	}
	return path[:i], path[i+1:], true
}
