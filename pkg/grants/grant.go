// Package grants authorizes messages invoked under PermissionsGrants,
// including grants delegated to another signer, and applies revocations.
package grants

import (
	"errors"
	"fmt"

	"github.com/Mindburn-Labs/dwn-core/pkg/message"
)

var (
	// ErrGrantNotFound is returned when a revocation names an unknown grant.
	ErrGrantNotFound = errors.New("grants: grant not found")
	// ErrConflict is returned for a revocation that is not older than the
	// one already in force.
	ErrConflict = errors.New("grants: conflict")
	// ErrNotGrantor is returned when someone other than the grantor revokes.
	ErrNotGrantor = errors.New("grants: only the grantor may revoke")
	// ErrInvalidGrant is returned for a grant that can never authorize
	// anything on this tenant.
	ErrInvalidGrant = errors.New("grants: invalid grant")
	// ErrNotGrant is returned when a message is not a PermissionsGrant.
	ErrNotGrant = errors.New("grants: not a PermissionsGrant")
)

// Grant is a parsed PermissionsGrant.
type Grant struct {
	ID          string
	Grantor     string
	GrantedTo   string
	GrantedFor  string
	Timestamp   string
	DateExpires string
	Delegated   bool
	Scope       message.Scope
	Conditions  message.Conditions
}

// FromMessage parses a PermissionsGrant message.
func FromMessage(m *message.Message) (*Grant, error) {
	if m == nil || m.Kind() != message.KindPermissionsGrant {
		return nil, ErrNotGrant
	}
	id, err := message.CID(m)
	if err != nil {
		return nil, err
	}
	grantor, err := message.Signer(m)
	if err != nil {
		return nil, fmt.Errorf("grants: grant %s: %w", id, err)
	}
	d := m.Descriptor
	if d.Scope == nil {
		return nil, fmt.Errorf("grants: grant %s has no scope", id)
	}
	g := &Grant{
		ID:          id,
		Grantor:     grantor,
		GrantedTo:   d.GrantedTo,
		GrantedFor:  d.GrantedFor,
		Timestamp:   d.MessageTimestamp,
		DateExpires: d.DateExpires,
		Delegated:   d.Delegated,
		Scope:       *d.Scope,
	}
	if d.Conditions != nil {
		g.Conditions = *d.Conditions
	}
	return g, nil
}

// Covers reports whether every message g authorizes is also authorized by
// other: same interface and method, and any narrowing other imposes is
// imposed by g as well.
func (g *Grant) Covers(other *Grant) bool {
	a, b := g.Scope, other.Scope
	if a.Interface != b.Interface || a.Method != b.Method {
		return false
	}
	narrower := func(mine, theirs string) bool { return theirs == "" || mine == theirs }
	if !narrower(a.Protocol, b.Protocol) || !narrower(a.Schema, b.Schema) ||
		!narrower(a.ProtocolPath, b.ProtocolPath) || !narrower(a.ContextID, b.ContextID) {
		return false
	}
	if len(b.RecordIDs) > 0 {
		if len(a.RecordIDs) == 0 {
			return false
		}
		allowed := make(map[string]bool, len(b.RecordIDs))
		for _, id := range b.RecordIDs {
			allowed[id] = true
		}
		for _, id := range a.RecordIDs {
			if !allowed[id] {
				return false
			}
		}
	}
	if other.Conditions.Publication != "" && g.Conditions.Publication != other.Conditions.Publication {
		return false
	}
	return message.CompareTimestamps(g.DateExpires, other.DateExpires) <= 0
}
