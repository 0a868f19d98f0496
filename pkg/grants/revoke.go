package grants

import (
	"context"
	"errors"
	"fmt"

	"github.com/Mindburn-Labs/dwn-core/pkg/message"
	"github.com/Mindburn-Labs/dwn-core/pkg/store"
)

// ValidateRevoke checks that revoke targets a stored grant, is authored by
// its grantor (or by the tenant when the grant is not delegated) and
// predates any revocation already in force. It returns the revoked grant.
func (e *Engine) ValidateRevoke(ctx context.Context, tenant string, revoke *message.Message) (*Grant, error) {
	grantID := revoke.Descriptor.PermissionsGrantID
	if grantID == "" {
		return nil, fmt.Errorf("grants: revocation names no grant: %w", ErrGrantNotFound)
	}
	g, err := e.Load(ctx, tenant, grantID)
	if err != nil {
		return nil, err
	}
	author, err := message.Author(revoke)
	if err != nil {
		return nil, err
	}
	if author != g.Grantor && (g.Delegated || author != tenant) {
		return nil, fmt.Errorf("grants: %s cannot revoke grant %s issued by %s: %w", author, g.ID, g.Grantor, ErrNotGrantor)
	}

	existing, err := e.activeRevocation(ctx, tenant, grantID)
	if err != nil {
		return nil, err
	}
	if existing != nil && !message.IsOlder(revoke, existing) {
		return nil, fmt.Errorf("grants: grant %s already revoked at %s: %w", grantID, existing.Descriptor.MessageTimestamp, ErrConflict)
	}
	return g, nil
}

// ApplyRevoke stores an accepted revocation, then removes the revocations it
// supersedes and the messages that invoked the grant at or after its
// timestamp. Removal failures are logged; the revocation stays in force.
func (e *Engine) ApplyRevoke(ctx context.Context, tenant string, revoke *message.Message) error {
	revokeCID, err := message.CID(revoke)
	if err != nil {
		return err
	}
	idx, err := message.Indexes(revoke)
	if err != nil {
		return err
	}
	if err := e.messages.Put(ctx, tenant, revoke, idx); err != nil {
		return fmt.Errorf("grants: put revocation %s: %w", revokeCID, err)
	}
	if err := e.events.DeleteEventsByCID(ctx, tenant, []string{revokeCID}); err != nil {
		return fmt.Errorf("grants: event log: %w", err)
	}
	if err := e.events.Append(ctx, tenant, revokeCID, idx); err != nil {
		return fmt.Errorf("grants: event log: %w", err)
	}

	grantID := revoke.Descriptor.PermissionsGrantID
	invalidated, _, err := e.messages.Query(ctx, tenant, []store.Filter{
		RevocationFilter(grantID),
		{
			message.IndexPermissionsGrantID: store.Eq(grantID),
			message.IndexMessageTimestamp:   store.Between(store.Range{GTE: revoke.Descriptor.MessageTimestamp}),
		},
	}, store.QueryOptions{})
	if err != nil {
		e.logger.WarnContext(ctx, "revocation cleanup query failed", "tenant", tenant, "grant", grantID, "error", err)
		return nil
	}

	var cids []string
	var errs []error
	for _, m := range invalidated {
		c, err := message.CID(m)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if c == revokeCID {
			continue
		}
		if err := e.messages.Delete(ctx, tenant, c); err != nil && !errors.Is(err, store.ErrNotFound) {
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
		e.logger.WarnContext(ctx, "revocation cleanup incomplete", "tenant", tenant, "grant", grantID, "error", err)
	}
	e.logger.DebugContext(ctx, "grant revoked", "tenant", tenant, "grant", grantID, "removed", len(cids))
	return nil
}

// ApplyGrant stores an accepted PermissionsGrant issued for tenant.
func (e *Engine) ApplyGrant(ctx context.Context, tenant string, grant *message.Message) error {
	g, err := FromMessage(grant)
	if err != nil {
		return err
	}
	if g.GrantedFor != tenant && !g.Delegated {
		return fmt.Errorf("grants: grant %s is for %s, not %s: %w", g.ID, g.GrantedFor, tenant, ErrInvalidGrant)
	}
	if message.CompareTimestamps(g.DateExpires, g.Timestamp) <= 0 {
		return fmt.Errorf("grants: grant %s expires before it starts: %w", g.ID, ErrInvalidGrant)
	}
	if _, err := e.messages.Get(ctx, tenant, g.ID); err == nil {
		return fmt.Errorf("grants: grant %s already stored: %w", g.ID, ErrConflict)
	} else if !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("grants: load %s: %w", g.ID, err)
	}

	idx, err := message.Indexes(grant)
	if err != nil {
		return err
	}
	if err := e.messages.Put(ctx, tenant, grant, idx); err != nil {
		return fmt.Errorf("grants: put grant %s: %w", g.ID, err)
	}
	if err := e.events.Append(ctx, tenant, g.ID, idx); err != nil {
		return fmt.Errorf("grants: event log: %w", err)
	}
	return nil
}
