package grants_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/dwn-core/pkg/crypto"
	"github.com/Mindburn-Labs/dwn-core/pkg/decision"
	"github.com/Mindburn-Labs/dwn-core/pkg/grants"
	"github.com/Mindburn-Labs/dwn-core/pkg/message"
	"github.com/Mindburn-Labs/dwn-core/pkg/store"
	"github.com/Mindburn-Labs/dwn-core/pkg/testutil"
)

const chatProtocol = "https://example.com/chat"

type env struct {
	alice, bob, carol *testutil.Persona
	messages          *store.MemoryMessageStore
	events            *store.MemoryEventLog
	engine            *grants.Engine
}

func newEnv(t *testing.T) *env {
	e := &env{
		alice:    testutil.NewPersona(t, "alice"),
		bob:      testutil.NewPersona(t, "bob"),
		carol:    testutil.NewPersona(t, "carol"),
		messages: store.NewMemoryMessageStore(),
		events:   store.NewMemoryEventLog(),
	}
	e.engine = grants.NewEngine(e.messages, e.events)
	return e
}

func (e *env) put(t *testing.T, m *message.Message) string {
	t.Helper()
	idx, err := message.Indexes(m)
	require.NoError(t, err)
	require.NoError(t, e.messages.Put(context.Background(), e.alice.DID, m, idx))
	return testutil.MustCID(t, m)
}

// grant stores a RecordsWrite grant from alice to bob active over [from, until).
func (e *env) grant(t *testing.T, from, until time.Time, scope message.Scope, cond *message.Conditions) string {
	t.Helper()
	if scope.Interface == "" {
		scope.Interface, scope.Method = message.InterfaceRecords, message.MethodWrite
	}
	g := testutil.PermissionsGrant(t, e.alice, testutil.GrantOptions{
		GrantedTo:   e.bob.DID,
		Timestamp:   from,
		DateExpires: until,
		Scope:       scope,
		Conditions:  cond,
	})
	return e.put(t, g)
}

func (e *env) bobWrite(t *testing.T, grantID string, at time.Time, opts testutil.WriteOptions) *message.Message {
	t.Helper()
	opts.Timestamp = at
	opts.Sign = crypto.SignOptions{PermissionsGrantID: grantID}
	w, _ := testutil.RecordsWrite(t, e.bob, opts)
	return w
}

func (e *env) authorize(t *testing.T, m *message.Message, grantID string) decision.Decision {
	t.Helper()
	d, err := e.engine.Authorize(context.Background(), e.alice.DID, m, grantID, m)
	require.NoError(t, err)
	return d
}

func TestAuthorize_ExpiryBoundary(t *testing.T) {
	e := newEnv(t)
	id := e.grant(t, testutil.At(0), testutil.At(10), message.Scope{}, nil)

	assert.True(t, e.authorize(t, e.bobWrite(t, id, testutil.At(0), testutil.WriteOptions{}), id).Allowed)
	justBefore := testutil.At(10).Add(-time.Microsecond)
	assert.True(t, e.authorize(t, e.bobWrite(t, id, justBefore, testutil.WriteOptions{}), id).Allowed)

	d := e.authorize(t, e.bobWrite(t, id, testutil.At(10), testutil.WriteOptions{}), id)
	assert.Equal(t, decision.ReasonGrantExpired, d.Reason)

	d = e.authorize(t, e.bobWrite(t, id, testutil.At(-1), testutil.WriteOptions{}), id)
	assert.Equal(t, decision.ReasonGrantNotYetActive, d.Reason)
}

func TestAuthorize_GrantedToAndFor(t *testing.T) {
	e := newEnv(t)
	id := e.grant(t, testutil.At(0), testutil.At(100), message.Scope{}, nil)

	carolWrite, _ := testutil.RecordsWrite(t, e.carol, testutil.WriteOptions{
		Timestamp: testutil.At(1),
		Sign:      crypto.SignOptions{PermissionsGrantID: id},
	})
	assert.Equal(t, decision.ReasonGrantedToMismatch, e.authorize(t, carolWrite, id).Reason)

	w := e.bobWrite(t, id, testutil.At(1), testutil.WriteOptions{})
	d, err := e.engine.Authorize(context.Background(), e.carol.DID, w, id, w)
	require.NoError(t, err)
	assert.Equal(t, decision.ReasonGrantNotFound, d.Reason, "grants live in the grantor's partition")

	require.NoError(t, e.messages.Put(context.Background(), e.carol.DID, mustGet(t, e, id), store.Indexes{}))
	d, err = e.engine.Authorize(context.Background(), e.carol.DID, w, id, w)
	require.NoError(t, err)
	assert.Equal(t, decision.ReasonGrantedForMismatch, d.Reason)
}

func mustGet(t *testing.T, e *env, id string) *message.Message {
	t.Helper()
	m, err := e.messages.Get(context.Background(), e.alice.DID, id)
	require.NoError(t, err)
	return m
}

func TestAuthorize_Scope(t *testing.T) {
	e := newEnv(t)
	id := e.grant(t, testutil.At(0), testutil.At(100), message.Scope{
		Protocol:     chatProtocol,
		ProtocolPath: "thread",
	}, nil)

	ok := e.bobWrite(t, id, testutil.At(1), testutil.WriteOptions{Protocol: chatProtocol, ProtocolPath: "thread"})
	assert.True(t, e.authorize(t, ok, id).Allowed)

	other := e.bobWrite(t, id, testutil.At(1), testutil.WriteOptions{Protocol: "https://example.com/other", ProtocolPath: "thread"})
	assert.Equal(t, decision.ReasonScopeProtocolMismatch, e.authorize(t, other, id).Reason)

	flat := e.bobWrite(t, id, testutil.At(1), testutil.WriteOptions{})
	assert.Equal(t, decision.ReasonScopeProtocolMismatch, e.authorize(t, flat, id).Reason)

	path := e.bobWrite(t, id, testutil.At(1), testutil.WriteOptions{Protocol: chatProtocol, ProtocolPath: "note"})
	assert.Equal(t, decision.ReasonScopePathMismatch, e.authorize(t, path, id).Reason)

	read := testutil.RecordsRead(t, e.bob, ok.RecordID, testutil.At(2), crypto.SignOptions{PermissionsGrantID: id})
	d, err := e.engine.Authorize(context.Background(), e.alice.DID, read, id, ok)
	require.NoError(t, err)
	assert.Equal(t, decision.ReasonScopeMismatch, d.Reason)
}

func TestAuthorize_SchemaAndContextScope(t *testing.T) {
	e := newEnv(t)
	schemaID := e.grant(t, testutil.At(0), testutil.At(100), message.Scope{Schema: "https://schema.org/Note"}, nil)
	assert.True(t, e.authorize(t, e.bobWrite(t, schemaID, testutil.At(1), testutil.WriteOptions{Schema: "https://schema.org/Note"}), schemaID).Allowed)
	assert.Equal(t, decision.ReasonScopeSchemaMismatch,
		e.authorize(t, e.bobWrite(t, schemaID, testutil.At(1), testutil.WriteOptions{Schema: "https://schema.org/Post"}), schemaID).Reason)

	thread := e.bobWrite(t, "", testutil.At(1), testutil.WriteOptions{Protocol: chatProtocol, ProtocolPath: "thread"})
	ctxID := e.grant(t, testutil.At(0), testutil.At(100), message.Scope{Protocol: chatProtocol, ContextID: thread.ContextID}, nil)

	reply := e.bobWrite(t, ctxID, testutil.At(2), testutil.WriteOptions{
		Protocol: chatProtocol, ProtocolPath: "thread/reply",
		ParentID: thread.RecordID, ParentContextID: thread.ContextID,
	})
	assert.True(t, e.authorize(t, reply, ctxID).Allowed)

	elsewhere := e.bobWrite(t, ctxID, testutil.At(3), testutil.WriteOptions{Protocol: chatProtocol, ProtocolPath: "thread"})
	assert.Equal(t, decision.ReasonScopeContextMismatch, e.authorize(t, elsewhere, ctxID).Reason)
}

func TestAuthorize_PublicationConditions(t *testing.T) {
	e := newEnv(t)
	required := e.grant(t, testutil.At(0), testutil.At(100), message.Scope{}, &message.Conditions{Publication: message.PublicationRequired})
	prohibited := e.grant(t, testutil.At(1), testutil.At(100), message.Scope{}, &message.Conditions{Publication: message.PublicationProhibited})

	assert.Equal(t, decision.ReasonPublicationRequired, e.authorize(t, e.bobWrite(t, required, testutil.At(2), testutil.WriteOptions{}), required).Reason)
	assert.True(t, e.authorize(t, e.bobWrite(t, required, testutil.At(2), testutil.WriteOptions{Published: true}), required).Allowed)

	assert.Equal(t, decision.ReasonPublicationProhibited, e.authorize(t, e.bobWrite(t, prohibited, testutil.At(2), testutil.WriteOptions{Published: true}), prohibited).Reason)
	assert.True(t, e.authorize(t, e.bobWrite(t, prohibited, testutil.At(2), testutil.WriteOptions{}), prohibited).Allowed)
}

func TestAuthorize_QueryUsesFilter(t *testing.T) {
	e := newEnv(t)
	id := e.grant(t, testutil.At(0), testutil.At(100), message.Scope{
		Interface: message.InterfaceRecords, Method: message.MethodQuery, Protocol: chatProtocol,
	}, nil)

	q := testutil.RecordsQuery(t, e.bob, message.Filter{Protocol: chatProtocol}, testutil.At(1), crypto.SignOptions{PermissionsGrantID: id})
	d, err := e.engine.Authorize(context.Background(), e.alice.DID, q, id, nil)
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	q = testutil.RecordsQuery(t, e.bob, message.Filter{Schema: "x"}, testutil.At(1), crypto.SignOptions{PermissionsGrantID: id})
	d, err = e.engine.Authorize(context.Background(), e.alice.DID, q, id, nil)
	require.NoError(t, err)
	assert.Equal(t, decision.ReasonScopeProtocolMismatch, d.Reason)
}

func TestRevoke_OldestWins(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	id := e.grant(t, testutil.At(1), testutil.At(100), message.Scope{}, nil)

	t6 := testutil.PermissionsRevoke(t, e.alice, id, testutil.At(6))
	_, err := e.engine.ValidateRevoke(ctx, e.alice.DID, t6)
	require.NoError(t, err)
	require.NoError(t, e.engine.ApplyRevoke(ctx, e.alice.DID, t6))

	assert.True(t, e.authorize(t, e.bobWrite(t, id, testutil.At(5), testutil.WriteOptions{}), id).Allowed)

	t4 := testutil.PermissionsRevoke(t, e.alice, id, testutil.At(4))
	_, err = e.engine.ValidateRevoke(ctx, e.alice.DID, t4)
	require.NoError(t, err)
	require.NoError(t, e.engine.ApplyRevoke(ctx, e.alice.DID, t4))

	d := e.authorize(t, e.bobWrite(t, id, testutil.At(5), testutil.WriteOptions{}), id)
	assert.Equal(t, decision.ReasonGrantRevoked, d.Reason)
	assert.True(t, e.authorize(t, e.bobWrite(t, id, testutil.At(3), testutil.WriteOptions{}), id).Allowed)

	_, err = e.messages.Get(ctx, e.alice.DID, testutil.MustCID(t, t6))
	assert.ErrorIs(t, err, store.ErrNotFound, "superseded revocation is removed")

	t8 := testutil.PermissionsRevoke(t, e.alice, id, testutil.At(8))
	_, err = e.engine.ValidateRevoke(ctx, e.alice.DID, t8)
	assert.ErrorIs(t, err, grants.ErrConflict)

	_, err = e.engine.ValidateRevoke(ctx, e.alice.DID, t4)
	assert.ErrorIs(t, err, grants.ErrConflict, "resending the active revocation conflicts")
}

func TestRevoke_Validation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	id := e.grant(t, testutil.At(1), testutil.At(100), message.Scope{}, nil)

	_, err := e.engine.ValidateRevoke(ctx, e.alice.DID, testutil.PermissionsRevoke(t, e.bob, id, testutil.At(2)))
	assert.ErrorIs(t, err, grants.ErrNotGrantor)

	_, err = e.engine.ValidateRevoke(ctx, e.alice.DID, testutil.PermissionsRevoke(t, e.alice, "bafymissing", testutil.At(2)))
	assert.ErrorIs(t, err, grants.ErrGrantNotFound)
}

func TestRevoke_RemovesLaterInvocations(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	id := e.grant(t, testutil.At(1), testutil.At(100), message.Scope{}, nil)

	w1 := e.bobWrite(t, id, testutil.At(2), testutil.WriteOptions{Data: []byte("one")})
	w2 := e.bobWrite(t, id, testutil.At(5), testutil.WriteOptions{Data: []byte("two")})
	for _, w := range []*message.Message{w1, w2} {
		require.True(t, e.authorize(t, w, id).Allowed)
		c := e.put(t, w)
		idx, err := message.Indexes(w)
		require.NoError(t, err)
		require.NoError(t, e.events.Append(ctx, e.alice.DID, c, idx))
	}

	r := testutil.PermissionsRevoke(t, e.alice, id, testutil.At(4))
	_, err := e.engine.ValidateRevoke(ctx, e.alice.DID, r)
	require.NoError(t, err)
	require.NoError(t, e.engine.ApplyRevoke(ctx, e.alice.DID, r))

	_, err = e.messages.Get(ctx, e.alice.DID, testutil.MustCID(t, w1))
	assert.NoError(t, err, "writes before the revocation survive")
	_, err = e.messages.Get(ctx, e.alice.DID, testutil.MustCID(t, w2))
	assert.ErrorIs(t, err, store.ErrNotFound)

	evs, err := e.events.QueryEvents(ctx, e.alice.DID, nil, "")
	require.NoError(t, err)
	var cids []string
	for _, ev := range evs {
		cids = append(cids, ev.CID)
	}
	assert.ElementsMatch(t, []string{testutil.MustCID(t, w1), testutil.MustCID(t, r)}, cids)

	w3 := e.bobWrite(t, id, testutil.At(6), testutil.WriteOptions{Data: []byte("three")})
	assert.Equal(t, decision.ReasonGrantRevoked, e.authorize(t, w3, id).Reason)
}

func TestAuthorizeDelegated(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	// alice's DWN has granted carol write access; carol delegates to bob.
	stored := testutil.PermissionsGrant(t, e.alice, testutil.GrantOptions{
		GrantedTo:   e.carol.DID,
		Timestamp:   testutil.At(0),
		DateExpires: testutil.At(100),
		Scope:       message.Scope{Interface: message.InterfaceRecords, Method: message.MethodWrite, Protocol: chatProtocol},
	})
	storedID := e.put(t, stored)

	delegate := func(delegated bool, scope message.Scope, until time.Time) *message.Message {
		return testutil.PermissionsGrant(t, e.carol, testutil.GrantOptions{
			GrantedTo:   e.bob.DID,
			GrantedFor:  e.carol.DID,
			Timestamp:   testutil.At(1),
			DateExpires: until,
			Delegated:   delegated,
			Scope:       scope,
		})
	}
	write := func(dg *message.Message) *message.Message {
		w, _ := testutil.RecordsWrite(t, e.bob, testutil.WriteOptions{
			Timestamp: testutil.At(2), Protocol: chatProtocol, ProtocolPath: "thread",
			Sign: crypto.SignOptions{PermissionsGrantID: storedID, DelegatedGrant: dg},
		})
		return w
	}
	scope := message.Scope{Interface: message.InterfaceRecords, Method: message.MethodWrite, Protocol: chatProtocol}

	w := write(delegate(true, scope, testutil.At(50)))
	author, err := message.Author(w)
	require.NoError(t, err)
	assert.Equal(t, e.carol.DID, author)

	d, err := e.engine.AuthorizeDelegated(ctx, e.alice.DID, w, w)
	require.NoError(t, err)
	assert.True(t, d.Allowed, d.String())

	d, err = e.engine.Authorize(ctx, e.alice.DID, w, storedID, w)
	require.NoError(t, err)
	assert.True(t, d.Allowed, "stored grant is checked against the logical author")

	d, err = e.engine.AuthorizeDelegated(ctx, e.alice.DID, write(delegate(false, scope, testutil.At(50))), nil)
	require.NoError(t, err)
	assert.Equal(t, decision.ReasonDelegatedGrantInvalid, d.Reason)

	wide := message.Scope{Interface: message.InterfaceRecords, Method: message.MethodWrite}
	w = write(delegate(true, wide, testutil.At(50)))
	d, err = e.engine.AuthorizeDelegated(ctx, e.alice.DID, w, w)
	require.NoError(t, err)
	assert.Equal(t, decision.ReasonScopeProtocolMismatch, d.Reason)

	w = write(delegate(true, scope, testutil.At(200)))
	d, err = e.engine.AuthorizeDelegated(ctx, e.alice.DID, w, w)
	require.NoError(t, err)
	assert.Equal(t, decision.ReasonDelegatedGrantExceeded, d.Reason)
}

func TestCovers(t *testing.T) {
	base := &grants.Grant{
		Scope:       message.Scope{Interface: message.InterfaceRecords, Method: message.MethodWrite, Protocol: chatProtocol, RecordIDs: []string{"a", "b"}},
		DateExpires: "2024-01-02T00:00:00.000000Z",
	}
	narrower := &grants.Grant{
		Scope:       message.Scope{Interface: message.InterfaceRecords, Method: message.MethodWrite, Protocol: chatProtocol, ProtocolPath: "thread", RecordIDs: []string{"a"}},
		DateExpires: "2024-01-01T12:00:00.000000Z",
	}
	assert.True(t, narrower.Covers(base))
	assert.False(t, base.Covers(narrower))

	otherMethod := *narrower
	otherMethod.Scope.Method = message.MethodRead
	assert.False(t, otherMethod.Covers(base))

	extraRecord := *narrower
	extraRecord.Scope.RecordIDs = []string{"a", "c"}
	assert.False(t, extraRecord.Covers(base))
}

func TestApplyGrant(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	scope := message.Scope{Interface: message.InterfaceRecords, Method: message.MethodWrite}

	g := testutil.PermissionsGrant(t, e.alice, testutil.GrantOptions{GrantedTo: e.bob.DID, Timestamp: testutil.At(1), Scope: scope})
	require.NoError(t, e.engine.ApplyGrant(ctx, e.alice.DID, g))
	assert.ErrorIs(t, e.engine.ApplyGrant(ctx, e.alice.DID, g), grants.ErrConflict)

	loaded, err := e.engine.Load(ctx, e.alice.DID, testutil.MustCID(t, g))
	require.NoError(t, err)
	assert.Equal(t, e.alice.DID, loaded.Grantor)
	assert.Equal(t, e.bob.DID, loaded.GrantedTo)

	forCarol := testutil.PermissionsGrant(t, e.alice, testutil.GrantOptions{
		GrantedTo: e.bob.DID, GrantedFor: e.carol.DID, Timestamp: testutil.At(1), Scope: scope,
	})
	assert.ErrorIs(t, e.engine.ApplyGrant(ctx, e.alice.DID, forCarol), grants.ErrInvalidGrant)

	backwards := testutil.PermissionsGrant(t, e.alice, testutil.GrantOptions{
		GrantedTo: e.bob.DID, Timestamp: testutil.At(10), DateExpires: testutil.At(5), Scope: scope,
	})
	assert.ErrorIs(t, e.engine.ApplyGrant(ctx, e.alice.DID, backwards), grants.ErrInvalidGrant)
}
