package message_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/dwn-core/pkg/crypto"
	"github.com/Mindburn-Labs/dwn-core/pkg/message"
	"github.com/Mindburn-Labs/dwn-core/pkg/testutil"
)

func TestIsInitialWrite(t *testing.T) {
	alice := testutil.NewPersona(t, "alice")
	initial, _ := testutil.RecordsWrite(t, alice, testutil.WriteOptions{Timestamp: testutil.At(1)})
	update, _ := testutil.Update(t, alice, initial, testutil.At(2), nil, crypto.SignOptions{})

	ok, err := message.IsInitialWrite(initial)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = message.IsInitialWrite(update)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAuthor_DelegatedGrant(t *testing.T) {
	alice := testutil.NewPersona(t, "alice")
	bob := testutil.NewPersona(t, "bob")
	grant := testutil.PermissionsGrant(t, alice, testutil.GrantOptions{
		GrantedTo: bob.DID,
		Timestamp: testutil.At(0),
		Delegated: true,
		Scope:     message.Scope{Interface: message.InterfaceRecords, Method: message.MethodWrite},
	})
	m, _ := testutil.RecordsWrite(t, bob, testutil.WriteOptions{
		Timestamp: testutil.At(1),
		Sign:      crypto.SignOptions{DelegatedGrant: grant},
	})

	signer, err := message.Signer(m)
	require.NoError(t, err)
	author, err := message.Author(m)
	require.NoError(t, err)
	assert.Equal(t, bob.DID, signer)
	assert.Equal(t, alice.DID, author)

	ok, err := message.IsInitialWrite(m)
	require.NoError(t, err)
	assert.True(t, ok, "entry id is derived from the logical author")
}

func TestChildContextID(t *testing.T) {
	assert.Equal(t, "r1", message.ChildContextID("", "r1"))
	assert.Equal(t, "r1/r2", message.ChildContextID("r1", "r2"))
}

func TestIndexes_RecordsWrite(t *testing.T) {
	alice := testutil.NewPersona(t, "alice")
	m, _ := testutil.RecordsWrite(t, alice, testutil.WriteOptions{
		Protocol:     "https://example.com/chat",
		ProtocolPath: "thread",
		Recipient:    "did:example:bob",
		Published:    true,
		Tags:         map[string]any{"status": "open"},
		Sign:         crypto.SignOptions{PermissionsGrantID: "grant-1"},
	})

	idx, err := message.Indexes(m)
	require.NoError(t, err)
	assert.Equal(t, "Records", idx[message.IndexInterface])
	assert.Equal(t, alice.DID, idx[message.IndexAuthor])
	assert.Equal(t, m.RecordID, idx[message.IndexRecordID])
	assert.Equal(t, m.ContextID, idx[message.IndexContextID])
	assert.Equal(t, true, idx[message.IndexPublished])
	assert.Equal(t, "open", idx["tag.status"])
	assert.Equal(t, "grant-1", idx[message.IndexPermissionsGrantID])

	flat, _ := testutil.RecordsWrite(t, alice, testutil.WriteOptions{})
	idx, err = message.Indexes(flat)
	require.NoError(t, err)
	assert.Contains(t, idx, message.IndexProtocol, "flat records index an empty protocol")
	assert.Equal(t, "", idx[message.IndexProtocol])
}

func TestNormalizeURL(t *testing.T) {
	assert.Equal(t, "https://example.com/chat", message.NormalizeURL("example.com/chat/"))
	assert.Equal(t, "https://example.com/chat", message.NormalizeURL("HTTPS://Example.com/chat"))
	assert.Equal(t, "", message.NormalizeURL(""))
}
