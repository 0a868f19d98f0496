package crypto_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/dwn-core/pkg/crypto"
	"github.com/Mindburn-Labs/dwn-core/pkg/message"
	"github.com/Mindburn-Labs/dwn-core/pkg/testutil"
)

func TestAuthenticate_ValidSignature(t *testing.T) {
	alice := testutil.NewPersona(t, "alice")
	auth := crypto.NewAuthenticator(testutil.NewResolver(alice))

	m, _ := testutil.RecordsWrite(t, alice, testutil.WriteOptions{})
	require.NoError(t, auth.Authenticate(context.Background(), m))
}

func TestAuthenticate_TamperedDescriptor(t *testing.T) {
	alice := testutil.NewPersona(t, "alice")
	auth := crypto.NewAuthenticator(testutil.NewResolver(alice))

	m, _ := testutil.RecordsWrite(t, alice, testutil.WriteOptions{})
	m.Descriptor.Schema = "https://evil.example/schema"

	err := auth.Authenticate(context.Background(), m)
	assert.ErrorIs(t, err, crypto.ErrAuthentication)
}

func TestAuthenticate_UnknownDID(t *testing.T) {
	alice := testutil.NewPersona(t, "alice")
	auth := crypto.NewAuthenticator(crypto.NewStaticResolver())

	m, _ := testutil.RecordsWrite(t, alice, testutil.WriteOptions{})
	assert.ErrorIs(t, auth.Authenticate(context.Background(), m), crypto.ErrAuthentication)
}

func TestAuthenticate_RevokedKey(t *testing.T) {
	alice := testutil.NewPersona(t, "alice")
	resolver := testutil.NewResolver(alice)
	auth := crypto.NewAuthenticator(resolver)

	m, _ := testutil.RecordsWrite(t, alice, testutil.WriteOptions{})
	resolver.RevokeKey(alice.Signer.KeyID())
	assert.ErrorIs(t, auth.Authenticate(context.Background(), m), crypto.ErrAuthentication)
}

func TestAuthenticate_WrongKeyForDID(t *testing.T) {
	alice := testutil.NewPersona(t, "alice")
	impostor := testutil.NewPersona(t, "alice")
	auth := crypto.NewAuthenticator(testutil.NewResolver(alice))

	m, _ := testutil.RecordsWrite(t, impostor, testutil.WriteOptions{})
	assert.ErrorIs(t, auth.Authenticate(context.Background(), m), crypto.ErrAuthentication)
}

func TestAuthenticate_Unsigned(t *testing.T) {
	auth := crypto.NewAuthenticator(crypto.NewStaticResolver())
	m := &message.Message{Descriptor: message.Descriptor{Interface: message.InterfaceRecords, Method: message.MethodQuery}}
	assert.ErrorIs(t, auth.Authenticate(context.Background(), m), crypto.ErrAuthentication)
}

func TestAuthenticate_OwnerSignature(t *testing.T) {
	alice := testutil.NewPersona(t, "alice")
	bob := testutil.NewPersona(t, "bob")
	auth := crypto.NewAuthenticator(testutil.NewResolver(alice, bob))

	m, _ := testutil.RecordsWrite(t, bob, testutil.WriteOptions{})
	require.NoError(t, crypto.SignOwner(m, alice.Signer))
	require.NoError(t, auth.Authenticate(context.Background(), m))

	owner, err := message.Owner(m)
	require.NoError(t, err)
	assert.Equal(t, alice.DID, owner)
}

func TestAuthenticate_DelegatedGrant(t *testing.T) {
	alice := testutil.NewPersona(t, "alice")
	bob := testutil.NewPersona(t, "bob")
	auth := crypto.NewAuthenticator(testutil.NewResolver(alice, bob))

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
	require.NoError(t, auth.Authenticate(context.Background(), m))

	// Swapping the embedded grant breaks the signed delegatedGrantId.
	other := testutil.PermissionsGrant(t, alice, testutil.GrantOptions{
		GrantedTo: bob.DID,
		Timestamp: testutil.At(0),
		Delegated: true,
		Scope:     message.Scope{Interface: message.InterfaceRecords, Method: message.MethodDelete},
	})
	m.Authorization.AuthorDelegatedGrant = other
	assert.ErrorIs(t, auth.Authenticate(context.Background(), m), crypto.ErrAuthentication)
}

func TestStaticResolver_Rotation(t *testing.T) {
	alice := testutil.NewPersona(t, "alice")
	r := testutil.NewResolver(alice)

	next, err := crypto.NewEd25519Signer(alice.DID, "key-2")
	require.NoError(t, err)
	r.AddSigner(next)

	doc, err := r.Resolve(context.Background(), alice.DID)
	require.NoError(t, err)
	assert.Len(t, doc.VerificationMethods, 2)

	_, err = r.Resolve(context.Background(), "did:example:nobody")
	assert.ErrorIs(t, err, crypto.ErrDIDNotFound)
}
