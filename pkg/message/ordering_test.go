package message_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/dwn-core/pkg/crypto"
	"github.com/Mindburn-Labs/dwn-core/pkg/message"
	"github.com/Mindburn-Labs/dwn-core/pkg/testutil"
)

func TestCompare_ByTimestamp(t *testing.T) {
	alice := testutil.NewPersona(t, "alice")
	older, _ := testutil.RecordsWrite(t, alice, testutil.WriteOptions{Timestamp: testutil.At(1)})
	newer, _ := testutil.RecordsWrite(t, alice, testutil.WriteOptions{Timestamp: testutil.At(2)})

	assert.True(t, message.IsNewer(newer, older))
	assert.True(t, message.IsOlder(older, newer))
	assert.False(t, message.IsNewer(older, newer))
	assert.Equal(t, newer, message.Newest([]*message.Message{older, newer}))
	assert.Equal(t, older, message.Oldest([]*message.Message{newer, older}))
}

// Equal timestamps are decided by CID string so every node agrees.
func TestCompare_TieBrokenByCID(t *testing.T) {
	alice := testutil.NewPersona(t, "alice")
	a, _ := testutil.RecordsWrite(t, alice, testutil.WriteOptions{Timestamp: testutil.At(5), Data: []byte("a")})
	b, _ := testutil.RecordsWrite(t, alice, testutil.WriteOptions{Timestamp: testutil.At(5), Data: []byte("b")})

	cidA := testutil.MustCID(t, a)
	cidB := testutil.MustCID(t, b)
	require.NotEqual(t, cidA, cidB)

	expectNewer := a
	if cidB > cidA {
		expectNewer = b
	}
	assert.Equal(t, expectNewer, message.Newest([]*message.Message{a, b}))
	assert.Equal(t, expectNewer, message.Newest([]*message.Message{b, a}))
	assert.NotEqual(t, message.IsNewer(a, b), message.IsNewer(b, a))
}

func TestCompare_IdenticalDescriptorsEqual(t *testing.T) {
	alice := testutil.NewPersona(t, "alice")
	bob := testutil.NewPersona(t, "bob")
	m, _ := testutil.RecordsWrite(t, alice, testutil.WriteOptions{Timestamp: testutil.At(5)})

	// Same descriptor signed by someone else has the same identity.
	resigned := m.Clone()
	require.NoError(t, crypto.SignMessage(resigned, bob.Signer, crypto.SignOptions{}))

	assert.Equal(t, testutil.MustCID(t, m), testutil.MustCID(t, resigned))
	assert.Equal(t, 0, message.Compare(m, resigned))
}

func TestNewestOldest_Empty(t *testing.T) {
	assert.Nil(t, message.Newest(nil))
	assert.Nil(t, message.Oldest(nil))
}

func TestCompareTimestamps_MicrosecondPrecision(t *testing.T) {
	assert.Equal(t, -1, message.CompareTimestamps("2024-01-01T00:00:00.000001Z", "2024-01-01T00:00:00.000002Z"))
	assert.Equal(t, 0, message.CompareTimestamps("2024-01-01T00:00:00.000001Z", "2024-01-01T00:00:00.000001Z"))
	assert.Equal(t, 1, message.CompareTimestamps("2024-01-01T00:00:01Z", "2024-01-01T00:00:00.999999Z"))
}
