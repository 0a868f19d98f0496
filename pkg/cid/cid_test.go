package cid_test

import (
	"testing"

	gocid "github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/blake3"

	"github.com/Mindburn-Labs/dwn-core/pkg/cid"
)

type descriptor struct {
	Interface        string `json:"interface"`
	Method           string `json:"method"`
	MessageTimestamp string `json:"messageTimestamp"`
	DataSize         int64  `json:"dataSize,omitempty"`
}

func TestCompute_Deterministic(t *testing.T) {
	d := descriptor{Interface: "Records", Method: "Write", MessageTimestamp: "2024-01-01T00:00:00.000000Z", DataSize: 12}

	first, err := cid.Compute(d)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := cid.Compute(d)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.Equal(t, byte('b'), first[0], "base32 multibase prefix")
}

// Key order and Go type must not influence the identifier.
func TestCompute_StructAndMapAgree(t *testing.T) {
	d := descriptor{Interface: "Records", Method: "Write", MessageTimestamp: "2024-01-01T00:00:00.000000Z", DataSize: 12}
	m := map[string]any{
		"dataSize":         12,
		"messageTimestamp": "2024-01-01T00:00:00.000000Z",
		"method":           "Write",
		"interface":        "Records",
	}
	a, err := cid.Compute(d)
	require.NoError(t, err)
	b, err := cid.Compute(m)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestCompute_DistinctContent(t *testing.T) {
	a, err := cid.Compute(descriptor{Interface: "Records", Method: "Write"})
	require.NoError(t, err)
	b, err := cid.Compute(descriptor{Interface: "Records", Method: "Delete"})
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestParse(t *testing.T) {
	c, err := cid.Compute(descriptor{Interface: "Protocols", Method: "Configure"})
	require.NoError(t, err)

	info, err := cid.Parse(c)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), info.Version)
	assert.Equal(t, cid.CodecDagCBOR, info.Codec)
	assert.Equal(t, uint64(multihash.SHA2_256), info.HashCode)
	assert.Len(t, info.Digest, 32)

	_, err = cid.Parse("not-a-cid")
	assert.Error(t, err)
}

func TestVerify_SHA256(t *testing.T) {
	d := descriptor{Interface: "Records", Method: "Write"}
	c, err := cid.Compute(d)
	require.NoError(t, err)

	assert.NoError(t, cid.Verify(c, d))
	assert.ErrorIs(t, cid.Verify(c, descriptor{Interface: "Records", Method: "Read"}), cid.ErrMismatch)
}

func TestVerify_AcceptsBlake3(t *testing.T) {
	d := descriptor{Interface: "Records", Method: "Write"}
	encoded, err := cid.Encode(d)
	require.NoError(t, err)

	h := blake3.New()
	_, _ = h.Write(encoded)
	mh, err := multihash.Encode(h.Sum(nil), multihash.BLAKE3)
	require.NoError(t, err)
	supplied := gocid.NewCidV1(gocid.DagCBOR, mh).String()

	assert.NoError(t, cid.Verify(supplied, d))

	computed, err := cid.Compute(d)
	require.NoError(t, err)
	assert.NotEqual(t, supplied, computed, "new CIDs are always sha2-256")
}

func TestVerify_RejectsTruncatedDigest(t *testing.T) {
	data := []byte("hello")
	full := blake3.Sum256(data)
	sha := sha256Digest(t, data)

	for name, digest := range map[string][]byte{
		"empty blake3":     {},
		"half blake3":      full[:16],
		"truncated sha256": sha[:8],
	} {
		t.Run(name, func(t *testing.T) {
			code := uint64(multihash.BLAKE3)
			if name == "truncated sha256" {
				code = multihash.SHA2_256
			}
			mh, err := multihash.Encode(digest, code)
			require.NoError(t, err)
			supplied := gocid.NewCidV1(gocid.Raw, mh).String()
			assert.ErrorIs(t, cid.VerifyRaw(supplied, data), cid.ErrMismatch)
			assert.ErrorIs(t, cid.VerifyRaw(supplied, []byte("something else")), cid.ErrMismatch)
		})
	}

	assert.ErrorIs(t, cid.VerifyRaw("bafkr4aa", []byte("anything")), cid.ErrMismatch)
}

func sha256Digest(t *testing.T, data []byte) []byte {
	t.Helper()
	c, err := cid.ComputeRaw(data)
	require.NoError(t, err)
	info, err := cid.Parse(c)
	require.NoError(t, err)
	return info.Digest
}

func TestVerify_RejectsUnsupportedHash(t *testing.T) {
	mh, err := multihash.Encode(make([]byte, 20), multihash.SHA1)
	require.NoError(t, err)
	supplied := gocid.NewCidV1(gocid.DagCBOR, mh).String()

	assert.ErrorIs(t, cid.Verify(supplied, descriptor{}), cid.ErrUnsupportedHash)
}

func TestComputeRaw(t *testing.T) {
	data := []byte("hello dwn")
	c, err := cid.ComputeRaw(data)
	require.NoError(t, err)

	info, err := cid.Parse(c)
	require.NoError(t, err)
	assert.Equal(t, cid.CodecRaw, info.Codec)
	assert.NoError(t, cid.VerifyRaw(c, data))
	assert.ErrorIs(t, cid.VerifyRaw(c, []byte("tampered")), cid.ErrMismatch)
}
