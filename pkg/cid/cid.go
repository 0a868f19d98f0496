// Package cid computes and verifies content identifiers.
//
// A message CID is a CIDv1 over the deterministic CBOR encoding of the
// message descriptor's JSON data model. New CIDs are always computed with
// sha2-256; CIDs supplied by other parties may also use blake3.
package cid

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	gocid "github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
	"github.com/zeebo/blake3"
)

// Codec identifiers (multicodec table).
const (
	CodecDagCBOR uint64 = gocid.DagCBOR
	CodecRaw     uint64 = gocid.Raw
)

// ErrUnsupportedHash is returned when verifying a CID whose multihash uses
// an algorithm this node does not accept.
var ErrUnsupportedHash = errors.New("cid: unsupported hash algorithm")

// ErrMismatch is returned when a supplied CID does not address the content.
var ErrMismatch = errors.New("cid: content does not match identifier")

var computePrefix = gocid.Prefix{
	Version:  1,
	Codec:    CodecDagCBOR,
	MhType:   multihash.SHA2_256,
	MhLength: -1,
}

// Compute returns the dag-cbor CID of v. v is first reduced to its JSON data
// model so that struct tags and custom JSON marshalers decide the shape.
func Compute(v any) (string, error) {
	encoded, err := Encode(v)
	if err != nil {
		return "", err
	}
	c, err := computePrefix.Sum(encoded)
	if err != nil {
		return "", fmt.Errorf("cid: sum failed: %w", err)
	}
	return c.String(), nil
}

// ComputeRaw returns the raw-codec CID of payload bytes.
func ComputeRaw(data []byte) (string, error) {
	prefix := computePrefix
	prefix.Codec = CodecRaw
	c, err := prefix.Sum(data)
	if err != nil {
		return "", fmt.Errorf("cid: sum failed: %w", err)
	}
	return c.String(), nil
}

// Info is the decoded form of a CID string.
type Info struct {
	Version  uint64
	Codec    uint64
	HashCode uint64
	Digest   []byte
}

// Parse decodes a CID string.
func Parse(s string) (Info, error) {
	c, err := gocid.Decode(s)
	if err != nil {
		return Info{}, fmt.Errorf("cid: decode %q: %w", s, err)
	}
	decoded, err := multihash.Decode(c.Hash())
	if err != nil {
		return Info{}, fmt.Errorf("cid: multihash decode: %w", err)
	}
	return Info{
		Version:  c.Version(),
		Codec:    c.Type(),
		HashCode: decoded.Code,
		Digest:   decoded.Digest,
	}, nil
}

// Verify checks that the supplied CID addresses v, honouring whichever
// accepted hash algorithm the supplier chose.
func Verify(supplied string, v any) error {
	info, err := Parse(supplied)
	if err != nil {
		return err
	}
	var payload []byte
	switch info.Codec {
	case CodecDagCBOR:
		payload, err = Encode(v)
		if err != nil {
			return err
		}
	case CodecRaw:
		raw, ok := v.([]byte)
		if !ok {
			return fmt.Errorf("cid: raw codec requires []byte, got %T", v)
		}
		payload = raw
	default:
		return fmt.Errorf("cid: unsupported codec 0x%x", info.Codec)
	}
	return verifyDigest(info, payload)
}

// VerifyRaw checks that the supplied raw CID addresses data.
func VerifyRaw(supplied string, data []byte) error {
	return Verify(supplied, data)
}

func verifyDigest(info Info, payload []byte) error {
	var digest []byte
	switch info.HashCode {
	case multihash.SHA2_256:
		sum := sha256.Sum256(payload)
		digest = sum[:]
	case multihash.BLAKE3:
		// Only the full 32-byte digest binds the content.
		sum := blake3.Sum256(payload)
		digest = sum[:]
	default:
		return fmt.Errorf("%w: 0x%x", ErrUnsupportedHash, info.HashCode)
	}
	if !bytes.Equal(digest, info.Digest) {
		return ErrMismatch
	}
	return nil
}

// Encode returns the deterministic CBOR encoding of v's JSON data model.
func Encode(v any) ([]byte, error) {
	doc, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("cid: json marshal: %w", err)
	}
	var generic any
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("cid: json decode: %w", err)
	}
	normalized, err := normalizeNumbers(generic)
	if err != nil {
		return nil, err
	}
	out, err := encMode.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("cid: cbor encode: %w", err)
	}
	return out, nil
}

// normalizeNumbers maps json.Number to int64 when integral, float64 otherwise,
// so equal numbers always encode to the same CBOR item.
func normalizeNumbers(v any) (any, error) {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i, nil
		}
		f, err := t.Float64()
		if err != nil {
			return nil, fmt.Errorf("cid: number %q: %w", t, err)
		}
		if math.IsInf(f, 0) || math.IsNaN(f) {
			return nil, fmt.Errorf("cid: number %q out of range", t)
		}
		return f, nil
	case []any:
		for i := range t {
			n, err := normalizeNumbers(t[i])
			if err != nil {
				return nil, err
			}
			t[i] = n
		}
		return t, nil
	case map[string]any:
		for k, elem := range t {
			n, err := normalizeNumbers(elem)
			if err != nil {
				return nil, err
			}
			t[k] = n
		}
		return t, nil
	default:
		return v, nil
	}
}
