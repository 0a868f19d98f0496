// Package crypto signs and authenticates messages. Signatures are compact
// EdDSA JWS over a claim set naming the descriptor CID; public keys come
// from a DID resolver.
package crypto

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"github.com/Mindburn-Labs/dwn-core/pkg/message"
)

// Signer produces message signatures for one verification method.
type Signer interface {
	// KeyID is the verification method id, "<did>#<fragment>".
	KeyID() string
	DID() string
	PublicKey() ed25519.PublicKey
	// Key is the private key handle used for JWS signing.
	Key() crypto.Signer
}

// Ed25519Signer holds an in-process Ed25519 key.
type Ed25519Signer struct {
	privKey ed25519.PrivateKey
	pubKey  ed25519.PublicKey
	keyID   string
}

// NewEd25519Signer generates a fresh key for did under the given fragment.
func NewEd25519Signer(did, fragment string) (*Ed25519Signer, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("key generation failed: %w", err)
	}
	return NewEd25519SignerFromKey(priv, did+"#"+fragment), nil
}

func NewEd25519SignerFromKey(priv ed25519.PrivateKey, keyID string) *Ed25519Signer {
	return &Ed25519Signer{
		privKey: priv,
		pubKey:  priv.Public().(ed25519.PublicKey),
		keyID:   keyID,
	}
}

func (s *Ed25519Signer) KeyID() string { return s.keyID }

func (s *Ed25519Signer) DID() string { return message.DIDFromKeyID(s.keyID) }

func (s *Ed25519Signer) PublicKey() ed25519.PublicKey { return s.pubKey }

func (s *Ed25519Signer) Key() crypto.Signer { return s.privKey }
