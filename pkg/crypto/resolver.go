package crypto

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"sync"
)

// ErrDIDNotFound is returned when a DID has no document.
var ErrDIDNotFound = errors.New("did not found")

// VerificationMethod is a public key published in a DID document.
type VerificationMethod struct {
	ID        string
	PublicKey ed25519.PublicKey
}

// Document is the resolved form of a DID, reduced to what signature
// verification needs.
type Document struct {
	ID                  string
	VerificationMethods []VerificationMethod
}

// Key returns the verification method with the given id.
func (d *Document) Key(keyID string) (ed25519.PublicKey, bool) {
	for _, vm := range d.VerificationMethods {
		if vm.ID == keyID {
			return vm.PublicKey, true
		}
	}
	return nil, false
}

// Resolver resolves a DID to its document. Method-specific resolution lives
// outside this module.
type Resolver interface {
	Resolve(ctx context.Context, did string) (*Document, error)
}

// StaticResolver serves documents registered in process. It supports key
// rotation by adding and revoking verification methods.
type StaticResolver struct {
	mu   sync.RWMutex
	docs map[string]*Document
}

func NewStaticResolver() *StaticResolver {
	return &StaticResolver{docs: make(map[string]*Document)}
}

// AddSigner publishes the signer's public key under its DID.
func (r *StaticResolver) AddSigner(s Signer) {
	r.AddKey(s.KeyID(), s.PublicKey())
}

// AddKey publishes a verification method; the DID is taken from keyID.
func (r *StaticResolver) AddKey(keyID string, pub ed25519.PublicKey) {
	r.mu.Lock()
	defer r.mu.Unlock()

	did := didOf(keyID)
	doc, ok := r.docs[did]
	if !ok {
		doc = &Document{ID: did}
		r.docs[did] = doc
	}
	for i, vm := range doc.VerificationMethods {
		if vm.ID == keyID {
			doc.VerificationMethods[i].PublicKey = pub
			return
		}
	}
	doc.VerificationMethods = append(doc.VerificationMethods, VerificationMethod{ID: keyID, PublicKey: pub})
}

// RevokeKey removes a verification method.
func (r *StaticResolver) RevokeKey(keyID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, ok := r.docs[didOf(keyID)]
	if !ok {
		return
	}
	kept := doc.VerificationMethods[:0]
	for _, vm := range doc.VerificationMethods {
		if vm.ID != keyID {
			kept = append(kept, vm)
		}
	}
	doc.VerificationMethods = kept
}

func (r *StaticResolver) Resolve(_ context.Context, did string) (*Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	doc, ok := r.docs[did]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDIDNotFound, did)
	}
	cp := &Document{ID: doc.ID, VerificationMethods: append([]VerificationMethod(nil), doc.VerificationMethods...)}
	return cp, nil
}
