package message

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnsigned is returned when a message has no authorization signature.
var ErrUnsigned = errors.New("message: missing authorization signature")

// SignaturePayload is the claim set signed in Authorization.Signature.
type SignaturePayload struct {
	jwt.RegisteredClaims
	DescriptorCID      string `json:"descriptorCid"`
	PermissionsGrantID string `json:"permissionsGrantId,omitempty"`
	DelegatedGrantID   string `json:"delegatedGrantId,omitempty"`
	ProtocolRole       string `json:"protocolRole,omitempty"`
	RecordID           string `json:"recordId,omitempty"`
	ContextID          string `json:"contextId,omitempty"`
}

// DIDFromKeyID strips the fragment from a verification method id.
func DIDFromKeyID(kid string) string {
	did, _, _ := strings.Cut(kid, "#")
	return did
}

// Payload decodes the signature payload without verifying it. Callers that
// act on the payload must have authenticated the message first.
func Payload(m *Message) (*SignaturePayload, error) {
	if m.Authorization == nil || m.Authorization.Signature == "" {
		return nil, ErrUnsigned
	}
	payload := &SignaturePayload{}
	if _, _, err := jwt.NewParser().ParseUnverified(m.Authorization.Signature, payload); err != nil {
		return nil, fmt.Errorf("message: malformed signature: %w", err)
	}
	return payload, nil
}

// Signer returns the DID that produced the message signature.
func Signer(m *Message) (string, error) {
	if m.Authorization == nil || m.Authorization.Signature == "" {
		return "", ErrUnsigned
	}
	return signerOf(m.Authorization.Signature)
}

func signerOf(signature string) (string, error) {
	token, _, err := jwt.NewParser().ParseUnverified(signature, &SignaturePayload{})
	if err != nil {
		return "", fmt.Errorf("message: malformed signature: %w", err)
	}
	kid, _ := token.Header["kid"].(string)
	if kid == "" {
		return "", errors.New("message: signature header has no kid")
	}
	return DIDFromKeyID(kid), nil
}

// Author returns the logical author: the grantor of an embedded delegated
// grant when present, otherwise the signer.
func Author(m *Message) (string, error) {
	if m.Authorization != nil && m.Authorization.AuthorDelegatedGrant != nil {
		return Signer(m.Authorization.AuthorDelegatedGrant)
	}
	return Signer(m)
}

// Owner returns the DID of the owner co-signature, or "" when absent.
func Owner(m *Message) (string, error) {
	if m.Authorization == nil || m.Authorization.OwnerSignature == "" {
		return "", nil
	}
	return signerOf(m.Authorization.OwnerSignature)
}

// GrantID returns the permissionsGrantId the signer invokes, if any.
func GrantID(m *Message) string {
	p, err := Payload(m)
	if err != nil {
		return ""
	}
	return p.PermissionsGrantID
}
