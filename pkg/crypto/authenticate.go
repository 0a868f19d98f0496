package crypto

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Mindburn-Labs/dwn-core/pkg/cid"
	"github.com/Mindburn-Labs/dwn-core/pkg/message"
)

// ErrAuthentication marks every signature or DID resolution failure. It is
// reported separately from authorization denials.
var ErrAuthentication = errors.New("authentication failed")

// Authenticator verifies message signatures against resolved DID keys.
type Authenticator struct {
	resolver Resolver
}

func NewAuthenticator(r Resolver) *Authenticator {
	return &Authenticator{resolver: r}
}

// Authenticate verifies the author signature, the optional owner signature
// and the optional embedded delegated grant of m.
func (a *Authenticator) Authenticate(ctx context.Context, m *message.Message) error {
	if m.Authorization == nil || m.Authorization.Signature == "" {
		return fmt.Errorf("%w: %v", ErrAuthentication, message.ErrUnsigned)
	}

	payload, err := a.verify(ctx, m.Authorization.Signature)
	if err != nil {
		return err
	}
	if err := cid.Verify(payload.DescriptorCID, m.Descriptor); err != nil {
		return fmt.Errorf("%w: descriptorCid does not match descriptor: %v", ErrAuthentication, err)
	}
	if m.Kind() == message.KindRecordsWrite {
		if payload.RecordID != m.RecordID || payload.ContextID != m.ContextID {
			return fmt.Errorf("%w: signed recordId/contextId do not match message", ErrAuthentication)
		}
	}

	if owner := m.Authorization.OwnerSignature; owner != "" {
		ownerPayload, err := a.verify(ctx, owner)
		if err != nil {
			return err
		}
		if ownerPayload.DescriptorCID != payload.DescriptorCID {
			return fmt.Errorf("%w: owner signature covers a different descriptor", ErrAuthentication)
		}
	}

	grant := m.Authorization.AuthorDelegatedGrant
	switch {
	case grant == nil && payload.DelegatedGrantID != "":
		return fmt.Errorf("%w: delegatedGrantId signed without embedded grant", ErrAuthentication)
	case grant != nil:
		grantID, err := message.CID(grant)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrAuthentication, err)
		}
		if grantID != payload.DelegatedGrantID {
			return fmt.Errorf("%w: embedded grant does not match delegatedGrantId", ErrAuthentication)
		}
		if err := a.Authenticate(ctx, grant); err != nil {
			return fmt.Errorf("delegated grant: %w", err)
		}
	}
	return nil
}

func (a *Authenticator) verify(ctx context.Context, signature string) (*message.SignaturePayload, error) {
	payload := &message.SignaturePayload{}
	token, err := jwt.ParseWithClaims(signature, payload, a.keyFunc(ctx), jwt.WithValidMethods([]string{"EdDSA"}))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuthentication, err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("%w: %v", ErrAuthentication, jwt.ErrTokenSignatureInvalid)
	}
	return payload, nil
}

func (a *Authenticator) keyFunc(ctx context.Context) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		kid, ok := token.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, errors.New("missing kid in header")
		}
		doc, err := a.resolver.Resolve(ctx, didOf(kid))
		if err != nil {
			return nil, err
		}
		pub, ok := doc.Key(kid)
		if !ok {
			return nil, fmt.Errorf("key not found: %s", kid)
		}
		return ed25519.PublicKey(pub), nil
	}
}

func didOf(keyID string) string {
	return message.DIDFromKeyID(keyID)
}
