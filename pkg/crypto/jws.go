package crypto

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Mindburn-Labs/dwn-core/pkg/message"
)

// SignOptions carries the optional claims of a message signature.
type SignOptions struct {
	PermissionsGrantID string
	ProtocolRole       string
	// DelegatedGrant is embedded in the authorization and its CID is signed.
	DelegatedGrant *message.Message
}

// SignMessage signs m's descriptor CID and replaces its authorization.
func SignMessage(m *message.Message, s Signer, opts SignOptions) error {
	descriptorCID, err := message.CID(m)
	if err != nil {
		return fmt.Errorf("sign: %w", err)
	}
	payload := message.SignaturePayload{
		DescriptorCID:      descriptorCID,
		PermissionsGrantID: opts.PermissionsGrantID,
		ProtocolRole:       opts.ProtocolRole,
		RecordID:           m.RecordID,
		ContextID:          m.ContextID,
	}
	if opts.DelegatedGrant != nil {
		grantID, err := message.CID(opts.DelegatedGrant)
		if err != nil {
			return fmt.Errorf("sign: delegated grant: %w", err)
		}
		payload.DelegatedGrantID = grantID
	}

	sig, err := signPayload(payload, s)
	if err != nil {
		return err
	}
	m.Authorization = &message.Authorization{
		Signature:            sig,
		AuthorDelegatedGrant: opts.DelegatedGrant,
	}
	return nil
}

// SignOwner adds an owner co-signature to an already signed message.
func SignOwner(m *message.Message, s Signer) error {
	if m.Authorization == nil {
		return message.ErrUnsigned
	}
	descriptorCID, err := message.CID(m)
	if err != nil {
		return fmt.Errorf("sign owner: %w", err)
	}
	sig, err := signPayload(message.SignaturePayload{DescriptorCID: descriptorCID}, s)
	if err != nil {
		return err
	}
	m.Authorization.OwnerSignature = sig
	return nil
}

func signPayload(payload message.SignaturePayload, s Signer) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, payload)
	token.Header["kid"] = s.KeyID()
	sig, err := token.SignedString(s.Key())
	if err != nil {
		return "", fmt.Errorf("sign: %w", err)
	}
	return sig, nil
}
