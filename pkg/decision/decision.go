// Package decision is the result type shared by every authorizer. A denial
// is a value with a stable reason, never an error.
package decision

import "fmt"

// DenialReason is a stable, machine-readable denial code.
type DenialReason string

const (
	// Authorization facade
	ReasonAuthorizationFailed DenialReason = "AuthorizationFailed"
	ReasonUnsupportedMessage  DenialReason = "UnsupportedMessage"

	// Protocol rules
	ReasonProtocolNotFound    DenialReason = "ProtocolNotFound"
	ReasonInvalidProtocolPath DenialReason = "InvalidProtocolPath"
	ReasonTypeMismatch        DenialReason = "TypeMismatch"
	ReasonNoMatchingRuleSet   DenialReason = "NoMatchingRuleSet"
	ReasonActionNotPermitted  DenialReason = "ActionNotPermitted"
	ReasonMissingRole         DenialReason = "MissingRole"
	ReasonSizeOutOfRange      DenialReason = "SizeOutOfRange"
	ReasonTagMismatch         DenialReason = "TagMismatch"

	// Grants
	ReasonGrantNotFound          DenialReason = "GrantNotFound"
	ReasonGrantedToMismatch      DenialReason = "GrantedToMismatch"
	ReasonGrantedForMismatch     DenialReason = "GrantedForMismatch"
	ReasonGrantNotYetActive      DenialReason = "GrantNotYetActive"
	ReasonGrantExpired           DenialReason = "GrantExpired"
	ReasonGrantRevoked           DenialReason = "GrantRevoked"
	ReasonScopeMismatch          DenialReason = "ScopeMismatch"
	ReasonScopeProtocolMismatch  DenialReason = "ScopeProtocolMismatch"
	ReasonScopeContextMismatch   DenialReason = "ScopeContextMismatch"
	ReasonScopePathMismatch      DenialReason = "ScopeProtocolPathMismatch"
	ReasonScopeSchemaMismatch    DenialReason = "ScopeSchemaMismatch"
	ReasonScopeRecordMismatch    DenialReason = "ScopeRecordMismatch"
	ReasonPublicationRequired    DenialReason = "PublicationRequired"
	ReasonPublicationProhibited  DenialReason = "PublicationProhibited"
	ReasonDelegatedGrantInvalid  DenialReason = "DelegatedGrantInvalid"
	ReasonDelegatedGrantExceeded DenialReason = "DelegatedGrantExceeded"
)

// Decision is the outcome of an authorization check.
type Decision struct {
	Allowed bool
	Reason  DenialReason
	Detail  string
}

// Allow is the single allowing decision.
func Allow() Decision { return Decision{Allowed: true} }

// Deny builds a denial. Detail is formatted with args.
func Deny(reason DenialReason, detail string, args ...any) Decision {
	if len(args) > 0 {
		detail = fmt.Sprintf(detail, args...)
	}
	return Decision{Reason: reason, Detail: detail}
}

func (d Decision) String() string {
	if d.Allowed {
		return "allowed"
	}
	if d.Detail == "" {
		return "denied: " + string(d.Reason)
	}
	return "denied: " + string(d.Reason) + ": " + d.Detail
}
