// Package message defines the signed, content-addressed messages a node
// stores and the ordering used to pick between concurrent versions.
package message

import (
	"encoding/json"
)

// Interface is the top-level namespace of a message.
type Interface string

const (
	InterfaceRecords     Interface = "Records"
	InterfaceProtocols   Interface = "Protocols"
	InterfacePermissions Interface = "Permissions"
	InterfaceMessages    Interface = "Messages"
)

// Method is the operation within an interface.
type Method string

const (
	MethodWrite     Method = "Write"
	MethodRead      Method = "Read"
	MethodQuery     Method = "Query"
	MethodSubscribe Method = "Subscribe"
	MethodDelete    Method = "Delete"
	MethodConfigure Method = "Configure"
	MethodGrant     Method = "Grant"
	MethodRevoke    Method = "Revoke"
	MethodGet       Method = "Get"
)

// Publication conditions a grant may impose on the writes it authorizes.
const (
	PublicationRequired   = "Required"
	PublicationProhibited = "Prohibited"
)

// Message is the atomic unit of storage. Messages are immutable once signed;
// identity is derived from the descriptor alone.
type Message struct {
	// RecordID and ContextID are set on RecordsWrite only.
	RecordID      string         `json:"recordId,omitempty"`
	ContextID     string         `json:"contextId,omitempty"`
	Descriptor    Descriptor     `json:"descriptor"`
	Authorization *Authorization `json:"authorization,omitempty"`
}

// Authorization is the signature envelope of a message.
type Authorization struct {
	// Signature is a compact JWS whose payload is a SignaturePayload.
	Signature      string `json:"signature"`
	OwnerSignature string `json:"ownerSignature,omitempty"`
	// AuthorDelegatedGrant is the grant a delegate signs under.
	AuthorDelegatedGrant *Message `json:"authorDelegatedGrant,omitempty"`
}

// Descriptor carries the method-specific fields of every message kind. Only
// the fields relevant to Interface/Method are populated.
type Descriptor struct {
	Interface        Interface `json:"interface"`
	Method           Method    `json:"method"`
	MessageTimestamp string    `json:"messageTimestamp"`

	// RecordsWrite
	Protocol      string         `json:"protocol,omitempty"`
	ProtocolPath  string         `json:"protocolPath,omitempty"`
	Schema        string         `json:"schema,omitempty"`
	ParentID      string         `json:"parentId,omitempty"`
	Recipient     string         `json:"recipient,omitempty"`
	DataCID       string         `json:"dataCid,omitempty"`
	DataSize      int64          `json:"dataSize,omitempty"`
	DataFormat    string         `json:"dataFormat,omitempty"`
	DateCreated   string         `json:"dateCreated,omitempty"`
	Published     bool           `json:"published,omitempty"`
	DatePublished string         `json:"datePublished,omitempty"`
	Tags          map[string]any `json:"tags,omitempty"`

	// RecordsRead, RecordsDelete
	RecordID string `json:"recordId,omitempty"`
	Prune    bool   `json:"prune,omitempty"`

	// Queries and subscriptions
	Filter *Filter `json:"filter,omitempty"`

	// ProtocolsConfigure; decoded by the protocols package.
	Definition json.RawMessage `json:"definition,omitempty"`

	// PermissionsGrant
	GrantedTo   string      `json:"grantedTo,omitempty"`
	GrantedFor  string      `json:"grantedFor,omitempty"`
	DateExpires string      `json:"dateExpires,omitempty"`
	Delegated   bool        `json:"delegated,omitempty"`
	Scope       *Scope      `json:"scope,omitempty"`
	Conditions  *Conditions `json:"conditions,omitempty"`
	Description string      `json:"description,omitempty"`

	// PermissionsRevoke
	PermissionsGrantID string `json:"permissionsGrantId,omitempty"`

	// MessagesGet, MessagesQuery
	MessageCIDs []string `json:"messageCids,omitempty"`
	Cursor      string   `json:"cursor,omitempty"`
}

// Scope narrows what a grant authorizes.
type Scope struct {
	Interface    Interface `json:"interface"`
	Method       Method    `json:"method"`
	Protocol     string    `json:"protocol,omitempty"`
	ContextID    string    `json:"contextId,omitempty"`
	ProtocolPath string    `json:"protocolPath,omitempty"`
	Schema       string    `json:"schema,omitempty"`
	RecordIDs    []string  `json:"recordIds,omitempty"`
}

// Conditions are obligations on messages a grant authorizes.
type Conditions struct {
	Publication string `json:"publication,omitempty"`
}

// Filter selects records, protocols or events in queries and subscriptions.
type Filter struct {
	Interface    Interface `json:"interface,omitempty"`
	Method       Method    `json:"method,omitempty"`
	Protocol     string    `json:"protocol,omitempty"`
	ProtocolPath string    `json:"protocolPath,omitempty"`
	Schema       string    `json:"schema,omitempty"`
	RecordID     string    `json:"recordId,omitempty"`
	ParentID     string    `json:"parentId,omitempty"`
	ContextID    string    `json:"contextId,omitempty"`
	Recipient    string    `json:"recipient,omitempty"`
	Author       string    `json:"author,omitempty"`
	DataFormat   string    `json:"dataFormat,omitempty"`
	Published    *bool     `json:"published,omitempty"`
}

// Clone returns a deep copy via the JSON form; messages are small and this
// keeps copies independent of shared maps and slices.
func (m *Message) Clone() *Message {
	b, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	var out Message
	if err := json.Unmarshal(b, &out); err != nil {
		return nil
	}
	return &out
}
