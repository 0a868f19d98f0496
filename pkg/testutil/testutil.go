// Package testutil builds signed messages for tests across the module.
package testutil

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/dwn-core/pkg/cid"
	"github.com/Mindburn-Labs/dwn-core/pkg/crypto"
	"github.com/Mindburn-Labs/dwn-core/pkg/message"
)

// Epoch is the base time test timestamps are offset from.
var Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// At returns Epoch plus the given number of seconds.
func At(seconds int) time.Time {
	return Epoch.Add(time.Duration(seconds) * time.Second)
}

// Persona is a DID with one signing key.
type Persona struct {
	DID    string
	Signer *crypto.Ed25519Signer
}

func NewPersona(t testing.TB, name string) *Persona {
	t.Helper()
	did := "did:example:" + name
	s, err := crypto.NewEd25519Signer(did, "key-1")
	require.NoError(t, err)
	return &Persona{DID: did, Signer: s}
}

// NewResolver publishes the keys of all personas.
func NewResolver(ps ...*Persona) *crypto.StaticResolver {
	r := crypto.NewStaticResolver()
	for _, p := range ps {
		r.AddSigner(p.Signer)
	}
	return r
}

// WriteOptions describes a RecordsWrite. Zero values take defaults.
type WriteOptions struct {
	Timestamp       time.Time
	Protocol        string
	ProtocolPath    string
	Schema          string
	ParentID        string
	ParentContextID string
	Recipient       string
	DataFormat      string
	Data            []byte
	Published       bool
	Tags            map[string]any
	Sign            crypto.SignOptions
}

// RecordsWrite builds and signs an initial write. It returns the message and
// its data payload.
func RecordsWrite(t testing.TB, p *Persona, opts WriteOptions) (*message.Message, []byte) {
	t.Helper()
	if opts.Timestamp.IsZero() {
		opts.Timestamp = Epoch
	}
	if opts.Data == nil {
		opts.Data = []byte("hello")
	}
	if opts.DataFormat == "" {
		opts.DataFormat = "application/json"
	}
	dataCID, err := cid.ComputeRaw(opts.Data)
	require.NoError(t, err)

	ts := message.FormatTimestamp(opts.Timestamp)
	m := &message.Message{
		Descriptor: message.Descriptor{
			Interface:        message.InterfaceRecords,
			Method:           message.MethodWrite,
			MessageTimestamp: ts,
			DateCreated:      ts,
			Protocol:         opts.Protocol,
			ProtocolPath:     opts.ProtocolPath,
			Schema:           opts.Schema,
			ParentID:         opts.ParentID,
			Recipient:        opts.Recipient,
			DataCID:          dataCID,
			DataSize:         int64(len(opts.Data)),
			DataFormat:       opts.DataFormat,
			Published:        opts.Published,
			Tags:             opts.Tags,
		},
	}
	if opts.Published {
		m.Descriptor.DatePublished = ts
	}

	author := p.DID
	if opts.Sign.DelegatedGrant != nil {
		author, err = message.Signer(opts.Sign.DelegatedGrant)
		require.NoError(t, err)
	}
	m.RecordID, err = message.EntryID(m.Descriptor, author)
	require.NoError(t, err)
	if opts.Protocol != "" {
		m.ContextID = message.ChildContextID(opts.ParentContextID, m.RecordID)
	}
	require.NoError(t, crypto.SignMessage(m, p.Signer, opts.Sign))
	return m, opts.Data
}

// Update builds a later write of the record created by initial.
func Update(t testing.TB, p *Persona, initial *message.Message, at time.Time, data []byte, sign crypto.SignOptions) (*message.Message, []byte) {
	t.Helper()
	if data == nil {
		data = []byte("updated")
	}
	dataCID, err := cid.ComputeRaw(data)
	require.NoError(t, err)

	m := initial.Clone()
	m.Authorization = nil
	m.Descriptor.MessageTimestamp = message.FormatTimestamp(at)
	m.Descriptor.DataCID = dataCID
	m.Descriptor.DataSize = int64(len(data))
	require.NoError(t, crypto.SignMessage(m, p.Signer, sign))
	return m, data
}

// RecordsDelete builds a delete of recordID.
func RecordsDelete(t testing.TB, p *Persona, recordID string, at time.Time, prune bool, sign crypto.SignOptions) *message.Message {
	t.Helper()
	m := &message.Message{
		Descriptor: message.Descriptor{
			Interface:        message.InterfaceRecords,
			Method:           message.MethodDelete,
			MessageTimestamp: message.FormatTimestamp(at),
			RecordID:         recordID,
			Prune:            prune,
		},
	}
	require.NoError(t, crypto.SignMessage(m, p.Signer, sign))
	return m
}

// RecordsRead builds a read of recordID.
func RecordsRead(t testing.TB, p *Persona, recordID string, at time.Time, sign crypto.SignOptions) *message.Message {
	t.Helper()
	m := &message.Message{
		Descriptor: message.Descriptor{
			Interface:        message.InterfaceRecords,
			Method:           message.MethodRead,
			MessageTimestamp: message.FormatTimestamp(at),
			RecordID:         recordID,
		},
	}
	require.NoError(t, crypto.SignMessage(m, p.Signer, sign))
	return m
}

// RecordsQuery builds a query; p may be nil for an anonymous query.
func RecordsQuery(t testing.TB, p *Persona, filter message.Filter, at time.Time, sign crypto.SignOptions) *message.Message {
	t.Helper()
	m := &message.Message{
		Descriptor: message.Descriptor{
			Interface:        message.InterfaceRecords,
			Method:           message.MethodQuery,
			MessageTimestamp: message.FormatTimestamp(at),
			Filter:           &filter,
		},
	}
	if p != nil {
		require.NoError(t, crypto.SignMessage(m, p.Signer, sign))
	}
	return m
}

// ProtocolsConfigure builds a configure carrying def.
func ProtocolsConfigure(t testing.TB, p *Persona, protocol string, published bool, def any, at time.Time) *message.Message {
	t.Helper()
	raw, err := json.Marshal(def)
	require.NoError(t, err)
	m := &message.Message{
		Descriptor: message.Descriptor{
			Interface:        message.InterfaceProtocols,
			Method:           message.MethodConfigure,
			MessageTimestamp: message.FormatTimestamp(at),
			Protocol:         protocol,
			Published:        published,
			Definition:       raw,
		},
	}
	require.NoError(t, crypto.SignMessage(m, p.Signer, crypto.SignOptions{}))
	return m
}

// GrantOptions describes a PermissionsGrant.
type GrantOptions struct {
	GrantedTo   string
	GrantedFor  string
	Timestamp   time.Time
	DateExpires time.Time
	Delegated   bool
	Scope       message.Scope
	Conditions  *message.Conditions
}

// PermissionsGrant builds a grant authored by grantor.
func PermissionsGrant(t testing.TB, grantor *Persona, opts GrantOptions) *message.Message {
	t.Helper()
	if opts.GrantedFor == "" {
		opts.GrantedFor = grantor.DID
	}
	if opts.DateExpires.IsZero() {
		opts.DateExpires = opts.Timestamp.Add(24 * time.Hour)
	}
	scope := opts.Scope
	m := &message.Message{
		Descriptor: message.Descriptor{
			Interface:        message.InterfacePermissions,
			Method:           message.MethodGrant,
			MessageTimestamp: message.FormatTimestamp(opts.Timestamp),
			GrantedTo:        opts.GrantedTo,
			GrantedFor:       opts.GrantedFor,
			DateExpires:      message.FormatTimestamp(opts.DateExpires),
			Delegated:        opts.Delegated,
			Scope:            &scope,
			Conditions:       opts.Conditions,
		},
	}
	require.NoError(t, crypto.SignMessage(m, grantor.Signer, crypto.SignOptions{}))
	return m
}

// PermissionsRevoke builds a revocation of grantID.
func PermissionsRevoke(t testing.TB, p *Persona, grantID string, at time.Time) *message.Message {
	t.Helper()
	m := &message.Message{
		Descriptor: message.Descriptor{
			Interface:          message.InterfacePermissions,
			Method:             message.MethodRevoke,
			MessageTimestamp:   message.FormatTimestamp(at),
			PermissionsGrantID: grantID,
		},
	}
	require.NoError(t, crypto.SignMessage(m, p.Signer, crypto.SignOptions{}))
	return m
}

// MustCID returns the CID of m.
func MustCID(t testing.TB, m *message.Message) string {
	t.Helper()
	c, err := message.CID(m)
	require.NoError(t, err)
	return c
}
