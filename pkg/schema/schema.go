// Package schema validates the shape of every message kind before any
// signature or authorization work is done.
package schema

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Mindburn-Labs/dwn-core/pkg/message"
)

// ErrInvalid wraps every shape violation.
var ErrInvalid = errors.New("schema: invalid message")

const baseURL = "https://dwn.schemas.local/"

//go:embed schemas/*.json
var files embed.FS

var kindFiles = map[message.Kind]string{
	message.KindRecordsWrite:       "records-write.json",
	message.KindRecordsRead:        "records-read.json",
	message.KindRecordsQuery:       "records-query.json",
	message.KindRecordsSubscribe:   "records-subscribe.json",
	message.KindRecordsDelete:      "records-delete.json",
	message.KindProtocolsConfigure: "protocols-configure.json",
	message.KindProtocolsQuery:     "protocols-query.json",
	message.KindPermissionsGrant:   "permissions-grant.json",
	message.KindPermissionsRevoke:  "permissions-revoke.json",
	message.KindMessagesGet:        "messages-get.json",
	message.KindMessagesQuery:      "messages-query.json",
}

// Validator holds the compiled schema of each message kind.
type Validator struct {
	schemas map[message.Kind]*jsonschema.Schema
}

// NewValidator compiles the embedded schemas.
func NewValidator() (*Validator, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020

	entries, err := files.ReadDir("schemas")
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		raw, err := files.ReadFile("schemas/" + e.Name())
		if err != nil {
			return nil, err
		}
		if err := c.AddResource(baseURL+e.Name(), bytes.NewReader(raw)); err != nil {
			return nil, fmt.Errorf("schema: add %s: %w", e.Name(), err)
		}
	}

	v := &Validator{schemas: make(map[message.Kind]*jsonschema.Schema, len(kindFiles))}
	for kind, name := range kindFiles {
		compiled, err := c.Compile(baseURL + name)
		if err != nil {
			return nil, fmt.Errorf("schema: compile %s: %w", name, err)
		}
		v.schemas[kind] = compiled
	}
	return v, nil
}

// MustNewValidator is NewValidator for package initialization and tests.
func MustNewValidator() *Validator {
	v, err := NewValidator()
	if err != nil {
		panic(err)
	}
	return v
}

// Validate checks m against the schema of its kind.
func (v *Validator) Validate(m *message.Message) error {
	kind := m.Kind()
	s, ok := v.schemas[kind]
	if !ok {
		return fmt.Errorf("%w: unsupported %s%s", ErrInvalid, m.Descriptor.Interface, m.Descriptor.Method)
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := s.Validate(doc); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalid, kind, err)
	}
	return nil
}
