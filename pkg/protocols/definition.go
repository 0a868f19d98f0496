// Package protocols holds protocol definitions and the rule engine that
// authorizes actions on protocol records.
package protocols

import (
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strings"
)

// Can is an action a rule permits.
type Can string

const (
	CanCreate    Can = "create"
	CanRead      Can = "read"
	CanQuery     Can = "query"
	CanSubscribe Can = "subscribe"
	CanUpdate    Can = "update"
	CanDelete    Can = "delete"
	CanPrune     Can = "prune"
	CanCoUpdate  Can = "co-update"
	CanCoDelete  Can = "co-delete"
	CanCoPrune   Can = "co-prune"
)

var knownCans = map[Can]bool{
	CanCreate: true, CanRead: true, CanQuery: true, CanSubscribe: true,
	CanUpdate: true, CanDelete: true, CanPrune: true,
	CanCoUpdate: true, CanCoDelete: true, CanCoPrune: true,
}

// Actor kinds of a rule.
const (
	WhoAnyone    = "anyone"
	WhoAuthor    = "author"
	WhoRecipient = "recipient"
)

// Definition is the body of a ProtocolsConfigure.
type Definition struct {
	Protocol  string              `json:"protocol"`
	Published bool                `json:"published"`
	Types     map[string]Type     `json:"types"`
	Structure map[string]*RuleSet `json:"structure"`
}

// Type declares the schema and data formats of a record type.
type Type struct {
	Schema      string   `json:"schema,omitempty"`
	DataFormats []string `json:"dataFormats,omitempty"`
}

// Action is one $actions entry. Exactly one of Who and Role is set.
type Action struct {
	Who  string `json:"who,omitempty"`
	Of   string `json:"of,omitempty"`
	Role string `json:"role,omitempty"`
	Can  []Can  `json:"can"`
}

// Size bounds dataSize in bytes. Nil bounds are open.
type Size struct {
	Min *int64 `json:"min,omitempty"`
	Max *int64 `json:"max,omitempty"`
}

// RuleSet is a node of the structure tree. Child types are keyed inline next
// to the $-prefixed directives.
type RuleSet struct {
	Actions  []Action
	Role     bool
	Size     *Size
	Tags     *Tags
	Children map[string]*RuleSet
}

func (r *RuleSet) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*r = RuleSet{}
	for key, value := range raw {
		var err error
		switch key {
		case "$actions":
			err = json.Unmarshal(value, &r.Actions)
		case "$role":
			err = json.Unmarshal(value, &r.Role)
		case "$size":
			err = json.Unmarshal(value, &r.Size)
		case "$tags":
			err = json.Unmarshal(value, &r.Tags)
		default:
			if strings.HasPrefix(key, "$") {
				return fmt.Errorf("protocols: unknown directive %q", key)
			}
			child := &RuleSet{}
			if err = json.Unmarshal(value, child); err == nil {
				if r.Children == nil {
					r.Children = make(map[string]*RuleSet)
				}
				r.Children[key] = child
			}
		}
		if err != nil {
			return fmt.Errorf("protocols: %s: %w", key, err)
		}
	}
	return nil
}

func (r RuleSet) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Children)+4)
	if len(r.Actions) > 0 {
		out["$actions"] = r.Actions
	}
	if r.Role {
		out["$role"] = true
	}
	if r.Size != nil {
		out["$size"] = r.Size
	}
	if r.Tags != nil {
		out["$tags"] = r.Tags
	}
	for k, v := range r.Children {
		out[k] = v
	}
	return json.Marshal(out)
}

// Tags constrains the tags of a record type. Properties maps a tag name to
// the JSON schema its value must satisfy.
type Tags struct {
	Required       []string
	AllowUndefined bool
	Properties     map[string]json.RawMessage
}

func (t *Tags) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*t = Tags{Properties: make(map[string]json.RawMessage)}
	for key, value := range raw {
		var err error
		switch key {
		case "$requiredTags":
			err = json.Unmarshal(value, &t.Required)
		case "$allowUndefinedTags":
			err = json.Unmarshal(value, &t.AllowUndefined)
		default:
			t.Properties[key] = value
		}
		if err != nil {
			return fmt.Errorf("protocols: $tags.%s: %w", key, err)
		}
	}
	return nil
}

func (t Tags) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(t.Properties)+2)
	if len(t.Required) > 0 {
		out["$requiredTags"] = t.Required
	}
	if t.AllowUndefined {
		out["$allowUndefinedTags"] = true
	}
	for k, v := range t.Properties {
		out[k] = v
	}
	return json.Marshal(out)
}

// Parse decodes a definition.
func Parse(raw json.RawMessage) (*Definition, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty definition", ErrInvalidDefinition)
	}
	var def Definition
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	return &def, nil
}

// Lookup returns the rule set at a slash-separated protocol path.
func Lookup(def *Definition, path string) (*RuleSet, bool) {
	if def == nil || path == "" {
		return nil, false
	}
	segments := strings.Split(path, "/")
	rs, ok := def.Structure[segments[0]]
	for _, seg := range segments[1:] {
		if !ok || rs == nil {
			return nil, false
		}
		rs, ok = rs.Children[seg]
	}
	return rs, ok && rs != nil
}

// AllowsRecipient reports whether rs lets the recipient of a record perform
// can on it.
func (r *RuleSet) AllowsRecipient(can Can) bool {
	for _, rule := range r.Actions {
		if rule.Who == WhoRecipient && rule.Of == "" && slices.Contains(rule.Can, can) {
			return true
		}
	}
	return false
}

// TypeName returns the record type named by the last segment of path.
func TypeName(path string) string {
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}

// walk visits every rule set with its path, parents before children, in
// sorted key order.
func walk(children map[string]*RuleSet, prefix string, fn func(path string, rs *RuleSet) error) error {
	keys := make([]string, 0, len(children))
	for k := range children {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		path := k
		if prefix != "" {
			path = prefix + "/" + k
		}
		rs := children[k]
		if rs == nil {
			return fmt.Errorf("%w: %s has no rule set", ErrInvalidDefinition, path)
		}
		if err := fn(path, rs); err != nil {
			return err
		}
		if err := walk(rs.Children, path, fn); err != nil {
			return err
		}
	}
	return nil
}
