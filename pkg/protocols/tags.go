package protocols

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Mindburn-Labs/dwn-core/pkg/decision"
)

func compileTagSchema(path, name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := fmt.Sprintf("https://dwn.schemas.local/tags/%s/%s.schema.json", path, name)
	if err := c.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("tag schema load failed: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("tag schema compile failed: %w", err)
	}
	return compiled, nil
}

// checkTags validates record tags against the $tags directive.
func checkTags(path string, t *Tags, tags map[string]any) decision.Decision {
	if t == nil {
		return decision.Allow()
	}
	for _, name := range t.Required {
		if _, ok := tags[name]; !ok {
			return decision.Deny(decision.ReasonTagMismatch, "required tag %q is missing", name)
		}
	}

	names := make([]string, 0, len(tags))
	for name := range tags {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		raw, ok := t.Properties[name]
		if !ok {
			if t.AllowUndefined {
				continue
			}
			return decision.Deny(decision.ReasonTagMismatch, "tag %q is not defined", name)
		}
		schema, err := compileTagSchema(path, name, raw)
		if err != nil {
			return decision.Deny(decision.ReasonTagMismatch, "tag %q: %v", name, err)
		}
		value, err := jsonValue(tags[name])
		if err != nil {
			return decision.Deny(decision.ReasonTagMismatch, "tag %q: %v", name, err)
		}
		if err := schema.Validate(value); err != nil {
			return decision.Deny(decision.ReasonTagMismatch, "tag %q: %v", name, err)
		}
	}
	return decision.Allow()
}

// jsonValue converts v to the generic form the schema validator expects.
func jsonValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}
