package protocols

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidDefinition is returned for a definition that cannot be
// configured.
var ErrInvalidDefinition = errors.New("protocols: invalid definition")

// ValidateDefinition checks the internal consistency of def.
func ValidateDefinition(def *Definition) error {
	if def == nil {
		return fmt.Errorf("%w: missing", ErrInvalidDefinition)
	}
	if def.Protocol == "" {
		return fmt.Errorf("%w: protocol is required", ErrInvalidDefinition)
	}
	if len(def.Structure) == 0 {
		return fmt.Errorf("%w: structure is empty", ErrInvalidDefinition)
	}

	roles := make(map[string]bool)
	if err := walk(def.Structure, "", func(path string, rs *RuleSet) error {
		if _, ok := def.Types[TypeName(path)]; !ok {
			return fmt.Errorf("%w: type %q at %s is not declared", ErrInvalidDefinition, TypeName(path), path)
		}
		if rs.Role {
			roles[path] = true
		}
		return nil
	}); err != nil {
		return err
	}

	return walk(def.Structure, "", func(path string, rs *RuleSet) error {
		if err := validateSize(path, rs.Size); err != nil {
			return err
		}
		if err := validateTags(path, rs.Tags); err != nil {
			return err
		}
		for i, a := range rs.Actions {
			if err := validateAction(def, roles, path, a); err != nil {
				return fmt.Errorf("%w (%s $actions[%d])", err, path, i)
			}
		}
		return nil
	})
}

func validateAction(def *Definition, roles map[string]bool, path string, a Action) error {
	if len(a.Can) == 0 {
		return fmt.Errorf("%w: action permits nothing", ErrInvalidDefinition)
	}
	for _, c := range a.Can {
		if !knownCans[c] {
			return fmt.Errorf("%w: unknown action %q", ErrInvalidDefinition, c)
		}
	}

	switch {
	case a.Role != "" && a.Who != "":
		return fmt.Errorf("%w: who and role are exclusive", ErrInvalidDefinition)
	case a.Role != "":
		if !roles[a.Role] {
			return fmt.Errorf("%w: role %q is not a $role path", ErrInvalidDefinition, a.Role)
		}
		// A context role must share the context of the records it governs.
		if i := strings.LastIndex(a.Role, "/"); i >= 0 {
			parent := a.Role[:i]
			if path != parent && !strings.HasPrefix(path, parent+"/") {
				return fmt.Errorf("%w: role %q is not in the context of %s", ErrInvalidDefinition, a.Role, path)
			}
		}
		return nil
	}

	switch a.Who {
	case WhoAnyone:
		if a.Of != "" {
			return fmt.Errorf("%w: who=anyone cannot have of", ErrInvalidDefinition)
		}
	case WhoAuthor, WhoRecipient:
		if a.Who == WhoAuthor && a.Of == "" {
			return fmt.Errorf("%w: who=author requires of", ErrInvalidDefinition)
		}
		if a.Of != "" {
			if _, ok := Lookup(def, a.Of); !ok {
				return fmt.Errorf("%w: of path %q does not exist", ErrInvalidDefinition, a.Of)
			}
			if a.Of != path && !strings.HasPrefix(path, a.Of+"/") {
				return fmt.Errorf("%w: of path %q is not an ancestor of %s", ErrInvalidDefinition, a.Of, path)
			}
		}
	default:
		return fmt.Errorf("%w: unknown who %q", ErrInvalidDefinition, a.Who)
	}
	return nil
}

func validateSize(path string, s *Size) error {
	if s == nil {
		return nil
	}
	if (s.Min != nil && *s.Min < 0) || (s.Max != nil && *s.Max < 0) {
		return fmt.Errorf("%w: %s $size bounds must not be negative", ErrInvalidDefinition, path)
	}
	if s.Min != nil && s.Max != nil && *s.Min > *s.Max {
		return fmt.Errorf("%w: %s $size min %d exceeds max %d", ErrInvalidDefinition, path, *s.Min, *s.Max)
	}
	return nil
}

func validateTags(path string, t *Tags) error {
	if t == nil {
		return nil
	}
	for _, name := range t.Required {
		if _, ok := t.Properties[name]; !ok && !t.AllowUndefined {
			return fmt.Errorf("%w: %s required tag %q is not defined", ErrInvalidDefinition, path, name)
		}
	}
	for name, raw := range t.Properties {
		if _, err := compileTagSchema(path, name, raw); err != nil {
			return fmt.Errorf("%w: %s tag %q: %v", ErrInvalidDefinition, path, name, err)
		}
	}
	return nil
}
