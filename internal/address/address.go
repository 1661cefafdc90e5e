// Package address names build targets and resolves queries over the build
// graph, such as finding the nearest ancestor target carrying a field.
package address

import (
	"fmt"
	"path"
	"strings"
)

// Address identifies a target: the directory declaring it and its name.
type Address struct {
	SpecPath string `json:"spec_path" yaml:"spec_path"`
	Name     string `json:"name" yaml:"name"`
}

// ParseAddress parses "dir/sub:name". A leading "//" is accepted. Without a
// ":name" part the name defaults to the last directory component.
func ParseAddress(spec string) (Address, error) {
	s := strings.TrimPrefix(spec, "//")
	dir, name, hasName := strings.Cut(s, ":")
	if strings.Contains(name, ":") {
		return Address{}, fmt.Errorf("invalid address %q: more than one ':'", spec)
	}
	if dir != "" {
		clean := path.Clean(dir)
		if strings.HasPrefix(clean, "/") || clean == ".." || strings.HasPrefix(clean, "../") {
			return Address{}, fmt.Errorf("invalid address %q: spec path must be relative to the build root", spec)
		}
		if clean == "." {
			clean = ""
		}
		dir = clean
	}
	if !hasName {
		name = path.Base(dir)
	}
	if name == "" || name == "." {
		return Address{}, fmt.Errorf("invalid address %q: missing target name", spec)
	}
	return Address{SpecPath: dir, Name: name}, nil
}

// MustParseAddress is like ParseAddress but panics on error.
func MustParseAddress(spec string) Address {
	a, err := ParseAddress(spec)
	if err != nil {
		panic(err)
	}
	return a
}

// String renders the address as "spec_path:name".
func (a Address) String() string {
	return a.SpecPath + ":" + a.Name
}

// Describe implements the engine's request description hook.
func (a Address) Describe() string {
	return a.String()
}

// Target is a named build target with its declared fields.
type Target struct {
	Address Address        `json:"address" yaml:"address"`
	Fields  map[string]any `json:"fields,omitempty" yaml:"fields,omitempty"`
}

// Has reports whether the target declares field.
func (t Target) Has(field string) bool {
	_, ok := t.Fields[field]
	return ok
}

// StringList returns field as a list of strings. A single string is
// returned as a one-element list.
func (t Target) StringList(field string) ([]string, error) {
	raw, ok := t.Fields[field]
	if !ok {
		return nil, fmt.Errorf("target %s has no field %q", t.Address, field)
	}
	switch v := raw.(type) {
	case string:
		return []string{v}, nil
	case []string:
		return v, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("target %s field %q: expected strings, got %T", t.Address, field, item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("target %s field %q: expected a list of strings, got %T", t.Address, field, raw)
	}
}

// Targets is an ordered collection of targets.
type Targets []Target
