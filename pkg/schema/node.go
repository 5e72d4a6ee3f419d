// Package schema provides the canonical in-memory model for a
// JSON-Schema-shaped document: parsing, local $ref resolution, structural
// validation, and canonical fingerprints for change detection.
package schema

import (
	"encoding/json"
	"sort"
)

// Node is one schema node in the canonical model. Unknown keys are preserved
// in Extra but ignored by the differ.
type Node struct {
	// Types is the normalized, sorted set of permitted JSON types
	// ("string", "integer", "number", "boolean", "object", "array", "null").
	Types []string

	Properties map[string]*Node
	Required   []string
	Items      *Node
	Enum       []any

	Minimum          *float64
	Maximum          *float64
	ExclusiveMinimum *float64
	ExclusiveMaximum *float64
	MinLength        *int
	MaxLength        *int
	MinItems         *int
	MaxItems         *int
	Pattern          *string

	Nullable    bool
	Default     any
	HasDefault  bool
	Format      string
	Description string

	Extra map[string]json.RawMessage
}

// HasType reports whether t is in the node's permitted type set.
func (n *Node) HasType(t string) bool {
	for _, x := range n.Types {
		if x == t {
			return true
		}
	}
	return false
}

// EffectiveNullable reports whether the node admits null, either through the
// nullable flag or through "null" in the permitted types.
func (n *Node) EffectiveNullable() bool {
	return n.Nullable || n.HasType("null")
}

// NonNullTypes returns the permitted types with "null" removed. Nullability
// is compared separately from the type set.
func (n *Node) NonNullTypes() []string {
	out := make([]string, 0, len(n.Types))
	for _, t := range n.Types {
		if t != "null" {
			out = append(out, t)
		}
	}
	return out
}

// RequiredSet returns the required property names as a set.
func (n *Node) RequiredSet() map[string]bool {
	set := make(map[string]bool, len(n.Required))
	for _, r := range n.Required {
		set[r] = true
	}
	return set
}

// IsRequired reports whether name appears in the node's required list.
func (n *Node) IsRequired(name string) bool {
	for _, r := range n.Required {
		if r == name {
			return true
		}
	}
	return false
}

// PropertyNames returns the property names in lexicographic order. The
// differ relies on this for deterministic traversal.
func (n *Node) PropertyNames() []string {
	names := make([]string, 0, len(n.Properties))
	for name := range n.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Empty reports whether the node constrains nothing: no types, properties,
// items, or enum. Used to decide the change type of an initial publish.
func (n *Node) Empty() bool {
	return n == nil || (len(n.Types) == 0 && len(n.Properties) == 0 && n.Items == nil && len(n.Enum) == 0)
}
