// Package diff compares two canonical schema documents and classifies the
// result under a compatibility mode. Diffing is pure and deterministic:
// properties are visited in lexicographic order and constraints in a fixed
// order, so repeated calls yield identical output.
package diff

// Kind is the typed category of a single atomic schema change.
type Kind string

const (
	PropertyAdded   Kind = "property_added"
	PropertyRemoved Kind = "property_removed"

	TypeWidened  Kind = "type_widened"
	TypeNarrowed Kind = "type_narrowed"
	TypeChanged  Kind = "type_changed"

	RequiredAdded   Kind = "required_added"
	RequiredRemoved Kind = "required_removed"

	EnumValuesAdded   Kind = "enum_values_added"
	EnumValuesRemoved Kind = "enum_values_removed"
	EnumValuesChanged Kind = "enum_values_changed"

	ConstraintTightened Kind = "constraint_tightened"
	ConstraintRelaxed   Kind = "constraint_relaxed"

	DefaultAdded   Kind = "default_added"
	DefaultRemoved Kind = "default_removed"
	DefaultChanged Kind = "default_changed"

	NullableAdded   Kind = "nullable_added"
	NullableRemoved Kind = "nullable_removed"
)

// Change is one atomic difference between two schemas. Path is a
// JSONPath-style pointer ("$.properties.id.items"). Old and New carry the
// differing values where meaningful. Required is set on property_added when
// the new property is listed in the parent's required set; the classifier
// treats required additions as breaking under backward compatibility.
type Change struct {
	Path     string `json:"path"`
	Kind     Kind   `json:"kind"`
	Old      any    `json:"old,omitempty"`
	New      any    `json:"new,omitempty"`
	Required bool   `json:"required,omitempty"`
}

// Structural reports whether the change alters the shape of the data rather
// than a constraint or default. Structural non-breaking changes classify as
// minor; the rest as patch.
func (c Change) Structural() bool {
	switch c.Kind {
	case PropertyAdded, PropertyRemoved,
		RequiredAdded, RequiredRemoved,
		TypeWidened, TypeNarrowed, TypeChanged,
		EnumValuesAdded, EnumValuesRemoved, EnumValuesChanged,
		NullableAdded, NullableRemoved:
		return true
	}
	return false
}
