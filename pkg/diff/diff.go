package diff

import (
	"encoding/json"
	"reflect"
	"sort"

	"github.com/covenant-data/covenant/pkg/schema"
)

// Diff walks two schema nodes and emits the ordered list of atomic changes.
// The traversal order is fixed: types, nullability, required names, then
// properties in lexicographic order (recursing into shared ones), enum,
// constraints in declaration order, default, items. Containment checks win
// over symmetric *_changed kinds: a widening is never also reported as
// changed.
func Diff(old, new *schema.Node) []Change {
	d := &differ{}
	d.node("$", old, new)
	return d.changes
}

type differ struct {
	changes []Change
}

func (d *differ) emit(c Change) {
	d.changes = append(d.changes, c)
}

func (d *differ) node(path string, old, new *schema.Node) {
	d.types(path, old, new)
	d.nullable(path, old, new)
	d.required(path, old, new)
	d.properties(path, old, new)
	d.enum(path, old, new)
	d.constraints(path, old, new)
	d.defaults(path, old, new)
	d.items(path, old, new)
}

// covers reports whether the type set admits t, treating "number" as a
// superset of "integer".
func covers(set []string, t string) bool {
	for _, s := range set {
		if s == t {
			return true
		}
		if s == "number" && t == "integer" {
			return true
		}
	}
	return false
}

// containsAll reports whether every type in sub is admitted by super. An
// empty set means "any type" and contains everything.
func containsAll(super, sub []string) bool {
	if len(super) == 0 {
		return true
	}
	if len(sub) == 0 {
		return false
	}
	for _, t := range sub {
		if !covers(super, t) {
			return false
		}
	}
	return true
}

func (d *differ) types(path string, old, new *schema.Node) {
	oldTypes := old.NonNullTypes()
	newTypes := new.NonNullTypes()

	newContainsOld := containsAll(newTypes, oldTypes)
	oldContainsNew := containsAll(oldTypes, newTypes)

	switch {
	case newContainsOld && oldContainsNew:
		// Equivalent sets.
	case newContainsOld:
		d.emit(Change{Path: path, Kind: TypeWidened, Old: oldTypes, New: newTypes})
	case oldContainsNew:
		d.emit(Change{Path: path, Kind: TypeNarrowed, Old: oldTypes, New: newTypes})
	default:
		d.emit(Change{Path: path, Kind: TypeChanged, Old: oldTypes, New: newTypes})
	}
}

func (d *differ) nullable(path string, old, new *schema.Node) {
	oldNull := old.EffectiveNullable()
	newNull := new.EffectiveNullable()
	switch {
	case !oldNull && newNull:
		d.emit(Change{Path: path, Kind: NullableAdded, Old: false, New: true})
	case oldNull && !newNull:
		d.emit(Change{Path: path, Kind: NullableRemoved, Old: true, New: false})
	}
}

func (d *differ) required(path string, old, new *schema.Node) {
	oldSet := old.RequiredSet()
	newSet := new.RequiredSet()

	// Required toggles are reported only for properties that exist on both
	// sides; additions and removals of whole properties carry the
	// required-ness on the property change itself.
	for _, name := range new.Required {
		if !oldSet[name] && old.Properties[name] != nil {
			d.emit(Change{Path: propertyPath(path, name), Kind: RequiredAdded, New: name})
		}
	}
	for _, name := range old.Required {
		if !newSet[name] && new.Properties[name] != nil {
			d.emit(Change{Path: propertyPath(path, name), Kind: RequiredRemoved, Old: name})
		}
	}
}

func (d *differ) properties(path string, old, new *schema.Node) {
	names := map[string]bool{}
	for name := range old.Properties {
		names[name] = true
	}
	for name := range new.Properties {
		names[name] = true
	}

	for _, name := range sortedKeys(names) {
		childPath := propertyPath(path, name)
		oldProp, inOld := old.Properties[name]
		newProp, inNew := new.Properties[name]
		switch {
		case inOld && inNew:
			d.node(childPath, oldProp, newProp)
		case inNew:
			d.emit(Change{Path: childPath, Kind: PropertyAdded, New: name, Required: new.IsRequired(name)})
		default:
			d.emit(Change{Path: childPath, Kind: PropertyRemoved, Old: name, Required: old.IsRequired(name)})
		}
	}
}

func (d *differ) enum(path string, old, new *schema.Node) {
	enumPath := path + ".enum"
	switch {
	case old.Enum == nil && new.Enum == nil:
		return
	case old.Enum == nil:
		// Introducing an enum restricts the permitted values.
		d.emit(Change{Path: enumPath, Kind: ConstraintTightened, New: new.Enum})
		return
	case new.Enum == nil:
		d.emit(Change{Path: enumPath, Kind: ConstraintRelaxed, Old: old.Enum})
		return
	}

	oldSet := valueSet(old.Enum)
	newSet := valueSet(new.Enum)

	onlyOld, onlyNew := 0, 0
	for k := range oldSet {
		if !newSet[k] {
			onlyOld++
		}
	}
	for k := range newSet {
		if !oldSet[k] {
			onlyNew++
		}
	}

	switch {
	case onlyOld == 0 && onlyNew == 0:
	case onlyOld == 0 && onlyNew > 0:
		d.emit(Change{Path: enumPath, Kind: EnumValuesAdded, Old: old.Enum, New: new.Enum})
	case onlyNew == 0 && onlyOld > 0:
		d.emit(Change{Path: enumPath, Kind: EnumValuesRemoved, Old: old.Enum, New: new.Enum})
	default:
		d.emit(Change{Path: enumPath, Kind: EnumValuesChanged, Old: old.Enum, New: new.Enum})
	}
}

// boundKind distinguishes lower bounds (tightened when raised) from upper
// bounds (tightened when lowered).
type boundKind int

const (
	lowerBound boundKind = iota
	upperBound
)

func (d *differ) constraints(path string, old, new *schema.Node) {
	d.numericBound(path+".minimum", lowerBound, old.Minimum, new.Minimum)
	d.numericBound(path+".maximum", upperBound, old.Maximum, new.Maximum)
	d.numericBound(path+".exclusiveMinimum", lowerBound, old.ExclusiveMinimum, new.ExclusiveMinimum)
	d.numericBound(path+".exclusiveMaximum", upperBound, old.ExclusiveMaximum, new.ExclusiveMaximum)
	d.intBound(path+".minLength", lowerBound, old.MinLength, new.MinLength)
	d.intBound(path+".maxLength", upperBound, old.MaxLength, new.MaxLength)
	d.intBound(path+".minItems", lowerBound, old.MinItems, new.MinItems)
	d.intBound(path+".maxItems", upperBound, old.MaxItems, new.MaxItems)
	d.pattern(path+".pattern", old.Pattern, new.Pattern)
}

func (d *differ) numericBound(path string, kind boundKind, old, new *float64) {
	switch {
	case old == nil && new == nil:
	case old == nil:
		d.emit(Change{Path: path, Kind: ConstraintTightened, New: *new})
	case new == nil:
		d.emit(Change{Path: path, Kind: ConstraintRelaxed, Old: *old})
	case *old == *new:
	case (kind == lowerBound && *new > *old) || (kind == upperBound && *new < *old):
		d.emit(Change{Path: path, Kind: ConstraintTightened, Old: *old, New: *new})
	default:
		d.emit(Change{Path: path, Kind: ConstraintRelaxed, Old: *old, New: *new})
	}
}

func (d *differ) intBound(path string, kind boundKind, old, new *int) {
	var of, nf *float64
	if old != nil {
		v := float64(*old)
		of = &v
	}
	if new != nil {
		v := float64(*new)
		nf = &v
	}
	d.numericBound(path, kind, of, nf)
}

// pattern changes are conservatively tightened unless identical: deciding
// whether one regular expression accepts a superset of another is not
// tractable in general.
func (d *differ) pattern(path string, old, new *string) {
	switch {
	case old == nil && new == nil:
	case old == nil:
		d.emit(Change{Path: path, Kind: ConstraintTightened, New: *new})
	case new == nil:
		d.emit(Change{Path: path, Kind: ConstraintRelaxed, Old: *old})
	case *old != *new:
		d.emit(Change{Path: path, Kind: ConstraintTightened, Old: *old, New: *new})
	}
}

func (d *differ) defaults(path string, old, new *schema.Node) {
	defaultPath := path + ".default"
	switch {
	case !old.HasDefault && !new.HasDefault:
	case !old.HasDefault:
		d.emit(Change{Path: defaultPath, Kind: DefaultAdded, New: new.Default})
	case !new.HasDefault:
		d.emit(Change{Path: defaultPath, Kind: DefaultRemoved, Old: old.Default})
	case !reflect.DeepEqual(old.Default, new.Default):
		d.emit(Change{Path: defaultPath, Kind: DefaultChanged, Old: old.Default, New: new.Default})
	}
}

func (d *differ) items(path string, old, new *schema.Node) {
	itemsPath := path + ".items"
	switch {
	case old.Items == nil && new.Items == nil:
	case old.Items == nil:
		d.emit(Change{Path: itemsPath, Kind: ConstraintTightened, New: "items schema added"})
	case new.Items == nil:
		d.emit(Change{Path: itemsPath, Kind: ConstraintRelaxed, Old: "items schema removed"})
	default:
		d.node(itemsPath, old.Items, new.Items)
	}
}

func propertyPath(parent, name string) string {
	return parent + ".properties." + name
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// valueSet keys enum members by their canonical JSON encoding so that
// composite values compare by structure.
func valueSet(values []any) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		b, err := json.Marshal(v)
		if err != nil {
			continue
		}
		set[string(b)] = true
	}
	return set
}
