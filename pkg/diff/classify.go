package diff

import (
	"github.com/covenant-data/covenant/pkg/model"
)

// Result is the classification of a change list under a compatibility mode.
// Severity is major iff Breaking is non-empty; minor when any non-breaking
// change is structural; patch otherwise.
type Result struct {
	Severity model.ChangeType `json:"severity"`
	Breaking []Change         `json:"breaking"`
}

// Classify folds a change list into a severity and the subset of changes
// that are breaking under the given mode.
func Classify(changes []Change, mode model.CompatibilityMode) Result {
	breaking := make([]Change, 0)
	structural := false

	for _, c := range changes {
		if Breaks(c, mode) {
			breaking = append(breaking, c)
		} else if c.Structural() {
			structural = true
		}
	}

	switch {
	case len(breaking) > 0:
		return Result{Severity: model.ChangeMajor, Breaking: breaking}
	case structural:
		return Result{Severity: model.ChangeMinor, Breaking: breaking}
	default:
		return Result{Severity: model.ChangePatch, Breaking: breaking}
	}
}

// Breaks reports whether a single change is breaking under mode.
//
// Backward compatibility means new readers can process old data: removals,
// narrowings, new requirements, and tightened constraints break it. Forward
// compatibility means old readers can process new data: additions, widenings,
// relaxed requirements, and new nullability break it. Full breaks on either
// direction; none breaks on nothing.
func Breaks(c Change, mode model.CompatibilityMode) bool {
	if mode == model.CompatNone {
		return false
	}
	backward, forward := directions(c)
	switch mode {
	case model.CompatBackward:
		return backward
	case model.CompatForward:
		return forward
	case model.CompatFull:
		return backward || forward
	}
	return false
}

// directions returns whether the change breaks backward and forward
// compatibility respectively.
func directions(c Change) (backward, forward bool) {
	switch c.Kind {
	case PropertyAdded:
		if c.Required {
			return true, true
		}
		return false, true
	case PropertyRemoved:
		return true, false
	case RequiredAdded:
		return true, false
	case RequiredRemoved:
		return false, true
	case TypeWidened:
		return false, true
	case TypeNarrowed:
		return true, false
	case TypeChanged:
		return true, true
	case EnumValuesAdded:
		return false, true
	case EnumValuesRemoved:
		return true, false
	case EnumValuesChanged:
		return true, true
	case ConstraintTightened:
		return true, false
	case ConstraintRelaxed:
		return false, true
	case NullableAdded:
		return false, true
	case NullableRemoved:
		return true, false
	case DefaultAdded, DefaultRemoved, DefaultChanged:
		return false, false
	}
	return false, false
}
