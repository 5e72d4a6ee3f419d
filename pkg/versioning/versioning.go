// Package versioning is the single source of truth for contract version
// semantics: parsing, ordering, pre-release handling, and next-version
// suggestions derived from schema diffs.
package versioning

import (
	"fmt"

	"github.com/Masterminds/semver/v3"

	"github.com/covenant-data/covenant/pkg/errs"
	"github.com/covenant-data/covenant/pkg/model"
)

// InitialVersion is assigned to the first contract published for an asset
// when the publisher does not supply one.
const InitialVersion = "1.0.0"

// Parse parses a strict semantic version. A leading "v" is accepted.
func Parse(version string) (*semver.Version, error) {
	v, err := semver.StrictNewVersion(trimV(version))
	if err != nil {
		return nil, errs.Wrap(errs.KindValidation, err, fmt.Sprintf("invalid semantic version %q", version))
	}
	return v, nil
}

func trimV(version string) string {
	if len(version) > 0 && (version[0] == 'v' || version[0] == 'V') {
		return version[1:]
	}
	return version
}

// MustIncrease verifies that proposed is strictly greater than current.
// Invariant: contract versions within an asset are strictly monotonic.
func MustIncrease(current, proposed string) error {
	cur, err := Parse(current)
	if err != nil {
		return err
	}
	next, err := Parse(proposed)
	if err != nil {
		return err
	}
	if !next.GreaterThan(cur) {
		return errs.Newf(errs.KindConflict, "version must strictly increase: %s is not greater than current %s", proposed, current)
	}
	return nil
}

// IsPrerelease reports whether the version carries a pre-release tag
// ("2.0.0-rc.1"). Build metadata alone does not make a pre-release.
func IsPrerelease(version string) bool {
	v, err := Parse(version)
	if err != nil {
		return false
	}
	return v.Prerelease() != ""
}

// BaseVersion returns "X.Y.Z" with pre-release and build metadata stripped.
func BaseVersion(version string) string {
	v, err := Parse(version)
	if err != nil {
		return version
	}
	return fmt.Sprintf("%d.%d.%d", v.Major(), v.Minor(), v.Patch())
}

// IsGraduation reports whether publishing next graduates current from a
// pre-release to its stable release: current is a pre-release, next is not,
// and the base versions match ("1.0.0-rc.1" -> "1.0.0").
func IsGraduation(current, next string) bool {
	if !IsPrerelease(current) || IsPrerelease(next) {
		return false
	}
	return BaseVersion(current) == BaseVersion(next)
}

// Suggestion explains the next version the diff implies.
type Suggestion struct {
	SuggestedVersion string           `json:"suggested_version"`
	CurrentVersion   *string          `json:"current_version"`
	ChangeType       model.ChangeType `json:"change_type"`
	Reason           string           `json:"reason"`
	IsFirstContract  bool             `json:"is_first_contract"`
}

// Suggest computes the next version for an asset given its current version
// (nil for the first contract) and the classified severity of the diff.
// Malformed stored versions fall back to a fresh 1.0.0 line rather than
// failing the suggestion flow.
func Suggest(current *string, severity model.ChangeType) Suggestion {
	if current == nil {
		return Suggestion{
			SuggestedVersion: InitialVersion,
			ChangeType:       model.ChangePatch,
			Reason:           "first contract for this asset",
			IsFirstContract:  true,
		}
	}

	v, err := Parse(*current)
	if err != nil {
		v = semver.New(1, 0, 0, "", "")
	}

	var next semver.Version
	var reason string
	switch severity {
	case model.ChangeMajor:
		next = v.IncMajor()
		reason = "breaking change detected, major version bump required"
	case model.ChangeMinor:
		next = v.IncMinor()
		reason = "backward-compatible schema additions, minor version bump"
	default:
		next = v.IncPatch()
		reason = "no structural schema changes, patch version bump"
	}

	return Suggestion{
		SuggestedVersion: next.String(),
		CurrentVersion:   current,
		ChangeType:       severity,
		Reason:           reason,
	}
}
