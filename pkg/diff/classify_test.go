package diff_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covenant-data/covenant/pkg/diff"
	"github.com/covenant-data/covenant/pkg/model"
	"github.com/covenant-data/covenant/pkg/schema"
)

func TestBreaks_Directions(t *testing.T) {
	tests := []struct {
		change   diff.Change
		backward bool
		forward  bool
	}{
		{diff.Change{Kind: diff.PropertyAdded}, false, true},
		{diff.Change{Kind: diff.PropertyAdded, Required: true}, true, true},
		{diff.Change{Kind: diff.PropertyRemoved}, true, false},
		{diff.Change{Kind: diff.RequiredAdded}, true, false},
		{diff.Change{Kind: diff.RequiredRemoved}, false, true},
		{diff.Change{Kind: diff.TypeWidened}, false, true},
		{diff.Change{Kind: diff.TypeNarrowed}, true, false},
		{diff.Change{Kind: diff.TypeChanged}, true, true},
		{diff.Change{Kind: diff.EnumValuesAdded}, false, true},
		{diff.Change{Kind: diff.EnumValuesRemoved}, true, false},
		{diff.Change{Kind: diff.EnumValuesChanged}, true, true},
		{diff.Change{Kind: diff.ConstraintTightened}, true, false},
		{diff.Change{Kind: diff.ConstraintRelaxed}, false, true},
		{diff.Change{Kind: diff.NullableAdded}, false, true},
		{diff.Change{Kind: diff.NullableRemoved}, true, false},
		{diff.Change{Kind: diff.DefaultAdded}, false, false},
		{diff.Change{Kind: diff.DefaultChanged}, false, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.change.Kind), func(t *testing.T) {
			assert.Equal(t, tt.backward, diff.Breaks(tt.change, model.CompatBackward), "backward")
			assert.Equal(t, tt.forward, diff.Breaks(tt.change, model.CompatForward), "forward")
			assert.Equal(t, tt.backward || tt.forward, diff.Breaks(tt.change, model.CompatFull), "full")
			assert.False(t, diff.Breaks(tt.change, model.CompatNone), "none")
		})
	}
}

func TestClassify_Severity(t *testing.T) {
	tests := []struct {
		name    string
		changes []diff.Change
		mode    model.CompatibilityMode
		want    model.ChangeType
	}{
		{
			name: "breaking change is major",
			changes: []diff.Change{
				{Kind: diff.PropertyRemoved, Path: "$.properties.x"},
			},
			mode: model.CompatBackward,
			want: model.ChangeMajor,
		},
		{
			name: "structural non-breaking change is minor",
			changes: []diff.Change{
				{Kind: diff.PropertyAdded, Path: "$.properties.x"},
			},
			mode: model.CompatBackward,
			want: model.ChangeMinor,
		},
		{
			name: "metadata-only change is patch",
			changes: []diff.Change{
				{Kind: diff.DefaultChanged, Path: "$.properties.x.default"},
			},
			mode: model.CompatBackward,
			want: model.ChangePatch,
		},
		{
			name:    "no changes is patch",
			changes: nil,
			mode:    model.CompatBackward,
			want:    model.ChangePatch,
		},
		{
			name: "none mode never majors, structure still minors",
			changes: []diff.Change{
				{Kind: diff.PropertyRemoved, Path: "$.properties.x"},
			},
			mode: model.CompatNone,
			want: model.ChangeMinor,
		},
		{
			name: "addition breaks forward mode",
			changes: []diff.Change{
				{Kind: diff.PropertyAdded, Path: "$.properties.x"},
			},
			mode: model.CompatForward,
			want: model.ChangeMajor,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := diff.Classify(tt.changes, tt.mode)
			assert.Equal(t, tt.want, result.Severity)
		})
	}
}

func TestClassify_BreakingSubset(t *testing.T) {
	changes := []diff.Change{
		{Kind: diff.PropertyAdded, Path: "$.properties.added"},
		{Kind: diff.PropertyRemoved, Path: "$.properties.removed"},
		{Kind: diff.DefaultChanged, Path: "$.properties.x.default"},
	}
	result := diff.Classify(changes, model.CompatBackward)

	assert.Equal(t, model.ChangeMajor, result.Severity)
	require.Len(t, result.Breaking, 1)
	assert.Equal(t, diff.PropertyRemoved, result.Breaking[0].Kind)
}

// End-to-end: the canonical field rename scenario. Renaming a required
// property surfaces as one removal and one required addition, both breaking
// under backward compatibility.
func TestClassify_FieldRename(t *testing.T) {
	old := schema.MustParse(`{
		"type": "object",
		"properties": {"user_id": {"type": "string"}},
		"required": ["user_id"]
	}`)
	new := schema.MustParse(`{
		"type": "object",
		"properties": {"userId": {"type": "string"}},
		"required": ["userId"]
	}`)

	result := diff.Classify(diff.Diff(old, new), model.CompatBackward)
	assert.Equal(t, model.ChangeMajor, result.Severity)
	require.Len(t, result.Breaking, 2)
}
