package versioning_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covenant-data/covenant/pkg/errs"
	"github.com/covenant-data/covenant/pkg/model"
	"github.com/covenant-data/covenant/pkg/versioning"
)

func TestParse(t *testing.T) {
	tests := []struct {
		version string
		wantErr bool
	}{
		{"1.0.0", false},
		{"v2.3.4", false},
		{"2.0.0-rc.1", false},
		{"1.0.0+build.5", false},
		{"1.0", true},
		{"1", true},
		{"not-a-version", true},
		{"", true},
	}
	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			_, err := versioning.Parse(tt.version)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errs.IsKind(err, errs.KindValidation))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMustIncrease(t *testing.T) {
	assert.NoError(t, versioning.MustIncrease("1.0.0", "1.0.1"))
	assert.NoError(t, versioning.MustIncrease("1.9.0", "1.10.0"))
	assert.NoError(t, versioning.MustIncrease("1.0.0-rc.1", "1.0.0"))

	err := versioning.MustIncrease("2.0.0", "2.0.0")
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindConflict))

	err = versioning.MustIncrease("2.0.0", "1.9.9")
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindConflict))
}

func TestIsPrerelease(t *testing.T) {
	assert.True(t, versioning.IsPrerelease("2.0.0-rc.1"))
	assert.True(t, versioning.IsPrerelease("2.0.0-beta"))
	assert.False(t, versioning.IsPrerelease("2.0.0"))
	assert.False(t, versioning.IsPrerelease("2.0.0+build.12"))
	assert.False(t, versioning.IsPrerelease("garbage"))
}

func TestIsGraduation(t *testing.T) {
	assert.True(t, versioning.IsGraduation("2.0.0-rc.1", "2.0.0"))
	assert.False(t, versioning.IsGraduation("2.0.0-rc.1", "2.0.1"))
	assert.False(t, versioning.IsGraduation("2.0.0-rc.1", "2.0.0-rc.2"))
	assert.False(t, versioning.IsGraduation("2.0.0", "2.0.1"))
}

func TestSuggest(t *testing.T) {
	t.Run("first contract", func(t *testing.T) {
		s := versioning.Suggest(nil, model.ChangeMajor)
		assert.Equal(t, versioning.InitialVersion, s.SuggestedVersion)
		assert.True(t, s.IsFirstContract)
	})

	current := "1.2.3"
	tests := []struct {
		severity model.ChangeType
		want     string
	}{
		{model.ChangeMajor, "2.0.0"},
		{model.ChangeMinor, "1.3.0"},
		{model.ChangePatch, "1.2.4"},
	}
	for _, tt := range tests {
		t.Run(string(tt.severity), func(t *testing.T) {
			s := versioning.Suggest(&current, tt.severity)
			assert.Equal(t, tt.want, s.SuggestedVersion)
			assert.Equal(t, tt.severity, s.ChangeType)
			assert.NotEmpty(t, s.Reason)
		})
	}

	t.Run("malformed current falls back", func(t *testing.T) {
		bad := "not-semver"
		s := versioning.Suggest(&bad, model.ChangeMinor)
		assert.Equal(t, "1.1.0", s.SuggestedVersion)
	})
}
