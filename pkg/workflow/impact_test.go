package workflow_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covenant-data/covenant/pkg/errs"
	"github.com/covenant-data/covenant/pkg/model"
	"github.com/covenant-data/covenant/pkg/workflow"
)

func TestImpact_NoCurrentContract(t *testing.T) {
	e := newEnv(t)

	report, err := e.svc.Impact(context.Background(), e.asset.ID, json.RawMessage(baseSchema), nil)
	require.NoError(t, err)

	assert.True(t, report.SafeToPublish)
	assert.Equal(t, model.ChangeMajor, report.ChangeType)
	assert.Nil(t, report.CurrentVersion)
	assert.Empty(t, report.ImpactedConsumers)
	assert.Equal(t, "1.0.0", report.Suggestion.SuggestedVersion)
	assert.True(t, report.Suggestion.IsFirstContract)
}

func TestImpact_BreakingChange(t *testing.T) {
	e := newEnv(t)
	e.publish(t, baseSchema)
	pinned := "1.0.0"
	consumer := e.createTeam(t, "consumers")
	_, err := e.svc.RegisterConsumer(context.Background(), workflow.RegisterInput{
		AssetID: e.asset.ID, ConsumerTeamID: consumer.ID, PinnedVersion: &pinned,
	})
	require.NoError(t, err)

	report, err := e.svc.Impact(context.Background(), e.asset.ID, json.RawMessage(breakingSchema), nil)
	require.NoError(t, err)

	assert.False(t, report.SafeToPublish)
	assert.Equal(t, model.ChangeMajor, report.ChangeType)
	require.NotNil(t, report.CurrentVersion)
	assert.Equal(t, "1.0.0", *report.CurrentVersion)
	assert.NotEmpty(t, report.BreakingChanges)
	assert.Equal(t, "2.0.0", report.Suggestion.SuggestedVersion)

	require.Len(t, report.ImpactedConsumers, 1)
	impacted := report.ImpactedConsumers[0]
	assert.Equal(t, consumer.ID, impacted.TeamID)
	require.NotNil(t, impacted.PinnedVersion)
	assert.Equal(t, "1.0.0", *impacted.PinnedVersion)

	// Dry run: no proposal was opened and the contract is untouched.
	proposals, err := e.svc.ListProposals(context.Background(), proposalFilter(e.asset.ID, nil))
	require.NoError(t, err)
	assert.Empty(t, proposals)
}

func TestImpact_SafeChange(t *testing.T) {
	e := newEnv(t)
	e.publish(t, baseSchema)

	report, err := e.svc.Impact(context.Background(), e.asset.ID, json.RawMessage(minorSchema), nil)
	require.NoError(t, err)

	assert.True(t, report.SafeToPublish)
	assert.Equal(t, model.ChangeMinor, report.ChangeType)
	assert.Equal(t, "1.1.0", report.Suggestion.SuggestedVersion)
}

func TestImpact_ModeOverride(t *testing.T) {
	e := newEnv(t)
	e.publish(t, baseSchema)

	// Adding an optional property is safe backward but breaks forward.
	forward := model.CompatForward
	report, err := e.svc.Impact(context.Background(), e.asset.ID, json.RawMessage(minorSchema), &forward)
	require.NoError(t, err)
	assert.False(t, report.SafeToPublish)
	assert.Equal(t, model.ChangeMajor, report.ChangeType)
}

func TestCompare(t *testing.T) {
	e := newEnv(t)

	report, err := e.svc.Compare(context.Background(),
		json.RawMessage(baseSchema), json.RawMessage(breakingSchema), model.CompatBackward)
	require.NoError(t, err)

	assert.False(t, report.Compatible)
	assert.Equal(t, model.ChangeMajor, report.ChangeType)
	assert.NotEmpty(t, report.BreakingChanges)

	report, err = e.svc.Compare(context.Background(),
		json.RawMessage(baseSchema), json.RawMessage(minorSchema), model.CompatBackward)
	require.NoError(t, err)
	assert.True(t, report.Compatible)
	assert.Equal(t, model.ChangeMinor, report.ChangeType)
}

func TestCompare_InvalidMode(t *testing.T) {
	e := newEnv(t)
	_, err := e.svc.Compare(context.Background(),
		json.RawMessage(baseSchema), json.RawMessage(minorSchema), model.CompatibilityMode("sideways"))
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindValidation))
}

func TestDownstream(t *testing.T) {
	e := newEnv(t)
	mart := e.createAsset(t, e.producer.ID, "warehouse.orders_mart")
	report := e.createAsset(t, e.producer.ID, "analytics.orders_report")
	side := e.createAsset(t, e.producer.ID, "analytics.unrelated")
	_ = side

	ctx := context.Background()
	require.NoError(t, e.svc.AddDependency(ctx, e.asset.ID, mart.ID))
	require.NoError(t, e.svc.AddDependency(ctx, mart.ID, report.ID))

	result, err := e.svc.Downstream(ctx, e.asset.ID, 0)
	require.NoError(t, err)
	require.Len(t, result.Impacts, 2)
	assert.Equal(t, mart.ID, result.Impacts[0].AssetID)
	assert.Equal(t, 1, result.Impacts[0].Depth)
	assert.Equal(t, report.ID, result.Impacts[1].AssetID)
	assert.Equal(t, 2, result.Impacts[1].Depth)
	assert.Equal(t, workflow.MaxDownstreamDepth, result.MaxDepth)
	assert.False(t, result.Truncated)
}

func TestDownstream_DepthCapTruncates(t *testing.T) {
	e := newEnv(t)
	mart := e.createAsset(t, e.producer.ID, "warehouse.orders_mart")
	report := e.createAsset(t, e.producer.ID, "analytics.orders_report")

	ctx := context.Background()
	require.NoError(t, e.svc.AddDependency(ctx, e.asset.ID, mart.ID))
	require.NoError(t, e.svc.AddDependency(ctx, mart.ID, report.ID))

	result, err := e.svc.Downstream(ctx, e.asset.ID, 1)
	require.NoError(t, err)
	require.Len(t, result.Impacts, 1)
	assert.Equal(t, mart.ID, result.Impacts[0].AssetID)
	assert.Equal(t, 1, result.MaxDepth)
	assert.True(t, result.Truncated, "assets past the depth limit should flag truncation")

	// A limit deep enough to cover the whole graph reports no truncation.
	result, err = e.svc.Downstream(ctx, e.asset.ID, 2)
	require.NoError(t, err)
	require.Len(t, result.Impacts, 2)
	assert.False(t, result.Truncated)
}

func TestDownstream_DepthOutOfRangeUsesDefault(t *testing.T) {
	e := newEnv(t)
	mart := e.createAsset(t, e.producer.ID, "warehouse.orders_mart")

	ctx := context.Background()
	require.NoError(t, e.svc.AddDependency(ctx, e.asset.ID, mart.ID))

	result, err := e.svc.Downstream(ctx, e.asset.ID, workflow.MaxDownstreamDepth+5)
	require.NoError(t, err)
	assert.Equal(t, workflow.MaxDownstreamDepth, result.MaxDepth)
	require.Len(t, result.Impacts, 1)
}

func TestDownstream_CycleTerminates(t *testing.T) {
	e := newEnv(t)
	other := e.createAsset(t, e.producer.ID, "warehouse.enriched_orders")

	ctx := context.Background()
	require.NoError(t, e.svc.AddDependency(ctx, e.asset.ID, other.ID))
	require.NoError(t, e.svc.AddDependency(ctx, other.ID, e.asset.ID))

	result, err := e.svc.Downstream(ctx, e.asset.ID, 0)
	require.NoError(t, err)
	require.Len(t, result.Impacts, 1)
	assert.Equal(t, other.ID, result.Impacts[0].AssetID)
	assert.False(t, result.Truncated)
}

func TestAddDependency_SelfEdgeRejected(t *testing.T) {
	e := newEnv(t)
	err := e.svc.AddDependency(context.Background(), e.asset.ID, e.asset.ID)
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindValidation))
}

func TestDownstream_UnknownAsset(t *testing.T) {
	e := newEnv(t)
	_, err := e.svc.Downstream(context.Background(), uuid.New(), 0)
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindNotFound))
}
