package workflow_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covenant-data/covenant/pkg/audit"
	"github.com/covenant-data/covenant/pkg/errs"
	"github.com/covenant-data/covenant/pkg/model"
	"github.com/covenant-data/covenant/pkg/notify"
	"github.com/covenant-data/covenant/pkg/store"
	"github.com/covenant-data/covenant/pkg/workflow"
)

func proposalFilter(assetID uuid.UUID, status *model.ProposalStatus) store.ProposalFilter {
	return store.ProposalFilter{AssetID: &assetID, Status: status}
}

// proposalEnv opens a breaking proposal with two registered consumers.
type proposalEnv struct {
	*env
	consumerA *model.Team
	consumerB *model.Team
	proposal  *model.Proposal
}

func newProposalEnv(t *testing.T) *proposalEnv {
	t.Helper()
	e := newEnv(t)
	e.publish(t, baseSchema)
	a := e.createTeam(t, "consumer-a")
	b := e.createTeam(t, "consumer-b")
	e.register(t, a.ID)
	e.register(t, b.ID)

	result := e.publish(t, breakingSchema)
	require.Equal(t, workflow.OutcomeProposalOpened, result.Outcome)
	return &proposalEnv{env: e, consumerA: a, consumerB: b, proposal: result.Proposal}
}

func (pe *proposalEnv) ack(t *testing.T, team uuid.UUID, response model.AckResponse) *workflow.AcknowledgeResult {
	t.Helper()
	result, err := pe.svc.Acknowledge(context.Background(), workflow.AcknowledgeInput{
		ProposalID:     pe.proposal.ID,
		ConsumerTeamID: team,
		Response:       response,
	})
	require.NoError(t, err)
	return result
}

func TestAcknowledge_PartialThenApproved(t *testing.T) {
	pe := newProposalEnv(t)

	first := pe.ack(t, pe.consumerA.ID, model.AckApproved)
	assert.Equal(t, model.ProposalPending, first.ProposalStatus)
	assert.Equal(t, []uuid.UUID{pe.consumerB.ID}, first.Outstanding)

	second := pe.ack(t, pe.consumerB.ID, model.AckApproved)
	assert.Equal(t, model.ProposalApproved, second.ProposalStatus)
	assert.Empty(t, second.Outstanding)

	resolved := pe.notifier.ofKind(notify.KindProposalResolved)
	require.Len(t, resolved, 1)
	assert.Equal(t, model.ProposalApproved, resolved[0].ProposalStatus)
}

func TestAcknowledge_MigratingCountsAsResponse(t *testing.T) {
	pe := newProposalEnv(t)
	deadline := testTime.Add(30 * 24 * time.Hour)

	_, err := pe.svc.Acknowledge(context.Background(), workflow.AcknowledgeInput{
		ProposalID:        pe.proposal.ID,
		ConsumerTeamID:    pe.consumerA.ID,
		Response:          model.AckMigrating,
		MigrationDeadline: &deadline,
		Notes:             "needs a backfill first",
	})
	require.NoError(t, err)

	result := pe.ack(t, pe.consumerB.ID, model.AckApproved)
	assert.Equal(t, model.ProposalApproved, result.ProposalStatus)
}

func TestAcknowledge_BlockRejects(t *testing.T) {
	pe := newProposalEnv(t)

	result := pe.ack(t, pe.consumerA.ID, model.AckBlocked)
	assert.Equal(t, model.ProposalRejected, result.ProposalStatus)

	// Once rejected, further acknowledgments are refused.
	_, err := pe.svc.Acknowledge(context.Background(), workflow.AcknowledgeInput{
		ProposalID:     pe.proposal.ID,
		ConsumerTeamID: pe.consumerB.ID,
		Response:       model.AckApproved,
	})
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindConflict))
}

func TestAcknowledge_ResponseChangeBeforeResolution(t *testing.T) {
	pe := newProposalEnv(t)

	pe.ack(t, pe.consumerA.ID, model.AckMigrating)
	// Changing their mind to blocked rejects the proposal.
	result := pe.ack(t, pe.consumerA.ID, model.AckBlocked)
	assert.Equal(t, model.ProposalRejected, result.ProposalStatus)

	acks, err := pe.st.Begin(context.Background())
	require.NoError(t, err)
	defer func() { _ = acks.Rollback() }()
	list, err := acks.ListAcknowledgments(context.Background(), pe.proposal.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, model.AckBlocked, list[0].Response)
}

func TestAcknowledge_OutsideSnapshotForbidden(t *testing.T) {
	pe := newProposalEnv(t)
	stranger := pe.createTeam(t, "latecomers")

	_, err := pe.svc.Acknowledge(context.Background(), workflow.AcknowledgeInput{
		ProposalID:     pe.proposal.ID,
		ConsumerTeamID: stranger.ID,
		Response:       model.AckApproved,
	})
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindForbidden))
}

func TestAcknowledge_InvalidResponse(t *testing.T) {
	pe := newProposalEnv(t)

	_, err := pe.svc.Acknowledge(context.Background(), workflow.AcknowledgeInput{
		ProposalID:     pe.proposal.ID,
		ConsumerTeamID: pe.consumerA.ID,
		Response:       model.AckResponse("maybe"),
	})
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindValidation))
}

func TestWithdraw(t *testing.T) {
	pe := newProposalEnv(t)

	t.Run("non-proposer cannot withdraw", func(t *testing.T) {
		_, err := pe.svc.Withdraw(context.Background(), pe.proposal.ID, pe.consumerA.ID, false)
		require.Error(t, err)
		assert.True(t, errs.IsKind(err, errs.KindForbidden))
	})

	t.Run("proposer withdraws", func(t *testing.T) {
		proposal, err := pe.svc.Withdraw(context.Background(), pe.proposal.ID, pe.producer.ID, false)
		require.NoError(t, err)
		assert.Equal(t, model.ProposalWithdrawn, proposal.Status)
		require.NotNil(t, proposal.ResolvedAt)
	})

	t.Run("withdrawn proposal stays withdrawn", func(t *testing.T) {
		_, err := pe.svc.Withdraw(context.Background(), pe.proposal.ID, pe.producer.ID, false)
		require.Error(t, err)
		assert.True(t, errs.IsKind(err, errs.KindConflict))
	})
}

func TestWithdraw_AdminOverride(t *testing.T) {
	pe := newProposalEnv(t)

	proposal, err := pe.svc.Withdraw(context.Background(), pe.proposal.ID, pe.consumerA.ID, true)
	require.NoError(t, err)
	assert.Equal(t, model.ProposalWithdrawn, proposal.Status)
}

func TestForceApprove(t *testing.T) {
	pe := newProposalEnv(t)
	pe.ack(t, pe.consumerA.ID, model.AckApproved)

	proposal, err := pe.svc.ForceApprove(context.Background(), pe.proposal.ID, pe.producer.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProposalApproved, proposal.Status)
}

func TestPublishProposal(t *testing.T) {
	pe := newProposalEnv(t)
	pe.ack(t, pe.consumerA.ID, model.AckApproved)
	pe.ack(t, pe.consumerB.ID, model.AckApproved)

	result, err := pe.svc.PublishProposal(context.Background(), pe.proposal.ID, pe.producer.ID)
	require.NoError(t, err)

	assert.Equal(t, workflow.OutcomePublished, result.Outcome)
	assert.Equal(t, "2.0.0", result.Contract.Version)

	active, err := pe.svc.ActiveContract(context.Background(), pe.asset.ID)
	require.NoError(t, err)
	assert.Equal(t, result.Contract.ID, active.ID)

	proposal, _, err := pe.svc.GetProposal(context.Background(), pe.proposal.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProposalPublished, proposal.Status)

	// A new breaking publish is possible again.
	retyped := `{"type": "object", "properties": {"id": {"type": "integer"}}, "required": ["id"]}`
	next := pe.publish(t, retyped)
	assert.Equal(t, workflow.OutcomeProposalOpened, next.Outcome)
}

func TestPublishProposal_RequiresApproval(t *testing.T) {
	pe := newProposalEnv(t)

	_, err := pe.svc.PublishProposal(context.Background(), pe.proposal.ID, pe.producer.ID)
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindConflict))
}

func TestPublishProposal_StaleBaseRejects(t *testing.T) {
	pe := newProposalEnv(t)
	pe.ack(t, pe.consumerA.ID, model.AckApproved)
	pe.ack(t, pe.consumerB.ID, model.AckApproved)

	// Another publish advances the asset while the proposal is approved.
	forced := pe.publish(t, minorSchema, func(in *workflow.PublishInput) {
		in.Version = "1.1.0"
	})
	require.Equal(t, workflow.OutcomePublished, forced.Outcome)

	_, err := pe.svc.PublishProposal(context.Background(), pe.proposal.ID, pe.producer.ID)
	require.Error(t, err)
	assert.True(t, errs.IsKind(err, errs.KindConflict))

	proposal, _, err := pe.svc.GetProposal(context.Background(), pe.proposal.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProposalRejected, proposal.Status)
}

func TestGetProposal_IncludesAcknowledgments(t *testing.T) {
	pe := newProposalEnv(t)
	pe.ack(t, pe.consumerA.ID, model.AckApproved)

	proposal, acks, err := pe.svc.GetProposal(context.Background(), pe.proposal.ID)
	require.NoError(t, err)
	assert.Equal(t, pe.proposal.ID, proposal.ID)
	require.Len(t, acks, 1)
	assert.Equal(t, pe.consumerA.ID, acks[0].ConsumerTeamID)
}

func TestListProposals_Filter(t *testing.T) {
	pe := newProposalEnv(t)

	status := model.ProposalPending
	proposals, err := pe.svc.ListProposals(context.Background(), proposalFilter(pe.asset.ID, &status))
	require.NoError(t, err)
	require.Len(t, proposals, 1)
	assert.Equal(t, pe.proposal.ID, proposals[0].ID)

	resolved := model.ProposalPublished
	proposals, err = pe.svc.ListProposals(context.Background(), proposalFilter(pe.asset.ID, &resolved))
	require.NoError(t, err)
	assert.Empty(t, proposals)
}

func TestPublishProposal_GuaranteeChangeAudited(t *testing.T) {
	e := newEnv(t)
	e.publish(t, baseSchema)
	consumer := e.createTeam(t, "consumers")
	e.register(t, consumer.ID)

	opened := e.publish(t, breakingSchema, func(in *workflow.PublishInput) {
		in.Guarantees = &model.Guarantees{Freshness: "24h"}
	})
	require.Equal(t, workflow.OutcomeProposalOpened, opened.Outcome)

	_, err := e.svc.Acknowledge(context.Background(), workflow.AcknowledgeInput{
		ProposalID:     opened.Proposal.ID,
		ConsumerTeamID: consumer.ID,
		Response:       model.AckApproved,
	})
	require.NoError(t, err)

	published, err := e.svc.PublishProposal(context.Background(), opened.Proposal.ID, e.producer.ID)
	require.NoError(t, err)
	require.Equal(t, workflow.OutcomePublished, published.Outcome)

	events, err := e.svc.QueryAudit(context.Background(), store.AuditFilter{Action: audit.ActionGuaranteesUpdated})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, published.Contract.ID, events[0].EntityID)
}
