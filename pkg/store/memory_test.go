package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/covenant-data/covenant/pkg/model"
	"github.com/covenant-data/covenant/pkg/store"
)

var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func begin(t *testing.T, s *store.MemoryStore) store.Tx {
	t.Helper()
	tx, err := s.Begin(context.Background())
	require.NoError(t, err)
	return tx
}

func seedTeam(t *testing.T, tx store.Tx, slug string) *model.Team {
	t.Helper()
	team := &model.Team{ID: uuid.New(), Name: slug, Slug: slug, CreatedAt: baseTime}
	require.NoError(t, tx.CreateTeam(context.Background(), team))
	return team
}

func seedAsset(t *testing.T, tx store.Tx, owner uuid.UUID, fqn string) *model.Asset {
	t.Helper()
	asset := &model.Asset{
		ID: uuid.New(), FQN: fqn, OwnerTeamID: owner,
		ResourceType: model.ResourceTable, CreatedAt: baseTime,
	}
	require.NoError(t, tx.CreateAsset(context.Background(), asset))
	return asset
}

func TestMemory_CommitAndRollback(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	tx := begin(t, s)
	team := seedTeam(t, tx, "producers")
	require.NoError(t, tx.Rollback())

	// Rolled-back writes are invisible.
	tx = begin(t, s)
	_, err := tx.GetTeam(ctx, team.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	team = seedTeam(t, tx, "producers")
	require.NoError(t, tx.Commit())

	tx = begin(t, s)
	got, err := tx.GetTeam(ctx, team.ID)
	require.NoError(t, err)
	assert.Equal(t, "producers", got.Slug)
	require.NoError(t, tx.Rollback())
}

func TestMemory_FinishedTxRefusesReuse(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	tx := begin(t, s)
	require.NoError(t, tx.Commit())

	assert.ErrorIs(t, tx.Commit(), store.ErrTxDone)
	assert.ErrorIs(t, tx.Rollback(), store.ErrTxDone)
	_, err := tx.ListTeams(ctx)
	assert.ErrorIs(t, err, store.ErrTxDone)
}

func TestMemory_TeamSlugUniqueAmongLive(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	tx := begin(t, s)
	defer func() { _ = tx.Rollback() }()

	team := seedTeam(t, tx, "producers")

	dup := &model.Team{ID: uuid.New(), Name: "dup", Slug: "producers", CreatedAt: baseTime}
	assert.ErrorIs(t, tx.CreateTeam(ctx, dup), store.ErrDuplicate)

	// Soft deletion frees the slug.
	require.NoError(t, tx.SoftDeleteTeam(ctx, team.ID, baseTime))
	require.NoError(t, tx.CreateTeam(ctx, dup))

	// Deleting twice is not found.
	assert.ErrorIs(t, tx.SoftDeleteTeam(ctx, team.ID, baseTime), store.ErrNotFound)
}

func TestMemory_AssetFQNUniqueAmongLive(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	tx := begin(t, s)
	defer func() { _ = tx.Rollback() }()

	owner := seedTeam(t, tx, "producers")
	asset := seedAsset(t, tx, owner.ID, "warehouse.orders")

	dup := &model.Asset{ID: uuid.New(), FQN: "warehouse.orders", OwnerTeamID: owner.ID,
		ResourceType: model.ResourceTable, CreatedAt: baseTime}
	assert.ErrorIs(t, tx.CreateAsset(ctx, dup), store.ErrDuplicate)

	require.NoError(t, tx.SoftDeleteAsset(ctx, asset.ID, baseTime))
	require.NoError(t, tx.CreateAsset(ctx, dup))

	// The soft-deleted asset is hidden from reads and default listings.
	_, err := tx.GetAsset(ctx, asset.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	assets, err := tx.ListAssets(ctx, store.AssetFilter{})
	require.NoError(t, err)
	assert.Len(t, assets, 1)

	assets, err = tx.ListAssets(ctx, store.AssetFilter{IncludeDeleted: true})
	require.NoError(t, err)
	assert.Len(t, assets, 2)
}

func TestMemory_ActiveContractPicksLatest(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	tx := begin(t, s)
	defer func() { _ = tx.Rollback() }()

	owner := seedTeam(t, tx, "producers")
	asset := seedAsset(t, tx, owner.ID, "warehouse.orders")

	none, err := tx.ActiveContract(ctx, asset.ID)
	require.NoError(t, err)
	assert.Nil(t, none)

	old := &model.Contract{ID: uuid.New(), AssetID: asset.ID, Version: "1.0.0",
		Status: model.ContractDeprecated, PublishedAt: baseTime}
	current := &model.Contract{ID: uuid.New(), AssetID: asset.ID, Version: "1.1.0",
		Status: model.ContractActive, PublishedAt: baseTime.Add(time.Hour)}
	require.NoError(t, tx.CreateContract(ctx, old))
	require.NoError(t, tx.CreateContract(ctx, current))

	active, err := tx.ActiveContract(ctx, asset.ID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, current.ID, active.ID)

	contracts, err := tx.ListContracts(ctx, asset.ID)
	require.NoError(t, err)
	require.Len(t, contracts, 2)
	assert.Equal(t, "1.0.0", contracts[0].Version)
	assert.Equal(t, "1.1.0", contracts[1].Version)
}

func TestMemory_RegistrationUniquePerLivePair(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	tx := begin(t, s)
	defer func() { _ = tx.Rollback() }()

	owner := seedTeam(t, tx, "producers")
	consumer := seedTeam(t, tx, "consumers")
	asset := seedAsset(t, tx, owner.ID, "warehouse.orders")

	reg := &model.Registration{ID: uuid.New(), AssetID: asset.ID, ConsumerTeamID: consumer.ID,
		Status: model.RegistrationActive, RegisteredAt: baseTime}
	require.NoError(t, tx.CreateRegistration(ctx, reg))

	dup := &model.Registration{ID: uuid.New(), AssetID: asset.ID, ConsumerTeamID: consumer.ID,
		Status: model.RegistrationActive, RegisteredAt: baseTime}
	assert.ErrorIs(t, tx.CreateRegistration(ctx, dup), store.ErrDuplicate)

	// An inactive registration does not block re-registration.
	require.NoError(t, tx.SetRegistrationStatus(ctx, reg.ID, model.RegistrationInactive))
	require.NoError(t, tx.CreateRegistration(ctx, dup))
}

func TestMemory_OnePendingProposalPerAsset(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	tx := begin(t, s)
	defer func() { _ = tx.Rollback() }()

	owner := seedTeam(t, tx, "producers")
	asset := seedAsset(t, tx, owner.ID, "warehouse.orders")

	first := &model.Proposal{ID: uuid.New(), AssetID: asset.ID, ProposedBy: owner.ID,
		Status: model.ProposalPending, ProposedAt: baseTime}
	require.NoError(t, tx.CreateProposal(ctx, first))

	second := &model.Proposal{ID: uuid.New(), AssetID: asset.ID, ProposedBy: owner.ID,
		Status: model.ProposalPending, ProposedAt: baseTime}
	assert.ErrorIs(t, tx.CreateProposal(ctx, second), store.ErrDuplicate)

	pending, err := tx.PendingProposal(ctx, asset.ID)
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, first.ID, pending.ID)

	// Resolving the first frees the slot.
	first.Status = model.ProposalWithdrawn
	require.NoError(t, tx.UpdateProposal(ctx, first))
	require.NoError(t, tx.CreateProposal(ctx, second))

	pending, err = tx.PendingProposal(ctx, asset.ID)
	require.NoError(t, err)
	require.NotNil(t, pending)
	assert.Equal(t, second.ID, pending.ID)
}

func TestMemory_AcknowledgmentUpsert(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	tx := begin(t, s)
	defer func() { _ = tx.Rollback() }()

	proposalID := uuid.New()
	consumerID := uuid.New()

	first := &model.Acknowledgment{ID: uuid.New(), ProposalID: proposalID,
		ConsumerTeamID: consumerID, Response: model.AckMigrating, RespondedAt: baseTime}
	require.NoError(t, tx.UpsertAcknowledgment(ctx, first))

	// Same (proposal, consumer) pair replaces in place and keeps the row id.
	second := &model.Acknowledgment{ID: uuid.New(), ProposalID: proposalID,
		ConsumerTeamID: consumerID, Response: model.AckApproved, RespondedAt: baseTime.Add(time.Minute)}
	require.NoError(t, tx.UpsertAcknowledgment(ctx, second))
	assert.Equal(t, first.ID, second.ID)

	acks, err := tx.ListAcknowledgments(ctx, proposalID)
	require.NoError(t, err)
	require.Len(t, acks, 1)
	assert.Equal(t, first.ID, acks[0].ID)
	assert.Equal(t, model.AckApproved, acks[0].Response)

	// A different consumer gets its own row.
	other := &model.Acknowledgment{ID: uuid.New(), ProposalID: proposalID,
		ConsumerTeamID: uuid.New(), Response: model.AckBlocked, RespondedAt: baseTime.Add(2 * time.Minute)}
	require.NoError(t, tx.UpsertAcknowledgment(ctx, other))

	acks, err = tx.ListAcknowledgments(ctx, proposalID)
	require.NoError(t, err)
	assert.Len(t, acks, 2)
}

func TestMemory_DependencyEdges(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	tx := begin(t, s)
	defer func() { _ = tx.Rollback() }()

	owner := seedTeam(t, tx, "producers")
	up := seedAsset(t, tx, owner.ID, "warehouse.orders")
	down := seedAsset(t, tx, owner.ID, "warehouse.orders_mart")

	dep := &model.AssetDependency{UpstreamAssetID: up.ID, DownstreamAssetID: down.ID, CreatedAt: baseTime}
	require.NoError(t, tx.AddDependency(ctx, dep))
	assert.ErrorIs(t, tx.AddDependency(ctx, dep), store.ErrDuplicate)

	downstream, err := tx.ListDownstream(ctx, up.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{down.ID}, downstream)

	upstream, err := tx.ListUpstream(ctx, down.ID)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{up.ID}, upstream)
}

func TestMemory_APIKeys(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	tx := begin(t, s)
	defer func() { _ = tx.Rollback() }()

	team := seedTeam(t, tx, "producers")
	key := &model.APIKey{ID: uuid.New(), TeamID: team.ID, Name: "ci",
		Digest: "d1", Scope: model.ScopeWrite, CreatedAt: baseTime}
	require.NoError(t, tx.CreateAPIKey(ctx, key))

	dup := &model.APIKey{ID: uuid.New(), TeamID: team.ID, Name: "other",
		Digest: "d1", Scope: model.ScopeRead, CreatedAt: baseTime}
	assert.ErrorIs(t, tx.CreateAPIKey(ctx, dup), store.ErrDuplicate)

	got, err := tx.GetAPIKeyByDigest(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, key.ID, got.ID)

	require.NoError(t, tx.TouchAPIKey(ctx, key.ID, baseTime.Add(time.Minute)))
	require.NoError(t, tx.RevokeAPIKey(ctx, key.ID, baseTime.Add(time.Hour)))

	// Revoked keys no longer authenticate but remain listed.
	_, err = tx.GetAPIKeyByDigest(ctx, "d1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	keys, err := tx.ListAPIKeys(ctx, team.ID)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	require.NotNil(t, keys[0].RevokedAt)
	require.NotNil(t, keys[0].LastUsedAt)

	assert.ErrorIs(t, tx.RevokeAPIKey(ctx, key.ID, baseTime), store.ErrNotFound)
}

func TestMemory_AuditKeysetPagination(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()
	tx := begin(t, s)
	defer func() { _ = tx.Rollback() }()

	entityID := uuid.New()
	actorID := uuid.New()
	for i := 0; i < 5; i++ {
		event := &model.AuditEvent{
			ID:         uuid.New(),
			EntityType: "contract",
			EntityID:   entityID,
			ActorID:    actorID,
			Action:     "contract.published",
			OccurredAt: baseTime.Add(time.Duration(i) * time.Second),
		}
		require.NoError(t, tx.AppendAudit(ctx, event))
	}

	first, err := tx.QueryAudit(ctx, store.AuditFilter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.True(t, first[0].OccurredAt.Before(first[1].OccurredAt))

	cursor := &store.AuditCursor{OccurredAt: first[1].OccurredAt, ID: first[1].ID}
	rest, err := tx.QueryAudit(ctx, store.AuditFilter{Cursor: cursor})
	require.NoError(t, err)
	require.Len(t, rest, 3)
	assert.True(t, first[1].OccurredAt.Before(rest[0].OccurredAt))

	// Time-window filter is inclusive of both bounds.
	from := baseTime.Add(1 * time.Second)
	to := baseTime.Add(3 * time.Second)
	window, err := tx.QueryAudit(ctx, store.AuditFilter{From: &from, To: &to})
	require.NoError(t, err)
	assert.Len(t, window, 3)

	other := uuid.New()
	none, err := tx.QueryAudit(ctx, store.AuditFilter{EntityID: &other})
	require.NoError(t, err)
	assert.Empty(t, none)
}
