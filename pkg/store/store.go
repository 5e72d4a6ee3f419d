// Package store defines the transactional persistence contract consumed by
// the workflow core, plus two implementations: an in-memory store for tests
// and embedded use, and a database/sql store supporting Postgres and SQLite.
//
// The store enforces uniqueness (live asset fqn, one pending proposal per
// asset, one acknowledgment per proposal/team) and filters soft-deleted rows
// by default. All mutations happen inside a Tx; audit appends participate in
// the same transaction as the mutation that produced them.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/covenant-data/covenant/pkg/model"
)

var (
	// ErrNotFound is returned when an entity is absent or soft-deleted.
	ErrNotFound = errors.New("entity not found")
	// ErrDuplicate is returned when a uniqueness constraint would be violated.
	ErrDuplicate = errors.New("duplicate entity")
	// ErrTxDone is returned when a finished transaction is reused.
	ErrTxDone = errors.New("transaction already finished")
)

// Store opens serialisable transactions.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
	Close() error
}

// Tx is one serialisable transaction over all entity namespaces.
type Tx interface {
	Commit() error
	Rollback() error

	// LockAsset serialises concurrent writers on one asset. It is the only
	// linearisation point the core requires; other assets stay independent.
	LockAsset(ctx context.Context, assetID uuid.UUID) error

	// Teams.
	CreateTeam(ctx context.Context, team *model.Team) error
	GetTeam(ctx context.Context, id uuid.UUID) (*model.Team, error)
	ListTeams(ctx context.Context) ([]model.Team, error)
	SoftDeleteTeam(ctx context.Context, id uuid.UUID, at time.Time) error

	// Assets.
	CreateAsset(ctx context.Context, asset *model.Asset) error
	GetAsset(ctx context.Context, id uuid.UUID) (*model.Asset, error)
	GetAssetByFQN(ctx context.Context, fqn string) (*model.Asset, error)
	ListAssets(ctx context.Context, filter AssetFilter) ([]model.Asset, error)
	SetCurrentContract(ctx context.Context, assetID uuid.UUID, contractID *uuid.UUID) error
	SoftDeleteAsset(ctx context.Context, id uuid.UUID, at time.Time) error

	// Contracts.
	CreateContract(ctx context.Context, contract *model.Contract) error
	GetContract(ctx context.Context, id uuid.UUID) (*model.Contract, error)
	// ActiveContract returns the asset's current active contract, or
	// (nil, nil) when the asset has none.
	ActiveContract(ctx context.Context, assetID uuid.UUID) (*model.Contract, error)
	ListContracts(ctx context.Context, assetID uuid.UUID) ([]model.Contract, error)
	SetContractStatus(ctx context.Context, id uuid.UUID, status model.ContractStatus) error
	SetContractGuarantees(ctx context.Context, id uuid.UUID, guarantees *model.Guarantees) error

	// Registrations.
	CreateRegistration(ctx context.Context, reg *model.Registration) error
	GetRegistration(ctx context.Context, id uuid.UUID) (*model.Registration, error)
	ListRegistrations(ctx context.Context, filter RegistrationFilter) ([]model.Registration, error)
	SetRegistrationStatus(ctx context.Context, id uuid.UUID, status model.RegistrationStatus) error

	// Proposals.
	CreateProposal(ctx context.Context, proposal *model.Proposal) error
	GetProposal(ctx context.Context, id uuid.UUID) (*model.Proposal, error)
	// PendingProposal returns the asset's pending proposal, or (nil, nil).
	PendingProposal(ctx context.Context, assetID uuid.UUID) (*model.Proposal, error)
	UpdateProposal(ctx context.Context, proposal *model.Proposal) error
	ListProposals(ctx context.Context, filter ProposalFilter) ([]model.Proposal, error)

	// Acknowledgments. Upsert is keyed by (proposal_id, consumer_team_id);
	// a consumer may change their response until the proposal resolves.
	UpsertAcknowledgment(ctx context.Context, ack *model.Acknowledgment) error
	ListAcknowledgments(ctx context.Context, proposalID uuid.UUID) ([]model.Acknowledgment, error)

	// Lineage.
	AddDependency(ctx context.Context, dep *model.AssetDependency) error
	ListDownstream(ctx context.Context, assetID uuid.UUID) ([]uuid.UUID, error)
	ListUpstream(ctx context.Context, assetID uuid.UUID) ([]uuid.UUID, error)

	// API keys.
	CreateAPIKey(ctx context.Context, key *model.APIKey) error
	GetAPIKeyByDigest(ctx context.Context, digest string) (*model.APIKey, error)
	ListAPIKeys(ctx context.Context, teamID uuid.UUID) ([]model.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID, at time.Time) error
	TouchAPIKey(ctx context.Context, id uuid.UUID, at time.Time) error

	// Audit. Append-only: no update or delete exists.
	AppendAudit(ctx context.Context, event *model.AuditEvent) error
	QueryAudit(ctx context.Context, filter AuditFilter) ([]model.AuditEvent, error)
}

// AssetFilter narrows asset listings. Soft-deleted assets are excluded
// unless IncludeDeleted is set.
type AssetFilter struct {
	OwnerTeamID    *uuid.UUID
	ResourceType   *model.ResourceType
	IncludeDeleted bool
	Limit          int
}

// RegistrationFilter narrows registration listings.
type RegistrationFilter struct {
	AssetID        *uuid.UUID
	ConsumerTeamID *uuid.UUID
	Status         *model.RegistrationStatus
}

// ProposalFilter narrows proposal listings.
type ProposalFilter struct {
	AssetID    *uuid.UUID
	Status     *model.ProposalStatus
	ProposedBy *uuid.UUID
	Limit      int
}

// AuditCursor is the keyset cursor for audit queries: strictly after
// (OccurredAt, ID) in ascending order.
type AuditCursor struct {
	OccurredAt time.Time
	ID         uuid.UUID
}

// AuditFilter narrows audit queries. Results are ordered by
// (occurred_at, id) ascending; Cursor resumes after the given position.
type AuditFilter struct {
	EntityType string
	EntityID   *uuid.UUID
	ActorID    *uuid.UUID
	Action     string
	From       *time.Time
	To         *time.Time
	Cursor     *AuditCursor
	Limit      int
}

// DefaultAuditPageSize caps audit pages when the filter has no limit.
const DefaultAuditPageSize = 100
