// Package model defines the persistent entities of the contract
// coordination service and their lifecycle enums.
package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Team is the unit of ownership and acknowledgment identity.
type Team struct {
	ID        uuid.UUID      `json:"id"`
	Name      string         `json:"name"`
	Slug      string         `json:"slug"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	DeletedAt *time.Time     `json:"deleted_at,omitempty"`
}

// Deleted reports whether the team is soft-deleted.
func (t *Team) Deleted() bool { return t.DeletedAt != nil }

// Asset is a data object (table, view, model, endpoint) owned by a team.
// FQN is the dotted fully-qualified name, unique among live assets.
type Asset struct {
	ID                uuid.UUID      `json:"id"`
	FQN               string         `json:"fqn"`
	OwnerTeamID       uuid.UUID      `json:"owner_team_id"`
	ResourceType      ResourceType   `json:"resource_type"`
	CurrentContractID *uuid.UUID     `json:"current_contract_id,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	DeletedAt         *time.Time     `json:"deleted_at,omitempty"`
}

// Deleted reports whether the asset is soft-deleted.
func (a *Asset) Deleted() bool { return a.DeletedAt != nil }

// Guarantees are declarative quality metadata recorded with a contract.
// They are never enforced by the service.
type Guarantees struct {
	Freshness      string          `json:"freshness,omitempty"`
	Volume         string          `json:"volume,omitempty"`
	Nullability    map[string]bool `json:"nullability,omitempty"`
	AcceptedValues map[string]any  `json:"accepted_values,omitempty"`
}

// Contract is a versioned schema published for an asset.
type Contract struct {
	ID                uuid.UUID         `json:"id"`
	AssetID           uuid.UUID         `json:"asset_id"`
	Version           string            `json:"version"`
	Schema            json.RawMessage   `json:"schema"`
	CompatibilityMode CompatibilityMode `json:"compatibility_mode"`
	Guarantees        *Guarantees       `json:"guarantees,omitempty"`
	Status            ContractStatus    `json:"status"`
	PublishedAt       time.Time         `json:"published_at"`
	PublishedBy       uuid.UUID         `json:"published_by"`
}

// Registration is a consumer team's declared dependency on an asset.
// PinnedVersion of nil means "track latest compatible".
type Registration struct {
	ID             uuid.UUID          `json:"id"`
	AssetID        uuid.UUID          `json:"asset_id"`
	ConsumerTeamID uuid.UUID          `json:"consumer_team_id"`
	PinnedVersion  *string            `json:"pinned_version,omitempty"`
	Status         RegistrationStatus `json:"status"`
	RegisteredAt   time.Time          `json:"registered_at"`
}

// Proposal suspends a breaking publish until consumers acknowledge.
// ExpectedAckers is the snapshot of active consumer teams captured when the
// proposal was opened; it determines who must respond.
type Proposal struct {
	ID                 uuid.UUID         `json:"id"`
	AssetID            uuid.UUID         `json:"asset_id"`
	BaseContractID     uuid.UUID         `json:"base_contract_id"`
	ProposedSchema     json.RawMessage   `json:"proposed_schema"`
	ProposedVersion    string            `json:"proposed_version"`
	ProposedMode       CompatibilityMode `json:"proposed_compatibility_mode"`
	ProposedGuarantees *Guarantees       `json:"proposed_guarantees,omitempty"`
	BreakingChanges    json.RawMessage   `json:"breaking_changes"`
	ChangeType         ChangeType        `json:"change_type"`
	Status             ProposalStatus    `json:"status"`
	ExpectedAckers     []uuid.UUID       `json:"expected_ackers"`
	ProposedBy         uuid.UUID         `json:"proposed_by"`
	ProposedAt         time.Time         `json:"proposed_at"`
	ResolvedAt         *time.Time        `json:"resolved_at,omitempty"`
}

// ExpectedAcker reports whether teamID is in the proposal's snapshot set.
func (p *Proposal) ExpectedAcker(teamID uuid.UUID) bool {
	for _, id := range p.ExpectedAckers {
		if id == teamID {
			return true
		}
	}
	return false
}

// Acknowledgment is a consumer's response to a proposal.
// Unique per (proposal, consumer team); the latest response wins until the
// proposal resolves.
type Acknowledgment struct {
	ID                uuid.UUID   `json:"id"`
	ProposalID        uuid.UUID   `json:"proposal_id"`
	ConsumerTeamID    uuid.UUID   `json:"consumer_team_id"`
	Response          AckResponse `json:"response"`
	MigrationDeadline *time.Time  `json:"migration_deadline,omitempty"`
	Notes             string      `json:"notes,omitempty"`
	RespondedAt       time.Time   `json:"responded_at"`
}

// AuditEvent is an append-only record of a state transition.
// Events reference entities by id and survive their deletion.
type AuditEvent struct {
	ID         uuid.UUID       `json:"id"`
	EntityType string          `json:"entity_type"`
	EntityID   uuid.UUID       `json:"entity_id"`
	Action     string          `json:"action"`
	ActorID    uuid.UUID       `json:"actor_id"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// AssetDependency is a directed lineage edge between assets.
// Acyclicity is not enforced at write time; traversals detect cycles.
type AssetDependency struct {
	UpstreamAssetID   uuid.UUID `json:"upstream_asset_id"`
	DownstreamAssetID uuid.UUID `json:"downstream_asset_id"`
	CreatedAt         time.Time `json:"created_at"`
}

// APIKey authenticates a team with a scope. Only the SHA-256 digest of the
// secret is stored.
type APIKey struct {
	ID         uuid.UUID  `json:"id"`
	TeamID     uuid.UUID  `json:"team_id"`
	Name       string     `json:"name"`
	Digest     string     `json:"-"`
	Scope      KeyScope   `json:"scope"`
	CreatedAt  time.Time  `json:"created_at"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// Revoked reports whether the key has been revoked.
func (k *APIKey) Revoked() bool { return k.RevokedAt != nil }
