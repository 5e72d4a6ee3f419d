package workflow

import (
	"context"
	"errors"
	"regexp"

	"github.com/google/uuid"

	"github.com/covenant-data/covenant/pkg/audit"
	"github.com/covenant-data/covenant/pkg/auth"
	"github.com/covenant-data/covenant/pkg/errs"
	"github.com/covenant-data/covenant/pkg/model"
	"github.com/covenant-data/covenant/pkg/store"
	"github.com/covenant-data/covenant/pkg/versioning"
)

var (
	slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:[-_][a-z0-9]+)*$`)
	fqnPattern  = regexp.MustCompile(`^[A-Za-z0-9_]+(?:\.[A-Za-z0-9_]+)+$`)
)

// ----- Teams -----

// CreateTeamInput describes a new team.
type CreateTeamInput struct {
	Name     string
	Slug     string
	Metadata map[string]any
	Actor    uuid.UUID
}

func (s *Service) CreateTeam(ctx context.Context, input CreateTeamInput) (*model.Team, error) {
	if input.Name == "" {
		return nil, errs.Validation("team name must not be empty")
	}
	if !slugPattern.MatchString(input.Slug) {
		return nil, errs.Newf(errs.KindValidation, "team slug %q is not url-safe", input.Slug)
	}

	team := &model.Team{
		ID:        s.ids.NewID(),
		Name:      input.Name,
		Slug:      input.Slug,
		Metadata:  input.Metadata,
		CreatedAt: s.nowUTC(),
	}
	err := s.inTx(ctx, func(tx store.Tx) error {
		if err := tx.CreateTeam(ctx, team); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return errs.Newf(errs.KindConflict, "team slug %q already exists", input.Slug)
			}
			return errs.Wrap(errs.KindInternal, err, "create team")
		}
		return s.recorder.Record(ctx, tx, audit.EntityTeam, team.ID, input.Actor,
			audit.ActionTeamCreated, map[string]any{"slug": team.Slug})
	})
	if err != nil {
		return nil, err
	}
	return team, nil
}

func (s *Service) GetTeam(ctx context.Context, id uuid.UUID) (*model.Team, error) {
	var team *model.Team
	err := s.readTx(ctx, func(tx store.Tx) error {
		var err error
		team, err = tx.GetTeam(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return errs.Newf(errs.KindNotFound, "team %s not found", id)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return team, nil
}

func (s *Service) ListTeams(ctx context.Context) ([]model.Team, error) {
	var teams []model.Team
	err := s.readTx(ctx, func(tx store.Tx) error {
		var err error
		teams, err = tx.ListTeams(ctx)
		return err
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "list teams")
	}
	return teams, nil
}

func (s *Service) DeleteTeam(ctx context.Context, id, actor uuid.UUID) error {
	return s.inTx(ctx, func(tx store.Tx) error {
		if err := tx.SoftDeleteTeam(ctx, id, s.nowUTC()); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return errs.Newf(errs.KindNotFound, "team %s not found", id)
			}
			return errs.Wrap(errs.KindInternal, err, "delete team")
		}
		return s.recorder.Record(ctx, tx, audit.EntityTeam, id, actor, audit.ActionTeamDeleted, nil)
	})
}

// ----- Assets -----

// CreateAssetInput describes a new asset.
type CreateAssetInput struct {
	FQN          string
	OwnerTeamID  uuid.UUID
	ResourceType model.ResourceType
	Metadata     map[string]any
	Actor        uuid.UUID
}

func (s *Service) CreateAsset(ctx context.Context, input CreateAssetInput) (*model.Asset, error) {
	if !fqnPattern.MatchString(input.FQN) {
		return nil, errs.Newf(errs.KindValidation, "asset fqn %q is not a dotted fully-qualified name", input.FQN)
	}
	if !model.ValidResourceType(input.ResourceType) {
		return nil, errs.Newf(errs.KindValidation, "invalid resource type %q", input.ResourceType)
	}

	asset := &model.Asset{
		ID:           s.ids.NewID(),
		FQN:          input.FQN,
		OwnerTeamID:  input.OwnerTeamID,
		ResourceType: input.ResourceType,
		Metadata:     input.Metadata,
		CreatedAt:    s.nowUTC(),
	}
	err := s.inTx(ctx, func(tx store.Tx) error {
		if _, err := tx.GetTeam(ctx, input.OwnerTeamID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return errs.Newf(errs.KindNotFound, "owner team %s not found", input.OwnerTeamID)
			}
			return errs.Wrap(errs.KindInternal, err, "load owner team")
		}
		if err := tx.CreateAsset(ctx, asset); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return errs.Newf(errs.KindConflict, "asset fqn %q already exists", input.FQN)
			}
			return errs.Wrap(errs.KindInternal, err, "create asset")
		}
		return s.recorder.Record(ctx, tx, audit.EntityAsset, asset.ID, input.Actor,
			audit.ActionAssetCreated, map[string]any{"fqn": asset.FQN})
	})
	if err != nil {
		return nil, err
	}
	return asset, nil
}

func (s *Service) GetAsset(ctx context.Context, id uuid.UUID) (*model.Asset, error) {
	var asset *model.Asset
	err := s.readTx(ctx, func(tx store.Tx) error {
		var err error
		asset, err = loadLiveAsset(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return asset, nil
}

func (s *Service) GetAssetByFQN(ctx context.Context, fqn string) (*model.Asset, error) {
	var asset *model.Asset
	err := s.readTx(ctx, func(tx store.Tx) error {
		var err error
		asset, err = tx.GetAssetByFQN(ctx, fqn)
		if errors.Is(err, store.ErrNotFound) {
			return errs.Newf(errs.KindNotFound, "asset %q not found", fqn)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return asset, nil
}

func (s *Service) ListAssets(ctx context.Context, filter store.AssetFilter) ([]model.Asset, error) {
	var assets []model.Asset
	err := s.readTx(ctx, func(tx store.Tx) error {
		var err error
		assets, err = tx.ListAssets(ctx, filter)
		return err
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "list assets")
	}
	return assets, nil
}

func (s *Service) DeleteAsset(ctx context.Context, id, actor uuid.UUID) error {
	err := s.inTx(ctx, func(tx store.Tx) error {
		if err := tx.SoftDeleteAsset(ctx, id, s.nowUTC()); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return errs.Newf(errs.KindNotFound, "asset %s not found", id)
			}
			return errs.Wrap(errs.KindInternal, err, "delete asset")
		}
		return s.recorder.Record(ctx, tx, audit.EntityAsset, id, actor, audit.ActionAssetDeleted, nil)
	})
	if err != nil {
		return err
	}
	s.cache.Invalidate(ctx, id)
	return nil
}

// ----- Contracts (reads and metadata) -----

// ActiveContract returns the asset's current contract, read through the
// cache.
func (s *Service) ActiveContract(ctx context.Context, assetID uuid.UUID) (*model.Contract, error) {
	if contract, ok := s.cache.GetActive(ctx, assetID); ok {
		return contract, nil
	}
	var contract *model.Contract
	err := s.readTx(ctx, func(tx store.Tx) error {
		if _, err := loadLiveAsset(ctx, tx, assetID); err != nil {
			return err
		}
		var err error
		contract, err = tx.ActiveContract(ctx, assetID)
		if err != nil {
			return errs.Wrap(errs.KindInternal, err, "load active contract")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if contract == nil {
		return nil, errs.Newf(errs.KindNotFound, "asset %s has no active contract", assetID)
	}
	s.cache.SetActive(ctx, assetID, contract)
	return contract, nil
}

func (s *Service) GetContract(ctx context.Context, id uuid.UUID) (*model.Contract, error) {
	var contract *model.Contract
	err := s.readTx(ctx, func(tx store.Tx) error {
		var err error
		contract, err = tx.GetContract(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return errs.Newf(errs.KindNotFound, "contract %s not found", id)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return contract, nil
}

func (s *Service) ListContracts(ctx context.Context, assetID uuid.UUID) ([]model.Contract, error) {
	var contracts []model.Contract
	err := s.readTx(ctx, func(tx store.Tx) error {
		if _, err := loadLiveAsset(ctx, tx, assetID); err != nil {
			return err
		}
		var err error
		contracts, err = tx.ListContracts(ctx, assetID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return contracts, nil
}

// UpdateGuarantees replaces a contract's declarative guarantees. Guarantees
// are metadata only; changing them never affects compatibility.
func (s *Service) UpdateGuarantees(ctx context.Context, contractID uuid.UUID, guarantees *model.Guarantees, actor uuid.UUID) (*model.Contract, error) {
	var contract *model.Contract
	err := s.inTx(ctx, func(tx store.Tx) error {
		var err error
		contract, err = tx.GetContract(ctx, contractID)
		if errors.Is(err, store.ErrNotFound) {
			return errs.Newf(errs.KindNotFound, "contract %s not found", contractID)
		}
		if err != nil {
			return errs.Wrap(errs.KindInternal, err, "load contract")
		}
		if err := tx.SetContractGuarantees(ctx, contractID, guarantees); err != nil {
			return errs.Wrap(errs.KindInternal, err, "update guarantees")
		}
		contract.Guarantees = guarantees
		return s.recorder.Record(ctx, tx, audit.EntityContract, contractID, actor,
			audit.ActionGuaranteesUpdated, map[string]any{"guarantees": guarantees})
	})
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(ctx, contract.AssetID)
	return contract, nil
}

// RetireContract moves a deprecated contract to retired. Active contracts
// cannot be retired directly; publishing a successor deprecates them first.
func (s *Service) RetireContract(ctx context.Context, contractID, actor uuid.UUID) (*model.Contract, error) {
	var contract *model.Contract
	err := s.inTx(ctx, func(tx store.Tx) error {
		var err error
		contract, err = tx.GetContract(ctx, contractID)
		if errors.Is(err, store.ErrNotFound) {
			return errs.Newf(errs.KindNotFound, "contract %s not found", contractID)
		}
		if err != nil {
			return errs.Wrap(errs.KindInternal, err, "load contract")
		}
		if contract.Status != model.ContractDeprecated {
			return errs.Newf(errs.KindConflict, "contract is %s; only deprecated contracts can be retired", contract.Status)
		}
		if err := tx.SetContractStatus(ctx, contractID, model.ContractRetired); err != nil {
			return errs.Wrap(errs.KindInternal, err, "retire contract")
		}
		contract.Status = model.ContractRetired
		return s.recorder.Record(ctx, tx, audit.EntityContract, contractID, actor,
			audit.ActionContractRetired, map[string]any{"version": contract.Version})
	})
	if err != nil {
		return nil, err
	}
	return contract, nil
}

// ----- Registrations -----

// RegisterInput declares a consumer dependency on an asset.
type RegisterInput struct {
	AssetID        uuid.UUID
	ConsumerTeamID uuid.UUID
	PinnedVersion  *string
}

func (s *Service) RegisterConsumer(ctx context.Context, input RegisterInput) (*model.Registration, error) {
	if input.PinnedVersion != nil {
		if _, err := versioning.Parse(*input.PinnedVersion); err != nil {
			return nil, err
		}
	}

	reg := &model.Registration{
		ID:             s.ids.NewID(),
		AssetID:        input.AssetID,
		ConsumerTeamID: input.ConsumerTeamID,
		PinnedVersion:  input.PinnedVersion,
		Status:         model.RegistrationActive,
		RegisteredAt:   s.nowUTC(),
	}
	err := s.inTx(ctx, func(tx store.Tx) error {
		if _, err := loadLiveAsset(ctx, tx, input.AssetID); err != nil {
			return err
		}
		if _, err := tx.GetTeam(ctx, input.ConsumerTeamID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return errs.Newf(errs.KindNotFound, "consumer team %s not found", input.ConsumerTeamID)
			}
			return errs.Wrap(errs.KindInternal, err, "load consumer team")
		}
		if err := tx.CreateRegistration(ctx, reg); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return errs.New(errs.KindConflict, "team already has a registration on this asset")
			}
			return errs.Wrap(errs.KindInternal, err, "create registration")
		}
		return s.recorder.Record(ctx, tx, audit.EntityRegistration, reg.ID, input.ConsumerTeamID,
			audit.ActionRegistrationAdded, map[string]any{"asset_id": input.AssetID.String()})
	})
	if err != nil {
		return nil, err
	}
	return reg, nil
}

func (s *Service) ListRegistrations(ctx context.Context, filter store.RegistrationFilter) ([]model.Registration, error) {
	var regs []model.Registration
	err := s.readTx(ctx, func(tx store.Tx) error {
		var err error
		regs, err = tx.ListRegistrations(ctx, filter)
		return err
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "list registrations")
	}
	return regs, nil
}

func (s *Service) SetRegistrationStatus(ctx context.Context, regID uuid.UUID, status model.RegistrationStatus, actor uuid.UUID) (*model.Registration, error) {
	switch status {
	case model.RegistrationActive, model.RegistrationMigrating, model.RegistrationInactive:
	default:
		return nil, errs.Newf(errs.KindValidation, "invalid registration status %q", status)
	}

	var reg *model.Registration
	err := s.inTx(ctx, func(tx store.Tx) error {
		var err error
		reg, err = tx.GetRegistration(ctx, regID)
		if errors.Is(err, store.ErrNotFound) {
			return errs.Newf(errs.KindNotFound, "registration %s not found", regID)
		}
		if err != nil {
			return errs.Wrap(errs.KindInternal, err, "load registration")
		}
		if err := tx.SetRegistrationStatus(ctx, regID, status); err != nil {
			return errs.Wrap(errs.KindInternal, err, "update registration status")
		}
		reg.Status = status
		return s.recorder.Record(ctx, tx, audit.EntityRegistration, regID, actor,
			audit.ActionRegistrationStatus, map[string]any{"status": string(status)})
	})
	if err != nil {
		return nil, err
	}
	return reg, nil
}

// ----- Lineage -----

// AddDependency records a directed lineage edge upstream -> downstream.
// Self edges are rejected; larger cycles are tolerated and handled during
// traversal.
func (s *Service) AddDependency(ctx context.Context, upstreamID, downstreamID uuid.UUID) error {
	if upstreamID == downstreamID {
		return errs.Validation("an asset cannot depend on itself")
	}
	return s.inTx(ctx, func(tx store.Tx) error {
		if _, err := loadLiveAsset(ctx, tx, upstreamID); err != nil {
			return err
		}
		if _, err := loadLiveAsset(ctx, tx, downstreamID); err != nil {
			return err
		}
		dep := &model.AssetDependency{
			UpstreamAssetID:   upstreamID,
			DownstreamAssetID: downstreamID,
			CreatedAt:         s.nowUTC(),
		}
		if err := tx.AddDependency(ctx, dep); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return errs.Conflict("dependency edge already exists")
			}
			return errs.Wrap(errs.KindInternal, err, "add dependency")
		}
		return nil
	})
}

// ----- API keys -----

// CreateAPIKey mints a key for a team. The returned secret is shown
// exactly once; only its digest is stored.
func (s *Service) CreateAPIKey(ctx context.Context, teamID uuid.UUID, name string, scope model.KeyScope, actor uuid.UUID) (*model.APIKey, string, error) {
	if name == "" {
		return nil, "", errs.Validation("api key name must not be empty")
	}
	switch scope {
	case model.ScopeRead, model.ScopeWrite, model.ScopeAdmin:
	default:
		return nil, "", errs.Newf(errs.KindValidation, "invalid key scope %q", scope)
	}
	secret, digest, err := auth.GenerateSecret()
	if err != nil {
		return nil, "", errs.Wrap(errs.KindInternal, err, "generate api key")
	}

	key := &model.APIKey{
		ID:        s.ids.NewID(),
		TeamID:    teamID,
		Name:      name,
		Digest:    digest,
		Scope:     scope,
		CreatedAt: s.nowUTC(),
	}
	err = s.inTx(ctx, func(tx store.Tx) error {
		if _, err := tx.GetTeam(ctx, teamID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return errs.Newf(errs.KindNotFound, "team %s not found", teamID)
			}
			return errs.Wrap(errs.KindInternal, err, "load team")
		}
		if err := tx.CreateAPIKey(ctx, key); err != nil {
			return errs.Wrap(errs.KindInternal, err, "create api key")
		}
		return s.recorder.Record(ctx, tx, audit.EntityAPIKey, key.ID, actor,
			audit.ActionAPIKeyCreated, map[string]any{"team_id": teamID.String(), "scope": string(scope)})
	})
	if err != nil {
		return nil, "", err
	}
	return key, secret, nil
}

func (s *Service) ListAPIKeys(ctx context.Context, teamID uuid.UUID) ([]model.APIKey, error) {
	var keys []model.APIKey
	err := s.readTx(ctx, func(tx store.Tx) error {
		var err error
		keys, err = tx.ListAPIKeys(ctx, teamID)
		return err
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "list api keys")
	}
	return keys, nil
}

func (s *Service) RevokeAPIKey(ctx context.Context, keyID, actor uuid.UUID) error {
	return s.inTx(ctx, func(tx store.Tx) error {
		if err := tx.RevokeAPIKey(ctx, keyID, s.nowUTC()); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return errs.Newf(errs.KindNotFound, "api key %s not found", keyID)
			}
			return errs.Wrap(errs.KindInternal, err, "revoke api key")
		}
		return s.recorder.Record(ctx, tx, audit.EntityAPIKey, keyID, actor, audit.ActionAPIKeyRevoked, nil)
	})
}

// ----- Audit -----

// QueryAudit pages through the audit log in (occurred_at, id) order.
func (s *Service) QueryAudit(ctx context.Context, filter store.AuditFilter) ([]model.AuditEvent, error) {
	var events []model.AuditEvent
	err := s.readTx(ctx, func(tx store.Tx) error {
		var err error
		events, err = tx.QueryAudit(ctx, filter)
		return err
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "query audit log")
	}
	return events, nil
}
