package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/covenant-data/covenant/pkg/model"
)

// ----- Teams -----

func (t *sqlTx) CreateTeam(ctx context.Context, team *model.Team) error {
	meta, err := marshalJSON(team.Metadata)
	if err != nil {
		return err
	}
	// Live-slug uniqueness has no partial index on SQLite; check in-tx.
	var count int
	err = t.tx.QueryRowContext(ctx, t.q(
		`SELECT COUNT(*) FROM `+t.table("core", "teams")+` WHERE slug = $1 AND deleted_at IS NULL`),
		team.Slug).Scan(&count)
	if err != nil {
		return err
	}
	if count > 0 {
		return ErrDuplicate
	}
	_, err = t.tx.ExecContext(ctx, t.q(
		`INSERT INTO `+t.table("core", "teams")+` (id, name, slug, metadata, created_at, deleted_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`),
		team.ID.String(), team.Name, team.Slug, meta, team.CreatedAt, nullTime(team.DeletedAt))
	return mapWriteErr(err)
}

func (t *sqlTx) scanTeam(row interface{ Scan(...any) error }) (*model.Team, error) {
	var team model.Team
	var id string
	var meta sql.NullString
	var deletedAt sql.NullTime
	if err := row.Scan(&id, &team.Name, &team.Slug, &meta, &team.CreatedAt, &deletedAt); err != nil {
		return nil, err
	}
	team.ID = scanUUID(id)
	team.DeletedAt = scanNullTime(deletedAt)
	m, err := unmarshalJSON[map[string]any](meta)
	if err != nil {
		return nil, err
	}
	if m != nil {
		team.Metadata = *m
	}
	return &team, nil
}

const teamColumns = `id, name, slug, metadata, created_at, deleted_at`

func (t *sqlTx) GetTeam(ctx context.Context, id uuid.UUID) (*model.Team, error) {
	row := t.tx.QueryRowContext(ctx, t.q(
		`SELECT `+teamColumns+` FROM `+t.table("core", "teams")+` WHERE id = $1 AND deleted_at IS NULL`),
		id.String())
	team, err := t.scanTeam(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return team, err
}

func (t *sqlTx) ListTeams(ctx context.Context) ([]model.Team, error) {
	rows, err := t.tx.QueryContext(ctx, t.q(
		`SELECT `+teamColumns+` FROM `+t.table("core", "teams")+` WHERE deleted_at IS NULL ORDER BY created_at, id`))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]model.Team, 0)
	for rows.Next() {
		team, err := t.scanTeam(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *team)
	}
	return out, rows.Err()
}

func (t *sqlTx) SoftDeleteTeam(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := t.tx.ExecContext(ctx, t.q(
		`UPDATE `+t.table("core", "teams")+` SET deleted_at = $1 WHERE id = $2 AND deleted_at IS NULL`),
		at, id.String())
	if err != nil {
		return err
	}
	return requireRow(res)
}

// ----- Assets -----

const assetColumns = `id, fqn, owner_team_id, resource_type, current_contract_id, metadata, created_at, deleted_at`

func (t *sqlTx) CreateAsset(ctx context.Context, asset *model.Asset) error {
	meta, err := marshalJSON(asset.Metadata)
	if err != nil {
		return err
	}
	var count int
	err = t.tx.QueryRowContext(ctx, t.q(
		`SELECT COUNT(*) FROM `+t.table("core", "assets")+` WHERE fqn = $1 AND deleted_at IS NULL`),
		asset.FQN).Scan(&count)
	if err != nil {
		return err
	}
	if count > 0 {
		return ErrDuplicate
	}
	_, err = t.tx.ExecContext(ctx, t.q(
		`INSERT INTO `+t.table("core", "assets")+` (`+assetColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`),
		asset.ID.String(), asset.FQN, asset.OwnerTeamID.String(), string(asset.ResourceType),
		nullUUID(asset.CurrentContractID), meta, asset.CreatedAt, nullTime(asset.DeletedAt))
	return mapWriteErr(err)
}

func (t *sqlTx) scanAsset(row interface{ Scan(...any) error }) (*model.Asset, error) {
	var asset model.Asset
	var id, owner, resourceType string
	var current, meta sql.NullString
	var deletedAt sql.NullTime
	if err := row.Scan(&id, &asset.FQN, &owner, &resourceType, &current, &meta, &asset.CreatedAt, &deletedAt); err != nil {
		return nil, err
	}
	asset.ID = scanUUID(id)
	asset.OwnerTeamID = scanUUID(owner)
	asset.ResourceType = model.ResourceType(resourceType)
	asset.CurrentContractID = scanNullUUID(current)
	asset.DeletedAt = scanNullTime(deletedAt)
	m, err := unmarshalJSON[map[string]any](meta)
	if err != nil {
		return nil, err
	}
	if m != nil {
		asset.Metadata = *m
	}
	return &asset, nil
}

func (t *sqlTx) GetAsset(ctx context.Context, id uuid.UUID) (*model.Asset, error) {
	row := t.tx.QueryRowContext(ctx, t.q(
		`SELECT `+assetColumns+` FROM `+t.table("core", "assets")+` WHERE id = $1 AND deleted_at IS NULL`),
		id.String())
	asset, err := t.scanAsset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return asset, err
}

func (t *sqlTx) GetAssetByFQN(ctx context.Context, fqn string) (*model.Asset, error) {
	row := t.tx.QueryRowContext(ctx, t.q(
		`SELECT `+assetColumns+` FROM `+t.table("core", "assets")+` WHERE fqn = $1 AND deleted_at IS NULL`),
		fqn)
	asset, err := t.scanAsset(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return asset, err
}

func (t *sqlTx) ListAssets(ctx context.Context, filter AssetFilter) ([]model.Asset, error) {
	query := `SELECT ` + assetColumns + ` FROM ` + t.table("core", "assets") + ` WHERE 1=1`
	args := []any{}
	n := 1
	if !filter.IncludeDeleted {
		query += ` AND deleted_at IS NULL`
	}
	if filter.OwnerTeamID != nil {
		query += ` AND owner_team_id = $` + itoa(n)
		args = append(args, filter.OwnerTeamID.String())
		n++
	}
	if filter.ResourceType != nil {
		query += ` AND resource_type = $` + itoa(n)
		args = append(args, string(*filter.ResourceType))
		n++
	}
	query += ` ORDER BY created_at, id`
	if filter.Limit > 0 {
		query += ` LIMIT $` + itoa(n)
		args = append(args, filter.Limit)
	}

	rows, err := t.tx.QueryContext(ctx, t.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]model.Asset, 0)
	for rows.Next() {
		asset, err := t.scanAsset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *asset)
	}
	return out, rows.Err()
}

func (t *sqlTx) SetCurrentContract(ctx context.Context, assetID uuid.UUID, contractID *uuid.UUID) error {
	res, err := t.tx.ExecContext(ctx, t.q(
		`UPDATE `+t.table("core", "assets")+` SET current_contract_id = $1 WHERE id = $2`),
		nullUUID(contractID), assetID.String())
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (t *sqlTx) SoftDeleteAsset(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := t.tx.ExecContext(ctx, t.q(
		`UPDATE `+t.table("core", "assets")+` SET deleted_at = $1 WHERE id = $2 AND deleted_at IS NULL`),
		at, id.String())
	if err != nil {
		return err
	}
	return requireRow(res)
}

// ----- Contracts -----

const contractColumns = `id, asset_id, version, schema_def, compatibility_mode, guarantees, status, published_at, published_by`

func (t *sqlTx) CreateContract(ctx context.Context, contract *model.Contract) error {
	guarantees, err := marshalJSON(contract.Guarantees)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, t.q(
		`INSERT INTO `+t.table("core", "contracts")+` (`+contractColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`),
		contract.ID.String(), contract.AssetID.String(), contract.Version, string(contract.Schema),
		string(contract.CompatibilityMode), guarantees, string(contract.Status),
		contract.PublishedAt, contract.PublishedBy.String())
	return mapWriteErr(err)
}

func (t *sqlTx) scanContract(row interface{ Scan(...any) error }) (*model.Contract, error) {
	var contract model.Contract
	var id, assetID, mode, status, publishedBy, schemaDef string
	var guarantees sql.NullString
	if err := row.Scan(&id, &assetID, &contract.Version, &schemaDef, &mode, &guarantees, &status, &contract.PublishedAt, &publishedBy); err != nil {
		return nil, err
	}
	contract.ID = scanUUID(id)
	contract.AssetID = scanUUID(assetID)
	contract.Schema = json.RawMessage(schemaDef)
	contract.CompatibilityMode = model.CompatibilityMode(mode)
	contract.Status = model.ContractStatus(status)
	contract.PublishedBy = scanUUID(publishedBy)
	g, err := unmarshalJSON[model.Guarantees](guarantees)
	if err != nil {
		return nil, err
	}
	contract.Guarantees = g
	return &contract, nil
}

func (t *sqlTx) GetContract(ctx context.Context, id uuid.UUID) (*model.Contract, error) {
	row := t.tx.QueryRowContext(ctx, t.q(
		`SELECT `+contractColumns+` FROM `+t.table("core", "contracts")+` WHERE id = $1`),
		id.String())
	contract, err := t.scanContract(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return contract, err
}

func (t *sqlTx) ActiveContract(ctx context.Context, assetID uuid.UUID) (*model.Contract, error) {
	row := t.tx.QueryRowContext(ctx, t.q(
		`SELECT `+contractColumns+` FROM `+t.table("core", "contracts")+`
		 WHERE asset_id = $1 AND status = $2 ORDER BY published_at DESC, id DESC LIMIT 1`),
		assetID.String(), string(model.ContractActive))
	contract, err := t.scanContract(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return contract, err
}

func (t *sqlTx) ListContracts(ctx context.Context, assetID uuid.UUID) ([]model.Contract, error) {
	rows, err := t.tx.QueryContext(ctx, t.q(
		`SELECT `+contractColumns+` FROM `+t.table("core", "contracts")+`
		 WHERE asset_id = $1 ORDER BY published_at, id`),
		assetID.String())
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]model.Contract, 0)
	for rows.Next() {
		contract, err := t.scanContract(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *contract)
	}
	return out, rows.Err()
}

func (t *sqlTx) SetContractStatus(ctx context.Context, id uuid.UUID, status model.ContractStatus) error {
	res, err := t.tx.ExecContext(ctx, t.q(
		`UPDATE `+t.table("core", "contracts")+` SET status = $1 WHERE id = $2`),
		string(status), id.String())
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (t *sqlTx) SetContractGuarantees(ctx context.Context, id uuid.UUID, guarantees *model.Guarantees) error {
	g, err := marshalJSON(guarantees)
	if err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx, t.q(
		`UPDATE `+t.table("core", "contracts")+` SET guarantees = $1 WHERE id = $2`),
		g, id.String())
	if err != nil {
		return err
	}
	return requireRow(res)
}

// ----- Registrations -----

const registrationColumns = `id, asset_id, consumer_team_id, pinned_version, status, registered_at`

func (t *sqlTx) CreateRegistration(ctx context.Context, reg *model.Registration) error {
	var count int
	err := t.tx.QueryRowContext(ctx, t.q(
		`SELECT COUNT(*) FROM `+t.table("core", "registrations")+`
		 WHERE asset_id = $1 AND consumer_team_id = $2 AND status != $3`),
		reg.AssetID.String(), reg.ConsumerTeamID.String(), string(model.RegistrationInactive)).Scan(&count)
	if err != nil {
		return err
	}
	if count > 0 {
		return ErrDuplicate
	}
	_, err = t.tx.ExecContext(ctx, t.q(
		`INSERT INTO `+t.table("core", "registrations")+` (`+registrationColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6)`),
		reg.ID.String(), reg.AssetID.String(), reg.ConsumerTeamID.String(),
		nullString(reg.PinnedVersion), string(reg.Status), reg.RegisteredAt)
	return mapWriteErr(err)
}

func (t *sqlTx) scanRegistration(row interface{ Scan(...any) error }) (*model.Registration, error) {
	var reg model.Registration
	var id, assetID, consumer, status string
	var pinned sql.NullString
	if err := row.Scan(&id, &assetID, &consumer, &pinned, &status, &reg.RegisteredAt); err != nil {
		return nil, err
	}
	reg.ID = scanUUID(id)
	reg.AssetID = scanUUID(assetID)
	reg.ConsumerTeamID = scanUUID(consumer)
	reg.Status = model.RegistrationStatus(status)
	if pinned.Valid {
		v := pinned.String
		reg.PinnedVersion = &v
	}
	return &reg, nil
}

func (t *sqlTx) GetRegistration(ctx context.Context, id uuid.UUID) (*model.Registration, error) {
	row := t.tx.QueryRowContext(ctx, t.q(
		`SELECT `+registrationColumns+` FROM `+t.table("core", "registrations")+` WHERE id = $1`),
		id.String())
	reg, err := t.scanRegistration(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return reg, err
}

func (t *sqlTx) ListRegistrations(ctx context.Context, filter RegistrationFilter) ([]model.Registration, error) {
	query := `SELECT ` + registrationColumns + ` FROM ` + t.table("core", "registrations") + ` WHERE 1=1`
	args := []any{}
	n := 1
	if filter.AssetID != nil {
		query += ` AND asset_id = $` + itoa(n)
		args = append(args, filter.AssetID.String())
		n++
	}
	if filter.ConsumerTeamID != nil {
		query += ` AND consumer_team_id = $` + itoa(n)
		args = append(args, filter.ConsumerTeamID.String())
		n++
	}
	if filter.Status != nil {
		query += ` AND status = $` + itoa(n)
		args = append(args, string(*filter.Status))
	}
	query += ` ORDER BY registered_at, id`

	rows, err := t.tx.QueryContext(ctx, t.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]model.Registration, 0)
	for rows.Next() {
		reg, err := t.scanRegistration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *reg)
	}
	return out, rows.Err()
}

func (t *sqlTx) SetRegistrationStatus(ctx context.Context, id uuid.UUID, status model.RegistrationStatus) error {
	res, err := t.tx.ExecContext(ctx, t.q(
		`UPDATE `+t.table("core", "registrations")+` SET status = $1 WHERE id = $2`),
		string(status), id.String())
	if err != nil {
		return err
	}
	return requireRow(res)
}

// ----- Proposals -----

const proposalColumns = `id, asset_id, base_contract_id, proposed_schema, proposed_version, proposed_mode, proposed_guarantees, breaking_changes, change_type, status, expected_ackers, proposed_by, proposed_at, resolved_at`

func (t *sqlTx) CreateProposal(ctx context.Context, proposal *model.Proposal) error {
	if proposal.Status == model.ProposalPending {
		var count int
		err := t.tx.QueryRowContext(ctx, t.q(
			`SELECT COUNT(*) FROM `+t.table("workflow", "proposals")+` WHERE asset_id = $1 AND status = $2`),
			proposal.AssetID.String(), string(model.ProposalPending)).Scan(&count)
		if err != nil {
			return err
		}
		if count > 0 {
			return ErrDuplicate
		}
	}
	guarantees, err := marshalJSON(proposal.ProposedGuarantees)
	if err != nil {
		return err
	}
	ackers, err := marshalJSON(proposal.ExpectedAckers)
	if err != nil {
		return err
	}
	breaking := string(proposal.BreakingChanges)
	if breaking == "" {
		breaking = "[]"
	}
	_, err = t.tx.ExecContext(ctx, t.q(
		`INSERT INTO `+t.table("workflow", "proposals")+` (`+proposalColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`),
		proposal.ID.String(), proposal.AssetID.String(), proposal.BaseContractID.String(),
		string(proposal.ProposedSchema), proposal.ProposedVersion, string(proposal.ProposedMode),
		guarantees, breaking, string(proposal.ChangeType), string(proposal.Status),
		ackers, proposal.ProposedBy.String(), proposal.ProposedAt, nullTime(proposal.ResolvedAt))
	return mapWriteErr(err)
}

func (t *sqlTx) scanProposal(row interface{ Scan(...any) error }) (*model.Proposal, error) {
	var p model.Proposal
	var id, assetID, baseID, schemaDef, version, mode, changeType, status, proposedBy, breaking, ackers string
	var guarantees sql.NullString
	var resolvedAt sql.NullTime
	if err := row.Scan(&id, &assetID, &baseID, &schemaDef, &version, &mode, &guarantees, &breaking,
		&changeType, &status, &ackers, &proposedBy, &p.ProposedAt, &resolvedAt); err != nil {
		return nil, err
	}
	p.ID = scanUUID(id)
	p.AssetID = scanUUID(assetID)
	p.BaseContractID = scanUUID(baseID)
	p.ProposedSchema = json.RawMessage(schemaDef)
	p.ProposedVersion = version
	p.ProposedMode = model.CompatibilityMode(mode)
	p.BreakingChanges = json.RawMessage(breaking)
	p.ChangeType = model.ChangeType(changeType)
	p.Status = model.ProposalStatus(status)
	p.ProposedBy = scanUUID(proposedBy)
	p.ResolvedAt = scanNullTime(resolvedAt)
	g, err := unmarshalJSON[model.Guarantees](guarantees)
	if err != nil {
		return nil, err
	}
	p.ProposedGuarantees = g
	if err := json.Unmarshal([]byte(ackers), &p.ExpectedAckers); err != nil {
		return nil, err
	}
	return &p, nil
}

func (t *sqlTx) GetProposal(ctx context.Context, id uuid.UUID) (*model.Proposal, error) {
	row := t.tx.QueryRowContext(ctx, t.q(
		`SELECT `+proposalColumns+` FROM `+t.table("workflow", "proposals")+` WHERE id = $1`),
		id.String())
	p, err := t.scanProposal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

func (t *sqlTx) PendingProposal(ctx context.Context, assetID uuid.UUID) (*model.Proposal, error) {
	row := t.tx.QueryRowContext(ctx, t.q(
		`SELECT `+proposalColumns+` FROM `+t.table("workflow", "proposals")+`
		 WHERE asset_id = $1 AND status = $2 LIMIT 1`),
		assetID.String(), string(model.ProposalPending))
	p, err := t.scanProposal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

func (t *sqlTx) UpdateProposal(ctx context.Context, proposal *model.Proposal) error {
	res, err := t.tx.ExecContext(ctx, t.q(
		`UPDATE `+t.table("workflow", "proposals")+` SET status = $1, resolved_at = $2 WHERE id = $3`),
		string(proposal.Status), nullTime(proposal.ResolvedAt), proposal.ID.String())
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (t *sqlTx) ListProposals(ctx context.Context, filter ProposalFilter) ([]model.Proposal, error) {
	query := `SELECT ` + proposalColumns + ` FROM ` + t.table("workflow", "proposals") + ` WHERE 1=1`
	args := []any{}
	n := 1
	if filter.AssetID != nil {
		query += ` AND asset_id = $` + itoa(n)
		args = append(args, filter.AssetID.String())
		n++
	}
	if filter.Status != nil {
		query += ` AND status = $` + itoa(n)
		args = append(args, string(*filter.Status))
		n++
	}
	if filter.ProposedBy != nil {
		query += ` AND proposed_by = $` + itoa(n)
		args = append(args, filter.ProposedBy.String())
		n++
	}
	query += ` ORDER BY proposed_at, id`
	if filter.Limit > 0 {
		query += ` LIMIT $` + itoa(n)
		args = append(args, filter.Limit)
	}

	rows, err := t.tx.QueryContext(ctx, t.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]model.Proposal, 0)
	for rows.Next() {
		p, err := t.scanProposal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// ----- Acknowledgments -----

func (t *sqlTx) UpsertAcknowledgment(ctx context.Context, ack *model.Acknowledgment) error {
	res, err := t.tx.ExecContext(ctx, t.q(
		`UPDATE `+t.table("workflow", "acknowledgments")+`
		 SET response = $1, migration_deadline = $2, notes = $3, responded_at = $4
		 WHERE proposal_id = $5 AND consumer_team_id = $6`),
		string(ack.Response), nullTime(ack.MigrationDeadline), ack.Notes, ack.RespondedAt,
		ack.ProposalID.String(), ack.ConsumerTeamID.String())
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}
	_, err = t.tx.ExecContext(ctx, t.q(
		`INSERT INTO `+t.table("workflow", "acknowledgments")+`
		 (id, proposal_id, consumer_team_id, response, migration_deadline, notes, responded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`),
		ack.ID.String(), ack.ProposalID.String(), ack.ConsumerTeamID.String(),
		string(ack.Response), nullTime(ack.MigrationDeadline), ack.Notes, ack.RespondedAt)
	return mapWriteErr(err)
}

func (t *sqlTx) ListAcknowledgments(ctx context.Context, proposalID uuid.UUID) ([]model.Acknowledgment, error) {
	rows, err := t.tx.QueryContext(ctx, t.q(
		`SELECT id, proposal_id, consumer_team_id, response, migration_deadline, notes, responded_at
		 FROM `+t.table("workflow", "acknowledgments")+` WHERE proposal_id = $1 ORDER BY responded_at, id`),
		proposalID.String())
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]model.Acknowledgment, 0)
	for rows.Next() {
		var ack model.Acknowledgment
		var id, propID, consumer, response string
		var notes sql.NullString
		var deadline sql.NullTime
		if err := rows.Scan(&id, &propID, &consumer, &response, &deadline, &notes, &ack.RespondedAt); err != nil {
			return nil, err
		}
		ack.ID = scanUUID(id)
		ack.ProposalID = scanUUID(propID)
		ack.ConsumerTeamID = scanUUID(consumer)
		ack.Response = model.AckResponse(response)
		ack.MigrationDeadline = scanNullTime(deadline)
		if notes.Valid {
			ack.Notes = notes.String
		}
		out = append(out, ack)
	}
	return out, rows.Err()
}

// ----- Lineage -----

func (t *sqlTx) AddDependency(ctx context.Context, dep *model.AssetDependency) error {
	_, err := t.tx.ExecContext(ctx, t.q(
		`INSERT INTO `+t.table("core", "dependencies")+` (upstream_asset_id, downstream_asset_id, created_at)
		 VALUES ($1, $2, $3)`),
		dep.UpstreamAssetID.String(), dep.DownstreamAssetID.String(), dep.CreatedAt)
	return mapWriteErr(err)
}

func (t *sqlTx) ListDownstream(ctx context.Context, assetID uuid.UUID) ([]uuid.UUID, error) {
	return t.listEdges(ctx,
		`SELECT downstream_asset_id FROM `+t.table("core", "dependencies")+
			` WHERE upstream_asset_id = $1 ORDER BY downstream_asset_id`, assetID)
}

func (t *sqlTx) ListUpstream(ctx context.Context, assetID uuid.UUID) ([]uuid.UUID, error) {
	return t.listEdges(ctx,
		`SELECT upstream_asset_id FROM `+t.table("core", "dependencies")+
			` WHERE downstream_asset_id = $1 ORDER BY upstream_asset_id`, assetID)
}

func (t *sqlTx) listEdges(ctx context.Context, query string, assetID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := t.tx.QueryContext(ctx, t.q(query), assetID.String())
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]uuid.UUID, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, scanUUID(id))
	}
	return out, rows.Err()
}

// ----- API keys -----

func (t *sqlTx) CreateAPIKey(ctx context.Context, key *model.APIKey) error {
	_, err := t.tx.ExecContext(ctx, t.q(
		`INSERT INTO `+t.table("core", "api_keys")+` (id, team_id, name, digest, scope, created_at, revoked_at, last_used_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`),
		key.ID.String(), key.TeamID.String(), key.Name, key.Digest, string(key.Scope),
		key.CreatedAt, nullTime(key.RevokedAt), nullTime(key.LastUsedAt))
	return mapWriteErr(err)
}

func (t *sqlTx) scanAPIKey(row interface{ Scan(...any) error }) (*model.APIKey, error) {
	var key model.APIKey
	var id, teamID, scope string
	var revokedAt, lastUsedAt sql.NullTime
	if err := row.Scan(&id, &teamID, &key.Name, &key.Digest, &scope, &key.CreatedAt, &revokedAt, &lastUsedAt); err != nil {
		return nil, err
	}
	key.ID = scanUUID(id)
	key.TeamID = scanUUID(teamID)
	key.Scope = model.KeyScope(scope)
	key.RevokedAt = scanNullTime(revokedAt)
	key.LastUsedAt = scanNullTime(lastUsedAt)
	return &key, nil
}

func (t *sqlTx) GetAPIKeyByDigest(ctx context.Context, digest string) (*model.APIKey, error) {
	row := t.tx.QueryRowContext(ctx, t.q(
		`SELECT id, team_id, name, digest, scope, created_at, revoked_at, last_used_at
		 FROM `+t.table("core", "api_keys")+` WHERE digest = $1 AND revoked_at IS NULL`),
		digest)
	key, err := t.scanAPIKey(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return key, err
}

func (t *sqlTx) ListAPIKeys(ctx context.Context, teamID uuid.UUID) ([]model.APIKey, error) {
	rows, err := t.tx.QueryContext(ctx, t.q(
		`SELECT id, team_id, name, digest, scope, created_at, revoked_at, last_used_at
		 FROM `+t.table("core", "api_keys")+` WHERE team_id = $1 ORDER BY created_at, id`),
		teamID.String())
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]model.APIKey, 0)
	for rows.Next() {
		key, err := t.scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *key)
	}
	return out, rows.Err()
}

func (t *sqlTx) RevokeAPIKey(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := t.tx.ExecContext(ctx, t.q(
		`UPDATE `+t.table("core", "api_keys")+` SET revoked_at = $1 WHERE id = $2 AND revoked_at IS NULL`),
		at, id.String())
	if err != nil {
		return err
	}
	return requireRow(res)
}

func (t *sqlTx) TouchAPIKey(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := t.tx.ExecContext(ctx, t.q(
		`UPDATE `+t.table("core", "api_keys")+` SET last_used_at = $1 WHERE id = $2`),
		at, id.String())
	return err
}

// ----- Audit -----

func (t *sqlTx) AppendAudit(ctx context.Context, event *model.AuditEvent) error {
	payload := string(event.Payload)
	var payloadArg any
	if payload != "" {
		payloadArg = payload
	}
	_, err := t.tx.ExecContext(ctx, t.q(
		`INSERT INTO `+t.table("audit", "events")+` (id, entity_type, entity_id, action, actor_id, payload, occurred_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`),
		event.ID.String(), event.EntityType, event.EntityID.String(), event.Action,
		event.ActorID.String(), payloadArg, event.OccurredAt)
	return mapWriteErr(err)
}

func (t *sqlTx) QueryAudit(ctx context.Context, filter AuditFilter) ([]model.AuditEvent, error) {
	query := `SELECT id, entity_type, entity_id, action, actor_id, payload, occurred_at
		 FROM ` + t.table("audit", "events") + ` WHERE 1=1`
	args := []any{}
	n := 1
	add := func(clause string, value any) {
		query += ` AND ` + clause + ` $` + itoa(n)
		args = append(args, value)
		n++
	}
	if filter.EntityType != "" {
		add(`entity_type =`, filter.EntityType)
	}
	if filter.EntityID != nil {
		add(`entity_id =`, filter.EntityID.String())
	}
	if filter.ActorID != nil {
		add(`actor_id =`, filter.ActorID.String())
	}
	if filter.Action != "" {
		add(`action =`, filter.Action)
	}
	if filter.From != nil {
		add(`occurred_at >=`, *filter.From)
	}
	if filter.To != nil {
		add(`occurred_at <=`, *filter.To)
	}
	if filter.Cursor != nil {
		query += ` AND (occurred_at > $` + itoa(n) + ` OR (occurred_at = $` + itoa(n+1) + ` AND id > $` + itoa(n+2) + `))`
		args = append(args, filter.Cursor.OccurredAt, filter.Cursor.OccurredAt, filter.Cursor.ID.String())
		n += 3
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultAuditPageSize
	}
	query += ` ORDER BY occurred_at, id LIMIT $` + itoa(n)
	args = append(args, limit)

	rows, err := t.tx.QueryContext(ctx, t.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make([]model.AuditEvent, 0)
	for rows.Next() {
		var e model.AuditEvent
		var id, entityID, actorID string
		var payload sql.NullString
		if err := rows.Scan(&id, &e.EntityType, &entityID, &e.Action, &actorID, &payload, &e.OccurredAt); err != nil {
			return nil, err
		}
		e.ID = scanUUID(id)
		e.EntityID = scanUUID(entityID)
		e.ActorID = scanUUID(actorID)
		if payload.Valid {
			e.Payload = json.RawMessage(payload.String)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func requireRow(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func itoa(n int) string { return strconv.Itoa(n) }
