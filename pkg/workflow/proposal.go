package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/covenant-data/covenant/pkg/audit"
	"github.com/covenant-data/covenant/pkg/errs"
	"github.com/covenant-data/covenant/pkg/model"
	"github.com/covenant-data/covenant/pkg/notify"
	"github.com/covenant-data/covenant/pkg/store"
	"github.com/covenant-data/covenant/pkg/versioning"
)

// AcknowledgeInput is one consumer response to a pending proposal.
type AcknowledgeInput struct {
	ProposalID        uuid.UUID
	ConsumerTeamID    uuid.UUID
	Response          model.AckResponse
	MigrationDeadline *time.Time
	Notes             string
}

// AcknowledgeResult reports the acknowledgment and any resolution it
// triggered.
type AcknowledgeResult struct {
	Acknowledgment *model.Acknowledgment `json:"acknowledgment"`
	ProposalStatus model.ProposalStatus  `json:"proposal_status"`
	// Outstanding lists snapshot teams that have not yet responded.
	Outstanding []uuid.UUID `json:"outstanding_teams"`
}

// Acknowledge records a consumer's response. Only teams in the proposal's
// snapshot set may respond, and only while the proposal is pending; a team
// may change its response until resolution. After every acknowledgment the
// resolution rule runs: any block rejects the proposal, full approval
// (approved or migrating from every snapshot team) approves it.
func (s *Service) Acknowledge(ctx context.Context, input AcknowledgeInput) (*AcknowledgeResult, error) {
	if !model.ValidAckResponse(input.Response) {
		return nil, errs.Newf(errs.KindValidation, "invalid acknowledgment response %q", input.Response)
	}

	var (
		res      AcknowledgeResult
		proposal *model.Proposal
		asset    *model.Asset
	)
	err := s.inTx(ctx, func(tx store.Tx) error {
		var err error
		proposal, err = loadProposal(ctx, tx, input.ProposalID)
		if err != nil {
			return err
		}
		if proposal.Status != model.ProposalPending {
			return errs.Newf(errs.KindConflict, "proposal is %s, not pending", proposal.Status)
		}
		if !proposal.ExpectedAcker(input.ConsumerTeamID) {
			return errs.Forbidden("team is not an expected acknowledger for this proposal")
		}
		asset, err = loadLiveAsset(ctx, tx, proposal.AssetID)
		if err != nil {
			return err
		}
		if err := tx.LockAsset(ctx, proposal.AssetID); err != nil {
			return errs.Wrap(errs.KindInternal, err, "lock asset")
		}

		ack := &model.Acknowledgment{
			ID:                s.ids.NewID(),
			ProposalID:        proposal.ID,
			ConsumerTeamID:    input.ConsumerTeamID,
			Response:          input.Response,
			MigrationDeadline: input.MigrationDeadline,
			Notes:             input.Notes,
			RespondedAt:       s.nowUTC(),
		}
		if err := tx.UpsertAcknowledgment(ctx, ack); err != nil {
			return errs.Wrap(errs.KindInternal, err, "record acknowledgment")
		}
		if err := s.recorder.Record(ctx, tx, audit.EntityProposal, proposal.ID, input.ConsumerTeamID,
			audit.ActionProposalAcked, map[string]any{
				"consumer_team_id": input.ConsumerTeamID.String(),
				"response":         string(input.Response),
			}); err != nil {
			return err
		}
		res.Acknowledgment = ack

		status, outstanding, err := s.resolve(ctx, tx, proposal, input.ConsumerTeamID)
		if err != nil {
			return err
		}
		res.ProposalStatus = status
		res.Outstanding = outstanding
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordAcknowledgment(ctx, input.Response)
	if res.ProposalStatus != model.ProposalPending {
		s.metrics.RecordProposalResolution(ctx, res.ProposalStatus)
		s.notifyProposalResolved(ctx, asset, proposal, res.ProposalStatus)
	}
	return &res, nil
}

// resolve applies the resolution rule after an acknowledgment and returns
// the proposal's (possibly unchanged) status plus outstanding teams.
func (s *Service) resolve(ctx context.Context, tx store.Tx, proposal *model.Proposal, actor uuid.UUID) (model.ProposalStatus, []uuid.UUID, error) {
	acks, err := tx.ListAcknowledgments(ctx, proposal.ID)
	if err != nil {
		return "", nil, errs.Wrap(errs.KindInternal, err, "list acknowledgments")
	}

	responded := make(map[uuid.UUID]model.AckResponse, len(acks))
	for _, ack := range acks {
		responded[ack.ConsumerTeamID] = ack.Response
	}

	blocked := false
	outstanding := make([]uuid.UUID, 0)
	for _, team := range proposal.ExpectedAckers {
		response, ok := responded[team]
		if !ok {
			outstanding = append(outstanding, team)
			continue
		}
		if response == model.AckBlocked {
			blocked = true
		}
	}

	switch {
	case blocked:
		if err := s.transition(ctx, tx, proposal, model.ProposalRejected, actor,
			audit.ActionProposalRejected, map[string]any{"reason": "blocked by consumer"}); err != nil {
			return "", nil, err
		}
		return model.ProposalRejected, outstanding, nil
	case len(outstanding) == 0:
		if err := s.transition(ctx, tx, proposal, model.ProposalApproved, actor,
			audit.ActionProposalApproved, map[string]any{"acknowledgments": len(acks)}); err != nil {
			return "", nil, err
		}
		return model.ProposalApproved, outstanding, nil
	default:
		return model.ProposalPending, outstanding, nil
	}
}

// Withdraw cancels a pending proposal. Only the proposing team may
// withdraw unless the actor is an admin.
func (s *Service) Withdraw(ctx context.Context, proposalID, actorTeamID uuid.UUID, admin bool) (*model.Proposal, error) {
	var proposal *model.Proposal
	err := s.inTx(ctx, func(tx store.Tx) error {
		var err error
		proposal, err = loadProposal(ctx, tx, proposalID)
		if err != nil {
			return err
		}
		if proposal.Status != model.ProposalPending {
			return errs.Newf(errs.KindConflict, "proposal is %s, not pending", proposal.Status)
		}
		if !admin && proposal.ProposedBy != actorTeamID {
			return errs.Forbidden("only the proposing team may withdraw a proposal")
		}
		return s.transition(ctx, tx, proposal, model.ProposalWithdrawn, actorTeamID,
			audit.ActionProposalWithdrawn, nil)
	})
	if err != nil {
		return nil, err
	}
	s.metrics.RecordProposalResolution(ctx, model.ProposalWithdrawn)
	return proposal, nil
}

// ForceApprove approves a pending proposal as if every outstanding team
// had approved. The unresolved acknowledger list is preserved in the audit
// trail. Scope enforcement (admin only) happens at the API boundary.
func (s *Service) ForceApprove(ctx context.Context, proposalID, actorTeamID uuid.UUID) (*model.Proposal, error) {
	var proposal *model.Proposal
	err := s.inTx(ctx, func(tx store.Tx) error {
		var err error
		proposal, err = loadProposal(ctx, tx, proposalID)
		if err != nil {
			return err
		}
		if proposal.Status != model.ProposalPending {
			return errs.Newf(errs.KindConflict, "proposal is %s, not pending", proposal.Status)
		}

		acks, err := tx.ListAcknowledgments(ctx, proposal.ID)
		if err != nil {
			return errs.Wrap(errs.KindInternal, err, "list acknowledgments")
		}
		responded := make(map[uuid.UUID]bool, len(acks))
		for _, ack := range acks {
			responded[ack.ConsumerTeamID] = true
		}
		unresolved := make([]string, 0)
		for _, team := range proposal.ExpectedAckers {
			if !responded[team] {
				unresolved = append(unresolved, team.String())
			}
		}

		return s.transition(ctx, tx, proposal, model.ProposalApproved, actorTeamID,
			audit.ActionProposalForced, map[string]any{"unresolved_teams": unresolved})
	})
	if err != nil {
		return nil, err
	}
	s.metrics.RecordProposalResolution(ctx, model.ProposalApproved)
	return proposal, nil
}

// PublishProposal installs an approved proposal's contract. The base
// contract must still be current; if another publish advanced the asset in
// the meantime the proposal is marked rejected and a conflict surfaces.
func (s *Service) PublishProposal(ctx context.Context, proposalID, actorTeamID uuid.UUID) (*PublishResult, error) {
	var (
		res   PublishResult
		asset *model.Asset
	)
	err := s.inTx(ctx, func(tx store.Tx) error {
		proposal, err := loadProposal(ctx, tx, proposalID)
		if err != nil {
			return err
		}
		if proposal.Status != model.ProposalApproved {
			return errs.Newf(errs.KindConflict, "proposal is %s, not approved", proposal.Status)
		}
		asset, err = loadLiveAsset(ctx, tx, proposal.AssetID)
		if err != nil {
			return err
		}
		if err := tx.LockAsset(ctx, asset.ID); err != nil {
			return errs.Wrap(errs.KindInternal, err, "lock asset")
		}

		current, err := tx.ActiveContract(ctx, asset.ID)
		if err != nil {
			return errs.Wrap(errs.KindInternal, err, "load active contract")
		}
		if current == nil || current.ID != proposal.BaseContractID {
			if err := s.transition(ctx, tx, proposal, model.ProposalRejected, actorTeamID,
				audit.ActionProposalRejected, map[string]any{"reason": "base contract no longer current"}); err != nil {
				return err
			}
			return errs.New(errs.KindConflict, "base contract is no longer current; proposal rejected as stale").
				WithDetails(map[string]any{"proposal_id": proposal.ID.String()})
		}
		if err := versioning.MustIncrease(current.Version, proposal.ProposedVersion); err != nil {
			return err
		}

		contract := &model.Contract{
			ID:                s.ids.NewID(),
			AssetID:           asset.ID,
			Version:           proposal.ProposedVersion,
			Schema:            proposal.ProposedSchema,
			CompatibilityMode: proposal.ProposedMode,
			Guarantees:        proposal.ProposedGuarantees,
			Status:            model.ContractActive,
			PublishedAt:       s.nowUTC(),
			PublishedBy:       actorTeamID,
		}
		if err := s.swapContract(ctx, tx, asset, current, contract); err != nil {
			return err
		}
		if err := s.transition(ctx, tx, proposal, model.ProposalPublished, actorTeamID,
			audit.ActionProposalPublished, map[string]any{"contract_id": contract.ID.String()}); err != nil {
			return err
		}
		if err := s.recorder.Record(ctx, tx, audit.EntityContract, contract.ID, actorTeamID,
			audit.ActionContractPublished, map[string]any{
				"asset_id":    asset.ID.String(),
				"version":     contract.Version,
				"change_type": string(proposal.ChangeType),
				"proposal_id": proposal.ID.String(),
			}); err != nil {
			return err
		}
		if err := s.recorder.Record(ctx, tx, audit.EntityContract, current.ID, actorTeamID,
			audit.ActionContractDeprecated, map[string]any{
				"asset_id":      asset.ID.String(),
				"version":       current.Version,
				"superseded_by": contract.Version,
			}); err != nil {
			return err
		}
		if !sameGuarantees(current.Guarantees, contract.Guarantees) {
			if err := s.recorder.Record(ctx, tx, audit.EntityContract, contract.ID, actorTeamID,
				audit.ActionGuaranteesUpdated, map[string]any{
					"asset_id":   asset.ID.String(),
					"version":    contract.Version,
					"guarantees": contract.Guarantees,
				}); err != nil {
				return err
			}
		}

		res = PublishResult{
			Outcome:    OutcomePublished,
			Contract:   contract,
			ChangeType: proposal.ChangeType,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.RecordProposalResolution(ctx, model.ProposalPublished)
	s.afterPublish(ctx, asset, res.Contract, res.ChangeType)
	return &res, nil
}

// ListProposals lists proposals matching the filter.
func (s *Service) ListProposals(ctx context.Context, filter store.ProposalFilter) ([]model.Proposal, error) {
	var proposals []model.Proposal
	err := s.readTx(ctx, func(tx store.Tx) error {
		var err error
		proposals, err = tx.ListProposals(ctx, filter)
		if err != nil {
			return errs.Wrap(errs.KindInternal, err, "list proposals")
		}
		return nil
	})
	return proposals, err
}

// GetProposal returns a proposal together with its acknowledgments so far.
func (s *Service) GetProposal(ctx context.Context, id uuid.UUID) (*model.Proposal, []model.Acknowledgment, error) {
	var (
		proposal *model.Proposal
		acks     []model.Acknowledgment
	)
	err := s.readTx(ctx, func(tx store.Tx) error {
		var err error
		proposal, err = loadProposal(ctx, tx, id)
		if err != nil {
			return err
		}
		acks, err = tx.ListAcknowledgments(ctx, id)
		if err != nil {
			return errs.Wrap(errs.KindInternal, err, "list acknowledgments")
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return proposal, acks, nil
}

// transition moves a proposal to a terminal status and records the audit
// event inside the same transaction.
func (s *Service) transition(ctx context.Context, tx store.Tx, proposal *model.Proposal, status model.ProposalStatus, actor uuid.UUID, action string, payload map[string]any) error {
	now := s.nowUTC()
	proposal.Status = status
	proposal.ResolvedAt = &now
	if err := tx.UpdateProposal(ctx, proposal); err != nil {
		return errs.Wrap(errs.KindInternal, err, "update proposal")
	}
	return s.recorder.Record(ctx, tx, audit.EntityProposal, proposal.ID, actor, action, payload)
}

func loadProposal(ctx context.Context, tx store.Tx, id uuid.UUID) (*model.Proposal, error) {
	proposal, err := tx.GetProposal(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errs.Newf(errs.KindNotFound, "proposal %s not found", id)
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "load proposal")
	}
	return proposal, nil
}

func (s *Service) notifyProposalResolved(ctx context.Context, asset *model.Asset, proposal *model.Proposal, status model.ProposalStatus) {
	event := notify.Event{
		Kind:            notify.KindProposalResolved,
		AssetID:         asset.ID,
		AssetFQN:        asset.FQN,
		ProposalID:      &proposal.ID,
		ProposalStatus:  status,
		ProposedVersion: proposal.ProposedVersion,
		ChangeType:      proposal.ChangeType,
		OccurredAt:      s.clock.Now(),
	}
	if err := s.notifier.Notify(ctx, event); err != nil {
		s.log.Warn("proposal resolution notification failed", "proposal", proposal.ID, "error", err)
	}
}
