package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/covenant-data/covenant/pkg/audit"
	"github.com/covenant-data/covenant/pkg/diff"
	"github.com/covenant-data/covenant/pkg/errs"
	"github.com/covenant-data/covenant/pkg/model"
	"github.com/covenant-data/covenant/pkg/notify"
	"github.com/covenant-data/covenant/pkg/observability"
	"github.com/covenant-data/covenant/pkg/schema"
	"github.com/covenant-data/covenant/pkg/store"
	"github.com/covenant-data/covenant/pkg/versioning"
)

// PublishOutcome is the terminal state of one publish attempt.
type PublishOutcome string

const (
	// OutcomePublished: a new active contract was installed.
	OutcomePublished PublishOutcome = "published"
	// OutcomeProposalOpened: the change is breaking; a proposal now awaits
	// consumer acknowledgment and the current contract is unchanged.
	OutcomeProposalOpened PublishOutcome = "proposal_opened"
	// OutcomeNoChange: the proposed schema is canonically identical to the
	// current one and no version was supplied; nothing was written.
	OutcomeNoChange PublishOutcome = "no_change"
)

// PublishInput is one publish request.
// Version may be empty, in which case the version suggested by the diff
// severity is used. Mode of nil defaults to the current contract's mode,
// or backward for a first contract.
type PublishInput struct {
	AssetID    uuid.UUID
	Schema     json.RawMessage
	Version    string
	Mode       *model.CompatibilityMode
	Guarantees *model.Guarantees
	Publisher  uuid.UUID
	Force      bool
}

// PublishResult reports what the coordinator decided.
type PublishResult struct {
	Outcome    PublishOutcome   `json:"outcome"`
	Contract   *model.Contract  `json:"contract,omitempty"`
	Proposal   *model.Proposal  `json:"proposal,omitempty"`
	ChangeType model.ChangeType `json:"change_type"`
	Changes    []diff.Change    `json:"changes,omitempty"`
	Breaking   []diff.Change    `json:"breaking_changes,omitempty"`
	Forced     bool             `json:"forced,omitempty"`
}

// Publish runs the write-path state machine for one asset. The whole
// decision executes under the asset row lock in a single serialisable
// transaction; notifier and cache work happens only after commit.
//
// Pre-release versions and graduations (pre-release to its own stable
// base) publish directly even when the diff is breaking: consumers opt in
// to pre-releases explicitly and a graduation republishes a schema they
// have already seen.
func (s *Service) Publish(ctx context.Context, input PublishInput) (*PublishResult, error) {
	if err := schema.Validate(input.Schema); err != nil {
		return nil, err
	}
	newNode, err := schema.Parse(input.Schema)
	if err != nil {
		return nil, err
	}

	var (
		res      PublishResult
		asset    *model.Asset
		snapshot []uuid.UUID
	)

	err = s.inTx(ctx, func(tx store.Tx) error {
		asset, err = loadLiveAsset(ctx, tx, input.AssetID)
		if err != nil {
			return err
		}
		if err := tx.LockAsset(ctx, input.AssetID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return errs.Newf(errs.KindNotFound, "asset %s not found", input.AssetID)
			}
			return errs.Wrap(errs.KindInternal, err, "lock asset")
		}

		pending, err := tx.PendingProposal(ctx, asset.ID)
		if err != nil {
			return errs.Wrap(errs.KindInternal, err, "load pending proposal")
		}
		if pending != nil {
			return errs.New(errs.KindConflict, "a pending proposal already exists for this asset").
				WithDetails(map[string]any{"proposal_id": pending.ID.String()})
		}

		current, err := tx.ActiveContract(ctx, asset.ID)
		if err != nil {
			return errs.Wrap(errs.KindInternal, err, "load active contract")
		}
		mode, err := resolveMode(input.Mode, current)
		if err != nil {
			return err
		}

		if current == nil {
			return s.publishInitial(ctx, tx, asset, newNode, input, mode, &res)
		}

		oldNode, err := schema.Parse(current.Schema)
		if err != nil {
			return errs.Wrap(errs.KindBrokenContract, err, "stored contract schema cannot be parsed")
		}

		diffStart := time.Now()
		changes := diff.Diff(oldNode, newNode)
		verdict := diff.Classify(changes, mode)
		s.metrics.ObserveDiff(ctx, time.Since(diffStart))

		res.ChangeType = verdict.Severity
		res.Changes = changes
		res.Breaking = verdict.Breaking

		if len(changes) == 0 && input.Version == "" {
			same, err := schema.SameDocument(current.Schema, input.Schema)
			if err != nil {
				return err
			}
			if same {
				res.Outcome = OutcomeNoChange
				res.Contract = current
				return nil
			}
		}

		version := input.Version
		if version == "" {
			version = versioning.Suggest(&current.Version, verdict.Severity).SuggestedVersion
		}
		if _, err := versioning.Parse(version); err != nil {
			return err
		}
		if err := versioning.MustIncrease(current.Version, version); err != nil {
			return err
		}

		needsProposal := verdict.Severity == model.ChangeMajor &&
			!input.Force &&
			!versioning.IsPrerelease(version) &&
			!versioning.IsGraduation(current.Version, version)

		if needsProposal {
			snapshot, err = s.snapshotConsumers(ctx, tx, asset.ID)
			if err != nil {
				return err
			}
			return s.openProposal(ctx, tx, asset, current, input, version, mode, verdict, snapshot, &res)
		}
		return s.publishNext(ctx, tx, asset, current, input, version, mode, verdict, &res)
	})
	if err != nil {
		return nil, err
	}

	switch res.Outcome {
	case OutcomePublished:
		outcome := observability.OutcomePublished
		if res.Forced {
			outcome = observability.OutcomeForcePublished
		}
		s.metrics.RecordPublish(ctx, outcome)
		s.afterPublish(ctx, asset, res.Contract, res.ChangeType)
	case OutcomeProposalOpened:
		s.metrics.RecordPublish(ctx, observability.OutcomeProposalOpened)
		s.notifyProposalOpened(ctx, asset, res.Proposal, snapshot)
	case OutcomeNoChange:
		s.metrics.RecordPublish(ctx, observability.OutcomeNoChange)
	}
	return &res, nil
}

// publishInitial installs the first contract for an asset.
func (s *Service) publishInitial(ctx context.Context, tx store.Tx, asset *model.Asset, node *schema.Node, input PublishInput, mode model.CompatibilityMode, res *PublishResult) error {
	version := input.Version
	if version == "" {
		version = versioning.InitialVersion
	}
	if _, err := versioning.Parse(version); err != nil {
		return err
	}

	changeType := model.ChangeMajor
	if node.Empty() {
		changeType = model.ChangePatch
	}

	contract := &model.Contract{
		ID:                s.ids.NewID(),
		AssetID:           asset.ID,
		Version:           version,
		Schema:            input.Schema,
		CompatibilityMode: mode,
		Guarantees:        input.Guarantees,
		Status:            model.ContractActive,
		PublishedAt:       s.nowUTC(),
		PublishedBy:       input.Publisher,
	}
	if err := s.swapContract(ctx, tx, asset, nil, contract); err != nil {
		return err
	}
	if err := s.recorder.Record(ctx, tx, audit.EntityContract, contract.ID, input.Publisher,
		audit.ActionContractPublished, map[string]any{
			"asset_id":    asset.ID.String(),
			"version":     version,
			"change_type": string(changeType),
			"initial":     true,
		}); err != nil {
		return err
	}

	res.Outcome = OutcomePublished
	res.Contract = contract
	res.ChangeType = changeType
	return nil
}

// publishNext replaces the active contract with a successor. A forced
// breaking publish additionally records the breaking change list.
func (s *Service) publishNext(ctx context.Context, tx store.Tx, asset *model.Asset, current *model.Contract, input PublishInput, version string, mode model.CompatibilityMode, verdict diff.Result, res *PublishResult) error {
	contract := &model.Contract{
		ID:                s.ids.NewID(),
		AssetID:           asset.ID,
		Version:           version,
		Schema:            input.Schema,
		CompatibilityMode: mode,
		Guarantees:        input.Guarantees,
		Status:            model.ContractActive,
		PublishedAt:       s.nowUTC(),
		PublishedBy:       input.Publisher,
	}
	if err := s.swapContract(ctx, tx, asset, current, contract); err != nil {
		return err
	}

	forced := verdict.Severity == model.ChangeMajor && input.Force
	if err := s.recorder.Record(ctx, tx, audit.EntityContract, contract.ID, input.Publisher,
		audit.ActionContractPublished, map[string]any{
			"asset_id":    asset.ID.String(),
			"version":     version,
			"change_type": string(verdict.Severity),
		}); err != nil {
		return err
	}
	if err := s.recorder.Record(ctx, tx, audit.EntityContract, current.ID, input.Publisher,
		audit.ActionContractDeprecated, map[string]any{
			"asset_id":      asset.ID.String(),
			"version":       current.Version,
			"superseded_by": version,
		}); err != nil {
		return err
	}
	if !sameGuarantees(current.Guarantees, contract.Guarantees) {
		if err := s.recorder.Record(ctx, tx, audit.EntityContract, contract.ID, input.Publisher,
			audit.ActionGuaranteesUpdated, map[string]any{
				"asset_id":   asset.ID.String(),
				"version":    version,
				"guarantees": contract.Guarantees,
			}); err != nil {
			return err
		}
	}
	if forced {
		if err := s.recorder.Record(ctx, tx, audit.EntityContract, contract.ID, input.Publisher,
			audit.ActionContractForced, map[string]any{
				"asset_id":         asset.ID.String(),
				"version":          version,
				"breaking_changes": verdict.Breaking,
			}); err != nil {
			return err
		}
	}

	res.Outcome = OutcomePublished
	res.Contract = contract
	res.Forced = forced
	return nil
}

// sameGuarantees compares two guarantee sets through their JSON form, so a
// nil set and an empty set are equivalent.
func sameGuarantees(a, b *model.Guarantees) bool {
	if a == nil {
		a = &model.Guarantees{}
	}
	if b == nil {
		b = &model.Guarantees{}
	}
	aj, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bj, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(aj, bj)
}

// openProposal suspends a breaking publish behind consumer acknowledgment.
// The acknowledger set is snapshotted now; consumers registering later are
// not asked to acknowledge this proposal.
func (s *Service) openProposal(ctx context.Context, tx store.Tx, asset *model.Asset, current *model.Contract, input PublishInput, version string, mode model.CompatibilityMode, verdict diff.Result, snapshot []uuid.UUID, res *PublishResult) error {
	breaking, err := json.Marshal(verdict.Breaking)
	if err != nil {
		return errs.Wrap(errs.KindInternal, err, "encode breaking changes")
	}

	proposal := &model.Proposal{
		ID:                 s.ids.NewID(),
		AssetID:            asset.ID,
		BaseContractID:     current.ID,
		ProposedSchema:     input.Schema,
		ProposedVersion:    version,
		ProposedMode:       mode,
		ProposedGuarantees: input.Guarantees,
		BreakingChanges:    breaking,
		ChangeType:         verdict.Severity,
		Status:             model.ProposalPending,
		ExpectedAckers:     snapshot,
		ProposedBy:         input.Publisher,
		ProposedAt:         s.nowUTC(),
	}
	if err := tx.CreateProposal(ctx, proposal); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return errs.New(errs.KindConflict, "a pending proposal already exists for this asset")
		}
		return errs.Wrap(errs.KindInternal, err, "create proposal")
	}
	if err := s.recorder.Record(ctx, tx, audit.EntityProposal, proposal.ID, input.Publisher,
		audit.ActionProposalOpened, map[string]any{
			"asset_id":         asset.ID.String(),
			"base_version":     current.Version,
			"proposed_version": version,
			"change_type":      string(verdict.Severity),
			"expected_ackers":  len(snapshot),
		}); err != nil {
		return err
	}

	res.Outcome = OutcomeProposalOpened
	res.Proposal = proposal
	return nil
}

func (s *Service) notifyProposalOpened(ctx context.Context, asset *model.Asset, proposal *model.Proposal, consumers []uuid.UUID) {
	event := notify.Event{
		Kind:            notify.KindProposalOpened,
		AssetID:         asset.ID,
		AssetFQN:        asset.FQN,
		ProposalID:      &proposal.ID,
		ProposalStatus:  proposal.Status,
		ProposedVersion: proposal.ProposedVersion,
		ChangeType:      proposal.ChangeType,
		ConsumerTeamIDs: consumers,
		OccurredAt:      s.clock.Now(),
	}
	if err := s.notifier.Notify(ctx, event); err != nil {
		s.log.Warn("proposal notification failed", "asset", asset.FQN, "proposal", proposal.ID, "error", err)
	}
}
