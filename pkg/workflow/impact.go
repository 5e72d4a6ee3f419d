package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/covenant-data/covenant/pkg/diff"
	"github.com/covenant-data/covenant/pkg/errs"
	"github.com/covenant-data/covenant/pkg/model"
	"github.com/covenant-data/covenant/pkg/schema"
	"github.com/covenant-data/covenant/pkg/store"
	"github.com/covenant-data/covenant/pkg/versioning"
)

// ImpactedConsumer is one registered consumer affected by a proposed change.
type ImpactedConsumer struct {
	TeamID        uuid.UUID                `json:"team_id"`
	TeamName      string                   `json:"team_name"`
	PinnedVersion *string                  `json:"pinned_version,omitempty"`
	Status        model.RegistrationStatus `json:"registration_status"`
}

// ImpactReport is the result of a dry-run compatibility analysis.
type ImpactReport struct {
	AssetID           uuid.UUID          `json:"asset_id"`
	CurrentVersion    *string            `json:"current_version,omitempty"`
	ChangeType        model.ChangeType   `json:"change_type"`
	Changes           []diff.Change      `json:"changes"`
	BreakingChanges   []diff.Change      `json:"breaking_changes"`
	ImpactedConsumers []ImpactedConsumer `json:"impacted_consumers"`
	SafeToPublish     bool               `json:"safe_to_publish"`
	Suggestion        versioning.Suggestion `json:"version_suggestion"`
}

// Impact analyses a proposed schema against the asset's current contract.
// It is a pure read: no writes, no audit events, no notifications. With no
// current contract the publish is trivially safe and classified major for
// a non-empty schema.
func (s *Service) Impact(ctx context.Context, assetID uuid.UUID, proposed json.RawMessage, mode *model.CompatibilityMode) (*ImpactReport, error) {
	if err := schema.Validate(proposed); err != nil {
		return nil, err
	}
	newNode, err := schema.Parse(proposed)
	if err != nil {
		return nil, err
	}

	report := &ImpactReport{
		AssetID:         assetID,
		Changes:         []diff.Change{},
		BreakingChanges: []diff.Change{},
	}

	err = s.readTx(ctx, func(tx store.Tx) error {
		asset, err := loadLiveAsset(ctx, tx, assetID)
		if err != nil {
			return err
		}
		current, err := tx.ActiveContract(ctx, asset.ID)
		if err != nil {
			return errs.Wrap(errs.KindInternal, err, "load active contract")
		}

		if current == nil {
			report.ChangeType = model.ChangeMajor
			if newNode.Empty() {
				report.ChangeType = model.ChangePatch
			}
			report.SafeToPublish = true
			report.ImpactedConsumers = []ImpactedConsumer{}
			report.Suggestion = versioning.Suggest(nil, report.ChangeType)
			return nil
		}

		effectiveMode, err := resolveMode(mode, current)
		if err != nil {
			return err
		}
		oldNode, err := schema.Parse(current.Schema)
		if err != nil {
			return errs.Wrap(errs.KindBrokenContract, err, "stored contract schema cannot be parsed")
		}

		diffStart := time.Now()
		changes := diff.Diff(oldNode, newNode)
		verdict := diff.Classify(changes, effectiveMode)
		s.metrics.ObserveDiff(ctx, time.Since(diffStart))

		report.CurrentVersion = &current.Version
		report.ChangeType = verdict.Severity
		report.Changes = changes
		report.BreakingChanges = verdict.Breaking
		report.SafeToPublish = len(verdict.Breaking) == 0
		report.Suggestion = versioning.Suggest(&current.Version, verdict.Severity)

		consumers, err := s.impactedConsumers(ctx, tx, asset.ID)
		if err != nil {
			return err
		}
		report.ImpactedConsumers = consumers
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

// impactedConsumers lists non-inactive registrations whose team is live.
func (s *Service) impactedConsumers(ctx context.Context, tx store.Tx, assetID uuid.UUID) ([]ImpactedConsumer, error) {
	regs, err := tx.ListRegistrations(ctx, store.RegistrationFilter{AssetID: &assetID})
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "list registrations")
	}
	out := make([]ImpactedConsumer, 0, len(regs))
	seen := make(map[uuid.UUID]bool)
	for _, reg := range regs {
		if reg.Status == model.RegistrationInactive || seen[reg.ConsumerTeamID] {
			continue
		}
		team, err := tx.GetTeam(ctx, reg.ConsumerTeamID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, errs.Wrap(errs.KindInternal, err, "load consumer team")
		}
		seen[reg.ConsumerTeamID] = true
		out = append(out, ImpactedConsumer{
			TeamID:        team.ID,
			TeamName:      team.Name,
			PinnedVersion: reg.PinnedVersion,
			Status:        reg.Status,
		})
	}
	return out, nil
}

// CompareReport is a classification of the diff between two schemas,
// detached from any stored contract.
type CompareReport struct {
	ChangeType      model.ChangeType `json:"change_type"`
	Changes         []diff.Change    `json:"changes"`
	BreakingChanges []diff.Change    `json:"breaking_changes"`
	Compatible      bool             `json:"compatible"`
}

// Compare diffs two raw schemas under a mode without touching the store.
func (s *Service) Compare(ctx context.Context, oldRaw, newRaw json.RawMessage, mode model.CompatibilityMode) (*CompareReport, error) {
	if !model.ValidCompatibilityMode(mode) {
		return nil, errs.Newf(errs.KindValidation, "invalid compatibility mode %q", mode)
	}
	oldNode, err := schema.Parse(oldRaw)
	if err != nil {
		return nil, err
	}
	newNode, err := schema.Parse(newRaw)
	if err != nil {
		return nil, err
	}

	diffStart := time.Now()
	changes := diff.Diff(oldNode, newNode)
	verdict := diff.Classify(changes, mode)
	s.metrics.ObserveDiff(ctx, time.Since(diffStart))

	return &CompareReport{
		ChangeType:      verdict.Severity,
		Changes:         changes,
		BreakingChanges: verdict.Breaking,
		Compatible:      len(verdict.Breaking) == 0,
	}, nil
}

// DownstreamImpact is one asset reachable through lineage edges from the
// changed asset, with its distance from the root.
type DownstreamImpact struct {
	AssetID uuid.UUID `json:"asset_id"`
	FQN     string    `json:"fqn"`
	Depth   int       `json:"depth"`
}

// MaxDownstreamDepth caps downstream traversal when the caller does not
// ask for a shallower walk.
const MaxDownstreamDepth = 10

// DownstreamReport lists the affected assets and whether the walk stopped
// at the depth limit with edges left unexplored.
type DownstreamReport struct {
	Impacts   []DownstreamImpact `json:"downstream"`
	MaxDepth  int                `json:"max_depth"`
	Truncated bool               `json:"truncated"`
}

// Downstream walks the dependency graph from assetID and returns every
// transitively affected live asset in breadth-first order, down to maxDepth
// hops (MaxDownstreamDepth when maxDepth is zero or out of range). Cycles
// are tolerated: each asset is visited once. Truncated is set when unvisited
// assets exist past the depth limit.
func (s *Service) Downstream(ctx context.Context, assetID uuid.UUID, maxDepth int) (*DownstreamReport, error) {
	if maxDepth <= 0 || maxDepth > MaxDownstreamDepth {
		maxDepth = MaxDownstreamDepth
	}
	report := &DownstreamReport{Impacts: []DownstreamImpact{}, MaxDepth: maxDepth}
	err := s.readTx(ctx, func(tx store.Tx) error {
		if _, err := loadLiveAsset(ctx, tx, assetID); err != nil {
			return err
		}

		type frontier struct {
			id    uuid.UUID
			depth int
		}
		visited := map[uuid.UUID]bool{assetID: true}
		queue := []frontier{{id: assetID, depth: 0}}

		for len(queue) > 0 {
			head := queue[0]
			queue = queue[1:]
			children, err := tx.ListDownstream(ctx, head.id)
			if err != nil {
				return errs.Wrap(errs.KindInternal, err, "list downstream dependencies")
			}
			for _, child := range children {
				if visited[child] {
					continue
				}
				if head.depth >= maxDepth {
					report.Truncated = true
					continue
				}
				visited[child] = true
				asset, err := tx.GetAsset(ctx, child)
				if err != nil {
					if errors.Is(err, store.ErrNotFound) {
						continue
					}
					return errs.Wrap(errs.KindInternal, err, "load downstream asset")
				}
				report.Impacts = append(report.Impacts, DownstreamImpact{AssetID: asset.ID, FQN: asset.FQN, Depth: head.depth + 1})
				queue = append(queue, frontier{id: child, depth: head.depth + 1})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

// readTx runs fn in a transaction that is always rolled back. Read paths
// use it so they can never leave writes behind.
func (s *Service) readTx(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return errs.Wrap(errs.KindInternal, err, "begin transaction")
	}
	defer func() { _ = tx.Rollback() }()
	return fn(tx)
}
