// Package workflow is the write-path core: the publish coordinator, the
// proposal lifecycle, and the impact analyzer. Everything here runs inside
// a single serialisable store transaction per operation; notifications and
// cache maintenance happen only after commit.
package workflow

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/covenant-data/covenant/pkg/audit"
	"github.com/covenant-data/covenant/pkg/cache"
	"github.com/covenant-data/covenant/pkg/errs"
	"github.com/covenant-data/covenant/pkg/model"
	"github.com/covenant-data/covenant/pkg/notify"
	"github.com/covenant-data/covenant/pkg/observability"
	"github.com/covenant-data/covenant/pkg/store"
)

// Service coordinates contract publishes and proposal resolution over the
// transactional store. All dependencies except the store are optional.
type Service struct {
	store    store.Store
	recorder *audit.Recorder
	notifier notify.Notifier
	cache    cache.ContractCache
	metrics  *observability.Metrics
	clock    Clock
	ids      IDGenerator
	log      *slog.Logger
}

// Option customises a Service.
type Option func(*Service)

// WithNotifier installs a post-commit notifier.
func WithNotifier(n notify.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithCache installs the active-contract cache.
func WithCache(c cache.ContractCache) Option {
	return func(s *Service) { s.cache = c }
}

// WithMetrics installs service metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides the time source.
func WithClock(c Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithIDGenerator overrides the ID source.
func WithIDGenerator(g IDGenerator) Option {
	return func(s *Service) { s.ids = g }
}

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

func NewService(st store.Store, recorder *audit.Recorder, opts ...Option) *Service {
	s := &Service{
		store:    st,
		recorder: recorder,
		notifier: notify.Nop{},
		cache:    cache.Nop{},
		clock:    SystemClock{},
		ids:      RandomIDs{},
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// inTx runs fn in one serialisable transaction, committing on nil error.
func (s *Service) inTx(ctx context.Context, fn func(tx store.Tx) error) error {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return errs.Wrap(errs.KindInternal, err, "begin transaction")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return errs.Wrap(errs.KindInternal, err, "commit transaction")
	}
	return nil
}

// loadLiveAsset fetches a non-deleted asset or returns NOT_FOUND.
func loadLiveAsset(ctx context.Context, tx store.Tx, assetID uuid.UUID) (*model.Asset, error) {
	asset, err := tx.GetAsset(ctx, assetID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errs.Newf(errs.KindNotFound, "asset %s not found", assetID)
	}
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "load asset")
	}
	return asset, nil
}

// resolveMode picks the effective compatibility mode for a publish:
// the caller's explicit mode, else the current contract's, else backward.
func resolveMode(requested *model.CompatibilityMode, current *model.Contract) (model.CompatibilityMode, error) {
	if requested != nil {
		if !model.ValidCompatibilityMode(*requested) {
			return "", errs.Newf(errs.KindValidation, "invalid compatibility mode %q", *requested)
		}
		return *requested, nil
	}
	if current != nil {
		return current.CompatibilityMode, nil
	}
	return model.CompatBackward, nil
}

// snapshotConsumers captures the acknowledger set for a new proposal: the
// distinct consumer teams with a live, non-inactive registration on the
// asset. Soft-deleted teams are excluded even if their registration row
// survived.
func (s *Service) snapshotConsumers(ctx context.Context, tx store.Tx, assetID uuid.UUID) ([]uuid.UUID, error) {
	regs, err := tx.ListRegistrations(ctx, store.RegistrationFilter{AssetID: &assetID})
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, err, "list registrations")
	}
	seen := make(map[uuid.UUID]bool)
	teams := make([]uuid.UUID, 0, len(regs))
	for _, reg := range regs {
		if reg.Status == model.RegistrationInactive || seen[reg.ConsumerTeamID] {
			continue
		}
		if _, err := tx.GetTeam(ctx, reg.ConsumerTeamID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, errs.Wrap(errs.KindInternal, err, "load consumer team")
		}
		seen[reg.ConsumerTeamID] = true
		teams = append(teams, reg.ConsumerTeamID)
	}
	return teams, nil
}

// swapContract activates next and deprecates prev on the same asset inside
// tx. prev may be nil for the initial publish.
func (s *Service) swapContract(ctx context.Context, tx store.Tx, asset *model.Asset, prev, next *model.Contract) error {
	if err := tx.CreateContract(ctx, next); err != nil {
		return errs.Wrap(errs.KindInternal, err, "insert contract")
	}
	if prev != nil {
		if err := tx.SetContractStatus(ctx, prev.ID, model.ContractDeprecated); err != nil {
			return errs.Wrap(errs.KindInternal, err, "deprecate contract")
		}
	}
	if err := tx.SetCurrentContract(ctx, asset.ID, &next.ID); err != nil {
		return errs.Wrap(errs.KindInternal, err, "update current contract pointer")
	}
	return nil
}

// afterPublish refreshes the cache and emits a post-commit notification.
func (s *Service) afterPublish(ctx context.Context, asset *model.Asset, contract *model.Contract, changeType model.ChangeType) {
	s.cache.Invalidate(ctx, asset.ID)
	s.cache.SetActive(ctx, asset.ID, contract)
	event := notify.Event{
		Kind:            notify.KindContractPublished,
		AssetID:         asset.ID,
		AssetFQN:        asset.FQN,
		ContractID:      &contract.ID,
		ProposedVersion: contract.Version,
		ChangeType:      changeType,
		OccurredAt:      s.clock.Now(),
	}
	if err := s.notifier.Notify(ctx, event); err != nil {
		s.log.Warn("publish notification failed", "asset", asset.FQN, "error", err)
	}
}

// nowUTC truncates the clock to UTC for storage.
func (s *Service) nowUTC() time.Time { return s.clock.Now().UTC() }
