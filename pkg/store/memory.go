package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/covenant-data/covenant/pkg/model"
)

// MemoryStore is a thread-safe in-memory Store. Transactions are serialised
// by holding the store mutex from Begin until Commit or Rollback, which
// makes every transaction trivially serialisable. All entities live in one
// namespace, as the persisted-state layout permits for engines without
// namespace support.
type MemoryStore struct {
	mu    sync.Mutex
	state memState
}

type memState struct {
	teams         map[uuid.UUID]model.Team
	assets        map[uuid.UUID]model.Asset
	contracts     map[uuid.UUID]model.Contract
	registrations map[uuid.UUID]model.Registration
	proposals     map[uuid.UUID]model.Proposal
	acks          map[uuid.UUID]model.Acknowledgment
	deps          []model.AssetDependency
	keys          map[uuid.UUID]model.APIKey
	audit         []model.AuditEvent
}

func newMemState() memState {
	return memState{
		teams:         map[uuid.UUID]model.Team{},
		assets:        map[uuid.UUID]model.Asset{},
		contracts:     map[uuid.UUID]model.Contract{},
		registrations: map[uuid.UUID]model.Registration{},
		proposals:     map[uuid.UUID]model.Proposal{},
		acks:          map[uuid.UUID]model.Acknowledgment{},
		keys:          map[uuid.UUID]model.APIKey{},
	}
}

func (s memState) clone() memState {
	out := memState{
		teams:         make(map[uuid.UUID]model.Team, len(s.teams)),
		assets:        make(map[uuid.UUID]model.Asset, len(s.assets)),
		contracts:     make(map[uuid.UUID]model.Contract, len(s.contracts)),
		registrations: make(map[uuid.UUID]model.Registration, len(s.registrations)),
		proposals:     make(map[uuid.UUID]model.Proposal, len(s.proposals)),
		acks:          make(map[uuid.UUID]model.Acknowledgment, len(s.acks)),
		keys:          make(map[uuid.UUID]model.APIKey, len(s.keys)),
		deps:          append([]model.AssetDependency(nil), s.deps...),
		audit:         append([]model.AuditEvent(nil), s.audit...),
	}
	for k, v := range s.teams {
		out.teams[k] = v
	}
	for k, v := range s.assets {
		out.assets[k] = v
	}
	for k, v := range s.contracts {
		out.contracts[k] = v
	}
	for k, v := range s.registrations {
		out.registrations[k] = v
	}
	for k, v := range s.proposals {
		out.proposals[k] = v
	}
	for k, v := range s.acks {
		out.acks[k] = v
	}
	for k, v := range s.keys {
		out.keys[k] = v
	}
	return out
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemState()}
}

// Begin acquires the store lock and hands out a transaction operating on a
// copy of the state. Commit swaps the copy in; Rollback discards it.
func (s *MemoryStore) Begin(ctx context.Context) (Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	return &memTx{store: s, state: s.state.clone()}, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }

type memTx struct {
	store *MemoryStore
	state memState
	done  bool
}

func (t *memTx) Commit() error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	t.store.state = t.state
	t.store.mu.Unlock()
	return nil
}

func (t *memTx) Rollback() error {
	if t.done {
		return ErrTxDone
	}
	t.done = true
	t.store.mu.Unlock()
	return nil
}

func (t *memTx) check() error {
	if t.done {
		return ErrTxDone
	}
	return nil
}

// LockAsset is a no-op: the store mutex already serialises transactions.
func (t *memTx) LockAsset(ctx context.Context, assetID uuid.UUID) error {
	if err := t.check(); err != nil {
		return err
	}
	if _, ok := t.state.assets[assetID]; !ok {
		return ErrNotFound
	}
	return nil
}

// ----- Teams -----

func (t *memTx) CreateTeam(ctx context.Context, team *model.Team) error {
	if err := t.check(); err != nil {
		return err
	}
	for _, existing := range t.state.teams {
		if existing.Slug == team.Slug && existing.DeletedAt == nil {
			return ErrDuplicate
		}
	}
	t.state.teams[team.ID] = *team
	return nil
}

func (t *memTx) GetTeam(ctx context.Context, id uuid.UUID) (*model.Team, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	team, ok := t.state.teams[id]
	if !ok || team.DeletedAt != nil {
		return nil, ErrNotFound
	}
	copy := team
	return &copy, nil
}

func (t *memTx) ListTeams(ctx context.Context) ([]model.Team, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	out := make([]model.Team, 0, len(t.state.teams))
	for _, team := range t.state.teams {
		if team.DeletedAt == nil {
			out = append(out, team)
		}
	}
	sort.Slice(out, func(i, j int) bool { return lessByTime(out[i].CreatedAt, out[i].ID, out[j].CreatedAt, out[j].ID) })
	return out, nil
}

func (t *memTx) SoftDeleteTeam(ctx context.Context, id uuid.UUID, at time.Time) error {
	if err := t.check(); err != nil {
		return err
	}
	team, ok := t.state.teams[id]
	if !ok || team.DeletedAt != nil {
		return ErrNotFound
	}
	team.DeletedAt = &at
	t.state.teams[id] = team
	return nil
}

// ----- Assets -----

func (t *memTx) CreateAsset(ctx context.Context, asset *model.Asset) error {
	if err := t.check(); err != nil {
		return err
	}
	for _, existing := range t.state.assets {
		if existing.FQN == asset.FQN && existing.DeletedAt == nil {
			return ErrDuplicate
		}
	}
	t.state.assets[asset.ID] = *asset
	return nil
}

func (t *memTx) GetAsset(ctx context.Context, id uuid.UUID) (*model.Asset, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	asset, ok := t.state.assets[id]
	if !ok || asset.DeletedAt != nil {
		return nil, ErrNotFound
	}
	copy := asset
	return &copy, nil
}

func (t *memTx) GetAssetByFQN(ctx context.Context, fqn string) (*model.Asset, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	for _, asset := range t.state.assets {
		if asset.FQN == fqn && asset.DeletedAt == nil {
			copy := asset
			return &copy, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memTx) ListAssets(ctx context.Context, filter AssetFilter) ([]model.Asset, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	out := make([]model.Asset, 0, len(t.state.assets))
	for _, asset := range t.state.assets {
		if asset.DeletedAt != nil && !filter.IncludeDeleted {
			continue
		}
		if filter.OwnerTeamID != nil && asset.OwnerTeamID != *filter.OwnerTeamID {
			continue
		}
		if filter.ResourceType != nil && asset.ResourceType != *filter.ResourceType {
			continue
		}
		out = append(out, asset)
	}
	sort.Slice(out, func(i, j int) bool { return lessByTime(out[i].CreatedAt, out[i].ID, out[j].CreatedAt, out[j].ID) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (t *memTx) SetCurrentContract(ctx context.Context, assetID uuid.UUID, contractID *uuid.UUID) error {
	if err := t.check(); err != nil {
		return err
	}
	asset, ok := t.state.assets[assetID]
	if !ok {
		return ErrNotFound
	}
	asset.CurrentContractID = contractID
	t.state.assets[assetID] = asset
	return nil
}

func (t *memTx) SoftDeleteAsset(ctx context.Context, id uuid.UUID, at time.Time) error {
	if err := t.check(); err != nil {
		return err
	}
	asset, ok := t.state.assets[id]
	if !ok || asset.DeletedAt != nil {
		return ErrNotFound
	}
	asset.DeletedAt = &at
	t.state.assets[id] = asset
	return nil
}

// ----- Contracts -----

func (t *memTx) CreateContract(ctx context.Context, contract *model.Contract) error {
	if err := t.check(); err != nil {
		return err
	}
	t.state.contracts[contract.ID] = *contract
	return nil
}

func (t *memTx) GetContract(ctx context.Context, id uuid.UUID) (*model.Contract, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	contract, ok := t.state.contracts[id]
	if !ok {
		return nil, ErrNotFound
	}
	copy := contract
	return &copy, nil
}

func (t *memTx) ActiveContract(ctx context.Context, assetID uuid.UUID) (*model.Contract, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	var latest *model.Contract
	for _, contract := range t.state.contracts {
		if contract.AssetID != assetID || contract.Status != model.ContractActive {
			continue
		}
		c := contract
		if latest == nil || c.PublishedAt.After(latest.PublishedAt) {
			latest = &c
		}
	}
	return latest, nil
}

func (t *memTx) ListContracts(ctx context.Context, assetID uuid.UUID) ([]model.Contract, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	out := make([]model.Contract, 0)
	for _, contract := range t.state.contracts {
		if contract.AssetID == assetID {
			out = append(out, contract)
		}
	}
	sort.Slice(out, func(i, j int) bool { return lessByTime(out[i].PublishedAt, out[i].ID, out[j].PublishedAt, out[j].ID) })
	return out, nil
}

func (t *memTx) SetContractStatus(ctx context.Context, id uuid.UUID, status model.ContractStatus) error {
	if err := t.check(); err != nil {
		return err
	}
	contract, ok := t.state.contracts[id]
	if !ok {
		return ErrNotFound
	}
	contract.Status = status
	t.state.contracts[id] = contract
	return nil
}

func (t *memTx) SetContractGuarantees(ctx context.Context, id uuid.UUID, guarantees *model.Guarantees) error {
	if err := t.check(); err != nil {
		return err
	}
	contract, ok := t.state.contracts[id]
	if !ok {
		return ErrNotFound
	}
	contract.Guarantees = guarantees
	t.state.contracts[id] = contract
	return nil
}

// ----- Registrations -----

func (t *memTx) CreateRegistration(ctx context.Context, reg *model.Registration) error {
	if err := t.check(); err != nil {
		return err
	}
	for _, existing := range t.state.registrations {
		if existing.AssetID == reg.AssetID && existing.ConsumerTeamID == reg.ConsumerTeamID &&
			existing.Status != model.RegistrationInactive {
			return ErrDuplicate
		}
	}
	t.state.registrations[reg.ID] = *reg
	return nil
}

func (t *memTx) GetRegistration(ctx context.Context, id uuid.UUID) (*model.Registration, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	reg, ok := t.state.registrations[id]
	if !ok {
		return nil, ErrNotFound
	}
	copy := reg
	return &copy, nil
}

func (t *memTx) ListRegistrations(ctx context.Context, filter RegistrationFilter) ([]model.Registration, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	out := make([]model.Registration, 0)
	for _, reg := range t.state.registrations {
		if filter.AssetID != nil && reg.AssetID != *filter.AssetID {
			continue
		}
		if filter.ConsumerTeamID != nil && reg.ConsumerTeamID != *filter.ConsumerTeamID {
			continue
		}
		if filter.Status != nil && reg.Status != *filter.Status {
			continue
		}
		out = append(out, reg)
	}
	sort.Slice(out, func(i, j int) bool { return lessByTime(out[i].RegisteredAt, out[i].ID, out[j].RegisteredAt, out[j].ID) })
	return out, nil
}

func (t *memTx) SetRegistrationStatus(ctx context.Context, id uuid.UUID, status model.RegistrationStatus) error {
	if err := t.check(); err != nil {
		return err
	}
	reg, ok := t.state.registrations[id]
	if !ok {
		return ErrNotFound
	}
	reg.Status = status
	t.state.registrations[id] = reg
	return nil
}

// ----- Proposals -----

func (t *memTx) CreateProposal(ctx context.Context, proposal *model.Proposal) error {
	if err := t.check(); err != nil {
		return err
	}
	if proposal.Status == model.ProposalPending {
		for _, existing := range t.state.proposals {
			if existing.AssetID == proposal.AssetID && existing.Status == model.ProposalPending {
				return ErrDuplicate
			}
		}
	}
	t.state.proposals[proposal.ID] = *proposal
	return nil
}

func (t *memTx) GetProposal(ctx context.Context, id uuid.UUID) (*model.Proposal, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	proposal, ok := t.state.proposals[id]
	if !ok {
		return nil, ErrNotFound
	}
	copy := proposal
	return &copy, nil
}

func (t *memTx) PendingProposal(ctx context.Context, assetID uuid.UUID) (*model.Proposal, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	for _, proposal := range t.state.proposals {
		if proposal.AssetID == assetID && proposal.Status == model.ProposalPending {
			copy := proposal
			return &copy, nil
		}
	}
	return nil, nil
}

func (t *memTx) UpdateProposal(ctx context.Context, proposal *model.Proposal) error {
	if err := t.check(); err != nil {
		return err
	}
	if _, ok := t.state.proposals[proposal.ID]; !ok {
		return ErrNotFound
	}
	t.state.proposals[proposal.ID] = *proposal
	return nil
}

func (t *memTx) ListProposals(ctx context.Context, filter ProposalFilter) ([]model.Proposal, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	out := make([]model.Proposal, 0)
	for _, proposal := range t.state.proposals {
		if filter.AssetID != nil && proposal.AssetID != *filter.AssetID {
			continue
		}
		if filter.Status != nil && proposal.Status != *filter.Status {
			continue
		}
		if filter.ProposedBy != nil && proposal.ProposedBy != *filter.ProposedBy {
			continue
		}
		out = append(out, proposal)
	}
	sort.Slice(out, func(i, j int) bool { return lessByTime(out[i].ProposedAt, out[i].ID, out[j].ProposedAt, out[j].ID) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// ----- Acknowledgments -----

func (t *memTx) UpsertAcknowledgment(ctx context.Context, ack *model.Acknowledgment) error {
	if err := t.check(); err != nil {
		return err
	}
	for id, existing := range t.state.acks {
		if existing.ProposalID == ack.ProposalID && existing.ConsumerTeamID == ack.ConsumerTeamID {
			updated := *ack
			updated.ID = existing.ID
			t.state.acks[id] = updated
			ack.ID = existing.ID
			return nil
		}
	}
	t.state.acks[ack.ID] = *ack
	return nil
}

func (t *memTx) ListAcknowledgments(ctx context.Context, proposalID uuid.UUID) ([]model.Acknowledgment, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	out := make([]model.Acknowledgment, 0)
	for _, ack := range t.state.acks {
		if ack.ProposalID == proposalID {
			out = append(out, ack)
		}
	}
	sort.Slice(out, func(i, j int) bool { return lessByTime(out[i].RespondedAt, out[i].ID, out[j].RespondedAt, out[j].ID) })
	return out, nil
}

// ----- Lineage -----

func (t *memTx) AddDependency(ctx context.Context, dep *model.AssetDependency) error {
	if err := t.check(); err != nil {
		return err
	}
	for _, existing := range t.state.deps {
		if existing.UpstreamAssetID == dep.UpstreamAssetID && existing.DownstreamAssetID == dep.DownstreamAssetID {
			return ErrDuplicate
		}
	}
	t.state.deps = append(t.state.deps, *dep)
	return nil
}

func (t *memTx) ListDownstream(ctx context.Context, assetID uuid.UUID) ([]uuid.UUID, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	out := make([]uuid.UUID, 0)
	for _, dep := range t.state.deps {
		if dep.UpstreamAssetID == assetID {
			out = append(out, dep.DownstreamAssetID)
		}
	}
	sortUUIDs(out)
	return out, nil
}

func (t *memTx) ListUpstream(ctx context.Context, assetID uuid.UUID) ([]uuid.UUID, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	out := make([]uuid.UUID, 0)
	for _, dep := range t.state.deps {
		if dep.DownstreamAssetID == assetID {
			out = append(out, dep.UpstreamAssetID)
		}
	}
	sortUUIDs(out)
	return out, nil
}

// ----- API keys -----

func (t *memTx) CreateAPIKey(ctx context.Context, key *model.APIKey) error {
	if err := t.check(); err != nil {
		return err
	}
	for _, existing := range t.state.keys {
		if existing.Digest == key.Digest {
			return ErrDuplicate
		}
	}
	t.state.keys[key.ID] = *key
	return nil
}

func (t *memTx) GetAPIKeyByDigest(ctx context.Context, digest string) (*model.APIKey, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	for _, key := range t.state.keys {
		if key.Digest == digest && key.RevokedAt == nil {
			copy := key
			return &copy, nil
		}
	}
	return nil, ErrNotFound
}

func (t *memTx) ListAPIKeys(ctx context.Context, teamID uuid.UUID) ([]model.APIKey, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	out := make([]model.APIKey, 0)
	for _, key := range t.state.keys {
		if key.TeamID == teamID {
			out = append(out, key)
		}
	}
	sort.Slice(out, func(i, j int) bool { return lessByTime(out[i].CreatedAt, out[i].ID, out[j].CreatedAt, out[j].ID) })
	return out, nil
}

func (t *memTx) RevokeAPIKey(ctx context.Context, id uuid.UUID, at time.Time) error {
	if err := t.check(); err != nil {
		return err
	}
	key, ok := t.state.keys[id]
	if !ok || key.RevokedAt != nil {
		return ErrNotFound
	}
	key.RevokedAt = &at
	t.state.keys[id] = key
	return nil
}

func (t *memTx) TouchAPIKey(ctx context.Context, id uuid.UUID, at time.Time) error {
	if err := t.check(); err != nil {
		return err
	}
	key, ok := t.state.keys[id]
	if !ok {
		return ErrNotFound
	}
	key.LastUsedAt = &at
	t.state.keys[id] = key
	return nil
}

// ----- Audit -----

func (t *memTx) AppendAudit(ctx context.Context, event *model.AuditEvent) error {
	if err := t.check(); err != nil {
		return err
	}
	t.state.audit = append(t.state.audit, *event)
	return nil
}

func (t *memTx) QueryAudit(ctx context.Context, filter AuditFilter) ([]model.AuditEvent, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	events := append([]model.AuditEvent(nil), t.state.audit...)
	sort.Slice(events, func(i, j int) bool {
		return lessByTime(events[i].OccurredAt, events[i].ID, events[j].OccurredAt, events[j].ID)
	})

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultAuditPageSize
	}

	out := make([]model.AuditEvent, 0)
	for _, e := range events {
		if filter.EntityType != "" && e.EntityType != filter.EntityType {
			continue
		}
		if filter.EntityID != nil && e.EntityID != *filter.EntityID {
			continue
		}
		if filter.ActorID != nil && e.ActorID != *filter.ActorID {
			continue
		}
		if filter.Action != "" && e.Action != filter.Action {
			continue
		}
		if filter.From != nil && e.OccurredAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && e.OccurredAt.After(*filter.To) {
			continue
		}
		if filter.Cursor != nil && !lessByTime(filter.Cursor.OccurredAt, filter.Cursor.ID, e.OccurredAt, e.ID) {
			continue
		}
		out = append(out, e)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// lessByTime orders by (timestamp, id), the keyset order used everywhere.
func lessByTime(t1 time.Time, id1 uuid.UUID, t2 time.Time, id2 uuid.UUID) bool {
	if !t1.Equal(t2) {
		return t1.Before(t2)
	}
	return strings.Compare(id1.String(), id2.String()) < 0
}

func sortUUIDs(ids []uuid.UUID) {
	sort.Slice(ids, func(i, j int) bool { return strings.Compare(ids[i].String(), ids[j].String()) < 0 })
}
