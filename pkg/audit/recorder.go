// Package audit records every state transition as an immutable event,
// appended inside the same transaction as the mutation that produced it.
// Events are additionally mirrored as "AUDIT: "-prefixed JSON lines to a
// configurable writer for easy log filtering. The mirror line is written
// when the event is recorded, before the surrounding transaction commits:
// a rollback can leave a mirror line with no stored event. The stored
// trail is the source of truth.
package audit

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/covenant-data/covenant/pkg/model"
	"github.com/covenant-data/covenant/pkg/store"
)

// Entity types.
const (
	EntityTeam         = "team"
	EntityAsset        = "asset"
	EntityContract     = "contract"
	EntityRegistration = "registration"
	EntityProposal     = "proposal"
	EntityAPIKey       = "api_key"
)

// Actions. The action vocabulary is closed: handlers and the workflow core
// only record actions listed here.
const (
	ActionTeamCreated        = "team.created"
	ActionTeamDeleted        = "team.deleted"
	ActionAssetCreated       = "asset.created"
	ActionAssetDeleted       = "asset.deleted"
	ActionContractPublished  = "contract.published"
	ActionContractForced     = "contract.force_published"
	ActionContractDeprecated = "contract.deprecated"
	ActionContractRetired    = "contract.retired"
	ActionGuaranteesUpdated  = "contract.guarantees_updated"
	ActionRegistrationAdded  = "registration.created"
	ActionRegistrationStatus = "registration.status_changed"
	ActionProposalOpened     = "proposal.opened"
	ActionProposalAcked      = "proposal.acknowledged"
	ActionProposalApproved   = "proposal.approved"
	ActionProposalRejected   = "proposal.rejected"
	ActionProposalWithdrawn  = "proposal.withdrawn"
	ActionProposalForced     = "proposal.force_approved"
	ActionProposalPublished  = "proposal.published"
	ActionAPIKeyCreated      = "api_key.created"
	ActionAPIKeyRevoked      = "api_key.revoked"
)

// Recorder appends audit events through a store transaction and mirrors
// them to a writer. A nil writer disables mirroring.
type Recorder struct {
	mu     sync.Mutex
	writer io.Writer
	now    func() time.Time
}

// NewRecorder creates a Recorder mirroring to os.Stdout.
func NewRecorder() *Recorder {
	return NewRecorderWithWriter(os.Stdout)
}

// NewRecorderWithWriter creates a Recorder mirroring to the given writer.
// This allows injection for testing and custom sinks.
func NewRecorderWithWriter(w io.Writer) *Recorder {
	return &Recorder{writer: w, now: time.Now}
}

// WithClock overrides the recorder's time source. Intended for tests.
func (r *Recorder) WithClock(now func() time.Time) *Recorder {
	r.now = now
	return r
}

// Record appends one event inside tx. The payload is marshalled to JSON;
// a nil payload records an event with no payload. The mirror line goes out
// immediately, not at commit, so it can outlive a rolled-back transaction.
func (r *Recorder) Record(ctx context.Context, tx store.Tx, entityType string, entityID, actorID uuid.UUID, action string, payload any) error {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		raw = b
	}

	event := model.AuditEvent{
		ID:         uuid.New(),
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		ActorID:    actorID,
		Payload:    raw,
		OccurredAt: r.now().UTC(),
	}
	if err := tx.AppendAudit(ctx, &event); err != nil {
		return err
	}
	r.mirror(event)
	return nil
}

// mirror writes the event as one "AUDIT: "-prefixed JSON line. Mirror
// failures are swallowed: the transactional append is the source of truth.
func (r *Recorder) mirror(event model.AuditEvent) {
	if r.writer == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	b, err := json.Marshal(event)
	if err != nil {
		return
	}
	_, _ = r.writer.Write(append([]byte("AUDIT: "), append(b, '\n')...))
}
