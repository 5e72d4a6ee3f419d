// Package notify fans proposal lifecycle events out to interested consumers.
// Notifiers run after the transaction that produced the event has committed;
// delivery is best-effort and failures never reverse committed state.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/covenant-data/covenant/pkg/model"
)

// Event kinds carried on the wire.
const (
	KindProposalOpened    = "proposal.opened"
	KindProposalResolved  = "proposal.resolved"
	KindContractPublished = "contract.published"
)

// Event is the payload delivered to consumers.
type Event struct {
	Kind            string               `json:"kind"`
	AssetID         uuid.UUID            `json:"asset_id"`
	AssetFQN        string               `json:"asset_fqn"`
	ProposalID      *uuid.UUID           `json:"proposal_id,omitempty"`
	ContractID      *uuid.UUID           `json:"contract_id,omitempty"`
	ProposalStatus  model.ProposalStatus `json:"proposal_status,omitempty"`
	ProposedVersion string               `json:"proposed_version,omitempty"`
	ChangeType      model.ChangeType     `json:"change_type,omitempty"`
	ConsumerTeamIDs []uuid.UUID          `json:"consumer_team_ids,omitempty"`
	OccurredAt      time.Time            `json:"occurred_at"`
}

// Notifier delivers events. Implementations must tolerate duplicate
// delivery; the caller retries on its own schedule.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// Nop discards all events.
type Nop struct{}

func (Nop) Notify(context.Context, Event) error { return nil }

// Multi fans one event out to several notifiers. Delivery continues past
// individual failures; the first error is returned after all attempts.
type Multi struct {
	notifiers []Notifier
	log       *slog.Logger
}

func NewMulti(log *slog.Logger, notifiers ...Notifier) *Multi {
	if log == nil {
		log = slog.Default()
	}
	return &Multi{notifiers: notifiers, log: log}
}

func (m *Multi) Notify(ctx context.Context, event Event) error {
	var first error
	for _, n := range m.notifiers {
		if err := n.Notify(ctx, event); err != nil {
			m.log.Warn("notifier delivery failed", "kind", event.Kind, "error", err)
			if first == nil {
				first = err
			}
		}
	}
	return first
}
