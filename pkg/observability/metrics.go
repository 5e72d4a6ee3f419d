// Package observability collects service metrics through OpenTelemetry.
// The exporter is whatever meter provider the host process installs; with
// none installed the instruments are no-ops.
package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/covenant-data/covenant/pkg/model"
)

const meterName = "covenant"

// Publish outcomes recorded on the publish counter.
const (
	OutcomePublished      = "published"
	OutcomeForcePublished = "force_published"
	OutcomeProposalOpened = "proposal_opened"
	OutcomeRejected       = "rejected"
	OutcomeNoChange       = "no_change"
)

// Metrics holds the service's instruments. A nil *Metrics is a valid
// receiver for every method, so wiring can stay optional.
type Metrics struct {
	publishes    metric.Int64Counter
	proposals    metric.Int64Counter
	acks         metric.Int64Counter
	diffDuration metric.Float64Histogram
}

// NewMetrics registers instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)

	publishes, err := meter.Int64Counter("covenant.publishes",
		metric.WithDescription("Contract publish attempts by outcome"))
	if err != nil {
		return nil, fmt.Errorf("register publish counter: %w", err)
	}
	proposals, err := meter.Int64Counter("covenant.proposal_resolutions",
		metric.WithDescription("Proposal resolutions by final status"))
	if err != nil {
		return nil, fmt.Errorf("register proposal counter: %w", err)
	}
	acks, err := meter.Int64Counter("covenant.acknowledgments",
		metric.WithDescription("Consumer acknowledgments by response"))
	if err != nil {
		return nil, fmt.Errorf("register acknowledgment counter: %w", err)
	}
	diffDuration, err := meter.Float64Histogram("covenant.diff.duration",
		metric.WithDescription("Schema diff and classification latency"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, fmt.Errorf("register diff histogram: %w", err)
	}

	return &Metrics{
		publishes:    publishes,
		proposals:    proposals,
		acks:         acks,
		diffDuration: diffDuration,
	}, nil
}

// RecordPublish counts one publish attempt.
func (m *Metrics) RecordPublish(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.publishes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordProposalResolution counts one proposal reaching a terminal status.
func (m *Metrics) RecordProposalResolution(ctx context.Context, status model.ProposalStatus) {
	if m == nil {
		return
	}
	m.proposals.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(status))))
}

// RecordAcknowledgment counts one consumer response.
func (m *Metrics) RecordAcknowledgment(ctx context.Context, response model.AckResponse) {
	if m == nil {
		return
	}
	m.acks.Add(ctx, 1, metric.WithAttributes(attribute.String("response", string(response))))
}

// ObserveDiff records one diff+classify pass.
func (m *Metrics) ObserveDiff(ctx context.Context, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.diffDuration.Record(ctx, float64(elapsed.Microseconds())/1000.0)
}
