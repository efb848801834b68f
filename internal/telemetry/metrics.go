package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/wolfeidau/whopvoice/internal/ledger"
	"github.com/wolfeidau/whopvoice/internal/models"
	"github.com/wolfeidau/whopvoice/internal/reconcile"
)

const (
	meterName = "github.com/wolfeidau/whopvoice"
)

// Outcomes recorded on the jobs counter.
const (
	OutcomeSent    = "sent"
	OutcomeSkipped = "skipped"
	OutcomePreview = "preview"
	OutcomeFailed  = "failed"
)

// Metrics holds the domain instruments.
type Metrics struct {
	JobsTotal              metric.Int64Counter
	CreditsConsumedTotal   metric.Int64Counter
	CreditsExhaustedTotal  metric.Int64Counter
	ReconcileChangesTotal  metric.Int64Counter
	TenantsAutoPausedTotal metric.Int64Counter
	WebhooksTotal          metric.Int64Counter

	meter metric.Meter
}

var (
	once    sync.Once
	metrics *Metrics
)

// GetMetrics returns the singleton Metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	once.Do(func() {
		metrics = newMetrics(otel.GetMeterProvider())
	})
	return metrics
}

func newMetrics(provider metric.MeterProvider) *Metrics {
	meter := provider.Meter(meterName)

	m := &Metrics{meter: meter}

	m.JobsTotal, _ = meter.Int64Counter(
		"whopvoice.welcome.jobs.total",
		metric.WithDescription("Welcome jobs by final outcome"),
		metric.WithUnit("{job}"),
	)

	m.CreditsConsumedTotal, _ = meter.Int64Counter(
		"whopvoice.credits.consumed.total",
		metric.WithDescription("Credits charged for confirmed deliveries"),
		metric.WithUnit("{credit}"),
	)

	m.CreditsExhaustedTotal, _ = meter.Int64Counter(
		"whopvoice.credits.exhausted.total",
		metric.WithDescription("Times a creator ran out of credits"),
		metric.WithUnit("{event}"),
	)

	m.ReconcileChangesTotal, _ = meter.Int64Counter(
		"whopvoice.reconcile.changes.total",
		metric.WithDescription("Plan changes applied from Whop memberships"),
		metric.WithUnit("{change}"),
	)

	m.TenantsAutoPausedTotal, _ = meter.Int64Counter(
		"whopvoice.tenants.auto_paused.total",
		metric.WithDescription("Creators whose automation was paused on credit exhaustion"),
		metric.WithUnit("{tenant}"),
	)

	m.WebhooksTotal, _ = meter.Int64Counter(
		"whopvoice.webhooks.total",
		metric.WithDescription("Whop webhooks received by action and result"),
		metric.WithUnit("{webhook}"),
	)

	return m
}

// JobOutcome classifies a finished job.
func JobOutcome(job *models.AudioMessage) string {
	switch {
	case job.Status == models.StatusFailed:
		return OutcomeFailed
	case job.Status.IsDelivered():
		return OutcomeSent
	case job.ErrorMessage != "":
		return OutcomeSkipped
	default:
		return OutcomePreview
	}
}

// RecordJob counts a finished welcome job.
func (m *Metrics) RecordJob(ctx context.Context, job *models.AudioMessage) {
	m.JobsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", JobOutcome(job))))
}

// RecordLedgerEvent counts credit events.
func (m *Metrics) RecordLedgerEvent(ctx context.Context, ev ledger.Event) {
	switch ev.Type {
	case ledger.EventCreditConsumed:
		m.CreditsConsumedTotal.Add(ctx, 1)
	case ledger.EventCreditsExhausted:
		m.CreditsExhaustedTotal.Add(ctx, 1)
	}
}

// RecordReconcileChange counts a plan rewrite.
func (m *Metrics) RecordReconcileChange(ctx context.Context, c reconcile.Change) {
	m.ReconcileChangesTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", string(c.From)),
		attribute.String("to", string(c.To)),
	))
}

// RecordAutoPause counts a paused creator.
func (m *Metrics) RecordAutoPause(ctx context.Context) {
	m.TenantsAutoPausedTotal.Add(ctx, 1)
}

// RecordWebhook counts a received webhook.
func (m *Metrics) RecordWebhook(ctx context.Context, action, result string) {
	m.WebhooksTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", action),
		attribute.String("result", result),
	))
}

// ObserveQueue reports the number of pending welcome tasks through fn.
func (m *Metrics) ObserveQueue(fn func() int) error {
	_, err := m.meter.Int64ObservableGauge(
		"whopvoice.welcome.queue.pending",
		metric.WithDescription("Welcome tasks waiting for a worker"),
		metric.WithUnit("{task}"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(fn()))
			return nil
		}),
	)
	return err
}
