package services

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const metricNamespace = "github.com/houseofkezura/backend-sub000/services"

// serviceMetrics holds the counters services emit. Instruments that fail to register are
// left nil and skipped.
type serviceMetrics struct {
	checkouts         metric.Int64Counter
	completions       metric.Int64Counter
	webhookRejected   metric.Int64Counter
	inventoryOversold metric.Int64Counter
}

func newServiceMetrics(meter metric.Meter) serviceMetrics {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(metricNamespace)
	}
	var m serviceMetrics
	m.checkouts, _ = meter.Int64Counter(
		"checkout.outcomes",
		metric.WithDescription("Checkout attempts by outcome"),
	)
	m.completions, _ = meter.Int64Counter(
		"payments.completions",
		metric.WithDescription("Payments completed by provider and purpose"),
	)
	m.webhookRejected, _ = meter.Int64Counter(
		"payments.webhooks.rejected",
		metric.WithDescription("Webhooks rejected by provider and reason"),
	)
	m.inventoryOversold, _ = meter.Int64Counter(
		"inventory.oversold_units",
		metric.WithDescription("Units sold beyond available stock when finalising orders"),
	)
	return m
}

func (m serviceMetrics) checkout(ctx context.Context, outcome string) {
	if m.checkouts != nil {
		m.checkouts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}
}

func (m serviceMetrics) completion(ctx context.Context, provider, purpose string) {
	if m.completions != nil {
		m.completions.Add(ctx, 1, metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("purpose", purpose),
		))
	}
}

func (m serviceMetrics) webhookRejection(ctx context.Context, provider, reason string) {
	if m.webhookRejected != nil {
		m.webhookRejected.Add(ctx, 1, metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("reason", reason),
		))
	}
}

func (m serviceMetrics) oversold(ctx context.Context, units int) {
	if m.inventoryOversold != nil && units > 0 {
		m.inventoryOversold.Add(ctx, int64(units))
	}
}
