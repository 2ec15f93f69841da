package observability

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
)

type Observability struct {
	meterProvider *metric.MeterProvider
	meter         otelmetric.Meter
	fireCounter   otelmetric.Int64Counter
	fireDuration  otelmetric.Float64Histogram
}

func New(serviceName string) *Observability {
	exporter, err := prometheus.New()
	if err != nil {
		log.Printf("Failed to create Prometheus exporter: %v", err)
		return &Observability{}
	}

	provider := metric.NewMeterProvider(metric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter(serviceName)

	fireCounter, _ := meter.Int64Counter(
		"fires.processed",
		otelmetric.WithDescription("Number of event firings processed"),
	)

	fireDuration, _ := meter.Float64Histogram(
		"fires.duration",
		otelmetric.WithDescription("Event firing duration"),
		otelmetric.WithUnit("ms"),
	)

	return &Observability{
		meterProvider: provider,
		meter:         meter,
		fireCounter:   fireCounter,
		fireDuration:  fireDuration,
	}
}

func (o *Observability) RecordFireProcessed(ctx context.Context, event, status string) {
	if o.fireCounter != nil {
		o.fireCounter.Add(ctx, 1, otelmetric.WithAttributes(
			attribute.String("event", event),
			attribute.String("status", status),
		))
	}
}

func (o *Observability) RecordFireDuration(ctx context.Context, duration time.Duration, status string) {
	if o.fireDuration != nil {
		o.fireDuration.Record(ctx, float64(duration.Milliseconds()), otelmetric.WithAttributes(
			attribute.String("status", status),
		))
	}
}

func (o *Observability) Shutdown() {
	if o.meterProvider != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		o.meterProvider.Shutdown(ctx)
	}
}
