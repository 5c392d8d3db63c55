package otelinit

import (
	"context"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc"
)

// Metrics holds the OTel instruments created by InitMetrics. The engine and
// callback client do not record on them.
type Metrics struct {
	RunsTotal        metric.Int64Counter
	PhaseDuration    metric.Float64Histogram
	CallbackRetries  metric.Int64Counter
	CallbackFailures metric.Int64Counter
}

// InitMetrics configures a global meter provider pushing to an OTLP gRPC
// collector. This is a push pipeline; it deliberately does not return an
// http.Handler for a scrape endpoint (see internal/metrics for that).
func InitMetrics(ctx context.Context, service string) (func(context.Context) error, *Metrics) {
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		endpoint = "localhost:4317"
	}
	exp, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithDialOption(grpc.WithInsecure()),
	)
	if err != nil {
		slog.Warn("otel metrics exporter init failed", "error", err)
		return func(context.Context) error { return nil }, createCommonInstruments(otel.GetMeterProvider().Meter("artemis"))
	}
	res, _ := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(service),
	))
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(15*time.Second))),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)
	slog.Info("otel metrics initialized", "endpoint", endpoint)
	return mp.Shutdown, createCommonInstruments(mp.Meter("artemis"))
}

func createCommonInstruments(meter metric.Meter) *Metrics {
	runsTotal, _ := meter.Int64Counter("artemis_runs_total")
	phaseDuration, _ := meter.Float64Histogram("artemis_phase_duration_seconds")
	callbackRetries, _ := meter.Int64Counter("artemis_callback_retries_total")
	callbackFailures, _ := meter.Int64Counter("artemis_callback_failures_total")
	return &Metrics{
		RunsTotal:        runsTotal,
		PhaseDuration:    phaseDuration,
		CallbackRetries:  callbackRetries,
		CallbackFailures: callbackFailures,
	}
}
