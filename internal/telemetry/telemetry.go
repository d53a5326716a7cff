// Package telemetry provides OpenTelemetry metrics for the pipeline.
//
// Disabled by default (zero overhead when off):
//
//	RECONA_OTEL_ENABLED=true   enable metrics
//	RECONA_OTEL_STDOUT=true    pretty-print metrics to stderr on shutdown
//	OTEL_SERVICE_NAME=recona   override service name
package telemetry

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

const instrumentationScope = "github.com/ledgerline/recona"

var (
	mu          sync.Mutex
	shutdownFns []func(context.Context) error

	counterOnce   sync.Once
	ingestCounter metric.Int64Counter
	promoteCounter metric.Int64Counter
	evalCounter   metric.Int64Counter
)

// Enabled reports whether telemetry is active.
func Enabled() bool {
	return os.Getenv("RECONA_OTEL_ENABLED") == "true"
}

// Init configures the OTel meter provider. When disabled this installs the
// no-op provider and returns immediately.
func Init(ctx context.Context, serviceName, version string) error {
	if !Enabled() {
		otel.SetMeterProvider(metricnoop.NewMeterProvider())
		return nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return fmt.Errorf("telemetry: resource: %w", err)
	}

	exp, err := stdoutmetric.New(stdoutmetric.WithPrettyPrint())
	if err != nil {
		return fmt.Errorf("telemetry: exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp,
			sdkmetric.WithInterval(30*time.Second))),
	)
	otel.SetMeterProvider(mp)

	mu.Lock()
	shutdownFns = append(shutdownFns, mp.Shutdown)
	mu.Unlock()
	return nil
}

// Shutdown flushes and stops all providers.
func Shutdown(ctx context.Context) {
	mu.Lock()
	fns := shutdownFns
	shutdownFns = nil
	mu.Unlock()
	for _, fn := range fns {
		_ = fn(ctx)
	}
}

func counters() (metric.Int64Counter, metric.Int64Counter, metric.Int64Counter) {
	counterOnce.Do(func() {
		meter := otel.Meter(instrumentationScope)
		ingestCounter, _ = meter.Int64Counter("recona.rows.ingested",
			metric.WithDescription("Rows written to raw staging collections"))
		promoteCounter, _ = meter.Int64Counter("recona.rows.promoted",
			metric.WithDescription("Rows promoted from raw to processed"))
		evalCounter, _ = meter.Int64Counter("recona.rows.evaluated",
			metric.WithDescription("Report rows evaluated"))
	})
	return ingestCounter, promoteCounter, evalCounter
}

// RowsIngested records rows written to a raw collection.
func RowsIngested(ctx context.Context, coll string, n int) {
	c, _, _ := counters()
	c.Add(ctx, int64(n), metric.WithAttributes(attribute.String("collection", coll)))
}

// RowsPromoted records rows promoted for a source.
func RowsPromoted(ctx context.Context, source string, n int) {
	_, c, _ := counters()
	c.Add(ctx, int64(n), metric.WithAttributes(attribute.String("source", source)))
}

// RowsEvaluated records report rows evaluated.
func RowsEvaluated(ctx context.Context, report string, n int) {
	_, _, c := counters()
	c.Add(ctx, int64(n), metric.WithAttributes(attribute.String("report", report)))
}
