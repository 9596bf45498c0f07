// Package telemetry owns the OpenTelemetry meter provider and the metric
// instruments shared by the hub, the scanner and the client manager.
//
// Instruments are created against the global provider, so they are no-ops
// until Setup installs an exporting provider.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/hearthhq/hearth/pkg/version"
)

const meterName = "github.com/hearthhq/hearth"

// Config configures metric export.
type Config struct {
	Enabled        bool          `yaml:"enabled"`
	OTLPEndpoint   string        `yaml:"otlp_endpoint"`
	Insecure       bool          `yaml:"insecure"`
	ExportInterval time.Duration `yaml:"export_interval"`
	Environment    string        `yaml:"environment"`
}

// DefaultConfig returns export disabled with a local collector endpoint.
// Both booleans default to false so a YAML true can override them.
func DefaultConfig() *Config {
	return &Config{
		Enabled:        false,
		OTLPEndpoint:   "localhost:4317",
		Insecure:       false,
		ExportInterval: 30 * time.Second,
		Environment:    "development",
	}
}

// Setup installs a global meter provider exporting over OTLP/gRPC.
// The returned shutdown flushes pending data. When disabled, shutdown is a no-op.
func Setup(ctx context.Context, cfg *Config) (func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	if cfg == nil || !cfg.Enabled {
		slog.Info("Metric export disabled")
		return noop, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(version.AppName),
			semconv.ServiceVersion(version.GitCommit),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return noop, fmt.Errorf("failed to create resource: %w", err)
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return noop, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter,
			sdkmetric.WithInterval(cfg.ExportInterval))),
	)
	otel.SetMeterProvider(mp)

	slog.Info("Metric export enabled",
		"endpoint", cfg.OTLPEndpoint,
		"interval", cfg.ExportInterval)
	return mp.Shutdown, nil
}

// Instruments groups every metric the service records.
type Instruments struct {
	HubConnections   metric.Int64UpDownCounter
	HubDelivered     metric.Int64Counter
	HubEvictions     metric.Int64Counter
	HubAuthFailures  metric.Int64Counter
	ScannerRuns      metric.Int64Counter
	ScannerEmitted   metric.Int64Counter
	ClientReconnects metric.Int64Counter
}

var (
	instruments     *Instruments
	instrumentsOnce sync.Once
)

// Metrics returns the process-wide instruments.
func Metrics() *Instruments {
	instrumentsOnce.Do(func() {
		instruments = newInstruments(otel.Meter(meterName))
	})
	return instruments
}

func newInstruments(m metric.Meter) *Instruments {
	// Instrument constructors only fail on invalid names; the names below are static.
	i := &Instruments{}
	i.HubConnections, _ = m.Int64UpDownCounter("hearth.hub.connections",
		metric.WithDescription("Authenticated channels currently open"))
	i.HubDelivered, _ = m.Int64Counter("hearth.hub.delivered",
		metric.WithDescription("Envelopes written to channels by broadcast"))
	i.HubEvictions, _ = m.Int64Counter("hearth.hub.evictions",
		metric.WithDescription("Channels evicted, by reason"))
	i.HubAuthFailures, _ = m.Int64Counter("hearth.hub.auth_failures",
		metric.WithDescription("Rejected channel handshakes"))
	i.ScannerRuns, _ = m.Int64Counter("hearth.scanner.runs",
		metric.WithDescription("Scan rule runs, by rule and outcome"))
	i.ScannerEmitted, _ = m.Int64Counter("hearth.scanner.emitted",
		metric.WithDescription("Envelopes emitted by scan rules"))
	i.ClientReconnects, _ = m.Int64Counter("hearth.client.reconnects",
		metric.WithDescription("Scheduled client reconnect attempts"))
	return i
}

// Attr is shorthand for a single string attribute option.
func Attr(key, value string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String(key, value))
}

// Attrs builds a measurement option from key/value pairs.
func Attrs(kv ...string) metric.MeasurementOption {
	attrs := make([]attribute.KeyValue, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		attrs = append(attrs, attribute.String(kv[i], kv[i+1]))
	}
	return metric.WithAttributes(attrs...)
}
