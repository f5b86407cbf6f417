package obvy

import (
	"context"
	"fmt"

	"github.com/honeycombio/otel-config-go/otelconfig"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// TracerName is the instrumentation name of every beltmon span.
const TracerName = "github.com/itohio/beltmon"

// Trace exporters.
const (
	ExporterNone      = "none"
	ExporterOTLP      = "otlp"
	ExporterHoneycomb = "honeycomb"
)

// Init configures tracing for the selected exporter and returns its shutdown func.
// Exporter endpoints come from the standard OTEL_* / HONEYCOMB_* environment.
func Init(ctx context.Context, exporter string) (func(context.Context) error, error) {
	switch exporter {
	case "", ExporterNone:
		return func(context.Context) error { return nil }, nil

	case ExporterOTLP:
		tp, err := InitOTLP(ctx)
		if err != nil {
			return nil, err
		}
		return tp.Shutdown, nil

	case ExporterHoneycomb:
		shutdown, err := InitOTelHNY()
		if err != nil {
			return nil, err
		}
		return func(context.Context) error {
			shutdown()
			return nil
		}, nil

	default:
		return nil, fmt.Errorf("unknown trace exporter %q", exporter)
	}
}

// InitOTelHNY uses the Honeycomb library to interface with OTel
func InitOTelHNY() (func(), error) {
	otelShutdown, err := otelconfig.ConfigureOpenTelemetry()
	if err != nil {
		return nil, fmt.Errorf("failed to configure OpenTelemetry: %w", err)
	}
	return func() { otelShutdown() }, nil
}

// InitOTLP exports spans over OTLP/HTTP with trace context and baggage propagation.
func InitOTLP(ctx context.Context) (*sdktrace.TracerProvider, error) {
	exporter, err := otlptrace.New(ctx, otlptracehttp.NewClient())
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))
	return tp, nil
}

// Tracer returns the global beltmon tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(TracerName)
}
