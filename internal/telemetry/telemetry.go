// Package telemetry installs the process-wide OpenTelemetry tracer provider.
package telemetry

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

const (
	ModeOff    = "off"
	ModeStdout = "stdout"
)

// Init configures tracing for mode and returns the provider's shutdown func.
// With tracing off the global no-op provider stays in place.
func Init(ctx context.Context, log *zap.Logger, mode, serviceName string) (func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }

	switch strings.ToLower(strings.TrimSpace(mode)) {
	case ModeOff, "":
		return noop, nil
	case ModeStdout:
	default:
		return noop, fmt.Errorf("telemetry: unknown tracing mode %q", mode)
	}

	exporter, err := stdouttrace.New()
	if err != nil {
		return noop, fmt.Errorf("telemetry: stdout exporter: %w", err)
	}
	res := resource.NewSchemaless(attribute.String("service.name", serviceName))

	// Syncer, not batcher: a frozen Lambda sandbox never flushes a batch.
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	if log != nil {
		log.Info("tracing initialized", zap.String("mode", mode), zap.String("service", serviceName))
	}
	return tp.Shutdown, nil
}
