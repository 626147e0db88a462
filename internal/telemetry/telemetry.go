// Package telemetry wraps DICE's suspension points (§5: LLM calls, embedding
// calls, repository I/O) in OpenTelemetry spans so a host process can see
// where a processChunk call spends its time.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/kittclouds/dice"

// Tracer returns the package-level tracer, bound to whatever TracerProvider
// is currently registered globally.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// ProviderConfig configures the OpenTelemetry SDK trace provider.
type ProviderConfig struct {
	ServiceName string
	// Exporter is optional; when nil, spans are recorded but never exported
	// (the default for tests and for hosts that only care about local
	// in-process span attributes).
	Exporter sdktrace.SpanExporter
}

// InitProvider installs a TracerProvider as the OTel global and returns a
// shutdown func to flush/close it. Call the returned func from the host's
// shutdown path.
func InitProvider(cfg ProviderConfig) (shutdown func(context.Context) error, err error) {
	opts := []sdktrace.TracerProviderOption{}
	if cfg.Exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(cfg.Exporter))
	}
	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// SuspensionPoint names the three kinds of blocking I/O §5 calls out as
// cooperative-cancellation points within a single context's processing.
type SuspensionPoint string

const (
	SuspensionLLM        SuspensionPoint = "llm"
	SuspensionEmbedding  SuspensionPoint = "embedding"
	SuspensionRepository SuspensionPoint = "repository"
)

// Suspend starts a span around a suspension-point call and ends it with the
// call's outcome. contextID is attached as a span attribute so traces can be
// filtered per-context.
func Suspend(ctx context.Context, point SuspensionPoint, contextID string, fn func(context.Context) error) error {
	ctx, span := Tracer().Start(ctx, "dice."+string(point),
		trace.WithAttributes(
			attribute.String("dice.context_id", contextID),
			attribute.String("dice.suspension_point", string(point)),
		),
	)
	defer span.End()

	err := fn(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return err
}

// CorrelationID extracts the active span's trace id from ctx, or "" if none.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}
