// Package telemetry provides optional OpenTelemetry spans around harness
// runs and cases. When disabled every call goes to a no-op tracer.
package telemetry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	instrumentationName = "github.com/marcohefti/skilleval"
	serviceName         = "skilleval"
	batchTimeout        = 2 * time.Second
)

// Tracing owns the tracer provider and, when spans are exported, the file
// they are written to.
type Tracing struct {
	provider *sdktrace.TracerProvider
	file     *os.File
	tracer   trace.Tracer
}

// Disabled returns a Tracing whose spans are dropped.
func Disabled() *Tracing {
	return &Tracing{tracer: noop.NewTracerProvider().Tracer(instrumentationName)}
}

// Start exports spans as JSON lines to path. An empty path is Disabled().
func Start(ctx context.Context, path string, invocationID string) (*Tracing, error) {
	if path == "" {
		return Disabled(), nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(f))
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", serviceName),
		attribute.String("skilleval.invocation_id", invocationID),
	))
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(batchTimeout)),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
	)
	return &Tracing{provider: tp, file: f, tracer: tp.Tracer(instrumentationName)}, nil
}

func (t *Tracing) Tracer() trace.Tracer {
	if t == nil {
		return noop.NewTracerProvider().Tracer(instrumentationName)
	}
	return t.tracer
}

// Shutdown flushes pending spans and closes the export file.
func (t *Tracing) Shutdown(ctx context.Context) error {
	if t == nil || t.provider == nil {
		return nil
	}
	err := t.provider.Shutdown(ctx)
	if cerr := t.file.Close(); cerr != nil {
		err = errors.Join(err, cerr)
	}
	return err
}

func (t *Tracing) StartRun(ctx context.Context, run, agent, model string) (context.Context, trace.Span) {
	return t.Tracer().Start(ctx, "skilleval.run", trace.WithAttributes(
		attribute.String("skilleval.run", run),
		attribute.String("skilleval.agent", agent),
		attribute.String("skilleval.model", model),
	))
}

func (t *Tracing) StartCase(ctx context.Context, run, caseID string, index int) (context.Context, trace.Span) {
	return t.Tracer().Start(ctx, "skilleval.case", trace.WithAttributes(
		attribute.String("skilleval.run", run),
		attribute.String("skilleval.case_id", caseID),
		attribute.Int("skilleval.index", index),
	))
}

// EndCase records the verdict on span and ends it. Blocking verdicts mark the
// span as an error.
func EndCase(span trace.Span, status, reason string, skills []string, blocking bool) {
	span.SetAttributes(
		attribute.String("skilleval.status", status),
		attribute.String("skilleval.reason", reason),
		attribute.StringSlice("skilleval.skills", skills),
	)
	if blocking {
		span.SetStatus(codes.Error, reason)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
