package tracing

import (
	"context"
	"fmt"
	"time"

	"chatflow/internal/models"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	oteltrace "go.opentelemetry.io/otel/trace"
)

const (
	instrumentationName = "chatflow"
	shutdownTimeout     = 5 * time.Second
)

// Defaults fills the unset fields of cfg. Tracing stays disabled unless
// the config enables it.
func Defaults(cfg models.TracingConfig) models.TracingConfig {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "chatflow"
	}
	if cfg.ServiceVersion == "" {
		cfg.ServiceVersion = "dev"
	}
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.OTLPEndpoint == "" {
		cfg.OTLPEndpoint = "localhost:4318"
	}
	if cfg.SampleRate <= 0 || cfg.SampleRate > 1 {
		cfg.SampleRate = 0.1
	}
	return cfg
}

// Manager owns the global tracer provider for the process lifetime.
type Manager struct {
	cfg      models.TracingConfig
	logger   *logrus.Logger
	provider *sdktrace.TracerProvider
}

func NewTracingManager(cfg models.TracingConfig, logger *logrus.Logger) *Manager {
	return &Manager{cfg: Defaults(cfg), logger: logger}
}

func (m *Manager) exporter(ctx context.Context) (sdktrace.SpanExporter, error) {
	if m.cfg.UseStdout {
		return stdouttrace.New()
	}
	return otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(m.cfg.OTLPEndpoint),
		otlptracehttp.WithInsecure(),
	)
}

// Initialize installs the tracer provider and W3C propagator. It is a
// no-op when tracing is disabled; spans then come from the noop tracer.
func (m *Manager) Initialize(ctx context.Context) error {
	if !m.cfg.Enabled {
		m.logger.Debug("Tracing disabled")
		return nil
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceNameKey.String(m.cfg.ServiceName),
		semconv.ServiceVersionKey.String(m.cfg.ServiceVersion),
		semconv.DeploymentEnvironmentKey.String(m.cfg.Environment),
	))
	if err != nil {
		return fmt.Errorf("tracing resource: %w", err)
	}

	exp, err := m.exporter(ctx)
	if err != nil {
		return fmt.Errorf("tracing exporter: %w", err)
	}

	m.provider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(m.cfg.SampleRate))),
	)
	otel.SetTracerProvider(m.provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))

	m.logger.WithFields(logrus.Fields{
		"service":     m.cfg.ServiceName,
		"sample_rate": m.cfg.SampleRate,
		"stdout":      m.cfg.UseStdout,
	}).Info("Tracing initialized")
	return nil
}

// Shutdown flushes pending spans. Safe to call when never initialized.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m.provider == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := m.provider.Shutdown(ctx); err != nil {
		return fmt.Errorf("tracing shutdown: %w", err)
	}
	m.provider = nil
	return nil
}

// StartSpan starts a span on the process tracer.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, oteltrace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name, oteltrace.WithAttributes(attrs...))
}

func AddSpanAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	if span := oteltrace.SpanFromContext(ctx); span.IsRecording() {
		span.SetAttributes(attrs...)
	}
}

func SetSpanStatus(ctx context.Context, code codes.Code, description string) {
	if span := oteltrace.SpanFromContext(ctx); span.IsRecording() {
		span.SetStatus(code, description)
	}
}

// RecordError attaches err to the current span and marks it failed.
func RecordError(ctx context.Context, err error, attrs ...attribute.KeyValue) {
	if err == nil {
		return
	}
	if span := oteltrace.SpanFromContext(ctx); span.IsRecording() {
		span.RecordError(err, oteltrace.WithAttributes(attrs...))
		span.SetStatus(codes.Error, err.Error())
	}
}

// WithOtelTracing starts a span and mirrors its ids into the context
// values read by loggers. Without a real provider the span context is
// invalid, so locally generated ids are used instead.
func WithOtelTracing(ctx context.Context, name string) (context.Context, oteltrace.Span) {
	ctx, span := StartSpan(ctx, name)
	sc := span.SpanContext()
	if sc.IsValid() {
		ctx = WithTraceID(ctx, sc.TraceID().String())
		ctx = WithSpanID(ctx, sc.SpanID().String())
		return ctx, span
	}
	if GetTraceID(ctx) == "" {
		ctx = WithTraceID(ctx, GenerateTraceID())
	}
	return WithSpanID(ctx, GenerateSpanID()), span
}
