// Package tracing wraps a transport.Transport with OpenTelemetry spans, so
// Log/LogBatch/Flush/Query calls show up in a trace backend the same way
// any other instrumented operation in a traced service would.
package tracing

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	oteltrace "go.opentelemetry.io/otel/trace"

	"logtransport/query"
	"logtransport/record"
	"logtransport/transport"
)

// Config configures distributed tracing for a wrapped transport.
type Config struct {
	Enabled      bool              `yaml:"enabled"`
	ServiceName  string            `yaml:"service_name"`
	Environment  string            `yaml:"environment"`
	Exporter     string            `yaml:"exporter"` // "jaeger", "otlp", "console"
	Endpoint     string            `yaml:"endpoint"`
	SampleRate   float64           `yaml:"sample_rate"`
	BatchTimeout time.Duration     `yaml:"batch_timeout"`
	MaxBatchSize int               `yaml:"max_batch_size"`
	Headers      map[string]string `yaml:"headers"`
}

// DefaultConfig returns tracing disabled by default, otlp when enabled.
func DefaultConfig() Config {
	return Config{
		Enabled:      false,
		ServiceName:  "logtransportd",
		Environment:  "production",
		Exporter:     "otlp",
		Endpoint:     "http://localhost:4318/v1/traces",
		SampleRate:   1.0,
		BatchTimeout: 5 * time.Second,
		MaxBatchSize: 512,
		Headers:      make(map[string]string),
	}
}

// Manager owns the TracerProvider lifecycle and produces Tracer-wrapped
// transports. A disabled Manager hands out a no-op tracer so callers never
// need to branch on whether tracing is on.
type Manager struct {
	config   Config
	logger   *logrus.Logger
	provider *trace.TracerProvider
	tracer   oteltrace.Tracer
}

// NewManager builds a Manager. With config.Enabled false, it returns
// immediately with a no-op tracer and no background exporter.
func NewManager(cfg Config, logger *logrus.Logger) (*Manager, error) {
	if !cfg.Enabled {
		return &Manager{config: cfg, logger: logger, tracer: otel.Tracer("noop")}, nil
	}

	m := &Manager{config: cfg, logger: logger}
	if err := m.initialize(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) initialize() error {
	exporter, err := m.createExporter()
	if err != nil {
		return fmt.Errorf("tracing: create exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(m.config.ServiceName),
			semconv.DeploymentEnvironment(m.config.Environment),
		),
	)
	if err != nil {
		return fmt.Errorf("tracing: create resource: %w", err)
	}

	m.provider = trace.NewTracerProvider(
		trace.WithBatcher(exporter,
			trace.WithBatchTimeout(m.config.BatchTimeout),
			trace.WithMaxExportBatchSize(m.config.MaxBatchSize),
		),
		trace.WithResource(res),
		trace.WithSampler(trace.TraceIDRatioBased(m.config.SampleRate)),
	)

	otel.SetTracerProvider(m.provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	m.tracer = otel.Tracer(m.config.ServiceName)

	m.logger.WithFields(logrus.Fields{
		"service_name": m.config.ServiceName,
		"exporter":     m.config.Exporter,
		"endpoint":     m.config.Endpoint,
		"sample_rate":  m.config.SampleRate,
	}).Info("distributed tracing initialized")

	return nil
}

func (m *Manager) createExporter() (trace.SpanExporter, error) {
	switch m.config.Exporter {
	case "jaeger":
		return jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(m.config.Endpoint)))

	case "otlp":
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(m.config.Endpoint)}
		if len(m.config.Headers) > 0 {
			opts = append(opts, otlptracehttp.WithHeaders(m.config.Headers))
		}
		return otlptrace.New(context.Background(), otlptracehttp.NewClient(opts...))

	case "console":
		return otlptrace.New(context.Background(), otlptracehttp.NewClient(
			otlptracehttp.WithEndpoint("http://localhost:4318"),
			otlptracehttp.WithInsecure(),
		))

	default:
		return nil, fmt.Errorf("unsupported exporter: %s", m.config.Exporter)
	}
}

// Tracer returns the manager's tracer, usable directly or via Wrap.
func (m *Manager) Tracer() oteltrace.Tracer { return m.tracer }

// Shutdown flushes and stops the tracer provider. No-op when tracing is
// disabled.
func (m *Manager) Shutdown(ctx context.Context) error {
	if m.provider != nil {
		return m.provider.Shutdown(ctx)
	}
	return nil
}

// Wrap decorates next with spans for every Transport call.
func (m *Manager) Wrap(next transport.Transport) transport.Transport {
	return &tracedTransport{next: next, tracer: m.tracer}
}

type tracedTransport struct {
	next   transport.Transport
	tracer oteltrace.Tracer
}

func (t *tracedTransport) Log(r record.LogRecord) {
	_, span := t.tracer.Start(context.Background(), "transport.Log")
	defer span.End()
	span.SetAttributes(attribute.String("log.level", r.Level))
	t.next.Log(r)
}

func (t *tracedTransport) LogBatch(records []record.LogRecord) {
	_, span := t.tracer.Start(context.Background(), "transport.LogBatch")
	defer span.End()
	span.SetAttributes(attribute.Int("log.batch_size", len(records)))
	t.next.LogBatch(records)
}

func (t *tracedTransport) Flush() error {
	_, span := t.tracer.Start(context.Background(), "transport.Flush")
	defer span.End()
	err := t.next.Flush()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (t *tracedTransport) Query(q query.LogQuery) ([]record.LogRecord, error) {
	_, span := t.tracer.Start(context.Background(), "transport.Query")
	defer span.End()
	results, err := t.next.Query(q)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return results, err
	}
	span.SetAttributes(attribute.Int("query.result_count", len(results)))
	return results, nil
}

func (t *tracedTransport) GetLevel() (string, bool) { return t.next.GetLevel() }

func (t *tracedTransport) GetFormat() (any, bool) { return t.next.GetFormat() }

var _ transport.Transport = (*tracedTransport)(nil)
