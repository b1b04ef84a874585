// Package telemetry wires OpenTelemetry tracing for the proxy core and
// its active-testing engines: one span per captured exchange, one per
// attack/crawl/scan run, and one event on the scan's span per dispatched
// scanner check.
package telemetry

import (
	"context"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Config holds telemetry configuration.
type Config struct {
	Enabled     bool   `yaml:"enabled"`
	Exporter    string `yaml:"exporter"` // "otlp", "stdout", or "none"
	Endpoint    string `yaml:"endpoint"`
	ServiceName string `yaml:"service_name"`
	Insecure    bool   `yaml:"insecure"`
}

// Provider manages OpenTelemetry tracing.
type Provider struct {
	config   Config
	tracer   trace.Tracer
	provider *sdktrace.TracerProvider
}

// NewProvider creates a new telemetry provider.
func NewProvider(cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{config: cfg, tracer: otel.Tracer("intercept")}, nil
	}

	if cfg.ServiceName == "" {
		cfg.ServiceName = "intercept"
	}

	slog.Info("creating exporter", "component", "telemetry", "type", cfg.Exporter)

	var exporter sdktrace.SpanExporter
	var err error
	switch cfg.Exporter {
	case "otlp":
		exporter, err = createOTLPExporter(cfg)
		if err != nil {
			return nil, err
		}
		slog.Info("otlp exporter initialized", "component", "telemetry", "endpoint", cfg.Endpoint)
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, err
		}
		slog.Info("stdout trace exporter initialized", "component", "telemetry")
	default:
		return &Provider{config: cfg, tracer: otel.Tracer("intercept")}, nil
	}

	// Sync exporter avoids carrying a background batcher across the
	// process lifetime; the workbench's trace volume is modest.
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	otel.SetTracerProvider(tp)

	return &Provider{config: cfg, tracer: tp.Tracer("intercept"), provider: tp}, nil
}

func createOTLPExporter(cfg Config) (sdktrace.SpanExporter, error) {
	ctx := context.Background()
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	return otlptracegrpc.New(ctx, opts...)
}

func (p *Provider) Tracer() trace.Tracer { return p.tracer }

func (p *Provider) Shutdown(ctx context.Context) error {
	if p.provider != nil {
		return p.provider.Shutdown(ctx)
	}
	return nil
}

func (p *Provider) Enabled() bool { return p.config.Enabled && p.provider != nil }

// Span attribute keys shared across engines.
const (
	AttrExchangeID  = "intercept.exchange.id"
	AttrAttackID    = "intercept.attack.id"
	AttrCrawlID     = "intercept.crawl.id"
	AttrScanID      = "intercept.scan.id"
	AttrCheckID     = "intercept.check.id"
	AttrHost        = "intercept.host"
	AttrMethod      = "http.request.method"
	AttrURL         = "url.full"
	AttrStatusCode  = "http.response.status_code"
	AttrElapsedMs   = "intercept.elapsed_ms"
	AttrIssuesFound = "intercept.issues_found"
)

// StartExchangeSpan starts a span covering one proxied request/response
// round trip.
func (p *Provider) StartExchangeSpan(ctx context.Context, exchangeID, method, url string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, "proxy.exchange",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String(AttrExchangeID, exchangeID),
			attribute.String(AttrMethod, method),
			attribute.String(AttrURL, url),
		),
	)
}

// EndExchangeSpan closes an exchange span with its outcome.
func (p *Provider) EndExchangeSpan(span trace.Span, status int, elapsedMs int64, err error) {
	span.SetAttributes(
		attribute.Int(AttrStatusCode, status),
		attribute.Int64(AttrElapsedMs, elapsedMs),
	)
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}

// StartEngineSpan starts a span for one run of an active-testing engine
// (attack, crawl, or scan), named by kind ("attack", "crawl", "scan").
func (p *Provider) StartEngineSpan(ctx context.Context, kind, id string) (context.Context, trace.Span) {
	attrKey := AttrAttackID
	switch kind {
	case "crawl":
		attrKey = AttrCrawlID
	case "scan":
		attrKey = AttrScanID
	}
	return p.tracer.Start(ctx, "engine."+kind,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String(attrKey, id)),
	)
}

// RecordCheckDispatch records one (url, check) probe dispatch within an
// active-scanner span.
func (p *Provider) RecordCheckDispatch(ctx context.Context, checkID, url string, issuesFound int) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent("scanner.check_dispatched",
		trace.WithAttributes(
			attribute.String(AttrCheckID, checkID),
			attribute.String(AttrURL, url),
			attribute.Int(AttrIssuesFound, issuesFound),
		),
	)
}

// DefaultConfig returns a default telemetry configuration.
func DefaultConfig() Config {
	return Config{Enabled: false, Exporter: "none", ServiceName: "intercept"}
}

// ConfigFromEnv creates config from standard OTEL_* and INTERCEPT_* env vars.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()
	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "" {
		cfg.Enabled = true
		cfg.Exporter = "otlp"
		cfg.Endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
		cfg.Insecure = os.Getenv("OTEL_EXPORTER_OTLP_INSECURE") == "true"
	}
	if os.Getenv("INTERCEPT_TELEMETRY_ENABLED") == "true" {
		cfg.Enabled = true
	}
	if v := os.Getenv("INTERCEPT_TELEMETRY_EXPORTER"); v != "" {
		cfg.Exporter = v
	}
	if v := os.Getenv("INTERCEPT_TELEMETRY_ENDPOINT"); v != "" {
		cfg.Endpoint = v
	}
	return cfg
}

// NoopProvider returns a provider that does nothing, for tests and
// standalone runs without a configured exporter.
func NoopProvider() *Provider {
	return &Provider{config: Config{Enabled: false}, tracer: otel.Tracer("intercept-noop")}
}

func SpanFromContext(ctx context.Context) trace.Span { return trace.SpanFromContext(ctx) }

func ContextWithTimeout(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}
