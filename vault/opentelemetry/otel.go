package opentelemetry

import (
	"context"
	"errors"
	"fmt"

	"github.com/LerianStudio/shared-vault/vault/log"
	"github.com/LerianStudio/shared-vault/vault/opentelemetry/metrics"
	"github.com/gofiber/fiber/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrNilTelemetryConfig indicates that nil config was provided.
	ErrNilTelemetryConfig = errors.New("telemetry config cannot be nil")
	// ErrNilTelemetryLogger indicates that config.Logger is nil.
	ErrNilTelemetryLogger = errors.New("telemetry config logger cannot be nil")
)

// TelemetryConfig configures the process-wide providers.
type TelemetryConfig struct {
	LibraryName    string
	ServiceName    string
	ServiceVersion string
	DeploymentEnv  string

	// CollectorExporterEndpoint is an OTLP gRPC host:port. Empty keeps all
	// signals in process.
	CollectorExporterEndpoint string
	Logger                    log.Logger
}

// Telemetry holds the installed providers.
type Telemetry struct {
	TelemetryConfig
	TracerProvider *sdktrace.TracerProvider
	MetricProvider *sdkmetric.MeterProvider
	LoggerProvider *sdklog.LoggerProvider
	MetricsFactory *metrics.MetricsFactory
}

func (tl *TelemetryConfig) newResource() *sdkresource.Resource {
	return sdkresource.NewSchemaless(
		attribute.String("service.name", tl.ServiceName),
		attribute.String("service.version", tl.ServiceVersion),
		attribute.String("deployment.environment", tl.DeploymentEnv),
	)
}

// InitializeTelemetry installs SDK tracer and meter providers globally and
// returns a metrics factory bound to LibraryName. Additional readers, such
// as an exporter, can be attached through readers.
func InitializeTelemetry(cfg *TelemetryConfig, readers ...sdkmetric.Reader) (*Telemetry, error) {
	if cfg == nil {
		return nil, ErrNilTelemetryConfig
	}

	if cfg.Logger == nil {
		return nil, ErrNilTelemetryLogger
	}

	ctx := context.Background()
	res := cfg.newResource()

	mpOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	lpOpts := []sdklog.LoggerProviderOption{sdklog.WithResource(res)}

	for _, r := range readers {
		mpOpts = append(mpOpts, sdkmetric.WithReader(r))
	}

	if cfg.CollectorExporterEndpoint != "" {
		tExp, err := otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.CollectorExporterEndpoint), otlptracegrpc.WithInsecure())
		if err != nil {
			return nil, fmt.Errorf("can't initialize tracer exporter: %w", err)
		}

		mExp, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.CollectorExporterEndpoint), otlpmetricgrpc.WithInsecure())
		if err != nil {
			return nil, fmt.Errorf("can't initialize metric exporter: %w", err)
		}

		lExp, err := otlploggrpc.New(ctx,
			otlploggrpc.WithEndpoint(cfg.CollectorExporterEndpoint), otlploggrpc.WithInsecure())
		if err != nil {
			return nil, fmt.Errorf("can't initialize logger exporter: %w", err)
		}

		// Providers shut their exporters down with them.
		tpOpts = append(tpOpts, sdktrace.WithBatcher(tExp))
		mpOpts = append(mpOpts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(mExp)))
		lpOpts = append(lpOpts, sdklog.WithProcessor(sdklog.NewBatchProcessor(lExp)))
	}

	mp := sdkmetric.NewMeterProvider(mpOpts...)
	tp := sdktrace.NewTracerProvider(tpOpts...)
	lp := sdklog.NewLoggerProvider(lpOpts...)

	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)
	global.SetLoggerProvider(lp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	factory, err := metrics.NewMetricsFactory(mp.Meter(cfg.LibraryName), cfg.Logger)
	if err != nil {
		return nil, err
	}

	cfg.Logger.Log(ctx, log.LevelInfo, "telemetry initialized",
		log.String("service", cfg.ServiceName), log.String("version", cfg.ServiceVersion),
		log.Bool("exporting", cfg.CollectorExporterEndpoint != ""))

	return &Telemetry{
		TelemetryConfig: *cfg,
		TracerProvider:  tp,
		MetricProvider:  mp,
		LoggerProvider:  lp,
		MetricsFactory:  factory,
	}, nil
}

// ShutdownTelemetry flushes and stops every provider.
func (tl *Telemetry) ShutdownTelemetry(ctx context.Context) error {
	return errors.Join(
		tl.MetricProvider.Shutdown(ctx),
		tl.TracerProvider.Shutdown(ctx),
		tl.LoggerProvider.Shutdown(ctx),
	)
}

// HandleSpanBusinessErrorEvent records a business rejection as a span event
// without flagging the span as failed.
func HandleSpanBusinessErrorEvent(span *trace.Span, eventName string, err error) {
	if span != nil && err != nil {
		(*span).AddEvent(eventName, trace.WithAttributes(attribute.String("error", err.Error())))
	}
}

// HandleSpanEvent adds an event to the span.
func HandleSpanEvent(span *trace.Span, eventName string, attributes ...attribute.KeyValue) {
	if span != nil {
		(*span).AddEvent(eventName, trace.WithAttributes(attributes...))
	}
}

// HandleSpanError sets the status of the span to error and records the error.
func HandleSpanError(span *trace.Span, message string, err error) {
	if span != nil && err != nil {
		(*span).SetStatus(codes.Error, message+": "+err.Error())
		(*span).RecordError(err)
	}
}

// ExtractHTTPContext returns the request context enriched with any trace
// context carried in the incoming headers.
func ExtractHTTPContext(c *fiber.Ctx) context.Context {
	carrier := propagation.HeaderCarrier{}

	c.Request().Header.VisitAll(func(key, value []byte) {
		carrier.Set(string(key), string(value))
	})

	return otel.GetTextMapPropagator().Extract(c.UserContext(), carrier)
}

// InjectQueueTraceContext serializes the trace context of ctx into message
// headers.
func InjectQueueTraceContext(ctx context.Context) map[string]any {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	headers := make(map[string]any, len(carrier))
	for k, v := range carrier {
		headers[k] = v
	}

	return headers
}

// ExtractQueueTraceContext restores a trace context from message headers.
func ExtractQueueTraceContext(ctx context.Context, headers map[string]any) context.Context {
	if len(headers) == 0 {
		return ctx
	}

	carrier := propagation.MapCarrier{}

	for k, v := range headers {
		if s, ok := v.(string); ok {
			carrier.Set(k, s)
		}
	}

	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

// GetTraceIDFromContext returns the active trace id, or "" when none.
func GetTraceIDFromContext(ctx context.Context) string {
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.HasTraceID() {
		return ""
	}

	return sc.TraceID().String()
}
