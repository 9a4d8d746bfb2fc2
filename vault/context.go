package vault

import (
	"context"

	"github.com/LerianStudio/shared-vault/vault/log"
	"github.com/LerianStudio/shared-vault/vault/opentelemetry/metrics"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

type customContextKey string

// CustomContextKey is the context key used to store CustomContextKeyValue.
var CustomContextKey = customContextKey("custom_context")

// CustomContextKeyValue holds the request-scoped facilities attached to a context.
type CustomContextKeyValue struct {
	HeaderID      string
	Tracer        trace.Tracer
	Logger        log.Logger
	MetricFactory *metrics.MetricsFactory
}

// with copies the stored values so that derived contexts never mutate their parent.
func with(ctx context.Context, apply func(values *CustomContextKeyValue)) context.Context {
	values := CustomContextKeyValue{}
	if current, ok := ctx.Value(CustomContextKey).(*CustomContextKeyValue); ok && current != nil {
		values = *current
	}

	apply(&values)

	return context.WithValue(ctx, CustomContextKey, &values)
}

// ContextWithLogger returns a context carrying logger.
func ContextWithLogger(ctx context.Context, logger log.Logger) context.Context {
	return with(ctx, func(values *CustomContextKeyValue) { values.Logger = logger })
}

// ContextWithTracer returns a context carrying tracer.
func ContextWithTracer(ctx context.Context, tracer trace.Tracer) context.Context {
	return with(ctx, func(values *CustomContextKeyValue) { values.Tracer = tracer })
}

// ContextWithMetricFactory returns a context carrying factory.
func ContextWithMetricFactory(ctx context.Context, factory *metrics.MetricsFactory) context.Context {
	return with(ctx, func(values *CustomContextKeyValue) { values.MetricFactory = factory })
}

// ContextWithHeaderID returns a context carrying the request correlation id.
func ContextWithHeaderID(ctx context.Context, headerID string) context.Context {
	return with(ctx, func(values *CustomContextKeyValue) { values.HeaderID = headerID })
}

// NewLoggerFromContext returns the logger stored in ctx, or a no-op logger.
//
//nolint:ireturn
func NewLoggerFromContext(ctx context.Context) log.Logger {
	if values, ok := ctx.Value(CustomContextKey).(*CustomContextKeyValue); ok && values != nil {
		return log.OrNop(values.Logger)
	}

	return log.NewNop()
}

// NewTrackingFromContext extracts logger, tracer, header id and metrics
// factory from ctx, substituting defaults for anything missing. A missing
// header id is replaced by a fresh UUID.
//
//nolint:ireturn
func NewTrackingFromContext(ctx context.Context) (log.Logger, trace.Tracer, string, *metrics.MetricsFactory) {
	values, _ := ctx.Value(CustomContextKey).(*CustomContextKeyValue)
	if values == nil {
		values = &CustomContextKeyValue{}
	}

	logger := log.OrNop(values.Logger)

	tracer := values.Tracer
	if tracer == nil {
		tracer = otel.Tracer("default")
	}

	headerID := values.HeaderID
	if headerID == "" {
		headerID = uuid.NewString()
	}

	factory := values.MetricFactory
	if factory == nil {
		factory = metrics.NewNopFactory()
	}

	return logger, tracer, headerID, factory
}
