//go:build unit

package assert

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/LerianStudio/shared-vault/vault/log"
	"github.com/LerianStudio/shared-vault/vault/opentelemetry/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type recordingLogger struct {
	messages []string
}

func (l *recordingLogger) Log(_ context.Context, _ log.Level, msg string, _ ...log.Field) {
	l.messages = append(l.messages, msg)
}

func TestPassingAssertionsReturnNil(t *testing.T) {
	a := New(nil, "ledger", "deposit")
	ctx := context.Background()

	assert.NoError(t, a.That(ctx, true, "ok"))
	assert.NoError(t, a.NotNil(ctx, &struct{}{}, "ok"))
	assert.NoError(t, a.NotEmpty(ctx, "x", "ok"))
	assert.NoError(t, a.NoError(ctx, nil, "ok"))
}

func TestFailingAssertionReturnsAssertionError(t *testing.T) {
	logger := &recordingLogger{}
	a := New(logger, "ledger", "withdraw")

	err := a.That(context.Background(), false, "balance must be conserved", "balance", 10, "expected", 12)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAssertionFailed)

	var assertionErr *AssertionError
	require.ErrorAs(t, err, &assertionErr)
	assert.Equal(t, "That", assertionErr.Assertion)
	assert.Equal(t, "ledger", assertionErr.Component)
	assert.Equal(t, "withdraw", assertionErr.Operation)
	assert.Contains(t, assertionErr.Details, "balance=10")
	assert.Contains(t, assertionErr.Details, "expected=12")

	require.Len(t, logger.messages, 1)
	assert.Equal(t, "ASSERTION FAILED: balance must be conserved", logger.messages[0])
}

func TestNotNilDetectsTypedNil(t *testing.T) {
	var ptr *struct{}

	err := New(nil, "", "").NotNil(context.Background(), ptr, "ptr required")
	assert.ErrorIs(t, err, ErrAssertionFailed)
}

func TestNoErrorIncludesErrorDetails(t *testing.T) {
	err := New(nil, "", "").NoError(context.Background(), errors.New("boom"), "must succeed")

	var assertionErr *AssertionError
	require.ErrorAs(t, err, &assertionErr)
	assert.Contains(t, assertionErr.Details, "error=boom")
	assert.Contains(t, assertionErr.Details, "error_type=*errors.errorString")
}

func TestMissingValueAndTruncation(t *testing.T) {
	details := formatKeyValueLines([]any{"key"})
	assert.Contains(t, details, "key=MISSING_VALUE")

	long := truncateValue(strings.Repeat("a", maxValueLength+5))
	assert.Contains(t, long, "(truncated 5 chars)")
}

func TestFailureRecordsSpanEventAndMetric(t *testing.T) {
	t.Cleanup(ResetAssertionMetrics)

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	factory, err := metrics.NewMetricsFactory(mp.Meter("test"), log.NewNop())
	require.NoError(t, err)

	InitAssertionMetrics(factory)

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	ctx, span := tp.Tracer("test").Start(context.Background(), "audit")
	_ = New(nil, "ledger", "audit").Never(ctx, "unreachable")
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	require.Len(t, ended[0].Events(), 1)
	assert.Equal(t, "assertion.failed", ended[0].Events()[0].Name)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	require.Len(t, rm.ScopeMetrics, 1)
	require.Len(t, rm.ScopeMetrics[0].Metrics, 1)
	assert.Equal(t, metrics.MetricAssertionFailures.Name, rm.ScopeMetrics[0].Metrics[0].Name)
}

func TestNilAsserterStillFails(t *testing.T) {
	var a *Asserter

	assert.ErrorIs(t, a.Never(context.Background(), "nil asserter"), ErrAssertionFailed)
}
