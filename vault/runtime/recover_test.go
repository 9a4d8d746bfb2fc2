//go:build unit

package runtime

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/LerianStudio/shared-vault/vault/log"
	"github.com/LerianStudio/shared-vault/vault/opentelemetry/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type testLogger struct {
	mu       sync.Mutex
	messages []string
	logged   chan struct{}
}

func newTestLogger() *testLogger {
	return &testLogger{logged: make(chan struct{}, 1)}
}

func (l *testLogger) Log(_ context.Context, _ log.Level, msg string, _ ...log.Field) {
	l.mu.Lock()
	l.messages = append(l.messages, msg)
	l.mu.Unlock()

	select {
	case l.logged <- struct{}{}:
	default:
	}
}

func (l *testLogger) waitForLog(timeout time.Duration) bool {
	select {
	case <-l.logged:
		return true
	case <-time.After(timeout):
		return false
	}
}

type captureReporter struct {
	mu   sync.Mutex
	errs []error
	tags []map[string]string
}

func (r *captureReporter) CaptureException(_ context.Context, err error, tags map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.errs = append(r.errs, err)
	r.tags = append(r.tags, tags)
}

func TestSafeGoRecoversPanic(t *testing.T) {
	logger := newTestLogger()

	SafeGo(logger, "worker", KeepRunning, func() {
		panic("boom")
	})

	require.True(t, logger.waitForLog(time.Second))

	logger.mu.Lock()
	defer logger.mu.Unlock()
	assert.Equal(t, []string{"panic recovered"}, logger.messages)
}

func TestRecoverAndLogNoPanic(t *testing.T) {
	logger := newTestLogger()

	func() {
		defer RecoverAndLog(logger, "noop")
	}()

	assert.Empty(t, logger.messages)
}

func TestRecoverWithCrashPolicyRepanics(t *testing.T) {
	logger := newTestLogger()

	assert.PanicsWithValue(t, "fatal", func() {
		defer RecoverWithPolicyAndContext(context.Background(), logger, "ledger", "crash", CrashProcess)
		panic("fatal")
	})

	assert.Equal(t, []string{"panic recovered"}, logger.messages)
}

func TestRecoverNilLogger(t *testing.T) {
	assert.NotPanics(t, func() {
		defer RecoverAndLog(nil, "nil-logger")
		panic(errors.New("boom"))
	})
}

func TestPanicMetricsCounted(t *testing.T) {
	t.Cleanup(ResetPanicMetrics)

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	factory, err := metrics.NewMetricsFactory(mp.Meter("test"), log.NewNop())
	require.NoError(t, err)

	InitPanicMetrics(factory)

	func() {
		defer RecoverWithPolicyAndContext(context.Background(), nil, "outbox", "dispatcher", KeepRunning)
		panic("boom")
	}()

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var total int64

	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != panicRecoveredMetric.Name {
				continue
			}

			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)

			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}

	assert.Equal(t, int64(1), total)
}

func TestErrorReporterRedactsInProduction(t *testing.T) {
	reporter := &captureReporter{}
	SetErrorReporter(reporter)
	t.Cleanup(func() {
		SetErrorReporter(nil)
		SetProductionMode(false)
	})

	func() {
		defer RecoverAndLog(nil, "dev")
		panic("secret detail")
	}()

	SetProductionMode(true)

	func() {
		defer RecoverAndLog(nil, "prod")
		panic("secret detail")
	}()

	require.Len(t, reporter.errs, 2)
	assert.Equal(t, "secret detail", reporter.errs[0].Error())
	assert.Contains(t, reporter.tags[0], "stack_trace")
	assert.Equal(t, redactedPanicMsg, reporter.errs[1].Error())
	assert.NotContains(t, reporter.tags[1], "stack_trace")
}

func TestFormatPanicValue(t *testing.T) {
	assert.Equal(t, "<nil>", formatPanicValue(nil))
	assert.Equal(t, "text", formatPanicValue("text"))
	assert.Equal(t, "err", formatPanicValue(errors.New("err")))
	assert.Equal(t, "42", formatPanicValue(42))
}
