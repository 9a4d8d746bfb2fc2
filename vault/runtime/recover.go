package runtime

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	constant "github.com/LerianStudio/shared-vault/vault/constants"
	"github.com/LerianStudio/shared-vault/vault/log"
	"github.com/LerianStudio/shared-vault/vault/opentelemetry/metrics"
)

// Logger is the subset of log.Logger needed for panic reporting.
type Logger interface {
	Log(ctx context.Context, level log.Level, msg string, fields ...log.Field)
}

// PanicPolicy decides what happens after a panic is recovered.
type PanicPolicy int

const (
	// KeepRunning logs the panic and lets the process continue.
	KeepRunning PanicPolicy = iota
	// CrashProcess logs the panic and re-panics.
	CrashProcess
)

var panicRecoveredMetric = metrics.Metric{
	Name:        constant.MetricPanicRecoveredTotal,
	Unit:        "1",
	Description: "Measures the number of panics recovered in goroutines.",
}

var (
	panicFactory   *metrics.MetricsFactory
	panicFactoryMu sync.RWMutex
)

// InitPanicMetrics binds recovered-panic counting to factory. Only the first
// non-nil factory is kept.
func InitPanicMetrics(factory *metrics.MetricsFactory) {
	panicFactoryMu.Lock()
	defer panicFactoryMu.Unlock()

	if factory == nil || panicFactory != nil {
		return
	}

	panicFactory = factory
}

// ResetPanicMetrics clears the bound factory. Tests use it for isolation.
func ResetPanicMetrics() {
	panicFactoryMu.Lock()
	defer panicFactoryMu.Unlock()

	panicFactory = nil
}

func recordPanic(ctx context.Context, component, name string) {
	panicFactoryMu.RLock()
	factory := panicFactory
	panicFactoryMu.RUnlock()

	if factory == nil {
		return
	}

	counter, err := factory.Counter(panicRecoveredMetric)
	if err != nil {
		return
	}

	_ = counter.WithLabels(map[string]string{
		"component":      constant.SanitizeMetricLabel(component),
		"goroutine_name": constant.SanitizeMetricLabel(name),
	}).AddOne(ctx)
}

// SafeGo runs fn in a goroutine that recovers panics according to policy.
func SafeGo(logger Logger, name string, policy PanicPolicy, fn func()) {
	SafeGoWithContext(context.Background(), logger, "", name, policy, func(context.Context) { fn() })
}

// SafeGoWithContext runs fn(ctx) in a goroutine labeled by component and name.
func SafeGoWithContext(ctx context.Context, logger Logger, component, name string, policy PanicPolicy, fn func(context.Context)) {
	go func() {
		defer RecoverWithPolicyAndContext(ctx, logger, component, name, policy)

		fn(ctx)
	}()
}

// RecoverAndLog recovers a panic in the calling goroutine and logs it.
// It must be deferred directly.
func RecoverAndLog(logger Logger, name string) {
	if r := recover(); r != nil {
		handlePanicValue(context.Background(), logger, r, "", name)
	}
}

// RecoverWithPolicyAndContext recovers a panic and applies policy. It must be
// deferred directly.
func RecoverWithPolicyAndContext(ctx context.Context, logger Logger, component, name string, policy PanicPolicy) {
	r := recover()
	if r == nil {
		return
	}

	handlePanicValue(ctx, logger, r, component, name)

	if policy == CrashProcess {
		panic(r)
	}
}

// HandlePanicValue logs, counts and reports a value already recovered by
// the caller.
func HandlePanicValue(ctx context.Context, logger Logger, value any, component, name string) {
	handlePanicValue(ctx, logger, value, component, name)
}

func handlePanicValue(ctx context.Context, logger Logger, value any, component, name string) {
	stack := debug.Stack()

	if logger != nil {
		logger.Log(ctx, log.LevelError, "panic recovered",
			log.String("component", component),
			log.String("goroutine_name", name),
			log.String("panic_value", formatPanicValue(value)),
			log.String("stack", string(stack)),
		)
	}

	recordPanic(ctx, component, name)
	reportPanic(ctx, value, stack, component, name)
}

func formatPanicValue(value any) string {
	switch val := value.(type) {
	case nil:
		return "<nil>"
	case string:
		return val
	case error:
		return val.Error()
	default:
		return fmt.Sprintf("%v", value)
	}
}
