package runtime

import (
	"context"
	"errors"
	"sync"
)

// ErrorReporter forwards recovered panics to an external tracker.
type ErrorReporter interface {
	CaptureException(ctx context.Context, err error, tags map[string]string)
}

var (
	errorReporter   ErrorReporter
	errorReporterMu sync.RWMutex
	productionMode  bool
)

const (
	redactedPanicMsg = "panic recovered (details redacted)"
	maxStackLen      = 4096
)

// SetErrorReporter configures the global reporter. nil disables reporting.
func SetErrorReporter(reporter ErrorReporter) {
	errorReporterMu.Lock()
	defer errorReporterMu.Unlock()

	errorReporter = reporter
}

// SetProductionMode redacts panic values and stacks in reports when enabled.
func SetProductionMode(enabled bool) {
	errorReporterMu.Lock()
	defer errorReporterMu.Unlock()

	productionMode = enabled
}

func reportPanic(ctx context.Context, value any, stack []byte, component, name string) {
	errorReporterMu.RLock()
	reporter, production := errorReporter, productionMode
	errorReporterMu.RUnlock()

	if reporter == nil {
		return
	}

	tags := map[string]string{
		"component":      component,
		"goroutine_name": name,
	}

	err := errors.New(redactedPanicMsg)

	if !production {
		err = errors.New(formatPanicValue(value))

		trace := string(stack)
		if len(trace) > maxStackLen {
			trace = trace[:maxStackLen] + "\n...[truncated]"
		}

		tags["stack_trace"] = trace
	}

	reporter.CaptureException(ctx, err, tags)
}
