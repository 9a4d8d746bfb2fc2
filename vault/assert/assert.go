package assert

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"

	constant "github.com/LerianStudio/shared-vault/vault/constants"
	"github.com/LerianStudio/shared-vault/vault/log"
	"github.com/LerianStudio/shared-vault/vault/opentelemetry/metrics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Logger is the minimal logging contract required by assertions.
type Logger interface {
	Log(ctx context.Context, level log.Level, msg string, fields ...log.Field)
}

// ErrAssertionFailed is the sentinel error for failed assertions.
var ErrAssertionFailed = errors.New("assertion failed")

// AssertionError describes a failed assertion.
type AssertionError struct {
	Assertion string
	Message   string
	Component string
	Operation string
	Details   string
}

// Error returns the formatted assertion failure message.
func (e *AssertionError) Error() string {
	if e == nil {
		return ErrAssertionFailed.Error()
	}

	if e.Details == "" {
		return "assertion failed: " + e.Message
	}

	return "assertion failed: " + e.Message + "\n" + e.Details
}

// Unwrap returns ErrAssertionFailed for errors.Is.
func (e *AssertionError) Unwrap() error {
	return ErrAssertionFailed
}

// Asserter evaluates invariants for one component/operation pair.
type Asserter struct {
	logger    Logger
	component string
	operation string
}

// New creates an Asserter. logger may be nil.
func New(logger Logger, component, operation string) *Asserter {
	return &Asserter{logger: logger, component: component, operation: operation}
}

// That fails when ok is false.
func (a *Asserter) That(ctx context.Context, ok bool, msg string, kv ...any) error {
	if ok {
		return nil
	}

	return a.fail(ctx, "That", msg, kv...)
}

// NotNil fails when v is nil, including typed nils.
func (a *Asserter) NotNil(ctx context.Context, v any, msg string, kv ...any) error {
	if !isNil(v) {
		return nil
	}

	return a.fail(ctx, "NotNil", msg, kv...)
}

// NotEmpty fails when s is empty.
func (a *Asserter) NotEmpty(ctx context.Context, s, msg string, kv ...any) error {
	if s != "" {
		return nil
	}

	return a.fail(ctx, "NotEmpty", msg, kv...)
}

// NoError fails when err is not nil, adding the error and its type to the
// details.
func (a *Asserter) NoError(ctx context.Context, err error, msg string, kv ...any) error {
	if err == nil {
		return nil
	}

	withErr := make([]any, 0, len(kv)+4)
	withErr = append(withErr, "error", err.Error(), "error_type", fmt.Sprintf("%T", err))
	withErr = append(withErr, kv...)

	return a.fail(ctx, "NoError", msg, withErr...)
}

// Never always fails. Use it on unreachable paths.
func (a *Asserter) Never(ctx context.Context, msg string, kv ...any) error {
	return a.fail(ctx, "Never", msg, kv...)
}

func (a *Asserter) fail(ctx context.Context, assertion, msg string, kv ...any) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var logger Logger

	component, operation := "", ""
	if a != nil {
		logger, component, operation = a.logger, a.component, a.operation
	}

	pairs := make([]any, 0, len(kv)+6)
	pairs = append(pairs, "assertion", assertion)

	if component != "" {
		pairs = append(pairs, "component", component)
	}

	if operation != "" {
		pairs = append(pairs, "operation", operation)
	}

	pairs = append(pairs, kv...)
	details := formatKeyValueLines(pairs)

	if logger != nil {
		logger.Log(ctx, log.LevelError, "ASSERTION FAILED: "+msg,
			log.String("assertion", assertion),
			log.String("component", component),
			log.String("operation", operation),
			log.String("details", details),
		)
	}

	trace.SpanFromContext(ctx).AddEvent(constant.EventAssertionFailed, trace.WithAttributes(
		attribute.String("assertion.type", assertion),
		attribute.String("assertion.message", msg),
		attribute.String("assertion.component", component),
		attribute.String("assertion.operation", operation),
	))

	recordAssertionMetric(ctx, component, operation, assertion)

	return &AssertionError{
		Assertion: assertion,
		Message:   msg,
		Component: component,
		Operation: operation,
		Details:   details,
	}
}

const maxValueLength = 200

func truncateValue(v any) string {
	s := fmt.Sprintf("%v", v)
	if len(s) <= maxValueLength {
		return s
	}

	return s[:maxValueLength] + "... (truncated " + strconv.Itoa(len(s)-maxValueLength) + " chars)"
}

func formatKeyValueLines(kv []any) string {
	var sb strings.Builder

	for i := 0; i < len(kv); i += 2 {
		if i > 0 {
			sb.WriteString("\n")
		}

		var value any = "MISSING_VALUE"
		if i+1 < len(kv) {
			value = kv[i+1]
		}

		fmt.Fprintf(&sb, "    %v=%v", kv[i], truncateValue(value))
	}

	return sb.String()
}

func isNil(v any) bool {
	if v == nil {
		return true
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Slice, reflect.Map, reflect.Chan, reflect.Func:
		return rv.IsNil()
	default:
		return false
	}
}

var (
	assertionFactory   *metrics.MetricsFactory
	assertionFactoryMu sync.RWMutex
)

// InitAssertionMetrics binds failure counting to factory. Only the first
// non-nil factory is kept.
func InitAssertionMetrics(factory *metrics.MetricsFactory) {
	assertionFactoryMu.Lock()
	defer assertionFactoryMu.Unlock()

	if factory == nil || assertionFactory != nil {
		return
	}

	assertionFactory = factory
}

// ResetAssertionMetrics clears the bound factory.
func ResetAssertionMetrics() {
	assertionFactoryMu.Lock()
	defer assertionFactoryMu.Unlock()

	assertionFactory = nil
}

func recordAssertionMetric(ctx context.Context, component, operation, assertion string) {
	assertionFactoryMu.RLock()
	factory := assertionFactory
	assertionFactoryMu.RUnlock()

	if factory != nil {
		_ = factory.RecordAssertionFailed(ctx, component, operation, assertion)
	}
}
