package metrics

import (
	"context"
	"math"

	constant "github.com/LerianStudio/shared-vault/vault/constants"
	"go.opentelemetry.io/otel/attribute"
)

var (
	// MetricOperationsProcessed counts committed ledger operations.
	MetricOperationsProcessed = Metric{
		Name:        "vault_operations_processed",
		Unit:        "1",
		Description: "Measures the number of vault operations committed.",
	}

	// MetricOperationsRejected counts operations that returned a domain error.
	MetricOperationsRejected = Metric{
		Name:        "vault_operations_rejected",
		Unit:        "1",
		Description: "Measures the number of vault operations rejected.",
	}

	// MetricDebtIssued sums the debt created by withdrawals beyond deposits.
	MetricDebtIssued = Metric{
		Name:        "vault_debt_issued",
		Unit:        "{token}",
		Description: "Measures the amount of debt issued to whitelisted accounts.",
	}

	// MetricPoolBalance tracks the pool balance after each commit.
	MetricPoolBalance = Metric{
		Name:        "vault_pool_balance",
		Unit:        "{token}",
		Description: "Current pool balance of a vault.",
	}

	// MetricOperationLatency records end-to-end operation duration.
	MetricOperationLatency = Metric{
		Name:        "vault_operation_latency",
		Unit:        "ms",
		Description: "Duration of vault operations in milliseconds.",
	}

	// MetricAssertionFailures counts failed runtime assertions.
	MetricAssertionFailures = Metric{
		Name:        constant.MetricAssertionFailedTotal,
		Unit:        "1",
		Description: "Measures the number of failed runtime assertions.",
	}

	// MetricOutboxPublished counts outbox events delivered to the broker.
	MetricOutboxPublished = Metric{
		Name:        "vault_outbox_published",
		Unit:        "1",
		Description: "Measures the number of outbox events published.",
	}

	// MetricOutboxFailed counts outbox events that exhausted their retries.
	MetricOutboxFailed = Metric{
		Name:        "vault_outbox_failed",
		Unit:        "1",
		Description: "Measures the number of outbox events marked failed.",
	}
)

// RecordOperationProcessed increments the processed counter for operation.
func (f *MetricsFactory) RecordOperationProcessed(ctx context.Context, operation string, attributes ...attribute.KeyValue) error {
	b, err := f.Counter(MetricOperationsProcessed)
	if err != nil {
		return err
	}

	return b.WithAttributes(append(attributes, attribute.String("operation", operation))...).AddOne(ctx)
}

// RecordOperationRejected increments the rejected counter labeled by error code.
func (f *MetricsFactory) RecordOperationRejected(ctx context.Context, operation, code string) error {
	b, err := f.Counter(MetricOperationsRejected)
	if err != nil {
		return err
	}

	return b.WithAttributes(attribute.String("operation", operation), attribute.String("code", code)).AddOne(ctx)
}

// RecordDebtIssued adds amount to the debt counter.
func (f *MetricsFactory) RecordDebtIssued(ctx context.Context, vault string, amount uint64) error {
	if amount == 0 {
		return nil
	}

	b, err := f.Counter(MetricDebtIssued)
	if err != nil {
		return err
	}

	return b.WithAttributes(attribute.String("vault", vault)).Add(ctx, clampInt64(amount))
}

// RecordPoolBalance sets the pool balance gauge for vault.
func (f *MetricsFactory) RecordPoolBalance(ctx context.Context, vault string, balance uint64) error {
	b, err := f.Gauge(MetricPoolBalance)
	if err != nil {
		return err
	}

	return b.WithAttributes(attribute.String("vault", vault)).Set(ctx, clampInt64(balance))
}

// RecordOperationLatency records a duration in milliseconds.
func (f *MetricsFactory) RecordOperationLatency(ctx context.Context, operation string, millis int64) error {
	b, err := f.Histogram(MetricOperationLatency)
	if err != nil {
		return err
	}

	return b.WithAttributes(attribute.String("operation", operation)).Record(ctx, millis)
}

// RecordAssertionFailed increments the assertion failure counter.
func (f *MetricsFactory) RecordAssertionFailed(ctx context.Context, component, operation, assertion string) error {
	b, err := f.Counter(MetricAssertionFailures)
	if err != nil {
		return err
	}

	return b.WithLabels(map[string]string{
		"component": constant.SanitizeMetricLabel(component),
		"operation": constant.SanitizeMetricLabel(operation),
		"assertion": constant.SanitizeMetricLabel(assertion),
	}).AddOne(ctx)
}

// RecordOutboxPublished increments the published counter for eventType.
func (f *MetricsFactory) RecordOutboxPublished(ctx context.Context, eventType string) error {
	b, err := f.Counter(MetricOutboxPublished)
	if err != nil {
		return err
	}

	return b.WithAttributes(attribute.String("event_type", eventType)).AddOne(ctx)
}

// RecordOutboxFailed increments the failed counter for eventType.
func (f *MetricsFactory) RecordOutboxFailed(ctx context.Context, eventType string) error {
	b, err := f.Counter(MetricOutboxFailed)
	if err != nil {
		return err
	}

	return b.WithAttributes(attribute.String("event_type", eventType)).AddOne(ctx)
}

func clampInt64(v uint64) int64 {
	if v > math.MaxInt64 {
		return math.MaxInt64
	}

	return int64(v)
}
