package constant

// MaxMetricLabelLength bounds metric label values.
const MaxMetricLabelLength = 64

// Telemetry metric names.
const (
	MetricPanicRecoveredTotal  = "panic_recovered_total"
	MetricAssertionFailedTotal = "assertion_failed_total"
)

// Telemetry event names.
const (
	EventAssertionFailed = "assertion.failed"
	EventPanicRecovered  = "panic.recovered"
)

// Telemetry attribute keys for the backing stores.
const (
	AttrDBSystem     = "db.system"
	DBSystemPostgres = "postgresql"
	DBSystemRedis    = "redis"
	DBSystemRabbitMQ = "rabbitmq"
)

// SanitizeMetricLabel truncates value to MaxMetricLabelLength.
func SanitizeMetricLabel(value string) string {
	if len(value) > MaxMetricLabelLength {
		return value[:MaxMetricLabelLength]
	}

	return value
}
