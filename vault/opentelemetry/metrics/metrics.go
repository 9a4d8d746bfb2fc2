package metrics

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/LerianStudio/shared-vault/vault/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// MetricsFactory creates instruments on first use and caches them by name.
type MetricsFactory struct {
	meter      metric.Meter
	counters   sync.Map // string -> metric.Int64Counter
	gauges     sync.Map // string -> metric.Int64Gauge
	histograms sync.Map // string -> metric.Int64Histogram
	logger     log.Logger
}

// ErrNilMeter indicates that a nil OTEL meter was provided.
var ErrNilMeter = errors.New("metric meter cannot be nil")

// Metric describes an instrument.
type Metric struct {
	Name        string
	Description string
	Unit        string
	// Histogram bucket boundaries.
	Buckets []float64
}

// DefaultLatencyBuckets are expressed in milliseconds.
var DefaultLatencyBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000}

// NewMetricsFactory creates a new MetricsFactory instance.
func NewMetricsFactory(meter metric.Meter, logger log.Logger) (*MetricsFactory, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}

	return &MetricsFactory{
		meter:  meter,
		logger: log.OrNop(logger),
	}, nil
}

// NewNopFactory returns a MetricsFactory backed by the no-op meter.
func NewNopFactory() *MetricsFactory {
	return &MetricsFactory{
		meter:  noop.NewMeterProvider().Meter("nop"),
		logger: log.NewNop(),
	}
}

// Counter creates or retrieves a counter and returns a builder for it.
func (f *MetricsFactory) Counter(m Metric) (*CounterBuilder, error) {
	if cached, ok := f.counters.Load(m.Name); ok {
		if c, ok := cached.(metric.Int64Counter); ok {
			return &CounterBuilder{counter: c}, nil
		}

		return nil, fmt.Errorf("counter cache contains invalid type for %q", m.Name)
	}

	opts := []metric.Int64CounterOption{metric.WithDescription(m.Description)}
	if m.Unit != "" {
		opts = append(opts, metric.WithUnit(m.Unit))
	}

	counter, err := f.meter.Int64Counter(m.Name, opts...)
	if err != nil {
		f.logger.Log(context.Background(), log.LevelError, "failed to create counter metric", log.String("metric_name", m.Name), log.Err(err))

		return nil, fmt.Errorf("create counter %q: %w", m.Name, err)
	}

	actual, _ := f.counters.LoadOrStore(m.Name, counter)

	c, ok := actual.(metric.Int64Counter)
	if !ok {
		return nil, fmt.Errorf("counter cache contains invalid type for %q", m.Name)
	}

	return &CounterBuilder{counter: c}, nil
}

// Gauge creates or retrieves a gauge and returns a builder for it.
func (f *MetricsFactory) Gauge(m Metric) (*GaugeBuilder, error) {
	if cached, ok := f.gauges.Load(m.Name); ok {
		if g, ok := cached.(metric.Int64Gauge); ok {
			return &GaugeBuilder{gauge: g}, nil
		}

		return nil, fmt.Errorf("gauge cache contains invalid type for %q", m.Name)
	}

	opts := []metric.Int64GaugeOption{metric.WithDescription(m.Description)}
	if m.Unit != "" {
		opts = append(opts, metric.WithUnit(m.Unit))
	}

	gauge, err := f.meter.Int64Gauge(m.Name, opts...)
	if err != nil {
		f.logger.Log(context.Background(), log.LevelError, "failed to create gauge metric", log.String("metric_name", m.Name), log.Err(err))

		return nil, fmt.Errorf("create gauge %q: %w", m.Name, err)
	}

	actual, _ := f.gauges.LoadOrStore(m.Name, gauge)

	g, ok := actual.(metric.Int64Gauge)
	if !ok {
		return nil, fmt.Errorf("gauge cache contains invalid type for %q", m.Name)
	}

	return &GaugeBuilder{gauge: g}, nil
}

// Histogram creates or retrieves a histogram and returns a builder for it.
func (f *MetricsFactory) Histogram(m Metric) (*HistogramBuilder, error) {
	if m.Buckets == nil {
		m.Buckets = DefaultLatencyBuckets
	}

	if cached, ok := f.histograms.Load(m.Name); ok {
		if h, ok := cached.(metric.Int64Histogram); ok {
			return &HistogramBuilder{histogram: h}, nil
		}

		return nil, fmt.Errorf("histogram cache contains invalid type for %q", m.Name)
	}

	opts := []metric.Int64HistogramOption{
		metric.WithDescription(m.Description),
		metric.WithExplicitBucketBoundaries(m.Buckets...),
	}
	if m.Unit != "" {
		opts = append(opts, metric.WithUnit(m.Unit))
	}

	histogram, err := f.meter.Int64Histogram(m.Name, opts...)
	if err != nil {
		f.logger.Log(context.Background(), log.LevelError, "failed to create histogram metric", log.String("metric_name", m.Name), log.Err(err))

		return nil, fmt.Errorf("create histogram %q: %w", m.Name, err)
	}

	actual, _ := f.histograms.LoadOrStore(m.Name, histogram)

	h, ok := actual.(metric.Int64Histogram)
	if !ok {
		return nil, fmt.Errorf("histogram cache contains invalid type for %q", m.Name)
	}

	return &HistogramBuilder{histogram: h}, nil
}
