package obs

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OtelMetrics implements Metrics on top of an otel Meter. Counters and
// histograms are created lazily and cached by name since instrument creation
// is not free and label sets vary per call site.
type OtelMetrics struct {
	meter metric.Meter

	mu         sync.Mutex
	counters   map[string]metric.Float64Counter
	histograms map[string]metric.Float64Histogram
}

// NewOtelMetrics builds a Metrics backed by the given otel Meter.
func NewOtelMetrics(meter metric.Meter) *OtelMetrics {
	return &OtelMetrics{
		meter:      meter,
		counters:   map[string]metric.Float64Counter{},
		histograms: map[string]metric.Float64Histogram{},
	}
}

func (m *OtelMetrics) counter(name string) metric.Float64Counter {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.counters[name]; ok {
		return c
	}
	c, _ := m.meter.Float64Counter(name)
	m.counters[name] = c
	return c
}

func (m *OtelMetrics) histogram(name string) metric.Float64Histogram {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h, ok := m.histograms[name]; ok {
		return h
	}
	h, _ := m.meter.Float64Histogram(name)
	m.histograms[name] = h
	return h
}

func kvAttrs(labels map[string]string) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(labels))
	for k, v := range labels {
		out = append(out, attribute.String(k, v))
	}
	return out
}

func (m *OtelMetrics) IncCounter(name string, labels map[string]string) {
	c := m.counter(name)
	c.Add(context.Background(), 1, metric.WithAttributes(kvAttrs(labels)...))
}

func (m *OtelMetrics) ObserveHistogram(name string, value float64, labels map[string]string) {
	h := m.histogram(name)
	h.Record(context.Background(), value, metric.WithAttributes(kvAttrs(labels)...))
}
