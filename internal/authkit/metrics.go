package authkit

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsRecorder increments counters for auth events.
type MetricsRecorder interface {
	Increment(event string)
}

// CounterMetrics implements MetricsRecorder with in-memory counts. Tests and
// dev runs use it directly.
type CounterMetrics struct {
	mutex  sync.Mutex
	counts map[string]int64
}

// NewCounterMetrics constructs an in-memory metrics recorder.
func NewCounterMetrics() *CounterMetrics {
	return &CounterMetrics{counts: make(map[string]int64)}
}

// Increment increases the counter for the given event.
func (recorder *CounterMetrics) Increment(event string) {
	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()
	recorder.counts[event]++
}

// Count returns the current value for the given event.
func (recorder *CounterMetrics) Count(event string) int64 {
	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()
	return recorder.counts[event]
}

// Snapshot returns a copy of all recorded counters.
func (recorder *CounterMetrics) Snapshot() map[string]int64 {
	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()
	clone := make(map[string]int64, len(recorder.counts))
	for key, value := range recorder.counts {
		clone[key] = value
	}
	return clone
}

// PrometheusMetrics implements MetricsRecorder over a Prometheus counter
// vector labeled by event name.
type PrometheusMetrics struct {
	events *prometheus.CounterVec
}

// NewPrometheusMetrics constructs the recorder and registers its collectors.
func NewPrometheusMetrics(registry prometheus.Registerer) (*PrometheusMetrics, error) {
	events := prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "auth_events_total", Help: "Authentication events by outcome"},
		[]string{"event"},
	)
	if err := registry.Register(events); err != nil {
		return nil, err
	}
	return &PrometheusMetrics{events: events}, nil
}

// Increment increases the Prometheus counter for the given event.
func (recorder *PrometheusMetrics) Increment(event string) {
	recorder.events.WithLabelValues(event).Inc()
}
