// Package metrics provides Prometheus-based metrics recording for colony
// operations. This is the telemetry emission boundary: counters are
// registered on a dedicated registry and only exposed when the operator
// opts in via COLONY_METRICS_ADDR.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder holds the colony metric families.
type Recorder struct {
	registry *prometheus.Registry

	messagesSent    *prometheus.CounterVec
	taskTransitions *prometheus.CounterVec
	stateSyncs      *prometheus.CounterVec
	relayReconnects prometheus.Counter
	agentsRunning   prometheus.Gauge
}

//nolint:gochecknoglobals // Single recorder per process.
var (
	defaultRecorder *Recorder
	once            sync.Once
)

// Default returns the process-wide recorder, creating it on first use.
func Default() *Recorder {
	once.Do(func() {
		defaultRecorder = NewRecorder()
	})
	return defaultRecorder
}

// NewRecorder creates a recorder with its own registry.
func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()

	r := &Recorder{
		registry: registry,
		messagesSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "colony_messages_sent_total",
				Help: "Total messages written to the file-based queue by type",
			},
			[]string{"message_type"},
		),
		taskTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "colony_task_transitions_total",
				Help: "Total task status transitions by target status",
			},
			[]string{"status"},
		),
		stateSyncs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "colony_state_syncs_total",
				Help: "Total JSONL-to-cache synchronizations by schema",
			},
			[]string{"schema"},
		),
		relayReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "colony_relay_reconnects_total",
				Help: "Total relay reconnection attempts",
			},
		),
		agentsRunning: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "colony_agents_running",
				Help: "Number of agents currently marked running",
			},
		),
	}

	registry.MustRegister(
		r.messagesSent,
		r.taskTransitions,
		r.stateSyncs,
		r.relayReconnects,
		r.agentsRunning,
	)
	return r
}

// MessageSent records one message write.
func (r *Recorder) MessageSent(messageType string) {
	r.messagesSent.WithLabelValues(messageType).Inc()
}

// TaskTransition records a task moving into the given status.
func (r *Recorder) TaskTransition(status string) {
	r.taskTransitions.WithLabelValues(status).Inc()
}

// StateSync records a cache refresh for a schema.
func (r *Recorder) StateSync(schema string) {
	r.stateSyncs.WithLabelValues(schema).Inc()
}

// RelayReconnect records one reconnection attempt.
func (r *Recorder) RelayReconnect() {
	r.relayReconnects.Inc()
}

// SetAgentsRunning records the current running-agent count.
func (r *Recorder) SetAgentsRunning(n int) {
	r.agentsRunning.Set(float64(n))
}

// Handler returns an HTTP handler serving the registry in the Prometheus
// exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
