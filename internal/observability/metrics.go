package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects the runtime's Prometheus metrics: message turns, tool
// executions, security denials, active conversations, and snapshot store
// queries. It satisfies the orchestrator's Metrics interface.
type Metrics struct {
	// MessageCounter counts processed message turns.
	MessageCounter prometheus.Counter

	// MessageDuration measures full turn latency in seconds.
	// Buckets: 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s, 10s, 30s, 60s
	MessageDuration prometheus.Histogram

	// ToolExecutionCounter counts tool invocations.
	// Labels: tool_id, status (success|error)
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution time in seconds.
	// Labels: tool_id
	ToolExecutionDuration *prometheus.HistogramVec

	// SecurityDenialCounter counts gate denials.
	// Labels: kind (rate_limit|POLICY_VIOLATION|RESOURCE_LIMIT_EXCEEDED|content_filter)
	SecurityDenialCounter *prometheus.CounterVec

	// ActiveConversations is a gauge of live conversations.
	ActiveConversations prometheus.Gauge

	// ErrorCounter tracks errors by component and error type.
	ErrorCounter *prometheus.CounterVec

	// SnapshotQueryDuration measures snapshot store query latency.
	// Labels: operation (save|load|list|delete)
	SnapshotQueryDuration *prometheus.HistogramVec

	// SnapshotQueryCounter counts snapshot store queries.
	// Labels: operation, status (success|error)
	SnapshotQueryCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with the default Prometheus
// registry. Call once at process start.
func NewMetrics() *Metrics {
	return NewMetricsFor(prometheus.DefaultRegisterer)
}

// NewMetricsFor creates the metrics against a specific registerer. Tests use
// this with a fresh registry to avoid duplicate registration.
func NewMetricsFor(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		MessageCounter: factory.NewCounter(prometheus.CounterOpts{
			Name: "conduit_messages_total",
			Help: "Total number of processed message turns",
		}),

		MessageDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "conduit_message_duration_seconds",
			Help:    "Duration of full message turns in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}),

		ToolExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conduit_tool_executions_total",
				Help: "Total number of tool executions by tool id and status",
			},
			[]string{"tool_id", "status"},
		),

		ToolExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "conduit_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"tool_id"},
		),

		SecurityDenialCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conduit_security_denials_total",
				Help: "Total number of security gate denials by kind",
			},
			[]string{"kind"},
		),

		ActiveConversations: factory.NewGauge(prometheus.GaugeOpts{
			Name: "conduit_active_conversations",
			Help: "Current number of live conversations",
		}),

		ErrorCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conduit_errors_total",
				Help: "Total number of errors by component and error type",
			},
			[]string{"component", "error_type"},
		),

		SnapshotQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "conduit_snapshot_query_duration_seconds",
				Help:    "Duration of snapshot store queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"operation"},
		),

		SnapshotQueryCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conduit_snapshot_queries_total",
				Help: "Total number of snapshot store queries",
			},
			[]string{"operation", "status"},
		),
	}
}

// MessageProcessed records one completed message turn.
func (m *Metrics) MessageProcessed(duration time.Duration) {
	m.MessageCounter.Inc()
	m.MessageDuration.Observe(duration.Seconds())
}

// ToolExecuted records one tool execution outcome.
func (m *Metrics) ToolExecuted(toolID string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	m.ToolExecutionCounter.WithLabelValues(toolID, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolID).Observe(duration.Seconds())
}

// SecurityDenial records one gate denial.
func (m *Metrics) SecurityDenial(kind string) {
	m.SecurityDenialCounter.WithLabelValues(kind).Inc()
}

// ConversationStarted increments the active conversations gauge.
func (m *Metrics) ConversationStarted() {
	m.ActiveConversations.Inc()
}

// ConversationEnded decrements the active conversations gauge.
func (m *Metrics) ConversationEnded() {
	m.ActiveConversations.Dec()
}

// RecordError increments the error counter for a component and error type.
func (m *Metrics) RecordError(component, errorType string) {
	m.ErrorCounter.WithLabelValues(component, errorType).Inc()
}

// RecordSnapshotQuery records one snapshot store query.
func (m *Metrics) RecordSnapshotQuery(operation string, err error, duration time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.SnapshotQueryCounter.WithLabelValues(operation, status).Inc()
	m.SnapshotQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}
