package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agentgrid-dev/agentgrid/agent"
)

var (
	// Routing metrics
	messagesRoutedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentgrid_messages_routed_total",
			Help: "Total number of messages delivered by the router",
		},
		[]string{"type"},
	)

	routingErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agentgrid_routing_errors_total",
			Help: "Total number of failed route attempts",
		},
	)

	// Agent metrics
	messagesProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentgrid_messages_processed_total",
			Help: "Total number of messages processed by agents",
		},
		[]string{"agent", "type"},
	)

	messageProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentgrid_message_processing_duration_seconds",
			Help:    "Time between a message being received and processed",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"agent"},
	)

	handlerErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentgrid_handler_errors_total",
			Help: "Total number of message handler errors",
		},
		[]string{"agent", "type"},
	)

	agentsRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentgrid_agents_running",
			Help: "Number of agents currently in the Running state",
		},
	)

	// Discovery metrics
	heartbeatsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentgrid_heartbeats_total",
			Help: "Total number of discovery heartbeats by outcome",
		},
		[]string{"status"},
	)

	initOnce sync.Once
)

// InitMetrics registers the Prometheus metrics. Safe to call more than once.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			messagesRoutedTotal,
			routingErrorsTotal,
			messagesProcessedTotal,
			messageProcessingDuration,
			handlerErrorsTotal,
			agentsRunning,
			heartbeatsTotal,
		)
	})
}

// MetricsHandler returns an HTTP handler for Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordMessageRouted records a successful router delivery.
func RecordMessageRouted(msgType string) {
	messagesRoutedTotal.WithLabelValues(msgType).Inc()
}

// RecordRoutingError records a failed route attempt.
func RecordRoutingError() {
	routingErrorsTotal.Inc()
}

// RecordHeartbeat records a discovery heartbeat outcome.
func RecordHeartbeat(ok bool) {
	status := "ok"
	if !ok {
		status = "error"
	}
	heartbeatsTotal.WithLabelValues(status).Inc()
}

// MetricsObserver is an agent.Observer backed by the Prometheus metrics above.
// Inject it into nodes to make lifecycle transitions and processed messages
// observable:
//
//	node := agent.NewNode(cfg, agent.WithObserver(observability.NewMetricsObserver()))
type MetricsObserver struct{}

// NewMetricsObserver returns a metrics-backed observer. InitMetrics must have
// been called before events are recorded.
func NewMetricsObserver() *MetricsObserver {
	return &MetricsObserver{}
}

func (*MetricsObserver) AgentStarted(agent.ID, string) {
	agentsRunning.Inc()
}

func (*MetricsObserver) AgentStopped(agent.ID, string) {
	agentsRunning.Dec()
}

func (*MetricsObserver) MessageProcessed(id agent.ID, msgType agent.MessageType, received, processed time.Time) {
	messagesProcessedTotal.WithLabelValues(id.String(), string(msgType)).Inc()
	messageProcessingDuration.WithLabelValues(id.String()).Observe(processed.Sub(received).Seconds())
}

func (*MetricsObserver) HandlerError(id agent.ID, msgType agent.MessageType, _ error) {
	handlerErrorsTotal.WithLabelValues(id.String(), string(msgType)).Inc()
}
