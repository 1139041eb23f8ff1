package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Transcript log metrics
	utterancesAppended = promauto.NewCounter(prometheus.CounterOpts{
		Name: "perception_voice_utterances_appended_total",
		Help: "Total number of utterances appended to the transcript log",
	})

	utterancesDiscarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perception_voice_utterances_discarded_total",
		Help: "Total number of utterances rejected before append",
	}, []string{"reason"}) // reason: "empty" or "phrase"

	utterancesEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "perception_voice_utterances_evicted_total",
		Help: "Total number of utterances evicted by retention",
	})

	liveUtterances = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "perception_voice_live_utterances",
		Help: "Number of utterances currently held in memory",
	})

	// Cursor metrics
	cursors = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "perception_voice_cursors",
		Help: "Number of tracked client read markers",
	})

	cursorsEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "perception_voice_cursors_evicted_total",
		Help: "Total number of read markers dropped by the capacity bound",
	})

	// Request metrics
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perception_voice_requests_total",
		Help: "Total number of socket requests handled",
	}, []string{"command", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "perception_voice_request_duration_seconds",
		Help:    "Time spent dispatching a socket request",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
	}, []string{"command"})

	activeConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "perception_voice_active_connections",
		Help: "Number of socket connections being served",
	})

	rejectedConnections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "perception_voice_rejected_connections_total",
		Help: "Connections closed because the concurrency limit was reached",
	})

	// Producer metrics
	sttResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perception_voice_stt_results_total",
		Help: "Total number of STT results received",
	}, []string{"kind"}) // kind: "final" or "interim"

	ingestBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perception_voice_ingest_bytes_total",
		Help: "Total bytes received on the ingest endpoint",
	}, []string{"kind"}) // kind: "audio" or "text"

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perception_voice_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "perception_voice_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "perception_voice_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})
)

// RecordUtteranceAppended counts one stored utterance
func RecordUtteranceAppended() {
	utterancesAppended.Inc()
}

// RecordUtteranceDiscarded counts one rejected utterance
func RecordUtteranceDiscarded(reason string) {
	utterancesDiscarded.WithLabelValues(reason).Inc()
}

// RecordUtterancesEvicted counts utterances dropped by retention
func RecordUtterancesEvicted(n int) {
	if n > 0 {
		utterancesEvicted.Add(float64(n))
	}
}

// SetLiveUtterances sets the live utterance gauge
func SetLiveUtterances(n int) {
	liveUtterances.Set(float64(n))
}

// CursorAdded increments the tracked cursor gauge
func CursorAdded() {
	cursors.Inc()
}

// CursorRemoved decrements the tracked cursor gauge
func CursorRemoved() {
	cursors.Dec()
}

// RecordCursorEvicted counts one read marker dropped by the capacity bound
func RecordCursorEvicted() {
	cursorsEvicted.Inc()
}

// RecordRequest records the outcome and latency of one socket request
func RecordRequest(command, status string, elapsed time.Duration) {
	requestsTotal.WithLabelValues(command, status).Inc()
	requestDuration.WithLabelValues(command).Observe(elapsed.Seconds())
}

// ConnectionOpened tracks a connection entering the handler
func ConnectionOpened() {
	activeConnections.Inc()
}

// ConnectionClosed tracks a connection leaving the handler
func ConnectionClosed() {
	activeConnections.Dec()
}

// RecordRejectedConnection counts a connection turned away at the concurrency limit
func RecordRejectedConnection() {
	rejectedConnections.Inc()
}

// RecordSTTResult counts one STT result by kind
func RecordSTTResult(final bool) {
	kind := "interim"
	if final {
		kind = "final"
	}
	sttResults.WithLabelValues(kind).Inc()
}

// RecordIngestBytes counts bytes received on the ingest endpoint
func RecordIngestBytes(kind string, n int) {
	ingestBytes.WithLabelValues(kind).Add(float64(n))
}

// RecordError records an error
func RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
