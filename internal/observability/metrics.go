package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connection metrics
	connectionState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_client_connection_state",
		Help: "Connection state (0=disconnected, 1=connecting, 2=connected, 3=reconnecting, 4=error)",
	})

	reconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_client_reconnects_total",
		Help: "Total number of reconnection attempts",
	})

	// Recording metrics
	recordingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_client_recordings_total",
		Help: "Total number of recording sessions",
	}, []string{"outcome"}) // outcome: "completed", "error", "refused"

	recordingActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_client_recording_active",
		Help: "Whether a recording session is active (0 or 1)",
	})

	// Playback metrics
	playbacksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_client_playbacks_total",
		Help: "Total number of playbacks started",
	}, []string{"kind"}) // kind: "generation", "replay", "sample"

	// Audio metrics
	audioBytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_client_audio_bytes_total",
		Help: "Total audio bytes transferred",
	}, []string{"direction"}) // direction: "sent" or "received"

	chunksDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "voice_client_chunks_dropped_total",
		Help: "Total number of malformed or stale audio chunks dropped",
	})

	utteranceBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "voice_client_utterance_bytes",
		Help:    "Size distribution of combined playback utterances in bytes",
		Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
	})

	// Busy flag
	busyState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "voice_client_busy",
		Help: "Whether a generation-like activity is in progress (0 or 1)",
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_client_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "voice_client_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voice_client_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})
)

// SetConnectionState records the current connection state
func SetConnectionState(state int) {
	connectionState.Set(float64(state))
}

// RecordReconnect counts a reconnection attempt
func RecordReconnect() {
	reconnectsTotal.Inc()
}

// RecordRecording counts a recording session with its outcome
func RecordRecording(outcome string) {
	recordingsTotal.WithLabelValues(outcome).Inc()
}

// SetRecordingActive records whether a recording session is running
func SetRecordingActive(active bool) {
	if active {
		recordingActive.Set(1)
	} else {
		recordingActive.Set(0)
	}
}

// RecordPlayback counts a playback by kind
func RecordPlayback(kind string) {
	playbacksTotal.WithLabelValues(kind).Inc()
}

// RecordAudioBytes records audio bytes transferred
func RecordAudioBytes(direction string, n int64) {
	audioBytesTotal.WithLabelValues(direction).Add(float64(n))
}

// RecordChunkDropped counts a dropped audio chunk
func RecordChunkDropped() {
	chunksDropped.Inc()
}

// ObserveUtteranceSize records the size of one combined utterance
func ObserveUtteranceSize(n int) {
	utteranceBytes.Observe(float64(n))
}

// SetBusy records the shared busy flag state
func SetBusy(busy bool) {
	if busy {
		busyState.Set(1)
	} else {
		busyState.Set(0)
	}
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
