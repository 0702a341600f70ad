package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "interview_active_sessions",
		Help: "Number of interview sessions in progress",
	})

	totalSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "interview_sessions_total",
		Help: "Total number of interview sessions started",
	})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "interview_session_duration_seconds",
		Help:    "Duration of interview sessions in seconds",
		Buckets: []float64{30, 60, 120, 300, 600, 1200, 1800, 3600},
	})

	stageTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_stage_transitions_total",
		Help: "Session stage transitions by target stage",
	}, []string{"stage"})

	turnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_turns_total",
		Help: "Submitted answers by scoring outcome",
	}, []string{"status"})

	turnScores = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "interview_turn_score",
		Help:    "Distribution of per-answer scores",
		Buckets: []float64{10, 25, 40, 55, 70, 85, 100},
	})

	// STT metrics
	sttRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_stt_requests_total",
		Help: "Total number of transcriptions by provider",
	}, []string{"provider", "status"})

	sttLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "interview_stt_finalize_latency_seconds",
		Help:    "Time from stop to final transcript in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	sttFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_stt_fallbacks_total",
		Help: "Transcription backend fallbacks",
	}, []string{"from", "to"})

	// TTS metrics
	ttsRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_tts_requests_total",
		Help: "Total number of synthesis requests by provider",
	}, []string{"provider", "status"})

	ttsLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "interview_tts_latency_seconds",
		Help:    "Synthesis latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	ttsFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_tts_fallbacks_total",
		Help: "Synthesis backend fallbacks",
	}, []string{"from", "to"})

	// Upstream (question source / scorer) metrics
	upstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_upstream_requests_total",
		Help: "Total number of question and scoring requests",
	}, []string{"operation", "status"})

	upstreamLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "interview_upstream_latency_seconds",
		Help:    "Question and scoring latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0},
	}, []string{"operation"})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_errors_total",
		Help: "Total number of errors",
	}, []string{"kind", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "interview_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})

	// Audio metrics
	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"direction"}) // direction: "in" or "out"

	websocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "interview_websocket_connections",
		Help: "Open websocket gateway connections",
	})
)

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// SessionMetrics tracks metrics for a single interview session
type SessionMetrics struct {
	sessionID    string
	startTime    time.Time
	sttStartTime time.Time
	ttsStartTime time.Time
	mu           sync.Mutex
}

// NewSessionMetrics creates a new metrics tracker for a session
func NewSessionMetrics(sessionID string) *SessionMetrics {
	return &SessionMetrics{
		sessionID: sessionID,
		startTime: time.Now(),
	}
}

// RecordSessionStart records the start of a session
func (m *SessionMetrics) RecordSessionStart() {
	m.mu.Lock()
	m.startTime = time.Now()
	m.mu.Unlock()
	activeSessions.Inc()
	totalSessions.Inc()
}

// RecordSessionEnd records the end of a session
func (m *SessionMetrics) RecordSessionEnd() {
	m.mu.Lock()
	defer m.mu.Unlock()
	activeSessions.Dec()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordStage records a stage transition
func (m *SessionMetrics) RecordStage(stage string) {
	stageTransitions.WithLabelValues(stage).Inc()
}

// RecordTurnScored records the outcome of scoring one answer
func (m *SessionMetrics) RecordTurnScored(score int, success bool) {
	turnsTotal.WithLabelValues(status(success)).Inc()
	if success {
		turnScores.Observe(float64(score))
	}
}

// RecordSTTStart marks the moment recording was stopped
func (m *SessionMetrics) RecordSTTStart() {
	m.mu.Lock()
	m.sttStartTime = time.Now()
	m.mu.Unlock()
}

// RecordSTTEnd records the arrival of the final transcript
func (m *SessionMetrics) RecordSTTEnd(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.sttStartTime.IsZero() {
		sttLatency.Observe(time.Since(m.sttStartTime).Seconds())
		m.sttStartTime = time.Time{}
	}
	if !success {
		errorsTotal.WithLabelValues("transcription", "session").Inc()
	}
}

// RecordTTSStart records the start of a spoken question
func (m *SessionMetrics) RecordTTSStart() {
	m.mu.Lock()
	m.ttsStartTime = time.Now()
	m.mu.Unlock()
}

// RecordTTSEnd records the end of a spoken question
func (m *SessionMetrics) RecordTTSEnd(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.ttsStartTime.IsZero() {
		ttsLatency.Observe(time.Since(m.ttsStartTime).Seconds())
		m.ttsStartTime = time.Time{}
	}
	if !success {
		errorsTotal.WithLabelValues("synthesis", "session").Inc()
	}
}

// RecordError records an error
func (m *SessionMetrics) RecordError(kind, component string) {
	errorsTotal.WithLabelValues(kind, component).Inc()
}

// RecordAudioBytes records audio bytes crossing the browser connection.
func RecordAudioBytes(direction string, bytes int) {
	audioBytesProcessed.WithLabelValues(direction).Add(float64(bytes))
}

// RecordSTTRequest records one transcription attempt against a backend
func RecordSTTRequest(provider string, success bool) {
	sttRequests.WithLabelValues(provider, status(success)).Inc()
}

// RecordSTTFallback records a switch between transcription backends
func RecordSTTFallback(from, to string) {
	sttFallbacks.WithLabelValues(from, to).Inc()
}

// RecordTTSRequest records one synthesis attempt against a backend
func RecordTTSRequest(provider string, success bool) {
	ttsRequests.WithLabelValues(provider, status(success)).Inc()
}

// RecordTTSFallback records a switch between synthesis backends
func RecordTTSFallback(from, to string) {
	ttsFallbacks.WithLabelValues(from, to).Inc()
}

// ObserveUpstream records a question or scoring call
func ObserveUpstream(operation string, elapsed time.Duration, err error) {
	upstreamLatency.WithLabelValues(operation).Observe(elapsed.Seconds())
	upstreamRequests.WithLabelValues(operation, status(err == nil)).Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}

// WebSocketOpened tracks a new gateway connection
func WebSocketOpened() { websocketConnections.Inc() }

// WebSocketClosed tracks a closed gateway connection
func WebSocketClosed() { websocketConnections.Dec() }
