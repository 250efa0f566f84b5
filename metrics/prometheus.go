package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus instruments for a running session.
type Metrics struct {
	// Transcript metrics
	SegmentsFinalized *prometheus.CounterVec
	EventsDropped     prometheus.Counter
	PartialEvents     prometheus.Counter
	SegmentConfidence prometheus.Histogram

	// Connection metrics
	QualityLevel prometheus.Gauge

	// Recovery metrics
	RecoveryAttempts *prometheus.CounterVec

	// Session metrics
	ActiveSessions  prometheus.Gauge
	SessionDuration prometheus.Histogram
}

// New creates and registers the instrument set.
func New() *Metrics {
	return &Metrics{
		SegmentsFinalized: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_segments_finalized_total",
			Help: "Finalized transcript segments by finalization reason",
		}, []string{"reason"}),
		EventsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "parley_events_dropped_total",
			Help: "Final transcription events dropped as too short",
		}),
		PartialEvents: promauto.NewCounter(prometheus.CounterOpts{
			Name: "parley_partial_events_total",
			Help: "Partial transcription events processed",
		}),
		SegmentConfidence: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "parley_segment_confidence",
			Help:    "Confidence score of finalized segments",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		QualityLevel: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "parley_connection_quality_level",
			Help: "Current connection quality level, 0 disconnected to 4 excellent",
		}),
		RecoveryAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "parley_recovery_attempts_total",
			Help: "Recovery attempts by outcome",
		}, []string{"outcome"}),
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "parley_active_sessions",
			Help: "Sessions currently running or paused",
		}),
		SessionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "parley_session_duration_seconds",
			Help:    "Duration of ended sessions",
			Buckets: prometheus.ExponentialBuckets(60, 2, 8),
		}),
	}
}

func (m *Metrics) RecordSegmentFinalized(reason string, confidence float64) {
	m.SegmentsFinalized.WithLabelValues(reason).Inc()
	m.SegmentConfidence.Observe(confidence)
}

// AddDroppedEvents and AddPartialEvents take deltas; the CLI samples the
// buffer's cumulative counters on a ticker and reports the difference.
func (m *Metrics) AddDroppedEvents(n int) {
	m.EventsDropped.Add(float64(n))
}

func (m *Metrics) AddPartialEvents(n int) {
	m.PartialEvents.Add(float64(n))
}

func (m *Metrics) SetQualityLevel(level int) {
	m.QualityLevel.Set(float64(level))
}

func (m *Metrics) RecordRecoveryAttempt(outcome string) {
	m.RecoveryAttempts.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SessionStarted() {
	m.ActiveSessions.Inc()
}

func (m *Metrics) SessionEnded(duration time.Duration) {
	m.ActiveSessions.Dec()
	m.SessionDuration.Observe(duration.Seconds())
}

// Serve exposes the registry on /metrics until ctx is cancelled.
func Serve(ctx context.Context, addr string, logger *log.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics listening", "addr", addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
