package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the relay.
type Metrics struct {
	// Session metrics
	ActiveSessions  prometheus.Gauge
	SessionsCreated prometheus.Counter
	SessionsClosed  prometheus.Counter

	// Audio path metrics
	FramesForwarded prometheus.Counter
	FramesQueued    prometheus.Counter
	FramesDropped   prometheus.Counter

	// Event path metrics
	EventsForwarded prometheus.Counter
	EventsDropped   prometheus.Counter
	MalformedEvents prometheus.Counter

	// Translation metrics
	TranslationRequests prometheus.Counter
	TranslationFailures prometheus.Counter
	TranslationDuration prometheus.Histogram
}

// New creates and registers all relay metrics with the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "relay_active_sessions",
			Help: "Current number of active relay sessions",
		}),
		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_sessions_created_total",
			Help: "Total number of relay sessions created",
		}),
		SessionsClosed: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_sessions_closed_total",
			Help: "Total number of relay sessions closed",
		}),
		FramesForwarded: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_audio_frames_forwarded_total",
			Help: "Total number of audio frames forwarded upstream",
		}),
		FramesQueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_audio_frames_queued_total",
			Help: "Total number of audio frames queued during the upstream handshake",
		}),
		FramesDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_audio_frames_dropped_total",
			Help: "Total number of audio frames dropped",
		}),
		EventsForwarded: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_events_forwarded_total",
			Help: "Total number of upstream events forwarded to clients",
		}),
		EventsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_events_dropped_total",
			Help: "Total number of upstream events dropped on a slow client",
		}),
		MalformedEvents: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_malformed_events_total",
			Help: "Total number of unparsable messages discarded",
		}),
		TranslationRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_translation_requests_total",
			Help: "Total number of translation requests served",
		}),
		TranslationFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "relay_translation_failures_total",
			Help: "Total number of failed translation requests",
		}),
		TranslationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "relay_translation_duration_seconds",
			Help:    "Translation request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
