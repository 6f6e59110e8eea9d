package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the ledger service.
// All engine-facing helpers are nil-safe so tests can run without a registry.
type Metrics struct {
	// Engine
	EngineEvents        *prometheus.CounterVec
	EngineEventDuration *prometheus.HistogramVec
	EngineSequence      prometheus.Gauge
	OpenInterest        *prometheus.GaugeVec
	ProjectionDrops     prometheus.Counter
	RevealRequests      *prometheus.CounterVec

	// Ingestion
	IngestMessages  *prometheus.CounterVec
	IngestParseErrs *prometheus.CounterVec

	// Persistence
	PersistEventsWritten   prometheus.Counter
	PersistJournalsWritten prometheus.Counter
	PersistErrors          *prometheus.CounterVec
	PersistLastSequence    prometheus.Gauge
	SnapshotTaken          prometheus.Counter
	SnapshotLastSequence   prometheus.Gauge
	ReplayEvents           prometheus.Counter

	// Projections
	ProjectionUpdates  *prometheus.CounterVec
	ProjectionDuration *prometheus.HistogramVec

	// Query API
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics on the default
// registry.
func NewMetrics() *Metrics {
	latencyBuckets := []float64{
		0.000001, 0.000005, 0.00001, 0.000025, 0.00005,
		0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01,
	}

	return &Metrics{
		EngineEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "veil_engine_events_total",
			Help: "Events processed by the engine, by type and outcome",
		}, []string{"event_type", "outcome"}),

		EngineEventDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "veil_engine_event_duration_seconds",
			Help:    "Time to process a single event",
			Buckets: latencyBuckets,
		}, []string{"event_type"}),

		EngineSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "veil_engine_sequence",
			Help: "Current global event sequence",
		}),

		OpenInterest: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "veil_open_interest",
			Help: "Open interest per instrument and attribution bucket",
		}, []string{"instrument", "bucket"}),

		ProjectionDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "veil_projection_drops_total",
			Help: "Updates dropped because the projection channel was full",
		}),

		RevealRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "veil_reveal_requests_total",
			Help: "Commit-reveal requests forwarded to the resolver",
		}, []string{"audience"}),

		IngestMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "veil_ingest_messages_total",
			Help: "Messages received from NATS, by subject class",
		}, []string{"subject"}),

		IngestParseErrs: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "veil_ingest_parse_errors_total",
			Help: "Messages dropped as unparseable",
		}, []string{"subject"}),

		PersistEventsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "veil_persist_events_written_total",
			Help: "Events written to Postgres",
		}),

		PersistJournalsWritten: promauto.NewCounter(prometheus.CounterOpts{
			Name: "veil_persist_journals_written_total",
			Help: "Journal entries written to Postgres",
		}),

		PersistErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "veil_persist_errors_total",
			Help: "Persistence errors",
		}, []string{"error_type"}),

		PersistLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "veil_persist_last_sequence",
			Help: "Last persisted sequence",
		}),

		SnapshotTaken: promauto.NewCounter(prometheus.CounterOpts{
			Name: "veil_snapshot_taken_total",
			Help: "Snapshots created",
		}),

		SnapshotLastSequence: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "veil_snapshot_last_sequence",
			Help: "Sequence of the last snapshot",
		}),

		ReplayEvents: promauto.NewCounter(prometheus.CounterOpts{
			Name: "veil_replay_events_total",
			Help: "Events replayed on startup",
		}),

		ProjectionUpdates: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "veil_projection_updates_total",
			Help: "Projection table updates",
		}, []string{"projection"}),

		ProjectionDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "veil_projection_update_duration_seconds",
			Help:    "Projection table update duration",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1},
		}, []string{"projection"}),

		QueryRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "veil_query_requests_total",
			Help: "Query requests",
		}, []string{"endpoint", "status"}),

		QueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "veil_query_duration_seconds",
			Help:    "Query latency",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}, []string{"endpoint"}),
	}
}

// ObserveEvent records one engine event outcome.
func (m *Metrics) ObserveEvent(eventType, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.EngineEvents.WithLabelValues(eventType, outcome).Inc()
	m.EngineEventDuration.WithLabelValues(eventType).Observe(d.Seconds())
}

// SetSequence updates the engine sequence gauge.
func (m *Metrics) SetSequence(seq int64) {
	if m == nil {
		return
	}
	m.EngineSequence.Set(float64(seq))
}

// SetOpenInterest updates the open-interest gauges for one instrument.
func (m *Metrics) SetOpenInterest(instrument string, unattributed, long, short int64) {
	if m == nil {
		return
	}
	m.OpenInterest.WithLabelValues(instrument, "unattributed").Set(float64(unattributed))
	m.OpenInterest.WithLabelValues(instrument, "long").Set(float64(long))
	m.OpenInterest.WithLabelValues(instrument, "short").Set(float64(short))
}

// ProjectionDropped counts a dropped projection update.
func (m *Metrics) ProjectionDropped() {
	if m == nil {
		return
	}
	m.ProjectionDrops.Inc()
}

// RevealRequested counts a reveal request by audience.
func (m *Metrics) RevealRequested(audience string) {
	if m == nil {
		return
	}
	m.RevealRequests.WithLabelValues(audience).Inc()
}
