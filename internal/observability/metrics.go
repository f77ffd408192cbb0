package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SamplesIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleet_samples_ingested_total",
		Help: "Raw telemetry samples accepted for processing",
	})
	SamplesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleet_samples_dropped_total",
		Help: "Raw samples with no usable signal or timestamp",
	})
	TripsClosed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fleet_trips_closed_total",
		Help: "Trips finalized by an ignition-off transition",
	})
	DataQualityWarnings = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_data_quality_warnings_total",
		Help: "Invariant violations found in upstream data",
	}, []string{"kind"})
	ClientMatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_client_matches_total",
		Help: "Client match lookups by outcome",
	}, []string{"source"})
	GeocodeRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_geocode_requests_total",
		Help: "Reverse geocoder calls by result",
	}, []string{"result"})
	GeocodeLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fleet_geocode_latency_seconds",
		Help:    "Reverse geocoder request latency including retries",
		Buckets: prometheus.DefBuckets,
	})
	CacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_cache_lookups_total",
		Help: "Cache lookups by store and outcome",
	}, []string{"store", "outcome"})
	ProductivityComputations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_productivity_computations_total",
		Help: "Productivity period requests by outcome",
	}, []string{"outcome"})
	BackfillChunks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fleet_backfill_chunks_total",
		Help: "Backfill chunks processed by result",
	}, []string{"result"})
)

func ObserveGeocodeLatency(start time.Time) {
	GeocodeLatency.Observe(time.Since(start).Seconds())
}
