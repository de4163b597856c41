package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mosaic_etl"

// Metrics holds the Prometheus counters, histograms, and gauges for the ingest pipeline.
type Metrics struct {
	FilesDiscovered prometheus.Counter
	FilesStaged     prometheus.Counter
	FetchFailures   prometheus.Counter
	PipelineRunning prometheus.Gauge

	// Fetch metrics.
	FetchesInFlight prometheus.Gauge
	FetchDuration   prometheus.Histogram

	// Decode and commit metrics.
	DecodeFailures   *prometheus.CounterVec // labels: format={ArrayV1,ArrayV2,GriddedBinary,LegacyBinary,Unknown}
	GroupsCommitted  *prometheus.CounterVec // labels: product
	GroupsFailed     *prometheus.CounterVec // labels: reason={decode,merge,conflict,store,incomplete}
	CommitDuration   prometheus.Histogram
	LastSuccessfulAt prometheus.Gauge
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		FilesDiscovered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_discovered_total",
			Help:      "Total archive entries yielded by the crawler inside the time window.",
		}),
		FilesStaged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_staged_total",
			Help:      "Total decompressed files written to staging.",
		}),
		FetchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_failures_total",
			Help:      "Total archive downloads that failed.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 when the pipeline is active, 0 when shut down.",
		}),
		FetchesInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fetches_in_flight",
			Help:      "Downloads currently holding a concurrency slot.",
		}),
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Duration of a single archive download including decompression.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		DecodeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_failures_total",
			Help:      "Staged files that failed to decode, by resolved format.",
		}, []string{"format"}),
		GroupsCommitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "groups_committed_total",
			Help:      "Time-groups appended to the store, by product.",
		}, []string{"product"}),
		GroupsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "groups_failed_total",
			Help:      "Time-groups not committed, by reason.",
		}, []string{"reason"}),
		CommitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "commit_duration_seconds",
			Help:      "Duration of a store commit for one time-group.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		}),
		LastSuccessfulAt: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_successful_run_timestamp_seconds",
			Help:      "Unix time of the last run that committed at least one group.",
		}),
	}

	prometheus.MustRegister(
		m.FilesDiscovered,
		m.FilesStaged,
		m.FetchFailures,
		m.PipelineRunning,
		m.FetchesInFlight,
		m.FetchDuration,
		m.DecodeFailures,
		m.GroupsCommitted,
		m.GroupsFailed,
		m.CommitDuration,
		m.LastSuccessfulAt,
	)

	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		FilesDiscovered:  prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "files_discovered_total"}),
		FilesStaged:      prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "files_staged_total"}),
		FetchFailures:    prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: "fetch_failures_total"}),
		PipelineRunning:  prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "pipeline_running"}),
		FetchesInFlight:  prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "fetches_in_flight"}),
		FetchDuration:    prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "fetch_duration_seconds"}),
		DecodeFailures:   prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "decode_failures_total"}, []string{"format"}),
		GroupsCommitted:  prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "groups_committed_total"}, []string{"product"}),
		GroupsFailed:     prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: namespace, Name: "groups_failed_total"}, []string{"reason"}),
		CommitDuration:   prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: namespace, Name: "commit_duration_seconds"}),
		LastSuccessfulAt: prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: "last_successful_run_timestamp_seconds"}),
	}
}
