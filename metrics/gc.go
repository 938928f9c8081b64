package metrics

import (
	"strconv"
	"time"

	"github.com/artifact-keeper/artifact-keeper/interfaces"
	"github.com/prometheus/client_golang/prometheus"
)

// GCRecorder records storage garbage collection outcomes. A nil
// *GCRecorder is valid and records nothing.
type GCRecorder struct {
	runs             *prometheus.CounterVec
	runDuration      prometheus.Histogram
	keysDeleted      prometheus.Counter
	artifactsRemoved prometheus.Counter
	bytesFreed       prometheus.Counter
	groupErrors      prometheus.Counter

	repositories  prometheus.Gauge
	liveArtifacts prometheus.Gauge
	liveBytes     prometheus.Gauge
}

// NewGCRecorder creates the collectors and registers them with reg.
func NewGCRecorder(namespace string, reg prometheus.Registerer) *GCRecorder {
	r := &GCRecorder{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_gc_runs_total",
			Help:      "Storage garbage collection runs",
		}, []string{"dry_run"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "storage_gc_duration_seconds",
			Help:      "Duration of storage garbage collection runs in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300},
		}),
		keysDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_gc_keys_deleted_total",
			Help:      "Storage keys whose physical objects were reclaimed",
		}),
		artifactsRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_gc_artifacts_removed_total",
			Help:      "Soft-deleted artifact rows hard-deleted by garbage collection",
		}),
		bytesFreed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_gc_bytes_freed_total",
			Help:      "Bytes reclaimed by garbage collection",
		}),
		groupErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "storage_gc_errors_total",
			Help:      "Orphan groups that failed during garbage collection",
		}),
		repositories: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "storage_repositories",
			Help:      "Number of repositories in the catalog",
		}),
		liveArtifacts: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "storage_live_artifacts",
			Help:      "Number of artifacts not marked deleted",
		}),
		liveBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "storage_live_bytes",
			Help:      "Total size of artifacts not marked deleted",
		}),
	}

	reg.MustRegister(
		r.runs,
		r.runDuration,
		r.keysDeleted,
		r.artifactsRemoved,
		r.bytesFreed,
		r.groupErrors,
		r.repositories,
		r.liveArtifacts,
		r.liveBytes,
	)
	return r
}

// RecordRun records one completed run. Reclaim counters only move for live runs.
func (r *GCRecorder) RecordRun(dryRun bool, keys, artifacts, bytes int64, errors int, duration time.Duration) {
	if r == nil {
		return
	}

	r.runs.WithLabelValues(strconv.FormatBool(dryRun)).Inc()
	r.runDuration.Observe(duration.Seconds())
	r.groupErrors.Add(float64(errors))
	if dryRun {
		return
	}
	r.keysDeleted.Add(float64(keys))
	r.artifactsRemoved.Add(float64(artifacts))
	r.bytesFreed.Add(float64(bytes))
}

// RecordStats updates the catalog gauges.
func (r *GCRecorder) RecordStats(stats interfaces.StorageStats) {
	if r == nil {
		return
	}

	r.repositories.Set(float64(stats.Repositories))
	r.liveArtifacts.Set(float64(stats.LiveArtifacts))
	r.liveBytes.Set(float64(stats.LiveBytes))
}
