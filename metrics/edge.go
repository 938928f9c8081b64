package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// EdgeRecorder records edge node sync activity. A nil *EdgeRecorder is
// valid and records nothing.
type EdgeRecorder struct {
	heartbeats   *prometheus.CounterVec
	offline      prometheus.Gauge
	transfers    *prometheus.CounterVec
	cacheBytes   prometheus.Gauge
	cacheEntries prometheus.Gauge
}

// NewEdgeRecorder creates the collectors and registers them with reg.
func NewEdgeRecorder(namespace string, reg prometheus.Registerer) *EdgeRecorder {
	r := &EdgeRecorder{
		heartbeats: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "edge_heartbeats_total",
			Help:      "Heartbeats sent to the primary by outcome",
		}, []string{"result"}),
		offline: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "edge_offline",
			Help:      "1 when the edge node considers the primary unreachable",
		}),
		transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "edge_transfers_total",
			Help:      "Artifact fetches from the primary by strategy and outcome",
		}, []string{"strategy", "result"}),
		cacheBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "edge_cache_bytes",
			Help:      "Bytes held in the local artifact cache",
		}),
		cacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "edge_cache_entries",
			Help:      "Entries held in the local artifact cache",
		}),
	}

	reg.MustRegister(r.heartbeats, r.offline, r.transfers, r.cacheBytes, r.cacheEntries)
	return r
}

// RecordHeartbeat counts a heartbeat attempt and mirrors the offline flag.
func (r *EdgeRecorder) RecordHeartbeat(ok, offline bool) {
	if r == nil {
		return
	}

	result := "success"
	if !ok {
		result = "failure"
	}
	r.heartbeats.WithLabelValues(result).Inc()

	if offline {
		r.offline.Set(1)
	} else {
		r.offline.Set(0)
	}
}

// RecordTransfer counts one artifact fetch.
func (r *EdgeRecorder) RecordTransfer(strategy string, ok bool) {
	if r == nil {
		return
	}

	result := "success"
	if !ok {
		result = "failure"
	}
	r.transfers.WithLabelValues(strategy, result).Inc()
}

// RecordCache updates the cache gauges.
func (r *EdgeRecorder) RecordCache(bytes, entries int64) {
	if r == nil {
		return
	}

	r.cacheBytes.Set(float64(bytes))
	r.cacheEntries.Set(float64(entries))
}
