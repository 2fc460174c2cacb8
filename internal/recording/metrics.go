package recording

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	submitted prometheus.Counter
	persisted prometheus.Counter
	dropped   prometheus.Counter
	rejected  prometheus.Counter
	retries   prometheus.Counter
	depth     prometheus.Gauge
}

// newMetrics builds the queue collectors. A nil registerer yields
// unregistered collectors, which keeps tests free of global state.
func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		submitted: f.NewCounter(prometheus.CounterOpts{
			Name: "voxelprism_recording_submitted_total",
			Help: "Activities accepted by the recording queue.",
		}),
		persisted: f.NewCounter(prometheus.CounterOpts{
			Name: "voxelprism_recording_persisted_total",
			Help: "Activities written by the persister.",
		}),
		dropped: f.NewCounter(prometheus.CounterOpts{
			Name: "voxelprism_recording_dropped_total",
			Help: "Activities lost after exhausting retries or on drain timeout.",
		}),
		rejected: f.NewCounter(prometheus.CounterOpts{
			Name: "voxelprism_recording_rejected_total",
			Help: "Submissions refused because the queue was closed, halted or the activity was invalid.",
		}),
		retries: f.NewCounter(prometheus.CounterOpts{
			Name: "voxelprism_recording_retries_total",
			Help: "Persist attempts beyond the first for a batch.",
		}),
		depth: f.NewGauge(prometheus.GaugeOpts{
			Name: "voxelprism_recording_queue_depth",
			Help: "Activities waiting to be persisted.",
		}),
	}
}
