package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsStarted counts conversion sessions by the reason they were started.
	SessionsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audiohls_sessions_started_total",
		Help: "Total conversion sessions started",
	}, []string{"reason"})

	// TranscoderExits counts transcoder jobs by how they ended.
	TranscoderExits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audiohls_transcoder_exits_total",
		Help: "Total transcoder job exits",
	}, []string{"outcome"})

	// TranscoderStops counts termination requests by the phase that ended them.
	TranscoderStops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audiohls_transcoder_stops_total",
		Help: "Total transcoder terminations",
	}, []string{"mode"})

	// TranscoderProcesses tracks currently registered transcoder processes.
	TranscoderProcesses = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "audiohls_transcoder_processes",
		Help: "Number of running transcoder processes",
	})

	// SegmentWaits counts readiness waits by result.
	SegmentWaits = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audiohls_segment_waits_total",
		Help: "Total segment readiness waits",
	}, []string{"outcome"})

	// SegmentWaitDuration tracks how long segment requests waited for readiness.
	SegmentWaitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "audiohls_segment_wait_duration_seconds",
		Help:    "Time spent waiting for a segment to become ready",
		Buckets: prometheus.ExponentialBuckets(0.1, 2.0, 10), // 100ms to ~50s
	})

	// PlaylistBuilds counts manifests by where they were loaded from.
	PlaylistBuilds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audiohls_playlist_builds_total",
		Help: "Total playlists built or loaded",
	}, []string{"source"})
)

// IncTranscoderStop records how a termination finished.
func IncTranscoderStop(forced bool, err error) {
	switch {
	case err != nil:
		TranscoderStops.WithLabelValues("failed").Inc()
	case forced:
		TranscoderStops.WithLabelValues("forced").Inc()
	default:
		TranscoderStops.WithLabelValues("graceful").Inc()
	}
}
