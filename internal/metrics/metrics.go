package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "floatplay",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by method, path and status code.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "floatplay",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10, 30},
	}, []string{"method", "path"})

	ProbeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "floatplay",
		Name:      "probe_duration_seconds",
		Help:      "Duration of ffmpeg media probes in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	})

	ProbeFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "floatplay",
		Name:      "probe_failures_total",
		Help:      "Total number of failed media probes by error kind.",
	}, []string{"kind"})

	SubtitleConversionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "floatplay",
		Name:      "subtitle_conversions_total",
		Help:      "Total subtitle conversions by source format and result.",
	}, []string{"format", "result"})

	PlaybacksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "floatplay",
		Name:      "playbacks_total",
		Help:      "Total playback requests by chosen mode.",
	}, []string{"mode"})

	TranscodeActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "floatplay",
		Name:      "transcode_active",
		Help:      "Number of running ffmpeg transcode processes (0 or 1).",
	})

	TranscodeStartsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "floatplay",
		Name:      "transcode_starts_total",
		Help:      "Total number of transcode processes started by container.",
	}, []string{"container"})

	TranscodeFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "floatplay",
		Name:      "transcode_spawn_failures_total",
		Help:      "Total number of transcode processes that failed to spawn.",
	})

	TranscodeExitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "floatplay",
		Name:      "transcode_exits_total",
		Help:      "Total transcode process exits by reason.",
	}, []string{"reason"})

	TranscodeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "floatplay",
		Name:      "transcode_duration_seconds",
		Help:      "Lifetime of transcode processes in seconds.",
		Buckets:   []float64{1, 5, 10, 30, 60, 300, 900, 3600},
	})

	SeekRestartsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "floatplay",
		Name:      "seek_restarts_total",
		Help:      "Total number of transcodes restarted for a new seek offset.",
	})
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ProbeDuration,
		ProbeFailuresTotal,
		SubtitleConversionsTotal,
		PlaybacksTotal,
		TranscodeActive,
		TranscodeStartsTotal,
		TranscodeFailuresTotal,
		TranscodeExitsTotal,
		TranscodeDuration,
		SeekRestartsTotal,
	)
}
