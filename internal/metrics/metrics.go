package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bridge_sessions_active",
		Help: "Currently open bridge sessions",
	})

	SessionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_sessions_total",
		Help: "Total bridge sessions accepted",
	})

	UpstreamConnectDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "bridge_upstream_connect_duration_seconds",
		Help:    "Latency to open an upstream WebSocket",
		Buckets: []float64{0.05, 0.1, 0.2, 0.5, 1.0, 2.0, 5.0},
	}, []string{"upstream"})

	UpstreamErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_upstream_errors_total",
		Help: "Upstream error frames by upstream and code",
	}, []string{"upstream", "code"})

	EnforcementTriggered = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_enforcement_triggered_total",
		Help: "Times non-English script was detected in an LLM response",
	})

	EnforcementRewriteDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bridge_enforcement_rewrite_duration_seconds",
		Help:    "English-rewrite HTTP call latency",
		Buckets: []float64{0.1, 0.2, 0.5, 1.0, 2.0, 5.0, 10.0},
	})

	EnforcementFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bridge_enforcement_fallbacks_total",
		Help: "Times the fixed fallback sentence was used in place of a rewrite",
	})

	SegmentsFlushed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_segments_flushed_total",
		Help: "Text segments handed to TTS, by forced/not-forced",
	}, []string{"forced"})

	SmootherFlushes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_smoother_flushes_total",
		Help: "Output-smoother flushes by reason",
	}, []string{"reason"})

	SmootherBufferedBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bridge_smoother_flush_bytes",
		Help:    "Bytes flushed per output-smoother flush",
		Buckets: []float64{1000, 2000, 4800, 9600, 14400, 19200, 24000},
	})

	E2EResponseDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bridge_e2e_response_duration_seconds",
		Help:    "Latency from commit to response_done",
		Buckets: []float64{0.2, 0.5, 1.0, 1.5, 2.0, 3.0, 5.0, 8.0},
	})
)
