// Package metrics registers the process's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CaptureAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flexstream_capture_attempts_total",
		Help: "Browser capture attempts, including retries.",
	})
	CaptureSuccess = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flexstream_capture_success_total",
		Help: "Capture attempts that observed a manifest URL.",
	})
	CaptureTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flexstream_capture_timeouts_total",
		Help: "Capture invocations that exhausted every attempt.",
	})
	PlaylistCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flexstream_playlist_cache_hits_total",
		Help: "Playlist relay requests served from the rewrite cache.",
	})
	PlaylistCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flexstream_playlist_cache_misses_total",
		Help: "Playlist relay requests that fetched upstream.",
	})
	SegmentBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "flexstream_segment_bytes_total",
		Help: "Raw segment bytes relayed to clients.",
	})
	UpstreamFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "flexstream_upstream_failures_total",
		Help: "Failed upstream fetches by kind (playlist, segment).",
	}, []string{"kind"})
)
