package daemon

import (
	"encoding/json"
	"net/http"
	"os"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Health tracks the counters the inspection CLI's structured health
// report needs (spec.md §7: "running state, RSS, session count, embed
// failures, HTTP 429 counts"). This repo only exposes the surface; the
// CLI itself is an external collaborator (spec.md §4 Non-goals).
type Health struct {
	registry *prometheus.Registry

	startedAt     time.Time
	sessionCount  int64
	embedFailures int64
	http429Count  int64

	sessionGauge prometheus.Gauge
	embedFailCtr prometheus.Counter
	http429Ctr   prometheus.Counter
	rssGauge     prometheus.Gauge
}

// NewHealth builds a Health tracker with its own Prometheus registry,
// stamped with the process's start time for uptime reporting.
func NewHealth(startedAt time.Time) *Health {
	registry := prometheus.NewRegistry()
	return &Health{
		registry:  registry,
		startedAt: startedAt,
		sessionGauge: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
			Name: "engramd_sessions_active",
			Help: "Sessions currently tracked by the tailer.",
		}),
		embedFailCtr: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "engramd_embed_failures_total",
			Help: "Embedding calls that fell through every provider in the chain.",
		}),
		http429Ctr: promauto.With(registry).NewCounter(prometheus.CounterOpts{
			Name: "engramd_http_429_total",
			Help: "HTTP 429 responses observed from hosted providers.",
		}),
		rssGauge: promauto.With(registry).NewGauge(prometheus.GaugeOpts{
			Name: "engramd_rss_bytes",
			Help: "Memory obtained from the OS by the Go runtime (runtime.MemStats.Sys).",
		}),
	}
}

// SetSessionCount records the tailer's current session count.
func (h *Health) SetSessionCount(n int) {
	atomic.StoreInt64(&h.sessionCount, int64(n))
	h.sessionGauge.Set(float64(n))
}

// RecordEmbedFailure increments the embed-failure counter (spec.md §7's
// "embedding failure" error kind).
func (h *Health) RecordEmbedFailure() {
	atomic.AddInt64(&h.embedFailures, 1)
	h.embedFailCtr.Inc()
}

// RecordHTTP429 increments the HTTP 429 counter.
func (h *Health) RecordHTTP429() {
	atomic.AddInt64(&h.http429Count, 1)
	h.http429Ctr.Inc()
}

// Report is the JSON shape served at /health.
type Report struct {
	Running       bool   `json:"running"`
	PID           int    `json:"pid"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	RSS           string `json:"rss"`
	RSSBytes      uint64 `json:"rss_bytes"`
	SessionCount  int64  `json:"session_count"`
	EmbedFailures int64  `json:"embed_failures"`
	HTTP429Count  int64  `json:"http_429_count"`
}

// Snapshot reads current process memory stats and composes a Report.
func (h *Health) Snapshot() Report {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	h.rssGauge.Set(float64(m.Sys))

	return Report{
		Running:       true,
		PID:           os.Getpid(),
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
		RSS:           humanize.Bytes(m.Sys),
		RSSBytes:      m.Sys,
		SessionCount:  atomic.LoadInt64(&h.sessionCount),
		EmbedFailures: atomic.LoadInt64(&h.embedFailures),
		HTTP429Count:  atomic.LoadInt64(&h.http429Count),
	}
}

// Handler serves /health (JSON) and /metrics (Prometheus exposition
// format) on cfg.Server.MetricsAddr.
func (h *Health) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(h.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(h.Snapshot()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	return mux
}
