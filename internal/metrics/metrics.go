// Package metrics exposes Prometheus counters for the range cache: bytes served
// per source, read outcomes, remote fetch latency and live session count.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Source 标记字节的来源。
const (
	SourceCache   = "cache"
	SourceNetwork = "network"
)

var (
	bytesServedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "any_stream_bytes_served_total",
			Help: "Total bytes handed to consumers, by source",
		},
		[]string{"source"},
	)

	readsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "any_stream_reads_total",
			Help: "Total logical reads by outcome",
		},
		[]string{"outcome"},
	)

	readDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "any_stream_read_duration_seconds",
			Help:    "Duration of logical reads in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	remoteFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "any_stream_remote_fetch_duration_seconds",
			Help:    "Duration of ranged upstream fetches in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	duplicateReadsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "any_stream_duplicate_reads_total",
			Help: "Reads declined because an identical read was already in flight",
		},
	)

	sessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "any_stream_sessions_active",
			Help: "Number of open resource sessions",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordBytes records bytes delivered to a consumer.
func RecordBytes(source string, n int) {
	if n <= 0 {
		return
	}
	bytesServedTotal.WithLabelValues(source).Add(float64(n))
}

// RecordRead records the terminal outcome of a logical read.
func RecordRead(outcome string, duration time.Duration) {
	readsTotal.WithLabelValues(outcome).Inc()
	readDuration.Observe(duration.Seconds())
}

// RecordRemoteFetch records one ranged upstream request. status 为 0 表示传输层失败。
func RecordRemoteFetch(status int, duration time.Duration) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	remoteFetchDuration.WithLabelValues(label).Observe(duration.Seconds())
}

// RecordDuplicateRead counts a declined duplicate read.
func RecordDuplicateRead() {
	duplicateReadsTotal.Inc()
}

// SetSessions sets the number of open sessions.
func SetSessions(count int) {
	sessionsActive.Set(float64(count))
}
