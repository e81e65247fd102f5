// Package metrics exposes Prometheus collectors for fetches and conversions.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Fetches counts content fetches by location scheme and result ("ok" or "error")
	Fetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hlsaudio_fetches_total",
		Help: "Total number of segment, key and playlist fetches",
	}, []string{"scheme", "result"})

	// FetchBytes counts bytes retrieved by location scheme
	FetchBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hlsaudio_fetch_bytes_total",
		Help: "Total number of bytes fetched",
	}, []string{"scheme"})

	// KeyFetches counts cipher key retrievals; at most one per conversion
	KeyFetches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hlsaudio_key_fetches_total",
		Help: "Total number of cipher key fetches",
	})

	// Conversions counts finished conversions by result kind
	Conversions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hlsaudio_conversions_total",
		Help: "Total number of conversions by result",
	}, []string{"result"})

	// ConversionDuration observes wall time of conversions
	ConversionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "hlsaudio_conversion_duration_seconds",
		Help:    "Duration of playlist conversions",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	})
)

// RecordFetch records the outcome of one fetch.
func RecordFetch(scheme string, size int, err error) {
	if err != nil {
		Fetches.WithLabelValues(scheme, "error").Inc()
		return
	}
	Fetches.WithLabelValues(scheme, "ok").Inc()
	FetchBytes.WithLabelValues(scheme).Add(float64(size))
}

// RecordKeyFetch increments the key fetch counter.
func RecordKeyFetch() {
	KeyFetches.Inc()
}

// RecordConversion records a finished conversion. result is "ok" or an error kind.
func RecordConversion(result string, elapsed time.Duration) {
	Conversions.WithLabelValues(result).Inc()
	ConversionDuration.Observe(elapsed.Seconds())
}
