package dispatch

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the dispatch pipeline
var (
	// sendsTotal tracks pipeline attempts per channel and media kind
	sendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_sends_total",
			Help: "Total number of delivery attempts started",
		},
		[]string{"channel", "media"},
	)

	// sendsSucceeded tracks provider acceptances
	sendsSucceeded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_sends_success_total",
			Help: "Total number of deliveries accepted by the provider",
		},
		[]string{"channel", "media"},
	)

	// sendsFailed tracks terminal failures by reason bucket
	sendsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_sends_failed_total",
			Help: "Total number of deliveries that failed terminally",
		},
		[]string{"channel", "media", "reason"}, // reason: timeout|rate_limit|server_error|auth|other
	)

	// sendsDropped tracks attempts that never reached the provider
	sendsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_sends_dropped_total",
			Help: "Total number of attempts skipped before the provider call",
		},
		[]string{"channel", "reason"}, // reason: duplicate|media_disabled|store_error
	)

	// providerLatency tracks the provider call duration including retries
	providerLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_provider_latency_seconds",
			Help:    "Provider call duration in seconds, retries included",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"channel", "media"},
	)

	// inFlight tracks pipelines currently talking to a provider
	inFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_inflight_requests",
			Help: "Number of in-flight provider requests per channel",
		},
		[]string{"channel"},
	)
)

// RecordAttempt records the start of a per-recipient pipeline and
// increments the in-flight gauge.
func RecordAttempt(channel, media string) {
	sendsTotal.WithLabelValues(channel, media).Inc()
	inFlight.WithLabelValues(channel).Inc()
}

// RecordSuccess records a provider acceptance and releases the in-flight slot.
//
// Parameters:
//   - channel: The metric label of the channel (e.g., "telegram")
//   - media: The metric label of the media kind (e.g., "text")
//   - duration: The time spent in the provider call
func RecordSuccess(channel, media string, duration time.Duration) {
	sendsSucceeded.WithLabelValues(channel, media).Inc()
	providerLatency.WithLabelValues(channel, media).Observe(duration.Seconds())
	inFlight.WithLabelValues(channel).Dec()
}

// RecordFailure records a terminal failure and releases the in-flight slot.
//
// Parameters:
//   - channel: The metric label of the channel
//   - media: The metric label of the media kind
//   - reason: The failure bucket (timeout, rate_limit, server_error, auth, other)
//   - duration: The time spent before the failure was final
func RecordFailure(channel, media, reason string, duration time.Duration) {
	sendsFailed.WithLabelValues(channel, media, reason).Inc()
	providerLatency.WithLabelValues(channel, media).Observe(duration.Seconds())
	inFlight.WithLabelValues(channel).Dec()
}

// RecordDropped records an attempt skipped before the provider call.
func RecordDropped(channel, reason string) {
	sendsDropped.WithLabelValues(channel, reason).Inc()
}
