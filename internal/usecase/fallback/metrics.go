package fallback

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Result labels of gateway_fallbacks_total.
const (
	ResultTriggered  = "triggered"
	ResultDuplicate  = "already_triggered"
	ResultNoRequest  = "no_request"
	ResultNotQueued  = "not_queued"
	ResultStoreError = "error"
)

var fallbacksTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gateway_fallbacks_total",
		Help: "Total number of fallback routing decisions",
	},
	[]string{"from", "to", "result"},
)

// RecordFallback increments gateway_fallbacks_total.
//
// Parameters:
//   - from: The metric label of the failed channel (e.g., "whatsapp")
//   - to: The metric label of the fallback channel (e.g., "sms")
//   - result: One of the Result* constants
func RecordFallback(from, to, result string) {
	fallbacksTotal.WithLabelValues(from, to, result).Inc()
}
