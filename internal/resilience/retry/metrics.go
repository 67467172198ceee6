package retry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"notification-gateway/internal/domain/entity"
)

var sendRetriesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "gateway_send_retries_total",
		Help: "Total number of provider call retries by channel",
	},
	[]string{"channel"},
)

// RecordRetry increments the retry counter for ch.
func RecordRetry(ch entity.Channel) {
	sendRetriesTotal.WithLabelValues(ch.MetricLabel()).Inc()
}
