// Package fallback reroutes failed or stuck business-messaging deliveries
// to SMS.
package fallback

import (
	"notification-gateway/internal/domain/entity"
)

// ShouldFallback reports whether st is eligible for rerouting: a WhatsApp
// delivery that FAILED or is still SENT, and has not been rerouted before.
func ShouldFallback(st *entity.DeliveryState) bool {
	if st == nil || !st.Channel.IsBusinessMessaging() || st.FallbackTriggered {
		return false
	}
	return st.Status == entity.DeliveryFailed || st.Status == entity.DeliverySent
}

// FallbackChannel returns the channel used when ch cannot deliver.
// Only WhatsApp has one; every other channel returns entity.ErrNoFallback.
func FallbackChannel(ch entity.Channel) (entity.Channel, error) {
	if ch == entity.ChannelWhatsApp {
		return entity.ChannelSMS, nil
	}
	return "", entity.ErrNoFallback
}
