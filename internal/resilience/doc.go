// Package resilience provides reliability and fault tolerance patterns for
// outbound provider calls.
//
// The package supports:
//   - Circuit breakers per messaging provider (Telegram, WhatsApp, Twilio)
//   - Provider-aware retry with Retry-After support, exponential backoff and jitter
//
// Usage Example:
//
//	cb := circuitbreaker.New(circuitbreaker.ProviderConfig(entity.ChannelSMS))
//	policy := retry.NewPolicy(entity.ChannelSMS, retry.DefaultConfig())
//	err := policy.Do(ctx, func(ctx context.Context) error {
//	    _, err := cb.Execute(func() (interface{}, error) {
//	        return callProvider(ctx)
//	    })
//	    return err
//	})
package resilience
