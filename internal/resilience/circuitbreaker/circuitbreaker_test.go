package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"

	"notification-gateway/internal/domain/entity"
	"notification-gateway/internal/resilience/retry"
)

func testConfig() Config {
	return Config{
		Name:             "test-circuit",
		MaxRequests:      1,
		Interval:         10 * time.Second,
		Timeout:          50 * time.Millisecond,
		FailureThreshold: 0.6,
		MinRequests:      3,
	}
}

func TestNew(t *testing.T) {
	cb := New(testConfig())

	if cb == nil {
		t.Fatal("expected circuit breaker, got nil")
	}
	if cb.Name() != "test-circuit" {
		t.Errorf("expected name='test-circuit', got %q", cb.Name())
	}
	if cb.State() != gobreaker.StateClosed {
		t.Errorf("expected initial state=Closed, got %v", cb.State())
	}
}

func TestCircuitBreaker_TripsOpenOnServerErrors(t *testing.T) {
	cb := New(testConfig())

	for i := 0; i < 3; i++ {
		_, _ = cb.Execute(func() (interface{}, error) {
			return nil, &retry.HTTPError{StatusCode: 503}
		})
	}

	if !cb.IsOpen() {
		t.Fatalf("expected open, got %v", cb.State())
	}

	_, err := cb.Execute(func() (interface{}, error) { return "x", nil })
	if !errors.Is(err, ErrOpenState) {
		t.Errorf("expected ErrOpenState, got %v", err)
	}
}

func TestCircuitBreaker_ClientErrorsDoNotTrip(t *testing.T) {
	cb := New(testConfig())

	for i := 0; i < 10; i++ {
		_, err := cb.Execute(func() (interface{}, error) {
			return nil, &retry.HTTPError{StatusCode: 400}
		})
		if err == nil {
			t.Fatal("expected the 400 to be returned")
		}
	}

	if cb.State() != gobreaker.StateClosed {
		t.Errorf("expected closed after client errors, got %v", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenRecovers(t *testing.T) {
	cb := New(testConfig())
	for i := 0; i < 3; i++ {
		_, _ = cb.Execute(func() (interface{}, error) { return nil, errors.New("dial tcp: refused") })
	}
	if !cb.IsOpen() {
		t.Fatalf("expected open, got %v", cb.State())
	}

	time.Sleep(80 * time.Millisecond)
	if cb.State() != gobreaker.StateHalfOpen {
		t.Fatalf("expected half-open, got %v", cb.State())
	}

	if _, err := cb.Execute(func() (interface{}, error) { return "ok", nil }); err != nil {
		t.Fatalf("probe failed: %v", err)
	}
	if cb.State() != gobreaker.StateClosed {
		t.Errorf("expected closed after successful probe, got %v", cb.State())
	}
}

func TestProviderConfig(t *testing.T) {
	wa := ProviderConfig(entity.ChannelWhatsApp)
	if wa.Name != "whatsapp" || wa.Timeout != 30*time.Second {
		t.Errorf("unexpected whatsapp config: %+v", wa)
	}
	sms := ProviderConfig(entity.ChannelSMS)
	if sms.MinRequests != 10 || sms.FailureThreshold != 0.7 {
		t.Errorf("unexpected sms config: %+v", sms)
	}
	tg := ProviderConfig(entity.ChannelTelegram)
	if tg != DefaultConfig("telegram") {
		t.Errorf("telegram should use defaults: %+v", tg)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	a := r.For(entity.ChannelSMS)
	b := r.For(entity.ChannelSMS)
	if a != b {
		t.Fatal("registry must reuse breakers")
	}
	_ = r.For(entity.ChannelTelegram)

	states := r.States()
	if len(states) != 2 || states["sms"] != "closed" || states["telegram"] != "closed" {
		t.Errorf("unexpected states: %v", states)
	}
}
