package resilience

import (
	"testing"
	"time"
)

func TestDefaultResilientConfig(t *testing.T) {
	config := DefaultResilientConfig()

	if config.Timeout != time.Second {
		t.Errorf("Expected timeout 1s, got %v", config.Timeout)
	}

	trip := config.CircuitBreakerConfig.ReadyToTrip
	if trip == nil {
		t.Fatal("Expected ReadyToTrip function to be set")
	}
	if trip(Counts{Requests: 10, TotalFailures: 10}) {
		t.Error("Should not trip below 20 requests")
	}
	if trip(Counts{Requests: 20, TotalFailures: 2}) {
		t.Error("Should not trip at 10% failures")
	}
	if !trip(Counts{Requests: 20, TotalFailures: 3}) {
		t.Error("Should trip at 15% failures")
	}
}

func TestResilientConfig_With(t *testing.T) {
	config := DefaultResilientConfig()
	updated := config.WithTimeout(2 * time.Second).WithCircuitBreakerTimeout(5 * time.Second)

	if updated.Timeout != 2*time.Second || updated.CircuitBreakerConfig.Timeout != 5*time.Second {
		t.Errorf("Unexpected config: %+v", updated)
	}
	if config.Timeout != time.Second {
		t.Errorf("Original config changed: got %v", config.Timeout)
	}
}

func TestConsecutiveFailuresDefault(t *testing.T) {
	if consecutiveFailures(Counts{ConsecutiveFailures: 4}) {
		t.Error("Should not trip with 4 failures")
	}
	if !consecutiveFailures(Counts{ConsecutiveFailures: 5}) {
		t.Error("Should trip with 5 failures")
	}
}
