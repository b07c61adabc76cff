package health

import (
	"testing"
	"time"
)

func TestCircuitBreaker_InitialStateClosed(t *testing.T) {
	cb := NewCircuitBreaker()
	if cb.StateLabel("a1") != "closed" {
		t.Errorf("expected 'closed', got %s", cb.StateLabel("a1"))
	}
	if !cb.CanExecute("a1") {
		t.Error("closed breaker should allow requests")
	}
}

func TestCircuitBreaker_UnknownAccountAllowed(t *testing.T) {
	cb := NewCircuitBreaker()
	if !cb.CanExecute("never-seen") {
		t.Error("unknown account should be allowed")
	}
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreakerWithConfig(BreakerConfig{ErrorThreshold: 5})

	for i := 0; i < 4; i++ {
		cb.RecordFailure("a1")
		if cb.StateLabel("a1") != "closed" {
			t.Fatalf("should remain closed before threshold, iteration %d", i)
		}
	}
	cb.RecordFailure("a1")
	if cb.StateLabel("a1") != "open" {
		t.Error("should be open after reaching threshold")
	}
}

func TestCircuitBreaker_OpenRejectsRequests(t *testing.T) {
	cb := NewCircuitBreakerWithConfig(BreakerConfig{ErrorThreshold: 3})
	for i := 0; i < 3; i++ {
		cb.RecordFailure("a1")
	}
	if cb.CanExecute("a1") {
		t.Error("open breaker should reject requests")
	}
}

func TestCircuitBreaker_SuccessResetsFailureCountWhileClosed(t *testing.T) {
	cb := NewCircuitBreakerWithConfig(BreakerConfig{ErrorThreshold: 5})
	for i := 0; i < 4; i++ {
		cb.RecordFailure("a1")
	}
	cb.RecordSuccess("a1")

	for i := 0; i < 4; i++ {
		cb.RecordFailure("a1")
	}
	if cb.StateLabel("a1") != "closed" {
		t.Error("should still be closed — success should have reset the counter")
	}
}

func TestCircuitBreaker_HalfOpenAfterTimeout(t *testing.T) {
	cb := NewCircuitBreakerWithConfig(BreakerConfig{ErrorThreshold: 2, HalfOpenTimeout: 10 * time.Millisecond})
	cb.RecordFailure("a1")
	cb.RecordFailure("a1")
	if cb.StateLabel("a1") != "open" {
		t.Fatal("expected open")
	}

	time.Sleep(15 * time.Millisecond)

	if !cb.CanExecute("a1") {
		t.Error("should allow one probe after half-open timeout")
	}
	if cb.StateLabel("a1") != "half_open" {
		t.Errorf("expected half_open, got %s", cb.StateLabel("a1"))
	}
	if cb.CanExecute("a1") {
		t.Error("should reject second request while a probe is in flight")
	}
}

func TestCircuitBreaker_HalfOpenRequiresKConsecutiveSuccesses(t *testing.T) {
	cb := NewCircuitBreakerWithConfig(BreakerConfig{
		ErrorThreshold:           2,
		HalfOpenTimeout:          10 * time.Millisecond,
		HalfOpenSuccessesToClose: 3,
	})
	cb.RecordFailure("a1")
	cb.RecordFailure("a1")
	time.Sleep(15 * time.Millisecond)
	cb.CanExecute("a1") // enters half-open

	cb.RecordSuccess("a1")
	if cb.StateLabel("a1") != "half_open" {
		t.Error("one success should not close the breaker when K=3")
	}

	cb.RecordSuccess("a1")
	if cb.StateLabel("a1") != "half_open" {
		t.Error("two successes should not close the breaker when K=3")
	}

	cb.RecordSuccess("a1")
	if cb.StateLabel("a1") != "closed" {
		t.Error("third consecutive half-open success should close the breaker")
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreakerWithConfig(BreakerConfig{ErrorThreshold: 2, HalfOpenTimeout: 10 * time.Millisecond})
	cb.RecordFailure("a1")
	cb.RecordFailure("a1")
	time.Sleep(15 * time.Millisecond)
	cb.CanExecute("a1")

	cb.RecordFailure("a1")
	if cb.StateLabel("a1") != "open" {
		t.Error("failure during half-open probe should reopen the breaker")
	}
}

func TestCircuitBreaker_IndependentAccounts(t *testing.T) {
	cb := NewCircuitBreakerWithConfig(BreakerConfig{ErrorThreshold: 2})
	cb.RecordFailure("a1")
	cb.RecordFailure("a1")

	if cb.StateLabel("a1") != "open" {
		t.Error("a1 should be open")
	}
	if cb.StateLabel("a2") != "closed" {
		t.Error("a2 should remain closed")
	}
	if !cb.CanExecute("a2") {
		t.Error("a2 should still allow requests")
	}
}
