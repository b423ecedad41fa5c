package resilience

import (
	"errors"
	"testing"
	"time"

	apperrors "cas-valuer/internal/errors"
)

var errBoom = errors.New("boom")

func TestCircuitOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker("navs", CircuitBreakerConfig{FailureThreshold: 2, Timeout: time.Minute})

	for i := 0; i < 2; i++ {
		if _, err := ExecuteWithResult(cb, func() (int, error) { return 0, errBoom }); !errors.Is(err, errBoom) {
			t.Fatalf("call %d: err = %v, want errBoom", i, err)
		}
	}
	if cb.State() != CircuitOpen {
		t.Fatalf("state = %s, want OPEN", cb.State())
	}

	called := false
	_, err := ExecuteWithResult(cb, func() (int, error) { called = true; return 1, nil })
	if !errors.Is(err, apperrors.ErrCircuitOpen) {
		t.Errorf("err = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Error("fn called while circuit open")
	}
	if cb.Stats().TotalRejected != 1 {
		t.Errorf("TotalRejected = %d, want 1", cb.Stats().TotalRejected)
	}
}

func TestCircuitHalfOpenRecovers(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	cb := NewCircuitBreaker("navs", CircuitBreakerConfig{FailureThreshold: 1, Timeout: time.Second})
	cb.now = func() time.Time { return now }

	ExecuteWithResult(cb, func() (int, error) { return 0, errBoom })
	if cb.State() != CircuitOpen {
		t.Fatalf("state = %s, want OPEN", cb.State())
	}

	now = now.Add(2 * time.Second)
	v, err := ExecuteWithResult(cb, func() (int, error) { return 7, nil })
	if err != nil || v != 7 {
		t.Fatalf("got %d, %v; want 7, nil", v, err)
	}
	if cb.State() != CircuitClosed {
		t.Errorf("state = %s, want CLOSED", cb.State())
	}
}

func TestCircuitIgnoresNonFailures(t *testing.T) {
	notCounted := errors.New("not found")
	cb := NewCircuitBreaker("navs", CircuitBreakerConfig{
		FailureThreshold: 1,
		Timeout:          time.Minute,
		IsFailure:        func(err error) bool { return !errors.Is(err, notCounted) },
	})

	ExecuteWithResult(cb, func() (int, error) { return 0, notCounted })
	if cb.State() != CircuitClosed {
		t.Errorf("state = %s, want CLOSED", cb.State())
	}
}
