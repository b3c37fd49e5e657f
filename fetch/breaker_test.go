package fetch

import (
	"testing"
	"time"
)

func TestBreakerOpensAtThreshold(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	b := NewBreaker(2, 60*time.Second)
	b.now = func() time.Time { return now }

	if err := b.Allow(); err != nil {
		t.Fatalf("closed breaker should allow: %v", err)
	}
	b.RecordFailure()
	if b.State() != StateClosed {
		t.Fatalf("one failure should not open, state %s", b.State())
	}
	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("expected open after 2 failures, state %s", b.State())
	}

	err := b.Allow()
	if err == nil {
		t.Fatal("open breaker must fail fast")
	}
	if _, ok := err.(*CircuitOpenError); !ok {
		t.Fatalf("expected CircuitOpenError, got %T", err)
	}
}

func TestBreakerHalfOpenRecovery(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	b := NewBreaker(2, 60*time.Second)
	b.now = func() time.Time { return now }

	b.RecordFailure()
	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("expected open, state %s", b.State())
	}

	// Before timeout: still failing fast
	now = now.Add(30 * time.Second)
	if err := b.Allow(); err == nil {
		t.Fatal("expected CircuitOpenError before recovery timeout")
	}

	// After timeout: one call admitted half-open
	now = now.Add(31 * time.Second)
	if err := b.Allow(); err != nil {
		t.Fatalf("expected half-open admission: %v", err)
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("expected half-open, state %s", b.State())
	}

	b.RecordSuccess()
	if b.State() != StateClosed {
		t.Fatalf("success in half-open should close, state %s", b.State())
	}
	if b.Failures() != 0 {
		t.Fatalf("counter should reset to 0, got %d", b.Failures())
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	b := NewBreaker(3, 10*time.Second)
	b.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	now = now.Add(11 * time.Second)
	if err := b.Allow(); err != nil {
		t.Fatalf("expected half-open admission: %v", err)
	}

	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("half-open failure must reopen immediately, state %s", b.State())
	}
	if err := b.Allow(); err == nil {
		t.Fatal("expected fail-fast after reopen")
	}
}

func TestBreakerHalfOpenAdmitsSingleProbe(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	b := NewBreaker(2, 60*time.Second)
	b.now = func() time.Time { return now }

	b.RecordFailure()
	b.RecordFailure()
	now = now.Add(61 * time.Second)

	if err := b.Allow(); err != nil {
		t.Fatalf("expected half-open admission: %v", err)
	}
	// A second caller while the probe is in flight must not also be admitted.
	if err := b.Allow(); err == nil {
		t.Fatal("only one probe may run in half-open")
	}

	b.RecordSuccess()
	if err := b.Allow(); err != nil {
		t.Fatalf("closed breaker should allow: %v", err)
	}
}
