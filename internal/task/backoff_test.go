package task

import (
	"testing"
	"time"
)

func TestSleepDurationExponentialWithinJitterBand(t *testing.T) {
	p := RetryPolicy{Limit: 3, Delay: 2 * time.Second, Backoff: BackoffExponential}
	// attempt 1 -> base 2s, attempt 2 -> base 4s, both ±10%.
	for attempt, base := range map[int]time.Duration{1: 2 * time.Second, 2: 4 * time.Second} {
		d := p.sleepDuration(attempt)
		lo := time.Duration(float64(base) * 0.85)
		hi := time.Duration(float64(base) * 1.15)
		if d < lo || d > hi {
			t.Fatalf("attempt %d: sleepDuration=%v out of expected band [%v,%v]", attempt, d, lo, hi)
		}
	}
}

func TestSleepDurationLinear(t *testing.T) {
	p := RetryPolicy{Limit: 3, Delay: time.Second, Backoff: BackoffLinear}
	d := p.sleepDuration(3)
	if d < 2600*time.Millisecond || d > 3400*time.Millisecond {
		t.Fatalf("expected ~3s for linear attempt 3, got %v", d)
	}
}

func TestSleepDurationCappedAt60s(t *testing.T) {
	p := RetryPolicy{Limit: 10, Delay: 10 * time.Second, Backoff: BackoffExponential}
	d := p.sleepDuration(10)
	if d > maxBackoff {
		t.Fatalf("expected sleepDuration capped at %v, got %v", maxBackoff, d)
	}
}

func TestPollBackoffDoublesAndCaps(t *testing.T) {
	b := newPollBackoff()
	var last time.Duration
	for i := 0; i < 10; i++ {
		d := b.next()
		if i > 0 && d < last {
			t.Fatalf("poll backoff should never shrink before reset, got %v after %v", d, last)
		}
		last = d
	}
	if last != pollBackoffCap {
		t.Fatalf("expected poll backoff to settle at cap %v, got %v", pollBackoffCap, last)
	}
	b.reset()
	if b.next() != pollBackoffStart {
		t.Fatalf("expected reset to restart at %v", pollBackoffStart)
	}
}
