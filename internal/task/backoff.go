package task

import (
	"math/rand"
	"time"
)

// BackoffKind selects the retry delay growth function, spec §4.G copy
// handler retryPolicy.
type BackoffKind string

const (
	BackoffLinear      BackoffKind = "linear"
	BackoffExponential BackoffKind = "exponential"
)

// RetryPolicy is the copy handler's retryPolicy, spec §4.G: default
// {3, 2000ms, exponential}.
type RetryPolicy struct {
	Limit   int
	Delay   time.Duration
	Backoff BackoffKind
}

// DefaultRetryPolicy is spec §4.G's named default.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Limit: 3, Delay: 2 * time.Second, Backoff: BackoffExponential}
}

const maxBackoff = 60 * time.Second

// sleepDuration computes the spec §4.G step 4a formula for attempt a
// (1-indexed): exponential delay·2^(a-1), linear delay·a, ±10% jitter,
// capped at 60s.
func (p RetryPolicy) sleepDuration(attempt int) time.Duration {
	var base time.Duration
	switch p.Backoff {
	case BackoffLinear:
		base = p.Delay * time.Duration(attempt)
	default:
		base = p.Delay * time.Duration(int64(1)<<uint(attempt-1))
	}
	if base > maxBackoff {
		base = maxBackoff
	}
	jitter := float64(base) * 0.10
	delta := (rand.Float64()*2 - 1) * jitter
	d := base + time.Duration(delta)
	if d > maxBackoff {
		d = maxBackoff
	}
	if d < 0 {
		d = 0
	}
	return d
}

// pollBackoff tracks the worker pool's 500ms->8s exponential idle
// poll interval, spec §4.G step 2.
type pollBackoff struct {
	current time.Duration
}

const (
	pollBackoffStart = 500 * time.Millisecond
	pollBackoffCap   = 8 * time.Second
)

func newPollBackoff() *pollBackoff {
	return &pollBackoff{current: pollBackoffStart}
}

func (p *pollBackoff) next() time.Duration {
	d := p.current
	p.current *= 2
	if p.current > pollBackoffCap {
		p.current = pollBackoffCap
	}
	return d
}

func (p *pollBackoff) reset() {
	p.current = pollBackoffStart
}
