package sched

import (
	"errors"
	"math/rand"
	"strings"
	"syscall"
	"time"
)

const (
	maxRetryDelay    = 5 * time.Second
	maxThrottleDelay = 30 * time.Second
	maxJitter        = time.Second
)

// backoffPolicy computes retry delays. Generic failures back off linearly
// (capped); throttle-classified failures back off exponentially with jitter
// unless the provider supplied a Retry-After, which always wins.
type backoffPolicy struct {
	base   time.Duration
	jitter func() time.Duration
}

func newBackoffPolicy(base time.Duration, jitter func() time.Duration) backoffPolicy {
	if jitter == nil {
		jitter = func() time.Duration { return time.Duration(rand.Int63n(int64(maxJitter))) }
	}
	return backoffPolicy{base: base, jitter: jitter}
}

// withBase returns a copy of the policy using the endpoint's retry base
// when it is set, so per-endpoint overrides shape both delay curves.
func (b backoffPolicy) withBase(base time.Duration) backoffPolicy {
	if base > 0 {
		b.base = base
	}
	return b
}

// retryDelay is the pause before generic-failure attempt number attempt
// (1-based): min(base*attempt, 5s).
func (b backoffPolicy) retryDelay(attempt int) time.Duration {
	d := b.base * time.Duration(attempt)
	if d > maxRetryDelay {
		d = maxRetryDelay
	}
	return d
}

// throttleDelay is the cooldown after a throttle-classified failure on
// retry number retryCount (0-based): Retry-After when present, otherwise
// min(base*2^retryCount + jitter, 30s).
func (b backoffPolicy) throttleDelay(retryCount int, retryAfter time.Duration) time.Duration {
	if retryAfter > 0 {
		return retryAfter
	}
	d := b.base*(1<<retryCount) + b.jitter()
	if d > maxThrottleDelay {
		d = maxThrottleDelay
	}
	return d
}

// Error shapes the scheduler can read throttle details from. broker.APIError
// implements both.
type statusCoder interface{ StatusCode() int }
type retryAfterHinter interface{ RetryAfterHint() (time.Duration, bool) }

// isThrottle classifies a failure as provider throttling: HTTP 429, a
// connection reset, or a rate-limit message.
func isThrottle(err error) bool {
	if err == nil {
		return false
	}
	var sc statusCoder
	if errors.As(err, &sc) && sc.StatusCode() == 429 {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "connection reset")
}

// retryAfterFrom extracts a provider Retry-After hint, if any.
func retryAfterFrom(err error) time.Duration {
	var h retryAfterHinter
	if errors.As(err, &h) {
		if d, ok := h.RetryAfterHint(); ok {
			return d
		}
	}
	return 0
}
