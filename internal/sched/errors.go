package sched

import (
	"errors"
	"fmt"
)

// Sentinel errors for terminal rejections. Callers match with errors.Is.
var (
	// ErrQueueCleared rejects every request removed by an administrative
	// ClearQueue call, so operator intervention is distinguishable from
	// policy-driven failure.
	ErrQueueCleared = errors.New("request queue cleared")

	// ErrRateLimitExceeded is the terminal error for a request whose
	// attempts kept hitting provider throttling until retries ran out.
	ErrRateLimitExceeded = errors.New("provider rate limit exceeded")

	// ErrRetriesExhausted is the terminal error for a request whose
	// operation kept failing generically until retries ran out.
	ErrRetriesExhausted = errors.New("retries exhausted")
)

// ExhaustedError wraps the last underlying failure of a request that was
// retried MaxRetries times. Attempts counts every execution, the initial
// one included. It matches ErrRateLimitExceeded when the final failure was
// throttle-classified, ErrRetriesExhausted otherwise.
type ExhaustedError struct {
	Endpoint  string
	Attempts  int
	Throttled bool
	Cause     error
}

func (e *ExhaustedError) Error() string {
	kind := "retries exhausted"
	if e.Throttled {
		kind = "rate limit exceeded"
	}
	return fmt.Sprintf("%s for %s after %d attempts: %v", kind, e.Endpoint, e.Attempts, e.Cause)
}

func (e *ExhaustedError) Unwrap() error { return e.Cause }

func (e *ExhaustedError) Is(target error) bool {
	if e.Throttled {
		return target == ErrRateLimitExceeded
	}
	return target == ErrRetriesExhausted
}
