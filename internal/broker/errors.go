package broker

import (
	"fmt"
	"time"
)

// APIError is a non-2xx provider response. It carries the HTTP status and
// any Retry-After hint so the scheduler can classify throttling.
type APIError struct {
	Status     int
	Message    string
	RetryAfter time.Duration
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("broker: HTTP %d", e.Status)
	}
	return fmt.Sprintf("broker: %s (HTTP %d)", e.Message, e.Status)
}

// StatusCode reports the HTTP status of the failed call.
func (e *APIError) StatusCode() int { return e.Status }

// RetryAfterHint reports the provider-supplied cooldown, when present.
func (e *APIError) RetryAfterHint() (time.Duration, bool) {
	return e.RetryAfter, e.RetryAfter > 0
}
