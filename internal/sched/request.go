package sched

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Priority orders queued requests. Higher values dispatch first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	}
	return "unknown"
}

// ParsePriority maps config strings to a Priority.
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "high":
		return PriorityHigh, nil
	case "normal", "":
		return PriorityNormal, nil
	case "low":
		return PriorityLow, nil
	}
	return PriorityNormal, fmt.Errorf("unknown priority %q", s)
}

// Operation performs exactly one remote call. Errors should carry an HTTP
// status and a Retry-After hint when available so throttling is detectable.
type Operation func(ctx context.Context) (any, error)

// request is one pending unit of work. Only the drain loop mutates it after
// enqueue; retryCount in particular is owned by the loop.
type request struct {
	id         string
	endpoint   string
	priority   Priority
	op         Operation
	cacheKey   string
	cacheTTL   time.Duration
	retryCount int
	enqueuedAt time.Time
	seq        uint64
	future     *Future
}

// Future is the caller's handle for a scheduled request. It resolves or
// rejects exactly once.
type Future struct {
	once  sync.Once
	done  chan struct{}
	value any
	err   error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func resolvedFuture(v any) *Future {
	f := newFuture()
	f.resolve(v)
	return f
}

func (f *Future) resolve(v any) {
	f.once.Do(func() {
		f.value = v
		close(f.done)
	})
}

func (f *Future) reject(err error) {
	f.once.Do(func() {
		f.err = err
		close(f.done)
	})
}

// Await blocks until the request settles or ctx is cancelled. Cancellation
// abandons the handle only; the request itself still runs to completion.
func (f *Future) Await(ctx context.Context) (any, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-f.done:
		return f.value, f.err
	}
}

// Done is closed once the future has settled.
func (f *Future) Done() <-chan struct{} { return f.done }
