package sched

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/quantstack/tradegate/internal/observ"
)

// Config holds scheduler policy. Zero fields fall back to the provider
// defaults in normalize.
type Config struct {
	// Global policy; per-endpoint overrides win by longest prefix match.
	Global    LimitPolicy
	Endpoints map[string]LimitPolicy

	// TTL used when ScheduleCached is called with ttl <= 0.
	DefaultCacheTTL time.Duration

	// Pause after every successful dispatch. Zero disables the pacing
	// delay entirely.
	InterRequestDelay time.Duration

	// How often expired cache entries are swept. Zero selects the
	// one-minute default; a negative interval disables the background
	// sweeper (tests drive sweeps directly).
	CacheSweepInterval time.Duration

	// Clock defaults to the wall clock; tests inject a fake.
	Clock clockwork.Clock

	// Jitter overrides the throttle-backoff jitter source; tests pin it.
	Jitter func() time.Duration
}

func (c Config) normalize() Config {
	if c.Global.RequestsPerMinute <= 0 {
		c.Global.RequestsPerMinute = 150
	}
	if c.Global.BurstLimit <= 0 {
		c.Global.BurstLimit = 5
	}
	if c.Global.RetryDelayBase <= 0 {
		c.Global.RetryDelayBase = time.Second
	}
	if c.Global.MaxRetries <= 0 {
		c.Global.MaxRetries = 3
	}
	if c.DefaultCacheTTL <= 0 {
		c.DefaultCacheTTL = 5 * time.Second
	}
	if c.CacheSweepInterval == 0 {
		c.CacheSweepInterval = time.Minute
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return c
}

// Scheduler mediates every outbound call to the brokerage API: priority
// admission, sliding-window rate limiting, burst suppression, throttle
// backoff, response caching and bounded retries. Exactly one drain loop is
// active at a time; producers only enqueue.
type Scheduler struct {
	cfg     Config
	clock   clockwork.Clock
	cache   *responseCache
	backoff backoffPolicy

	// mu guards the queue, tracker and throttle state. All limiter
	// mutation happens inside the drain loop or under this lock.
	mu             sync.Mutex
	queue          requestQueue
	tracker        *rateTracker
	draining       bool
	throttleActive bool
	throttleUntil  time.Time

	stopSweep chan struct{}
	sweepOnce sync.Once
}

// New builds a Scheduler and starts the cache sweeper when configured.
func New(cfg Config) *Scheduler {
	cfg = cfg.normalize()
	s := &Scheduler{
		cfg:       cfg,
		clock:     cfg.Clock,
		cache:     newResponseCache(cfg.Clock),
		backoff:   newBackoffPolicy(cfg.Global.RetryDelayBase, cfg.Jitter),
		tracker:   newRateTracker(cfg.Global, cfg.Endpoints),
		stopSweep: make(chan struct{}),
	}
	if cfg.CacheSweepInterval > 0 {
		go s.sweepLoop()
	}
	return s
}

// Stop halts the background sweeper. Pending requests still drain.
func (s *Scheduler) Stop() {
	s.sweepOnce.Do(func() { close(s.stopSweep) })
}

// Schedule queues an uncached operation and returns the caller's handle.
func (s *Scheduler) Schedule(endpoint string, priority Priority, op Operation) *Future {
	return s.enqueue(endpoint, priority, "", 0, op)
}

// ScheduleCached consults the response cache first; a live entry resolves
// immediately without touching the queue. On success the result is cached
// under key for ttl (DefaultCacheTTL when ttl <= 0).
func (s *Scheduler) ScheduleCached(endpoint string, priority Priority, key string, ttl time.Duration, op Operation) *Future {
	if key != "" {
		if v, ok := s.cache.get(key); ok {
			return resolvedFuture(v)
		}
	}
	if ttl <= 0 {
		ttl = s.cfg.DefaultCacheTTL
	}
	return s.enqueue(endpoint, priority, key, ttl, op)
}

func (s *Scheduler) enqueue(endpoint string, priority Priority, key string, ttl time.Duration, op Operation) *Future {
	req := &request{
		id:         uuid.NewString(),
		endpoint:   endpoint,
		priority:   priority,
		op:         op,
		cacheKey:   key,
		cacheTTL:   ttl,
		enqueuedAt: s.clock.Now(),
		future:     newFuture(),
	}

	s.mu.Lock()
	s.queue.push(req)
	depth := s.queue.len()
	start := !s.draining
	if start {
		s.draining = true
	}
	s.mu.Unlock()

	observ.SetGauge("sched_queue_depth", float64(depth), nil)
	observ.Log("sched_enqueue", map[string]any{
		"id":       req.id,
		"endpoint": endpoint,
		"priority": priority.String(),
		"cached":   key != "",
	})
	if start {
		go s.drain()
	}
	return req.future
}

// ClearQueue forcibly empties the queue, rejecting every removed request
// with ErrQueueCleared. Emergency use only.
func (s *Scheduler) ClearQueue() int {
	s.mu.Lock()
	removed := s.queue.drain()
	s.mu.Unlock()

	for _, req := range removed {
		req.future.reject(ErrQueueCleared)
	}
	observ.SetGauge("sched_queue_depth", 0, nil)
	observ.IncCounterBy("sched_queue_cleared_total", nil, float64(len(removed)))
	observ.Log("sched_queue_cleared", map[string]any{"rejected": len(removed)})
	return len(removed)
}

// Throttle forces a process-wide dispatch pause, for drills and incident
// response. It extends, never shortens, an active throttle window.
func (s *Scheduler) Throttle(d time.Duration) {
	until := s.clock.Now().Add(d)
	s.mu.Lock()
	if !s.throttleActive || until.After(s.throttleUntil) {
		s.throttleActive = true
		s.throttleUntil = until
	}
	s.mu.Unlock()
	observ.Log("sched_throttle_forced", map[string]any{"duration_ms": d.Milliseconds()})
}

// drain is the single active processor loop. It runs until the queue is
// empty, then exits; the next enqueue starts a fresh loop.
func (s *Scheduler) drain() {
	for {
		// Throttle gate: no dispatch to any endpoint while active.
		s.mu.Lock()
		if s.throttleActive {
			now := s.clock.Now()
			if now.Before(s.throttleUntil) {
				wait := s.throttleUntil.Sub(now)
				s.mu.Unlock()
				s.clock.Sleep(wait)
				continue
			}
			s.throttleActive = false
			s.mu.Unlock()
			observ.Log("sched_throttle_cleared", nil)
			continue
		}

		req := s.queue.pop()
		if req == nil {
			s.draining = false
			s.mu.Unlock()
			return
		}
		depth := s.queue.len()
		s.mu.Unlock()
		observ.SetGauge("sched_queue_depth", float64(depth), nil)

		// Sequential rate gates: the global wait resolves first, then
		// the endpoint window, then the burst window, each as its own
		// sleep.
		s.waitGate(func(now time.Time) time.Duration { return s.tracker.globalWait(now) })
		s.waitGate(func(now time.Time) time.Duration { return s.tracker.endpointWait(req.endpoint, now) })
		s.waitGate(func(now time.Time) time.Duration { return s.tracker.burstWait(req.endpoint, now) })

		s.dispatch(req)
	}
}

func (s *Scheduler) waitGate(gate func(now time.Time) time.Duration) {
	for {
		s.mu.Lock()
		wait := gate(s.clock.Now())
		s.mu.Unlock()
		if wait <= 0 {
			return
		}
		observ.RecordHistogram("sched_rate_wait_ms", float64(wait.Milliseconds()), nil)
		s.clock.Sleep(wait)
	}
}

func (s *Scheduler) dispatch(req *request) {
	started := s.clock.Now()
	result, err := req.op(context.Background())
	latency := s.clock.Since(started)

	if err == nil {
		s.mu.Lock()
		s.tracker.record(req.endpoint, s.clock.Now())
		s.mu.Unlock()

		if req.cacheKey != "" {
			s.cache.set(req.cacheKey, result, req.cacheTTL)
		}
		req.future.resolve(result)

		observ.IncCounter("sched_dispatch_total", map[string]string{"endpoint": req.endpoint})
		observ.RecordHistogram("sched_dispatch_latency_ms", float64(latency.Milliseconds()),
			map[string]string{"endpoint": req.endpoint})

		if s.cfg.InterRequestDelay > 0 {
			s.clock.Sleep(s.cfg.InterRequestDelay)
		}
		return
	}

	policy := s.policyFor(req.endpoint)
	backoff := s.backoff.withBase(policy.RetryDelayBase)

	if isThrottle(err) {
		delay := backoff.throttleDelay(req.retryCount, retryAfterFrom(err))
		s.mu.Lock()
		s.throttleActive = true
		s.throttleUntil = s.clock.Now().Add(delay)
		retry := req.retryCount < policy.MaxRetries
		if retry {
			req.retryCount++
			s.queue.pushFront(req)
		}
		s.mu.Unlock()

		observ.IncCounter("sched_throttle_total", map[string]string{"endpoint": req.endpoint})
		observ.Log("sched_throttled", map[string]any{
			"id":          req.id,
			"endpoint":    req.endpoint,
			"retry_count": req.retryCount,
			"cooldown_ms": delay.Milliseconds(),
			"error":       err.Error(),
		})
		if !retry {
			req.future.reject(&ExhaustedError{
				Endpoint:  req.endpoint,
				Attempts:  req.retryCount + 1,
				Throttled: true,
				Cause:     err,
			})
		}
		return
	}

	if req.retryCount < policy.MaxRetries {
		req.retryCount++
		s.mu.Lock()
		s.queue.pushFront(req)
		s.mu.Unlock()

		delay := backoff.retryDelay(req.retryCount)
		observ.IncCounter("sched_retry_total", map[string]string{"endpoint": req.endpoint})
		observ.Log("sched_retry", map[string]any{
			"id":          req.id,
			"endpoint":    req.endpoint,
			"retry_count": req.retryCount,
			"delay_ms":    delay.Milliseconds(),
			"error":       err.Error(),
		})
		s.clock.Sleep(delay)
		return
	}

	observ.IncCounter("sched_exhausted_total", map[string]string{"endpoint": req.endpoint})
	req.future.reject(&ExhaustedError{
		Endpoint: req.endpoint,
		Attempts: req.retryCount + 1,
		Cause:    err,
	})
}

func (s *Scheduler) policyFor(endpoint string) LimitPolicy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracker.policyFor(endpoint)
}

func (s *Scheduler) sweepLoop() {
	for {
		select {
		case <-s.stopSweep:
			return
		case <-s.clock.After(s.cfg.CacheSweepInterval):
			if evicted := s.cache.sweep(); evicted > 0 {
				observ.Log("request_cache_swept", map[string]any{"evicted": evicted})
			}
		}
	}
}

// Stats is the read-only introspection snapshot used by dashboards.
type Stats struct {
	QueueSize            int             `json:"queue_size"`
	Draining             bool            `json:"is_draining"`
	Throttled            bool            `json:"is_throttled"`
	ThrottleRemaining    time.Duration   `json:"-"`
	ThrottleRemainingMs  int64           `json:"throttle_remaining_ms"`
	RecentGlobalRequests int             `json:"recent_global_request_count"`
	CacheSize            int             `json:"cache_size"`
	Endpoints            []EndpointStats `json:"per_endpoint_stats"`
}

func (s *Scheduler) Stats() Stats {
	now := s.clock.Now()

	s.mu.Lock()
	st := Stats{
		QueueSize:            s.queue.len(),
		Draining:             s.draining,
		Throttled:            s.throttleActive && now.Before(s.throttleUntil),
		RecentGlobalRequests: s.tracker.globalCount(now),
		Endpoints:            s.tracker.snapshot(now),
	}
	if st.Throttled {
		st.ThrottleRemaining = s.throttleUntil.Sub(now)
		st.ThrottleRemainingMs = st.ThrottleRemaining.Milliseconds()
	}
	s.mu.Unlock()

	st.CacheSize = s.cache.len()
	return st
}
