package sched

import (
	"sort"
	"strings"
	"time"
)

const (
	// Trailing windows the provider's quotas are measured over.
	quotaWindow = time.Minute
	burstWindow = 5 * time.Second

	// Safety margin added to every computed wait so a dispatch lands
	// strictly after the oldest counted timestamp leaves the window.
	waitBuffer = 50 * time.Millisecond
)

// LimitPolicy is the immutable rate policy for one endpoint (or the global
// default). BurstLimit caps dispatches to one endpoint per trailing 5s.
type LimitPolicy struct {
	RequestsPerMinute int
	BurstLimit        int
	RetryDelayBase    time.Duration
	MaxRetries        int
}

// rateTracker maintains the trailing-window dispatch counters and computes
// the wait needed before a new dispatch stays under quota. It is not
// self-locking; the Scheduler's mutex guards all access.
type rateTracker struct {
	global    []time.Time
	endpoints map[string]*endpointWindow
	policy    LimitPolicy
	overrides map[string]LimitPolicy
}

type endpointWindow struct {
	stamps      []time.Time
	lastRequest time.Time
}

func newRateTracker(global LimitPolicy, overrides map[string]LimitPolicy) *rateTracker {
	return &rateTracker{
		endpoints: make(map[string]*endpointWindow),
		policy:    global,
		overrides: overrides,
	}
}

// policyFor selects the endpoint override by longest prefix match, falling
// back to the global policy. Unset override fields inherit global values.
func (t *rateTracker) policyFor(endpoint string) LimitPolicy {
	best := ""
	for prefix := range t.overrides {
		if strings.HasPrefix(endpoint, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	p := t.policy
	if best == "" {
		return p
	}
	o := t.overrides[best]
	if o.RequestsPerMinute > 0 {
		p.RequestsPerMinute = o.RequestsPerMinute
	}
	if o.BurstLimit > 0 {
		p.BurstLimit = o.BurstLimit
	}
	if o.RetryDelayBase > 0 {
		p.RetryDelayBase = o.RetryDelayBase
	}
	if o.MaxRetries > 0 {
		p.MaxRetries = o.MaxRetries
	}
	return p
}

// globalWait returns how long a dispatch must wait to keep the trailing
// 60-second global window under RequestsPerMinute. Zero means go now.
func (t *rateTracker) globalWait(now time.Time) time.Duration {
	t.global = prune(t.global, now.Add(-quotaWindow))
	if len(t.global) < t.policy.RequestsPerMinute {
		return 0
	}
	return quotaWindow - now.Sub(t.global[0]) + waitBuffer
}

// endpointWait is the same check against the endpoint's own 60s window.
func (t *rateTracker) endpointWait(endpoint string, now time.Time) time.Duration {
	w := t.endpoints[endpoint]
	if w == nil {
		return 0
	}
	w.stamps = prune(w.stamps, now.Add(-quotaWindow))
	limit := t.policyFor(endpoint).RequestsPerMinute
	if len(w.stamps) < limit {
		return 0
	}
	return quotaWindow - now.Sub(w.stamps[0]) + waitBuffer
}

// burstWait caps dispatches to one endpoint within the trailing 5s window.
func (t *rateTracker) burstWait(endpoint string, now time.Time) time.Duration {
	w := t.endpoints[endpoint]
	if w == nil {
		return 0
	}
	limit := t.policyFor(endpoint).BurstLimit
	if limit <= 0 {
		return 0
	}
	cutoff := now.Add(-burstWindow)
	i := sort.Search(len(w.stamps), func(i int) bool { return w.stamps[i].After(cutoff) })
	recent := w.stamps[i:]
	if len(recent) < limit {
		return 0
	}
	return burstWindow - now.Sub(recent[0]) + waitBuffer
}

// record appends a successful-dispatch timestamp to the global and
// endpoint windows.
func (t *rateTracker) record(endpoint string, now time.Time) {
	t.global = append(t.global, now)
	w := t.endpoints[endpoint]
	if w == nil {
		w = &endpointWindow{}
		t.endpoints[endpoint] = w
	}
	w.stamps = append(w.stamps, now)
	w.lastRequest = now
}

// globalCount reports the dispatches still inside the trailing 60s window.
func (t *rateTracker) globalCount(now time.Time) int {
	t.global = prune(t.global, now.Add(-quotaWindow))
	return len(t.global)
}

// EndpointStats is the per-endpoint slice of the introspection surface.
type EndpointStats struct {
	Endpoint       string    `json:"endpoint"`
	RecentRequests int       `json:"recent_requests"`
	BurstRequests  int       `json:"burst_requests"`
	LastRequestAt  time.Time `json:"last_request_at"`
}

func (t *rateTracker) snapshot(now time.Time) []EndpointStats {
	out := make([]EndpointStats, 0, len(t.endpoints))
	for ep, w := range t.endpoints {
		w.stamps = prune(w.stamps, now.Add(-quotaWindow))
		burstCutoff := now.Add(-burstWindow)
		i := sort.Search(len(w.stamps), func(i int) bool { return w.stamps[i].After(burstCutoff) })
		out = append(out, EndpointStats{
			Endpoint:       ep,
			RecentRequests: len(w.stamps),
			BurstRequests:  len(w.stamps) - i,
			LastRequestAt:  w.lastRequest,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Endpoint < out[j].Endpoint })
	return out
}

// prune drops timestamps at or before cutoff. Stamps are appended in time
// order, so a single scan from the front suffices.
func prune(stamps []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(stamps) && !stamps[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return stamps
	}
	return append(stamps[:0], stamps[i:]...)
}
