package resilience

import (
	"net/http"
	"sync"
	"time"

	"gatehouse.org/internal/obs"
)

const (
	defaultSlowThreshold = 5 * time.Second
	defaultSummaryEvery  = 100

	degradedErrorRate  = 0.10
	unhealthyErrorRate = 0.50
	degradedAvgLatency = time.Second
	unhealthyAvgLat    = 3 * time.Second
)

// Verdict is a coarse three-level health classification.
type Verdict string

const (
	VerdictHealthy   Verdict = "healthy"
	VerdictDegraded  Verdict = "degraded"
	VerdictUnhealthy Verdict = "unhealthy"
)

type aggregate struct {
	Count    int64
	Total    time.Duration
	Min      time.Duration
	Max      time.Duration
	Success  int64
	Errors   int64
	Statuses map[int]int64
}

func (a *aggregate) record(status int, dur time.Duration) {
	a.Count++
	a.Total += dur
	if a.Min == 0 || dur < a.Min {
		a.Min = dur
	}
	if dur > a.Max {
		a.Max = dur
	}
	if status >= 400 {
		a.Errors++
	} else {
		a.Success++
	}
	if a.Statuses == nil {
		a.Statuses = make(map[int]int64)
	}
	a.Statuses[status]++
}

func (a *aggregate) avg() time.Duration {
	if a.Count == 0 {
		return 0
	}
	return a.Total / time.Duration(a.Count)
}

// EndpointSnapshot is a read-only view of one endpoint's aggregate.
type EndpointSnapshot struct {
	Key         string        `json:"key"`
	Count       int64         `json:"count"`
	AvgDuration time.Duration `json:"avgDuration"`
	MinDuration time.Duration `json:"minDuration"`
	MaxDuration time.Duration `json:"maxDuration"`
	Success     int64         `json:"success"`
	Errors      int64         `json:"errors"`
	Statuses    map[int]int64 `json:"statuses"`
}

// Stats accumulates request metrics per endpoint key and globally. It is an
// owned component instance, never package-level state, so tests run with
// isolated copies.
type Stats struct {
	mu        sync.Mutex
	global    aggregate
	endpoints map[string]*aggregate

	slowThreshold time.Duration
	summaryEvery  int64
}

// StatsOption configures Stats.
type StatsOption func(*Stats)

func WithSlowThreshold(d time.Duration) StatsOption {
	return func(s *Stats) {
		if d > 0 {
			s.slowThreshold = d
		}
	}
}

func WithSummaryEvery(n int) StatsOption {
	return func(s *Stats) {
		if n > 0 {
			s.summaryEvery = int64(n)
		}
	}
}

// NewStats constructs an empty aggregator.
func NewStats(opts ...StatsOption) *Stats {
	s := &Stats{
		endpoints:     make(map[string]*aggregate),
		slowThreshold: defaultSlowThreshold,
		summaryEvery:  defaultSummaryEvery,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record folds one completed request into the aggregates.
func (s *Stats) Record(method, pathTemplate string, status int, dur time.Duration) {
	key := method + " " + pathTemplate

	s.mu.Lock()
	s.global.record(status, dur)
	ep, ok := s.endpoints[key]
	if !ok {
		ep = &aggregate{}
		s.endpoints[key] = ep
	}
	ep.record(status, dur)
	count := s.global.Count
	avg := s.global.avg()
	errors := s.global.Errors
	s.mu.Unlock()

	if dur > s.slowThreshold {
		obs.LogEvent("warn", "slow_request", map[string]any{
			"endpoint":    key,
			"status":      status,
			"duration_ms": dur.Milliseconds(),
		})
	}
	if count%s.summaryEvery == 0 {
		obs.LogEvent("info", "request_summary", map[string]any{
			"requests":   count,
			"errors":     errors,
			"avg_ms":     avg.Milliseconds(),
			"error_rate": float64(errors) / float64(count),
		})
	}
}

// Endpoint returns the snapshot for one endpoint key, if recorded.
func (s *Stats) Endpoint(key string) (EndpointSnapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ep, ok := s.endpoints[key]
	if !ok {
		return EndpointSnapshot{}, false
	}
	return snapshotOf(key, ep), true
}

// Snapshot returns all endpoint aggregates plus the global one under the
// key "ALL".
func (s *Stats) Snapshot() []EndpointSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EndpointSnapshot, 0, len(s.endpoints)+1)
	out = append(out, snapshotOf("ALL", &s.global))
	for key, ep := range s.endpoints {
		out = append(out, snapshotOf(key, ep))
	}
	return out
}

func snapshotOf(key string, a *aggregate) EndpointSnapshot {
	statuses := make(map[int]int64, len(a.Statuses))
	for k, v := range a.Statuses {
		statuses[k] = v
	}
	return EndpointSnapshot{
		Key:         key,
		Count:       a.Count,
		AvgDuration: a.avg(),
		MinDuration: a.Min,
		MaxDuration: a.Max,
		Success:     a.Success,
		Errors:      a.Errors,
		Statuses:    statuses,
	}
}

// Health derives the three-level verdict from the global error rate and
// average latency.
func (s *Stats) Health() Verdict {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.global.Count == 0 {
		return VerdictHealthy
	}
	errorRate := float64(s.global.Errors) / float64(s.global.Count)
	avg := s.global.avg()

	switch {
	case errorRate >= unhealthyErrorRate || avg >= unhealthyAvgLat:
		return VerdictUnhealthy
	case errorRate >= degradedErrorRate || avg >= degradedAvgLatency:
		return VerdictDegraded
	default:
		return VerdictHealthy
	}
}

// Middleware records every completed request against its canonical path.
func (s *Stats) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sw, r)
		s.Record(r.Method, obs.CanonicalPath(r.URL.Path), sw.code, time.Since(start))
	})
}
