// Package observability collects in-process counters and latency stats and
// exposes them as a JSON snapshot.
package observability

import (
	"sync"
	"time"
)

type MethodSnapshot struct {
	Count         int64   `json:"count"`
	Errors        int64   `json:"errors"`
	InFlight      int64   `json:"in_flight"`
	AvgLatencyMs  float64 `json:"avg_latency_ms"`
	MaxLatencyMs  float64 `json:"max_latency_ms"`
	LastLatencyMs float64 `json:"last_latency_ms"`
}

type Snapshot struct {
	UptimeSec      int64                     `json:"uptime_sec"`
	TotalRequests  int64                     `json:"total_requests"`
	TotalErrors    int64                     `json:"total_errors"`
	InFlight       int64                     `json:"in_flight"`
	SagasStarted   int64                     `json:"sagas_started"`
	Compensations  int64                     `json:"compensations"`
	CacheFallbacks int64                     `json:"cache_fallbacks"`
	CacheRestores  int64                     `json:"cache_restores"`
	Methods        map[string]MethodSnapshot `json:"methods"`
}

type methodStats struct {
	count        int64
	errors       int64
	inFlight     int64
	totalLatency time.Duration
	maxLatency   time.Duration
	lastLatency  time.Duration
}

type Metrics struct {
	mu             sync.Mutex
	start          time.Time
	methods        map[string]*methodStats
	sagasStarted   int64
	compensations  int64
	cacheFallbacks int64
	cacheRestores  int64
}

type CallSpan struct {
	metrics *Metrics
	method  string
	start   time.Time
}

func NewMetrics() *Metrics {
	return &Metrics{
		start:   time.Now(),
		methods: make(map[string]*methodStats),
	}
}

func (m *Metrics) Start(method string) *CallSpan {
	if m == nil {
		return &CallSpan{}
	}
	m.mu.Lock()
	stats := m.ensureMethod(method)
	stats.inFlight++
	m.mu.Unlock()
	return &CallSpan{
		metrics: m,
		method:  method,
		start:   time.Now(),
	}
}

func (s *CallSpan) End(err error) {
	if s == nil || s.metrics == nil {
		return
	}
	dur := time.Since(s.start)
	s.metrics.finish(s.method, dur, err != nil)
}

// SagaStarted counts one saga run beginning.
func (m *Metrics) SagaStarted() {
	m.add(&m.sagasStarted)
}

// Compensation counts one compensation pass.
func (m *Metrics) Compensation() {
	m.add(&m.compensations)
}

// CacheFallback counts one durable fallback taken because the cache counter
// could not answer.
func (m *Metrics) CacheFallback() {
	m.add(&m.cacheFallbacks)
}

// CacheRestore counts one counter resync after drift.
func (m *Metrics) CacheRestore() {
	m.add(&m.cacheRestores)
}

func (m *Metrics) add(counter *int64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	*counter++
	m.mu.Unlock()
}

func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	snap := Snapshot{
		UptimeSec:      int64(now.Sub(m.start).Seconds()),
		Methods:        make(map[string]MethodSnapshot),
		SagasStarted:   m.sagasStarted,
		Compensations:  m.compensations,
		CacheFallbacks: m.cacheFallbacks,
		CacheRestores:  m.cacheRestores,
	}

	for method, stats := range m.methods {
		avg := 0.0
		if stats.count > 0 {
			avg = float64(stats.totalLatency.Milliseconds()) / float64(stats.count)
		}
		snap.Methods[method] = MethodSnapshot{
			Count:         stats.count,
			Errors:        stats.errors,
			InFlight:      stats.inFlight,
			AvgLatencyMs:  avg,
			MaxLatencyMs:  float64(stats.maxLatency.Milliseconds()),
			LastLatencyMs: float64(stats.lastLatency.Milliseconds()),
		}
		snap.TotalRequests += stats.count
		snap.TotalErrors += stats.errors
		snap.InFlight += stats.inFlight
	}

	return snap
}

func (m *Metrics) ensureMethod(method string) *methodStats {
	stats, ok := m.methods[method]
	if !ok {
		stats = &methodStats{}
		m.methods[method] = stats
	}
	return stats
}

func (m *Metrics) finish(method string, dur time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.mu.Lock()
	stats := m.ensureMethod(method)
	stats.inFlight--
	stats.count++
	if failed {
		stats.errors++
	}
	stats.totalLatency += dur
	if dur > stats.maxLatency {
		stats.maxLatency = dur
	}
	stats.lastLatency = dur
	m.mu.Unlock()
}
