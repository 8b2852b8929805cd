package monitor

import (
	"math"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"autotrade-core/internal/gateway"
)

// SystemMetrics tracks session engine performance. It satisfies the order
// package's MetricsRecorder.
type SystemMetrics struct {
	mu sync.RWMutex

	// Latency histograms
	OrderLatency *LatencyHistogram
	TickLatency  *LatencyHistogram
	APILatency   *LatencyHistogram

	// Counters
	ticksProcessed   uint64
	tickFailures     uint64
	signalsGenerated uint64
	riskExits        uint64
	apiRequests      uint64
	apiErrors        uint64
	ordersByOutcome  map[string]uint64

	gatewayStats   gateway.PoolStats
	activeSessions int
}

// LatencyHistogram keeps the most recent samples (ms) in a fixed ring.
type LatencyHistogram struct {
	mu    sync.Mutex
	ring  []float64
	next  int
	full  bool
	stale bool
	last  LatencyStats
}

// NewSystemMetrics creates a new metrics instance.
func NewSystemMetrics() *SystemMetrics {
	return &SystemMetrics{
		OrderLatency:    NewLatencyHistogram(1000),
		TickLatency:     NewLatencyHistogram(1000),
		APILatency:      NewLatencyHistogram(1000),
		ordersByOutcome: make(map[string]uint64),
	}
}

// NewLatencyHistogram keeps up to size samples; size <= 0 means 1000.
func NewLatencyHistogram(size int) *LatencyHistogram {
	if size <= 0 {
		size = 1000
	}
	return &LatencyHistogram{ring: make([]float64, size)}
}

// Record adds one sample in milliseconds, evicting the oldest when full.
func (h *LatencyHistogram) Record(ms float64) {
	h.mu.Lock()
	h.ring[h.next] = ms
	h.next++
	if h.next == len(h.ring) {
		h.next = 0
		h.full = true
	}
	h.stale = true
	h.mu.Unlock()
}

func (h *LatencyHistogram) RecordDuration(d time.Duration) {
	h.Record(float64(d) / float64(time.Millisecond))
}

// Stats summarizes the retained samples. The result is cached until the next
// Record.
func (h *LatencyHistogram) Stats() LatencyStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.stale {
		return h.last
	}

	n := h.next
	if h.full {
		n = len(h.ring)
	}
	sorted := append([]float64(nil), h.ring[:n]...)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	h.last = LatencyStats{
		Min:   sorted[0],
		Max:   sorted[n-1],
		Avg:   sum / float64(n),
		P50:   rank(sorted, 0.50),
		P95:   rank(sorted, 0.95),
		P99:   rank(sorted, 0.99),
		Count: n,
	}
	h.stale = false
	return h.last
}

// rank is the nearest-rank percentile of an ascending slice.
func rank(sorted []float64, q float64) float64 {
	i := int(math.Ceil(q*float64(len(sorted)))) - 1
	if i < 0 {
		i = 0
	}
	return sorted[i]
}

// LatencyStats holds computed latency statistics.
type LatencyStats struct {
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Avg   float64 `json:"avg"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Count int     `json:"count"`
}

// ObserveOrder counts one order attempt by outcome and records its latency.
func (m *SystemMetrics) ObserveOrder(outcome string, latency time.Duration) {
	m.mu.Lock()
	m.ordersByOutcome[outcome]++
	m.mu.Unlock()
	if latency > 0 {
		m.OrderLatency.RecordDuration(latency)
	}
}

// ObserveTick counts one session tick.
func (m *SystemMetrics) ObserveTick(latency time.Duration, failed bool) {
	atomic.AddUint64(&m.ticksProcessed, 1)
	if failed {
		atomic.AddUint64(&m.tickFailures, 1)
	}
	m.TickLatency.RecordDuration(latency)
}

// IncrementSignals counts an evaluated signal.
func (m *SystemMetrics) IncrementSignals() {
	atomic.AddUint64(&m.signalsGenerated, 1)
}

// IncrementRiskExits counts a forced stop-loss or take-profit exit.
func (m *SystemMetrics) IncrementRiskExits() {
	atomic.AddUint64(&m.riskExits, 1)
}

// IncrementAPI counts one admin API request.
func (m *SystemMetrics) IncrementAPI() {
	atomic.AddUint64(&m.apiRequests, 1)
}

// IncrementAPIErrors counts an admin API request answered with status >= 400.
func (m *SystemMetrics) IncrementAPIErrors() {
	atomic.AddUint64(&m.apiErrors, 1)
}

// MetricsSnapshot is a point-in-time view of the counters.
type MetricsSnapshot struct {
	OrderLatency     LatencyStats      `json:"order_latency"`
	TickLatency      LatencyStats      `json:"tick_latency"`
	APILatency       LatencyStats      `json:"api_latency"`
	TicksProcessed   uint64            `json:"ticks_processed"`
	TickFailures     uint64            `json:"tick_failures"`
	SignalsGenerated uint64            `json:"signals_generated"`
	RiskExits        uint64            `json:"risk_exits"`
	APIRequests      uint64            `json:"api_requests"`
	APIErrors        uint64            `json:"api_errors"`
	Orders           map[string]uint64 `json:"orders"`
	ActiveSessions   int               `json:"active_sessions"`
	GatewayPool      gateway.PoolStats `json:"gateway_pool"`
	GoroutineCount   int               `json:"goroutine_count"`
	HeapAlloc        uint64            `json:"heap_alloc_bytes"`
	Timestamp        time.Time         `json:"timestamp"`
}

// GetSnapshot returns a point-in-time metrics snapshot.
func (m *SystemMetrics) GetSnapshot() MetricsSnapshot {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	m.mu.RLock()
	orders := make(map[string]uint64, len(m.ordersByOutcome))
	for k, v := range m.ordersByOutcome {
		orders[k] = v
	}
	gwStats := m.gatewayStats
	active := m.activeSessions
	m.mu.RUnlock()

	return MetricsSnapshot{
		OrderLatency:     m.OrderLatency.Stats(),
		TickLatency:      m.TickLatency.Stats(),
		APILatency:       m.APILatency.Stats(),
		TicksProcessed:   atomic.LoadUint64(&m.ticksProcessed),
		TickFailures:     atomic.LoadUint64(&m.tickFailures),
		SignalsGenerated: atomic.LoadUint64(&m.signalsGenerated),
		RiskExits:        atomic.LoadUint64(&m.riskExits),
		APIRequests:      atomic.LoadUint64(&m.apiRequests),
		APIErrors:        atomic.LoadUint64(&m.apiErrors),
		Orders:           orders,
		ActiveSessions:   active,
		GatewayPool:      gwStats,
		GoroutineCount:   runtime.NumGoroutine(),
		HeapAlloc:        memStats.HeapAlloc,
		Timestamp:        time.Now(),
	}
}

// SetGatewayPoolStats updates gateway pool statistics.
func (m *SystemMetrics) SetGatewayPoolStats(stats gateway.PoolStats) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gatewayStats = stats
}

// SetActiveSessions records how many sessions are registered.
func (m *SystemMetrics) SetActiveSessions(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeSessions = n
}

// Timer helps measure operation duration.
type Timer struct {
	start     time.Time
	histogram *LatencyHistogram
}

// NewTimer creates a timer that records to the given histogram.
func NewTimer(h *LatencyHistogram) *Timer {
	return &Timer{
		start:     time.Now(),
		histogram: h,
	}
}

// Stop records elapsed time to histogram.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	if t.histogram != nil {
		t.histogram.RecordDuration(elapsed)
	}
	return elapsed
}
