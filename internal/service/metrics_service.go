package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsSnapshot is a lightweight summary served by the ops endpoint.
type MetricsSnapshot struct {
	Goroutines         int     `json:"goroutines"`
	CacheHitRatio      float64 `json:"cacheHitRatio"`
	AvgRequestMs       float64 `json:"avgRequestMs"`
	EmployeesComputed  uint64  `json:"employeesComputed"`
	ComputeFailures    uint64  `json:"computeFailures"`
	SlipsGenerated     uint64  `json:"slipsGenerated"`
	SlipsFailed        uint64  `json:"slipsFailed"`
	ReconciliationFlag uint64  `json:"reconciliationFlags"`
}

// MetricsService wraps the Prometheus collectors. A nil *MetricsService is a
// valid no-op.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheWrite      prometheus.Observer
	cacheHitRatio   prometheus.Gauge
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	runTransitions  *prometheus.CounterVec
	employeeCompute *prometheus.CounterVec
	computeDuration prometheus.Observer
	overrides       *prometheus.CounterVec
	slips           *prometheus.CounterVec

	cacheHitCount        uint64
	cacheMissCount       uint64
	requestCount         uint64
	requestDurationTotal uint64
	computedCount        uint64
	computeFailCount     uint64
	slipOKCount          uint64
	slipFailCount        uint64
	reconcileCount       uint64
}

// NewMetricsService registers the collectors on a private registry.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache lookups",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache writes",
		Buckets: prometheus.DefBuckets,
	})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cache_hit_ratio",
		Help: "Ratio of cache hits to total cache lookups",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	runTransitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payroll_run_transitions_total",
		Help: "Payroll run state transitions",
	}, []string{"to"})

	employeeCompute := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payroll_employee_computations_total",
		Help: "Per-employee payroll computations by outcome",
	}, []string{"outcome"})

	computeDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "payroll_employee_compute_seconds",
		Help:    "Duration of a single employee computation",
		Buckets: prometheus.DefBuckets,
	})

	overrides := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payroll_overrides_applied_total",
		Help: "Applied manual overrides, labelled by whether reconciliation was required",
	}, []string{"reconciliation"})

	slips := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payroll_salary_slips_total",
		Help: "Salary slip rendering results",
	}, []string{"status"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, cacheLatency, cacheWrite, cacheHitRatio, cacheHits, cacheMisses,
		runTransitions, employeeCompute, computeDuration, overrides, slips, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		cacheLatency:    cacheLatency,
		cacheWrite:      cacheWrite,
		cacheHitRatio:   cacheHitRatio,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
		runTransitions:  runTransitions,
		employeeCompute: employeeCompute,
		computeDuration: computeDuration,
		overrides:       overrides,
		slips:           slips,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
}

// RecordCacheOperation records a cache hit or miss and updates the hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	total := hits + atomic.LoadUint64(&m.cacheMissCount)
	if total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks cache write latency.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// RecordRunTransition counts a run entering a new state.
func (m *MetricsService) RecordRunTransition(to string) {
	if m == nil {
		return
	}
	m.runTransitions.WithLabelValues(to).Inc()
}

// RecordEmployeeCompute counts one computation outcome.
func (m *MetricsService) RecordEmployeeCompute(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.employeeCompute.WithLabelValues(outcome).Inc()
	m.computeDuration.Observe(duration.Seconds())
	if outcome == "failed" {
		atomic.AddUint64(&m.computeFailCount, 1)
		return
	}
	atomic.AddUint64(&m.computedCount, 1)
}

// RecordOverrideApplied counts an applied override.
func (m *MetricsService) RecordOverrideApplied(reconciliation bool) {
	if m == nil {
		return
	}
	m.overrides.WithLabelValues(fmt.Sprintf("%t", reconciliation)).Inc()
	if reconciliation {
		atomic.AddUint64(&m.reconcileCount, 1)
	}
}

// RecordSlip counts a slip rendering result.
func (m *MetricsService) RecordSlip(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.slips.WithLabelValues("generated").Inc()
		atomic.AddUint64(&m.slipOKCount, 1)
		return
	}
	m.slips.WithLabelValues("failed").Inc()
	atomic.AddUint64(&m.slipFailCount, 1)
}

// Snapshot returns aggregated counters.
func (m *MetricsService) Snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	requests := atomic.LoadUint64(&m.requestCount)

	snap := MetricsSnapshot{
		Goroutines:         runtime.NumGoroutine(),
		EmployeesComputed:  atomic.LoadUint64(&m.computedCount),
		ComputeFailures:    atomic.LoadUint64(&m.computeFailCount),
		SlipsGenerated:     atomic.LoadUint64(&m.slipOKCount),
		SlipsFailed:        atomic.LoadUint64(&m.slipFailCount),
		ReconciliationFlag: atomic.LoadUint64(&m.reconcileCount),
	}
	if hits+misses > 0 {
		snap.CacheHitRatio = float64(hits) / float64(hits+misses)
	}
	if requests > 0 {
		snap.AvgRequestMs = float64(atomic.LoadUint64(&m.requestDurationTotal)) / float64(requests) / float64(time.Millisecond)
	}
	return snap
}
