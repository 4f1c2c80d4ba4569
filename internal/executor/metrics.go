package executor

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cyrup-ai/cylo-go/internal/backend"
)

const metricsNamespace = "cylo_executor"

var (
	runsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "runs_total",
		Help:      "Total execution requests handled, per backend.",
	}, []string{"backend"})

	runsSucceeded = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: metricsNamespace,
		Name:      "runs_succeeded_total",
		Help:      "Execution requests that completed with exit code 0, per backend.",
	}, []string{"backend"})

	durationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: metricsNamespace,
		Name:      "run_duration_seconds",
		Help:      "Execution wall-clock duration, per backend.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"backend"})

	peakMemoryBytes = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: metricsNamespace,
		Name:      "peak_memory_bytes",
		Help:      "Monotonic peak observed memory usage, per backend.",
	}, []string{"backend"})
)

func init() {
	prometheus.MustRegister(runsTotal, runsSucceeded, durationSeconds, peakMemoryBytes)
}

// backendStats is the online running aggregate kept per backend, per
// spec.md §4.H "Metrics update": total runs, running means of duration,
// CPU time, and disk bytes read/written, a running success rate, and a
// monotonic peak memory. Process count and the network counters have no
// running mean.
type backendStats struct {
	totalRuns      uint64
	succeeded      uint64
	meanDurationMS float64
	meanCPUTimeMS  float64
	meanDiskRead   float64
	meanDiskWrite  float64
	peakMemory     uint64
}

// Metrics aggregates per-backend execution statistics behind a single
// short critical section per update, per spec.md §5 ("no locks are held
// while awaiting backend work").
type Metrics struct {
	mu    sync.Mutex
	stats map[string]*backendStats
}

func NewMetrics() *Metrics {
	return &Metrics{stats: make(map[string]*backendStats)}
}

// Record folds one completed request into the per-backend aggregate and
// the exported prometheus series.
func (m *Metrics) Record(backendName string, res backend.ExecutionResult) {
	runsTotal.WithLabelValues(backendName).Inc()
	durationSeconds.WithLabelValues(backendName).Observe(res.Duration.Seconds())
	if res.Success() {
		runsSucceeded.WithLabelValues(backendName).Inc()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.stats[backendName]
	if !ok {
		s = &backendStats{}
		m.stats[backendName] = s
	}

	s.totalRuns++
	if res.Success() {
		s.succeeded++
	}

	n := float64(s.totalRuns)
	durMS := float64(res.Duration / time.Millisecond)
	s.meanDurationMS += (durMS - s.meanDurationMS) / n
	s.meanCPUTimeMS += (float64(res.ResourceUsage.CPUTimeMS) - s.meanCPUTimeMS) / n
	s.meanDiskRead += (float64(res.ResourceUsage.DiskBytesRead) - s.meanDiskRead) / n
	s.meanDiskWrite += (float64(res.ResourceUsage.DiskBytesWritten) - s.meanDiskWrite) / n

	if res.ResourceUsage.PeakMemory > s.peakMemory {
		s.peakMemory = res.ResourceUsage.PeakMemory
		peakMemoryBytes.WithLabelValues(backendName).Set(float64(s.peakMemory))
	}
}

// Snapshot is a read-only copy of one backend's aggregate, returned by
// Stats for callers (e.g. a CLI or status endpoint) that must not observe
// a torn update.
type Snapshot struct {
	TotalRuns      uint64
	SuccessRate    float64
	MeanDurationMS float64
	MeanCPUTimeMS  float64
	PeakMemory     uint64
}

// Stats returns a snapshot for backendName, or the zero Snapshot if no
// request has completed for it yet.
func (m *Metrics) Stats(backendName string) Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.stats[backendName]
	if !ok {
		return Snapshot{}
	}

	rate := 0.0
	if s.totalRuns > 0 {
		rate = float64(s.succeeded) / float64(s.totalRuns)
	}

	return Snapshot{
		TotalRuns:      s.totalRuns,
		SuccessRate:    rate,
		MeanDurationMS: s.meanDurationMS,
		MeanCPUTimeMS:  s.meanCPUTimeMS,
		PeakMemory:     s.peakMemory,
	}
}
