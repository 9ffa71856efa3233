package metrics

import (
	"sync"
	"time"
)

// failureRateAlert is the failure percentage above which the snapshot is
// flagged for the monitor loop.
const failureRateAlert = 10.0

// Metrics accumulates throughput counters for the worker pool. Completion
// callbacks from multiple workers write while the stats surface and the
// auto-scaler read, so everything goes through the mutex.
type Metrics struct {
	mu              sync.Mutex
	processed       uint64
	failed          uint64
	totalProcessing time.Duration
	lastError       time.Time
	errorCount      uint64
}

func New() *Metrics { return &Metrics{} }

func (m *Metrics) RecordSuccess(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processed++
	m.totalProcessing += d
}

func (m *Metrics) RecordFailure(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed++
	m.errorCount++
	m.lastError = time.Now()
	m.totalProcessing += d
}

// Totals reports processed/failed counts and the running average
// processing time across both outcomes.
func (m *Metrics) Totals() (processed, failed uint64, avgProcessing time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := m.processed + m.failed
	avg := time.Duration(0)
	if total > 0 {
		avg = m.totalProcessing / time.Duration(total)
	}
	return m.processed, m.failed, avg
}

// FailureRate is failed over all terminal outcomes, as a percentage.
func (m *Metrics) FailureRate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := m.processed + m.failed
	if total == 0 {
		return 0
	}
	return float64(m.failed) / float64(total) * 100
}

// Degraded reports whether the failure rate is past the alert threshold.
func (m *Metrics) Degraded() bool {
	return m.FailureRate() > failureRateAlert
}

func (m *Metrics) LastError() (time.Time, uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastError, m.errorCount
}
