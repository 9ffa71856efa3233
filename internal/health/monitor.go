package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Pinger is the backing-store liveness probe; the queue broker satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// State is a diagnostic snapshot of the breaker.
type State struct {
	Healthy             bool      `json:"healthy"`
	CircuitOpen         bool      `json:"circuit_open"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastFailure         time.Time `json:"last_failure,omitempty"`
	LastSuccess         time.Time `json:"last_success,omitempty"`
}

// Monitor wraps the backing-store probe in a circuit breaker: a run of
// consecutive failures opens the circuit, after which health checks
// short-circuit to unhealthy without touching the backend until the
// cooldown elapses. There is no stored half-open state; the cooldown expiry
// optimistically closes the circuit and the next probe decides for real.
type Monitor struct {
	pinger    Pinger
	log       *zap.Logger
	threshold int
	cooldown  time.Duration
	interval  time.Duration

	mu          sync.Mutex
	open        bool
	openedAt    time.Time
	consecutive int
	lastFailure time.Time
	lastSuccess time.Time
	probeOK     bool
}

func NewMonitor(p Pinger, threshold int, cooldown, interval time.Duration, log *zap.Logger) *Monitor {
	if threshold <= 0 {
		threshold = 5
	}
	return &Monitor{
		pinger:    p,
		log:       log,
		threshold: threshold,
		cooldown:  cooldown,
		interval:  interval,
		probeOK:   true, // optimistic until the first probe
	}
}

// Healthy is the non-probing read used to gate admission.
func (m *Monitor) Healthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.open && time.Since(m.openedAt) < m.cooldown {
		return false
	}
	return m.probeOK
}

// Check runs one probe, honoring the circuit, and reports the resulting
// health.
func (m *Monitor) Check(ctx context.Context) bool {
	m.mu.Lock()
	if m.open {
		if time.Since(m.openedAt) < m.cooldown {
			m.mu.Unlock()
			return false
		}
		// Cooldown over: close optimistically and let this probe decide.
		m.open = false
		m.consecutive = 0
		m.log.Info("circuit cooldown elapsed, probing backend")
	}
	m.mu.Unlock()

	err := m.pinger.Ping(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		m.consecutive++
		m.lastFailure = time.Now()
		m.probeOK = false
		if m.consecutive >= m.threshold && !m.open {
			m.open = true
			m.openedAt = time.Now()
			m.log.Warn("circuit opened",
				zap.Int("consecutive_failures", m.consecutive),
				zap.Duration("cooldown", m.cooldown),
				zap.Error(err))
		} else {
			m.log.Warn("backend probe failed",
				zap.Int("consecutive_failures", m.consecutive),
				zap.Error(err))
		}
		return false
	}
	m.consecutive = 0
	m.lastSuccess = time.Now()
	m.probeOK = true
	return true
}

// Run probes on a fixed interval until ctx is done, keeping the signal
// fresh even when there is no request traffic.
func (m *Monitor) Run(ctx context.Context) {
	m.Check(ctx)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Check(ctx)
		}
	}
}

func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	open := m.open && time.Since(m.openedAt) < m.cooldown
	return State{
		Healthy:             !open && m.probeOK,
		CircuitOpen:         open,
		ConsecutiveFailures: m.consecutive,
		LastFailure:         m.lastFailure,
		LastSuccess:         m.lastSuccess,
	}
}
