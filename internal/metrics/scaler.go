package metrics

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const (
	scaleUpUtilization   = 0.8
	scaleDownUtilization = 0.2
	scaleUpStep          = 2
	maxConcurrency       = 10
	minConcurrency       = 1

	highUtilizationAlert = 0.9
)

// Pool is the worker-pool surface the scaler drives.
type Pool interface {
	Concurrency() int
	Resize(n int) error
	Running() bool
	Start()
}

// LoadReader supplies queue utilization; the queue front-end satisfies it.
type LoadReader interface {
	Utilization(ctx context.Context) (float64, error)
}

// HealthReader is the breaker's non-probing health read.
type HealthReader interface {
	Healthy() bool
}

// Decide computes the target concurrency for the observed utilization.
// The step sizes are deliberately small; the pool converges over
// successive evaluations rather than jumping to a computed ideal.
func Decide(current int, utilization float64) int {
	switch {
	case utilization > scaleUpUtilization:
		if current+scaleUpStep > maxConcurrency {
			return maxConcurrency
		}
		return current + scaleUpStep
	case utilization < scaleDownUtilization:
		if current-1 < minConcurrency {
			return minConcurrency
		}
		return current - 1
	default:
		return current
	}
}

// Scaler periodically sizes the worker pool from observed load and keeps a
// monitor loop over health and utilization. Resizes apply to future claims
// only; in-flight jobs always finish at the concurrency they started with.
type Scaler struct {
	pool    Pool
	load    LoadReader
	health  HealthReader
	metrics *Metrics
	log     *zap.Logger

	scaleInterval   time.Duration
	monitorInterval time.Duration
}

func NewScaler(pool Pool, load LoadReader, health HealthReader, m *Metrics, scaleInterval, monitorInterval time.Duration, log *zap.Logger) *Scaler {
	return &Scaler{
		pool:            pool,
		load:            load,
		health:          health,
		metrics:         m,
		log:             log,
		scaleInterval:   scaleInterval,
		monitorInterval: monitorInterval,
	}
}

// Run drives both loops until ctx is done.
func (s *Scaler) Run(ctx context.Context) {
	scale := time.NewTicker(s.scaleInterval)
	monitor := time.NewTicker(s.monitorInterval)
	defer scale.Stop()
	defer monitor.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-scale.C:
			s.evaluate(ctx)
		case <-monitor.C:
			s.observe(ctx)
		}
	}
}

func (s *Scaler) evaluate(ctx context.Context) {
	util, err := s.load.Utilization(ctx)
	if err != nil {
		s.log.Warn("utilization read failed", zap.Error(err))
		return
	}
	current := s.pool.Concurrency()
	target := Decide(current, util)
	if target == current {
		return
	}
	if err := s.pool.Resize(target); err != nil {
		s.log.Error("pool resize failed", zap.Int("target", target), zap.Error(err))
		return
	}
	s.log.Info("scaled worker pool",
		zap.Int("from", current),
		zap.Int("to", target),
		zap.Float64("utilization", util))
}

func (s *Scaler) observe(ctx context.Context) {
	if !s.health.Healthy() {
		s.log.Warn("backend unhealthy")
	}
	util, err := s.load.Utilization(ctx)
	if err == nil && util > highUtilizationAlert {
		s.log.Warn("queue near capacity", zap.Float64("utilization", util))
	}
	if s.metrics.Degraded() {
		last, count := s.metrics.LastError()
		s.log.Warn("failure rate above threshold",
			zap.Float64("failure_rate", s.metrics.FailureRate()),
			zap.Uint64("error_count", count),
			zap.Time("last_error", last))
	}
	if !s.pool.Running() {
		s.log.Warn("worker pool not running, relaunching")
		s.pool.Start()
	}
}
