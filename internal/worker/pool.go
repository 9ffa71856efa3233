package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Krish-Gupta07/Litmus-AI/internal/analysis"
	"github.com/Krish-Gupta07/Litmus-AI/internal/domain"
	"github.com/Krish-Gupta07/Litmus-AI/internal/metrics"
	"github.com/Krish-Gupta07/Litmus-AI/internal/queue"
)

const (
	claimBlock      = 2 * time.Second
	moveDueBatch    = 200
	drainPoll       = time.Second
	drainBudget     = 30 * time.Second
	maintenanceTick = time.Second
)

// Store is the system-of-record surface the pool writes through. Failures
// here degrade history, never the job itself.
type Store interface {
	MarkRunning(ctx context.Context, id string) error
	SaveResult(ctx context.Context, id string, res *domain.Result) error
	MarkFailed(ctx context.Context, id, reason string) error
}

// Collaborators are the external pipeline steps.
type Collaborators struct {
	Scraper     analysis.Scraper
	Transformer analysis.Transformer
	Retriever   analysis.Retriever
	Generator   analysis.Generator
	Scorer      analysis.Scorer
	Notifier    analysis.Notifier
}

type Options struct {
	Concurrency    int
	MaxConcurrency int
	JobTimeout     time.Duration
	LeaseTTL       time.Duration
	BackoffBase    time.Duration
}

// Pool runs the concurrent claim-execute loops plus the maintenance ticker
// that promotes due retries and reaps expired leases. Concurrency is
// adjustable while running: growing launches new loops, shrinking lets
// excess loops notice and drain out before their next claim.
type Pool struct {
	broker  queue.Broker
	store   Store
	collab  Collaborators
	metrics *metrics.Metrics
	log     *zap.Logger
	opts    Options

	mu      sync.Mutex
	target  int
	running bool
	stopCh  chan struct{}
	runCtx  context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	inFlight atomic.Int32
}

func NewPool(broker queue.Broker, store Store, collab Collaborators, m *metrics.Metrics, opts Options, log *zap.Logger) *Pool {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 2
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 10
	}
	if opts.LeaseTTL <= 0 {
		opts.LeaseTTL = 2 * time.Minute
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 5 * time.Minute
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 2 * time.Second
	}
	return &Pool{
		broker:  broker,
		store:   store,
		collab:  collab,
		metrics: m,
		log:     log,
		opts:    opts,
		target:  opts.Concurrency,
	}
}

// Start launches the claim loops. Execution runs on a context the pool
// owns, not the caller's: a shutdown signal must not abort jobs already
// claimed, so Shutdown cancels it only once the drain budget is spent.
func (p *Pool) Start() {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.runCtx, p.cancel = context.WithCancel(context.Background())
	ctx := p.runCtx
	n := p.target
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			p.loop(ctx, id)
		}(i)
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.maintain(ctx)
	}()
	p.mu.Unlock()

	p.log.Info("worker pool started", zap.Int("concurrency", n))
}

// Running reports whether the claim loops are live.
func (p *Pool) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Pool) Concurrency() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.target
}

// Resize adjusts concurrency for future claims. In-flight jobs finish
// regardless of direction.
func (p *Pool) Resize(n int) error {
	if n < 1 || n > p.opts.MaxConcurrency {
		return errors.Errorf("concurrency must be between 1 and %d, got %d", p.opts.MaxConcurrency, n)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if n == p.target {
		return nil
	}
	prev := p.target
	if p.running && n > p.target {
		ctx := p.runCtx
		for id := p.target; id < n; id++ {
			p.wg.Add(1)
			go func(id int) {
				defer p.wg.Done()
				p.loop(ctx, id)
			}(id)
		}
	}
	p.target = n
	p.log.Info("worker pool resized", zap.Int("from", prev), zap.Int("to", n))
	return nil
}

// Shutdown drains: waits up to 30s (polling every 1s) for in-flight jobs,
// then stops the loops and cancels whatever is still running. Callers pause
// intake first.
func (p *Pool) Shutdown(ctx context.Context) {
	deadline := time.Now().Add(drainBudget)
	for p.inFlight.Load() > 0 && time.Now().Before(deadline) {
		p.log.Info("waiting for active jobs to drain", zap.Int32("in_flight", p.inFlight.Load()))
		select {
		case <-ctx.Done():
			deadline = time.Now()
		case <-time.After(drainPoll):
		}
	}

	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	cancel := p.cancel
	p.mu.Unlock()

	cancel()
	p.wg.Wait()
	p.log.Info("worker pool stopped")
}

func (p *Pool) stopped() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopCh
}

// shouldExit implements scale-down: a loop whose id moved past the target
// drains itself out.
func (p *Pool) shouldExit(id int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.running || id >= p.target
}

func (p *Pool) loop(ctx context.Context, id int) {
	log := p.log.With(zap.Int("worker_id", id))
	log.Debug("worker started")
	stop := p.stopped()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		default:
		}
		if p.shouldExit(id) {
			log.Debug("worker exiting after scale down")
			return
		}

		job, err := p.broker.Dequeue(ctx, claimBlock, p.opts.LeaseTTL)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("dequeue failed", zap.Error(err))
			select {
			case <-stop:
				return
			case <-time.After(claimBlock):
			}
			continue
		}
		if job == nil {
			continue
		}

		p.inFlight.Add(1)
		p.process(ctx, job, log)
		p.inFlight.Add(-1)
	}
}

func (p *Pool) process(ctx context.Context, job *domain.Job, log *zap.Logger) {
	start := time.Now()
	log = log.With(
		zap.String("job_id", job.ID),
		zap.Int("attempt", job.Attempt),
		zap.Int("max_attempts", job.MaxAttempts))
	log.Info("processing job", zap.String("owner", job.OwnerID), zap.String("kind", string(job.InputKind)))

	success, err := p.runPipeline(ctx, job, log)
	elapsed := time.Since(start)

	if err == nil {
		now := time.Now().UTC()
		job.Status = domain.StatusCompleted
		job.Progress = 100
		job.FinishedAt = now
		job.Error = ""
		job.Result = domain.SuccessResult(*success)
		if berr := p.broker.Complete(ctx, job); berr != nil {
			log.Error("completion write failed", zap.Error(berr))
		}
		p.metrics.RecordSuccess(elapsed)
		log.Info("job completed", zap.Duration("took", elapsed))
		p.notify(ctx, job, log)
		return
	}

	job.Error = err.Error()
	if serr := p.store.MarkFailed(ctx, job.ID, job.Error); serr != nil {
		log.Warn("system-of-record failure write failed", zap.Error(serr))
	}

	if job.Attempt < job.MaxAttempts {
		// A retry is pending: the client-visible state is queued again,
		// with the latest error still attached.
		job.Status = domain.StatusQueued
		delay := queue.BackoffDelay(p.opts.BackoffBase, job.Attempt)
		if berr := p.broker.Fail(ctx, job, time.Now().Add(delay)); berr != nil {
			log.Error("retry schedule failed", zap.Error(berr))
		}
		log.Warn("job attempt failed, retrying",
			zap.Duration("retry_in", delay), zap.Error(err))
		return
	}

	job.Status = domain.StatusFailed
	job.FinishedAt = time.Now().UTC()
	job.Result = domain.FailureResult(job.Error)
	if berr := p.broker.Fail(ctx, job, time.Time{}); berr != nil {
		log.Error("failure write failed", zap.Error(berr))
	}
	p.metrics.RecordFailure(elapsed)
	log.Error("job failed permanently", zap.Error(err))
	p.notify(ctx, job, log)
}

// notify delivers terminal results to messaging-channel owners.
// Fire-and-forget: failures are logged only.
func (p *Pool) notify(ctx context.Context, job *domain.Job, log *zap.Logger) {
	if p.collab.Notifier == nil || !domain.IsMessagingOwner(job.OwnerID) {
		return
	}
	if err := p.collab.Notifier.Notify(ctx, job.OwnerID, job.Result); err != nil {
		log.Warn("owner notification failed", zap.Error(err))
	}
}

// maintain promotes due delayed jobs back onto their priority queue and
// requeues expired leases, on the same cadence for both.
func (p *Pool) maintain(ctx context.Context) {
	stop := p.stopped()
	ticker := time.NewTicker(maintenanceTick)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		now := time.Now()
		if _, err := p.broker.MoveDue(ctx, now, moveDueBatch); err != nil && ctx.Err() == nil {
			p.log.Warn("delayed-job promotion failed", zap.Error(err))
		}
		if n, err := p.broker.RequeueExpired(ctx, now); err != nil && ctx.Err() == nil {
			p.log.Warn("lease reaping failed", zap.Error(err))
		} else if n > 0 {
			p.log.Warn("requeued stalled jobs", zap.Int("count", n))
		}
	}
}
