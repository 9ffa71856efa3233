package queue

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Krish-Gupta07/Litmus-AI/internal/domain"
)

const (
	// Retention policy for terminal jobs, after the upstream queue's
	// removeOnComplete/removeOnFail bounds.
	retentionWindow = 24 * time.Hour
	keepCompleted   = 100
	keepFailed      = 50

	historySize = 100
)

// HealthChecker gates admission; the circuit-breaker monitor satisfies it.
type HealthChecker interface {
	Healthy() bool
}

// Recorder is the system-of-record write the queue performs at submission.
type Recorder interface {
	InsertJob(ctx context.Context, job *domain.Job) error
}

// Options carries the admission and retry policy knobs.
type Options struct {
	MaxQueueSize int
	MaxAttempts  int
}

// Queue is the admission and scheduling front-end: it validates capacity
// and backend health, assigns priority, and hands jobs to the broker.
// Execution is entirely the worker pool's business.
type Queue struct {
	broker  Broker
	health  HealthChecker
	record  Recorder
	log     *zap.Logger
	opts    Options
	metrics Stats

	mu      sync.Mutex
	history []int64

	// admitMu serializes the capacity check with the enqueue so concurrent
	// submits through this front-end cannot overshoot MaxQueueSize.
	admitMu sync.Mutex
}

// Stats is the read hook into the metrics aggregator; nil-safe so the
// snapshot degrades to bare counts when metrics are unavailable.
type Stats interface {
	Totals() (processed, failed uint64, avgProcessing time.Duration)
}

func New(broker Broker, health HealthChecker, record Recorder, m Stats, opts Options, log *zap.Logger) *Queue {
	if opts.MaxQueueSize <= 0 {
		opts.MaxQueueSize = 1000
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	return &Queue{
		broker:  broker,
		health:  health,
		record:  record,
		log:     log,
		opts:    opts,
		metrics: m,
	}
}

// SubmitRequest is one unit of work offered for admission.
type SubmitRequest struct {
	OwnerID   string
	InputKind domain.InputKind
	Payload   string

	// Optional overrides.
	Priority    *domain.Priority
	MaxAttempts int
	Delay       time.Duration
}

// Submit admits a job and returns its id. It fails fast with
// domain.ErrBackendUnavailable while the health circuit is open and with
// *domain.QueueFullError at capacity; it never blocks on execution.
func (q *Queue) Submit(ctx context.Context, req SubmitRequest) (string, error) {
	if q.health != nil && !q.health.Healthy() {
		return "", domain.ErrBackendUnavailable
	}

	q.admitMu.Lock()
	counts, err := q.broker.Counts(ctx)
	if err != nil {
		q.admitMu.Unlock()
		return "", err
	}
	outstanding := counts.Outstanding()
	if outstanding >= int64(q.opts.MaxQueueSize) {
		q.admitMu.Unlock()
		return "", &domain.QueueFullError{Outstanding: int(outstanding), Max: q.opts.MaxQueueSize}
	}

	job := &domain.Job{
		ID:          uuid.NewString(),
		OwnerID:     req.OwnerID,
		InputKind:   req.InputKind,
		Payload:     req.Payload,
		Priority:    q.assignPriority(req),
		MaxAttempts: q.opts.MaxAttempts,
		Status:      domain.StatusQueued,
		CreatedAt:   time.Now().UTC(),
	}
	if req.MaxAttempts > 0 {
		job.MaxAttempts = req.MaxAttempts
	}

	if req.Delay > 0 {
		err = q.broker.EnqueueDelayed(ctx, job, job.CreatedAt.Add(req.Delay))
	} else {
		err = q.broker.Enqueue(ctx, job)
	}
	q.admitMu.Unlock()
	if err != nil {
		return "", err
	}

	if q.record != nil {
		if rerr := q.record.InsertJob(ctx, job); rerr != nil {
			// The broker copy is authoritative for scheduling; a record
			// miss only degrades history queries.
			q.log.Warn("system-of-record insert failed",
				zap.String("job_id", job.ID), zap.Error(rerr))
		}
	}

	q.recordDepth(outstanding + 1)
	q.log.Info("job queued",
		zap.String("job_id", job.ID),
		zap.String("owner", job.OwnerID),
		zap.String("kind", string(job.InputKind)),
		zap.String("priority", job.Priority.String()))
	return job.ID, nil
}

// assignPriority is a latency heuristic, not a guarantee: messaging-channel
// owners first, url lookups next, raw text last. Ties inside a level stay
// FIFO at the broker.
func (q *Queue) assignPriority(req SubmitRequest) domain.Priority {
	if req.Priority != nil {
		return *req.Priority
	}
	if domain.IsMessagingOwner(req.OwnerID) {
		return domain.PriorityHigh
	}
	if req.InputKind == domain.InputURL {
		return domain.PriorityNormal
	}
	return domain.PriorityLow
}

// BackoffDelay is the exponential retry delay after the given attempt
// number (1-based): base, 2*base, 4*base, ... The worker pool schedules
// retries with it.
func BackoffDelay(base time.Duration, attempt int) time.Duration {
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

func (q *Queue) recordDepth(depth int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.history = append(q.history, depth)
	if len(q.history) > historySize {
		q.history = q.history[len(q.history)-historySize:]
	}
}

// StatusView is the client-facing read of a single job.
type StatusView struct {
	JobID       string         `json:"job_id"`
	State       domain.Status  `json:"state"`
	Progress    int            `json:"progress"`
	CurrentStep string         `json:"current_step"`
	Attempt     int            `json:"attempt"`
	MaxAttempts int            `json:"max_attempts"`
	Result      *domain.Result `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	FinishedAt  *time.Time     `json:"finished_at,omitempty"`
	DurationMS  int64          `json:"duration_ms"`
}

// Status reports the current view of one job, well-formed even mid-retry.
func (q *Queue) Status(ctx context.Context, id string) (*StatusView, error) {
	job, err := q.broker.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, domain.ErrNotFound
	}
	v := &StatusView{
		JobID:       job.ID,
		State:       job.Status,
		Progress:    job.Progress,
		CurrentStep: currentStep(job.Status, job.Progress),
		Attempt:     job.Attempt,
		MaxAttempts: job.MaxAttempts,
		Result:      job.Result,
		Error:       job.Error,
		CreatedAt:   job.CreatedAt,
		DurationMS:  job.Duration().Milliseconds(),
	}
	if !job.StartedAt.IsZero() {
		t := job.StartedAt
		v.StartedAt = &t
	}
	if !job.FinishedAt.IsZero() {
		t := job.FinishedAt
		v.FinishedAt = &t
	}
	return v, nil
}

func currentStep(state domain.Status, progress int) string {
	switch state {
	case domain.StatusQueued:
		return "Waiting in queue"
	case domain.StatusActive:
		switch {
		case progress < 20:
			return "Initializing job"
		case progress < 40:
			return "Scraping content"
		case progress < 60:
			return "Transforming query"
		case progress < 80:
			return "Generating answer"
		default:
			return "Finalizing results"
		}
	case domain.StatusCompleted:
		return "Completed"
	case domain.StatusFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Snapshot is the aggregate queue view served by the stats endpoint.
type Snapshot struct {
	Queued      int64   `json:"queued"`
	Delayed     int64   `json:"delayed"`
	Active      int64   `json:"active"`
	Completed   int64   `json:"completed"`
	Failed      int64   `json:"failed"`
	Total       int64   `json:"total"`
	Utilization float64 `json:"utilization"`
	Paused      bool    `json:"paused"`

	Processed       uint64  `json:"processed"`
	FailedTotal     uint64  `json:"failed_total"`
	FailureRate     float64 `json:"failure_rate"`
	AvgProcessingMS int64   `json:"avg_processing_ms"`

	History []int64 `json:"depth_history"`
}

// Snapshot aggregates broker counts with accumulated metrics. Metrics being
// unavailable degrades to counts only; it never fails the call.
func (q *Queue) Snapshot(ctx context.Context) (*Snapshot, error) {
	counts, err := q.broker.Counts(ctx)
	if err != nil {
		return nil, err
	}
	paused, err := q.broker.Paused(ctx)
	if err != nil {
		return nil, err
	}

	s := &Snapshot{
		Queued:      counts.Queued,
		Delayed:     counts.Delayed,
		Active:      counts.Active,
		Completed:   counts.Completed,
		Failed:      counts.Failed,
		Total:       counts.Queued + counts.Delayed + counts.Active + counts.Completed + counts.Failed,
		Utilization: float64(counts.Outstanding()) / float64(q.opts.MaxQueueSize),
		Paused:      paused,
	}

	if q.metrics != nil {
		processed, failed, avg := q.metrics.Totals()
		s.Processed = processed
		s.FailedTotal = failed
		if processed+failed > 0 {
			s.FailureRate = float64(failed) / float64(processed+failed) * 100
		}
		s.AvgProcessingMS = avg.Milliseconds()
	}

	q.mu.Lock()
	s.History = append([]int64(nil), q.history...)
	q.mu.Unlock()
	return s, nil
}

// Utilization is outstanding work over capacity, consumed by the
// auto-scaler.
func (q *Queue) Utilization(ctx context.Context) (float64, error) {
	counts, err := q.broker.Counts(ctx)
	if err != nil {
		return 0, err
	}
	return float64(counts.Outstanding()) / float64(q.opts.MaxQueueSize), nil
}

// CleanOldJobs sweeps terminal jobs past retention and trims each terminal
// state to its keep bound. Safe to call repeatedly.
func (q *Queue) CleanOldJobs(ctx context.Context) (int, error) {
	removed, err := q.broker.Clean(ctx, retentionWindow, keepCompleted, keepFailed)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		q.log.Info("cleaned old jobs", zap.Int("removed", removed))
	}
	return removed, nil
}

// Pause stops the broker from handing out jobs; queued jobs persist and
// active jobs run to completion.
func (q *Queue) Pause(ctx context.Context) error {
	if err := q.broker.Pause(ctx); err != nil {
		return err
	}
	q.log.Info("queue paused")
	return nil
}

func (q *Queue) Resume(ctx context.Context) error {
	if err := q.broker.Resume(ctx); err != nil {
		return err
	}
	q.log.Info("queue resumed")
	return nil
}
