package queue

import (
	"context"
	"time"

	"github.com/Krish-Gupta07/Litmus-AI/internal/domain"
)

// Counts is a point-in-time census of broker-held jobs per state.
type Counts struct {
	Queued    int64
	Delayed   int64
	Active    int64
	Completed int64
	Failed    int64
}

// Outstanding is the admission-control load figure: everything submitted
// but not yet terminal.
func (c Counts) Outstanding() int64 {
	return c.Queued + c.Delayed + c.Active
}

// Broker is the durable backing store for queue membership. It owns
// priority ordering, delayed delivery, lease expiry, and terminal-job
// retention. Implementations must guarantee at-most-one consumer receives
// any given job from Dequeue.
type Broker interface {
	// Enqueue makes the job immediately claimable at its priority.
	Enqueue(ctx context.Context, job *domain.Job) error

	// EnqueueDelayed parks the job until runAt, then Enqueue semantics.
	// Delivery happens on the next MoveDue pass after runAt.
	EnqueueDelayed(ctx context.Context, job *domain.Job, runAt time.Time) error

	// Dequeue blocks up to block for a claimable job, honoring priority
	// order (high before normal before low, FIFO within a level). The
	// claim carries a lease; a job not resolved before the lease expires
	// is requeued by RequeueExpired. Returns (nil, nil) when no job
	// became available, or while the broker is paused.
	Dequeue(ctx context.Context, block, lease time.Duration) (*domain.Job, error)

	// Complete resolves an active job as terminally completed.
	Complete(ctx context.Context, job *domain.Job) error

	// Fail resolves an active job attempt. A non-zero retryAt schedules
	// another attempt via the delay set; a zero retryAt is terminal.
	Fail(ctx context.Context, job *domain.Job, retryAt time.Time) error

	// SetProgress updates the stored progress for an active job.
	SetProgress(ctx context.Context, id string, progress int) error

	// Get fetches a job by id; (nil, nil) when unknown.
	Get(ctx context.Context, id string) (*domain.Job, error)

	// Counts reports per-state totals.
	Counts(ctx context.Context) (Counts, error)

	// MoveDue promotes delayed jobs whose run time has passed back onto
	// their priority queue, at most batch per call.
	MoveDue(ctx context.Context, now time.Time, batch int64) (int, error)

	// RequeueExpired returns lease-expired active jobs to their queue,
	// failing terminally those with no attempts left. Reports how many
	// jobs were touched.
	RequeueExpired(ctx context.Context, now time.Time) (int, error)

	// Clean removes terminal jobs older than retention and trims each
	// terminal state to its keep bound. Idempotent.
	Clean(ctx context.Context, retention time.Duration, keepCompleted, keepFailed int) (int, error)

	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	Paused(ctx context.Context) (bool, error)

	// Ping is the liveness probe consumed by the health monitor.
	Ping(ctx context.Context) error
}
