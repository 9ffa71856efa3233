package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Krish-Gupta07/Litmus-AI/internal/domain"
)

// MemoryBroker is an in-process Broker with the same contract as the Redis
// implementation. It backs tests and single-node development runs where no
// Redis is available.
type MemoryBroker struct {
	mu     sync.Mutex
	ready  map[domain.Priority][]string // FIFO per priority level
	jobs   map[string]*domain.Job
	delay  map[string]time.Time // id -> run at
	active map[string]time.Time // id -> lease expiry
	done   map[string]time.Time // terminal completed, id -> finished at
	dead   map[string]time.Time // terminal failed
	paused bool
	broken error // injected probe failure, tests only
}

func NewMemory() *MemoryBroker {
	return &MemoryBroker{
		ready:  make(map[domain.Priority][]string),
		jobs:   make(map[string]*domain.Job),
		delay:  make(map[string]time.Time),
		active: make(map[string]time.Time),
		done:   make(map[string]time.Time),
		dead:   make(map[string]time.Time),
	}
}

func (b *MemoryBroker) clone(j *domain.Job) *domain.Job {
	cp := *j
	return &cp
}

func (b *MemoryBroker) Enqueue(ctx context.Context, job *domain.Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.jobs[job.ID] = b.clone(job)
	b.ready[job.Priority] = append(b.ready[job.Priority], job.ID)
	return nil
}

func (b *MemoryBroker) EnqueueDelayed(ctx context.Context, job *domain.Job, runAt time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.jobs[job.ID] = b.clone(job)
	b.delay[job.ID] = runAt
	return nil
}

func (b *MemoryBroker) Dequeue(ctx context.Context, block, lease time.Duration) (*domain.Job, error) {
	deadline := time.Now().Add(block)
	for {
		if job := b.tryClaim(lease); job != nil {
			return job, nil
		}
		if !time.Now().Before(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Millisecond):
		}
	}
}

func (b *MemoryBroker) tryClaim(lease time.Duration) *domain.Job {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.paused {
		return nil
	}
	for _, p := range []domain.Priority{domain.PriorityHigh, domain.PriorityNormal, domain.PriorityLow} {
		ids := b.ready[p]
		if len(ids) == 0 {
			continue
		}
		id := ids[0]
		b.ready[p] = ids[1:]
		job, ok := b.jobs[id]
		if !ok {
			continue
		}
		now := time.Now().UTC()
		job.Status = domain.StatusActive
		job.Attempt++
		job.StartedAt = now
		job.FinishedAt = time.Time{}
		b.active[id] = now.Add(lease)
		return b.clone(job)
	}
	return nil
}

func (b *MemoryBroker) Complete(ctx context.Context, job *domain.Job) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.jobs[job.ID] = b.clone(job)
	delete(b.active, job.ID)
	b.done[job.ID] = job.FinishedAt
	return nil
}

func (b *MemoryBroker) Fail(ctx context.Context, job *domain.Job, retryAt time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.jobs[job.ID] = b.clone(job)
	delete(b.active, job.ID)
	if retryAt.IsZero() {
		b.dead[job.ID] = job.FinishedAt
	} else {
		b.delay[job.ID] = retryAt
	}
	return nil
}

func (b *MemoryBroker) SetProgress(ctx context.Context, id string, progress int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if job, ok := b.jobs[id]; ok && progress > job.Progress {
		job.Progress = progress
	}
	return nil
}

func (b *MemoryBroker) Get(ctx context.Context, id string) (*domain.Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	job, ok := b.jobs[id]
	if !ok {
		return nil, nil
	}
	return b.clone(job), nil
}

func (b *MemoryBroker) Counts(ctx context.Context) (Counts, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var queued int64
	for _, ids := range b.ready {
		queued += int64(len(ids))
	}
	return Counts{
		Queued:    queued,
		Delayed:   int64(len(b.delay)),
		Active:    int64(len(b.active)),
		Completed: int64(len(b.done)),
		Failed:    int64(len(b.dead)),
	}, nil
}

func (b *MemoryBroker) MoveDue(ctx context.Context, now time.Time, batch int64) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	moved := 0
	for id, runAt := range b.delay {
		if int64(moved) >= batch || runAt.After(now) {
			continue
		}
		delete(b.delay, id)
		job, ok := b.jobs[id]
		if !ok {
			continue
		}
		job.Status = domain.StatusQueued
		b.ready[job.Priority] = append(b.ready[job.Priority], id)
		moved++
	}
	return moved, nil
}

func (b *MemoryBroker) RequeueExpired(ctx context.Context, now time.Time) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	touched := 0
	for id, expiry := range b.active {
		if expiry.After(now) {
			continue
		}
		delete(b.active, id)
		job, ok := b.jobs[id]
		if !ok {
			continue
		}
		if job.Attempt >= job.MaxAttempts {
			job.Status = domain.StatusFailed
			job.FinishedAt = now
			if job.Error == "" {
				job.Error = "lease expired"
			}
			if job.Result == nil {
				job.Result = domain.FailureResult(job.Error)
			}
			b.dead[id] = now
		} else {
			job.Status = domain.StatusQueued
			b.ready[job.Priority] = append(b.ready[job.Priority], id)
		}
		touched++
	}
	return touched, nil
}

func (b *MemoryBroker) Clean(ctx context.Context, retention time.Duration, keepCompleted, keepFailed int) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := b.cleanSet(b.done, retention, keepCompleted)
	n += b.cleanSet(b.dead, retention, keepFailed)
	return n, nil
}

func (b *MemoryBroker) cleanSet(set map[string]time.Time, retention time.Duration, keep int) int {
	cutoff := time.Now().Add(-retention)
	removed := 0
	for id, finished := range set {
		if finished.Before(cutoff) {
			delete(set, id)
			delete(b.jobs, id)
			removed++
		}
	}
	if len(set) > keep {
		type entry struct {
			id string
			at time.Time
		}
		all := make([]entry, 0, len(set))
		for id, at := range set {
			all = append(all, entry{id, at})
		}
		sort.Slice(all, func(i, j int) bool { return all[i].at.Before(all[j].at) })
		for _, e := range all[:len(set)-keep] {
			delete(set, e.id)
			delete(b.jobs, e.id)
			removed++
		}
	}
	return removed
}

func (b *MemoryBroker) Pause(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.paused = true
	return nil
}

func (b *MemoryBroker) Resume(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.paused = false
	return nil
}

func (b *MemoryBroker) Paused(ctx context.Context) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.paused, nil
}

func (b *MemoryBroker) Ping(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.broken
}

// BreakPing makes subsequent probes fail with err; nil restores health.
func (b *MemoryBroker) BreakPing(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.broken = err
}
