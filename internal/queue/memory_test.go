package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Krish-Gupta07/Litmus-AI/internal/domain"
)

func newJob(id string, p domain.Priority) *domain.Job {
	return &domain.Job{
		ID:          id,
		OwnerID:     "user-1",
		InputKind:   domain.InputText,
		Payload:     "claim",
		Priority:    p,
		MaxAttempts: 3,
		Status:      domain.StatusQueued,
		CreatedAt:   time.Now().UTC(),
	}
}

// Racing consumers must each claim a distinct job: the broker hands any
// given job to exactly one of them.
func TestMemoryBrokerExclusiveClaims(t *testing.T) {
	ctx := context.Background()
	b := NewMemory()

	const jobs = 50
	for i := 0; i < jobs; i++ {
		if err := b.Enqueue(ctx, newJob(fmt.Sprintf("job-%d", i), domain.PriorityNormal)); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	var mu sync.Mutex
	claimed := make(map[string]int)
	var wg sync.WaitGroup
	for w := 0; w < 10; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, err := b.Dequeue(ctx, 10*time.Millisecond, time.Minute)
				if err != nil {
					t.Errorf("dequeue: %v", err)
					return
				}
				if job == nil {
					return
				}
				mu.Lock()
				claimed[job.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(claimed) != jobs {
		t.Fatalf("claimed %d distinct jobs, want %d", len(claimed), jobs)
	}
	for id, n := range claimed {
		if n != 1 {
			t.Errorf("job %s claimed %d times", id, n)
		}
	}
}

// Dequeue order is strictly by priority regardless of submission order,
// FIFO within a level.
func TestMemoryBrokerPriorityOrdering(t *testing.T) {
	ctx := context.Background()
	b := NewMemory()

	for _, j := range []*domain.Job{
		newJob("low-1", domain.PriorityLow),
		newJob("high-1", domain.PriorityHigh),
		newJob("normal-1", domain.PriorityNormal),
		newJob("low-2", domain.PriorityLow),
		newJob("high-2", domain.PriorityHigh),
	} {
		if err := b.Enqueue(ctx, j); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	want := []string{"high-1", "high-2", "normal-1", "low-1", "low-2"}
	for i, id := range want {
		job, err := b.Dequeue(ctx, 10*time.Millisecond, time.Minute)
		if err != nil {
			t.Fatalf("dequeue %d: %v", i, err)
		}
		if job == nil {
			t.Fatalf("dequeue %d: no job", i)
		}
		if job.ID != id {
			t.Errorf("dequeue %d: got %s, want %s", i, job.ID, id)
		}
	}
}

func TestMemoryBrokerPauseBlocksClaims(t *testing.T) {
	ctx := context.Background()
	b := NewMemory()
	if err := b.Enqueue(ctx, newJob("job-1", domain.PriorityNormal)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	if err := b.Pause(ctx); err != nil {
		t.Fatalf("pause: %v", err)
	}
	job, err := b.Dequeue(ctx, 10*time.Millisecond, time.Minute)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if job != nil {
		t.Fatalf("claimed %s while paused", job.ID)
	}

	if err := b.Resume(ctx); err != nil {
		t.Fatalf("resume: %v", err)
	}
	job, err = b.Dequeue(ctx, 10*time.Millisecond, time.Minute)
	if err != nil {
		t.Fatalf("dequeue: %v", err)
	}
	if job == nil {
		t.Fatal("no job after resume")
	}
}

func TestMemoryBrokerRequeueExpired(t *testing.T) {
	ctx := context.Background()
	b := NewMemory()
	if err := b.Enqueue(ctx, newJob("job-1", domain.PriorityNormal)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	job, err := b.Dequeue(ctx, 10*time.Millisecond, time.Millisecond)
	if err != nil || job == nil {
		t.Fatalf("dequeue: job=%v err=%v", job, err)
	}
	if job.Attempt != 1 {
		t.Fatalf("attempt = %d, want 1", job.Attempt)
	}

	// Lease expired: the stalled job goes back to its queue.
	n, err := b.RequeueExpired(ctx, time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("requeue: %v", err)
	}
	if n != 1 {
		t.Fatalf("requeued %d, want 1", n)
	}
	got, err := b.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.StatusQueued {
		t.Errorf("status = %s, want queued", got.Status)
	}

	// Burn the remaining attempts; exhaustion fails it terminally.
	for i := 0; i < 2; i++ {
		if job, err = b.Dequeue(ctx, 10*time.Millisecond, time.Millisecond); err != nil || job == nil {
			t.Fatalf("dequeue %d: job=%v err=%v", i, job, err)
		}
		if _, err = b.RequeueExpired(ctx, time.Now().Add(time.Second)); err != nil {
			t.Fatalf("requeue %d: %v", i, err)
		}
	}
	got, err = b.Get(ctx, "job-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != domain.StatusFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
	if got.Attempt != got.MaxAttempts {
		t.Errorf("attempt = %d, want %d", got.Attempt, got.MaxAttempts)
	}
	if got.Result == nil || got.Result.Failure == nil {
		t.Error("terminal failure has no failure result")
	}
}

func TestMemoryBrokerMoveDue(t *testing.T) {
	ctx := context.Background()
	b := NewMemory()
	if err := b.EnqueueDelayed(ctx, newJob("job-1", domain.PriorityHigh), time.Now().Add(50*time.Millisecond)); err != nil {
		t.Fatalf("enqueue delayed: %v", err)
	}

	moved, err := b.MoveDue(ctx, time.Now(), 100)
	if err != nil {
		t.Fatalf("move due: %v", err)
	}
	if moved != 0 {
		t.Fatalf("moved %d before due time", moved)
	}

	moved, err = b.MoveDue(ctx, time.Now().Add(time.Second), 100)
	if err != nil {
		t.Fatalf("move due: %v", err)
	}
	if moved != 1 {
		t.Fatalf("moved %d, want 1", moved)
	}
	job, err := b.Dequeue(ctx, 10*time.Millisecond, time.Minute)
	if err != nil || job == nil {
		t.Fatalf("dequeue after move: job=%v err=%v", job, err)
	}
}

// Cleanup is idempotent: a second pass with no new terminal jobs removes
// nothing.
func TestMemoryBrokerCleanIdempotent(t *testing.T) {
	ctx := context.Background()
	b := NewMemory()

	for i := 0; i < 5; i++ {
		j := newJob(fmt.Sprintf("done-%d", i), domain.PriorityNormal)
		if err := b.Enqueue(ctx, j); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		claimed, err := b.Dequeue(ctx, 10*time.Millisecond, time.Minute)
		if err != nil || claimed == nil {
			t.Fatalf("dequeue: job=%v err=%v", claimed, err)
		}
		claimed.Status = domain.StatusCompleted
		claimed.FinishedAt = time.Now().Add(-48 * time.Hour)
		if err := b.Complete(ctx, claimed); err != nil {
			t.Fatalf("complete: %v", err)
		}
	}

	removed, err := b.Clean(ctx, 24*time.Hour, 100, 50)
	if err != nil {
		t.Fatalf("clean: %v", err)
	}
	if removed != 5 {
		t.Fatalf("removed %d, want 5", removed)
	}

	removed, err = b.Clean(ctx, 24*time.Hour, 100, 50)
	if err != nil {
		t.Fatalf("second clean: %v", err)
	}
	if removed != 0 {
		t.Fatalf("second clean removed %d, want 0", removed)
	}
}

// Even fresh terminal jobs are trimmed once a state exceeds its keep bound.
func TestMemoryBrokerCleanKeepBound(t *testing.T) {
	ctx := context.Background()
	b := NewMemory()

	for i := 0; i < 10; i++ {
		j := newJob(fmt.Sprintf("done-%d", i), domain.PriorityNormal)
		if err := b.Enqueue(ctx, j); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
		claimed, err := b.Dequeue(ctx, 10*time.Millisecond, time.Minute)
		if err != nil || claimed == nil {
			t.Fatalf("dequeue: job=%v err=%v", claimed, err)
		}
		claimed.Status = domain.StatusCompleted
		claimed.FinishedAt = time.Now().Add(time.Duration(i) * time.Millisecond)
		if err := b.Complete(ctx, claimed); err != nil {
			t.Fatalf("complete: %v", err)
		}
	}

	removed, err := b.Clean(ctx, 24*time.Hour, 4, 50)
	if err != nil {
		t.Fatalf("clean: %v", err)
	}
	if removed != 6 {
		t.Fatalf("removed %d, want 6", removed)
	}
	counts, err := b.Counts(ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts.Completed != 4 {
		t.Fatalf("completed = %d, want 4", counts.Completed)
	}
}
