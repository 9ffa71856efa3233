package worker

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/Krish-Gupta07/Litmus-AI/internal/analysis"
	"github.com/Krish-Gupta07/Litmus-AI/internal/domain"
	"github.com/Krish-Gupta07/Litmus-AI/internal/metrics"
	"github.com/Krish-Gupta07/Litmus-AI/internal/queue"
)

type fakeStore struct {
	mu        sync.Mutex
	running   int
	completed int
	failed    int
}

func (s *fakeStore) MarkRunning(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running++
	return nil
}

func (s *fakeStore) SaveResult(ctx context.Context, id string, res *domain.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.completed++
	return nil
}

func (s *fakeStore) MarkFailed(ctx context.Context, id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed++
	return nil
}

type fakeCollab struct {
	mu sync.Mutex

	scrapeBody     string
	scrapeErr      error
	transformErr   error
	transformDelay time.Duration
	retrieveErr    error
	generateErr    error
	score          int
	scoreErr       error

	notified []string
}

func (f *fakeCollab) Scrape(ctx context.Context, url string) (*analysis.ScrapeResult, error) {
	if f.scrapeErr != nil {
		return nil, f.scrapeErr
	}
	return &analysis.ScrapeResult{Title: "page", Body: f.scrapeBody}, nil
}

func (f *fakeCollab) TransformQuery(ctx context.Context, text string) (*analysis.TransformResult, error) {
	if f.transformErr != nil {
		return nil, f.transformErr
	}
	if f.transformDelay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(f.transformDelay):
		}
	}
	return &analysis.TransformResult{
		Topics:               domain.Topics{Entities: []string{"X"}, Claims: []string{text}},
		ReformulatedQuestion: "is it true that " + text + "?",
	}, nil
}

func (f *fakeCollab) RetrieveContext(ctx context.Context, question string) ([]string, error) {
	if f.retrieveErr != nil {
		return nil, f.retrieveErr
	}
	return []string{"evidence one", "evidence two"}, nil
}

func (f *fakeCollab) GenerateAnswer(ctx context.Context, query *analysis.TransformResult, evidence []string) (*analysis.Answer, error) {
	if f.generateErr != nil {
		return nil, f.generateErr
	}
	return &analysis.Answer{Title: "Verdict", Description: "mostly accurate"}, nil
}

func (f *fakeCollab) ScoreQuality(ctx context.Context, description string, query *analysis.TransformResult) (int, error) {
	if f.scoreErr != nil {
		return 0, f.scoreErr
	}
	return f.score, nil
}

func (f *fakeCollab) Notify(ctx context.Context, ownerID string, result *domain.Result) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notified = append(f.notified, ownerID)
	return nil
}

func (f *fakeCollab) notifiedOwners() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.notified...)
}

func collaborators(f *fakeCollab) Collaborators {
	return Collaborators{
		Scraper:     f,
		Transformer: f,
		Retriever:   f,
		Generator:   f,
		Scorer:      f,
		Notifier:    f,
	}
}

func testPool(b queue.Broker, store Store, collab Collaborators, m *metrics.Metrics, concurrency int) *Pool {
	return NewPool(b, store, collab, m, Options{
		Concurrency:    concurrency,
		MaxConcurrency: 10,
		JobTimeout:     time.Minute,
		LeaseTTL:       time.Minute,
		BackoffBase:    time.Millisecond,
	}, zap.NewNop())
}

// waitFor polls cond, promoting due retries on every pass so backoff
// delays resolve quickly.
func waitFor(t *testing.T, b queue.Broker, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := b.MoveDue(context.Background(), time.Now().Add(time.Hour), 100); err != nil {
			t.Fatalf("move due: %v", err)
		}
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func submit(t *testing.T, q *queue.Queue, req queue.SubmitRequest) string {
	t.Helper()
	id, err := q.Submit(context.Background(), req)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return id
}

func newQueue(b queue.Broker, m *metrics.Metrics) *queue.Queue {
	return queue.New(b, nil, nil, m, queue.Options{
		MaxQueueSize: 100,
		MaxAttempts:  3,
	}, zap.NewNop())
}

// A messaging-channel submission runs the whole pipeline to completion,
// carries a scored result, and notifies its owner.
func TestPoolCompletesMessagingJob(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := queue.NewMemory()
	store := &fakeStore{}
	collab := &fakeCollab{score: 87}
	m := metrics.New()
	q := newQueue(b, m)
	pool := testPool(b, store, collaborators(collab), m, 1)
	pool.Start()
	defer pool.Shutdown(ctx)

	id := submit(t, q, queue.SubmitRequest{
		OwnerID:   "+15551234567",
		InputKind: domain.InputText,
		Payload:   "claim X",
	})

	var job *domain.Job
	waitFor(t, b, func() bool {
		var err error
		job, err = b.Get(ctx, id)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		return job != nil && job.Status == domain.StatusCompleted
	})

	if job.Priority != domain.PriorityHigh {
		t.Errorf("priority = %s, want high for messaging owner", job.Priority)
	}
	if job.Progress != 100 {
		t.Errorf("progress = %d, want 100", job.Progress)
	}
	if job.Result == nil || job.Result.Success == nil {
		t.Fatal("completed job has no success result")
	}
	if job.Result.Success.Title == "" {
		t.Error("result has no title")
	}
	if s := job.Result.Success.CredibilityScore; s < 0 || s > 100 {
		t.Errorf("credibility score = %d, want 0-100", s)
	}
	if owners := collab.notifiedOwners(); len(owners) != 1 || owners[0] != "+15551234567" {
		t.Errorf("notified = %v, want the messaging owner exactly once", owners)
	}

	processed, failed, _ := m.Totals()
	if processed != 1 || failed != 0 {
		t.Errorf("metrics = %d/%d, want 1/0", processed, failed)
	}
}

// An always-failing scrape burns through every attempt, then the job is
// permanently failed with the scrape error visible.
func TestPoolRetryExhaustion(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := queue.NewMemory()
	store := &fakeStore{}
	collab := &fakeCollab{scrapeBody: ""} // scrape succeeds but yields no content
	m := metrics.New()
	q := newQueue(b, m)
	pool := testPool(b, store, collaborators(collab), m, 1)
	pool.Start()
	defer pool.Shutdown(ctx)

	id := submit(t, q, queue.SubmitRequest{
		OwnerID:   "user-1",
		InputKind: domain.InputURL,
		Payload:   "https://example.com/article",
	})

	var job *domain.Job
	waitFor(t, b, func() bool {
		var err error
		job, err = b.Get(ctx, id)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		return job != nil && job.Status == domain.StatusFailed && job.Result != nil
	})

	if job.Attempt != job.MaxAttempts {
		t.Errorf("attempt = %d, want %d", job.Attempt, job.MaxAttempts)
	}
	if !strings.Contains(job.Error, "scrape") {
		t.Errorf("error = %q, want a scrape failure", job.Error)
	}
	if job.Result.Failure == nil {
		t.Error("failed job has no failure result")
	}

	store.mu.Lock()
	failed := store.failed
	store.mu.Unlock()
	if failed != job.MaxAttempts {
		t.Errorf("system-of-record failure writes = %d, want one per attempt (%d)", failed, job.MaxAttempts)
	}
	_, mfailed, _ := m.Totals()
	if mfailed != 1 {
		t.Errorf("metrics failed = %d, want 1 terminal failure", mfailed)
	}
}

// Best-effort stages degrade without failing the job.
func TestPoolBestEffortStagesDegrade(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := queue.NewMemory()
	collab := &fakeCollab{
		retrieveErr: errors.New("vector store down"),
		scoreErr:    errors.New("scorer down"),
	}
	m := metrics.New()
	q := newQueue(b, m)
	pool := testPool(b, &fakeStore{}, collaborators(collab), m, 1)
	pool.Start()
	defer pool.Shutdown(ctx)

	id := submit(t, q, queue.SubmitRequest{
		OwnerID:   "user-1",
		InputKind: domain.InputText,
		Payload:   "claim",
	})

	var job *domain.Job
	waitFor(t, b, func() bool {
		var err error
		job, err = b.Get(ctx, id)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		return job != nil && job.Status == domain.StatusCompleted
	})

	if job.Attempt != 1 {
		t.Errorf("attempt = %d, best-effort failures must not trigger retries", job.Attempt)
	}
	if job.Result.Success.CredibilityScore != 0 {
		t.Errorf("score = %d, want default 0 when scoring degrades", job.Result.Success.CredibilityScore)
	}
}

func TestPoolDoesNotNotifyRegularOwners(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := queue.NewMemory()
	collab := &fakeCollab{score: 50}
	q := newQueue(b, nil)
	pool := testPool(b, &fakeStore{}, collaborators(collab), metrics.New(), 1)
	pool.Start()
	defer pool.Shutdown(ctx)

	id := submit(t, q, queue.SubmitRequest{OwnerID: "user-1", InputKind: domain.InputText, Payload: "claim"})
	waitFor(t, b, func() bool {
		job, err := b.Get(ctx, id)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		return job != nil && job.Status == domain.StatusCompleted
	})

	if owners := collab.notifiedOwners(); len(owners) != 0 {
		t.Errorf("notified = %v, want none for non-messaging owners", owners)
	}
}

func TestPoolResize(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := queue.NewMemory()
	pool := testPool(b, &fakeStore{}, collaborators(&fakeCollab{}), metrics.New(), 2)
	pool.Start()
	defer pool.Shutdown(ctx)

	if got := pool.Concurrency(); got != 2 {
		t.Fatalf("concurrency = %d, want 2", got)
	}
	if err := pool.Resize(5); err != nil {
		t.Fatalf("resize up: %v", err)
	}
	if got := pool.Concurrency(); got != 5 {
		t.Errorf("concurrency = %d, want 5", got)
	}
	if err := pool.Resize(1); err != nil {
		t.Fatalf("resize down: %v", err)
	}
	if got := pool.Concurrency(); got != 1 {
		t.Errorf("concurrency = %d, want 1", got)
	}

	if err := pool.Resize(0); err == nil {
		t.Error("Resize(0) should be rejected")
	}
	if err := pool.Resize(11); err == nil {
		t.Error("Resize(11) should be rejected")
	}
}

// Shutdown must let a claimed job run to completion inside the drain
// window. The pool owns its execution context, so the termination signal
// that triggered the shutdown cannot abort the job mid-pipeline.
func TestPoolShutdownDrainsActiveJobs(t *testing.T) {
	b := queue.NewMemory()
	collab := &fakeCollab{score: 50, transformDelay: 200 * time.Millisecond}
	q := newQueue(b, nil)
	pool := testPool(b, &fakeStore{}, collaborators(collab), metrics.New(), 1)
	pool.Start()

	id := submit(t, q, queue.SubmitRequest{OwnerID: "user-1", InputKind: domain.InputText, Payload: "claim"})

	waitFor(t, b, func() bool {
		job, err := b.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		return job != nil && job.Status == domain.StatusActive
	})

	pool.Shutdown(context.Background())

	job, err := b.Get(context.Background(), id)
	if err != nil || job == nil {
		t.Fatalf("get after shutdown: job=%v err=%v", job, err)
	}
	if job.Status != domain.StatusCompleted {
		t.Fatalf("status = %s after drain, want completed (error=%q)", job.Status, job.Error)
	}
	if job.Attempt != 1 {
		t.Errorf("attempt = %d, want 1; shutdown must not burn attempts", job.Attempt)
	}
}

func TestPoolShutdownStopsClaims(t *testing.T) {
	ctx := context.Background()
	b := queue.NewMemory()
	pool := testPool(b, &fakeStore{}, collaborators(&fakeCollab{}), metrics.New(), 2)
	pool.Start()

	if !pool.Running() {
		t.Fatal("pool not running after Start")
	}
	pool.Shutdown(ctx)
	if pool.Running() {
		t.Fatal("pool still running after Shutdown")
	}
}
