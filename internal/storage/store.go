package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/Krish-Gupta07/Litmus-AI/internal/domain"
)

// Store is the system-of-record for job metadata and results. The broker
// owns scheduling; this table is what history and owner queries read after
// the broker's retention sweep has forgotten a job.
type Store struct{ db *pgxpool.Pool }

func New(db *pgxpool.Pool) *Store { return &Store{db} }

func (s *Store) InsertJob(ctx context.Context, j *domain.Job) error {
	_, err := s.db.Exec(ctx, `insert into jobs(
id, owner_id, input_kind, payload, priority, attempt, max_attempts, status, progress
) values ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		j.ID, j.OwnerID, string(j.InputKind), j.Payload, int(j.Priority),
		j.Attempt, j.MaxAttempts, string(j.Status), j.Progress,
	)
	return errors.Wrap(err, "insert job")
}

func (s *Store) MarkRunning(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `update jobs
    set status = $2, started_at = coalesce(started_at, now()), attempt = attempt + 1, updated_at = now()
  where id = $1`, id, string(domain.StatusActive))
	return errors.Wrap(err, "mark running")
}

func (s *Store) SaveResult(ctx context.Context, id string, res *domain.Result) error {
	raw, err := json.Marshal(res)
	if err != nil {
		return errors.Wrap(err, "marshal result")
	}
	_, err = s.db.Exec(ctx, `update jobs
    set status = $2, result = $3, progress = 100, finished_at = now(), updated_at = now()
  where id = $1`, id, string(domain.StatusCompleted), raw)
	return errors.Wrap(err, "save result")
}

func (s *Store) MarkFailed(ctx context.Context, id, reason string) error {
	raw, err := json.Marshal(domain.FailureResult(reason))
	if err != nil {
		return errors.Wrap(err, "marshal failure")
	}
	_, err = s.db.Exec(ctx, `update jobs
    set status = $2, error = $3, result = $4, finished_at = now(), updated_at = now()
  where id = $1`, id, string(domain.StatusFailed), reason, raw)
	return errors.Wrap(err, "mark failed")
}

// JobRecord is the persisted view of a job row.
type JobRecord struct {
	ID         string         `json:"id"`
	OwnerID    string         `json:"owner_id"`
	InputKind  string         `json:"input_kind"`
	Payload    string         `json:"payload"`
	Status     string         `json:"status"`
	Progress   int            `json:"progress"`
	Error      *string        `json:"error,omitempty"`
	Result     *domain.Result `json:"result,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}

func (s *Store) GetJob(ctx context.Context, id string) (*JobRecord, error) {
	row := s.db.QueryRow(ctx, `select id, owner_id, input_kind, payload, status, progress,
       error, result, created_at, started_at, finished_at
  from jobs where id = $1`, id)
	rec, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return rec, err
}

func (s *Store) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*JobRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `select id, owner_id, input_kind, payload, status, progress,
       error, result, created_at, started_at, finished_at
  from jobs where owner_id = $1
  order by created_at desc limit $2`, ownerID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list jobs")
	}
	defer rows.Close()

	var out []*JobRecord
	for rows.Next() {
		rec, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, errors.Wrap(rows.Err(), "list jobs")
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*JobRecord, error) {
	var rec JobRecord
	var raw []byte
	err := row.Scan(&rec.ID, &rec.OwnerID, &rec.InputKind, &rec.Payload, &rec.Status,
		&rec.Progress, &rec.Error, &raw, &rec.CreatedAt, &rec.StartedAt, &rec.FinishedAt)
	if err != nil {
		return nil, err
	}
	if len(raw) > 0 {
		rec.Result = &domain.Result{}
		if err := json.Unmarshal(raw, rec.Result); err != nil {
			return nil, errors.Wrap(err, "unmarshal result")
		}
	}
	return &rec, nil
}
