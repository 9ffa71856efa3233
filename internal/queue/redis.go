package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	r "github.com/redis/go-redis/v9"

	"github.com/Krish-Gupta07/Litmus-AI/internal/domain"
)

// Redis key layout:
//
//	litmus:queue:{high,normal,low}  lists of claimable job ids (LPUSH/BRPOP)
//	litmus:job:<id>                 job JSON
//	litmus:delay                    zset id -> run-at unix (retry backoff)
//	litmus:active                   zset id -> lease-expiry unix
//	litmus:completed                zset id -> finished-at unix
//	litmus:failed                   zset id -> finished-at unix
//	litmus:paused                   intake flag
const (
	delayKey     = "litmus:delay"
	activeKey    = "litmus:active"
	completedKey = "litmus:completed"
	failedKey    = "litmus:failed"
	pausedKey    = "litmus:paused"
)

func queueKey(p domain.Priority) string { return "litmus:queue:" + p.String() }
func jobKey(id string) string           { return "litmus:job:" + id }

// claimOrder is the BRPOP key order; BRPOP checks keys left to right, which
// gives strict priority ordering across levels for free.
var claimOrder = []string{
	queueKey(domain.PriorityHigh),
	queueKey(domain.PriorityNormal),
	queueKey(domain.PriorityLow),
}

type RedisBroker struct {
	rdb *r.Client
}

func NewRedis(rdb *r.Client) *RedisBroker { return &RedisBroker{rdb} }

func (b *RedisBroker) save(ctx context.Context, job *domain.Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return errors.Wrap(err, "marshal job")
	}
	return b.rdb.Set(ctx, jobKey(job.ID), raw, 0).Err()
}

func (b *RedisBroker) Enqueue(ctx context.Context, job *domain.Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return errors.Wrap(err, "marshal job")
	}
	pipe := b.rdb.TxPipeline()
	pipe.Set(ctx, jobKey(job.ID), raw, 0)
	pipe.LPush(ctx, queueKey(job.Priority), job.ID)
	_, err = pipe.Exec(ctx)
	return errors.Wrap(err, "enqueue")
}

func (b *RedisBroker) EnqueueDelayed(ctx context.Context, job *domain.Job, runAt time.Time) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return errors.Wrap(err, "marshal job")
	}
	pipe := b.rdb.TxPipeline()
	pipe.Set(ctx, jobKey(job.ID), raw, 0)
	pipe.ZAdd(ctx, delayKey, r.Z{Score: float64(runAt.Unix()), Member: job.ID})
	_, err = pipe.Exec(ctx)
	return errors.Wrap(err, "enqueue delayed")
}

func (b *RedisBroker) Dequeue(ctx context.Context, block, lease time.Duration) (*domain.Job, error) {
	paused, err := b.Paused(ctx)
	if err != nil {
		return nil, err
	}
	if paused {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(block):
			return nil, nil
		}
	}

	res, err := b.rdb.BRPop(ctx, block, claimOrder...).Result()
	if err == r.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "brpop")
	}
	if len(res) != 2 {
		return nil, nil
	}

	job, err := b.Get(ctx, res[1])
	if err != nil || job == nil {
		// The id was popped but its record is gone (cleaned mid-flight).
		return nil, err
	}

	now := time.Now().UTC()
	job.Status = domain.StatusActive
	job.Attempt++
	job.StartedAt = now
	job.FinishedAt = time.Time{}

	raw, err := json.Marshal(job)
	if err != nil {
		return nil, errors.Wrap(err, "marshal job")
	}
	pipe := b.rdb.TxPipeline()
	pipe.Set(ctx, jobKey(job.ID), raw, 0)
	pipe.ZAdd(ctx, activeKey, r.Z{Score: float64(now.Add(lease).Unix()), Member: job.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, errors.Wrap(err, "claim")
	}
	return job, nil
}

func (b *RedisBroker) Complete(ctx context.Context, job *domain.Job) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return errors.Wrap(err, "marshal job")
	}
	pipe := b.rdb.TxPipeline()
	pipe.Set(ctx, jobKey(job.ID), raw, 0)
	pipe.ZRem(ctx, activeKey, job.ID)
	pipe.ZAdd(ctx, completedKey, r.Z{Score: float64(job.FinishedAt.Unix()), Member: job.ID})
	_, err = pipe.Exec(ctx)
	return errors.Wrap(err, "complete")
}

func (b *RedisBroker) Fail(ctx context.Context, job *domain.Job, retryAt time.Time) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return errors.Wrap(err, "marshal job")
	}
	pipe := b.rdb.TxPipeline()
	pipe.Set(ctx, jobKey(job.ID), raw, 0)
	pipe.ZRem(ctx, activeKey, job.ID)
	if retryAt.IsZero() {
		pipe.ZAdd(ctx, failedKey, r.Z{Score: float64(job.FinishedAt.Unix()), Member: job.ID})
	} else {
		pipe.ZAdd(ctx, delayKey, r.Z{Score: float64(retryAt.Unix()), Member: job.ID})
	}
	_, err = pipe.Exec(ctx)
	return errors.Wrap(err, "fail")
}

func (b *RedisBroker) SetProgress(ctx context.Context, id string, progress int) error {
	job, err := b.Get(ctx, id)
	if err != nil || job == nil {
		return err
	}
	if progress > job.Progress {
		job.Progress = progress
	}
	return b.save(ctx, job)
}

func (b *RedisBroker) Get(ctx context.Context, id string) (*domain.Job, error) {
	raw, err := b.rdb.Get(ctx, jobKey(id)).Bytes()
	if err == r.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get job")
	}
	var job domain.Job
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, errors.Wrap(err, "unmarshal job")
	}
	return &job, nil
}

func (b *RedisBroker) Counts(ctx context.Context) (Counts, error) {
	pipe := b.rdb.Pipeline()
	high := pipe.LLen(ctx, queueKey(domain.PriorityHigh))
	normal := pipe.LLen(ctx, queueKey(domain.PriorityNormal))
	low := pipe.LLen(ctx, queueKey(domain.PriorityLow))
	delayed := pipe.ZCard(ctx, delayKey)
	active := pipe.ZCard(ctx, activeKey)
	completed := pipe.ZCard(ctx, completedKey)
	failed := pipe.ZCard(ctx, failedKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return Counts{}, errors.Wrap(err, "counts")
	}
	return Counts{
		Queued:    high.Val() + normal.Val() + low.Val(),
		Delayed:   delayed.Val(),
		Active:    active.Val(),
		Completed: completed.Val(),
		Failed:    failed.Val(),
	}, nil
}

func (b *RedisBroker) MoveDue(ctx context.Context, now time.Time, batch int64) (int, error) {
	ids, err := b.rdb.ZRangeByScore(ctx, delayKey, &r.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%d", now.Unix()), Offset: 0, Count: batch,
	}).Result()
	if err != nil || len(ids) == 0 {
		return 0, errors.Wrap(err, "range due")
	}

	moved := 0
	for _, id := range ids {
		job, err := b.Get(ctx, id)
		if err != nil {
			return moved, err
		}
		if job == nil {
			b.rdb.ZRem(ctx, delayKey, id)
			continue
		}
		job.Status = domain.StatusQueued
		raw, err := json.Marshal(job)
		if err != nil {
			return moved, errors.Wrap(err, "marshal job")
		}
		pipe := b.rdb.TxPipeline()
		pipe.Set(ctx, jobKey(id), raw, 0)
		pipe.LPush(ctx, queueKey(job.Priority), id)
		pipe.ZRem(ctx, delayKey, id)
		if _, err := pipe.Exec(ctx); err != nil {
			return moved, errors.Wrap(err, "move due")
		}
		moved++
	}
	return moved, nil
}

func (b *RedisBroker) RequeueExpired(ctx context.Context, now time.Time) (int, error) {
	ids, err := b.rdb.ZRangeByScore(ctx, activeKey, &r.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%d", now.Unix()),
	}).Result()
	if err != nil || len(ids) == 0 {
		return 0, errors.Wrap(err, "range expired")
	}

	touched := 0
	for _, id := range ids {
		job, err := b.Get(ctx, id)
		if err != nil {
			return touched, err
		}
		if job == nil {
			b.rdb.ZRem(ctx, activeKey, id)
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
			if err := b.Fail(ctx, job, time.Time{}); err != nil {
				return touched, err
			}
		} else {
			job.Status = domain.StatusQueued
			raw, merr := json.Marshal(job)
			if merr != nil {
				return touched, errors.Wrap(merr, "marshal job")
			}
			pipe := b.rdb.TxPipeline()
			pipe.Set(ctx, jobKey(id), raw, 0)
			pipe.ZRem(ctx, activeKey, id)
			pipe.LPush(ctx, queueKey(job.Priority), id)
			if _, err := pipe.Exec(ctx); err != nil {
				return touched, errors.Wrap(err, "requeue expired")
			}
		}
		touched++
	}
	return touched, nil
}

func (b *RedisBroker) Clean(ctx context.Context, retention time.Duration, keepCompleted, keepFailed int) (int, error) {
	removed, err := b.cleanSet(ctx, completedKey, retention, keepCompleted)
	if err != nil {
		return removed, err
	}
	n, err := b.cleanSet(ctx, failedKey, retention, keepFailed)
	return removed + n, err
}

func (b *RedisBroker) cleanSet(ctx context.Context, key string, retention time.Duration, keep int) (int, error) {
	cutoff := fmt.Sprintf("%d", time.Now().Add(-retention).Unix())
	removed := 0

	ids, err := b.rdb.ZRangeByScore(ctx, key, &r.ZRangeBy{Min: "-inf", Max: cutoff}).Result()
	if err != nil {
		return 0, errors.Wrap(err, "range old")
	}
	if len(ids) > 0 {
		pipe := b.rdb.TxPipeline()
		for _, id := range ids {
			pipe.Del(ctx, jobKey(id))
		}
		pipe.ZRemRangeByScore(ctx, key, "-inf", cutoff)
		if _, err := pipe.Exec(ctx); err != nil {
			return 0, errors.Wrap(err, "remove old")
		}
		removed += len(ids)
	}

	// Trim beyond the keep bound, oldest first.
	card, err := b.rdb.ZCard(ctx, key).Result()
	if err != nil {
		return removed, errors.Wrap(err, "card")
	}
	if excess := card - int64(keep); excess > 0 {
		ids, err := b.rdb.ZRange(ctx, key, 0, excess-1).Result()
		if err != nil {
			return removed, errors.Wrap(err, "range excess")
		}
		pipe := b.rdb.TxPipeline()
		for _, id := range ids {
			pipe.Del(ctx, jobKey(id))
		}
		pipe.ZRemRangeByRank(ctx, key, 0, excess-1)
		if _, err := pipe.Exec(ctx); err != nil {
			return removed, errors.Wrap(err, "trim")
		}
		removed += len(ids)
	}
	return removed, nil
}

func (b *RedisBroker) Pause(ctx context.Context) error {
	return b.rdb.Set(ctx, pausedKey, "1", 0).Err()
}

func (b *RedisBroker) Resume(ctx context.Context) error {
	return b.rdb.Del(ctx, pausedKey).Err()
}

func (b *RedisBroker) Paused(ctx context.Context) (bool, error) {
	n, err := b.rdb.Exists(ctx, pausedKey).Result()
	if err != nil {
		return false, errors.Wrap(err, "paused")
	}
	return n > 0, nil
}

func (b *RedisBroker) Ping(ctx context.Context) error {
	return b.rdb.Ping(ctx).Err()
}
