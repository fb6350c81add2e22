// Package redis implements the durable task queue on Redis: at-least-once
// delivery, deterministic job-id dedup, delay scheduling via sorted sets,
// two-level priority lists, and a dead-letter list per queue.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	cacheredis "github.com/alanyoungcy/floorsync/internal/cache/redis"
	"github.com/alanyoungcy/floorsync/internal/domain"
)

// promoteLua atomically moves due jobs from the delayed sorted set to the
// ready list. KEYS[1] = delayed zset, KEYS[2] = ready list, ARGV[1] = now.
const promoteLua = `
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 100)
for i, v in ipairs(due) do
    redis.call('LPUSH', KEYS[2], v)
    redis.call('ZREM', KEYS[1], v)
end
return #due
`

// DefaultDedupWindow is how long a job id stays deduplicated after enqueue,
// covering both in-flight execution and a recently-completed grace period.
const DefaultDedupWindow = 5 * time.Minute

// envelope is the wire form of a job on the queue.
type envelope struct {
	ID       string `json:"id"`
	Queue    string `json:"queue"`
	Payload  []byte `json:"payload"`
	Priority int    `json:"priority"`
	Attempt  int    `json:"attempt"`
}

func encodeJob(job domain.Job) ([]byte, error) {
	data, err := json.Marshal(envelope{
		ID:       job.ID,
		Queue:    job.Queue,
		Payload:  job.Payload,
		Priority: job.Priority,
		Attempt:  job.Attempt,
	})
	if err != nil {
		return nil, fmt.Errorf("queue: encode job %s: %w", job.ID, err)
	}
	return data, nil
}

func decodeJob(data []byte) (domain.Job, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return domain.Job{}, fmt.Errorf("queue: decode job: %w", err)
	}
	return domain.Job{
		ID:       env.ID,
		Queue:    env.Queue,
		Payload:  env.Payload,
		Priority: env.Priority,
		Attempt:  env.Attempt,
	}, nil
}

func dedupKey(id string) string        { return "queue:dedup:" + id }
func readyKey(name string) string      { return "queue:" + name + ":ready" }
func highKey(name string) string       { return "queue:" + name + ":high" }
func delayedKey(name string) string    { return "queue:" + name + ":delayed" }
func deadLetterKey(name string) string { return "queue:" + name + ":dead" }

// Queue implements domain.TaskQueue.
type Queue struct {
	rdb         *redis.Client
	promoteSc   *redis.Script
	dedupWindow time.Duration
	logger      *slog.Logger
}

// NewQueue creates a Queue backed by the given Redis client. A non-positive
// dedupWindow falls back to DefaultDedupWindow.
func NewQueue(c *cacheredis.Client, dedupWindow time.Duration, logger *slog.Logger) *Queue {
	if dedupWindow <= 0 {
		dedupWindow = DefaultDedupWindow
	}
	return &Queue{
		rdb:         c.Underlying(),
		promoteSc:   redis.NewScript(promoteLua),
		dedupWindow: dedupWindow,
		logger:      logger.With(slog.String("component", "queue")),
	}
}

// Enqueue schedules a job. First-time enqueues claim the job's dedup key; a
// job id still inside the dedup window is silently dropped. Retries
// (Attempt > 0) bypass dedup because the original claim is still live.
func (q *Queue) Enqueue(ctx context.Context, job domain.Job) error {
	if job.ID == "" || job.Queue == "" {
		return fmt.Errorf("queue: enqueue: job id and queue are required")
	}

	if job.Attempt == 0 {
		ok, err := q.rdb.SetNX(ctx, dedupKey(job.ID), 1, q.dedupWindow).Result()
		if err != nil {
			return fmt.Errorf("queue: dedup claim %s: %w", job.ID, err)
		}
		if !ok {
			q.logger.DebugContext(ctx, "duplicate job collapsed",
				slog.String("job_id", job.ID),
				slog.String("queue", job.Queue),
			)
			return nil
		}
	}

	data, err := encodeJob(job)
	if err != nil {
		return err
	}

	if job.Delay > 0 {
		score := float64(time.Now().Add(job.Delay).UnixMilli())
		if err := q.rdb.ZAdd(ctx, delayedKey(job.Queue), redis.Z{Score: score, Member: data}).Err(); err != nil {
			return fmt.Errorf("queue: schedule delayed %s: %w", job.ID, err)
		}
		return nil
	}

	key := readyKey(job.Queue)
	if job.Priority > 0 {
		key = highKey(job.Queue)
	}
	if err := q.rdb.LPush(ctx, key, data).Err(); err != nil {
		return fmt.Errorf("queue: push %s: %w", job.ID, err)
	}
	return nil
}

// promote moves due delayed jobs onto the ready list.
func (q *Queue) promote(ctx context.Context, name string) (int64, error) {
	now := time.Now().UnixMilli()
	n, err := q.promoteSc.Run(ctx, q.rdb,
		[]string{delayedKey(name), readyKey(name)},
		now,
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("queue: promote %s: %w", name, err)
	}
	return n, nil
}

// Compile-time interface check.
var _ domain.TaskQueue = (*Queue)(nil)
