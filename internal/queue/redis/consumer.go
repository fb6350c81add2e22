package redis

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/floorsync/internal/domain"
)

const (
	// popTimeout bounds each blocking pop so workers notice ctx cancellation.
	popTimeout = time.Second

	// promoteInterval is how often due delayed jobs are moved to ready.
	promoteInterval = 250 * time.Millisecond
)

// ConsumerConfig controls one named queue consumer.
type ConsumerConfig struct {
	Queue       string
	Concurrency int
	MaxAttempts int
	BackoffBase time.Duration
}

// Consumer pulls jobs from one named queue with a bounded worker pool.
// Delivery is at-least-once: a handler error reschedules the job with
// exponential backoff until MaxAttempts, after which it is moved to the
// queue's dead-letter list for manual or scheduled bulk retry.
type Consumer struct {
	q       *Queue
	cfg     ConsumerConfig
	handler domain.JobHandler
	logger  *slog.Logger
}

// NewConsumer creates a Consumer for the given queue and handler.
func NewConsumer(q *Queue, cfg ConsumerConfig, handler domain.JobHandler) *Consumer {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	return &Consumer{
		q:       q,
		cfg:     cfg,
		handler: handler,
		logger: q.logger.With(
			slog.String("queue", cfg.Queue),
		),
	}
}

// Run blocks until ctx is cancelled, operating one promoter goroutine and
// cfg.Concurrency worker goroutines.
func (c *Consumer) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return c.promoteLoop(ctx) })
	for i := 0; i < c.cfg.Concurrency; i++ {
		g.Go(func() error { return c.workLoop(ctx) })
	}

	return g.Wait()
}

func (c *Consumer) promoteLoop(ctx context.Context) error {
	ticker := time.NewTicker(promoteInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := c.q.promote(ctx, c.cfg.Queue); err != nil && ctx.Err() == nil {
				c.logger.WarnContext(ctx, "promote failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (c *Consumer) workLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// BRPOP serves the high-priority list before the ready list.
		res, err := c.q.rdb.BRPop(ctx, popTimeout,
			highKey(c.cfg.Queue), readyKey(c.cfg.Queue),
		).Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.WarnContext(ctx, "pop failed", slog.String("error", err.Error()))
			time.Sleep(popTimeout)
			continue
		}
		if len(res) < 2 {
			continue
		}

		job, err := decodeJob([]byte(res[1]))
		if err != nil {
			// Malformed payloads go straight to the dead-letter list.
			c.logger.ErrorContext(ctx, "undecodable job", slog.String("error", err.Error()))
			_ = c.q.rdb.LPush(ctx, deadLetterKey(c.cfg.Queue), res[1]).Err()
			continue
		}

		c.execute(ctx, job)
	}
}

// execute runs the handler for one delivery and applies the retry policy.
func (c *Consumer) execute(ctx context.Context, job domain.Job) {
	err := c.handler(ctx, job)
	if err == nil {
		return
	}
	if ctx.Err() != nil {
		// A shutdown mid-job counts as a failed delivery; requeue without
		// burning an attempt.
		c.requeue(job, 0)
		return
	}

	c.logger.WarnContext(ctx, "job failed",
		slog.String("job_id", job.ID),
		slog.Int("attempt", job.Attempt+1),
		slog.String("error", err.Error()),
	)

	job.Attempt++

	// Throttling reschedules at the endpoint's indicated delay, not ours.
	if te, ok := domain.AsThrottled(err); ok {
		c.requeue(job, te.RetryIn)
		return
	}

	if job.Attempt >= c.cfg.MaxAttempts {
		c.deadLetter(job)
		return
	}
	c.requeue(job, RetryDelay(c.cfg.BackoffBase, job.Attempt))
}

func (c *Consumer) requeue(job domain.Job, delay time.Duration) {
	job.Delay = delay
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.q.Enqueue(ctx, job); err != nil {
		c.logger.Error("requeue failed",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (c *Consumer) deadLetter(job domain.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	data, err := encodeJob(job)
	if err != nil {
		c.logger.Error("dead-letter encode failed", slog.String("job_id", job.ID))
		return
	}
	if err := c.q.rdb.LPush(ctx, deadLetterKey(c.cfg.Queue), data).Err(); err != nil {
		c.logger.Error("dead-letter push failed",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	c.logger.Error("job moved to dead-letter",
		slog.String("job_id", job.ID),
		slog.Int("attempts", job.Attempt),
	)
}

// RetryDelay returns the exponential backoff delay for the given attempt
// number (1-based): base, 2*base, 4*base, ... capped at 10 minutes.
func RetryDelay(base time.Duration, attempt int) time.Duration {
	const maxDelay = 10 * time.Minute
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= maxDelay {
			return maxDelay
		}
	}
	if d > maxDelay {
		return maxDelay
	}
	return d
}
