package domain

import (
	"context"
	"time"
)

// Job is one unit of queued work. ID must be deterministic and
// content-derived (trigger kind + affected entity + optional time window) so
// the queue can collapse duplicate re-deliveries of logically identical work
// while the id is still inside the dedup window.
type Job struct {
	ID       string
	Queue    string
	Payload  []byte
	Delay    time.Duration
	Priority int // > 0 is served before normal-priority work
	Attempt  int
}

// JobHandler processes one delivered job. Returning an error reschedules the
// job per the queue's backoff policy; a *ThrottledError reschedules at the
// throttle's indicated delay instead.
type JobHandler func(ctx context.Context, job Job) error

// TaskQueue is the durable, at-least-once job transport every asynchronous
// hand-off between pipeline stages goes through.
type TaskQueue interface {
	// Enqueue schedules the job. Enqueueing a job id that is in flight or
	// recently completed is a silent no-op: dedup is the queue's job, not the
	// handler's.
	Enqueue(ctx context.Context, job Job) error
}
