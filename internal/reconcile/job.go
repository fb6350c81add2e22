package reconcile

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/floorsync/internal/domain"
)

// QueueName is the queue carrying reconciliation jobs.
const QueueName = "reconcile"

// dedupBucket quantizes the ids of jobs without a tx anchor. Without it, a
// trigger firing shortly after an identical job completed would collide with
// the finished id inside the queue's dedup window and be dropped.
const dedupBucket = time.Minute

// JobPayload is the payload of a queued reconciliation job.
type JobPayload struct {
	TokenSetID string             `json:"token_set_id"`
	Trigger    domain.TriggerKind `json:"trigger"`
	Tx         *domain.TxContext  `json:"tx,omitempty"`
}

// NewJob builds a dedupable reconciliation job. The id is content-derived so
// re-deliveries of the same logical recompute collapse inside the queue's
// dedup window; transaction-attributed triggers include the tx anchor so
// distinct on-chain causes never collapse into each other. Triggers without
// an anchor carry a coarse time bucket instead, so fresh work enqueued after
// a completed job gets its own id.
func NewJob(tokenSetID string, trigger domain.TriggerKind, tx *domain.TxContext) (domain.Job, error) {
	return newJobAt(tokenSetID, trigger, tx, time.Now())
}

func newJobAt(tokenSetID string, trigger domain.TriggerKind, tx *domain.TxContext, now time.Time) (domain.Job, error) {
	payload, err := json.Marshal(JobPayload{TokenSetID: tokenSetID, Trigger: trigger, Tx: tx})
	if err != nil {
		return domain.Job{}, fmt.Errorf("reconcile: marshal job for %s: %w", tokenSetID, err)
	}

	id := fmt.Sprintf("reconcile:%s:%s", tokenSetID, trigger)
	if tx != nil && tx.TxHash != "" {
		id = fmt.Sprintf("%s:%s:%d", id, tx.TxHash, tx.LogIndex)
	} else {
		id = fmt.Sprintf("%s:%d", id, now.Unix()/int64(dedupBucket.Seconds()))
	}

	job := domain.Job{
		ID:      id,
		Queue:   QueueName,
		Payload: payload,
	}
	if trigger == domain.TriggerReorg {
		job.Priority = 1
	}
	return job, nil
}
