package reconcile

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/alanyoungcy/floorsync/internal/domain"
)

func TestNewJobIDIsContentDerived(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 10, 0, time.UTC)

	a, err := newJobAt("token:0xc:1", domain.TriggerNewOrder, nil, now)
	if err != nil {
		t.Fatal(err)
	}
	b, err := newJobAt("token:0xc:1", domain.TriggerNewOrder, nil, now.Add(5*time.Second))
	if err != nil {
		t.Fatal(err)
	}
	if a.ID != b.ID {
		t.Fatalf("same logical recompute produced different ids: %q vs %q", a.ID, b.ID)
	}
	if a.Queue != QueueName {
		t.Fatalf("queue = %q, want %q", a.Queue, QueueName)
	}

	other, err := newJobAt("token:0xc:1", domain.TriggerCancel, nil, now)
	if err != nil {
		t.Fatal(err)
	}
	if other.ID == a.ID {
		t.Fatal("different triggers must not collapse into one job")
	}
}

func TestNewJobBucketSeparatesLaterTriggers(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 10, 0, time.UTC)

	a, err := newJobAt("token:0xc:1", domain.TriggerNewOrder, nil, now)
	if err != nil {
		t.Fatal(err)
	}
	// A new order for the same set after the first job completed must get
	// its own id, or the queue's dedup key silently drops the recompute.
	b, err := newJobAt("token:0xc:1", domain.TriggerNewOrder, nil, now.Add(dedupBucket))
	if err != nil {
		t.Fatal(err)
	}
	if a.ID == b.ID {
		t.Fatal("triggers in different buckets collapsed into one job id")
	}
}

func TestNewJobTxAnchorIsTimeIndependent(t *testing.T) {
	tx := &domain.TxContext{TxHash: "0xaaa", LogIndex: 1}
	now := time.Date(2026, 8, 30, 12, 0, 10, 0, time.UTC)

	a, err := newJobAt("token:0xc:1", domain.TriggerSale, tx, now)
	if err != nil {
		t.Fatal(err)
	}
	b, err := newJobAt("token:0xc:1", domain.TriggerSale, tx, now.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if a.ID != b.ID {
		t.Fatalf("re-delivery of the same on-chain cause produced different ids: %q vs %q", a.ID, b.ID)
	}
}

func TestNewJobTxAnchorSeparatesCauses(t *testing.T) {
	tx1 := &domain.TxContext{TxHash: "0xaaa", LogIndex: 1}
	tx2 := &domain.TxContext{TxHash: "0xaaa", LogIndex: 2}

	a, err := NewJob("token:0xc:1", domain.TriggerSale, tx1)
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewJob("token:0xc:1", domain.TriggerSale, tx2)
	if err != nil {
		t.Fatal(err)
	}
	if a.ID == b.ID {
		t.Fatal("distinct on-chain causes collapsed into one job id")
	}
}

func TestNewJobReorgPriority(t *testing.T) {
	job, err := NewJob("token:0xc:1", domain.TriggerReorg, nil)
	if err != nil {
		t.Fatal(err)
	}
	if job.Priority != 1 {
		t.Fatalf("reorg job priority = %d, want 1", job.Priority)
	}

	normal, err := NewJob("token:0xc:1", domain.TriggerSale, nil)
	if err != nil {
		t.Fatal(err)
	}
	if normal.Priority != 0 {
		t.Fatalf("sale job priority = %d, want 0", normal.Priority)
	}
}

func TestNewJobPayloadRoundTrip(t *testing.T) {
	tx := &domain.TxContext{TxHash: "0xaaa", LogIndex: 3, BlockHash: "0xblock"}
	job, err := NewJob("token:0xc:1", domain.TriggerSale, tx)
	if err != nil {
		t.Fatal(err)
	}

	var p JobPayload
	if err := json.Unmarshal(job.Payload, &p); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if p.TokenSetID != "token:0xc:1" || p.Trigger != domain.TriggerSale {
		t.Fatalf("payload = %+v", p)
	}
	if p.Tx == nil || p.Tx.TxHash != "0xaaa" || p.Tx.LogIndex != 3 {
		t.Fatalf("tx context lost in payload: %+v", p.Tx)
	}
}
