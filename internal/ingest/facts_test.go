package ingest

import (
	"context"
	"testing"

	"github.com/alanyoungcy/floorsync/internal/domain"
)

func activeOrder(id, tokenSetID string, kind domain.OrderKind, maker string, nonce uint64) domain.Order {
	return domain.Order{
		ID: id, Kind: kind, Side: domain.SideSell,
		Fillability: domain.FillabilityFillable, Approval: domain.ApprovalApproved,
		TokenSetID: tokenSetID, Maker: maker, Nonce: nonce,
		QuantityRemaining: 1,
	}
}

func TestApplyFactsFill(t *testing.T) {
	env := newTestEnv(Config{})
	env.orders.orders["0xo1"] = activeOrder("0xo1", "token:0xc:1", domain.OrderKindSeaport, "0xmaker", 0)

	facts := &domain.OnChainFacts{}
	facts.AddFill(domain.Fill{
		OrderID: "0xo1", Kind: domain.OrderKindSeaport, Amount: 1,
		Tx: domain.TxContext{TxHash: "0xt1", LogIndex: 0},
	})

	if err := env.svc.ApplyFacts(context.Background(), facts); err != nil {
		t.Fatalf("ApplyFacts: %v", err)
	}
	if env.orders.orders["0xo1"].Fillability != domain.FillabilityFilled {
		t.Fatalf("order status = %s, want filled", env.orders.orders["0xo1"].Fillability)
	}

	triggers := env.queue.triggers(t)
	if len(triggers) != 1 || triggers[0] != domain.TriggerSale {
		t.Fatalf("triggers = %v, want one sale", triggers)
	}
}

func TestApplyFactsRedeliveryIsIdempotent(t *testing.T) {
	env := newTestEnv(Config{})
	env.orders.orders["0xo1"] = activeOrder("0xo1", "token:0xc:1", domain.OrderKindSeaport, "0xmaker", 0)

	facts := &domain.OnChainFacts{}
	facts.AddFill(domain.Fill{
		OrderID: "0xo1", Kind: domain.OrderKindSeaport, Amount: 1,
		Tx: domain.TxContext{TxHash: "0xt1", LogIndex: 0},
	})

	if err := env.svc.ApplyFacts(context.Background(), facts); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	// Same block redelivered: the fact log already holds (tx, log index), so
	// nothing transitions and nothing is enqueued.
	if err := env.svc.ApplyFacts(context.Background(), facts); err != nil {
		t.Fatalf("second delivery: %v", err)
	}
	if len(env.queue.jobs) != 1 {
		t.Fatalf("jobs after redelivery = %d, want 1", len(env.queue.jobs))
	}
}

func TestApplyFactsUntrackedOrderIsSkipped(t *testing.T) {
	env := newTestEnv(Config{})

	facts := &domain.OnChainFacts{}
	facts.AddFill(domain.Fill{
		OrderID: "0xunknown", Kind: domain.OrderKindSeaport, Amount: 1,
		Tx: domain.TxContext{TxHash: "0xt1", LogIndex: 0},
	})
	facts.AddCancel(domain.Cancel{
		OrderID: "0xunknown2", Kind: domain.OrderKindSeaport,
		Tx: domain.TxContext{TxHash: "0xt1", LogIndex: 1},
	})

	if err := env.svc.ApplyFacts(context.Background(), facts); err != nil {
		t.Fatalf("untracked orders must not fail the batch: %v", err)
	}
	if len(env.queue.jobs) != 0 {
		t.Fatalf("untracked facts enqueued %d jobs", len(env.queue.jobs))
	}
}

func TestApplyFactsCancel(t *testing.T) {
	env := newTestEnv(Config{})
	env.orders.orders["0xo1"] = activeOrder("0xo1", "token:0xc:1", domain.OrderKindSeaport, "0xmaker", 0)

	facts := &domain.OnChainFacts{}
	facts.AddCancel(domain.Cancel{
		OrderID: "0xo1", Kind: domain.OrderKindSeaport,
		Tx: domain.TxContext{TxHash: "0xt2", LogIndex: 0},
	})

	if err := env.svc.ApplyFacts(context.Background(), facts); err != nil {
		t.Fatalf("ApplyFacts: %v", err)
	}
	if env.orders.orders["0xo1"].Fillability != domain.FillabilityCancelled {
		t.Fatal("order not cancelled")
	}

	triggers := env.queue.triggers(t)
	if len(triggers) != 1 || triggers[0] != domain.TriggerCancel {
		t.Fatalf("triggers = %v, want one cancel", triggers)
	}
}

func TestApplyFactsBulkCancel(t *testing.T) {
	env := newTestEnv(Config{})
	env.orders.orders["0xo1"] = activeOrder("0xo1", "token:0xc:1", domain.OrderKindLooksRare, "0xmaker", 3)
	env.orders.orders["0xo2"] = activeOrder("0xo2", "token:0xc:2", domain.OrderKindLooksRare, "0xmaker", 7)
	env.orders.orders["0xo3"] = activeOrder("0xo3", "token:0xc:3", domain.OrderKindSeaport, "0xmaker", 1)

	facts := &domain.OnChainFacts{}
	facts.AddBulkCancel(domain.BulkCancel{
		Kind: domain.OrderKindLooksRare, Maker: "0xmaker", MinNonce: 5,
		Tx: domain.TxContext{TxHash: "0xt3", LogIndex: 0},
	})

	if err := env.svc.ApplyFacts(context.Background(), facts); err != nil {
		t.Fatalf("ApplyFacts: %v", err)
	}

	// Below the new minimum: cancelled. At or above, or another protocol:
	// untouched.
	if env.orders.orders["0xo1"].Fillability != domain.FillabilityCancelled {
		t.Fatal("nonce 3 should be cancelled")
	}
	if env.orders.orders["0xo2"].Fillability != domain.FillabilityFillable {
		t.Fatal("nonce 7 should survive")
	}
	if env.orders.orders["0xo3"].Fillability != domain.FillabilityFillable {
		t.Fatal("other protocol should survive")
	}

	if got := env.nonces.nonces[nonceKey(domain.OrderKindLooksRare, "0xmaker")]; got != 5 {
		t.Fatalf("master nonce = %d, want 5", got)
	}
	if len(env.queue.jobs) != 1 {
		t.Fatalf("jobs = %d, want 1", len(env.queue.jobs))
	}
}

func TestApplyFactsNonceRestoreUsesReorgTrigger(t *testing.T) {
	env := newTestEnv(Config{})
	o := activeOrder("0xo1", "token:0xc:1", domain.OrderKindLooksRare, "0xmaker", 9)
	o.Fillability = domain.FillabilityNoBalance // recoverable, restorable
	env.orders.orders["0xo1"] = o

	facts := &domain.OnChainFacts{}
	facts.AddNonceChange(domain.NonceChange{
		Kind: domain.OrderKindLooksRare, Maker: "0xmaker", Nonce: 9, Restored: true,
		Tx: domain.TxContext{TxHash: "0xt4", LogIndex: 0},
	})

	if err := env.svc.ApplyFacts(context.Background(), facts); err != nil {
		t.Fatalf("ApplyFacts: %v", err)
	}
	if env.orders.orders["0xo1"].Fillability != domain.FillabilityFillable {
		t.Fatal("order not restored")
	}

	triggers := env.queue.triggers(t)
	if len(triggers) != 1 || triggers[0] != domain.TriggerReorg {
		t.Fatalf("triggers = %v, want one reorg", triggers)
	}
}

func TestApplyFactsEmptyIsNoop(t *testing.T) {
	env := newTestEnv(Config{})
	if err := env.svc.ApplyFacts(context.Background(), &domain.OnChainFacts{}); err != nil {
		t.Fatalf("ApplyFacts: %v", err)
	}
	if len(env.queue.jobs) != 0 {
		t.Fatal("empty facts enqueued work")
	}
}
