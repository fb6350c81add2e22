package events

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/floorsync/internal/domain"
)

var (
	seaportAddr = common.HexToAddress("0x00000000006c3852cbEf3e08E8dF289169EdE581")
	randomAddr  = common.HexToAddress("0x1111111111111111111111111111111111111111")
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func pinnedRegistry() *Registry {
	return NewRegistry(Addresses{Seaport: seaportAddr})
}

func TestRegistryLookupPinnedEmitter(t *testing.T) {
	r := pinnedRegistry()

	matches := r.Lookup(topicOrderFulfilled, seaportAddr, 3)
	if len(matches) != 1 {
		t.Fatalf("expected one match from the pinned exchange, got %d", len(matches))
	}
	if matches[0].Kind != domain.OrderKindSeaport || matches[0].Subtype != SubtypeOrderFulfilled {
		t.Fatalf("unexpected match %+v", matches[0])
	}

	// Same topic emitted by a stranger contract must not match.
	if got := r.Lookup(topicOrderFulfilled, randomAddr, 3); len(got) != 0 {
		t.Fatalf("unpinned emitter matched: %+v", got)
	}
}

func TestRegistryLookupTopicCountDiscriminator(t *testing.T) {
	r := pinnedRegistry()
	if got := r.Lookup(topicOrderFulfilled, seaportAddr, 2); len(got) != 0 {
		t.Fatalf("wrong topic count matched: %+v", got)
	}
}

func TestRegistryUnpinnedMatchesAnyEmitter(t *testing.T) {
	// Zero addresses leave every registration unpinned.
	r := NewRegistry(Addresses{})
	if got := r.Lookup(topicOrderFulfilled, randomAddr, 3); len(got) != 1 {
		t.Fatalf("expected unpinned registration to match any emitter, got %d", len(got))
	}
}

func TestRegistryERC20TransferAlwaysUnpinned(t *testing.T) {
	r := pinnedRegistry()
	matches := r.Lookup(topicTransfer, randomAddr, 3)
	if len(matches) != 1 || matches[0].Subtype != SubtypeERC20Transfer {
		t.Fatalf("expected the transfer correlation match, got %+v", matches)
	}
}

func TestRegistryKnown(t *testing.T) {
	r := pinnedRegistry()
	if !r.Known(topicTakerBid) {
		t.Fatal("taker bid topic should be known")
	}
	if r.Known(common.HexToHash("0xdead")) {
		t.Fatal("arbitrary topic should be unknown")
	}
}

func TestClassifyGroupsByTransaction(t *testing.T) {
	c := NewClassifier(pinnedRegistry(), testLogger())
	blockTime := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

	txA := common.HexToHash("0xaaaa")
	txB := common.HexToHash("0xbbbb")

	logs := []*types.Log{
		{
			Address: seaportAddr,
			Topics:  []common.Hash{topicOrderFulfilled, {}, {}},
			TxHash:  txA,
			Index:   0,
		},
		{
			Address: seaportAddr,
			Topics:  []common.Hash{topicOrderCancelled, {}, {}},
			TxHash:  txA,
			Index:   1,
		},
		{
			Address: seaportAddr,
			Topics:  []common.Hash{topicOrderFulfilled, {}, {}},
			TxHash:  txB,
			Index:   0,
		},
		{
			// Unknown topic, dropped without a batch.
			Address: randomAddr,
			Topics:  []common.Hash{common.HexToHash("0xdead")},
			TxHash:  txB,
			Index:   1,
		},
	}

	batches := c.Classify(logs, nil, "0xblock", blockTime)
	if len(batches) != 2 {
		t.Fatalf("expected 2 batches, got %d", len(batches))
	}
	if batches[0].TxHash != txA.Hex() || len(batches[0].Logs) != 2 {
		t.Fatalf("batch 0 mismatch: tx=%s logs=%d", batches[0].TxHash, len(batches[0].Logs))
	}
	if batches[1].TxHash != txB.Hex() || len(batches[1].Logs) != 1 {
		t.Fatalf("batch 1 mismatch: tx=%s logs=%d", batches[1].TxHash, len(batches[1].Logs))
	}
	if !batches[0].Logs[0].HasMatch(domain.OrderKindSeaport, SubtypeOrderFulfilled) {
		t.Fatal("first log lost its fulfillment match")
	}
}

func TestClassifySkipsRemovedLogs(t *testing.T) {
	c := NewClassifier(pinnedRegistry(), testLogger())
	logs := []*types.Log{
		{
			Address: seaportAddr,
			Topics:  []common.Hash{topicOrderFulfilled, {}, {}},
			TxHash:  common.HexToHash("0xaaaa"),
			Removed: true,
		},
	}
	if batches := c.Classify(logs, nil, "0xblock", time.Now()); len(batches) != 0 {
		t.Fatalf("removed log produced %d batches", len(batches))
	}
}

func TestClassifyDropsCorrelationOnlyBatches(t *testing.T) {
	c := NewClassifier(pinnedRegistry(), testLogger())

	// A lone ERC-20 transfer matches the x2y2 correlation registration but
	// must not survive as a batch on its own.
	logs := []*types.Log{
		{
			Address: randomAddr,
			Topics:  []common.Hash{topicTransfer, {}, {}},
			TxHash:  common.HexToHash("0xcccc"),
		},
	}
	if batches := c.Classify(logs, nil, "0xblock", time.Now()); len(batches) != 0 {
		t.Fatalf("correlation-only transaction produced %d batches", len(batches))
	}
}

func TestEventBatchKindsExcludesCorrelation(t *testing.T) {
	b := &EventBatch{
		Logs: []ClassifiedLog{
			{Matches: []Match{{Kind: domain.OrderKindX2Y2, Subtype: SubtypeERC20Transfer}}},
			{Matches: []Match{{Kind: domain.OrderKindX2Y2, Subtype: SubtypeInventory}}},
		},
	}
	kinds := b.Kinds()
	if len(kinds) != 1 || !kinds[domain.OrderKindX2Y2] {
		t.Fatalf("unexpected kinds: %v", kinds)
	}

	onlyTransfers := &EventBatch{
		Logs: []ClassifiedLog{
			{Matches: []Match{{Kind: domain.OrderKindX2Y2, Subtype: SubtypeERC20Transfer}}},
		},
	}
	if len(onlyTransfers.Kinds()) != 0 {
		t.Fatal("transfer-only batch should report no kinds")
	}
}

func TestEventBatchTxContext(t *testing.T) {
	blockTime := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	b := &EventBatch{TxHash: "0xaaaa", BlockHash: "0xblock", BlockTime: blockTime}

	tx := b.TxContext(&types.Log{Index: 7})
	if tx.TxHash != "0xaaaa" || tx.BlockHash != "0xblock" || tx.LogIndex != 7 || !tx.Timestamp.Equal(blockTime) {
		t.Fatalf("unexpected tx context: %+v", tx)
	}
}
