package protocol

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/floorsync/internal/domain"
	"github.com/alanyoungcy/floorsync/internal/events"
)

const (
	x2MakerHex = "0x00000000000000000000000000000000000000f1"
	x2TakerHex = "0x00000000000000000000000000000000000000f2"
	itemHash   = "0x9999000000000000000000000000000000000000000000000000000000001111"
)

// inventoryData encodes an EvInventory payload with one (token, tokenId)
// pair and the given intent and settlement currency.
func inventoryData(intent uint64, currency string, price int64) []byte {
	head := encWords(
		addrWord(x2MakerHex),
		addrWord(x2TakerHex),
		uintWord(0),            // orderSalt
		uintWord(0),            // settleSalt
		uintWord(intent),       // intent
		uintWord(0),            // delegateType
		uintWord(0),            // deadline
		addrWord(currency),     // currency
		uintWord(0),            // dataMask offset, unused
		uintWord(11*wordSize),  // item offset
		uintWord(0),            // detail offset, unused
	)
	// item: price, offset to nested data, then the data bytes: length word,
	// inner offset, pair count, token, tokenId.
	item := encWords(
		bigWord(big.NewInt(price)),
		uintWord(2*wordSize), // nested data right after these two words
		uintWord(5*wordSize), // bytes length
		uintWord(wordSize),   // inner offset to the pair array
		uintWord(1),          // one pair
		addrWord(nftHex),
		uintWord(888),
	)
	return append(head, item...)
}

func inventoryLog(data []byte) *types.Log {
	return &types.Log{
		Topics: []common.Hash{{}, common.HexToHash(itemHash)},
		Data:   data,
	}
}

func TestX2Y2InventoryNativeSettlement(t *testing.T) {
	h := NewX2Y2Handler(testLogger())

	log := inventoryLog(inventoryData(1, "0x0", 7777))
	batch := testBatch(classified(log, domain.OrderKindX2Y2, events.SubtypeInventory))

	var facts domain.OnChainFacts
	if err := h.HandleEventBatch(context.Background(), batch, &facts); err != nil {
		t.Fatalf("HandleEventBatch: %v", err)
	}
	if len(facts.Fills) != 1 {
		t.Fatalf("expected 1 fill, got %d", len(facts.Fills))
	}

	fill := facts.Fills[0]
	if fill.OrderID != itemHash {
		t.Fatalf("order id = %s, want item hash", fill.OrderID)
	}
	if fill.Side != domain.SideSell {
		t.Fatalf("intent 1 should be a sell, got %s", fill.Side)
	}
	if fill.Contract != common.HexToAddress(nftHex).Hex() || fill.TokenID != "888" {
		t.Fatalf("nft = %s/%s", fill.Contract, fill.TokenID)
	}
	// Native settlement keeps the listed price.
	if fill.RawPrice.Cmp(big.NewInt(7777)) != 0 {
		t.Fatalf("raw price = %s, want 7777", fill.RawPrice)
	}
}

func TestX2Y2InventoryERC20SettlementCorrelatesTransfers(t *testing.T) {
	h := NewX2Y2Handler(testLogger())

	invLog := inventoryLog(inventoryData(3, wethHex, 10000))

	// Two transfers of the settlement currency to the maker: payout split
	// between principal and royalty refund.
	transfer := func(amount int64) *types.Log {
		return &types.Log{
			Address: common.HexToAddress(wethHex),
			Topics: []common.Hash{
				{},
				common.HexToHash(x2TakerHex),
				common.HexToHash(x2MakerHex),
			},
			Data: encWords(bigWord(big.NewInt(amount))),
		}
	}
	// A transfer of the same currency to someone else must not count.
	feeTransfer := &types.Log{
		Address: common.HexToAddress(wethHex),
		Topics: []common.Hash{
			{},
			common.HexToHash(x2TakerHex),
			common.HexToHash("0x00000000000000000000000000000000000000fe"),
		},
		Data: encWords(bigWord(big.NewInt(500))),
	}

	batch := testBatch(
		classified(invLog, domain.OrderKindX2Y2, events.SubtypeInventory),
		classified(transfer(9000), domain.OrderKindX2Y2, events.SubtypeERC20Transfer),
		classified(transfer(500), domain.OrderKindX2Y2, events.SubtypeERC20Transfer),
		classified(feeTransfer, domain.OrderKindX2Y2, events.SubtypeERC20Transfer),
	)

	var facts domain.OnChainFacts
	if err := h.HandleEventBatch(context.Background(), batch, &facts); err != nil {
		t.Fatalf("HandleEventBatch: %v", err)
	}
	if len(facts.Fills) != 1 {
		t.Fatalf("expected 1 fill, got %d", len(facts.Fills))
	}

	fill := facts.Fills[0]
	if fill.Side != domain.SideBuy {
		t.Fatalf("intent 3 should be a buy, got %s", fill.Side)
	}
	// Settlement amount preferred over the listed price: 9000 + 500.
	if fill.RawPrice.Cmp(big.NewInt(9500)) != 0 {
		t.Fatalf("raw price = %s, want 9500", fill.RawPrice)
	}
}

func TestX2Y2TruncatedItemDataSkipped(t *testing.T) {
	h := NewX2Y2Handler(testLogger())

	// Item whose nested-data offset lands on the end of the item: there is
	// no pair list to decode and the log must be skipped, not crash the
	// worker.
	head := encWords(
		addrWord(x2MakerHex),
		addrWord(x2TakerHex),
		uintWord(0),
		uintWord(0),
		uintWord(1),
		uintWord(0),
		uintWord(0),
		addrWord("0x0"),
		uintWord(0),
		uintWord(11*wordSize),
		uintWord(0),
	)
	item := encWords(
		bigWord(big.NewInt(7777)),
		uintWord(2*wordSize), // points past the item's last byte
	)
	log := inventoryLog(append(head, item...))
	batch := testBatch(classified(log, domain.OrderKindX2Y2, events.SubtypeInventory))

	var facts domain.OnChainFacts
	if err := h.HandleEventBatch(context.Background(), batch, &facts); err != nil {
		t.Fatalf("truncated item must be skipped, not fail the batch: %v", err)
	}
	if len(facts.Fills) != 0 {
		t.Fatalf("truncated item produced %d fills", len(facts.Fills))
	}
}

func TestX2Y2Cancel(t *testing.T) {
	h := NewX2Y2Handler(testLogger())

	log := &types.Log{
		Topics: []common.Hash{{}, common.HexToHash(itemHash)},
	}
	batch := testBatch(classified(log, domain.OrderKindX2Y2, events.SubtypeOrderCancelled))

	var facts domain.OnChainFacts
	if err := h.HandleEventBatch(context.Background(), batch, &facts); err != nil {
		t.Fatalf("HandleEventBatch: %v", err)
	}
	if len(facts.Cancels) != 1 || facts.Cancels[0].OrderID != itemHash {
		t.Fatalf("unexpected cancels: %+v", facts.Cancels)
	}
}
