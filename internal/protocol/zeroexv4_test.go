package protocol

import (
	"context"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/floorsync/internal/domain"
	"github.com/alanyoungcy/floorsync/internal/events"
)

const (
	zxMakerHex    = "0x00000000000000000000000000000000000000e5"
	zxTakerHex    = "0x00000000000000000000000000000000000000e6"
	zxExchangeHex = "0x00000000000000000000000000000000000000ff"
	zxOrderID     = "0xaaaa000000000000000000000000000000000000000000000000000000bbbb"
)

type fakeNonceSource struct {
	master uint64
	err    error
}

func (f *fakeNonceSource) MasterNonce(ctx context.Context, kind domain.OrderKind, maker string) (uint64, error) {
	return f.master, f.err
}

type fakeOrderLookup struct {
	byID         map[string]domain.Order
	byMakerNonce map[string]domain.Order
}

func makerNonceKey(maker string, nonce uint64) string {
	return fmt.Sprintf("%s:%d", maker, nonce)
}

func (f *fakeOrderLookup) GetByID(ctx context.Context, id string) (domain.Order, error) {
	order, ok := f.byID[id]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return order, nil
}

func (f *fakeOrderLookup) GetByMakerNonce(ctx context.Context, kind domain.OrderKind, maker string, nonce uint64) (domain.Order, error) {
	order, ok := f.byMakerNonce[makerNonceKey(maker, nonce)]
	if !ok {
		return domain.Order{}, domain.ErrNotFound
	}
	return order, nil
}

func newZeroExHandler(orders *fakeOrderLookup, nonces *fakeNonceSource) *ZeroExV4Handler {
	return NewZeroExV4Handler(ZeroExV4Config{
		Exchange: common.HexToAddress(zxExchangeHex),
		ChainID:  big.NewInt(1),
	}, nonces, orders, testLogger())
}

func filledData(direction uint64, extra ...[]byte) []byte {
	words := [][]byte{
		uintWord(direction),
		addrWord(zxMakerHex),
		addrWord(zxTakerHex),
		uintWord(7), // nonce
		addrWord(wethHex),
		bigWord(big.NewInt(5000)),
		addrWord(nftHex),
		uintWord(321),
	}
	words = append(words, extra...)
	return encWords(words...)
}

func TestZeroExV4FillResolvesByMakerNonce(t *testing.T) {
	maker := common.HexToAddress(zxMakerHex)
	orders := &fakeOrderLookup{
		byMakerNonce: map[string]domain.Order{
			makerNonceKey(maker.Hex(), 7): {ID: zxOrderID},
		},
	}
	h := newZeroExHandler(orders, &fakeNonceSource{})

	log := &types.Log{Data: filledData(0)}
	batch := testBatch(classified(log, domain.OrderKindZeroExV4, events.SubtypeOrderFulfilled))

	var facts domain.OnChainFacts
	if err := h.HandleEventBatch(context.Background(), batch, &facts); err != nil {
		t.Fatalf("HandleEventBatch: %v", err)
	}
	if len(facts.Fills) != 1 {
		t.Fatalf("expected 1 fill, got %d", len(facts.Fills))
	}

	fill := facts.Fills[0]
	if fill.OrderID != zxOrderID {
		t.Fatalf("order id = %s, want store digest", fill.OrderID)
	}
	if fill.Side != domain.SideSell {
		t.Fatalf("direction 0 should be a sell, got %s", fill.Side)
	}
	if fill.Contract != common.HexToAddress(nftHex).Hex() || fill.TokenID != "321" {
		t.Fatalf("nft = %s/%s", fill.Contract, fill.TokenID)
	}
	if fill.RawPrice.Cmp(big.NewInt(5000)) != 0 {
		t.Fatalf("raw price = %s, want 5000", fill.RawPrice)
	}
	if fill.Amount != 1 {
		t.Fatalf("erc721 fill amount = %d, want 1", fill.Amount)
	}
}

func TestZeroExV4FillERC1155Amount(t *testing.T) {
	maker := common.HexToAddress(zxMakerHex)
	orders := &fakeOrderLookup{
		byMakerNonce: map[string]domain.Order{
			makerNonceKey(maker.Hex(), 7): {ID: zxOrderID},
		},
	}
	h := newZeroExHandler(orders, &fakeNonceSource{})

	log := &types.Log{Data: filledData(1, uintWord(4))}
	batch := testBatch(classified(log, domain.OrderKindZeroExV4, events.SubtypeOrderFulfilled))

	var facts domain.OnChainFacts
	if err := h.HandleEventBatch(context.Background(), batch, &facts); err != nil {
		t.Fatalf("HandleEventBatch: %v", err)
	}
	if len(facts.Fills) != 1 {
		t.Fatalf("expected 1 fill, got %d", len(facts.Fills))
	}
	if facts.Fills[0].Side != domain.SideBuy {
		t.Fatalf("direction 1 should be a buy, got %s", facts.Fills[0].Side)
	}
	if facts.Fills[0].Amount != 4 {
		t.Fatalf("fill amount = %d, want 4", facts.Fills[0].Amount)
	}
}

// erc721OrderTuple ABI-encodes an open ERC721 sell order with no fees and no
// properties, laid out the way the exchange's fill calldata carries it.
func erc721OrderTuple(direction, expiry, nonce uint64, price, tokenID *big.Int) []byte {
	return encWords(
		uintWord(direction),
		addrWord(zxMakerHex),
		addrWord("0x0"),       // open taker
		uintWord(expiry),
		uintWord(nonce),
		addrWord(wethHex),
		bigWord(price),
		uintWord(11*wordSize), // fees offset
		addrWord(nftHex),
		bigWord(tokenID),
		uintWord(12*wordSize), // properties offset
		uintWord(0),           // no fees
		uintWord(0),           // no properties
	)
}

// fixtureOrderDigest hashes the fixture order straight from its typed values
// per the EIP-712 definition, independent of the handler's calldata walk.
func fixtureOrderDigest(h *ZeroExV4Handler, direction, expiry, nonce uint64, price, tokenID *big.Int) common.Hash {
	emptyArray := crypto.Keccak256Hash()
	structHash := crypto.Keccak256(
		erc721OrderTypeHash.Bytes(),
		common.BigToHash(new(big.Int).SetUint64(direction)).Bytes(),
		common.BytesToHash(common.HexToAddress(zxMakerHex).Bytes()).Bytes(),
		common.Hash{}.Bytes(), // open taker
		common.BigToHash(new(big.Int).SetUint64(expiry)).Bytes(),
		common.BigToHash(new(big.Int).SetUint64(nonce)).Bytes(),
		common.BytesToHash(common.HexToAddress(wethHex).Bytes()).Bytes(),
		common.BigToHash(price).Bytes(),
		emptyArray.Bytes(), // fees
		common.BytesToHash(common.HexToAddress(nftHex).Bytes()).Bytes(),
		common.BigToHash(tokenID).Bytes(),
		emptyArray.Bytes(), // properties
	)
	return crypto.Keccak256Hash([]byte{0x19, 0x01}, h.domainSeparator.Bytes(), structHash)
}

func exchangeTrace(tuple []byte) *domain.CallFrame {
	calldata := append([]byte{0xaa, 0xbb, 0xcc, 0xdd}, encWords(uintWord(wordSize))...)
	calldata = append(calldata, tuple...)
	return &domain.CallFrame{
		Type: "CALL",
		To:   "0x00000000000000000000000000000000000000ee",
		Calls: []domain.CallFrame{{
			Type:  "CALL",
			To:    zxExchangeHex,
			Input: "0x" + common.Bytes2Hex(calldata),
		}},
	}
}

func TestZeroExV4FillReconstructsDigestFromTrace(t *testing.T) {
	price := big.NewInt(5000)
	tokenID := big.NewInt(321)
	orders := &fakeOrderLookup{byID: map[string]domain.Order{}}
	h := newZeroExHandler(orders, &fakeNonceSource{})

	want := fixtureOrderDigest(h, 0, 1800000000, 7, price, tokenID)
	orders.byID[want.Hex()] = domain.Order{ID: want.Hex()}

	batch := testBatch(classified(&types.Log{Data: filledData(0)},
		domain.OrderKindZeroExV4, events.SubtypeOrderFulfilled))
	batch.Trace = exchangeTrace(erc721OrderTuple(0, 1800000000, 7, price, tokenID))

	var facts domain.OnChainFacts
	if err := h.HandleEventBatch(context.Background(), batch, &facts); err != nil {
		t.Fatalf("HandleEventBatch: %v", err)
	}
	if len(facts.Fills) != 1 {
		t.Fatalf("expected 1 fill, got %d", len(facts.Fills))
	}
	// byMakerNonce is empty, so only the trace reconstruction can have
	// produced this identity.
	if facts.Fills[0].OrderID != want.Hex() {
		t.Fatalf("order id = %s, want reconstructed digest %s", facts.Fills[0].OrderID, want.Hex())
	}
}

func TestZeroExV4FillSplicesMasterNonceIntoZeroedTuple(t *testing.T) {
	price := big.NewInt(5000)
	tokenID := big.NewInt(321)
	orders := &fakeOrderLookup{byID: map[string]domain.Order{}}
	h := newZeroExHandler(orders, &fakeNonceSource{master: 9})

	// The order was signed with nonce 9, but the batch-fill calldata zeroes
	// the tuple's nonce slot and the log carries none either.
	want := fixtureOrderDigest(h, 0, 1800000000, 9, price, tokenID)
	orders.byID[want.Hex()] = domain.Order{ID: want.Hex()}

	logData := encWords(
		uintWord(0),
		addrWord(zxMakerHex),
		addrWord(zxTakerHex),
		uintWord(0), // nonce omitted
		addrWord(wethHex),
		bigWord(price),
		addrWord(nftHex),
		bigWord(tokenID),
	)
	batch := testBatch(classified(&types.Log{Data: logData},
		domain.OrderKindZeroExV4, events.SubtypeOrderFulfilled))
	batch.Trace = exchangeTrace(erc721OrderTuple(0, 1800000000, 0, price, tokenID))

	var facts domain.OnChainFacts
	if err := h.HandleEventBatch(context.Background(), batch, &facts); err != nil {
		t.Fatalf("HandleEventBatch: %v", err)
	}
	if len(facts.Fills) != 1 {
		t.Fatalf("expected 1 fill, got %d", len(facts.Fills))
	}
	if facts.Fills[0].OrderID != want.Hex() {
		t.Fatalf("order id = %s, want digest under master nonce 9", facts.Fills[0].OrderID)
	}
}

func TestZeroExV4UnresolvedFillBecomesNonceChange(t *testing.T) {
	h := newZeroExHandler(&fakeOrderLookup{}, &fakeNonceSource{})

	log := &types.Log{Data: filledData(0)}
	batch := testBatch(classified(log, domain.OrderKindZeroExV4, events.SubtypeOrderFulfilled))

	var facts domain.OnChainFacts
	if err := h.HandleEventBatch(context.Background(), batch, &facts); err != nil {
		t.Fatalf("HandleEventBatch: %v", err)
	}
	if len(facts.Fills) != 0 {
		t.Fatalf("unresolved fill must not produce a fill fact, got %d", len(facts.Fills))
	}
	if len(facts.NonceChanges) != 1 {
		t.Fatalf("expected 1 nonce change, got %d", len(facts.NonceChanges))
	}

	nc := facts.NonceChanges[0]
	if nc.Maker != common.HexToAddress(zxMakerHex).Hex() || nc.Nonce != 7 {
		t.Fatalf("nonce change = %+v", nc)
	}
}

func TestZeroExV4NonceCancelled(t *testing.T) {
	h := newZeroExHandler(&fakeOrderLookup{}, &fakeNonceSource{})

	log := &types.Log{Data: encWords(addrWord(zxMakerHex), uintWord(42))}
	batch := testBatch(classified(log, domain.OrderKindZeroExV4, events.SubtypeNonceCancelled))

	var facts domain.OnChainFacts
	if err := h.HandleEventBatch(context.Background(), batch, &facts); err != nil {
		t.Fatalf("HandleEventBatch: %v", err)
	}
	if len(facts.NonceChanges) != 1 {
		t.Fatalf("expected 1 nonce change, got %d", len(facts.NonceChanges))
	}
	if facts.NonceChanges[0].Nonce != 42 {
		t.Fatalf("nonce = %d, want 42", facts.NonceChanges[0].Nonce)
	}
}

func TestZeroExV4CandidateNonceOrdering(t *testing.T) {
	h := newZeroExHandler(&fakeOrderLookup{}, &fakeNonceSource{master: 10})

	// Tuple with its own nonce in word 4.
	tuple := encWords(
		uintWord(0),
		addrWord(zxMakerHex),
		addrWord(zxTakerHex),
		uintWord(0),
		uintWord(99),
	)

	got := h.candidateNonces(context.Background(), tuple, common.HexToAddress(zxMakerHex), 7)
	want := []uint64{99, 7, 10, 9, 8, 7, 6}
	if len(got) != len(want) {
		t.Fatalf("candidates = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("candidates = %v, want %v", got, want)
		}
	}
}
