package protocol

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/floorsync/internal/domain"
	"github.com/alanyoungcy/floorsync/internal/events"
)

var errEmptyItem = errors.New("empty item pair list")

// X2Y2 order intents.
const (
	intentSell = 1
	intentBuy  = 3
)

// X2Y2Handler extracts fills and cancels from x2y2 logs. The inventory event
// carries the item hash (the order identity) and the listed price; for ERC-20
// settlements the actual transferred amount is recovered by correlating the
// Transfer logs of the same transaction.
type X2Y2Handler struct {
	logger *slog.Logger
}

// NewX2Y2Handler wires the handler.
func NewX2Y2Handler(logger *slog.Logger) *X2Y2Handler {
	return &X2Y2Handler{logger: logger.With("protocol", "x2y2")}
}

// Kind implements Handler.
func (h *X2Y2Handler) Kind() domain.OrderKind { return domain.OrderKindX2Y2 }

// HandleEventBatch implements Handler.
func (h *X2Y2Handler) HandleEventBatch(ctx context.Context, batch *events.EventBatch, facts *domain.OnChainFacts) error {
	for _, cl := range batch.Logs {
		switch {
		case cl.HasMatch(domain.OrderKindX2Y2, events.SubtypeInventory):
			if err := h.handleInventory(batch, cl, facts); err != nil {
				h.logger.Warn("undecodable inventory event, skipping",
					"tx", batch.TxHash, "log_index", cl.Log.Index, "error", err)
			}

		case cl.HasMatch(domain.OrderKindX2Y2, events.SubtypeOrderCancelled):
			facts.AddCancel(domain.Cancel{
				OrderID: cl.Log.Topics[1].Hex(),
				Kind:    domain.OrderKindX2Y2,
				Tx:      batch.TxContext(cl.Log),
			})
		}
	}
	return nil
}

// handleInventory decodes EvInventory:
//
//	topics = _, itemHash
//	data   = maker, taker, orderSalt, settleSalt, intent, delegateType,
//	         deadline, currency, off(dataMask), off(item), off(detail)
//	item   = price, off(data)   data = encoded (token, tokenId) pairs
func (h *X2Y2Handler) handleInventory(batch *events.EventBatch, cl events.ClassifiedLog, facts *domain.OnChainFacts) error {
	data := cl.Log.Data

	maker, err := addressAt(data, 0)
	if err != nil {
		return err
	}
	taker, err := addressAt(data, 1)
	if err != nil {
		return err
	}
	intent, err := uint64At(data, 4)
	if err != nil {
		return err
	}
	currency, err := addressAt(data, 7)
	if err != nil {
		return err
	}
	itemOff, err := offsetAt(data, 9)
	if err != nil {
		return err
	}

	item := data[itemOff:]
	price, err := bigAt(item, 0)
	if err != nil {
		return err
	}
	contract, tokenID, err := decodeItemPair(item)
	if err != nil {
		return err
	}

	side := domain.SideSell
	if intent == intentBuy {
		side = domain.SideBuy
	}

	// ERC-20 settlement: prefer the amount that actually moved over the
	// listed price (royalty and fee variants settle net of the listing).
	rawPrice := price
	if currency != (common.Address{}) {
		if moved := h.correlateTransfer(batch, currency, maker); moved != nil {
			rawPrice = moved
		}
	}

	facts.AddFill(domain.Fill{
		OrderID:  cl.Log.Topics[1].Hex(),
		Kind:     domain.OrderKindX2Y2,
		Side:     side,
		Maker:    maker.Hex(),
		Taker:    taker.Hex(),
		Contract: contract.Hex(),
		TokenID:  tokenID.String(),
		Amount:   1,
		RawPrice: rawPrice,
		Currency: currency.Hex(),
		Tx:       batch.TxContext(cl.Log),
	})
	return nil
}

// decodeItemPair recovers the first (token, tokenId) pair from the item's
// nested data bytes.
func decodeItemPair(item []byte) (common.Address, *big.Int, error) {
	dataOff, err := offsetAt(item, 1)
	if err != nil {
		return common.Address{}, nil, err
	}
	if dataOff+wordSize > len(item) {
		return common.Address{}, nil, fmt.Errorf("item data offset %d out of range", dataOff)
	}
	// Skip the bytes length word, then the inner encoding: offset, length,
	// then (token, tokenId) pairs.
	inner := item[dataOff+wordSize:]
	pairsOff, err := offsetAt(inner, 0)
	if err != nil {
		return common.Address{}, nil, err
	}
	pairs := inner[pairsOff:]
	n, err := uint64At(pairs, 0)
	if err != nil {
		return common.Address{}, nil, err
	}
	if n == 0 {
		return common.Address{}, nil, errEmptyItem
	}
	token, err := addressAt(pairs, 1)
	if err != nil {
		return common.Address{}, nil, err
	}
	tokenID, err := bigAt(pairs, 2)
	if err != nil {
		return common.Address{}, nil, err
	}
	return token, tokenID, nil
}

// correlateTransfer sums the ERC-20 transfers of the settlement currency
// credited to the maker within the transaction.
func (h *X2Y2Handler) correlateTransfer(batch *events.EventBatch, currency, maker common.Address) *big.Int {
	total := new(big.Int)
	found := false
	for _, cl := range batch.Logs {
		if !cl.HasMatch(domain.OrderKindX2Y2, events.SubtypeERC20Transfer) {
			continue
		}
		if cl.Log.Address != currency || len(cl.Log.Topics) < 3 {
			continue
		}
		to := common.BytesToAddress(cl.Log.Topics[2].Bytes()[12:])
		if to != maker {
			continue
		}
		amount, err := bigAt(cl.Log.Data, 0)
		if err != nil {
			continue
		}
		total.Add(total, amount)
		found = true
	}
	if !found {
		return nil
	}
	return total
}

var _ Handler = (*X2Y2Handler)(nil)
