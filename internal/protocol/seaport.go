package protocol

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/floorsync/internal/domain"
	"github.com/alanyoungcy/floorsync/internal/events"
)

// Seaport conduit item types.
const (
	itemNative = 0
	itemERC20  = 1
)

// SeaportHandler extracts fills, cancels and counter bumps from Seaport logs.
// Seaport emits the order hash directly, so no identity reconstruction is
// needed.
type SeaportHandler struct {
	logger *slog.Logger
}

// NewSeaportHandler wires the handler.
func NewSeaportHandler(logger *slog.Logger) *SeaportHandler {
	return &SeaportHandler{logger: logger.With("protocol", "seaport")}
}

// Kind implements Handler.
func (h *SeaportHandler) Kind() domain.OrderKind { return domain.OrderKindSeaport }

// HandleEventBatch implements Handler.
func (h *SeaportHandler) HandleEventBatch(ctx context.Context, batch *events.EventBatch, facts *domain.OnChainFacts) error {
	for _, cl := range batch.Logs {
		switch {
		case cl.HasMatch(domain.OrderKindSeaport, events.SubtypeOrderFulfilled):
			if err := h.handleFulfilled(batch, cl, facts); err != nil {
				h.logger.Warn("undecodable fulfillment, skipping",
					"tx", batch.TxHash, "log_index", cl.Log.Index, "error", err)
			}

		case cl.HasMatch(domain.OrderKindSeaport, events.SubtypeOrderCancelled):
			orderHash, err := hashAt(cl.Log.Data, 0)
			if err != nil {
				h.logger.Warn("undecodable cancel, skipping",
					"tx", batch.TxHash, "log_index", cl.Log.Index, "error", err)
				continue
			}
			facts.AddCancel(domain.Cancel{
				OrderID: orderHash.Hex(),
				Kind:    domain.OrderKindSeaport,
				Tx:      batch.TxContext(cl.Log),
			})

		case cl.HasMatch(domain.OrderKindSeaport, events.SubtypeCounterIncremented):
			newCounter, err := uint64At(cl.Log.Data, 0)
			if err != nil {
				h.logger.Warn("undecodable counter bump, skipping",
					"tx", batch.TxHash, "log_index", cl.Log.Index, "error", err)
				continue
			}
			offerer := common.BytesToAddress(cl.Log.Topics[1].Bytes()[12:])
			facts.AddBulkCancel(domain.BulkCancel{
				Kind:     domain.OrderKindSeaport,
				Maker:    offerer.Hex(),
				MinNonce: newCounter,
				Tx:       batch.TxContext(cl.Log),
			})
		}
	}
	return nil
}

// handleFulfilled decodes one OrderFulfilled log:
//
//	data = orderHash, recipient, offset(offer), offset(consideration)
//	offer item         = itemType, token, identifier, amount
//	consideration item = itemType, token, identifier, amount, recipient
func (h *SeaportHandler) handleFulfilled(batch *events.EventBatch, cl events.ClassifiedLog, facts *domain.OnChainFacts) error {
	data := cl.Log.Data

	orderHash, err := hashAt(data, 0)
	if err != nil {
		return err
	}
	recipient, err := addressAt(data, 1)
	if err != nil {
		return err
	}
	offerOff, err := offsetAt(data, 2)
	if err != nil {
		return err
	}
	considerationOff, err := offsetAt(data, 3)
	if err != nil {
		return err
	}

	offer, err := decodeItems(data[offerOff:], 4)
	if err != nil {
		return fmt.Errorf("offer: %w", err)
	}
	consideration, err := decodeItems(data[considerationOff:], 5)
	if err != nil {
		return fmt.Errorf("consideration: %w", err)
	}
	if len(offer) == 0 {
		return fmt.Errorf("empty offer")
	}

	offerer := common.BytesToAddress(cl.Log.Topics[1].Bytes()[12:])

	fill := domain.Fill{
		OrderID: orderHash.Hex(),
		Kind:    domain.OrderKindSeaport,
		Maker:   offerer.Hex(),
		Taker:   recipient.Hex(),
		Tx:      batch.TxContext(cl.Log),
	}

	if offer[0].itemType > itemERC20 {
		// Maker offered the NFT: a sell order. Price is what flowed back.
		fill.Side = domain.SideSell
		fill.Contract = offer[0].token.Hex()
		fill.TokenID = offer[0].identifier.String()
		fill.Amount = offer[0].amount.Int64()
		price := new(big.Int)
		for _, item := range consideration {
			if item.itemType <= itemERC20 {
				price.Add(price, item.amount)
				fill.Currency = item.token.Hex()
			}
		}
		fill.RawPrice = price
	} else {
		// Maker offered currency: a bid.
		fill.Side = domain.SideBuy
		fill.RawPrice = offer[0].amount
		fill.Currency = offer[0].token.Hex()
		for _, item := range consideration {
			if item.itemType > itemERC20 {
				fill.Contract = item.token.Hex()
				fill.TokenID = item.identifier.String()
				fill.Amount = item.amount.Int64()
				break
			}
		}
	}
	if fill.Contract == "" {
		return fmt.Errorf("no nft item in either side")
	}

	facts.AddFill(fill)
	return nil
}

type conduitItem struct {
	itemType   uint64
	token      common.Address
	identifier *big.Int
	amount     *big.Int
}

// decodeItems decodes a length-prefixed array of fixed-width conduit items.
func decodeItems(data []byte, width int) ([]conduitItem, error) {
	n, err := uint64At(data, 0)
	if err != nil {
		return nil, err
	}
	if n > 64 {
		return nil, fmt.Errorf("implausible item count %d", n)
	}
	items := make([]conduitItem, 0, n)
	for i := 0; i < int(n); i++ {
		base := 1 + i*width
		itemType, err := uint64At(data, base)
		if err != nil {
			return nil, err
		}
		token, err := addressAt(data, base+1)
		if err != nil {
			return nil, err
		}
		identifier, err := bigAt(data, base+2)
		if err != nil {
			return nil, err
		}
		amount, err := bigAt(data, base+3)
		if err != nil {
			return nil, err
		}
		items = append(items, conduitItem{itemType, token, identifier, amount})
	}
	return items, nil
}

var _ Handler = (*SeaportHandler)(nil)
