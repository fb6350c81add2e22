package protocol

import (
	"context"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/floorsync/internal/domain"
	"github.com/alanyoungcy/floorsync/internal/events"
)

// LooksRareHandler extracts fills and nonce cancellations from LooksRare
// exchange logs. Both taker events carry the maker order hash, so identity is
// direct.
type LooksRareHandler struct {
	logger *slog.Logger
}

// NewLooksRareHandler wires the handler.
func NewLooksRareHandler(logger *slog.Logger) *LooksRareHandler {
	return &LooksRareHandler{logger: logger.With("protocol", "looksrare")}
}

// Kind implements Handler.
func (h *LooksRareHandler) Kind() domain.OrderKind { return domain.OrderKindLooksRare }

// HandleEventBatch implements Handler.
func (h *LooksRareHandler) HandleEventBatch(ctx context.Context, batch *events.EventBatch, facts *domain.OnChainFacts) error {
	for _, cl := range batch.Logs {
		switch {
		case cl.HasMatch(domain.OrderKindLooksRare, events.SubtypeTakerBid):
			// Taker bought into the maker's listing.
			h.handleTakerEvent(batch, cl, domain.SideSell, facts)

		case cl.HasMatch(domain.OrderKindLooksRare, events.SubtypeTakerAsk):
			// Taker sold into the maker's offer.
			h.handleTakerEvent(batch, cl, domain.SideBuy, facts)

		case cl.HasMatch(domain.OrderKindLooksRare, events.SubtypeBulkCancel):
			minNonce, err := uint64At(cl.Log.Data, 0)
			if err != nil {
				h.logger.Warn("undecodable bulk cancel, skipping",
					"tx", batch.TxHash, "log_index", cl.Log.Index, "error", err)
				continue
			}
			user := common.BytesToAddress(cl.Log.Topics[1].Bytes()[12:])
			facts.AddBulkCancel(domain.BulkCancel{
				Kind:     domain.OrderKindLooksRare,
				Maker:    user.Hex(),
				MinNonce: minNonce,
				Tx:       batch.TxContext(cl.Log),
			})

		case cl.HasMatch(domain.OrderKindLooksRare, events.SubtypeNonceCancelled):
			h.handleNonceCancels(batch, cl, facts)
		}
	}
	return nil
}

// handleTakerEvent decodes TakerAsk/TakerBid:
//
//	topics = _, taker, maker, strategy
//	data   = orderHash, orderNonce, currency, collection, tokenId, amount, price
func (h *LooksRareHandler) handleTakerEvent(batch *events.EventBatch, cl events.ClassifiedLog, makerSide domain.Side, facts *domain.OnChainFacts) {
	data := cl.Log.Data

	orderHash, err := hashAt(data, 0)
	if err != nil {
		h.logger.Warn("undecodable taker event, skipping",
			"tx", batch.TxHash, "log_index", cl.Log.Index, "error", err)
		return
	}
	currency, err1 := addressAt(data, 2)
	collection, err2 := addressAt(data, 3)
	tokenID, err3 := bigAt(data, 4)
	amount, err4 := uint64At(data, 5)
	price, err5 := bigAt(data, 6)
	for _, err := range []error{err1, err2, err3, err4, err5} {
		if err != nil {
			h.logger.Warn("undecodable taker event, skipping",
				"tx", batch.TxHash, "log_index", cl.Log.Index, "error", err)
			return
		}
	}

	taker := common.BytesToAddress(cl.Log.Topics[1].Bytes()[12:])
	maker := common.BytesToAddress(cl.Log.Topics[2].Bytes()[12:])

	facts.AddFill(domain.Fill{
		OrderID:  orderHash.Hex(),
		Kind:     domain.OrderKindLooksRare,
		Side:     makerSide,
		Maker:    maker.Hex(),
		Taker:    taker.Hex(),
		Contract: collection.Hex(),
		TokenID:  tokenID.String(),
		Amount:   int64(amount),
		RawPrice: price,
		Currency: currency.Hex(),
		Tx:       batch.TxContext(cl.Log),
	})
}

// handleNonceCancels decodes CancelMultipleOrders:
//
//	topics = _, user
//	data   = offset, length, nonce...
func (h *LooksRareHandler) handleNonceCancels(batch *events.EventBatch, cl events.ClassifiedLog, facts *domain.OnChainFacts) {
	data := cl.Log.Data
	user := common.BytesToAddress(cl.Log.Topics[1].Bytes()[12:])

	off, err := offsetAt(data, 0)
	if err != nil {
		h.logger.Warn("undecodable nonce cancel, skipping",
			"tx", batch.TxHash, "log_index", cl.Log.Index, "error", err)
		return
	}
	body := data[off:]
	n, err := uint64At(body, 0)
	if err != nil || n > 256 {
		h.logger.Warn("undecodable nonce cancel, skipping",
			"tx", batch.TxHash, "log_index", cl.Log.Index, "error", err)
		return
	}

	for i := 0; i < int(n); i++ {
		nonce, err := uint64At(body, 1+i)
		if err != nil {
			h.logger.Warn("truncated nonce list, stopping",
				"tx", batch.TxHash, "log_index", cl.Log.Index, "error", err)
			return
		}
		facts.AddNonceChange(domain.NonceChange{
			Kind:  domain.OrderKindLooksRare,
			Maker: user.Hex(),
			Nonce: nonce,
			Tx:    batch.TxContext(cl.Log),
		})
	}
}

var _ Handler = (*LooksRareHandler)(nil)
