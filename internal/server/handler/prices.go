package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/floorsync/internal/domain"
)

// PriceHandler serves the cached floor and top-bid pointers.
type PriceHandler struct {
	tokens      domain.TokenStore
	collections domain.CollectionStore
	logger      *slog.Logger
}

// NewPriceHandler creates a PriceHandler.
func NewPriceHandler(tokens domain.TokenStore, collections domain.CollectionStore, logger *slog.Logger) *PriceHandler {
	return &PriceHandler{
		tokens:      tokens,
		collections: collections,
		logger:      logHandler(logger, "prices"),
	}
}

func priceString(v *decimal.Decimal) string {
	if v == nil {
		return ""
	}
	return v.String()
}

// GetToken returns one token with its cached floor pointer.
// GET /api/tokens/{contract}/{token_id}
func (h *PriceHandler) GetToken(w http.ResponseWriter, r *http.Request) {
	contract := pathParam(r, "contract")
	tokenID := pathParam(r, "token_id")
	if contract == "" || tokenID == "" {
		writeError(w, http.StatusBadRequest, "missing contract or token id")
		return
	}

	token, err := h.tokens.GetByID(r.Context(), contract, tokenID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "token not found")
			return
		}
		h.logger.Error("get token failed",
			slog.String("contract", contract), slog.String("token_id", tokenID),
			slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to load token")
		return
	}

	resp := map[string]any{
		"contract":      token.Contract,
		"token_id":      token.TokenID,
		"collection_id": token.CollectionID,
		"updated_at":    token.UpdatedAt,
	}
	if token.FloorSellID != nil {
		resp["floor_sell_id"] = *token.FloorSellID
		resp["floor_sell_value"] = priceString(token.FloorSellValue)
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetCollection returns one collection with its cached floor and top-bid
// pointers.
// GET /api/collections/{id}
func (h *PriceHandler) GetCollection(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing collection id")
		return
	}

	collection, err := h.collections.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "collection not found")
			return
		}
		h.logger.Error("get collection failed", slog.String("id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to load collection")
		return
	}

	resp := map[string]any{
		"id":          collection.ID,
		"contract":    collection.Contract,
		"name":        collection.Name,
		"royalty_bps": collection.RoyaltyBps,
		"updated_at":  collection.UpdatedAt,
	}
	if collection.FloorSellID != nil {
		resp["floor_sell_id"] = *collection.FloorSellID
		resp["floor_sell_value"] = priceString(collection.FloorSellValue)
	}
	if collection.TopBuyID != nil {
		resp["top_buy_id"] = *collection.TopBuyID
		resp["top_buy_value"] = priceString(collection.TopBuyValue)
	}
	writeJSON(w, http.StatusOK, resp)
}
