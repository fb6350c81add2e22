package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/floorsync/internal/domain"
	"github.com/alanyoungcy/floorsync/internal/ingest"
)

// OrderHandler serves order submission and lookup.
type OrderHandler struct {
	ingest *ingest.Service
	orders domain.OrderStore
	logger *slog.Logger
}

// NewOrderHandler creates an OrderHandler.
func NewOrderHandler(svc *ingest.Service, orders domain.OrderStore, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{
		ingest: svc,
		orders: orders,
		logger: logHandler(logger, "orders"),
	}
}

// orderView is the JSON shape of a persisted order.
type orderView struct {
	ID          string `json:"id"`
	Kind        string `json:"kind"`
	Side        string `json:"side"`
	Fillability string `json:"fillability"`
	Approval    string `json:"approval"`
	Active      bool   `json:"active"`

	TokenSetID string `json:"token_set_id"`
	Maker      string `json:"maker"`
	Taker      string `json:"taker,omitempty"`

	Price    string `json:"price"`
	Value    string `json:"value"`
	Currency string `json:"currency"`

	ValidFrom  int64 `json:"valid_from"`
	ValidUntil int64 `json:"valid_until,omitempty"`

	QuantityRemaining int64  `json:"quantity_remaining"`
	Nonce             uint64 `json:"nonce"`
	Source            string `json:"source,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toOrderView(o domain.Order) orderView {
	v := orderView{
		ID:                o.ID,
		Kind:              string(o.Kind),
		Side:              string(o.Side),
		Fillability:       string(o.Fillability),
		Approval:          string(o.Approval),
		Active:            o.IsActive(),
		TokenSetID:        o.TokenSetID,
		Maker:             o.Maker,
		Taker:             o.Taker,
		Price:             o.Price.String(),
		Value:             o.Value.String(),
		Currency:          o.Currency,
		ValidFrom:         o.ValidFrom.Unix(),
		QuantityRemaining: o.QuantityRemaining,
		Nonce:             o.Nonce,
		Source:            o.Source,
		CreatedAt:         o.CreatedAt,
		UpdatedAt:         o.UpdatedAt,
	}
	if !o.ValidUntil.IsZero() {
		v.ValidUntil = o.ValidUntil.Unix()
	}
	return v
}

// SubmitOrder accepts a signed order submission and runs it through the
// ingestion pipeline. Expected rejections come back as 200 with a status in
// the body; only infrastructure failures produce a 5xx.
// POST /api/orders
func (h *OrderHandler) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	var raw ingest.RawOrder
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	result, err := h.ingest.SubmitOrder(r.Context(), raw)
	if err != nil {
		h.logger.Error("submit order failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to submit order")
		return
	}

	status := http.StatusOK
	if result.Status == ingest.StatusSuccess {
		status = http.StatusCreated
	}
	writeJSON(w, status, result)
}

// GetOrder returns one order by its canonical id.
// GET /api/orders/{id}
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	order, err := h.orders.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		h.logger.Error("get order failed", slog.String("id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to load order")
		return
	}

	writeJSON(w, http.StatusOK, toOrderView(order))
}
