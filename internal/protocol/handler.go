package protocol

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/floorsync/internal/domain"
	"github.com/alanyoungcy/floorsync/internal/events"
)

// NonceSource exposes the maker master-nonce bookkeeping handlers consult
// when reconstructing order identities from calldata.
type NonceSource interface {
	MasterNonce(ctx context.Context, kind domain.OrderKind, maker string) (uint64, error)
}

// OrderLookup is the read-only order access handlers use to resolve
// identities. Handlers never write stores; they only append facts.
type OrderLookup interface {
	GetByID(ctx context.Context, id string) (domain.Order, error)
	GetByMakerNonce(ctx context.Context, kind domain.OrderKind, maker string, nonce uint64) (domain.Order, error)
}

// Handler extracts the on-chain facts of one protocol from an event batch.
type Handler interface {
	Kind() domain.OrderKind
	HandleEventBatch(ctx context.Context, batch *events.EventBatch, facts *domain.OnChainFacts) error
}

// Registry dispatches event batches to the handlers of every protocol that
// matched in the batch.
type Registry struct {
	handlers map[domain.OrderKind]Handler
	logger   *slog.Logger
}

// NewHandlerRegistry wires the given handlers into a dispatch registry.
func NewHandlerRegistry(logger *slog.Logger, handlers ...Handler) (*Registry, error) {
	r := &Registry{
		handlers: make(map[domain.OrderKind]Handler, len(handlers)),
		logger:   logger.With("component", "protocol"),
	}
	for _, h := range handlers {
		if !h.Kind().Valid() {
			return nil, fmt.Errorf("protocol: register handler: %w: %q", domain.ErrUnknownKind, h.Kind())
		}
		if _, dup := r.handlers[h.Kind()]; dup {
			return nil, fmt.Errorf("protocol: duplicate handler for kind %q", h.Kind())
		}
		r.handlers[h.Kind()] = h
	}
	return r, nil
}

// Dispatch runs every matching protocol handler over the batch, accumulating
// facts. A handler error aborts the dispatch so the block job retries whole.
func (r *Registry) Dispatch(ctx context.Context, batch *events.EventBatch, facts *domain.OnChainFacts) error {
	for kind := range batch.Kinds() {
		h, ok := r.handlers[kind]
		if !ok {
			r.logger.Warn("no handler registered", "kind", kind, "tx", batch.TxHash)
			continue
		}
		if err := h.HandleEventBatch(ctx, batch, facts); err != nil {
			return fmt.Errorf("protocol: handle %s batch %s: %w", kind, batch.TxHash, err)
		}
	}
	return nil
}
