// Package fanout dispatches cache change events to downstream consumers:
// websocket subscribers, operator notifications, and the activity log.
// Dispatch is synchronous within the publishing job so a listener failure
// stays attributable to the job that caused it; one listener's error never
// stops delivery to the others.
package fanout

import (
	"context"
	"log/slog"
	"sync"

	"github.com/alanyoungcy/floorsync/internal/domain"
)

// Bus is the in-process fan-out dispatcher.
type Bus struct {
	mu        sync.RWMutex
	listeners []domain.CacheListener
	logger    *slog.Logger
}

// NewBus creates an empty dispatcher.
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{logger: logger.With("component", "fanout")}
}

// Register implements domain.EventBus. Listeners registered after publishing
// started receive only subsequent events.
func (b *Bus) Register(l domain.CacheListener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = append(b.listeners, l)
}

// Publish implements domain.EventBus.
func (b *Bus) Publish(ctx context.Context, ev domain.CacheChangeEvent) {
	b.mu.RLock()
	listeners := b.listeners
	b.mu.RUnlock()

	for _, l := range listeners {
		if err := l.OnCacheChange(ctx, ev); err != nil {
			b.logger.Error("listener failed",
				"listener", l.Name(), "event_kind", ev.Kind, "event_id", ev.ID, "error", err)
		}
	}
}

// Compile-time interface check.
var _ domain.EventBus = (*Bus)(nil)
