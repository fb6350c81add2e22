package domain

import "context"

// CacheListener receives cache change events from the fan-out dispatcher.
type CacheListener interface {
	// OnCacheChange handles one event. Errors are logged by the dispatcher
	// and do not stop delivery to other listeners.
	OnCacheChange(ctx context.Context, ev CacheChangeEvent) error
	// Name identifies the listener in logs.
	Name() string
}

// EventBus routes cache change events to registered listeners. Dispatch is
// synchronous within the publishing job's execution so failures stay
// attributable to the job that caused them.
type EventBus interface {
	Publish(ctx context.Context, ev CacheChangeEvent)
	Register(l CacheListener)
}
