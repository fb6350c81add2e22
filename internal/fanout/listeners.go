package fanout

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/floorsync/internal/domain"
	"github.com/alanyoungcy/floorsync/internal/notify"
)

// ActivityLogger records every cache transition in the structured log. It is
// the cheapest consumer and doubles as the audit trail during incidents.
type ActivityLogger struct {
	logger *slog.Logger
}

// NewActivityLogger wires the listener.
func NewActivityLogger(logger *slog.Logger) *ActivityLogger {
	return &ActivityLogger{logger: logger.With("component", "activity")}
}

// Name implements domain.CacheListener.
func (a *ActivityLogger) Name() string { return "activity-log" }

// OnCacheChange implements domain.CacheListener.
func (a *ActivityLogger) OnCacheChange(_ context.Context, ev domain.CacheChangeEvent) error {
	attrs := []any{
		"kind", ev.Kind,
		"trigger", ev.Trigger,
		"subject", subject(ev),
		"zeroed", ev.Zeroed(),
	}
	if ev.Price != nil {
		attrs = append(attrs, "price", ev.Price.String())
	}
	if ev.PreviousPrice != nil {
		attrs = append(attrs, "previous", ev.PreviousPrice.String())
	}
	if ev.Tx != nil && ev.Tx.TxHash != "" {
		attrs = append(attrs, "tx", ev.Tx.TxHash)
	}
	a.logger.Info("cache change", attrs...)
	return nil
}

// NotifierListener forwards collection-level transitions to the operator
// notification channels. Token-level churn is far too noisy to alert on.
type NotifierListener struct {
	notifier *notify.Notifier
}

// NewNotifierListener wires the listener.
func NewNotifierListener(notifier *notify.Notifier) *NotifierListener {
	return &NotifierListener{notifier: notifier}
}

// Name implements domain.CacheListener.
func (n *NotifierListener) Name() string { return "notifier" }

// OnCacheChange implements domain.CacheListener.
func (n *NotifierListener) OnCacheChange(ctx context.Context, ev domain.CacheChangeEvent) error {
	switch ev.Kind {
	case domain.ChangeCollectionFloorSell, domain.ChangeCollectionTopBuy:
	default:
		return nil
	}

	title := fmt.Sprintf("%s changed", ev.Kind)
	body := fmt.Sprintf("collection %s: %s (trigger %s)", ev.CollectionID, describe(ev), ev.Trigger)
	return n.notifier.Notify(ctx, string(ev.Kind), title, body)
}

func subject(ev domain.CacheChangeEvent) string {
	switch ev.Kind {
	case domain.ChangeTokenFloorSell:
		return ev.Contract + ":" + ev.TokenID
	case domain.ChangeTokenSetTopBuy:
		return ev.TokenSetID
	default:
		return ev.CollectionID
	}
}

func describe(ev domain.CacheChangeEvent) string {
	if ev.Zeroed() {
		return "cleared"
	}
	if ev.PreviousPrice == nil {
		return fmt.Sprintf("set to %s", ev.Price)
	}
	return fmt.Sprintf("%s -> %s", ev.PreviousPrice, ev.Price)
}

var (
	_ domain.CacheListener = (*ActivityLogger)(nil)
	_ domain.CacheListener = (*NotifierListener)(nil)
)
