package fanout

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/alanyoungcy/floorsync/internal/domain"
)

type recordingListener struct {
	name     string
	err      error
	received []domain.CacheChangeEvent
}

func (l *recordingListener) Name() string { return l.name }
func (l *recordingListener) OnCacheChange(ctx context.Context, ev domain.CacheChangeEvent) error {
	l.received = append(l.received, ev)
	return l.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBusDeliversToAllListeners(t *testing.T) {
	bus := NewBus(testLogger())
	a := &recordingListener{name: "a"}
	b := &recordingListener{name: "b"}
	bus.Register(a)
	bus.Register(b)

	ev := domain.CacheChangeEvent{ID: 1, Kind: domain.ChangeTokenFloorSell}
	bus.Publish(context.Background(), ev)

	if len(a.received) != 1 || len(b.received) != 1 {
		t.Fatalf("delivery counts = %d/%d, want 1/1", len(a.received), len(b.received))
	}
}

func TestBusListenerErrorDoesNotStopDelivery(t *testing.T) {
	bus := NewBus(testLogger())
	failing := &recordingListener{name: "failing", err: errors.New("boom")}
	healthy := &recordingListener{name: "healthy"}
	bus.Register(failing)
	bus.Register(healthy)

	bus.Publish(context.Background(), domain.CacheChangeEvent{ID: 2})

	if len(healthy.received) != 1 {
		t.Fatal("failure in one listener starved the next")
	}
}

func TestBusLateRegistrationSeesOnlyNewEvents(t *testing.T) {
	bus := NewBus(testLogger())
	early := &recordingListener{name: "early"}
	bus.Register(early)

	bus.Publish(context.Background(), domain.CacheChangeEvent{ID: 1})

	late := &recordingListener{name: "late"}
	bus.Register(late)
	bus.Publish(context.Background(), domain.CacheChangeEvent{ID: 2})

	if len(early.received) != 2 {
		t.Fatalf("early listener saw %d events, want 2", len(early.received))
	}
	if len(late.received) != 1 || late.received[0].ID != 2 {
		t.Fatalf("late listener saw %+v, want only event 2", late.received)
	}
}
