package reconcile

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/floorsync/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeTokenStore struct {
	refreshed []string
	// event returned for every refresh; nil means no-op recompute.
	event *domain.CacheChangeEvent
}

func (f *fakeTokenStore) Upsert(ctx context.Context, t domain.Token) error { return nil }
func (f *fakeTokenStore) GetByID(ctx context.Context, contract, tokenID string) (domain.Token, error) {
	return domain.Token{}, domain.ErrNotFound
}
func (f *fakeTokenStore) RefreshFloorSell(ctx context.Context, contract, tokenID string, trigger domain.TriggerKind, tx *domain.TxContext) (*domain.CacheChangeEvent, error) {
	f.refreshed = append(f.refreshed, contract+":"+tokenID)
	if f.event == nil {
		return nil, nil
	}
	ev := *f.event
	return &ev, nil
}

type fakeSetStore struct {
	collection string
	tokens     []domain.Token
	topBuy     *domain.CacheChangeEvent
	missing    bool

	topBuyCalls int
}

func (f *fakeSetStore) Upsert(ctx context.Context, ts domain.TokenSet) error { return nil }
func (f *fakeSetStore) GetByID(ctx context.Context, id string) (domain.TokenSet, error) {
	return domain.TokenSet{}, domain.ErrNotFound
}
func (f *fakeSetStore) TokensOf(ctx context.Context, id string) ([]domain.Token, error) {
	return f.tokens, nil
}
func (f *fakeSetStore) CollectionOf(ctx context.Context, id string) (string, error) {
	if f.missing {
		return "", domain.ErrNotFound
	}
	return f.collection, nil
}
func (f *fakeSetStore) RefreshTopBuy(ctx context.Context, id string, trigger domain.TriggerKind, tx *domain.TxContext) (*domain.CacheChangeEvent, error) {
	f.topBuyCalls++
	if f.topBuy == nil {
		return nil, nil
	}
	ev := *f.topBuy
	return &ev, nil
}

type fakeCollectionStore struct {
	floorCalls  int
	topBuyCalls int
	floorEvent  *domain.CacheChangeEvent
}

func (f *fakeCollectionStore) Upsert(ctx context.Context, c domain.Collection) error { return nil }
func (f *fakeCollectionStore) GetByID(ctx context.Context, id string) (domain.Collection, error) {
	return domain.Collection{}, domain.ErrNotFound
}
func (f *fakeCollectionStore) RefreshFloorSell(ctx context.Context, id string, trigger domain.TriggerKind, tx *domain.TxContext) (*domain.CacheChangeEvent, error) {
	f.floorCalls++
	if f.floorEvent == nil {
		return nil, nil
	}
	ev := *f.floorEvent
	return &ev, nil
}
func (f *fakeCollectionStore) RefreshTopBuy(ctx context.Context, id string, trigger domain.TriggerKind, tx *domain.TxContext) (*domain.CacheChangeEvent, error) {
	f.topBuyCalls++
	return nil, nil
}

type fakeLocks struct {
	held     map[string]bool
	acquired []string
}

func (f *fakeLocks) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	if f.held[key] {
		return nil, domain.ErrLockHeld
	}
	f.acquired = append(f.acquired, key)
	return func() {}, nil
}
func (f *fakeLocks) Exists(ctx context.Context, key string) (bool, error) {
	return f.held[key], nil
}

type fakeBus struct {
	published []domain.CacheChangeEvent
}

func (f *fakeBus) Publish(ctx context.Context, ev domain.CacheChangeEvent) {
	f.published = append(f.published, ev)
}
func (f *fakeBus) Register(l domain.CacheListener) {}

// ---------------------------------------------------------------------------

func newTestReconciler(tokens *fakeTokenStore, sets *fakeSetStore, collections *fakeCollectionStore, locks *fakeLocks, bus *fakeBus) *Reconciler {
	if locks.held == nil {
		locks.held = map[string]bool{}
	}
	return NewReconciler(tokens, sets, collections, locks, bus, testLogger())
}

func TestReconcileFloorChangeCascades(t *testing.T) {
	price := decimal.NewFromInt(5)
	orderID := "0xabc"
	tokens := &fakeTokenStore{event: &domain.CacheChangeEvent{
		Kind:    domain.ChangeTokenFloorSell,
		OrderID: &orderID,
		Price:   &price,
	}}
	sets := &fakeSetStore{
		collection: "0xcoll",
		tokens:     []domain.Token{{Contract: "0xc", TokenID: "1"}},
	}
	collections := &fakeCollectionStore{}
	bus := &fakeBus{}
	r := newTestReconciler(tokens, sets, collections, &fakeLocks{}, bus)

	err := r.ReconcileTokenSet(context.Background(), "token:0xc:1", domain.TriggerNewOrder, nil)
	if err != nil {
		t.Fatalf("ReconcileTokenSet: %v", err)
	}

	if len(tokens.refreshed) != 1 || tokens.refreshed[0] != "0xc:1" {
		t.Fatalf("refreshed tokens: %v", tokens.refreshed)
	}
	if len(bus.published) != 1 {
		t.Fatalf("expected 1 published event, got %d", len(bus.published))
	}
	if bus.published[0].CollectionID != "0xcoll" {
		t.Fatalf("published event missing collection attribution: %+v", bus.published[0])
	}
	// A dirty token pass must cascade to the collection aggregates.
	if collections.floorCalls != 1 || collections.topBuyCalls != 1 {
		t.Fatalf("collection refreshes = %d/%d, want 1/1", collections.floorCalls, collections.topBuyCalls)
	}
}

func TestReconcileNoChangeStopsCascade(t *testing.T) {
	tokens := &fakeTokenStore{}
	sets := &fakeSetStore{
		collection: "0xcoll",
		tokens:     []domain.Token{{Contract: "0xc", TokenID: "1"}},
	}
	collections := &fakeCollectionStore{}
	bus := &fakeBus{}
	r := newTestReconciler(tokens, sets, collections, &fakeLocks{}, bus)

	err := r.ReconcileTokenSet(context.Background(), "token:0xc:1", domain.TriggerNewOrder, nil)
	if err != nil {
		t.Fatalf("ReconcileTokenSet: %v", err)
	}
	if len(bus.published) != 0 {
		t.Fatalf("no-op recompute published %d events", len(bus.published))
	}
	if collections.floorCalls != 0 || collections.topBuyCalls != 0 {
		t.Fatal("no-op recompute must not touch collection aggregates")
	}
}

func TestReconcileRevalidationForcesCollectionRecompute(t *testing.T) {
	for _, trigger := range []domain.TriggerKind{domain.TriggerRevalidation, domain.TriggerReorg} {
		tokens := &fakeTokenStore{}
		sets := &fakeSetStore{collection: "0xcoll"}
		collections := &fakeCollectionStore{}
		r := newTestReconciler(tokens, sets, collections, &fakeLocks{}, &fakeBus{})

		err := r.ReconcileTokenSet(context.Background(), "token:0xc:1", trigger, nil)
		if err != nil {
			t.Fatalf("trigger %s: %v", trigger, err)
		}
		// Even with nothing dirty, the aggregate may have to record a zeroing.
		if collections.floorCalls != 1 {
			t.Fatalf("trigger %s: collection floor refreshes = %d, want 1", trigger, collections.floorCalls)
		}
	}
}

func TestReconcileZeroedCollectionEventPublished(t *testing.T) {
	sets := &fakeSetStore{collection: "0xcoll"}
	collections := &fakeCollectionStore{
		floorEvent: &domain.CacheChangeEvent{
			Kind:         domain.ChangeCollectionFloorSell,
			CollectionID: "0xcoll",
			// OrderID nil: the cache went empty.
		},
	}
	bus := &fakeBus{}
	r := newTestReconciler(&fakeTokenStore{}, sets, collections, &fakeLocks{}, bus)

	err := r.ReconcileTokenSet(context.Background(), "token:0xc:1", domain.TriggerReorg, nil)
	if err != nil {
		t.Fatalf("ReconcileTokenSet: %v", err)
	}
	if len(bus.published) != 1 || !bus.published[0].Zeroed() {
		t.Fatalf("expected one zeroed collection event, got %+v", bus.published)
	}
}

func TestReconcileMissingTokenSetStillZeroesCollection(t *testing.T) {
	sets := &fakeSetStore{missing: true}
	collections := &fakeCollectionStore{
		floorEvent: &domain.CacheChangeEvent{
			Kind:         domain.ChangeCollectionFloorSell,
			CollectionID: "0xgone",
		},
	}
	bus := &fakeBus{}
	r := newTestReconciler(&fakeTokenStore{}, sets, collections, &fakeLocks{}, bus)

	err := r.ReconcileTokenSet(context.Background(), "token:0xgone:1", domain.TriggerRevalidation, nil)
	if err != nil {
		t.Fatalf("ReconcileTokenSet: %v", err)
	}
	// The collection is derived from the set id, so the aggregates are still
	// recomputed even though the set rows are gone.
	if collections.floorCalls != 1 || collections.topBuyCalls != 1 {
		t.Fatalf("collection refreshes = %d/%d, want 1/1", collections.floorCalls, collections.topBuyCalls)
	}
	if len(bus.published) != 1 || !bus.published[0].Zeroed() {
		t.Fatalf("expected one zeroed collection event, got %+v", bus.published)
	}
}

func TestReconcileUnparseableMissingSetIsNoop(t *testing.T) {
	sets := &fakeSetStore{missing: true}
	collections := &fakeCollectionStore{}
	r := newTestReconciler(&fakeTokenStore{}, sets, collections, &fakeLocks{}, &fakeBus{})

	if err := r.ReconcileTokenSet(context.Background(), "not-a-set-id", domain.TriggerCancel, nil); err != nil {
		t.Fatalf("unparseable missing set should reconcile to nothing: %v", err)
	}
	if collections.floorCalls != 0 {
		t.Fatal("unparseable set id must not touch collections")
	}
}

func TestReconcileCollectionLockHeldDefers(t *testing.T) {
	sets := &fakeSetStore{collection: "0xcoll"}
	collections := &fakeCollectionStore{}
	locks := &fakeLocks{held: map[string]bool{
		collectionLockKey("0xcoll"): true,
	}}
	r := newTestReconciler(&fakeTokenStore{}, sets, collections, locks, &fakeBus{})

	err := r.ReconcileTokenSet(context.Background(), "token:0xc:1", domain.TriggerRevalidation, nil)
	if err != nil {
		t.Fatalf("deferred recompute must not error: %v", err)
	}
	if collections.floorCalls != 0 {
		t.Fatal("held lock must prevent the aggregate recompute")
	}
	// The deferral marker was recorded for the next trigger to observe.
	found := false
	for _, key := range locks.acquired {
		if key == requestedLockKey("0xcoll") {
			found = true
		}
	}
	if !found {
		t.Fatalf("deferral marker not recorded, acquired: %v", locks.acquired)
	}
}

func TestReconcileBothLocksHeldIsSilentNoop(t *testing.T) {
	sets := &fakeSetStore{collection: "0xcoll"}
	collections := &fakeCollectionStore{}
	locks := &fakeLocks{held: map[string]bool{
		collectionLockKey("0xcoll"): true,
		requestedLockKey("0xcoll"):  true,
	}}
	r := newTestReconciler(&fakeTokenStore{}, sets, collections, locks, &fakeBus{})

	err := r.ReconcileTokenSet(context.Background(), "token:0xc:1", domain.TriggerRevalidation, nil)
	if err != nil {
		t.Fatalf("piled-up trigger must not error: %v", err)
	}
	if collections.floorCalls != 0 {
		t.Fatal("held lock must prevent the aggregate recompute")
	}
}

func TestHandleJobDecodesPayload(t *testing.T) {
	tokens := &fakeTokenStore{}
	sets := &fakeSetStore{
		collection: "0xcoll",
		tokens:     []domain.Token{{Contract: "0xc", TokenID: "9"}},
	}
	r := newTestReconciler(tokens, sets, &fakeCollectionStore{}, &fakeLocks{}, &fakeBus{})

	payload, err := json.Marshal(JobPayload{TokenSetID: "token:0xc:9", Trigger: domain.TriggerSale})
	if err != nil {
		t.Fatal(err)
	}
	job := domain.Job{ID: "j1", Queue: QueueName, Payload: payload}

	if err := r.HandleJob(context.Background(), job); err != nil {
		t.Fatalf("HandleJob: %v", err)
	}
	if len(tokens.refreshed) != 1 {
		t.Fatalf("job did not drive the recompute: %v", tokens.refreshed)
	}

	bad := domain.Job{ID: "j2", Queue: QueueName, Payload: []byte("{")}
	if err := r.HandleJob(context.Background(), bad); err == nil {
		t.Fatal("expected decode error for malformed payload")
	}
}
