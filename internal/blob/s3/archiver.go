package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/floorsync/internal/domain"
)

// archiveBatch bounds how many events one list-upload-delete round handles.
const archiveBatch = 5000

// archivedKinds is the set of cache change logs the archiver rotates.
var archivedKinds = []domain.CacheChangeKind{
	domain.ChangeTokenFloorSell,
	domain.ChangeTokenSetTopBuy,
	domain.ChangeCollectionFloorSell,
	domain.ChangeCollectionTopBuy,
}

// Archiver ships aged cache change events out of the hot store: it reads
// events older than the retention cutoff, serializes them to JSONL, uploads
// the file, and only then deletes the rows. A crash between upload and delete
// re-archives the same events on the next pass, which duplicates lines in the
// archive but never loses any.
type Archiver struct {
	writer domain.BlobWriter
	events domain.CacheEventStore
	logger *slog.Logger
}

// NewArchiver creates an Archiver.
func NewArchiver(writer domain.BlobWriter, events domain.CacheEventStore, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer: writer,
		events: events,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// archivedEvent is the JSONL line format. The event log table has no JSON
// shape of its own, so the archive pins one explicitly.
type archivedEvent struct {
	ID           int64  `json:"id"`
	Kind         string `json:"kind"`
	Contract     string `json:"contract,omitempty"`
	TokenID      string `json:"token_id,omitempty"`
	TokenSetID   string `json:"token_set_id,omitempty"`
	CollectionID string `json:"collection_id,omitempty"`
	OrderID      string `json:"order_id,omitempty"`
	Price        string `json:"price,omitempty"`
	Previous     string `json:"previous_price,omitempty"`
	Trigger      string `json:"trigger"`
	TxHash       string `json:"tx_hash,omitempty"`
	BlockHash    string `json:"block_hash,omitempty"`
	CreatedAt    string `json:"created_at"`
}

func toArchived(ev domain.CacheChangeEvent) archivedEvent {
	out := archivedEvent{
		ID:           ev.ID,
		Kind:         string(ev.Kind),
		Contract:     ev.Contract,
		TokenID:      ev.TokenID,
		TokenSetID:   ev.TokenSetID,
		CollectionID: ev.CollectionID,
		Trigger:      string(ev.Trigger),
		CreatedAt:    ev.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if ev.OrderID != nil {
		out.OrderID = *ev.OrderID
	}
	if ev.Price != nil {
		out.Price = ev.Price.String()
	}
	if ev.PreviousPrice != nil {
		out.Previous = ev.PreviousPrice.String()
	}
	if ev.Tx != nil {
		out.TxHash = ev.Tx.TxHash
		out.BlockHash = ev.Tx.BlockHash
	}
	return out
}

// ArchiveEvents rotates every cache change log in turn and returns the total
// number of events archived.
func (a *Archiver) ArchiveEvents(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	for _, kind := range archivedKinds {
		n, err := a.archiveKind(ctx, kind, before)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// archiveKind drains one event log in batches until no events older than the
// cutoff remain.
func (a *Archiver) archiveKind(ctx context.Context, kind domain.CacheChangeKind, before time.Time) (int64, error) {
	var total int64
	for {
		events, err := a.events.ListBefore(ctx, kind, before, archiveBatch)
		if err != nil {
			return total, fmt.Errorf("s3blob: list %s events: %w", kind, err)
		}
		if len(events) == 0 {
			return total, nil
		}

		buf, err := marshalJSONL(events)
		if err != nil {
			return total, fmt.Errorf("s3blob: marshal %s events: %w", kind, err)
		}

		// Batches within one cutoff are disambiguated by the last event id so
		// a multi-batch drain never overwrites its own uploads.
		path := archivePath(kind, before, events[len(events)-1].ID)
		if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
			return total, fmt.Errorf("s3blob: upload %s archive: %w", kind, err)
		}

		// A full batch may not cover everything under the cutoff, so the
		// delete only reaches as far as the batch provably does. Events
		// sharing the last batch timestamp are re-listed (and re-uploaded)
		// on the next round.
		deleteBefore := before
		if len(events) == archiveBatch {
			deleteBefore = events[len(events)-1].CreatedAt
		}
		deleted, err := a.events.DeleteBefore(ctx, kind, deleteBefore)
		if err != nil {
			return total, fmt.Errorf("s3blob: delete archived %s events: %w", kind, err)
		}

		total += int64(len(events))
		a.logger.Info("events archived",
			slog.String("kind", string(kind)),
			slog.String("path", path),
			slog.Int("uploaded", len(events)),
			slog.Int64("deleted", deleted))

		if len(events) < archiveBatch {
			return total, nil
		}
	}
}

// Run rotates the event logs on the given cadence, keeping retention worth of
// events in the hot store, until the context ends.
func (a *Archiver) Run(ctx context.Context, every, retention time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		cutoff := time.Now().UTC().Add(-retention)
		if _, err := a.ArchiveEvents(ctx, cutoff); err != nil {
			a.logger.Error("archive pass failed", slog.String("error", err.Error()))
		}
	}
}

// archivePath builds the object key for an archive file, partitioned by the
// year-month of the cutoff:
//
//	archive/token-floor-sell/2026-08/evt-184223.jsonl
func archivePath(kind domain.CacheChangeKind, before time.Time, lastID int64) string {
	return fmt.Sprintf("archive/%s/%s/evt-%d.jsonl", kind, before.Format("2006-01"), lastID)
}

// marshalJSONL serialises events as newline-delimited JSON, one compact line
// per event.
func marshalJSONL(events []domain.CacheChangeEvent) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, ev := range events {
		if err := enc.Encode(toArchived(ev)); err != nil {
			return nil, fmt.Errorf("jsonl encode event %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
