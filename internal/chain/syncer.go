package chain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/floorsync/internal/domain"
	"github.com/alanyoungcy/floorsync/internal/reconcile"
)

// QueueBlockSync is the queue carrying block sync jobs.
const QueueBlockSync = "block-sync"

// WatermarkHead is the watermark key tracking the last fully synced height.
const WatermarkHead = "chain:head"

// traceConcurrency bounds parallel debug_traceTransaction calls per block.
const traceConcurrency = 8

// SyncJobPayload is the payload of a queued block sync job.
type SyncJobPayload struct {
	Number uint64 `json:"number"`
}

// NewSyncJob builds a dedupable sync job for the given height.
func NewSyncJob(number uint64) (domain.Job, error) {
	payload, err := json.Marshal(SyncJobPayload{Number: number})
	if err != nil {
		return domain.Job{}, fmt.Errorf("chain: marshal sync job %d: %w", number, err)
	}
	return domain.Job{
		ID:      fmt.Sprintf("block-sync:%d", number),
		Queue:   QueueBlockSync,
		Payload: payload,
	}, nil
}

// SyncResult carries everything extracted from one synced block.
type SyncResult struct {
	Block  domain.Block
	Logs   []*types.Log
	Traces map[string]*domain.CallFrame // by tx hash
}

// Syncer drives block ingestion: fetch, persist, detect gaps and reorgs.
type Syncer struct {
	client     *Client
	blocks     domain.BlockStore
	facts      domain.FactStore
	watermarks domain.WatermarkStore
	queue      domain.TaskQueue
	logger     *slog.Logger
}

// NewSyncer wires a Syncer.
func NewSyncer(client *Client, blocks domain.BlockStore, facts domain.FactStore, watermarks domain.WatermarkStore, queue domain.TaskQueue, logger *slog.Logger) *Syncer {
	return &Syncer{
		client:     client,
		blocks:     blocks,
		facts:      facts,
		watermarks: watermarks,
		queue:      queue,
		logger:     logger.With("component", "syncer"),
	}
}

// LatestBlockNumber exposes the upstream head height.
func (s *Syncer) LatestBlockNumber(ctx context.Context) (uint64, error) {
	return s.client.LatestBlockNumber(ctx)
}

// EnqueueSync schedules a sync job on the block queue.
func (s *Syncer) EnqueueSync(ctx context.Context, job domain.Job) error {
	return s.queue.Enqueue(ctx, job)
}

// SyncBlock fetches and persists the block at the given height and returns
// its logs and traces for classification. Re-running the same height is
// idempotent: the block upsert is conflict-free and every downstream write
// dedups on its own keys.
func (s *Syncer) SyncBlock(ctx context.Context, number uint64) (*SyncResult, error) {
	started := time.Now()

	block, err := s.client.BlockByNumber(ctx, number)
	if err != nil {
		return nil, err
	}

	var (
		receipts []*types.Receipt
		traces   = make(map[string]*domain.CallFrame, len(block.Transactions()))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		receipts, err = s.client.BlockReceipts(gctx, block)
		return err
	})

	tg, tctx := errgroup.WithContext(ctx)
	tg.SetLimit(traceConcurrency)
	traceCh := make(chan struct {
		hash  string
		frame *domain.CallFrame
	}, len(block.Transactions()))
	for _, tx := range block.Transactions() {
		tg.Go(func() error {
			frame, err := s.client.TraceTransaction(tctx, tx.Hash())
			if err != nil {
				return err
			}
			if frame != nil {
				traceCh <- struct {
					hash  string
					frame *domain.CallFrame
				}{tx.Hash().Hex(), frame}
			}
			return nil
		})
	}
	g.Go(func() error {
		if err := tg.Wait(); err != nil {
			return err
		}
		close(traceCh)
		for t := range traceCh {
			traces[t.hash] = t.frame
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}

	b := domain.Block{
		Number:     block.NumberU64(),
		Hash:       block.Hash().Hex(),
		ParentHash: block.ParentHash().Hex(),
		Timestamp:  time.Unix(int64(block.Time()), 0).UTC(),
	}
	if err := s.blocks.Upsert(ctx, b); err != nil {
		return nil, err
	}

	var logs []*types.Log
	for _, r := range receipts {
		logs = append(logs, r.Logs...)
	}

	// The watermark moves only after the block row is durable, so a crash
	// between fetch and persist replays the same height.
	current, ok, err := s.watermarks.Get(ctx, WatermarkHead)
	if err != nil {
		return nil, err
	}
	if !ok || number > current {
		if err := s.watermarks.Set(ctx, WatermarkHead, number); err != nil {
			return nil, err
		}
	}

	s.logger.Info("block synced",
		"number", number, "hash", b.Hash,
		"txs", len(block.Transactions()), "logs", len(logs),
		"took", time.Since(started))

	return &SyncResult{Block: b, Logs: logs, Traces: traces}, nil
}

// CheckForMissingBlocks enqueues one sync job per height between the
// watermark and the given head. Gaps are never skipped.
func (s *Syncer) CheckForMissingBlocks(ctx context.Context, head uint64) error {
	current, ok, err := s.watermarks.Get(ctx, WatermarkHead)
	if err != nil {
		return err
	}
	if !ok || head <= current+1 {
		return nil
	}

	for n := current + 1; n < head; n++ {
		job, err := NewSyncJob(n)
		if err != nil {
			return err
		}
		if err := s.queue.Enqueue(ctx, job); err != nil {
			return err
		}
	}
	s.logger.Warn("gap detected, backfilling", "from", current+1, "to", head-1)
	return nil
}

// CheckForOrphanedBlock compares the persisted hash at the height against the
// upstream chain. On a mismatch every event derived from the stale hash is
// deleted, the block row removed, reorg reconciliation enqueued for the token
// sets the stale facts touched, and the height re-queued for a fresh sync.
func (s *Syncer) CheckForOrphanedBlock(ctx context.Context, number uint64) error {
	stored, err := s.blocks.GetByNumber(ctx, number)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	}

	upstream, err := s.client.BlockByNumber(ctx, number)
	if err != nil {
		return err
	}
	if upstream.Hash().Hex() == stored.Hash {
		return nil
	}

	s.logger.Warn("orphaned block detected",
		"number", number, "stored_hash", stored.Hash, "upstream_hash", upstream.Hash().Hex())

	affected, err := s.facts.ListTokenSetsByBlock(ctx, stored.Hash)
	if err != nil {
		return err
	}

	if err := s.blocks.DeleteDerived(ctx, stored.Hash); err != nil {
		return err
	}
	if err := s.blocks.Delete(ctx, number, stored.Hash); err != nil {
		return err
	}

	for _, tokenSetID := range affected {
		job, err := reconcile.NewJob(tokenSetID, domain.TriggerReorg, &domain.TxContext{
			BlockHash: upstream.Hash().Hex(),
			Timestamp: time.Unix(int64(upstream.Time()), 0).UTC(),
		})
		if err != nil {
			return err
		}
		if err := s.queue.Enqueue(ctx, job); err != nil {
			return err
		}
	}

	resync, err := NewSyncJob(number)
	if err != nil {
		return err
	}
	return s.queue.Enqueue(ctx, resync)
}
