package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/floorsync/internal/chain"
	"github.com/alanyoungcy/floorsync/internal/domain"
	"github.com/alanyoungcy/floorsync/internal/events"
	"github.com/alanyoungcy/floorsync/internal/protocol"
)

// BlockPipeline glues the sync, classification, extraction and application
// stages together: one sync job in, one fully applied block out.
type BlockPipeline struct {
	syncer     *chain.Syncer
	classifier *events.Classifier
	handlers   *protocol.Registry
	ingest     *Service
	logger     *slog.Logger
}

// NewBlockPipeline wires the pipeline.
func NewBlockPipeline(syncer *chain.Syncer, classifier *events.Classifier, handlers *protocol.Registry, ingest *Service, logger *slog.Logger) *BlockPipeline {
	return &BlockPipeline{
		syncer:     syncer,
		classifier: classifier,
		handlers:   handlers,
		ingest:     ingest,
		logger:     logger.With("component", "pipeline"),
	}
}

// HandleSyncJob processes one queued block sync job end to end. Any error
// lets the queue redeliver; every stage is idempotent under redelivery.
func (p *BlockPipeline) HandleSyncJob(ctx context.Context, job domain.Job) error {
	var payload chain.SyncJobPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("ingest: decode sync job %s: %w", job.ID, err)
	}

	result, err := p.syncer.SyncBlock(ctx, payload.Number)
	if err != nil {
		return err
	}

	batches := p.classifier.Classify(result.Logs, result.Traces, result.Block.Hash, result.Block.Timestamp)
	for _, batch := range batches {
		facts := &domain.OnChainFacts{}
		if err := p.handlers.Dispatch(ctx, batch, facts); err != nil {
			return err
		}
		if facts.Empty() {
			continue
		}
		if err := p.ingest.ApplyFacts(ctx, facts); err != nil {
			return fmt.Errorf("ingest: apply facts of %s: %w", batch.TxHash, err)
		}
	}

	if len(batches) > 0 {
		p.logger.Info("block applied", "number", payload.Number, "batches", len(batches))
	}
	return nil
}

// FollowHead polls the chain head, enqueues sync jobs for new and missing
// heights, and re-checks the most recent heights for orphaned blocks.
func (p *BlockPipeline) FollowHead(ctx context.Context, poll time.Duration, reorgDepth uint64) error {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		head, err := p.syncer.LatestBlockNumber(ctx)
		if err != nil {
			p.logger.Error("head poll failed", "error", err)
			continue
		}

		if err := p.syncer.CheckForMissingBlocks(ctx, head); err != nil {
			p.logger.Error("gap check failed", "error", err)
		}

		job, err := chain.NewSyncJob(head)
		if err != nil {
			return err
		}
		if err := p.syncer.EnqueueSync(ctx, job); err != nil {
			p.logger.Error("enqueue head sync failed", "number", head, "error", err)
			continue
		}

		for depth := uint64(1); depth <= reorgDepth && depth <= head; depth++ {
			if err := p.syncer.CheckForOrphanedBlock(ctx, head-depth); err != nil {
				p.logger.Error("orphan check failed", "number", head-depth, "error", err)
			}
		}
	}
}
