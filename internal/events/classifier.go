package events

import (
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/core/types"

	"github.com/alanyoungcy/floorsync/internal/domain"
)

// ClassifiedLog is a raw log plus every protocol interpretation it matched.
type ClassifiedLog struct {
	Log     *types.Log
	Matches []Match
}

// HasMatch reports whether the log matched the given kind and subtype.
func (l ClassifiedLog) HasMatch(kind domain.OrderKind, subtype Subtype) bool {
	for _, m := range l.Matches {
		if m.Kind == kind && m.Subtype == subtype {
			return true
		}
	}
	return false
}

// EventBatch groups the classified logs of one transaction in emission order,
// together with the call trace so handlers can decode exchange calldata.
type EventBatch struct {
	TxHash    string
	BlockHash string
	BlockTime time.Time
	Logs      []ClassifiedLog
	Trace     *domain.CallFrame
}

// Kinds returns the set of protocols with at least one match in the batch,
// excluding pure correlation logs (ERC-20 transfers on their own do not make
// an x2y2 transaction).
func (b *EventBatch) Kinds() map[domain.OrderKind]bool {
	kinds := make(map[domain.OrderKind]bool)
	for _, l := range b.Logs {
		for _, m := range l.Matches {
			if m.Subtype == SubtypeERC20Transfer {
				continue
			}
			kinds[m.Kind] = true
		}
	}
	return kinds
}

// TxContext builds the attribution context of the batch anchored at the given
// log.
func (b *EventBatch) TxContext(log *types.Log) domain.TxContext {
	return domain.TxContext{
		TxHash:    b.TxHash,
		Timestamp: b.BlockTime,
		LogIndex:  log.Index,
		BlockHash: b.BlockHash,
	}
}

// Classifier turns a block's raw logs into per-transaction event batches.
type Classifier struct {
	registry *Registry
	logger   *slog.Logger
}

// NewClassifier wires a Classifier.
func NewClassifier(registry *Registry, logger *slog.Logger) *Classifier {
	return &Classifier{registry: registry, logger: logger.With("component", "classifier")}
}

// Classify groups the logs by transaction, attaches protocol interpretations
// and traces, and returns one batch per transaction that matched anything. A
// malformed log is skipped with a warning; it never fails the batch.
func (c *Classifier) Classify(logs []*types.Log, traces map[string]*domain.CallFrame, blockHash string, blockTime time.Time) []*EventBatch {
	var (
		batches []*EventBatch
		byTx    = make(map[string]*EventBatch)
	)

	for _, log := range logs {
		if log.Removed {
			continue
		}
		if len(log.Topics) == 0 {
			continue
		}
		topic := log.Topics[0]
		if !c.registry.Known(topic) {
			continue
		}

		matches := c.registry.Lookup(topic, log.Address, len(log.Topics))
		if len(matches) == 0 {
			c.logger.Warn("known topic with unexpected shape, skipping",
				"tx", log.TxHash.Hex(), "log_index", log.Index,
				"topic", topic.Hex(), "topics", len(log.Topics))
			continue
		}

		txHash := log.TxHash.Hex()
		batch, ok := byTx[txHash]
		if !ok {
			batch = &EventBatch{
				TxHash:    txHash,
				BlockHash: blockHash,
				BlockTime: blockTime,
				Trace:     traces[txHash],
			}
			byTx[txHash] = batch
			batches = append(batches, batch)
		}
		batch.Logs = append(batch.Logs, ClassifiedLog{Log: log, Matches: matches})
	}

	// Drop batches that only ever saw correlation logs.
	out := batches[:0]
	for _, b := range batches {
		if len(b.Kinds()) > 0 {
			out = append(out, b)
		}
	}
	return out
}
