package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/alanyoungcy/floorsync/internal/domain"
)

const (
	maxRetryInterval = 30 * time.Second
	maxRetryElapsed  = 2 * time.Minute
)

// Config controls the upstream RPC connection.
type Config struct {
	RPCURL       string
	TraceEnabled bool
}

// Client wraps an Ethereum JSON-RPC endpoint with the typed ethclient for
// standard calls and the raw rpc.Client for batch and debug namespaces.
type Client struct {
	eth    *ethclient.Client
	raw    *rpc.Client
	cfg    Config
	logger *slog.Logger
}

// Dial connects to the configured endpoint.
func Dial(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	raw, err := rpc.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("chain: dial %s: %w", cfg.RPCURL, err)
	}
	return &Client{
		eth:    ethclient.NewClient(raw),
		raw:    raw,
		cfg:    cfg,
		logger: logger.With("component", "chain"),
	}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() {
	c.raw.Close()
}

// retry runs fn with exponential backoff until it succeeds, the retry budget
// is exhausted, or the context ends.
func (c *Client) retry(ctx context.Context, op string, fn func() error) error {
	policy := backoff.NewExponentialBackOff()
	policy.MaxInterval = maxRetryInterval

	start := time.Now()
	for {
		err := fn()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("chain: %s: %w", op, ctx.Err())
		}
		sleep := policy.NextBackOff()
		if sleep == backoff.Stop || time.Since(start) > maxRetryElapsed {
			return fmt.Errorf("chain: %s: %w", op, err)
		}
		c.logger.Warn("rpc call failed, retrying", "op", op, "retry_in", sleep, "error", err)
		select {
		case <-ctx.Done():
			return fmt.Errorf("chain: %s: %w", op, ctx.Err())
		case <-time.After(sleep):
		}
	}
}

// LatestBlockNumber returns the chain head height.
func (c *Client) LatestBlockNumber(ctx context.Context) (uint64, error) {
	var number uint64
	err := c.retry(ctx, "block number", func() error {
		var err error
		number, err = c.eth.BlockNumber(ctx)
		return err
	})
	return number, err
}

// BlockByNumber fetches the full block (header and transactions) at height.
func (c *Client) BlockByNumber(ctx context.Context, number uint64) (*types.Block, error) {
	var block *types.Block
	err := c.retry(ctx, fmt.Sprintf("block %d", number), func() error {
		var err error
		block, err = c.eth.BlockByNumber(ctx, new(big.Int).SetUint64(number))
		return err
	})
	return block, err
}

// BlockReceipts fetches every receipt of the block in one call, falling back
// to per-transaction fetches when the node does not serve
// eth_getBlockReceipts.
func (c *Client) BlockReceipts(ctx context.Context, block *types.Block) ([]*types.Receipt, error) {
	var receipts []*types.Receipt
	err := c.retry(ctx, fmt.Sprintf("receipts %d", block.NumberU64()), func() error {
		return c.raw.CallContext(ctx, &receipts, "eth_getBlockReceipts",
			rpc.BlockNumberOrHashWithHash(block.Hash(), false))
	})
	if err == nil {
		return receipts, nil
	}

	c.logger.Debug("eth_getBlockReceipts unavailable, fetching per tx",
		"block", block.NumberU64(), "error", err)

	txs := block.Transactions()
	receipts = make([]*types.Receipt, 0, len(txs))
	for _, tx := range txs {
		var r *types.Receipt
		err := c.retry(ctx, fmt.Sprintf("receipt %s", tx.Hash()), func() error {
			var err error
			r, err = c.eth.TransactionReceipt(ctx, tx.Hash())
			return err
		})
		if err != nil {
			return nil, err
		}
		receipts = append(receipts, r)
	}
	return receipts, nil
}

// TraceTransaction fetches the call-tracer trace of the transaction. Returns
// nil without error when tracing is disabled.
func (c *Client) TraceTransaction(ctx context.Context, txHash common.Hash) (*domain.CallFrame, error) {
	if !c.cfg.TraceEnabled {
		return nil, nil
	}

	var frame domain.CallFrame
	err := c.retry(ctx, fmt.Sprintf("trace %s", txHash), func() error {
		return c.raw.CallContext(ctx, &frame, "debug_traceTransaction", txHash,
			map[string]any{"tracer": "callTracer"})
	})
	if err != nil {
		return nil, err
	}
	return &frame, nil
}

// CallProbe is one eth_call to run in a batch, identified by Key.
type CallProbe struct {
	Key  string
	To   common.Address
	Data []byte
}

// BatchCall executes the probes in a single batch request and returns the raw
// return data keyed by probe key. Individual probe errors fail only that
// probe's entry (missing from the result map).
func (c *Client) BatchCall(ctx context.Context, probes []CallProbe) (map[string][]byte, error) {
	if len(probes) == 0 {
		return nil, nil
	}

	batch := make([]rpc.BatchElem, len(probes))
	results := make([]string, len(probes))
	for i, p := range probes {
		batch[i] = rpc.BatchElem{
			Method: "eth_call",
			Args: []any{
				map[string]any{"to": p.To.Hex(), "data": "0x" + common.Bytes2Hex(p.Data)},
				"latest",
			},
			Result: &results[i],
		}
	}

	err := c.retry(ctx, "batch call", func() error {
		return c.raw.BatchCallContext(ctx, batch)
	})
	if err != nil {
		return nil, err
	}

	out := make(map[string][]byte, len(probes))
	for i, p := range probes {
		if batch[i].Error != nil {
			c.logger.Debug("probe call failed", "key", p.Key, "error", batch[i].Error)
			continue
		}
		out[p.Key] = common.FromHex(results[i])
	}
	return out, nil
}
