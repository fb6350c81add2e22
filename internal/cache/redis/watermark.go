package redis

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/floorsync/internal/domain"
)

// WatermarkStore implements domain.WatermarkStore using plain Redis keys. The
// relational store stays authoritative for block data; the watermark is only
// a cursor for the gap detector.
type WatermarkStore struct {
	rdb *redis.Client
}

// NewWatermarkStore creates a WatermarkStore backed by the given Client.
func NewWatermarkStore(c *Client) *WatermarkStore {
	return &WatermarkStore{rdb: c.Underlying()}
}

func watermarkKey(key string) string {
	return "watermark:" + key
}

// Get returns the stored watermark and whether one exists.
func (ws *WatermarkStore) Get(ctx context.Context, key string) (uint64, bool, error) {
	val, err := ws.rdb.Get(ctx, watermarkKey(key)).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("redis: get watermark %s: %w", key, err)
	}
	n, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("redis: parse watermark %s: %w", key, err)
	}
	return n, true, nil
}

// Set stores the watermark value.
func (ws *WatermarkStore) Set(ctx context.Context, key string, value uint64) error {
	if err := ws.rdb.Set(ctx, watermarkKey(key), strconv.FormatUint(value, 10), 0).Err(); err != nil {
		return fmt.Errorf("redis: set watermark %s: %w", key, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.WatermarkStore = (*WatermarkStore)(nil)
