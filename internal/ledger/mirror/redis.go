// Package mirror holds secondary ledger sinks. Mirrors are best effort:
// the primary store is the source of truth and mirror failures never fail
// an append.
package mirror

import (
	"context"
	"encoding/json"
	"fmt"

	"veritas/internal/domain"
	platformredis "veritas/internal/platform/redis"
)

const (
	blockKeyPrefix = "ledger:block:"
	heightKey      = "ledger:height"
)

// Redis mirrors blocks into Redis for cheap operator inspection. Blocks are
// stored as JSON under ledger:block:<index> with the tail index kept in
// ledger:height.
type Redis struct {
	client *platformredis.Client
}

func NewRedis(client *platformredis.Client) *Redis {
	return &Redis{client: client}
}

func (r *Redis) Save(ctx context.Context, block domain.Block) error {
	payload, err := json.Marshal(block)
	if err != nil {
		return fmt.Errorf("mirror: marshal block %d: %w", block.Index, err)
	}

	key := fmt.Sprintf("%s%d", blockKeyPrefix, block.Index)
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, key, payload, 0)
	pipe.Set(ctx, heightKey, block.Index, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("mirror: write block %d: %w", block.Index, err)
	}
	return nil
}

// Block reads a mirrored block back. Used by the integration tests and by
// operators poking at the mirror directly.
func (r *Redis) Block(ctx context.Context, index int64) (domain.Block, error) {
	raw, err := r.client.Get(ctx, fmt.Sprintf("%s%d", blockKeyPrefix, index)).Bytes()
	if err != nil {
		return domain.Block{}, fmt.Errorf("mirror: read block %d: %w", index, err)
	}
	var block domain.Block
	if err := json.Unmarshal(raw, &block); err != nil {
		return domain.Block{}, fmt.Errorf("mirror: decode block %d: %w", index, err)
	}
	return block, nil
}

// Height returns the last mirrored index.
func (r *Redis) Height(ctx context.Context) (int64, error) {
	height, err := r.client.Get(ctx, heightKey).Int64()
	if err != nil {
		return 0, fmt.Errorf("mirror: read height: %w", err)
	}
	return height, nil
}
