// Package cache provides a read-through cache for the hot read path: the
// active contract of an asset. The store stays the source of truth; the
// publish paths invalidate after commit.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/covenant-data/covenant/pkg/model"
)

// ContractCache caches active contracts per asset. Misses and backend
// failures are equivalent: callers fall through to the store.
type ContractCache interface {
	GetActive(ctx context.Context, assetID uuid.UUID) (*model.Contract, bool)
	SetActive(ctx context.Context, assetID uuid.UUID, contract *model.Contract)
	Invalidate(ctx context.Context, assetID uuid.UUID)
}

// Nop caches nothing.
type Nop struct{}

func (Nop) GetActive(context.Context, uuid.UUID) (*model.Contract, bool)   { return nil, false }
func (Nop) SetActive(context.Context, uuid.UUID, *model.Contract)          {}
func (Nop) Invalidate(context.Context, uuid.UUID)                          {}

// Redis implements ContractCache on go-redis. Entries expire after TTL so
// a missed invalidation self-heals.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	log    *slog.Logger
}

// DefaultTTL bounds staleness after a missed invalidation.
const DefaultTTL = 5 * time.Minute

func NewRedis(client *redis.Client, ttl time.Duration, log *slog.Logger) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if log == nil {
		log = slog.Default()
	}
	return &Redis{client: client, ttl: ttl, log: log}
}

func activeKey(assetID uuid.UUID) string {
	return fmt.Sprintf("covenant:active-contract:%s", assetID)
}

func (r *Redis) GetActive(ctx context.Context, assetID uuid.UUID) (*model.Contract, bool) {
	raw, err := r.client.Get(ctx, activeKey(assetID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			r.log.Warn("contract cache read failed", "asset_id", assetID, "error", err)
		}
		return nil, false
	}
	var contract model.Contract
	if err := json.Unmarshal(raw, &contract); err != nil {
		// Corrupt entry: drop it and fall through.
		r.Invalidate(ctx, assetID)
		return nil, false
	}
	return &contract, true
}

func (r *Redis) SetActive(ctx context.Context, assetID uuid.UUID, contract *model.Contract) {
	raw, err := json.Marshal(contract)
	if err != nil {
		return
	}
	if err := r.client.Set(ctx, activeKey(assetID), raw, r.ttl).Err(); err != nil {
		r.log.Warn("contract cache write failed", "asset_id", assetID, "error", err)
	}
}

func (r *Redis) Invalidate(ctx context.Context, assetID uuid.UUID) {
	if err := r.client.Del(ctx, activeKey(assetID)).Err(); err != nil {
		r.log.Warn("contract cache invalidation failed", "asset_id", assetID, "error", err)
	}
}
