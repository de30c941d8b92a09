package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/stylistio/tryon-backend/internal/logger"
	"github.com/stylistio/tryon-backend/internal/types"
)

// GenerationCache is a read-through cache for generation rows. Terminal rows
// are immutable (except rating), so the status endpoint can serve them
// without a database round trip.
type GenerationCache interface {
	Get(ctx context.Context, id uuid.UUID) (*types.Generation, error)
	Set(ctx context.Context, gen *types.Generation, ttl time.Duration) error
	Invalidate(ctx context.Context, id uuid.UUID) error
	Close() error
}

type generationCache struct {
	log *logger.Logger
	rdb *goredis.Client
}

func NewGenerationCache(log *logger.Logger) (GenerationCache, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	addr := strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &generationCache{
		log: log.With("service", "RedisGenerationCache"),
		rdb: rdb,
	}, nil
}

func cacheKey(id uuid.UUID) string {
	return "generation:" + id.String()
}

func (c *generationCache) Get(ctx context.Context, id uuid.UUID) (*types.Generation, error) {
	if c == nil || c.rdb == nil || id == uuid.Nil {
		return nil, nil
	}
	raw, err := c.rdb.Get(ctx, cacheKey(id)).Bytes()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var gen types.Generation
	if err := json.Unmarshal(raw, &gen); err != nil {
		// Stale or corrupt entry; drop it rather than fail the read.
		_ = c.rdb.Del(ctx, cacheKey(id)).Err()
		return nil, nil
	}
	return &gen, nil
}

func (c *generationCache) Set(ctx context.Context, gen *types.Generation, ttl time.Duration) error {
	if c == nil || c.rdb == nil || gen == nil || gen.ID == uuid.Nil {
		return nil
	}
	raw, err := json.Marshal(gen)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, cacheKey(gen.ID), raw, ttl).Err()
}

func (c *generationCache) Invalidate(ctx context.Context, id uuid.UUID) error {
	if c == nil || c.rdb == nil || id == uuid.Nil {
		return nil
	}
	return c.rdb.Del(ctx, cacheKey(id)).Err()
}

func (c *generationCache) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}
