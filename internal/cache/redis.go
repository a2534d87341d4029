package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/zaqqye/qr_backend_v1/internal/models"
)

const DefaultImageTTL = 24 * time.Hour

// NewRedisClient parses url and verifies the server answers.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// ImageCache stores rendered QR images. Misses and backend errors look the same to callers.
type ImageCache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, data []byte)
}

type RedisImageCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewImageCache returns a redis-backed cache, or a cache that never hits when rdb is nil.
func NewImageCache(rdb *redis.Client, ttl time.Duration) ImageCache {
	if rdb == nil {
		return noopCache{}
	}
	if ttl <= 0 {
		ttl = DefaultImageTTL
	}
	return &RedisImageCache{rdb: rdb, ttl: ttl}
}

func (c *RedisImageCache) Get(ctx context.Context, key string) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	data, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn().Err(err).Str("key", key).Msg("image cache get failed")
		}
		return nil, false
	}
	return data, true
}

func (c *RedisImageCache) Set(ctx context.Context, key string, data []byte) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("image cache set failed")
	}
}

type noopCache struct{}

func (noopCache) Get(context.Context, string) ([]byte, bool) { return nil, false }

func (noopCache) Set(context.Context, string, []byte) {}

// ImageKey identifies a rendering by everything that affects its bytes.
func ImageKey(format, content string, style models.StyleOptions) string {
	h := sha256.New()
	h.Write([]byte(format))
	h.Write([]byte{0})
	h.Write([]byte(content))
	h.Write([]byte{0})
	b, _ := json.Marshal(style.WithDefaults())
	h.Write(b)
	return "qr:img:" + hex.EncodeToString(h.Sum(nil))
}
