package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"docqa-go/pkg/log"
)

const redisKeyPrefix = "docqa:embedding:"

// CachedClient 在 next 之前加一层进程内 LRU，以及可选的 Redis 共享缓存。
type CachedClient struct {
	next  Client
	model string
	lru   *expirable.LRU[string, []float32]
	rdb   *redis.Client
	ttl   time.Duration
}

// WrapWithCache 包装 next。size 或 ttl 非正时不启用 LRU；rdb 为 nil 时不启用 Redis。
func WrapWithCache(next Client, model string, size int, ttl time.Duration, rdb *redis.Client) Client {
	if next == nil {
		return nil
	}
	if (size <= 0 || ttl <= 0) && rdb == nil {
		return next
	}
	c := &CachedClient{next: next, model: model, rdb: rdb, ttl: ttl}
	if size > 0 && ttl > 0 {
		c.lru = expirable.NewLRU[string, []float32](size, nil, ttl)
	}
	return c
}

func (c *CachedClient) CreateEmbedding(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey(c.model, text)
	if c.lru != nil {
		if cached, ok := c.lru.Get(key); ok {
			return cloneEmbedding(cached), nil
		}
	}
	if vec, ok := c.getRedis(ctx, key); ok {
		if c.lru != nil {
			c.lru.Add(key, cloneEmbedding(vec))
		}
		return vec, nil
	}

	vec, err := c.next.CreateEmbedding(ctx, text)
	if err != nil {
		return nil, err
	}
	if c.lru != nil {
		c.lru.Add(key, cloneEmbedding(vec))
	}
	c.setRedis(ctx, key, vec)
	return vec, nil
}

// Redis 故障只记录日志，不影响 embedding 调用。
func (c *CachedClient) getRedis(ctx context.Context, key string) ([]float32, bool) {
	if c.rdb == nil {
		return nil, false
	}
	raw, err := c.rdb.Get(ctx, redisKeyPrefix+key).Bytes()
	if err != nil {
		if err != redis.Nil {
			log.Warnf("[EmbeddingCache] 读取 Redis 缓存失败: %v", err)
		}
		return nil, false
	}
	var vec []float32
	if err := json.Unmarshal(raw, &vec); err != nil || len(vec) == 0 {
		return nil, false
	}
	return vec, true
}

func (c *CachedClient) setRedis(ctx context.Context, key string, vec []float32) {
	if c.rdb == nil {
		return
	}
	raw, err := json.Marshal(vec)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, redisKeyPrefix+key, raw, c.ttl).Err(); err != nil {
		log.Warnf("[EmbeddingCache] 写入 Redis 缓存失败: %v", err)
	}
}

func cacheKey(model, text string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

func cloneEmbedding(values []float32) []float32 {
	if len(values) == 0 {
		return nil
	}
	clone := make([]float32, len(values))
	copy(clone, values)
	return clone
}
