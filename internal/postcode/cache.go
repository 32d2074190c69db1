package postcode

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const keyPrefix = "postcode:"

// RedisCache keeps resolved postcodes in Redis as JSON.
type RedisCache struct {
	rc  redis.Cmdable
	ttl time.Duration
}

// NewRedisCache wraps rc. A nil rc yields a nil cache.
func NewRedisCache(rc redis.Cmdable, ttl time.Duration) *RedisCache {
	if rc == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisCache{rc: rc, ttl: ttl}
}

// OpenRedis opens a client for addr, or returns nil when addr is empty.
func OpenRedis(addr, password string) *redis.Client {
	if addr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{Addr: addr, Password: password})
}

// Get returns a cached result. Redis errors are treated as misses.
func (c *RedisCache) Get(ctx context.Context, normalized string) (*Result, bool) {
	s, err := c.rc.Get(ctx, keyPrefix+normalized).Result()
	if err != nil {
		if err != redis.Nil {
			zap.L().Warn("postcode cache get", zap.String("postcode", normalized), zap.Error(err))
		}
		return nil, false
	}
	var r Result
	if err := json.Unmarshal([]byte(s), &r); err != nil {
		return nil, false
	}
	return &r, true
}

// Set stores r with the cache TTL.
func (c *RedisCache) Set(ctx context.Context, normalized string, r *Result) {
	b, err := json.Marshal(r)
	if err != nil {
		return
	}
	if err := c.rc.Set(ctx, keyPrefix+normalized, string(b), c.ttl).Err(); err != nil {
		zap.L().Warn("postcode cache set", zap.String("postcode", normalized), zap.Error(err))
	}
}

// DefaultMemoryEntries caps a MemoryCache built without a size.
const DefaultMemoryEntries = 10000

type memoryEntry struct {
	r       *Result
	expires time.Time
}

// MemoryCache is an in-process cache with the same TTL as RedisCache and a
// bound on the number of entries.
type MemoryCache struct {
	mu  sync.Mutex
	m   map[string]memoryEntry
	ttl time.Duration
	max int
	now func() time.Time
}

// NewMemoryCache creates an empty cache. ttl <= 0 uses 24h and maxEntries <= 0
// uses DefaultMemoryEntries.
func NewMemoryCache(ttl time.Duration, maxEntries int) *MemoryCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMemoryEntries
	}
	return &MemoryCache{m: map[string]memoryEntry{}, ttl: ttl, max: maxEntries, now: time.Now}
}

// Get returns an unexpired result.
func (c *MemoryCache) Get(_ context.Context, normalized string) (*Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.m[normalized]
	if !ok {
		return nil, false
	}
	if !c.now().Before(e.expires) {
		delete(c.m, normalized)
		return nil, false
	}
	return e.r, true
}

// Set stores r. At capacity expired entries go first, then the entry
// closest to expiry.
func (c *MemoryCache) Set(_ context.Context, normalized string, r *Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if _, ok := c.m[normalized]; !ok && len(c.m) >= c.max {
		c.evict(now)
	}
	c.m[normalized] = memoryEntry{r: r, expires: now.Add(c.ttl)}
}

// Len returns the number of stored entries, expired ones included.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.m)
}

func (c *MemoryCache) evict(now time.Time) {
	var (
		oldest   string
		oldestAt time.Time
		found    bool
	)
	for k, e := range c.m {
		if !now.Before(e.expires) {
			delete(c.m, k)
			continue
		}
		if !found || e.expires.Before(oldestAt) {
			oldest, oldestAt, found = k, e.expires, true
		}
	}
	if found && len(c.m) >= c.max {
		delete(c.m, oldest)
	}
}
