// Package profile serves driver/rider display-name and rating lookups. The
// projections are read-only and change rarely, so they sit behind a short
// TTL cache: Redis when configured, an in-process map otherwise.
package profile

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/campus-rides/internal/gateway"
	"github.com/example/campus-rides/internal/models"
)

const DefaultTTL = 5 * time.Minute

type Cache interface {
	Get(ctx context.Context, id string) (models.Profile, bool)
	Set(ctx context.Context, p models.Profile)
}

// Service resolves profiles through the gateway with a cache in front.
type Service struct {
	gw    gateway.Gateway
	cache Cache
}

func NewService(gw gateway.Gateway, cache Cache) *Service {
	if cache == nil {
		cache = NewMemoryCache(DefaultTTL)
	}
	return &Service{gw: gw, cache: cache}
}

func (s *Service) Lookup(ctx context.Context, id string) (models.Profile, error) {
	if p, ok := s.cache.Get(ctx, id); ok {
		return p, nil
	}
	p, err := s.gw.Profile(ctx, id)
	if err != nil {
		return models.Profile{}, err
	}
	s.cache.Set(ctx, p)
	return p, nil
}

// MemoryCache is a TTL map for single-process runs and tests.
type MemoryCache struct {
	mu    sync.RWMutex
	store map[string]memoryEntry
	ttl   time.Duration
}

type memoryEntry struct {
	p  models.Profile
	ts time.Time
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryCache{store: make(map[string]memoryEntry), ttl: ttl}
}

func (c *MemoryCache) Get(ctx context.Context, id string) (models.Profile, bool) {
	c.mu.RLock()
	e, ok := c.store[id]
	c.mu.RUnlock()
	if !ok {
		return models.Profile{}, false
	}
	if time.Since(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, id)
		c.mu.Unlock()
		return models.Profile{}, false
	}
	return e.p, true
}

func (c *MemoryCache) Set(ctx context.Context, p models.Profile) {
	c.mu.Lock()
	c.store[p.ID] = memoryEntry{p: p, ts: time.Now()}
	c.mu.Unlock()
}

// RedisCache shares lookups across dashboard processes.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(addr, password string, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{
		client: redis.NewClient(&redis.Options{Addr: addr, Password: password}),
		ttl:    ttl,
	}
}

func (c *RedisCache) Get(ctx context.Context, id string) (models.Profile, bool) {
	m, err := c.client.HGetAll(ctx, profileKey(id)).Result()
	if err != nil || len(m) == 0 {
		return models.Profile{}, false
	}
	p := models.Profile{ID: id, Name: m["name"]}
	if v, ok := m["rating"]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			p.Rating = f
		}
	}
	return p, true
}

func (c *RedisCache) Set(ctx context.Context, p models.Profile) {
	key := profileKey(p.ID)
	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"name":   p.Name,
		"rating": strconv.FormatFloat(p.Rating, 'f', 2, 64),
	})
	pipe.Expire(ctx, key, c.ttl)
	_, _ = pipe.Exec(ctx)
}

func profileKey(id string) string { return "profile:" + id }
