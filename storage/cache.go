package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"planner-api/domain"
)

const (
	weeksCacheKey = "planner:weeks"
	tasksCacheKey = "planner:tasks"

	// Every write bumps the generation of its list. A fill only lands when
	// the generation is unchanged since the reader started.
	weeksGenKey = "planner:weeks:gen"
	tasksGenKey = "planner:tasks:gen"
)

// Cache wraps a Store with Redis-backed caching for list reads. Every write
// evicts the affected list, and a read that raced with a write does not
// refill the cache with what it loaded.
type Cache struct {
	base  Store
	redis *redis.Client
	ttl   time.Duration
}

// NewCache creates a caching Store wrapper using the provided Redis client and TTL.
func NewCache(base Store, client *redis.Client, ttl time.Duration) *Cache {
	if base == nil {
		panic("storage.NewCache: base storage is nil")
	}
	if ttl < 0 {
		ttl = 0
	}
	return &Cache{base: base, redis: client, ttl: ttl}
}

func (c *Cache) ListWeeks(ctx context.Context) ([]domain.Week, error) {
	var weeks []domain.Week
	if c.load(ctx, weeksCacheKey, &weeks) {
		return weeks, nil
	}
	gen, genErr := c.generation(ctx, weeksGenKey)
	weeks, err := c.base.ListWeeks(ctx)
	if err != nil {
		return nil, err
	}
	if genErr == nil {
		c.store(ctx, weeksCacheKey, weeksGenKey, gen, weeks)
	}
	return weeks, nil
}

func (c *Cache) InsertWeek(ctx context.Context, w domain.Week) (domain.Week, error) {
	defer c.evict(ctx, weeksCacheKey, weeksGenKey)
	return c.base.InsertWeek(ctx, w)
}

func (c *Cache) ReplaceWeek(ctx context.Context, w domain.Week) (*domain.Week, error) {
	defer c.evict(ctx, weeksCacheKey, weeksGenKey)
	return c.base.ReplaceWeek(ctx, w)
}

func (c *Cache) DeleteWeek(ctx context.Context, id string) (*domain.Week, error) {
	defer c.evict(ctx, weeksCacheKey, weeksGenKey)
	return c.base.DeleteWeek(ctx, id)
}

func (c *Cache) ListTasks(ctx context.Context) ([]domain.Task, error) {
	var tasks []domain.Task
	if c.load(ctx, tasksCacheKey, &tasks) {
		return tasks, nil
	}
	gen, genErr := c.generation(ctx, tasksGenKey)
	tasks, err := c.base.ListTasks(ctx)
	if err != nil {
		return nil, err
	}
	if genErr == nil {
		c.store(ctx, tasksCacheKey, tasksGenKey, gen, tasks)
	}
	return tasks, nil
}

func (c *Cache) InsertTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	defer c.evict(ctx, tasksCacheKey, tasksGenKey)
	return c.base.InsertTask(ctx, t)
}

func (c *Cache) UpdateTask(ctx context.Context, id string, patch domain.TaskPatch) (*domain.Task, error) {
	defer c.evict(ctx, tasksCacheKey, tasksGenKey)
	return c.base.UpdateTask(ctx, id, patch)
}

func (c *Cache) DeleteTask(ctx context.Context, id string) (*domain.Task, error) {
	defer c.evict(ctx, tasksCacheKey, tasksGenKey)
	return c.base.DeleteTask(ctx, id)
}

func (c *Cache) Ping(ctx context.Context) error {
	if err := c.base.Ping(ctx); err != nil {
		return err
	}
	if c.redis == nil {
		return nil
	}
	return c.redis.Ping(ctx).Err()
}

func (c *Cache) Close() error { return c.base.Close() }

func (c *Cache) load(ctx context.Context, key string, dst any) bool {
	if c.redis == nil {
		return false
	}
	data, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			// On redis errors fall back to the backing storage without failing.
			_ = c.redis.Del(ctx, key).Err()
		}
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		_ = c.redis.Del(ctx, key).Err()
		return false
	}
	return true
}

// generation returns the current write generation of a list.
func (c *Cache) generation(ctx context.Context, genKey string) (int64, error) {
	if c.redis == nil {
		return 0, redis.Nil
	}
	return readGeneration(ctx, c.redis, genKey)
}

func readGeneration(ctx context.Context, r redis.Cmdable, genKey string) (int64, error) {
	gen, err := r.Get(ctx, genKey).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// store caches v under key unless a write bumped genKey past gen.
func (c *Cache) store(ctx context.Context, key, genKey string, gen int64, v any) {
	if c.redis == nil || c.ttl == 0 {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	// A concurrent bump fails the transaction with redis.TxFailedErr; the
	// fill is skipped either way.
	_ = c.redis.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := readGeneration(ctx, tx, genKey)
		if err != nil || cur != gen {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, data, c.ttl)
			return nil
		})
		return err
	}, genKey)
}

func (c *Cache) evict(ctx context.Context, key, genKey string) {
	if c.redis == nil {
		return
	}
	_, _ = c.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Incr(ctx, genKey)
		p.Del(ctx, key)
		return nil
	})
}
