package cache

import (
	"context"
	"sync"
	"time"

	"tg-guard/monitoring"
)

// entry представляет элемент кэша
type entry[V any] struct {
	value      V
	expiration time.Time
}

// Cache thread-safe in-memory кэш с TTL
type Cache[K comparable, V any] struct {
	mu     sync.RWMutex
	data   map[K]entry[V]
	ttl    time.Duration
	name   string // имя кэша для метрик
	now    func() time.Time
	logger *monitoring.StructuredLogger
}

// New создает именованный кэш с указанным TTL
func New[K comparable, V any](name string, ttl time.Duration) *Cache[K, V] {
	return &Cache[K, V]{
		data:   make(map[K]entry[V]),
		name:   name,
		ttl:    ttl,
		now:    time.Now,
		logger: monitoring.GetLogger("cache").With("cache", name),
	}
}

// WithClock подменяет источник времени (для тестов)
func (c *Cache[K, V]) WithClock(now func() time.Time) *Cache[K, V] {
	c.now = now
	return c
}

// Set сохраняет значение в кэше
func (c *Cache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	c.data[key] = entry[V]{value: value, expiration: c.now().Add(c.ttl)}
	c.mu.Unlock()

	monitoring.IncrementCacheOperations(c.name)
}

// Get получает значение из кэша
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	e, ok := c.data[key]
	c.mu.RUnlock()

	var zero V
	if !ok {
		monitoring.IncrementCacheMisses(c.name)
		return zero, false
	}

	if !c.now().Before(e.expiration) {
		// Кэш истек, удаляем
		c.mu.Lock()
		if current, ok := c.data[key]; ok && current.expiration.Equal(e.expiration) {
			delete(c.data, key)
		}
		c.mu.Unlock()
		monitoring.IncrementCacheMisses(c.name)
		monitoring.IncrementCacheEvictions(c.name)
		return zero, false
	}

	monitoring.IncrementCacheHits(c.name)
	return e.value, true
}

// Delete удаляет значение из кэша
func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	delete(c.data, key)
	c.mu.Unlock()
}

// Clear очищает весь кэш
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	c.data = make(map[K]entry[V])
	c.mu.Unlock()
	c.logger.Info("cache cleared")
}

// Size возвращает количество непросроченных элементов
func (c *Cache[K, V]) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.now()
	count := 0
	for _, e := range c.data {
		if now.Before(e.expiration) {
			count++
		}
	}
	monitoring.UpdateCacheSize(c.name, int64(count))
	return count
}

// Cleanup удаляет просроченные записи
func (c *Cache[K, V]) Cleanup() int {
	c.mu.Lock()
	now := c.now()
	removed := 0
	for key, e := range c.data {
		if !now.Before(e.expiration) {
			delete(c.data, key)
			removed++
		}
	}
	size := len(c.data)
	c.mu.Unlock()

	if removed > 0 {
		monitoring.UpdateCacheSize(c.name, int64(size))
		c.logger.Debug("expired cache entries cleaned up", "count", removed)
	}
	return removed
}

// RunCleanup периодически удаляет просроченные записи до отмены контекста
func (c *Cache[K, V]) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.logger.Info("cache cleanup worker started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Cleanup()
		}
	}
}
