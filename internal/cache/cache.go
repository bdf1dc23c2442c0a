package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	"golang-intel-service/internal/channel"
	"golang-intel-service/internal/model"

	"go.uber.org/zap"
)

// Entry is the latest known payload for a (category, key) pair
type Entry struct {
	Category  channel.Category `json:"category"`
	Key       string           `json:"key"`
	Payload   model.Payload    `json:"payload"`
	WrittenAt time.Time        `json:"written_at"`
	TTL       time.Duration    `json:"-"`
}

// Expired reports whether the entry is past its TTL at now
func (e Entry) Expired(now time.Time) bool {
	return now.Sub(e.WrittenAt) >= e.TTL
}

// Options configures a Cache
type Options struct {
	// DefaultTTL applies to categories without an override
	DefaultTTL time.Duration
	// CategoryTTL holds per-category overrides
	CategoryTTL map[channel.Category]time.Duration
	// Now is the clock, time.Now when nil
	Now    func() time.Time
	Logger *zap.Logger
}

// Cache is a short-TTL store holding the latest record per (category, key).
// Expiry is lazy: reads never return an entry past its TTL. Sweep may be run
// periodically to bound memory.
type Cache struct {
	mu         sync.RWMutex
	entries    map[channel.Category]map[string]Entry
	defaultTTL time.Duration
	ttls       map[channel.Category]time.Duration
	now        func() time.Time
	logger     *zap.Logger
}

// New creates an empty cache
func New(opts Options) *Cache {
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	ttls := make(map[channel.Category]time.Duration, len(opts.CategoryTTL))
	for category, ttl := range opts.CategoryTTL {
		if ttl > 0 {
			ttls[category] = ttl
		}
	}

	return &Cache{
		entries:    make(map[channel.Category]map[string]Entry),
		defaultTTL: opts.DefaultTTL,
		ttls:       ttls,
		now:        opts.Now,
		logger:     opts.Logger.Named("cache"),
	}
}

// TTLFor returns the TTL configured for a category
func (c *Cache) TTLFor(category channel.Category) time.Duration {
	if ttl, ok := c.ttls[category]; ok {
		return ttl
	}
	return c.defaultTTL
}

// Put stores payload with a fresh timestamp, overwriting any prior entry for
// the same (category, key)
func (c *Cache) Put(category channel.Category, key string, payload model.Payload) Entry {
	entry := Entry{
		Category:  category,
		Key:       key,
		Payload:   payload,
		WrittenAt: c.now(),
		TTL:       c.TTLFor(category),
	}

	c.mu.Lock()
	bucket, ok := c.entries[category]
	if !ok {
		bucket = make(map[string]Entry)
		c.entries[category] = bucket
	}
	bucket[key] = entry
	c.mu.Unlock()

	return entry
}

// Get returns the payload for (category, key) if present and not expired.
// A miss is a normal result, not an error.
func (c *Cache) Get(category channel.Category, key string) (model.Payload, bool) {
	now := c.now()

	c.mu.RLock()
	entry, ok := c.entries[category][key]
	c.mu.RUnlock()

	if !ok || entry.Expired(now) {
		return nil, false
	}
	return entry.Payload, true
}

// List returns all non-expired entries for a category, most recent first
func (c *Cache) List(category channel.Category) []Entry {
	now := c.now()

	c.mu.RLock()
	out := make([]Entry, 0, len(c.entries[category]))
	for _, entry := range c.entries[category] {
		if !entry.Expired(now) {
			out = append(out, entry)
		}
	}
	c.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].WrittenAt.Equal(out[j].WrittenAt) {
			return out[i].Key < out[j].Key
		}
		return out[i].WrittenAt.After(out[j].WrittenAt)
	})
	return out
}

// Len returns the number of stored entries, expired ones included
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	total := 0
	for _, bucket := range c.entries {
		total += len(bucket)
	}
	return total
}

// Sweep removes expired entries and returns how many were removed
func (c *Cache) Sweep() int {
	now := c.now()
	removed := 0

	c.mu.Lock()
	for category, bucket := range c.entries {
		for key, entry := range bucket {
			if entry.Expired(now) {
				delete(bucket, key)
				removed++
			}
		}
		if len(bucket) == 0 {
			delete(c.entries, category)
		}
	}
	c.mu.Unlock()

	return removed
}

// RunSweeper sweeps every interval until the context is cancelled
func (c *Cache) RunSweeper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if removed := c.Sweep(); removed > 0 {
				c.logger.Debug("Swept expired cache entries", zap.Int("removed", removed))
			}
		}
	}
}
