// Package cache provides an in-memory, TTL-bounded read-through cache for
// job lookups in front of the durable store.
package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/book-expert/transcription-service/internal/core"
)

// JobCache caches core.JobWithChunks by jobId. It never owns the
// authoritative copy: a miss or an invalidated entry always falls back to
// the store, so a crash that loses the cache loses nothing but hit rate.
type JobCache struct {
	lru *expirable.LRU[string, core.JobWithChunks]
}

// Config configures JobCache.
type Config struct {
	Size int
	TTL  time.Duration
}

// DefaultConfig returns sensible defaults: a few thousand hot jobs held for
// a short TTL, long enough to absorb a burst of status polls after a job is
// submitted without serving stale terminal state for long.
func DefaultConfig() Config {
	return Config{Size: 4096, TTL: 5 * time.Second}
}

// New constructs a JobCache.
func New(cfg Config) *JobCache {
	if cfg.Size <= 0 {
		cfg.Size = 4096
	}

	return &JobCache{lru: expirable.NewLRU[string, core.JobWithChunks](cfg.Size, nil, cfg.TTL)}
}

// Get returns the cached value for jobID, if present and unexpired.
func (c *JobCache) Get(jobID string) (core.JobWithChunks, bool) {
	return c.lru.Get(jobID)
}

// Set stores the value for jobID, replacing any prior entry.
func (c *JobCache) Set(jobID string, value core.JobWithChunks) {
	c.lru.Add(jobID, value)
}

// Invalidate evicts jobID so the next Get falls through to the store. Called
// after every mutation to a job or one of its chunks.
func (c *JobCache) Invalidate(jobID string) {
	c.lru.Remove(jobID)
}
