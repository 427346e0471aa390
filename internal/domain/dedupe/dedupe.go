// Package dedupe tracks keys that are currently held, so that two workflow
// instances never share a work directory.
package dedupe

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
)

// Claims records held keys.
type Claims interface {
	// Claim atomically records key if it is free. It returns false when key
	// is already held or the set is full.
	Claim(ctx context.Context, key string) bool

	// Release frees key. Releasing a key that is not held is a no-op.
	Release(ctx context.Context, key string)

	Size() int64
}

type inMemoryClaims struct {
	mu      sync.Mutex
	held    map[string]struct{}
	maxSize int // 0 or negative = unbounded
	size    atomic.Int64
}

// NewInMemory returns an empty in-memory claim set.
func NewInMemory(opts ...Option) Claims {
	c := &inMemoryClaims{}
	for _, opt := range opts {
		opt(c)
	}
	c.held = make(map[string]struct{})
	return c
}

func (c *inMemoryClaims) Claim(_ context.Context, key string) bool {
	key = normalize(key)
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.held[key]; exists {
		return false
	}
	if c.maxSize > 0 && len(c.held) >= c.maxSize {
		return false
	}
	c.held[key] = struct{}{}
	c.size.Add(1)
	return true
}

func (c *inMemoryClaims) Release(_ context.Context, key string) {
	key = normalize(key)
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.held[key]; exists {
		delete(c.held, key)
		c.size.Add(-1)
	}
}

func (c *inMemoryClaims) Size() int64 {
	return c.size.Load()
}

// normalize maps equivalent spellings of a path to one key.
func normalize(key string) string {
	if key == "" {
		return key
	}
	return filepath.Clean(key)
}
