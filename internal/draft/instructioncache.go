// Package draft implements reply draft generation: prompt assembly, the LLM
// call, citation extraction, and the durable generation record.
package draft

import (
	"context"
	"sync"
	"time"
)

// InstructionSource loads the current reply instructions, typically from the
// store so operators can tune them without a deploy.
type InstructionSource func(ctx context.Context) (string, error)

// InstructionCache caches the reply instructions with a TTL. The clock is
// injected so tests control expiry deterministically.
type InstructionCache struct {
	source InstructionSource
	ttl    time.Duration
	now    func() time.Time

	mu       sync.Mutex
	value    string
	loadedAt time.Time
}

// NewInstructionCache creates a cache over the source.
func NewInstructionCache(source InstructionSource, ttl time.Duration) *InstructionCache {
	return &InstructionCache{
		source: source,
		ttl:    ttl,
		now:    time.Now,
	}
}

// WithClock overrides the cache's clock, for tests.
func (c *InstructionCache) WithClock(now func() time.Time) *InstructionCache {
	c.now = now
	return c
}

// Get returns the cached instructions, reloading after the TTL elapses. A
// reload failure serves the previous value rather than erroring.
func (c *InstructionCache) Get(ctx context.Context) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	fresh := !c.loadedAt.IsZero() && c.now().Sub(c.loadedAt) < c.ttl
	if fresh {
		return c.value
	}

	value, err := c.source(ctx)
	if err != nil {
		return c.value
	}
	c.value = value
	c.loadedAt = c.now()
	return c.value
}

// Invalidate drops the cached value so the next Get reloads.
func (c *InstructionCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loadedAt = time.Time{}
}
