package draft

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInstructionCacheLoadsOnce(t *testing.T) {
	calls := 0
	cache := NewInstructionCache(func(ctx context.Context) (string, error) {
		calls++
		return "be nice", nil
	}, time.Minute)

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	cache.WithClock(func() time.Time { return now })

	assert.Equal(t, "be nice", cache.Get(context.Background()))
	assert.Equal(t, "be nice", cache.Get(context.Background()))
	assert.Equal(t, 1, calls)
}

func TestInstructionCacheReloadsAfterTTL(t *testing.T) {
	value := "v1"
	cache := NewInstructionCache(func(ctx context.Context) (string, error) {
		return value, nil
	}, time.Minute)

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	cache.WithClock(func() time.Time { return now })

	assert.Equal(t, "v1", cache.Get(context.Background()))

	value = "v2"
	now = now.Add(30 * time.Second)
	assert.Equal(t, "v1", cache.Get(context.Background()))

	now = now.Add(31 * time.Second)
	assert.Equal(t, "v2", cache.Get(context.Background()))
}

func TestInstructionCacheServesStaleOnFailure(t *testing.T) {
	fail := false
	cache := NewInstructionCache(func(ctx context.Context) (string, error) {
		if fail {
			return "", errors.New("store down")
		}
		return "good", nil
	}, time.Minute)

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	cache.WithClock(func() time.Time { return now })

	assert.Equal(t, "good", cache.Get(context.Background()))

	fail = true
	now = now.Add(2 * time.Minute)
	assert.Equal(t, "good", cache.Get(context.Background()))
}

func TestInstructionCacheInvalidate(t *testing.T) {
	calls := 0
	cache := NewInstructionCache(func(ctx context.Context) (string, error) {
		calls++
		return "x", nil
	}, time.Hour)

	cache.Get(context.Background())
	cache.Invalidate()
	cache.Get(context.Background())
	assert.Equal(t, 2, calls)
}
