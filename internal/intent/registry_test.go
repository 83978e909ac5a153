package intent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ridgelineparts/triage/internal/model"
	"github.com/ridgelineparts/triage/internal/store"
)

func TestRegistryServesCatalog(t *testing.T) {
	mem := store.NewMemory()
	mem.SeedIntents(catalog())

	reg := NewRegistry(mem, time.Hour)
	require.NoError(t, reg.Refresh(context.Background()))

	def, ok := reg.Get(context.Background(), "ORDER_STATUS")
	require.True(t, ok)
	assert.True(t, def.RequiresVerification)

	_, ok = reg.Get(context.Background(), "NOPE")
	assert.False(t, ok)

	assert.Len(t, reg.All(context.Background()), 3)
}

func TestRegistryRefreshesAfterInterval(t *testing.T) {
	mem := store.NewMemory()
	mem.SeedIntents(catalog())

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	reg := NewRegistry(mem, 5*time.Minute).WithClock(func() time.Time { return now })
	require.NoError(t, reg.Refresh(context.Background()))
	assert.Len(t, reg.All(context.Background()), 3)

	// A new intent lands in the store; within the interval the cached
	// catalog still serves.
	defs := append(catalog(), model.IntentDefinition{Slug: "WARRANTY_CLAIM", Active: true})
	mem.SeedIntents(defs)

	now = now.Add(time.Minute)
	assert.Len(t, reg.All(context.Background()), 3)

	now = now.Add(5 * time.Minute)
	assert.Len(t, reg.All(context.Background()), 4)
	_, ok := reg.Get(context.Background(), "WARRANTY_CLAIM")
	assert.True(t, ok)
}

func TestRegistryLoadsLazilyOnFirstUse(t *testing.T) {
	mem := store.NewMemory()
	mem.SeedIntents(catalog())

	reg := NewRegistry(mem, time.Hour)
	// No explicit Refresh; first read loads.
	assert.Len(t, reg.All(context.Background()), 3)
}
