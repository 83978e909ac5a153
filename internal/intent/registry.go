// Package intent implements message intent classification against a
// runtime-extensible catalog.
package intent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ridgelineparts/triage/internal/model"
	"github.com/ridgelineparts/triage/internal/store"
)

// Registry holds the live intent catalog. Definitions live in the store and
// can change at runtime; the registry reloads them after the refresh
// interval elapses, so new intents need no redeploy.
type Registry struct {
	store    store.Store
	interval time.Duration
	now      func() time.Time

	mu       sync.RWMutex
	defs     map[string]model.IntentDefinition
	loadedAt time.Time
}

// NewRegistry creates a registry backed by the store.
func NewRegistry(s store.Store, refreshInterval time.Duration) *Registry {
	return &Registry{
		store:    s,
		interval: refreshInterval,
		now:      time.Now,
		defs:     make(map[string]model.IntentDefinition),
	}
}

// WithClock overrides the registry's clock, for tests.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.now = now
	return r
}

// Refresh reloads the catalog from the store.
func (r *Registry) Refresh(ctx context.Context) error {
	defs, err := r.store.ListIntentDefinitions(ctx)
	if err != nil {
		return fmt.Errorf("load intent definitions: %w", err)
	}

	bys := make(map[string]model.IntentDefinition, len(defs))
	for _, d := range defs {
		bys[d.Slug] = d
	}

	r.mu.Lock()
	r.defs = bys
	r.loadedAt = r.now()
	r.mu.Unlock()
	return nil
}

// refreshIfStale reloads when the interval has elapsed. A reload failure
// keeps serving the previous catalog.
func (r *Registry) refreshIfStale(ctx context.Context) {
	r.mu.RLock()
	stale := r.loadedAt.IsZero() || r.now().Sub(r.loadedAt) >= r.interval
	r.mu.RUnlock()
	if stale {
		_ = r.Refresh(ctx)
	}
}

// Get returns the definition for a slug, if it is in the active catalog.
func (r *Registry) Get(ctx context.Context, slug string) (model.IntentDefinition, bool) {
	r.refreshIfStale(ctx)
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[slug]
	return d, ok
}

// All returns the active catalog.
func (r *Registry) All(ctx context.Context) []model.IntentDefinition {
	r.refreshIfStale(ctx)
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.IntentDefinition, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d)
	}
	return out
}
