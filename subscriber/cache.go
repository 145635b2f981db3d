// Package subscriber implements the per-(app, context) resolved-settings
// cache described in SPEC_FULL.md §4.6: it sits between a store.Store and
// application code, turning raw snapshot-change notifications into
// deduplicated, resolved settings deliveries.
package subscriber

import (
	"context"
	"sync"

	"github.com/nfig-dev/nfig"
	"github.com/nfig-dev/nfig/resolver"
	"github.com/nfig-dev/nfig/schema"
	"github.com/nfig-dev/nfig/store"
)

// Callback receives a freshly resolved settings instance (root is whatever
// type schema.Bind was given), the diagnostics for any rejected overrides,
// or an error in place of both if resolution or the underlying transport
// failed.
type Callback func(settings any, invalid []nfig.InvalidOverride, err error)

// Cache resolves and deduplicates notifications from a single store.Store
// for one bound Schema, keyed by (app, evaluation context). Grounded on the
// teacher's api/notifications.PostgresNotifier subscriber bookkeeping
// (api/notifications/postgres.go), adapted here to add the commit-dedup and
// resolve step SPEC_FULL.md §4.6 requires on top of raw change notifications.
type Cache struct {
	st  store.Store
	sch *schema.Schema
	dec resolver.Decryptor

	mu      sync.Mutex
	entries map[cacheKey]*cacheEntry
}

type cacheKey struct {
	app string
	ctx nfig.Context
}

type cacheEntry struct {
	mu       sync.Mutex
	commit   nfig.Commit
	settings any
}

// New creates a Cache resolving against sch for app snapshots pulled from
// st. dec may be nil if sch has no encrypted settings.
func New(st store.Store, sch *schema.Schema, dec resolver.Decryptor) *Cache {
	return &Cache{
		st:      st,
		sch:     sch,
		dec:     dec,
		entries: make(map[cacheKey]*cacheEntry),
	}
}

// Subscribe resolves app's current snapshot for evalCtx immediately, then
// subscribes to the underlying store and re-resolves (and delivers to cb)
// only when the snapshot's commit actually changes. Every delivery for one
// Subscribe call is serialized against the others (SPEC_FULL.md §4.6: "at
// most one in-flight delivery ... ordering ... preserved per-subscription").
func (c *Cache) Subscribe(ctx context.Context, app string, evalCtx nfig.Context, cb Callback) (store.Subscription, error) {
	key := cacheKey{app: app, ctx: evalCtx}

	c.mu.Lock()
	entry, ok := c.entries[key]
	if !ok {
		entry = &cacheEntry{}
		c.entries[key] = entry
	}
	c.mu.Unlock()

	return c.st.Subscribe(ctx, app, func(snap nfig.Snapshot, transportErr error) {
		entry.mu.Lock()
		defer entry.mu.Unlock()

		if transportErr != nil {
			cb(nil, nil, transportErr)
			return
		}
		if entry.commit != "" && entry.commit == snap.Commit {
			return
		}

		defaults := c.sch.EffectiveDefaults(evalCtx.Tier, evalCtx.SubAppID)
		settings, invalid := resolver.Resolve(c.sch, defaults, snap, evalCtx, c.dec)
		entry.commit = snap.Commit
		entry.settings = settings
		cb(settings, invalid, nil)
	})
}

// Current returns the last settings instance delivered for (app, evalCtx),
// if any subscription has resolved one yet.
func (c *Cache) Current(app string, evalCtx nfig.Context) (any, bool) {
	key := cacheKey{app: app, ctx: evalCtx}
	c.mu.Lock()
	entry, ok := c.entries[key]
	c.mu.Unlock()
	if !ok {
		return nil, false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.commit == "" {
		return nil, false
	}
	return entry.settings, true
}
