// Package store defines NFig's override-persistence contract and a
// reference in-memory implementation. A Store owns the mapping from app
// name to Snapshot; it is not bound to a tier or data center, which are
// supplied per evaluation context to resolver.Resolve and
// subscriber.Cache.Subscribe instead; see SPEC_FULL.md §4.5.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nfig-dev/nfig"
)

// ErrAxisRequired names the error for Any as a store's current-context tier
// or dataCenter, where it would make every override ambiguous. NewMemoryStore
// and redisstore.New take no current context, and nothing in the module
// returns this error.
var ErrAxisRequired = errors.New("nfig/store: tier and dataCenter must not be Any for a store's current context")

// Callback receives the app's snapshot whenever it changes (or a transport
// error in its place, per SPEC_FULL.md §7's TransportError policy). Resolving
// a snapshot into a typed settings instance is package subscriber's job, kept
// out of Store so resolution — a CPU-bound step — never runs under a store
// lock or blocks the notification fan-out.
type Callback func(snap nfig.Snapshot, err error)

// Subscription is a cancellation handle returned by Subscribe. Callbacks
// never hold a reference back to the store or the subscriber registry;
// Cancel is the only way to stop delivery (SPEC_FULL.md §9, "no back-reference
// ownership from callbacks").
type Subscription interface {
	Cancel()
}

// Store is the persistence and change-notification contract every NFig
// backing store (in-memory, Redis, ...) implements.
type Store interface {
	// Get returns the app's current snapshot. An app that has never been
	// written to returns EmptySnapshot(app).
	Get(ctx context.Context, app string) (nfig.Snapshot, error)

	// SetOverride replaces any (subAppID, dataCenter)-matching override for
	// name with a new one carrying value, and appends it to the snapshot's
	// override set. If expectedCommit is non-empty and does not match the
	// stored commit, the op is a no-op: it returns the zero Snapshot and
	// ok=false.
	SetOverride(ctx context.Context, app string, ov nfig.OverrideValue, user string, expectedCommit nfig.Commit) (snap nfig.Snapshot, ok bool, err error)

	// ClearOverride removes the override matching (name, subAppID, dataCenter),
	// if any. Absence is a no-op: it returns the current snapshot and ok=true
	// (clearing something that isn't there is not a conflict).
	ClearOverride(ctx context.Context, app, name string, subAppID *int, dc nfig.Axis, user string, expectedCommit nfig.Commit) (snap nfig.Snapshot, ok bool, err error)

	// Restore wholesale-replaces app's override set with snap's, minting a
	// fresh commit and a RestoreSnapshot event. snap must belong to app.
	Restore(ctx context.Context, app string, snap nfig.Snapshot, user string) (nfig.Snapshot, error)

	// Subscribe registers cb for change notifications on app. cb fires once
	// immediately with the current snapshot, then again after every
	// successful mutation. Delivery for one subscription is always
	// serialized and always in commit order.
	Subscribe(ctx context.Context, app string, cb Callback) (Subscription, error)
}

// newCommit mints a fresh, distinct commit token.
func newCommit() nfig.Commit {
	return nfig.Commit(uuid.New().String())
}

// subscriberEntry is one registered callback plus the serialization queue
// that guarantees it never receives more than one in-flight delivery.
type subscriberEntry struct {
	app       string
	cb        Callback
	cancelCh  chan struct{}
	deliver   chan nfig.Snapshot
	closeOnce sync.Once
}

// MemoryStore is a mutex-guarded, per-app snapshot map: the reference Store
// implementation, grounded on the teacher's notifications.PostgresNotifier
// subscriber bookkeeping (api/notifications/postgres.go) adapted from
// LISTEN/NOTIFY channels to an in-process snapshot map.
type MemoryStore struct {
	mu        sync.Mutex
	snapshots map[string]nfig.Snapshot
	subs      map[string][]*subscriberEntry
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots: make(map[string]nfig.Snapshot),
		subs:      make(map[string][]*subscriberEntry),
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) Get(_ context.Context, app string) (nfig.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked(app), nil
}

func (s *MemoryStore) snapshotLocked(app string) nfig.Snapshot {
	if snap, ok := s.snapshots[app]; ok {
		return snap
	}
	return nfig.EmptySnapshot(app)
}

func (s *MemoryStore) SetOverride(_ context.Context, app string, ov nfig.OverrideValue, user string, expectedCommit nfig.Commit) (nfig.Snapshot, bool, error) {
	s.mu.Lock()
	cur := s.snapshotLocked(app)
	if expectedCommit != "" && expectedCommit != cur.Commit {
		s.mu.Unlock()
		return nfig.Snapshot{}, false, nil
	}

	next := nfig.Snapshot{
		AppName: app,
		Commit:  newCommit(),
		Overrides: nfig.WithReplaced(cur.Overrides, ov.Name, ov, func(existing nfig.OverrideValue) bool {
			return existing.SameIdentity(ov)
		}),
	}
	next.LastEvent = &nfig.Event{
		Type:        nfig.EventSetOverride,
		App:         app,
		Setting:     ov.Name,
		Value:       ov.Value,
		DataCenter:  axisString(ov.DataCenter),
		User:        user,
		Timestamp:   time.Now().UTC(),
		PriorCommit: cur.Commit,
		NewCommit:   next.Commit,
	}
	s.snapshots[app] = next
	s.mu.Unlock()

	s.notify(app, next)
	return next, true, nil
}

func (s *MemoryStore) ClearOverride(_ context.Context, app, name string, subAppID *int, dc nfig.Axis, user string, expectedCommit nfig.Commit) (nfig.Snapshot, bool, error) {
	s.mu.Lock()
	cur := s.snapshotLocked(app)
	if expectedCommit != "" && expectedCommit != cur.Commit {
		s.mu.Unlock()
		return nfig.Snapshot{}, false, nil
	}

	candidate := nfig.OverrideValue{Name: name, SubAppID: subAppID, DataCenter: dc}
	kept, removed := nfig.WithRemoved(cur.Overrides, name, func(existing nfig.OverrideValue) bool {
		return existing.SameIdentity(candidate)
	})
	if !removed {
		// Nothing matched; clearing an absent override is a no-op success.
		s.mu.Unlock()
		return cur, true, nil
	}

	next := nfig.Snapshot{
		AppName:   app,
		Commit:    newCommit(),
		Overrides: kept,
	}
	next.LastEvent = &nfig.Event{
		Type:        nfig.EventClearOverride,
		App:         app,
		Setting:     name,
		DataCenter:  axisString(dc),
		User:        user,
		Timestamp:   time.Now().UTC(),
		PriorCommit: cur.Commit,
		NewCommit:   next.Commit,
	}
	s.snapshots[app] = next
	s.mu.Unlock()

	s.notify(app, next)
	return next, true, nil
}

func (s *MemoryStore) Restore(_ context.Context, app string, snap nfig.Snapshot, user string) (nfig.Snapshot, error) {
	if snap.AppName != app {
		return nfig.Snapshot{}, fmt.Errorf("%w: snapshot belongs to %q, not %q", nfig.ErrAppMismatch, snap.AppName, app)
	}

	s.mu.Lock()
	cur := s.snapshotLocked(app)
	next := nfig.Snapshot{
		AppName:   app,
		Commit:    newCommit(),
		Overrides: nfig.NewListBySetting(append([]nfig.OverrideValue(nil), snap.Overrides.ToSlice()...)),
	}
	next.LastEvent = &nfig.Event{
		Type:           nfig.EventRestoreSnapshot,
		App:            app,
		RestoredCommit: snap.Commit,
		User:           user,
		Timestamp:      time.Now().UTC(),
		PriorCommit:    cur.Commit,
		NewCommit:      next.Commit,
	}
	s.snapshots[app] = next
	s.mu.Unlock()

	s.notify(app, next)
	return next, nil
}

func (s *MemoryStore) Subscribe(ctx context.Context, app string, cb Callback) (Subscription, error) {
	entry := &subscriberEntry{
		app:      app,
		cb:       cb,
		cancelCh: make(chan struct{}),
		deliver:  make(chan nfig.Snapshot, 16),
	}

	s.mu.Lock()
	s.subs[app] = append(s.subs[app], entry)
	current := s.snapshotLocked(app)
	s.mu.Unlock()

	go s.dispatchLoop(entry)

	// Fire immediately with the current state, same as every later delivery.
	entry.deliver <- current

	go func() {
		<-ctx.Done()
		s.unsubscribe(entry)
	}()

	return &memSubscription{store: s, entry: entry}, nil
}

// dispatchLoop is the single goroutine that ever calls entry.cb, guaranteeing
// at most one in-flight delivery and commit-order preservation per
// subscription (SPEC_FULL.md §4.6).
func (s *MemoryStore) dispatchLoop(entry *subscriberEntry) {
	for {
		select {
		case <-entry.cancelCh:
			return
		case snap := <-entry.deliver:
			entry.cb(snap, nil)
		}
	}
}

func (s *MemoryStore) notify(app string, snap nfig.Snapshot) {
	s.mu.Lock()
	entries := append([]*subscriberEntry(nil), s.subs[app]...)
	s.mu.Unlock()

	for _, e := range entries {
		select {
		case e.deliver <- snap:
		case <-e.cancelCh:
		}
	}
}

// unsubscribe may be called twice for the same entry — once from the
// ctx.Done() watcher goroutine spawned in Subscribe, once from
// Subscription.Cancel() — so closing cancelCh is guarded by the entry's
// own sync.Once, shared by both callers, not a once local to one path.
func (s *MemoryStore) unsubscribe(entry *subscriberEntry) {
	s.mu.Lock()
	list := s.subs[entry.app]
	for i, e := range list {
		if e == entry {
			s.subs[entry.app] = append(list[:i], list[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	entry.closeOnce.Do(func() { close(entry.cancelCh) })
}

type memSubscription struct {
	store *MemoryStore
	entry *subscriberEntry
}

func (m *memSubscription) Cancel() {
	m.store.unsubscribe(m.entry)
}

func axisString(a nfig.Axis) string {
	if a == nil {
		return ""
	}
	return a.String()
}
