package redisstore

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/nfig-dev/nfig"
	"github.com/nfig-dev/nfig/internal/slogging"
	"github.com/nfig-dev/nfig/store"
	"github.com/redis/go-redis/v9"
)

// subscriberEntry mirrors store.MemoryStore's: one dedicated delivery
// goroutine per registered callback, guaranteeing at most one in-flight
// delivery and commit-order preservation (SPEC_FULL.md §4.6).
type subscriberEntry struct {
	app       string
	cb        store.Callback
	cancelCh  chan struct{}
	deliver   chan nfig.Snapshot
	closeOnce sync.Once
}

func (s *Store) Subscribe(ctx context.Context, app string, cb store.Callback) (store.Subscription, error) {
	s.ensureListening()

	entry := &subscriberEntry{
		app:      app,
		cb:       cb,
		cancelCh: make(chan struct{}),
		deliver:  make(chan nfig.Snapshot, 16),
	}

	s.mu.Lock()
	s.subs[app] = append(s.subs[app], entry)
	s.mu.Unlock()

	go dispatchLoop(entry)

	current, err := s.Get(ctx, app)
	if err != nil {
		entry.deliver <- nfig.Snapshot{}
		go s.deliverError(entry, err)
	} else {
		entry.deliver <- current
	}

	go func() {
		<-ctx.Done()
		s.unsubscribe(entry)
	}()

	return &subscription{store: s, entry: entry}, nil
}

func (s *Store) deliverError(entry *subscriberEntry, err error) {
	entry.cb(nfig.Snapshot{}, err)
}

// ensureListening starts the single pub/sub listener goroutine this Store
// uses for every app, the first time Subscribe is called. Grounded on the
// teacher's PostgresNotifier.listenLoop (api/notifications/postgres.go),
// adapted from a pq.Listener's Notify channel to redis.PubSub's Channel().
func (s *Store) ensureListening() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	listenCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	pubsub := s.client.Subscribe(listenCtx, s.channel())
	go s.listenLoop(listenCtx, pubsub)
}

func (s *Store) listenLoop(ctx context.Context, pubsub *redis.PubSub) {
	logger := slogging.Get()
	ch := pubsub.Channel()
	defer pubsub.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var upd updateMessage
			if err := json.Unmarshal([]byte(msg.Payload), &upd); err != nil {
				logger.Warn("nfig/redisstore: malformed update message: %v", err)
				continue
			}
			s.handleUpdate(ctx, upd.App)
		}
	}
}

func (s *Store) handleUpdate(ctx context.Context, app string) {
	s.mu.Lock()
	entries := append([]*subscriberEntry(nil), s.subs[app]...)
	s.mu.Unlock()
	if len(entries) == 0 {
		return
	}

	snap, err := s.Get(ctx, app)
	for _, e := range entries {
		if err != nil {
			go s.deliverError(e, err)
			continue
		}
		select {
		case e.deliver <- snap:
			s.m.recordNotification(ctx)
		case <-e.cancelCh:
		}
	}
}

func dispatchLoop(entry *subscriberEntry) {
	for {
		select {
		case <-entry.cancelCh:
			return
		case snap := <-entry.deliver:
			entry.cb(snap, nil)
		}
	}
}

// unsubscribe may be called twice for the same entry — once from the
// ctx.Done() watcher goroutine spawned in Subscribe, once from
// Subscription.Cancel() — so closing cancelCh is guarded by the entry's
// own sync.Once, shared by both callers, not a once local to one path.
func (s *Store) unsubscribe(entry *subscriberEntry) {
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

type subscription struct {
	store *Store
	entry *subscriberEntry
}

func (sub *subscription) Cancel() {
	sub.store.unsubscribe(sub.entry)
}
