// Package eventlog persists the audit trail of mutating store operations
// and answers range/by-commit queries over it, per SPEC_FULL.md §4.7.
// Sink.Record runs synchronously on the caller's goroutine and returns its
// error; the stores in this module do not call a Sink themselves.
// CloudShippingSink is the one Sink here that reports a failure (its
// cloud shipping) through an ErrorSink instead of returning it.
package eventlog

import (
	"context"
	"sort"
	"sync"

	"github.com/nfig-dev/nfig"
)

// Query filters a range scan over the log. Zero values are wildcards except
// MaxTimestamp, whose zero value means "no upper bound".
type Query struct {
	App          string
	SettingName  string
	User         string
	MinTimestamp int64 // unix seconds, inclusive
	MaxTimestamp int64 // unix seconds, exclusive; 0 means unbounded
	IncludeRestores bool
}

// Sink persists events and answers queries over them.
type Sink interface {
	// Record persists one (event, snapshot) pair. It must not block the
	// caller on transport latency beyond what the implementation documents;
	// MemorySink and RedisSink are both synchronous but cheap (in-process
	// map insert and a single ZADD, respectively). Slower backends should
	// buffer internally and report failures via an error sink rather than
	// blocking here.
	Record(ctx context.Context, event nfig.Event, snap nfig.Snapshot) error

	// Range returns events matching q, newest first.
	Range(ctx context.Context, q Query) ([]nfig.Event, error)

	// SnapshotAt returns the snapshot produced by the mutation whose
	// NewCommit equals commit, if still retained.
	SnapshotAt(ctx context.Context, app string, commit nfig.Commit) (nfig.Snapshot, bool, error)
}

// ErrorSink receives failures from a Sink's best-effort write path.
// CloudShippingSink calls it with each failure to ship an event to its cloud
// writer, without failing Record.
type ErrorSink func(err error)

// entry is one logged (event, snapshot) pair plus its insertion sequence,
// used to break timestamp ties deterministically.
type entry struct {
	event nfig.Event
	snap  nfig.Snapshot
	seq   uint64
}

// MemorySink is an in-process, unbounded Sink keyed by app. It is the
// reference implementation and the one used by tests; grounded on the
// teacher's internal/logging.MutationLogger discrete attempt/result log
// calls (internal/logging/mutation_logger.go), reshaped into a queryable
// index instead of pure log-line emission.
type MemorySink struct {
	mu      sync.RWMutex
	byApp   map[string][]entry
	byCommit map[string]nfig.Snapshot // key: app + "\x00" + commit
	nextSeq uint64
}

// NewMemorySink creates an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{
		byApp:    make(map[string][]entry),
		byCommit: make(map[string]nfig.Snapshot),
	}
}

var _ Sink = (*MemorySink)(nil)

func (m *MemorySink) Record(_ context.Context, event nfig.Event, snap nfig.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSeq++
	m.byApp[event.App] = append(m.byApp[event.App], entry{event: event, snap: snap, seq: m.nextSeq})
	m.byCommit[commitKey(event.App, event.NewCommit)] = snap
	return nil
}

func (m *MemorySink) Range(_ context.Context, q Query) ([]nfig.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var candidates []entry
	if q.App != "" {
		candidates = m.byApp[q.App]
	} else {
		for _, es := range m.byApp {
			candidates = append(candidates, es...)
		}
	}

	var matched []entry
	for _, e := range candidates {
		if !q.IncludeRestores && e.event.Type == nfig.EventRestoreSnapshot {
			continue
		}
		if q.SettingName != "" && e.event.Setting != q.SettingName {
			continue
		}
		if q.User != "" && e.event.User != q.User {
			continue
		}
		ts := e.event.Timestamp.Unix()
		if ts < q.MinTimestamp {
			continue
		}
		if q.MaxTimestamp != 0 && ts >= q.MaxTimestamp {
			continue
		}
		matched = append(matched, e)
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].event.Timestamp.Equal(matched[j].event.Timestamp) {
			return matched[i].event.Timestamp.After(matched[j].event.Timestamp)
		}
		return matched[i].seq > matched[j].seq
	})

	out := make([]nfig.Event, len(matched))
	for i, e := range matched {
		out[i] = e.event
	}
	return out, nil
}

func (m *MemorySink) SnapshotAt(_ context.Context, app string, commit nfig.Commit) (nfig.Snapshot, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.byCommit[commitKey(app, commit)]
	return snap, ok, nil
}

func commitKey(app string, commit nfig.Commit) string {
	return app + "\x00" + string(commit)
}
