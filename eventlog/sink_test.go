package eventlog

import (
	"context"
	"testing"
	"time"

	"github.com/nfig-dev/nfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkEvent(app, setting, user string, ts time.Time, typ nfig.EventType) nfig.Event {
	return nfig.Event{
		Type:      typ,
		App:       app,
		Setting:   setting,
		User:      user,
		Timestamp: ts,
	}
}

func TestMemorySink_RecordAndRange(t *testing.T) {
	m := NewMemorySink()
	ctx := context.Background()
	base := time.Now().Truncate(time.Second)

	e1 := mkEvent("app1", "X", "alice", base, nfig.EventSetOverride)
	e2 := mkEvent("app1", "Y", "bob", base.Add(time.Second), nfig.EventSetOverride)
	require.NoError(t, m.Record(ctx, e1, nfig.EmptySnapshot("app1")))
	require.NoError(t, m.Record(ctx, e2, nfig.EmptySnapshot("app1")))

	events, err := m.Range(ctx, Query{App: "app1"})
	require.NoError(t, err)
	require.Len(t, events, 2)
	// Newest first.
	assert.Equal(t, "Y", events[0].Setting)
	assert.Equal(t, "X", events[1].Setting)
}

func TestMemorySink_Range_FiltersBySettingAndUser(t *testing.T) {
	m := NewMemorySink()
	ctx := context.Background()
	base := time.Now().Truncate(time.Second)

	require.NoError(t, m.Record(ctx, mkEvent("app1", "X", "alice", base, nfig.EventSetOverride), nfig.EmptySnapshot("app1")))
	require.NoError(t, m.Record(ctx, mkEvent("app1", "Y", "bob", base, nfig.EventSetOverride), nfig.EmptySnapshot("app1")))

	events, err := m.Range(ctx, Query{App: "app1", SettingName: "X"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "X", events[0].Setting)

	events, err = m.Range(ctx, Query{App: "app1", User: "bob"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "Y", events[0].Setting)
}

func TestMemorySink_Range_ExcludesRestoresByDefault(t *testing.T) {
	m := NewMemorySink()
	ctx := context.Background()
	base := time.Now().Truncate(time.Second)

	require.NoError(t, m.Record(ctx, mkEvent("app1", "X", "alice", base, nfig.EventSetOverride), nfig.EmptySnapshot("app1")))
	require.NoError(t, m.Record(ctx, mkEvent("app1", "", "bob", base.Add(time.Second), nfig.EventRestoreSnapshot), nfig.EmptySnapshot("app1")))

	events, err := m.Range(ctx, Query{App: "app1"})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, nfig.EventSetOverride, events[0].Type)

	events, err = m.Range(ctx, Query{App: "app1", IncludeRestores: true})
	require.NoError(t, err)
	require.Len(t, events, 2)
}

func TestMemorySink_Range_TimestampBounds(t *testing.T) {
	m := NewMemorySink()
	ctx := context.Background()
	base := time.Now().Truncate(time.Second)

	require.NoError(t, m.Record(ctx, mkEvent("app1", "X", "alice", base, nfig.EventSetOverride), nfig.EmptySnapshot("app1")))
	require.NoError(t, m.Record(ctx, mkEvent("app1", "Y", "alice", base.Add(10*time.Second), nfig.EventSetOverride), nfig.EmptySnapshot("app1")))

	events, err := m.Range(ctx, Query{App: "app1", MinTimestamp: base.Add(5 * time.Second).Unix()})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "Y", events[0].Setting)

	events, err = m.Range(ctx, Query{App: "app1", MaxTimestamp: base.Add(5 * time.Second).Unix()})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "X", events[0].Setting)
}

func TestMemorySink_Range_TiesBrokenBySequence(t *testing.T) {
	m := NewMemorySink()
	ctx := context.Background()
	same := time.Now().Truncate(time.Second)

	require.NoError(t, m.Record(ctx, mkEvent("app1", "First", "alice", same, nfig.EventSetOverride), nfig.EmptySnapshot("app1")))
	require.NoError(t, m.Record(ctx, mkEvent("app1", "Second", "alice", same, nfig.EventSetOverride), nfig.EmptySnapshot("app1")))

	events, err := m.Range(ctx, Query{App: "app1"})
	require.NoError(t, err)
	require.Len(t, events, 2)
	// Same timestamp: later insertion (higher seq) sorts first.
	assert.Equal(t, "Second", events[0].Setting)
	assert.Equal(t, "First", events[1].Setting)
}

func TestMemorySink_SnapshotAt(t *testing.T) {
	m := NewMemorySink()
	ctx := context.Background()

	snap := nfig.Snapshot{AppName: "app1", Commit: "c1", Overrides: nfig.NewListBySetting[nfig.OverrideValue](nil)}
	event := mkEvent("app1", "X", "alice", time.Now(), nfig.EventSetOverride)
	event.NewCommit = "c1"
	require.NoError(t, m.Record(ctx, event, snap))

	got, ok, err := m.SnapshotAt(ctx, "app1", "c1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, snap.Commit, got.Commit)

	_, ok, err = m.SnapshotAt(ctx, "app1", "nonexistent")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = m.SnapshotAt(ctx, "app2", "c1")
	require.NoError(t, err)
	assert.False(t, ok, "commits are scoped per app")
}

func TestMemorySink_Range_AllApps(t *testing.T) {
	m := NewMemorySink()
	ctx := context.Background()
	base := time.Now().Truncate(time.Second)

	require.NoError(t, m.Record(ctx, mkEvent("app1", "X", "alice", base, nfig.EventSetOverride), nfig.EmptySnapshot("app1")))
	require.NoError(t, m.Record(ctx, mkEvent("app2", "Y", "alice", base, nfig.EventSetOverride), nfig.EmptySnapshot("app2")))

	events, err := m.Range(ctx, Query{})
	require.NoError(t, err)
	assert.Len(t, events, 2)
}
