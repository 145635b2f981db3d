package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/nfig-dev/nfig"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupStore(t *testing.T) *Store {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	s, err := New(client, Config{Prefix: "test:"})
	require.NoError(t, err)
	return s
}

func TestStore_GetEmpty(t *testing.T) {
	s := setupStore(t)
	snap, err := s.Get(context.Background(), "app1")
	require.NoError(t, err)
	assert.Equal(t, nfig.InitialCommit, snap.Commit)
	assert.Equal(t, 0, snap.Overrides.Len())
	assert.Nil(t, snap.LastEvent)
}

func TestStore_SetOverride_ReplacesNotAppends(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	snap, ok, err := s.SetOverride(ctx, "app1", nfig.OverrideValue{Name: "TopInteger", Value: "1", DataCenter: nfig.DataCenterAny}, "alice", "")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, len(snap.Overrides.GetAll("TopInteger")))

	snap2, ok, err := s.SetOverride(ctx, "app1", nfig.OverrideValue{Name: "TopInteger", Value: "2", DataCenter: nfig.DataCenterAny}, "alice", "")
	require.NoError(t, err)
	require.True(t, ok)
	overrides := snap2.Overrides.GetAll("TopInteger")
	require.Len(t, overrides, 1)
	assert.Equal(t, "2", overrides[0].Value)
	assert.NotEqual(t, snap.Commit, snap2.Commit)
}

func TestStore_PersistsDataCenterAcrossGet(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	_, ok, err := s.SetOverride(ctx, "app1", nfig.OverrideValue{Name: "X", Value: "1", DataCenter: nfig.DataCenterWest}, "alice", "")
	require.NoError(t, err)
	require.True(t, ok)

	snap, err := s.Get(ctx, "app1")
	require.NoError(t, err)
	overrides := snap.Overrides.GetAll("X")
	require.Len(t, overrides, 1)
	require.NotNil(t, overrides[0].DataCenter)
	assert.Equal(t, nfig.DataCenterWest.Ordinal(), overrides[0].DataCenter.Ordinal())
}

func TestStore_CAS(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	snap, ok, err := s.SetOverride(ctx, "app1", nfig.OverrideValue{Name: "TopInteger", Value: "1", DataCenter: nfig.DataCenterAny}, "alice", nfig.InitialCommit)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = s.SetOverride(ctx, "app1", nfig.OverrideValue{Name: "TopInteger", Value: "2", DataCenter: nfig.DataCenterAny}, "alice", nfig.InitialCommit)
	require.NoError(t, err)
	assert.False(t, ok, "stale expectedCommit must be rejected")

	current, err := s.Get(ctx, "app1")
	require.NoError(t, err)
	assert.Equal(t, snap.Commit, current.Commit)
	assert.Equal(t, "1", current.Overrides.GetAll("TopInteger")[0].Value)
}

func TestStore_ClearOverride(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	_, _, err := s.SetOverride(ctx, "app1", nfig.OverrideValue{Name: "X", Value: "1", DataCenter: nfig.DataCenterAny}, "alice", "")
	require.NoError(t, err)

	snap, ok, err := s.ClearOverride(ctx, "app1", "X", nil, nfig.DataCenterAny, "alice", "")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0, len(snap.Overrides.GetAll("X")))

	// Clearing again is a no-op success, not an error, and doesn't mint a
	// new commit or publish a notification.
	snap2, ok, err := s.ClearOverride(ctx, "app1", "X", nil, nfig.DataCenterAny, "alice", "")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, snap.Commit, snap2.Commit)
}

func TestStore_Restore(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	_, _, err := s.SetOverride(ctx, "app1", nfig.OverrideValue{Name: "X", Value: "1", DataCenter: nfig.DataCenterAny}, "alice", "")
	require.NoError(t, err)
	snapshot1, err := s.Get(ctx, "app1")
	require.NoError(t, err)

	_, _, err = s.SetOverride(ctx, "app1", nfig.OverrideValue{Name: "Y", Value: "2", DataCenter: nfig.DataCenterAny}, "alice", "")
	require.NoError(t, err)

	restored, err := s.Restore(ctx, "app1", snapshot1, "bob")
	require.NoError(t, err)
	assert.Equal(t, nfig.EventRestoreSnapshot, restored.LastEvent.Type)
	assert.Equal(t, snapshot1.Commit, restored.LastEvent.RestoredCommit)
	assert.NotEqual(t, snapshot1.Commit, restored.Commit)
	assert.Equal(t, 1, len(restored.Overrides.GetAll("X")))
	assert.Equal(t, 0, len(restored.Overrides.GetAll("Y")))
}

func TestStore_RestoreRejectsMismatchedApp(t *testing.T) {
	s := setupStore(t)
	_, err := s.Restore(context.Background(), "app1", nfig.EmptySnapshot("app2"), "bob")
	assert.ErrorIs(t, err, nfig.ErrAppMismatch)
}

func TestStore_Subscribe_FiresImmediatelyAndOnMutation(t *testing.T) {
	s := setupStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan nfig.Snapshot, 8)
	sub, err := s.Subscribe(ctx, "app1", func(snap nfig.Snapshot, err error) {
		require.NoError(t, err)
		received <- snap
	})
	require.NoError(t, err)
	defer sub.Cancel()

	select {
	case snap := <-received:
		assert.Equal(t, nfig.InitialCommit, snap.Commit)
	case <-time.After(2 * time.Second):
		t.Fatal("expected immediate delivery on subscribe")
	}

	_, _, err = s.SetOverride(context.Background(), "app1", nfig.OverrideValue{Name: "X", Value: "1", DataCenter: nfig.DataCenterAny}, "alice", "")
	require.NoError(t, err)

	select {
	case snap := <-received:
		assert.Equal(t, 1, len(snap.Overrides.GetAll("X")))
	case <-time.After(2 * time.Second):
		t.Fatal("expected delivery after mutation via pub/sub")
	}
}

func TestStore_Subscribe_CancelStopsDelivery(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	received := make(chan nfig.Snapshot, 8)
	sub, err := s.Subscribe(ctx, "app1", func(snap nfig.Snapshot, err error) {
		require.NoError(t, err)
		received <- snap
	})
	require.NoError(t, err)

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("expected immediate delivery on subscribe")
	}

	sub.Cancel()

	_, _, err = s.SetOverride(ctx, "app1", nfig.OverrideValue{Name: "X", Value: "1", DataCenter: nfig.DataCenterAny}, "alice", "")
	require.NoError(t, err)

	select {
	case snap := <-received:
		t.Fatalf("expected no delivery after Cancel, got %+v", snap)
	case <-time.After(200 * time.Millisecond):
	}
}
