package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*RedisSnapshotStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	st, err := NewRedisSnapshotStore("redis://"+mr.Addr(), "")
	if err != nil {
		t.Fatalf("NewRedisSnapshotStore failed: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st, mr
}

func TestRedisSnapshotStoreRoundTrip(t *testing.T) {
	st, mr := setupTestRedis(t)
	ctx := context.Background()

	if _, ok, err := st.Load(ctx); err != nil || ok {
		t.Fatalf("expected empty store, got ok=%v err=%v", ok, err)
	}

	avatar := "a.png"
	saved := Snapshot{UserID: "u1", SessionID: "s1", Email: "a@x.com", Name: "Ana", Avatar: &avatar, SavedAt: time.Now().UTC().Truncate(time.Second)}
	if err := st.Save(ctx, saved); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if !mr.Exists(DefaultSnapshotKey) {
		t.Fatalf("expected key %q to exist", DefaultSnapshotKey)
	}

	loaded, ok, err := st.Load(ctx)
	if err != nil || !ok {
		t.Fatalf("Load failed: ok=%v err=%v", ok, err)
	}
	if loaded.UserID != "u1" || loaded.SessionID != "s1" || loaded.Avatar == nil || *loaded.Avatar != avatar {
		t.Errorf("unexpected snapshot: %+v", loaded)
	}

	if err := st.Clear(ctx); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if _, ok, _ := st.Load(ctx); ok {
		t.Error("expected snapshot to be cleared")
	}
	if err := st.Clear(ctx); err != nil {
		t.Errorf("second Clear should be a no-op: %v", err)
	}
}

func TestRedisSnapshotStoreRejectsCorruptPayload(t *testing.T) {
	st, mr := setupTestRedis(t)
	if err := mr.Set(DefaultSnapshotKey, "{not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, _, err := st.Load(context.Background()); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestNewRedisSnapshotStoreFailsWhenUnreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()
	if _, err := NewRedisSnapshotStore("redis://"+addr, ""); err == nil {
		t.Fatal("expected connection error")
	}
}
