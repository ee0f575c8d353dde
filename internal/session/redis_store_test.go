package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"colegio/panel/internal/backend"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store, s
}

func sampleRecord() Record {
	return Record{
		Token: "tok-1",
		User: &backend.User{
			ID:        "42",
			DisplayID: "M-1234",
			Name:      "Juan Perez",
			Scopes:    []string{"export"},
			Role:      "administrativo",
		},
		Cookies:   []Cookie{{Name: "csrf_token", Value: "csrf-1"}, {Name: "refresh_token", Value: "r-1"}},
		CreatedAt: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func TestNewRedisStore(t *testing.T) {
	store, _ := setupTestRedis(t)
	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNewRedisStoreBadURL(t *testing.T) {
	if _, err := NewRedisStore("not a url"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestSaveAndLoad(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()
	want := sampleRecord()

	if err := store.Save(ctx, "sid-1", want, time.Hour); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	got, err := store.Load(ctx, "sid-1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("record mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadExpiredSession(t *testing.T) {
	store, s := setupTestRedis(t)
	ctx := context.Background()

	if err := store.Save(ctx, "short", sampleRecord(), time.Second); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	s.FastForward(2 * time.Second)

	if _, err := store.Load(ctx, "short"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveDefaultsTTL(t *testing.T) {
	store, s := setupTestRedis(t)
	if err := store.Save(context.Background(), "sid", sampleRecord(), 0); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if ttl := s.TTL("panel:session:sid"); ttl != DefaultTTL {
		t.Fatalf("ttl = %v, want %v", ttl, DefaultTTL)
	}
}

func TestDeleteSession(t *testing.T) {
	store, _ := setupTestRedis(t)
	ctx := context.Background()

	if err := store.Save(ctx, "a", sampleRecord(), time.Hour); err != nil {
		t.Fatalf("Save a failed: %v", err)
	}
	if err := store.Save(ctx, "b", sampleRecord(), time.Hour); err != nil {
		t.Fatalf("Save b failed: %v", err)
	}
	if err := store.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Load(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected a to be gone, got %v", err)
	}
	if _, err := store.Load(ctx, "b"); err != nil {
		t.Errorf("b should survive deleting a: %v", err)
	}
	if err := store.Delete(ctx, "never-existed"); err != nil {
		t.Errorf("deleting unknown id should not fail: %v", err)
	}
}

func TestLoadEmptyID(t *testing.T) {
	store, _ := setupTestRedis(t)
	if _, err := store.Load(context.Background(), ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.Save(context.Background(), "", sampleRecord(), time.Hour); err == nil {
		t.Fatal("expected error saving empty id")
	}
}
