package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://"+s.Addr(), time.Hour)
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	return store, s
}

func TestNewRedisStore(t *testing.T) {
	s := miniredis.RunT(t)
	defer s.Close()

	store, err := NewRedisStore("redis://"+s.Addr(), time.Hour)
	if err != nil {
		t.Fatalf("NewRedisStore failed: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	if err := store.Ping(ctx); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestSaveAndLookupEditSession(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	sess := EditSession{
		ID:           "es_1",
		WorkspaceID:  "ws_1",
		BranchID:     "br_1",
		UserID:       "u_1",
		FixRequestID: "fr_1",
	}

	if err := store.SaveEditSession(ctx, "token-abc", sess); err != nil {
		t.Fatalf("SaveEditSession failed: %v", err)
	}

	got, err := store.LookupEditSession(ctx, "token-abc")
	if err != nil {
		t.Fatalf("LookupEditSession failed: %v", err)
	}
	if got.ID != sess.ID || got.BranchID != sess.BranchID || got.UserID != sess.UserID {
		t.Errorf("unexpected session: %+v", got)
	}
	if got.FixRequestID != "fr_1" {
		t.Errorf("expected fix request id fr_1, got %s", got.FixRequestID)
	}
	if got.CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be set")
	}
}

func TestLookupUnknownToken(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	_, err := store.LookupEditSession(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestLookupExpiredToken(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	if err := store.SaveEditSession(ctx, "short", EditSession{ID: "es_2"}); err != nil {
		t.Fatalf("SaveEditSession failed: %v", err)
	}

	s.FastForward(2 * time.Hour)

	_, err := store.LookupEditSession(ctx, "short")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after expiry, got %v", err)
	}
}

func TestRevokeEditSession(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	if err := store.SaveEditSession(ctx, "gone", EditSession{ID: "es_3"}); err != nil {
		t.Fatalf("SaveEditSession failed: %v", err)
	}
	if err := store.RevokeEditSession(ctx, "gone"); err != nil {
		t.Fatalf("RevokeEditSession failed: %v", err)
	}
	if _, err := store.LookupEditSession(ctx, "gone"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after revoke, got %v", err)
	}
}
