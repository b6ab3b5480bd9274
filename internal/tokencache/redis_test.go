package tokencache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	cache, err := New("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	return cache, s
}

func TestSaveAndLookup(t *testing.T) {
	cache, s := setupTestCache(t)
	defer cache.Close()
	defer s.Close()

	ctx := context.Background()
	expiresAt := time.Now().Add(time.Hour)

	if err := cache.Save(ctx, "hash-a", "doc-1", expiresAt); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	documentID, err := cache.Lookup(ctx, "hash-a")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if documentID != "doc-1" {
		t.Errorf("expected doc-1, got %q", documentID)
	}
}

func TestLookupMissReturnsEmpty(t *testing.T) {
	cache, s := setupTestCache(t)
	defer cache.Close()
	defer s.Close()

	documentID, err := cache.Lookup(context.Background(), "never-saved")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if documentID != "" {
		t.Errorf("expected empty id on miss, got %q", documentID)
	}
}

func TestInvalidateDropsSupersededToken(t *testing.T) {
	cache, s := setupTestCache(t)
	defer cache.Close()
	defer s.Close()

	ctx := context.Background()
	expiresAt := time.Now().Add(time.Hour)

	if err := cache.Save(ctx, "hash-old", "doc-1", expiresAt); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := cache.Invalidate(ctx, "hash-old"); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	if err := cache.Save(ctx, "hash-new", "doc-1", expiresAt); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	old, err := cache.Lookup(ctx, "hash-old")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if old != "" {
		t.Errorf("superseded token should not resolve, got %q", old)
	}
	current, err := cache.Lookup(ctx, "hash-new")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if current != "doc-1" {
		t.Errorf("expected doc-1 for replacement token, got %q", current)
	}
}

func TestInvalidateEmptyHashIsNoop(t *testing.T) {
	cache, s := setupTestCache(t)
	defer cache.Close()
	defer s.Close()

	if err := cache.Invalidate(context.Background(), ""); err != nil {
		t.Fatalf("Invalidate of empty hash should be a no-op, got %v", err)
	}
}

func TestSaveExpiredMappingIsSkipped(t *testing.T) {
	cache, s := setupTestCache(t)
	defer cache.Close()
	defer s.Close()

	ctx := context.Background()
	if err := cache.Save(ctx, "hash-late", "doc-1", time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	documentID, err := cache.Lookup(ctx, "hash-late")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if documentID != "" {
		t.Errorf("expired mapping should not be stored, got %q", documentID)
	}
}

func TestEntryExpiresWithLink(t *testing.T) {
	cache, s := setupTestCache(t)
	defer cache.Close()
	defer s.Close()

	ctx := context.Background()
	if err := cache.Save(ctx, "hash-ttl", "doc-1", time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	s.FastForward(2 * time.Minute)

	documentID, err := cache.Lookup(ctx, "hash-ttl")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if documentID != "" {
		t.Errorf("entry should expire with the link, got %q", documentID)
	}
}
