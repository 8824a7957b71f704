package leases

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStore_AcquireExtendTakeover(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 2, 9, 0, 0, 0, 0, time.UTC)
	s := NewMemoryStore(func() time.Time { return now })
	ctx := context.Background()

	l, ok, err := s.Acquire(ctx, "origins-node", "a", 10*time.Second)
	if err != nil || !ok {
		t.Fatalf("Acquire: ok=%v err=%v", ok, err)
	}
	if l.Holder != "a" || l.Epoch != 1 {
		t.Fatalf("lease: got %+v", l)
	}
	if !l.ExpiresAt.Equal(now.Add(10 * time.Second)) {
		t.Fatalf("expiresAt: got %v want %v", l.ExpiresAt, now.Add(10*time.Second))
	}

	l, ok, err = s.Acquire(ctx, "origins-node", "b", 10*time.Second)
	if err != nil || ok || l.Holder != "a" {
		t.Fatalf("contended Acquire: got %+v ok=%v err=%v", l, ok, err)
	}

	now = now.Add(5 * time.Second)
	l, ok, err = s.Acquire(ctx, "origins-node", "a", 10*time.Second)
	if err != nil || !ok || l.Epoch != 1 {
		t.Fatalf("extend: got %+v ok=%v err=%v", l, ok, err)
	}
	if !l.ExpiresAt.Equal(now.Add(10 * time.Second)) {
		t.Fatalf("extend expiresAt: got %v", l.ExpiresAt)
	}

	now = now.Add(11 * time.Second)
	l, ok, err = s.Acquire(ctx, "origins-node", "b", 10*time.Second)
	if err != nil || !ok || l.Holder != "b" || l.Epoch != 2 {
		t.Fatalf("takeover: got %+v ok=%v err=%v", l, ok, err)
	}

	// The previous holder sees the new lease and cannot release it.
	l, ok, err = s.Acquire(ctx, "origins-node", "a", 10*time.Second)
	if err != nil || ok || l.Holder != "b" {
		t.Fatalf("stale Acquire: got %+v ok=%v err=%v", l, ok, err)
	}
	if err := s.Release(ctx, "origins-node", "a"); !errors.Is(err, ErrNotHeld) {
		t.Fatalf("Release by non-holder: got %v want %v", err, ErrNotHeld)
	}
}

func TestMemoryStore_ReleaseKeepsEpoch(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 2, 9, 0, 0, 0, 0, time.UTC)
	s := NewMemoryStore(func() time.Time { return now })
	ctx := context.Background()

	if _, _, err := s.Acquire(ctx, "l", "a", time.Minute); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := s.Release(ctx, "l", "a"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := s.Release(ctx, "l", "a"); err != nil {
		t.Fatalf("Release idempotent: %v", err)
	}
	if err := s.Release(ctx, "missing", "a"); err != nil {
		t.Fatalf("Release absent: %v", err)
	}

	l, ok, err := s.Acquire(ctx, "l", "b", time.Minute)
	if err != nil || !ok || l.Epoch != 2 {
		t.Fatalf("Acquire after release: got %+v ok=%v err=%v", l, ok, err)
	}

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get missing: got %v", err)
	}
}

func TestMemoryStore_Validation(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore(nil)
	ctx := context.Background()
	if _, _, err := s.Acquire(ctx, "", "a", time.Second); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty name: got %v", err)
	}
	if _, _, err := s.Acquire(ctx, "l", "a", 0); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("zero ttl: got %v", err)
	}
	if err := s.Release(ctx, "l", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty holder: got %v", err)
	}
}
