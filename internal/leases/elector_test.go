package leases

import (
	"context"
	"errors"
	"testing"
	"time"
)

type failingStore struct{ MemoryStore }

var errStoreDown = errors.New("store down")

func (*failingStore) Acquire(context.Context, string, string, time.Duration) (Lease, bool, error) {
	return Lease{}, false, errStoreDown
}

func TestElector_TickAndTakeover(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 2, 9, 0, 0, 0, 0, time.UTC)
	s := NewMemoryStore(func() time.Time { return now })

	a, err := NewElector(s, "origins-node", "a", 10*time.Second, nil)
	if err != nil {
		t.Fatalf("NewElector(a): %v", err)
	}
	b, err := NewElector(s, "origins-node", "b", 10*time.Second, nil)
	if err != nil {
		t.Fatalf("NewElector(b): %v", err)
	}
	ctx := context.Background()

	if ok, err := a.Tick(ctx); err != nil || !ok || a.Epoch() != 1 {
		t.Fatalf("a.Tick: ok=%v err=%v epoch=%d", ok, err, a.Epoch())
	}
	if ok, err := b.Tick(ctx); err != nil || ok || b.Leading() {
		t.Fatalf("b.Tick: ok=%v err=%v", ok, err)
	}

	now = now.Add(11 * time.Second)
	if ok, err := b.Tick(ctx); err != nil || !ok || b.Epoch() != 2 {
		t.Fatalf("b takeover: ok=%v err=%v epoch=%d", ok, err, b.Epoch())
	}
	if ok, err := a.Tick(ctx); err != nil || ok || a.Leading() || a.Epoch() != 0 {
		t.Fatalf("a after takeover: ok=%v err=%v", ok, err)
	}

	if err := b.Resign(ctx); err != nil {
		t.Fatalf("Resign: %v", err)
	}
	if ok, err := a.Tick(ctx); err != nil || !ok || a.Epoch() != 3 {
		t.Fatalf("a after resign: ok=%v err=%v epoch=%d", ok, err, a.Epoch())
	}
}

func TestElector_StoreErrorDropsLeadership(t *testing.T) {
	t.Parallel()

	e, err := NewElector(&failingStore{}, "l", "a", time.Second, nil)
	if err != nil {
		t.Fatalf("NewElector: %v", err)
	}
	e.leading, e.epoch = true, 7
	if ok, err := e.Tick(context.Background()); !errors.Is(err, errStoreDown) || ok || e.Leading() {
		t.Fatalf("Tick: ok=%v err=%v", ok, err)
	}
}

func TestNewElector_Validation(t *testing.T) {
	t.Parallel()

	if _, err := NewElector(nil, "l", "a", time.Second, nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("nil store: got %v", err)
	}
	if _, err := NewElector(NewMemoryStore(nil), "l", "", time.Second, nil); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty holder: got %v", err)
	}
}
