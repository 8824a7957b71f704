//go:build integration

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Sovryn-Origins/origins/internal/leases"
	"github.com/Sovryn-Origins/origins/internal/pgtest"
)

func TestStore_LeaseLifecycle(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	t.Cleanup(cancel)

	s, err := New(pgtest.Pool(t, ctx))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.EnsureSchema(ctx); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}

	const name = "origins-node"
	steps := []struct {
		desc   string
		holder string
		wantOK bool
		holds  string
		epoch  uint64
	}{
		{desc: "first acquire", holder: "a", wantOK: true, holds: "a", epoch: 1},
		{desc: "contended", holder: "b", wantOK: false, holds: "a", epoch: 1},
		{desc: "extend", holder: "a", wantOK: true, holds: "a", epoch: 1},
	}
	for _, st := range steps {
		l, ok, err := s.Acquire(ctx, name, st.holder, 5*time.Second)
		if err != nil || ok != st.wantOK || l.Holder != st.holds || l.Epoch != st.epoch {
			t.Fatalf("%s: %+v ok=%v err=%v", st.desc, l, ok, err)
		}
	}

	if err := s.Release(ctx, name, "b"); !errors.Is(err, leases.ErrNotHeld) {
		t.Fatalf("release by non-holder: got %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := s.Release(ctx, name, "a"); err != nil {
			t.Fatalf("release #%d: %v", i+1, err)
		}
	}

	l, ok, err := s.Acquire(ctx, name, "b", 5*time.Second)
	if err != nil || !ok || l.Holder != "b" || l.Epoch != 2 {
		t.Fatalf("takeover: %+v ok=%v err=%v", l, ok, err)
	}
	got, err := s.Get(ctx, name)
	if err != nil || got.Epoch != 2 || !got.HeldBy("b", time.Now().Add(-time.Second)) {
		t.Fatalf("Get: %+v err=%v", got, err)
	}

	if _, _, err := s.Acquire(ctx, name, "", time.Second); !errors.Is(err, leases.ErrInvalidInput) {
		t.Fatalf("empty holder: got %v", err)
	}
	if _, err := s.Get(ctx, "missing"); !errors.Is(err, leases.ErrNotFound) {
		t.Fatalf("Get missing: got %v", err)
	}
}
