package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

func entry(n int, status Status) Entry {
	return Entry{
		CommandID: common.BigToHash(big.NewInt(int64(n))),
		Kind:      "buy",
		Status:    status,
		Envelope:  json.RawMessage(fmt.Sprintf(`{"nonce":%d}`, n)),
	}
}

func TestMemoryStore_AppendIsIdempotent(t *testing.T) {
	t.Parallel()

	now := time.Unix(1_700_000_000, 0)
	s := NewMemoryStore(func() time.Time { return now })
	ctx := context.Background()

	first, inserted, err := s.Append(ctx, entry(1, StatusApplied))
	if err != nil || !inserted {
		t.Fatalf("Append: inserted=%v err=%v", inserted, err)
	}
	if first.Seq != 1 || !first.RecordedAt.Equal(now) {
		t.Fatalf("entry: got %+v", first)
	}

	dup := entry(1, StatusReverted)
	got, inserted, err := s.Append(ctx, dup)
	if err != nil || inserted {
		t.Fatalf("duplicate Append: inserted=%v err=%v", inserted, err)
	}
	if got.Status != StatusApplied || got.Seq != 1 {
		t.Fatalf("duplicate must return the stored entry, got %+v", got)
	}

	second, _, err := s.Append(ctx, entry(2, StatusReverted))
	if err != nil || second.Seq != 2 {
		t.Fatalf("second: %+v %v", second, err)
	}

	e, err := s.Get(ctx, common.BigToHash(big.NewInt(2)))
	if err != nil || e.Status != StatusReverted {
		t.Fatalf("Get: %+v %v", e, err)
	}
	if _, err := s.Get(ctx, common.HexToHash("0xff")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_Validation(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore(nil)
	ctx := context.Background()
	bad := []Entry{
		{Kind: "buy", Status: StatusApplied, Envelope: json.RawMessage(`{}`)},
		{CommandID: common.HexToHash("0x01"), Kind: "buy", Status: "pending", Envelope: json.RawMessage(`{}`)},
		{CommandID: common.HexToHash("0x01"), Status: StatusApplied, Envelope: json.RawMessage(`{}`)},
		{CommandID: common.HexToHash("0x01"), Kind: "buy", Status: StatusApplied},
	}
	for i, e := range bad {
		if _, _, err := s.Append(ctx, e); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("case %d: expected ErrInvalidInput, got %v", i, err)
		}
	}
	if _, err := s.List(ctx, 0, 0); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for zero limit, got %v", err)
	}
}

func TestReplay_PagesInOrder(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore(nil)
	ctx := context.Background()
	const n = defaultPageSize + 7
	for i := 1; i <= n; i++ {
		if _, _, err := s.Append(ctx, entry(i, StatusApplied)); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}

	var seen []uint64
	last, err := Replay(ctx, s, 3, func(e Entry) error {
		seen = append(seen, e.Seq)
		return nil
	})
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if last != n || len(seen) != n-3 || seen[0] != 4 {
		t.Fatalf("replay: last=%d count=%d first=%d", last, len(seen), seen[0])
	}
	for i := 1; i < len(seen); i++ {
		if seen[i] != seen[i-1]+1 {
			t.Fatalf("out of order at %d: %d after %d", i, seen[i], seen[i-1])
		}
	}

	boom := errors.New("boom")
	last, err = Replay(ctx, s, 0, func(e Entry) error {
		if e.Seq == 5 {
			return boom
		}
		return nil
	})
	if !errors.Is(err, boom) || last != 4 {
		t.Fatalf("replay error: last=%d err=%v", last, err)
	}
}
