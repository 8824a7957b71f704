//go:build integration

package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Sovryn-Origins/origins/internal/journal"
	"github.com/Sovryn-Origins/origins/internal/pgtest"
)

func newTestStore(t *testing.T, ctx context.Context) *Store {
	t.Helper()
	s, err := New(pgtest.Pool(t, ctx))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := s.EnsureSchema(ctx); err != nil {
			t.Fatalf("EnsureSchema #%d: %v", i+1, err)
		}
	}
	return s
}

func TestStore_AppendGetList(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	t.Cleanup(cancel)
	s := newTestStore(t, ctx)

	envelope := json.RawMessage(`{"version":"v1","kind":"buy","args":{"tierId":1}}`)
	e := journal.Entry{
		CommandID: common.HexToHash("0x01"),
		Kind:      "buy",
		Caller:    common.HexToAddress("0xa1"),
		At:        1_700_000_000,
		Status:    journal.StatusApplied,
		Envelope:  envelope,
		Events:    json.RawMessage(`[{"name":"TokenBuy"}]`),
	}
	got, inserted, err := s.Append(ctx, e)
	if err != nil || !inserted || got.Seq == 0 {
		t.Fatalf("Append: %+v inserted=%v err=%v", got, inserted, err)
	}

	dup, inserted, err := s.Append(ctx, e)
	if err != nil || inserted || dup.Seq != got.Seq {
		t.Fatalf("duplicate Append: %+v inserted=%v err=%v", dup, inserted, err)
	}
	if string(dup.Envelope) != string(envelope) {
		t.Fatalf("envelope bytes changed: %s", dup.Envelope)
	}
	if len(dup.Output) != 0 {
		t.Fatalf("null output must read back empty: %s", dup.Output)
	}

	reverted := journal.Entry{
		CommandID: common.HexToHash("0x02"),
		Kind:      "claim",
		Caller:    common.HexToAddress("0xb2"),
		At:        1_700_000_001,
		Status:    journal.StatusReverted,
		Reason:    "OriginsBase: Sale has not been closed yet.",
		Envelope:  json.RawMessage(`{"kind":"claim"}`),
	}
	if _, _, err := s.Append(ctx, reverted); err != nil {
		t.Fatalf("Append reverted: %v", err)
	}

	list, err := s.List(ctx, 0, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[0].Seq >= list[1].Seq || list[1].Reason != reverted.Reason {
		t.Fatalf("List: got %+v", list)
	}
	if _, err := s.Get(ctx, common.HexToHash("0x03")); !errors.Is(err, journal.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	var applied int
	if _, err := journal.Replay(ctx, s, 0, func(e journal.Entry) error {
		if e.Status == journal.StatusApplied {
			applied++
		}
		return nil
	}); err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if applied != 1 {
		t.Fatalf("applied: got %d", applied)
	}
}
