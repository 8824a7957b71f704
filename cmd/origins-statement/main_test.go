package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/Sovryn-Origins/origins/internal/blobstore"
	"github.com/Sovryn-Origins/origins/internal/journal"
	"github.com/Sovryn-Origins/origins/internal/machine/machinetest"
	"github.com/Sovryn-Origins/origins/internal/node"
	"github.com/Sovryn-Origins/origins/internal/statement"
)

func TestBuildAndArchive_ReplaysJournal(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	live := machinetest.New(t)
	store := journal.NewMemoryStore(nil)
	envs := append(machinetest.Setup(t), machinetest.Buy(t, machinetest.Alice, machinetest.Start+60, 1, 10_000))
	for _, env := range envs {
		res := machinetest.MustApply(t, live, env)
		entry, err := node.EntryFromResult(env, res)
		if err != nil {
			t.Fatalf("EntryFromResult: %v", err)
		}
		if _, _, err := store.Append(ctx, entry); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	archive, err := blobstore.New(blobstore.Config{Driver: blobstore.DriverMemory})
	if err != nil {
		t.Fatalf("blobstore.New: %v", err)
	}

	st, key, written, err := buildAndArchive(ctx, machinetest.Genesis(), store, archive, log)
	if err != nil {
		t.Fatalf("buildAndArchive: %v", err)
	}
	if !written || st.Seq != 3 || st.Applied != 3 {
		t.Fatalf("unexpected statement: written=%v seq=%d applied=%d", written, st.Seq, st.Applied)
	}
	if want := statement.Build(live, 3); st.ID != want.ID {
		t.Fatalf("statement id %s differs from live machine %s", st.ID, want.ID)
	}

	_, again, written, err := buildAndArchive(ctx, machinetest.Genesis(), store, archive, log)
	if err != nil {
		t.Fatalf("buildAndArchive again: %v", err)
	}
	if written || again != key {
		t.Fatalf("second archive: written=%v key=%q want %q", written, again, key)
	}

	latest, err := statement.Latest(ctx, archive)
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest.ID != st.ID {
		t.Fatalf("Latest: got %s want %s", latest.ID, st.ID)
	}
}

func TestRunMain_Validation(t *testing.T) {
	t.Parallel()

	cases := [][]string{
		{},
		{"--genesis", "genesis.json"},
		{"--genesis", "genesis.json", "--postgres-dsn", "postgres://localhost/origins"},
		{"--genesis", "genesis.json", "--postgres-dsn", "postgres://localhost/origins", "--blob-driver", "memory", "--timeout", "0s"},
		{"--unknown-flag"},
	}
	for _, args := range cases {
		var out bytes.Buffer
		if err := runMain(args, &out); err == nil {
			t.Fatalf("%v: expected error", args)
		}
		if out.Len() != 0 {
			t.Fatalf("%v: unexpected output %q", args, out.String())
		}
	}
}
