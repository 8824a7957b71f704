package node

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/Sovryn-Origins/origins/internal/command"
	"github.com/Sovryn-Origins/origins/internal/journal"
	"github.com/Sovryn-Origins/origins/internal/leases"
	"github.com/Sovryn-Origins/origins/internal/machine"
	"github.com/Sovryn-Origins/origins/internal/machine/machinetest"
	"github.com/Sovryn-Origins/origins/internal/queue"
	"github.com/Sovryn-Origins/origins/internal/sale"
)

const (
	commandsTopic = "origins.commands.v1"
	eventsTopic   = "origins.results.v1"
)

type fixture struct {
	clock   *atomic.Int64
	node    *Node
	machine *machine.Machine
	journal *journal.MemoryStore
	broker  *queue.MemoryBroker
	results queue.Consumer
}

func newFixture(t *testing.T, m *machine.Machine, store *journal.MemoryStore, elector *leases.Elector) *fixture {
	t.Helper()

	broker := queue.NewMemoryBroker(64)
	t.Cleanup(func() { _ = broker.Close() })
	commands, err := broker.Subscribe(context.Background(), commandsTopic)
	if err != nil {
		t.Fatalf("Subscribe commands: %v", err)
	}
	results, err := broker.Subscribe(context.Background(), eventsTopic)
	if err != nil {
		t.Fatalf("Subscribe results: %v", err)
	}
	if store == nil {
		store = journal.NewMemoryStore(nil)
	}
	clock := new(atomic.Int64)
	clock.Store(int64(machinetest.Start + 60))
	n, err := New(Config{
		EventsTopic:  eventsTopic,
		TickInterval: 10 * time.Millisecond,
		Now:          func() time.Time { return time.Unix(clock.Load(), 0) },
	}, m, store, commands, broker, elector, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &fixture{clock: clock, node: n, machine: m, journal: store, broker: broker, results: results}
}

func messageOf(t *testing.T, env command.Envelope) queue.Message {
	t.Helper()
	b, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return queue.Message{Topic: commandsTopic, Value: b}
}

func nextResult(t *testing.T, c queue.Consumer) (queue.Message, journal.Entry) {
	t.Helper()
	select {
	case msg := <-c.Messages():
		var e journal.Entry
		if err := json.Unmarshal(msg.Value, &e); err != nil {
			t.Fatalf("decode result: %v", err)
		}
		return msg, e
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for result")
	}
	return queue.Message{}, journal.Entry{}
}

func listAll(t *testing.T, s journal.Store) []journal.Entry {
	t.Helper()
	out, err := s.List(context.Background(), 0, 100)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	return out
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	m := machinetest.New(t)
	store := journal.NewMemoryStore(nil)
	broker := queue.NewMemoryBroker(1)
	defer broker.Close()
	consumer, err := broker.Subscribe(context.Background(), commandsTopic)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	cases := []struct {
		name string
		cfg  Config
		m    *machine.Machine
	}{
		{name: "nil machine", cfg: Config{EventsTopic: eventsTopic}},
		{name: "missing topic", cfg: Config{}, m: m},
		{name: "negative skew", cfg: Config{EventsTopic: eventsTopic, MaxSkew: -time.Second}, m: m},
	}
	for _, tc := range cases {
		if _, err := New(tc.cfg, tc.m, store, consumer, broker, nil, nil); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("%s: expected ErrInvalidConfig, got %v", tc.name, err)
		}
	}
}

func TestHandle_AppliesRecordsAndPublishes(t *testing.T) {
	t.Parallel()

	f := newFixture(t, machinetest.New(t), nil, nil)
	ctx := context.Background()

	envs := append(machinetest.Setup(t), machinetest.Buy(t, machinetest.Alice, machinetest.Start+60, 1, 10_000))
	for _, env := range envs {
		if err := f.node.Handle(ctx, messageOf(t, env)); err != nil {
			t.Fatalf("Handle(%s): %v", env.Kind, err)
		}
	}

	entries := listAll(t, f.journal)
	if len(entries) != 3 {
		t.Fatalf("journal entries: got %d want 3", len(entries))
	}
	f.node.AtSeq(func(seq uint64) {
		if seq != 3 {
			t.Errorf("AtSeq: got %d want 3", seq)
		}
	})

	for i, env := range envs {
		msg, e := nextResult(t, f.results)
		if e.Seq != uint64(i+1) || e.Status != journal.StatusApplied {
			t.Fatalf("result %d: seq=%d status=%s reason=%q", i, e.Seq, e.Status, e.Reason)
		}
		if string(msg.Key) != string(env.Caller.Bytes()) {
			t.Fatalf("result %d: key %x, want caller %s", i, msg.Key, env.Caller)
		}
		id, err := env.ID()
		if err != nil {
			t.Fatalf("ID: %v", err)
		}
		if e.CommandID != id {
			t.Fatalf("result %d: command id %s want %s", i, e.CommandID, id)
		}
	}

	buy := entries[2]
	if buy.Kind != string(command.KindBuy) || len(buy.Events) == 0 {
		t.Fatalf("buy entry: kind=%s events=%s", buy.Kind, buy.Events)
	}
	if _, err := command.Decode(buy.Envelope); err != nil {
		t.Fatalf("recorded envelope does not decode: %v", err)
	}
}

func TestHandle_RevertIsRecorded(t *testing.T) {
	t.Parallel()

	f := newFixture(t, machinetest.New(t), nil, nil)

	// Tier 1 does not exist yet.
	env := machinetest.Buy(t, machinetest.Alice, machinetest.Start+60, 1, 10_000)
	if err := f.node.Handle(context.Background(), messageOf(t, env)); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	_, e := nextResult(t, f.results)
	if e.Status != journal.StatusReverted || e.Reason == "" {
		t.Fatalf("expected recorded revert, got status=%s reason=%q", e.Status, e.Reason)
	}
	if len(e.Events) != 0 {
		t.Fatalf("reverted entry carries events: %s", e.Events)
	}
	f.machine.View(func(s machine.State) {
		if s.Applied != 0 {
			t.Fatalf("Applied: got %d want 0", s.Applied)
		}
	})
}

func TestHandle_DropsInvalidStaleAndRejected(t *testing.T) {
	t.Parallel()

	m, err := machine.New(machinetest.Genesis(), machine.Options{RequireSignatures: true})
	if err != nil {
		t.Fatalf("machine.New: %v", err)
	}
	f := newFixture(t, m, nil, nil)
	ctx := context.Background()

	stale := machinetest.Setup(t)[0]
	stale.At = machinetest.Start - 3600
	unsigned := machinetest.Setup(t)[0]

	msgs := []queue.Message{
		{Value: []byte(`{"version":"v1","kind":"nope"}`)},
		{Value: []byte(`not json`)},
		messageOf(t, stale),
		messageOf(t, unsigned),
	}
	for i, msg := range msgs {
		if err := f.node.Handle(ctx, msg); err != nil {
			t.Fatalf("message %d: Handle: %v", i, err)
		}
	}
	if got := listAll(t, f.journal); len(got) != 0 {
		t.Fatalf("dropped commands were journaled: %d entries", len(got))
	}
	select {
	case msg := <-f.results.Messages():
		t.Fatalf("unexpected result published: %s", msg.Value)
	default:
	}
}

func TestHandle_ExecutesAtNodeClock(t *testing.T) {
	t.Parallel()

	f := newFixture(t, machinetest.New(t), nil, nil)
	ctx := context.Background()
	for _, env := range machinetest.Setup(t) {
		if err := f.node.Handle(ctx, messageOf(t, env)); err != nil {
			t.Fatalf("Handle(%s): %v", env.Kind, err)
		}
	}

	// Issued at the last second of the window, received after it closed.
	saleEnd := machinetest.Start + machinetest.VestedTier().SaleEnd
	f.clock.Store(int64(saleEnd + 200))
	buy := machinetest.Buy(t, machinetest.Alice, saleEnd, 1, 10_000)
	if err := f.node.Handle(ctx, messageOf(t, buy)); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	entries := listAll(t, f.journal)
	last := entries[len(entries)-1]
	if last.Status != journal.StatusReverted || last.Reason != sale.ReasonSaleEnded {
		t.Fatalf("late buy: status=%s reason=%q", last.Status, last.Reason)
	}
	if last.At != saleEnd+200 {
		t.Fatalf("recorded at %d, want node clock %d", last.At, saleEnd+200)
	}
}

func TestHandle_DropsFutureCommand(t *testing.T) {
	t.Parallel()

	f := newFixture(t, machinetest.New(t), nil, nil)
	waitedTS := machinetest.Genesis().Vault.WaitedTS
	f.clock.Store(int64(waitedTS - 120))

	env := machinetest.Envelope(t, command.KindWithdrawWaitedUnlockedBalance, machinetest.Alice, waitedTS, 1, nil)
	if err := f.node.Handle(context.Background(), messageOf(t, env)); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if got := listAll(t, f.journal); len(got) != 0 {
		t.Fatalf("future command was journaled: %+v", got)
	}
	f.machine.View(func(s machine.State) {
		if s.At >= waitedTS {
			t.Fatalf("machine time advanced to %d", s.At)
		}
	})
}

func TestHandle_MachineTimeNeverDecreases(t *testing.T) {
	t.Parallel()

	f := newFixture(t, machinetest.New(t), nil, nil)
	ctx := context.Background()
	setup := machinetest.Setup(t)

	f.clock.Store(int64(machinetest.Start + 100))
	if err := f.node.Handle(ctx, messageOf(t, setup[0])); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	// The clock steps back; execution keeps the later time.
	f.clock.Store(int64(machinetest.Start + 40))
	if err := f.node.Handle(ctx, messageOf(t, setup[1])); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	entries := listAll(t, f.journal)
	if len(entries) != 2 {
		t.Fatalf("journal entries: got %d", len(entries))
	}
	for _, e := range entries {
		if e.At != machinetest.Start+100 {
			t.Fatalf("seq %d recorded at %d, want %d", e.Seq, e.At, machinetest.Start+100)
		}
	}

	fresh := machinetest.New(t)
	if _, applied, err := Replay(ctx, fresh, f.journal, 0); err != nil || applied != 2 {
		t.Fatalf("Replay: applied=%d err=%v", applied, err)
	}
	fresh.View(func(s machine.State) {
		if s.At != machinetest.Start+100 {
			t.Fatalf("replayed machine time: got %d", s.At)
		}
	})
}

func TestCheckIssuedAt(t *testing.T) {
	t.Parallel()

	const now = uint64(1_700_000_000)
	cases := []struct {
		at   uint64
		want bool
	}{
		{at: now, want: true},
		{at: now - 300, want: true},
		{at: now - 301, want: false},
		{at: now + 1, want: false},
	}
	for _, tc := range cases {
		err := checkIssuedAt(tc.at, now, 5*time.Minute)
		if (err == nil) != tc.want {
			t.Fatalf("checkIssuedAt(%d): err=%v want ok=%t", tc.at, err, tc.want)
		}
		if err != nil && !errors.Is(err, ErrStale) {
			t.Fatalf("checkIssuedAt(%d): expected ErrStale, got %v", tc.at, err)
		}
	}
}

func TestHandle_DuplicatePublishesStoredEntry(t *testing.T) {
	t.Parallel()

	f := newFixture(t, machinetest.New(t), nil, nil)
	ctx := context.Background()

	env := machinetest.Setup(t)[0]
	for i := 0; i < 2; i++ {
		if err := f.node.Handle(ctx, messageOf(t, env)); err != nil {
			t.Fatalf("Handle #%d: %v", i, err)
		}
	}

	if got := listAll(t, f.journal); len(got) != 1 {
		t.Fatalf("journal entries: got %d want 1", len(got))
	}
	_, first := nextResult(t, f.results)
	_, second := nextResult(t, f.results)
	if first.Seq != 1 || second.Seq != 1 || first.CommandID != second.CommandID {
		t.Fatalf("duplicate results differ: %+v vs %+v", first, second)
	}
	f.machine.View(func(s machine.State) {
		if s.Applied != 1 {
			t.Fatalf("Applied: got %d want 1", s.Applied)
		}
	})
}

func TestReplay_RebuildsState(t *testing.T) {
	t.Parallel()

	f := newFixture(t, machinetest.New(t), nil, nil)
	ctx := context.Background()

	envs := []command.Envelope{machinetest.Buy(t, machinetest.Bob, machinetest.Start+60, 9, 1)}
	envs = append(envs, machinetest.Setup(t)...)
	envs = append(envs, machinetest.Buy(t, machinetest.Alice, machinetest.Start+60, 1, 10_000))
	for _, env := range envs {
		if err := f.node.Handle(ctx, messageOf(t, env)); err != nil {
			t.Fatalf("Handle(%s): %v", env.Kind, err)
		}
	}

	fresh := machinetest.New(t)
	last, applied, err := Replay(ctx, fresh, f.journal, 0)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if last != 4 || applied != 3 {
		t.Fatalf("Replay: last=%d applied=%d, want 4 and 3", last, applied)
	}

	var want, got string
	f.machine.View(func(s machine.State) { want = s.Sale.TokensSoldPerTier(1).Dec() })
	fresh.View(func(s machine.State) {
		got = s.Sale.TokensSoldPerTier(1).Dec()
		if s.LastCommandID != envID(t, envs[3]) {
			t.Fatalf("LastCommandID: got %s", s.LastCommandID)
		}
	})
	if got != want || got != "1000000" {
		t.Fatalf("tokens sold after replay: got %s want %s", got, want)
	}
}

func TestReplay_DetectsDivergence(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := journal.NewMemoryStore(nil)

	// Recorded as applied, but tier 1 does not exist on a fresh machine.
	env := machinetest.Buy(t, machinetest.Alice, machinetest.Start+60, 1, 10_000)
	entry, err := EntryFromResult(env, machine.Result{
		CommandID: envID(t, env),
		Kind:      env.Kind,
		Caller:    env.Caller,
		At:        env.At,
		Status:    machine.StatusApplied,
	})
	if err != nil {
		t.Fatalf("EntryFromResult: %v", err)
	}
	if _, _, err := store.Append(ctx, entry); err != nil {
		t.Fatalf("Append: %v", err)
	}

	if _, _, err := Replay(ctx, machinetest.New(t), store, 0); !errors.Is(err, ErrDiverged) {
		t.Fatalf("expected ErrDiverged, got %v", err)
	}
}

func TestRun_LeaderConsumesQueue(t *testing.T) {
	t.Parallel()

	elector, err := leases.NewElector(leases.NewMemoryStore(nil), "origins-node", "node-a", time.Minute, nil)
	if err != nil {
		t.Fatalf("NewElector: %v", err)
	}
	f := newFixture(t, machinetest.New(t), nil, elector)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.node.Run(ctx) }()

	envs := append(machinetest.Setup(t), machinetest.Buy(t, machinetest.Alice, machinetest.Start+60, 1, 10_000))
	for _, env := range envs {
		b, err := json.Marshal(env)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if err := f.broker.Publish(ctx, commandsTopic, env.Caller.Bytes(), b); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	for range envs {
		if _, e := nextResult(t, f.results); e.Status != journal.StatusApplied {
			t.Fatalf("seq %d: status %s reason %q", e.Seq, e.Status, e.Reason)
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not stop")
	}
}

func TestRun_FollowerSyncsFromJournal(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	leaseStore := leases.NewMemoryStore(nil)
	if _, ok, err := leaseStore.Acquire(ctx, "origins-node", "node-a", time.Hour); err != nil || !ok {
		t.Fatalf("Acquire: ok=%v err=%v", ok, err)
	}

	leader := newFixture(t, machinetest.New(t), nil, nil)
	for _, env := range machinetest.Setup(t) {
		if err := leader.node.Handle(ctx, messageOf(t, env)); err != nil {
			t.Fatalf("Handle: %v", err)
		}
	}

	elector, err := leases.NewElector(leaseStore, "origins-node", "node-b", time.Minute, nil)
	if err != nil {
		t.Fatalf("NewElector: %v", err)
	}
	follower := newFixture(t, machinetest.New(t), leader.journal, elector)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- follower.node.Run(runCtx) }()

	// Written after the follower started; picked up on a tick.
	buy := machinetest.Buy(t, machinetest.Alice, machinetest.Start+60, 1, 10_000)
	if err := leader.node.Handle(ctx, messageOf(t, buy)); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		var applied uint64
		follower.machine.View(func(s machine.State) { applied = s.Applied })
		if applied == 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("follower applied %d entries, want 3", applied)
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}
	if elector.Leading() {
		t.Fatalf("follower took the lease")
	}
}

func envID(t *testing.T, env command.Envelope) common.Hash {
	t.Helper()
	id, err := env.ID()
	if err != nil {
		t.Fatalf("ID: %v", err)
	}
	return id
}
