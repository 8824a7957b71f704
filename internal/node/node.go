// Package node drives the machine from the command queue: it rebuilds state from the journal,
// executes commands while it holds the leader lease, records each outcome and publishes it.
package node

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Sovryn-Origins/origins/internal/command"
	"github.com/Sovryn-Origins/origins/internal/journal"
	"github.com/Sovryn-Origins/origins/internal/leases"
	"github.com/Sovryn-Origins/origins/internal/machine"
	"github.com/Sovryn-Origins/origins/internal/queue"
)

var (
	ErrInvalidConfig = errors.New("node: invalid config")
	// ErrDiverged means the journal and the machine disagree; the process must restart and replay.
	ErrDiverged = errors.New("node: journal diverged")
	// ErrStale marks an envelope issued in the future or longer than MaxSkew ago.
	ErrStale = errors.New("node: command timestamp out of range")
)

type Config struct {
	EventsTopic string

	// MaxSkew bounds how long before the local clock a command may have been issued. Commands
	// execute at the local clock, never earlier than the previous command.
	MaxSkew      time.Duration
	TickInterval time.Duration
	AckTimeout   time.Duration

	Now func() time.Time
}

type Node struct {
	cfg Config

	machine  *machine.Machine
	journal  journal.Store
	consumer queue.Consumer
	producer queue.Producer
	elector  *leases.Elector
	log      *slog.Logger

	// mu is held while a command or a sync runs.
	mu  sync.Mutex
	seq uint64
}

// New wires a node. A nil elector makes the node the permanent leader.
func New(cfg Config, m *machine.Machine, store journal.Store, consumer queue.Consumer, producer queue.Producer, elector *leases.Elector, log *slog.Logger) (*Node, error) {
	if m == nil || store == nil || consumer == nil || producer == nil {
		return nil, fmt.Errorf("%w: nil dependency", ErrInvalidConfig)
	}
	if cfg.EventsTopic == "" {
		return nil, fmt.Errorf("%w: events topic is required", ErrInvalidConfig)
	}
	if cfg.MaxSkew < 0 || cfg.TickInterval < 0 || cfg.AckTimeout < 0 {
		return nil, fmt.Errorf("%w: durations must be >= 0", ErrInvalidConfig)
	}
	if cfg.MaxSkew == 0 {
		cfg.MaxSkew = 5 * time.Minute
	}
	if cfg.TickInterval == 0 {
		cfg.TickInterval = time.Second
	}
	if cfg.AckTimeout == 0 {
		cfg.AckTimeout = 5 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if log == nil {
		log = slog.Default()
	}
	return &Node{
		cfg:      cfg,
		machine:  m,
		journal:  store,
		consumer: consumer,
		producer: producer,
		elector:  elector,
		log:      log,
	}, nil
}

// Seq is the last journal sequence reflected in the machine.
func (n *Node) Seq() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.seq
}

// AtSeq calls fn between commands with the journal sequence the machine currently reflects.
func (n *Node) AtSeq(fn func(seq uint64)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	fn(n.seq)
}

// Sync applies journal entries recorded since the last sync, by this node or a previous leader.
func (n *Node) Sync(ctx context.Context) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	last, count, err := Replay(ctx, n.machine, n.journal, n.seq)
	n.seq = last
	if count > 0 {
		n.log.Info("journal synced", "entries", count, "seq", last)
	}
	return count, err
}

// Run syncs from the journal and then processes commands until ctx is done or the input closes.
// Followers keep syncing on every tick so their state stays readable.
func (n *Node) Run(ctx context.Context) error {
	if _, err := n.Sync(ctx); err != nil {
		return err
	}

	t := time.NewTicker(n.cfg.TickInterval)
	defer t.Stop()

	leading := n.elector == nil
	var msgCh <-chan queue.Message
	if leading {
		msgCh = n.consumer.Messages()
	}
	errCh := n.consumer.Errors()

	for {
		select {
		case <-ctx.Done():
			n.resign()
			return nil
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				n.log.Error("queue consume error", "err", err)
			}
		case <-t.C:
			if n.elector == nil {
				continue
			}
			was := leading
			var err error
			leading, err = n.elector.Tick(ctx)
			if err != nil {
				n.log.Error("leader election tick", "err", err)
			}
			if _, err := n.Sync(ctx); err != nil {
				if leading {
					n.resign()
					return err
				}
				n.log.Error("follower sync", "err", err)
			}
			if leading && !was {
				n.log.Info("consuming commands", "seq", n.Seq(), "epoch", n.elector.Epoch())
			}
			msgCh = nil
			if leading {
				msgCh = n.consumer.Messages()
			}
		case msg, ok := <-msgCh:
			if !ok {
				n.resign()
				return nil
			}
			if err := n.Handle(ctx, msg); err != nil {
				n.resign()
				return err
			}
		}
	}
}

// Handle executes one queued envelope. Malformed, stale and rejected envelopes are dropped and
// acknowledged. A returned error means the message was not acknowledged.
func (n *Node) Handle(ctx context.Context, msg queue.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	env, err := command.Decode(msg.Value)
	if err != nil {
		n.log.Warn("drop invalid command", "err", err)
		n.ack(msg)
		return nil
	}
	now := uint64(n.cfg.Now().Unix())
	if err := checkIssuedAt(env.At, now, n.cfg.MaxSkew); err != nil {
		n.log.Warn("drop command", "kind", env.Kind, "caller", env.Caller, "at", env.At, "now", now, "err", err)
		n.ack(msg)
		return nil
	}
	id, err := env.ID()
	if err != nil {
		n.log.Warn("drop invalid command", "err", err)
		n.ack(msg)
		return nil
	}

	existing, err := n.journal.Get(ctx, id)
	switch {
	case err == nil:
		// Redelivery after a crash between append and ack; publish again so the result is not lost.
		n.log.Info("duplicate command", "command_id", id, "seq", existing.Seq)
		if err := n.publish(ctx, existing); err != nil {
			return err
		}
		n.ack(msg)
		return nil
	case !errors.Is(err, journal.ErrNotFound):
		return fmt.Errorf("node: journal lookup: %w", err)
	}

	// The envelope's own timestamp only bounds its age; execution uses the node clock.
	res, err := n.machine.ApplyAt(ctx, env, now)
	if errors.Is(err, machine.ErrRejected) {
		n.log.Warn("drop rejected command", "kind", env.Kind, "caller", env.Caller, "err", err)
		n.ack(msg)
		return nil
	}
	if err != nil {
		return fmt.Errorf("node: apply: %w", err)
	}

	entry, err := EntryFromResult(env, res)
	if err != nil {
		return err
	}
	stored, inserted, err := n.journal.Append(ctx, entry)
	if err != nil {
		return fmt.Errorf("%w: append %s: %w", ErrDiverged, id, err)
	}
	if !inserted {
		return fmt.Errorf("%w: %s was recorded by another writer at seq %d", ErrDiverged, id, stored.Seq)
	}
	if stored.Seq <= n.seq {
		return fmt.Errorf("%w: appended seq %d after %d", ErrDiverged, stored.Seq, n.seq)
	}
	n.seq = stored.Seq

	if res.Status == machine.StatusReverted {
		n.log.Info("command reverted", "command_id", id, "kind", env.Kind, "caller", env.Caller, "reason", res.Reason)
	} else {
		n.log.Info("command applied", "command_id", id, "kind", env.Kind, "caller", env.Caller, "seq", stored.Seq, "events", len(res.Events))
	}

	if err := n.publish(ctx, stored); err != nil {
		return err
	}
	n.ack(msg)
	return nil
}

func (n *Node) publish(ctx context.Context, e journal.Entry) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("node: marshal entry: %w", err)
	}
	if err := n.producer.Publish(ctx, n.cfg.EventsTopic, e.Caller.Bytes(), payload); err != nil {
		return fmt.Errorf("node: publish %s: %w", e.CommandID, err)
	}
	return nil
}

func (n *Node) ack(msg queue.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), n.cfg.AckTimeout)
	defer cancel()
	if err := msg.Ack(ctx); err != nil {
		n.log.Error("ack queue message", "err", err)
	}
}

func (n *Node) resign() {
	if n.elector == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), n.cfg.AckTimeout)
	defer cancel()
	if err := n.elector.Resign(ctx); err != nil {
		n.log.Error("resign leadership", "err", err)
	}
}

// checkIssuedAt rejects envelopes stamped after now or more than maxSkew before it.
func checkIssuedAt(at, now uint64, maxSkew time.Duration) error {
	switch {
	case at > now:
		return fmt.Errorf("%w: issued %ds in the future", ErrStale, at-now)
	case now-at > uint64(maxSkew/time.Second):
		return fmt.Errorf("%w: issued %ds ago", ErrStale, now-at)
	}
	return nil
}
