package leases

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Elector tracks whether this process holds a named lease. Call Tick on an interval shorter
// than the TTL.
type Elector struct {
	store  Store
	name   string
	holder string
	ttl    time.Duration
	log    *slog.Logger

	leading bool
	epoch   uint64
}

func NewElector(store Store, name, holder string, ttl time.Duration, log *slog.Logger) (*Elector, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: nil store", ErrInvalidInput)
	}
	if err := CheckAcquire(name, holder, ttl); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &Elector{store: store, name: name, holder: holder, ttl: ttl, log: log}, nil
}

// Tick acquires or extends the lease and reports whether this process leads. A store error
// drops leadership so a partitioned node stops writing.
func (e *Elector) Tick(ctx context.Context) (bool, error) {
	l, ok, err := e.store.Acquire(ctx, e.name, e.holder, e.ttl)
	if err != nil {
		e.set(false, 0, "")
		return false, err
	}
	if ok {
		e.set(true, l.Epoch, l.Holder)
	} else {
		e.set(false, 0, l.Holder)
	}
	return ok, nil
}

// Leading reports the result of the last Tick.
func (e *Elector) Leading() bool { return e.leading }

// Epoch is the fencing epoch of the held lease, or 0 when not leading.
func (e *Elector) Epoch() uint64 { return e.epoch }

// Resign releases the lease if held.
func (e *Elector) Resign(ctx context.Context) error {
	if !e.leading {
		return nil
	}
	e.set(false, 0, "")
	return e.store.Release(ctx, e.name, e.holder)
}

func (e *Elector) set(leading bool, epoch uint64, holder string) {
	if leading != e.leading {
		if leading {
			e.log.Info("leadership acquired", "lease", e.name, "epoch", epoch)
		} else {
			e.log.Warn("leadership lost", "lease", e.name, "holder", holder)
		}
	}
	e.leading = leading
	e.epoch = epoch
}
