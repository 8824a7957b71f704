// Package leases provides expiring named leases used to pick the single node allowed to
// execute commands.
package leases

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidInput = errors.New("leases: invalid input")
	ErrNotFound     = errors.New("leases: not found")
	ErrNotHeld      = errors.New("leases: not held by caller")
)

// Lease is a named, expiring claim. Epoch increases every time a different holder takes the
// lease and is never reused for the same name, so it can fence writes from a stale leader.
type Lease struct {
	Name      string
	Holder    string
	Epoch     uint64
	ExpiresAt time.Time
}

// Live reports whether the lease still binds its holder at now.
func (l Lease) Live(now time.Time) bool { return l.ExpiresAt.After(now) }

// HeldBy reports whether holder has the lease at now.
func (l Lease) HeldBy(holder string, now time.Time) bool {
	return l.Holder == holder && l.Live(now)
}

// Store provides compare-and-swap lease operations.
//
// Semantics:
//   - Acquire extends the lease if holder already has it (expired or not), and takes it over if it
//     is absent or expired. Otherwise it returns the current lease with ok=false.
//   - Release expires the lease immediately but keeps its epoch. Releasing an absent or already
//     expired lease is a no-op.
type Store interface {
	Acquire(ctx context.Context, name, holder string, ttl time.Duration) (l Lease, ok bool, err error)
	Release(ctx context.Context, name, holder string) error
	Get(ctx context.Context, name string) (Lease, error)
}

// CheckAcquire validates Acquire arguments; stores share it so they reject the same inputs.
func CheckAcquire(name, holder string, ttl time.Duration) error {
	if err := CheckRelease(name, holder); err != nil {
		return err
	}
	if ttl <= 0 {
		return fmt.Errorf("%w: ttl must be > 0", ErrInvalidInput)
	}
	return nil
}

func CheckRelease(name, holder string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty lease name", ErrInvalidInput)
	case holder == "":
		return fmt.Errorf("%w: empty holder", ErrInvalidInput)
	}
	return nil
}
