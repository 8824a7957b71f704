// Package journal is the append-only record of every command the node has executed.
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInvalidInput = errors.New("journal: invalid input")
	ErrNotFound     = errors.New("journal: not found")
)

type Status string

const (
	StatusApplied  Status = "applied"
	StatusReverted Status = "reverted"
)

// Entry is one executed command. Seq is assigned by the store on append and is strictly
// increasing in execution order.
type Entry struct {
	Seq        uint64          `json:"seq"`
	CommandID  common.Hash     `json:"commandId"`
	Kind       string          `json:"kind"`
	Caller     common.Address  `json:"caller"`
	At         uint64          `json:"at"`
	Status     Status          `json:"status"`
	Reason     string          `json:"reason,omitempty"`
	Envelope   json.RawMessage `json:"envelope"`
	Events     json.RawMessage `json:"events,omitempty"`
	Output     json.RawMessage `json:"output,omitempty"`
	RecordedAt time.Time       `json:"recordedAt"`
}

// Store persists entries.
//
// Semantics:
// - Append is idempotent by CommandID: a second append of the same id stores nothing and
//   returns the existing entry with inserted=false.
// - List returns entries with Seq > afterSeq in ascending order, at most limit of them.
type Store interface {
	Append(ctx context.Context, e Entry) (stored Entry, inserted bool, err error)
	Get(ctx context.Context, commandID common.Hash) (Entry, error)
	List(ctx context.Context, afterSeq uint64, limit int) ([]Entry, error)
}

const defaultPageSize = 500

// Replay feeds every entry after afterSeq to fn in order.
func Replay(ctx context.Context, s Store, afterSeq uint64, fn func(Entry) error) (last uint64, err error) {
	last = afterSeq
	for {
		page, err := s.List(ctx, last, defaultPageSize)
		if err != nil {
			return last, err
		}
		for _, e := range page {
			if err := fn(e); err != nil {
				return last, fmt.Errorf("journal: replay seq %d: %w", e.Seq, err)
			}
			last = e.Seq
		}
		if len(page) < defaultPageSize {
			return last, nil
		}
	}
}

// Validate checks the fields a store relies on.
func Validate(e Entry) error {
	if e.CommandID == (common.Hash{}) {
		return fmt.Errorf("%w: missing command id", ErrInvalidInput)
	}
	switch e.Status {
	case StatusApplied, StatusReverted:
	default:
		return fmt.Errorf("%w: unknown status %q", ErrInvalidInput, e.Status)
	}
	if e.Kind == "" || len(e.Envelope) == 0 {
		return fmt.Errorf("%w: kind and envelope are required", ErrInvalidInput)
	}
	return nil
}
