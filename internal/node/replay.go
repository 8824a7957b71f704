package node

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Sovryn-Origins/origins/internal/command"
	"github.com/Sovryn-Origins/origins/internal/journal"
	"github.com/Sovryn-Origins/origins/internal/machine"
)

// EntryFromResult is the journal record of env's execution.
func EntryFromResult(env command.Envelope, res machine.Result) (journal.Entry, error) {
	raw, err := json.Marshal(env)
	if err != nil {
		return journal.Entry{}, fmt.Errorf("node: marshal envelope: %w", err)
	}
	e := journal.Entry{
		CommandID: res.CommandID,
		Kind:      string(res.Kind),
		Caller:    res.Caller,
		At:        res.At,
		Status:    journal.Status(res.Status),
		Reason:    res.Reason,
		Envelope:  raw,
		Output:    res.Output,
	}
	if len(res.Events) > 0 {
		e.Events, err = json.Marshal(res.Events)
		if err != nil {
			return journal.Entry{}, fmt.Errorf("node: marshal events: %w", err)
		}
	}
	return e, nil
}

// Replay re-executes the applied entries after afterSeq against m. Reverted entries left no
// state behind and are skipped. Every re-executed entry must reproduce its recorded outcome.
func Replay(ctx context.Context, m *machine.Machine, store journal.Store, afterSeq uint64) (last uint64, applied int, err error) {
	last, err = journal.Replay(ctx, store, afterSeq, func(e journal.Entry) error {
		if e.Status != journal.StatusApplied {
			return nil
		}
		env, err := command.Decode(e.Envelope)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrDiverged, err)
		}
		res, err := m.ApplyAt(ctx, env, e.At)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrDiverged, err)
		}
		if res.CommandID != e.CommandID {
			return fmt.Errorf("%w: command id %s, recorded %s", ErrDiverged, res.CommandID, e.CommandID)
		}
		if res.At != e.At {
			return fmt.Errorf("%w: %s executed at %d, recorded %d", ErrDiverged, e.CommandID, res.At, e.At)
		}
		if res.Status != machine.StatusApplied {
			return fmt.Errorf("%w: %s reverted on replay: %s", ErrDiverged, e.CommandID, res.Reason)
		}
		applied++
		return nil
	})
	return last, applied, err
}
