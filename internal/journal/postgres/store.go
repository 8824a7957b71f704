package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Sovryn-Origins/origins/internal/journal"
)

var ErrInvalidConfig = errors.New("journal/postgres: invalid config")

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("%w: nil pool", ErrInvalidConfig)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("journal/postgres: ensure schema: %w", err)
	}
	return nil
}

const selectColumns = `seq, command_id, kind, caller, at, status, reason, envelope, events, output, recorded_at`

func (s *Store) Append(ctx context.Context, e journal.Entry) (journal.Entry, bool, error) {
	if s == nil || s.pool == nil {
		return journal.Entry{}, false, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if err := journal.Validate(e); err != nil {
		return journal.Entry{}, false, err
	}

	var (
		seq        int64
		recordedAt time.Time
	)
	err := s.pool.QueryRow(ctx, `
		INSERT INTO origins_journal (command_id, kind, caller, at, status, reason, envelope, events, output, recorded_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9, now())
		ON CONFLICT (command_id) DO NOTHING
		RETURNING seq, recorded_at
	`,
		e.CommandID[:],
		e.Kind,
		e.Caller[:],
		int64(e.At),
		string(e.Status),
		e.Reason,
		[]byte(e.Envelope),
		nullableJSON(e.Events),
		nullableJSON(e.Output),
	).Scan(&seq, &recordedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			existing, gerr := s.Get(ctx, e.CommandID)
			if gerr != nil {
				return journal.Entry{}, false, gerr
			}
			return existing, false, nil
		}
		return journal.Entry{}, false, fmt.Errorf("journal/postgres: append: %w", err)
	}
	e.Seq = uint64(seq)
	e.RecordedAt = recordedAt.UTC()
	return e, true, nil
}

func (s *Store) Get(ctx context.Context, commandID common.Hash) (journal.Entry, error) {
	if s == nil || s.pool == nil {
		return journal.Entry{}, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	row := s.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM origins_journal WHERE command_id = $1`, commandID[:])
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return journal.Entry{}, journal.ErrNotFound
		}
		return journal.Entry{}, fmt.Errorf("journal/postgres: get: %w", err)
	}
	return e, nil
}

func (s *Store) List(ctx context.Context, afterSeq uint64, limit int) ([]journal.Entry, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if limit <= 0 {
		return nil, journal.ErrInvalidInput
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+selectColumns+`
		FROM origins_journal
		WHERE seq > $1
		ORDER BY seq ASC
		LIMIT $2
	`, int64(afterSeq), limit)
	if err != nil {
		return nil, fmt.Errorf("journal/postgres: list: %w", err)
	}
	defer rows.Close()

	var out []journal.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("journal/postgres: list scan: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal/postgres: list rows: %w", err)
	}
	return out, nil
}

func scanEntry(row pgx.Row) (journal.Entry, error) {
	var (
		seq        int64
		commandID  []byte
		kind       string
		caller     []byte
		at         int64
		status     string
		reason     string
		envelope   []byte
		events     []byte
		output     []byte
		recordedAt time.Time
	)
	if err := row.Scan(&seq, &commandID, &kind, &caller, &at, &status, &reason, &envelope, &events, &output, &recordedAt); err != nil {
		return journal.Entry{}, err
	}
	if len(commandID) != common.HashLength || len(caller) != common.AddressLength {
		return journal.Entry{}, fmt.Errorf("journal/postgres: corrupt row %d", seq)
	}
	return journal.Entry{
		Seq:        uint64(seq),
		CommandID:  common.BytesToHash(commandID),
		Kind:       kind,
		Caller:     common.BytesToAddress(caller),
		At:         uint64(at),
		Status:     journal.Status(status),
		Reason:     reason,
		Envelope:   json.RawMessage(envelope),
		Events:     json.RawMessage(events),
		Output:     json.RawMessage(output),
		RecordedAt: recordedAt.UTC(),
	}, nil
}

// nullableJSON stores empty payloads as SQL NULL.
func nullableJSON(b json.RawMessage) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
