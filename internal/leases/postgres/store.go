// Package postgres stores leases in a single Postgres table. All expiry checks use the
// database clock so nodes with skewed clocks agree on who holds a lease.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Sovryn-Origins/origins/internal/leases"
)

var ErrInvalidConfig = errors.New("leases/postgres: invalid config")

const (
	createTable = `
CREATE TABLE IF NOT EXISTS origins_leases (
	name       TEXT PRIMARY KEY,
	holder     TEXT NOT NULL,
	epoch      BIGINT NOT NULL CHECK (epoch > 0),
	expires_at TIMESTAMPTZ NOT NULL,
	changed_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

	// takeOrExtend changes the row only for its holder or once the lease has lapsed; an
	// empty result means someone else holds it.
	takeOrExtend = `
INSERT INTO origins_leases AS cur (name, holder, epoch, expires_at)
VALUES ($1, $2, 1, now() + make_interval(secs => $3::double precision))
ON CONFLICT (name) DO UPDATE SET
	epoch      = cur.epoch + (cur.holder <> EXCLUDED.holder)::int,
	holder     = EXCLUDED.holder,
	expires_at = EXCLUDED.expires_at,
	changed_at = now()
WHERE cur.holder = EXCLUDED.holder OR cur.expires_at <= now()
RETURNING name, holder, epoch, expires_at`

	expire = `
UPDATE origins_leases SET expires_at = now(), changed_at = now()
WHERE name = $1 AND holder = $2 AND expires_at > now()`

	// heldByOther reports whether a live lease exists under a different holder.
	heldByOther = `
SELECT EXISTS (
	SELECT 1 FROM origins_leases WHERE name = $1 AND holder <> $2 AND expires_at > now()
)`

	selectLease = `SELECT name, holder, epoch, expires_at FROM origins_leases WHERE name = $1`
)

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("%w: nil pool", ErrInvalidConfig)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) ready() error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	return nil
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	if err := s.ready(); err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("leases/postgres: create table: %w", err)
	}
	return nil
}

func (s *Store) Acquire(ctx context.Context, name, holder string, ttl time.Duration) (leases.Lease, bool, error) {
	if err := s.ready(); err != nil {
		return leases.Lease{}, false, err
	}
	if err := leases.CheckAcquire(name, holder, ttl); err != nil {
		return leases.Lease{}, false, err
	}

	l, err := scanLease(s.pool.QueryRow(ctx, takeOrExtend, name, holder, ttl.Seconds()))
	switch {
	case err == nil:
		return l, true, nil
	case errors.Is(err, pgx.ErrNoRows):
		cur, err := s.Get(ctx, name)
		return cur, false, err
	default:
		return leases.Lease{}, false, fmt.Errorf("leases/postgres: acquire %s: %w", name, err)
	}
}

func (s *Store) Release(ctx context.Context, name, holder string) error {
	if err := s.ready(); err != nil {
		return err
	}
	if err := leases.CheckRelease(name, holder); err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, expire, name, holder)
	if err != nil {
		return fmt.Errorf("leases/postgres: release %s: %w", name, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	var other bool
	if err := s.pool.QueryRow(ctx, heldByOther, name, holder).Scan(&other); err != nil {
		return fmt.Errorf("leases/postgres: release %s: %w", name, err)
	}
	if other {
		return leases.ErrNotHeld
	}
	return nil
}

func (s *Store) Get(ctx context.Context, name string) (leases.Lease, error) {
	if err := s.ready(); err != nil {
		return leases.Lease{}, err
	}
	if name == "" {
		return leases.Lease{}, leases.ErrInvalidInput
	}
	l, err := scanLease(s.pool.QueryRow(ctx, selectLease, name))
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return leases.Lease{}, leases.ErrNotFound
	case err != nil:
		return leases.Lease{}, fmt.Errorf("leases/postgres: get %s: %w", name, err)
	}
	return l, nil
}

func scanLease(row pgx.Row) (leases.Lease, error) {
	var (
		l     leases.Lease
		epoch int64
	)
	if err := row.Scan(&l.Name, &l.Holder, &epoch, &l.ExpiresAt); err != nil {
		return leases.Lease{}, err
	}
	l.Epoch = uint64(epoch)
	return l, nil
}
