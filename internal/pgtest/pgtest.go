// Package pgtest hands integration tests a Postgres pool. ORIGINS_TEST_POSTGRES_DSN selects an
// existing server; otherwise a throwaway container is started with docker.
package pgtest

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	EnvDSN = "ORIGINS_TEST_POSTGRES_DSN"

	image = "postgres@sha256:4327b9fd295502f326f44153a1045a7170ddbfffed1c3829798328556cfd09e2"
)

// Pool returns a ready pool closed at test cleanup. The test is skipped when neither a DSN
// nor docker is available.
func Pool(t testing.TB, ctx context.Context) *pgxpool.Pool {
	t.Helper()

	dsn := strings.TrimSpace(os.Getenv(EnvDSN))
	if dsn == "" {
		dsn = startContainer(t, ctx)
	}
	pool, err := waitReady(ctx, dsn, 20*time.Second)
	if err != nil {
		t.Fatalf("pgtest: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func startContainer(t testing.TB, ctx context.Context) string {
	t.Helper()
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skipf("docker not available and %s unset", EnvDSN)
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("pgtest: reserve port: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	out, err := exec.CommandContext(ctx, "docker", "run", "--rm", "-d",
		"-e", "POSTGRES_PASSWORD=origins",
		"-p", addr+":5432",
		image,
	).CombinedOutput()
	if err != nil {
		t.Fatalf("pgtest: docker run: %v: %s", err, out)
	}
	id := strings.TrimSpace(string(out))
	t.Cleanup(func() { _ = exec.Command("docker", "rm", "-f", id).Run() })

	return fmt.Sprintf("postgres://postgres:origins@%s/postgres?sslmode=disable", addr)
}

func waitReady(ctx context.Context, dsn string, within time.Duration) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(ctx, within)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	tick := time.NewTicker(250 * time.Millisecond)
	defer tick.Stop()
	for {
		if err = pool.Ping(ctx); err == nil {
			return pool, nil
		}
		select {
		case <-ctx.Done():
			pool.Close()
			return nil, fmt.Errorf("postgres not ready: %w", err)
		case <-tick.C:
		}
	}
}
