package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Sovryn-Origins/origins/internal/blobstore"
	"github.com/Sovryn-Origins/origins/internal/journal"
	journalpg "github.com/Sovryn-Origins/origins/internal/journal/postgres"
	"github.com/Sovryn-Origins/origins/internal/machine"
	"github.com/Sovryn-Origins/origins/internal/node"
	"github.com/Sovryn-Origins/origins/internal/statement"
)

type archived struct {
	Key     string `json:"key"`
	Written bool   `json:"written"`
	Seq     uint64 `json:"seq"`
	ID      string `json:"id"`
}

func main() {
	if err := runMain(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(2)
	}
}

func runMain(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("origins-statement", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	genesisPath := fs.String("genesis", "", "genesis JSON file (required)")
	postgresDSN := fs.String("postgres-dsn", "", "journal Postgres DSN (required)")
	blobDriver := fs.String("blob-driver", blobstore.DriverS3, "statement archive driver: s3|memory")
	blobBucket := fs.String("blob-bucket", "", "S3 bucket for statements (required for s3)")
	blobPrefix := fs.String("blob-prefix", "origins", "statement archive key prefix")
	printFull := fs.Bool("print", false, "write the full statement to stdout instead of the archive summary")
	timeout := fs.Duration("timeout", 5*time.Minute, "overall timeout")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*genesisPath) == "" || strings.TrimSpace(*postgresDSN) == "" {
		return errors.New("--genesis and --postgres-dsn are required")
	}
	if strings.EqualFold(strings.TrimSpace(*blobDriver), blobstore.DriverS3) && strings.TrimSpace(*blobBucket) == "" {
		return errors.New("--blob-bucket is required when --blob-driver=s3")
	}
	if *timeout <= 0 {
		return errors.New("--timeout must be > 0")
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	genesis, err := machine.LoadGenesis(strings.TrimSpace(*genesisPath))
	if err != nil {
		return err
	}

	pool, err := pgxpool.New(ctx, *postgresDSN)
	if err != nil {
		return fmt.Errorf("init pgx pool: %w", err)
	}
	defer pool.Close()
	store, err := journalpg.New(pool)
	if err != nil {
		return err
	}

	archive, err := newBlobStore(ctx, *blobDriver, *blobBucket, *blobPrefix)
	if err != nil {
		return err
	}

	st, key, written, err := buildAndArchive(ctx, genesis, store, archive, log)
	if err != nil {
		return err
	}
	log.Info("statement built", "seq", st.Seq, "applied", st.Applied, "key", key, "written", written)

	enc := json.NewEncoder(stdout)
	if *printFull {
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	}
	return enc.Encode(archived{Key: key, Written: written, Seq: st.Seq, ID: st.ID.Hex()})
}

// buildAndArchive replays the whole journal into a fresh machine and archives the resulting
// statement.
func buildAndArchive(ctx context.Context, g machine.Genesis, store journal.Store, archive blobstore.Store, log *slog.Logger) (statement.Statement, string, bool, error) {
	m, err := machine.New(g, machine.Options{Logger: log})
	if err != nil {
		return statement.Statement{}, "", false, err
	}
	seq, applied, err := node.Replay(ctx, m, store, 0)
	if err != nil {
		return statement.Statement{}, "", false, err
	}
	log.Info("journal replayed", "seq", seq, "applied", applied)

	st := statement.Build(m, seq)
	key, written, err := statement.Archive(ctx, archive, st)
	if err != nil {
		return statement.Statement{}, "", false, err
	}
	return st, key, written, nil
}

func newBlobStore(ctx context.Context, driver, bucket, prefix string) (blobstore.Store, error) {
	cfg := blobstore.Config{
		Driver: strings.ToLower(strings.TrimSpace(driver)),
		Bucket: strings.TrimSpace(bucket),
		Prefix: strings.TrimSpace(prefix),
	}
	if cfg.Driver == blobstore.DriverS3 {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		cfg.S3Client = awss3.NewFromConfig(awsCfg)
	}
	return blobstore.New(cfg)
}
