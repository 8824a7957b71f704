package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Sovryn-Origins/origins/internal/api"
	"github.com/Sovryn-Origins/origins/internal/blobstore"
	"github.com/Sovryn-Origins/origins/internal/journal"
	journalpg "github.com/Sovryn-Origins/origins/internal/journal/postgres"
	"github.com/Sovryn-Origins/origins/internal/leases"
	leasespg "github.com/Sovryn-Origins/origins/internal/leases/postgres"
	"github.com/Sovryn-Origins/origins/internal/machine"
	"github.com/Sovryn-Origins/origins/internal/node"
	"github.com/Sovryn-Origins/origins/internal/queue"
	"github.com/Sovryn-Origins/origins/internal/statement"
)

func main() {
	var (
		genesisPath       = flag.String("genesis", "", "genesis JSON file (required)")
		requireSignatures = flag.Bool("require-signatures", true, "reject envelopes not signed by their caller")
		insecureDev       = flag.Bool("insecure-dev", false, "allow --require-signatures=false (local development only)")
		maxSkew           = flag.Duration("max-skew", 5*time.Minute, "maximum distance between a command timestamp and the local clock")
		tickInterval      = flag.Duration("tick-interval", 1*time.Second, "lease renewal and follower sync interval")

		storeDriver = flag.String("store-driver", "postgres", "journal store driver: postgres|memory")
		postgresDSN = flag.String("postgres-dsn", "", "Postgres DSN (required when --store-driver=postgres)")

		queueDriver     = flag.String("queue-driver", queue.DriverKafka, "queue driver: kafka|stdio|memory")
		queueBrokers    = flag.String("queue-brokers", "", "comma-separated queue brokers (required for kafka)")
		queueGroup      = flag.String("queue-group", "origins-node", "queue consumer group (required for kafka)")
		commandsTopic   = flag.String("commands-topic", "origins.commands.v1", "command envelope topic")
		eventsTopic     = flag.String("events-topic", "origins.results.v1", "execution result topic")
		queueMaxBytes   = flag.Int("queue-max-bytes", 10<<20, "maximum kafka message size for consumer reads (bytes)")
		queueAckTimeout = flag.Duration("queue-ack-timeout", 5*time.Second, "timeout for queue message acknowledgements")

		leaderElection  = flag.Bool("leader-election", true, "only the lease holder executes commands")
		leaderLeaseName = flag.String("leader-lease-name", "origins-node", "lease name used for leader election")
		leaderLeaseTTL  = flag.Duration("leader-lease-ttl", 15*time.Second, "leader lease TTL (renewed each tick)")
		owner           = flag.String("owner", "", "unique node id used as lease holder (required with --leader-election)")

		listenAddr         = flag.String("listen", "127.0.0.1:8080", "HTTP API listen address (empty disables the API)")
		rateLimitPerSecond = flag.Float64("rate-limit-rps", 20, "per-IP request rate")
		rateLimitBurst     = flag.Int("rate-limit-burst", 40, "per-IP request burst")
		maxBodyBytes       = flag.Int64("max-body-bytes", 1<<20, "maximum POST body size")

		blobDriver        = flag.String("blob-driver", blobstore.DriverMemory, "statement archive driver: s3|memory")
		blobBucket        = flag.String("blob-bucket", "", "S3 bucket for statements (required for s3)")
		blobPrefix        = flag.String("blob-prefix", "origins", "statement archive key prefix")
		statementInterval = flag.Duration("statement-interval", 0, "archive a statement at this interval (0 disables)")
	)
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if *genesisPath == "" {
		fmt.Fprintln(os.Stderr, "error: --genesis is required")
		os.Exit(2)
	}
	if !*requireSignatures && !*insecureDev {
		fmt.Fprintln(os.Stderr, "error: --require-signatures=false needs --insecure-dev")
		os.Exit(2)
	}
	store := strings.ToLower(strings.TrimSpace(*storeDriver))
	if store != "postgres" && store != "memory" {
		fmt.Fprintln(os.Stderr, "error: --store-driver must be postgres or memory")
		os.Exit(2)
	}
	if store == "postgres" && strings.TrimSpace(*postgresDSN) == "" {
		fmt.Fprintln(os.Stderr, "error: --postgres-dsn is required when --store-driver=postgres")
		os.Exit(2)
	}
	if strings.TrimSpace(*commandsTopic) == "" || strings.TrimSpace(*eventsTopic) == "" {
		fmt.Fprintln(os.Stderr, "error: --commands-topic and --events-topic are required")
		os.Exit(2)
	}
	if *maxSkew <= 0 || *tickInterval <= 0 || *queueAckTimeout <= 0 || *leaderLeaseTTL <= 0 {
		fmt.Fprintln(os.Stderr, "error: durations must be > 0")
		os.Exit(2)
	}
	if *leaderLeaseTTL <= *tickInterval {
		fmt.Fprintln(os.Stderr, "error: --leader-lease-ttl must be longer than --tick-interval")
		os.Exit(2)
	}
	if *leaderElection && strings.TrimSpace(*owner) == "" {
		fmt.Fprintln(os.Stderr, "error: --owner is required when --leader-election=true")
		os.Exit(2)
	}
	if *queueMaxBytes <= 0 || *maxBodyBytes <= 0 || *rateLimitPerSecond <= 0 || *rateLimitBurst <= 0 {
		fmt.Fprintln(os.Stderr, "error: --queue-max-bytes, --max-body-bytes and rate limits must be > 0")
		os.Exit(2)
	}
	if *statementInterval < 0 {
		fmt.Fprintln(os.Stderr, "error: --statement-interval must be >= 0")
		os.Exit(2)
	}
	if *statementInterval > 0 && strings.EqualFold(strings.TrimSpace(*blobDriver), blobstore.DriverS3) && strings.TrimSpace(*blobBucket) == "" {
		fmt.Fprintln(os.Stderr, "error: --blob-bucket is required when --blob-driver=s3")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	genesis, err := machine.LoadGenesis(*genesisPath)
	if err != nil {
		log.Error("load genesis", "err", err)
		os.Exit(2)
	}
	m, err := machine.New(genesis, machine.Options{RequireSignatures: *requireSignatures, Logger: log})
	if err != nil {
		log.Error("init machine", "err", err)
		os.Exit(2)
	}

	var (
		journalStore journal.Store
		pool         *pgxpool.Pool
	)
	switch store {
	case "postgres":
		pool, err = pgxpool.New(ctx, *postgresDSN)
		if err != nil {
			log.Error("init pgx pool", "err", err)
			os.Exit(2)
		}
		defer pool.Close()

		pgStore, err := journalpg.New(pool)
		if err != nil {
			log.Error("init journal store", "err", err)
			os.Exit(2)
		}
		if err := pgStore.EnsureSchema(ctx); err != nil {
			log.Error("ensure journal schema", "err", err)
			os.Exit(2)
		}
		journalStore = pgStore
	default:
		journalStore = journal.NewMemoryStore(nil)
	}

	var broker *queue.MemoryBroker
	if strings.EqualFold(strings.TrimSpace(*queueDriver), queue.DriverMemory) {
		broker = queue.NewMemoryBroker(0)
		defer broker.Close()
	}
	consumer, err := queue.NewConsumer(ctx, queue.ConsumerConfig{
		Driver:        *queueDriver,
		Brokers:       queue.SplitCommaList(*queueBrokers),
		Group:         *queueGroup,
		Topics:        []string{*commandsTopic},
		KafkaMaxBytes: *queueMaxBytes,
		Broker:        broker,
		Logger:        log,
	})
	if err != nil {
		log.Error("init queue consumer", "err", err)
		os.Exit(2)
	}
	defer func() { _ = consumer.Close() }()

	producer, err := queue.NewProducer(queue.ProducerConfig{
		Driver:  *queueDriver,
		Brokers: queue.SplitCommaList(*queueBrokers),
		Broker:  broker,
	})
	if err != nil {
		log.Error("init queue producer", "err", err)
		os.Exit(2)
	}
	defer func() { _ = producer.Close() }()

	var elector *leases.Elector
	if *leaderElection {
		var leaseStore leases.Store = leases.NewMemoryStore(nil)
		if pool != nil {
			pgLeases, err := leasespg.New(pool)
			if err != nil {
				log.Error("init lease store", "err", err)
				os.Exit(2)
			}
			if err := pgLeases.EnsureSchema(ctx); err != nil {
				log.Error("ensure lease schema", "err", err)
				os.Exit(2)
			}
			leaseStore = pgLeases
		}
		elector, err = leases.NewElector(leaseStore, *leaderLeaseName, *owner, *leaderLeaseTTL, log)
		if err != nil {
			log.Error("init leader elector", "err", err)
			os.Exit(2)
		}
	}

	n, err := node.New(node.Config{
		EventsTopic:  *eventsTopic,
		MaxSkew:      *maxSkew,
		TickInterval: *tickInterval,
		AckTimeout:   *queueAckTimeout,
	}, m, journalStore, consumer, producer, elector, log)
	if err != nil {
		log.Error("init node", "err", err)
		os.Exit(2)
	}

	var archive blobstore.Store
	if *statementInterval > 0 {
		archive, err = newBlobStore(ctx, *blobDriver, *blobBucket, *blobPrefix)
		if err != nil {
			log.Error("init statement archive", "err", err)
			os.Exit(2)
		}
	}

	var srv *http.Server
	if *listenAddr != "" {
		apiCfg := api.Config{
			AllowUnsigned:           !*requireSignatures,
			MaxSkew:                 *maxSkew,
			MaxBodyBytes:            *maxBodyBytes,
			RateLimitPerIPPerSecond: *rateLimitPerSecond,
			RateLimitBurst:          *rateLimitBurst,
			Logger:                  log,
		}
		// stdout carries results in stdio mode; submissions are not forwarded there.
		if !strings.EqualFold(strings.TrimSpace(*queueDriver), queue.DriverStdio) {
			submitter, err := api.NewQueueSubmitter(producer, *commandsTopic)
			if err != nil {
				log.Error("init submitter", "err", err)
				os.Exit(2)
			}
			apiCfg.Submitter = submitter
		}
		handler, err := api.NewHandler(apiCfg, m, journalStore)
		if err != nil {
			log.Error("init api", "err", err)
			os.Exit(2)
		}
		srv = &http.Server{
			Addr:              *listenAddr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
			MaxHeaderBytes:    1 << 20,
		}
	}

	if !*requireSignatures {
		log.Warn("signature checks disabled; unsigned commands from any caller will execute")
	}
	log.Info("origins node started",
		"owner", *owner,
		"storeDriver", store,
		"queueDriver", *queueDriver,
		"commandsTopic", *commandsTopic,
		"eventsTopic", *eventsTopic,
		"leaderElection", *leaderElection,
		"requireSignatures", *requireSignatures,
		"listen", *listenAddr,
	)

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	nodeErr := make(chan error, 1)
	go func() { nodeErr <- n.Run(runCtx) }()

	srvErr := make(chan error, 1)
	if srv != nil {
		go func() {
			log.Info("api listening", "addr", *listenAddr)
			srvErr <- srv.ListenAndServe()
		}()
	}

	var statementTick <-chan time.Time
	if archive != nil {
		t := time.NewTicker(*statementInterval)
		defer t.Stop()
		statementTick = t.C
	}

	exitCode := 0
loop:
	for {
		select {
		case <-ctx.Done():
			log.Info("shutdown", "reason", ctx.Err())
			break loop
		case err := <-nodeErr:
			if err != nil {
				log.Error("node stopped", "err", err)
				exitCode = 1
			} else {
				log.Info("command input closed")
			}
			break loop
		case err := <-srvErr:
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("server error", "err", err)
				exitCode = 1
				break loop
			}
		case <-statementTick:
			archiveStatement(ctx, n, m, archive, log)
		}
	}

	cancelRun()
	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		_ = srv.Shutdown(shutdownCtx)
		cancel()
	}
	if archive != nil {
		archiveStatement(context.Background(), n, m, archive, log)
	}
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}

func archiveStatement(ctx context.Context, n *node.Node, m *machine.Machine, store blobstore.Store, log *slog.Logger) {
	var st statement.Statement
	n.AtSeq(func(seq uint64) { st = statement.Build(m, seq) })
	if st.Seq == 0 {
		return
	}
	key, written, err := statement.Archive(ctx, store, st)
	if err != nil {
		log.Error("archive statement", "seq", st.Seq, "err", err)
		return
	}
	if written {
		log.Info("statement archived", "key", key, "seq", st.Seq)
	}
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
