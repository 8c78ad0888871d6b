package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"kycvault/internal/audit"
	"kycvault/internal/audit/publisher"
	kychandler "kycvault/internal/kyc/handler"
	kycmetrics "kycvault/internal/kyc/metrics"
	"kycvault/internal/kyc/service"
	"kycvault/internal/platform/config"
	"kycvault/internal/platform/database"
	"kycvault/internal/platform/httpserver"
	"kycvault/internal/platform/logger"
	platformmetrics "kycvault/internal/platform/metrics"
	platformredis "kycvault/internal/platform/redis"
	"kycvault/internal/proof"
	"kycvault/internal/proof/blob"
	"kycvault/internal/proof/ethledger"
	"kycvault/internal/proof/memledger"
	rlmetrics "kycvault/internal/ratelimit/metrics"
	ratelimit "kycvault/internal/ratelimit/middleware"
	rlmodels "kycvault/internal/ratelimit/models"
	"kycvault/internal/ratelimit/store/bucket"
	"kycvault/internal/storage"
	"kycvault/internal/storage/postgres"
	httptransport "kycvault/internal/transport/http"
	"kycvault/internal/verification"
	"kycvault/pkg/platform/middleware/auth"
)

const rateLimitSweepInterval = 5 * time.Minute

// recordStore is what the service, the audit trail and the verifier need from
// persistence. The memory and Postgres stores both satisfy it.
type recordStore interface {
	service.Store
	audit.Store
	verification.RecordFinder
}

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogFormat, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("kycvault stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	checks := map[string]httptransport.HealthCheck{}

	store, err := openStore(ctx, cfg.Database, checks)
	if err != nil {
		return err
	}
	ledger, err := openLedger(ctx, cfg.Ledger, log)
	if err != nil {
		return err
	}
	blobs, err := openBlobStore(ctx, cfg.Blob)
	if err != nil {
		return err
	}

	// Background workers start only after every fallible step below has succeeded.
	var workers []func(context.Context) error

	recorderOpts := []audit.Option{audit.WithLogger(log)}
	if len(cfg.Kafka.Brokers) > 0 {
		if err := publisher.EnsureTopicOnBrokers(ctx, cfg.Kafka.Brokers, cfg.Kafka.AuditTopic); err != nil {
			return fmt.Errorf("kafka audit topic: %w", err)
		}
		kafka, err := publisher.NewKafka(cfg.Kafka.Brokers, cfg.Kafka.AuditTopic)
		if err != nil {
			return fmt.Errorf("kafka audit publisher: %w", err)
		}
		defer kafka.Close()
		dispatcher := audit.NewDispatcher(kafka, cfg.Kafka.Buffer, log)
		workers = append(workers, dispatcher.Run)
		recorderOpts = append(recorderOpts, audit.WithSink(dispatcher))
		log.Info("audit fan-out enabled", "topic", cfg.Kafka.AuditTopic)
	}
	trail := audit.NewRecorder(store, recorderOpts...)

	kycMetrics := kycmetrics.New(reg)
	svc, err := service.New(store, ledger, blobs, trail,
		service.WithLogger(log),
		service.WithMetrics(kycMetrics),
		service.WithMaxDocumentBytes(cfg.Limits.MaxDocumentBytes),
		service.WithBulkConcurrency(cfg.Limits.BulkConcurrency),
		service.WithFinalityDepth(cfg.Ledger.FinalityDepth),
	)
	if err != nil {
		return fmt.Errorf("kyc service: %w", err)
	}
	verifier, err := verification.New(store, ledger,
		verification.WithLogger(log),
		verification.WithMetrics(kycMetrics),
	)
	if err != nil {
		return fmt.Errorf("verifier: %w", err)
	}

	limiter, sweep, err := newRateLimiter(ctx, cfg, log, reg, checks)
	if err != nil {
		return err
	}
	workers = append(workers, sweep)

	reconciler := service.NewReconciler(svc, cfg.Ledger.ReconcileInterval, log)
	workers = append(workers, reconciler.Run)

	validator := auth.NewValidator([]byte(cfg.Auth.JWTSecret), cfg.Auth.JWTIssuer)
	router := httptransport.NewRouter(httptransport.Deps{
		Logger:       log,
		KYC:          kychandler.New(svc, validator, log, 0),
		Verification: verification.NewHandler(verifier, log),
		RateLimit:    limiter,
		HTTPMetrics:  platformmetrics.New(reg),
		Gatherer:     reg,
		HealthChecks: checks,
	})

	srv := httpserver.New(cfg.Addr, router)
	workers = append(workers, func(ctx context.Context) error { return httpserver.Run(ctx, srv, log) })

	log.Info("kycvault started",
		"addr", cfg.Addr,
		"ledger", cfg.Ledger.Driver,
		"blob_store", cfg.Blob.Driver,
		"postgres", cfg.Database.URL != "",
	)
	if err := runWorkers(ctx, workers...); err != nil {
		return err
	}
	log.Info("kycvault stopped")
	return nil
}

// runWorkers runs each worker until ctx ends or one fails, which stops the rest.
// Cancellation is a clean stop.
func runWorkers(ctx context.Context, workers ...func(context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, work := range workers {
		g.Go(func() error { return work(gctx) })
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func openStore(ctx context.Context, cfg config.DatabaseConfig, checks map[string]httptransport.HealthCheck) (recordStore, error) {
	db, err := database.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if db == nil {
		return storage.NewMemory(), nil
	}
	pg := postgres.New(db)
	if err := pg.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	checks["postgres"] = db.PingContext
	return pg, nil
}

func openLedger(ctx context.Context, cfg config.LedgerConfig, log *slog.Logger) (proof.Ledger, error) {
	if cfg.Driver != config.LedgerEthereum {
		log.Warn("using in-memory ledger; proofs do not survive a restart")
		return memledger.New(), nil
	}
	l, err := ethledger.Dial(ctx, cfg.RPCURL, cfg.PrivateKey,
		ethledger.WithConfirmationBlocks(cfg.ConfirmationBlocks),
		ethledger.WithLogger(log),
	)
	if err != nil {
		return nil, fmt.Errorf("ethereum ledger: %w", err)
	}
	log.Info("anchoring proofs on ethereum", "address", l.Address().Hex())
	return l, nil
}

func openBlobStore(ctx context.Context, cfg config.BlobConfig) (proof.BlobStore, error) {
	switch cfg.Driver {
	case config.BlobIPFS:
		return blob.NewIPFS(cfg.IPFSAPIURL), nil
	case config.BlobS3:
		s, err := blob.NewS3(ctx, cfg.S3Bucket, cfg.AWSRegion)
		if err != nil {
			return nil, fmt.Errorf("s3 blob store: %w", err)
		}
		return s, nil
	default:
		return blob.NewMemory(), nil
	}
}

// newRateLimiter uses Redis when configured, falling back to a local sliding window
// while Redis is unreachable. The returned worker sweeps expired local windows.
func newRateLimiter(
	ctx context.Context,
	cfg config.Server,
	log *slog.Logger,
	reg prometheus.Registerer,
	checks map[string]httptransport.HealthCheck,
) (*ratelimit.Middleware, func(context.Context) error, error) {
	local := bucket.NewInMemoryBucketStore()
	sweep := func(ctx context.Context) error {
		local.StartCleanup(ctx, rateLimitSweepInterval)
		return nil
	}

	limit := rlmodels.Limit{RequestsPerWindow: cfg.Limits.VerifyRateLimit, Window: cfg.Limits.VerifyRateWindow}
	opts := []ratelimit.Option{
		ratelimit.WithMetrics(rlmetrics.New(reg)),
		ratelimit.WithDisabled(cfg.Limits.DisableRateLimit),
	}

	client, err := platformredis.New(ctx, cfg.Redis)
	if err != nil {
		return nil, nil, err
	}
	if client == nil {
		return ratelimit.New(local, limit, log, opts...), sweep, nil
	}
	checks["redis"] = client.Health
	opts = append(opts, ratelimit.WithFallback(local))
	return ratelimit.New(bucket.NewRedisBucketStore(client), limit, log, opts...), sweep, nil
}
