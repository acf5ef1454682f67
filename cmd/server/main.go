package main

import (
	"context"
	"database/sql"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/PortNumber53/saas-starter/internal/billing"
	"github.com/PortNumber53/saas-starter/internal/config"
	"github.com/PortNumber53/saas-starter/internal/deadletter"
	"github.com/PortNumber53/saas-starter/internal/httpserver"
	"github.com/PortNumber53/saas-starter/internal/logger"
	"github.com/PortNumber53/saas-starter/internal/migrations"
	"github.com/PortNumber53/saas-starter/internal/models"
	"github.com/PortNumber53/saas-starter/internal/store"
	"github.com/PortNumber53/saas-starter/internal/stripe"
	"github.com/PortNumber53/saas-starter/internal/worker"
)

func main() {
	// Best-effort: load environment variables from .env-style files in local
	// development. These calls are safe to ignore in production environments.
	_ = godotenv.Load(
		"../.env",
		".env",
	)

	cfg, err := config.Load()
	if err != nil {
		// The logger level comes from config, so fall back to a default one.
		l, _ := logger.New("production", "info")
		l.Fatal("failed to load configuration", zap.Error(err))
	}

	log, err := logger.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()

	logDBTarget(log, "primary", cfg.DatabaseURL)
	configureDB(db)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		log.Fatal("failed to ping database", zap.Error(err))
	}

	if err := runMigrationsWithDirtyFix(db, log.Named("migrations")); err != nil {
		log.Fatal("failed to apply database migrations", zap.Error(err))
	}

	st, err := store.New(db)
	if err != nil {
		log.Fatal("failed to create store", zap.Error(err))
	}
	jobStore, err := store.NewJobStore(db)
	if err != nil {
		log.Fatal("failed to create job store", zap.Error(err))
	}

	stripeClient, err := stripe.NewClient(cfg.StripeSecretKey, log.Named("stripe"))
	if err != nil {
		log.Fatal("failed to create stripe client", zap.Error(err))
	}

	publisher := newDeadLetterPublisher(ctx, cfg, log)

	jobWorker := worker.New(worker.Config{
		MaxConcurrent:        cfg.WorkerConcurrency,
		ReprocessMaxAttempts: cfg.ReprocessMaxAttempts,
		ReprocessDelay:       worker.DefaultConfig().ReprocessDelay,
	}, jobStore, publisher, log.Named("worker"))

	reconciler := billing.NewReconciler(st, stripeClient, log.Named("reconciler"))
	dispatcher := billing.NewDispatcher(st, reconciler, jobWorker, log.Named("dispatcher"))
	jobWorker.RegisterHandler(models.JobTypeWebhookReprocess, dispatcher.HandleReprocessJob)

	if cfg.StripeWebhookSecret == "" {
		log.Warn("STRIPE_WEBHOOK_SECRET is not set; every webhook delivery will be rejected")
	}

	srv := httpserver.New(cfg, httpserver.Deps{
		DB:       st,
		Verifier: billing.NewVerifier(cfg.StripeWebhookSecret),
		Ingester: dispatcher,
		Accounts: st,
		Billing:  st,
		Checkout: stripeClient,
		Jobs:     jobStore,
		Events:   st,
		Worker:   jobWorker,
		Logger:   log,
	})

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-shutdownCtx.Done()
		ctx, cancel := context.WithTimeout(context.Background(), worker.DefaultConfig().ShutdownTimeout+5*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Error("graceful shutdown failed", zap.Error(err))
		}
	}()

	// Start returns only once Shutdown has released the worker's jobs.
	if err := srv.Start(); err != nil {
		log.Error("server exited with error", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
	log.Info("server stopped")
}

func configureDB(db *sql.DB) {
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
}

func newDeadLetterPublisher(ctx context.Context, cfg config.Config, log *zap.Logger) deadletter.Publisher {
	if cfg.DeadLetterQueueURL == "" {
		log.Info("dead-letter queue not configured; exhausted jobs are logged only")
		return deadletter.NewLogPublisher(log.Named("deadletter"))
	}
	pub, err := deadletter.NewSQSPublisherFromEnv(ctx, cfg.DeadLetterQueueURL, log.Named("deadletter"))
	if err != nil {
		log.Fatal("failed to create dead-letter publisher", zap.Error(err))
	}
	return pub
}

func runMigrationsWithDirtyFix(db *sql.DB, log *zap.Logger) error {
	if err := migrations.Up(db, log); err != nil {
		if !strings.Contains(err.Error(), "Dirty database version") {
			return err
		}
		log.Warn("dirty database detected, attempting to fix", zap.Error(err))
		if fixErr := migrations.FixDirtyDatabase(db); fixErr != nil {
			log.Error("failed to fix dirty database", zap.Error(fixErr))
			return err
		}
		return migrations.Up(db, log)
	}
	return nil
}

func logDBTarget(log *zap.Logger, name, dsn string) {
	// Only the hostname and database path; the DSN carries credentials.
	u, err := url.Parse(dsn)
	if err != nil {
		log.Info("database configured", zap.String("name", name), zap.NamedError("dsn_parse_error", err))
		return
	}
	log.Info("database configured",
		zap.String("name", name),
		zap.String("host", u.Hostname()),
		zap.String("db", strings.TrimPrefix(u.Path, "/")))
}
