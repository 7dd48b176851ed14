package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cobranca_backend/internal/alerts"
	"cobranca_backend/internal/campaigns/domain"
	"cobranca_backend/internal/campaigns/repository"
	crmclient "cobranca_backend/internal/crm/client"
	crmservice "cobranca_backend/internal/crm/service"
	"cobranca_backend/internal/dialer"
	"cobranca_backend/internal/featureflag"
	"cobranca_backend/internal/messenger"
	"cobranca_backend/internal/pipeline"
	"cobranca_backend/internal/queue"
	"cobranca_backend/platform/config"
	"cobranca_backend/platform/db"
	"cobranca_backend/platform/logger"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting worker", "env", cfg.Env, "concurrency", cfg.GetWorkerConcurrency())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var pool *pgxpool.Pool
	if err := withRetry(ctx, log, "database connection", 5, 2*time.Second, func() error {
		p, err := db.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		pool = p
		return nil
	}); err != nil {
		log.Error("failed to connect to database", "error", err)
		panic("failed to connect to database: " + err.Error())
	}
	defer pool.Close()
	log.Info("database connection established")

	redisOpt, err := queue.RedisClientOpt(cfg)
	if err != nil {
		log.Error("failed to parse redis url", "error", err)
		panic("failed to parse redis url: " + err.Error())
	}

	broker := queue.NewClientFromOpt(redisOpt, log)
	defer broker.Close()

	repo := repository.New(pool)

	flagRepo := featureflag.NewRepository(pool)
	flags := featureflag.NewCachedProvider(flagRepo, cfg, log)

	window, err := domain.NewWindow(cfg)
	if err != nil {
		log.Error("failed to build contact window", "error", err)
		panic("failed to build contact window: " + err.Error())
	}

	mailer := alerts.NewMailer(cfg, log)

	crm := crmclient.NewClient(cfg, log)
	importer := crmservice.NewImporter(repo, log)
	syncSvc := crmservice.NewSyncService(repo, crm, importer, broker, log)
	syncSvc.SetAlerts(mailer)

	voice := dialer.NewClient(cfg, log)
	chat := messenger.NewClient(cfg, log)

	archiver, err := pipeline.NewArchiver(repo, cfg, log)
	if err != nil {
		log.Error("failed to create recording archiver", "error", err)
		panic("failed to create recording archiver: " + err.Error())
	}
	if archiver != nil {
		if err := withRetry(ctx, log, "recordings bucket", 3, 2*time.Second, func() error {
			return archiver.EnsureBucket(ctx)
		}); err != nil {
			log.Error("failed to ensure recordings bucket", "error", err)
			panic("failed to ensure recordings bucket: " + err.Error())
		}
	} else {
		log.Info("object storage disabled, recording archival off")
	}

	deps := pipeline.WorkerDeps{
		Sync:       syncSvc,
		Scheduler:  pipeline.NewScheduler(repo, flags, window, broker, cfg, log),
		Contactor:  pipeline.NewContactor(repo, voice, chat, broker, cfg, log),
		Classifier: pipeline.NewClassifier(repo, broker, cfg, log),
		Monitor:    pipeline.NewMonitor(repo, broker, log),
		Sweeper:    pipeline.NewSweeper(repo, chat, broker, cfg, log),
		Reconciler: pipeline.NewReconciler(repo, log),
		Archiver:   archiver,
		Alerts:     mailer,
	}

	worker := pipeline.NewWorker(redisOpt, cfg, deps, log)

	runErr := make(chan error, 1)
	go func() {
		runErr <- worker.Run()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
		worker.Shutdown()
	case err := <-runErr:
		if err != nil {
			log.Error("worker error", "error", err)
			panic("worker error: " + err.Error())
		}
	}
}

func withRetry(ctx context.Context, log *logger.Logger, name string, attempts int, baseDelay time.Duration, fn func() error) error {
	if attempts < 1 {
		return fmt.Errorf("%s: invalid retry attempts", name)
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := fn(); err == nil {
			return nil
		} else {
			lastErr = err
		}

		if attempt < attempts {
			delay := baseDelay * time.Duration(1<<(attempt-1))
			log.Warn("retrying", "operation", name, "attempt", attempt, "delay", delay.String(), "error", lastErr.Error())
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", name, attempts, lastErr)
}
