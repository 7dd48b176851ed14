package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cobranca_backend/internal/campaigns"
	"cobranca_backend/internal/campaigns/repository"
	"cobranca_backend/internal/featureflag"
	apphttp "cobranca_backend/internal/http"
	"cobranca_backend/internal/http/router"
	"cobranca_backend/internal/pipeline"
	"cobranca_backend/internal/queue"
	"cobranca_backend/internal/webhook"
	"cobranca_backend/platform/config"
	"cobranca_backend/platform/db"
	"cobranca_backend/platform/logger"
	"cobranca_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Env)
	log.Info("starting api", "env", cfg.Env, "addr", cfg.HTTPAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := withRetry(ctx, log, "database migrations", 5, 2*time.Second, func() error {
		return db.RunMigrations(ctx, cfg)
	}); err != nil {
		log.Error("failed to run database migrations", "error", err)
		panic("failed to run database migrations: " + err.Error())
	}
	log.Info("database migrations complete")

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

	broker, err := queue.NewClient(cfg, log)
	if err != nil {
		log.Error("failed to connect to broker", "error", err)
		panic("failed to connect to broker: " + err.Error())
	}
	defer broker.Close()

	repo := repository.New(pool)
	val := validator.New()

	flagRepo := featureflag.NewRepository(pool)
	flagProvider := featureflag.NewCachedProvider(flagRepo, cfg, log)

	// The promise monitor doubles as the fulfillment path for the admin
	// surface: mark paid, cancel the scheduled check.
	monitor := pipeline.NewMonitor(repo, broker, log)

	app := &apphttp.App{
		Config: cfg,
		Logger: log,
		Health: db.NewPoolAdapter(pool),
		Modules: []apphttp.Module{
			campaigns.NewModule(repo, broker, monitor, flagProvider, flagRepo, val, log),
			webhook.NewModule(repo, broker, cfg, val, log),
		},
	}

	engine := router.New(app)

	srvErr := make(chan error, 1)
	go func() {
		log.Info("server listening", "addr", cfg.HTTPAddr)
		srvErr <- engine.Run(cfg.HTTPAddr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-srvErr:
		if err != nil {
			log.Error("server error", "error", err)
			panic("server error: " + err.Error())
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
