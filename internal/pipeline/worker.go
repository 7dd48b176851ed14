package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"cobranca_backend/internal/alerts"
	crmservice "cobranca_backend/internal/crm/service"
	"cobranca_backend/internal/queue"
	"cobranca_backend/platform/config"
	"cobranca_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// Cron expressions for the periodic jobs.
const (
	cronNightlySync = "0 3 * * *"
	cronRetrySweep  = "*/10 * * * *"
	cronReconcile   = "0 * * * *"
)

// WorkerDeps bundles the stage handlers the worker process serves.
// Archiver may be nil when object storage is not configured.
type WorkerDeps struct {
	Sync       *crmservice.SyncService
	Scheduler  *Scheduler
	Contactor  *Contactor
	Classifier *Classifier
	Monitor    *Monitor
	Sweeper    *Sweeper
	Reconciler *Reconciler
	Archiver   *Archiver
	Alerts     *alerts.Mailer
}

// Worker runs the asynq server for all pipeline queues plus the cron
// scheduler for the periodic jobs.
type Worker struct {
	server    *asynq.Server
	scheduler *asynq.Scheduler
	mux       *asynq.ServeMux
	log       *logger.Logger
}

func NewWorker(opt asynq.RedisClientOpt, cfg config.BrokerConfig, deps WorkerDeps, log *logger.Logger) *Worker {
	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: cfg.GetWorkerConcurrency(),
		Queues:      queue.QueueWeights(),
		IsFailure: func(err error) bool {
			// Rate-limit deferrals are flow control, not failures. They
			// must not count against the broker retry budget.
			return !errors.Is(err, ErrRateLimited)
		},
		RetryDelayFunc: retryDelay,
		ErrorHandler:   asynq.ErrorHandlerFunc(errorHandler(deps.Alerts, log)),
		Logger:         asynqLogger{log},
	})

	scheduler := asynq.NewScheduler(opt, &asynq.SchedulerOpts{
		Logger: asynqLogger{log},
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TaskCRMSync, syncHandler(deps.Sync))
	mux.HandleFunc(queue.TaskNightlySync, func(ctx context.Context, _ *asynq.Task) error {
		return deps.Sync.SyncAllEnabled(ctx)
	})
	mux.HandleFunc(queue.TaskCampaignIngest, ingestHandler(deps.Sync))
	mux.HandleFunc(queue.TaskScheduleTarget, deps.Scheduler.HandleSchedule)
	mux.HandleFunc(queue.TaskDialTarget, deps.Contactor.HandleDial)
	mux.HandleFunc(queue.TaskMessageTarget, deps.Contactor.HandleMessage)
	mux.HandleFunc(queue.TaskPostContact, deps.Classifier.HandlePostContact)
	mux.HandleFunc(queue.TaskPromiseCheck, deps.Monitor.HandlePromiseCheck)
	mux.HandleFunc(queue.TaskRetrySweep, deps.Sweeper.HandleSweep)
	mux.HandleFunc(queue.TaskMessageRetry, deps.Sweeper.HandleMessageRetry)
	mux.HandleFunc(queue.TaskReconcile, deps.Reconciler.HandleReconcile)
	if deps.Archiver != nil {
		mux.HandleFunc(queue.TaskArchiveRecording, deps.Archiver.HandleArchive)
	}

	return &Worker{server: server, scheduler: scheduler, mux: mux, log: log}
}

// registerCron installs the periodic jobs: the nightly CRM pull, the
// stuck-message sweep and the hourly counter reconciliation.
func (w *Worker) registerCron() error {
	entries := []struct {
		spec string
		task *asynq.Task
		opts []asynq.Option
	}{
		{cronNightlySync, asynq.NewTask(queue.TaskNightlySync, nil), []asynq.Option{asynq.Queue(queue.QueueSync), asynq.Timeout(30 * time.Minute)}},
		{cronRetrySweep, asynq.NewTask(queue.TaskRetrySweep, nil), []asynq.Option{asynq.Queue(queue.QueueMaintenance)}},
		{cronReconcile, asynq.NewTask(queue.TaskReconcile, nil), []asynq.Option{asynq.Queue(queue.QueueMaintenance)}},
	}

	for _, entry := range entries {
		if _, err := w.scheduler.Register(entry.spec, entry.task, entry.opts...); err != nil {
			return fmt.Errorf("register cron %q for %s: %w", entry.spec, entry.task.Type(), err)
		}
	}
	return nil
}

// Run starts the scheduler and serves tasks until Shutdown.
func (w *Worker) Run() error {
	if err := w.registerCron(); err != nil {
		return err
	}
	if err := w.scheduler.Start(); err != nil {
		return fmt.Errorf("start cron scheduler: %w", err)
	}
	return w.server.Run(w.mux)
}

// Shutdown stops the scheduler and drains in-flight tasks.
func (w *Worker) Shutdown() {
	w.scheduler.Shutdown()
	w.server.Shutdown()
}

// retryDelay keeps rate-limited dials on a short randomized hold and
// leaves everything else on the default exponential backoff.
func retryDelay(n int, err error, task *asynq.Task) time.Duration {
	if errors.Is(err, ErrRateLimited) {
		return 5*time.Second + time.Duration(rand.Intn(5000))*time.Millisecond
	}
	return asynq.DefaultRetryDelayFunc(n, err, task)
}

// errorHandler logs every handler failure and alerts operators when a
// job has exhausted its broker retries and is about to be archived.
func errorHandler(mailer *alerts.Mailer, log *logger.Logger) func(ctx context.Context, task *asynq.Task, err error) {
	return func(ctx context.Context, task *asynq.Task, err error) {
		if errors.Is(err, ErrRateLimited) {
			return
		}

		retried, _ := asynq.GetRetryCount(ctx)
		maxRetry, _ := asynq.GetMaxRetry(ctx)
		taskID, _ := asynq.GetTaskID(ctx)

		log.Error("task failed",
			"type", task.Type(),
			"task_id", taskID,
			"retried", retried,
			"max_retry", maxRetry,
			"error", err.Error(),
		)

		if retried >= maxRetry {
			mailer.JobExhausted(ctx, task.Type(), taskID, err)
		}
	}
}

func syncHandler(sync *crmservice.SyncService) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		payload, err := queue.ParseCRMSyncPayload(task)
		if err != nil {
			return fmt.Errorf("parse crm-sync payload: %v: %w", err, asynq.SkipRetry)
		}
		campaignID, err := uuid.Parse(payload.CampaignID)
		if err != nil {
			return fmt.Errorf("bad campaign id %q: %v: %w", payload.CampaignID, err, asynq.SkipRetry)
		}
		return sync.SyncCampaign(ctx, campaignID)
	}
}

func ingestHandler(sync *crmservice.SyncService) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		payload, err := queue.ParseCampaignIngestPayload(task)
		if err != nil {
			return fmt.Errorf("parse ingest payload: %v: %w", err, asynq.SkipRetry)
		}
		campaignID, err := uuid.Parse(payload.CampaignID)
		if err != nil {
			return fmt.Errorf("bad campaign id %q: %v: %w", payload.CampaignID, err, asynq.SkipRetry)
		}
		return sync.IngestCampaign(ctx, campaignID, payload.Records)
	}
}

// asynqLogger adapts the structured logger to asynq's logging interface.
type asynqLogger struct {
	log *logger.Logger
}

func (l asynqLogger) Debug(args ...interface{}) { l.log.Debug(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...interface{})  { l.log.Info(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...interface{})  { l.log.Warn(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...interface{}) { l.log.Error(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...interface{}) { l.log.Error(fmt.Sprint(args...)) }
