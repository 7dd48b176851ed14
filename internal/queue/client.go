// Package queue wraps the asynq broker with typed enqueue operations for
// every pipeline stage. Stages receive a *Client (or a narrow interface over
// it) by injection and never touch a shared broker connection directly.
package queue

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"cobranca_backend/platform/config"
	"cobranca_backend/platform/logger"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// Client wraps an asynq client plus an inspector for job cancellation.
type Client struct {
	client    *asynq.Client
	inspector *asynq.Inspector
	log       *logger.Logger
}

// NewClient creates a broker client from the configured redis URL.
func NewClient(cfg config.BrokerConfig, log *logger.Logger) (*Client, error) {
	opt, err := RedisClientOpt(cfg)
	if err != nil {
		return nil, err
	}

	return &Client{
		client:    asynq.NewClient(opt),
		inspector: asynq.NewInspector(opt),
		log:       log,
	}, nil
}

// NewClientFromOpt creates a broker client from an explicit connection
// option. Used by tests.
func NewClientFromOpt(opt asynq.RedisClientOpt, log *logger.Logger) *Client {
	return &Client{
		client:    asynq.NewClient(opt),
		inspector: asynq.NewInspector(opt),
		log:       log,
	}
}

// RedisClientOpt parses the configured redis URL into an asynq connection option.
func RedisClientOpt(cfg config.BrokerConfig) (asynq.RedisClientOpt, error) {
	redisURL := cfg.GetRedisURL()
	if redisURL == "" {
		return asynq.RedisClientOpt{}, fmt.Errorf("redis url not configured")
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return asynq.RedisClientOpt{}, err
	}

	var tlsConfig *tls.Config
	if opt.TLSConfig != nil {
		clone := opt.TLSConfig.Clone()
		if cfg.GetRedisTLSInsecure() {
			clone.InsecureSkipVerify = true
		}
		tlsConfig = clone
	} else if cfg.GetRedisTLSInsecure() {
		tlsConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return asynq.RedisClientOpt{
		Addr:      opt.Addr,
		Password:  opt.Password,
		DB:        opt.DB,
		TLSConfig: tlsConfig,
	}, nil
}

// Close releases the underlying broker connections.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	err := c.client.Close()
	if c.inspector != nil {
		if ierr := c.inspector.Close(); err == nil {
			err = ierr
		}
	}
	return err
}

// enqueue submits a task, treating an identity conflict as a successful
// dedup rather than an error.
func (c *Client) enqueue(ctx context.Context, task *asynq.Task, opts ...asynq.Option) error {
	_, err := c.client.EnqueueContext(ctx, task, opts...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		c.log.Debug("duplicate job discarded", "type", task.Type())
		return nil
	}
	return err
}

// EnqueueCRMSync submits a sync run for one campaign.
func (c *Client) EnqueueCRMSync(ctx context.Context, payload CRMSyncPayload) error {
	task, err := newTask(TaskCRMSync, payload)
	if err != nil {
		return err
	}
	return c.enqueue(ctx, task, asynq.Queue(QueueSync), asynq.Timeout(10*time.Minute))
}

// EnqueueCampaignIngest submits a direct debtor-list ingest for one campaign.
func (c *Client) EnqueueCampaignIngest(ctx context.Context, payload CampaignIngestPayload) error {
	task, err := newTask(TaskCampaignIngest, payload)
	if err != nil {
		return err
	}
	return c.enqueue(ctx, task, asynq.Queue(QueueSync), asynq.Timeout(10*time.Minute))
}

// EnqueueSchedule submits a scheduling decision for one target attempt.
// A zero delay runs it immediately.
func (c *Client) EnqueueSchedule(ctx context.Context, payload ScheduleTargetPayload, delay time.Duration) error {
	task, err := newTask(TaskScheduleTarget, payload)
	if err != nil {
		return err
	}

	opts := []asynq.Option{
		asynq.Queue(QueueScheduling),
		asynq.TaskID(ScheduleTaskID(payload.TargetID, payload.AttemptNumber)),
	}
	if delay > 0 {
		opts = append(opts, asynq.ProcessIn(delay))
	}
	return c.enqueue(ctx, task, opts...)
}

// EnqueueDial submits a voice contact attempt.
func (c *Client) EnqueueDial(ctx context.Context, payload ContactPayload, delay time.Duration) error {
	task, err := newTask(TaskDialTarget, payload)
	if err != nil {
		return err
	}

	opts := []asynq.Option{
		asynq.Queue(QueueContact),
		asynq.TaskID(DialTaskID(payload.TargetID, payload.AttemptNumber)),
	}
	if delay > 0 {
		opts = append(opts, asynq.ProcessIn(delay))
	}
	return c.enqueue(ctx, task, opts...)
}

// EnqueueMessage submits a chat contact attempt.
func (c *Client) EnqueueMessage(ctx context.Context, payload ContactPayload, delay time.Duration) error {
	task, err := newTask(TaskMessageTarget, payload)
	if err != nil {
		return err
	}

	opts := []asynq.Option{
		asynq.Queue(QueueContact),
		asynq.TaskID(MessageTaskID(payload.TargetID, payload.AttemptNumber)),
	}
	if delay > 0 {
		opts = append(opts, asynq.ProcessIn(delay))
	}
	return c.enqueue(ctx, task, opts...)
}

// EnqueuePostContact submits a finished attempt for classification.
func (c *Client) EnqueuePostContact(ctx context.Context, payload PostContactPayload) error {
	task, err := newTask(TaskPostContact, payload)
	if err != nil {
		return err
	}
	return c.enqueue(ctx, task, asynq.Queue(QueuePostContact))
}

// SchedulePromiseCheck schedules a one-shot promise check at runAt.
func (c *Client) SchedulePromiseCheck(ctx context.Context, payload PromiseCheckPayload, runAt time.Time) error {
	task, err := newTask(TaskPromiseCheck, payload)
	if err != nil {
		return err
	}
	return c.enqueue(ctx, task,
		asynq.Queue(QueueMonitor),
		asynq.TaskID(PromiseCheckTaskID(payload.PromiseID, runAt)),
		asynq.ProcessAt(runAt),
	)
}

// CancelPromiseCheck removes the check scheduled for runAt before it
// fires. Used when a promise is resolved ahead of its due date. A missing
// task is not an error: the check may already have run.
func (c *Client) CancelPromiseCheck(ctx context.Context, promiseID string, runAt time.Time) error {
	err := c.inspector.DeleteTask(QueueMonitor, PromiseCheckTaskID(promiseID, runAt))
	if errors.Is(err, asynq.ErrTaskNotFound) || errors.Is(err, asynq.ErrQueueNotFound) {
		return nil
	}
	return err
}

// EnqueueMessageRetry re-drives a stuck message send. The identity is
// derived from (sendID, retryNumber) so concurrent sweeper runs cannot
// double-enqueue the same retry.
func (c *Client) EnqueueMessageRetry(ctx context.Context, payload MessageRetryPayload) error {
	task, err := newTask(TaskMessageRetry, payload)
	if err != nil {
		return err
	}
	return c.enqueue(ctx, task,
		asynq.Queue(QueueContact),
		asynq.TaskID(MessageRetryTaskID(payload.SendID, payload.RetryNumber)),
	)
}

// EnqueueArchiveRecording submits a recording for storage archival,
// deduped per attempt.
func (c *Client) EnqueueArchiveRecording(ctx context.Context, payload ArchiveRecordingPayload) error {
	task, err := newTask(TaskArchiveRecording, payload)
	if err != nil {
		return err
	}
	return c.enqueue(ctx, task,
		asynq.Queue(QueueMaintenance),
		asynq.TaskID(ArchiveRecordingTaskID(payload.AttemptID)),
	)
}
