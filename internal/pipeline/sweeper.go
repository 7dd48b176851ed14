package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cobranca_backend/internal/campaigns/repository"
	"cobranca_backend/internal/queue"
	"cobranca_backend/platform/config"
	"cobranca_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// SweeperStore is the repository slice the retry sweeper needs.
type SweeperStore interface {
	ListStuckMessageSends(ctx context.Context, cutoff time.Time, retryCap, limit int) ([]repository.MessageSend, error)
	IncrementMessageRetry(ctx context.Context, id uuid.UUID) (repository.MessageSend, error)
	GetMessageSendByID(ctx context.Context, id uuid.UUID) (repository.MessageSend, error)
	MarkMessageSent(ctx context.Context, id uuid.UUID, gatewayRef string) error
	MarkMessageFailed(ctx context.Context, id uuid.UUID, lastError string) error
	RecordMessageSendError(ctx context.Context, id uuid.UUID, lastError string) error
}

// Sweeper re-injects message sends stuck in the queued state. Each
// retry job's identity is derived from (sendId, retryNumber), so
// overlapping sweeps and worker restarts cannot double-enqueue.
type Sweeper struct {
	store     SweeperStore
	chat      ChatGateway
	enq       Enqueuer
	threshold time.Duration
	retryCap  int
	batchCap  int
	log       *logger.Logger

	now func() time.Time
}

func NewSweeper(store SweeperStore, chat ChatGateway, enq Enqueuer, cfg config.SweeperConfig, log *logger.Logger) *Sweeper {
	return &Sweeper{
		store:     store,
		chat:      chat,
		enq:       enq,
		threshold: cfg.GetSweepStuckThreshold(),
		retryCap:  cfg.GetSweepRetryCap(),
		batchCap:  cfg.GetSweepBatchCap(),
		log:       log.WithStage("sweeper"),
		now:       time.Now,
	}
}

// HandleSweep is the asynq handler for the periodic sweep job.
func (s *Sweeper) HandleSweep(ctx context.Context, _ *asynq.Task) error {
	return s.Sweep(ctx)
}

// Sweep scans for stuck sends and enqueues bounded retries. The batch
// cap keeps a post-outage backlog from flooding the contact queue in
// one pass; the next sweep picks up the remainder.
func (s *Sweeper) Sweep(ctx context.Context) error {
	cutoff := s.now().Add(-s.threshold)
	stuck, err := s.store.ListStuckMessageSends(ctx, cutoff, s.retryCap, s.batchCap)
	if err != nil {
		return fmt.Errorf("list stuck message sends: %w", err)
	}
	if len(stuck) == 0 {
		return nil
	}

	enqueued := 0
	for _, send := range stuck {
		updated, err := s.store.IncrementMessageRetry(ctx, send.ID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				continue
			}
			s.log.DatabaseError("increment_message_retry", err)
			continue
		}

		payload := queue.MessageRetryPayload{
			SendID:      updated.ID.String(),
			TargetID:    updated.TargetID.String(),
			CampaignID:  updated.CampaignID.String(),
			PhoneNumber: updated.PhoneNumber,
			Body:        updated.Body,
			RetryNumber: updated.RetryCount,
		}
		if err := s.enq.EnqueueMessageRetry(ctx, payload); err != nil {
			s.log.Error("enqueue message retry failed", "send_id", payload.SendID, "error", err.Error())
			continue
		}
		enqueued++
	}

	s.log.Info("sweep finished", "stuck", len(stuck), "enqueued", enqueued)
	return nil
}

// HandleMessageRetry is the asynq handler for one re-driven send.
func (s *Sweeper) HandleMessageRetry(ctx context.Context, task *asynq.Task) error {
	payload, err := queue.ParseMessageRetryPayload(task)
	if err != nil {
		return fmt.Errorf("parse message-retry payload: %v: %w", err, asynq.SkipRetry)
	}
	return s.Retry(ctx, payload)
}

// Retry re-sends one stuck message. A send that moved on (sent or
// failed) since the sweep is a no-op.
func (s *Sweeper) Retry(ctx context.Context, payload queue.MessageRetryPayload) error {
	sendID, err := uuid.Parse(payload.SendID)
	if err != nil {
		return fmt.Errorf("bad send id %q: %v: %w", payload.SendID, err, asynq.SkipRetry)
	}

	send, err := s.store.GetMessageSendByID(ctx, sendID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("load message send %s: %w", payload.SendID, err)
	}
	if send.Status != repository.MessageQueued {
		return nil
	}

	if s.chat == nil || !s.chat.Configured() {
		return fmt.Errorf("chat gateway not configured: %w", asynq.SkipRetry)
	}

	result, err := s.chat.SendMessage(ctx, send.PhoneNumber, send.Body)
	if err != nil || !result.Accepted {
		reason := "gateway declined message"
		if err != nil {
			reason = err.Error()
			s.log.GatewayError("chat", "retry_send", err)
		}
		// The sweep only revisits queued sends, so the record stays
		// queued while budget remains and goes failed only once the
		// cap is reached.
		if send.RetryCount >= s.retryCap {
			if mErr := s.store.MarkMessageFailed(ctx, send.ID, reason); mErr != nil {
				s.log.DatabaseError("mark_message_failed", mErr)
			}
			return nil
		}
		if mErr := s.store.RecordMessageSendError(ctx, send.ID, reason); mErr != nil {
			s.log.DatabaseError("record_message_send_error", mErr)
		}
		return nil
	}

	if err := s.store.MarkMessageSent(ctx, send.ID, result.MessageID); err != nil {
		return fmt.Errorf("mark message sent: %w", err)
	}
	s.log.Info("stuck message re-sent", "send_id", payload.SendID, "retry", payload.RetryNumber)
	return nil
}
