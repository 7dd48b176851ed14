package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cobranca_backend/internal/campaigns/domain"
	"cobranca_backend/internal/campaigns/repository"
	"cobranca_backend/internal/queue"
	"cobranca_backend/platform/config"
	"cobranca_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// Conversation outcome types reported by the voice channel.
const (
	outcomePromise = "promise"
	outcomeRefusal = "refusal"
)

// PostContactStore is the repository slice classification needs.
type PostContactStore interface {
	GetAttemptByID(ctx context.Context, id uuid.UUID) (repository.Attempt, error)
	GetTargetByID(ctx context.Context, id uuid.UUID) (repository.Target, error)
	RevertTargetPending(ctx context.Context, id uuid.UUID, nextAttemptAt *time.Time) error
	CompleteTarget(ctx context.Context, id uuid.UUID, outcome, details string) error
	FailTarget(ctx context.Context, id uuid.UUID, outcome, details string) error
	CreatePromise(ctx context.Context, params repository.CreatePromiseParams) (repository.Promise, error)
	GetActivePromiseByTarget(ctx context.Context, targetID uuid.UUID) (repository.Promise, error)
	RecomputeCampaignCounters(ctx context.Context, id uuid.UUID) (repository.Campaign, error)
}

// Classifier turns a finished attempt into a target decision: finalize,
// schedule a promise check, or revert for another attempt. All retry
// logic for contact attempts lives here.
type Classifier struct {
	store       PostContactStore
	enq         Enqueuer
	maxAttempts int
	retryDelay  time.Duration
	log         *logger.Logger

	now func() time.Time
}

func NewClassifier(store PostContactStore, enq Enqueuer, cfg config.PipelineConfig, log *logger.Logger) *Classifier {
	return &Classifier{
		store:       store,
		enq:         enq,
		maxAttempts: cfg.GetMaxAttempts(),
		retryDelay:  cfg.GetRetryDelay(),
		log:         log.WithStage("postcontact"),
		now:         time.Now,
	}
}

// HandlePostContact is the asynq handler for classification jobs.
func (c *Classifier) HandlePostContact(ctx context.Context, task *asynq.Task) error {
	payload, err := queue.ParsePostContactPayload(task)
	if err != nil {
		return fmt.Errorf("parse post-contact payload: %v: %w", err, asynq.SkipRetry)
	}
	return c.Process(ctx, payload)
}

func (c *Classifier) Process(ctx context.Context, payload queue.PostContactPayload) error {
	attemptID, err := uuid.Parse(payload.AttemptID)
	if err != nil {
		return fmt.Errorf("bad attempt id %q: %v: %w", payload.AttemptID, err, asynq.SkipRetry)
	}

	attempt, err := c.store.GetAttemptByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.log.StageEvent("postcontact", "dropped_attempt_missing", payload.TargetID, 0)
			return nil
		}
		return fmt.Errorf("load attempt %s: %w", payload.AttemptID, err)
	}

	target, err := c.store.GetTargetByID(ctx, attempt.TargetID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.log.StageEvent("postcontact", "dropped_target_missing", payload.TargetID, 0)
			return nil
		}
		return fmt.Errorf("load target: %w", err)
	}

	// An already finalized target means this classification was re-driven
	// after a broker retry. Nothing left to decide.
	if domain.IsTerminal(domain.State(target.State)) {
		c.log.StageEvent("postcontact", "dropped_terminal", target.ID.String(), target.AttemptCount)
		return nil
	}

	if err := c.classify(ctx, target, attempt, payload); err != nil {
		return err
	}

	if _, err := c.store.RecomputeCampaignCounters(ctx, target.CampaignID); err != nil {
		return fmt.Errorf("recompute campaign counters: %w", err)
	}
	return nil
}

func (c *Classifier) classify(ctx context.Context, target repository.Target, attempt repository.Attempt, payload queue.PostContactPayload) error {
	outcome := payload.Outcome

	switch {
	case outcome != nil && outcome.Type == outcomePromise:
		return c.promiseMade(ctx, target, attempt, outcome)

	case outcome != nil && outcome.Type == outcomeRefusal:
		if err := c.store.CompleteTarget(ctx, target.ID, domain.OutcomeRefused, ""); err != nil {
			return fmt.Errorf("complete target refused: %w", err)
		}
		c.log.StageEvent("postcontact", "refused", target.ID.String(), target.AttemptCount)
		return nil

	case attempt.Channel == domain.ChannelChat && payload.AttemptStatus == domain.AttemptCompleted:
		// Chat has no conversation to interpret: a delivered message is
		// the channel's success.
		if err := c.store.CompleteTarget(ctx, target.ID, domain.OutcomeMessageSent, ""); err != nil {
			return fmt.Errorf("complete target message sent: %w", err)
		}
		c.log.StageEvent("postcontact", "message_delivered", target.ID.String(), target.AttemptCount)
		return nil

	default:
		return c.inconclusive(ctx, target)
	}
}

func (c *Classifier) promiseMade(ctx context.Context, target repository.Target, attempt repository.Attempt, outcome *queue.ConversationOutcome) error {
	dueDate, err := time.Parse("2006-01-02", outcome.DueDate)
	if err != nil {
		c.log.Error("promise outcome has invalid due date, treating as inconclusive",
			"target_id", target.ID.String(), "due_date", outcome.DueDate)
		return c.inconclusive(ctx, target)
	}

	promise, err := c.store.GetActivePromiseByTarget(ctx, target.ID)
	if errors.Is(err, repository.ErrNotFound) {
		promise, err = c.store.CreatePromise(ctx, repository.CreatePromiseParams{
			CampaignID:    target.CampaignID,
			TargetID:      target.ID,
			AttemptID:     attempt.ID,
			AmountCents:   outcome.AmountCents,
			DueDate:       dueDate,
			PaymentMethod: outcome.PaymentMethod,
		})
	}
	if err != nil {
		return fmt.Errorf("ensure promise: %w", err)
	}

	if err := c.store.CompleteTarget(ctx, target.ID, domain.OutcomePromiseMade, ""); err != nil {
		return fmt.Errorf("complete target promise made: %w", err)
	}

	if err := c.enq.SchedulePromiseCheck(ctx, queue.PromiseCheckPayload{
		PromiseID:  promise.ID.String(),
		TargetID:   target.ID.String(),
		CampaignID: target.CampaignID.String(),
		DueDate:    promise.DueDate,
	}, promise.DueDate); err != nil {
		return fmt.Errorf("schedule promise check: %w", err)
	}

	c.log.StageEvent("postcontact", "promise_made", target.ID.String(), target.AttemptCount)
	return nil
}

// inconclusive reverts the target for another attempt if the budget
// allows, otherwise fails it.
func (c *Classifier) inconclusive(ctx context.Context, target repository.Target) error {
	if target.AttemptCount >= c.maxAttempts {
		if err := c.store.FailTarget(ctx, target.ID, domain.OutcomeNoAnswer, ""); err != nil {
			return fmt.Errorf("fail target no answer: %w", err)
		}
		c.log.StageEvent("postcontact", "failed_no_answer", target.ID.String(), target.AttemptCount)
		return nil
	}

	next := c.now().Add(c.retryDelay)
	if err := c.store.RevertTargetPending(ctx, target.ID, &next); err != nil {
		return fmt.Errorf("revert target pending: %w", err)
	}
	if err := c.enq.EnqueueSchedule(ctx, queue.ScheduleTargetPayload{
		TargetID:      target.ID.String(),
		CampaignID:    target.CampaignID.String(),
		AttemptNumber: target.AttemptCount + 1,
	}, c.retryDelay); err != nil {
		return fmt.Errorf("re-enqueue scheduling: %w", err)
	}
	c.log.StageEvent("postcontact", "retry_scheduled", target.ID.String(), target.AttemptCount)
	return nil
}
