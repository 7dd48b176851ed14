package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cobranca_backend/internal/campaigns/domain"
	"cobranca_backend/internal/campaigns/repository"
	"cobranca_backend/internal/featureflag"
	"cobranca_backend/internal/queue"
	"cobranca_backend/platform/config"
	"cobranca_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// SchedulingStore is the repository slice the scheduling stage needs.
type SchedulingStore interface {
	GetTargetByID(ctx context.Context, id uuid.UUID) (repository.Target, error)
	GetCampaignByID(ctx context.Context, id uuid.UUID) (repository.Campaign, error)
	SetTargetState(ctx context.Context, id uuid.UUID, state string) error
	FailTarget(ctx context.Context, id uuid.UUID, outcome, details string) error
}

// Scheduler gates one contact attempt per invocation: feature flag,
// terminal-state check, campaign status, attempt cap, business hours.
// It either defers the contact job to the next eligible window or hands
// off immediately.
type Scheduler struct {
	store       SchedulingStore
	flags       featureflag.Provider
	window      *domain.Window
	enq         Enqueuer
	maxAttempts int
	log         *logger.Logger

	// now is swappable for tests.
	now func() time.Time
}

func NewScheduler(store SchedulingStore, flags featureflag.Provider, window *domain.Window, enq Enqueuer, cfg config.PipelineConfig, log *logger.Logger) *Scheduler {
	return &Scheduler{
		store:       store,
		flags:       flags,
		window:      window,
		enq:         enq,
		maxAttempts: cfg.GetMaxAttempts(),
		log:         log.WithStage("scheduling"),
		now:         time.Now,
	}
}

// HandleSchedule is the asynq handler for scheduling jobs.
func (s *Scheduler) HandleSchedule(ctx context.Context, task *asynq.Task) error {
	payload, err := queue.ParseScheduleTargetPayload(task)
	if err != nil {
		return fmt.Errorf("parse schedule payload: %v: %w", err, asynq.SkipRetry)
	}
	return s.Process(ctx, payload)
}

// Process runs the gate checks in order. It is idempotent: re-running
// it for an already scheduled target re-derives the same decision, and
// the contact job's deterministic identity absorbs the duplicate.
func (s *Scheduler) Process(ctx context.Context, payload queue.ScheduleTargetPayload) error {
	targetID, err := uuid.Parse(payload.TargetID)
	if err != nil {
		return fmt.Errorf("bad target id %q: %v: %w", payload.TargetID, err, asynq.SkipRetry)
	}

	if !s.flags.IsEnabled(ctx, featureflag.KeyOutboundContact) {
		s.log.StageEvent("scheduling", "dropped_flag_disabled", payload.TargetID, payload.AttemptNumber)
		return nil
	}

	target, err := s.store.GetTargetByID(ctx, targetID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.log.StageEvent("scheduling", "dropped_target_missing", payload.TargetID, payload.AttemptNumber)
			return nil
		}
		return fmt.Errorf("load target %s: %w", payload.TargetID, err)
	}

	if domain.IsTerminal(domain.State(target.State)) {
		s.log.StageEvent("scheduling", "dropped_terminal", payload.TargetID, payload.AttemptNumber)
		return nil
	}

	campaign, err := s.store.GetCampaignByID(ctx, target.CampaignID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.log.StageEvent("scheduling", "dropped_campaign_missing", payload.TargetID, payload.AttemptNumber)
			return nil
		}
		return fmt.Errorf("load campaign %s: %w", target.CampaignID, err)
	}
	if campaign.Status == domain.CampaignPaused {
		// The target stays pending with its job dropped; resuming the
		// campaign re-issues scheduling for its pending targets.
		s.log.StageEvent("scheduling", "dropped_campaign_paused", payload.TargetID, payload.AttemptNumber)
		return nil
	}

	if target.AttemptCount >= s.maxAttempts {
		if err := s.store.FailTarget(ctx, targetID, domain.OutcomeMaxAttempts, ""); err != nil {
			return fmt.Errorf("fail target %s at attempt cap: %w", payload.TargetID, err)
		}
		s.log.StageEvent("scheduling", "failed_max_attempts", payload.TargetID, target.AttemptCount)
		return nil
	}

	contact := queue.ContactPayload{
		TargetID:        target.ID.String(),
		CampaignID:      target.CampaignID.String(),
		PhoneNumber:     target.PhoneNumber,
		DebtorName:      target.DebtorName,
		DebtorDocument:  target.DocumentValue,
		DebtAmountCents: target.DebtAmountCents,
		AttemptNumber:   payload.AttemptNumber,
	}

	now := s.now()
	if !s.window.Contains(now) {
		// Outside business hours the target stays pending and the contact
		// job is parked until the window opens. attemptCount is untouched.
		delay := s.window.Next(now).Sub(now)
		if err := s.enqueueContact(ctx, target.ContactChannel, contact, delay); err != nil {
			return err
		}
		s.log.StageEvent("scheduling", "deferred_outside_hours", payload.TargetID, payload.AttemptNumber)
		return nil
	}

	if err := s.store.SetTargetState(ctx, targetID, string(domain.StateScheduled)); err != nil {
		return fmt.Errorf("mark target %s scheduled: %w", payload.TargetID, err)
	}
	if err := s.enqueueContact(ctx, target.ContactChannel, contact, 0); err != nil {
		return err
	}
	s.log.StageEvent("scheduling", "handed_to_contact", payload.TargetID, payload.AttemptNumber)
	return nil
}

func (s *Scheduler) enqueueContact(ctx context.Context, channel string, payload queue.ContactPayload, delay time.Duration) error {
	if channel == domain.ChannelChat {
		return s.enq.EnqueueMessage(ctx, payload, delay)
	}
	return s.enq.EnqueueDial(ctx, payload, delay)
}
