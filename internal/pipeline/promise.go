package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cobranca_backend/internal/campaigns/domain"
	"cobranca_backend/internal/campaigns/repository"
	"cobranca_backend/internal/queue"
	"cobranca_backend/platform/logger"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

// promiseGrace is the observation period after the due date before a
// pending promise is declared broken.
const promiseGrace = 7 * 24 * time.Hour

// PromiseStore is the repository slice the monitor needs.
type PromiseStore interface {
	GetPromiseByID(ctx context.Context, id uuid.UUID) (repository.Promise, error)
	UpdatePromiseStatus(ctx context.Context, id uuid.UUID, status string) error
	AnnotateTargetOutcome(ctx context.Context, id uuid.UUID, outcome, details string) error
	RecomputeCampaignCounters(ctx context.Context, id uuid.UUID) (repository.Campaign, error)
}

// Monitor runs the one-shot due-date check for a promise.
type Monitor struct {
	store PromiseStore
	enq   Enqueuer
	log   *logger.Logger

	now func() time.Time
}

func NewMonitor(store PromiseStore, enq Enqueuer, log *logger.Logger) *Monitor {
	return &Monitor{
		store: store,
		enq:   enq,
		log:   log.WithStage("promise_monitor"),
		now:   time.Now,
	}
}

// HandlePromiseCheck is the asynq handler for promise check jobs.
func (m *Monitor) HandlePromiseCheck(ctx context.Context, task *asynq.Task) error {
	payload, err := queue.ParsePromiseCheckPayload(task)
	if err != nil {
		return fmt.Errorf("parse promise-check payload: %v: %w", err, asynq.SkipRetry)
	}
	return m.Process(ctx, payload)
}

// Process applies the due-date rules: fulfilled or already broken means
// no-op; at or before the grace deadline the check re-arms itself for
// the end of the grace period; past the deadline the promise breaks and
// the owning target is annotated.
func (m *Monitor) Process(ctx context.Context, payload queue.PromiseCheckPayload) error {
	promiseID, err := uuid.Parse(payload.PromiseID)
	if err != nil {
		return fmt.Errorf("bad promise id %q: %v: %w", payload.PromiseID, err, asynq.SkipRetry)
	}

	promise, err := m.store.GetPromiseByID(ctx, promiseID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			m.log.Info("promise check dropped, promise missing", "promise_id", payload.PromiseID)
			return nil
		}
		return fmt.Errorf("load promise %s: %w", payload.PromiseID, err)
	}

	if promise.Status != domain.PromisePending {
		m.log.Info("promise check no-op", "promise_id", payload.PromiseID, "status", promise.Status)
		return nil
	}

	now := m.now()
	deadline := promise.DueDate.Add(promiseGrace)

	if !now.After(deadline) {
		// Not yet past the grace deadline: either an early fire or the
		// due-date check finding the promise still open. Re-arm at the
		// deadline. The check identity includes the fire time, so the
		// re-arm never collides with the ID the broker still holds for
		// the check being processed.
		if err := m.enq.SchedulePromiseCheck(ctx, payload, deadline); err != nil {
			return fmt.Errorf("re-arm promise check: %w", err)
		}
		m.log.Info("promise under observation", "promise_id", payload.PromiseID, "deadline", deadline)
		return nil
	}

	if err := m.store.UpdatePromiseStatus(ctx, promise.ID, domain.PromiseBroken); err != nil {
		return fmt.Errorf("mark promise broken: %w", err)
	}
	if err := m.store.AnnotateTargetOutcome(ctx, promise.TargetID, domain.OutcomePromiseBroken, ""); err != nil {
		return fmt.Errorf("annotate target outcome: %w", err)
	}
	if _, err := m.store.RecomputeCampaignCounters(ctx, promise.CampaignID); err != nil {
		return fmt.Errorf("recompute campaign counters: %w", err)
	}

	m.log.Info("promise broken", "promise_id", payload.PromiseID, "target_id", promise.TargetID.String())
	return nil
}

// Fulfill marks a promise paid and cancels its pending check. Called
// from the admin surface when payment is confirmed.
func (m *Monitor) Fulfill(ctx context.Context, promiseID uuid.UUID) error {
	promise, err := m.store.GetPromiseByID(ctx, promiseID)
	if err != nil {
		return err
	}
	if promise.Status != domain.PromisePending {
		return nil
	}

	if err := m.store.UpdatePromiseStatus(ctx, promise.ID, domain.PromiseFulfilled); err != nil {
		return err
	}
	// Checks are only ever scheduled at the due date and at the grace
	// deadline; cancel whichever of the two is still pending.
	for _, runAt := range []time.Time{promise.DueDate, promise.DueDate.Add(promiseGrace)} {
		if err := m.enq.CancelPromiseCheck(ctx, promise.ID.String(), runAt); err != nil {
			m.log.Error("cancel promise check failed", "promise_id", promise.ID.String(), "error", err.Error())
		}
	}
	if _, err := m.store.RecomputeCampaignCounters(ctx, promise.CampaignID); err != nil {
		return err
	}
	return nil
}
