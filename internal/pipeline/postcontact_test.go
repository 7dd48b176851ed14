package pipeline

import (
	"context"
	"testing"
	"time"

	"cobranca_backend/internal/campaigns/domain"
	"cobranca_backend/internal/campaigns/repository"
	"cobranca_backend/internal/queue"

	"github.com/google/uuid"
)

func newTestClassifier(repo *fakeRepo, enq *fakeEnqueuer, at time.Time) *Classifier {
	c := NewClassifier(repo, enq, defaultPipelineConfig(), testLogger())
	c.now = func() time.Time { return at }
	return c
}

func addAttemptFor(repo *fakeRepo, target *repository.Target, number int, channel, status string) *repository.Attempt {
	a := &repository.Attempt{
		ID:            uuid.New(),
		TargetID:      target.ID,
		CampaignID:    target.CampaignID,
		AttemptNumber: number,
		Channel:       channel,
		Status:        status,
	}
	repo.attempts[a.ID] = a
	return a
}

func TestPostContactPromiseMade(t *testing.T) {
	repo := newFakeRepo()
	enq := &fakeEnqueuer{}
	now := time.Date(2026, 9, 2, 11, 0, 0, 0, time.UTC)
	c := newTestClassifier(repo, enq, now)

	target := repo.addTarget("calling", 1)
	attempt := addAttemptFor(repo, target, 1, "voice", "completed")

	err := c.Process(context.Background(), queue.PostContactPayload{
		AttemptID:     attempt.ID.String(),
		TargetID:      target.ID.String(),
		AttemptStatus: "completed",
		Outcome: &queue.ConversationOutcome{
			Type:          "promise",
			AmountCents:   5000,
			DueDate:       "2026-09-09",
			PaymentMethod: "pix",
		},
	})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if len(repo.promises) != 1 {
		t.Fatalf("got %d promises, want 1", len(repo.promises))
	}
	var promiseID string
	for _, p := range repo.promises {
		promiseID = p.ID.String()
		if p.Status != "pending" || p.AmountCents != 5000 || p.PaymentMethod != "pix" {
			t.Errorf("promise = %+v", p)
		}
		if p.DueDate.Format("2006-01-02") != "2026-09-09" {
			t.Errorf("due date = %v", p.DueDate)
		}
	}

	got := repo.targets[target.ID]
	if got.State != "completed" || got.Outcome == nil || *got.Outcome != domain.OutcomePromiseMade {
		t.Errorf("target state=%q outcome=%v", got.State, got.Outcome)
	}

	checks := enq.byKind("promisecheck")
	if len(checks) != 1 {
		t.Fatalf("got %d promise checks scheduled, want 1", len(checks))
	}
	if checks[0].runAt.Format("2006-01-02") != "2026-09-09" {
		t.Errorf("check scheduled at %v, want due date", checks[0].runAt)
	}
	if payload := checks[0].payload.(queue.PromiseCheckPayload); payload.PromiseID != promiseID {
		t.Errorf("check payload promise = %s, want %s", payload.PromiseID, promiseID)
	}

	if repo.recomputes != 1 {
		t.Errorf("counter recomputes = %d, want 1", repo.recomputes)
	}
}

func TestPostContactPromiseReusesActivePromise(t *testing.T) {
	repo := newFakeRepo()
	enq := &fakeEnqueuer{}
	c := newTestClassifier(repo, enq, time.Now())

	target := repo.addTarget("calling", 1)
	attempt := addAttemptFor(repo, target, 1, "voice", "completed")

	existing, _ := repo.CreatePromise(context.Background(), repository.CreatePromiseParams{
		CampaignID:  target.CampaignID,
		TargetID:    target.ID,
		AttemptID:   attempt.ID,
		AmountCents: 9000,
		DueDate:     time.Date(2026, 9, 20, 0, 0, 0, 0, time.UTC),
	})

	err := c.Process(context.Background(), queue.PostContactPayload{
		AttemptID:     attempt.ID.String(),
		AttemptStatus: "completed",
		Outcome:       &queue.ConversationOutcome{Type: "promise", AmountCents: 5000, DueDate: "2026-09-09"},
	})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	if len(repo.promises) != 1 {
		t.Fatalf("got %d promises, want 1 (at most one active per target)", len(repo.promises))
	}
	checks := enq.byKind("promisecheck")
	if len(checks) != 1 || checks[0].payload.(queue.PromiseCheckPayload).PromiseID != existing.ID.String() {
		t.Errorf("check not scheduled for the existing promise: %+v", checks)
	}
}

func TestPostContactRefused(t *testing.T) {
	repo := newFakeRepo()
	enq := &fakeEnqueuer{}
	c := newTestClassifier(repo, enq, time.Now())

	target := repo.addTarget("calling", 1)
	attempt := addAttemptFor(repo, target, 1, "voice", "completed")

	err := c.Process(context.Background(), queue.PostContactPayload{
		AttemptID:     attempt.ID.String(),
		AttemptStatus: "completed",
		Outcome:       &queue.ConversationOutcome{Type: "refusal"},
	})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	got := repo.targets[target.ID]
	if got.State != "completed" || got.Outcome == nil || *got.Outcome != domain.OutcomeRefused {
		t.Errorf("target state=%q outcome=%v, want completed/refused", got.State, got.Outcome)
	}
	if len(enq.byKind("schedule")) != 0 {
		t.Error("refused target re-enqueued for scheduling")
	}
}

func TestPostContactInconclusiveWithAttemptsRemaining(t *testing.T) {
	repo := newFakeRepo()
	enq := &fakeEnqueuer{}
	now := time.Date(2026, 9, 2, 11, 0, 0, 0, time.UTC)
	c := newTestClassifier(repo, enq, now)

	target := repo.addTarget("calling", 2)
	attempt := addAttemptFor(repo, target, 2, "voice", "completed")

	err := c.Process(context.Background(), queue.PostContactPayload{
		AttemptID:     attempt.ID.String(),
		AttemptStatus: "completed",
	})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	got := repo.targets[target.ID]
	if got.State != "pending" {
		t.Errorf("state = %q, want pending", got.State)
	}
	if got.NextAttemptAt == nil || !got.NextAttemptAt.Equal(now.Add(24*time.Hour)) {
		t.Errorf("nextAttemptAt = %v, want now+24h", got.NextAttemptAt)
	}

	schedules := enq.byKind("schedule")
	if len(schedules) != 1 {
		t.Fatalf("got %d schedule enqueues, want 1", len(schedules))
	}
	payload := schedules[0].payload.(queue.ScheduleTargetPayload)
	if payload.AttemptNumber != 3 {
		t.Errorf("next attempt number = %d, want 3", payload.AttemptNumber)
	}
	if schedules[0].delay != 24*time.Hour {
		t.Errorf("schedule delay = %v, want 24h", schedules[0].delay)
	}
}

func TestPostContactInconclusiveAttemptsExhausted(t *testing.T) {
	repo := newFakeRepo()
	enq := &fakeEnqueuer{}
	c := newTestClassifier(repo, enq, time.Now())

	target := repo.addTarget("calling", 3)
	attempt := addAttemptFor(repo, target, 3, "voice", "failed")

	err := c.Process(context.Background(), queue.PostContactPayload{
		AttemptID:     attempt.ID.String(),
		AttemptStatus: "failed",
	})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	got := repo.targets[target.ID]
	if got.State != "failed" || got.Outcome == nil || *got.Outcome != domain.OutcomeNoAnswer {
		t.Errorf("target state=%q outcome=%v, want failed/no_answer", got.State, got.Outcome)
	}
	if len(enq.byKind("schedule")) != 0 {
		t.Error("exhausted target re-enqueued for scheduling")
	}
}

func TestPostContactChatDeliveryCompletesTarget(t *testing.T) {
	repo := newFakeRepo()
	enq := &fakeEnqueuer{}
	c := newTestClassifier(repo, enq, time.Now())

	target := repo.addTarget("contacted", 1)
	attempt := addAttemptFor(repo, target, 1, "chat", "completed")

	err := c.Process(context.Background(), queue.PostContactPayload{
		AttemptID:     attempt.ID.String(),
		AttemptStatus: "completed",
	})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	got := repo.targets[target.ID]
	if got.State != "completed" || got.Outcome == nil || *got.Outcome != domain.OutcomeMessageSent {
		t.Errorf("target state=%q outcome=%v, want completed/message_sent", got.State, got.Outcome)
	}
}

func TestPostContactTerminalTargetNoOp(t *testing.T) {
	repo := newFakeRepo()
	enq := &fakeEnqueuer{}
	c := newTestClassifier(repo, enq, time.Now())

	target := repo.addTarget("completed", 1)
	attempt := addAttemptFor(repo, target, 1, "voice", "completed")

	err := c.Process(context.Background(), queue.PostContactPayload{
		AttemptID:     attempt.ID.String(),
		AttemptStatus: "completed",
		Outcome:       &queue.ConversationOutcome{Type: "refusal"},
	})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(enq.calls) != 0 || repo.recomputes != 0 {
		t.Error("re-driven classification mutated a finalized target")
	}
}
