package pipeline

import (
	"context"
	"errors"
	"time"

	"cobranca_backend/internal/campaigns/repository"
	"cobranca_backend/internal/dialer"
	"cobranca_backend/internal/messenger"
	"cobranca_backend/internal/queue"
	"cobranca_backend/platform/logger"

	"github.com/google/uuid"
)

func testLogger() *logger.Logger {
	return logger.New("development")
}

type pipelineConfig struct {
	maxAttempts int
	retryDelay  time.Duration
	ratePerMin  int
	rateBurst   int
}

func (c pipelineConfig) GetMaxAttempts() int          { return c.maxAttempts }
func (c pipelineConfig) GetRetryDelay() time.Duration { return c.retryDelay }
func (c pipelineConfig) GetDialRatePerMinute() int    { return c.ratePerMin }
func (c pipelineConfig) GetDialRateBurst() int        { return c.rateBurst }

func defaultPipelineConfig() pipelineConfig {
	return pipelineConfig{maxAttempts: 3, retryDelay: 24 * time.Hour, ratePerMin: 600, rateBurst: 100}
}

// fakeRepo is an in-memory stand-in for the campaigns repository,
// implementing the store slices the stages consume.
type fakeRepo struct {
	campaigns  map[uuid.UUID]*repository.Campaign
	targets    map[uuid.UUID]*repository.Target
	attempts   map[uuid.UUID]*repository.Attempt
	promises   map[uuid.UUID]*repository.Promise
	sends      map[uuid.UUID]*repository.MessageSend
	recomputes int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		campaigns: map[uuid.UUID]*repository.Campaign{},
		targets:   map[uuid.UUID]*repository.Target{},
		attempts:  map[uuid.UUID]*repository.Attempt{},
		promises:  map[uuid.UUID]*repository.Promise{},
		sends:     map[uuid.UUID]*repository.MessageSend{},
	}
}

func (f *fakeRepo) addTarget(state string, attemptCount int) *repository.Target {
	campaign := &repository.Campaign{ID: uuid.New(), Status: "active"}
	f.campaigns[campaign.ID] = campaign
	t := &repository.Target{
		ID:              uuid.New(),
		CampaignID:      campaign.ID,
		DebtorName:      "Maria Souza",
		DocumentKind:    "CPF",
		DocumentValue:   "52998224725",
		PhoneNumber:     "+5511987654321",
		DebtAmountCents: 125000,
		ContactChannel:  "voice",
		State:           state,
		AttemptCount:    attemptCount,
	}
	f.targets[t.ID] = t
	return t
}

func (f *fakeRepo) GetCampaignByID(_ context.Context, id uuid.UUID) (repository.Campaign, error) {
	c, ok := f.campaigns[id]
	if !ok {
		return repository.Campaign{}, repository.ErrNotFound
	}
	return *c, nil
}

func (f *fakeRepo) GetTargetByID(_ context.Context, id uuid.UUID) (repository.Target, error) {
	t, ok := f.targets[id]
	if !ok {
		return repository.Target{}, repository.ErrNotFound
	}
	return *t, nil
}

func (f *fakeRepo) SetTargetState(_ context.Context, id uuid.UUID, state string) error {
	t, ok := f.targets[id]
	if !ok {
		return repository.ErrNotFound
	}
	t.State = state
	return nil
}

func (f *fakeRepo) StartAttempt(_ context.Context, id uuid.UUID, state string) (repository.Target, error) {
	t, ok := f.targets[id]
	if !ok {
		return repository.Target{}, repository.ErrNotFound
	}
	now := time.Now()
	t.State = state
	t.AttemptCount++
	t.LastAttemptAt = &now
	return *t, nil
}

func (f *fakeRepo) RevertTargetPending(_ context.Context, id uuid.UUID, nextAttemptAt *time.Time) error {
	t, ok := f.targets[id]
	if !ok {
		return repository.ErrNotFound
	}
	t.State = "pending"
	t.NextAttemptAt = nextAttemptAt
	return nil
}

func (f *fakeRepo) CompleteTarget(_ context.Context, id uuid.UUID, outcome, details string) error {
	return f.finish(id, "completed", outcome, details)
}

func (f *fakeRepo) FailTarget(_ context.Context, id uuid.UUID, outcome, details string) error {
	return f.finish(id, "failed", outcome, details)
}

func (f *fakeRepo) finish(id uuid.UUID, state, outcome, details string) error {
	t, ok := f.targets[id]
	if !ok {
		return repository.ErrNotFound
	}
	t.State = state
	t.Outcome = &outcome
	if details != "" {
		t.OutcomeDetails = &details
	}
	return nil
}

func (f *fakeRepo) AnnotateTargetOutcome(_ context.Context, id uuid.UUID, outcome, details string) error {
	t, ok := f.targets[id]
	if !ok {
		return repository.ErrNotFound
	}
	t.Outcome = &outcome
	if details != "" {
		t.OutcomeDetails = &details
	}
	return nil
}

func (f *fakeRepo) CreateAttempt(_ context.Context, targetID, campaignID uuid.UUID, attemptNumber int, channel string) (repository.Attempt, error) {
	a := &repository.Attempt{
		ID:            uuid.New(),
		TargetID:      targetID,
		CampaignID:    campaignID,
		AttemptNumber: attemptNumber,
		Channel:       channel,
		Status:        "queued",
	}
	f.attempts[a.ID] = a
	return *a, nil
}

func (f *fakeRepo) GetAttemptByID(_ context.Context, id uuid.UUID) (repository.Attempt, error) {
	a, ok := f.attempts[id]
	if !ok {
		return repository.Attempt{}, repository.ErrNotFound
	}
	return *a, nil
}

func (f *fakeRepo) MarkAttemptInProgress(_ context.Context, id uuid.UUID, gatewayRef string) error {
	a, ok := f.attempts[id]
	if !ok {
		return repository.ErrNotFound
	}
	a.Status = "in-progress"
	a.GatewayRef = &gatewayRef
	return nil
}

func (f *fakeRepo) MarkAttemptFailed(_ context.Context, id uuid.UUID) error {
	a, ok := f.attempts[id]
	if !ok {
		return repository.ErrNotFound
	}
	a.Status = "failed"
	return nil
}

func (f *fakeRepo) CompleteAttempt(_ context.Context, id uuid.UUID, params repository.CompleteAttemptParams) error {
	a, ok := f.attempts[id]
	if !ok {
		return repository.ErrNotFound
	}
	a.Status = "completed"
	duration := params.DurationSeconds
	a.DurationSeconds = &duration
	return nil
}

func (f *fakeRepo) SetAttemptRecordingKey(_ context.Context, id uuid.UUID, objectKey string) error {
	a, ok := f.attempts[id]
	if !ok {
		return repository.ErrNotFound
	}
	a.RecordingObjectKey = &objectKey
	return nil
}

func (f *fakeRepo) CreatePromise(_ context.Context, params repository.CreatePromiseParams) (repository.Promise, error) {
	p := &repository.Promise{
		ID:            uuid.New(),
		CampaignID:    params.CampaignID,
		TargetID:      params.TargetID,
		AttemptID:     params.AttemptID,
		AmountCents:   params.AmountCents,
		DueDate:       params.DueDate,
		PaymentMethod: params.PaymentMethod,
		Status:        "pending",
	}
	f.promises[p.ID] = p
	return *p, nil
}

func (f *fakeRepo) GetPromiseByID(_ context.Context, id uuid.UUID) (repository.Promise, error) {
	p, ok := f.promises[id]
	if !ok {
		return repository.Promise{}, repository.ErrNotFound
	}
	return *p, nil
}

func (f *fakeRepo) GetActivePromiseByTarget(_ context.Context, targetID uuid.UUID) (repository.Promise, error) {
	for _, p := range f.promises {
		if p.TargetID == targetID && p.Status == "pending" {
			return *p, nil
		}
	}
	return repository.Promise{}, repository.ErrNotFound
}

func (f *fakeRepo) UpdatePromiseStatus(_ context.Context, id uuid.UUID, status string) error {
	p, ok := f.promises[id]
	if !ok {
		return repository.ErrNotFound
	}
	p.Status = status
	return nil
}

func (f *fakeRepo) RecomputeCampaignCounters(_ context.Context, id uuid.UUID) (repository.Campaign, error) {
	f.recomputes++
	return repository.Campaign{ID: id}, nil
}

func (f *fakeRepo) ListCampaignIDs(_ context.Context) ([]uuid.UUID, error) {
	return nil, nil
}

func (f *fakeRepo) CreateMessageSend(_ context.Context, targetID, campaignID uuid.UUID, attemptID *uuid.UUID, phone, body string) (repository.MessageSend, error) {
	m := &repository.MessageSend{
		ID:          uuid.New(),
		TargetID:    targetID,
		CampaignID:  campaignID,
		AttemptID:   attemptID,
		PhoneNumber: phone,
		Body:        body,
		Status:      repository.MessageQueued,
	}
	f.sends[m.ID] = m
	return *m, nil
}

func (f *fakeRepo) GetMessageSendByID(_ context.Context, id uuid.UUID) (repository.MessageSend, error) {
	m, ok := f.sends[id]
	if !ok {
		return repository.MessageSend{}, repository.ErrNotFound
	}
	return *m, nil
}

func (f *fakeRepo) MarkMessageSent(_ context.Context, id uuid.UUID, gatewayRef string) error {
	m, ok := f.sends[id]
	if !ok {
		return repository.ErrNotFound
	}
	m.Status = repository.MessageSent
	m.GatewayRef = &gatewayRef
	return nil
}

func (f *fakeRepo) MarkMessageFailed(_ context.Context, id uuid.UUID, lastError string) error {
	m, ok := f.sends[id]
	if !ok {
		return repository.ErrNotFound
	}
	m.Status = repository.MessageFailed
	m.LastError = &lastError
	return nil
}

func (f *fakeRepo) RecordMessageSendError(_ context.Context, id uuid.UUID, lastError string) error {
	m, ok := f.sends[id]
	if !ok || m.Status != repository.MessageQueued {
		return repository.ErrNotFound
	}
	m.LastError = &lastError
	m.UpdatedAt = time.Now()
	return nil
}

func (f *fakeRepo) IncrementMessageRetry(_ context.Context, id uuid.UUID) (repository.MessageSend, error) {
	m, ok := f.sends[id]
	if !ok {
		return repository.MessageSend{}, repository.ErrNotFound
	}
	m.RetryCount++
	m.Status = repository.MessageQueued
	return *m, nil
}

func (f *fakeRepo) ListStuckMessageSends(_ context.Context, cutoff time.Time, retryCap, limit int) ([]repository.MessageSend, error) {
	var stuck []repository.MessageSend
	for _, m := range f.sends {
		if m.Status == repository.MessageQueued && m.UpdatedAt.Before(cutoff) && m.RetryCount < retryCap {
			stuck = append(stuck, *m)
		}
		if len(stuck) == limit {
			break
		}
	}
	return stuck, nil
}

// enqueueCall records one broker submission.
type enqueueCall struct {
	kind    string
	payload interface{}
	delay   time.Duration
	runAt   time.Time
}

// fakeEnqueuer records every enqueue in order. Promise checks model the
// broker's identity dedup: a second enqueue whose task ID is already
// held is discarded, mirroring how asynq treats ErrTaskIDConflict.
type fakeEnqueuer struct {
	calls      []enqueueCall
	promiseIDs map[string]bool
	dropped    int
}

// holdPromiseCheckID seats a task identity as the broker would while the
// corresponding check is pending or being processed.
func (f *fakeEnqueuer) holdPromiseCheckID(promiseID string, runAt time.Time) {
	if f.promiseIDs == nil {
		f.promiseIDs = map[string]bool{}
	}
	f.promiseIDs[queue.PromiseCheckTaskID(promiseID, runAt)] = true
}

func (f *fakeEnqueuer) EnqueueSchedule(_ context.Context, payload queue.ScheduleTargetPayload, delay time.Duration) error {
	f.calls = append(f.calls, enqueueCall{kind: "schedule", payload: payload, delay: delay})
	return nil
}

func (f *fakeEnqueuer) EnqueueDial(_ context.Context, payload queue.ContactPayload, delay time.Duration) error {
	f.calls = append(f.calls, enqueueCall{kind: "dial", payload: payload, delay: delay})
	return nil
}

func (f *fakeEnqueuer) EnqueueMessage(_ context.Context, payload queue.ContactPayload, delay time.Duration) error {
	f.calls = append(f.calls, enqueueCall{kind: "message", payload: payload, delay: delay})
	return nil
}

func (f *fakeEnqueuer) EnqueuePostContact(_ context.Context, payload queue.PostContactPayload) error {
	f.calls = append(f.calls, enqueueCall{kind: "postcontact", payload: payload})
	return nil
}

func (f *fakeEnqueuer) SchedulePromiseCheck(_ context.Context, payload queue.PromiseCheckPayload, runAt time.Time) error {
	id := queue.PromiseCheckTaskID(payload.PromiseID, runAt)
	if f.promiseIDs[id] {
		f.dropped++
		return nil
	}
	if f.promiseIDs == nil {
		f.promiseIDs = map[string]bool{}
	}
	f.promiseIDs[id] = true
	f.calls = append(f.calls, enqueueCall{kind: "promisecheck", payload: payload, runAt: runAt})
	return nil
}

func (f *fakeEnqueuer) CancelPromiseCheck(_ context.Context, promiseID string, runAt time.Time) error {
	delete(f.promiseIDs, queue.PromiseCheckTaskID(promiseID, runAt))
	f.calls = append(f.calls, enqueueCall{kind: "cancelcheck", payload: promiseID, runAt: runAt})
	return nil
}

func (f *fakeEnqueuer) EnqueueMessageRetry(_ context.Context, payload queue.MessageRetryPayload) error {
	f.calls = append(f.calls, enqueueCall{kind: "messageretry", payload: payload})
	return nil
}

func (f *fakeEnqueuer) EnqueueArchiveRecording(_ context.Context, payload queue.ArchiveRecordingPayload) error {
	f.calls = append(f.calls, enqueueCall{kind: "archive", payload: payload})
	return nil
}

func (f *fakeEnqueuer) byKind(kind string) []enqueueCall {
	var out []enqueueCall
	for _, call := range f.calls {
		if call.kind == kind {
			out = append(out, call)
		}
	}
	return out
}

// fakeFlags is a fixed flag provider.
type fakeFlags struct {
	enabled bool
}

func (f fakeFlags) IsEnabled(context.Context, string) bool { return f.enabled }

// fakeVoice is a scriptable voice gateway.
type fakeVoice struct {
	configured bool
	callID     string
	err        error
	calls      int
}

func (f *fakeVoice) Configured() bool { return f.configured }

func (f *fakeVoice) PlaceCall(_ context.Context, _ dialer.PlaceCallRequest) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.callID, nil
}

// fakeChat is a scriptable chat gateway.
type fakeChat struct {
	configured bool
	result     messenger.SendResult
	err        error
	calls      int
}

func (f *fakeChat) Configured() bool { return f.configured }

func (f *fakeChat) SendMessage(_ context.Context, _, _ string) (messenger.SendResult, error) {
	f.calls++
	if f.err != nil {
		return messenger.SendResult{}, f.err
	}
	return f.result, nil
}

var errGatewayDown = errors.New("gateway unavailable")
