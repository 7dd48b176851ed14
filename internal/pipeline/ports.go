// Package pipeline contains the worker stages that drive each target
// through the contact workflow: scheduling, contact, post-contact
// classification, promise monitoring and the retry sweeper.
package pipeline

import (
	"context"
	"errors"
	"time"

	"cobranca_backend/internal/dialer"
	"cobranca_backend/internal/messenger"
	"cobranca_backend/internal/queue"
)

// ErrRateLimited is returned by the contact stage when the per-minute
// dial budget is exhausted. The worker treats it as a deferral, not a
// failure: the job is re-driven after a short delay and never counts
// against the broker's retry budget.
var ErrRateLimited = errors.New("dial rate limit exhausted")

// Enqueuer is the broker surface the stages use. Every enqueue that can
// logically be re-issued carries a deterministic identity so the broker
// discards duplicates.
type Enqueuer interface {
	EnqueueSchedule(ctx context.Context, payload queue.ScheduleTargetPayload, delay time.Duration) error
	EnqueueDial(ctx context.Context, payload queue.ContactPayload, delay time.Duration) error
	EnqueueMessage(ctx context.Context, payload queue.ContactPayload, delay time.Duration) error
	EnqueuePostContact(ctx context.Context, payload queue.PostContactPayload) error
	SchedulePromiseCheck(ctx context.Context, payload queue.PromiseCheckPayload, runAt time.Time) error
	CancelPromiseCheck(ctx context.Context, promiseID string, runAt time.Time) error
	EnqueueMessageRetry(ctx context.Context, payload queue.MessageRetryPayload) error
	EnqueueArchiveRecording(ctx context.Context, payload queue.ArchiveRecordingPayload) error
}

// VoiceGateway places outbound calls.
type VoiceGateway interface {
	Configured() bool
	PlaceCall(ctx context.Context, request dialer.PlaceCallRequest) (string, error)
}

// ChatGateway delivers chat messages.
type ChatGateway interface {
	Configured() bool
	SendMessage(ctx context.Context, phoneNumber, message string) (messenger.SendResult, error)
}
