package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cobranca_backend/internal/campaigns/domain"
	"cobranca_backend/internal/campaigns/repository"
	"cobranca_backend/internal/dialer"
	"cobranca_backend/internal/queue"
	"cobranca_backend/platform/config"
	"cobranca_backend/platform/logger"
	"cobranca_backend/platform/money"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"golang.org/x/time/rate"
)

// ContactStore is the repository slice the contact stage needs.
type ContactStore interface {
	GetTargetByID(ctx context.Context, id uuid.UUID) (repository.Target, error)
	StartAttempt(ctx context.Context, id uuid.UUID, state string) (repository.Target, error)
	RevertTargetPending(ctx context.Context, id uuid.UUID, nextAttemptAt *time.Time) error
	CreateAttempt(ctx context.Context, targetID, campaignID uuid.UUID, attemptNumber int, channel string) (repository.Attempt, error)
	MarkAttemptInProgress(ctx context.Context, id uuid.UUID, gatewayRef string) error
	MarkAttemptFailed(ctx context.Context, id uuid.UUID) error
	CompleteAttempt(ctx context.Context, id uuid.UUID, params repository.CompleteAttemptParams) error
	CreateMessageSend(ctx context.Context, targetID, campaignID uuid.UUID, attemptID *uuid.UUID, phone, body string) (repository.MessageSend, error)
	MarkMessageSent(ctx context.Context, id uuid.UUID, gatewayRef string) error
	MarkMessageFailed(ctx context.Context, id uuid.UUID, lastError string) error
}

// Contactor performs the outbound attempt against the external gateway.
// It never decides retry vs. terminate: every result, success or
// failure, flows into the post-contact stage.
type Contactor struct {
	store      ContactStore
	voice      VoiceGateway
	chat       ChatGateway
	enq        Enqueuer
	limiter    *rate.Limiter
	retryDelay time.Duration
	log        *logger.Logger
}

func NewContactor(store ContactStore, voice VoiceGateway, chat ChatGateway, enq Enqueuer, cfg config.PipelineConfig, log *logger.Logger) *Contactor {
	perMinute := cfg.GetDialRatePerMinute()
	if perMinute < 1 {
		perMinute = 1
	}
	burst := cfg.GetDialRateBurst()
	if burst < 1 {
		burst = 1
	}

	return &Contactor{
		store:      store,
		voice:      voice,
		chat:       chat,
		enq:        enq,
		limiter:    rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), burst),
		retryDelay: cfg.GetRetryDelay(),
		log:        log.WithStage("contact"),
	}
}

// HandleDial is the asynq handler for voice contact jobs.
func (c *Contactor) HandleDial(ctx context.Context, task *asynq.Task) error {
	payload, err := queue.ParseContactPayload(task)
	if err != nil {
		return fmt.Errorf("parse contact payload: %v: %w", err, asynq.SkipRetry)
	}
	return c.Dial(ctx, payload)
}

// HandleMessage is the asynq handler for chat contact jobs.
func (c *Contactor) HandleMessage(ctx context.Context, task *asynq.Task) error {
	payload, err := queue.ParseContactPayload(task)
	if err != nil {
		return fmt.Errorf("parse contact payload: %v: %w", err, asynq.SkipRetry)
	}
	return c.Message(ctx, payload)
}

// Dial places one call. Missing gateway configuration reverts the
// target to pending without consuming an attempt; a gateway rejection
// consumes the attempt and is forwarded to post-contact as a synthetic
// failure.
func (c *Contactor) Dial(ctx context.Context, payload queue.ContactPayload) error {
	target, ok, err := c.loadActive(ctx, payload)
	if err != nil || !ok {
		return err
	}

	if c.voice == nil || !c.voice.Configured() {
		return c.configError(ctx, target, payload, "telephony gateway not configured")
	}

	if !c.limiter.Allow() {
		c.log.RateLimitExceeded("dial", payload.TargetID)
		return ErrRateLimited
	}

	target, err = c.store.StartAttempt(ctx, target.ID, string(domain.StateCalling))
	if err != nil {
		return fmt.Errorf("start attempt for target %s: %w", payload.TargetID, err)
	}

	attempt, err := c.store.CreateAttempt(ctx, target.ID, target.CampaignID, target.AttemptCount, domain.ChannelVoice)
	if err != nil {
		return fmt.Errorf("create attempt record: %w", err)
	}

	callID, err := c.voice.PlaceCall(ctx, dialer.PlaceCallRequest{
		ToNumber: payload.PhoneNumber,
		Metadata: map[string]string{
			"attemptId":  attempt.ID.String(),
			"targetId":   target.ID.String(),
			"campaignId": target.CampaignID.String(),
		},
	})
	if err != nil {
		c.log.GatewayError("telephony", "place_call", err)
		return c.gatewayRejection(ctx, target, attempt)
	}

	if err := c.store.MarkAttemptInProgress(ctx, attempt.ID, callID); err != nil {
		return fmt.Errorf("mark attempt in progress: %w", err)
	}
	c.log.StageEvent("contact", "call_placed", payload.TargetID, target.AttemptCount)
	return nil
}

// Message sends one chat message. Acceptance by the gateway is the
// channel's conclusive success; post-contact finalizes the target.
func (c *Contactor) Message(ctx context.Context, payload queue.ContactPayload) error {
	target, ok, err := c.loadActive(ctx, payload)
	if err != nil || !ok {
		return err
	}

	if c.chat == nil || !c.chat.Configured() {
		return c.configError(ctx, target, payload, "chat gateway not configured")
	}

	target, err = c.store.StartAttempt(ctx, target.ID, string(domain.StateContacted))
	if err != nil {
		return fmt.Errorf("start attempt for target %s: %w", payload.TargetID, err)
	}

	attempt, err := c.store.CreateAttempt(ctx, target.ID, target.CampaignID, target.AttemptCount, domain.ChannelChat)
	if err != nil {
		return fmt.Errorf("create attempt record: %w", err)
	}

	body := collectionMessage(payload.DebtorName, payload.DebtAmountCents)
	send, err := c.store.CreateMessageSend(ctx, target.ID, target.CampaignID, &attempt.ID, payload.PhoneNumber, body)
	if err != nil {
		return fmt.Errorf("create message send: %w", err)
	}

	result, err := c.chat.SendMessage(ctx, payload.PhoneNumber, body)
	if err != nil || !result.Accepted {
		if err != nil {
			c.log.GatewayError("chat", "send_message", err)
			if mErr := c.store.MarkMessageFailed(ctx, send.ID, err.Error()); mErr != nil {
				c.log.DatabaseError("mark_message_failed", mErr)
			}
		} else {
			if mErr := c.store.MarkMessageFailed(ctx, send.ID, "gateway declined message"); mErr != nil {
				c.log.DatabaseError("mark_message_failed", mErr)
			}
		}
		return c.gatewayRejection(ctx, target, attempt)
	}

	if err := c.store.MarkMessageSent(ctx, send.ID, result.MessageID); err != nil {
		return fmt.Errorf("mark message sent: %w", err)
	}
	if err := c.store.CompleteAttempt(ctx, attempt.ID, repository.CompleteAttemptParams{}); err != nil {
		return fmt.Errorf("complete attempt: %w", err)
	}

	if err := c.enq.EnqueuePostContact(ctx, queue.PostContactPayload{
		AttemptID:     attempt.ID.String(),
		TargetID:      target.ID.String(),
		CampaignID:    target.CampaignID.String(),
		AttemptStatus: domain.AttemptCompleted,
	}); err != nil {
		return fmt.Errorf("enqueue post-contact: %w", err)
	}

	c.log.StageEvent("contact", "message_sent", payload.TargetID, target.AttemptCount)
	return nil
}

// loadActive fetches the target and filters out jobs whose target has
// already reached a terminal state.
func (c *Contactor) loadActive(ctx context.Context, payload queue.ContactPayload) (repository.Target, bool, error) {
	targetID, err := uuid.Parse(payload.TargetID)
	if err != nil {
		return repository.Target{}, false, fmt.Errorf("bad target id %q: %v: %w", payload.TargetID, err, asynq.SkipRetry)
	}

	target, err := c.store.GetTargetByID(ctx, targetID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.log.StageEvent("contact", "dropped_target_missing", payload.TargetID, payload.AttemptNumber)
			return repository.Target{}, false, nil
		}
		return repository.Target{}, false, fmt.Errorf("load target %s: %w", payload.TargetID, err)
	}

	if domain.IsTerminal(domain.State(target.State)) {
		c.log.StageEvent("contact", "dropped_terminal", payload.TargetID, payload.AttemptNumber)
		return repository.Target{}, false, nil
	}
	return target, true, nil
}

// configError parks the target back in pending without touching its
// attempt count, so operator misconfiguration cannot burn through the
// retry budget. The job itself is not retried: there is nothing to
// retry until the config is fixed.
func (c *Contactor) configError(ctx context.Context, target repository.Target, payload queue.ContactPayload, reason string) error {
	next := time.Now().Add(c.retryDelay)
	if err := c.store.RevertTargetPending(ctx, target.ID, &next); err != nil {
		return fmt.Errorf("revert target %s pending: %w", payload.TargetID, err)
	}
	c.log.Error("contact attempt blocked by configuration", "target_id", payload.TargetID, "reason", reason)
	return fmt.Errorf("%s: %w", reason, asynq.SkipRetry)
}

// gatewayRejection records the failed attempt and forwards a synthetic
// failure to post-contact, which owns all retry decisions.
func (c *Contactor) gatewayRejection(ctx context.Context, target repository.Target, attempt repository.Attempt) error {
	if err := c.store.MarkAttemptFailed(ctx, attempt.ID); err != nil {
		return fmt.Errorf("mark attempt failed: %w", err)
	}
	if err := c.store.RevertTargetPending(ctx, target.ID, nil); err != nil {
		return fmt.Errorf("revert target pending: %w", err)
	}
	if err := c.enq.EnqueuePostContact(ctx, queue.PostContactPayload{
		AttemptID:     attempt.ID.String(),
		TargetID:      target.ID.String(),
		CampaignID:    target.CampaignID.String(),
		AttemptStatus: domain.AttemptFailed,
	}); err != nil {
		return fmt.Errorf("enqueue post-contact: %w", err)
	}
	c.log.StageEvent("contact", "gateway_rejected", target.ID.String(), target.AttemptCount)
	return nil
}

// collectionMessage renders the outbound text for the chat channel.
func collectionMessage(name string, amountCents int64) string {
	return fmt.Sprintf(
		"Olá %s, identificamos um débito em aberto no valor de %s. Entre em contato para negociar condições de pagamento.",
		name, money.FormatBRL(amountCents),
	)
}
