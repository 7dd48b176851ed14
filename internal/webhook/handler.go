// Package webhook receives telephony gateway status callbacks and feeds
// finished call attempts into post-contact classification.
package webhook

import (
	"context"
	"errors"
	"net/http"

	"cobranca_backend/internal/campaigns/domain"
	"cobranca_backend/internal/campaigns/repository"
	"cobranca_backend/internal/queue"
	"cobranca_backend/platform/httpkit"
	"cobranca_backend/platform/logger"
	"cobranca_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Gateway call statuses reported on the callback.
const (
	CallCompleted = "completed"
	CallNoAnswer  = "no-answer"
	CallBusy      = "busy"
	CallFailed    = "failed"
)

// Store is the repository slice the callback handler needs.
type Store interface {
	GetAttemptByGatewayRef(ctx context.Context, ref string) (repository.Attempt, error)
	CompleteAttempt(ctx context.Context, id uuid.UUID, params repository.CompleteAttemptParams) error
	MarkAttemptFailed(ctx context.Context, id uuid.UUID) error
}

// Enqueuer is the broker slice the callback handler needs.
type Enqueuer interface {
	EnqueuePostContact(ctx context.Context, payload queue.PostContactPayload) error
	EnqueueArchiveRecording(ctx context.Context, payload queue.ArchiveRecordingPayload) error
}

// CallOutcomeRequest is the structured conversation result, present when
// the gateway's conversation flow reached a classification.
type CallOutcomeRequest struct {
	Type          string `json:"type" validate:"required,oneof=promise refusal none"`
	AmountCents   int64  `json:"amountCents" validate:"gte=0"`
	DueDate       string `json:"dueDate" validate:"omitempty,datetime=2006-01-02"`
	PaymentMethod string `json:"paymentMethod" validate:"max=40"`
}

// CallResultRequest is the telephony gateway's status callback body.
type CallResultRequest struct {
	CallID          string              `json:"callId" validate:"required,max=128"`
	Status          string              `json:"status" validate:"required,oneof=completed no-answer busy failed"`
	DurationSeconds int                 `json:"durationSeconds" validate:"gte=0"`
	RecordingURL    *string             `json:"recordingUrl" validate:"omitempty,url"`
	Transcript      *string             `json:"transcript"`
	Outcome         *CallOutcomeRequest `json:"outcome"`
}

// Handler handles telephony callback HTTP requests.
type Handler struct {
	store Store
	enq   Enqueuer
	val   *validator.Validator
	log   *logger.Logger
}

func NewHandler(store Store, enq Enqueuer, val *validator.Validator, log *logger.Logger) *Handler {
	return &Handler{store: store, enq: enq, val: val, log: log.WithStage("webhook")}
}

// HandleCallResult processes a finished call reported by the gateway.
// POST /api/v1/webhook/telephony
//
// The callback is idempotent: a repeat delivery for an attempt that
// already finished is acknowledged without side effects, so gateway
// retries cannot double-classify.
func (h *Handler) HandleCallResult(c *gin.Context) {
	var req CallResultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "invalid request body", nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, "validation error", err.Error())
		return
	}

	ctx := c.Request.Context()
	attempt, err := h.store.GetAttemptByGatewayRef(ctx, req.CallID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			h.log.Warn("callback for unknown call reference", "call_id", req.CallID)
			httpkit.Error(c, http.StatusNotFound, "unknown call reference", nil)
			return
		}
		httpkit.Error(c, http.StatusInternalServerError, "attempt lookup failed", nil)
		return
	}

	if attempt.Status == domain.AttemptCompleted || attempt.Status == domain.AttemptFailed {
		httpkit.OK(c, gin.H{"status": "already processed"})
		return
	}

	attemptStatus := domain.AttemptFailed
	if req.Status == CallCompleted {
		attemptStatus = domain.AttemptCompleted
		err = h.store.CompleteAttempt(ctx, attempt.ID, repository.CompleteAttemptParams{
			DurationSeconds: req.DurationSeconds,
			RecordingURL:    req.RecordingURL,
			Transcript:      req.Transcript,
		})
	} else {
		err = h.store.MarkAttemptFailed(ctx, attempt.ID)
	}
	if err != nil {
		h.log.DatabaseError("record_call_result", err)
		httpkit.Error(c, http.StatusInternalServerError, "failed to record call result", nil)
		return
	}

	payload := queue.PostContactPayload{
		AttemptID:       attempt.ID.String(),
		TargetID:        attempt.TargetID.String(),
		CampaignID:      attempt.CampaignID.String(),
		AttemptStatus:   attemptStatus,
		DurationSeconds: req.DurationSeconds,
	}
	if req.Outcome != nil {
		payload.Outcome = &queue.ConversationOutcome{
			Type:          req.Outcome.Type,
			AmountCents:   req.Outcome.AmountCents,
			DueDate:       req.Outcome.DueDate,
			PaymentMethod: req.Outcome.PaymentMethod,
		}
	}
	if err := h.enq.EnqueuePostContact(ctx, payload); err != nil {
		h.log.Error("enqueue post-contact failed", "attempt_id", payload.AttemptID, "error", err.Error())
		httpkit.Error(c, http.StatusInternalServerError, "failed to queue post-contact processing", nil)
		return
	}

	if req.Status == CallCompleted && req.RecordingURL != nil && *req.RecordingURL != "" {
		archive := queue.ArchiveRecordingPayload{
			AttemptID:    attempt.ID.String(),
			CampaignID:   attempt.CampaignID.String(),
			RecordingURL: *req.RecordingURL,
		}
		if err := h.enq.EnqueueArchiveRecording(ctx, archive); err != nil {
			// Archival is best effort; the recording URL stays on the attempt.
			h.log.Error("enqueue recording archive failed", "attempt_id", archive.AttemptID, "error", err.Error())
		}
	}

	h.log.StageEvent("webhook", "call_result_accepted", attempt.TargetID.String(), attempt.AttemptNumber)
	httpkit.OK(c, gin.H{"status": "accepted"})
}
