// Package handler exposes the campaign admin surface over HTTP.
package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"cobranca_backend/internal/campaigns/repository"
	"cobranca_backend/internal/campaigns/service"
	"cobranca_backend/internal/campaigns/transport"
	"cobranca_backend/internal/featureflag"
	"cobranca_backend/internal/queue"
	"cobranca_backend/platform/httpkit"
	"cobranca_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	errInvalidRequest    = "invalid request body"
	errValidation        = "validation error"
	errInvalidCampaignID = "invalid campaign ID"
	errInvalidTargetID   = "invalid target ID"
	errInvalidPromiseID  = "invalid promise ID"
)

// PromiseResolver marks a promise paid and cancels its scheduled check.
type PromiseResolver interface {
	Fulfill(ctx context.Context, promiseID uuid.UUID) error
}

// FlagAdmin writes feature flags through the cached provider.
type FlagAdmin interface {
	Set(ctx context.Context, key string, enabled bool) error
}

// FlagStore lists persisted feature flags.
type FlagStore interface {
	ListFlags(ctx context.Context) ([]featureflag.Flag, error)
}

// Handler handles campaign admin HTTP requests.
type Handler struct {
	service   *service.Service
	promises  PromiseResolver
	flagAdmin FlagAdmin
	flagStore FlagStore
	val       *validator.Validator
}

func New(svc *service.Service, promises PromiseResolver, flagAdmin FlagAdmin, flagStore FlagStore, val *validator.Validator) *Handler {
	return &Handler{
		service:   svc,
		promises:  promises,
		flagAdmin: flagAdmin,
		flagStore: flagStore,
		val:       val,
	}
}

// HandleCreateCampaign creates a draft campaign.
// POST /api/v1/admin/campaigns
func (h *Handler) HandleCreateCampaign(c *gin.Context) {
	var req transport.CreateCampaignRequest
	if !h.bindAndValidate(c, &req) {
		return
	}

	campaign, err := h.service.CreateCampaign(c.Request.Context(), req.Name)
	if httpkit.HandleError(c, err) {
		return
	}
	c.JSON(http.StatusCreated, transport.ToCampaignResponse(campaign))
}

// HandleListCampaigns lists all campaigns.
// GET /api/v1/admin/campaigns
func (h *Handler) HandleListCampaigns(c *gin.Context) {
	campaigns, err := h.service.ListCampaigns(c.Request.Context())
	if httpkit.HandleError(c, err) {
		return
	}

	resp := make([]transport.CampaignResponse, 0, len(campaigns))
	for _, campaign := range campaigns {
		resp = append(resp, transport.ToCampaignResponse(campaign))
	}
	httpkit.OK(c, resp)
}

// HandleGetCampaign returns one campaign with its counters.
// GET /api/v1/admin/campaigns/:campaignId
func (h *Handler) HandleGetCampaign(c *gin.Context) {
	campaignID, ok := h.campaignID(c)
	if !ok {
		return
	}

	campaign, err := h.service.GetCampaign(c.Request.Context(), campaignID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.ToCampaignResponse(campaign))
}

// HandlePauseCampaign suspends an active campaign.
// POST /api/v1/admin/campaigns/:campaignId/pause
func (h *Handler) HandlePauseCampaign(c *gin.Context) {
	h.campaignAction(c, h.service.PauseCampaign, "paused")
}

// HandleResumeCampaign reactivates a paused campaign.
// POST /api/v1/admin/campaigns/:campaignId/resume
func (h *Handler) HandleResumeCampaign(c *gin.Context) {
	h.campaignAction(c, h.service.ResumeCampaign, "active")
}

func (h *Handler) campaignAction(c *gin.Context, action func(context.Context, uuid.UUID) error, status string) {
	campaignID, ok := h.campaignID(c)
	if !ok {
		return
	}
	if httpkit.HandleError(c, action(c.Request.Context(), campaignID)) {
		return
	}
	httpkit.OK(c, gin.H{"status": status})
}

// HandleIngest queues a directly supplied debtor list.
// POST /api/v1/admin/campaigns/:campaignId/ingest
func (h *Handler) HandleIngest(c *gin.Context) {
	campaignID, ok := h.campaignID(c)
	if !ok {
		return
	}

	var req transport.IngestRequest
	if !h.bindAndValidate(c, &req) {
		return
	}

	records := make([]queue.RawDebtor, 0, len(req.Records))
	for _, r := range req.Records {
		records = append(records, queue.RawDebtor{
			Name:        r.Name,
			Document:    r.Document,
			ClientCode:  r.ClientCode,
			Phones:      r.Phones,
			AmountCents: r.AmountCents,
			DueDate:     r.DueDate,
		})
	}

	if httpkit.HandleError(c, h.service.IngestList(c.Request.Context(), campaignID, records)) {
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "records": len(records)})
}

// HandleUpsertSyncConfig creates or replaces the campaign's sync parameters.
// PUT /api/v1/admin/campaigns/:campaignId/sync-config
func (h *Handler) HandleUpsertSyncConfig(c *gin.Context) {
	campaignID, ok := h.campaignID(c)
	if !ok {
		return
	}

	var req transport.SyncConfigRequest
	if !h.bindAndValidate(c, &req) {
		return
	}

	dateFrom, _ := time.Parse("2006-01-02", req.DateFrom)
	dateTo, _ := time.Parse("2006-01-02", req.DateTo)

	cfg, err := h.service.ConfigureSync(c.Request.Context(), repository.UpsertSyncConfigParams{
		CampaignID:     campaignID,
		DateFrom:       dateFrom,
		DateTo:         dateTo,
		MinAmountCents: req.MinAmountCents,
		MaxAmountCents: req.MaxAmountCents,
		DedupKey:       req.DedupKey,
		UpdateExisting: req.UpdateExisting,
		Enabled:        req.Enabled,
	})
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.ToSyncConfigResponse(cfg))
}

// HandleTriggerSync queues a manual CRM sync run.
// POST /api/v1/admin/campaigns/:campaignId/sync
func (h *Handler) HandleTriggerSync(c *gin.Context) {
	campaignID, ok := h.campaignID(c)
	if !ok {
		return
	}
	if httpkit.HandleError(c, h.service.TriggerSync(c.Request.Context(), campaignID)) {
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}

// HandleListTargets returns a page of the campaign's targets.
// GET /api/v1/admin/campaigns/:campaignId/targets
func (h *Handler) HandleListTargets(c *gin.Context) {
	campaignID, ok := h.campaignID(c)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	targets, err := h.service.ListTargets(c.Request.Context(), campaignID, limit, offset)
	if httpkit.HandleError(c, err) {
		return
	}

	resp := make([]transport.TargetResponse, 0, len(targets))
	for _, t := range targets {
		resp = append(resp, transport.ToTargetResponse(t))
	}
	httpkit.OK(c, resp)
}

// HandleBulkRetry resets every failed target in the campaign.
// POST /api/v1/admin/campaigns/:campaignId/retry-failed
func (h *Handler) HandleBulkRetry(c *gin.Context) {
	campaignID, ok := h.campaignID(c)
	if !ok {
		return
	}

	retried, err := h.service.BulkRetryFailed(c.Request.Context(), campaignID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"retried": retried})
}

// HandlePurgeTargets removes every target from a non-active campaign.
// DELETE /api/v1/admin/campaigns/:campaignId/targets
func (h *Handler) HandlePurgeTargets(c *gin.Context) {
	campaignID, ok := h.campaignID(c)
	if !ok {
		return
	}

	purged, err := h.service.PurgeTargets(c.Request.Context(), campaignID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"purged": purged})
}

// HandleResetTarget puts one target back to pending with a fresh budget.
// POST /api/v1/admin/targets/:targetId/reset
func (h *Handler) HandleResetTarget(c *gin.Context) {
	targetID, err := uuid.Parse(c.Param("targetId"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, errInvalidTargetID, nil)
		return
	}

	target, err := h.service.ResetTarget(c.Request.Context(), targetID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, transport.ToTargetResponse(target))
}

// HandleFulfillPromise marks a promise paid.
// POST /api/v1/admin/promises/:promiseId/fulfill
func (h *Handler) HandleFulfillPromise(c *gin.Context) {
	promiseID, err := uuid.Parse(c.Param("promiseId"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, errInvalidPromiseID, nil)
		return
	}

	if httpkit.HandleError(c, h.promises.Fulfill(c.Request.Context(), promiseID)) {
		return
	}
	httpkit.OK(c, gin.H{"status": "fulfilled"})
}

// HandleListFlags lists persisted feature flags.
// GET /api/v1/admin/flags
func (h *Handler) HandleListFlags(c *gin.Context) {
	flags, err := h.flagStore.ListFlags(c.Request.Context())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, flags)
}

// HandleSetFlag writes one feature flag.
// PUT /api/v1/admin/flags/:key
func (h *Handler) HandleSetFlag(c *gin.Context) {
	key := c.Param("key")
	if key == "" {
		httpkit.Error(c, http.StatusBadRequest, "flag key is required", nil)
		return
	}

	var req transport.SetFlagRequest
	if !h.bindAndValidate(c, &req) {
		return
	}

	if httpkit.HandleError(c, h.flagAdmin.Set(c.Request.Context(), key, *req.Enabled)) {
		return
	}
	httpkit.OK(c, gin.H{"key": key, "enabled": *req.Enabled})
}

func (h *Handler) campaignID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("campaignId"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, errInvalidCampaignID, nil)
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) bindAndValidate(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, errInvalidRequest, nil)
		return false
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, errValidation, err.Error())
		return false
	}
	return true
}
