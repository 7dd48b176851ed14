// Package campaigns provides the campaign administration bounded context:
// campaign CRUD, list ingest, sync configuration, and target operations.
package campaigns

import (
	"cobranca_backend/internal/campaigns/handler"
	"cobranca_backend/internal/campaigns/repository"
	"cobranca_backend/internal/campaigns/service"
	apphttp "cobranca_backend/internal/http"
	"cobranca_backend/platform/logger"
	"cobranca_backend/platform/validator"
)

// Module is the campaigns bounded context module implementing http.Module.
type Module struct {
	handler *Handler
}

// Handler aliases the context's HTTP handler for module wiring.
type Handler = handler.Handler

// NewModule wires the campaign service and its admin handler.
func NewModule(repo *repository.Repository, broker service.Broker, promises handler.PromiseResolver, flagAdmin handler.FlagAdmin, flagStore handler.FlagStore, val *validator.Validator, log *logger.Logger) *Module {
	svc := service.New(repo, broker, log)
	return &Module{
		handler: handler.New(svc, promises, flagAdmin, flagStore, val),
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "campaigns"
}

// RegisterRoutes mounts the admin control surface.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	campaigns := ctx.Admin.Group("/campaigns")
	campaigns.POST("", m.handler.HandleCreateCampaign)
	campaigns.GET("", m.handler.HandleListCampaigns)
	campaigns.GET("/:campaignId", m.handler.HandleGetCampaign)
	campaigns.POST("/:campaignId/pause", m.handler.HandlePauseCampaign)
	campaigns.POST("/:campaignId/resume", m.handler.HandleResumeCampaign)
	campaigns.POST("/:campaignId/ingest", m.handler.HandleIngest)
	campaigns.PUT("/:campaignId/sync-config", m.handler.HandleUpsertSyncConfig)
	campaigns.POST("/:campaignId/sync", m.handler.HandleTriggerSync)
	campaigns.GET("/:campaignId/targets", m.handler.HandleListTargets)
	campaigns.POST("/:campaignId/retry-failed", m.handler.HandleBulkRetry)
	campaigns.DELETE("/:campaignId/targets", m.handler.HandlePurgeTargets)

	ctx.Admin.POST("/targets/:targetId/reset", m.handler.HandleResetTarget)
	ctx.Admin.POST("/promises/:promiseId/fulfill", m.handler.HandleFulfillPromise)

	ctx.Admin.GET("/flags", m.handler.HandleListFlags)
	ctx.Admin.PUT("/flags/:key", m.handler.HandleSetFlag)
}

// Compile-time check that Module implements http.Module.
var _ apphttp.Module = (*Module)(nil)
