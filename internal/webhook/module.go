package webhook

import (
	apphttp "cobranca_backend/internal/http"
	"cobranca_backend/platform/config"
	"cobranca_backend/platform/logger"
	"cobranca_backend/platform/validator"
)

// Module is the telephony callback module implementing http.Module.
type Module struct {
	handler *Handler
	cfg     config.TelephonyConfig
}

// NewModule wires the callback handler with its dependencies.
func NewModule(store Store, enq Enqueuer, cfg config.TelephonyConfig, val *validator.Validator, log *logger.Logger) *Module {
	return &Module{
		handler: NewHandler(store, enq, val, log),
		cfg:     cfg,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "webhook"
}

// RegisterRoutes mounts the callback route. Signature verification runs
// before the handler sees the payload.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	group := ctx.V1.Group("/webhook")
	group.Use(SignatureRequired(m.cfg))
	group.POST("/telephony", m.handler.HandleCallResult)
}

// Compile-time check that Module implements http.Module.
var _ apphttp.Module = (*Module)(nil)
