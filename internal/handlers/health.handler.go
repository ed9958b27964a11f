package handlers

import (
	"github.com/fasthttp/router"
	xhttp "github.com/textroute/sms-router/pkg/http"
)

type HealthService interface {
	Get() error
}
type HealthHandler struct {
	healthService HealthService
}

func RegisterHealthRoutes(e *router.Group, h *HealthHandler) {
	e.GET("/health", h.GetHealth)
}

func NewHealthHandler(healthService HealthService) *HealthHandler {
	return &HealthHandler{
		healthService: healthService,
	}
}

func (h *HealthHandler) GetHealth(ctx *xhttp.RequestCtx) {
	if h.healthService != nil {
		if err := h.healthService.Get(); err != nil {
			ctx.Response.SetStatusCode(503)
			ctx.Response.SetBodyString(err.Error())
			return
		}
	}
	ctx.Response.SetBodyString("success")
}
