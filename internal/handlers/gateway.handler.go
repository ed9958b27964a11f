package handlers

import (
	"context"
	"errors"

	"github.com/fasthttp/router"
	"github.com/textroute/sms-router/internal/manager"
	"github.com/textroute/sms-router/internal/model"
	xhttp "github.com/textroute/sms-router/pkg/http"
)

type GatewayService interface {
	CreateGatewayInstance(ctx context.Context, gatewayType string, cfg model.GatewayConfig, enabled bool) (*model.GatewayInstance, error)
	EnableGateway(ctx context.Context, inst *model.GatewayInstance) (*model.GatewayInstance, error)
	DisableGateway(ctx context.Context, inst *model.GatewayInstance) (*model.GatewayInstance, error)
	GetGatewayInstance(ctx context.Context, id int64) (*model.GatewayInstance, error)
	GetGatewayInstances(ctx context.Context, gatewayType string) (map[int64]*model.GatewayInstance, error)
}

type GatewayHandler struct {
	svc GatewayService
}

func RegisterGatewayRoutes(e *router.Group, h *GatewayHandler) {
	e.POST("/gateways", h.CreateGateway)
	e.GET("/gateways", h.ListGateways)
	e.GET("/gateways/{id}", h.GetGateway)
	e.POST("/gateways/{id}/enable", h.EnableGateway)
	e.POST("/gateways/{id}/disable", h.DisableGateway)
}

func NewGatewayHandler(svc GatewayService) *GatewayHandler {
	return &GatewayHandler{
		svc: svc,
	}
}

type createGatewayRequest struct {
	Gateway string              `json:"gateway"`
	Config  model.GatewayConfig `json:"config"`
	Enabled bool                `json:"enabled"`
}

type gatewayListResponse struct {
	Items []*model.GatewayInstance `json:"items"`
}

func (h *GatewayHandler) CreateGateway(ctx *xhttp.RequestCtx) {
	var req createGatewayRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}
	if req.Gateway == "" {
		writeError(ctx, 400, "gateway type is required")
		return
	}

	inst, err := h.svc.CreateGatewayInstance(ctx, req.Gateway, req.Config, req.Enabled)
	if err != nil {
		writeError(ctx, 400, err.Error())
		return
	}
	writeJSON(ctx, 201, inst)
}

func (h *GatewayHandler) GetGateway(ctx *xhttp.RequestCtx) {
	inst, ok := h.fetch(ctx)
	if !ok {
		return
	}
	writeJSON(ctx, 200, inst)
}

func (h *GatewayHandler) ListGateways(ctx *xhttp.RequestCtx) {
	instances, err := h.svc.GetGatewayInstances(ctx, query(ctx, "gateway"))
	if err != nil {
		writeError(ctx, 400, err.Error())
		return
	}

	items := make([]*model.GatewayInstance, 0, len(instances))
	for _, inst := range instances {
		items = append(items, inst)
	}
	writeJSON(ctx, 200, gatewayListResponse{Items: items})
}

func (h *GatewayHandler) EnableGateway(ctx *xhttp.RequestCtx) {
	inst, ok := h.fetch(ctx)
	if !ok {
		return
	}
	updated, err := h.svc.EnableGateway(ctx, inst)
	if err != nil {
		writeError(ctx, 400, err.Error())
		return
	}
	writeJSON(ctx, 200, updated)
}

func (h *GatewayHandler) DisableGateway(ctx *xhttp.RequestCtx) {
	inst, ok := h.fetch(ctx)
	if !ok {
		return
	}
	updated, err := h.svc.DisableGateway(ctx, inst)
	if err != nil {
		writeError(ctx, 400, err.Error())
		return
	}
	writeJSON(ctx, 200, updated)
}

func (h *GatewayHandler) fetch(ctx *xhttp.RequestCtx) (*model.GatewayInstance, bool) {
	id, err := pathInt64(ctx, "id")
	if err != nil {
		writeError(ctx, 400, "invalid gateway instance id")
		return nil, false
	}
	inst, err := h.svc.GetGatewayInstance(ctx, id)
	if err != nil {
		if errors.Is(err, manager.ErrGatewayInstanceNotFound) {
			writeError(ctx, 404, err.Error())
			return nil, false
		}
		writeError(ctx, 400, err.Error())
		return nil, false
	}
	return inst, true
}
