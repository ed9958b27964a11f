package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/fasthttp/router"
	"github.com/textroute/sms-router/internal/manager"
	"github.com/textroute/sms-router/internal/model"
	"github.com/textroute/sms-router/internal/repository"
	xhttp "github.com/textroute/sms-router/pkg/http"
	"github.com/textroute/sms-router/pkg/logger"
)

type MessageService interface {
	Send(ctx context.Context, req manager.SendRequest) (*model.Message, error)
	Enqueue(ctx context.Context, req manager.SendRequest) error
	GetMessage(ctx context.Context, f model.MessageFilter) (*model.Message, error)
	GetMessages(ctx context.Context, f model.MessageFilter) (repository.MessageIterator, error)
	ListMessages(ctx context.Context, f model.MessageFilter) ([]*model.Message, int64, error)
	ApplyDeliveryReport(ctx context.Context, report *model.DeliveryReport) (*model.Message, error)
	GetDeliveryReports(ctx context.Context, messageID int64) ([]*model.DeliveryReport, error)
	ListMessagesWithReports(ctx context.Context, f model.MessageFilter) ([]*model.MessageWithDeliveryReports, int64, error)
}

type MessageHandler struct {
	svc MessageService
}

func RegisterMessageRoutes(e *router.Group, h *MessageHandler) {
	e.POST("/messages", h.SendMessage)
	e.GET("/messages", h.ListMessages)
	e.GET("/messages/export", h.ExportMessages)
	e.GET("/messages/reports", h.ListMessagesWithReports)
	e.GET("/messages/{id}", h.GetMessage)
	e.GET("/messages/{id}/reports", h.GetDeliveryReports)
	e.POST("/delivery-reports", h.ApplyDeliveryReport)
}

func NewMessageHandler(svc MessageService) *MessageHandler {
	return &MessageHandler{
		svc: svc,
	}
}

type sendMessageRequest struct {
	Recipient       string  `json:"recipient"`
	Content         *string `json:"content"`
	Component       string  `json:"component"`
	MessageType     string  `json:"message_type"`
	RecipientUserID *int64  `json:"recipient_user_id"`
	Sensitive       bool    `json:"sensitive"`
	Async           bool    `json:"async"`
}

type listResponse struct {
	Items []*model.Message `json:"items"`
	Total int64            `json:"total"`
}

type reportsListResponse struct {
	Items []*model.MessageWithDeliveryReports `json:"items"`
	Total int64                               `json:"total"`
}

type deliveryReportRequest struct {
	MessageID int64  `json:"message_id"`
	Status    string `json:"status"`
}

/* --------------------------------- Routes ----------------------------------- */

func (h *MessageHandler) SendMessage(ctx *xhttp.RequestCtx) {
	var req sendMessageRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}
	p := manager.SendRequest{
		Recipient:       req.Recipient,
		Content:         req.Content,
		Component:       req.Component,
		MessageType:     req.MessageType,
		RecipientUserID: req.RecipientUserID,
		Sensitive:       req.Sensitive,
		Async:           req.Async,
	}

	if req.Async {
		if err := h.svc.Enqueue(ctx, p); err != nil {
			writeError(ctx, 400, err.Error())
			return
		}
		writeJSON(ctx, 202, map[string]string{"status": model.MessageStatusGatewayQueued.String()})
		return
	}

	msg, err := h.svc.Send(ctx, p)
	if err != nil {
		writeError(ctx, 400, err.Error())
		return
	}
	writeJSON(ctx, 201, msg)
}

func (h *MessageHandler) GetMessage(ctx *xhttp.RequestCtx) {
	id, err := pathInt64(ctx, "id")
	if err != nil {
		writeError(ctx, 400, "invalid message id")
		return
	}

	msg, err := h.svc.GetMessage(ctx, model.MessageFilter{ID: &id})
	if err != nil {
		if errors.Is(err, manager.ErrMessageNotFound) {
			writeError(ctx, 404, err.Error())
			return
		}
		writeError(ctx, 400, err.Error())
		return
	}
	writeJSON(ctx, 200, msg)
}

func (h *MessageHandler) ListMessages(ctx *xhttp.RequestCtx) {
	f := parseMessageFilter(ctx)

	items, total, err := h.svc.ListMessages(ctx, f)
	if err != nil {
		writeError(ctx, 400, err.Error())
		return
	}
	writeJSON(ctx, 200, listResponse{Items: items, Total: total})
}

// ExportMessages streams every matching message as NDJSON, one object per
// line, without materializing the result set.
func (h *MessageHandler) ExportMessages(ctx *xhttp.RequestCtx) {
	f := parseMessageFilter(ctx)

	// The stream writer runs after the handler returns, so it cannot use the
	// request ctx.
	it, err := h.svc.GetMessages(context.Background(), f)
	if err != nil {
		writeError(ctx, 400, err.Error())
		return
	}

	ctx.Response.Header.Set("Content-Type", "application/x-ndjson")
	ctx.Response.SetStatusCode(200)
	ctx.Response.SetBodyStreamWriter(func(w *bufio.Writer) {
		defer it.Close()
		enc := json.NewEncoder(w)
		for msg, ok := it.Next(); ok; msg, ok = it.Next() {
			if err := enc.Encode(msg); err != nil {
				return
			}
		}
		if err := it.Err(); err != nil {
			logger.Error("message export aborted", "error", err)
		}
	})
}

func (h *MessageHandler) ApplyDeliveryReport(ctx *xhttp.RequestCtx) {
	var req deliveryReportRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, 400, "invalid JSON: "+err.Error())
		return
	}

	msg, err := h.svc.ApplyDeliveryReport(ctx, &model.DeliveryReport{
		MessageID: req.MessageID,
		Status:    req.Status,
	})
	if err != nil {
		if errors.Is(err, manager.ErrMessageNotFound) {
			writeError(ctx, 404, err.Error())
			return
		}
		writeError(ctx, 400, err.Error())
		return
	}
	writeJSON(ctx, 200, msg)
}

func (h *MessageHandler) GetDeliveryReports(ctx *xhttp.RequestCtx) {
	id, err := pathInt64(ctx, "id")
	if err != nil {
		writeError(ctx, 400, "invalid message id")
		return
	}

	reports, err := h.svc.GetDeliveryReports(ctx, id)
	if err != nil {
		if errors.Is(err, manager.ErrMessageNotFound) {
			writeError(ctx, 404, err.Error())
			return
		}
		writeError(ctx, 400, err.Error())
		return
	}
	writeJSON(ctx, 200, reports)
}

func (h *MessageHandler) ListMessagesWithReports(ctx *xhttp.RequestCtx) {
	f := parseMessageFilter(ctx)

	items, total, err := h.svc.ListMessagesWithReports(ctx, f)
	if err != nil {
		writeError(ctx, 400, err.Error())
		return
	}
	writeJSON(ctx, 200, reportsListResponse{Items: items, Total: total})
}

/* -------------------------------- Helpers ------------------------------------ */

func parseMessageFilter(ctx *xhttp.RequestCtx) model.MessageFilter {
	var f model.MessageFilter

	if v := query(ctx, "id"); v != "" {
		if id, e := strconv.ParseInt(v, 10, 64); e == nil {
			f.ID = &id
		}
	}
	if v := query(ctx, "recipient"); v != "" {
		f.Recipient = &v
	}
	if v := query(ctx, "status"); v != "" {
		s := model.MessageStatus(v)
		f.Status = &s
	}
	if v := query(ctx, "gateway"); v != "" {
		if id, e := strconv.ParseInt(v, 10, 64); e == nil {
			f.Gateway = &id
		}
	}
	if v := query(ctx, "component"); v != "" {
		f.Component = &v
	}
	if v := query(ctx, "limit"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			f.Limit = n
		}
	}
	if v := query(ctx, "offset"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			f.Offset = n
		}
	}
	if strings.EqualFold(query(ctx, "order"), "desc") {
		f.Desc = true
	}
	return f
}

func readJSON(ctx *xhttp.RequestCtx, dst any) error {
	body := ctx.PostBody()
	return json.Unmarshal(body, dst)
}

func writeJSON(ctx *xhttp.RequestCtx, status int, v any) {
	b, _ := json.Marshal(v)
	ctx.Response.Header.Set("Content-Type", "application/json; charset=utf-8")
	ctx.Response.SetStatusCode(status)
	ctx.Response.SetBodyRaw(b)
}

func writeError(ctx *xhttp.RequestCtx, status int, msg string) {
	writeJSON(ctx, status, map[string]string{"error": msg})
}

func pathInt64(ctx *xhttp.RequestCtx, name string) (int64, error) {
	v, _ := ctx.UserValue(name).(string)
	return strconv.ParseInt(v, 10, 64)
}

func query(ctx *xhttp.RequestCtx, key string) string {
	return string(ctx.QueryArgs().Peek(key))
}
