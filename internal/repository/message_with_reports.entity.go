package repository

import (
	"time"

	"github.com/lib/pq"
	"github.com/textroute/sms-router/internal/model"
)

// MessageWithReportsEntity is the scan target of the PostgreSQL array
// aggregate in ListWithReports. Report columns arrive as parallel arrays.
type MessageWithReportsEntity struct {
	ID                int64          `gorm:"column:id"`
	Recipient         string         `gorm:"column:recipient"`
	Content           *string        `gorm:"column:content"`
	Component         string         `gorm:"column:component"`
	MessageType       string         `gorm:"column:message_type"`
	RecipientUserID   *int64         `gorm:"column:recipient_user_id"`
	Sensitive         bool           `gorm:"column:sensitive"`
	Status            string         `gorm:"column:status"`
	GatewayID         *int64         `gorm:"column:gateway_id"`
	TimeCreated       int64          `gorm:"column:time_created"`
	DeliveryReportIDs pq.Int64Array  `gorm:"column:delivery_report_ids;type:bigint[]"`
	DeliveryStatuses  pq.StringArray `gorm:"column:delivery_statuses;type:text[]"`
	DeliveredAts      pq.StringArray `gorm:"column:delivered_ats;type:text[]"`
}

func toMessageWithReportsModel(e *MessageWithReportsEntity) *model.MessageWithDeliveryReports {
	if e == nil {
		return nil
	}

	msg := &model.Message{
		ID:              e.ID,
		Recipient:       e.Recipient,
		Content:         e.Content,
		Component:       e.Component,
		MessageType:     e.MessageType,
		RecipientUserID: e.RecipientUserID,
		Sensitive:       e.Sensitive,
		Status:          model.MessageStatus(e.Status),
		Gateway:         e.GatewayID,
		TimeCreated:     e.TimeCreated,
	}

	reports := make([]*model.DeliveryReport, 0, len(e.DeliveryReportIDs))
	for i, id := range e.DeliveryReportIDs {
		r := &model.DeliveryReport{ID: id, MessageID: e.ID}
		if i < len(e.DeliveryStatuses) {
			r.Status = e.DeliveryStatuses[i]
		}
		if i < len(e.DeliveredAts) && e.DeliveredAts[i] != "" {
			if t, err := time.Parse(time.RFC3339, e.DeliveredAts[i]); err == nil {
				r.DeliveredAt = &t
			}
		}
		reports = append(reports, r)
	}

	return &model.MessageWithDeliveryReports{
		Message:         msg,
		DeliveryReports: reports,
	}
}

func toMessageWithReportsModels(entities []*MessageWithReportsEntity) []*model.MessageWithDeliveryReports {
	if entities == nil {
		return nil
	}
	models := make([]*model.MessageWithDeliveryReports, len(entities))
	for i, e := range entities {
		models[i] = toMessageWithReportsModel(e)
	}
	return models
}
