package repository

import (
	"github.com/textroute/sms-router/internal/model"
)

type MessageEntity struct {
	ID              int64   `db:"id"                gorm:"primaryKey;autoIncrement;column:id"`
	Recipient       string  `db:"recipient"         gorm:"column:recipient;not null;index"`
	Content         *string `db:"content"           gorm:"column:content"` // nullable; always null for sensitive messages
	Component       string  `db:"component"         gorm:"column:component;not null"`
	MessageType     string  `db:"message_type"      gorm:"column:message_type;not null"`
	RecipientUserID *int64  `db:"recipient_user_id" gorm:"column:recipient_user_id"`
	Sensitive       bool    `db:"sensitive"         gorm:"column:sensitive;not null;default:false"`
	Status          string  `db:"status"            gorm:"column:status;not null;index"`
	GatewayID       *int64  `db:"gateway_id"        gorm:"column:gateway_id;index"`
	TimeCreated     int64   `db:"time_created"      gorm:"column:time_created;not null"`
}

func (MessageEntity) TableName() string {
	return "messages"
}

func toMessageEntity(m *model.Message) *MessageEntity {
	if m == nil {
		return nil
	}
	e := &MessageEntity{
		ID:              m.ID,
		Recipient:       m.Recipient,
		Content:         m.Content,
		Component:       m.Component,
		MessageType:     m.MessageType,
		RecipientUserID: m.RecipientUserID,
		Sensitive:       m.Sensitive,
		Status:          string(m.Status),
		GatewayID:       m.Gateway,
		TimeCreated:     m.TimeCreated,
	}
	// Sensitive content never reaches durable storage, whatever the caller
	// handed us.
	if m.Sensitive {
		e.Content = nil
	}
	return e
}

func toMessageModel(e *MessageEntity) *model.Message {
	if e == nil {
		return nil
	}
	return &model.Message{
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
}

func toMessageModels(entities []*MessageEntity) []*model.Message {
	if entities == nil {
		return nil
	}
	models := make([]*model.Message, len(entities))
	for i, e := range entities {
		models[i] = toMessageModel(e)
	}
	return models
}
