package model

import "time"

// DeliveryReport is a status callback recorded against a sent message,
// typically posted by a provider webhook after the send completed.
type DeliveryReport struct {
	ID          int64      `json:"id"`
	MessageID   int64      `json:"message_id"`
	Status      string     `json:"status"`
	DeliveredAt *time.Time `json:"delivered_at,omitempty"` // nullable
}

// MessageWithDeliveryReports is a message joined with every report received
// for it, used by the audit listing endpoint.
type MessageWithDeliveryReports struct {
	Message         *Message          `json:"message"`
	DeliveryReports []*DeliveryReport `json:"delivery_reports"`
}
