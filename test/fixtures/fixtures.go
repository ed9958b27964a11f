package fixtures

import (
	"time"

	"github.com/textroute/sms-router/internal/manager"
	"github.com/textroute/sms-router/internal/model"
)

var (
	TestInstanceUK = model.GatewayInstance{
		ID:      1,
		Gateway: "prefix",
		Config: model.GatewayConfig{
			"prefixes": map[string]any{"+44": 50},
			"url":      "http://localhost:8090",
		},
		Enabled: true,
	}

	TestInstanceUS = model.GatewayInstance{
		ID:      2,
		Gateway: "prefix",
		Config: model.GatewayConfig{
			"prefixes": map[string]any{"+1": 30},
			"url":      "http://localhost:8090",
		},
		Enabled: true,
	}

	TestInstanceDisabled = model.GatewayInstance{
		ID:      3,
		Gateway: "prefix",
		Config: model.GatewayConfig{
			"prefixes": map[string]any{"+44": 90},
		},
		Enabled: false,
	}
)

func NewTestMessage(recipient, content, component string) *model.Message {
	return model.NewMessage(model.MessageParams{
		Recipient:   recipient,
		Content:     &content,
		Component:   component,
		MessageType: "notification",
		TimeCreated: time.Now().Unix(),
	})
}

func NewTestSendRequest(recipient, content, component string) manager.SendRequest {
	return manager.SendRequest{
		Recipient:   recipient,
		Content:     &content,
		Component:   component,
		MessageType: "notification",
	}
}

func NewTestDeliveryReport(messageID int64, status string) *model.DeliveryReport {
	now := time.Now()
	return &model.DeliveryReport{
		ID:          0,
		MessageID:   messageID,
		Status:      status,
		DeliveredAt: &now,
	}
}

var (
	ValidRecipients = []string{
		"+1234567890",
		"+9876543210",
		"+4412345678",
		"+33123456789",
		"+81312345678",
	}

	InvalidRecipients = []string{
		"",
		"   ",
		"\n\t",
	}

	ValidMessageContents = []string{
		"Hello World",
		"Your verification code is 482913",
		"Short",
		"This is a longer message with more content for testing purposes",
	}
)

func MessageWithID(id int64) *model.Message {
	msg := NewTestMessage("+1234567890", "Test", "core_auth")
	msg.ID = id
	return msg
}

func SendRequestSensitive() manager.SendRequest {
	req := NewTestSendRequest("+1234567890", "One-time code 123456", "core_auth")
	req.Sensitive = true
	return req
}

func SendRequestAsync() manager.SendRequest {
	req := NewTestSendRequest("+1234567890", "Queued message", "core_reminder")
	req.Async = true
	return req
}

func MessageFilterByRecipient(recipient string) model.MessageFilter {
	return model.MessageFilter{
		Recipient: &recipient,
		Limit:     50,
		Offset:    0,
		Desc:      false,
	}
}

func MessageFilterWithPagination(limit, offset int) model.MessageFilter {
	return model.MessageFilter{
		Limit:  limit,
		Offset: offset,
		Desc:   false,
	}
}

func MessageFilterByStatus(status model.MessageStatus) model.MessageFilter {
	return model.MessageFilter{
		Status: &status,
		Limit:  50,
		Offset: 0,
		Desc:   false,
	}
}
