package model

// MessageStatus is the lifecycle state of a message.
type MessageStatus string

const (
	// MessageStatusNotSent is the initial state of an unsent message.
	MessageStatusNotSent MessageStatus = "not_sent"

	// MessageStatusGatewayQueued marks a message accepted for async dispatch.
	MessageStatusGatewayQueued MessageStatus = "gateway_queued"

	// MessageStatusGatewaySent is the only successful terminal state.
	MessageStatusGatewaySent MessageStatus = "gateway_sent"

	MessageStatusGatewayFailed       MessageStatus = "gateway_failed"
	MessageStatusGatewayRejected     MessageStatus = "gateway_rejected"
	MessageStatusGatewayNotAvailable MessageStatus = "gateway_not_available"
	MessageStatusMessageOverSize     MessageStatus = "message_over_size"
)

func (s MessageStatus) String() string {
	return string(s)
}

func (s MessageStatus) Valid() bool {
	switch s {
	case MessageStatusNotSent,
		MessageStatusGatewayQueued,
		MessageStatusGatewaySent,
		MessageStatusGatewayFailed,
		MessageStatusGatewayRejected,
		MessageStatusGatewayNotAvailable,
		MessageStatusMessageOverSize:
		return true
	}
	return false
}

// IsSent reports whether the message reached the gateway successfully.
// This predicate is the single source of truth for delivery success.
func (s MessageStatus) IsSent() bool {
	return s == MessageStatusGatewaySent
}
