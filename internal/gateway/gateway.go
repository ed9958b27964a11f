package gateway

import (
	"context"

	"github.com/textroute/sms-router/internal/model"
)

// PriorityNone is the sentinel a gateway returns from SendPriority when it
// cannot deliver the message. Usable priorities are >= 0; higher wins.
const PriorityNone = -1

// Gateway is the capability contract every delivery backend satisfies.
// Implementations are stateless with respect to routing: all routing state
// lives in the instance's configuration.
type Gateway interface {
	// SendPriority inspects the message (primarily its recipient) against
	// this instance's configuration and returns a non-negative priority, or
	// PriorityNone when the gateway cannot handle it. It must be pure: no
	// side effects, no network calls.
	SendPriority(msg *model.Message) int

	// Send performs delivery. Network or provider failures surface as the
	// error return; the manager maps them to a failure status rather than
	// propagating them. The returned status becomes the message's terminal
	// state when err is nil.
	Send(ctx context.Context, msg *model.Message) (model.MessageStatus, error)
}

// CanSend reports whether the gateway can deliver the message, derived from
// SendPriority.
func CanSend(g Gateway, msg *model.Message) bool {
	return g.SendPriority(msg) != PriorityNone
}

// Factory builds a gateway bound to one instance's configuration.
type Factory func(cfg model.GatewayConfig) (Gateway, error)
