package gateway

import (
	"context"
	"testing"

	"github.com/textroute/sms-router/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubGateway struct {
	priority int
}

func (s *stubGateway) SendPriority(msg *model.Message) int { return s.priority }

func (s *stubGateway) Send(ctx context.Context, msg *model.Message) (model.MessageStatus, error) {
	return model.MessageStatusGatewaySent, nil
}

func TestRegistry_ResolveAbsent(t *testing.T) {
	r := NewRegistry()

	_, ok := r.Resolve("uninstalled")
	assert.False(t, ok)
	assert.False(t, r.Installed("uninstalled"))

	inst := &model.GatewayInstance{ID: 1, Gateway: "uninstalled", Enabled: true}
	g, ok := r.Build(inst)
	assert.False(t, ok)
	assert.Nil(t, g)
}

func TestRegistry_RegisterAndBuild(t *testing.T) {
	r := NewRegistry()
	r.Register("stub", func(cfg model.GatewayConfig) (Gateway, error) {
		p, _ := configInt(cfg["priority"])
		return &stubGateway{priority: p}, nil
	})

	assert.True(t, r.Installed("stub"))
	assert.Contains(t, r.Types(), "stub")

	inst := &model.GatewayInstance{
		ID:      1,
		Gateway: "stub",
		Config:  model.GatewayConfig{"priority": 4},
		Enabled: true,
	}
	g, ok := r.Build(inst)
	require.True(t, ok)
	assert.Equal(t, 4, g.SendPriority(&model.Message{Recipient: "+447123456789"}))
}

func TestRegistry_BuildUnusableConfig(t *testing.T) {
	r := NewRegistry()
	r.Register(TypePrefix, NewPrefixGateway)

	// No prefixes table: factory errors, Build reports absent instead of
	// propagating.
	inst := &model.GatewayInstance{ID: 2, Gateway: TypePrefix, Config: model.GatewayConfig{}, Enabled: true}
	g, ok := r.Build(inst)
	assert.False(t, ok)
	assert.Nil(t, g)
}

func TestCanSend(t *testing.T) {
	g := &stubGateway{priority: PriorityNone}
	assert.False(t, CanSend(g, &model.Message{Recipient: "+10000000000"}))

	g.priority = 0
	assert.True(t, CanSend(g, &model.Message{Recipient: "+10000000000"}), "zero is a usable priority")
}
