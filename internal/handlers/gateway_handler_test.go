package handlers

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/textroute/sms-router/internal/manager"
	"github.com/textroute/sms-router/internal/model"
)

type MockGatewayService struct {
	mock.Mock
}

func (m *MockGatewayService) CreateGatewayInstance(ctx context.Context, gatewayType string, cfg model.GatewayConfig, enabled bool) (*model.GatewayInstance, error) {
	args := m.Called(ctx, gatewayType, cfg, enabled)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.GatewayInstance), args.Error(1)
}

func (m *MockGatewayService) EnableGateway(ctx context.Context, inst *model.GatewayInstance) (*model.GatewayInstance, error) {
	args := m.Called(ctx, inst)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.GatewayInstance), args.Error(1)
}

func (m *MockGatewayService) DisableGateway(ctx context.Context, inst *model.GatewayInstance) (*model.GatewayInstance, error) {
	args := m.Called(ctx, inst)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.GatewayInstance), args.Error(1)
}

func (m *MockGatewayService) GetGatewayInstance(ctx context.Context, id int64) (*model.GatewayInstance, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.GatewayInstance), args.Error(1)
}

func (m *MockGatewayService) GetGatewayInstances(ctx context.Context, gatewayType string) (map[int64]*model.GatewayInstance, error) {
	args := m.Called(ctx, gatewayType)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[int64]*model.GatewayInstance), args.Error(1)
}

func TestGatewayHandler_CreateGateway(t *testing.T) {
	t.Run("successful creation", func(t *testing.T) {
		svc := new(MockGatewayService)
		handler := NewGatewayHandler(svc)

		reqBody := createGatewayRequest{
			Gateway: "prefix",
			Config:  model.GatewayConfig{"prefixes": map[string]any{"+44": 100}},
			Enabled: true,
		}
		bodyBytes, _ := json.Marshal(reqBody)

		svc.On("CreateGatewayInstance", mock.Anything, "prefix", mock.Anything, true).
			Return(&model.GatewayInstance{ID: 1, Gateway: "prefix", Enabled: true}, nil)

		ctx := setupTestContext("POST", "/gateways", bodyBytes)
		handler.CreateGateway(ctx)

		assert.Equal(t, 201, ctx.Response.StatusCode())

		var response model.GatewayInstance
		err := json.Unmarshal(ctx.Response.Body(), &response)
		require.NoError(t, err)
		assert.Equal(t, int64(1), response.ID)

		svc.AssertExpectations(t)
	})

	t.Run("missing gateway type", func(t *testing.T) {
		svc := new(MockGatewayService)
		handler := NewGatewayHandler(svc)

		bodyBytes, _ := json.Marshal(createGatewayRequest{})
		ctx := setupTestContext("POST", "/gateways", bodyBytes)
		handler.CreateGateway(ctx)

		assert.Equal(t, 400, ctx.Response.StatusCode())
		svc.AssertNotCalled(t, "CreateGatewayInstance", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestGatewayHandler_EnableDisable(t *testing.T) {
	t.Run("enable", func(t *testing.T) {
		svc := new(MockGatewayService)
		handler := NewGatewayHandler(svc)

		inst := &model.GatewayInstance{ID: 3, Gateway: "prefix", Enabled: false}
		svc.On("GetGatewayInstance", mock.Anything, int64(3)).Return(inst, nil)
		svc.On("EnableGateway", mock.Anything, inst).
			Return(&model.GatewayInstance{ID: 3, Gateway: "prefix", Enabled: true}, nil)

		ctx := setupTestContext("POST", "/gateways/3/enable", nil)
		ctx.SetUserValue("id", "3")
		handler.EnableGateway(ctx)

		assert.Equal(t, 200, ctx.Response.StatusCode())

		var response model.GatewayInstance
		err := json.Unmarshal(ctx.Response.Body(), &response)
		require.NoError(t, err)
		assert.True(t, response.Enabled)
		svc.AssertExpectations(t)
	})

	t.Run("disable of unknown instance", func(t *testing.T) {
		svc := new(MockGatewayService)
		handler := NewGatewayHandler(svc)

		svc.On("GetGatewayInstance", mock.Anything, int64(99)).
			Return(nil, manager.ErrGatewayInstanceNotFound)

		ctx := setupTestContext("POST", "/gateways/99/disable", nil)
		ctx.SetUserValue("id", "99")
		handler.DisableGateway(ctx)

		assert.Equal(t, 404, ctx.Response.StatusCode())
		svc.AssertNotCalled(t, "DisableGateway", mock.Anything, mock.Anything)
	})
}

func TestGatewayHandler_ListGateways(t *testing.T) {
	svc := new(MockGatewayService)
	handler := NewGatewayHandler(svc)

	svc.On("GetGatewayInstances", mock.Anything, "prefix").
		Return(map[int64]*model.GatewayInstance{
			1: {ID: 1, Gateway: "prefix", Enabled: true},
			2: {ID: 2, Gateway: "prefix", Enabled: false},
		}, nil)

	ctx := setupTestContext("GET", "/gateways?gateway=prefix", nil)
	handler.ListGateways(ctx)

	assert.Equal(t, 200, ctx.Response.StatusCode())

	var response gatewayListResponse
	err := json.Unmarshal(ctx.Response.Body(), &response)
	require.NoError(t, err)
	assert.Len(t, response.Items, 2)
	svc.AssertExpectations(t)
}
