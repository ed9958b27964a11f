package repository

import (
	"encoding/json"

	"github.com/textroute/sms-router/internal/model"
)

type GatewayInstanceEntity struct {
	ID      int64  `db:"id"      gorm:"primaryKey;autoIncrement;column:id"`
	Gateway string `db:"gateway" gorm:"column:gateway;not null;index"`
	Config  string `db:"config"  gorm:"column:config;not null;default:'{}'"`
	Enabled bool   `db:"enabled" gorm:"column:enabled;not null;default:false;index"`
}

func (GatewayInstanceEntity) TableName() string {
	return "sms_gateways"
}

func toGatewayInstanceEntity(m *model.GatewayInstance) (*GatewayInstanceEntity, error) {
	if m == nil {
		return nil, nil
	}
	cfg := m.Config
	if cfg == nil {
		cfg = model.GatewayConfig{}
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	return &GatewayInstanceEntity{
		ID:      m.ID,
		Gateway: m.Gateway,
		Config:  string(raw),
		Enabled: m.Enabled,
	}, nil
}

func toGatewayInstanceModel(e *GatewayInstanceEntity) (*model.GatewayInstance, error) {
	if e == nil {
		return nil, nil
	}
	cfg := model.GatewayConfig{}
	if e.Config != "" {
		if err := json.Unmarshal([]byte(e.Config), &cfg); err != nil {
			return nil, err
		}
	}
	return &model.GatewayInstance{
		ID:      e.ID,
		Gateway: e.Gateway,
		Config:  cfg,
		Enabled: e.Enabled,
	}, nil
}
