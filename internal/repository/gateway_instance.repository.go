package repository

import (
	"context"
	"errors"

	"github.com/textroute/sms-router/internal/model"
	"github.com/textroute/sms-router/pkg/pg"
)

var (
	// ErrGatewayInstanceNotFound is returned when an instance does not exist.
	ErrGatewayInstanceNotFound = errors.New("gateway instance not found")
)

type GatewayInstanceRepository struct {
	*pg.DB
}

func NewGatewayInstanceRepository(db *pg.DB) *GatewayInstanceRepository {
	return &GatewayInstanceRepository{
		db,
	}
}

func (r *GatewayInstanceRepository) Create(ctx context.Context, inst *model.GatewayInstance) (*model.GatewayInstance, error) {
	entity, err := toGatewayInstanceEntity(inst)
	if err != nil {
		return nil, err
	}

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toGatewayInstanceModel(entity)
}

// UpdateEnabled flips the enabled flag for one instance. The write is a
// single field-level update, never a full-record overwrite.
func (r *GatewayInstanceRepository) UpdateEnabled(ctx context.Context, id int64, enabled bool) error {
	res := r.Write(ctx).WithContext(ctx).
		Model(&GatewayInstanceEntity{}).
		Where("id = ?", id).
		Update("enabled", enabled)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrGatewayInstanceNotFound
	}
	return nil
}

func (r *GatewayInstanceRepository) List(ctx context.Context, f model.GatewayInstanceFilter) ([]*model.GatewayInstance, error) {
	q := r.Read(ctx).WithContext(ctx).Model(&GatewayInstanceEntity{})

	if f.ID != nil {
		q = q.Where("id = ?", *f.ID)
	}
	if f.Gateway != nil && *f.Gateway != "" {
		q = q.Where("gateway = ?", *f.Gateway)
	}
	if f.Enabled != nil {
		q = q.Where("enabled = ?", *f.Enabled)
	}

	var entities []*GatewayInstanceEntity
	if err := q.Order("id ASC").Find(&entities).Error; err != nil {
		return nil, err
	}

	out := make([]*model.GatewayInstance, 0, len(entities))
	for _, e := range entities {
		m, err := toGatewayInstanceModel(e)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}
