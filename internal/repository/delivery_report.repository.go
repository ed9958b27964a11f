package repository

import (
	"context"

	"github.com/textroute/sms-router/internal/model"
	"github.com/textroute/sms-router/pkg/pg"
	"gorm.io/gorm"
)

type DeliveryReportRepository struct {
	*pg.DB
}

func NewDeliveryReportRepository(db *pg.DB) *DeliveryReportRepository {
	return &DeliveryReportRepository{
		db,
	}
}

func (r *DeliveryReportRepository) Create(ctx context.Context, report *model.DeliveryReport) (*model.DeliveryReport, error) {
	entity := toDeliveryReportEntity(report)

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toDeliveryReportModel(entity), nil
}

func (r *DeliveryReportRepository) ListByMessage(ctx context.Context, messageID int64) ([]*model.DeliveryReport, error) {
	var entities []*DeliveryReportEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("message_id = ?", messageID).
		Order("id ASC").
		Find(&entities).Error
	if err != nil {
		return nil, err
	}
	return toDeliveryReportModels(entities), nil
}

// ListWithReports joins messages with every report received for them.
// PostgreSQL only: report columns come back as parallel arrays.
func (r *DeliveryReportRepository) ListWithReports(ctx context.Context, f model.MessageFilter) ([]*model.MessageWithDeliveryReports, int64, error) {
	query := r.buildWithReportsQuery(ctx)

	if f.Recipient != nil && *f.Recipient != "" {
		query = query.Where("m.recipient = ?", *f.Recipient)
	}
	if f.Status != nil {
		query = query.Where("m.status = ?", string(*f.Status))
	}
	if f.Gateway != nil {
		query = query.Where("m.gateway_id = ?", *f.Gateway)
	}
	if f.Component != nil && *f.Component != "" {
		query = query.Where("m.component = ?", *f.Component)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	order := "m.id ASC"
	if f.Desc {
		order = "m.id DESC"
	}
	query = query.Order(order)

	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}
	query = query.Limit(limit).Offset(offset)

	var entities []*MessageWithReportsEntity
	if err := query.Find(&entities).Error; err != nil {
		return nil, 0, err
	}

	return toMessageWithReportsModels(entities), total, nil
}

func (r *DeliveryReportRepository) buildWithReportsQuery(ctx context.Context) *gorm.DB {
	return r.Read(ctx).WithContext(ctx).
		Table("messages AS m").
		Select(`
            m.id                  AS id,
            m.recipient           AS recipient,
            m.content             AS content,
            m.component           AS component,
            m.message_type        AS message_type,
            m.recipient_user_id   AS recipient_user_id,
            m.sensitive           AS sensitive,
            m.status              AS status,
            m.gateway_id          AS gateway_id,
            m.time_created        AS time_created,

            COALESCE(array_agg(dr.id ORDER BY dr.id) FILTER (WHERE dr.id IS NOT NULL), '{}')
                                  AS delivery_report_ids,
            COALESCE(array_agg(dr.status ORDER BY dr.id) FILTER (WHERE dr.id IS NOT NULL), '{}')
                                  AS delivery_statuses,
            COALESCE(array_agg(to_char(dr.delivered_at, 'YYYY-MM-DD"T"HH24:MI:SSOF') ORDER BY dr.id) FILTER (WHERE dr.id IS NOT NULL), '{}')
                                  AS delivered_ats
        `).
		Joins("LEFT JOIN delivery_reports AS dr ON dr.message_id = m.id").
		Group(`
            m.id,
            m.recipient,
            m.content,
            m.component,
            m.message_type,
            m.recipient_user_id,
            m.sensitive,
            m.status,
            m.gateway_id,
            m.time_created
        `)
}
