package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/textroute/sms-router/internal/model"
	"github.com/textroute/sms-router/pkg/pg"
	"gorm.io/gorm"
)

var (
	// ErrMessageNotFound is returned when a Get filter matches no message.
	ErrMessageNotFound = errors.New("message not found")
	// ErrMultipleMessages is returned when a Get filter matches more than one
	// message; Get is an exactly-one lookup.
	ErrMultipleMessages = errors.New("multiple messages match filter")
)

type MessageRepository struct {
	*pg.DB
}

func NewMessageRepository(db *pg.DB) *MessageRepository {
	return &MessageRepository{
		db,
	}
}

func (r *MessageRepository) Create(ctx context.Context, msg *model.Message) (*model.Message, error) {
	entity := toMessageEntity(msg)
	entity.ID = 0 // identity is assigned here, never by the caller

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toMessageModel(entity), nil
}

// Update overwrites the stored message identified by msg.ID.
func (r *MessageRepository) Update(ctx context.Context, msg *model.Message) (*model.Message, error) {
	if msg.ID == 0 {
		return nil, ErrMessageNotFound
	}
	entity := toMessageEntity(msg)

	res := r.Write(ctx).WithContext(ctx).
		Model(&MessageEntity{}).
		Where("id = ?", entity.ID).
		Select("recipient", "content", "component", "message_type",
			"recipient_user_id", "sensitive", "status", "gateway_id", "time_created").
		Updates(entity)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrMessageNotFound
	}

	return toMessageModel(entity), nil
}

// Get fetches exactly one message. Zero matches yields ErrMessageNotFound,
// more than one yields ErrMultipleMessages.
func (r *MessageRepository) Get(ctx context.Context, f model.MessageFilter) (*model.Message, error) {
	q := applyMessageFilter(r.Read(ctx).WithContext(ctx).Model(&MessageEntity{}), f)

	var entities []*MessageEntity
	if err := q.Limit(2).Find(&entities).Error; err != nil {
		return nil, err
	}
	switch len(entities) {
	case 0:
		return nil, ErrMessageNotFound
	case 1:
		return toMessageModel(entities[0]), nil
	default:
		return nil, ErrMultipleMessages
	}
}

func (r *MessageRepository) List(ctx context.Context, f model.MessageFilter) ([]*model.Message, int64, error) {
	q := applyMessageFilter(r.Read(ctx).WithContext(ctx).Model(&MessageEntity{}), f)

	// Count before pagination
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	order := "id"
	if f.Desc {
		order += " DESC"
	} else {
		order += " ASC"
	}

	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	var entities []*MessageEntity
	if err := q.Order(order).Limit(limit).Offset(offset).Find(&entities).Error; err != nil {
		return nil, 0, err
	}

	return toMessageModels(entities), total, nil
}

// MessageIterator is a lazy forward-only cursor over matching messages.
type MessageIterator interface {
	Next() (*model.Message, bool)
	Err() error
	Close() error
}

// MessageRows is a lazy cursor over matching messages. Each Iterate call
// produces a fresh cursor; a cursor is consumed forwards only and must be
// closed by the caller.
type MessageRows struct {
	db   *gorm.DB
	rows *sql.Rows
	err  error
}

func (it *MessageRows) Next() (*model.Message, bool) {
	if it.rows == nil {
		return nil, false
	}
	if !it.rows.Next() {
		it.err = it.rows.Err()
		return nil, false
	}
	var e MessageEntity
	if err := it.db.ScanRows(it.rows, &e); err != nil {
		it.err = err
		return nil, false
	}
	return toMessageModel(&e), true
}

func (it *MessageRows) Err() error {
	return it.err
}

func (it *MessageRows) Close() error {
	if it.rows == nil {
		return nil
	}
	return it.rows.Close()
}

// Iterate streams matching messages without materializing the result set.
// Limit/Offset on the filter are ignored; ordering is by ascending id.
func (r *MessageRepository) Iterate(ctx context.Context, f model.MessageFilter) (MessageIterator, error) {
	q := applyMessageFilter(r.Read(ctx).WithContext(ctx).Model(&MessageEntity{}), f)

	rows, err := q.Order("id ASC").Rows()
	if err != nil {
		return nil, err
	}
	return &MessageRows{db: r.Read(ctx), rows: rows}, nil
}

func applyMessageFilter(q *gorm.DB, f model.MessageFilter) *gorm.DB {
	if f.ID != nil {
		q = q.Where("id = ?", *f.ID)
	}
	if f.Recipient != nil && *f.Recipient != "" {
		q = q.Where("recipient = ?", *f.Recipient)
	}
	if f.Status != nil {
		q = q.Where("status = ?", string(*f.Status))
	}
	if f.Gateway != nil {
		q = q.Where("gateway_id = ?", *f.Gateway)
	}
	if f.Component != nil && *f.Component != "" {
		q = q.Where("component = ?", *f.Component)
	}
	return q
}
