package repository

import (
	"context"
	"testing"
	"time"

	"github.com/textroute/sms-router/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeliveryReportRepository_CreateAndList(t *testing.T) {
	db := setupTestDB(t).DB
	msgRepo := NewMessageRepository(db)
	repo := NewDeliveryReportRepository(db)
	ctx := context.Background()

	msg := seedMessage(t, msgRepo, "+447123456789", model.MessageStatusGatewaySent)

	now := time.Now().UTC().Truncate(time.Second)
	created, err := repo.Create(ctx, &model.DeliveryReport{
		MessageID:   msg.ID,
		Status:      string(model.MessageStatusGatewaySent),
		DeliveredAt: &now,
	})
	require.NoError(t, err)
	assert.NotZero(t, created.ID)

	_, err = repo.Create(ctx, &model.DeliveryReport{
		MessageID: msg.ID,
		Status:    string(model.MessageStatusGatewayFailed),
	})
	require.NoError(t, err)

	reports, err := repo.ListByMessage(ctx, msg.ID)
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.Equal(t, string(model.MessageStatusGatewaySent), reports[0].Status)
	assert.Nil(t, reports[1].DeliveredAt)
}

func TestDeliveryReportRepository_ListWithReports(t *testing.T) {
	t.Skip("Skipping due to PostgreSQL-specific array aggregation functions not supported in SQLite")
}
