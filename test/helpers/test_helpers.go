package helpers

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/textroute/sms-router/internal/model"
	"github.com/textroute/sms-router/internal/repository"
	"github.com/textroute/sms-router/pkg/pg"
	"github.com/textroute/sms-router/pkg/redis"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func SetupTestDB(t *testing.T) *pg.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	err = db.AutoMigrate(
		&repository.GatewayInstanceEntity{},
		&repository.MessageEntity{},
		&repository.DeliveryReportEntity{},
	)
	require.NoError(t, err)

	pgDB := &pg.DB{}
	pgDBValue := reflect.ValueOf(pgDB).Elem()

	readField := pgDBValue.FieldByName("read")
	writeField := pgDBValue.FieldByName("write")

	readField = reflect.NewAt(readField.Type(), readField.Addr().UnsafePointer()).Elem()
	writeField = reflect.NewAt(writeField.Type(), writeField.Addr().UnsafePointer()).Elem()

	readField.Set(reflect.ValueOf(db))
	writeField.Set(reflect.ValueOf(db))

	return pgDB
}

func SetupTestRedis(t *testing.T) (*miniredis.Miniredis, redis.RedisAdapter) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	adapter, err := redis.NewRedisAdapter("test", "", &goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, err)

	return mr, adapter
}

func CreateTestGatewayInstance(t *testing.T, db *pg.DB, gatewayType, config string, enabled bool) *repository.GatewayInstanceEntity {
	ctx := context.Background()
	inst := &repository.GatewayInstanceEntity{
		Gateway: gatewayType,
		Config:  config,
		Enabled: enabled,
	}
	err := db.Write(ctx).Create(inst).Error
	require.NoError(t, err)
	return inst
}

func CreateTestMessage(t *testing.T, db *pg.DB, recipient, content, component string) *repository.MessageEntity {
	ctx := context.Background()
	msg := &repository.MessageEntity{
		Recipient:   recipient,
		Content:     &content,
		Component:   component,
		MessageType: "notification",
		Status:      string(model.MessageStatusNotSent),
		TimeCreated: time.Now().Unix(),
	}
	err := db.Write(ctx).Create(msg).Error
	require.NoError(t, err)
	return msg
}

func CreateTestDeliveryReport(t *testing.T, db *pg.DB, messageID int64, status string) *repository.DeliveryReportEntity {
	ctx := context.Background()
	deliveredAt := time.Now()
	dr := &repository.DeliveryReportEntity{
		MessageID:   messageID,
		Status:      status,
		DeliveredAt: &deliveredAt,
	}
	err := db.Write(ctx).Create(dr).Error
	require.NoError(t, err)
	return dr
}

func WaitForCondition(t *testing.T, timeout time.Duration, condition func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func AssertEventually(t *testing.T, timeout time.Duration, condition func() bool, msg string) {
	if !WaitForCondition(t, timeout, condition) {
		t.Fatal(msg)
	}
}

func ContextWithTimeout(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

func Ptr[T any](v T) *T {
	return &v
}
