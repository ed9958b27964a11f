package e2e

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/textroute/sms-router/internal/gateway"
	"github.com/textroute/sms-router/internal/manager"
	"github.com/textroute/sms-router/internal/model"
	"github.com/textroute/sms-router/internal/processor"
	"github.com/textroute/sms-router/internal/queue"
	"github.com/textroute/sms-router/internal/repository"
	"github.com/textroute/sms-router/pkg/pg"
	"github.com/textroute/sms-router/pkg/redis"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type testDB = pg.DB

// loopbackGateway delivers in-process so the full pipeline can run without a
// live carrier endpoint. Priority and outcome come from the instance config.
type loopbackGateway struct {
	priority int
	status   model.MessageStatus

	mu   sync.Mutex
	sent []*model.Message
}

func (g *loopbackGateway) SendPriority(msg *model.Message) int {
	return g.priority
}

func (g *loopbackGateway) Send(ctx context.Context, msg *model.Message) (model.MessageStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sent = append(g.sent, msg)
	return g.status, nil
}

func (g *loopbackGateway) sentCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.sent)
}

func (g *loopbackGateway) lastSent() *model.Message {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.sent) == 0 {
		return nil
	}
	return g.sent[len(g.sent)-1]
}

func loopbackFactory(gateways map[int64]*loopbackGateway) gateway.Factory {
	return func(cfg model.GatewayConfig) (gateway.Gateway, error) {
		priority := 0
		if v, ok := cfg["priority"].(float64); ok {
			priority = int(v)
		}
		if v, ok := cfg["priority"].(int); ok {
			priority = v
		}
		status := model.MessageStatusGatewaySent
		if v, ok := cfg["status"].(string); ok && v != "" {
			status = model.MessageStatus(v)
		}
		key := int64(0)
		if v, ok := cfg["key"].(float64); ok {
			key = int64(v)
		}
		if v, ok := cfg["key"].(int); ok {
			key = int64(v)
		}
		g, ok := gateways[key]
		if !ok {
			g = &loopbackGateway{}
			gateways[key] = g
		}
		g.priority = priority
		g.status = status
		return g, nil
	}
}

type TestEnvironment struct {
	DB           *pg.DB
	Redis        *miniredis.Miniredis
	RedisAdapter redis.RedisAdapter
	Queue        *queue.Queue
	InstanceRepo *repository.GatewayInstanceRepository
	MessageRepo  *repository.MessageRepository
	DeliveryRepo *repository.DeliveryReportRepository
	Registry     *gateway.Registry
	Manager      *manager.Manager
	Gateways     map[int64]*loopbackGateway
}

func setupE2EEnvironment(t *testing.T) *TestEnvironment {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	err = db.AutoMigrate(
		&repository.GatewayInstanceEntity{},
		&repository.MessageEntity{},
		&repository.DeliveryReportEntity{},
	)
	require.NoError(t, err)

	pgDB := &testDB{}
	pgDBValue := reflect.ValueOf(pgDB).Elem()

	readField := pgDBValue.FieldByName("read")
	writeField := pgDBValue.FieldByName("write")

	readField = reflect.NewAt(readField.Type(), readField.Addr().UnsafePointer()).Elem()
	writeField = reflect.NewAt(writeField.Type(), writeField.Addr().UnsafePointer()).Elem()

	readField.Set(reflect.ValueOf(db))
	writeField.Set(reflect.ValueOf(db))

	mr, err := miniredis.Run()
	require.NoError(t, err)

	// Use unique connection name per test to avoid global adapter caching issues
	connName := fmt.Sprintf("test-%d", time.Now().UnixNano())
	redisAdapter, err := redis.NewRedisAdapter(connName, "", &goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, err)

	queueConfig := queue.QueueConfig{
		Name:              "test:dispatch",
		ConsumerGroup:     "test-group",
		ConsumerName:      "test-consumer",
		MaxRetries:        3,
		VisibilityTimeout: 5 * time.Second,
		PollInterval:      100 * time.Millisecond,
		BatchSize:         10,
		MaxLen:            1000,
		EnableDLQ:         true,
	}

	q, err := queue.NewQueue(redisAdapter, queueConfig)
	require.NoError(t, err)

	instanceRepo := repository.NewGatewayInstanceRepository(pgDB)
	messageRepo := repository.NewMessageRepository(pgDB)
	deliveryRepo := repository.NewDeliveryReportRepository(pgDB)

	gateways := make(map[int64]*loopbackGateway)
	registry := gateway.NewRegistry()
	registry.Register("loopback", loopbackFactory(gateways))

	mgr := manager.NewManager(instanceRepo, messageRepo, deliveryRepo, registry,
		manager.WithQueue(q))

	return &TestEnvironment{
		DB:           pgDB,
		Redis:        mr,
		RedisAdapter: redisAdapter,
		Queue:        q,
		InstanceRepo: instanceRepo,
		MessageRepo:  messageRepo,
		DeliveryRepo: deliveryRepo,
		Registry:     registry,
		Manager:      mgr,
		Gateways:     gateways,
	}
}

func (env *TestEnvironment) Cleanup() {
	// Stop queue first (gracefully drain messages)
	if env.Queue != nil {
		_ = env.Queue.Stop(5 * time.Second)
	}
	// Give time for any in-flight operations to complete
	time.Sleep(100 * time.Millisecond)
	// Then close Redis
	if env.Redis != nil {
		env.Redis.Close()
	}
}

func (env *TestEnvironment) createInstance(t *testing.T, key, priority int, enabled bool) *model.GatewayInstance {
	inst, err := env.Manager.CreateGatewayInstance(context.Background(), "loopback", model.GatewayConfig{
		"key":      key,
		"priority": priority,
	}, enabled)
	require.NoError(t, err)
	return inst
}

func strptr(s string) *string { return &s }

func TestE2E_SendDeliversAndPersists(t *testing.T) {
	env := setupE2EEnvironment(t)
	defer env.Cleanup()

	ctx := context.Background()
	inst := env.createInstance(t, 0, 50, true)

	msg, err := env.Manager.Send(ctx, manager.SendRequest{
		Recipient:   "+447700900123",
		Content:     strptr("Server maintenance at 02:00 UTC"),
		Component:   "core_announce",
		MessageType: "notification",
	})
	require.NoError(t, err)
	require.NotNil(t, msg)
	assert.NotZero(t, msg.ID)
	assert.Equal(t, model.MessageStatusGatewaySent, msg.Status)
	require.NotNil(t, msg.Gateway)
	assert.Equal(t, inst.ID, *msg.Gateway)

	assert.Equal(t, 1, env.Gateways[0].sentCount())

	var saved repository.MessageEntity
	err = env.DB.Read(ctx).First(&saved, msg.ID).Error
	require.NoError(t, err)
	assert.Equal(t, "+447700900123", saved.Recipient)
	assert.Equal(t, string(model.MessageStatusGatewaySent), saved.Status)
	require.NotNil(t, saved.Content)
	assert.Equal(t, "Server maintenance at 02:00 UTC", *saved.Content)
}

func TestE2E_RoutingPicksHighestPriority(t *testing.T) {
	env := setupE2EEnvironment(t)
	defer env.Cleanup()

	ctx := context.Background()
	env.createInstance(t, 0, 10, true)
	winner := env.createInstance(t, 1, 80, true)
	env.createInstance(t, 2, 40, true)

	msg, err := env.Manager.Send(ctx, manager.SendRequest{
		Recipient:   "+15551234567",
		Content:     strptr("Routing test"),
		Component:   "core_test",
		MessageType: "notification",
	})
	require.NoError(t, err)
	require.NotNil(t, msg.Gateway)
	assert.Equal(t, winner.ID, *msg.Gateway)
	assert.Equal(t, 1, env.Gateways[1].sentCount())
	assert.Equal(t, 0, env.Gateways[0].sentCount())
	assert.Equal(t, 0, env.Gateways[2].sentCount())
}

func TestE2E_DisabledGatewayExcluded(t *testing.T) {
	env := setupE2EEnvironment(t)
	defer env.Cleanup()

	ctx := context.Background()
	env.createInstance(t, 0, 90, false)
	fallback := env.createInstance(t, 1, 5, true)

	msg, err := env.Manager.Send(ctx, manager.SendRequest{
		Recipient:   "+15551234567",
		Content:     strptr("Disabled gateway test"),
		Component:   "core_test",
		MessageType: "notification",
	})
	require.NoError(t, err)
	require.NotNil(t, msg.Gateway)
	assert.Equal(t, fallback.ID, *msg.Gateway)
	assert.Equal(t, 0, env.Gateways[0].sentCount())
}

func TestE2E_NoGatewayAvailable(t *testing.T) {
	env := setupE2EEnvironment(t)
	defer env.Cleanup()

	ctx := context.Background()

	msg, err := env.Manager.Send(ctx, manager.SendRequest{
		Recipient:   "+15551234567",
		Content:     strptr("Nobody home"),
		Component:   "core_test",
		MessageType: "notification",
	})
	require.NoError(t, err)
	assert.Equal(t, model.MessageStatusGatewayNotAvailable, msg.Status)
	assert.Nil(t, msg.Gateway)
	assert.NotZero(t, msg.ID)
}

func TestE2E_SensitiveContentNeverPersisted(t *testing.T) {
	env := setupE2EEnvironment(t)
	defer env.Cleanup()

	ctx := context.Background()
	env.createInstance(t, 0, 50, true)

	msg, err := env.Manager.Send(ctx, manager.SendRequest{
		Recipient:   "+447700900123",
		Content:     strptr("Your one-time code is 924801"),
		Component:   "core_auth",
		MessageType: "mfa",
		Sensitive:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, model.MessageStatusGatewaySent, msg.Status)

	// The carrier saw the real content.
	delivered := env.Gateways[0].lastSent()
	require.NotNil(t, delivered)
	require.NotNil(t, delivered.Content)
	assert.Equal(t, "Your one-time code is 924801", *delivered.Content)

	// The database never did.
	var saved repository.MessageEntity
	err = env.DB.Read(ctx).First(&saved, msg.ID).Error
	require.NoError(t, err)
	assert.Nil(t, saved.Content)
	assert.True(t, saved.Sensitive)
}

func TestE2E_EnqueueAndDispatch(t *testing.T) {
	env := setupE2EEnvironment(t)
	defer env.Cleanup()

	ctx := context.Background()
	env.createInstance(t, 0, 50, true)

	err := env.Manager.Enqueue(ctx, manager.SendRequest{
		Recipient:   "+15551234567",
		Content:     strptr("Queued message"),
		Component:   "core_reminder",
		MessageType: "notification",
	})
	require.NoError(t, err)

	stats, err := env.Queue.GetStats()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stats.TotalMessages, int64(1))

	idempotency := processor.NewIdempotencyService(env.RedisAdapter, processor.DefaultIdempotencyConfig())
	sendProcessor := processor.NewSendProcessor(env.Manager, idempotency)

	processed := make(chan bool, 1)
	handler := func(ctx context.Context, qMsg *queue.Message) error {
		var req manager.SendRequest
		err := json.Unmarshal(qMsg.Data, &req)
		assert.NoError(t, err)
		assert.True(t, req.Async)

		if err := sendProcessor.Process(ctx, qMsg); err != nil {
			return err
		}
		processed <- true
		return nil
	}

	err = env.Queue.Consume(handler)
	require.NoError(t, err)

	select {
	case <-processed:
	case <-time.After(3 * time.Second):
		t.Fatal("queued message not dispatched within timeout")
	}

	assert.Equal(t, 1, env.Gateways[0].sentCount())

	var count int64
	env.DB.Read(ctx).Model(&repository.MessageEntity{}).
		Where("status = ?", string(model.MessageStatusGatewaySent)).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestE2E_SensitiveAsyncRejected(t *testing.T) {
	env := setupE2EEnvironment(t)
	defer env.Cleanup()

	ctx := context.Background()
	env.createInstance(t, 0, 50, true)

	err := env.Manager.Enqueue(ctx, manager.SendRequest{
		Recipient:   "+15551234567",
		Content:     strptr("Code 111111"),
		Component:   "core_auth",
		MessageType: "mfa",
		Sensitive:   true,
	})
	assert.ErrorIs(t, err, manager.ErrSensitiveAsync)

	var count int64
	env.DB.Read(ctx).Model(&repository.MessageEntity{}).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestE2E_DeliveryReportUpdatesMessage(t *testing.T) {
	env := setupE2EEnvironment(t)
	defer env.Cleanup()

	ctx := context.Background()
	env.createInstance(t, 0, 50, true)
	env.Gateways[0].status = model.MessageStatusGatewayQueued

	msg, err := env.Manager.Send(ctx, manager.SendRequest{
		Recipient:   "+15551234567",
		Content:     strptr("Report test"),
		Component:   "core_test",
		MessageType: "notification",
	})
	require.NoError(t, err)
	assert.Equal(t, model.MessageStatusGatewayQueued, msg.Status)

	deliveredAt := time.Now()
	updated, err := env.Manager.ApplyDeliveryReport(ctx, &model.DeliveryReport{
		MessageID:   msg.ID,
		Status:      string(model.MessageStatusGatewaySent),
		DeliveredAt: &deliveredAt,
	})
	require.NoError(t, err)
	assert.Equal(t, model.MessageStatusGatewaySent, updated.Status)
	assert.True(t, updated.Status.IsSent())

	var saved repository.MessageEntity
	err = env.DB.Read(ctx).First(&saved, msg.ID).Error
	require.NoError(t, err)
	assert.Equal(t, string(model.MessageStatusGatewaySent), saved.Status)

	var reportCount int64
	env.DB.Read(ctx).Model(&repository.DeliveryReportEntity{}).
		Where("message_id = ?", msg.ID).Count(&reportCount)
	assert.Equal(t, int64(1), reportCount)
}

func TestE2E_ListMessages(t *testing.T) {
	env := setupE2EEnvironment(t)
	defer env.Cleanup()

	ctx := context.Background()
	env.createInstance(t, 0, 50, true)

	for i := 0; i < 5; i++ {
		_, err := env.Manager.Send(ctx, manager.SendRequest{
			Recipient:   "+15551234567",
			Content:     strptr(fmt.Sprintf("Message %d", i)),
			Component:   "core_test",
			MessageType: "notification",
		})
		require.NoError(t, err)
	}

	messages, total, err := env.Manager.ListMessages(ctx, model.MessageFilter{
		Limit:  10,
		Offset: 0,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Len(t, messages, 5)

	// The lazy path yields the same rows one at a time.
	it, err := env.Manager.GetMessages(ctx, model.MessageFilter{})
	require.NoError(t, err)
	defer it.Close()

	seen := 0
	for {
		_, ok := it.Next()
		if !ok {
			break
		}
		seen++
	}
	require.NoError(t, it.Err())
	assert.Equal(t, 5, seen)
}

func TestE2E_EnableDisableRoundTrip(t *testing.T) {
	env := setupE2EEnvironment(t)
	defer env.Cleanup()

	ctx := context.Background()
	inst := env.createInstance(t, 0, 50, true)

	disabled, err := env.Manager.DisableGateway(ctx, inst)
	require.NoError(t, err)
	assert.False(t, disabled.Enabled)
	// Original value untouched.
	assert.True(t, inst.Enabled)

	enabled, err := env.Manager.GetEnabledGatewayInstances(ctx)
	require.NoError(t, err)
	assert.Empty(t, enabled)

	restored, err := env.Manager.EnableGateway(ctx, disabled)
	require.NoError(t, err)
	assert.True(t, restored.Enabled)

	enabled, err = env.Manager.GetEnabledGatewayInstances(ctx)
	require.NoError(t, err)
	assert.Len(t, enabled, 1)
}
