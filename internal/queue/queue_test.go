package queue

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/textroute/sms-router/pkg/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, redis.RedisAdapter) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	// Use unique connection name per test to avoid global adapter caching issues
	connName := t.Name() + "-" + mr.Addr()
	adapter, err := redis.NewRedisAdapter(connName, "", &goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, err)

	return mr, adapter
}

func testQueueConfig(name string) QueueConfig {
	return QueueConfig{
		Name:              name,
		ConsumerGroup:     "test-group",
		ConsumerName:      "test-consumer",
		MaxRetries:        3,
		VisibilityTimeout: 5 * time.Second,
		PollInterval:      50 * time.Millisecond,
		BatchSize:         10,
		MaxLen:            1000,
		EnableDLQ:         true,
	}
}

func TestQueue_PublishAndConsume(t *testing.T) {
	mr, adapter := setupTestRedis(t)
	defer mr.Close()

	q, err := NewQueue(adapter, testQueueConfig("test:queue"))
	require.NoError(t, err)

	ctx := context.Background()
	testData := map[string]string{"recipient": "+447123456789"}

	_, err = q.PublishJSON(ctx, testData, map[string]string{"request_id": "abc"})
	require.NoError(t, err)

	received := make(chan bool, 1)
	handler := func(ctx context.Context, msg *Message) error {
		var data map[string]string
		err := json.Unmarshal(msg.Data, &data)
		assert.NoError(t, err)
		assert.Equal(t, "+447123456789", data["recipient"])
		assert.Equal(t, "abc", msg.Metadata["request_id"])
		received <- true
		return nil
	}

	require.NoError(t, q.Consume(handler))

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("message not received")
	}

	require.NoError(t, q.Stop(time.Second))
}

func TestQueue_RequiresName(t *testing.T) {
	mr, adapter := setupTestRedis(t)
	defer mr.Close()

	_, err := NewQueue(adapter, QueueConfig{})
	assert.Error(t, err)
}

func TestQueue_ConsumeRequiresHandler(t *testing.T) {
	mr, adapter := setupTestRedis(t)
	defer mr.Close()

	q, err := NewQueue(adapter, testQueueConfig("test:queue:nohandler"))
	require.NoError(t, err)

	assert.Error(t, q.Consume(nil))
}

func TestQueue_GetStats(t *testing.T) {
	mr, adapter := setupTestRedis(t)
	defer mr.Close()

	q, err := NewQueue(adapter, testQueueConfig("test:queue:stats"))
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := q.PublishJSON(ctx, map[string]int{"n": i}, nil)
		require.NoError(t, err)
	}

	stats, err := q.GetStats()
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalMessages)
}
