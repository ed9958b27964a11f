package processor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/textroute/sms-router/pkg/redis"
	goredis "github.com/redis/go-redis/v9"
)

// Map-backed Redis adapter, enough for the idempotency key dance.
type mockRedisAdapter struct {
	data map[string][]byte
	ttls map[string]time.Time
}

func newMockRedisAdapter() *mockRedisAdapter {
	return &mockRedisAdapter{
		data: make(map[string][]byte),
		ttls: make(map[string]time.Time),
	}
}

func (m *mockRedisAdapter) SetNX(key string, value []byte, ttl time.Duration) (bool, error) {
	if _, exists := m.data[key]; exists {
		return false, nil
	}
	m.data[key] = value
	if ttl > 0 {
		m.ttls[key] = time.Now().Add(ttl)
	}
	return true, nil
}

func (m *mockRedisAdapter) Set(key string, value []byte, ttl time.Duration) error {
	m.data[key] = value
	if ttl > 0 {
		m.ttls[key] = time.Now().Add(ttl)
	}
	return nil
}

func (m *mockRedisAdapter) Get(key string) ([]byte, error) {
	if ttl, ok := m.ttls[key]; ok && time.Now().After(ttl) {
		delete(m.data, key)
		delete(m.ttls, key)
		return nil, redis.NilError
	}
	if value, ok := m.data[key]; ok {
		return value, nil
	}
	return nil, redis.NilError
}

func (m *mockRedisAdapter) Del(key string) error {
	delete(m.data, key)
	delete(m.ttls, key)
	return nil
}

func (m *mockRedisAdapter) Exist(key string) (int64, error) {
	if ttl, ok := m.ttls[key]; ok && time.Now().After(ttl) {
		delete(m.data, key)
		delete(m.ttls, key)
		return 0, nil
	}
	if _, ok := m.data[key]; ok {
		return 1, nil
	}
	return 0, nil
}

func (m *mockRedisAdapter) Client() goredis.UniversalClient { return nil }

// Stream operations are untouched by the idempotency layer.
func (m *mockRedisAdapter) XAdd(key string, values map[string]interface{}) (string, error) {
	return "", nil
}
func (m *mockRedisAdapter) XLen(key string) (int64, error)            { return 0, nil }
func (m *mockRedisAdapter) XTrimApprox(key string, maxLen int64) error { return nil }
func (m *mockRedisAdapter) XGroupCreateMkStream(key, group, start string) error {
	return nil
}
func (m *mockRedisAdapter) XReadGroup(group, consumer, key, id string, count int64) ([]redis.StreamMessage, error) {
	return nil, nil
}
func (m *mockRedisAdapter) XAck(key, group string, ids ...string) error { return nil }
func (m *mockRedisAdapter) XPending(key, group string) (*redis.PendingSummary, error) {
	return nil, nil
}
func (m *mockRedisAdapter) XPendingExt(key, group, start, end string, count int64) ([]redis.PendingMessage, error) {
	return nil, nil
}
func (m *mockRedisAdapter) XClaim(key, group, consumer string, minIdle time.Duration, ids ...string) ([]redis.StreamMessage, error) {
	return nil, nil
}

func newTestIdempotencyService() (*IdempotencyService, *mockRedisAdapter) {
	adapter := newMockRedisAdapter()
	svc := NewIdempotencyService(adapter, DefaultIdempotencyConfig())
	return svc, adapter
}

func TestIdempotency_AcquireLock(t *testing.T) {
	svc, _ := newTestIdempotencyService()
	ctx := context.Background()

	pc, err := svc.AcquireProcessingLock(ctx, "1700000000-0")
	if err != nil {
		t.Fatalf("expected lock to be acquired, got error: %v", err)
	}
	if pc.RequestID != "1700000000-0" {
		t.Errorf("unexpected request id: %s", pc.RequestID)
	}
	if pc.RetryCount != 0 || pc.IsRetry {
		t.Errorf("fresh request should not be a retry: count=%d retry=%v", pc.RetryCount, pc.IsRetry)
	}
	if !pc.lockAcquired {
		t.Error("lock should be marked as acquired")
	}
}

func TestIdempotency_ConcurrentLockRejected(t *testing.T) {
	svc, _ := newTestIdempotencyService()
	ctx := context.Background()

	_, err := svc.AcquireProcessingLock(ctx, "req-1")
	if err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}

	_, err = svc.AcquireProcessingLock(ctx, "req-1")
	if !errors.Is(err, ErrLockAcquireFailed) {
		t.Errorf("expected ErrLockAcquireFailed, got: %v", err)
	}
}

func TestIdempotency_AlreadyProcessed(t *testing.T) {
	svc, _ := newTestIdempotencyService()
	ctx := context.Background()

	pc, err := svc.AcquireProcessingLock(ctx, "req-1")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if err := svc.MarkSuccess(ctx, pc); err != nil {
		t.Fatalf("mark success failed: %v", err)
	}

	_, err = svc.AcquireProcessingLock(ctx, "req-1")
	if !errors.Is(err, ErrAlreadyProcessed) {
		t.Errorf("expected ErrAlreadyProcessed, got: %v", err)
	}

	processed, err := svc.IsProcessed(ctx, "req-1")
	if err != nil {
		t.Fatalf("IsProcessed failed: %v", err)
	}
	if !processed {
		t.Error("request should be marked as processed")
	}
}

func TestIdempotency_RetryCountAccumulates(t *testing.T) {
	svc, _ := newTestIdempotencyService()
	ctx := context.Background()

	pc, err := svc.AcquireProcessingLock(ctx, "req-1")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if err := svc.MarkFailure(ctx, pc, errors.New("gateway down")); err != nil {
		t.Fatalf("mark failure failed: %v", err)
	}

	count, err := svc.GetRetryCount(ctx, "req-1")
	if err != nil {
		t.Fatalf("GetRetryCount failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected retry count 1, got %d", count)
	}

	pc, err = svc.AcquireProcessingLock(ctx, "req-1")
	if err != nil {
		t.Fatalf("re-acquire after failure should succeed: %v", err)
	}
	if !pc.IsRetry || pc.RetryCount != 1 {
		t.Errorf("expected retry context, got count=%d retry=%v", pc.RetryCount, pc.IsRetry)
	}
}

func TestIdempotency_MaxRetriesExceeded(t *testing.T) {
	svc, _ := newTestIdempotencyService()
	ctx := context.Background()

	for i := 0; i < svc.config.MaxRetries; i++ {
		pc, err := svc.AcquireProcessingLock(ctx, "req-1")
		if err != nil {
			t.Fatalf("acquire %d failed: %v", i, err)
		}
		if err := svc.MarkFailure(ctx, pc, errors.New("still failing")); err != nil {
			t.Fatalf("mark failure %d failed: %v", i, err)
		}
	}

	_, err := svc.AcquireProcessingLock(ctx, "req-1")
	if !errors.Is(err, ErrMaxRetriesExceeded) {
		t.Errorf("expected ErrMaxRetriesExceeded, got: %v", err)
	}
}

func TestIdempotency_ReleaseLockAllowsReacquire(t *testing.T) {
	svc, _ := newTestIdempotencyService()
	ctx := context.Background()

	pc, err := svc.AcquireProcessingLock(ctx, "req-1")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if err := svc.ReleaseLock(ctx, pc); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if pc.lockAcquired {
		t.Error("lock should be marked as released")
	}

	if _, err := svc.AcquireProcessingLock(ctx, "req-1"); err != nil {
		t.Errorf("re-acquire after release should succeed: %v", err)
	}
}

func TestIdempotency_SuccessCleansRetryCounter(t *testing.T) {
	svc, adapter := newTestIdempotencyService()
	ctx := context.Background()

	pc, _ := svc.AcquireProcessingLock(ctx, "req-1")
	_ = svc.MarkFailure(ctx, pc, errors.New("transient"))

	pc, err := svc.AcquireProcessingLock(ctx, "req-1")
	if err != nil {
		t.Fatalf("re-acquire failed: %v", err)
	}
	if err := svc.MarkSuccess(ctx, pc); err != nil {
		t.Fatalf("mark success failed: %v", err)
	}

	if _, ok := adapter.data[svc.config.RetryKeyPrefix+"req-1"]; ok {
		t.Error("retry counter should be cleaned up on success")
	}
	if _, ok := adapter.data[svc.config.LockKeyPrefix+"req-1"]; ok {
		t.Error("lock should be cleaned up on success")
	}
}
