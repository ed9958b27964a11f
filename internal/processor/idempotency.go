package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/textroute/sms-router/pkg/logger"
	"github.com/textroute/sms-router/pkg/redis"
)

var (
	ErrAlreadyProcessed   = errors.New("send request already processed")
	ErrLockAcquireFailed  = errors.New("failed to acquire processing lock")
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")
)

type IdempotencyConfig struct {
	LockTTL time.Duration

	ProcessedTTL time.Duration

	MaxRetries int

	RetryKeyPrefix string

	LockKeyPrefix string

	ProcessedKeyPrefix string
}

func DefaultIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{
		LockTTL:            30 * time.Second,
		ProcessedTTL:       24 * time.Hour,
		MaxRetries:         3,
		RetryKeyPrefix:     "dispatch:retry:",
		LockKeyPrefix:      "dispatch:lock:",
		ProcessedKeyPrefix: "dispatch:done:",
	}
}

// IdempotencyService gives every queued send request at-most-once dispatch:
// a short-lived lock serializes concurrent consumers and a long-lived done
// marker absorbs redeliveries after a crash.
type IdempotencyService struct {
	redis  redis.RedisAdapter
	config IdempotencyConfig
}

func NewIdempotencyService(redisAdapter redis.RedisAdapter, config IdempotencyConfig) *IdempotencyService {
	return &IdempotencyService{
		redis:  redisAdapter,
		config: config,
	}
}

type ProcessingContext struct {
	RequestID    string
	RetryCount   int
	IsRetry      bool
	lockAcquired bool
	service      *IdempotencyService
}

func (s *IdempotencyService) AcquireProcessingLock(ctx context.Context, requestID string) (*ProcessingContext, error) {
	processedKey := s.config.ProcessedKeyPrefix + requestID
	exists, err := s.redis.Exist(processedKey)
	if err != nil {
		// A failed check must not block dispatch; a duplicate send beats a
		// dropped one here.
		logger.Warn("failed to check processed marker", "request_id", requestID, "error", err)
	} else if exists > 0 {
		return nil, ErrAlreadyProcessed
	}

	retryKey := s.config.RetryKeyPrefix + requestID
	retryCountBytes, err := s.redis.Get(retryKey)
	retryCount := 0
	if err == nil && len(retryCountBytes) > 0 {
		fmt.Sscanf(string(retryCountBytes), "%d", &retryCount)
	}

	if retryCount >= s.config.MaxRetries {
		logger.Error("max retries exceeded for send request", "request_id", requestID, "retry_count", retryCount)
		return nil, fmt.Errorf("%w: request_id=%s, retries=%d", ErrMaxRetriesExceeded, requestID, retryCount)
	}

	lockKey := s.config.LockKeyPrefix + requestID
	lockValue := []byte(fmt.Sprintf("%d", time.Now().UnixNano()))

	acquired, err := s.redis.SetNX(lockKey, lockValue, s.config.LockTTL)
	if err != nil {
		logger.Error("failed to acquire lock", "request_id", requestID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrLockAcquireFailed, err)
	}

	if !acquired {
		logger.Info("lock already held by another consumer", "request_id", requestID)
		return nil, ErrLockAcquireFailed
	}

	logger.Debug("processing lock acquired",
		"request_id", requestID,
		"retry_count", retryCount,
		"lock_ttl", s.config.LockTTL)

	return &ProcessingContext{
		RequestID:    requestID,
		RetryCount:   retryCount,
		IsRetry:      retryCount > 0,
		lockAcquired: true,
		service:      s,
	}, nil
}

func (s *IdempotencyService) MarkSuccess(ctx context.Context, pc *ProcessingContext) error {
	requestID := pc.RequestID

	processedKey := s.config.ProcessedKeyPrefix + requestID
	err := s.redis.Set(processedKey, []byte("1"), s.config.ProcessedTTL)
	if err != nil {
		logger.Error("failed to set processed marker", "request_id", requestID, "error", err)
		return fmt.Errorf("failed to mark as processed: %w", err)
	}

	s.cleanup(ctx, pc)

	logger.Debug("send request marked as processed",
		"request_id", requestID,
		"retry_count", pc.RetryCount)

	return nil
}

func (s *IdempotencyService) MarkFailure(ctx context.Context, pc *ProcessingContext, reason error) error {
	requestID := pc.RequestID

	retryKey := s.config.RetryKeyPrefix + requestID
	newRetryCount := pc.RetryCount + 1
	retryValue := []byte(fmt.Sprintf("%d", newRetryCount))

	// Keep the counter around so retries across consumers accumulate.
	err := s.redis.Set(retryKey, retryValue, s.config.ProcessedTTL)
	if err != nil {
		logger.Error("failed to increment retry counter", "request_id", requestID, "error", err)
	}

	lockKey := s.config.LockKeyPrefix + requestID
	if err := s.redis.Del(lockKey); err != nil {
		logger.Warn("failed to remove lock", "request_id", requestID, "error", err)
	}

	logger.Warn("send request dispatch failed, will retry",
		"request_id", requestID,
		"retry_count", newRetryCount,
		"max_retries", s.config.MaxRetries,
		"reason", reason)

	return nil
}

func (s *IdempotencyService) ReleaseLock(ctx context.Context, pc *ProcessingContext) error {
	if pc == nil || !pc.lockAcquired {
		return nil
	}

	lockKey := s.config.LockKeyPrefix + pc.RequestID
	if err := s.redis.Del(lockKey); err != nil {
		logger.Warn("failed to release lock", "request_id", pc.RequestID, "error", err)
		return err
	}

	pc.lockAcquired = false
	return nil
}

func (s *IdempotencyService) cleanup(ctx context.Context, pc *ProcessingContext) {
	requestID := pc.RequestID

	lockKey := s.config.LockKeyPrefix + requestID
	if err := s.redis.Del(lockKey); err != nil {
		logger.Warn("failed to cleanup lock", "request_id", requestID, "error", err)
	}

	retryKey := s.config.RetryKeyPrefix + requestID
	if err := s.redis.Del(retryKey); err != nil {
		logger.Warn("failed to cleanup retry counter", "request_id", requestID, "error", err)
	}

	pc.lockAcquired = false
}

func (s *IdempotencyService) GetRetryCount(ctx context.Context, requestID string) (int, error) {
	retryKey := s.config.RetryKeyPrefix + requestID
	retryCountBytes, err := s.redis.Get(retryKey)
	if err != nil {
		if err == redis.NilError {
			return 0, nil
		}
		return 0, err
	}

	retryCount := 0
	fmt.Sscanf(string(retryCountBytes), "%d", &retryCount)
	return retryCount, nil
}

func (s *IdempotencyService) IsProcessed(ctx context.Context, requestID string) (bool, error) {
	processedKey := s.config.ProcessedKeyPrefix + requestID
	exists, err := s.redis.Exist(processedKey)
	if err != nil {
		return false, err
	}
	return exists > 0, nil
}
