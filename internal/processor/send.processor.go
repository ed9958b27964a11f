package processor

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/textroute/sms-router/internal/manager"
	"github.com/textroute/sms-router/internal/model"
	"github.com/textroute/sms-router/internal/queue"
	"github.com/textroute/sms-router/pkg/logger"
	"github.com/textroute/sms-router/pkg/prom"
)

// Dispatcher is the synchronous send pipeline the processor feeds queued
// requests into.
type Dispatcher interface {
	Send(ctx context.Context, req manager.SendRequest) (*model.Message, error)
}

// SendProcessor executes queued send requests exactly once. The queue gives
// at-least-once delivery; the idempotency layer keyed by stream entry id
// collapses redeliveries.
type SendProcessor struct {
	dispatcher  Dispatcher
	idempotency *IdempotencyService
}

func NewSendProcessor(dispatcher Dispatcher, idempotency *IdempotencyService) *SendProcessor {
	return &SendProcessor{
		dispatcher:  dispatcher,
		idempotency: idempotency,
	}
}

func (p *SendProcessor) GetType() string {
	return "send_request"
}

func (p *SendProcessor) Process(ctx context.Context, queueMessage *queue.Message) error {
	var req manager.SendRequest
	if err := json.Unmarshal(queueMessage.Data, &req); err != nil {
		logger.Error("failed to unmarshal send request", "queue_id", queueMessage.ID, "error", err)
		return err // to DLQ, a malformed payload never parses on retry
	}

	requestID := queueMessage.ID

	procCtx, err := p.idempotency.AcquireProcessingLock(ctx, requestID)
	if err != nil {
		if errors.Is(err, ErrAlreadyProcessed) {
			logger.Info("send request already dispatched, skipping", "request_id", requestID)
			return nil
		}
		if errors.Is(err, ErrMaxRetriesExceeded) {
			logger.Error("send request exhausted retries", "request_id", requestID, "recipient", req.Recipient)
			return nil // ack so the queue moves it to DLQ bookkeeping
		}
		if errors.Is(err, ErrLockAcquireFailed) {
			logger.Info("lock held by another consumer, will retry", "request_id", requestID)
			return errors.New("lock held by another consumer")
		}
		logger.Error("failed to acquire lock", "request_id", requestID, "error", err)
		return err
	}

	defer func() {
		if procCtx.lockAcquired {
			p.idempotency.ReleaseLock(ctx, procCtx)
		}
	}()

	logger.Info("dispatching queued send request",
		"request_id", requestID,
		"recipient", req.Recipient,
		"retry_count", procCtx.RetryCount,
		"is_retry", procCtx.IsRetry)

	// The request was validated before enqueue; Send re-checks anyway. A
	// routing failure or gateway failure is recorded on the message and is
	// NOT a processing error, so the entry is acked either way.
	msg, err := p.dispatcher.Send(ctx, req)
	if err != nil {
		logger.Error("failed to dispatch send request", "request_id", requestID, "error", err)
		if markErr := p.idempotency.MarkFailure(ctx, procCtx, err); markErr != nil {
			logger.Error("failed to mark failure", "request_id", requestID, "error", markErr)
		}
		return err
	}

	if !queueMessage.Timestamp.IsZero() {
		prom.AddHistogram(prom.SystemQueue, prom.MetricDispatchLag,
			time.Since(queueMessage.Timestamp).Seconds())
	}

	logger.Info("send request dispatched",
		"request_id", requestID,
		"message_id", msg.ID,
		"status", msg.Status,
		"retry_count", procCtx.RetryCount)

	if markErr := p.idempotency.MarkSuccess(ctx, procCtx); markErr != nil {
		logger.Error("failed to mark success", "request_id", requestID, "error", markErr)
	}
	return nil
}
