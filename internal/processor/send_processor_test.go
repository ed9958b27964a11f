package processor

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/textroute/sms-router/internal/manager"
	"github.com/textroute/sms-router/internal/model"
	"github.com/textroute/sms-router/internal/queue"
)

type stubDispatcher struct {
	sent []manager.SendRequest
	err  error
}

func (d *stubDispatcher) Send(ctx context.Context, req manager.SendRequest) (*model.Message, error) {
	d.sent = append(d.sent, req)
	if d.err != nil {
		return nil, d.err
	}
	return &model.Message{ID: 1, Recipient: req.Recipient, Status: model.MessageStatusGatewaySent}, nil
}

func queuedRequest(t *testing.T, id string, req manager.SendRequest) *queue.Message {
	t.Helper()
	data, err := json.Marshal(req)
	require.NoError(t, err)
	return &queue.Message{
		ID:        id,
		Data:      data,
		Timestamp: time.Now(),
	}
}

func TestSendProcessor_Process(t *testing.T) {
	ctx := context.Background()

	t.Run("dispatches and acks", func(t *testing.T) {
		dispatcher := &stubDispatcher{}
		idem, _ := newTestIdempotencyService()
		p := NewSendProcessor(dispatcher, idem)

		msg := queuedRequest(t, "1700000000-0", manager.SendRequest{
			Recipient: "+447123456789",
			Async:     true,
		})

		err := p.Process(ctx, msg)
		require.NoError(t, err)
		require.Len(t, dispatcher.sent, 1)
		assert.Equal(t, "+447123456789", dispatcher.sent[0].Recipient)

		processed, err := idem.IsProcessed(ctx, "1700000000-0")
		require.NoError(t, err)
		assert.True(t, processed)
	})

	t.Run("redelivery is a no-op", func(t *testing.T) {
		dispatcher := &stubDispatcher{}
		idem, _ := newTestIdempotencyService()
		p := NewSendProcessor(dispatcher, idem)

		msg := queuedRequest(t, "1700000000-1", manager.SendRequest{Recipient: "+447123456789"})

		require.NoError(t, p.Process(ctx, msg))
		require.NoError(t, p.Process(ctx, msg))
		assert.Len(t, dispatcher.sent, 1, "second delivery must not dispatch again")
	})

	t.Run("dispatch error nacks for retry", func(t *testing.T) {
		dispatcher := &stubDispatcher{err: errors.New("repository unavailable")}
		idem, _ := newTestIdempotencyService()
		p := NewSendProcessor(dispatcher, idem)

		msg := queuedRequest(t, "1700000000-2", manager.SendRequest{Recipient: "+447123456789"})

		err := p.Process(ctx, msg)
		assert.Error(t, err)

		count, err := idem.GetRetryCount(ctx, "1700000000-2")
		require.NoError(t, err)
		assert.Equal(t, 1, count)
	})

	t.Run("malformed payload goes to DLQ", func(t *testing.T) {
		dispatcher := &stubDispatcher{}
		idem, _ := newTestIdempotencyService()
		p := NewSendProcessor(dispatcher, idem)

		msg := &queue.Message{ID: "1700000000-3", Data: []byte("not json")}

		err := p.Process(ctx, msg)
		assert.Error(t, err)
		assert.Empty(t, dispatcher.sent)
	})
}
