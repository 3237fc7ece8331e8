package broker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"raffle-service/internal/models"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedMessage struct {
	key   string
	event interface{}
}

type fakeWriter struct {
	messages []recordedMessage
}

func (w *fakeWriter) PublishEvent(_ context.Context, key string, event interface{}) error {
	w.messages = append(w.messages, recordedMessage{key: key, event: event})
	return nil
}

func TestPublisherRoutesByTopic(t *testing.T) {
	events, retries := &fakeWriter{}, &fakeWriter{}
	pub := NewEventPublisher(events, retries)
	ctx := context.Background()

	require.NoError(t, pub.PublishOrderEvent(ctx, &models.OrderEvent{
		BaseEvent: models.BaseEvent{EventType: models.EventTypeOrderCreated},
		RaffleID:  3,
		OrderID:   9,
	}))
	require.NoError(t, pub.PublishWinnerDrawn(ctx, &models.WinnerDrawnEvent{RaffleID: 3}))
	require.NoError(t, pub.PublishWebhookRetry(ctx, &models.WebhookRetryEvent{
		BaseEvent: models.BaseEvent{EventID: "evt-1"},
	}))

	require.Len(t, events.messages, 2)
	assert.Equal(t, "raffle-3", events.messages[0].key)
	assert.Equal(t, "raffle-3", events.messages[1].key)
	require.Len(t, retries.messages, 1)
	assert.Equal(t, "evt-1", retries.messages[0].key)

	assert.Error(t, NewEventPublisher(events, nil).PublishWebhookRetry(ctx, &models.WebhookRetryEvent{}))
}

func TestHandleMessageDecodesWebhookRetry(t *testing.T) {
	payload := []byte(`{"id":"WH-1"}`)
	value, err := json.Marshal(models.WebhookRetryEvent{
		BaseEvent: models.BaseEvent{EventID: "evt-2", EventType: models.EventTypeWebhookRetry, Timestamp: time.Now()},
		Provider:  "paypal",
		Payload:   payload,
		Attempt:   2,
	})
	require.NoError(t, err)

	var got *models.WebhookRetryEvent
	h := NewEventHandler()
	h.OnWebhookRetry(func(_ context.Context, e *models.WebhookRetryEvent) error {
		got = e
		return nil
	})

	require.NoError(t, h.HandleMessage(context.Background(), kafka.Message{Value: value}))
	require.NotNil(t, got)
	assert.Equal(t, payload, got.Payload)
	assert.Equal(t, 2, got.Attempt)
	assert.Equal(t, "paypal", got.Provider)

	require.NoError(t, h.HandleMessage(context.Background(), kafka.Message{Value: []byte(`{"event_type":"ORDER_CREATED"}`)}))
	assert.Error(t, h.HandleMessage(context.Background(), kafka.Message{Value: []byte(`nope`)}))
}
