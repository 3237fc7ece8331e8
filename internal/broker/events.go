package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"raffle-service/internal/models"
	"raffle-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventWriter is the producer side used by EventPublisher
type EventWriter interface {
	PublishEvent(ctx context.Context, key string, event interface{}) error
}

// EventPublisher handles publishing domain events. Order and draw events go
// to the events topic keyed by raffle so per-raffle ordering is kept; webhook
// retries go to their own topic.
type EventPublisher struct {
	events  EventWriter
	retries EventWriter
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(events, retries EventWriter) *EventPublisher {
	return &EventPublisher{events: events, retries: retries}
}

func raffleKey(raffleID int64) string {
	return fmt.Sprintf("raffle-%d", raffleID)
}

// PublishOrderEvent publishes an order lifecycle event
func (ep *EventPublisher) PublishOrderEvent(ctx context.Context, event *models.OrderEvent) error {
	return ep.events.PublishEvent(ctx, raffleKey(event.RaffleID), event)
}

// PublishWinnerDrawn publishes WinnerDrawn event
func (ep *EventPublisher) PublishWinnerDrawn(ctx context.Context, event *models.WinnerDrawnEvent) error {
	return ep.events.PublishEvent(ctx, raffleKey(event.RaffleID), event)
}

// PublishWebhookRetry queues a failed webhook delivery
func (ep *EventPublisher) PublishWebhookRetry(ctx context.Context, event *models.WebhookRetryEvent) error {
	if ep.retries == nil {
		return fmt.Errorf("webhook retry topic not configured")
	}
	return ep.retries.PublishEvent(ctx, event.EventID, event)
}

// EventHandler handles incoming events
type EventHandler struct {
	onWebhookRetry func(context.Context, *models.WebhookRetryEvent) error
	logger         *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnWebhookRetry registers a handler for PAYMENT_WEBHOOK_RETRY events
func (eh *EventHandler) OnWebhookRetry(handler func(context.Context, *models.WebhookRetryEvent) error) {
	eh.onWebhookRetry = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeWebhookRetry:
		if eh.onWebhookRetry != nil {
			var event models.WebhookRetryEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal WebhookRetry event: %w", err)
			}
			return eh.onWebhookRetry(ctx, &event)
		}

	default:
		eh.logger.Warn("Unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}
