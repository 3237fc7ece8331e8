package worker

import (
	"context"
	"time"

	"raffle-service/internal/broker"
	"raffle-service/internal/models"
	"raffle-service/internal/util"

	"go.uber.org/zap"
)

// WebhookRetrier re-processes a queued webhook delivery
type WebhookRetrier interface {
	RetryWebhook(ctx context.Context, event *models.WebhookRetryEvent, maxAttempts int) error
}

// Requeuer puts a delivery that is not due yet back on the retry topic
type Requeuer interface {
	PublishWebhookRetry(ctx context.Context, event *models.WebhookRetryEvent) error
}

// DefaultHold bounds how long a not-yet-due delivery blocks its partition
const DefaultHold = time.Second

// WebhookWorker consumes the webhook retry topic. A delivery due within hold
// is waited for in place; anything later is published again unchanged after
// hold, so one partition is never blocked for longer than hold per message.
type WebhookWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	retrier      WebhookRetrier
	requeuer     Requeuer
	maxAttempts  int
	hold         time.Duration
	logger       *zap.Logger
}

// NewWebhookWorker creates a new webhook retry worker
func NewWebhookWorker(consumer *broker.Consumer, retrier WebhookRetrier, requeuer Requeuer, maxAttempts int) *WebhookWorker {
	w := &WebhookWorker{
		consumer:    consumer,
		retrier:     retrier,
		requeuer:    requeuer,
		maxAttempts: maxAttempts,
		hold:        DefaultHold,
		logger:      util.GetLogger(),
	}
	w.eventHandler = broker.NewEventHandler()
	w.eventHandler.OnWebhookRetry(w.handleRetry)
	return w
}

func (w *WebhookWorker) handleRetry(ctx context.Context, event *models.WebhookRetryEvent) error {
	wait := time.Until(event.NotBefore)
	if wait > w.hold {
		if err := sleep(ctx, w.hold); err != nil {
			return err
		}
		w.logger.Debug("Webhook retry not due, requeueing",
			zap.String("event_id", event.EventID),
			zap.Time("not_before", event.NotBefore))
		return w.requeuer.PublishWebhookRetry(ctx, event)
	}
	if err := sleep(ctx, wait); err != nil {
		return err
	}
	w.logger.Info("Retrying webhook delivery",
		zap.String("event_id", event.EventID),
		zap.Int("attempt", event.Attempt))
	return w.retrier.RetryWebhook(ctx, event, w.maxAttempts)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Start starts the worker
func (w *WebhookWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting webhook retry worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *WebhookWorker) Stop() error {
	w.logger.Info("Stopping webhook retry worker")
	return w.consumer.Close()
}
