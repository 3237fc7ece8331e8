package service

import (
	"context"
	"time"

	"raffle-service/internal/models"
)

// EventPublisher publishes domain events
type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, event *models.OrderEvent) error
	PublishWinnerDrawn(ctx context.Context, event *models.WinnerDrawnEvent) error
	PublishWebhookRetry(ctx context.Context, event *models.WebhookRetryEvent) error
}

// TicketCache caches the occupied ticket set of a raffle. GetOccupied
// returns a version token on a miss; SetOccupied discards the write if the
// cache was invalidated after that token was read. A positive ttl caps how
// long the entry lives.
type TicketCache interface {
	GetOccupied(ctx context.Context, raffleID int64) (tickets []int, version string, hit bool, err error)
	SetOccupied(ctx context.Context, raffleID int64, version string, tickets []int, ttl time.Duration) error
	Invalidate(ctx context.Context, raffleID int64) error
}

// Clock returns the current time
type Clock func() time.Time
