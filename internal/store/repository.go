package store

import (
	"context"
	"time"

	"raffle-service/internal/models"
)

// RaffleTx is the view of the data store available inside a raffle lock
type RaffleTx interface {
	GetRaffle(ctx context.Context, id int64) (*models.Raffle, error)
	UpdateRaffle(ctx context.Context, raffle *models.Raffle) error
	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	ListOrdersByRaffle(ctx context.Context, raffleID int64, statuses ...models.OrderStatus) ([]models.Order, error)
	InsertOrder(ctx context.Context, order *models.Order) error
	UpdateOrder(ctx context.Context, order *models.Order) error
	// TransitionOrder sets the status only if the current status is one of
	// from. It reports whether a row changed.
	TransitionOrder(ctx context.Context, orderID int64, from []models.OrderStatus, to models.OrderStatus, at time.Time) (bool, error)
	DeleteOrder(ctx context.Context, id int64) error
	AdjustSold(ctx context.Context, raffleID int64, delta int) error
	InsertWinner(ctx context.Context, winner *models.Winner) error
}

// Repository is the persistent store used by the services
type Repository interface {
	RaffleTx

	// WithRaffleLock runs fn with every other WithRaffleLock call for the
	// same raffle excluded. fn's writes commit together or not at all.
	WithRaffleLock(ctx context.Context, raffleID int64, fn func(ctx context.Context, tx RaffleTx) error) error

	CreateRaffle(ctx context.Context, raffle *models.Raffle) error
	DeleteRaffle(ctx context.Context, id int64) error
	ListRaffles(ctx context.Context) ([]models.Raffle, error)

	ListOrders(ctx context.Context, filter models.OrderFilter) ([]models.Order, error)
	GetOrderByProviderID(ctx context.Context, providerOrderID string) (*models.Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error)
	SetProviderOrderID(ctx context.Context, orderID int64, providerOrderID string) error
	ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]models.Order, error)

	ListWinners(ctx context.Context, raffleID int64) ([]models.Winner, error)

	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}
