package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeOrderCreated   = "ORDER_CREATED"
	EventTypeOrderPaid      = "ORDER_PAID"
	EventTypeOrderUpdated   = "ORDER_UPDATED"
	EventTypeOrderCancelled = "ORDER_CANCELLED"
	EventTypeOrderExpired   = "ORDER_EXPIRED"
	EventTypeOrderDeleted   = "ORDER_DELETED"
	EventTypeWinnerDrawn    = "WINNER_DRAWN"
	EventTypeWebhookRetry   = "PAYMENT_WEBHOOK_RETRY"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderEvent is published on every order transition
type OrderEvent struct {
	BaseEvent
	OrderID       int64           `json:"order_id"`
	Folio         string          `json:"folio"`
	RaffleID      int64           `json:"raffle_id"`
	UserID        int64           `json:"user_id"`
	Status        OrderStatus     `json:"status"`
	Tickets       []int           `json:"tickets"`
	Total         decimal.Decimal `json:"total"`
	PaymentMethod string          `json:"payment_method,omitempty"`
}

// WinnerDrawnEvent is published after a draw is recorded
type WinnerDrawnEvent struct {
	BaseEvent
	RaffleID  int64  `json:"raffle_id"`
	OrderID   int64  `json:"order_id"`
	Folio     string `json:"folio"`
	Ticket    int    `json:"ticket"`
	Seed      int64  `json:"seed"`
	PoolSize  int    `json:"pool_size"`
	DrawIndex int    `json:"draw_index"`
}

// WebhookRetryEvent carries a provider webhook whose processing failed.
// Headers are kept so the signature is verified again on every attempt.
type WebhookRetryEvent struct {
	BaseEvent
	Provider  string              `json:"provider"`
	Headers   map[string][]string `json:"headers,omitempty"`
	Payload   []byte              `json:"payload"`
	Attempt   int                 `json:"attempt"`
	NotBefore time.Time           `json:"not_before"`
}
