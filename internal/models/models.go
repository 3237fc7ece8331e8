package models

import (
	"time"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// RaffleStatus is the lifecycle state of a raffle
type RaffleStatus string

// Raffle statuses
const (
	RaffleStatusDraft    RaffleStatus = "draft"
	RaffleStatusActive   RaffleStatus = "active"
	RaffleStatusFinished RaffleStatus = "finished"
)

// Valid reports whether s is a known raffle status
func (s RaffleStatus) Valid() bool {
	switch s {
	case RaffleStatusDraft, RaffleStatusActive, RaffleStatusFinished:
		return true
	}
	return false
}

// Raffle represents a single raffle and its ticket pool
type Raffle struct {
	ID          int64           `db:"id" json:"id"`
	Title       string          `db:"title" json:"title"`
	Slug        string          `db:"slug" json:"slug"`
	TicketCount int             `db:"ticket_count" json:"ticket_count"`
	Price       decimal.Decimal `db:"price" json:"price"`
	// Sold mirrors the number of tickets held by PENDING and PAID orders.
	Sold      int          `db:"sold" json:"sold"`
	Status    RaffleStatus `db:"status" json:"status"`
	DrawDate  *time.Time   `db:"draw_date" json:"draw_date,omitempty"`
	CreatedAt time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt time.Time    `db:"updated_at" json:"updated_at"`
}

// RaffleUpdate lists the raffle fields an administrator may change
type RaffleUpdate struct {
	Title       *string          `json:"title,omitempty"`
	Slug        *string          `json:"slug,omitempty"`
	TicketCount *int             `json:"ticket_count,omitempty"`
	Price       *decimal.Decimal `json:"price,omitempty"`
	Status      *RaffleStatus    `json:"status,omitempty"`
	DrawDate    *time.Time       `json:"draw_date,omitempty"`
}

// OrderStatus is the lifecycle state of an order
type OrderStatus string

// Order statuses
const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusPaid      OrderStatus = "PAID"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusExpired   OrderStatus = "EXPIRED"
)

// Occupying reports whether orders in this status hold their tickets
func (s OrderStatus) Occupying() bool {
	return s == OrderStatusPending || s == OrderStatusPaid
}

// Valid reports whether s is a known order status
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPaid, OrderStatusCancelled, OrderStatusExpired:
		return true
	}
	return false
}

// Payment methods
const (
	PaymentMethodTransfer = "transfer"
	PaymentMethodPayPal   = "paypal"
)

// Order represents a purchase of one or more tickets of a raffle
type Order struct {
	ID              int64           `db:"id" json:"id"`
	Folio           string          `db:"folio" json:"folio"`
	RaffleID        int64           `db:"raffle_id" json:"raffle_id"`
	UserID          int64           `db:"user_id" json:"user_id"`
	Tickets         pq.Int64Array   `db:"tickets" json:"tickets"`
	Total           decimal.Decimal `db:"total" json:"total"`
	Status          OrderStatus     `db:"status" json:"status"`
	PaymentMethod   string          `db:"payment_method" json:"payment_method"`
	ProviderOrderID *string         `db:"provider_order_id" json:"provider_order_id,omitempty"`
	Notes           string          `db:"notes" json:"notes"`
	IdempotencyKey  *string         `db:"idempotency_key" json:"idempotency_key,omitempty"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	ExpiresAt       time.Time       `db:"expires_at" json:"expires_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
	PaidAt          *time.Time      `db:"paid_at" json:"paid_at,omitempty"`
}

// TicketNumbers returns the order tickets as ints
func (o *Order) TicketNumbers() []int {
	out := make([]int, len(o.Tickets))
	for i, t := range o.Tickets {
		out[i] = int(t)
	}
	return out
}

// SetTickets replaces the order tickets
// Overdue reports whether a PENDING order has passed its expiry at now
func (o *Order) Overdue(now time.Time) bool {
	return o.Status == OrderStatusPending && !now.Before(o.ExpiresAt)
}

func (o *Order) SetTickets(tickets []int) {
	o.Tickets = make(pq.Int64Array, len(tickets))
	for i, t := range tickets {
		o.Tickets[i] = int64(t)
	}
}

// Clone returns a deep copy of the order
func (o Order) Clone() Order {
	cp := o
	cp.Tickets = append(pq.Int64Array(nil), o.Tickets...)
	if o.ProviderOrderID != nil {
		v := *o.ProviderOrderID
		cp.ProviderOrderID = &v
	}
	if o.IdempotencyKey != nil {
		v := *o.IdempotencyKey
		cp.IdempotencyKey = &v
	}
	if o.PaidAt != nil {
		v := *o.PaidAt
		cp.PaidAt = &v
	}
	return cp
}

// OrderUpdate lists the order fields an administrator may change
type OrderUpdate struct {
	Tickets       *[]int           `json:"tickets,omitempty"`
	Total         *decimal.Decimal `json:"total,omitempty"`
	PaymentMethod *string          `json:"payment_method,omitempty"`
	Notes         *string          `json:"notes,omitempty"`
}

// OrderFilter narrows order listings
type OrderFilter struct {
	RaffleID int64
	UserID   int64
	Status   OrderStatus
	Limit    int
}

// Winner records the outcome of a draw
type Winner struct {
	ID        int64     `db:"id" json:"id"`
	RaffleID  int64     `db:"raffle_id" json:"raffle_id"`
	OrderID   int64     `db:"order_id" json:"order_id"`
	Folio     string    `db:"folio" json:"folio"`
	Ticket    int       `db:"ticket" json:"ticket"`
	Seed      int64     `db:"seed" json:"seed"`
	PoolSize  int       `db:"pool_size" json:"pool_size"`
	DrawIndex int       `db:"draw_index" json:"draw_index"`
	DrawnAt   time.Time `db:"drawn_at" json:"drawn_at"`
}

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
