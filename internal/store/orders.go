package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"raffle-service/internal/apperr"
	"raffle-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// queries holds the statements shared by the store and its transactions
type queries struct {
	q sqlx.ExtContext
}

// GetRaffle retrieves a raffle by ID
func (s *queries) GetRaffle(ctx context.Context, id int64) (*models.Raffle, error) {
	var raffle models.Raffle
	err := sqlx.GetContext(ctx, s.q, &raffle, "SELECT * FROM raffles WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrRaffleNotFound.With("store.GetRaffle", "raffle %d not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &raffle, nil
}

// AdjustSold adds delta to the raffle sold counter
func (s *queries) AdjustSold(ctx context.Context, raffleID int64, delta int) error {
	if delta == 0 {
		return nil
	}
	res, err := s.q.ExecContext(ctx,
		"UPDATE raffles SET sold = sold + $1, updated_at = NOW() WHERE id = $2",
		delta, raffleID)
	if err != nil {
		return fmt.Errorf("failed to adjust sold counter: %w", err)
	}
	return requireRow(res, apperr.ErrRaffleNotFound.With("store.AdjustSold", "raffle %d not found", raffleID))
}

// UpdateRaffle writes the mutable raffle fields. Sold is maintained by
// AdjustSold only.
func (s *queries) UpdateRaffle(ctx context.Context, raffle *models.Raffle) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE raffles
		SET title = $1, slug = $2, ticket_count = $3, price = $4, status = $5, draw_date = $6, updated_at = $7
		WHERE id = $8`,
		raffle.Title, raffle.Slug, raffle.TicketCount, raffle.Price, raffle.Status,
		raffle.DrawDate, raffle.UpdatedAt, raffle.ID)
	if err != nil {
		return mapWriteError("store.UpdateRaffle", err)
	}
	return requireRow(res, apperr.ErrRaffleNotFound.With("store.UpdateRaffle", "raffle %d not found", raffle.ID))
}

// GetOrder retrieves an order by ID
func (s *queries) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := sqlx.GetContext(ctx, s.q, &order, "SELECT * FROM orders WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrOrderNotFound.With("store.GetOrder", "order %d not found", id)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// ListOrdersByRaffle retrieves the orders of a raffle, optionally limited to statuses
func (s *queries) ListOrdersByRaffle(ctx context.Context, raffleID int64, statuses ...models.OrderStatus) ([]models.Order, error) {
	var orders []models.Order
	if len(statuses) == 0 {
		err := sqlx.SelectContext(ctx, s.q, &orders,
			"SELECT * FROM orders WHERE raffle_id = $1 ORDER BY id", raffleID)
		return orders, err
	}

	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}
	query, args, err := sqlx.In("SELECT * FROM orders WHERE raffle_id = ? AND status IN (?) ORDER BY id", raffleID, names)
	if err != nil {
		return nil, err
	}
	err = sqlx.SelectContext(ctx, s.q, &orders, s.q.Rebind(query), args...)
	return orders, err
}

// InsertOrder creates a new order
func (s *queries) InsertOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (folio, raffle_id, user_id, tickets, total, status, payment_method,
			provider_order_id, notes, idempotency_key, created_at, expires_at, updated_at, paid_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		RETURNING id`

	err := sqlx.GetContext(ctx, s.q, &order.ID, query,
		order.Folio, order.RaffleID, order.UserID, order.Tickets, order.Total, order.Status,
		order.PaymentMethod, order.ProviderOrderID, order.Notes, order.IdempotencyKey,
		order.CreatedAt, order.ExpiresAt, order.UpdatedAt, order.PaidAt)
	return mapWriteError("store.InsertOrder", err)
}

// UpdateOrder writes every mutable order column
func (s *queries) UpdateOrder(ctx context.Context, order *models.Order) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE orders
		SET tickets = $1, total = $2, status = $3, payment_method = $4, provider_order_id = $5,
			notes = $6, expires_at = $7, updated_at = $8, paid_at = $9
		WHERE id = $10`,
		order.Tickets, order.Total, order.Status, order.PaymentMethod, order.ProviderOrderID,
		order.Notes, order.ExpiresAt, order.UpdatedAt, order.PaidAt, order.ID)
	if err != nil {
		return mapWriteError("store.UpdateOrder", err)
	}
	return requireRow(res, apperr.ErrOrderNotFound.With("store.UpdateOrder", "order %d not found", order.ID))
}

// TransitionOrder moves an order to status `to` only while it is in one of `from`
func (s *queries) TransitionOrder(ctx context.Context, orderID int64, from []models.OrderStatus, to models.OrderStatus, at time.Time) (bool, error) {
	names := make([]string, len(from))
	for i, st := range from {
		names[i] = string(st)
	}

	var paidAt *time.Time
	if to == models.OrderStatusPaid {
		paidAt = &at
	}

	query := `UPDATE orders SET status = ?, updated_at = ?, paid_at = COALESCE(?, paid_at)
		WHERE id = ? AND status IN (?)`
	query, args, err := sqlx.In(query, string(to), at, paidAt, orderID, names)
	if err != nil {
		return false, err
	}

	res, err := s.q.ExecContext(ctx, s.q.Rebind(query), args...)
	if err != nil {
		return false, fmt.Errorf("failed to transition order: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// DeleteOrder removes an order
func (s *queries) DeleteOrder(ctx context.Context, id int64) error {
	res, err := s.q.ExecContext(ctx, "DELETE FROM orders WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete order: %w", err)
	}
	return requireRow(res, apperr.ErrOrderNotFound.With("store.DeleteOrder", "order %d not found", id))
}

// InsertWinner records a draw result
func (s *queries) InsertWinner(ctx context.Context, winner *models.Winner) error {
	query := `
		INSERT INTO winners (raffle_id, order_id, folio, ticket, seed, pool_size, draw_index, drawn_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`

	return sqlx.GetContext(ctx, s.q, &winner.ID, query,
		winner.RaffleID, winner.OrderID, winner.Folio, winner.Ticket, winner.Seed,
		winner.PoolSize, winner.DrawIndex, winner.DrawnAt)
}

// ListOrders retrieves orders matching filter, newest first
func (s *Store) ListOrders(ctx context.Context, filter models.OrderFilter) ([]models.Order, error) {
	query := "SELECT * FROM orders WHERE 1=1"
	args := []interface{}{}
	if filter.RaffleID != 0 {
		args = append(args, filter.RaffleID)
		query += fmt.Sprintf(" AND raffle_id = $%d", len(args))
	}
	if filter.UserID != 0 {
		args = append(args, filter.UserID)
		query += fmt.Sprintf(" AND user_id = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	query += " ORDER BY created_at DESC, id DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders, query, args...)
	return orders, err
}

// GetOrderByProviderID retrieves an order by its payment provider correlation id
func (s *Store) GetOrderByProviderID(ctx context.Context, providerOrderID string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE provider_order_id = $1", providerOrderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrOrderNotFound.With("store.GetOrderByProviderID", "no order for provider id %s", providerOrderID)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderByIdempotencyKey retrieves an order by idempotency key
func (s *Store) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE idempotency_key = $1", key)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// SetProviderOrderID stores the payment provider correlation id on an order
func (s *Store) SetProviderOrderID(ctx context.Context, orderID int64, providerOrderID string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE orders SET provider_order_id = $1, updated_at = NOW() WHERE id = $2",
		providerOrderID, orderID)
	if err != nil {
		return mapWriteError("store.SetProviderOrderID", err)
	}
	return requireRow(res, apperr.ErrOrderNotFound.With("store.SetProviderOrderID", "order %d not found", orderID))
}

// ListExpiredPending retrieves PENDING orders whose expiry has passed
func (s *Store) ListExpiredPending(ctx context.Context, now time.Time, limit int) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE status = $1 AND expires_at <= $2 ORDER BY expires_at LIMIT $3",
		models.OrderStatusPending, now, limit)
	return orders, err
}

// ListWinners retrieves the draws recorded for a raffle
func (s *Store) ListWinners(ctx context.Context, raffleID int64) ([]models.Winner, error) {
	var winners []models.Winner
	err := s.db.SelectContext(ctx, &winners,
		"SELECT * FROM winners WHERE raffle_id = $1 ORDER BY drawn_at DESC", raffleID)
	return winners, err
}
