package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"raffle-service/internal/apperr"
	"raffle-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

//go:embed migrations/schema.sql
var schemaSQL string

// Store is the postgres implementation of Repository
type Store struct {
	queries
	db *sqlx.DB
}

var _ Repository = (*Store)(nil)

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{queries: queries{q: db}, db: db}, nil
}

// Migrate creates the tables when they do not exist
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// Ping checks database connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithRaffleLock runs fn inside a transaction holding the raffle row lock.
// Concurrent callers for the same raffle queue on SELECT ... FOR UPDATE.
func (s *Store) WithRaffleLock(ctx context.Context, raffleID int64, fn func(ctx context.Context, tx RaffleTx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var id int64
	err = tx.GetContext(ctx, &id, "SELECT id FROM raffles WHERE id = $1 FOR UPDATE", raffleID)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.ErrRaffleNotFound.With("store.WithRaffleLock", "raffle %d not found", raffleID)
	}
	if err != nil {
		return fmt.Errorf("failed to lock raffle: %w", err)
	}

	if err := fn(ctx, &queries{q: tx}); err != nil {
		return err
	}

	return tx.Commit()
}

// CreateRaffle inserts a raffle
func (s *Store) CreateRaffle(ctx context.Context, raffle *models.Raffle) error {
	query := `
		INSERT INTO raffles (title, slug, ticket_count, price, sold, status, draw_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`

	err := s.db.GetContext(ctx, &raffle.ID, query,
		raffle.Title, raffle.Slug, raffle.TicketCount, raffle.Price, raffle.Sold,
		raffle.Status, raffle.DrawDate, raffle.CreatedAt, raffle.UpdatedAt)
	return mapWriteError("store.CreateRaffle", err)
}

// DeleteRaffle removes a raffle together with its orders. It refuses while
// any order is PAID.
func (s *Store) DeleteRaffle(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int64
	err = tx.GetContext(ctx, &exists, "SELECT id FROM raffles WHERE id = $1 FOR UPDATE", id)
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.ErrRaffleNotFound.With("store.DeleteRaffle", "raffle %d not found", id)
	}
	if err != nil {
		return fmt.Errorf("failed to lock raffle: %w", err)
	}

	var paid int
	if err := tx.GetContext(ctx, &paid,
		"SELECT COUNT(*) FROM orders WHERE raffle_id = $1 AND status = $2", id, models.OrderStatusPaid); err != nil {
		return fmt.Errorf("failed to count paid orders: %w", err)
	}
	if paid > 0 {
		return apperr.ErrRaffleHasPaidOrders.With("store.DeleteRaffle", "raffle %d has %d paid orders", id, paid)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM winners WHERE raffle_id = $1", id); err != nil {
		return fmt.Errorf("failed to delete raffle winners: %w", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM orders WHERE raffle_id = $1", id); err != nil {
		return fmt.Errorf("failed to delete raffle orders: %w", err)
	}

	res, err := tx.ExecContext(ctx, "DELETE FROM raffles WHERE id = $1", id)
	if err != nil {
		return mapWriteError("store.DeleteRaffle", err)
	}
	if err := requireRow(res, apperr.ErrRaffleNotFound.With("store.DeleteRaffle", "raffle %d not found", id)); err != nil {
		return err
	}

	return tx.Commit()
}

// ListRaffles retrieves all raffles
func (s *Store) ListRaffles(ctx context.Context) ([]models.Raffle, error) {
	var raffles []models.Raffle
	err := s.db.SelectContext(ctx, &raffles, "SELECT * FROM raffles ORDER BY created_at DESC, id DESC")
	return raffles, err
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	return exists, err
}

// MarkEventProcessed marks an event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	return err
}

func requireRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}

func mapWriteError(op string, err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return apperr.ErrDuplicateRequest.Wrap(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
