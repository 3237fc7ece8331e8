package service

import (
	"context"
	"fmt"
	"time"

	"raffle-service/internal/models"
	"raffle-service/internal/store"
	"raffle-service/internal/tickets"
	"raffle-service/internal/util"

	"go.uber.org/zap"
)

// TicketService answers inventory reads. Results may be stale by the time a
// write is attempted; writes re-validate under the raffle lock.
type TicketService struct {
	repo   store.Repository
	cache  TicketCache
	logger *zap.Logger
	now    Clock
}

// NewTicketService creates a new ticket service. cache and clock may be nil.
func NewTicketService(repo store.Repository, cache TicketCache, clock Clock) *TicketService {
	if clock == nil {
		clock = time.Now
	}
	return &TicketService{
		repo:   repo,
		cache:  cache,
		logger: util.GetLogger(),
		now:    clock,
	}
}

// OccupiedTickets returns the tickets held by PAID orders and by PENDING
// orders that have not expired yet, ascending. Overdue orders are left out
// before the expiry sweep reaches them. A rebuilt cache entry lives no longer
// than the earliest PENDING expiry it includes.
func (s *TicketService) OccupiedTickets(ctx context.Context, raffleID int64) ([]int, error) {
	ctx, span := util.StartSpan(ctx, "TicketService.OccupiedTickets", util.RaffleAttr(raffleID))
	defer span.End()

	if _, err := s.repo.GetRaffle(ctx, raffleID); err != nil {
		return nil, err
	}

	version := ""
	if s.cache != nil {
		cached, ver, hit, err := s.cache.GetOccupied(ctx, raffleID)
		switch {
		case err != nil:
			util.TicketCacheLookups.WithLabelValues("error").Inc()
			s.logger.Warn("Ticket cache read failed, falling back to DB",
				zap.Int64("raffle_id", raffleID),
				zap.Error(err))
		case hit:
			util.TicketCacheLookups.WithLabelValues("hit").Inc()
			return cached, nil
		default:
			util.TicketCacheLookups.WithLabelValues("miss").Inc()
			version = ver
		}
	}

	orders, err := s.repo.ListOrdersByRaffle(ctx, raffleID, models.OrderStatusPending, models.OrderStatusPaid)
	if err != nil {
		return nil, fmt.Errorf("failed to list raffle orders: %w", err)
	}
	now := s.now()
	live := orders[:0]
	var validUntil time.Time
	for i := range orders {
		o := &orders[i]
		if o.Overdue(now) {
			continue
		}
		if o.Status == models.OrderStatusPending && (validUntil.IsZero() || o.ExpiresAt.Before(validUntil)) {
			validUntil = o.ExpiresAt
		}
		live = append(live, *o)
	}
	occupied := tickets.Occupied(live, 0).Sorted()

	var ttl time.Duration
	if !validUntil.IsZero() {
		ttl = validUntil.Sub(now)
	}
	if s.cache != nil && version != "" {
		if err := s.cache.SetOccupied(ctx, raffleID, version, occupied, ttl); err != nil {
			s.logger.Warn("Failed to rebuild ticket cache",
				zap.Int64("raffle_id", raffleID),
				zap.Error(err))
		}
	}
	return occupied, nil
}

// AvailableTickets returns [1, ticketCount] minus the occupied tickets
func (s *TicketService) AvailableTickets(ctx context.Context, raffleID int64) ([]int, error) {
	ctx, span := util.StartSpan(ctx, "TicketService.AvailableTickets", util.RaffleAttr(raffleID))
	defer span.End()

	raffle, err := s.repo.GetRaffle(ctx, raffleID)
	if err != nil {
		return nil, err
	}
	occupied, err := s.OccupiedTickets(ctx, raffleID)
	if err != nil {
		return nil, err
	}
	return tickets.Available(raffle.TicketCount, tickets.NewSet(occupied...)), nil
}
