package service

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"time"

	"raffle-service/internal/apperr"
	"raffle-service/internal/models"
	"raffle-service/internal/store"
	"raffle-service/internal/tickets"
	"raffle-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SeedSource produces draw seeds
type SeedSource func() (int64, error)

// CryptoSeed reads a seed from crypto/rand
func CryptoSeed() (int64, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return int64(binary.LittleEndian.Uint64(b[:])), nil
}

// DrawService picks raffle winners among PAID ticket occurrences
type DrawService struct {
	repo      store.Repository
	publisher EventPublisher
	logger    *zap.Logger
	seed      SeedSource
	now       Clock
}

// NewDrawService creates a new draw service. publisher may be nil.
func NewDrawService(repo store.Repository, publisher EventPublisher, seed SeedSource, clock Clock) *DrawService {
	if seed == nil {
		seed = CryptoSeed
	}
	if clock == nil {
		clock = time.Now
	}
	return &DrawService{
		repo:      repo,
		publisher: publisher,
		logger:    util.GetLogger(),
		seed:      seed,
		now:       clock,
	}
}

// DrawWinner draws one ticket occurrence uniformly from the PAID orders of
// a raffle and records the seed so the draw can be replayed
func (s *DrawService) DrawWinner(ctx context.Context, raffleID int64) (*models.Winner, error) {
	ctx, span := util.StartSpan(ctx, "DrawService.DrawWinner", util.RaffleAttr(raffleID))
	defer span.End()

	var winner *models.Winner
	err := s.repo.WithRaffleLock(ctx, raffleID, func(ctx context.Context, tx store.RaffleTx) error {
		orders, err := tx.ListOrdersByRaffle(ctx, raffleID, models.OrderStatusPaid)
		if err != nil {
			return fmt.Errorf("failed to list paid orders: %w", err)
		}
		pool := tickets.DrawPool(orders)
		if len(pool) == 0 {
			return apperr.ErrNoEligibleTickets.With("DrawService.DrawWinner", "raffle %d has no paid tickets", raffleID)
		}

		seed, err := s.seed()
		if err != nil {
			return fmt.Errorf("failed to read draw seed: %w", err)
		}
		idx := tickets.PickIndex(seed, len(pool))
		entry := pool[idx]

		winner = &models.Winner{
			RaffleID:  raffleID,
			OrderID:   entry.OrderID,
			Folio:     entry.Folio,
			Ticket:    entry.Ticket,
			Seed:      seed,
			PoolSize:  len(pool),
			DrawIndex: idx,
			DrawnAt:   s.now(),
		}
		return tx.InsertWinner(ctx, winner)
	})
	if err != nil {
		return nil, err
	}

	util.DrawsTotal.Inc()
	s.logger.Info("Winner drawn",
		zap.Int64("raffle_id", raffleID),
		zap.Int64("order_id", winner.OrderID),
		zap.String("folio", winner.Folio),
		zap.Int("ticket", winner.Ticket),
		zap.Int("pool_size", winner.PoolSize))

	if s.publisher != nil {
		event := &models.WinnerDrawnEvent{
			BaseEvent: models.BaseEvent{
				EventID:   uuid.New().String(),
				EventType: models.EventTypeWinnerDrawn,
				Timestamp: winner.DrawnAt,
			},
			RaffleID:  winner.RaffleID,
			OrderID:   winner.OrderID,
			Folio:     winner.Folio,
			Ticket:    winner.Ticket,
			Seed:      winner.Seed,
			PoolSize:  winner.PoolSize,
			DrawIndex: winner.DrawIndex,
		}
		if err := s.publisher.PublishWinnerDrawn(ctx, event); err != nil {
			s.logger.Error("Failed to publish WinnerDrawn event", zap.Error(err))
		}
	}
	return winner, nil
}

// ReplayDraw recomputes the pool index a recorded seed selects
func (s *DrawService) ReplayDraw(seed int64, poolSize int) int {
	return tickets.PickIndex(seed, poolSize)
}

// ListWinners retrieves the recorded draws of a raffle
func (s *DrawService) ListWinners(ctx context.Context, raffleID int64) ([]models.Winner, error) {
	if _, err := s.repo.GetRaffle(ctx, raffleID); err != nil {
		return nil, err
	}
	return s.repo.ListWinners(ctx, raffleID)
}
