package service

import (
	"context"
	"regexp"
	"strings"
	"time"

	"raffle-service/internal/apperr"
	"raffle-service/internal/models"
	"raffle-service/internal/store"
	"raffle-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var slugInvalid = regexp.MustCompile(`[^a-z0-9]+`)

// RaffleService handles raffle administration
type RaffleService struct {
	repo   store.Repository
	cache  TicketCache
	logger *zap.Logger
	now    Clock
}

// NewRaffleService creates a new raffle service. cache may be nil.
func NewRaffleService(repo store.Repository, cache TicketCache, clock Clock) *RaffleService {
	if clock == nil {
		clock = time.Now
	}
	return &RaffleService{
		repo:   repo,
		cache:  cache,
		logger: util.GetLogger(),
		now:    clock,
	}
}

// CreateRaffleRequest represents a request to create a raffle
type CreateRaffleRequest struct {
	Title       string              `json:"title" binding:"required"`
	Slug        string              `json:"slug,omitempty"`
	TicketCount int                 `json:"ticket_count" binding:"required"`
	Price       decimal.Decimal     `json:"price"`
	Status      models.RaffleStatus `json:"status,omitempty"`
	DrawDate    *time.Time          `json:"draw_date,omitempty"`
}

// Create creates a raffle. Status defaults to draft.
func (s *RaffleService) Create(ctx context.Context, req CreateRaffleRequest) (*models.Raffle, error) {
	ctx, span := util.StartSpan(ctx, "RaffleService.Create")
	defer span.End()

	const op = "RaffleService.Create"
	if strings.TrimSpace(req.Title) == "" {
		return nil, apperr.ErrInvalidInput.With(op, "title is required")
	}
	if req.Status == "" {
		req.Status = models.RaffleStatusDraft
	}
	slug := req.Slug
	if slug == "" {
		slug = slugify(req.Title)
	}

	now := s.now()
	raffle := &models.Raffle{
		Title:       strings.TrimSpace(req.Title),
		Slug:        slug,
		TicketCount: req.TicketCount,
		Price:       req.Price,
		Status:      req.Status,
		DrawDate:    req.DrawDate,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := validateRaffle(op, raffle); err != nil {
		return nil, err
	}

	if err := s.repo.CreateRaffle(ctx, raffle); err != nil {
		return nil, err
	}

	s.logger.Info("Raffle created",
		zap.Int64("raffle_id", raffle.ID),
		zap.String("slug", raffle.Slug),
		zap.Int("ticket_count", raffle.TicketCount))
	return raffle, nil
}

// Get retrieves a raffle by ID
func (s *RaffleService) Get(ctx context.Context, id int64) (*models.Raffle, error) {
	return s.repo.GetRaffle(ctx, id)
}

// List retrieves all raffles
func (s *RaffleService) List(ctx context.Context) ([]models.Raffle, error) {
	return s.repo.ListRaffles(ctx)
}

// Update applies a partial update. Ticket count and price are frozen once
// the raffle has any order.
func (s *RaffleService) Update(ctx context.Context, id int64, upd models.RaffleUpdate) (*models.Raffle, error) {
	ctx, span := util.StartSpan(ctx, "RaffleService.Update", util.RaffleAttr(id))
	defer span.End()

	const op = "RaffleService.Update"
	var raffle *models.Raffle
	err := s.repo.WithRaffleLock(ctx, id, func(ctx context.Context, tx store.RaffleTx) error {
		var err error
		raffle, err = tx.GetRaffle(ctx, id)
		if err != nil {
			return err
		}

		countChanged := upd.TicketCount != nil && *upd.TicketCount != raffle.TicketCount
		priceChanged := upd.Price != nil && !upd.Price.Equal(raffle.Price)
		if countChanged || priceChanged {
			orders, err := tx.ListOrdersByRaffle(ctx, id)
			if err != nil {
				return err
			}
			if len(orders) > 0 {
				return apperr.ErrRaffleLocked.With(op, "raffle %d already has %d orders", id, len(orders))
			}
		}

		if upd.Title != nil {
			raffle.Title = strings.TrimSpace(*upd.Title)
		}
		if upd.Slug != nil {
			raffle.Slug = *upd.Slug
		}
		if upd.TicketCount != nil {
			raffle.TicketCount = *upd.TicketCount
		}
		if upd.Price != nil {
			raffle.Price = *upd.Price
		}
		if upd.Status != nil {
			raffle.Status = *upd.Status
		}
		if upd.DrawDate != nil {
			raffle.DrawDate = upd.DrawDate
		}
		if err := validateRaffle(op, raffle); err != nil {
			return err
		}
		raffle.UpdatedAt = s.now()
		return tx.UpdateRaffle(ctx, raffle)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Raffle updated", zap.Int64("raffle_id", id), zap.String("status", string(raffle.Status)))
	return raffle, nil
}

// Delete removes a raffle and its unpaid orders. Raffles with PAID orders
// cannot be deleted.
func (s *RaffleService) Delete(ctx context.Context, id int64) error {
	ctx, span := util.StartSpan(ctx, "RaffleService.Delete", util.RaffleAttr(id))
	defer span.End()

	if err := s.repo.DeleteRaffle(ctx, id); err != nil {
		return err
	}
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, id); err != nil {
			s.logger.Error("Failed to invalidate ticket cache", zap.Int64("raffle_id", id), zap.Error(err))
		}
	}

	s.logger.Info("Raffle deleted", zap.Int64("raffle_id", id))
	return nil
}

func validateRaffle(op string, r *models.Raffle) error {
	switch {
	case r.Title == "":
		return apperr.ErrInvalidInput.With(op, "title is required")
	case r.Slug == "":
		return apperr.ErrInvalidInput.With(op, "slug is required")
	case r.TicketCount <= 0:
		return apperr.ErrInvalidInput.With(op, "ticket_count must be positive")
	case r.Price.Sign() < 0:
		return apperr.ErrInvalidInput.With(op, "price must not be negative")
	case !r.Status.Valid():
		return apperr.ErrInvalidInput.With(op, "unknown status %q", r.Status)
	}
	return nil
}

func slugify(title string) string {
	return strings.Trim(slugInvalid.ReplaceAllString(strings.ToLower(title), "-"), "-")
}
