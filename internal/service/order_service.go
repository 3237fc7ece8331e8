package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"raffle-service/internal/apperr"
	"raffle-service/internal/models"
	"raffle-service/internal/store"
	"raffle-service/internal/tickets"
	"raffle-service/internal/util"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultOrderTTL is how long a PENDING order holds its tickets
const DefaultOrderTTL = 24 * time.Hour

// folioAttempts bounds how often Create draws a new folio after a collision
const folioAttempts = 3

// OrderOptions tunes the order service
type OrderOptions struct {
	TTL   time.Duration
	Clock Clock
	// Folio generates order folios, newFolio when nil
	Folio func() string
}

// OrderService owns the order state machine and the raffle sold counter
type OrderService struct {
	repo      store.Repository
	cache     TicketCache
	publisher EventPublisher
	logger    *zap.Logger
	ttl       time.Duration
	now       Clock
	folio     func() string
}

// NewOrderService creates a new order service. cache and publisher may be nil.
func NewOrderService(repo store.Repository, cache TicketCache, publisher EventPublisher, opts OrderOptions) *OrderService {
	if opts.TTL <= 0 {
		opts.TTL = DefaultOrderTTL
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.Folio == nil {
		opts.Folio = newFolio
	}
	return &OrderService{
		repo:      repo,
		cache:     cache,
		publisher: publisher,
		logger:    util.GetLogger(),
		ttl:       opts.TTL,
		now:       opts.Clock,
		folio:     opts.Folio,
	}
}

// CreateOrderRequest represents a request to create an order. Exactly one of
// Tickets and PackSize must be set.
type CreateOrderRequest struct {
	RaffleID       int64            `json:"raffle_id" binding:"required"`
	UserID         int64            `json:"user_id" binding:"required"`
	Tickets        []int            `json:"tickets,omitempty"`
	PackSize       int              `json:"pack_size,omitempty"`
	Total          *decimal.Decimal `json:"total,omitempty"`
	PaymentMethod  string           `json:"payment_method,omitempty"`
	Notes          string           `json:"notes,omitempty"`
	IdempotencyKey string           `json:"idempotency_key,omitempty"`
}

// CreateOrderResult is the created order, or the earlier order when the
// idempotency key was already used
type CreateOrderResult struct {
	Order    *models.Order `json:"order"`
	Replayed bool          `json:"replayed"`
}

// MarkPaidOptions are merged into the order when it becomes PAID
type MarkPaidOptions struct {
	PaymentMethod string `json:"payment_method,omitempty"`
	Notes         string `json:"notes,omitempty"`
}

func (r *CreateOrderRequest) validate() error {
	const op = "OrderService.Create"
	if r.RaffleID <= 0 || r.UserID <= 0 {
		return apperr.ErrInvalidInput.With(op, "raffle_id and user_id are required")
	}
	if len(r.Tickets) == 0 && r.PackSize <= 0 {
		return apperr.ErrInvalidInput.With(op, "either tickets or pack_size is required")
	}
	if len(r.Tickets) > 0 && r.PackSize > 0 {
		return apperr.ErrInvalidInput.With(op, "tickets and pack_size are mutually exclusive")
	}
	if r.Total != nil && r.Total.Sign() < 0 {
		return apperr.ErrInvalidInput.With(op, "total must not be negative")
	}
	switch r.PaymentMethod {
	case "":
		r.PaymentMethod = models.PaymentMethodTransfer
	case models.PaymentMethodTransfer, models.PaymentMethodPayPal:
	default:
		return apperr.ErrInvalidInput.With(op, "unknown payment method %q", r.PaymentMethod)
	}
	return nil
}

// Create reserves tickets for a buyer as a PENDING order
func (s *OrderService) Create(ctx context.Context, req CreateOrderRequest) (*CreateOrderResult, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Create", util.RaffleAttr(req.RaffleID))
	defer span.End()

	if err := req.validate(); err != nil {
		util.OrdersFailedTotal.WithLabelValues("invalid_request").Inc()
		return nil, err
	}

	if req.IdempotencyKey != "" {
		existing, err := s.repo.GetOrderByIdempotencyKey(ctx, req.IdempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("failed to check idempotency: %w", err)
		}
		if existing != nil {
			s.logger.Info("Duplicate order request detected",
				zap.String("idempotency_key", req.IdempotencyKey),
				zap.Int64("order_id", existing.ID))
			return &CreateOrderResult{Order: existing, Replayed: true}, nil
		}
	}

	var (
		order   *models.Order
		expired []models.Order
	)
	start := time.Now()
	var err error
	for attempt := 1; attempt <= folioAttempts; attempt++ {
		order, expired, err = s.reserve(ctx, req)
		if attempt == folioAttempts || !s.folioCollision(ctx, req, err) {
			break
		}
		s.logger.Warn("Folio collision, retrying", zap.String("folio", order.Folio), zap.Int("attempt", attempt))
	}
	util.RaffleLockLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		if req.IdempotencyKey != "" && errors.Is(err, apperr.ErrDuplicateRequest) {
			if existing, lookupErr := s.repo.GetOrderByIdempotencyKey(ctx, req.IdempotencyKey); lookupErr == nil && existing != nil {
				return &CreateOrderResult{Order: existing, Replayed: true}, nil
			}
		}
		util.OrdersFailedTotal.WithLabelValues(string(apperr.KindOf(err))).Inc()
		return nil, err
	}

	mode := "explicit"
	if req.PackSize > 0 {
		mode = "pack"
	}
	util.OrdersCreatedTotal.WithLabelValues(mode).Inc()
	s.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.String("folio", order.Folio),
		zap.Int64("raffle_id", order.RaffleID),
		zap.Int("tickets", len(order.Tickets)))

	s.afterExpired(ctx, expired)
	s.afterCommit(ctx, order, models.EventTypeOrderCreated, true)
	return &CreateOrderResult{Order: order}, nil
}

// folioCollision reports whether a failed insert hit another order's folio
// rather than a concurrent request with the same idempotency key.
func (s *OrderService) folioCollision(ctx context.Context, req CreateOrderRequest, err error) bool {
	if !errors.Is(err, apperr.ErrDuplicateRequest) {
		return false
	}
	if req.IdempotencyKey == "" {
		return true
	}
	existing, lookupErr := s.repo.GetOrderByIdempotencyKey(ctx, req.IdempotencyKey)
	return lookupErr == nil && existing == nil
}

// reserve runs one locked attempt at inserting the order. The order is
// returned even when its insert fails.
func (s *OrderService) reserve(ctx context.Context, req CreateOrderRequest) (*models.Order, []models.Order, error) {
	var (
		order   *models.Order
		expired []models.Order
	)
	err := s.repo.WithRaffleLock(ctx, req.RaffleID, func(ctx context.Context, tx store.RaffleTx) error {
		raffle, err := tx.GetRaffle(ctx, req.RaffleID)
		if err != nil {
			return err
		}
		if raffle.Status != models.RaffleStatusActive {
			return apperr.ErrRaffleClosed.With("OrderService.Create", "raffle %d is %s", raffle.ID, raffle.Status)
		}

		now := s.now()
		var live []models.Order
		live, expired, err = s.expireOverdue(ctx, tx, raffle.ID, now)
		if err != nil {
			return err
		}
		occupied := tickets.Occupied(live, 0)

		numbers := req.Tickets
		if req.PackSize > 0 {
			rng := rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
			numbers, err = tickets.Allocate(tickets.Available(raffle.TicketCount, occupied), req.PackSize, rng)
			if err != nil {
				util.TicketConflictsTotal.WithLabelValues("insufficient").Inc()
				return err
			}
		} else if err := conflictError("OrderService.Create", tickets.Check(numbers, raffle.TicketCount, occupied)); err != nil {
			return err
		}

		total := raffle.Price.Mul(decimal.NewFromInt(int64(len(numbers))))
		if req.Total != nil {
			total = *req.Total
		}

		order = &models.Order{
			Folio:         s.folio(),
			RaffleID:      raffle.ID,
			UserID:        req.UserID,
			Total:         total,
			Status:        models.OrderStatusPending,
			PaymentMethod: req.PaymentMethod,
			Notes:         req.Notes,
			CreatedAt:     now,
			ExpiresAt:     now.Add(s.ttl),
			UpdatedAt:     now,
		}
		order.SetTickets(numbers)
		if req.IdempotencyKey != "" {
			key := req.IdempotencyKey
			order.IdempotencyKey = &key
		}

		if err := tx.InsertOrder(ctx, order); err != nil {
			return err
		}
		return tx.AdjustSold(ctx, raffle.ID, len(numbers))
	})
	return order, expired, err
}

// MarkPaid moves a PENDING order to PAID. An order that is already PAID is
// returned unchanged with alreadyProcessed set.
func (s *OrderService) MarkPaid(ctx context.Context, orderID int64, opts MarkPaidOptions) (*models.Order, bool, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.MarkPaid", util.OrderAttr(orderID))
	defer span.End()

	raffleID, err := s.raffleOf(ctx, orderID)
	if err != nil {
		return nil, false, err
	}

	var (
		order            *models.Order
		alreadyProcessed bool
	)
	err = s.repo.WithRaffleLock(ctx, raffleID, func(ctx context.Context, tx store.RaffleTx) error {
		now := s.now()
		changed, err := tx.TransitionOrder(ctx, orderID,
			[]models.OrderStatus{models.OrderStatusPending}, models.OrderStatusPaid, now)
		if err != nil {
			return err
		}

		order, err = tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if !changed {
			if order.Status == models.OrderStatusPaid {
				alreadyProcessed = true
				return nil
			}
			return apperr.ErrOrderTerminal.With("OrderService.MarkPaid", "order %d is %s", orderID, order.Status)
		}

		if opts.PaymentMethod == "" && opts.Notes == "" {
			return nil
		}
		if opts.PaymentMethod != "" {
			order.PaymentMethod = opts.PaymentMethod
		}
		order.Notes = appendNote(order.Notes, opts.Notes)
		return tx.UpdateOrder(ctx, order)
	})
	if err != nil {
		return nil, false, err
	}

	if alreadyProcessed {
		s.logger.Info("Order already paid", zap.Int64("order_id", orderID))
		return order, true, nil
	}

	util.OrdersPaidTotal.WithLabelValues(order.PaymentMethod).Inc()
	s.logger.Info("Order paid",
		zap.Int64("order_id", order.ID),
		zap.String("folio", order.Folio),
		zap.String("payment_method", order.PaymentMethod))

	s.afterCommit(ctx, order, models.EventTypeOrderPaid, true)
	return order, false, nil
}

// Cancel releases an order's tickets. Cancelling a CANCELLED order is a no-op.
func (s *OrderService) Cancel(ctx context.Context, orderID int64) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Cancel", util.OrderAttr(orderID))
	defer span.End()

	raffleID, err := s.raffleOf(ctx, orderID)
	if err != nil {
		return nil, err
	}

	var (
		order   *models.Order
		changed bool
	)
	err = s.repo.WithRaffleLock(ctx, raffleID, func(ctx context.Context, tx store.RaffleTx) error {
		order, err = tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status == models.OrderStatusCancelled {
			return nil
		}

		prev := order.Status
		now := s.now()
		changed, err = tx.TransitionOrder(ctx, orderID, []models.OrderStatus{prev}, models.OrderStatusCancelled, now)
		if err != nil {
			return err
		}
		if !changed {
			return fmt.Errorf("order %d changed status concurrently", orderID)
		}
		if prev == models.OrderStatusPaid {
			s.logger.Warn("Releasing a PAID order",
				zap.Int64("order_id", orderID),
				zap.String("folio", order.Folio))
		}
		order.Status = models.OrderStatusCancelled
		order.UpdatedAt = now
		if prev.Occupying() {
			return tx.AdjustSold(ctx, raffleID, -len(order.Tickets))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !changed {
		return order, nil
	}

	util.OrdersCancelledTotal.Inc()
	s.logger.Info("Order cancelled", zap.Int64("order_id", orderID))
	s.afterCommit(ctx, order, models.EventTypeOrderCancelled, true)
	return order, nil
}

// Expire moves a PENDING order past its expiry to EXPIRED. Any other order
// is returned unchanged with expired false.
func (s *OrderService) Expire(ctx context.Context, orderID int64) (*models.Order, bool, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Expire", util.OrderAttr(orderID))
	defer span.End()

	raffleID, err := s.raffleOf(ctx, orderID)
	if err != nil {
		return nil, false, err
	}

	var (
		order   *models.Order
		expired bool
	)
	err = s.repo.WithRaffleLock(ctx, raffleID, func(ctx context.Context, tx store.RaffleTx) error {
		order, err = tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		now := s.now()
		if order.Status != models.OrderStatusPending || now.Before(order.ExpiresAt) {
			return nil
		}
		expired, err = s.expireOne(ctx, tx, order, now)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	if expired {
		s.afterExpired(ctx, []models.Order{*order})
	}
	return order, expired, nil
}

// ExpireOverdue expires up to limit overdue PENDING orders across all raffles
func (s *OrderService) ExpireOverdue(ctx context.Context, limit int) (int, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ExpireOverdue")
	defer span.End()

	due, err := s.repo.ListExpiredPending(ctx, s.now(), limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired orders: %w", err)
	}

	n := 0
	for _, o := range due {
		_, expired, err := s.Expire(ctx, o.ID)
		if err != nil {
			if errors.Is(err, apperr.ErrOrderNotFound) || errors.Is(err, apperr.ErrRaffleNotFound) {
				continue
			}
			return n, err
		}
		if expired {
			n++
		}
	}
	return n, nil
}

// Update applies an administrative edit. New tickets are validated against
// every other live order of the raffle.
func (s *OrderService) Update(ctx context.Context, orderID int64, upd models.OrderUpdate) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Update", util.OrderAttr(orderID))
	defer span.End()

	const op = "OrderService.Update"
	if upd.Total != nil && upd.Total.Sign() < 0 {
		return nil, apperr.ErrInvalidInput.With(op, "total must not be negative")
	}
	if upd.Tickets != nil && len(*upd.Tickets) == 0 {
		return nil, apperr.ErrInvalidInput.With(op, "an order needs at least one ticket")
	}
	if upd.PaymentMethod != nil {
		switch *upd.PaymentMethod {
		case models.PaymentMethodTransfer, models.PaymentMethodPayPal:
		default:
			return nil, apperr.ErrInvalidInput.With(op, "unknown payment method %q", *upd.PaymentMethod)
		}
	}

	raffleID, err := s.raffleOf(ctx, orderID)
	if err != nil {
		return nil, err
	}

	var (
		order          *models.Order
		expired        []models.Order
		ticketsChanged bool
	)
	err = s.repo.WithRaffleLock(ctx, raffleID, func(ctx context.Context, tx store.RaffleTx) error {
		raffle, err := tx.GetRaffle(ctx, raffleID)
		if err != nil {
			return err
		}
		now := s.now()
		var live []models.Order
		live, expired, err = s.expireOverdue(ctx, tx, raffleID, now)
		if err != nil {
			return err
		}

		order, err = tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if !order.Status.Occupying() {
			return apperr.ErrOrderTerminal.With(op, "order %d is %s", orderID, order.Status)
		}
		if order.Status == models.OrderStatusPaid {
			s.logger.Warn("Editing a PAID order",
				zap.Int64("order_id", orderID),
				zap.String("folio", order.Folio))
		}

		if upd.Tickets != nil {
			numbers := *upd.Tickets
			if err := conflictError(op, tickets.Check(numbers, raffle.TicketCount, tickets.Occupied(live, orderID))); err != nil {
				return err
			}
			delta := len(numbers) - len(order.Tickets)
			order.SetTickets(numbers)
			ticketsChanged = true
			if upd.Total == nil {
				order.Total = raffle.Price.Mul(decimal.NewFromInt(int64(len(numbers))))
			}
			if err := tx.AdjustSold(ctx, raffleID, delta); err != nil {
				return err
			}
		}
		if upd.Total != nil {
			order.Total = *upd.Total
		}
		if upd.PaymentMethod != nil {
			order.PaymentMethod = *upd.PaymentMethod
		}
		if upd.Notes != nil {
			order.Notes = *upd.Notes
		}
		order.UpdatedAt = now
		return tx.UpdateOrder(ctx, order)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Order updated", zap.Int64("order_id", orderID), zap.Bool("tickets_changed", ticketsChanged))
	s.afterExpired(ctx, expired)
	s.afterCommit(ctx, order, models.EventTypeOrderUpdated, ticketsChanged)
	return order, nil
}

// Delete removes an order, releasing its tickets first when it holds any
func (s *OrderService) Delete(ctx context.Context, orderID int64) error {
	ctx, span := util.StartSpan(ctx, "OrderService.Delete", util.OrderAttr(orderID))
	defer span.End()

	raffleID, err := s.raffleOf(ctx, orderID)
	if err != nil {
		return err
	}

	var order *models.Order
	err = s.repo.WithRaffleLock(ctx, raffleID, func(ctx context.Context, tx store.RaffleTx) error {
		order, err = tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status == models.OrderStatusPaid {
			s.logger.Warn("Deleting a PAID order",
				zap.Int64("order_id", orderID),
				zap.String("folio", order.Folio),
				zap.String("total", order.Total.String()))
		}
		if order.Status.Occupying() {
			if err := tx.AdjustSold(ctx, raffleID, -len(order.Tickets)); err != nil {
				return err
			}
		}
		return tx.DeleteOrder(ctx, orderID)
	})
	if err != nil {
		return err
	}

	util.OrdersDeletedTotal.Inc()
	s.logger.Info("Order deleted", zap.Int64("order_id", orderID))
	s.afterCommit(ctx, order, models.EventTypeOrderDeleted, true)
	return nil
}

// Get retrieves an order by ID
func (s *OrderService) Get(ctx context.Context, orderID int64) (*models.Order, error) {
	return s.repo.GetOrder(ctx, orderID)
}

// List retrieves orders matching filter
func (s *OrderService) List(ctx context.Context, filter models.OrderFilter) ([]models.Order, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, apperr.ErrInvalidInput.With("OrderService.List", "unknown status %q", filter.Status)
	}
	return s.repo.ListOrders(ctx, filter)
}

func (s *OrderService) raffleOf(ctx context.Context, orderID int64) (int64, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return 0, err
	}
	return order.RaffleID, nil
}

// expireOverdue expires the overdue PENDING orders of a raffle inside its
// lock and returns the orders still holding tickets.
func (s *OrderService) expireOverdue(ctx context.Context, tx store.RaffleTx, raffleID int64, now time.Time) ([]models.Order, []models.Order, error) {
	orders, err := tx.ListOrdersByRaffle(ctx, raffleID, models.OrderStatusPending, models.OrderStatusPaid)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list raffle orders: %w", err)
	}

	live := make([]models.Order, 0, len(orders))
	var expired []models.Order
	for i := range orders {
		o := orders[i]
		if o.Overdue(now) {
			ok, err := s.expireOne(ctx, tx, &o, now)
			if err != nil {
				return nil, nil, err
			}
			if ok {
				expired = append(expired, o)
				continue
			}
		}
		live = append(live, o)
	}
	return live, expired, nil
}

func (s *OrderService) expireOne(ctx context.Context, tx store.RaffleTx, order *models.Order, now time.Time) (bool, error) {
	changed, err := tx.TransitionOrder(ctx, order.ID,
		[]models.OrderStatus{models.OrderStatusPending}, models.OrderStatusExpired, now)
	if err != nil || !changed {
		return false, err
	}
	order.Status = models.OrderStatusExpired
	order.UpdatedAt = now
	return true, tx.AdjustSold(ctx, order.RaffleID, -len(order.Tickets))
}

func (s *OrderService) afterExpired(ctx context.Context, expired []models.Order) {
	for i := range expired {
		util.OrdersExpiredTotal.Inc()
		s.logger.Info("Order expired",
			zap.Int64("order_id", expired[i].ID),
			zap.String("folio", expired[i].Folio))
		s.afterCommit(ctx, &expired[i], models.EventTypeOrderExpired, true)
	}
}

// afterCommit runs the side effects of a committed order change. Failures
// are logged; the database is the source of truth.
func (s *OrderService) afterCommit(ctx context.Context, order *models.Order, eventType string, ticketsChanged bool) {
	if ticketsChanged && s.cache != nil {
		if err := s.cache.Invalidate(ctx, order.RaffleID); err != nil {
			s.logger.Error("Failed to invalidate ticket cache",
				zap.Int64("raffle_id", order.RaffleID),
				zap.Error(err))
		}
	}

	if s.publisher == nil {
		return
	}
	event := &models.OrderEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: eventType,
			Timestamp: s.now(),
		},
		OrderID:       order.ID,
		Folio:         order.Folio,
		RaffleID:      order.RaffleID,
		UserID:        order.UserID,
		Status:        order.Status,
		Tickets:       order.TicketNumbers(),
		Total:         order.Total,
		PaymentMethod: order.PaymentMethod,
	}
	if err := s.publisher.PublishOrderEvent(ctx, event); err != nil {
		s.logger.Error("Failed to publish order event",
			zap.String("event_type", eventType),
			zap.Int64("order_id", order.ID),
			zap.Error(err))
	}
}

// conflictError maps a ticket check to the first failing rule: duplicates,
// then range, then availability.
func conflictError(op string, c tickets.Conflict) error {
	switch {
	case len(c.Duplicates) > 0:
		util.TicketConflictsTotal.WithLabelValues("duplicate").Inc()
		return apperr.ErrDuplicateTicket.With(op, "tickets requested more than once: %v", c.Duplicates)
	case len(c.OutOfRange) > 0:
		util.TicketConflictsTotal.WithLabelValues("out_of_range").Inc()
		return apperr.ErrTicketOutOfRange.With(op, "tickets out of range: %v", c.OutOfRange)
	case len(c.Unavailable) > 0:
		util.TicketConflictsTotal.WithLabelValues("unavailable").Inc()
		return apperr.ErrTicketUnavailable.With(op, "tickets already taken: %v", c.Unavailable)
	}
	return nil
}

// newFolio returns RF- followed by 16 hex digits of a random uuid
func newFolio() string {
	id := strings.ReplaceAll(uuid.New().String(), "-", "")
	return "RF-" + strings.ToUpper(id[:16])
}

func appendNote(notes, note string) string {
	note = strings.TrimSpace(note)
	switch {
	case note == "":
		return notes
	case notes == "":
		return note
	}
	return notes + "\n" + note
}
