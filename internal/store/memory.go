package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"raffle-service/internal/apperr"
	"raffle-service/internal/models"
)

// MemoryStore is an in-process implementation of Repository used
// by tests and local runs without postgres. Writes inside WithRaffleLock
// are applied immediately; a failing callback does not roll them back.
type MemoryStore struct {
	mu          sync.RWMutex
	raffles     map[int64]models.Raffle
	orders      map[int64]models.Order
	winners     []models.Winner
	processed   map[string]string
	nextRaffle  int64
	nextOrder   int64
	nextWinner  int64
	locksMu     sync.Mutex
	raffleLocks map[int64]*sync.Mutex
}

var _ Repository = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		raffles:     make(map[int64]models.Raffle),
		orders:      make(map[int64]models.Order),
		processed:   make(map[string]string),
		raffleLocks: make(map[int64]*sync.Mutex),
	}
}

func (m *MemoryStore) lockFor(raffleID int64) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l, ok := m.raffleLocks[raffleID]
	if !ok {
		l = &sync.Mutex{}
		m.raffleLocks[raffleID] = l
	}
	return l
}

// WithRaffleLock serializes fn against other callers for the same raffle
func (m *MemoryStore) WithRaffleLock(ctx context.Context, raffleID int64, fn func(ctx context.Context, tx RaffleTx) error) error {
	if _, err := m.GetRaffle(ctx, raffleID); err != nil {
		return err
	}
	l := m.lockFor(raffleID)
	l.Lock()
	defer l.Unlock()
	return fn(ctx, m)
}

// GetRaffle retrieves a raffle by ID
func (m *MemoryStore) GetRaffle(_ context.Context, id int64) (*models.Raffle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.raffles[id]
	if !ok {
		return nil, apperr.ErrRaffleNotFound.With("store.GetRaffle", "raffle %d not found", id)
	}
	return &r, nil
}

// CreateRaffle inserts a raffle
func (m *MemoryStore) CreateRaffle(_ context.Context, raffle *models.Raffle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.raffles {
		if r.Slug == raffle.Slug {
			return apperr.ErrDuplicateRequest.With("store.CreateRaffle", "slug %q already used", raffle.Slug)
		}
	}
	m.nextRaffle++
	raffle.ID = m.nextRaffle
	m.raffles[raffle.ID] = *raffle
	return nil
}

// UpdateRaffle writes the mutable raffle fields
func (m *MemoryStore) UpdateRaffle(_ context.Context, raffle *models.Raffle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.raffles[raffle.ID]
	if !ok {
		return apperr.ErrRaffleNotFound.With("store.UpdateRaffle", "raffle %d not found", raffle.ID)
	}
	sold := cur.Sold
	cur = *raffle
	cur.Sold = sold
	m.raffles[raffle.ID] = cur
	return nil
}

// DeleteRaffle removes a raffle together with its orders. It refuses while
// any order is PAID.
func (m *MemoryStore) DeleteRaffle(_ context.Context, id int64) error {
	l := m.lockFor(id)
	l.Lock()
	defer l.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.raffles[id]; !ok {
		return apperr.ErrRaffleNotFound.With("store.DeleteRaffle", "raffle %d not found", id)
	}
	for _, o := range m.orders {
		if o.RaffleID == id && o.Status == models.OrderStatusPaid {
			return apperr.ErrRaffleHasPaidOrders.With("store.DeleteRaffle", "raffle %d has paid orders", id)
		}
	}
	for oid, o := range m.orders {
		if o.RaffleID == id {
			delete(m.orders, oid)
		}
	}
	kept := m.winners[:0]
	for _, w := range m.winners {
		if w.RaffleID != id {
			kept = append(kept, w)
		}
	}
	m.winners = kept
	delete(m.raffles, id)
	return nil
}

// ListRaffles retrieves all raffles
func (m *MemoryStore) ListRaffles(_ context.Context) ([]models.Raffle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Raffle, 0, len(m.raffles))
	for _, r := range m.raffles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

// AdjustSold adds delta to the raffle sold counter
func (m *MemoryStore) AdjustSold(_ context.Context, raffleID int64, delta int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.raffles[raffleID]
	if !ok {
		return apperr.ErrRaffleNotFound.With("store.AdjustSold", "raffle %d not found", raffleID)
	}
	r.Sold += delta
	r.UpdatedAt = time.Now()
	m.raffles[raffleID] = r
	return nil
}

// GetOrder retrieves an order by ID
func (m *MemoryStore) GetOrder(_ context.Context, id int64) (*models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, apperr.ErrOrderNotFound.With("store.GetOrder", "order %d not found", id)
	}
	cp := o.Clone()
	return &cp, nil
}

// ListOrdersByRaffle retrieves the orders of a raffle, optionally limited to statuses
func (m *MemoryStore) ListOrdersByRaffle(_ context.Context, raffleID int64, statuses ...models.OrderStatus) ([]models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Order
	for _, o := range m.orders {
		if o.RaffleID != raffleID || !statusIn(o.Status, statuses) {
			continue
		}
		out = append(out, o.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// InsertOrder creates a new order
func (m *MemoryStore) InsertOrder(_ context.Context, order *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.Folio == order.Folio ||
			(order.IdempotencyKey != nil && o.IdempotencyKey != nil && *o.IdempotencyKey == *order.IdempotencyKey) {
			return apperr.ErrDuplicateRequest.With("store.InsertOrder", "order %s already exists", order.Folio)
		}
	}
	m.nextOrder++
	order.ID = m.nextOrder
	m.orders[order.ID] = order.Clone()
	return nil
}

// UpdateOrder writes every mutable order column
func (m *MemoryStore) UpdateOrder(_ context.Context, order *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[order.ID]; !ok {
		return apperr.ErrOrderNotFound.With("store.UpdateOrder", "order %d not found", order.ID)
	}
	m.orders[order.ID] = order.Clone()
	return nil
}

// TransitionOrder moves an order to status `to` only while it is in one of `from`
func (m *MemoryStore) TransitionOrder(_ context.Context, orderID int64, from []models.OrderStatus, to models.OrderStatus, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok || !statusIn(o.Status, from) || len(from) == 0 {
		return false, nil
	}
	o.Status = to
	o.UpdatedAt = at
	if to == models.OrderStatusPaid {
		paidAt := at
		o.PaidAt = &paidAt
	}
	m.orders[orderID] = o
	return true, nil
}

// DeleteOrder removes an order
func (m *MemoryStore) DeleteOrder(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[id]; !ok {
		return apperr.ErrOrderNotFound.With("store.DeleteOrder", "order %d not found", id)
	}
	delete(m.orders, id)
	return nil
}

// InsertWinner records a draw result
func (m *MemoryStore) InsertWinner(_ context.Context, winner *models.Winner) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextWinner++
	winner.ID = m.nextWinner
	m.winners = append(m.winners, *winner)
	return nil
}

// ListWinners retrieves the draws recorded for a raffle
func (m *MemoryStore) ListWinners(_ context.Context, raffleID int64) ([]models.Winner, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Winner
	for i := len(m.winners) - 1; i >= 0; i-- {
		if m.winners[i].RaffleID == raffleID {
			out = append(out, m.winners[i])
		}
	}
	return out, nil
}

// ListOrders retrieves orders matching filter, newest first
func (m *MemoryStore) ListOrders(_ context.Context, filter models.OrderFilter) ([]models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Order
	for _, o := range m.orders {
		if filter.RaffleID != 0 && o.RaffleID != filter.RaffleID {
			continue
		}
		if filter.UserID != 0 && o.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		out = append(out, o.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// GetOrderByProviderID retrieves an order by its payment provider correlation id
func (m *MemoryStore) GetOrderByProviderID(_ context.Context, providerOrderID string) (*models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, o := range m.orders {
		if o.ProviderOrderID != nil && *o.ProviderOrderID == providerOrderID {
			cp := o.Clone()
			return &cp, nil
		}
	}
	return nil, apperr.ErrOrderNotFound.With("store.GetOrderByProviderID", "no order for provider id %s", providerOrderID)
}

// GetOrderByIdempotencyKey retrieves an order by idempotency key
func (m *MemoryStore) GetOrderByIdempotencyKey(_ context.Context, key string) (*models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, o := range m.orders {
		if o.IdempotencyKey != nil && *o.IdempotencyKey == key {
			cp := o.Clone()
			return &cp, nil
		}
	}
	return nil, nil
}

// SetProviderOrderID stores the payment provider correlation id on an order
func (m *MemoryStore) SetProviderOrderID(_ context.Context, orderID int64, providerOrderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return apperr.ErrOrderNotFound.With("store.SetProviderOrderID", "order %d not found", orderID)
	}
	id := providerOrderID
	o.ProviderOrderID = &id
	o.UpdatedAt = time.Now()
	m.orders[orderID] = o
	return nil
}

// ListExpiredPending retrieves PENDING orders whose expiry has passed
func (m *MemoryStore) ListExpiredPending(_ context.Context, now time.Time, limit int) ([]models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Order
	for _, o := range m.orders {
		if o.Status == models.OrderStatusPending && !o.ExpiresAt.After(now) {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// IsEventProcessed checks if an event has been processed
func (m *MemoryStore) IsEventProcessed(_ context.Context, eventID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.processed[eventID]
	return ok, nil
}

// MarkEventProcessed marks an event as processed
func (m *MemoryStore) MarkEventProcessed(_ context.Context, eventID, eventType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.processed[eventID]; !ok {
		m.processed[eventID] = eventType
	}
	return nil
}

func statusIn(s models.OrderStatus, statuses []models.OrderStatus) bool {
	if len(statuses) == 0 {
		return true
	}
	for _, st := range statuses {
		if st == s {
			return true
		}
	}
	return false
}
