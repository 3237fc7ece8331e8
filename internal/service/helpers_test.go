package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"raffle-service/internal/models"
	"raffle-service/internal/payments"
	"raffle-service/internal/store"
	"raffle-service/internal/tickets"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakePublisher struct {
	mu      sync.Mutex
	orders  []models.OrderEvent
	winners []models.WinnerDrawnEvent
	retries []models.WebhookRetryEvent
}

func (p *fakePublisher) PublishOrderEvent(_ context.Context, e *models.OrderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.orders = append(p.orders, *e)
	return nil
}

func (p *fakePublisher) PublishWinnerDrawn(_ context.Context, e *models.WinnerDrawnEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.winners = append(p.winners, *e)
	return nil
}

func (p *fakePublisher) PublishWebhookRetry(_ context.Context, e *models.WebhookRetryEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.retries = append(p.retries, *e)
	return nil
}

func (p *fakePublisher) orderEventTypes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.orders))
	for i, e := range p.orders {
		out[i] = e.EventType
	}
	return out
}

type fakeCache struct {
	mu          sync.Mutex
	now         Clock
	sets        map[int64][]int
	expires     map[int64]time.Time
	versions    map[int64]int
	invalidated int
}

func newFakeCache(clock Clock) *fakeCache {
	return &fakeCache{
		now:      clock,
		sets:     make(map[int64][]int),
		expires:  make(map[int64]time.Time),
		versions: make(map[int64]int),
	}
}

func (c *fakeCache) GetOccupied(_ context.Context, raffleID int64) ([]int, string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if exp, ok := c.expires[raffleID]; ok && !c.now().Before(exp) {
		delete(c.sets, raffleID)
		delete(c.expires, raffleID)
	}
	set, ok := c.sets[raffleID]
	return set, strconv.Itoa(c.versions[raffleID]), ok, nil
}

func (c *fakeCache) SetOccupied(_ context.Context, raffleID int64, version string, t []int, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if version != strconv.Itoa(c.versions[raffleID]) {
		return nil
	}
	c.sets[raffleID] = append([]int{}, t...)
	delete(c.expires, raffleID)
	if ttl > 0 {
		c.expires[raffleID] = c.now().Add(ttl)
	}
	return nil
}

func (c *fakeCache) Invalidate(_ context.Context, raffleID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sets, raffleID)
	c.versions[raffleID]++
	c.invalidated++
	return nil
}

type fakeProvider struct {
	mu        sync.Mutex
	created   []payments.CreateOrderRequest
	captures  int
	capture   payments.Capture
	status    payments.Status
	err       error
	reject    bool
	verifyErr error
}

func (p *fakeProvider) Name() string { return "paypal" }

func (p *fakeProvider) CreateOrder(_ context.Context, req payments.CreateOrderRequest) (payments.ProviderOrder, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return payments.ProviderOrder{}, p.err
	}
	p.created = append(p.created, req)
	return payments.ProviderOrder{
		ID:          "PP-" + req.Reference,
		Status:      payments.StatusCreated,
		ApprovalURL: "https://paypal.example/approve/" + req.Reference,
		Amount:      req.Amount,
		Currency:    req.Currency,
	}, nil
}

func (p *fakeProvider) CaptureOrder(_ context.Context, id string) (payments.Capture, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.captures++
	if p.err != nil {
		return payments.Capture{}, p.err
	}
	c := p.capture
	c.OrderID = id
	return c, nil
}

func (p *fakeProvider) GetOrder(_ context.Context, id string) (payments.ProviderOrder, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return payments.ProviderOrder{ID: id, Status: p.status}, p.err
}

func (p *fakeProvider) VerifyWebhook(context.Context, http.Header, []byte) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.verifyErr != nil {
		return false, p.verifyErr
	}
	return !p.reject, nil
}

// slowCaptureProvider completes the provider order on the first capture and
// holds its response until release is closed. Later captures fail the way
// PayPal does for an order that is already captured.
type slowCaptureProvider struct {
	fakeProvider
	entered  chan struct{}
	release  chan struct{}
	capMu    sync.Mutex
	calls    int
	captured bool
}

func newSlowCaptureProvider() *slowCaptureProvider {
	return &slowCaptureProvider{entered: make(chan struct{}), release: make(chan struct{})}
}

func (p *slowCaptureProvider) CaptureOrder(_ context.Context, id string) (payments.Capture, error) {
	p.capMu.Lock()
	p.calls++
	first := p.calls == 1
	if first {
		p.captured = true
	}
	p.capMu.Unlock()
	if !first {
		return payments.Capture{}, errors.New("paypal: 422 ORDER_ALREADY_CAPTURED")
	}
	close(p.entered)
	<-p.release
	return payments.Capture{OrderID: id, Status: payments.StatusCompleted, Amount: decimal.RequireFromString("40.49"), Currency: "USD"}, nil
}

func (p *slowCaptureProvider) GetOrder(_ context.Context, id string) (payments.ProviderOrder, error) {
	p.capMu.Lock()
	defer p.capMu.Unlock()
	if !p.captured {
		return payments.ProviderOrder{ID: id, Status: payments.StatusApproved}, nil
	}
	return payments.ProviderOrder{ID: id, Status: payments.StatusCompleted, Amount: decimal.RequireFromString("40.49"), Currency: "USD"}, nil
}

var raffleSeq atomic.Int64

type testEnv struct {
	repo    *store.MemoryStore
	clock   *fakeClock
	pub     *fakePublisher
	cache   *fakeCache
	orders  *OrderService
	raffles *RaffleService
	tickets *TicketService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		repo:  store.NewMemoryStore(),
		clock: newFakeClock(),
		pub:   &fakePublisher{},
	}
	env.cache = newFakeCache(env.clock.Now)
	env.orders = NewOrderService(env.repo, env.cache, env.pub, OrderOptions{TTL: time.Hour, Clock: env.clock.Now})
	env.raffles = NewRaffleService(env.repo, env.cache, env.clock.Now)
	env.tickets = NewTicketService(env.repo, env.cache, env.clock.Now)
	return env
}

func (e *testEnv) activeRaffle(t *testing.T, ticketCount int, price string) *models.Raffle {
	t.Helper()
	r, err := e.raffles.Create(context.Background(), CreateRaffleRequest{
		Title:       fmt.Sprintf("Raffle %d", raffleSeq.Add(1)),
		TicketCount: ticketCount,
		Price:       decimal.RequireFromString(price),
		Status:      models.RaffleStatusActive,
	})
	require.NoError(t, err)
	return r
}

func (e *testEnv) create(t *testing.T, raffleID int64, numbers ...int) *models.Order {
	t.Helper()
	res, err := e.orders.Create(context.Background(), CreateOrderRequest{
		RaffleID: raffleID,
		UserID:   7,
		Tickets:  numbers,
	})
	require.NoError(t, err)
	return res.Order
}

// requireSoldConsistent checks that the sold counter matches the tickets of
// live orders and that no ticket is held twice
func (e *testEnv) requireSoldConsistent(t *testing.T, raffleID int64) {
	t.Helper()
	ctx := context.Background()
	raffle, err := e.repo.GetRaffle(ctx, raffleID)
	require.NoError(t, err)
	orders, err := e.repo.ListOrdersByRaffle(ctx, raffleID)
	require.NoError(t, err)
	require.Equal(t, tickets.Count(orders), raffle.Sold)

	seen := map[int]int64{}
	for _, o := range orders {
		if !o.Status.Occupying() {
			continue
		}
		for _, n := range o.TicketNumbers() {
			prev, dup := seen[n]
			require.Falsef(t, dup, "ticket %d held by orders %d and %d", n, prev, o.ID)
			seen[n] = o.ID
		}
	}
}

func sorted(in []int) []int {
	out := append([]int{}, in...)
	sort.Ints(out)
	return out
}
