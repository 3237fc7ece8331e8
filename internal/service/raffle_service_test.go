package service

import (
	"context"
	"testing"

	"raffle-service/internal/apperr"
	"raffle-service/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRaffleCreateDefaults(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	r, err := env.raffles.Create(ctx, CreateRaffleRequest{Title: "Gran Rifa 2024!", TicketCount: 100, Price: decimal.NewFromInt(50)})
	require.NoError(t, err)
	assert.Equal(t, "gran-rifa-2024", r.Slug)
	assert.Equal(t, models.RaffleStatusDraft, r.Status)
	assert.Equal(t, 0, r.Sold)

	_, err = env.raffles.Create(ctx, CreateRaffleRequest{Title: "Other", TicketCount: 0})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = env.raffles.Create(ctx, CreateRaffleRequest{Title: "Gran Rifa 2024", TicketCount: 10})
	assert.ErrorIs(t, err, apperr.ErrDuplicateRequest)
}

func TestRaffleUpdateLocksCountAndPrice(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	raffle := env.activeRaffle(t, 10, "10")

	count := 20
	updated, err := env.raffles.Update(ctx, raffle.ID, models.RaffleUpdate{TicketCount: &count})
	require.NoError(t, err)
	assert.Equal(t, 20, updated.TicketCount)

	env.create(t, raffle.ID, 1)

	count = 30
	_, err = env.raffles.Update(ctx, raffle.ID, models.RaffleUpdate{TicketCount: &count})
	assert.ErrorIs(t, err, apperr.ErrRaffleLocked)

	price := decimal.NewFromInt(99)
	_, err = env.raffles.Update(ctx, raffle.ID, models.RaffleUpdate{Price: &price})
	assert.ErrorIs(t, err, apperr.ErrRaffleLocked)

	title := "Renamed"
	status := models.RaffleStatusFinished
	updated, err = env.raffles.Update(ctx, raffle.ID, models.RaffleUpdate{Title: &title, Status: &status})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", updated.Title)
	assert.Equal(t, 1, updated.Sold)

	_, err = env.orders.Create(ctx, CreateOrderRequest{RaffleID: raffle.ID, UserID: 1, Tickets: []int{2}})
	assert.ErrorIs(t, err, apperr.ErrRaffleClosed)
}

func TestRaffleDeleteRefusesPaidOrders(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	raffle := env.activeRaffle(t, 10, "10")
	order := env.create(t, raffle.ID, 1)
	_, _, err := env.orders.MarkPaid(ctx, order.ID, MarkPaidOptions{})
	require.NoError(t, err)

	err = env.raffles.Delete(ctx, raffle.ID)
	assert.ErrorIs(t, err, apperr.ErrRaffleHasPaidOrders)

	other := env.activeRaffle(t, 10, "10")
	pending := env.create(t, other.ID, 1)
	require.NoError(t, env.raffles.Delete(ctx, other.ID))

	_, err = env.raffles.Get(ctx, other.ID)
	assert.ErrorIs(t, err, apperr.ErrRaffleNotFound)
	_, err = env.orders.Get(ctx, pending.ID)
	assert.ErrorIs(t, err, apperr.ErrOrderNotFound)
}
