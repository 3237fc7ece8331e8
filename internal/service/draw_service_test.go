package service

import (
	"context"
	"testing"

	"raffle-service/internal/apperr"
	"raffle-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDrawWinnerUsesPaidTicketsOnly(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	raffle := env.activeRaffle(t, 20, "10")
	draws := NewDrawService(env.repo, env.pub, func() (int64, error) { return 42, nil }, env.clock.Now)

	_, err := draws.DrawWinner(ctx, raffle.ID)
	assert.ErrorIs(t, err, apperr.ErrNoEligibleTickets)

	env.create(t, raffle.ID, 1, 2, 3)
	paid := env.create(t, raffle.ID, 10, 11)
	_, _, err = env.orders.MarkPaid(ctx, paid.ID, MarkPaidOptions{})
	require.NoError(t, err)

	winner, err := draws.DrawWinner(ctx, raffle.ID)
	require.NoError(t, err)
	assert.Equal(t, paid.ID, winner.OrderID)
	assert.Equal(t, paid.Folio, winner.Folio)
	assert.Contains(t, []int{10, 11}, winner.Ticket)
	assert.Equal(t, 2, winner.PoolSize)
	assert.Equal(t, int64(42), winner.Seed)
	assert.Equal(t, winner.DrawIndex, draws.ReplayDraw(winner.Seed, winner.PoolSize))

	winners, err := draws.ListWinners(ctx, raffle.ID)
	require.NoError(t, err)
	require.Len(t, winners, 1)
	assert.Equal(t, winner.ID, winners[0].ID)

	require.Len(t, env.pub.winners, 1)
	assert.Equal(t, models.EventTypeWinnerDrawn, env.pub.winners[0].EventType)
}

func TestDrawWinnerCryptoSeed(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	raffle := env.activeRaffle(t, 5, "10")
	order := env.create(t, raffle.ID, 1, 2, 3, 4, 5)
	_, _, err := env.orders.MarkPaid(ctx, order.ID, MarkPaidOptions{})
	require.NoError(t, err)

	draws := NewDrawService(env.repo, nil, nil, nil)
	winner, err := draws.DrawWinner(ctx, raffle.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, winner.PoolSize)
	assert.Equal(t, winner.DrawIndex+1, winner.Ticket)
}

func TestListWinnersUnknownRaffle(t *testing.T) {
	env := newTestEnv(t)
	draws := NewDrawService(env.repo, nil, nil, nil)
	_, err := draws.ListWinners(context.Background(), 77)
	assert.ErrorIs(t, err, apperr.ErrRaffleNotFound)
}
