package tickets

import (
	"math/rand/v2"
	"sort"

	"raffle-service/internal/models"
)

// Entry is one draw unit: a single ticket occurrence owned by an order
type Entry struct {
	OrderID int64
	Folio   string
	Ticket  int
}

// DrawPool flattens the tickets of PAID orders into draw units. Orders are
// taken in ascending ID and tickets in stored position, so the same order
// set always yields the same pool and a recorded seed replays exactly.
func DrawPool(orders []models.Order) []Entry {
	paid := make([]*models.Order, 0, len(orders))
	for i := range orders {
		if orders[i].Status == models.OrderStatusPaid {
			paid = append(paid, &orders[i])
		}
	}
	sort.Slice(paid, func(i, j int) bool { return paid[i].ID < paid[j].ID })

	var pool []Entry
	for _, o := range paid {
		for _, t := range o.Tickets {
			pool = append(pool, Entry{OrderID: o.ID, Folio: o.Folio, Ticket: int(t)})
		}
	}
	return pool
}

// PickIndex maps a seed to an index in [0, poolSize)
func PickIndex(seed int64, poolSize int) int {
	if poolSize <= 0 {
		return -1
	}
	s := uint64(seed)
	rng := rand.New(rand.NewPCG(s, s^0x9e3779b97f4a7c15))
	return rng.IntN(poolSize)
}
