package tickets

import (
	"fmt"
	"math/rand/v2"

	"raffle-service/internal/apperr"
)

// Allocate picks count distinct numbers from available uniformly at random
// using a partial Fisher-Yates shuffle over a copy of available. The result
// is in selection order; sort it only for display.
func Allocate(available []int, count int, rng *rand.Rand) ([]int, error) {
	if count <= 0 {
		return nil, apperr.ErrInvalidInput.With("tickets.Allocate", "pack size must be positive, got %d", count)
	}
	if count > len(available) {
		return nil, apperr.ErrInsufficientInventory.With("tickets.Allocate",
			"requested %d tickets, only %d available", count, len(available))
	}
	if rng == nil {
		return nil, fmt.Errorf("tickets.Allocate: nil random source")
	}

	pool := make([]int, len(available))
	copy(pool, available)

	n := len(pool)
	for i := 0; i < count; i++ {
		j := i + rng.IntN(n-i)
		pool[i], pool[j] = pool[j], pool[i]
	}

	out := make([]int, count)
	copy(out, pool[:count])
	return out, nil
}
