// Package tickets computes raffle ticket inventory: which numbers are held
// by live orders, which are free, and how pack purchases pick numbers.
package tickets

import (
	"sort"

	"raffle-service/internal/models"
)

// Set is a set of ticket numbers
type Set map[int]struct{}

// NewSet builds a set from numbers
func NewSet(numbers ...int) Set {
	s := make(Set, len(numbers))
	for _, n := range numbers {
		s[n] = struct{}{}
	}
	return s
}

// Has reports whether n is in the set
func (s Set) Has(n int) bool {
	_, ok := s[n]
	return ok
}

// Sorted returns the members in ascending order
func (s Set) Sorted() []int {
	out := make([]int, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

// Occupied returns the union of tickets held by PENDING and PAID orders.
// Orders with skip as their ID are ignored, which lets an edit validate
// against every order except the one being edited.
func Occupied(orders []models.Order, skip int64) Set {
	occupied := make(Set)
	for i := range orders {
		o := &orders[i]
		if o.ID == skip && skip != 0 {
			continue
		}
		if !o.Status.Occupying() {
			continue
		}
		for _, t := range o.Tickets {
			occupied[int(t)] = struct{}{}
		}
	}
	return occupied
}

// Count returns the number of tickets held by PENDING and PAID orders
func Count(orders []models.Order) int {
	n := 0
	for i := range orders {
		if orders[i].Status.Occupying() {
			n += len(orders[i].Tickets)
		}
	}
	return n
}

// Available returns [1, ticketCount] minus occupied, ascending
func Available(ticketCount int, occupied Set) []int {
	if ticketCount <= 0 {
		return []int{}
	}
	out := make([]int, 0, ticketCount-len(occupied))
	for n := 1; n <= ticketCount; n++ {
		if !occupied.Has(n) {
			out = append(out, n)
		}
	}
	return out
}

// Conflict describes why a requested ticket list cannot be claimed
type Conflict struct {
	Duplicates  []int
	OutOfRange  []int
	Unavailable []int
}

// Empty reports whether no problems were found
func (c Conflict) Empty() bool {
	return len(c.Duplicates) == 0 && len(c.OutOfRange) == 0 && len(c.Unavailable) == 0
}

// Check validates requested against the raffle bounds and the occupied set
func Check(requested []int, ticketCount int, occupied Set) Conflict {
	var c Conflict
	seen := make(Set, len(requested))
	for _, n := range requested {
		if seen.Has(n) {
			c.Duplicates = append(c.Duplicates, n)
			continue
		}
		seen[n] = struct{}{}
		if n < 1 || n > ticketCount {
			c.OutOfRange = append(c.OutOfRange, n)
			continue
		}
		if occupied.Has(n) {
			c.Unavailable = append(c.Unavailable, n)
		}
	}
	return c
}
