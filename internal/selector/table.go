// Package selector provides weighted random selection and think-time
// sampling for simulated users.
package selector

import (
	"errors"
	"fmt"
	"sort"
)

// Errors returned by the selector package.
var (
	// ErrNoEntries is returned when a table has nothing selectable.
	ErrNoEntries = errors.New("selector: no entries with positive weight")
	// ErrInvalidWeight is returned for a negative weight.
	ErrInvalidWeight = errors.New("selector: invalid weight")
	// ErrDuplicateName is returned when two entries share a name.
	ErrDuplicateName = errors.New("selector: duplicate entry name")
)

// Source supplies random numbers. *gofakeit.Faker satisfies it.
type Source interface {
	Number(min, max int) int
	Float64Range(min, max float64) float64
}

// Entry is a named, weighted value.
type Entry[T any] struct {
	Name   string
	Weight int
	Value  T
}

type tableEntry[T any] struct {
	Entry[T]
	cumulativeWeight int
}

// Table picks entries with probability proportional to their weight.
// Entries with zero weight are kept out of the draw.
// A Table is immutable after construction and safe for concurrent reads;
// the Source passed to Pick is the caller's concern.
type Table[T any] struct {
	entries []tableEntry[T]
	total   int
}

// NewTable builds a table in declaration order.
func NewTable[T any](entries ...Entry[T]) (*Table[T], error) {
	t := &Table[T]{}
	seen := make(map[string]struct{}, len(entries))

	for _, e := range entries {
		if e.Weight < 0 {
			return nil, fmt.Errorf("%w: %s has weight %d", ErrInvalidWeight, e.Name, e.Weight)
		}
		if _, dup := seen[e.Name]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateName, e.Name)
		}
		seen[e.Name] = struct{}{}

		if e.Weight == 0 {
			continue
		}
		t.total += e.Weight
		t.entries = append(t.entries, tableEntry[T]{Entry: e, cumulativeWeight: t.total})
	}

	if t.total == 0 {
		return nil, ErrNoEntries
	}
	return t, nil
}

// Pick returns a random entry. The draw is uniform over [0, total) and the
// entry is found by binary search over cumulative weights.
func (t *Table[T]) Pick(src Source) Entry[T] {
	target := src.Number(0, t.total-1)
	idx := sort.Search(len(t.entries), func(i int) bool {
		return t.entries[i].cumulativeWeight > target
	})
	if idx >= len(t.entries) {
		idx = len(t.entries) - 1
	}
	return t.entries[idx].Entry
}

// Entries returns the selectable entries in declaration order.
func (t *Table[T]) Entries() []Entry[T] {
	out := make([]Entry[T], len(t.entries))
	for i, e := range t.entries {
		out[i] = e.Entry
	}
	return out
}

// TotalWeight returns the sum of all weights.
func (t *Table[T]) TotalWeight() int {
	return t.total
}

// Share returns the expected fraction of picks for name, or 0 if absent.
func (t *Table[T]) Share(name string) float64 {
	for _, e := range t.entries {
		if e.Name == name {
			return float64(e.Weight) / float64(t.total)
		}
	}
	return 0
}
