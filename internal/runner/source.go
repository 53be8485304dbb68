package runner

import (
	"sync"

	"github.com/brianvoe/gofakeit/v7"

	"github.com/example/eventsink/tools/loadgen/internal/event"
)

// rngSource serializes access to the runner's own random source, which
// picks user classes.
type rngSource struct {
	mu    sync.Mutex
	faker *gofakeit.Faker
}

func newRNGSource(seed uint64) *rngSource {
	return &rngSource{faker: event.NewSource(seed)}
}

func (s *rngSource) Number(min, max int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.faker.Number(min, max)
}

func (s *rngSource) Float64Range(min, max float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.faker.Float64Range(min, max)
}
