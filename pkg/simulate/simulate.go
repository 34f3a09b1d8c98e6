// Package simulate provides the goroutine-safe random source behind every
// simulated strategy. Seeding it makes the pipeline reproducible in tests.
package simulate

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Source is a locked math/rand/v2 generator.
type Source struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// New returns a source seeded with seed.
func New(seed uint64) *Source {
	return &Source{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// NewRandom returns a source seeded from the clock.
func NewRandom() *Source {
	return New(uint64(time.Now().UnixNano()))
}

// Float64 returns a value in [0,1).
func (s *Source) Float64() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64()
}

// IntN returns a value in [0,n). n must be positive.
func (s *Source) IntN(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.IntN(n)
}

// Chance reports true with probability p.
func (s *Source) Chance(p float64) bool {
	if p <= 0 {
		return false
	}
	if p >= 1 {
		return true
	}
	return s.Float64() < p
}

// Between returns an integer in [lo,hi].
func (s *Source) Between(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + s.IntN(hi-lo+1)
}

// Duration returns a duration in [0,max].
func (s *Source) Duration(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(s.Float64() * float64(max))
}

// Pick returns a random element of items. items must not be empty.
func Pick[T any](s *Source, items []T) T {
	return items[s.IntN(len(items))]
}
