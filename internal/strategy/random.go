package strategy

import (
	"math/rand"
	"sync"
	"time"
)

// Sampler is a seedable source for the strategy's randomized timings and
// leg orderings. A zero seed produces a time-based sequence; a fixed seed
// makes runs reproducible in tests.
type Sampler struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func NewSampler(seed int64) *Sampler {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Sampler{rng: rand.New(rand.NewSource(seed))}
}

// Duration picks a uniform random duration in [min, max]. A degenerate
// range collapses to min.
func (s *Sampler) Duration(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return min + time.Duration(s.rng.Int63n(int64(max-min)+1))
}

func (s *Sampler) Bool() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Intn(2) == 0
}
