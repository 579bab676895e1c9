package dist

import (
	"fmt"
	"math/rand/v2"
)

// Sampler partitions the indices [0, n) of a dataset between the ranks of a
// job. For a given seed and epoch every rank derives the same global order,
// then takes the positions congruent to its rank modulo the world size.
// There is no padding: ranks never share an index and, unless DropLast
// trims the tail, their union is the whole dataset exactly once.
type Sampler struct {
	n        int
	env      Env
	shuffle  bool
	dropLast bool
	seed     uint64
	epoch    int
}

// NewSampler creates a sampler over a dataset of n samples.
func NewSampler(n int, env Env, shuffle, dropLast bool, seed uint64) (*Sampler, error) {
	if n < 0 {
		return nil, fmt.Errorf("dataset size must not be negative, got %d", n)
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return &Sampler{n: n, env: env, shuffle: shuffle, dropLast: dropLast, seed: seed}, nil
}

// SetEpoch selects the permutation used by the next call to Indices.
func (s *Sampler) SetEpoch(epoch int) { s.epoch = epoch }

// Epoch returns the epoch set by SetEpoch.
func (s *Sampler) Epoch() int { return s.epoch }

// Len returns how many indices this rank receives per epoch.
func (s *Sampler) Len() int {
	total := s.total()
	w, r := s.env.WorldSize, s.env.Rank
	if r >= total {
		return 0
	}
	return (total-r-1)/w + 1
}

// total is the number of global positions handed out per epoch.
func (s *Sampler) total() int {
	if s.dropLast {
		return (s.n / s.env.WorldSize) * s.env.WorldSize
	}
	return s.n
}

// Indices returns this rank's dataset indices for the current epoch.
func (s *Sampler) Indices() []int { return s.IndicesFor(s.epoch) }

// IndicesFor returns this rank's dataset indices for epoch without
// changing the sampler.
func (s *Sampler) IndicesFor(epoch int) []int {
	order := s.order(epoch)[:s.total()]
	out := make([]int, 0, s.Len())
	for i := s.env.Rank; i < len(order); i += s.env.WorldSize {
		out = append(out, order[i])
	}
	return out
}

func (s *Sampler) order(epoch int) []int {
	if !s.shuffle {
		order := make([]int, s.n)
		for i := range order {
			order[i] = i
		}
		return order
	}
	rng := rand.New(rand.NewPCG(s.seed, uint64(epoch)))
	return rng.Perm(s.n)
}
