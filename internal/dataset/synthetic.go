package dataset

import (
	"fmt"
	"math/rand/v2"
	"slices"

	"github.com/vk/trainforge/internal/tensor"
)

// SyntheticOptions describes a synthetic classification dataset.
type SyntheticOptions struct {
	Total        int
	Shape        []int
	NumClasses   int
	NumUnique    int
	Placement    tensor.Placement // defaults to the host
	ChannelsLast bool
	Seed         uint64
}

// Synthetic serves NumUnique pre-generated random samples cyclically so
// that a dataset of any length costs only NumUnique samples of memory.
type Synthetic struct {
	total  int
	unique []Sample
}

// NewSynthetic generates the unique samples. Inputs are standard normal,
// labels uniform over the classes; both are fixed by Seed.
func NewSynthetic(opts SyntheticOptions) (*Synthetic, error) {
	if opts.Total < 0 {
		return nil, fmt.Errorf("synthetic dataset size must not be negative, got %d", opts.Total)
	}
	if opts.NumUnique < 1 {
		return nil, fmt.Errorf("synthetic dataset needs at least one unique sample, got %d", opts.NumUnique)
	}
	if opts.NumClasses < 1 {
		return nil, fmt.Errorf("synthetic dataset needs at least one class, got %d", opts.NumClasses)
	}

	if opts.Placement.Kind == "" {
		opts.Placement = tensor.Host
	}

	rng := rand.New(rand.NewPCG(opts.Seed, 0x5eed))
	unique := make([]Sample, opts.NumUnique)
	for i := range unique {
		t := tensor.New(slices.Clone(opts.Shape)...)
		for j := range t.Data {
			t.Data[j] = rng.NormFloat64()
		}
		if opts.ChannelsLast {
			cl, err := t.ToChannelsLast()
			if err != nil {
				return nil, err
			}
			t = cl
		}
		t.Placement = opts.Placement
		unique[i] = Sample{Input: t, Label: rng.IntN(opts.NumClasses), SuppLabel: NoSuppLabel}
	}
	return &Synthetic{total: opts.Total, unique: unique}, nil
}

func (s *Synthetic) Len() int { return s.total }

// Get returns the unique sample index maps to. The returned tensor is
// shared and must not be modified.
func (s *Synthetic) Get(index int, _ *rand.Rand) (Sample, error) {
	if index < 0 || index >= s.total {
		return Sample{}, fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, index, s.total)
	}
	return s.unique[index%len(s.unique)], nil
}
