// Package dataset provides the datasets used for image classification and
// the Loader that turns a dataset plus a sharding sampler into a sequence
// of batches.
package dataset

import (
	"errors"
	"math/rand/v2"

	"github.com/vk/trainforge/internal/tensor"
)

// NoSuppLabel marks a sample without a supplementary label.
const NoSuppLabel = -1

// ErrIndexOutOfRange is returned by Get for an index outside [0, Len()).
var ErrIndexOutOfRange = errors.New("dataset index out of range")

// Sample is one (input, label) pair.
type Sample struct {
	Input     *tensor.Tensor
	Label     int
	SuppLabel int
}

// Dataset is a finite, randomly accessible collection of samples. Any
// randomness (augmentation) must be drawn from rng so that a sample is a
// pure function of (index, rng state). Get may be called concurrently.
type Dataset interface {
	Len() int
	Get(index int, rng *rand.Rand) (Sample, error)
}

// Batch is a group of samples collated along a leading batch dimension.
type Batch struct {
	Inputs     *tensor.Tensor
	Labels     []int
	SuppLabels []int
	Indices    []int
}

// Size returns the number of samples in the batch.
func (b *Batch) Size() int { return len(b.Labels) }
