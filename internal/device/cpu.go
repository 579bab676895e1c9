package device

import (
	"fmt"
	"math/rand/v2"

	"github.com/vk/trainforge/internal/dataset"
	"github.com/vk/trainforge/internal/model"
	"github.com/vk/trainforge/internal/tensor"
)

// CPU keeps everything in host memory. Its only device-internal state is
// the generator.
type CPU struct {
	src *rand.PCG
	rng *rand.Rand
}

var _ Device = (*CPU)(nil)

// NewCPU creates a CPU adapter whose generator is seeded with seed.
func NewCPU(seed uint64) *CPU {
	src := rand.NewPCG(seed, 0)
	return &CPU{src: src, rng: rand.New(src)}
}

func (d *CPU) Name() string { return "cpu" }

func (d *CPU) DistBackend() string { return BackendGloo }

func (d *CPU) Placement() tensor.Placement { return tensor.Host }

func (d *CPU) ModuleToDevice(c *model.Classifier) *model.Classifier {
	c.To(tensor.Host)
	return c
}

func (d *CPU) TensorToDevice(t *tensor.Tensor) *tensor.Tensor { return tensorTo(t, tensor.Host) }

func (d *CPU) BatchToDevice(b *dataset.Batch) *dataset.Batch { return batchTo(b, tensor.Host) }

// StateDict captures the generator state under RNGKey.
func (d *CPU) StateDict() (map[string]any, error) {
	state, err := d.src.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("capturing rng state of cpu: %w", err)
	}
	return map[string]any{RNGKey: state}, nil
}

// LoadStateDict restores the generator state captured by StateDict.
func (d *CPU) LoadStateDict(state map[string]any) error {
	b, err := rngState(state)
	if err != nil {
		return err
	}
	if err := d.src.UnmarshalBinary(b); err != nil {
		return fmt.Errorf("restoring rng state of cpu: %w", err)
	}
	return nil
}

func (d *CPU) Generator() *rand.Rand { return d.rng }
