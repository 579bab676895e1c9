package device

import (
	"fmt"
	"math/rand/v2"

	"github.com/vk/trainforge/internal/accel"
	"github.com/vk/trainforge/internal/dataset"
	"github.com/vk/trainforge/internal/model"
	"github.com/vk/trainforge/internal/tensor"
)

// GPU binds the process to one accelerator of the runtime.
type GPU struct {
	rt        accel.Runtime
	placement tensor.Placement
}

var _ Device = (*GPU)(nil)

// NewGPU selects accelerator localRank as the active device and checks
// that the runtime reports it back.
func NewGPU(rt accel.Runtime, localRank int) (*GPU, error) {
	if n := rt.DeviceCount(); localRank >= n {
		return nil, fmt.Errorf("%w: local rank %d needs device %d but %d device(s) are visible", accel.ErrInvalidDevice, localRank, localRank, n)
	}
	if err := rt.SetDevice(localRank); err != nil {
		return nil, err
	}
	if cur := rt.CurrentDevice(); cur != localRank {
		return nil, fmt.Errorf("%w: selected device %d but runtime reports %d", accel.ErrInvalidDevice, localRank, cur)
	}
	return &GPU{rt: rt, placement: tensor.Placement{Kind: tensor.CUDA, Index: localRank}}, nil
}

func (d *GPU) Name() string { return "gpu" }

func (d *GPU) DistBackend() string { return BackendNCCL }

func (d *GPU) Placement() tensor.Placement { return d.placement }

func (d *GPU) ModuleToDevice(c *model.Classifier) *model.Classifier {
	c.To(d.placement)
	return c
}

func (d *GPU) TensorToDevice(t *tensor.Tensor) *tensor.Tensor { return tensorTo(t, d.placement) }

func (d *GPU) BatchToDevice(b *dataset.Batch) *dataset.Batch { return batchTo(b, d.placement) }

// StateDict captures the generator state of the bound device under RNGKey.
func (d *GPU) StateDict() (map[string]any, error) {
	state, err := d.rt.RNGState()
	if err != nil {
		return nil, fmt.Errorf("capturing rng state of %s: %w", d.placement, err)
	}
	return map[string]any{RNGKey: state}, nil
}

// LoadStateDict restores the generator state captured by StateDict.
func (d *GPU) LoadStateDict(state map[string]any) error {
	b, err := rngState(state)
	if err != nil {
		return err
	}
	if err := d.rt.SetRNGState(b); err != nil {
		return fmt.Errorf("restoring rng state of %s: %w", d.placement, err)
	}
	return nil
}

func (d *GPU) Generator() *rand.Rand { return d.rt.Generator() }
