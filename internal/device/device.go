// Package device provides the adapters that place models and data on the
// hardware a process trains on, and that capture the device state needed
// to resume a run.
package device

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"strings"

	"github.com/vk/trainforge/internal/dataset"
	"github.com/vk/trainforge/internal/model"
	"github.com/vk/trainforge/internal/tensor"
)

// Distributed communication backends.
const (
	BackendGloo = "gloo"
	BackendNCCL = "nccl"
)

// RNGKey is the state dict key holding the serialized generator state.
const RNGKey = "rng"

// Device is the uniform surface of every device adapter.
type Device interface {
	// Name is the configuration variant the adapter was built from.
	Name() string
	// DistBackend names the collective-communication backend for this
	// device type.
	DistBackend() string
	Placement() tensor.Placement
	// ModuleToDevice moves the classifier's parameters onto the device
	// and returns it.
	ModuleToDevice(c *model.Classifier) *model.Classifier
	// TensorToDevice returns t resident on the device. A tensor already
	// there is returned unchanged.
	TensorToDevice(t *tensor.Tensor) *tensor.Tensor
	// BatchToDevice returns b with its inputs resident on the device.
	BatchToDevice(b *dataset.Batch) *dataset.Batch
	// StateDict captures the device-internal state.
	StateDict() (map[string]any, error)
	// LoadStateDict restores a state captured by StateDict.
	LoadStateDict(state map[string]any) error
	// Generator is the device's pseudo-random generator.
	Generator() *rand.Rand
}

func tensorTo(t *tensor.Tensor, p tensor.Placement) *tensor.Tensor {
	if t.Placement == p {
		return t
	}
	return t.To(p)
}

func batchTo(b *dataset.Batch, p tensor.Placement) *dataset.Batch {
	if b.Inputs.Placement == p {
		return b
	}
	moved := *b
	moved.Inputs = b.Inputs.To(p)
	return &moved
}

func unexpectedKeys(state map[string]any, allowed ...string) error {
	var extra []string
	for k := range state {
		known := false
		for _, a := range allowed {
			known = known || k == a
		}
		if !known {
			extra = append(extra, k)
		}
	}
	if len(extra) == 0 {
		return nil
	}
	sort.Strings(extra)
	return fmt.Errorf("unexpected device state keys: %s", strings.Join(extra, ", "))
}

// rngState extracts the serialized generator from a state dict.
func rngState(state map[string]any) ([]byte, error) {
	if err := unexpectedKeys(state, RNGKey); err != nil {
		return nil, err
	}
	raw, ok := state[RNGKey]
	if !ok {
		return nil, fmt.Errorf("device state has no %q entry", RNGKey)
	}
	switch v := raw.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("device state %q has type %T, expected bytes", RNGKey, raw)
	}
}
