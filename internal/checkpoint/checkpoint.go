// Package checkpoint persists the state that must survive a restart: the
// device state dict (generator state) and model weights. Files are
// msgpack documents.
package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/vk/trainforge/internal/tensor"
	"github.com/vmihailenco/msgpack/v5"
)

// FormatVersion is written into every checkpoint.
const FormatVersion = 1

// Weights is one named parameter tensor.
type Weights struct {
	Shape []int     `msgpack:"shape"`
	Data  []float64 `msgpack:"data"`
}

// State is the content of a checkpoint file.
type State struct {
	Version int                `msgpack:"version"`
	Device  map[string]any     `msgpack:"device,omitempty"`
	Model   map[string]Weights `msgpack:"model,omitempty"`
}

// Save writes s to path, replacing any existing file atomically.
func Save(path string, s *State) error {
	s.Version = FormatVersion
	data, err := msgpack.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".checkpoint-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write checkpoint %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// Load reads a checkpoint written by Save.
func Load(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s := new(State)
	if err := msgpack.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint %s: %w", path, err)
	}
	if s.Version != FormatVersion {
		return nil, fmt.Errorf("checkpoint %s has format version %d, expected %d", path, s.Version, FormatVersion)
	}
	return s, nil
}

// FromTensors converts a model state dict for storage. Placement is not
// persisted.
func FromTensors(sd map[string]*tensor.Tensor) map[string]Weights {
	out := make(map[string]Weights, len(sd))
	for name, t := range sd {
		c, err := t.Contiguous()
		if err != nil {
			c = t
		}
		out[name] = Weights{Shape: c.Shape, Data: c.Data}
	}
	return out
}

// ToTensors converts stored weights back into host tensors.
func ToTensors(w map[string]Weights) (map[string]*tensor.Tensor, error) {
	out := make(map[string]*tensor.Tensor, len(w))
	for name, wt := range w {
		t, err := tensor.FromData(wt.Data, wt.Shape...)
		if err != nil {
			return nil, fmt.Errorf("weights %q: %w", name, err)
		}
		out[name] = t
	}
	return out, nil
}
