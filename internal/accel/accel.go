// Package accel is the boundary to the accelerator runtime. Device adapters
// consume the Runtime interface as a set of trusted primitives: select the
// active device, and capture or restore its pseudo-random generator.
package accel

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"strings"
	"sync"
)

// ErrInvalidDevice is returned when a device index is outside the range the
// runtime exposes.
var ErrInvalidDevice = errors.New("invalid accelerator device")

// Runtime is the accelerator runtime as seen by device adapters.
type Runtime interface {
	// DeviceCount returns how many devices this process can see.
	DeviceCount() int
	// SetDevice selects the active device.
	SetDevice(index int) error
	// CurrentDevice returns the active device index.
	CurrentDevice() int
	// RNGState serializes the generator state of the active device.
	RNGState() ([]byte, error)
	// SetRNGState restores a state produced by RNGState on the active device.
	SetRNGState(state []byte) error
	// Generator returns the generator of the active device. Draws from it
	// advance the state captured by RNGState.
	Generator() *rand.Rand
}

// Host emulates a set of accelerators in host memory. Each device owns an
// independent PCG generator whose binary state round-trips exactly.
type Host struct {
	mu      sync.Mutex
	sources []*rand.PCG
	gens    []*rand.Rand
	current int
}

var _ Runtime = (*Host)(nil)

// NewHost creates a runtime exposing n devices. Device i is seeded with
// (seed, i) so devices never share a stream.
func NewHost(n int, seed uint64) *Host {
	h := &Host{}
	for i := 0; i < n; i++ {
		src := rand.NewPCG(seed, uint64(i))
		h.sources = append(h.sources, src)
		h.gens = append(h.gens, rand.New(src))
	}
	return h
}

func (h *Host) DeviceCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sources)
}

func (h *Host) SetDevice(index int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if index < 0 || index >= len(h.sources) {
		return fmt.Errorf("%w: index %d, %d device(s) visible", ErrInvalidDevice, index, len(h.sources))
	}
	h.current = index
	return nil
}

func (h *Host) CurrentDevice() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

func (h *Host) RNGState() ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.sources) == 0 {
		return nil, fmt.Errorf("%w: no devices", ErrInvalidDevice)
	}
	return h.sources[h.current].MarshalBinary()
}

func (h *Host) SetRNGState(state []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.sources) == 0 {
		return fmt.Errorf("%w: no devices", ErrInvalidDevice)
	}
	if err := h.sources[h.current].UnmarshalBinary(state); err != nil {
		return fmt.Errorf("restore rng state of device %d: %w", h.current, err)
	}
	return nil
}

func (h *Host) Generator() *rand.Rand {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.gens) == 0 {
		return nil
	}
	return h.gens[h.current]
}

// Detect counts the NVIDIA devices visible to this process. An explicit
// CUDA_VISIBLE_DEVICES wins over the driver's device listing.
func Detect() int {
	return DetectFrom(os.LookupEnv, "/proc/driver/nvidia/gpus")
}

// DetectFrom is Detect with an injectable environment and driver directory.
func DetectFrom(lookupEnv func(string) (string, bool), gpuDir string) int {
	if visible, ok := lookupEnv("CUDA_VISIBLE_DEVICES"); ok {
		visible = strings.TrimSpace(visible)
		if visible == "" || strings.HasPrefix(visible, "-1") {
			return 0
		}
		return len(strings.Split(visible, ","))
	}
	entries, err := os.ReadDir(gpuDir)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if e.IsDir() {
			n++
		}
	}
	return n
}
