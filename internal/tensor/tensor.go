// Package tensor is the minimal dense array type shared by datasets, models
// and devices. It is a carrier, not a compute engine: storage is a flat
// float64 slice plus a shape, a memory layout hint and the device it has
// been placed on.
package tensor

import (
	"fmt"
	"slices"
)

// DeviceKind names a class of device a tensor can live on.
type DeviceKind string

const (
	CPU  DeviceKind = "cpu"
	CUDA DeviceKind = "cuda"
)

// Placement identifies the device a tensor is resident on.
type Placement struct {
	Kind  DeviceKind
	Index int
}

// Host is the default placement of every new tensor.
var Host = Placement{Kind: CPU}

func (p Placement) String() string {
	if p.Kind == CPU || p.Kind == "" {
		return string(CPU)
	}
	return fmt.Sprintf("%s:%d", p.Kind, p.Index)
}

// Layout is the memory order of an image-shaped tensor.
type Layout int

const (
	// Contiguous is channel-major order: CHW or NCHW.
	Contiguous Layout = iota
	// ChannelsLast stores the channel innermost: HWC or NHWC. Shape is
	// always reported in logical CHW/NCHW order.
	ChannelsLast
)

// Tensor is a dense n-dimensional array.
type Tensor struct {
	Shape     []int
	Data      []float64
	Placement Placement
	Layout    Layout
}

// Numel returns the number of elements described by shape.
func Numel(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// New allocates a zero tensor on the host.
func New(shape ...int) *Tensor {
	return &Tensor{Shape: slices.Clone(shape), Data: make([]float64, Numel(shape)), Placement: Host}
}

// FromData wraps data without copying. len(data) must match the shape.
func FromData(data []float64, shape ...int) (*Tensor, error) {
	if len(data) != Numel(shape) {
		return nil, fmt.Errorf("data length %d does not match shape %v", len(data), shape)
	}
	return &Tensor{Shape: slices.Clone(shape), Data: data, Placement: Host}, nil
}

// Full allocates a host tensor filled with v.
func Full(v float64, shape ...int) *Tensor {
	t := New(shape...)
	for i := range t.Data {
		t.Data[i] = v
	}
	return t
}

// Len returns the number of elements.
func (t *Tensor) Len() int { return len(t.Data) }

// Clone returns a deep copy on the same placement.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{
		Shape:     slices.Clone(t.Shape),
		Data:      slices.Clone(t.Data),
		Placement: t.Placement,
		Layout:    t.Layout,
	}
}

// To returns a copy of t resident on p.
func (t *Tensor) To(p Placement) *Tensor {
	c := t.Clone()
	c.Placement = p
	return c
}

// SameShape reports whether t and o have identical shapes.
func (t *Tensor) SameShape(o *Tensor) bool {
	return slices.Equal(t.Shape, o.Shape)
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, device=%s)", t.Shape, t.Placement)
}

// spatial returns (batch, channels, height, width) for a CHW or NCHW tensor.
func (t *Tensor) spatial() (n, c, h, w int, err error) {
	switch len(t.Shape) {
	case 3:
		return 1, t.Shape[0], t.Shape[1], t.Shape[2], nil
	case 4:
		return t.Shape[0], t.Shape[1], t.Shape[2], t.Shape[3], nil
	default:
		return 0, 0, 0, 0, fmt.Errorf("layout conversion needs a 3-D or 4-D tensor, got shape %v", t.Shape)
	}
}

// Contiguous returns t in channel-major order, copying only when needed.
func (t *Tensor) Contiguous() (*Tensor, error) {
	if t.Layout == Contiguous {
		return t, nil
	}
	n, c, h, w, err := t.spatial()
	if err != nil {
		return nil, err
	}
	out := &Tensor{Shape: slices.Clone(t.Shape), Data: make([]float64, len(t.Data)), Placement: t.Placement}
	for b := 0; b < n; b++ {
		base := b * c * h * w
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				for ch := 0; ch < c; ch++ {
					out.Data[base+(ch*h+y)*w+x] = t.Data[base+(y*w+x)*c+ch]
				}
			}
		}
	}
	return out, nil
}

// ToChannelsLast returns t in channels-last order, copying only when needed.
func (t *Tensor) ToChannelsLast() (*Tensor, error) {
	if t.Layout == ChannelsLast {
		return t, nil
	}
	n, c, h, w, err := t.spatial()
	if err != nil {
		return nil, err
	}
	out := &Tensor{Shape: slices.Clone(t.Shape), Data: make([]float64, len(t.Data)), Placement: t.Placement, Layout: ChannelsLast}
	for b := 0; b < n; b++ {
		base := b * c * h * w
		for ch := 0; ch < c; ch++ {
			for y := 0; y < h; y++ {
				for x := 0; x < w; x++ {
					out.Data[base+(y*w+x)*c+ch] = t.Data[base+(ch*h+y)*w+x]
				}
			}
		}
	}
	return out, nil
}

// Stack joins equally shaped tensors along a new leading dimension. The
// result is contiguous and placed where the first input lives.
func Stack(ts []*Tensor) (*Tensor, error) {
	if len(ts) == 0 {
		return nil, fmt.Errorf("cannot stack zero tensors")
	}
	first := ts[0]
	size := first.Len()
	out := &Tensor{
		Shape:     append([]int{len(ts)}, first.Shape...),
		Data:      make([]float64, 0, size*len(ts)),
		Placement: first.Placement,
	}
	for i, t := range ts {
		if !t.SameShape(first) {
			return nil, fmt.Errorf("tensor %d has shape %v, expected %v", i, t.Shape, first.Shape)
		}
		if t.Placement != first.Placement {
			return nil, fmt.Errorf("tensor %d is on %s, expected %s", i, t.Placement, first.Placement)
		}
		c, err := t.Contiguous()
		if err != nil {
			return nil, err
		}
		out.Data = append(out.Data, c.Data...)
	}
	return out, nil
}
