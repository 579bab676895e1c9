package nn

import (
	"fmt"
	"math"

	"github.com/vk/trainforge/internal/tensor"
)

// ReLU clamps negative values to zero.
type ReLU struct{}

func (ReLU) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	out := x.Clone()
	relu(out.Data)
	return out, nil
}

func relu(vals []float64) {
	for i, v := range vals {
		if v < 0 {
			vals[i] = 0
		}
	}
}

// Flatten reshapes [N, ...] to [N, prod(...)] in channel-major order.
type Flatten struct{}

func (Flatten) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if len(x.Shape) < 2 {
		return nil, fmt.Errorf("flatten expects at least 2 dimensions, got %v", x.Shape)
	}
	c, err := x.Contiguous()
	if err != nil {
		return nil, err
	}
	out := c.Clone()
	out.Shape = []int{x.Shape[0], tensor.Numel(x.Shape[1:])}
	out.Layout = tensor.Contiguous
	return out, nil
}

// MaxPool2d takes the maximum over Kernel×Kernel windows. A zero Stride
// means Kernel.
type MaxPool2d struct {
	Kernel, Stride int
}

func (p MaxPool2d) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	x, err := nchw(x, anyChannels)
	if err != nil {
		return nil, fmt.Errorf("maxpool: %w", err)
	}
	stride := p.Stride
	if stride == 0 {
		stride = p.Kernel
	}
	h, w := x.Shape[2], x.Shape[3]
	oh, ow := (h-p.Kernel)/stride+1, (w-p.Kernel)/stride+1
	if oh < 1 || ow < 1 {
		return nil, fmt.Errorf("maxpool: input %dx%d is smaller than kernel %d", h, w, p.Kernel)
	}
	return pool(x, oh, ow, func(o, n int) (int, int) { return o * stride, o*stride + p.Kernel }, maxOf)
}

// AdaptiveAvgPool2d averages each input plane down to Size×Size.
type AdaptiveAvgPool2d struct {
	Size int
}

func (p AdaptiveAvgPool2d) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	return adaptive(x, p.Size, meanOf)
}

// AdaptiveMaxPool2d takes the maximum of each input plane down to Size×Size.
type AdaptiveMaxPool2d struct {
	Size int
}

func (p AdaptiveMaxPool2d) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	return adaptive(x, p.Size, maxOf)
}

func adaptive(x *tensor.Tensor, size int, reduce func([]float64) float64) (*tensor.Tensor, error) {
	x, err := nchw(x, anyChannels)
	if err != nil {
		return nil, fmt.Errorf("adaptive pool: %w", err)
	}
	if size < 1 {
		return nil, fmt.Errorf("adaptive pool: output size must be positive, got %d", size)
	}
	// Window i covers [floor(i*n/size), ceil((i+1)*n/size)).
	window := func(o, n int) (int, int) {
		return o * n / size, ((o+1)*n + size - 1) / size
	}
	return pool(x, size, size, window, reduce)
}

func pool(x *tensor.Tensor, oh, ow int, window func(o, n int) (int, int), reduce func([]float64) float64) (*tensor.Tensor, error) {
	n, c, h, w := x.Shape[0], x.Shape[1], x.Shape[2], x.Shape[3]
	out := &tensor.Tensor{Shape: []int{n, c, oh, ow}, Data: make([]float64, n*c*oh*ow), Placement: x.Placement}
	buf := make([]float64, 0, h*w)
	for plane := 0; plane < n*c; plane++ {
		src := x.Data[plane*h*w : (plane+1)*h*w]
		dst := out.Data[plane*oh*ow : (plane+1)*oh*ow]
		for oy := 0; oy < oh; oy++ {
			y0, y1 := window(oy, h)
			for ox := 0; ox < ow; ox++ {
				x0, x1 := window(ox, w)
				buf = buf[:0]
				for y := y0; y < y1; y++ {
					buf = append(buf, src[y*w+x0:y*w+x1]...)
				}
				dst[oy*ow+ox] = reduce(buf)
			}
		}
	}
	return out, nil
}

func maxOf(vals []float64) float64 {
	m := math.Inf(-1)
	for _, v := range vals {
		m = math.Max(m, v)
	}
	return m
}

func meanOf(vals []float64) float64 {
	s := 0.0
	for _, v := range vals {
		s += v
	}
	return s / float64(len(vals))
}

// Scale multiplies its input by a constant.
type Scale struct {
	Factor float64
}

func (s Scale) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	out := x.Clone()
	for i := range out.Data {
		out.Data[i] *= s.Factor
	}
	return out, nil
}
