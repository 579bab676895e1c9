package nn

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/vk/trainforge/internal/tensor"
	"gonum.org/v1/gonum/mat"
)

// Linear computes x·Wᵀ + b for x of shape [N, In].
type Linear struct {
	In, Out int
	Weight  *tensor.Tensor // [Out, In]
	Bias    *tensor.Tensor // [Out], nil without bias
}

// NewLinear creates a linear layer with weights and bias drawn from
// U(-1/√In, 1/√In).
func NewLinear(in, out int, bias bool, rng *rand.Rand) *Linear {
	l := &Linear{In: in, Out: out, Weight: tensor.New(out, in)}
	bound := 1 / math.Sqrt(float64(in))
	uniform(l.Weight, -bound, bound, rng)
	if bias {
		l.Bias = tensor.New(out)
		uniform(l.Bias, -bound, bound, rng)
	}
	return l
}

func (l *Linear) Params() []Param { return params(l.Weight, l.Bias) }

// FanIn returns the number of inputs feeding each output.
func (l *Linear) FanIn() int { return l.In }

// FanOut returns the number of outputs each input feeds.
func (l *Linear) FanOut() int { return l.Out }

func (l *Linear) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	if len(x.Shape) != 2 || x.Shape[1] != l.In {
		return nil, fmt.Errorf("linear expects [N, %d], got %v", l.In, x.Shape)
	}
	n := x.Shape[0]
	out := &tensor.Tensor{Shape: []int{n, l.Out}, Data: make([]float64, n*l.Out), Placement: x.Placement}
	if n == 0 {
		return out, nil
	}
	xs := mat.NewDense(n, l.In, x.Data)
	w := mat.NewDense(l.Out, l.In, l.Weight.Data)
	y := mat.NewDense(n, l.Out, out.Data)
	y.Mul(xs, w.T())
	if l.Bias != nil {
		for r := 0; r < n; r++ {
			row := out.Data[r*l.Out : (r+1)*l.Out]
			for j, b := range l.Bias.Data {
				row[j] += b
			}
		}
	}
	return out, nil
}

// Conv2d is a square-kernel 2-D convolution over NCHW input, computed as
// an im2col matrix product.
type Conv2d struct {
	InChannels, OutChannels int
	Kernel, Stride, Padding int
	Weight                  *tensor.Tensor // [Out, In, K, K]
	Bias                    *tensor.Tensor // [Out], nil without bias
}

// NewConv2d creates a convolution with weights and bias drawn from
// U(-1/√fanIn, 1/√fanIn). A zero stride means 1.
func NewConv2d(in, out, kernel, stride, padding int, bias bool, rng *rand.Rand) *Conv2d {
	if stride == 0 {
		stride = 1
	}
	c := &Conv2d{
		InChannels: in, OutChannels: out, Kernel: kernel, Stride: stride, Padding: padding,
		Weight: tensor.New(out, in, kernel, kernel),
	}
	bound := 1 / math.Sqrt(float64(c.FanIn()))
	uniform(c.Weight, -bound, bound, rng)
	if bias {
		c.Bias = tensor.New(out)
		uniform(c.Bias, -bound, bound, rng)
	}
	return c
}

func (c *Conv2d) Params() []Param { return params(c.Weight, c.Bias) }

func (c *Conv2d) FanIn() int { return c.InChannels * c.Kernel * c.Kernel }

func (c *Conv2d) FanOut() int { return c.OutChannels * c.Kernel * c.Kernel }

func (c *Conv2d) outSize(in int) int { return (in+2*c.Padding-c.Kernel)/c.Stride + 1 }

func (c *Conv2d) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	x, err := nchw(x, c.InChannels)
	if err != nil {
		return nil, fmt.Errorf("conv2d: %w", err)
	}
	n, h, w := x.Shape[0], x.Shape[2], x.Shape[3]
	oh, ow := c.outSize(h), c.outSize(w)
	if oh < 1 || ow < 1 {
		return nil, fmt.Errorf("conv2d: input %dx%d is smaller than kernel %d", h, w, c.Kernel)
	}
	k := c.InChannels * c.Kernel * c.Kernel
	out := &tensor.Tensor{Shape: []int{n, c.OutChannels, oh, ow}, Data: make([]float64, n*c.OutChannels*oh*ow), Placement: x.Placement}
	weights := mat.NewDense(c.OutChannels, k, c.Weight.Data)
	cols := make([]float64, k*oh*ow)
	inSize, outSize := c.InChannels*h*w, c.OutChannels*oh*ow
	for b := 0; b < n; b++ {
		c.im2col(x.Data[b*inSize:(b+1)*inSize], h, w, oh, ow, cols)
		y := mat.NewDense(c.OutChannels, oh*ow, out.Data[b*outSize:(b+1)*outSize])
		y.Mul(weights, mat.NewDense(k, oh*ow, cols))
		if c.Bias != nil {
			for oc, bias := range c.Bias.Data {
				plane := out.Data[b*outSize+oc*oh*ow : b*outSize+(oc+1)*oh*ow]
				for i := range plane {
					plane[i] += bias
				}
			}
		}
	}
	return out, nil
}

// im2col lays out every receptive field of img as a column of cols, rows
// ordered (channel, ky, kx) to match the weight layout.
func (c *Conv2d) im2col(img []float64, h, w, oh, ow int, cols []float64) {
	row := 0
	for ch := 0; ch < c.InChannels; ch++ {
		for ky := 0; ky < c.Kernel; ky++ {
			for kx := 0; kx < c.Kernel; kx++ {
				dst := cols[row*oh*ow : (row+1)*oh*ow]
				for oy := 0; oy < oh; oy++ {
					iy := oy*c.Stride - c.Padding + ky
					for ox := 0; ox < ow; ox++ {
						ix := ox*c.Stride - c.Padding + kx
						if iy < 0 || iy >= h || ix < 0 || ix >= w {
							dst[oy*ow+ox] = 0
							continue
						}
						dst[oy*ow+ox] = img[(ch*h+iy)*w+ix]
					}
				}
				row++
			}
		}
	}
}

// DefaultBatchNormEps is the epsilon used when none is configured.
const DefaultBatchNormEps = 1e-5

// BatchNorm2d normalizes each channel with its running statistics.
type BatchNorm2d struct {
	Features    int
	Eps         float64
	Weight      *tensor.Tensor
	Bias        *tensor.Tensor
	RunningMean *tensor.Tensor
	RunningVar  *tensor.Tensor
}

// NewBatchNorm2d starts from the identity transform: unit weight and
// variance, zero bias and mean.
func NewBatchNorm2d(features int) *BatchNorm2d {
	return &BatchNorm2d{
		Features:    features,
		Eps:         DefaultBatchNormEps,
		Weight:      tensor.Full(1, features),
		Bias:        tensor.New(features),
		RunningMean: tensor.New(features),
		RunningVar:  tensor.Full(1, features),
	}
}

func (bn *BatchNorm2d) Params() []Param { return params(bn.Weight, bn.Bias) }

func (bn *BatchNorm2d) Buffers() []Param {
	return []Param{{Name: "running_mean", Value: bn.RunningMean}, {Name: "running_var", Value: bn.RunningVar}}
}

func (bn *BatchNorm2d) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	x, err := nchw(x, bn.Features)
	if err != nil {
		return nil, fmt.Errorf("batchnorm: %w", err)
	}
	out := x.Clone()
	plane := x.Shape[2] * x.Shape[3]
	for b := 0; b < x.Shape[0]; b++ {
		for ch := 0; ch < bn.Features; ch++ {
			scale := bn.Weight.Data[ch] / math.Sqrt(bn.RunningVar.Data[ch]+bn.Eps)
			shift := bn.Bias.Data[ch] - bn.RunningMean.Data[ch]*scale
			vals := out.Data[(b*bn.Features+ch)*plane : (b*bn.Features+ch+1)*plane]
			for i, v := range vals {
				vals[i] = v*scale + shift
			}
		}
	}
	return out, nil
}

func params(weight, bias *tensor.Tensor) []Param {
	ps := []Param{{Name: "weight", Value: weight}}
	if bias != nil {
		ps = append(ps, Param{Name: "bias", Value: bias})
	}
	return ps
}

func uniform(t *tensor.Tensor, lo, hi float64, rng *rand.Rand) {
	for i := range t.Data {
		t.Data[i] = lo + (hi-lo)*rng.Float64()
	}
}

const anyChannels = -1

// nchw returns x as a contiguous 4-D tensor with the given channel count.
func nchw(x *tensor.Tensor, channels int) (*tensor.Tensor, error) {
	if len(x.Shape) != 4 {
		return nil, fmt.Errorf("expected an NCHW tensor, got shape %v", x.Shape)
	}
	if channels != anyChannels && x.Shape[1] != channels {
		return nil, fmt.Errorf("expected %d channels, got %d", channels, x.Shape[1])
	}
	return x.Contiguous()
}
